/*
Copyright © 2023 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/juju/clock"
	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"rexml/db"
	"rexml/models"
	"rexml/notify"
	"rexml/poller"
	"rexml/reddit"
	"rexml/server"
)

const tidyInterval = 24 * time.Hour

func serveCmd() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the rexml feeds",
		Description: `Starts the public and admin HTTP servers and the poller.

		Migrates the database, creates the feeds listed in the configuration
		file and polls every subreddit on the configured interval. The public
		server serves an Atom feed per subreddit on /<subreddit>, the admin
		server accepts new subreddits on POST /<subreddit>.`,
		Flags: append([]cli.Flag{
			databaseFlag(),
			&cli.StringFlag{
				Name:    "hostname",
				Aliases: []string{"n"},
				Value:   "localhost:4328",
				Usage:   "The hostname used in feed ids and links",
				EnvVars: []string{"REXML_HOSTNAME"},
			},
			&cli.StringFlag{
				Name:    "host",
				Value:   "0.0.0.0",
				Usage:   "Host for the public HTTP server",
				EnvVars: []string{"REXML_HOST"},
			},
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Value:   4328,
				Usage:   "Port for the public HTTP server",
				EnvVars: []string{"REXML_PORT"},
			},
			&cli.StringFlag{
				Name:    "admin-host",
				Value:   "127.0.0.1",
				Usage:   "Host for the admin HTTP server, keep it private",
				EnvVars: []string{"REXML_ADMIN_HOST"},
			},
			&cli.IntFlag{
				Name:    "admin-port",
				Value:   4329,
				Usage:   "Port for the admin HTTP server",
				EnvVars: []string{"REXML_ADMIN_PORT"},
			},
			&cli.DurationFlag{
				Name:    "retention",
				Usage:   "Remove settled posts older than this once a day. 0 keeps everything",
				EnvVars: []string{"REXML_RETENTION"},
			},
			&cli.StringFlag{
				Name:    "allow-origins",
				Usage:   "Comma separated origins allowed to use the dashboard endpoints",
				EnvVars: []string{"REXML_ALLOW_ORIGINS"},
			},
		}, pollerFlags()...),
		Action: func(ctx *cli.Context) error {
			settings, err := loadSettings(ctx)
			if err != nil {
				return err
			}

			database := ctx.String("database")
			if err := db.Migrate(database); err != nil {
				return fmt.Errorf("failed to migrate database: %w", err)
			}

			store, err := db.Open(database)
			if err != nil {
				return err
			}
			defer store.Close()

			if err := seedFeeds(ctx.Context, store, settings.seeds); err != nil {
				return err
			}

			reader, err := db.NewReader(database)
			if err != nil {
				return err
			}
			defer reader.Close()

			broadcaster := server.NewBroadcaster()
			scheduler := poller.New(
				settings.scheduler,
				store,
				reddit.NewClient(settings.client),
				notify.Multi{notify.LogSink{}, broadcaster},
				clock.WallClock,
			)

			app := server.Server(&server.ServerConfig{
				Hostname:     ctx.String("hostname"),
				Reader:       reader,
				Broadcaster:  broadcaster,
				Status:       scheduler,
				AllowOrigins: ctx.String("allow-origins"),
			})
			admin := server.Admin(&server.AdminConfig{
				Store:    store,
				OnChange: scheduler.Wake,
			})

			runCtx, stop := signal.NotifyContext(ctx.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()
			g, gctx := errgroup.WithContext(runCtx)

			g.Go(func() error {
				if err := scheduler.Run(gctx); !errors.Is(err, context.Canceled) {
					return err
				}
				return nil
			})

			if retention := ctx.Duration("retention"); retention > 0 {
				g.Go(func() error {
					store.RunTidy(gctx, clock.WallClock, tidyInterval, retention)
					return nil
				})
			}

			g.Go(func() error {
				log.Info("Starting server...")
				return app.Listen(fmt.Sprintf("%s:%d", ctx.String("host"), ctx.Int("port")))
			})

			g.Go(func() error {
				log.Info("Starting admin server...")
				return admin.Listen(fmt.Sprintf("%s:%d", ctx.String("admin-host"), ctx.Int("admin-port")))
			})

			g.Go(func() error {
				<-gctx.Done()
				log.Info("Gracefully shutting down...")
				broadcaster.Shutdown()
				return errors.Join(
					app.ShutdownWithTimeout(60*time.Second),
					admin.ShutdownWithTimeout(10*time.Second),
				)
			})

			err = g.Wait()
			log.Info("Done!")
			return err
		},
	}
}

// seedFeeds creates the configured feeds that are not in the store yet.
// Existing feeds keep their stored configuration.
func seedFeeds(ctx context.Context, store *db.DB, feeds []models.Feed) error {
	for _, feed := range feeds {
		_, err := store.CreateFeed(ctx, feed)
		if errors.Is(err, db.ErrFeedExists) {
			log.WithField("feed", feed.Name).Debug("Feed already exists")
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to create feed %s: %w", feed.Name, err)
		}
	}
	return nil
}
