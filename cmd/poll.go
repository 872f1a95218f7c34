/*
Copyright © 2023 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"fmt"
	"os"

	"github.com/juju/clock"
	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"rexml/db"
	"rexml/notify"
	"rexml/poller"
	"rexml/reddit"
)

func pollCmd() *cli.Command {
	return &cli.Command{
		Name:  "poll",
		Usage: "Run a single poll cycle and print the crossings",
		Description: `Polls every configured subreddit once, stores the new posts and
evaluates the pending ones.

Returns each post that crossed its threshold as a JSON object on a single
line. Use a tool like jq to process the output.

Prints all other log messages to stderr.`,
		Flags: append([]cli.Flag{databaseFlag()}, pollerFlags()...),
		Action: func(ctx *cli.Context) error {
			// Keep stdout for the crossings
			log.SetOutput(os.Stderr)

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

			recorder := &notify.Recorder{}
			scheduler := poller.New(
				settings.scheduler,
				store,
				reddit.NewClient(settings.client),
				notify.Multi{notify.NewJSONSink(os.Stdout), recorder},
				clock.WallClock,
			)

			report := scheduler.RunCycle(ctx.Context)
			if report.Err != nil {
				return report.Err
			}

			failed := report.Failed()
			log.WithFields(log.Fields{
				"feeds":     len(report.Outcomes),
				"failed":    len(failed),
				"crossings": len(recorder.Since(report.Started)),
			}).Info("Poll done")

			if len(failed) > 0 {
				return fmt.Errorf("%d of %d subreddits failed, first error: %w", len(failed), len(report.Outcomes), failed[0].Err)
			}
			return nil
		},
	}
}
