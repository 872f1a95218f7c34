/*
Copyright © 2023 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"rexml/config"
	"rexml/db"
	"rexml/models"
	"rexml/poller"
	"rexml/reddit"
)

func databaseFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "database",
		Aliases: []string{"d"},
		Value:   db.DefaultURL,
		Usage:   "Database url, sqlite://<path> or postgres://<user>:<password>@<host>/<name>",
		EnvVars: []string{"REXML_DB_URL"},
	}
}

// pollerFlags configure the scheduler and the reddit client
func pollerFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Usage:   "Path to an optional TOML configuration file",
			EnvVars: []string{"REXML_CONFIG"},
		},
		&cli.DurationFlag{
			Name:    "interval",
			Value:   poller.DefaultInterval,
			Usage:   "Time between poll cycles",
			EnvVars: []string{"REXML_INTERVAL"},
		},
		&cli.IntFlag{
			Name:    "concurrency",
			Value:   poller.DefaultConcurrency,
			Usage:   "Number of subreddits polled in parallel",
			EnvVars: []string{"REXML_CONCURRENCY"},
		},
		&cli.StringFlag{
			Name:    "user-agent",
			Value:   reddit.DefaultUserAgent,
			Usage:   "User agent sent to reddit",
			EnvVars: []string{"REXML_USER_AGENT"},
		},
		&cli.IntFlag{
			Name:    "max-pages",
			Value:   reddit.DefaultMaxPages,
			Usage:   "Maximum number of listing pages fetched per subreddit and cycle",
			EnvVars: []string{"REXML_MAX_PAGES"},
		},
		&cli.DurationFlag{
			Name:    "backoff",
			Usage:   "Initial time a failing subreddit is skipped, doubled on every failure. 0 disables backoff",
			EnvVars: []string{"REXML_BACKOFF"},
		},
		&cli.DurationFlag{
			Name:    "max-backoff",
			Value:   time.Hour,
			Usage:   "Upper bound of the failure backoff",
			EnvVars: []string{"REXML_MAX_BACKOFF"},
		},
	}
}

// settings merges the configuration file with the flags. Flags set
// explicitly win over the file, which wins over the flag defaults.
type settings struct {
	scheduler poller.Config
	client    reddit.ClientConfig
	seeds     []models.Feed
}

func loadSettings(ctx *cli.Context) (*settings, error) {
	s := &settings{
		scheduler: poller.Config{
			Interval:    ctx.Duration("interval"),
			Concurrency: ctx.Int("concurrency"),
			FailureBackoff: poller.BackoffConfig{
				Initial: ctx.Duration("backoff"),
				Max:     ctx.Duration("max-backoff"),
			},
		},
		client: reddit.ClientConfig{
			UserAgent: ctx.String("user-agent"),
			MaxPages:  ctx.Int("max-pages"),
		},
	}

	path := ctx.String("config")
	if path == "" {
		return s, nil
	}

	cfg, err := config.LoadConfig(path)
	if err != nil {
		return nil, err
	}
	log.WithField("config", path).Info("Loaded configuration file")

	file := cfg.SchedulerConfig()
	if file.Interval > 0 && !ctx.IsSet("interval") {
		s.scheduler.Interval = file.Interval
	}
	if file.Concurrency > 0 && !ctx.IsSet("concurrency") {
		s.scheduler.Concurrency = file.Concurrency
	}
	if file.FailureBackoff.Initial > 0 && !ctx.IsSet("backoff") {
		s.scheduler.FailureBackoff.Initial = file.FailureBackoff.Initial
	}
	if file.FailureBackoff.Max > 0 && !ctx.IsSet("max-backoff") {
		s.scheduler.FailureBackoff.Max = file.FailureBackoff.Max
	}
	if cfg.Poller.UserAgent != "" && !ctx.IsSet("user-agent") {
		s.client.UserAgent = cfg.Poller.UserAgent
	}
	if cfg.Poller.MaxPages > 0 && !ctx.IsSet("max-pages") {
		s.client.MaxPages = cfg.Poller.MaxPages
	}

	seeds, err := cfg.SeedFeeds()
	if err != nil {
		return nil, fmt.Errorf("invalid feeds in %s: %w", path, err)
	}
	s.seeds = seeds

	return s, nil
}
