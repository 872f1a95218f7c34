/*
Copyright © 2023 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"fmt"

	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

func RootApp() *cli.App {
	return &cli.App{
		Name:  "rexml",
		Usage: "Atom feeds of the subreddit posts that get popular quickly",
		Description: `Polls the newest posts of the configured subreddits and serves
		an Atom feed per subreddit with the posts that reached the upvote
		threshold within the time cutoff after being posted.

		Subreddits are added through the admin API or the feed command and
		are stored with their posts in SQLite or PostgreSQL.

		Flags can generally be set via environment variables, e.g.:

		--database => REXML_DB_URL=sqlite://rexml.db
		--port => REXML_PORT=4328
		`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Value:   "info",
				Usage:   "Log level: trace, debug, info, warn or error",
				EnvVars: []string{"REXML_LOG_LEVEL"},
			},
		},
		Before: func(ctx *cli.Context) error {
			level, err := log.ParseLevel(ctx.String("log-level"))
			if err != nil {
				return fmt.Errorf("invalid log level: %w", err)
			}
			log.SetLevel(level)
			return nil
		},
		Commands: []*cli.Command{
			serveCmd(),
			pollCmd(),
			migrateCmd(),
			rollbackCmd(),
			tidyCmd(),
			feedCmd(),
		},
		Action: func(ctx *cli.Context) error {
			// Show help if no command is specified
			return ctx.App.Run([]string{"", "help"})
		},
	}
}
