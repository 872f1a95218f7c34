/*
Copyright © 2023 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/cqroot/prompt"
	"github.com/samber/lo"
	"github.com/urfave/cli/v2"

	"rexml/db"
	"rexml/models"
)

func feedFlags() []cli.Flag {
	return []cli.Flag{
		databaseFlag(),
		&cli.Int64Flag{
			Name:    "threshold",
			Aliases: []string{"t"},
			Usage:   "Upvotes a post needs to appear in the feed",
		},
		&cli.DurationFlag{
			Name:  "cutoff",
			Usage: "Time after posting within which the threshold must be reached, e.g. 24h",
		},
	}
}

// feedCmd manages the subreddits directly in the database. A running server
// picks up the changes on its next poll cycle.
func feedCmd() *cli.Command {
	return &cli.Command{
		Name:  "feed",
		Usage: "Manage the polled subreddits",
		Subcommands: []*cli.Command{
			{
				Name:      "add",
				Usage:     "Add a subreddit, prompting for missing settings",
				ArgsUsage: "<subreddit>",
				Flags:     feedFlags(),
				Action: func(ctx *cli.Context) error {
					name, err := subredditArg(ctx)
					if err != nil {
						return err
					}

					threshold := ctx.Int64("threshold")
					if !ctx.IsSet("threshold") {
						if threshold, err = askThreshold(); err != nil {
							return err
						}
					}
					cutoff := ctx.Duration("cutoff")
					if !ctx.IsSet("cutoff") {
						if cutoff, err = askCutoff(); err != nil {
							return err
						}
					}

					feed := models.Feed{
						Name:              name,
						UpvoteThreshold:   threshold,
						TimeCutoffSeconds: int64(cutoff.Seconds()),
					}
					if err := feed.Validate(); err != nil {
						return err
					}

					store, err := openMigrated(ctx)
					if err != nil {
						return err
					}
					defer store.Close()

					created, err := store.CreateFeed(ctx.Context, feed)
					if errors.Is(err, db.ErrFeedExists) {
						return fmt.Errorf("r/%s already exists, use feed set to change it", name)
					}
					if err != nil {
						return err
					}
					fmt.Println("Added feed...", describe(created))
					return nil
				},
			},
			{
				Name:  "list",
				Usage: "List the subreddits",
				Flags: []cli.Flag{databaseFlag()},
				Action: func(ctx *cli.Context) error {
					store, err := openMigrated(ctx)
					if err != nil {
						return err
					}
					defer store.Close()

					feeds, err := store.ListFeeds(ctx.Context)
					if err != nil {
						return err
					}
					for _, line := range lo.Map(feeds, func(feed models.Feed, _ int) string {
						return describe(feed)
					}) {
						fmt.Println(line)
					}
					return nil
				},
			},
			{
				Name:      "set",
				Usage:     "Change the threshold or cutoff of a subreddit",
				ArgsUsage: "<subreddit>",
				Flags:     feedFlags(),
				Action: func(ctx *cli.Context) error {
					name, err := subredditArg(ctx)
					if err != nil {
						return err
					}
					if !ctx.IsSet("threshold") && !ctx.IsSet("cutoff") {
						return errors.New("nothing to change, set --threshold or --cutoff")
					}

					store, err := openMigrated(ctx)
					if err != nil {
						return err
					}
					defer store.Close()

					feed, err := store.GetFeedByName(ctx.Context, name)
					if err != nil {
						return fmt.Errorf("r/%s: %w", name, err)
					}
					if ctx.IsSet("threshold") {
						feed.UpvoteThreshold = ctx.Int64("threshold")
					}
					if ctx.IsSet("cutoff") {
						feed.TimeCutoffSeconds = int64(ctx.Duration("cutoff").Seconds())
					}
					if err := feed.Validate(); err != nil {
						return err
					}

					updated, err := store.UpdateFeed(ctx.Context, feed)
					if err != nil {
						return err
					}
					fmt.Println("Updated feed...", describe(updated))
					return nil
				},
			},
		},
	}
}

func subredditArg(ctx *cli.Context) (string, error) {
	if ctx.NArg() != 1 {
		return "", errors.New("expected exactly one subreddit name")
	}
	return ctx.Args().First(), nil
}

func openMigrated(ctx *cli.Context) (*db.DB, error) {
	database := ctx.String("database")
	if err := db.Migrate(database); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return db.Open(database)
}

func askThreshold() (int64, error) {
	answer, err := prompt.New().Ask("Upvote threshold:").Input("100")
	if err != nil {
		return 0, err
	}
	threshold, err := strconv.ParseInt(answer, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid upvote threshold %q: %w", answer, err)
	}
	return threshold, nil
}

func askCutoff() (time.Duration, error) {
	answer, err := prompt.New().Ask("Time cutoff:").Input("24h")
	if err != nil {
		return 0, err
	}
	cutoff, err := time.ParseDuration(answer)
	if err != nil {
		return 0, fmt.Errorf("invalid time cutoff %q: %w", answer, err)
	}
	return cutoff, nil
}

func describe(feed models.Feed) string {
	return fmt.Sprintf("r/%s: %d upvotes within %s", feed.Name, feed.UpvoteThreshold, feed.TimeCutoff())
}
