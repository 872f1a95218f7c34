/*
Copyright © 2023 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"fmt"
	"time"

	"rexml/db"

	"github.com/urfave/cli/v2"
)

func tidyCmd() *cli.Command {
	return &cli.Command{
		Name:  "tidy",
		Usage: "Tidy up the database",
		Description: `Tidy up the database by removing posts that are old.

		Removes the posts created before the retention period that either
		crossed their threshold or aged out. Posts still being evaluated
		are kept.`,
		Flags: []cli.Flag{
			databaseFlag(),
			&cli.DurationFlag{
				Name:    "retention",
				Value:   90 * 24 * time.Hour,
				Usage:   "Age of the posts to keep",
				EnvVars: []string{"REXML_RETENTION"},
			},
		},
		Action: func(ctx *cli.Context) error {
			store, err := db.Open(ctx.String("database"))
			if err != nil {
				return err
			}
			defer store.Close()

			removed, err := store.Tidy(ctx.Context, time.Now().Add(-ctx.Duration("retention")))
			if err != nil {
				return err
			}
			fmt.Printf("Removed %d posts\n", removed)
			return nil
		},
	}
}
