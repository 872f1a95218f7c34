package server

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/gofiber/fiber/v2/utils"
	log "github.com/sirupsen/logrus"

	"rexml/db"
	"rexml/models"
)

// FeedAdmin is the write side of the store used by the admin server
type FeedAdmin interface {
	ListFeeds(ctx context.Context) ([]models.Feed, error)
	CreateFeed(ctx context.Context, feed models.Feed) (models.Feed, error)
	UpdateFeed(ctx context.Context, feed models.Feed) (models.Feed, error)
}

type AdminConfig struct {
	Store FeedAdmin

	// Called after a feed was created or reconfigured, e.g. to wake the poller
	OnChange func()
}

// FeedRequest is the body of POST and PUT /:feed
type FeedRequest struct {
	UpvoteThreshold   *int64 `json:"upvote_threshold"`
	TimeCutoffSeconds *int64 `json:"time_cutoff_seconds"`
}

func (r FeedRequest) feed(name string) (models.Feed, error) {
	if r.UpvoteThreshold == nil || r.TimeCutoffSeconds == nil {
		return models.Feed{}, errors.New("upvote_threshold and time_cutoff_seconds are required")
	}
	feed := models.Feed{
		Name:              name,
		UpvoteThreshold:   *r.UpvoteThreshold,
		TimeCutoffSeconds: *r.TimeCutoffSeconds,
	}
	return feed, feed.Validate()
}

// Returns a fiber.App for the admin server. It must not be exposed publicly.
func Admin(config *AdminConfig) *fiber.App {
	app := fiber.New()

	app.Use(requestLogger)
	app.Use(requestid.New(requestid.ConfigDefault))

	changed := func() {
		if config.OnChange != nil {
			config.OnChange()
		}
	}

	parse := func(c *fiber.Ctx) (models.Feed, error) {
		var req FeedRequest
		if err := c.BodyParser(&req); err != nil {
			return models.Feed{}, err
		}
		// Params points into a buffer fasthttp reuses, the name outlives the request
		return req.feed(utils.CopyString(c.Params("feed")))
	}

	app.Get("/", func(c *fiber.Ctx) error {
		feeds, err := config.Store.ListFeeds(c.Context())
		if err != nil {
			log.Errorf("Error listing feeds: %v", err)
			return c.Status(fiber.StatusInternalServerError).SendString("Error listing feeds")
		}
		if feeds == nil {
			feeds = []models.Feed{}
		}
		return c.JSON(feeds)
	})

	app.Post("/:feed", func(c *fiber.Ctx) error {
		feed, err := parse(c)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).SendString(err.Error())
		}

		created, err := config.Store.CreateFeed(c.Context(), feed)
		if errors.Is(err, db.ErrFeedExists) {
			return c.Status(fiber.StatusConflict).SendString("Subreddit already exists")
		}
		if err != nil {
			log.Errorf("Error creating feed %s: %v", feed.Name, err)
			return c.Status(fiber.StatusInternalServerError).SendString("Error creating feed")
		}

		changed()
		return c.Status(fiber.StatusCreated).JSON(created)
	})

	app.Put("/:feed", func(c *fiber.Ctx) error {
		feed, err := parse(c)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).SendString(err.Error())
		}

		updated, err := config.Store.UpdateFeed(c.Context(), feed)
		if errors.Is(err, db.ErrFeedNotFound) {
			return c.Status(fiber.StatusNotFound).SendString("Unknown subreddit")
		}
		if err != nil {
			log.Errorf("Error updating feed %s: %v", feed.Name, err)
			return c.Status(fiber.StatusInternalServerError).SendString("Error updating feed")
		}

		changed()
		return c.JSON(updated)
	})

	return app
}
