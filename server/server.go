package server

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cache"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/gofiber/fiber/v2/utils"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"github.com/valyala/fasthttp"

	"rexml/db"
	"rexml/models"
	"rexml/poller"
)

// Number of crossed posts in an Atom feed
const FeedSize = 50

// FeedReader is the read side of the store used by the public server
type FeedReader interface {
	GetFeedByName(ctx context.Context, name string) (models.Feed, error)
	CrossedItems(ctx context.Context, feedName string, limit int) ([]models.Item, error)
	GetCrossingCountPerTime(ctx context.Context, feedName string, timeAgg string) ([]models.CrossingsAggregatedByTime, error)
}

type StatusProvider interface {
	Status() []poller.FeedStatus
}

type ServerConfig struct {

	// The hostname used in feed ids and links
	Hostname string

	// The reader to use for reading crossed posts
	Reader FeedReader

	// Broadcaster passing crossings to SSE clients
	Broadcaster *Broadcaster

	// Status of the poller, optional
	Status StatusProvider

	// Origins allowed to use the dashboard endpoints, CORS is off when empty
	AllowOrigins string
}

// Middleware to track the latency of each request
func requestLogger(c *fiber.Ctx) error {
	start := time.Now()
	err := c.Next()

	log.WithFields(log.Fields{
		"method":  c.Method(),
		"route":   c.Route().Path,
		"status":  c.Response().StatusCode(),
		"latency": time.Since(start),
	}).Info("Request")
	return err
}

// Returns a fiber.App instance to be used as the public HTTP server serving
// the Atom feeds
func Server(config *ServerConfig) *fiber.App {
	bc := config.Broadcaster

	app := fiber.New()

	app.Use(requestLogger)
	app.Use(requestid.New(requestid.ConfigDefault))
	app.Use(compress.New())

	if config.AllowOrigins != "" {
		app.Use(cors.New(cors.Config{
			AllowOrigins: config.AllowOrigins,
			AllowHeaders: "Cache-Control",
		}))
	}

	// Cache the dashboard aggregations, they are expensive and change slowly
	app.Use(cache.New(cache.Config{
		Next: func(c *fiber.Ctx) bool {
			if c.Method() != fiber.MethodGet {
				return true
			}
			if strings.HasSuffix(c.Path(), "/sse") {
				return true
			}
			return !strings.HasPrefix(c.Path(), "/dashboard")
		},
		Expiration: time.Minute,
		KeyGenerator: func(c *fiber.Ctx) string {
			// Include the query parameters in the cache key
			return c.Request().URI().String()
		},
	}))

	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	app.Get("/status", func(c *fiber.Ctx) error {
		if config.Status == nil {
			return c.JSON([]poller.FeedStatus{})
		}
		return c.JSON(config.Status.Status())
	})

	app.Get("/dashboard/crossings-per-time", func(c *fiber.Ctx) error {
		feed := c.Query("feed", "")
		timeAgg := c.Query("time", "hour")

		if timeAgg != "hour" && timeAgg != "day" && timeAgg != "week" {
			return c.Status(fiber.StatusBadRequest).SendString("Invalid time")
		}

		counts, err := config.Reader.GetCrossingCountPerTime(c.Context(), feed, timeAgg)
		if err != nil {
			log.WithFields(log.Fields{
				"error": err,
			}).Error("Error getting crossings per time")
			return c.Status(fiber.StatusInternalServerError).SendString("Error getting crossings per time")
		}

		log.WithFields(log.Fields{
			"feed":  feed,
			"count": len(counts),
		}).Info("Get crossings per time")

		if counts == nil {
			counts = []models.CrossingsAggregatedByTime{}
		}
		return c.JSON(counts)
	})

	app.Delete("/dashboard/crossings/sse", func(c *fiber.Ctx) error {
		bc.RemoveClient(c.Query("key", ""))
		return c.SendString("OK")
	})

	app.Get("/dashboard/crossings/sse", func(c *fiber.Ctx) error {
		c.Set("Content-Type", "text/event-stream")
		c.Set("Cache-Control", "no-cache")
		c.Set("Connection", "keep-alive")
		c.Set("Transfer-Encoding", "chunked")

		key := uuid.New().String()
		events := make(chan models.CrossingEvent, 10)
		bc.AddClient(key, events)

		c.Context().SetBodyStreamWriter(fasthttp.StreamWriter(func(w *bufio.Writer) {
			alive := time.NewTicker(5 * time.Second)
			defer alive.Stop()
			defer func() {
				log.Infof("Cleaning up SSE stream for client: %s", key)
				bc.RemoveClient(key)
			}()

			fmt.Fprintf(w, "event: init\ndata: %s\n\n", key)
			if err := w.Flush(); err != nil {
				log.Errorf("Failed to send init event: %v", err)
				return
			}

			for {
				select {
				case <-alive.C:
					fmt.Fprintf(w, "event: ping\ndata: \n\n")
					if err := w.Flush(); err != nil {
						log.Warnf("Failed to flush ping for client %s: %v", key, err)
						return
					}

				case event, ok := <-events:
					if !ok {
						return
					}
					data, err := json.Marshal(event)
					if err != nil {
						log.Errorf("Error marshalling crossing for client %s: %v", key, err)
						continue
					}
					fmt.Fprintf(w, "event: crossing\ndata: %s\n\n", data)
					if err := w.Flush(); err != nil {
						log.Warnf("Failed to flush crossing for client %s: %v", key, err)
						return
					}
				}
			}
		}))

		return nil
	})

	app.Get("/:feed", func(c *fiber.Ctx) error {
		name := utils.CopyString(c.Params("feed"))

		feed, err := config.Reader.GetFeedByName(c.Context(), name)
		if errors.Is(err, db.ErrFeedNotFound) {
			log.WithField("feed", name).Debug("Feed not registered")
			return c.Status(fiber.StatusNotFound).SendString("Unknown subreddit")
		}
		if err != nil {
			log.Errorf("Error getting feed %s: %v", name, err)
			return c.Status(fiber.StatusInternalServerError).SendString("Error getting feed")
		}

		limit := min(parseLimit(c.Query("limit"), FeedSize), FeedSize)
		items, err := config.Reader.CrossedItems(c.Context(), name, limit)
		if err != nil {
			log.Errorf("Error getting crossed posts for %s: %v", name, err)
			return c.Status(fiber.StatusInternalServerError).SendString("Error getting posts")
		}

		atom, err := AtomFeed(config.Hostname, feed, items)
		if err != nil {
			log.Errorf("Error rendering feed %s: %v", name, err)
			return c.Status(fiber.StatusInternalServerError).SendString("Error rendering feed")
		}

		log.WithFields(log.Fields{
			"feed":    name,
			"results": len(items),
		}).Debug("Serving feed")

		c.Set(fiber.HeaderContentType, "application/atom+xml")
		return c.SendString(atom)
	})

	return app
}

func parseLimit(value string, fallback int) int {
	limit, err := strconv.Atoi(value)
	if err != nil || limit < 1 {
		return fallback
	}
	return limit
}
