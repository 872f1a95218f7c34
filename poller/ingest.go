package poller

import (
	"context"
	"time"

	"github.com/juju/clock"
	log "github.com/sirupsen/logrus"

	"rexml/models"
)

// IngestResult reports a single ingestion of a feed
type IngestResult struct {
	NewItems int
	Errors   []error
	// Page is the fetched page, reused by the evaluator to refresh popularity
	Page []models.FetchedItem
}

// Ingester inserts items it has not seen before. It never updates existing rows.
type Ingester struct {
	client FeedClient
	store  ItemStore
	clock  clock.Clock
}

func NewIngester(client FeedClient, store ItemStore, clk clock.Clock) *Ingester {
	return &Ingester{
		client: client,
		store:  store,
		clock:  clk,
	}
}

// Ingest fetches the feed and stores every new item
func (in *Ingester) Ingest(ctx context.Context, feed models.Feed) (IngestResult, error) {
	page, err := in.Fetch(ctx, feed)
	if err != nil {
		return IngestResult{Errors: []error{err}}, err
	}
	return in.Store(ctx, feed, page), nil
}

// Fetch asks the client for the items created within the feed's window
func (in *Ingester) Fetch(ctx context.Context, feed models.Feed) ([]models.FetchedItem, error) {
	notBefore := in.clock.Now().Add(-feed.TimeCutoff())

	start := time.Now()
	page, err := in.client.FetchRecent(ctx, feed.Name, notBefore)
	fetchDuration.WithLabelValues(feed.Name).Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, &FetchError{Feed: feed.Name, Err: err}
	}

	log.WithFields(log.Fields{
		"feed":    feed.Name,
		"results": len(page),
	}).Info("Fetched feed")

	return page, nil
}

// Store inserts the items of a fetched page. A failed insert is recorded and
// does not stop the remaining items.
func (in *Ingester) Store(ctx context.Context, feed models.Feed, page []models.FetchedItem) IngestResult {
	result := IngestResult{Page: page}

	for _, fetched := range page {
		if err := ctx.Err(); err != nil {
			result.Errors = append(result.Errors, &StoreError{Feed: feed.Name, Op: "insert", Err: err})
			break
		}

		inserted, err := in.store.InsertItem(ctx, fetched.ToItem(feed.Id))
		if err != nil {
			log.WithFields(log.Fields{
				"feed":     feed.Name,
				"sourceId": fetched.SourceId,
			}).Errorf("Error inserting item: %v", err)
			result.Errors = append(result.Errors, &StoreError{Feed: feed.Name, Op: "insert " + fetched.SourceId, Err: err})
			continue
		}
		if inserted {
			result.NewItems++
		}
	}

	itemsIngested.WithLabelValues(feed.Name).Add(float64(result.NewItems))

	log.WithFields(log.Fields{
		"feed":     feed.Name,
		"fetched":  len(page),
		"newItems": result.NewItems,
		"errors":   len(result.Errors),
	}).Info("Ingested feed")

	return result
}
