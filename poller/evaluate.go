package poller

import (
	"context"
	"time"

	"github.com/samber/lo"
	log "github.com/sirupsen/logrus"

	"rexml/models"
)

// EvalResult reports a single evaluation of a feed
type EvalResult struct {
	Crossed []models.Item
	Expired int
	Errors  []error
}

// Evaluator settles pending items: unknown → crossed once popularity reaches
// the threshold inside the window, unknown → expired once the window is over.
type Evaluator struct {
	store ItemStore
	sink  Sink
}

func NewEvaluator(store ItemStore, sink Sink) *Evaluator {
	return &Evaluator{
		store: store,
		sink:  sink,
	}
}

// Evaluate checks every pending item of the feed at the instant now.
// Popularity is taken from page when the item is on it, otherwise the stored
// value is used.
func (ev *Evaluator) Evaluate(ctx context.Context, feed models.Feed, now time.Time, page []models.FetchedItem) (EvalResult, error) {
	pending, err := ev.store.PendingItems(ctx, feed.Id)
	if err != nil {
		return EvalResult{}, &StoreError{Feed: feed.Name, Op: "select pending", Err: err}
	}

	latest := lo.KeyBy(page, func(item models.FetchedItem) string {
		return item.SourceId
	})

	var result EvalResult
	for _, item := range pending {
		if err := ctx.Err(); err != nil {
			result.Errors = append(result.Errors, &StoreError{Feed: feed.Name, Op: "evaluate", Err: err})
			break
		}

		if item.Age(now) > feed.TimeCutoff() {
			expired, err := ev.store.MarkExpired(ctx, item.Id)
			if err != nil {
				result.Errors = append(result.Errors, &StoreError{Feed: feed.Name, Op: "expire " + item.SourceId, Err: err})
				continue
			}
			if expired {
				result.Expired++
			}
			continue
		}

		popularity := item.Popularity
		if fetched, ok := latest[item.SourceId]; ok {
			popularity = fetched.Popularity
		}

		if popularity < feed.UpvoteThreshold {
			if popularity != item.Popularity {
				if err := ev.store.UpdatePopularity(ctx, item.Id, popularity); err != nil {
					result.Errors = append(result.Errors, &StoreError{Feed: feed.Name, Op: "refresh " + item.SourceId, Err: err})
				}
			}
			continue
		}

		crossed, err := ev.store.MarkCrossed(ctx, item.Id, popularity, now)
		if err != nil {
			result.Errors = append(result.Errors, &StoreError{Feed: feed.Name, Op: "cross " + item.SourceId, Err: err})
			continue
		}
		if !crossed {
			// Settled by a concurrent evaluation
			continue
		}

		crossedAt := now
		item.Popularity = popularity
		item.State = models.StateCrossed
		item.CrossedAt = &crossedAt
		result.Crossed = append(result.Crossed, item)

		log.WithFields(log.Fields{
			"feed":       feed.Name,
			"sourceId":   item.SourceId,
			"popularity": popularity,
			"threshold":  feed.UpvoteThreshold,
		}).Info("Passed the threshold")

		ev.emit(ctx, feed, item, crossedAt)
	}

	crossings.WithLabelValues(feed.Name).Add(float64(len(result.Crossed)))
	itemsExpired.WithLabelValues(feed.Name).Add(float64(result.Expired))

	return result, nil
}

// emit hands the crossing to the sink. Delivery failures leave the crossed state as is.
func (ev *Evaluator) emit(ctx context.Context, feed models.Feed, item models.Item, at time.Time) {
	if ev.sink == nil {
		return
	}

	err := ev.sink.EmitCrossing(ctx, models.CrossingEvent{
		Feed:      feed.Name,
		Threshold: feed.UpvoteThreshold,
		Item:      item,
		CrossedAt: at,
	})
	if err != nil {
		sinkErrors.Inc()
		log.WithFields(log.Fields{
			"feed":     feed.Name,
			"sourceId": item.SourceId,
		}).Warnf("Failed to emit crossing: %v", err)
	}
}
