// Package poller drives the subreddit polling cycles: ingestion of new posts,
// threshold evaluation and the scheduling of both across feeds.
package poller

import (
	"context"
	"time"

	"rexml/models"
)

// FeedClient fetches the newest items of a feed, stopping at notBefore
type FeedClient interface {
	FetchRecent(ctx context.Context, name string, notBefore time.Time) ([]models.FetchedItem, error)
}

type FeedStore interface {
	ListFeeds(ctx context.Context) ([]models.Feed, error)
}

// ItemStore persists items. InsertItem must report a (feed, source id)
// conflict as (false, nil), and MarkCrossed/MarkExpired must only succeed for
// items still in the unknown state.
type ItemStore interface {
	InsertItem(ctx context.Context, item models.Item) (bool, error)
	PendingItems(ctx context.Context, feedId int64) ([]models.Item, error)
	UpdatePopularity(ctx context.Context, itemId int64, popularity int64) error
	MarkCrossed(ctx context.Context, itemId int64, popularity int64, at time.Time) (bool, error)
	MarkExpired(ctx context.Context, itemId int64) (bool, error)
}

type Store interface {
	FeedStore
	ItemStore
}

// Sink receives every newly crossed item once
type Sink interface {
	EmitCrossing(ctx context.Context, event models.CrossingEvent) error
}
