package models

import (
	"fmt"
	"math"
	"time"
)

// MaxTimeCutoffSeconds is the longest cutoff a time.Duration can hold
const MaxTimeCutoffSeconds = math.MaxInt64 / int64(time.Second)

// Feed is a monitored subreddit with its threshold configuration
type Feed struct {
	Id                int64     `json:"id"`
	Name              string    `json:"name"`
	UpvoteThreshold   int64     `json:"upvoteThreshold"`
	TimeCutoffSeconds int64     `json:"timeCutoffSeconds"`
	CreatedAt         time.Time `json:"createdAt"`
}

// TimeCutoff returns the evaluation window of the feed
func (f Feed) TimeCutoff() time.Duration {
	return time.Duration(f.TimeCutoffSeconds) * time.Second
}

// Validate checks the threshold configuration of the feed
func (f Feed) Validate() error {
	if f.Name == "" {
		return fmt.Errorf("feed name is empty")
	}
	if f.UpvoteThreshold <= 0 {
		return fmt.Errorf("upvote threshold must be positive, got %d", f.UpvoteThreshold)
	}
	if f.TimeCutoffSeconds < 0 {
		return fmt.Errorf("time cutoff must not be negative, got %d", f.TimeCutoffSeconds)
	}
	if f.TimeCutoffSeconds > MaxTimeCutoffSeconds {
		return fmt.Errorf("time cutoff must be at most %d seconds, got %d", MaxTimeCutoffSeconds, f.TimeCutoffSeconds)
	}
	return nil
}

// ThresholdState tracks whether an item crossed its feed's threshold.
// Unknown is the only non-terminal state.
type ThresholdState string

const (
	StateUnknown ThresholdState = "unknown"
	StateCrossed ThresholdState = "crossed"
	StateExpired ThresholdState = "expired"
)

func (s ThresholdState) Terminal() bool {
	return s == StateCrossed || s == StateExpired
}

func (s ThresholdState) Valid() bool {
	switch s {
	case StateUnknown, StateCrossed, StateExpired:
		return true
	}
	return false
}

// Item is a post observed in a feed
type Item struct {
	Id         int64          `json:"id"`
	FeedId     int64          `json:"feedId"`
	SourceId   string         `json:"sourceId"`
	Kind       string         `json:"kind"`
	Title      string         `json:"title"`
	Url        string         `json:"url"`
	Permalink  string         `json:"permalink"`
	CreatedAt  time.Time      `json:"createdAt"`
	Popularity int64          `json:"popularity"`
	State      ThresholdState `json:"state"`
	CrossedAt  *time.Time     `json:"crossedAt,omitempty"`
}

// Age of the item at the given instant
func (i Item) Age(now time.Time) time.Duration {
	return now.Sub(i.CreatedAt)
}

// FetchedItem is a post as returned by the feed client
type FetchedItem struct {
	SourceId   string    `json:"sourceId"`
	Kind       string    `json:"kind"`
	Title      string    `json:"title"`
	Url        string    `json:"url"`
	Permalink  string    `json:"permalink"`
	CreatedAt  time.Time `json:"createdAt"`
	Popularity int64     `json:"popularity"`
}

// ToItem builds the row inserted on first sighting
func (f FetchedItem) ToItem(feedId int64) Item {
	return Item{
		FeedId:     feedId,
		SourceId:   f.SourceId,
		Kind:       f.Kind,
		Title:      f.Title,
		Url:        f.Url,
		Permalink:  f.Permalink,
		CreatedAt:  f.CreatedAt,
		Popularity: f.Popularity,
		State:      StateUnknown,
	}
}

// CrossingEvent fired when an item crosses its feed's threshold
type CrossingEvent struct {
	Feed      string    `json:"feed"`
	Threshold int64     `json:"threshold"`
	Item      Item      `json:"item"`
	CrossedAt time.Time `json:"crossedAt"`
}

type CrossingsAggregatedByTime struct {
	Time  time.Time `json:"time"`
	Count int64     `json:"count"`
}
