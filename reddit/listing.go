package reddit

import (
	"encoding/json"
	"fmt"
	"math"
	"time"

	"rexml/models"
)

// Listing is the envelope returned by /r/<name>/new.json
type Listing struct {
	Kind string      `json:"kind"`
	Data ListingData `json:"data"`
}

type ListingData struct {
	After    string         `json:"after"`
	Children []ListingChild `json:"children"`
}

type ListingChild struct {
	Kind string `json:"kind"`
	Data Post   `json:"data"`
}

// Post holds the fields of a listing child that rexml keeps
type Post struct {
	Id        string    `json:"id"`
	Title     string    `json:"title"`
	Ups       int64     `json:"ups"`
	Permalink string    `json:"permalink"`
	Url       string    `json:"url"`
	Created   Timestamp `json:"created_utc"`
}

// Timestamp decodes unix seconds sent as a float
type Timestamp struct {
	time.Time
}

func (t *Timestamp) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		return nil
	}
	var seconds float64
	if err := json.Unmarshal(data, &seconds); err != nil {
		return fmt.Errorf("expected unix seconds: %w", err)
	}
	whole, frac := math.Modf(seconds)
	t.Time = time.Unix(int64(whole), int64(frac*1e9)).UTC()
	return nil
}

func (c ListingChild) ToFetchedItem() models.FetchedItem {
	return models.FetchedItem{
		SourceId:   c.Data.Id,
		Kind:       c.Kind,
		Title:      c.Data.Title,
		Url:        c.Data.Url,
		Permalink:  c.Data.Permalink,
		CreatedAt:  c.Data.Created.Time,
		Popularity: c.Data.Ups,
	}
}
