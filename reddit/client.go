package reddit

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	log "github.com/sirupsen/logrus"

	"rexml/models"
)

const (
	DefaultBaseURL   = "https://www.reddit.com"
	DefaultUserAgent = "rexml/1.0"
	DefaultMaxPages  = 10
	pageLimit        = 100
)

// StatusError is returned when reddit answers with a non 200 status
type StatusError struct {
	StatusCode int
	Subreddit  string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("reddit returned %d %s for r/%s", e.StatusCode, http.StatusText(e.StatusCode), e.Subreddit)
}

type ClientConfig struct {
	BaseURL   string
	UserAgent string
	// MaxPages bounds the number of listing pages fetched per call
	MaxPages int
	Timeout  time.Duration
}

// Client fetches the newest posts of subreddits
type Client struct {
	baseURL   string
	userAgent string
	maxPages  int
	http      *http.Client
}

func NewClient(config ClientConfig) *Client {
	if config.BaseURL == "" {
		config.BaseURL = DefaultBaseURL
	}
	if config.UserAgent == "" {
		config.UserAgent = DefaultUserAgent
	}
	if config.MaxPages <= 0 {
		config.MaxPages = DefaultMaxPages
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	return &Client{
		baseURL:   config.BaseURL,
		userAgent: config.UserAgent,
		maxPages:  config.MaxPages,
		http:      &http.Client{Timeout: config.Timeout},
	}
}

// FetchRecent pages through /r/<subreddit>/new.json newest first and stops at
// the first post created before notBefore.
func (c *Client) FetchRecent(ctx context.Context, subreddit string, notBefore time.Time) ([]models.FetchedItem, error) {
	var items []models.FetchedItem
	after := ""

	for page := 0; page < c.maxPages; page++ {
		listing, err := c.getPage(ctx, subreddit, after)
		if err != nil {
			return nil, err
		}

		log.WithFields(log.Fields{
			"subreddit": subreddit,
			"page":      page,
			"results":   len(listing.Data.Children),
		}).Debug("Got listing page")

		if len(listing.Data.Children) == 0 {
			break
		}

		for _, child := range listing.Data.Children {
			if child.Data.Created.Before(notBefore) {
				return items, nil
			}
			items = append(items, child.ToFetchedItem())
		}

		// A null cursor is the end of the listing
		if listing.Data.After == "" {
			break
		}
		after = listing.Data.After
	}

	return items, nil
}

func (c *Client) getPage(ctx context.Context, subreddit string, after string) (*Listing, error) {
	u, err := url.Parse(fmt.Sprintf("%s/r/%s/new.json", c.baseURL, url.PathEscape(subreddit)))
	if err != nil {
		return nil, fmt.Errorf("failed to parse URL: %w", err)
	}

	q := u.Query()
	q.Set("limit", strconv.Itoa(pageLimit))
	q.Set("raw_json", "1")
	if after != "" {
		q.Set("after", after)
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")

	log.WithFields(log.Fields{
		"subreddit": subreddit,
		"url":       u.String(),
	}).Info("Sending request")

	res, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		io.Copy(io.Discard, res.Body)
		return nil, &StatusError{StatusCode: res.StatusCode, Subreddit: subreddit}
	}

	var listing Listing
	if err := json.NewDecoder(res.Body).Decode(&listing); err != nil {
		return nil, fmt.Errorf("failed to decode listing for r/%s: %w", subreddit, err)
	}
	return &listing, nil
}
