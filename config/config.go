package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"

	"rexml/models"
	"rexml/poller"
)

// Duration is a time.Duration written as a string in TOML, e.g. "5m"
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	duration, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = duration
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// TomlBackoff configures how long a failing feed is skipped
type TomlBackoff struct {
	Initial Duration `toml:"initial"`
	Max     Duration `toml:"max"`
}

// TomlPoller represents the [poller] table
type TomlPoller struct {
	Interval    Duration    `toml:"interval"`
	Concurrency int         `toml:"concurrency"`
	UserAgent   string      `toml:"user_agent"`
	MaxPages    int         `toml:"max_pages"`
	Backoff     TomlBackoff `toml:"backoff"`
}

// TomlFeed represents a [[feeds]] entry seeded into the store at startup
type TomlFeed struct {
	Name              string `toml:"name"`
	UpvoteThreshold   int64  `toml:"upvote_threshold"`
	TimeCutoffSeconds int64  `toml:"time_cutoff_seconds"`
}

// TomlConfig represents the top-level configuration
type TomlConfig struct {
	Poller TomlPoller `toml:"poller"`
	Feeds  []TomlFeed `toml:"feeds"`
}

func LoadConfig(path string) (*TomlConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	var config TomlConfig
	if err := toml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	return &config, nil
}

// SchedulerConfig converts the [poller] table. Zero values are left for the
// scheduler to default.
func (c *TomlConfig) SchedulerConfig() poller.Config {
	return poller.Config{
		Interval:    c.Poller.Interval.Duration,
		Concurrency: c.Poller.Concurrency,
		FailureBackoff: poller.BackoffConfig{
			Initial: c.Poller.Backoff.Initial.Duration,
			Max:     c.Poller.Backoff.Max.Duration,
		},
	}
}

// SeedFeeds returns the feeds to create at startup. Every invalid entry is
// reported as a ConfigError.
func (c *TomlConfig) SeedFeeds() ([]models.Feed, error) {
	var feeds []models.Feed
	var errs []error
	seen := make(map[string]bool)

	for _, f := range c.Feeds {
		feed := models.Feed{
			Name:              f.Name,
			UpvoteThreshold:   f.UpvoteThreshold,
			TimeCutoffSeconds: f.TimeCutoffSeconds,
		}
		if err := feed.Validate(); err != nil {
			errs = append(errs, &poller.ConfigError{Feed: f.Name, Err: err})
			continue
		}
		if seen[f.Name] {
			errs = append(errs, &poller.ConfigError{Feed: f.Name, Err: errors.New("feed is listed twice")})
			continue
		}
		seen[f.Name] = true
		feeds = append(feeds, feed)
	}

	return feeds, errors.Join(errs...)
}
