package db

import (
	"context"
	"fmt"
	"strconv"
	"time"

	sqlbuilder "github.com/huandu/go-sqlbuilder"

	"rexml/models"
)

// Reader serves the read-only queries of the HTTP server
type Reader struct {
	queries
}

func NewReader(databaseURL string) (*Reader, error) {
	db, flavor, err := connection(databaseURL, true)
	if err != nil {
		return nil, fmt.Errorf("failed to connect database: %w", err)
	}
	return &Reader{queries{db: db, flavor: flavor}}, nil
}

// CrossedItems returns the most recently crossed items of a feed, newest crossing first
func (reader *Reader) CrossedItems(ctx context.Context, feedName string, limit int) ([]models.Item, error) {
	sb := reader.flavor.NewSelectBuilder()
	sb.Select(itemColumns...).From("posts").
		Join("subreddits", "subreddits.id = posts.subreddit").
		Where(
			sb.Equal("subreddits.name", feedName),
			sb.Equal("posts.threshold_state", string(models.StateCrossed)),
			sb.IsNotNull("posts.threshold_passed"),
		).
		OrderBy("posts.threshold_passed").Desc().
		Limit(limit)

	return reader.selectItems(ctx, sb)
}

// Returns the number of crossings per hour, day or week, optionally for a single feed
func (reader *Reader) GetCrossingCountPerTime(ctx context.Context, feedName string, timeAgg string) ([]models.CrossingsAggregatedByTime, error) {
	sqlFormat, timeParse := reader.timeBucket(timeAgg)

	sb := reader.flavor.NewSelectBuilder()
	sb.Select(sqlFormat+" AS bucket", "count(*) AS count").From("posts").
		Where(sb.Equal("posts.threshold_state", string(models.StateCrossed)))
	if feedName != "" {
		sb.Join("subreddits", "subreddits.id = posts.subreddit")
		sb.Where(sb.Equal("subreddits.name", feedName))
	}
	sb.GroupBy("bucket")
	sb.OrderBy("bucket").Asc()

	query, args := sb.Build()
	rows, err := reader.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query error: %w", err)
	}
	defer rows.Close()

	var counts []models.CrossingsAggregatedByTime
	for rows.Next() {
		var bucket string
		var count models.CrossingsAggregatedByTime

		if err := rows.Scan(&bucket, &count.Count); err != nil {
			continue // Skip this row
		}

		if t, err := timeParse(bucket); err == nil {
			count.Time = t
		}
		counts = append(counts, count)
	}

	return counts, rows.Err()
}

// Buckets are computed in UTC. Weeks follow strftime's %W: week 01 starts on
// the first Monday of the year and the days before it are week 00.
const (
	postgresPassedUTC = "(to_timestamp(posts.threshold_passed) AT TIME ZONE 'UTC')"
	postgresWeek      = "to_char(" + postgresPassedUTC + ", 'YYYY') || '-' || " +
		"lpad(((EXTRACT(DOY FROM " + postgresPassedUTC + ")::int + 7 - EXTRACT(ISODOW FROM " + postgresPassedUTC + ")::int) / 7)::text, 2, '0')"
)

func (reader *Reader) timeBucket(timeAgg string) (string, func(string) (time.Time, error)) {
	postgres := reader.flavor == sqlbuilder.PostgreSQL

	switch timeAgg {
	case "day":
		if postgres {
			return "to_char(" + postgresPassedUTC + ", 'YYYY-MM-DD')", parseLayout("2006-01-02")
		}
		return `STRFTIME('%Y-%m-%d', posts.threshold_passed, 'unixepoch')`, parseLayout("2006-01-02")
	case "week":
		if postgres {
			return postgresWeek, parseWeek
		}
		return `STRFTIME('%Y-%W', posts.threshold_passed, 'unixepoch')`, parseWeek
	default:
		if postgres {
			return "to_char(" + postgresPassedUTC + ", 'YYYY-MM-DD-HH24')", parseLayout("2006-01-02-15")
		}
		return `STRFTIME('%Y-%m-%d-%H', posts.threshold_passed, 'unixepoch')`, parseLayout("2006-01-02-15")
	}
}

func parseLayout(layout string) func(string) (time.Time, error) {
	return func(str string) (time.Time, error) {
		return time.Parse(layout, str)
	}
}

// parseWeek turns a YYYY-WW bucket into the first day of that week. Week 00
// starts on January 1st, week 01 on the first Monday.
func parseWeek(str string) (time.Time, error) {
	if len(str) != 7 || str[4] != '-' {
		return time.Time{}, fmt.Errorf("invalid week bucket %q", str)
	}
	year, err := time.Parse("2006", str[:4])
	if err != nil {
		return time.Time{}, err
	}
	week, err := strconv.Atoi(str[5:])
	if err != nil {
		return time.Time{}, err
	}
	if week < 0 || week > 53 {
		return time.Time{}, fmt.Errorf("week out of range in bucket %q", str)
	}
	if week == 0 {
		return year, nil
	}
	firstMonday := year.AddDate(0, 0, (8-int(year.Weekday()))%7)
	return firstMonday.AddDate(0, 0, (week-1)*7), nil
}
