package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"time"

	sqlbuilder "github.com/huandu/go-sqlbuilder"
	log "github.com/sirupsen/logrus"

	"rexml/models"
)

var (
	ErrFeedExists   = errors.New("feed already exists")
	ErrFeedNotFound = errors.New("feed not found")
)

const writeTimeout = 30 * time.Second

var (
	feedColumns = []string{
		"subreddits.id", "subreddits.name", "subreddits.upvote_threshold",
		"subreddits.time_cutoff_seconds", "subreddits.created_at",
	}
	itemColumns = []string{
		"posts.id", "posts.subreddit", "posts.reddit_id", "posts.kind", "posts.title",
		"posts.url", "posts.permalink", "posts.created", "posts.ups",
		"posts.threshold_state", "posts.threshold_passed",
	}
)

// queries holds the read operations shared by DB and Reader
type queries struct {
	db     *sql.DB
	flavor sqlbuilder.Flavor
}

// DB handles all database operations of the poller with a shared connection pool
type DB struct {
	queries
}

// Open connects to the database at the given sqlite:// or postgres:// url.
// Migrations are not run, see Migrate.
func Open(databaseURL string) (*DB, error) {
	db, flavor, err := connection(databaseURL, false)
	if err != nil {
		return nil, fmt.Errorf("failed to connect database: %w", err)
	}
	return &DB{queries{db: db, flavor: flavor}}, nil
}

func (q *queries) Close() error {
	return q.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanFeed(row rowScanner) (models.Feed, error) {
	var feed models.Feed
	var createdAt int64
	if err := row.Scan(&feed.Id, &feed.Name, &feed.UpvoteThreshold, &feed.TimeCutoffSeconds, &createdAt); err != nil {
		return models.Feed{}, err
	}
	feed.CreatedAt = time.Unix(createdAt, 0).UTC()
	return feed, nil
}

func scanItem(row rowScanner) (models.Item, error) {
	var item models.Item
	var created int64
	var state string
	var passed sql.NullInt64
	if err := row.Scan(
		&item.Id, &item.FeedId, &item.SourceId, &item.Kind, &item.Title,
		&item.Url, &item.Permalink, &created, &item.Popularity, &state, &passed,
	); err != nil {
		return models.Item{}, err
	}
	item.CreatedAt = time.Unix(created, 0).UTC()
	item.State = models.ThresholdState(state)
	if passed.Valid {
		t := time.Unix(passed.Int64, 0).UTC()
		item.CrossedAt = &t
	}
	return item, nil
}

func (q *queries) selectItems(ctx context.Context, sb *sqlbuilder.SelectBuilder) ([]models.Item, error) {
	query, args := sb.Build()
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query error: %w", err)
	}
	defer rows.Close()

	var items []models.Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan error: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// Feed operations

func (q *queries) ListFeeds(ctx context.Context) ([]models.Feed, error) {
	sb := q.flavor.NewSelectBuilder()
	sb.Select(feedColumns...).From("subreddits").OrderBy("subreddits.name").Asc()

	query, args := sb.Build()
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query error: %w", err)
	}
	defer rows.Close()

	var feeds []models.Feed
	for rows.Next() {
		feed, err := scanFeed(rows)
		if err != nil {
			return nil, fmt.Errorf("scan error: %w", err)
		}
		feeds = append(feeds, feed)
	}
	return feeds, rows.Err()
}

func (q *queries) GetFeedByName(ctx context.Context, name string) (models.Feed, error) {
	sb := q.flavor.NewSelectBuilder()
	sb.Select(feedColumns...).From("subreddits").Where(sb.Equal("subreddits.name", name)).Limit(1)

	query, args := sb.Build()
	feed, err := scanFeed(q.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return models.Feed{}, ErrFeedNotFound
	}
	if err != nil {
		return models.Feed{}, fmt.Errorf("query error: %w", err)
	}
	return feed, nil
}

// CreateFeed inserts a new feed. Returns ErrFeedExists if the name is taken.
func (db *DB) CreateFeed(ctx context.Context, feed models.Feed) (models.Feed, error) {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	if feed.CreatedAt.IsZero() {
		feed.CreatedAt = time.Now().UTC()
	}

	ib := db.flavor.NewInsertBuilder()
	ib.InsertInto("subreddits").
		Cols("name", "upvote_threshold", "time_cutoff_seconds", "created_at").
		Values(feed.Name, feed.UpvoteThreshold, feed.TimeCutoffSeconds, feed.CreatedAt.Unix())
	ib.SQL("ON CONFLICT (name) DO NOTHING")
	ib.SQL("RETURNING id")

	query, args := ib.Build()
	err := db.db.QueryRowContext(ctx, query, args...).Scan(&feed.Id)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Feed{}, ErrFeedExists
	}
	if err != nil {
		return models.Feed{}, fmt.Errorf("insert error: %w", err)
	}

	log.WithFields(log.Fields{
		"feed":              feed.Name,
		"upvoteThreshold":   feed.UpvoteThreshold,
		"timeCutoffSeconds": feed.TimeCutoffSeconds,
	}).Info("Created feed")

	return feed, nil
}

// UpdateFeed changes the threshold configuration of the feed with the given name
func (db *DB) UpdateFeed(ctx context.Context, feed models.Feed) (models.Feed, error) {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	ub := db.flavor.NewUpdateBuilder()
	ub.Update("subreddits").
		Set(
			ub.Assign("upvote_threshold", feed.UpvoteThreshold),
			ub.Assign("time_cutoff_seconds", feed.TimeCutoffSeconds),
		).
		Where(ub.Equal("name", feed.Name))

	query, args := ub.Build()
	res, err := db.db.ExecContext(ctx, query, args...)
	if err != nil {
		return models.Feed{}, fmt.Errorf("update error: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return models.Feed{}, ErrFeedNotFound
	}

	log.WithFields(log.Fields{
		"feed":              feed.Name,
		"upvoteThreshold":   feed.UpvoteThreshold,
		"timeCutoffSeconds": feed.TimeCutoffSeconds,
	}).Info("Updated feed")

	return db.GetFeedByName(ctx, feed.Name)
}

// Item operations

// InsertItem stores an item seen for the first time.
// Returns false without error if the feed already has an item with the same source id.
func (db *DB) InsertItem(ctx context.Context, item models.Item) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	state := item.State
	if state == "" {
		state = models.StateUnknown
	}

	ib := db.flavor.NewInsertBuilder()
	ib.InsertInto("posts").
		Cols("reddit_id", "subreddit", "kind", "title", "url", "permalink", "created", "ups", "threshold_state").
		Values(item.SourceId, item.FeedId, item.Kind, item.Title, item.Url, item.Permalink,
			item.CreatedAt.Unix(), item.Popularity, string(state))
	ib.SQL("ON CONFLICT (subreddit, reddit_id) DO NOTHING")

	query, args := ib.Build()
	res, err := db.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("insert error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert error: %w", err)
	}

	if n > 0 {
		log.WithFields(log.Fields{
			"feedId":     item.FeedId,
			"sourceId":   item.SourceId,
			"created_at": item.CreatedAt.Format(time.RFC3339),
			"popularity": item.Popularity,
		}).Debug("Inserted item")
	}
	return n > 0, nil
}

// PendingItems returns the items of the feed still in the unknown state, oldest first
func (q *queries) PendingItems(ctx context.Context, feedId int64) ([]models.Item, error) {
	sb := q.flavor.NewSelectBuilder()
	sb.Select(itemColumns...).From("posts").
		Where(
			sb.Equal("posts.subreddit", feedId),
			sb.Equal("posts.threshold_state", string(models.StateUnknown)),
		).
		OrderBy("posts.created").Asc()

	return q.selectItems(ctx, sb)
}

func (q *queries) GetItem(ctx context.Context, feedId int64, sourceId string) (models.Item, error) {
	sb := q.flavor.NewSelectBuilder()
	sb.Select(itemColumns...).From("posts").
		Where(sb.Equal("posts.subreddit", feedId), sb.Equal("posts.reddit_id", sourceId)).
		Limit(1)

	query, args := sb.Build()
	item, err := scanItem(q.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		return models.Item{}, err
	}
	return item, nil
}

func (q *queries) CountItems(ctx context.Context, feedId int64) (int64, error) {
	sb := q.flavor.NewSelectBuilder()
	sb.Select("count(*)").From("posts").Where(sb.Equal("subreddit", feedId))

	query, args := sb.Build()
	var count int64
	if err := q.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("query error: %w", err)
	}
	return count, nil
}

// UpdatePopularity refreshes the score of an item that has not reached a terminal state
func (db *DB) UpdatePopularity(ctx context.Context, itemId int64, popularity int64) error {
	ub := db.flavor.NewUpdateBuilder()
	ub.Update("posts").
		Set(ub.Assign("ups", popularity)).
		Where(ub.Equal("id", itemId), ub.Equal("threshold_state", string(models.StateUnknown)))

	query, args := ub.Build()
	if _, err := db.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("update error: %w", err)
	}
	return nil
}

// MarkCrossed moves an unknown item to crossed. Only the caller that performs
// the transition gets true back.
func (db *DB) MarkCrossed(ctx context.Context, itemId int64, popularity int64, at time.Time) (bool, error) {
	ub := db.flavor.NewUpdateBuilder()
	ub.Update("posts").
		Set(
			ub.Assign("threshold_state", string(models.StateCrossed)),
			ub.Assign("threshold_passed", at.Unix()),
			ub.Assign("ups", popularity),
		).
		Where(ub.Equal("id", itemId), ub.Equal("threshold_state", string(models.StateUnknown)))

	return db.transition(ctx, ub)
}

// MarkExpired moves an unknown item that aged out of its window to expired
func (db *DB) MarkExpired(ctx context.Context, itemId int64) (bool, error) {
	ub := db.flavor.NewUpdateBuilder()
	ub.Update("posts").
		Set(ub.Assign("threshold_state", string(models.StateExpired))).
		Where(ub.Equal("id", itemId), ub.Equal("threshold_state", string(models.StateUnknown)))

	return db.transition(ctx, ub)
}

func (db *DB) transition(ctx context.Context, ub *sqlbuilder.UpdateBuilder) (bool, error) {
	query, args := ub.Build()
	res, err := db.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("update error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update error: %w", err)
	}
	return n == 1, nil
}

func redact(databaseURL string) string {
	u, err := url.Parse(databaseURL)
	if err != nil {
		return "<invalid url>"
	}
	return u.Redacted()
}
