package poller

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/juju/clock"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"rexml/models"
)

const (
	DefaultInterval    = 5 * time.Minute
	DefaultConcurrency = 4
)

// BackoffConfig enables skipping failed feeds for an exponentially growing
// time. A zero Initial disables it.
type BackoffConfig struct {
	Initial time.Duration
	Max     time.Duration
}

type Config struct {
	Interval       time.Duration
	Concurrency    int
	FailureBackoff BackoffConfig
}

// FeedOutcome is the result of one feed's pipeline in a cycle
type FeedOutcome struct {
	Feed    string
	Ingest  IngestResult
	Eval    EvalResult
	Err     error
	Skipped bool
}

// CycleReport collects the outcome of every feed in a cycle
type CycleReport struct {
	Started  time.Time
	Outcomes []FeedOutcome
	Err      error
}

func (r CycleReport) Failed() []FeedOutcome {
	var failed []FeedOutcome
	for _, outcome := range r.Outcomes {
		if outcome.Err != nil {
			failed = append(failed, outcome)
		}
	}
	return failed
}

// Scheduler runs the poll cycles. Feeds are processed in parallel up to the
// configured concurrency and a failing feed never affects the others.
type Scheduler struct {
	config    Config
	store     Store
	ingester  *Ingester
	evaluator *Evaluator
	clock     clock.Clock
	wake      chan struct{}

	mu       sync.RWMutex
	statuses map[string]*FeedStatus
	backoffs map[string]*backoff.ExponentialBackOff
}

func New(config Config, store Store, client FeedClient, sink Sink, clk clock.Clock) *Scheduler {
	if config.Interval <= 0 {
		config.Interval = DefaultInterval
	}
	if config.Concurrency <= 0 {
		config.Concurrency = DefaultConcurrency
	}
	if clk == nil {
		clk = clock.WallClock
	}

	return &Scheduler{
		config:    config,
		store:     store,
		ingester:  NewIngester(client, store, clk),
		evaluator: NewEvaluator(store, sink),
		clock:     clk,
		wake:      make(chan struct{}, 1),
		statuses:  make(map[string]*FeedStatus),
		backoffs:  make(map[string]*backoff.ExponentialBackOff),
	}
}

// Run polls immediately and then once per interval until ctx is cancelled
func (s *Scheduler) Run(ctx context.Context) error {
	log.WithFields(log.Fields{
		"interval":    s.config.Interval,
		"concurrency": s.config.Concurrency,
	}).Info("Starting poller")

	for {
		report := s.RunCycle(ctx)
		if report.Err != nil {
			log.Errorf("Error whilst running poll cycle: %v", report.Err)
		}

		log.Info("Waiting for next poll cycle")
		select {
		case <-ctx.Done():
			log.Info("Poller stopped")
			return ctx.Err()
		case <-s.clock.After(s.config.Interval):
			log.Debug("Poll interval elapsed")
		case <-s.wake:
			log.Info("Poller woken up")
		}
	}
}

// Wake makes a running scheduler start its next cycle without waiting for the interval
func (s *Scheduler) Wake() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// RunCycle runs one pipeline per configured feed and waits for all of them
func (s *Scheduler) RunCycle(ctx context.Context) CycleReport {
	report := CycleReport{Started: s.clock.Now()}
	pollCycles.Inc()

	feeds, err := s.store.ListFeeds(ctx)
	if err != nil {
		report.Err = &StoreError{Op: "list feeds", Err: err}
		return report
	}
	configuredFeeds.Set(float64(len(feeds)))

	report.Outcomes = make([]FeedOutcome, len(feeds))

	// A plain group: one feed's error must not cancel its siblings
	var g errgroup.Group
	g.SetLimit(s.config.Concurrency)
	for i, feed := range feeds {
		g.Go(func() error {
			report.Outcomes[i] = s.runFeed(ctx, feed)
			return nil
		})
	}
	g.Wait()

	log.WithFields(log.Fields{
		"feeds":    len(feeds),
		"failed":   len(report.Failed()),
		"duration": s.clock.Now().Sub(report.Started),
	}).Info("Poll cycle done")

	return report
}

// runFeed drives Idle → Fetching → Ingesting → Evaluating → Idle for one feed
func (s *Scheduler) runFeed(ctx context.Context, feed models.Feed) FeedOutcome {
	outcome := FeedOutcome{Feed: feed.Name}

	if err := ctx.Err(); err != nil {
		outcome.Err = err
		outcome.Skipped = true
		return outcome
	}

	s.begin(feed.Name)

	if err := feed.Validate(); err != nil {
		outcome.Err = &ConfigError{Feed: feed.Name, Err: err}
		s.fail(ctx, feed.Name, outcome.Err)
		return outcome
	}

	if next, waiting := s.backingOff(feed.Name); waiting {
		log.WithFields(log.Fields{
			"feed":        feed.Name,
			"nextAttempt": next.Format(time.RFC3339),
		}).Info("Skipping feed while backing off")
		s.setState(feed.Name, StateIdle)
		outcome.Skipped = true
		return outcome
	}

	s.setState(feed.Name, StateFetching)
	page, err := s.ingester.Fetch(ctx, feed)
	if err != nil {
		outcome.Err = err
		outcome.Ingest.Errors = []error{err}
		s.fail(ctx, feed.Name, err)
		return outcome
	}

	s.setState(feed.Name, StateIngesting)
	outcome.Ingest = s.ingester.Store(ctx, feed, page)
	if len(outcome.Ingest.Errors) > 0 {
		// Evaluation waits for a fully committed ingestion, the rows already
		// inserted are evaluated next cycle
		outcome.Err = errors.Join(outcome.Ingest.Errors...)
		s.fail(ctx, feed.Name, outcome.Err)
		return outcome
	}

	s.setState(feed.Name, StateEvaluating)
	outcome.Eval, err = s.evaluator.Evaluate(ctx, feed, s.clock.Now(), page)
	if err == nil && len(outcome.Eval.Errors) > 0 {
		err = errors.Join(outcome.Eval.Errors...)
	}
	s.record(feed.Name, outcome)
	if err != nil {
		outcome.Err = err
		s.fail(ctx, feed.Name, err)
		return outcome
	}

	s.succeed(feed.Name)
	return outcome
}

func (s *Scheduler) begin(feed string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	status := s.status(feed)
	if status.State == StateFailed {
		status.State = StateIdle
	}
	status.Cycles++
	status.LastCycle = s.clock.Now()
}

func (s *Scheduler) setState(feed string, to State) {
	s.mu.Lock()
	defer s.mu.Unlock()

	status := s.status(feed)
	if status.State != to && !status.State.CanTransition(to) {
		log.WithFields(log.Fields{
			"feed": feed,
			"from": status.State,
			"to":   to,
		}).Warn("Unexpected feed state transition")
	}
	status.State = to
}

func (s *Scheduler) record(feed string, outcome FeedOutcome) {
	s.mu.Lock()
	defer s.mu.Unlock()

	status := s.status(feed)
	status.NewItems = int64(outcome.Ingest.NewItems)
	status.Crossings += int64(len(outcome.Eval.Crossed))
	status.Expired += int64(outcome.Eval.Expired)
}

// fail marks the feed failed and schedules its next attempt. An error caused
// by ctx being cancelled only returns the feed to idle.
func (s *Scheduler) fail(ctx context.Context, feed string, err error) {
	if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
		s.abort(feed, err)
		return
	}

	kind := errorKind(err)
	feedFailures.WithLabelValues(feed, kind).Inc()

	s.mu.Lock()
	defer s.mu.Unlock()

	status := s.status(feed)
	status.State = StateFailed
	status.LastError = err.Error()
	status.Failures++

	if kind != "config" {
		if b := s.backoffFor(feed); b != nil {
			next := s.clock.Now().Add(b.NextBackOff())
			status.NextAttempt = &next
		}
	}

	log.WithFields(log.Fields{
		"feed":        feed,
		"kind":        kind,
		"nextAttempt": status.NextAttempt,
	}).Errorf("Error whilst polling feed: %v", err)
}

func (s *Scheduler) succeed(feed string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	status := s.status(feed)
	status.State = StateIdle
	status.LastError = ""
	status.NextAttempt = nil
	if b, ok := s.backoffs[feed]; ok {
		b.Reset()
	}
}

func (s *Scheduler) backingOff(feed string) (time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	status, ok := s.statuses[feed]
	if !ok || status.NextAttempt == nil {
		return time.Time{}, false
	}
	return *status.NextAttempt, status.NextAttempt.After(s.clock.Now())
}

func (s *Scheduler) abort(feed string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	status := s.status(feed)
	from := status.State
	status.State = StateIdle

	log.WithFields(log.Fields{
		"feed": feed,
		"from": from,
	}).Infof("Feed pipeline interrupted: %v", err)
}

// backoffFor must be called with s.mu held
func (s *Scheduler) backoffFor(feed string) *backoff.ExponentialBackOff {
	if s.config.FailureBackoff.Initial <= 0 {
		return nil
	}

	b, ok := s.backoffs[feed]
	if !ok {
		b = backoff.NewExponentialBackOff()
		b.InitialInterval = s.config.FailureBackoff.Initial
		b.MaxInterval = s.config.FailureBackoff.Max
		if b.MaxInterval < b.InitialInterval {
			b.MaxInterval = b.InitialInterval
		}
		b.Multiplier = 2
		b.MaxElapsedTime = 0 // Never stop retrying
		b.Clock = s.clock
		b.Reset()
		s.backoffs[feed] = b
	}
	return b
}
