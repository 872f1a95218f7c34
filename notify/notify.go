// Package notify holds the downstream sinks crossing events are delivered to.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"rexml/models"
	"rexml/poller"
)

// LogSink logs every crossing
type LogSink struct{}

func (LogSink) EmitCrossing(_ context.Context, event models.CrossingEvent) error {
	log.WithFields(log.Fields{
		"feed":       event.Feed,
		"sourceId":   event.Item.SourceId,
		"title":      event.Item.Title,
		"popularity": event.Item.Popularity,
		"threshold":  event.Threshold,
		"lagSeconds": event.CrossedAt.Sub(event.Item.CreatedAt).Seconds(),
	}).Info("Crossing")
	return nil
}

// JSONSink writes each crossing as a JSON object on a single line
type JSONSink struct {
	mu sync.Mutex
	w  io.Writer
}

func NewJSONSink(w io.Writer) *JSONSink {
	return &JSONSink{w: w}
}

func (s *JSONSink) EmitCrossing(_ context.Context, event models.CrossingEvent) error {
	line, err := json.Marshal(event)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.w.Write(append(line, '\n'))
	return err
}

// Multi delivers to every sink. A failing sink does not stop the others.
type Multi []poller.Sink

func (m Multi) EmitCrossing(ctx context.Context, event models.CrossingEvent) error {
	var errs []error
	for _, sink := range m {
		if err := sink.EmitCrossing(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Recorder keeps the events in memory, used by the poll command summary
type Recorder struct {
	mu     sync.Mutex
	events []models.CrossingEvent
}

func (r *Recorder) EmitCrossing(_ context.Context, event models.CrossingEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *Recorder) Events() []models.CrossingEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.CrossingEvent(nil), r.events...)
}

// Since returns the events that crossed at or after t
func (r *Recorder) Since(t time.Time) []models.CrossingEvent {
	r.mu.Lock()
	defer r.mu.Unlock()

	var events []models.CrossingEvent
	for _, event := range r.events {
		if !event.CrossedAt.Before(t) {
			events = append(events, event)
		}
	}
	return events
}

var (
	_ poller.Sink = LogSink{}
	_ poller.Sink = (*JSONSink)(nil)
	_ poller.Sink = Multi(nil)
	_ poller.Sink = (*Recorder)(nil)
)
