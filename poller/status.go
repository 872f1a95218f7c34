package poller

import (
	"sort"
	"time"
)

// State of a feed's pipeline
type State string

const (
	StateIdle       State = "idle"
	StateFetching   State = "fetching"
	StateIngesting  State = "ingesting"
	StateEvaluating State = "evaluating"
	StateFailed     State = "failed"
)

var transitions = map[State][]State{
	StateIdle:       {StateFetching, StateFailed},
	StateFetching:   {StateIngesting, StateFailed},
	StateIngesting:  {StateEvaluating, StateFailed},
	StateEvaluating: {StateIdle, StateFailed},
	StateFailed:     {StateIdle},
}

func (s State) CanTransition(to State) bool {
	for _, next := range transitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// FeedStatus is the operator view of a feed's pipeline
type FeedStatus struct {
	Feed        string     `json:"feed"`
	State       State      `json:"state"`
	LastError   string     `json:"lastError,omitempty"`
	LastCycle   time.Time  `json:"lastCycle"`
	NextAttempt *time.Time `json:"nextAttempt,omitempty"`
	Cycles      int64      `json:"cycles"`
	Failures    int64      `json:"failures"`
	NewItems    int64      `json:"newItems"`
	Crossings   int64      `json:"crossings"`
	Expired     int64      `json:"expired"`
}

// Status returns a snapshot of every feed seen so far, ordered by name
func (s *Scheduler) Status() []FeedStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	statuses := make([]FeedStatus, 0, len(s.statuses))
	for _, status := range s.statuses {
		statuses = append(statuses, *status)
	}
	sort.Slice(statuses, func(i, j int) bool {
		return statuses[i].Feed < statuses[j].Feed
	})
	return statuses
}

// status must be called with s.mu held
func (s *Scheduler) status(feed string) *FeedStatus {
	status, ok := s.statuses[feed]
	if !ok {
		status = &FeedStatus{Feed: feed, State: StateIdle}
		s.statuses[feed] = status
	}
	return status
}
