// Package audit is the append-only Security event log (spec §3, §4.6) and
// its aggregate queries for the /api/security-stats route.
package audit

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/lanregistry/registryproxy/internal/store"
)

// Kind classifies a Security event.
type Kind string

const (
	KindSuccess        Kind = "success"
	KindThreatDetected Kind = "threat_detected"
	KindFailure        Kind = "failure"
)

// Event is the Security event record from spec §3.
type Event struct {
	PackageName     string    `json:"packageName"`
	Version         string    `json:"version"`
	Kind            Kind      `json:"kind"`
	ObservedDigest  string    `json:"observedDigest,omitempty"`
	ExpectedDigest  string    `json:"expectedDigest,omitempty"`
	At              time.Time `json:"at"`
	Details         string    `json:"details,omitempty"`
}

// Store is the Audit Store: it exclusively owns Security events (spec §3
// "Ownership and lifecycle"). A single mutex serializes writes so that, for
// a given package, events are totally ordered by wall clock as spec §5
// requires — bolt's NextSequence then gives that same order a stable,
// monotonically increasing key.
type Store struct {
	mu sync.Mutex
	db *store.Store
}

// New wraps a persistence Store as an Audit Store.
func New(db *store.Store) *Store {
	return &Store{db: db}
}

// Record appends one Security event. Every completed verification attempt
// must call this exactly once (spec §3 invariant).
func (s *Store) Record(ev Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	seq, err := s.db.NextSequence(store.BucketSecurityEvents)
	if err != nil {
		return fmt.Errorf("audit: allocating sequence: %w", err)
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("audit: encoding event: %w", err)
	}
	if err := s.db.Put(store.BucketSecurityEvents, store.SequenceKey(seq), data); err != nil {
		return fmt.Errorf("audit: persisting event: %w", err)
	}
	return nil
}

// Stats is the aggregate summary for GET /api/security-stats.
type Stats struct {
	Total           int     `json:"total"`
	Successful      int     `json:"successful"`
	ThreatsDetected int     `json:"threatsDetected"`
	Failures        int     `json:"failures"`
	SuccessRate     string  `json:"successRate"`
	Recent          []Event `json:"recent"`
}

// Stats computes the aggregate counts and the 10 most recent events.
func (s *Store) Stats() (Stats, error) {
	var events []Event
	err := s.db.ForEach(store.BucketSecurityEvents, func(key string, value []byte) bool {
		var ev Event
		if json.Unmarshal(value, &ev) == nil {
			events = append(events, ev)
		}
		return true
	})
	if err != nil {
		return Stats{}, fmt.Errorf("audit: reading events: %w", err)
	}

	st := Stats{Total: len(events)}
	for _, ev := range events {
		switch ev.Kind {
		case KindSuccess:
			st.Successful++
		case KindThreatDetected:
			st.ThreatsDetected++
		case KindFailure:
			st.Failures++
		}
	}
	if st.Total > 0 {
		rate := float64(st.Successful) / float64(st.Total) * 100
		st.SuccessRate = fmt.Sprintf("%.2f", rate)
	} else {
		st.SuccessRate = "0.00"
	}

	// Keys are big-endian sequence numbers, so ForEach already yields
	// insertion (wall-clock) order; reverse for "most recent first".
	sort.SliceStable(events, func(i, j int) bool { return events[i].At.After(events[j].At) })
	if len(events) > 10 {
		events = events[:10]
	}
	st.Recent = events

	return st, nil
}
