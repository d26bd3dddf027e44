// Package notify implements the one-shot notification gate: once an alert
// for a (trip, threshold) key has fired, it never fires again until the key
// is explicitly reset. Keys always embed the trip id so alerts for distinct
// trips never suppress each other.
package notify

import (
	"strings"
	"sync"
)

// Threshold names for the staged proximity alerts.
const (
	Threshold2Km     = "2km"
	Threshold1Km     = "1km"
	ThresholdArrived = "arrived"
)

// Key builds the composite gate key for a trip and threshold.
func Key(tripID, threshold string) string {
	return tripID + ":" + threshold
}

// Gate suppresses repeat alerts per key.
type Gate interface {
	// ShouldFire reports whether the key has not fired yet.
	ShouldFire(key string) bool

	// MarkFired records the key as fired.
	MarkFired(key string) error

	// ResetTrip clears all fired keys belonging to the trip, re-arming its
	// thresholds (used when a tracking session restarts).
	ResetTrip(tripID string) error

	Close() error
}

// FireOnce marks and reports in one step: true exactly once per key.
func FireOnce(g Gate, key string) (bool, error) {
	if !g.ShouldFire(key) {
		return false, nil
	}
	if err := g.MarkFired(key); err != nil {
		return false, err
	}
	return true, nil
}

// MemoryGate is the session-scoped gate.
type MemoryGate struct {
	mu    sync.Mutex
	fired map[string]struct{}
}

// NewMemoryGate returns an empty in-memory gate.
func NewMemoryGate() *MemoryGate {
	return &MemoryGate{fired: map[string]struct{}{}}
}

func (g *MemoryGate) ShouldFire(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, fired := g.fired[key]
	return !fired
}

func (g *MemoryGate) MarkFired(key string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.fired[key] = struct{}{}
	return nil
}

func (g *MemoryGate) ResetTrip(tripID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	prefix := tripID + ":"
	for key := range g.fired {
		if strings.HasPrefix(key, prefix) {
			delete(g.fired, key)
		}
	}
	return nil
}

func (g *MemoryGate) Close() error { return nil }
