package api

import (
	"sync"

	"nimbus.transitwatch.org/internal/reconcile"
)

// Hub caches the latest snapshot per reconciler so handlers serve reads
// without touching the store. Runners push into it via their emit callback;
// each push replaces the previous snapshot wholesale.
type Hub struct {
	mu        sync.RWMutex
	schedules map[string]reconcile.Snapshot
	dashboard reconcile.Snapshot
	hasBoard  bool
}

func NewHub() *Hub {
	return &Hub{schedules: make(map[string]reconcile.Snapshot)}
}

// SetSchedule stores the latest schedule snapshot for its route.
func (h *Hub) SetSchedule(snap reconcile.Snapshot) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.schedules[snap.RouteID] = snap
}

// Schedule returns the latest snapshot for a route.
func (h *Hub) Schedule(routeID string) (reconcile.Snapshot, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	snap, ok := h.schedules[routeID]
	return snap, ok
}

// SetDashboard stores the latest cross-route snapshot.
func (h *Hub) SetDashboard(snap reconcile.Snapshot) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.dashboard = snap
	h.hasBoard = true
}

// Dashboard returns the latest cross-route snapshot.
func (h *Hub) Dashboard() (reconcile.Snapshot, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.dashboard, h.hasBoard
}
