package service

import (
	"sync"

	"github.com/kpessa/delphi-webapp/internal/models"
)

// Snapshot is the state pushed to notification subscribers
type Snapshot struct {
	Notifications []models.Notification `json:"notifications"`
	UnreadCount   int                   `json:"unreadCount"`
}

// snapshotHub fans snapshots out to per-user subscribers. Each subscriber
// holds at most one pending snapshot; a newer one replaces it.
type snapshotHub struct {
	mu   sync.Mutex
	subs map[string]map[*snapshotSubscriber]struct{}
}

type snapshotSubscriber struct {
	ch     chan Snapshot
	closed bool
}

func newSnapshotHub() *snapshotHub {
	return &snapshotHub{subs: map[string]map[*snapshotSubscriber]struct{}{}}
}

func (h *snapshotHub) add(userID string) *snapshotSubscriber {
	sub := &snapshotSubscriber{ch: make(chan Snapshot, 1)}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.subs[userID] == nil {
		h.subs[userID] = map[*snapshotSubscriber]struct{}{}
	}
	h.subs[userID][sub] = struct{}{}
	return sub
}

func (h *snapshotHub) remove(userID string, sub *snapshotSubscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if subs := h.subs[userID]; subs != nil {
		delete(subs, sub)
		if len(subs) == 0 {
			delete(h.subs, userID)
		}
	}
	if !sub.closed {
		sub.closed = true
		close(sub.ch)
	}
}

func (h *snapshotHub) has(userID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[userID]) > 0
}

// deliver hands snap to every subscriber of userID without blocking
func (h *snapshotHub) deliver(userID string, snap Snapshot) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subs[userID] {
		sub.offer(snap)
	}
}

// deliverTo hands snap to a single subscriber
func (h *snapshotHub) deliverTo(sub *snapshotSubscriber, snap Snapshot) {
	h.mu.Lock()
	defer h.mu.Unlock()
	sub.offer(snap)
}

// offer must be called with the hub lock held
func (s *snapshotSubscriber) offer(snap Snapshot) {
	if s.closed {
		return
	}
	select {
	case s.ch <- snap:
		return
	default:
	}
	// Drop the stale pending snapshot
	select {
	case <-s.ch:
	default:
	}
	select {
	case s.ch <- snap:
	default:
	}
}
