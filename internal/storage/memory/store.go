// Package memory keeps links, snapshots, and archived pages in process memory
// for development and tests.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/webmonitor/internal/monitor"
)

// Store implements monitor.Store. A single mutex guards all state, so the
// capacity check, the append-with-evict, and the cascade delete are atomic.
type Store struct {
	mu        sync.RWMutex
	links     map[string]monitor.Link
	order     []string
	urls      map[string]string
	snapshots map[string][]monitor.Snapshot // newest first
}

// NewStore constructs an empty Store.
func NewStore() *Store {
	return &Store{
		links:     make(map[string]monitor.Link),
		urls:      make(map[string]string),
		snapshots: make(map[string][]monitor.Snapshot),
	}
}

// CreateLink stores link unless maxLinks links already exist or the URL is taken.
func (s *Store) CreateLink(_ context.Context, link monitor.Link, maxLinks int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.links) >= maxLinks {
		return fmt.Errorf("create link: %w", monitor.ErrCapacityExceeded)
	}
	if _, exists := s.urls[link.URL]; exists {
		return fmt.Errorf("create link %s: %w", link.URL, monitor.ErrDuplicate)
	}
	if _, exists := s.links[link.ID]; exists {
		return fmt.Errorf("create link: id %s already exists", link.ID)
	}
	stored := cloneLink(link)
	stored.LastStatus, stored.LastSummary, stored.LastChecked = nil, nil, nil
	s.links[link.ID] = stored
	s.urls[link.URL] = link.ID
	s.order = append(s.order, link.ID)
	return nil
}

// UpdateLink applies patch to the stored link.
func (s *Store) UpdateLink(_ context.Context, id string, patch monitor.LinkPatch) (monitor.Link, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	link, ok := s.links[id]
	if !ok {
		return monitor.Link{}, fmt.Errorf("update link %s: %w", id, monitor.ErrNotFound)
	}
	link = link.Apply(patch)
	s.links[id] = link
	return cloneLink(link), nil
}

// DeleteLink removes the link and every snapshot it owns.
func (s *Store) DeleteLink(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	link, ok := s.links[id]
	if !ok {
		return fmt.Errorf("delete link %s: %w", id, monitor.ErrNotFound)
	}
	delete(s.links, id)
	delete(s.urls, link.URL)
	delete(s.snapshots, id)
	for i, existing := range s.order {
		if existing == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}

// GetLink fetches a link by ID.
func (s *Store) GetLink(_ context.Context, id string) (monitor.Link, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	link, ok := s.links[id]
	if !ok {
		return monitor.Link{}, fmt.Errorf("get link %s: %w", id, monitor.ErrNotFound)
	}
	return cloneLink(link), nil
}

// ListLinks returns every link in insertion order.
func (s *Store) ListLinks(_ context.Context) ([]monitor.Link, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]monitor.Link, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, cloneLink(s.links[id]))
	}
	return out, nil
}

// AppendSnapshot inserts snap as the newest entry, evicts beyond limit, and
// refreshes the link's last-check fields.
func (s *Store) AppendSnapshot(_ context.Context, snap monitor.Snapshot, limit int) error {
	if limit <= 0 {
		limit = monitor.DefaultHistoryLimit
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	link, ok := s.links[snap.LinkID]
	if !ok {
		return fmt.Errorf("append snapshot for %s: %w", snap.LinkID, monitor.ErrNotFound)
	}
	history := append([]monitor.Snapshot{cloneSnapshot(snap)}, s.snapshots[snap.LinkID]...)
	if len(history) > limit {
		history = history[:limit]
	}
	s.snapshots[snap.LinkID] = history

	status := snap.Status
	checked := snap.CheckedAt
	link.LastStatus = &status
	link.LastSummary = cloneString(snap.Summary)
	link.LastChecked = &checked
	s.links[snap.LinkID] = link
	return nil
}

// LatestSnapshot returns the newest snapshot for linkID.
func (s *Store) LatestSnapshot(_ context.Context, linkID string) (monitor.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	history := s.snapshots[linkID]
	if len(history) == 0 {
		return monitor.Snapshot{}, fmt.Errorf("latest snapshot for %s: %w", linkID, monitor.ErrNotFound)
	}
	return cloneSnapshot(history[0]), nil
}

// History returns up to limit snapshots, newest first.
func (s *Store) History(_ context.Context, linkID string, limit int) ([]monitor.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.links[linkID]; !ok {
		return nil, fmt.Errorf("history for %s: %w", linkID, monitor.ErrNotFound)
	}
	history := s.snapshots[linkID]
	if limit > 0 && len(history) > limit {
		history = history[:limit]
	}
	out := make([]monitor.Snapshot, 0, len(history))
	for _, snap := range history {
		out = append(out, cloneSnapshot(snap))
	}
	return out, nil
}

// DeleteSnapshots drops the history of linkID.
func (s *Store) DeleteSnapshots(_ context.Context, linkID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.snapshots, linkID)
	return nil
}

// Ping always succeeds.
func (s *Store) Ping(context.Context) error {
	return nil
}

// Close is a no-op.
func (s *Store) Close() error {
	return nil
}

func cloneLink(l monitor.Link) monitor.Link {
	out := l
	if l.Tags != nil {
		out.Tags = append([]string(nil), l.Tags...)
	}
	if l.LastStatus != nil {
		status := *l.LastStatus
		out.LastStatus = &status
	}
	if l.LastChecked != nil {
		checked := *l.LastChecked
		out.LastChecked = &checked
	}
	out.LastSummary = cloneString(l.LastSummary)
	return out
}

func cloneSnapshot(s monitor.Snapshot) monitor.Snapshot {
	out := s
	out.DiffMarkup = cloneString(s.DiffMarkup)
	out.Summary = cloneString(s.Summary)
	out.ArchiveURI = cloneString(s.ArchiveURI)
	return out
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
