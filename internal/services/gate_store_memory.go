package services

import (
	"context"
	"fmt"
	"sync"

	"gate-admission/internal/status"
	"gate-admission/models"
)

// MemoryQueueStore keeps entries in process memory. It backs tests and
// single-node deployments that can lose queue state on restart.
type MemoryQueueStore struct {
	mu           sync.RWMutex
	entries      map[string]*models.GateQueueEntry
	byToken      map[string]string
	activeByUser map[string]string
}

func NewMemoryQueueStore() *MemoryQueueStore {
	return &MemoryQueueStore{
		entries:      make(map[string]*models.GateQueueEntry),
		byToken:      make(map[string]string),
		activeByUser: make(map[string]string),
	}
}

func userEventKey(userID, eventID string) string {
	return eventID + "\x00" + userID
}

func (s *MemoryQueueStore) Insert(_ context.Context, entry *models.GateQueueEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[entry.ID]; ok {
		return fmt.Errorf("insert entry %s: %w", entry.ID, status.ErrConflict)
	}
	if entry.Status.IsActive() {
		if _, ok := s.activeByUser[userEventKey(entry.UserID, entry.EventID)]; ok {
			return status.ErrDuplicateActiveEntry
		}
	}
	if _, ok := s.byToken[entry.Token]; ok {
		return status.ErrDuplicateToken
	}

	s.entries[entry.ID] = cloneEntry(entry)
	s.byToken[entry.Token] = entry.ID
	if entry.Status.IsActive() {
		s.activeByUser[userEventKey(entry.UserID, entry.EventID)] = entry.ID
	}
	return nil
}

func (s *MemoryQueueStore) Get(_ context.Context, id string) (*models.GateQueueEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.entries[id]
	if !ok {
		return nil, status.ErrNotFound
	}
	return cloneEntry(entry), nil
}

func (s *MemoryQueueStore) GetByToken(_ context.Context, token string) (*models.GateQueueEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byToken[token]
	if !ok {
		return nil, status.ErrNotFound
	}
	return cloneEntry(s.entries[id]), nil
}

func (s *MemoryQueueStore) GetActiveForUser(_ context.Context, userID, eventID string) (*models.GateQueueEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.activeByUser[userEventKey(userID, eventID)]
	if !ok {
		return nil, nil
	}
	return cloneEntry(s.entries[id]), nil
}

func (s *MemoryQueueStore) ListByStatus(_ context.Context, eventID, gateID string, st models.GateEntryStatus) ([]*models.GateQueueEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.GateQueueEntry
	for _, entry := range s.entries {
		if entry.EventID == eventID && entry.GateID == gateID && entry.Status == st {
			out = append(out, cloneEntry(entry))
		}
	}
	return out, nil
}

func (s *MemoryQueueStore) ListActive(_ context.Context) ([]*models.GateQueueEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*models.GateQueueEntry, 0, len(s.activeByUser))
	for _, id := range s.activeByUser {
		out = append(out, cloneEntry(s.entries[id]))
	}
	return out, nil
}

func (s *MemoryQueueStore) Patch(_ context.Context, id string, patch EntryPatch) (*models.GateQueueEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[id]
	if !ok {
		return nil, status.ErrNotFound
	}
	if err := patch.check(entry); err != nil {
		return nil, err
	}

	wasActive := entry.Status.IsActive()
	patch.apply(entry)
	if wasActive && !entry.Status.IsActive() {
		delete(s.activeByUser, userEventKey(entry.UserID, entry.EventID))
	}
	return cloneEntry(entry), nil
}
