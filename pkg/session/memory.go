package session

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps sessions in-process. Updates are serialised per user, so
// different users never contend. Idle sessions are not stored: Idle is the
// default, and dropping them keeps memory bounded by active users.
type MemoryStore struct {
	locks    *KeyedMutex
	mu       sync.RWMutex
	sessions map[int64]Session
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{locks: NewKeyedMutex(), sessions: make(map[int64]Session)}
}

func (m *MemoryStore) load(userID int64) Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if s, ok := m.sessions[userID]; ok {
		return cloneSession(s)
	}
	return New(userID)
}

func (m *MemoryStore) Get(_ context.Context, userID int64) (Session, error) {
	return m.load(userID), nil
}

func (m *MemoryStore) Update(_ context.Context, userID int64, fn func(*Session) error) (Session, error) {
	unlock := m.locks.Lock(userID)
	defer unlock()
	current := m.load(userID)
	next := cloneSession(current)
	if err := fn(&next); err != nil {
		return current, err
	}
	next.UserID = userID
	next.UpdatedAt = time.Now().UTC()

	m.mu.Lock()
	if next.Mode == ModeIdle {
		delete(m.sessions, userID)
	} else {
		m.sessions[userID] = cloneSession(next)
	}
	m.mu.Unlock()
	return next, nil
}

func (m *MemoryStore) Reset(ctx context.Context, userID int64) error {
	_, err := m.Update(ctx, userID, func(s *Session) error {
		s.Reset()
		return nil
	})
	return err
}

func cloneSession(s Session) Session {
	out := s
	out.ActiveParts = append([]int64(nil), s.ActiveParts...)
	if s.PendingPart != nil {
		idx := *s.PendingPart
		out.PendingPart = &idx
	}
	return out
}

// MemoryStaging is the in-process staging slot.
type MemoryStaging struct {
	mu    sync.Mutex
	slots map[int64]string
}

func NewMemoryStaging() *MemoryStaging {
	return &MemoryStaging{slots: make(map[int64]string)}
}

func (m *MemoryStaging) Stage(_ context.Context, operatorID int64, mediaRef string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.slots[operatorID] = mediaRef
	return nil
}

func (m *MemoryStaging) Peek(_ context.Context, operatorID int64) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ref, ok := m.slots[operatorID]
	return ref, ok, nil
}

func (m *MemoryStaging) Consume(_ context.Context, operatorID int64, expectedRef string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ref, ok := m.slots[operatorID]; !ok || ref != expectedRef {
		return false, nil
	}
	delete(m.slots, operatorID)
	return true, nil
}
