package store

import (
	"context"
	"sync"
)

// MemoryStore keeps the snapshot in process memory. Saves can be forced to
// fail with FailSaves to exercise persistence error paths.
type MemoryStore struct {
	mu      sync.Mutex
	snap    Snapshot
	saves   int
	failErr error
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) Load(ctx context.Context) (Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return cloneSnapshot(m.snap), nil
}

func (m *MemoryStore) Save(ctx context.Context, snap Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failErr != nil {
		return m.failErr
	}
	m.snap = cloneSnapshot(snap)
	m.saves++
	return nil
}

func (m *MemoryStore) Close() error {
	return nil
}

// FailSaves makes every subsequent Save return err. Pass nil to recover.
func (m *MemoryStore) FailSaves(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failErr = err
}

// Saves returns the number of successful saves.
func (m *MemoryStore) Saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}

func cloneSnapshot(src Snapshot) Snapshot {
	if src.Games == nil {
		return Snapshot{}
	}
	games := make([]GameRecord, len(src.Games))
	for i, g := range src.Games {
		members := make([]Member, len(g.Members))
		copy(members, g.Members)
		games[i] = GameRecord{Name: g.Name, Members: members}
	}
	return Snapshot{Games: games}
}
