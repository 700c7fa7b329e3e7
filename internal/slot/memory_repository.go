package slot

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/vet-telehealth/internal/db"
)

// MemoryStore is the in-memory Store used by tests and local runs. Writes made
// inside a db.MemoryTransactor unit are undone when the unit fails.
type MemoryStore struct {
	mu    sync.Mutex
	slots map[uuid.UUID]Slot
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{slots: make(map[uuid.UUID]Slot)}
}

func (m *MemoryStore) setStatus(ctx context.Context, s Slot, to Status) Slot {
	prev := s
	s.Status = to
	s.UpdatedAt = time.Now().UTC()
	m.slots[s.ID] = s

	db.OnRollback(ctx, func() {
		m.mu.Lock()
		m.slots[prev.ID] = prev
		m.mu.Unlock()
	})
	return s
}

func (m *MemoryStore) Reserve(ctx context.Context, slotID, providerID uuid.UUID) (*Slot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.slots[slotID]
	if !ok || s.ProviderID != providerID {
		return nil, ErrSlotNotFound
	}
	if s.Status != StatusAvailable {
		return nil, ErrSlotNotAvailable
	}
	s = m.setStatus(ctx, s, StatusBooked)
	return &s, nil
}

func (m *MemoryStore) Release(ctx context.Context, slotID uuid.UUID) (*Slot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.slots[slotID]
	if !ok {
		return nil, ErrSlotNotFound
	}
	if s.Status != StatusBooked {
		return nil, ErrSlotNotBooked
	}
	s = m.setStatus(ctx, s, StatusAvailable)
	return &s, nil
}

func (m *MemoryStore) Get(_ context.Context, id uuid.UUID) (*Slot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.slots[id]
	if !ok {
		return nil, ErrSlotNotFound
	}
	return &s, nil
}

func (m *MemoryStore) Create(ctx context.Context, s Slot) (*Slot, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	if s.Status == "" {
		s.Status = StatusAvailable
	}
	now := time.Now().UTC()
	s.CreatedAt, s.UpdatedAt = now, now

	m.mu.Lock()
	m.slots[s.ID] = s
	m.mu.Unlock()

	db.OnRollback(ctx, func() {
		m.mu.Lock()
		delete(m.slots, s.ID)
		m.mu.Unlock()
	})
	return &s, nil
}

func (m *MemoryStore) Stats(_ context.Context, providerID uuid.UUID, from, to string) (*Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := &Stats{ProviderID: providerID, From: from, To: to}
	for _, s := range m.slots {
		if s.ProviderID != providerID {
			continue
		}
		if (from != "" && s.Date < from) || (to != "" && s.Date > to) {
			continue
		}
		st.add(s.Status, 1)
	}
	return st, nil
}
