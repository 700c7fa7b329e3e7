package subscription

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/vet-telehealth/internal/db"
)

// MemoryRepository mirrors PgRepository's guards over a map. Writes inside a
// db.MemoryTransactor unit are undone on rollback.
type MemoryRepository struct {
	mu   sync.Mutex
	subs map[uuid.UUID]Subscription
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{subs: make(map[uuid.UUID]Subscription)}
}

// put stores s and registers undo to the previous state. Callers hold mu.
func (m *MemoryRepository) put(ctx context.Context, s Subscription) {
	prev, existed := m.subs[s.ID]
	m.subs[s.ID] = s

	db.OnRollback(ctx, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if existed {
			m.subs[prev.ID] = prev
		} else {
			delete(m.subs, s.ID)
		}
	})
}

func (m *MemoryRepository) Insert(ctx context.Context, s Subscription) (*Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s.Active {
		for _, cur := range m.subs {
			if cur.Active && cur.PetParentID == s.PetParentID && cur.CalendarYear == s.CalendarYear {
				return nil, ErrDuplicateActiveSubscription
			}
		}
	}
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	if s.AppointmentIDs == nil {
		s.AppointmentIDs = []uuid.UUID{}
	}
	if s.Metadata == nil {
		s.Metadata = map[string]any{}
	}
	now := time.Now().UTC()
	s.CreatedAt, s.UpdatedAt = now, now

	s = s.clone()
	m.put(ctx, s)
	out := s.clone()
	return &out, nil
}

func (m *MemoryRepository) Get(_ context.Context, id uuid.UUID) (*Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.subs[id]
	if !ok {
		return nil, ErrSubscriptionNotFound
	}
	out := s.clone()
	return &out, nil
}

func (m *MemoryRepository) GetActive(_ context.Context, petParentID uuid.UUID) (*Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var best *Subscription
	for _, s := range m.subs {
		if !s.Active || s.PetParentID != petParentID {
			continue
		}
		if best == nil || s.CalendarYear > best.CalendarYear {
			c := s.clone()
			best = &c
		}
	}
	if best == nil {
		return nil, ErrSubscriptionNotFound
	}
	return best, nil
}

func (m *MemoryRepository) GetActiveForYear(_ context.Context, petParentID uuid.UUID, year int) (*Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, s := range m.subs {
		if s.Active && s.PetParentID == petParentID && s.CalendarYear == year {
			out := s.clone()
			return &out, nil
		}
	}
	return nil, ErrSubscriptionNotFound
}

func (m *MemoryRepository) ListForParent(_ context.Context, petParentID uuid.UUID) ([]Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Subscription
	for _, s := range m.subs {
		if s.PetParentID == petParentID {
			out = append(out, s.clone())
		}
	}
	sortByCreated(out)
	return out, nil
}

func sortByCreated(subs []Subscription) {
	sort.SliceStable(subs, func(i, j int) bool {
		if subs[i].CreatedAt.Equal(subs[j].CreatedAt) {
			return subs[i].ResubscriptionCount < subs[j].ResubscriptionCount
		}
		return subs[i].CreatedAt.Before(subs[j].CreatedAt)
	})
}

func (m *MemoryRepository) Consume(ctx context.Context, id, appointmentID uuid.UUID) (*Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.subs[id]
	switch {
	case !ok:
		return nil, ErrSubscriptionNotFound
	case !s.Active:
		return nil, ErrSubscriptionInactive
	case s.Consumed(appointmentID):
		return nil, ErrAlreadyConsumed
	case s.RemainingAppointments <= 0:
		return nil, ErrQuotaExhausted
	}

	s = s.clone()
	s.RemainingAppointments--
	s.AppointmentIDs = append(s.AppointmentIDs, appointmentID)
	s.UpdatedAt = time.Now().UTC()
	m.put(ctx, s)

	out := s.clone()
	return &out, nil
}

func (m *MemoryRepository) Restore(ctx context.Context, id, appointmentID uuid.UUID) (*Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.subs[id]
	switch {
	case !ok:
		return nil, ErrSubscriptionNotFound
	case !s.Active:
		return nil, ErrSubscriptionInactive
	case s.RemainingAppointments >= s.MaxAppointments:
		return nil, ErrAtMaximum
	case !s.Consumed(appointmentID):
		return nil, ErrNotConsumed
	}

	s = s.clone()
	s.RemainingAppointments++
	s.AppointmentIDs = slices.DeleteFunc(s.AppointmentIDs, func(id uuid.UUID) bool { return id == appointmentID })
	s.UpdatedAt = time.Now().UTC()
	m.put(ctx, s)

	out := s.clone()
	return &out, nil
}

func (m *MemoryRepository) Deactivate(ctx context.Context, id uuid.UUID, reason string) (*Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.subs[id]
	if !ok {
		return nil, ErrSubscriptionNotFound
	}
	if !s.Active {
		return nil, ErrSubscriptionInactive
	}

	s = s.clone()
	now := time.Now().UTC()
	s.Active = false
	s.Metadata["deactivated_reason"] = reason
	s.Metadata["deactivated_at"] = now.Format(time.RFC3339)
	s.UpdatedAt = now
	m.put(ctx, s)

	out := s.clone()
	return &out, nil
}

func (m *MemoryRepository) CountResubscriptions(_ context.Context, petParentID uuid.UUID, year int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for _, s := range m.subs {
		if s.PetParentID == petParentID && s.CalendarYear == year && s.IsResubscription {
			n++
		}
	}
	return n, nil
}

func (m *MemoryRepository) ListExpiredActive(_ context.Context, now time.Time, limit int) ([]Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Subscription
	for _, s := range m.subs {
		if s.Active && s.EndDate.Before(now) {
			out = append(out, s.clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EndDate.Before(out[j].EndDate) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// LockParentYear is a no-op: MemoryTransactor already serializes units.
func (m *MemoryRepository) LockParentYear(context.Context, uuid.UUID, int) error {
	return nil
}
