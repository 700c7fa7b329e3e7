package appointment

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/vet-telehealth/internal/db"
	"github.com/hackgods/vet-telehealth/internal/page"
	"github.com/hackgods/vet-telehealth/internal/slot"
)

// MemoryRepository is the in-memory Repository used by tests and local runs.
type MemoryRepository struct {
	mu           sync.Mutex
	vets         map[uuid.UUID]Vet
	parents      map[uuid.UUID]PetParent
	pets         map[uuid.UUID]Pet
	appointments map[uuid.UUID]Appointment
	events       []EventLog
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		vets:         make(map[uuid.UUID]Vet),
		parents:      make(map[uuid.UUID]PetParent),
		pets:         make(map[uuid.UUID]Pet),
		appointments: make(map[uuid.UUID]Appointment),
	}
}

func (m *MemoryRepository) GetVet(_ context.Context, id uuid.UUID) (*Vet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.vets[id]
	if !ok {
		return nil, ErrVetNotFound
	}
	return &v, nil
}

func (m *MemoryRepository) GetVetByUserID(_ context.Context, userID uuid.UUID) (*Vet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, v := range m.vets {
		if v.UserID == userID {
			return &v, nil
		}
	}
	return nil, ErrVetNotFound
}

func (m *MemoryRepository) GetPetParent(_ context.Context, id uuid.UUID) (*PetParent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.parents[id]
	if !ok {
		return nil, ErrPetParentNotFound
	}
	return &p, nil
}

func (m *MemoryRepository) GetPetParentByUserID(_ context.Context, userID uuid.UUID) (*PetParent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.parents {
		if p.UserID == userID {
			return &p, nil
		}
	}
	return nil, ErrPetParentNotFound
}

func (m *MemoryRepository) GetPet(_ context.Context, id uuid.UUID) (*Pet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.pets[id]
	if !ok {
		return nil, ErrPetNotFound
	}
	return &p, nil
}

func (m *MemoryRepository) CreateVet(_ context.Context, v Vet) (*Vet, error) {
	if v.ID == uuid.Nil {
		v.ID = uuid.New()
	}
	v.CreatedAt, v.UpdatedAt = time.Now().UTC(), time.Now().UTC()
	m.mu.Lock()
	m.vets[v.ID] = v
	m.mu.Unlock()
	return &v, nil
}

func (m *MemoryRepository) CreatePetParent(_ context.Context, p PetParent) (*PetParent, error) {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	p.CreatedAt, p.UpdatedAt = time.Now().UTC(), time.Now().UTC()
	m.mu.Lock()
	m.parents[p.ID] = p
	m.mu.Unlock()
	return &p, nil
}

func (m *MemoryRepository) CreatePet(_ context.Context, p Pet) (*Pet, error) {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	p.CreatedAt, p.UpdatedAt = time.Now().UTC(), time.Now().UTC()
	m.mu.Lock()
	m.pets[p.ID] = p
	m.mu.Unlock()
	return &p, nil
}

func cloneAppointment(a Appointment) Appointment {
	a.Concerns = slices.Clone(a.Concerns)
	if a.SubscriptionID != nil {
		id := *a.SubscriptionID
		a.SubscriptionID = &id
	}
	return a
}

// put stores a and registers undo to the previous state. Callers hold mu.
func (m *MemoryRepository) put(ctx context.Context, a Appointment) {
	prev, existed := m.appointments[a.ID]
	m.appointments[a.ID] = a

	db.OnRollback(ctx, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if existed {
			m.appointments[a.ID] = prev
		} else {
			delete(m.appointments, a.ID)
		}
	})
}

func (m *MemoryRepository) Insert(ctx context.Context, a Appointment) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, cur := range m.appointments {
		if cur.SlotID == a.SlotID && cur.Status.Active() && !cur.Deleted {
			return nil, slot.ErrSlotNotAvailable
		}
	}
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	now := time.Now().UTC()
	a.CreatedAt, a.UpdatedAt = now, now

	a = cloneAppointment(a)
	m.put(ctx, a)
	out := cloneAppointment(a)
	return &out, nil
}

func (m *MemoryRepository) Get(_ context.Context, id uuid.UUID) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.appointments[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	out := cloneAppointment(a)
	return &out, nil
}

func (m *MemoryRepository) UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status, reason string) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.appointments[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	if a.Status != from || a.Deleted {
		return nil, ErrStatusConflict
	}

	a = cloneAppointment(a)
	a.Status = to
	if reason != "" {
		a.CancelReason = reason
	}
	a.UpdatedAt = time.Now().UTC()
	m.put(ctx, a)

	out := cloneAppointment(a)
	return &out, nil
}

func (m *MemoryRepository) SoftDelete(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.appointments[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	if a.Status.Active() {
		return nil, ErrStatusConflict
	}

	a = cloneAppointment(a)
	a.Deleted = true
	a.UpdatedAt = time.Now().UTC()
	m.put(ctx, a)

	out := cloneAppointment(a)
	return &out, nil
}

func (m *MemoryRepository) List(_ context.Context, f Filter, p page.Request) (page.Result[Appointment], error) {
	m.mu.Lock()
	var all []Appointment
	for _, a := range m.appointments {
		if f.matches(a) {
			all = append(all, cloneAppointment(a))
		}
	}
	m.mu.Unlock()

	sort.Slice(all, func(i, j int) bool {
		if all[i].ScheduledAt.Equal(all[j].ScheduledAt) {
			return all[i].ID.String() < all[j].ID.String()
		}
		if f.Ascending {
			return all[i].ScheduledAt.Before(all[j].ScheduledAt)
		}
		return all[i].ScheduledAt.After(all[j].ScheduledAt)
	})

	start, end := p.Window(len(all))
	return page.NewResult(all[start:end], len(all), p), nil
}

func (m *MemoryRepository) InsertEvent(ctx context.Context, ev EventLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	ev.ID = int64(len(m.events) + 1)
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}
	m.events = append(m.events, ev)
	n := len(m.events)

	db.OnRollback(ctx, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if len(m.events) >= n {
			m.events = slices.Delete(m.events, n-1, n)
		}
	})
	return nil
}

// Events returns the event log, oldest first.
func (m *MemoryRepository) Events() []EventLog {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.events)
}
