package review

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/vet-telehealth/internal/db"
	"github.com/hackgods/vet-telehealth/internal/page"
)

type MemoryRepository struct {
	mu      sync.Mutex
	reviews map[uuid.UUID]Review // by appointment
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{reviews: make(map[uuid.UUID]Review)}
}

func (m *MemoryRepository) Insert(ctx context.Context, r Review) (*Review, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.reviews[r.AppointmentID]; ok {
		return nil, ErrDuplicateReview
	}
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	r.CreatedAt = time.Now().UTC()
	m.reviews[r.AppointmentID] = r

	db.OnRollback(ctx, func() {
		m.mu.Lock()
		delete(m.reviews, r.AppointmentID)
		m.mu.Unlock()
	})
	return &r, nil
}

func (m *MemoryRepository) List(_ context.Context, f Filter, p page.Request) (page.Result[Review], error) {
	m.mu.Lock()
	var all []Review
	for _, r := range m.reviews {
		if f.matches(r) {
			all = append(all, r)
		}
	}
	m.mu.Unlock()

	sort.Slice(all, func(i, j int) bool {
		if all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].ID.String() < all[j].ID.String()
		}
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})
	start, end := p.Window(len(all))
	return page.NewResult(all[start:end], len(all), p), nil
}

func (m *MemoryRepository) Summary(_ context.Context, providerID uuid.UUID) (*Summary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := Summary{ProviderID: providerID}
	sum := 0
	for _, r := range m.reviews {
		if r.ProviderID == providerID {
			s.Count++
			sum += r.Rating
		}
	}
	if s.Count > 0 {
		s.Average = float64(sum) / float64(s.Count)
	}
	return &s, nil
}
