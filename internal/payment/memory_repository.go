package payment

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/vet-telehealth/internal/db"
)

type MemoryRepository struct {
	mu       sync.Mutex
	payments map[string]Payment // by external ref
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{payments: make(map[string]Payment)}
}

func (m *MemoryRepository) Insert(ctx context.Context, p Payment) (*Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.payments[p.ExternalRef]; ok {
		return nil, ErrDuplicatePayment
	}
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	p.CreatedAt = time.Now().UTC()
	m.payments[p.ExternalRef] = p

	db.OnRollback(ctx, func() {
		m.mu.Lock()
		delete(m.payments, p.ExternalRef)
		m.mu.Unlock()
	})
	return &p, nil
}

func (m *MemoryRepository) GetByExternalRef(_ context.Context, ref string) (*Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.payments[ref]
	if !ok {
		return nil, ErrPaymentNotFound
	}
	return &p, nil
}

func (m *MemoryRepository) LatestSucceeded(_ context.Context, petParentID uuid.UUID) (*Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var latest *Payment
	for _, p := range m.payments {
		if p.PetParentID != petParentID || p.Status != StatusSucceeded {
			continue
		}
		if latest == nil || p.PaidAt.After(latest.PaidAt) {
			c := p
			latest = &c
		}
	}
	if latest == nil {
		return nil, ErrPaymentNotFound
	}
	return latest, nil
}
