package notification

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
	records []Record
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{}
}

func (m *MemoryRepository) Insert(ctx context.Context, rec Record) (*Record, error) {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	rec.CreatedAt = time.Now().UTC()

	m.mu.Lock()
	m.records = append(m.records, rec)
	m.mu.Unlock()

	db.OnRollback(ctx, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		for i := range m.records {
			if m.records[i].ID == rec.ID {
				m.records = append(m.records[:i], m.records[i+1:]...)
				return
			}
		}
	})
	return &rec, nil
}

func (m *MemoryRepository) ListForUser(_ context.Context, userID uuid.UUID, p page.Request) (page.Result[Record], error) {
	m.mu.Lock()
	var all []Record
	for i := len(m.records) - 1; i >= 0; i-- {
		if m.records[i].UserID == userID {
			all = append(all, m.records[i])
		}
	}
	m.mu.Unlock()

	sort.SliceStable(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })
	start, end := p.Window(len(all))
	return page.NewResult(all[start:end], len(all), p), nil
}

// All returns every record, oldest first.
func (m *MemoryRepository) All() []Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Record, len(m.records))
	copy(out, m.records)
	return out
}
