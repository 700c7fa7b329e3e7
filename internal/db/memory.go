package db

import (
	"context"
	"sync"
)

type memTxKey struct{}

type memUnit struct {
	undo        []func()
	afterCommit []func()
}

func memUnitFrom(ctx context.Context) *memUnit {
	unit, _ := ctx.Value(memTxKey{}).(*memUnit)
	return unit
}

// MemoryTransactor serializes units of work behind one mutex and replays the
// registered undo steps in reverse order when fn fails. It backs the in-memory
// repositories used in tests and local runs.
type MemoryTransactor struct {
	mu sync.Mutex
}

func NewMemoryTransactor() *MemoryTransactor {
	return &MemoryTransactor{}
}

func (m *MemoryTransactor) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if memUnitFrom(ctx) != nil {
		return fn(ctx)
	}

	unit := &memUnit{}
	if err := m.run(ctx, unit, fn); err != nil {
		return err
	}

	for _, hook := range unit.afterCommit {
		hook()
	}
	return nil
}

// run holds the lock for fn only. A failing or panicking fn has its writes
// undone before the lock is released; the panic is then re-raised.
func (m *MemoryTransactor) run(ctx context.Context, unit *memUnit, fn func(ctx context.Context) error) (err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	committed := false
	defer func() {
		if !committed {
			for i := len(unit.undo) - 1; i >= 0; i-- {
				unit.undo[i]()
			}
		}
	}()

	if err := fn(context.WithValue(ctx, memTxKey{}, unit)); err != nil {
		return err
	}
	committed = true
	return nil
}

// OnRollback registers undo for the in-memory unit bound to ctx. In-memory
// repositories call it after every mutation.
func OnRollback(ctx context.Context, undo func()) {
	if unit := memUnitFrom(ctx); unit != nil {
		unit.undo = append(unit.undo, undo)
	}
}
