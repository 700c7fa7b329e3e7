// Package dbtest connects integration tests to a disposable Postgres named by
// TEST_POSTGRES_DSN. Tests skip when it is unset.
package dbtest

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/vet-telehealth/internal/db"
)

const migrateLockID = 72_417_001

// Connect returns a pool with the schema applied. Packages run in parallel
// under go test, so migration is serialized with a session advisory lock.
func Connect(t *testing.T) *pgxpool.Pool {
	t.Helper()
	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TEST_POSTGRES_DSN not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, dsn, db.PoolOptions{MaxConns: 20, MinConns: 1})
	if err != nil {
		t.Skipf("Postgres not available: %v", err)
	}
	t.Cleanup(pool.Close)

	conn, err := pool.Acquire(ctx)
	require.NoError(t, err)
	defer conn.Release()

	_, err = conn.Exec(ctx, "SELECT pg_advisory_lock($1)", migrateLockID)
	require.NoError(t, err)
	defer conn.Exec(context.Background(), "SELECT pg_advisory_unlock($1)", migrateLockID)

	require.NoError(t, db.Migrate(ctx, pool))
	return pool
}

// InsertVet adds a vet row and returns its id and user id.
func InsertVet(t *testing.T, pool *pgxpool.Pool) (uuid.UUID, uuid.UUID) {
	t.Helper()
	id, userID := uuid.New(), uuid.New()
	_, err := pool.Exec(context.Background(),
		`INSERT INTO vets (id, user_id, name, email) VALUES ($1, $2, $3, $4)`,
		id, userID, "Dr. "+id.String()[:8], id.String()[:8]+"@clinic.test")
	require.NoError(t, err)
	return id, userID
}

// InsertPetParent adds a pet parent row and returns its id and user id.
func InsertPetParent(t *testing.T, pool *pgxpool.Pool) (uuid.UUID, uuid.UUID) {
	t.Helper()
	id, userID := uuid.New(), uuid.New()
	_, err := pool.Exec(context.Background(),
		`INSERT INTO pet_parents (id, user_id, name, email) VALUES ($1, $2, $3, $4)`,
		id, userID, "Parent "+id.String()[:8], id.String()[:8]+"@mail.test")
	require.NoError(t, err)
	return id, userID
}

func InsertPet(t *testing.T, pool *pgxpool.Pool, ownerID uuid.UUID) uuid.UUID {
	t.Helper()
	id := uuid.New()
	_, err := pool.Exec(context.Background(),
		`INSERT INTO pets (id, owner_id, name, species) VALUES ($1, $2, $3, $4)`,
		id, ownerID, "Miso", "cat")
	require.NoError(t, err)
	return id
}
