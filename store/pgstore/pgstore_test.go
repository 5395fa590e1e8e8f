package pgstore_test

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/tradojo/booking/store"
	"github.com/tradojo/booking/store/pgstore"
	"github.com/tradojo/booking/store/storetest"
)

func TestContract_Postgres(t *testing.T) {
	dsn := os.Getenv("BOOKING_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("BOOKING_TEST_POSTGRES_DSN not set")
	}
	ctx := context.Background()
	pool, err := pgstore.NewPool(ctx, dsn, pgstore.PoolOptions{MaxConns: 4})
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}
	t.Cleanup(pool.Close)

	s := pgstore.New(pool)
	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("Migrate: %v", err)
	}

	storetest.RunBackend(t, func(t *testing.T) (store.Backend, storetest.CleanupFunc) {
		t.Helper()
		return s, nil
	})
}

func TestNewPool_RequiresDSN(t *testing.T) {
	if _, err := pgstore.NewPool(context.Background(), " ", pgstore.PoolOptions{}); err == nil {
		t.Fatal("expected error for empty dsn")
	}
}

func TestAsPgError(t *testing.T) {
	wrapped := errors.Join(errors.New("context"), &pgconn.PgError{Code: pgstore.UniqueViolationCode})
	pe, ok := pgstore.AsPgError(wrapped)
	if !ok || pe.Code != pgstore.UniqueViolationCode {
		t.Fatalf("expected unique violation, got %v %v", pe, ok)
	}
	if _, ok := pgstore.AsPgError(errors.New("plain")); ok {
		t.Error("plain error must not unwrap to a PgError")
	}
}
