// Package pgstore is a store.Backend on PostgreSQL using pgx.
package pgstore

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tradojo/booking/store"
)

// UniqueViolationCode is the SQLSTATE for unique_violation.
const UniqueViolationCode = "23505"

//go:embed schema.sql
var schemaSQL string

// PoolOptions tunes the connection pool.
type PoolOptions struct {
	MaxConns        int32
	MaxConnLifetime time.Duration
}

// NewPool parses dsn and opens a pool.
func NewPool(ctx context.Context, dsn string, opts PoolOptions) (*pgxpool.Pool, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("postgres dsn is required")
	}
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if opts.MaxConns > 0 {
		cfg.MaxConns = opts.MaxConns
	}
	if opts.MaxConnLifetime > 0 {
		cfg.MaxConnLifetime = opts.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return pool, nil
}

// AsPgError unwraps a *pgconn.PgError.
func AsPgError(err error) (*pgconn.PgError, bool) {
	var pe *pgconn.PgError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

// Store is a PostgreSQL store.Backend.
type Store struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// New wraps pool. Call Migrate once before use.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool, now: time.Now}
}

// Migrate creates the tables if they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Get returns the document or store.ErrNotFound.
func (s *Store) Get(ctx context.Context, kind store.Kind, id string) (store.Document, error) {
	doc := store.Document{Kind: kind, ID: id}
	err := s.pool.QueryRow(ctx, `
		SELECT version, body, indexes, unique_values, created_at, updated_at
		FROM documents WHERE kind = $1 AND id = $2
	`, string(kind), id).Scan(&doc.Version, &doc.Body, &doc.Indexes, &doc.Unique, &doc.CreatedAt, &doc.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.Document{}, store.ErrNotFound
		}
		return store.Document{}, fmt.Errorf("get document: %w", err)
	}
	normalize(&doc)
	return doc, nil
}

// Find returns matching documents ordered by creation time. Index lookups use
// the GIN index on the indexes column.
func (s *Store) Find(ctx context.Context, kind store.Kind, filter store.Filter) ([]store.Document, error) {
	var (
		rows pgx.Rows
		err  error
	)
	if filter.Index == "" {
		rows, err = s.pool.Query(ctx, `
			SELECT id, version, body, indexes, unique_values, created_at, updated_at
			FROM documents WHERE kind = $1 ORDER BY created_at, id
		`, string(kind))
	} else {
		rows, err = s.pool.Query(ctx, `
			SELECT id, version, body, indexes, unique_values, created_at, updated_at
			FROM documents WHERE kind = $1 AND indexes @> jsonb_build_object($2::text, $3::text)
			ORDER BY created_at, id
		`, string(kind), filter.Index, filter.Value)
	}
	if err != nil {
		return nil, fmt.Errorf("find documents: %w", err)
	}
	defer rows.Close()

	var docs []store.Document
	for rows.Next() {
		doc := store.Document{Kind: kind}
		if err := rows.Scan(&doc.ID, &doc.Version, &doc.Body, &doc.Indexes, &doc.Unique, &doc.CreatedAt, &doc.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		normalize(&doc)
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}
	return docs, nil
}

// Create inserts doc with version 1.
func (s *Store) Create(ctx context.Context, doc store.Document) (store.Document, error) {
	now := s.now().UTC().Truncate(time.Microsecond)
	doc = store.CloneDocument(doc)
	doc.Version = 1
	doc.CreatedAt = now
	doc.UpdatedAt = now

	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO documents (kind, id, version, body, indexes, unique_values, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`, string(doc.Kind), doc.ID, doc.Version, doc.Body, jsonMap(doc.Indexes), jsonMap(doc.Unique), now, now)
		if err != nil {
			if pe, ok := AsPgError(err); ok && pe.Code == UniqueViolationCode {
				return store.ErrAlreadyExists
			}
			return fmt.Errorf("insert document: %w", err)
		}
		return insertUnique(ctx, tx, doc)
	})
	if err != nil {
		return store.Document{}, err
	}
	return doc, nil
}

// Update replaces doc if the stored version matches expectedVersion.
func (s *Store) Update(ctx context.Context, doc store.Document, expectedVersion int64) (store.Document, error) {
	doc = store.CloneDocument(doc)
	now := s.now().UTC().Truncate(time.Microsecond)

	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var current int64
		var created time.Time
		err := tx.QueryRow(ctx, `
			SELECT version, created_at FROM documents WHERE kind = $1 AND id = $2 FOR UPDATE
		`, string(doc.Kind), doc.ID).Scan(&current, &created)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return store.ErrNotFound
			}
			return fmt.Errorf("read version: %w", err)
		}
		if expectedVersion != store.AnyVersion && current != expectedVersion {
			return store.ErrConcurrentModification
		}

		if _, err := tx.Exec(ctx, `
			UPDATE documents SET version = $1, body = $2, indexes = $3, unique_values = $4, updated_at = $5
			WHERE kind = $6 AND id = $7
		`, current+1, doc.Body, jsonMap(doc.Indexes), jsonMap(doc.Unique), now, string(doc.Kind), doc.ID); err != nil {
			return fmt.Errorf("update document: %w", err)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM document_unique WHERE kind = $1 AND id = $2`, string(doc.Kind), doc.ID); err != nil {
			return fmt.Errorf("clear unique values: %w", err)
		}
		if err := insertUnique(ctx, tx, doc); err != nil {
			return err
		}

		doc.Version = current + 1
		doc.CreatedAt = created.UTC()
		doc.UpdatedAt = now
		return nil
	})
	if err != nil {
		return store.Document{}, err
	}
	return doc, nil
}

// Delete removes the document and its unique values.
func (s *Store) Delete(ctx context.Context, kind store.Kind, id string) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `DELETE FROM documents WHERE kind = $1 AND id = $2`, string(kind), id)
		if err != nil {
			return fmt.Errorf("delete document: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return store.ErrNotFound
		}
		if _, err := tx.Exec(ctx, `DELETE FROM document_unique WHERE kind = $1 AND id = $2`, string(kind), id); err != nil {
			return fmt.Errorf("delete unique values: %w", err)
		}
		return nil
	})
}

func insertUnique(ctx context.Context, tx pgx.Tx, doc store.Document) error {
	for field, value := range doc.Unique {
		_, err := tx.Exec(ctx, `
			INSERT INTO document_unique (kind, name, value, id) VALUES ($1, $2, $3, $4)
		`, string(doc.Kind), field, value, doc.ID)
		if err != nil {
			if pe, ok := AsPgError(err); ok && pe.Code == UniqueViolationCode {
				return store.ErrDuplicateValue
			}
			return fmt.Errorf("insert unique value %s: %w", field, err)
		}
	}
	return nil
}

// jsonMap keeps nil maps from being stored as JSON null.
func jsonMap(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}

func normalize(doc *store.Document) {
	if len(doc.Indexes) == 0 {
		doc.Indexes = nil
	}
	if len(doc.Unique) == 0 {
		doc.Unique = nil
	}
	doc.CreatedAt = doc.CreatedAt.UTC()
	doc.UpdatedAt = doc.UpdatedAt.UTC()
}

var _ store.Backend = (*Store)(nil)
