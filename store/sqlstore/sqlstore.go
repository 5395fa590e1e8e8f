// Package sqlstore is a store.Backend over database/sql, for SQLite and MySQL.
//
// Documents live in one table keyed by (kind, id). Index and unique values
// live in side tables written in the same transaction as the document.
package sqlstore

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"

	"github.com/tradojo/booking/store"
)

//go:embed migrations/sqlite/*.sql migrations/mysql/*.sql
var migrationFS embed.FS

type dialect struct {
	name              string
	migrationRoot     string
	migrationTableDDL string
	isUniqueViolation func(error) bool
}

var sqliteDialect = dialect{
	name:          "sqlite",
	migrationRoot: "migrations/sqlite",
	migrationTableDDL: `CREATE TABLE IF NOT EXISTS schema_migrations (
    name TEXT PRIMARY KEY,
    applied_at INTEGER NOT NULL
)`,
	isUniqueViolation: func(err error) bool {
		var sqliteErr *msqlite.Error
		if errors.As(err, &sqliteErr) {
			switch sqliteErr.Code() {
			case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
				return true
			}
		}
		return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
	},
}

var mysqlDialect = dialect{
	name:          "mysql",
	migrationRoot: "migrations/mysql",
	migrationTableDDL: `CREATE TABLE IF NOT EXISTS schema_migrations (
    name VARCHAR(255) NOT NULL PRIMARY KEY,
    applied_at BIGINT NOT NULL
)`,
	isUniqueViolation: func(err error) bool {
		var myErr *mysql.MySQLError
		return errors.As(err, &myErr) && myErr.Number == 1062
	},
}

// Store is a SQL-backed store.Backend.
type Store struct {
	db      *sql.DB
	dialect dialect
	now     func() time.Time
}

// Open opens a SQLite database at path and applies embedded migrations.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("storage path is required")
	}
	dsn := filepath.Clean(path) + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)&_txlock=immediate"
	return open("sqlite", dsn, sqliteDialect)
}

// OpenMySQL connects to MySQL with dsn and applies embedded migrations.
func OpenMySQL(dsn string) (*Store, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("mysql dsn is required")
	}
	return open("mysql", dsn, mysqlDialect)
}

func open(driver, dsn string, d dialect) (*Store, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s db: %w", d.name, err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s db: %w", d.name, err)
	}
	if err := applyMigrations(ctx, db, d, migrationFS, d.migrationRoot); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{db: db, dialect: d, now: time.Now}, nil
}

// Close closes the database handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func toMillis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

func fromMillis(v int64) time.Time {
	return time.UnixMilli(v).UTC()
}

// Get returns the document or store.ErrNotFound.
func (s *Store) Get(ctx context.Context, kind store.Kind, id string) (store.Document, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT version, body, created_at, updated_at FROM documents WHERE kind = ? AND id = ?`,
		string(kind), id,
	)
	doc := store.Document{Kind: kind, ID: id}
	var created, updated int64
	if err := row.Scan(&doc.Version, &doc.Body, &created, &updated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.Document{}, store.ErrNotFound
		}
		return store.Document{}, fmt.Errorf("get document: %w", err)
	}
	doc.CreatedAt = fromMillis(created)
	doc.UpdatedAt = fromMillis(updated)

	if err := s.loadAttributes(ctx, &doc); err != nil {
		return store.Document{}, err
	}
	return doc, nil
}

// Find returns matching documents ordered by creation time.
func (s *Store) Find(ctx context.Context, kind store.Kind, filter store.Filter) ([]store.Document, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if filter.Index == "" {
		rows, err = s.db.QueryContext(ctx,
			`SELECT id, version, body, created_at, updated_at FROM documents
			 WHERE kind = ? ORDER BY created_at, id`,
			string(kind),
		)
	} else {
		rows, err = s.db.QueryContext(ctx,
			`SELECT d.id, d.version, d.body, d.created_at, d.updated_at
			 FROM documents d
			 JOIN document_indexes i ON i.kind = d.kind AND i.id = d.id
			 WHERE d.kind = ? AND i.name = ? AND i.value = ?
			 ORDER BY d.created_at, d.id`,
			string(kind), filter.Index, filter.Value,
		)
	}
	if err != nil {
		return nil, fmt.Errorf("find documents: %w", err)
	}

	var docs []store.Document
	for rows.Next() {
		doc := store.Document{Kind: kind}
		var created, updated int64
		if err := rows.Scan(&doc.ID, &doc.Version, &doc.Body, &created, &updated); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("scan document: %w", err)
		}
		doc.CreatedAt = fromMillis(created)
		doc.UpdatedAt = fromMillis(updated)
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, fmt.Errorf("iterate documents: %w", err)
	}
	_ = rows.Close()

	for i := range docs {
		if err := s.loadAttributes(ctx, &docs[i]); err != nil {
			return nil, err
		}
	}
	return docs, nil
}

// Create inserts doc with version 1.
func (s *Store) Create(ctx context.Context, doc store.Document) (store.Document, error) {
	now := s.now().UTC().Truncate(time.Millisecond)
	doc = store.CloneDocument(doc)
	doc.Version = 1
	doc.CreatedAt = now
	doc.UpdatedAt = now

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO documents (kind, id, version, body, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
			string(doc.Kind), doc.ID, doc.Version, doc.Body, toMillis(now), toMillis(now),
		); err != nil {
			if s.dialect.isUniqueViolation(err) {
				return store.ErrAlreadyExists
			}
			return fmt.Errorf("insert document: %w", err)
		}
		if err := s.insertUnique(ctx, tx, doc); err != nil {
			return err
		}
		return s.insertIndexes(ctx, tx, doc)
	})
	if err != nil {
		return store.Document{}, err
	}
	return doc, nil
}

// Update replaces doc if the stored version matches expectedVersion.
func (s *Store) Update(ctx context.Context, doc store.Document, expectedVersion int64) (store.Document, error) {
	doc = store.CloneDocument(doc)
	now := s.now().UTC().Truncate(time.Millisecond)

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var current, created int64
		err := tx.QueryRowContext(ctx,
			`SELECT version, created_at FROM documents WHERE kind = ? AND id = ?`,
			string(doc.Kind), doc.ID,
		).Scan(&current, &created)
		if errors.Is(err, sql.ErrNoRows) {
			return store.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("read version: %w", err)
		}
		if expectedVersion != store.AnyVersion && current != expectedVersion {
			return store.ErrConcurrentModification
		}

		res, err := tx.ExecContext(ctx,
			`UPDATE documents SET version = ?, body = ?, updated_at = ?
			 WHERE kind = ? AND id = ? AND version = ?`,
			current+1, doc.Body, toMillis(now), string(doc.Kind), doc.ID, current,
		)
		if err != nil {
			return fmt.Errorf("update document: %w", err)
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return store.ErrConcurrentModification
		}

		if _, err := tx.ExecContext(ctx,
			`DELETE FROM document_unique WHERE kind = ? AND id = ?`, string(doc.Kind), doc.ID,
		); err != nil {
			return fmt.Errorf("clear unique values: %w", err)
		}
		if err := s.insertUnique(ctx, tx, doc); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM document_indexes WHERE kind = ? AND id = ?`, string(doc.Kind), doc.ID,
		); err != nil {
			return fmt.Errorf("clear indexes: %w", err)
		}
		if err := s.insertIndexes(ctx, tx, doc); err != nil {
			return err
		}

		doc.Version = current + 1
		doc.CreatedAt = fromMillis(created)
		doc.UpdatedAt = now
		return nil
	})
	if err != nil {
		return store.Document{}, err
	}
	return doc, nil
}

// Delete removes the document and its index and unique rows.
func (s *Store) Delete(ctx context.Context, kind store.Kind, id string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE kind = ? AND id = ?`, string(kind), id)
		if err != nil {
			return fmt.Errorf("delete document: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("delete document: %w", err)
		}
		if n == 0 {
			return store.ErrNotFound
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM document_unique WHERE kind = ? AND id = ?`, string(kind), id); err != nil {
			return fmt.Errorf("delete unique values: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM document_indexes WHERE kind = ? AND id = ?`, string(kind), id); err != nil {
			return fmt.Errorf("delete indexes: %w", err)
		}
		return nil
	})
}

func (s *Store) insertUnique(ctx context.Context, tx *sql.Tx, doc store.Document) error {
	for field, value := range doc.Unique {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO document_unique (kind, name, value, id) VALUES (?, ?, ?, ?)`,
			string(doc.Kind), field, value, doc.ID,
		); err != nil {
			if s.dialect.isUniqueViolation(err) {
				return store.ErrDuplicateValue
			}
			return fmt.Errorf("insert unique value %s: %w", field, err)
		}
	}
	return nil
}

func (s *Store) insertIndexes(ctx context.Context, tx *sql.Tx, doc store.Document) error {
	for name, value := range doc.Indexes {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO document_indexes (kind, id, name, value) VALUES (?, ?, ?, ?)`,
			string(doc.Kind), doc.ID, name, value,
		); err != nil {
			return fmt.Errorf("insert index %s: %w", name, err)
		}
	}
	return nil
}

func (s *Store) loadAttributes(ctx context.Context, doc *store.Document) error {
	indexes, err := s.pairs(ctx, `SELECT name, value FROM document_indexes WHERE kind = ? AND id = ?`, doc.Kind, doc.ID)
	if err != nil {
		return fmt.Errorf("load indexes: %w", err)
	}
	unique, err := s.pairs(ctx, `SELECT name, value FROM document_unique WHERE kind = ? AND id = ?`, doc.Kind, doc.ID)
	if err != nil {
		return fmt.Errorf("load unique values: %w", err)
	}
	doc.Indexes = indexes
	doc.Unique = unique
	return nil
}

func (s *Store) pairs(ctx context.Context, query string, kind store.Kind, id string) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, query, string(kind), id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out map[string]string
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		if out == nil {
			out = make(map[string]string)
		}
		out[k] = v
	}
	return out, rows.Err()
}

func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

var _ store.Backend = (*Store)(nil)
