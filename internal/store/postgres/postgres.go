package postgres

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"

	"vendify/internal/store"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// Store keeps every collection in one JSONB table keyed by
// (collection, id).
type Store struct {
	db *sqlx.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sqlx.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: %v", store.ErrStoreUnavailable, err)
	}

	s := &Store{db: db}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)
	`); err != nil {
		return fmt.Errorf("create schema_migrations table: %w", err)
	}

	entries, err := fs.ReadDir(migrationFiles, "migrations")
	if err != nil {
		return fmt.Errorf("read embedded migrations: %w", err)
	}
	versions := make([]string, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".sql") {
			versions = append(versions, entry.Name())
		}
	}
	sort.Strings(versions)

	for _, version := range versions {
		var exists bool
		if err := s.db.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version = $1)`, version); err != nil {
			return fmt.Errorf("check migration %s: %w", version, err)
		}
		if exists {
			continue
		}
		body, err := migrationFiles.ReadFile("migrations/" + version)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", version, err)
		}
		tx, err := s.db.BeginTxx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin migration tx %s: %w", version, err)
		}
		if _, err := tx.ExecContext(ctx, string(body)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("apply migration %s: %w", version, err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations (version) VALUES ($1)`, version); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("record migration %s: %w", version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %s: %w", version, err)
		}
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Get(ctx context.Context, collection string, id string) (store.Document, error) {
	var body []byte
	err := s.db.GetContext(ctx, &body, `
		SELECT body
		FROM documents
		WHERE collection = $1 AND id = $2
	`, collection, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return decodeBody(body)
}

func (s *Store) List(ctx context.Context, collection string, q store.Query) ([]store.Document, error) {
	query := `SELECT body FROM documents WHERE collection = $1`
	args := []any{collection}
	for _, f := range q.Filters {
		args = append(args, f.Field, f.Value)
		query += fmt.Sprintf(` AND body->>($%d::text) = $%d`, len(args)-1, len(args))
	}
	query += ` ORDER BY body->>'createdAt', id`

	var bodies [][]byte
	if err := s.db.SelectContext(ctx, &bodies, query, args...); err != nil {
		return nil, err
	}
	docs := make([]store.Document, 0, len(bodies))
	for _, body := range bodies {
		doc, err := decodeBody(body)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

func (s *Store) Put(ctx context.Context, collection string, id string, doc store.Document) error {
	if id == "" {
		return store.ErrInvalidRecord
	}
	saved := doc.Clone()
	saved["id"] = id
	body, err := json.Marshal(saved)
	if err != nil {
		return fmt.Errorf("%w: %v", store.ErrInvalidRecord, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO documents (collection, id, body, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (collection, id)
		DO UPDATE SET body = EXCLUDED.body, updated_at = now()
	`, collection, id, body)
	return err
}

func (s *Store) Delete(ctx context.Context, collection string, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE collection = $1 AND id = $2`, collection, id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) AdjustQuantity(ctx context.Context, collection string, id string, delta int, expectedVersion int64) (store.Document, error) {
	tx, err := s.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var body []byte
	err = tx.GetContext(ctx, &body, `
		SELECT body
		FROM documents
		WHERE collection = $1 AND id = $2
		FOR UPDATE
	`, collection, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	doc, err := decodeBody(body)
	if err != nil {
		return nil, err
	}

	updated, err := store.ApplyAdjustment(doc, delta, expectedVersion, time.Now())
	if err != nil {
		return nil, err
	}
	next, err := json.Marshal(updated)
	if err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE documents
		SET body = $3, updated_at = now()
		WHERE collection = $1 AND id = $2
	`, collection, id, next); err != nil {
		return nil, mapTxError(err)
	}
	if err := tx.Commit(); err != nil {
		return nil, mapTxError(err)
	}
	return updated, nil
}

func (s *Store) NextSequence(ctx context.Context, name string) (int64, error) {
	var value int64
	err := s.db.GetContext(ctx, &value, `
		INSERT INTO sequences (name, value)
		VALUES ($1, 1)
		ON CONFLICT (name)
		DO UPDATE SET value = sequences.value + 1
		RETURNING value
	`, name)
	return value, err
}

func decodeBody(body []byte) (store.Document, error) {
	var doc store.Document
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrInvalidRecord, err)
	}
	return doc, nil
}

// mapTxError turns a serialization failure into ErrConflict so callers
// retry the same way they do for a stale version.
func mapTxError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "40001" {
		return store.ErrConflict
	}
	return err
}
