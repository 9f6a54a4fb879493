package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Dialect selects SQL placeholder syntax.
type Dialect int

const (
	DialectSQLite Dialect = iota
	DialectPostgres
)

// SQLStore is a Store backed by database/sql. It works with the
// modernc.org/sqlite driver ("sqlite") and pgx's stdlib driver ("pgx").
//
// The caller imports the driver for its side effects and owns the *sql.DB.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
	now     Clock
}

var _ Store = (*SQLStore)(nil)

// NewSQLiteStore initializes the records schema in db and returns a store.
func NewSQLiteStore(ctx context.Context, db *sql.DB) (*SQLStore, error) {
	return newSQLStore(ctx, db, DialectSQLite)
}

// NewPostgresStore initializes the records schema in db and returns a store.
func NewPostgresStore(ctx context.Context, db *sql.DB) (*SQLStore, error) {
	return newSQLStore(ctx, db, DialectPostgres)
}

func newSQLStore(ctx context.Context, db *sql.DB, d Dialect) (*SQLStore, error) {
	s := &SQLStore{db: db, dialect: d, now: time.Now}
	if err := s.initSchema(ctx); err != nil {
		return nil, fmt.Errorf("init records schema: %w", err)
	}
	return s, nil
}

func (s *SQLStore) initSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS records (
			id          TEXT PRIMARY KEY,
			collection  TEXT NOT NULL,
			fields      TEXT NOT NULL,
			archived    INTEGER NOT NULL DEFAULT 0,
			created_at  BIGINT NOT NULL,
			updated_at  BIGINT NOT NULL
		)`)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS records_collection_idx ON records (collection)`)
	return err
}

// rebind rewrites ? placeholders to $N for postgres.
func (s *SQLStore) rebind(query string) string {
	if s.dialect != DialectPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *SQLStore) CreateRecord(ctx context.Context, collection string, fields Fields) (string, error) {
	if collection == "" {
		return "", ErrEmptyCollection
	}
	data, err := EncodeFields(fields)
	if err != nil {
		return "", err
	}

	id := uuid.NewString()
	now := s.now().UnixNano()
	_, err = s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO records (id, collection, fields, archived, created_at, updated_at)
		VALUES (?, ?, ?, 0, ?, ?)`),
		id, collection, string(data), now, now,
	)
	if err != nil {
		return "", fmt.Errorf("insert record: %w", err)
	}
	return id, nil
}

func (s *SQLStore) ArchiveRecord(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, s.rebind(`
		UPDATE records SET archived = 1, updated_at = ? WHERE id = ?`),
		s.now().UnixNano(), id,
	)
	if err != nil {
		return fmt.Errorf("archive record %s: %w", id, err)
	}
	return requireAffected(res, id)
}

func (s *SQLStore) UpdateRecord(ctx context.Context, id string, fields Fields) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var raw string
	err = tx.QueryRowContext(ctx, s.rebind(`SELECT fields FROM records WHERE id = ?`), id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("update %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("load record %s: %w", id, err)
	}

	current, err := DecodeFields([]byte(raw))
	if err != nil {
		return err
	}
	data, err := EncodeFields(current.Merge(fields))
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, s.rebind(`
		UPDATE records SET fields = ?, updated_at = ? WHERE id = ?`),
		string(data), s.now().UnixNano(), id,
	); err != nil {
		return fmt.Errorf("update record %s: %w", id, err)
	}
	return tx.Commit()
}

func (s *SQLStore) GetRecord(ctx context.Context, id string) (*Record, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT id, collection, fields, archived, created_at, updated_at
		FROM records WHERE id = ?`), id)

	var (
		rec              Record
		raw              string
		archived         int
		created, updated int64
	)
	if err := row.Scan(&rec.ID, &rec.Collection, &raw, &archived, &created, &updated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("get %s: %w", id, ErrNotFound)
		}
		return nil, err
	}

	fields, err := DecodeFields([]byte(raw))
	if err != nil {
		return nil, err
	}
	rec.Fields = fields
	rec.Archived = archived != 0
	rec.CreatedAt = time.Unix(0, created).UTC()
	rec.UpdatedAt = time.Unix(0, updated).UTC()
	return &rec, nil
}

// Close closes the underlying database.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

func requireAffected(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("record %s: %w", id, ErrNotFound)
	}
	return nil
}
