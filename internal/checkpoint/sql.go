package checkpoint

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/haasonsaas/recallbench/internal/eval"
)

// Dialect adapts queries to a database.
type Dialect struct {
	// Driver is the database/sql driver name.
	Driver string
	// Placeholder renders the n-th (1-based) bind parameter.
	Placeholder func(n int) string
}

var (
	// SQLite uses the pure-Go modernc driver.
	SQLite = Dialect{Driver: "sqlite", Placeholder: func(int) string { return "?" }}
	// Postgres uses lib/pq.
	Postgres = Dialect{Driver: "postgres", Placeholder: func(n int) string { return "$" + strconv.Itoa(n) }}
)

// SQLStore keeps reports in a checkpoints table.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
	now     func() time.Time
}

var _ Store = (*SQLStore)(nil)

// OpenSQL opens a sqlite or postgres database and creates the table.
func OpenSQL(ctx context.Context, backend, dsn string) (*SQLStore, error) {
	dialect := SQLite
	if backend == BackendPostgres {
		dialect = Postgres
	}
	if dsn == "" {
		if dialect.Driver != SQLite.Driver {
			return nil, fmt.Errorf("checkpoint: %s dsn is required", backend)
		}
		dsn = "recallbench.db"
	}
	db, err := sql.Open(dialect.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: open database: %w", err)
	}
	if dialect.Driver == SQLite.Driver {
		// Serialise writers; sqlite allows one at a time.
		db.SetMaxOpenConns(1)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("checkpoint: ping database: %w", err)
	}
	s := NewSQLStore(db, dialect)
	if err := s.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// NewSQLStore wraps an open database.
func NewSQLStore(db *sql.DB, dialect Dialect) *SQLStore {
	return &SQLStore{db: db, dialect: dialect, now: time.Now}
}

// Migrate creates the checkpoints table if it does not exist.
func (s *SQLStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS checkpoints (
			key TEXT PRIMARY KEY,
			run_id TEXT NOT NULL,
			complete BOOLEAN NOT NULL,
			pairs INTEGER NOT NULL,
			report TEXT NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("checkpoint: create table: %w", err)
	}
	return nil
}

func (s *SQLStore) bind(query string) string {
	n := 0
	var b strings.Builder
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString(s.dialect.Placeholder(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Load reads and validates the report stored under key.
func (s *SQLStore) Load(ctx context.Context, key string) (*eval.Report, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}
	var data string
	err := s.db.QueryRowContext(ctx, s.bind(`SELECT report FROM checkpoints WHERE key = ?`), key).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("checkpoint: load %s: %w", key, err)
	}
	return decode([]byte(data))
}

// Save upserts the report under key.
func (s *SQLStore) Save(ctx context.Context, key string, r *eval.Report) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	data, err := encode(r)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, s.bind(`
		INSERT INTO checkpoints (key, run_id, complete, pairs, report, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (key) DO UPDATE SET
			run_id = excluded.run_id,
			complete = excluded.complete,
			pairs = excluded.pairs,
			report = excluded.report,
			updated_at = excluded.updated_at
	`), key, r.Metadata.RunID, r.Metadata.Complete, len(r.Results), string(data), s.now().UTC())
	if err != nil {
		return fmt.Errorf("checkpoint: save %s: %w", key, err)
	}
	return nil
}

// Close releases database resources.
func (s *SQLStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
