package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
)

// PostgresStore persists download history in Postgres.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore opens a connection and verifies it.
func NewPostgresStore(host, port, user, password, dbname string) (*PostgresStore, error) {
	connStr := fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		host, port, user, password, dbname,
	)

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresStore{db: db}, nil
}

// Migrate creates the history schema if it does not exist.
func (s *PostgresStore) Migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS download_history (
		id UUID PRIMARY KEY,
		url TEXT NOT NULL,
		title TEXT NOT NULL DEFAULT '',
		output_path TEXT NOT NULL DEFAULT '',
		format VARCHAR(50) NOT NULL DEFAULT '',
		status VARCHAR(20) NOT NULL,
		size BIGINT NOT NULL DEFAULT 0,
		final_path TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_download_history_created_at ON download_history(created_at DESC);
	CREATE INDEX IF NOT EXISTS idx_download_history_url ON download_history(url);
	`

	_, err := s.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// Close releases the connection pool.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// AddEntry implements Recorder.
func (s *PostgresStore) AddEntry(ctx context.Context, e Entry) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO download_history (id, url, title, output_path, format, status, size, final_path, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		e.ID, e.URL, e.Title, e.OutputPath, e.Format, e.Status, e.Size, e.FinalPath, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert history entry: %w", err)
	}
	return nil
}

// Recent returns the newest entries, most recent first.
func (s *PostgresStore) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 500 {
		limit = 500
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, url, title, output_path, format, status, size, final_path, created_at
		FROM download_history
		ORDER BY created_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	return scanEntries(rows)
}

// ByURL returns all recorded downloads of one URL, most recent first.
func (s *PostgresStore) ByURL(ctx context.Context, url string) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, url, title, output_path, format, status, size, final_path, created_at
		FROM download_history
		WHERE url = $1
		ORDER BY created_at DESC`, url)
	if err != nil {
		return nil, fmt.Errorf("failed to query history by url: %w", err)
	}
	defer rows.Close()

	return scanEntries(rows)
}

// Clear deletes entries older than the cutoff and reports how many went.
func (s *PostgresStore) Clear(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM download_history WHERE created_at < $1`, olderThan)
	if err != nil {
		return 0, fmt.Errorf("failed to clear history: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count cleared rows: %w", err)
	}
	return n, nil
}

func scanEntries(rows *sql.Rows) ([]Entry, error) {
	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.URL, &e.Title, &e.OutputPath, &e.Format,
			&e.Status, &e.Size, &e.FinalPath, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan history entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
