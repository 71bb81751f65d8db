package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"fleetscan/internal/repository"
)

// Repository implements repository.Repository using SQLite
type Repository struct {
	db *sql.DB
}

// New opens (or creates) the database at dbPath
func New(dbPath string) (*Repository, error) {
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	repo := &Repository{db: db}
	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return repo, nil
}

func (r *Repository) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS probe_records (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		address TEXT NOT NULL,
		prober TEXT NOT NULL,
		found INTEGER NOT NULL,
		details JSON,
		elapsed_ms INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_probe_records_address ON probe_records(address);
	CREATE INDEX IF NOT EXISTS idx_probe_records_created ON probe_records(created_at);
	`
	_, err := r.db.Exec(schema)
	return err
}

// SaveRecord stores one probe report
func (r *Repository) SaveRecord(ctx context.Context, rec *repository.Record) error {
	var details []byte
	if rec.Details != nil {
		var err error
		details, err = json.Marshal(rec.Details)
		if err != nil {
			return fmt.Errorf("marshal details: %w", err)
		}
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	res, err := r.db.ExecContext(ctx,
		`INSERT INTO probe_records (address, prober, found, details, elapsed_ms, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		rec.Address, rec.Prober, boolInt(rec.Found), nullable(details), rec.ElapsedMs, rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert record: %w", err)
	}
	rec.ID, err = res.LastInsertId()
	return err
}

// ListRecords returns records newest first, optionally filtered by address
func (r *Repository) ListRecords(ctx context.Context, address string) ([]repository.Record, error) {
	query := `SELECT id, address, prober, found, details, elapsed_ms, created_at
		FROM probe_records`
	args := []any{}
	if address != "" {
		query += ` WHERE address = ?`
		args = append(args, address)
	}
	query += ` ORDER BY created_at DESC, id DESC`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	var records []repository.Record
	for rows.Next() {
		var rec repository.Record
		var found int
		var details sql.NullString
		if err := rows.Scan(&rec.ID, &rec.Address, &rec.Prober, &found, &details, &rec.ElapsedMs, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		rec.Found = found != 0
		if details.Valid && details.String != "" {
			if err := json.Unmarshal([]byte(details.String), &rec.Details); err != nil {
				return nil, fmt.Errorf("unmarshal details: %w", err)
			}
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// PruneBefore deletes records older than the cutoff
func (r *Repository) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM probe_records WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune records: %w", err)
	}
	return res.RowsAffected()
}

// Close releases the database handle
func (r *Repository) Close() error {
	return r.db.Close()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullable(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}
