package repository

import (
	"context"
	"time"
)

// Record is one persisted probe report
type Record struct {
	ID        int64          `json:"id"`
	Address   string         `json:"address"`
	Prober    string         `json:"prober"`
	Found     bool           `json:"found"`
	Details   map[string]any `json:"details,omitempty"`
	ElapsedMs int64          `json:"elapsed_ms"`
	CreatedAt time.Time      `json:"created_at"`
}

// Repository defines the interface for probe-result persistence
type Repository interface {
	// SaveRecord stores one probe report and fills in its ID
	SaveRecord(ctx context.Context, rec *Record) error

	// ListRecords returns records for one address, newest first;
	// an empty address returns everything
	ListRecords(ctx context.Context, address string) ([]Record, error)

	// PruneBefore deletes records older than the cutoff and reports
	// how many went
	PruneBefore(ctx context.Context, cutoff time.Time) (int64, error)

	// Close releases resources
	Close() error
}
