// Package history persists finalized scan results to a local SQLite
// database. The classification engine itself never writes here; it hands
// each finalized prediction to the store through the session's Recorder
// interface.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/jpamaran/gourdsight/pkg/labels"
	"github.com/jpamaran/gourdsight/pkg/types"
)

// Entry is one persisted scan.
type Entry struct {
	ID         string         `json:"id"`
	Timestamp  time.Time      `json:"timestamp"`
	Variety    labels.Variety `json:"variety"`
	Gender     labels.Gender  `json:"gender"`
	Confidence float64        `json:"confidence"`
	Source     types.Source   `json:"source"`
	IsRejected bool           `json:"is_rejected"`
	Reasoning  string         `json:"reasoning,omitempty"`
}

// Store is a SQLite-backed scan history.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) the history database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS scans (
			id TEXT PRIMARY KEY,
			timestamp TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			variety TEXT,
			gender TEXT,
			confidence DOUBLE,
			source TEXT,
			rejected INTEGER,
			reasoning TEXT,
			aux TEXT
		);
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create scans table: %w", err)
	}

	return &Store{db: db}, nil
}

// Record persists one finalized prediction. Implements session.Recorder.
func (s *Store) Record(ctx context.Context, pred types.FinalPrediction) error {
	reasoning := ""
	auxJSON := ""
	if pred.Aux != nil {
		reasoning = pred.Aux.Reasoning
		if data, err := json.Marshal(pred.Aux); err == nil {
			auxJSON = string(data)
		}
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO scans (id, timestamp, variety, gender, confidence, source, rejected, reasoning, aux)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		uuid.NewString(),
		time.Now().UTC(),
		string(pred.Variety),
		string(pred.Gender),
		pred.Confidence,
		string(pred.Source),
		pred.IsRejected,
		reasoning,
		auxJSON,
	)
	if err != nil {
		return fmt.Errorf("record scan: %w", err)
	}
	return nil
}

// Recent returns the latest n scans, newest first.
func (s *Store) Recent(ctx context.Context, n int) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, timestamp, variety, gender, confidence, source, rejected, reasoning
		 FROM scans ORDER BY timestamp DESC LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("query scans: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var variety, gender, source string
		if err := rows.Scan(&e.ID, &e.Timestamp, &variety, &gender, &e.Confidence, &source, &e.IsRejected, &e.Reasoning); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		e.Variety = labels.Variety(variety)
		e.Gender = labels.Gender(gender)
		e.Source = types.Source(source)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}
