// Copyright 2026 The Ratchet Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package sqlite provides a SQLite storage implementation for single-node
// deployments.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/ratchetworks/ratchet/internal/storage"
	ratcheterrors "github.com/ratchetworks/ratchet/pkg/errors"
	"github.com/ratchetworks/ratchet/pkg/model"
	"github.com/ratchetworks/ratchet/pkg/state"
)

// Compile-time interface assertions.
var (
	_ storage.InstanceStore = (*Store)(nil)
	_ storage.EventStore    = (*Store)(nil)
	_ storage.WorkflowStore = (*Store)(nil)
	_ storage.Store         = (*Store)(nil)
)

// Store is a SQLite storage backend.
type Store struct {
	db *sql.DB
}

// Config contains SQLite connection configuration.
type Config struct {
	// Path is the database file path.
	Path string

	// WAL enables Write-Ahead Logging mode for concurrent reads.
	WAL bool
}

// New creates a new SQLite store.
func New(cfg Config) (*Store, error) {
	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite serializes writes, so only 1 connection for writes
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	s := &Store{db: db}

	if err := s.configurePragmas(ctx, cfg.WAL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to configure pragmas: %w", err)
	}

	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return s, nil
}

// configurePragmas sets SQLite configuration options.
func (s *Store) configurePragmas(ctx context.Context, enableWAL bool) error {
	pragmas := []string{
		"PRAGMA foreign_keys=ON",   // Enable foreign key constraints
		"PRAGMA busy_timeout=5000", // 5 second timeout for lock contention
		"PRAGMA synchronous=NORMAL",
	}

	if enableWAL {
		pragmas = append(pragmas, "PRAGMA journal_mode=WAL") // Enable WAL mode for concurrent reads
	}

	for _, pragma := range pragmas {
		if _, err := s.db.ExecContext(ctx, pragma); err != nil {
			return fmt.Errorf("failed to execute %s: %w", pragma, err)
		}
	}

	return nil
}

// migrate runs database migrations.
func (s *Store) migrate(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS instances (
			instance TEXT PRIMARY KEY,
			state TEXT NOT NULL,
			timestamp_ms INTEGER NOT NULL,
			counter INTEGER NOT NULL,
			data TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_instances_state ON instances(state)`,
		`CREATE TABLE IF NOT EXISTS events (
			instance TEXT NOT NULL,
			counter INTEGER NOT NULL,
			event_type TEXT NOT NULL,
			payload TEXT NOT NULL,
			timestamp_ms INTEGER NOT NULL,
			PRIMARY KEY (instance, counter)
		)`,
		`CREATE TABLE IF NOT EXISTS workflows (
			id TEXT PRIMARY KEY,
			config TEXT NOT NULL,
			next_trigger_ms INTEGER,
			updated_at TEXT NOT NULL
		)`,
	}

	for _, migration := range migrations {
		if _, err := s.db.ExecContext(ctx, migration); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}

	return nil
}

// SaveInstance inserts or replaces the snapshot for an instance.
func (s *Store) SaveInstance(ctx context.Context, snapshot storage.InstanceSnapshot) error {
	dataJSON, err := json.Marshal(snapshot.Data)
	if err != nil {
		return fmt.Errorf("failed to marshal state data: %w", err)
	}

	query := `
		INSERT INTO instances (instance, state, timestamp_ms, counter, data)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (instance) DO UPDATE SET
			state = excluded.state,
			timestamp_ms = excluded.timestamp_ms,
			counter = excluded.counter,
			data = excluded.data
	`

	_, err = s.db.ExecContext(ctx, query,
		snapshot.Instance.String(), string(snapshot.State),
		snapshot.TimestampMillis, snapshot.Counter, string(dataJSON),
	)
	if err != nil {
		return fmt.Errorf("failed to save instance: %w", err)
	}

	return nil
}

// GetInstance retrieves the snapshot for an instance.
func (s *Store) GetInstance(ctx context.Context, instance model.WorkflowInstance) (storage.InstanceSnapshot, error) {
	query := `SELECT instance, state, timestamp_ms, counter, data FROM instances WHERE instance = ?`

	row := s.db.QueryRowContext(ctx, query, instance.String())
	snapshot, err := scanInstance(row.Scan)
	if err == sql.ErrNoRows {
		return storage.InstanceSnapshot{}, &ratcheterrors.NotFoundError{Resource: "instance", ID: instance.String()}
	}
	if err != nil {
		return storage.InstanceSnapshot{}, fmt.Errorf("failed to get instance: %w", err)
	}

	return snapshot, nil
}

// ListInstances lists snapshots matching the filter, ordered by instance key.
func (s *Store) ListInstances(ctx context.Context, filter storage.InstanceFilter) ([]storage.InstanceSnapshot, error) {
	query := `SELECT instance, state, timestamp_ms, counter, data FROM instances WHERE 1=1`
	args := []any{}

	if filter.State != "" {
		query += " AND state = ?"
		args = append(args, string(filter.State))
	}
	if filter.Active {
		query += " AND state NOT IN (?, ?)"
		args = append(args, string(state.StateDone), string(state.StateError))
	}

	query += " ORDER BY instance"

	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list instances: %w", err)
	}
	defer rows.Close()

	var snapshots []storage.InstanceSnapshot
	for rows.Next() {
		snapshot, err := scanInstance(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan instance: %w", err)
		}
		snapshots = append(snapshots, snapshot)
	}

	return snapshots, rows.Err()
}

// DeleteInstance removes the snapshot for an instance.
func (s *Store) DeleteInstance(ctx context.Context, instance model.WorkflowInstance) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM instances WHERE instance = ?", instance.String())
	if err != nil {
		return fmt.Errorf("failed to delete instance: %w", err)
	}
	return nil
}

// AppendEvent appends one event row.
func (s *Store) AppendEvent(ctx context.Context, record storage.EventRecord) error {
	payload, err := model.MarshalEvent(record.Event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	query := `
		INSERT INTO events (instance, counter, event_type, payload, timestamp_ms)
		VALUES (?, ?, ?, ?, ?)
	`

	_, err = s.db.ExecContext(ctx, query,
		record.Instance.String(), record.Counter,
		string(record.Event.Type()), string(payload), record.TimestampMillis,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s at counter %d", storage.ErrDuplicateEvent, record.Instance, record.Counter)
		}
		return fmt.Errorf("failed to append event: %w", err)
	}

	return nil
}

// ListEvents returns an instance's event log in counter order.
func (s *Store) ListEvents(ctx context.Context, instance model.WorkflowInstance) ([]storage.EventRecord, error) {
	query := `
		SELECT instance, counter, payload, timestamp_ms
		FROM events WHERE instance = ? ORDER BY counter ASC
	`

	rows, err := s.db.QueryContext(ctx, query, instance.String())
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	defer rows.Close()

	var records []storage.EventRecord
	for rows.Next() {
		var key, payload string
		var record storage.EventRecord

		if err := rows.Scan(&key, &record.Counter, &payload, &record.TimestampMillis); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}

		record.Instance, err = model.ParseWorkflowInstance(key)
		if err != nil {
			return nil, fmt.Errorf("failed to parse instance key: %w", err)
		}

		record.Event, err = model.UnmarshalEvent([]byte(payload))
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal event at counter %d: %w", record.Counter, err)
		}

		records = append(records, record)
	}

	return records, rows.Err()
}

// LatestEventCounter returns the highest counter in the instance's event log.
func (s *Store) LatestEventCounter(ctx context.Context, instance model.WorkflowInstance) (int64, error) {
	var counter sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		"SELECT MAX(counter) FROM events WHERE instance = ?", instance.String(),
	).Scan(&counter)
	if err != nil {
		return 0, fmt.Errorf("failed to read latest event counter: %w", err)
	}
	if !counter.Valid {
		return state.NoEventsProcessed, nil
	}
	return counter.Int64, nil
}

// SaveWorkflow inserts or updates a workflow configuration, preserving any
// existing trigger cursor.
func (s *Store) SaveWorkflow(ctx context.Context, workflow model.Workflow) error {
	configJSON, err := json.Marshal(workflow)
	if err != nil {
		return fmt.Errorf("failed to marshal workflow: %w", err)
	}

	query := `
		INSERT INTO workflows (id, config, next_trigger_ms, updated_at)
		VALUES (?, ?, NULL, ?)
		ON CONFLICT (id) DO UPDATE SET
			config = excluded.config,
			updated_at = excluded.updated_at
	`

	_, err = s.db.ExecContext(ctx, query,
		workflow.ID.String(), string(configJSON), time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to save workflow: %w", err)
	}

	return nil
}

// GetWorkflow retrieves a workflow and its trigger cursor.
func (s *Store) GetWorkflow(ctx context.Context, id model.WorkflowID) (storage.WorkflowRecord, error) {
	query := `SELECT config, next_trigger_ms FROM workflows WHERE id = ?`

	var configJSON string
	var nextTriggerMillis sql.NullInt64

	err := s.db.QueryRowContext(ctx, query, id.String()).Scan(&configJSON, &nextTriggerMillis)
	if err == sql.ErrNoRows {
		return storage.WorkflowRecord{}, &ratcheterrors.NotFoundError{Resource: "workflow", ID: id.String()}
	}
	if err != nil {
		return storage.WorkflowRecord{}, fmt.Errorf("failed to get workflow: %w", err)
	}

	return buildWorkflowRecord(configJSON, nextTriggerMillis)
}

// ListWorkflows returns all registered workflows ordered by id.
func (s *Store) ListWorkflows(ctx context.Context) ([]storage.WorkflowRecord, error) {
	query := `SELECT config, next_trigger_ms FROM workflows ORDER BY id`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list workflows: %w", err)
	}
	defer rows.Close()

	var records []storage.WorkflowRecord
	for rows.Next() {
		var configJSON string
		var nextTriggerMillis sql.NullInt64

		if err := rows.Scan(&configJSON, &nextTriggerMillis); err != nil {
			return nil, fmt.Errorf("failed to scan workflow: %w", err)
		}

		record, err := buildWorkflowRecord(configJSON, nextTriggerMillis)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}

	return records, rows.Err()
}

// DeleteWorkflow removes a workflow.
func (s *Store) DeleteWorkflow(ctx context.Context, id model.WorkflowID) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM workflows WHERE id = ?", id.String())
	if err != nil {
		return fmt.Errorf("failed to delete workflow: %w", err)
	}
	return nil
}

// SetNextTrigger advances the workflow's trigger cursor.
func (s *Store) SetNextTrigger(ctx context.Context, id model.WorkflowID, next time.Time) error {
	result, err := s.db.ExecContext(ctx,
		"UPDATE workflows SET next_trigger_ms = ? WHERE id = ?",
		next.UnixMilli(), id.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to set next trigger: %w", err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return &ratcheterrors.NotFoundError{Resource: "workflow", ID: id.String()}
	}

	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Helper functions

// scanInstance reads one instances row through the given scan function.
func scanInstance(scan func(...any) error) (storage.InstanceSnapshot, error) {
	var key, stateStr, dataJSON string
	var snapshot storage.InstanceSnapshot

	if err := scan(&key, &stateStr, &snapshot.TimestampMillis, &snapshot.Counter, &dataJSON); err != nil {
		return storage.InstanceSnapshot{}, err
	}

	instance, err := model.ParseWorkflowInstance(key)
	if err != nil {
		return storage.InstanceSnapshot{}, fmt.Errorf("failed to parse instance key: %w", err)
	}
	snapshot.Instance = instance

	st, err := state.ParseState(stateStr)
	if err != nil {
		return storage.InstanceSnapshot{}, fmt.Errorf("failed to parse state: %w", err)
	}
	snapshot.State = st

	if err := json.Unmarshal([]byte(dataJSON), &snapshot.Data); err != nil {
		return storage.InstanceSnapshot{}, fmt.Errorf("failed to unmarshal state data: %w", err)
	}

	return snapshot, nil
}

// buildWorkflowRecord decodes one workflows row.
func buildWorkflowRecord(configJSON string, nextTriggerMillis sql.NullInt64) (storage.WorkflowRecord, error) {
	var record storage.WorkflowRecord

	if err := json.Unmarshal([]byte(configJSON), &record.Workflow); err != nil {
		return storage.WorkflowRecord{}, fmt.Errorf("failed to unmarshal workflow: %w", err)
	}

	if nextTriggerMillis.Valid {
		t := time.UnixMilli(nextTriggerMillis.Int64).UTC()
		record.NextTrigger = &t
	}

	return record, nil
}

// isUniqueViolation reports whether err is a SQLite unique constraint failure.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
