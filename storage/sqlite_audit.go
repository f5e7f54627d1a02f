package storage

import (
	"context"
	"fmt"
	"time"

	"warden/core"

	"go.uber.org/zap"
)

// SQLiteAuditStore persists the containment audit trail in SQLite.
type SQLiteAuditStore struct {
	db     *SQLite
	logger *zap.SugaredLogger
}

// NewSQLiteAuditStore creates the store and ensures its table exists.
func NewSQLiteAuditStore(db *SQLite, logger *zap.SugaredLogger) (*SQLiteAuditStore, error) {
	store := &SQLiteAuditStore{
		db:     db,
		logger: logger,
	}

	if err := store.ensureTable(); err != nil {
		return nil, fmt.Errorf("failed to ensure audit_entries table: %w", err)
	}

	return store, nil
}

func (s *SQLiteAuditStore) ensureTable() error {
	query := `
	CREATE TABLE IF NOT EXISTS audit_entries (
		id TEXT PRIMARY KEY,
		incident_id TEXT,
		action TEXT NOT NULL,
		actor TEXT NOT NULL,
		source TEXT NOT NULL,
		detail TEXT,
		created_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_audit_entries_incident_id ON audit_entries(incident_id);
	CREATE INDEX IF NOT EXISTS idx_audit_entries_source ON audit_entries(source);
	CREATE INDEX IF NOT EXISTS idx_audit_entries_created_at ON audit_entries(created_at DESC);
	`

	if _, err := s.db.WriteDB.Exec(query); err != nil {
		return fmt.Errorf("failed to create audit_entries table: %w", err)
	}

	s.logger.Debug("Audit entries table ensured in SQLite")
	return nil
}

// RecordAuditEntry inserts one audit entry.
func (s *SQLiteAuditStore) RecordAuditEntry(ctx context.Context, entry *core.AuditEntry) error {
	if entry == nil || entry.Action == "" {
		return ErrAuditEntryInvalid
	}

	query := `
		INSERT INTO audit_entries (id, incident_id, action, actor, source, detail, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.WriteDB.ExecContext(ctx, query,
		entry.ID,
		entry.IncidentID,
		entry.Action,
		entry.Actor,
		entry.Source,
		entry.Detail,
		entry.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit entry: %w", err)
	}

	return nil
}

// ListAuditEntries returns entries for one incident, oldest first.
func (s *SQLiteAuditStore) ListAuditEntries(ctx context.Context, incidentID string, limit int) ([]*core.AuditEntry, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT id, incident_id, action, actor, source, detail, created_at
		FROM audit_entries
		WHERE incident_id = ?
		ORDER BY created_at ASC
		LIMIT ?
	`

	rows, err := s.db.ReadDB.QueryContext(ctx, query, incidentID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit entries: %w", err)
	}
	defer rows.Close()

	var entries []*core.AuditEntry
	for rows.Next() {
		var entry core.AuditEntry
		var createdAt string

		if err := rows.Scan(
			&entry.ID,
			&entry.IncidentID,
			&entry.Action,
			&entry.Actor,
			&entry.Source,
			&entry.Detail,
			&createdAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}

		entry.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		entries = append(entries, &entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit entries: %w", err)
	}

	return entries, nil
}
