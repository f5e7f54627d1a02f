package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"warden/core"

	"go.uber.org/zap"
)

// SQLiteIncidentStore persists incidents in SQLite. This is the default
// backend.
type SQLiteIncidentStore struct {
	db     *SQLite
	logger *zap.SugaredLogger
}

// NewSQLiteIncidentStore creates the store and ensures its table exists.
func NewSQLiteIncidentStore(db *SQLite, logger *zap.SugaredLogger) (*SQLiteIncidentStore, error) {
	store := &SQLiteIncidentStore{
		db:     db,
		logger: logger,
	}

	if err := store.ensureTable(); err != nil {
		return nil, fmt.Errorf("failed to ensure incidents table: %w", err)
	}

	return store, nil
}

func (s *SQLiteIncidentStore) ensureTable() error {
	query := `
	CREATE TABLE IF NOT EXISTS incidents (
		id TEXT PRIMARY KEY,
		type TEXT NOT NULL,
		severity TEXT NOT NULL,
		source TEXT NOT NULL,
		user_id TEXT,
		score INTEGER NOT NULL DEFAULT 0,
		actions TEXT, -- JSON array of action results
		status TEXT NOT NULL DEFAULT 'open',
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_incidents_source ON incidents(source);
	CREATE INDEX IF NOT EXISTS idx_incidents_status ON incidents(status);
	CREATE INDEX IF NOT EXISTS idx_incidents_type ON incidents(type);
	CREATE INDEX IF NOT EXISTS idx_incidents_created_at ON incidents(created_at DESC);
	`

	if _, err := s.db.WriteDB.Exec(query); err != nil {
		return fmt.Errorf("failed to create incidents table: %w", err)
	}

	s.logger.Debug("Incidents table ensured in SQLite")
	return nil
}

// RecordIncident inserts a new incident and returns its ID.
func (s *SQLiteIncidentStore) RecordIncident(ctx context.Context, incident *core.Incident) (string, error) {
	actionsJSON, err := json.Marshal(incident.Actions)
	if err != nil {
		return "", fmt.Errorf("failed to marshal incident actions: %w", err)
	}

	query := `
		INSERT INTO incidents (id, type, severity, source, user_id, score, actions, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = s.db.WriteDB.ExecContext(ctx, query,
		incident.ID,
		string(incident.Type),
		string(incident.Severity),
		incident.Source,
		incident.UserID,
		incident.Score,
		string(actionsJSON),
		string(incident.Status),
		incident.CreatedAt.UTC().Format(time.RFC3339Nano),
		incident.UpdatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return "", fmt.Errorf("failed to insert incident: %w", err)
	}

	return incident.ID, nil
}

// UpdateIncident replaces a stored incident's mutable fields by ID.
func (s *SQLiteIncidentStore) UpdateIncident(ctx context.Context, incident *core.Incident) error {
	actionsJSON, err := json.Marshal(incident.Actions)
	if err != nil {
		return fmt.Errorf("failed to marshal incident actions: %w", err)
	}

	query := `
		UPDATE incidents
		SET score = ?, actions = ?, status = ?, updated_at = ?
		WHERE id = ?
	`

	result, err := s.db.WriteDB.ExecContext(ctx, query,
		incident.Score,
		string(actionsJSON),
		string(incident.Status),
		incident.UpdatedAt.UTC().Format(time.RFC3339Nano),
		incident.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update incident: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("incident %s: %w", incident.ID, core.ErrIncidentNotFound)
	}

	return nil
}

// GetIncident fetches a single incident by ID.
func (s *SQLiteIncidentStore) GetIncident(ctx context.Context, id string) (*core.Incident, error) {
	query := `
		SELECT id, type, severity, source, user_id, score, actions, status, created_at, updated_at
		FROM incidents
		WHERE id = ?
	`

	incident, err := scanIncident(s.db.ReadDB.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("incident %s: %w", id, core.ErrIncidentNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get incident: %w", err)
	}

	return incident, nil
}

// ListIncidents returns incidents matching the filters, newest first, plus
// the total count before pagination.
func (s *SQLiteIncidentStore) ListIncidents(ctx context.Context, filters IncidentFilters) ([]*core.Incident, int64, error) {
	whereClauses := []string{}
	params := []interface{}{}

	if filters.Source != "" {
		whereClauses = append(whereClauses, "source = ?")
		params = append(params, filters.Source)
	}
	if filters.Type != "" {
		whereClauses = append(whereClauses, "type = ?")
		params = append(params, filters.Type)
	}
	if filters.Status != "" {
		whereClauses = append(whereClauses, "status = ?")
		params = append(params, filters.Status)
	}

	whereClause := ""
	if len(whereClauses) > 0 {
		whereClause = "WHERE " + strings.Join(whereClauses, " AND ")
	}

	// #nosec G201 - whereClause is built from static SQL fragments; user inputs are parameterized
	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM incidents %s", whereClause)
	var totalCount int64
	if err := s.db.ReadDB.QueryRowContext(ctx, countQuery, params...).Scan(&totalCount); err != nil {
		return nil, 0, fmt.Errorf("failed to count incidents: %w", err)
	}

	limit := filters.Limit
	if limit <= 0 {
		limit = 100
	}
	if limit > 1000 {
		limit = 1000
	}
	offset := filters.Offset
	if offset < 0 {
		offset = 0
	}

	// #nosec G201 - whereClause is built from static SQL fragments; user inputs are parameterized
	query := fmt.Sprintf(`
		SELECT id, type, severity, source, user_id, score, actions, status, created_at, updated_at
		FROM incidents
		%s
		ORDER BY created_at DESC
		LIMIT ? OFFSET ?
	`, whereClause)
	params = append(params, limit, offset)

	rows, err := s.db.ReadDB.QueryContext(ctx, query, params...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query incidents: %w", err)
	}
	defer rows.Close()

	var incidents []*core.Incident
	for rows.Next() {
		incident, err := scanIncident(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan incident: %w", err)
		}
		incidents = append(incidents, incident)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("error iterating incidents: %w", err)
	}

	return incidents, totalCount, nil
}

// rowScanner covers both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanIncident(row rowScanner) (*core.Incident, error) {
	var incident core.Incident
	var typ, severity, status string
	var userID sql.NullString
	var actionsJSON sql.NullString
	var createdAt, updatedAt string

	err := row.Scan(
		&incident.ID,
		&typ,
		&severity,
		&incident.Source,
		&userID,
		&incident.Score,
		&actionsJSON,
		&status,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	incident.Type = core.ThreatType(typ)
	incident.Severity = core.Severity(severity)
	incident.Status = core.IncidentStatus(status)
	if userID.Valid {
		incident.UserID = userID.String
	}
	incident.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	incident.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)

	if actionsJSON.Valid && actionsJSON.String != "" {
		if err := json.Unmarshal([]byte(actionsJSON.String), &incident.Actions); err != nil {
			return nil, fmt.Errorf("failed to unmarshal incident actions: %w", err)
		}
	}

	return &incident, nil
}
