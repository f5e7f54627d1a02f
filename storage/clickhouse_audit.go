package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"warden/core"

	"go.uber.org/zap"
)

// ClickHouseAuditStore persists the containment audit trail in ClickHouse.
// Built for volume: MergeTree partitioned by month with a 90 day TTL, so the
// table prunes itself.
type ClickHouseAuditStore struct {
	clickhouse *ClickHouse
	logger     *zap.SugaredLogger
}

// NewClickHouseAuditStore creates the store and ensures its table exists.
func NewClickHouseAuditStore(clickhouse *ClickHouse, logger *zap.SugaredLogger) (*ClickHouseAuditStore, error) {
	store := &ClickHouseAuditStore{
		clickhouse: clickhouse,
		logger:     logger,
	}

	if err := store.ensureTable(); err != nil {
		return nil, fmt.Errorf("failed to ensure audit_log table: %w", err)
	}

	return store, nil
}

func (s *ClickHouseAuditStore) ensureTable() error {
	query := `
	CREATE TABLE IF NOT EXISTS audit_log (
		id String,
		incident_id String,
		action LowCardinality(String),
		actor LowCardinality(String),
		source String,
		detail String,
		created_at DateTime64(3, 'UTC'),
		INDEX idx_incident_id incident_id TYPE bloom_filter(0.01) GRANULARITY 1,
		INDEX idx_source source TYPE bloom_filter(0.01) GRANULARITY 1
	) ENGINE = MergeTree()
	PARTITION BY toYYYYMM(created_at)
	ORDER BY (created_at, action)
	TTL toDateTime(created_at) + INTERVAL 90 DAY
	SETTINGS index_granularity = 8192
	`

	if s.clickhouse.Conn == nil {
		return fmt.Errorf("ClickHouse connection not available")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.clickhouse.Conn.Exec(ctx, query); err != nil {
		return fmt.Errorf("failed to create audit_log table: %w", err)
	}

	s.logger.Info("Audit log table ensured in ClickHouse")
	return nil
}

// RecordAuditEntry inserts one audit entry.
func (s *ClickHouseAuditStore) RecordAuditEntry(ctx context.Context, entry *core.AuditEntry) error {
	if entry == nil || entry.Action == "" {
		return ErrAuditEntryInvalid
	}
	if s.clickhouse.Conn == nil {
		return fmt.Errorf("ClickHouse connection not available")
	}

	query := `
		INSERT INTO audit_log (id, incident_id, action, actor, source, detail, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	err := s.clickhouse.Conn.Exec(ctx, query,
		entry.ID,
		entry.IncidentID,
		entry.Action,
		entry.Actor,
		entry.Source,
		entry.Detail,
		entry.CreatedAt.UTC(),
	)
	if err != nil {
		s.logger.Errorw("Failed to record audit entry", "error", err, "action", entry.Action)
		return fmt.Errorf("failed to insert audit entry: %w", err)
	}

	return nil
}

// AuditFilters narrows QueryAuditEntries results. Zero values mean "any".
type AuditFilters struct {
	IncidentID string
	Action     string
	StartTime  time.Time
	EndTime    time.Time
	Limit      int
	Offset     int
}

// QueryAuditEntries returns entries matching the filters, newest first, plus
// the total count before pagination.
func (s *ClickHouseAuditStore) QueryAuditEntries(ctx context.Context, filters AuditFilters) ([]*core.AuditEntry, int64, error) {
	whereClauses := []string{}
	params := []interface{}{}

	if filters.IncidentID != "" {
		whereClauses = append(whereClauses, "incident_id = ?")
		params = append(params, filters.IncidentID)
	}
	if filters.Action != "" {
		whereClauses = append(whereClauses, "action = ?")
		params = append(params, filters.Action)
	}
	if !filters.StartTime.IsZero() {
		whereClauses = append(whereClauses, "created_at >= ?")
		params = append(params, filters.StartTime)
	}
	if !filters.EndTime.IsZero() {
		whereClauses = append(whereClauses, "created_at <= ?")
		params = append(params, filters.EndTime)
	}

	whereClause := ""
	if len(whereClauses) > 0 {
		whereClause = "WHERE " + strings.Join(whereClauses, " AND ")
	}

	if s.clickhouse.Conn == nil {
		return nil, 0, fmt.Errorf("ClickHouse connection not available")
	}

	countQuery := fmt.Sprintf("SELECT count() FROM audit_log %s", whereClause)
	var totalCount uint64
	if err := s.clickhouse.Conn.QueryRow(ctx, countQuery, params...).Scan(&totalCount); err != nil {
		return nil, 0, fmt.Errorf("failed to count audit entries: %w", err)
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

	dataQuery := fmt.Sprintf(`
		SELECT id, incident_id, action, actor, source, detail, created_at
		FROM audit_log
		%s
		ORDER BY created_at DESC
		LIMIT ? OFFSET ?
	`, whereClause)
	params = append(params, limit, offset)

	rows, err := s.clickhouse.Conn.Query(ctx, dataQuery, params...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query audit entries: %w", err)
	}
	defer rows.Close()

	var entries []*core.AuditEntry
	for rows.Next() {
		var entry core.AuditEntry
		var createdAt time.Time

		if err := rows.Scan(
			&entry.ID,
			&entry.IncidentID,
			&entry.Action,
			&entry.Actor,
			&entry.Source,
			&entry.Detail,
			&createdAt,
		); err != nil {
			s.logger.Errorw("Failed to scan audit entry row", "error", err)
			continue
		}

		entry.CreatedAt = createdAt
		entries = append(entries, &entry)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("error iterating audit entries: %w", err)
	}

	return entries, int64(totalCount), nil
}
