package invalidation

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"encore.dev/storage/sqldb"
)

// AuditLog is one processed club-mutation event: which event triggered it,
// which club it concerned, and which cache keys were invalidated as a
// result.
type AuditLog struct {
	ID           int64     `json:"id"`
	MutationType string    `json:"mutation_type"` // booking_created, booking_cancelled, club_updated, court_updated
	ClubID       int       `json:"club_id"`
	Description  string    `json:"description"` // human-readable summary of what was invalidated
	Keys         []string  `json:"keys"`         // actual cache keys touched
	Timestamp    time.Time `json:"timestamp"`
	RequestID    string    `json:"request_id"` // correlation ID for tracing back to the originating event
	Latency      int64     `json:"latency"`    // invalidation latency in milliseconds
}

// AuditLogger provides persistent storage of processed mutation events.
//
// Design decisions:
// - PostgreSQL for ACID compliance and audit integrity
// - Append-only log (no updates); rows are deleted only by Cleanup's age cutoff
// - Indexed by timestamp for efficient time-range queries
// - JSONB for flexible key storage without schema changes
type AuditLogger struct {
	db *sqldb.Database
}

// NewAuditLogger creates a new audit logger with database connection.
func NewAuditLogger(db *sqldb.Database) (*AuditLogger, error) {
	logger := &AuditLogger{db: db}

	// Ensure table exists
	if err := logger.ensureSchema(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to initialize audit schema: %w", err)
	}

	return logger, nil
}

// ensureSchema creates the audit log table if it doesn't exist.
func (al *AuditLogger) ensureSchema(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS club_mutation_audit (
			id BIGSERIAL PRIMARY KEY,
			mutation_type TEXT NOT NULL,
			club_id BIGINT NOT NULL,
			description TEXT NOT NULL,
			keys JSONB,
			timestamp TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			request_id TEXT NOT NULL,
			latency_ms BIGINT DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_club_mutation_audit_timestamp
		ON club_mutation_audit(timestamp DESC);

		CREATE INDEX IF NOT EXISTS idx_club_mutation_audit_mutation_type
		ON club_mutation_audit(mutation_type);

		CREATE INDEX IF NOT EXISTS idx_club_mutation_audit_club_id
		ON club_mutation_audit(club_id);

		CREATE INDEX IF NOT EXISTS idx_club_mutation_audit_request_id
		ON club_mutation_audit(request_id);
	`

	_, err := al.db.Exec(ctx, query)
	return err
}

// Insert adds a new audit log entry.
// request_id is not unique, so inserting the same request_id twice stores two
// rows (GetByRequestID returns all of them).
//
// Complexity: O(1) with index overhead
func (al *AuditLogger) Insert(ctx context.Context, log AuditLog) error {
	// Serialize keys to JSONB
	keysJSON, err := json.Marshal(log.Keys)
	if err != nil {
		return fmt.Errorf("failed to marshal keys: %w", err)
	}

	query := `
		INSERT INTO club_mutation_audit
		(mutation_type, club_id, description, keys, timestamp, request_id, latency_ms)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT DO NOTHING
	`

	_, err = al.db.Exec(ctx, query,
		log.MutationType,
		log.ClubID,
		log.Description,
		keysJSON,
		log.Timestamp,
		log.RequestID,
		log.Latency,
	)

	if err != nil {
		return fmt.Errorf("failed to insert audit log: %w", err)
	}

	return nil
}

// GetRecent retrieves recent audit logs with pagination, optionally scoped
// to a single mutation type (e.g. "booking_created").
// Complexity: O(limit) with index scan
func (al *AuditLogger) GetRecent(ctx context.Context, limit, offset int, mutationTypeFilter string) ([]AuditLog, error) {
	var query string
	var args []interface{}

	if mutationTypeFilter != "" {
		query = `
			SELECT id, mutation_type, club_id, description, keys, timestamp, request_id, latency_ms
			FROM club_mutation_audit
			WHERE mutation_type = $1
			ORDER BY timestamp DESC
			LIMIT $2 OFFSET $3
		`
		args = []interface{}{mutationTypeFilter, limit, offset}
	} else {
		query = `
			SELECT id, mutation_type, club_id, description, keys, timestamp, request_id, latency_ms
			FROM club_mutation_audit
			ORDER BY timestamp DESC
			LIMIT $1 OFFSET $2
		`
		args = []interface{}{limit, offset}
	}

	rows, err := al.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit logs: %w", err)
	}
	defer rows.Close()

	logs := make([]AuditLog, 0, limit)
	for rows.Next() {
		var log AuditLog
		var keysJSON []byte

		err := rows.Scan(
			&log.ID,
			&log.MutationType,
			&log.ClubID,
			&log.Description,
			&keysJSON,
			&log.Timestamp,
			&log.RequestID,
			&log.Latency,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit log: %w", err)
		}

		// Deserialize keys
		if len(keysJSON) > 0 {
			if err := json.Unmarshal(keysJSON, &log.Keys); err != nil {
				log.Keys = []string{} // Fallback to empty on error
			}
		}

		logs = append(logs, log)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit logs: %w", err)
	}

	return logs, nil
}

// GetCount returns the total number of audit logs (optionally filtered by mutation type).
func (al *AuditLogger) GetCount(ctx context.Context, mutationTypeFilter string) (int, error) {
	var query string
	var args []interface{}
	var count int

	if mutationTypeFilter != "" {
		query = `SELECT COUNT(*) FROM club_mutation_audit WHERE mutation_type = $1`
		args = []interface{}{mutationTypeFilter}
	} else {
		query = `SELECT COUNT(*) FROM club_mutation_audit`
	}

	err := al.db.QueryRow(ctx, query, args...).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count audit logs: %w", err)
	}

	return count, nil
}

// GetByRequestID retrieves audit logs by request ID for tracing.
func (al *AuditLogger) GetByRequestID(ctx context.Context, requestID string) ([]AuditLog, error) {
	query := `
		SELECT id, mutation_type, club_id, description, keys, timestamp, request_id, latency_ms
		FROM club_mutation_audit
		WHERE request_id = $1
		ORDER BY timestamp DESC
	`

	rows, err := al.db.Query(ctx, query, requestID)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit logs by request ID: %w", err)
	}
	defer rows.Close()

	logs := make([]AuditLog, 0)
	for rows.Next() {
		var log AuditLog
		var keysJSON []byte

		err := rows.Scan(
			&log.ID,
			&log.MutationType,
			&log.ClubID,
			&log.Description,
			&keysJSON,
			&log.Timestamp,
			&log.RequestID,
			&log.Latency,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit log: %w", err)
		}

		// Deserialize keys
		if len(keysJSON) > 0 {
			if err := json.Unmarshal(keysJSON, &log.Keys); err != nil {
				log.Keys = []string{}
			}
		}

		logs = append(logs, log)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit logs: %w", err)
	}

	return logs, nil
}

// GetByTimeRange retrieves audit logs within a time range.
func (al *AuditLogger) GetByTimeRange(ctx context.Context, start, end time.Time, limit int) ([]AuditLog, error) {
	query := `
		SELECT id, mutation_type, club_id, description, keys, timestamp, request_id, latency_ms
		FROM club_mutation_audit
		WHERE timestamp BETWEEN $1 AND $2
		ORDER BY timestamp DESC
		LIMIT $3
	`

	rows, err := al.db.Query(ctx, query, start, end, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit logs by time range: %w", err)
	}
	defer rows.Close()

	logs := make([]AuditLog, 0, limit)
	for rows.Next() {
		var log AuditLog
		var keysJSON []byte

		err := rows.Scan(
			&log.ID,
			&log.MutationType,
			&log.ClubID,
			&log.Description,
			&keysJSON,
			&log.Timestamp,
			&log.RequestID,
			&log.Latency,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit log: %w", err)
		}

		// Deserialize keys
		if len(keysJSON) > 0 {
			if err := json.Unmarshal(keysJSON, &log.Keys); err != nil {
				log.Keys = []string{}
			}
		}

		logs = append(logs, log)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit logs: %w", err)
	}

	return logs, nil
}

// AuditStats is aggregated statistics about processed mutation events.
type AuditStats struct {
	TotalMutations           int64            `json:"total_mutations"`
	ByMutationType           map[string]int64 `json:"by_mutation_type"`
	AvgLatency               float64          `json:"avg_latency_ms"`
	TotalKeysAffected        int64            `json:"total_keys_affected"`
	MostFrequentMutationType string           `json:"most_frequent_mutation_type"`
}

// GetStats returns aggregated statistics about invalidations since the given time.
func (al *AuditLogger) GetStats(ctx context.Context, since time.Time) (*AuditStats, error) {
	stats := &AuditStats{
		ByMutationType: make(map[string]int64),
	}

	// Get total count and avg latency
	query := `
		SELECT
			COUNT(*) as total,
			COALESCE(AVG(latency_ms), 0) as avg_latency
		FROM club_mutation_audit
		WHERE timestamp >= $1
	`

	err := al.db.QueryRow(ctx, query, since).Scan(&stats.TotalMutations, &stats.AvgLatency)
	if err != nil && err != sql.ErrNoRows {
		return nil, fmt.Errorf("failed to get total stats: %w", err)
	}

	// Get breakdown by mutation type
	typeQuery := `
		SELECT mutation_type, COUNT(*) as count
		FROM club_mutation_audit
		WHERE timestamp >= $1
		GROUP BY mutation_type
	`

	rows, err := al.db.Query(ctx, typeQuery, since)
	if err != nil {
		return nil, fmt.Errorf("failed to get mutation type breakdown: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var mutationType string
		var count int64
		if err := rows.Scan(&mutationType, &count); err != nil {
			continue
		}
		stats.ByMutationType[mutationType] = count
	}

	// Get most frequent mutation type
	typeFreqQuery := `
		SELECT mutation_type, COUNT(*) as frequency
		FROM club_mutation_audit
		WHERE timestamp >= $1
		GROUP BY mutation_type
		ORDER BY frequency DESC
		LIMIT 1
	`

	err = al.db.QueryRow(ctx, typeFreqQuery, since).Scan(&stats.MostFrequentMutationType, new(int64))
	if err != nil && err != sql.ErrNoRows {
		// Non-fatal, just skip
		stats.MostFrequentMutationType = ""
	}

	return stats, nil
}

// Cleanup removes audit logs older than the specified duration.
// This should be run periodically to prevent unbounded growth.
func (al *AuditLogger) Cleanup(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan)

	query := `DELETE FROM club_mutation_audit WHERE timestamp < $1`

	result, err := al.db.Exec(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup audit logs: %w", err)
	}

	rowsAffected := result.RowsAffected()
	return rowsAffected, nil
}
