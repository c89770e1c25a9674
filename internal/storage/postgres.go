/**
 * PostgreSQL run ledger for the searchable-PDF worker
 *
 * Persists one row per export run (status, artifact id, counts, errors)
 * and a registry of orphaned documents left behind when a stale-target
 * delete fails, so external cleanup can find them later.
 */

package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// Ledger handles database operations.
type Ledger struct {
	db *sql.DB
}

// RunUpdate represents one export-run status update.
type RunUpdate struct {
	RunID            string
	SourceDocumentID string
	RelationKey      string
	Status           string // processing | completed | failed
	PageCount        int
	SkippedRuns      int
	ArtifactID       string
	ErrorCode        string
	ErrorMessage     string
	ProcessingTimeMs int64
	Metadata         map[string]interface{}
}

// NewLedger creates a new run ledger backed by PostgreSQL.
func NewLedger(databaseURL string) (*Ledger, error) {
	if databaseURL == "" {
		return nil, fmt.Errorf("database URL is required")
	}

	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(2 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Ledger{db: db}, nil
}

// UpdateRunStatus upserts one export-run row by run id. The worker may be
// the first writer for a run, so insert-or-update keeps the ledger
// consistent regardless of who created the row.
func (l *Ledger) UpdateRunStatus(ctx context.Context, update *RunUpdate) error {
	if update.RunID == "" {
		return fmt.Errorf("run ID is required")
	}
	if update.Status == "" {
		return fmt.Errorf("status is required")
	}

	metadataJSON, err := json.Marshal(update.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	query := `
		INSERT INTO searchable_pdf.export_runs (
			id, source_document_id, relation_key, status,
			page_count, skipped_runs, artifact_id,
			error_code, error_message, processing_time_ms, metadata,
			created_at, updated_at
		) VALUES (
			$1::uuid, $2, $3, $4,
			NULLIF($5, 0), $6, NULLIF($7, ''),
			NULLIF($8, ''), NULLIF($9, ''), NULLIF($10, 0),
			COALESCE($11::jsonb, '{}'::jsonb),
			NOW(), NOW()
		)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			page_count = COALESCE(NULLIF(EXCLUDED.page_count, 0), searchable_pdf.export_runs.page_count),
			skipped_runs = GREATEST(EXCLUDED.skipped_runs, searchable_pdf.export_runs.skipped_runs),
			artifact_id = COALESCE(EXCLUDED.artifact_id, searchable_pdf.export_runs.artifact_id),
			error_code = NULLIF(EXCLUDED.error_code, ''),
			error_message = NULLIF(EXCLUDED.error_message, ''),
			processing_time_ms = COALESCE(NULLIF(EXCLUDED.processing_time_ms, 0), searchable_pdf.export_runs.processing_time_ms),
			metadata = COALESCE(EXCLUDED.metadata, searchable_pdf.export_runs.metadata),
			updated_at = NOW()
		RETURNING id
	`

	var returnedID string
	err = l.db.QueryRowContext(
		ctx,
		query,
		update.RunID,
		update.SourceDocumentID,
		update.RelationKey,
		update.Status,
		update.PageCount,
		update.SkippedRuns,
		update.ArtifactID,
		update.ErrorCode,
		update.ErrorMessage,
		update.ProcessingTimeMs,
		metadataJSON,
	).Scan(&returnedID)

	if err == sql.ErrNoRows {
		return fmt.Errorf("run not found: %s", update.RunID)
	}
	if err != nil {
		return fmt.Errorf("failed to update run status (run=%s, status=%s): %w",
			update.RunID, update.Status, err)
	}

	return nil
}

// RecordOrphan registers a document that stayed behind after a failed
// stale-target delete. Idempotent per document id.
func (l *Ledger) RecordOrphan(ctx context.Context, sourceDocumentID, documentID, reason string) error {
	if documentID == "" {
		return fmt.Errorf("document ID is required")
	}

	query := `
		INSERT INTO searchable_pdf.orphaned_documents (
			document_id, source_document_id, reason, created_at
		) VALUES ($1, $2, $3, NOW())
		ON CONFLICT (document_id) DO UPDATE SET
			reason = EXCLUDED.reason,
			created_at = searchable_pdf.orphaned_documents.created_at
	`

	if _, err := l.db.ExecContext(ctx, query, documentID, sourceDocumentID, reason); err != nil {
		return fmt.Errorf("failed to record orphaned document %s: %w", documentID, err)
	}
	return nil
}

// GetRunByID retrieves one export run.
func (l *Ledger) GetRunByID(ctx context.Context, runID string) (map[string]interface{}, error) {
	if runID == "" {
		return nil, fmt.Errorf("run ID is required")
	}

	query := `
		SELECT
			id, source_document_id, relation_key, status,
			page_count, skipped_runs, artifact_id,
			error_code, error_message, processing_time_ms, metadata,
			created_at, updated_at
		FROM searchable_pdf.export_runs
		WHERE id = $1::uuid
	`

	var (
		id, sourceDocumentID, relationKey, status string
		pageCount, skippedRuns                    sql.NullInt64
		artifactID, errorCode, errorMessage       sql.NullString
		processingTimeMs                          sql.NullInt64
		metadataJSON                              []byte
		createdAt, updatedAt                      time.Time
	)

	err := l.db.QueryRowContext(ctx, query, runID).Scan(
		&id, &sourceDocumentID, &relationKey, &status,
		&pageCount, &skippedRuns, &artifactID,
		&errorCode, &errorMessage, &processingTimeMs,
		&metadataJSON, &createdAt, &updatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("run not found: %s", runID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}

	var metadata map[string]interface{}
	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}

	result := map[string]interface{}{
		"id":               id,
		"sourceDocumentId": sourceDocumentID,
		"relationKey":      relationKey,
		"status":           status,
		"createdAt":        createdAt,
		"updatedAt":        updatedAt,
		"metadata":         metadata,
	}

	if pageCount.Valid {
		result["pageCount"] = pageCount.Int64
	}
	if skippedRuns.Valid {
		result["skippedRuns"] = skippedRuns.Int64
	}
	if artifactID.Valid {
		result["artifactId"] = artifactID.String
	}
	if errorCode.Valid {
		result["errorCode"] = errorCode.String
	}
	if errorMessage.Valid {
		result["errorMessage"] = errorMessage.String
	}
	if processingTimeMs.Valid {
		result["processingTimeMs"] = processingTimeMs.Int64
	}

	return result, nil
}

// Ping checks database connectivity.
func (l *Ledger) Ping(ctx context.Context) error {
	return l.db.PingContext(ctx)
}

// Close closes the database connection.
func (l *Ledger) Close() error {
	if l.db != nil {
		return l.db.Close()
	}
	return nil
}

// GetStats returns connection pool statistics.
func (l *Ledger) GetStats() sql.DBStats {
	return l.db.Stats()
}
