/**
 * Export processor for the searchable-PDF worker
 *
 * Orchestrates one export run end to end:
 *   1. fetch page images + OCR lines for the source document
 *   2. compose the searchable PDF (visible scan + invisible text layer)
 *   3. upsert the export relation (upload, link, supersede stale target)
 *   4. persist the outcome in the run ledger
 *
 * One invocation processes exactly one source document; there is no shared
 * mutable state between invocations beyond the external relation store and
 * the ledger, so runs for different documents may execute concurrently.
 */

package processor

import (
	"context"
	"fmt"
	"log"
	"time"

	errs "github.com/docstack/searchable-pdf-worker/internal/errors"
	"github.com/docstack/searchable-pdf-worker/internal/overlay"
	"github.com/docstack/searchable-pdf-worker/internal/relation"
	"github.com/docstack/searchable-pdf-worker/internal/storage"
)

// ExportProcessorInterface defines the interface the queue consumers drive.
type ExportProcessorInterface interface {
	ProcessDocument(ctx context.Context, req *ProcessRequest) (*ProcessResult, error)
	UpdateRunStatus(ctx context.Context, runID string, status string, metadata map[string]interface{}) error
}

// ProcessorConfig holds processor configuration.
type ProcessorConfig struct {
	RenderDPI   float64
	RelationKey string
	Source      overlay.PageSource
	Store       relation.Store
	Ledger      *storage.Ledger
}

// ProcessRequest represents one export run.
type ProcessRequest struct {
	RunID            string
	SourceDocumentID string
	Metadata         map[string]interface{}
}

// ProcessResult represents the run outcome.
type ProcessResult struct {
	DocumentID         string
	RelationID         string
	RelationCreated    bool
	PageCount          int
	SkippedRuns        int
	OrphanedDocumentID string
	ProcessingTimeMs   int64
}

// ExportProcessor handles export runs.
type ExportProcessor struct {
	config    *ProcessorConfig
	assembler *overlay.Assembler
	relations *relation.Manager
	ledger    *storage.Ledger
}

// NewExportProcessor creates a new export processor.
func NewExportProcessor(cfg *ProcessorConfig) (*ExportProcessor, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if cfg.Source == nil {
		return nil, fmt.Errorf("page source is required")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("relation store is required")
	}
	if cfg.Ledger == nil {
		return nil, fmt.Errorf("run ledger is required")
	}

	relations, err := relation.NewManager(cfg.Store, cfg.RelationKey)
	if err != nil {
		return nil, err
	}

	dpi := cfg.RenderDPI
	if dpi <= 0 {
		dpi = 72
	}

	return &ExportProcessor{
		config:    cfg,
		assembler: overlay.NewAssembler(dpi),
		relations: relations,
		ledger:    cfg.Ledger,
	}, nil
}

// ProcessDocument runs the full export pipeline for one source document.
func (p *ExportProcessor) ProcessDocument(ctx context.Context, req *ProcessRequest) (*ProcessResult, error) {
	if req.SourceDocumentID == "" {
		return nil, fmt.Errorf("source document id is required")
	}

	start := time.Now()
	log.Printf("[Run %s] Starting export for source document %s", req.RunID, req.SourceDocumentID)

	result, err := p.assembler.Assemble(ctx, p.config.Source, req.SourceDocumentID)
	if err != nil {
		// Aborted before any relation mutation; nothing to clean up.
		p.recordFailure(ctx, req, err, time.Since(start))
		return nil, err
	}
	log.Printf("[Run %s] Artifact assembled: pages=%d, skipped_runs=%d, bytes=%d",
		req.RunID, result.PageCount, result.SkippedRuns, len(result.PDF))

	upsert, err := p.relations.Upsert(ctx, req.SourceDocumentID, result.PDF)
	if err != nil {
		p.recordFailure(ctx, req, err, time.Since(start))
		return nil, err
	}
	log.Printf("[Run %s] Relation upserted: relation=%s, document=%s, created=%v",
		req.RunID, upsert.Relation.ID, upsert.DocumentID, upsert.Created)

	if upsert.OrphanedDocumentID != "" {
		// Best-effort registry write; the run already succeeded.
		if err := p.ledger.RecordOrphan(ctx, req.SourceDocumentID, upsert.OrphanedDocumentID,
			"stale export target delete failed"); err != nil {
			log.Printf("[Run %s] WARNING: Failed to record orphaned document %s: %v",
				req.RunID, upsert.OrphanedDocumentID, err)
		}
	}

	elapsed := time.Since(start)
	runResult := &ProcessResult{
		DocumentID:         upsert.DocumentID,
		RelationID:         upsert.Relation.ID,
		RelationCreated:    upsert.Created,
		PageCount:          result.PageCount,
		SkippedRuns:        result.SkippedRuns,
		OrphanedDocumentID: upsert.OrphanedDocumentID,
		ProcessingTimeMs:   elapsed.Milliseconds(),
	}

	if err := p.ledger.UpdateRunStatus(ctx, &storage.RunUpdate{
		RunID:            req.RunID,
		SourceDocumentID: req.SourceDocumentID,
		RelationKey:      p.relations.Key(),
		Status:           "completed",
		PageCount:        runResult.PageCount,
		SkippedRuns:      runResult.SkippedRuns,
		ArtifactID:       runResult.DocumentID,
		ProcessingTimeMs: runResult.ProcessingTimeMs,
		Metadata:         req.Metadata,
	}); err != nil {
		log.Printf("[Run %s] WARNING: Failed to persist completed status: %v", req.RunID, err)
	}

	log.Printf("[Run %s] Export complete in %v: document=%s", req.RunID, elapsed, upsert.DocumentID)
	return runResult, nil
}

// UpdateRunStatus persists a run status change in the ledger.
func (p *ExportProcessor) UpdateRunStatus(ctx context.Context, runID string, status string, metadata map[string]interface{}) error {
	update := &storage.RunUpdate{
		RunID:       runID,
		Status:      status,
		RelationKey: p.relations.Key(),
		Metadata:    metadata,
	}

	if metadata != nil {
		if sourceID, ok := metadata["sourceDocumentId"].(string); ok {
			update.SourceDocumentID = sourceID
		}
		if errMsg, ok := metadata["error"].(string); ok {
			update.ErrorCode = string(errs.ErrorLedgerFailed)
			if code, ok := metadata["errorCode"].(string); ok && code != "" {
				update.ErrorCode = code
			}
			update.ErrorMessage = errMsg
		}
	}

	return p.ledger.UpdateRunStatus(ctx, update)
}

func (p *ExportProcessor) recordFailure(ctx context.Context, req *ProcessRequest, cause error, elapsed time.Duration) {
	code := errs.CodeOf(cause)
	if code == "" {
		code = errs.ErrorFetchFailed
	}
	if err := p.ledger.UpdateRunStatus(ctx, &storage.RunUpdate{
		RunID:            req.RunID,
		SourceDocumentID: req.SourceDocumentID,
		RelationKey:      p.relations.Key(),
		Status:           "failed",
		ErrorCode:        string(code),
		ErrorMessage:     cause.Error(),
		ProcessingTimeMs: elapsed.Milliseconds(),
		Metadata:         req.Metadata,
	}); err != nil {
		log.Printf("[Run %s] WARNING: Failed to persist failed status: %v", req.RunID, err)
	}
}
