/**
 * Relation upsert manager
 *
 * Binds a generated artifact to its source document through the external
 * relation store, guaranteeing at most one relation per
 * (source document, key) pair no matter how often a run repeats.
 *
 * Rerun ordering is deliberate: upload new, repoint the relation, and only
 * then delete the old target. If the delete is interrupted the relation
 * still points at a valid document and the stale one is merely orphaned,
 * which the ledger records for external cleanup. The reverse order could
 * leave the relation dangling, which is never acceptable.
 */

package relation

import (
	"context"
	"errors"
	"fmt"

	errs "github.com/docstack/searchable-pdf-worker/internal/errors"
	"github.com/docstack/searchable-pdf-worker/internal/logging"
)

// KindExport tags relations created by this worker.
const KindExport = "export"

// ErrNotFound is returned by Store.DeleteDocument when the target is
// already gone; the manager treats that as a successful delete.
var ErrNotFound = errors.New("document not found")

// Record is one key→document binding held by the relation store.
type Record struct {
	ID               string
	SourceDocumentID string
	Key              string
	Kind             string
	TargetDocumentID string
}

// Store is the external relation-store collaborator. All calls may block
// on I/O and honour ctx.
type Store interface {
	FindRelation(ctx context.Context, sourceDocumentID, key, kind string) (*Record, error)
	CreateRelation(ctx context.Context, sourceDocumentID, key, kind, targetDocumentID string) (*Record, error)
	UpdateRelation(ctx context.Context, relationID, targetDocumentID string) (*Record, error)
	UploadDocument(ctx context.Context, content []byte, filename string) (string, error)
	DeleteDocument(ctx context.Context, documentID string) error
}

// Result reports what one upsert did.
type Result struct {
	Relation           *Record
	DocumentID         string // the freshly uploaded target
	Created            bool   // true when a new relation was created
	OrphanedDocumentID string // non-empty when the stale delete failed
}

// Manager performs the idempotent upsert protocol.
type Manager struct {
	store Store
	key   string
	log   *logging.Logger
}

// NewManager builds a manager for one relation key. The key is the only
// unconditionally mandatory configuration and has no default.
func NewManager(store Store, key string) (*Manager, error) {
	if store == nil {
		return nil, fmt.Errorf("relation store is required")
	}
	if key == "" {
		return nil, errs.NewConfigInvalidError("relation key is required and has no default")
	}
	return &Manager{
		store: store,
		key:   key,
		log:   logging.NewLogger("relation"),
	}, nil
}

// Key returns the configured relation key.
func (m *Manager) Key() string { return m.key }

// Upsert uploads the artifact and points the (source, key) relation at it.
//
// First run: upload, then create the relation. Rerun: upload, update the
// existing relation, then best-effort delete the previous target. Any
// failure before the relation mutation leaves the store exactly as found,
// so retrying the whole run is always safe.
func (m *Manager) Upsert(ctx context.Context, sourceDocumentID string, artifact []byte) (*Result, error) {
	if len(artifact) == 0 {
		return nil, fmt.Errorf("artifact is required: received empty byte stream")
	}

	existing, err := m.store.FindRelation(ctx, sourceDocumentID, m.key, KindExport)
	if err != nil {
		return nil, errs.NewRelationWriteFailedError(sourceDocumentID, m.key, err)
	}

	filename := fmt.Sprintf("%s.pdf", sourceDocumentID)
	newDocID, err := m.store.UploadDocument(ctx, artifact, filename)
	if err != nil {
		// The relation (existing or absent) is untouched; a retry of the
		// whole run starts from a clean state.
		return nil, errs.NewUploadFailedError(sourceDocumentID, err)
	}

	if existing == nil {
		record, err := m.store.CreateRelation(ctx, sourceDocumentID, m.key, KindExport, newDocID)
		if err != nil {
			// The uploaded document is orphaned but never linked.
			return nil, errs.NewRelationWriteFailedError(sourceDocumentID, m.key, err)
		}
		m.log.Info("Relation created", "source", sourceDocumentID,
			"key", m.key, "document", newDocID)
		return &Result{Relation: record, DocumentID: newDocID, Created: true}, nil
	}

	staleDocID := existing.TargetDocumentID

	record, err := m.store.UpdateRelation(ctx, existing.ID, newDocID)
	if err != nil {
		// The relation still points at the prior valid target; only the
		// new upload is orphaned.
		return nil, errs.NewRelationWriteFailedError(sourceDocumentID, m.key, err)
	}

	result := &Result{Relation: record, DocumentID: newDocID}

	if staleDocID != "" && staleDocID != newDocID {
		if err := m.store.DeleteDocument(ctx, staleDocID); err != nil && !errors.Is(err, ErrNotFound) {
			// Non-fatal: the relation already points at the new target.
			m.log.Warn("Stale document delete failed, leaving orphan",
				"source", sourceDocumentID, "document", staleDocID, "error", err)
			result.OrphanedDocumentID = staleDocID
		} else {
			m.log.Info("Stale document deleted", "source", sourceDocumentID,
				"document", staleDocID)
		}
	}

	m.log.Info("Relation updated", "source", sourceDocumentID,
		"key", m.key, "document", newDocID)
	return result, nil
}
