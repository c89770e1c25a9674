/**
 * Document assembler
 *
 * Pulls the ordered pages of one source document, composes each page and
 * serializes the whole artifact in memory. The run either reaches
 * "finalized" with a complete byte stream or "aborted" with nothing: no
 * partial artifact ever leaves this package.
 */

package overlay

import (
	"context"
	"fmt"
	"sort"

	errs "github.com/docstack/searchable-pdf-worker/internal/errors"
	"github.com/docstack/searchable-pdf-worker/internal/logging"
	"github.com/docstack/searchable-pdf-worker/internal/pdf"
)

// runState tracks the assembler's progress for error reporting.
type runState string

const (
	stateFetching  runState = "fetching"
	stateComposing runState = "composing"
	stateFinalized runState = "finalized"
	stateAborted   runState = "aborted"
)

// Result is a finished, fully buffered artifact.
type Result struct {
	PDF         []byte
	PageCount   int
	SkippedRuns int
}

// Assembler drives page composition for whole documents.
type Assembler struct {
	dpi float64
	log *logging.Logger
}

// NewAssembler creates an assembler rendering at the given DPI.
func NewAssembler(dpi float64) *Assembler {
	return &Assembler{
		dpi: dpi,
		log: logging.NewLogger("assembler"),
	}
}

// Assemble fetches all pages for sourceDocumentID and composes them into
// one multi-page PDF, in page-index order.
func (a *Assembler) Assemble(ctx context.Context, source PageSource, sourceDocumentID string) (*Result, error) {
	state := stateFetching

	pages, err := source.FetchPages(ctx, sourceDocumentID)
	if err != nil {
		state = stateAborted
		a.log.Error("Page fetch failed", "source", sourceDocumentID, "state", state)
		return nil, errs.NewFetchFailedError(sourceDocumentID, err)
	}
	if len(pages) == 0 {
		state = stateAborted
		return nil, errs.NewFetchFailedError(sourceDocumentID,
			fmt.Errorf("source document has no pages"))
	}

	// Index order is a hard invariant of the output; indices must also be
	// contiguous starting at 1, otherwise a page went missing upstream.
	sort.SliceStable(pages, func(i, j int) bool { return pages[i].Index < pages[j].Index })
	for i, p := range pages {
		if p.Index != i+1 {
			state = stateAborted
			return nil, errs.NewFetchFailedError(sourceDocumentID,
				fmt.Errorf("non-contiguous page indices: expected %d, got %d", i+1, p.Index))
		}
	}

	doc := pdf.NewDocument()
	skipped := 0
	for _, page := range pages {
		state = stateComposing
		composed, pageSkipped, err := ComposePage(page, a.dpi)
		if err != nil {
			state = stateAborted
			a.log.Error("Page composition failed", "source", sourceDocumentID,
				"page", page.Index, "state", state)
			return nil, errs.NewDecodeFailedError(sourceDocumentID, page.Index, err)
		}
		skipped += pageSkipped
		doc.AddPage(composed)
	}

	raw, err := doc.Bytes()
	if err != nil {
		state = stateAborted
		return nil, errs.NewDecodeFailedError(sourceDocumentID, 0, err)
	}
	state = stateFinalized

	a.log.Info("Document assembled", "source", sourceDocumentID,
		"pages", doc.PageCount(), "skipped_runs", skipped,
		"bytes", len(raw), "state", state)

	return &Result{
		PDF:         raw,
		PageCount:   doc.PageCount(),
		SkippedRuns: skipped,
	}, nil
}
