package overlay

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"testing"

	errs "github.com/docstack/searchable-pdf-worker/internal/errors"
	"github.com/docstack/searchable-pdf-worker/internal/pdf"
)

func testRaster(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.White)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode test raster: %v", err)
	}
	return buf.Bytes()
}

// fakeSource serves a canned page set or a canned error.
type fakeSource struct {
	pages []Page
	err   error
}

func (f *fakeSource) FetchPages(ctx context.Context, sourceDocumentID string) ([]Page, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.pages, nil
}

func TestAssembleOrdersPagesByIndex(t *testing.T) {
	raster := testRaster(t, 10, 10)
	// Pages delivered shuffled; output order must follow the index.
	source := &fakeSource{pages: []Page{
		{Index: 3, ImageData: raster, Runs: []OcrRun{{Text: "three", X: 0, Y: 0, Width: 8, Height: 2}}},
		{Index: 1, ImageData: raster, Runs: []OcrRun{{Text: "one", X: 0, Y: 0, Width: 8, Height: 2}}},
		{Index: 2, ImageData: raster, Runs: []OcrRun{{Text: "two", X: 0, Y: 0, Width: 8, Height: 2}}},
	}}

	result, err := NewAssembler(72).Assemble(context.Background(), source, "doc-1")
	if err != nil {
		t.Fatalf("Assemble failed: %v", err)
	}
	if result.PageCount != 3 {
		t.Fatalf("PageCount = %d, want 3", result.PageCount)
	}

	pages, err := pdf.ExtractText(result.PDF)
	if err != nil {
		t.Fatalf("ExtractText failed: %v", err)
	}
	want := []string{"one", "two", "three"}
	for i, text := range want {
		if len(pages[i]) != 1 || pages[i][0] != text {
			t.Errorf("page %d strings = %v, want [%s]", i+1, pages[i], text)
		}
	}
}

func TestAssembleCountsSkippedRuns(t *testing.T) {
	raster := testRaster(t, 10, 10)
	source := &fakeSource{pages: []Page{
		{Index: 1, ImageData: raster, Runs: []OcrRun{
			{Text: "kept", X: 0, Y: 0, Width: 8, Height: 2},
			{Text: "   ", X: 0, Y: 4, Width: 8, Height: 2},
			{Text: "zero", X: 0, Y: 6, Width: 0, Height: 2},
		}},
		{Index: 2, ImageData: raster, Runs: []OcrRun{
			{Text: "", X: 0, Y: 0, Width: 8, Height: 2},
		}},
	}}

	result, err := NewAssembler(72).Assemble(context.Background(), source, "doc-1")
	if err != nil {
		t.Fatalf("Assemble failed: %v", err)
	}
	if result.SkippedRuns != 3 {
		t.Errorf("SkippedRuns = %d, want 3", result.SkippedRuns)
	}

	pages, err := pdf.ExtractText(result.PDF)
	if err != nil {
		t.Fatalf("ExtractText failed: %v", err)
	}
	if len(pages[0]) != 1 || pages[0][0] != "kept" {
		t.Errorf("page 1 strings = %v, want only the kept run", pages[0])
	}
	if len(pages[1]) != 0 {
		t.Errorf("page 2 strings = %v, want none", pages[1])
	}
}

func TestAssembleAbortsOnFailure(t *testing.T) {
	raster := testRaster(t, 10, 10)

	testCases := []struct {
		name     string
		source   *fakeSource
		wantCode errs.ErrorCode
	}{
		{
			name:     "fetch error",
			source:   &fakeSource{err: fmt.Errorf("connection refused")},
			wantCode: errs.ErrorFetchFailed,
		},
		{
			name:     "no pages",
			source:   &fakeSource{},
			wantCode: errs.ErrorFetchFailed,
		},
		{
			name: "non-contiguous page indices",
			source: &fakeSource{pages: []Page{
				{Index: 1, ImageData: raster},
				{Index: 3, ImageData: raster},
			}},
			wantCode: errs.ErrorFetchFailed,
		},
		{
			name: "indices not starting at one",
			source: &fakeSource{pages: []Page{
				{Index: 2, ImageData: raster},
				{Index: 3, ImageData: raster},
			}},
			wantCode: errs.ErrorFetchFailed,
		},
		{
			name: "undecodable page image",
			source: &fakeSource{pages: []Page{
				{Index: 1, ImageData: raster},
				{Index: 2, ImageData: []byte("corrupt")},
			}},
			wantCode: errs.ErrorDecodeFailed,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			result, err := NewAssembler(72).Assemble(context.Background(), tc.source, "doc-1")
			if err == nil {
				t.Fatalf("expected error, got result with %d pages", result.PageCount)
			}
			if result != nil {
				t.Errorf("aborted run must not yield a partial artifact")
			}
			if code := errs.CodeOf(err); code != tc.wantCode {
				t.Errorf("error code = %s, want %s", code, tc.wantCode)
			}
		})
	}
}

func TestComposePage(t *testing.T) {
	t.Run("metadata dimensions win", func(t *testing.T) {
		page := Page{
			Index:       1,
			ImageData:   testRaster(t, 10, 10),
			PixelWidth:  612,
			PixelHeight: 792,
		}
		composed, skipped, err := ComposePage(page, 72)
		if err != nil {
			t.Fatalf("ComposePage failed: %v", err)
		}
		if skipped != 0 {
			t.Errorf("skipped = %d, want 0", skipped)
		}
		if composed.Width != 612 || composed.Height != 792 {
			t.Errorf("media box = %gx%g, want 612x792", composed.Width, composed.Height)
		}
	})

	t.Run("falls back to raster dimensions", func(t *testing.T) {
		page := Page{Index: 1, ImageData: testRaster(t, 40, 60)}
		composed, _, err := ComposePage(page, 72)
		if err != nil {
			t.Fatalf("ComposePage failed: %v", err)
		}
		if composed.Width != 40 || composed.Height != 60 {
			t.Errorf("media box = %gx%g, want 40x60", composed.Width, composed.Height)
		}
	})

	t.Run("all runs are invisible", func(t *testing.T) {
		page := Page{
			Index:     1,
			ImageData: testRaster(t, 100, 100),
			Runs: []OcrRun{
				{Text: "a", X: 0, Y: 0, Width: 10, Height: 5},
				{Text: "b", X: 0, Y: 10, Width: 10, Height: 5},
			},
		}
		composed, _, err := ComposePage(page, 72)
		if err != nil {
			t.Fatalf("ComposePage failed: %v", err)
		}
		if len(composed.Runs) != 2 {
			t.Fatalf("composed %d runs, want 2", len(composed.Runs))
		}
		for i, run := range composed.Runs {
			if run.RenderMode != pdf.TextInvisible {
				t.Errorf("run %d render mode = %d, want %d", i, run.RenderMode, pdf.TextInvisible)
			}
		}
	})
}
