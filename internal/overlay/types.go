package overlay

import "context"

// OcrRun is one recognized text span with its bounding box in image pixel
// coordinates, top-left origin.
type OcrRun struct {
	Text   string
	X      float64
	Y      float64
	Width  float64
	Height float64
}

// Page holds everything needed to compose one output page: its 1-based
// index, the raster image bytes and size, and the OCR runs in reading
// order.
type Page struct {
	Index       int
	ImageData   []byte
	PixelWidth  int
	PixelHeight int
	Runs        []OcrRun
}

// PageSource supplies the ordered pages of a source document. Implemented
// by the docstore client; tests use in-memory fakes.
type PageSource interface {
	FetchPages(ctx context.Context, sourceDocumentID string) ([]Page, error)
}
