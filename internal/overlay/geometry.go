/**
 * Geometry normalization
 *
 * OCR boxes arrive in image pixel coordinates with a top-left origin; the
 * PDF page uses points with a bottom-left origin. PageSpace is the single
 * place that owns this transform so the arithmetic never leaks into the
 * rendering code.
 */

package overlay

import (
	"github.com/docstack/searchable-pdf-worker/internal/pdf"
)

const (
	// fontHeightFactor maps a normalized box height to a Helvetica font
	// size whose cap height roughly fills the box.
	fontHeightFactor = 0.85

	// baselineRiseFactor lifts the baseline off the box bottom so
	// descenders stay inside the box.
	baselineRiseFactor = 0.2

	// widthTolerance is the relative overflow allowed before the run is
	// compressed horizontally to fit its box.
	widthTolerance = 0.02

	// minHorizScaling caps compression so extraction-hostile hairline
	// glyphs never appear.
	minHorizScaling = 5.0
)

// PageSpace maps one page's image pixel space onto its PDF point space.
type PageSpace struct {
	ImageWidth  int
	ImageHeight int
	PageWidth   float64
	PageHeight  float64
}

// NewPageSpace derives the PDF page dimensions for an image at the given
// render DPI. The aspect ratio of the image is preserved exactly; at 72
// DPI one pixel maps to one point.
func NewPageSpace(pixelWidth, pixelHeight int, dpi float64) PageSpace {
	scale := 72.0 / dpi
	return PageSpace{
		ImageWidth:  pixelWidth,
		ImageHeight: pixelHeight,
		PageWidth:   float64(pixelWidth) * scale,
		PageHeight:  float64(pixelHeight) * scale,
	}
}

func (s PageSpace) hScale() float64 {
	return s.PageWidth / float64(s.ImageWidth)
}

func (s PageSpace) vScale() float64 {
	return s.PageHeight / float64(s.ImageHeight)
}

// NormalizedRun is an OcrRun transformed into PDF point space with a
// derived font size and horizontal scaling. Ephemeral: produced and
// consumed within one page's composition.
type NormalizedRun struct {
	Text         string
	X            float64
	Y            float64 // baseline origin, bottom-left space
	Width        float64
	Height       float64
	FontSize     float64
	HorizScaling float64 // percent, 100 = natural
}

// NormalizeRun transforms one OCR run. The second return value is false
// for degenerate runs (empty text, zero-area box), which callers skip and
// count rather than fail on.
func (s PageSpace) NormalizeRun(r OcrRun) (NormalizedRun, bool) {
	if !hasText(r.Text) {
		return NormalizedRun{}, false
	}

	w := r.Width * s.hScale()
	h := r.Height * s.vScale()
	if w <= 0 || h <= 0 {
		return NormalizedRun{}, false
	}

	fontSize := h * fontHeightFactor
	x := r.X * s.hScale()
	// Flip to bottom-left origin: the box bottom sits at pageH - (y+h),
	// and the baseline rises a fraction of the font size above it.
	y := s.PageHeight - (r.Y+r.Height)*s.vScale() + fontSize*baselineRiseFactor

	scaling := 100.0
	natural := pdf.StringWidth(r.Text, fontSize)
	if natural > 0 && natural > w*(1+widthTolerance) {
		scaling = 100 * w / natural
		if scaling < minHorizScaling {
			scaling = minHorizScaling
		}
	}

	return NormalizedRun{
		Text:         r.Text,
		X:            x,
		Y:            y,
		Width:        w,
		Height:       h,
		FontSize:     fontSize,
		HorizScaling: scaling,
	}, true
}

func hasText(s string) bool {
	for _, r := range s {
		if r != ' ' && r != '\t' && r != '\n' && r != '\r' {
			return true
		}
	}
	return false
}
