package overlay

import (
	"fmt"

	"github.com/docstack/searchable-pdf-worker/internal/pdf"
)

// ComposePage turns one input page into a finished PDF page: the scan as a
// full-bleed background, then every OCR run drawn invisibly at its
// normalized position, in source order. Returns the page and the number of
// degenerate runs skipped.
//
// An undecodable image is a hard error: a document with a missing page
// cannot be assembled without breaking page-index contiguity.
func ComposePage(page Page, dpi float64) (pdf.Page, int, error) {
	img, err := pdf.DecodeImage(page.ImageData)
	if err != nil {
		return pdf.Page{}, 0, fmt.Errorf("page %d: %w", page.Index, err)
	}

	pixelW, pixelH := page.PixelWidth, page.PixelHeight
	if pixelW <= 0 || pixelH <= 0 {
		// Trust the decoded raster when the API metadata is absent.
		pixelW, pixelH = img.Width, img.Height
	}

	space := NewPageSpace(pixelW, pixelH, dpi)

	out := pdf.Page{
		Width:  space.PageWidth,
		Height: space.PageHeight,
		Image:  img,
	}

	skipped := 0
	for _, run := range page.Runs {
		nr, ok := space.NormalizeRun(run)
		if !ok {
			skipped++
			continue
		}
		out.Runs = append(out.Runs, pdf.TextRun{
			Text:         nr.Text,
			X:            nr.X,
			Y:            nr.Y,
			FontSize:     nr.FontSize,
			HorizScaling: nr.HorizScaling,
			RenderMode:   pdf.TextInvisible,
		})
	}

	return out, skipped, nil
}
