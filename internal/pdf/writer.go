/**
 * Minimal single-pass PDF writer
 *
 * Produces a multi-page PDF 1.7 document where each page is one full-bleed
 * image plus a sequence of text runs. The writer emits a flat object table
 * (catalog, page tree, shared Helvetica font, then page/contents/image
 * triples) followed by a classic xref table and trailer. Content streams
 * are left uncompressed; image sample data carries its own filter.
 */

package pdf

import (
	"bytes"
	"fmt"
	"math"
	"strconv"
)

// TextRenderMode matches PDF text rendering modes set via the Tr operator.
type TextRenderMode int

const (
	TextFill TextRenderMode = iota
	TextStroke
	TextFillStroke
	TextInvisible
)

// TextRun is one positioned text string on a page. X/Y are the baseline
// origin in PDF points (bottom-left origin).
type TextRun struct {
	Text         string
	X            float64
	Y            float64
	FontSize     float64
	HorizScaling float64 // percent; 0 or 100 means none
	RenderMode   TextRenderMode
}

// Page is one finished output page: media box, background image and the
// text runs drawn over it, in order.
type Page struct {
	Width  float64
	Height float64
	Image  *Image
	Runs   []TextRun
}

// Document accumulates pages and serializes them in insertion order.
type Document struct {
	pages []Page
}

// NewDocument creates an empty document.
func NewDocument() *Document {
	return &Document{}
}

// AddPage appends one page. Pages are emitted in the order they are added.
func (d *Document) AddPage(p Page) {
	d.pages = append(d.pages, p)
}

// PageCount returns the number of pages added so far.
func (d *Document) PageCount() int {
	return len(d.pages)
}

// Object numbers are fixed up front: 1 catalog, 2 page tree, 3 font, then
// three objects per page in page order.
const (
	objCatalog = 1
	objPages   = 2
	objFont    = 3
	objPerPage = 3
)

func pageObjNum(i int) int    { return objFont + 1 + i*objPerPage }
func contentObjNum(i int) int { return pageObjNum(i) + 1 }
func imageObjNum(i int) int   { return pageObjNum(i) + 2 }

// Bytes serializes the whole document into one buffer. A well-formed
// trailer needs every object offset, so there is no streaming variant.
func (d *Document) Bytes() ([]byte, error) {
	if len(d.pages) == 0 {
		return nil, fmt.Errorf("pdf: document has no pages")
	}

	var buf bytes.Buffer
	buf.WriteString("%PDF-1.7\n%\xe2\xe3\xcf\xd3\n")

	lastObj := imageObjNum(len(d.pages) - 1)
	offsets := make([]int, lastObj+1)

	writeObj := func(num int, body func(*bytes.Buffer)) {
		offsets[num] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n", num)
		body(&buf)
		buf.WriteString("\nendobj\n")
	}

	writeObj(objCatalog, func(b *bytes.Buffer) {
		fmt.Fprintf(b, "<< /Type /Catalog /Pages %d 0 R >>", objPages)
	})

	writeObj(objPages, func(b *bytes.Buffer) {
		b.WriteString("<< /Type /Pages /Kids [")
		for i := range d.pages {
			if i > 0 {
				b.WriteByte(' ')
			}
			fmt.Fprintf(b, "%d 0 R", pageObjNum(i))
		}
		fmt.Fprintf(b, "] /Count %d >>", len(d.pages))
	})

	writeObj(objFont, func(b *bytes.Buffer) {
		b.WriteString("<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica /Encoding /WinAnsiEncoding >>")
	})

	for i, page := range d.pages {
		if page.Image == nil {
			return nil, fmt.Errorf("pdf: page %d has no background image", i+1)
		}
		if page.Width <= 0 || page.Height <= 0 {
			return nil, fmt.Errorf("pdf: page %d has invalid media box %gx%g", i+1, page.Width, page.Height)
		}

		pg := page
		idx := i
		writeObj(pageObjNum(idx), func(b *bytes.Buffer) {
			fmt.Fprintf(b, "<< /Type /Page /Parent %d 0 R /MediaBox [0 0 %s %s] ",
				objPages, formatNumber(pg.Width), formatNumber(pg.Height))
			fmt.Fprintf(b, "/Resources << /XObject << /Im0 %d 0 R >> /Font << /F0 %d 0 R >> /ProcSet [/PDF /Text /ImageC] >> ",
				imageObjNum(idx), objFont)
			fmt.Fprintf(b, "/Contents %d 0 R >>", contentObjNum(idx))
		})

		content := pg.contentStream()
		writeObj(contentObjNum(idx), func(b *bytes.Buffer) {
			fmt.Fprintf(b, "<< /Length %d >>\nstream\n", len(content))
			b.Write(content)
			b.WriteString("\nendstream")
		})

		writeObj(imageObjNum(idx), func(b *bytes.Buffer) {
			img := pg.Image
			fmt.Fprintf(b, "<< /Type /XObject /Subtype /Image /Width %d /Height %d /ColorSpace /%s /BitsPerComponent %d /Filter /%s /Length %d >>\nstream\n",
				img.Width, img.Height, img.ColorSpace, img.BitsPerComponent, img.Filter, len(img.Data))
			b.Write(img.Data)
			b.WriteString("\nendstream")
		})
	}

	xrefOffset := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n", lastObj+1)
	buf.WriteString("0000000000 65535 f \n")
	for num := 1; num <= lastObj; num++ {
		fmt.Fprintf(&buf, "%010d 00000 n \n", offsets[num])
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root %d 0 R >>\nstartxref\n%d\n%%%%EOF\n",
		lastObj+1, objCatalog, xrefOffset)

	return buf.Bytes(), nil
}

// contentStream renders the page operators: background image first, then
// every text run in supplied order. Run order determines extraction order.
func (p Page) contentStream() []byte {
	var b bytes.Buffer

	fmt.Fprintf(&b, "q\n%s 0 0 %s 0 0 cm\n/Im0 Do\nQ\n",
		formatNumber(p.Width), formatNumber(p.Height))

	for _, r := range p.Runs {
		b.WriteString("BT\n")
		fmt.Fprintf(&b, "%d Tr\n", r.RenderMode)
		fmt.Fprintf(&b, "/F0 %s Tf\n", formatNumber(r.FontSize))
		if r.HorizScaling != 0 && r.HorizScaling != 100 {
			fmt.Fprintf(&b, "%s Tz\n", formatNumber(r.HorizScaling))
		}
		fmt.Fprintf(&b, "1 0 0 1 %s %s Tm\n", formatNumber(r.X), formatNumber(r.Y))
		b.WriteByte('(')
		b.Write(escapeString(EncodeWinAnsi(r.Text)))
		b.WriteString(") Tj\nET\n")
	}

	return b.Bytes()
}

// formatNumber renders a coordinate with at most three decimals and no
// trailing zeros, the shortest form PDF consumers accept.
func formatNumber(v float64) string {
	rounded := math.Round(v*1000) / 1000
	return strconv.FormatFloat(rounded, 'f', -1, 64)
}
