/**
 * Text extraction for generated documents
 *
 * A deliberately small reader: it walks the xref table, follows the page
 * tree in /Kids order and collects literal strings shown with Tj, per
 * page, in content-stream order. That is exactly the order a conforming
 * viewer exposes for selection and search, which is what the round-trip
 * guarantees of the overlay are stated against.
 */

package pdf

import (
	"bytes"
	"compress/zlib"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
)

var (
	startxrefRe = regexp.MustCompile(`startxref\s+(\d+)`)
	refRe       = regexp.MustCompile(`(\d+) 0 R`)
	lengthRe    = regexp.MustCompile(`/Length\s+(\d+)`)
	rootRe      = regexp.MustCompile(`/Root\s+(\d+) 0 R`)
	pagesRe     = regexp.MustCompile(`/Pages\s+(\d+) 0 R`)
	kidsRe      = regexp.MustCompile(`/Kids\s*\[([^\]]*)\]`)
	contentsRe  = regexp.MustCompile(`/Contents\s+(\d+) 0 R`)
)

// ExtractText returns the Tj strings of every page, outer slice in page
// order, inner slice in drawing order.
func ExtractText(data []byte) ([][]string, error) {
	offsets, trailer, err := parseXref(data)
	if err != nil {
		return nil, err
	}

	rootNum, err := matchRef(rootRe, trailer, "trailer /Root")
	if err != nil {
		return nil, err
	}
	catalog, _, err := objectAt(data, offsets, rootNum)
	if err != nil {
		return nil, err
	}

	pagesNum, err := matchRef(pagesRe, catalog, "catalog /Pages")
	if err != nil {
		return nil, err
	}
	pageTree, _, err := objectAt(data, offsets, pagesNum)
	if err != nil {
		return nil, err
	}

	kids := kidsRe.FindSubmatch(pageTree)
	if kids == nil {
		return nil, fmt.Errorf("pdf: page tree has no /Kids")
	}

	var pages [][]string
	for _, ref := range refRe.FindAllSubmatch(kids[1], -1) {
		kidNum, _ := strconv.Atoi(string(ref[1]))
		pageDict, _, err := objectAt(data, offsets, kidNum)
		if err != nil {
			return nil, err
		}

		contentNum, err := matchRef(contentsRe, pageDict, "page /Contents")
		if err != nil {
			return nil, err
		}
		contentDict, stream, err := objectAt(data, offsets, contentNum)
		if err != nil {
			return nil, err
		}
		if bytes.Contains(contentDict, []byte("/FlateDecode")) {
			zr, err := zlib.NewReader(bytes.NewReader(stream))
			if err != nil {
				return nil, fmt.Errorf("pdf: inflate content stream: %w", err)
			}
			stream, err = io.ReadAll(zr)
			if err != nil {
				return nil, fmt.Errorf("pdf: inflate content stream: %w", err)
			}
		}

		pages = append(pages, shownStrings(stream))
	}

	return pages, nil
}

// parseXref reads the classic xref table referenced by startxref and
// returns object offsets plus the raw trailer dictionary bytes.
func parseXref(data []byte) (map[int]int, []byte, error) {
	m := startxrefRe.FindAllSubmatch(data, -1)
	if m == nil {
		return nil, nil, fmt.Errorf("pdf: no startxref")
	}
	xrefOff, _ := strconv.Atoi(string(m[len(m)-1][1]))
	if xrefOff <= 0 || xrefOff >= len(data) {
		return nil, nil, fmt.Errorf("pdf: startxref offset %d out of range", xrefOff)
	}

	sec := data[xrefOff:]
	if !bytes.HasPrefix(sec, []byte("xref")) {
		return nil, nil, fmt.Errorf("pdf: no xref table at offset %d", xrefOff)
	}

	offsets := make(map[int]int)
	lines := bytes.Split(sec, []byte("\n"))
	i := 1
	for i < len(lines) {
		header := strings.Fields(string(lines[i]))
		if len(header) != 2 {
			break // trailer reached
		}
		first, err1 := strconv.Atoi(header[0])
		count, err2 := strconv.Atoi(header[1])
		if err1 != nil || err2 != nil {
			break
		}
		i++
		for j := 0; j < count && i < len(lines); j, i = j+1, i+1 {
			entry := strings.Fields(string(lines[i]))
			if len(entry) < 3 || entry[2] != "n" {
				continue
			}
			off, err := strconv.Atoi(entry[0])
			if err != nil {
				return nil, nil, fmt.Errorf("pdf: malformed xref entry %q", string(lines[i]))
			}
			offsets[first+j] = off
		}
	}

	trailerIdx := bytes.Index(sec, []byte("trailer"))
	if trailerIdx < 0 {
		return nil, nil, fmt.Errorf("pdf: no trailer")
	}
	return offsets, sec[trailerIdx:], nil
}

// objectAt returns an object's dictionary bytes and, for stream objects,
// the raw stream payload.
func objectAt(data []byte, offsets map[int]int, num int) ([]byte, []byte, error) {
	off, ok := offsets[num]
	if !ok || off >= len(data) {
		return nil, nil, fmt.Errorf("pdf: object %d not in xref", num)
	}
	body := data[off:]
	if !bytes.HasPrefix(body, []byte(fmt.Sprintf("%d 0 obj", num))) {
		return nil, nil, fmt.Errorf("pdf: offset %d does not hold object %d", off, num)
	}

	endobj := bytes.Index(body, []byte("endobj"))
	streamIdx := bytes.Index(body, []byte("stream"))
	if streamIdx < 0 || (endobj >= 0 && endobj < streamIdx) {
		if endobj < 0 {
			return nil, nil, fmt.Errorf("pdf: object %d is not terminated", num)
		}
		return body[:endobj], nil, nil
	}

	dict := body[:streamIdx]
	lm := lengthRe.FindSubmatch(dict)
	if lm == nil {
		return nil, nil, fmt.Errorf("pdf: stream object %d has no direct /Length", num)
	}
	length, _ := strconv.Atoi(string(lm[1]))

	payload := body[streamIdx+len("stream"):]
	payload = bytes.TrimPrefix(payload, []byte("\r\n"))
	payload = bytes.TrimPrefix(payload, []byte("\n"))
	if length > len(payload) {
		return nil, nil, fmt.Errorf("pdf: stream object %d shorter than /Length %d", num, length)
	}
	return dict, payload[:length], nil
}

func matchRef(re *regexp.Regexp, src []byte, what string) (int, error) {
	m := re.FindSubmatch(src)
	if m == nil {
		return 0, fmt.Errorf("pdf: missing %s reference", what)
	}
	return strconv.Atoi(string(m[1]))
}

// shownStrings scans a content stream for literal strings followed by the
// Tj operator and decodes them back from WinAnsi.
func shownStrings(content []byte) []string {
	var out []string
	for i := 0; i < len(content); i++ {
		if content[i] != '(' {
			continue
		}
		literal, next, ok := readLiteral(content, i)
		if !ok {
			continue
		}
		// The operator follows the operand, separated by whitespace.
		j := next
		for j < len(content) && (content[j] == ' ' || content[j] == '\n' || content[j] == '\r') {
			j++
		}
		if j+1 < len(content) && content[j] == 'T' && content[j+1] == 'j' {
			out = append(out, DecodeWinAnsi(literal))
		}
		i = next - 1
	}
	return out
}

// readLiteral parses a PDF literal string starting at the '(' position and
// returns the unescaped bytes plus the index just past the closing ')'.
func readLiteral(content []byte, start int) ([]byte, int, bool) {
	var lit []byte
	depth := 1
	i := start + 1
	for i < len(content) {
		c := content[i]
		switch c {
		case '\\':
			if i+1 >= len(content) {
				return nil, 0, false
			}
			esc := content[i+1]
			switch esc {
			case 'n':
				lit = append(lit, '\n')
			case 'r':
				lit = append(lit, '\r')
			case 't':
				lit = append(lit, '\t')
			case 'b':
				lit = append(lit, '\b')
			case 'f':
				lit = append(lit, '\f')
			case '(', ')', '\\':
				lit = append(lit, esc)
			default:
				if esc >= '0' && esc <= '7' {
					val, n := readOctal(content, i+1)
					lit = append(lit, val)
					i += n - 1
				} else {
					lit = append(lit, esc)
				}
			}
			i += 2
		case '(':
			depth++
			lit = append(lit, c)
			i++
		case ')':
			depth--
			if depth == 0 {
				return lit, i + 1, true
			}
			lit = append(lit, c)
			i++
		default:
			lit = append(lit, c)
			i++
		}
	}
	return nil, 0, false
}

func readOctal(content []byte, start int) (byte, int) {
	val := 0
	n := 0
	for n < 3 && start+n < len(content) && content[start+n] >= '0' && content[start+n] <= '7' {
		val = val*8 + int(content[start+n]-'0')
		n++
	}
	return byte(val), n
}
