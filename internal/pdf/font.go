/**
 * Built-in Helvetica metrics and WinAnsi text encoding
 *
 * The overlay draws every run with the base-14 Helvetica font, so the only
 * metric the pipeline needs is the advance width per WinAnsi code. Widths
 * are in glyph-space units (1/1000 of the font size), taken from the Adobe
 * AFM for Helvetica.
 */

package pdf

import "strings"

// helveticaWidths covers codes 32..126. Codes outside this range fall back
// to helveticaDefaultWidth, which is close enough for box-fitting.
var helveticaWidths = [95]int{
	278, 278, 355, 556, 556, 889, 667, 191, // space ! " # $ % & '
	333, 333, 389, 584, 278, 333, 278, 278, // ( ) * + , - . /
	556, 556, 556, 556, 556, 556, 556, 556, // 0-7
	556, 556, 278, 278, 584, 584, 584, 556, // 8 9 : ; < = > ?
	1015, 667, 667, 722, 722, 667, 611, 778, // @ A-G
	722, 278, 500, 667, 556, 833, 722, 778, // H-O
	667, 778, 722, 667, 611, 722, 667, 944, // P-W
	667, 667, 611, 278, 278, 278, 469, 556, // X Y Z [ \ ] ^ _
	333, 556, 556, 500, 556, 556, 278, 556, // ` a-g
	556, 222, 222, 500, 222, 833, 556, 556, // h-o
	556, 556, 333, 500, 278, 556, 500, 722, // p-w
	500, 500, 500, 334, 260, 334, 584, // x y z { | } ~
}

const helveticaDefaultWidth = 556

// HelveticaWidth returns the advance width of one WinAnsi code in
// glyph-space units.
func HelveticaWidth(code byte) int {
	if code >= 32 && code <= 126 {
		return helveticaWidths[code-32]
	}
	return helveticaDefaultWidth
}

// StringWidth computes the natural rendered width in points of text drawn
// with Helvetica at the given size, after WinAnsi encoding.
func StringWidth(text string, fontSize float64) float64 {
	total := 0
	for _, b := range EncodeWinAnsi(text) {
		total += HelveticaWidth(b)
	}
	return float64(total) * fontSize / 1000
}

// winAnsiFromRune covers the 0x80-0x9F block, where WinAnsi departs from
// Latin-1 (Windows-1252: euro, curly quotes, dashes, ellipsis and
// friends). The five codes Windows-1252 leaves undefined are absent.
var winAnsiFromRune = map[rune]byte{
	'€': 0x80, '‚': 0x82, 'ƒ': 0x83, '„': 0x84,
	'…': 0x85, '†': 0x86, '‡': 0x87, 'ˆ': 0x88,
	'‰': 0x89, 'Š': 0x8A, '‹': 0x8B, 'Œ': 0x8C,
	'Ž': 0x8E, '‘': 0x91, '’': 0x92, '“': 0x93,
	'”': 0x94, '•': 0x95, '–': 0x96, '—': 0x97,
	'˜': 0x98, '™': 0x99, 'š': 0x9A, '›': 0x9B,
	'œ': 0x9C, 'ž': 0x9E, 'Ÿ': 0x9F,
}

// winAnsiToRune is the inverse of winAnsiFromRune for codes 0x80-0x9F;
// undefined codes decode to themselves.
var winAnsiToRune = buildWinAnsiToRune()

func buildWinAnsiToRune() [32]rune {
	var table [32]rune
	for i := range table {
		table[i] = rune(0x80 + i)
	}
	for r, code := range winAnsiFromRune {
		table[code-0x80] = r
	}
	return table
}

// EncodeWinAnsi maps a UTF-8 string to WinAnsi bytes. Runes WinAnsi
// cannot represent are replaced with '?': the overlay favours positional
// fidelity over full Unicode coverage, matching the single base font.
func EncodeWinAnsi(text string) []byte {
	out := make([]byte, 0, len(text))
	for _, r := range text {
		switch {
		case r == '\n' || r == '\r' || r == '\t':
			out = append(out, ' ')
		case r <= 0xFF:
			out = append(out, byte(r))
		default:
			if code, ok := winAnsiFromRune[r]; ok {
				out = append(out, code)
			} else {
				out = append(out, '?')
			}
		}
	}
	return out
}

// DecodeWinAnsi is the inverse of EncodeWinAnsi.
func DecodeWinAnsi(encoded []byte) string {
	var b strings.Builder
	for _, c := range encoded {
		if c >= 0x80 && c <= 0x9F {
			b.WriteRune(winAnsiToRune[c-0x80])
		} else {
			b.WriteRune(rune(c))
		}
	}
	return b.String()
}

// escapeString escapes a WinAnsi-encoded string for a PDF literal string.
func escapeString(encoded []byte) []byte {
	out := make([]byte, 0, len(encoded)+8)
	for _, b := range encoded {
		switch b {
		case '\\', '(', ')':
			out = append(out, '\\', b)
		default:
			out = append(out, b)
		}
	}
	return out
}
