package markup

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// cjkTable covers the scripts written without inter-word spaces.
var cjkTable = &unicode.RangeTable{
	R16: []unicode.Range16{
		{Lo: 0x3000, Hi: 0x303f, Stride: 1}, // CJK symbols and punctuation
		{Lo: 0x3040, Hi: 0x309f, Stride: 1}, // Hiragana
		{Lo: 0x30a0, Hi: 0x30ff, Stride: 1}, // Katakana
		{Lo: 0x3400, Hi: 0x4dbf, Stride: 1}, // CJK extension A
		{Lo: 0x4e00, Hi: 0x9faf, Stride: 1}, // CJK unified ideographs
		{Lo: 0xff00, Hi: 0xff9f, Stride: 1}, // Full-width and half-width forms
	},
}

// IsCJK reports whether r belongs to a script that joins lines without a space.
func IsCJK(r rune) bool {
	return unicode.Is(cjkTable, r)
}

// Join merges hand-wrapped source lines into one paragraph. A single space is
// inserted between two lines unless the last rune of the earlier line or the
// first rune of the later line is CJK.
func Join(lines []string) string {
	if len(lines) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString(lines[0])
	for i := 1; i < len(lines); i++ {
		if needsSpace(lines[i-1], lines[i]) {
			b.WriteByte(' ')
		}
		b.WriteString(lines[i])
	}
	return b.String()
}

// needsSpace decides the separator between prev and next. An empty side has
// no rune to inspect and counts as non-CJK.
func needsSpace(prev, next string) bool {
	if r, _ := utf8.DecodeLastRuneInString(prev); r != utf8.RuneError && IsCJK(r) {
		return false
	}
	if r, _ := utf8.DecodeRuneInString(next); r != utf8.RuneError && IsCJK(r) {
		return false
	}
	return true
}
