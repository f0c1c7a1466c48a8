package markup

import "regexp"

// spanPattern matches one inline directive. The payload is non-greedy so two
// directives on one line stay separate.
var spanPattern = regexp.MustCompile(`\[\[(MASK|GLITCH_GREEN|GREEN|VOID|DANGER|BLUE)::(.*?)\]\]`)

// ParseSpans splits text into plain and tagged spans in source order. Text
// that only looks like a directive (unknown tag, missing closing brackets) is
// left in the surrounding plain span. Empty plain spans are omitted.
func ParseSpans(text string) []Span {
	var spans []Span
	last := 0
	for _, m := range spanPattern.FindAllStringSubmatchIndex(text, -1) {
		if m[0] > last {
			spans = append(spans, Span{Kind: SpanPlain, Text: text[last:m[0]]})
		}
		spans = append(spans, Span{
			Kind: SpanKind(text[m[2]:m[3]]),
			Text: text[m[4]:m[5]],
		})
		last = m[1]
	}
	if last < len(text) {
		spans = append(spans, Span{Kind: SpanPlain, Text: text[last:]})
	}
	return spans
}

// PlainText concatenates span contents without directive syntax.
func PlainText(spans []Span) string {
	n := 0
	for _, s := range spans {
		n += len(s.Text)
	}
	buf := make([]byte, 0, n)
	for _, s := range spans {
		buf = append(buf, s.Text...)
	}
	return string(buf)
}
