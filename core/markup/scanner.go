package markup

import (
	"regexp"
	"strings"
	"unicode"
)

// Void transmission sentinels.
const (
	VoidStartSentinel = "0000.2Void>>"
	DividerToken      = "[[DIVIDER]]"
	RedactionGlyph    = "█"
)

// VoidEndSentinels are the accepted spellings of the end of a void block
// (simplified Chinese, traditional Chinese, English). All are recognized
// regardless of the chapter language.
var VoidEndSentinels = []string{"【插入结束】", "【插入結束】", "[INSERTION_END]"}

// ContainsVoidEnd reports whether line contains any void end sentinel.
func ContainsVoidEnd(line string) bool {
	for _, s := range VoidEndSentinels {
		if strings.Contains(line, s) {
			return true
		}
	}
	return false
}

// lineDirective recognizes a whole trimmed line. A matching directive flushes
// the paragraph buffer and then emits its block; a nil block emits nothing.
type lineDirective struct {
	match func(trimmed string) (Block, bool)
}

func colorDirective(tag string, color LineColor) lineDirective {
	re := regexp.MustCompile(`^\[\[` + tag + `::(.*?)\]\]$`)
	return lineDirective{
		match: func(trimmed string) (Block, bool) {
			m := re.FindStringSubmatch(trimmed)
			if m == nil {
				return nil, false
			}
			return ColoredLine{Text: m[1], Color: color, Spans: ParseSpans(m[1])}, true
		},
	}
}

var visionPattern = regexp.MustCompile(`^\[\[VOID_VISION::(.*?)\]\]$`)

const (
	imagePrefix = "[[IMAGE::"
	imageSuffix = "]]"
)

// lineDirectives is checked in order; the first match wins.
var lineDirectives = []lineDirective{
	colorDirective("BLUE", ColorBlue),
	colorDirective("GREEN", ColorGreen),
	colorDirective("DANGER", ColorDanger),
	{
		match: func(trimmed string) (Block, bool) {
			m := visionPattern.FindStringSubmatch(trimmed)
			if m == nil {
				return nil, false
			}
			return RetinalVision{Content: m[1], Redacted: strings.Contains(m[1], RedactionGlyph)}, true
		},
	},
	{
		match: func(trimmed string) (Block, bool) {
			if trimmed != DividerToken {
				return nil, false
			}
			return Divider{}, true
		},
	},
	{
		match: func(trimmed string) (Block, bool) {
			if len(trimmed) < len(imagePrefix)+len(imageSuffix) ||
				!strings.HasPrefix(trimmed, imagePrefix) || !strings.HasSuffix(trimmed, imageSuffix) {
				return nil, false
			}
			payload := trimmed[len(imagePrefix) : len(trimmed)-len(imageSuffix)]
			// Captions may contain "::" themselves.
			src, caption, _ := strings.Cut(payload, "::")
			return Image{Src: src, Caption: caption}, true
		},
	},
	{
		match: func(trimmed string) (Block, bool) {
			return nil, trimmed == ""
		},
	},
}

type scanState int

const (
	stateNormal scanState = iota
	stateInVoid
)

func (s scanState) String() string {
	switch s {
	case stateNormal:
		return "normal"
	case stateInVoid:
		return "in_void"
	default:
		return "unknown"
	}
}

// VoidDrop describes a void block that was still open at end of input.
type VoidDrop struct {
	// StartLine is the 1-based line holding the start sentinel.
	StartLine int `json:"start_line"`
	// Lines is the number of buffered lines that were discarded.
	Lines int `json:"lines"`
}

// Report is the result of Inspect.
type Report struct {
	Blocks       []Block
	Unterminated *VoidDrop
}

// scanner holds the state of one compilation. It is never shared.
type scanner struct {
	flags     Flags
	state     scanState
	para      []string
	void      []string
	voidStart int
	blocks    []Block
}

func (s *scanner) step(lineNo int, line string) {
	switch s.state {
	case stateNormal:
		s.normal(lineNo, line)
	case stateInVoid:
		s.inVoid(line)
	}
}

func (s *scanner) normal(lineNo int, line string) {
	trimmed := trimLine(line)

	if strings.Contains(trimmed, VoidStartSentinel) {
		s.flushParagraph()
		s.state = stateInVoid
		s.void = []string{line}
		s.voidStart = lineNo
		if ContainsVoidEnd(trimmed) {
			s.closeVoid()
		}
		return
	}

	for _, d := range lineDirectives {
		b, ok := d.match(trimmed)
		if !ok {
			continue
		}
		s.flushParagraph()
		if b != nil {
			s.blocks = append(s.blocks, b)
		}
		return
	}

	s.para = append(s.para, trimmed)
}

// trimLine trims white space and byte order marks from both ends of line.
func trimLine(line string) string {
	return strings.TrimFunc(line, func(r rune) bool {
		return unicode.IsSpace(r) || r == '\ufeff'
	})
}

func (s *scanner) inVoid(line string) {
	s.void = append(s.void, line)
	if ContainsVoidEnd(line) {
		s.closeVoid()
	}
}

func (s *scanner) closeVoid() {
	s.blocks = append(s.blocks, VoidLog{RawLines: s.void})
	s.void = nil
	s.state = stateNormal
}

func (s *scanner) flushParagraph() {
	if len(s.para) == 0 {
		return
	}
	text := Join(s.para)
	s.blocks = append(s.blocks, Paragraph{
		Text:  text,
		Style: Classify(text, s.flags),
		Spans: ParseSpans(text),
	})
	s.para = nil
}

// finish flushes pending prose. A void block still open is discarded and
// reported; its lines appear in no block.
func (s *scanner) finish() *VoidDrop {
	s.flushParagraph()
	if s.state != stateInVoid {
		return nil
	}
	drop := &VoidDrop{StartLine: s.voidStart, Lines: len(s.void)}
	s.void = nil
	s.state = stateNormal
	return drop
}

func run(lines []string, flags Flags) Report {
	s := &scanner{flags: flags}
	for i, line := range lines {
		s.step(i+1, line)
	}
	drop := s.finish()
	return Report{Blocks: s.blocks, Unterminated: drop}
}

// Scan compiles already split chapter lines.
func Scan(lines []string, flags Flags) []Block {
	return run(lines, flags).Blocks
}

// Compile splits text on newlines and compiles it. It is a pure function:
// the same text and flags always yield an equal block list.
func Compile(text string, flags Flags) []Block {
	return Scan(SplitLines(text), flags)
}

// Inspect compiles text like Compile and also reports a void block left open
// at end of input.
func Inspect(text string, flags Flags) Report {
	return run(SplitLines(text), flags)
}

// SplitLines splits text on "\n". Carriage returns are kept; prose lines lose
// them when trimmed, void lines keep them verbatim.
func SplitLines(text string) []string {
	return strings.Split(text, "\n")
}
