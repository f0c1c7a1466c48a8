package markup

// Flags carries chapter-level context. Only Legacy and Diary affect
// classification; LightTheme is passed through for renderers.
type Flags struct {
	Legacy     bool `json:"legacy,omitempty"`
	Diary      bool `json:"diary,omitempty"`
	LightTheme bool `json:"light_theme,omitempty"`
}

// StyleTag selects the presentation of a paragraph.
type StyleTag string

// Style tag constants.
const (
	StyleLegacyBlue   StyleTag = "legacy_blue"
	StyleDiaryFuchsia StyleTag = "diary_fuchsia"
	StyleSpeakerPoint StyleTag = "speaker_point"
	StyleSpeakerZeri  StyleTag = "speaker_zeri"
	StyleSpeakerZelo  StyleTag = "speaker_zelo"
	StyleSpeakerVoid  StyleTag = "speaker_void"
	StyleDefault      StyleTag = "default"
)

// LineColor is the color of a ColoredLine.
type LineColor string

// Line color constants.
const (
	ColorBlue   LineColor = "blue"
	ColorGreen  LineColor = "green"
	ColorDanger LineColor = "danger"
)

// SpanKind identifies an inline span. The zero value is plain text.
type SpanKind string

// Span kind constants.
const (
	SpanPlain       SpanKind = ""
	SpanMask        SpanKind = "MASK"
	SpanGlitchGreen SpanKind = "GLITCH_GREEN"
	SpanGreen       SpanKind = "GREEN"
	SpanVoid        SpanKind = "VOID"
	SpanDanger      SpanKind = "DANGER"
	SpanBlue        SpanKind = "BLUE"
)

// spanKinds lists the recognized inline tags.
var spanKinds = []SpanKind{
	SpanMask,
	SpanGlitchGreen,
	SpanGreen,
	SpanVoid,
	SpanDanger,
	SpanBlue,
}

// IsTagged reports whether the kind is one of the inline directive kinds.
func (k SpanKind) IsTagged() bool {
	for _, known := range spanKinds {
		if k == known {
			return true
		}
	}
	return false
}

// Span is a run of text inside a paragraph or colored line. For tagged spans
// Text is the directive payload with the [[TAG:: and ]] markers removed.
type Span struct {
	Kind SpanKind `json:"kind,omitempty"`
	Text string   `json:"text"`
}

// Raw returns the span as it appeared in the source text.
func (s Span) Raw() string {
	if s.Kind == SpanPlain {
		return s.Text
	}
	return "[[" + string(s.Kind) + "::" + s.Text + "]]"
}

// BlockKind names the variant of a Block.
type BlockKind string

// Block kind constants.
const (
	KindParagraph     BlockKind = "paragraph"
	KindVoidLog       BlockKind = "void_log"
	KindDivider       BlockKind = "divider"
	KindImage         BlockKind = "image"
	KindColoredLine   BlockKind = "colored_line"
	KindRetinalVision BlockKind = "retinal_vision"
)

// Block is one compiled unit of a chapter. The set of implementations is
// closed: Paragraph, VoidLog, Divider, Image, ColoredLine and RetinalVision.
type Block interface {
	Kind() BlockKind
	block()
}

// Paragraph is a run of joined prose lines.
type Paragraph struct {
	Text  string   `json:"text"`
	Style StyleTag `json:"style"`
	Spans []Span   `json:"spans"`
}

// VoidLog is an intercepted transmission. RawLines holds the source lines
// verbatim, including both sentinel lines.
type VoidLog struct {
	RawLines []string `json:"raw_lines"`
}

// Divider is a section break.
type Divider struct{}

// Image is an inline picture with a caption.
type Image struct {
	Src     string `json:"src"`
	Caption string `json:"caption"`
}

// ColoredLine is a single emphasized line.
type ColoredLine struct {
	Text  string    `json:"text"`
	Color LineColor `json:"color"`
	Spans []Span    `json:"spans"`
}

// RetinalVision is a quote projected onto the narrator's vision.
type RetinalVision struct {
	Content  string `json:"content"`
	Redacted bool   `json:"redacted"`
}

func (Paragraph) Kind() BlockKind     { return KindParagraph }
func (VoidLog) Kind() BlockKind       { return KindVoidLog }
func (Divider) Kind() BlockKind       { return KindDivider }
func (Image) Kind() BlockKind         { return KindImage }
func (ColoredLine) Kind() BlockKind   { return KindColoredLine }
func (RetinalVision) Kind() BlockKind { return KindRetinalVision }

func (Paragraph) block()     {}
func (VoidLog) block()       {}
func (Divider) block()       {}
func (Image) block()         {}
func (ColoredLine) block()   {}
func (RetinalVision) block() {}
