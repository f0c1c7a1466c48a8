package markup

import (
	"encoding/json"

	"github.com/FocuswithJustin/sidestory/core/errors"
)

// envelope is the wire shape of one block: its kind plus the variant fields.
type envelope struct {
	Kind     BlockKind `json:"kind"`
	Text     string    `json:"text,omitempty"`
	Style    StyleTag  `json:"style,omitempty"`
	Color    LineColor `json:"color,omitempty"`
	Spans    []Span    `json:"spans,omitempty"`
	RawLines []string  `json:"raw_lines,omitempty"`
	Src      string    `json:"src,omitempty"`
	Caption  string    `json:"caption,omitempty"`
	Content  string    `json:"content,omitempty"`
	Redacted bool      `json:"redacted,omitempty"`
}

func toEnvelope(b Block) envelope {
	switch v := b.(type) {
	case Paragraph:
		return envelope{Kind: KindParagraph, Text: v.Text, Style: v.Style, Spans: v.Spans}
	case VoidLog:
		return envelope{Kind: KindVoidLog, RawLines: v.RawLines}
	case Divider:
		return envelope{Kind: KindDivider}
	case Image:
		return envelope{Kind: KindImage, Src: v.Src, Caption: v.Caption}
	case ColoredLine:
		return envelope{Kind: KindColoredLine, Text: v.Text, Color: v.Color, Spans: v.Spans}
	case RetinalVision:
		return envelope{Kind: KindRetinalVision, Content: v.Content, Redacted: v.Redacted}
	}
	return envelope{Kind: b.Kind()}
}

func (e envelope) block() (Block, error) {
	switch e.Kind {
	case KindParagraph:
		return Paragraph{Text: e.Text, Style: e.Style, Spans: e.Spans}, nil
	case KindVoidLog:
		return VoidLog{RawLines: e.RawLines}, nil
	case KindDivider:
		return Divider{}, nil
	case KindImage:
		return Image{Src: e.Src, Caption: e.Caption}, nil
	case KindColoredLine:
		return ColoredLine{Text: e.Text, Color: e.Color, Spans: e.Spans}, nil
	case KindRetinalVision:
		return RetinalVision{Content: e.Content, Redacted: e.Redacted}, nil
	}
	return nil, errors.NewParse("blocks", "", "unknown block kind "+string(e.Kind))
}

// Envelopes converts blocks to their JSON wire shape, for embedding in larger
// documents.
func Envelopes(blocks []Block) []any {
	out := make([]any, 0, len(blocks))
	for _, b := range blocks {
		out = append(out, toEnvelope(b))
	}
	return out
}

// EncodeBlocks serializes blocks as a JSON array of {"kind": ...} objects.
func EncodeBlocks(blocks []Block) ([]byte, error) {
	return json.Marshal(Envelopes(blocks))
}

// DecodeBlocks parses the output of EncodeBlocks.
func DecodeBlocks(data []byte) ([]Block, error) {
	var envs []envelope
	if err := json.Unmarshal(data, &envs); err != nil {
		return nil, &errors.ParseError{Format: "blocks", Message: err.Error(), Err: err}
	}
	blocks := make([]Block, 0, len(envs))
	for _, e := range envs {
		b, err := e.block()
		if err != nil {
			return nil, err
		}
		blocks = append(blocks, b)
	}
	return blocks, nil
}

// MarshalJSON encodes the report with its blocks in wire shape.
func (r Report) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Blocks       []any     `json:"blocks"`
		Unterminated *VoidDrop `json:"unterminated,omitempty"`
	}{
		Blocks:       Envelopes(r.Blocks),
		Unterminated: r.Unterminated,
	})
}
