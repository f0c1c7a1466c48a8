// Package render turns compiled chapter blocks into HTML or plain text.
// Styling is left to CSS; every style tag, line color and span kind maps to
// a class name.
package render

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"strings"

	"github.com/FocuswithJustin/sidestory/core/library"
	"github.com/FocuswithJustin/sidestory/core/markup"
)

//go:embed templates/*.html
var templateFS embed.FS

var templates = template.Must(template.New("").ParseFS(templateFS, "templates/*.html"))

// Options controls locale and theme dependent output.
type Options struct {
	Language   library.Language
	LightTheme bool
}

// DecodeHint returns the label of the void log toggle for lang.
func DecodeHint(lang library.Language) string {
	switch lang {
	case library.LangZhCN:
		return "[点击解码]"
	case library.LangZhTW:
		return "[點擊解碼]"
	default:
		return "[CLICK_TO_DECODE]"
	}
}

// ExtraDirectoryTitle labels the list of fragment chapters of a volume.
func ExtraDirectoryTitle(lang library.Language) string {
	if lang == library.LangEn {
		return "FRAGMENTED_EXTRA // FRAGS"
	}
	return "FRAGMENTED_EXTRA // 碎片附加"
}

// AccessDenied is shown in place of locked or corrupted content.
const AccessDenied = "ACCESS DENIED"

var sentinelStripper = func() *strings.Replacer {
	pairs := []string{markup.VoidStartSentinel, ""}
	for _, s := range markup.VoidEndSentinels {
		pairs = append(pairs, s, "")
	}
	return strings.NewReplacer(pairs...)
}()

// StripSentinels removes void start and end sentinels from a line.
func StripSentinels(line string) string {
	return sentinelStripper.Replace(line)
}

type spanItem struct {
	Class string
	Text  string
}

type blockItem struct {
	Kind     markup.BlockKind
	Class    string
	Spans    []spanItem
	Lines    []string
	Hint     string
	Src      string
	Caption  string
	Content  string
	Redacted bool
}

func themeClass(light bool) string {
	if light {
		return "theme-light"
	}
	return "theme-dark"
}

func spanItems(spans []markup.Span) []spanItem {
	items := make([]spanItem, len(spans))
	for i, s := range spans {
		items[i] = spanItem{Text: s.Text}
		if s.Kind.IsTagged() {
			items[i].Class = "span-" + strings.ToLower(string(s.Kind))
		}
	}
	return items
}

func items(blocks []markup.Block, opts Options) []blockItem {
	out := make([]blockItem, 0, len(blocks))
	for _, b := range blocks {
		item := blockItem{Kind: b.Kind()}
		switch v := b.(type) {
		case markup.Paragraph:
			item.Class = "prose style-" + string(v.Style) + " " + themeClass(opts.LightTheme)
			item.Spans = spanItems(v.Spans)
		case markup.ColoredLine:
			item.Class = "line line-" + string(v.Color) + " " + themeClass(opts.LightTheme)
			item.Spans = spanItems(v.Spans)
		case markup.VoidLog:
			item.Hint = DecodeHint(opts.Language)
			item.Lines = make([]string, len(v.RawLines))
			for i, l := range v.RawLines {
				item.Lines[i] = StripSentinels(l)
			}
		case markup.Image:
			item.Src, item.Caption = v.Src, v.Caption
		case markup.RetinalVision:
			item.Content, item.Redacted = v.Content, v.Redacted
			item.Class = "retinal-vision"
			if v.Redacted {
				item.Class += " redacted"
			}
		}
		out = append(out, item)
	}
	return out
}

// HTML renders blocks as an HTML fragment.
func HTML(blocks []markup.Block, opts Options) (string, error) {
	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, "blocks", items(blocks, opts)); err != nil {
		return "", fmt.Errorf("render blocks: %w", err)
	}
	return buf.String(), nil
}

type pageData struct {
	Lang      library.Language
	Title     string
	Summary   string
	Date      string
	ChapterID string
	Index     int
	BodyClass string
	Blocks    []blockItem
}

// Page renders a compiled chapter view as a complete HTML document.
func Page(view *library.View, lightTheme bool) (string, error) {
	opts := Options{Language: view.Language, LightTheme: lightTheme}
	class := themeClass(lightTheme)
	switch {
	case view.Flags.Diary:
		class += " chapter-diary"
	case view.Flags.Legacy:
		class += " chapter-legacy"
	}
	data := pageData{
		Lang:      view.Language,
		Title:     view.Title,
		Summary:   view.Summary,
		Date:      view.Date,
		ChapterID: view.ChapterID,
		Index:     view.Nav.Index + 1,
		BodyClass: class,
		Blocks:    items(view.Blocks, opts),
	}
	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, "page", data); err != nil {
		return "", fmt.Errorf("render page: %w", err)
	}
	return buf.String(), nil
}

// Text renders blocks as a plain-text transcript. Span markup is dropped,
// void logs are indented and blocks are separated by blank lines.
func Text(blocks []markup.Block) string {
	parts := make([]string, 0, len(blocks))
	for _, b := range blocks {
		switch v := b.(type) {
		case markup.Paragraph:
			parts = append(parts, markup.PlainText(v.Spans))
		case markup.ColoredLine:
			parts = append(parts, markup.PlainText(v.Spans))
		case markup.Divider:
			parts = append(parts, "* * *")
		case markup.Image:
			if v.Caption != "" {
				parts = append(parts, fmt.Sprintf("[IMAGE: %s] %s", v.Caption, v.Src))
			} else {
				parts = append(parts, "[IMAGE] "+v.Src)
			}
		case markup.RetinalVision:
			parts = append(parts, "“"+v.Content+"”")
		case markup.VoidLog:
			var lines []string
			for _, l := range v.RawLines {
				if s := strings.TrimSpace(StripSentinels(l)); s != "" {
					lines = append(lines, "    "+s)
				}
			}
			parts = append(parts, strings.Join(lines, "\n"))
		}
	}
	if len(parts) == 0 {
		return ""
	}
	return strings.Join(parts, "\n\n") + "\n"
}
