// Package library holds the side-story volumes and chapters, loads them from
// manifests, persists them in SQLite and opens chapters for reading.
package library

import (
	"fmt"
	"strings"

	"github.com/FocuswithJustin/sidestory/core/errors"
	"github.com/FocuswithJustin/sidestory/core/markup"
	"github.com/FocuswithJustin/sidestory/internal/validation"
)

// Language is a translation locale.
type Language string

const (
	LangZhCN Language = "zh-CN"
	LangZhTW Language = "zh-TW"
	LangEn   Language = "en"
)

// DefaultLanguage is the translation every chapter must carry and the one
// used when a requested language is missing.
const DefaultLanguage = LangZhCN

// Languages lists the supported languages in display order.
var Languages = []Language{LangZhCN, LangZhTW, LangEn}

// ParseLanguage accepts a language tag case-insensitively. An empty string
// yields DefaultLanguage.
func ParseLanguage(s string) (Language, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return DefaultLanguage, nil
	}
	for _, lang := range Languages {
		if strings.EqualFold(s, string(lang)) {
			return lang, nil
		}
	}
	return "", errors.NewValidation("lang", fmt.Sprintf("unsupported language %q", s))
}

// Status is the access state of a volume or chapter.
type Status string

const (
	StatusUnlocked  Status = "unlocked"
	StatusLocked    Status = "locked"
	StatusCorrupted Status = "corrupted"
)

// ParseStatus reads a status. An empty string yields StatusUnlocked.
func ParseStatus(s string) (Status, error) {
	switch Status(strings.ToLower(strings.TrimSpace(s))) {
	case "", StatusUnlocked:
		return StatusUnlocked, nil
	case StatusLocked:
		return StatusLocked, nil
	case StatusCorrupted:
		return StatusCorrupted, nil
	}
	return "", errors.NewValidation("status", fmt.Sprintf("unknown status %q", s))
}

// Readable reports whether content with this status may be opened.
func (s Status) Readable() bool {
	return s == StatusUnlocked
}

// Translation is one language version of a chapter.
type Translation struct {
	Title   string `json:"title"`
	Summary string `json:"summary"`
	Content string `json:"content"`
}

// Chapter is a single side story.
type Chapter struct {
	ID           string                   `json:"id"`
	Date         string                   `json:"date"`
	Status       Status                   `json:"status"`
	Legacy       bool                     `json:"legacy,omitempty"`
	Diary        bool                     `json:"diary,omitempty"`
	Extra        bool                     `json:"extra,omitempty"`
	Translations map[Language]Translation `json:"translations"`
}

// Translation returns the translation for lang, falling back to
// DefaultLanguage. It returns the language actually used.
func (c *Chapter) Translation(lang Language) (Translation, Language, bool) {
	if t, ok := c.Translations[lang]; ok {
		return t, lang, true
	}
	t, ok := c.Translations[DefaultLanguage]
	return t, DefaultLanguage, ok
}

// Flags derives the compiler flags for this chapter.
func (c *Chapter) Flags(lightTheme bool) markup.Flags {
	return markup.Flags{
		Legacy:     c.Legacy,
		Diary:      c.Diary,
		LightTheme: lightTheme,
	}
}

// Garbled chapter placeholders.
const (
	GarbledTitle   = "▞▞▞▞▞▞"
	GarbledSummary = "FILE_CORRUPTED"
)

// NewGarbledChapter returns a locked placeholder for a chapter whose file is
// missing from the archive.
func NewGarbledChapter(id, dateLabel string) Chapter {
	translations := make(map[Language]Translation, len(Languages))
	for _, lang := range Languages {
		translations[lang] = Translation{Title: GarbledTitle, Summary: GarbledSummary}
	}
	return Chapter{
		ID:           id,
		Date:         dateLabel,
		Status:       StatusLocked,
		Translations: translations,
	}
}

// Volume is an ordered collection of chapters.
type Volume struct {
	ID       string    `json:"id"`
	Title    string    `json:"title"`
	TitleEn  string    `json:"title_en"`
	Status   Status    `json:"status"`
	Chapters []Chapter `json:"chapters"`
}

// LocalizedTitle returns TitleEn for English when set and Title otherwise.
func (v *Volume) LocalizedTitle(lang Language) string {
	if lang == LangEn && v.TitleEn != "" {
		return v.TitleEn
	}
	return v.Title
}

// TOCEntry is a chapter listed in a table of contents with its position in
// Volume.Chapters.
type TOCEntry struct {
	Index   int      `json:"index"`
	Chapter *Chapter `json:"chapter"`
}

// MainChapters lists the chapters that are not extras.
func (v *Volume) MainChapters() []TOCEntry {
	return v.toc(false)
}

// ExtraChapters lists the fragment chapters shown in their own directory.
func (v *Volume) ExtraChapters() []TOCEntry {
	return v.toc(true)
}

func (v *Volume) toc(extra bool) []TOCEntry {
	var entries []TOCEntry
	for i := range v.Chapters {
		if v.Chapters[i].Extra == extra {
			entries = append(entries, TOCEntry{Index: i, Chapter: &v.Chapters[i]})
		}
	}
	return entries
}

// Nav holds the neighbours of a chapter. Prev and Next are -1 at the ends.
type Nav struct {
	Index int `json:"index"`
	Prev  int `json:"prev"`
	Next  int `json:"next"`
}

// Neighbors clamps i into the volume and returns its neighbours.
func (v *Volume) Neighbors(i int) Nav {
	n := len(v.Chapters)
	if n == 0 {
		return Nav{Index: -1, Prev: -1, Next: -1}
	}
	i = max(0, min(i, n-1))
	nav := Nav{Index: i, Prev: i - 1, Next: i + 1}
	if nav.Next >= n {
		nav.Next = -1
	}
	return nav
}

// IndexOf returns the position of chapterID in the volume, or -1.
func (v *Volume) IndexOf(chapterID string) int {
	for i := range v.Chapters {
		if v.Chapters[i].ID == chapterID {
			return i
		}
	}
	return -1
}

// Validate checks IDs, statuses and translations of a set of volumes.
// Chapter IDs must be unique across all volumes.
func Validate(volumes []Volume) error {
	seenVolumes := make(map[string]bool)
	seenChapters := make(map[string]string)
	for _, v := range volumes {
		if err := validation.ValidateID(v.ID); err != nil {
			return &errors.ValidationError{Field: "volume.id", Message: err.Error(), Err: err}
		}
		if seenVolumes[v.ID] {
			return errors.NewValidation("volume.id", fmt.Sprintf("duplicate volume %q", v.ID))
		}
		seenVolumes[v.ID] = true
		if _, err := ParseStatus(string(v.Status)); err != nil {
			return err
		}
		for _, c := range v.Chapters {
			if err := validateChapter(c); err != nil {
				return errors.Wrapf(err, "volume %s", v.ID)
			}
			if other, dup := seenChapters[c.ID]; dup {
				return errors.NewValidation("chapter.id", fmt.Sprintf("chapter %q appears in %s and %s", c.ID, other, v.ID))
			}
			seenChapters[c.ID] = v.ID
		}
	}
	return nil
}

func validateChapter(c Chapter) error {
	if err := validation.ValidateID(c.ID); err != nil {
		return &errors.ValidationError{Field: "chapter.id", Message: err.Error(), Err: err}
	}
	if _, err := ParseStatus(string(c.Status)); err != nil {
		return err
	}
	for lang := range c.Translations {
		if parsed, err := ParseLanguage(string(lang)); err != nil || parsed != lang {
			return errors.NewValidation("chapter.translations", fmt.Sprintf("chapter %s: bad language key %q", c.ID, lang))
		}
	}
	if _, ok := c.Translations[DefaultLanguage]; !ok {
		return errors.NewValidation("chapter.translations", fmt.Sprintf("chapter %s has no %s translation", c.ID, DefaultLanguage))
	}
	return nil
}
