package library

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/FocuswithJustin/sidestory/core/errors"
	"github.com/FocuswithJustin/sidestory/core/markup"
)

type countingSource struct {
	Source
	chapterCalls int
}

func (c *countingSource) Chapter(ctx context.Context, id string) (*Chapter, string, error) {
	c.chapterCalls++
	return c.Source.Chapter(ctx, id)
}

func newMemory(t *testing.T, volumes ...Volume) *Memory {
	t.Helper()
	m, err := NewMemory(volumes)
	if err != nil {
		t.Fatalf("NewMemory() error = %v", err)
	}
	return m
}

func TestReaderOpen(t *testing.T) {
	r := NewReader(newMemory(t, sampleVolume()), ReaderOptions{})

	view, err := r.Open(context.Background(), "f1", LangEn, true)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if view.Language != LangEn || view.Title != "One" {
		t.Errorf("view = %+v", view)
	}
	if view.VolumeID != "VOL_VARIABLE" || view.VolumeTitle != "The Preserved Variable" {
		t.Errorf("volume fields = %q, %q", view.VolumeID, view.VolumeTitle)
	}
	if !view.Flags.LightTheme {
		t.Error("LightTheme flag not passed through")
	}
	if view.Nav != (Nav{Index: 0, Prev: -1, Next: 1}) {
		t.Errorf("Nav = %+v", view.Nav)
	}
	if len(view.Blocks) != 2 {
		t.Fatalf("len(Blocks) = %d, want 2", len(view.Blocks))
	}
	p, ok := view.Blocks[0].(markup.Paragraph)
	if !ok || p.Style != markup.StyleSpeakerPoint {
		t.Errorf("first block = %#v, want a Point paragraph", view.Blocks[0])
	}
	if view.Blocks[1].Kind() != markup.KindDivider {
		t.Errorf("second block kind = %s", view.Blocks[1].Kind())
	}
}

func TestReaderFallbackLanguage(t *testing.T) {
	r := NewReader(newMemory(t, sampleVolume()), ReaderOptions{})
	view, err := r.Open(context.Background(), "f1", LangZhTW, false)
	if err != nil {
		t.Fatal(err)
	}
	if view.Language != LangZhCN || view.Title != "一" {
		t.Errorf("expected zh-CN fallback, got %q %q", view.Language, view.Title)
	}
	if view.VolumeTitle != "被保留的变量" {
		t.Errorf("VolumeTitle = %q", view.VolumeTitle)
	}
}

func TestReaderLockedChapters(t *testing.T) {
	corrupted := Volume{
		ID:     "VOL_UNKNOWN",
		Status: StatusCorrupted,
		Chapters: []Chapter{{
			ID:           "u1",
			Status:       StatusUnlocked,
			Translations: map[Language]Translation{LangZhCN: {Title: "?"}},
		}},
	}
	r := NewReader(newMemory(t, sampleVolume(), corrupted), ReaderOptions{})

	tests := []struct {
		id         string
		wantStatus string
	}{
		{"F_ERR", "locked"},
		{"u1", "corrupted"},
	}
	for _, tt := range tests {
		_, err := r.Open(context.Background(), tt.id, LangEn, false)
		var locked *errors.LockedError
		if !errors.As(err, &locked) {
			t.Fatalf("Open(%s) error = %v, want LockedError", tt.id, err)
		}
		if locked.Status != tt.wantStatus || locked.ChapterID != tt.id {
			t.Errorf("LockedError = %+v", locked)
		}
		if !errors.Is(err, errors.ErrLocked) {
			t.Error("LockedError should unwrap to ErrLocked")
		}
	}
}

func TestReaderNotFound(t *testing.T) {
	r := NewReader(newMemory(t, sampleVolume()), ReaderOptions{})
	if _, err := r.Open(context.Background(), "missing", LangEn, false); !errors.Is(err, errors.ErrNotFound) {
		t.Errorf("Open(missing) error = %v, want ErrNotFound", err)
	}
}

func TestReaderReportsUnterminatedVoid(t *testing.T) {
	r := NewReader(newMemory(t, sampleVolume()), ReaderOptions{})
	view, err := r.Open(context.Background(), "f2", LangEn, false)
	if err != nil {
		t.Fatal(err)
	}
	if view.Unterminated == nil || *view.Unterminated != (markup.VoidDrop{StartLine: 2, Lines: 2}) {
		t.Errorf("Unterminated = %+v, want {2 2}", view.Unterminated)
	}
	if len(view.Blocks) != 1 {
		t.Errorf("len(Blocks) = %d, want only the prose before the void block", len(view.Blocks))
	}
	if !view.Flags.Legacy {
		t.Error("legacy chapter should compile with the Legacy flag")
	}
}

func TestReaderCachesViews(t *testing.T) {
	src := &countingSource{Source: newMemory(t, sampleVolume())}
	r := NewReader(src, ReaderOptions{CacheTTL: time.Minute, CacheEntries: 8})
	ctx := context.Background()

	first, err := r.Open(ctx, "f1", LangEn, false)
	if err != nil {
		t.Fatal(err)
	}
	second, err := r.Open(ctx, "f1", LangEn, false)
	if err != nil {
		t.Fatal(err)
	}
	if first != second || src.chapterCalls != 1 {
		t.Errorf("expected cached view, chapterCalls = %d", src.chapterCalls)
	}

	if _, err := r.Open(ctx, "f1", LangEn, true); err != nil {
		t.Fatal(err)
	}
	if src.chapterCalls != 2 {
		t.Errorf("theme is part of the cache key, chapterCalls = %d", src.chapterCalls)
	}

	r.Invalidate()
	if _, err := r.Open(ctx, "f1", LangEn, false); err != nil {
		t.Fatal(err)
	}
	if src.chapterCalls != 3 {
		t.Errorf("Invalidate should drop cached views, chapterCalls = %d", src.chapterCalls)
	}
}

func TestReaderOverStore(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	if err := s.PutVolume(ctx, sampleVolume()); err != nil {
		t.Fatal(err)
	}
	view, err := NewReader(s, ReaderOptions{}).Open(ctx, "story-byaki-diary", LangZhCN, false)
	if err != nil {
		t.Fatal(err)
	}
	if !view.Flags.Diary || view.Nav.Index != 1 {
		t.Errorf("view = %+v", view)
	}
}

func TestViewMarshalJSON(t *testing.T) {
	r := NewReader(newMemory(t, sampleVolume()), ReaderOptions{})
	view, err := r.Open(context.Background(), "f1", LangEn, false)
	if err != nil {
		t.Fatal(err)
	}
	data, err := json.Marshal(view)
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{`"chapter_id":"f1"`, `"lang":"en"`, `"blocks":[`, `"kind":"paragraph"`, `"kind":"divider"`, `"nav":{"index":0,"prev":-1,"next":1}`} {
		if !strings.Contains(string(data), want) {
			t.Errorf("JSON %s missing %s", data, want)
		}
	}
	if strings.Contains(string(data), "unterminated") {
		t.Error("unterminated should be omitted when nil")
	}
}

func TestMemoryVolumes(t *testing.T) {
	m := newMemory(t, sampleVolume())
	vs, err := m.Volumes(context.Background())
	if err != nil || len(vs) != 1 {
		t.Fatalf("Volumes() = %v, %v", vs, err)
	}
	if _, err := NewMemory([]Volume{{ID: "bad id"}}); err == nil {
		t.Error("NewMemory should validate volumes")
	}
}
