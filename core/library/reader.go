package library

import (
	"context"
	"encoding/json"
	"time"

	"github.com/FocuswithJustin/sidestory/core/errors"
	"github.com/FocuswithJustin/sidestory/core/markup"
	"github.com/FocuswithJustin/sidestory/internal/cache"
	"github.com/FocuswithJustin/sidestory/internal/logging"
)

// Source is where a Reader finds volumes and chapters. *Store and *Memory
// implement it.
type Source interface {
	Volume(ctx context.Context, id string) (*Volume, error)
	Chapter(ctx context.Context, id string) (*Chapter, string, error)
}

// View is a chapter compiled for display.
type View struct {
	VolumeID     string           `json:"volume_id"`
	VolumeTitle  string           `json:"volume_title"`
	ChapterID    string           `json:"chapter_id"`
	Date         string           `json:"date"`
	Language     Language         `json:"lang"`
	Title        string           `json:"title"`
	Summary      string           `json:"summary"`
	Flags        markup.Flags     `json:"flags"`
	Blocks       []markup.Block   `json:"-"`
	Unterminated *markup.VoidDrop `json:"unterminated,omitempty"`
	Nav          Nav              `json:"nav"`
}

// MarshalJSON encodes Blocks with their kind envelopes.
func (v *View) MarshalJSON() ([]byte, error) {
	type plain View
	return json.Marshal(struct {
		*plain
		Blocks []any `json:"blocks"`
	}{(*plain)(v), markup.Envelopes(v.Blocks)})
}

type viewKey struct {
	chapterID string
	lang      Language
	light     bool
}

// Reader opens chapters for reading. Compiled views are cached.
type Reader struct {
	source Source
	views  *cache.TTLCache[viewKey, *View]
}

// ReaderOptions configures the view cache.
type ReaderOptions struct {
	CacheTTL     time.Duration
	CacheEntries int
}

// NewReader creates a Reader over source. A zero CacheTTL disables caching.
func NewReader(source Source, opts ReaderOptions) *Reader {
	r := &Reader{source: source}
	if opts.CacheTTL > 0 {
		r.views = cache.New[viewKey, *View](opts.CacheTTL, opts.CacheEntries)
	}
	return r
}

// Open compiles a chapter in lang. Locked and corrupted chapters fail with
// a *errors.LockedError; a missing language falls back to DefaultLanguage.
func (r *Reader) Open(ctx context.Context, chapterID string, lang Language, lightTheme bool) (*View, error) {
	key := viewKey{chapterID: chapterID, lang: lang, light: lightTheme}
	if r.views != nil {
		if v, ok := r.views.Get(key); ok {
			return v, nil
		}
	}

	chapter, volumeID, err := r.source.Chapter(ctx, chapterID)
	if err != nil {
		return nil, err
	}
	if !chapter.Status.Readable() {
		return nil, errors.NewLocked(chapterID, string(chapter.Status))
	}
	volume, err := r.source.Volume(ctx, volumeID)
	if err != nil {
		return nil, err
	}
	if !volume.Status.Readable() {
		return nil, errors.NewLocked(chapterID, string(volume.Status))
	}

	t, used, ok := chapter.Translation(lang)
	if !ok {
		return nil, errors.NewNotFound("translation", chapterID+"/"+string(lang))
	}

	flags := chapter.Flags(lightTheme)
	start := time.Now()
	report := markup.Inspect(t.Content, flags)
	logging.ChapterCompiled(ctx, chapterID, string(used), len(report.Blocks), time.Since(start))
	if report.Unterminated != nil {
		logging.VoidBlockDropped(ctx, chapterID, report.Unterminated.StartLine, report.Unterminated.Lines, "lang", string(used))
	}

	view := &View{
		VolumeID:     volume.ID,
		VolumeTitle:  volume.LocalizedTitle(used),
		ChapterID:    chapterID,
		Date:         chapter.Date,
		Language:     used,
		Title:        t.Title,
		Summary:      t.Summary,
		Flags:        flags,
		Blocks:       report.Blocks,
		Unterminated: report.Unterminated,
		Nav:          volume.Neighbors(volume.IndexOf(chapterID)),
	}
	if r.views != nil {
		r.views.Set(key, view)
	}
	return view, nil
}

// Invalidate drops all cached views.
func (r *Reader) Invalidate() {
	if r.views != nil {
		r.views.Invalidate()
	}
}

// Memory is an in-memory Source over a fixed set of volumes.
type Memory struct {
	volumes []Volume
}

// NewMemory validates volumes and wraps them as a Source.
func NewMemory(volumes []Volume) (*Memory, error) {
	if err := Validate(volumes); err != nil {
		return nil, err
	}
	return &Memory{volumes: volumes}, nil
}

// Volumes returns the volumes in order.
func (m *Memory) Volumes(ctx context.Context) ([]Volume, error) {
	return m.volumes, nil
}

// Volume returns the volume with id.
func (m *Memory) Volume(ctx context.Context, id string) (*Volume, error) {
	for i := range m.volumes {
		if m.volumes[i].ID == id {
			return &m.volumes[i], nil
		}
	}
	return nil, errors.NewNotFound("volume", id)
}

// Chapter returns the chapter with id and its volume ID.
func (m *Memory) Chapter(ctx context.Context, id string) (*Chapter, string, error) {
	for i := range m.volumes {
		v := &m.volumes[i]
		if idx := v.IndexOf(id); idx >= 0 {
			return &v.Chapters[idx], v.ID, nil
		}
	}
	return nil, "", errors.NewNotFound("chapter", id)
}
