package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/FocuswithJustin/sidestory/core/errors"
	"github.com/FocuswithJustin/sidestory/core/library"
	"github.com/FocuswithJustin/sidestory/core/markup"
	"github.com/FocuswithJustin/sidestory/core/sqlite"
	"github.com/FocuswithJustin/sidestory/internal/logging"
	"github.com/FocuswithJustin/sidestory/internal/render"
	"github.com/FocuswithJustin/sidestory/internal/validation"
)

// APIResponse is the standard API response wrapper.
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *APIError   `json:"error,omitempty"`
	Meta    *APIMeta    `json:"meta,omitempty"`
}

// APIError represents an API error.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// APIMeta contains response metadata.
type APIMeta struct {
	Total     int    `json:"total,omitempty"`
	Timestamp string `json:"timestamp"`
}

// VolumeInfo is a volume in the listing.
type VolumeInfo struct {
	ID     string         `json:"id"`
	Title  string         `json:"title"`
	Status library.Status `json:"status"`
	Locked bool           `json:"locked"`
}

// ChapterInfo is a chapter in a table of contents.
type ChapterInfo struct {
	Index   int            `json:"index"`
	ID      string         `json:"id"`
	Date    string         `json:"date"`
	Title   string         `json:"title"`
	Summary string         `json:"summary,omitempty"`
	Status  library.Status `json:"status"`
	Locked  bool           `json:"locked"`
	Diary   bool           `json:"diary,omitempty"`
	Legacy  bool           `json:"legacy,omitempty"`
}

// VolumeDetail is a volume with its table of contents. Extras are the
// fragment chapters listed under ExtraTitle.
type VolumeDetail struct {
	ID         string         `json:"id"`
	Title      string         `json:"title"`
	Status     library.Status `json:"status"`
	Chapters   []ChapterInfo  `json:"chapters"`
	Extras     []ChapterInfo  `json:"extras"`
	ExtraTitle string         `json:"extra_title"`
}

// CompileRequest is the body of POST /api/compile and of preview messages.
type CompileRequest struct {
	Text  string       `json:"text"`
	Flags markup.Flags `json:"flags"`
}

// HealthInfo is the health check response.
type HealthInfo struct {
	Status          string `json:"status"`
	Version         string `json:"version"`
	Uptime          string `json:"uptime"`
	Volumes         int    `json:"volumes"`
	PreviewSessions int         `json:"preview_sessions"`
	SQLite          sqlite.Info `json:"sqlite"`
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		respondError(w, http.StatusNotFound, "NOT_FOUND", "Endpoint not found")
		return
	}

	respond(w, http.StatusOK, map[string]interface{}{
		"name":    "sidestory",
		"version": Version,
		"endpoints": []string{
			"GET /health",
			"GET /api/volumes",
			"GET /api/volumes/{id}",
			"GET /api/chapters/{id}",
			"POST /api/compile",
			"WS /ws/preview",
		},
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	volumes, err := s.library.Volumes(r.Context())
	if err != nil {
		logging.ErrorContext(r.Context(), "health check failed", "error", err)
		respondError(w, http.StatusServiceUnavailable, "UNAVAILABLE", "library unavailable")
		return
	}

	respond(w, http.StatusOK, HealthInfo{
		Status:          "healthy",
		Version:         Version,
		Uptime:          time.Since(s.startTime).Round(time.Second).String(),
		Volumes:         len(volumes),
		PreviewSessions: s.hub.Len(),
		SQLite:          sqlite.GetInfo(),
	})
}

func (s *Server) handleVolumes(w http.ResponseWriter, r *http.Request) {
	lang, ok := languageParam(w, r)
	if !ok {
		return
	}
	volumes, err := s.library.Volumes(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}

	infos := make([]VolumeInfo, 0, len(volumes))
	for i := range volumes {
		v := &volumes[i]
		infos = append(infos, VolumeInfo{
			ID:     v.ID,
			Title:  v.LocalizedTitle(lang),
			Status: v.Status,
			Locked: !v.Status.Readable(),
		})
	}

	respondList(w, infos, len(infos))
}

func (s *Server) handleVolume(w http.ResponseWriter, r *http.Request) {
	lang, ok := languageParam(w, r)
	if !ok {
		return
	}
	id := r.PathValue("id")
	if err := validation.ValidateID(id); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_ID", err.Error())
		return
	}

	v, err := s.library.Volume(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if !v.Status.Readable() {
		respondError(w, http.StatusForbidden, "LOCKED",
			fmt.Sprintf("%s: volume %s is %s", render.AccessDenied, v.ID, v.Status))
		return
	}

	respond(w, http.StatusOK, VolumeDetail{
		ID:         v.ID,
		Title:      v.LocalizedTitle(lang),
		Status:     v.Status,
		Chapters:   chapterInfos(v.MainChapters(), lang),
		Extras:     chapterInfos(v.ExtraChapters(), lang),
		ExtraTitle: render.ExtraDirectoryTitle(lang),
	})
}

func chapterInfos(entries []library.TOCEntry, lang library.Language) []ChapterInfo {
	infos := make([]ChapterInfo, 0, len(entries))
	for _, e := range entries {
		c := e.Chapter
		t, _, _ := c.Translation(lang)
		infos = append(infos, ChapterInfo{
			Index:   e.Index,
			ID:      c.ID,
			Date:    c.Date,
			Title:   t.Title,
			Summary: t.Summary,
			Status:  c.Status,
			Locked:  !c.Status.Readable(),
			Diary:   c.Diary,
			Legacy:  c.Legacy,
		})
	}
	return infos
}

func (s *Server) handleChapter(w http.ResponseWriter, r *http.Request) {
	lang, ok := languageParam(w, r)
	if !ok {
		return
	}
	id := r.PathValue("id")
	if err := validation.ValidateID(id); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_ID", err.Error())
		return
	}
	light := r.URL.Query().Get("theme") == "light"

	view, err := s.reader.Open(r.Context(), id, lang, light)
	if err != nil {
		writeError(w, r, err)
		return
	}

	switch format := r.URL.Query().Get("format"); format {
	case "", "json":
		respond(w, http.StatusOK, view)
	case "html":
		page, err := render.Page(view, light)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeBody(w, "text/html; charset=utf-8", page)
	case "text":
		writeBody(w, "text/plain; charset=utf-8", render.Text(view.Blocks))
	default:
		respondError(w, http.StatusBadRequest, "INVALID_FORMAT", fmt.Sprintf("unknown format %q", format))
	}
}

func (s *Server) handleCompile(w http.ResponseWriter, r *http.Request) {
	lang, ok := languageParam(w, r)
	if !ok {
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, validation.MaxFileSize)

	var req CompileRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body: "+err.Error())
		return
	}

	start := time.Now()
	report := markup.Inspect(req.Text, req.Flags)
	logging.ChapterCompiled(r.Context(), "", string(lang), len(report.Blocks), time.Since(start), "source", "api")
	if report.Unterminated != nil {
		logging.VoidBlockDropped(r.Context(), "api/compile", report.Unterminated.StartLine, report.Unterminated.Lines)
	}

	switch format := r.URL.Query().Get("format"); format {
	case "", "json":
		respond(w, http.StatusOK, report)
	case "html":
		html, err := render.HTML(report.Blocks, render.Options{Language: lang, LightTheme: req.Flags.LightTheme})
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeBody(w, "text/html; charset=utf-8", html)
	case "text":
		writeBody(w, "text/plain; charset=utf-8", render.Text(report.Blocks))
	default:
		respondError(w, http.StatusBadRequest, "INVALID_FORMAT", fmt.Sprintf("unknown format %q", format))
	}
}

// languageParam reads ?lang=. It writes a 400 and returns false when the
// language is not supported.
func languageParam(w http.ResponseWriter, r *http.Request) (library.Language, bool) {
	lang, err := library.ParseLanguage(r.URL.Query().Get("lang"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_LANGUAGE", err.Error())
		return "", false
	}
	return lang, true
}

// writeError maps typed errors onto status codes.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, errors.ErrNotFound):
		respondError(w, http.StatusNotFound, "NOT_FOUND", err.Error())
	case errors.Is(err, errors.ErrLocked):
		respondError(w, http.StatusForbidden, "LOCKED", render.AccessDenied+": "+err.Error())
	case errors.Is(err, errors.ErrInvalidInput):
		respondError(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
	case errors.Is(err, errors.ErrUnsupported):
		respondError(w, http.StatusBadRequest, "UNSUPPORTED", err.Error())
	case errors.Is(err, errors.ErrIntegrity):
		logging.ErrorContext(r.Context(), "stored content failed verification", "error", err, "path", r.URL.Path)
		respondError(w, http.StatusInternalServerError, "INTEGRITY", "stored content failed verification")
	default:
		logging.ErrorContext(r.Context(), "request failed", "error", err, "path", r.URL.Path)
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "internal error")
	}
}

func writeBody(w http.ResponseWriter, contentType, body string) {
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(body))
}

func respond(w http.ResponseWriter, status int, data interface{}) {
	writeJSON(w, status, APIResponse{
		Success: true,
		Data:    data,
		Meta: &APIMeta{
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		},
	})
}

func respondList(w http.ResponseWriter, data interface{}, total int) {
	writeJSON(w, http.StatusOK, APIResponse{
		Success: true,
		Data:    data,
		Meta: &APIMeta{
			Total:     total,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		},
	})
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, APIResponse{
		Success: false,
		Error: &APIError{
			Code:    code,
			Message: strings.TrimSpace(message),
		},
		Meta: &APIMeta{
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		},
	})
}

func writeJSON(w http.ResponseWriter, status int, response APIResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(response)
}
