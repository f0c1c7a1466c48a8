package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestNotFoundError(t *testing.T) {
	tests := []struct {
		name    string
		err     *NotFoundError
		wantMsg string
	}{
		{
			name:    "with ID",
			err:     &NotFoundError{Resource: "chapter", ID: "story-byaki-diary"},
			wantMsg: "chapter not found: story-byaki-diary",
		},
		{
			name:    "without ID",
			err:     &NotFoundError{Resource: "volume"},
			wantMsg: "volume not found",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.wantMsg {
				t.Errorf("Error() = %q, want %q", got, tt.wantMsg)
			}
			if !errors.Is(tt.err, ErrNotFound) {
				t.Errorf("errors.Is(%v, ErrNotFound) = false", tt.err)
			}
		})
	}

	t.Run("with underlying error", func(t *testing.T) {
		underlying := fmt.Errorf("no rows")
		err := &NotFoundError{Resource: "chapter", ID: "S001", Err: underlying}
		if got := err.Unwrap(); got != underlying {
			t.Errorf("Unwrap() = %v, want %v", got, underlying)
		}
	})
}

func TestValidationError(t *testing.T) {
	tests := []struct {
		name    string
		err     *ValidationError
		wantMsg string
	}{
		{
			name:    "with field",
			err:     NewValidation("lang", "unknown language"),
			wantMsg: "validation failed for lang: unknown language",
		},
		{
			name:    "without field",
			err:     &ValidationError{Message: "empty manifest"},
			wantMsg: "validation failed: empty manifest",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.wantMsg {
				t.Errorf("Error() = %q, want %q", got, tt.wantMsg)
			}
			if !errors.Is(tt.err, ErrInvalidInput) {
				t.Errorf("errors.Is(%v, ErrInvalidInput) = false", tt.err)
			}
		})
	}
}

func TestLockedError(t *testing.T) {
	err := NewLocked("ERR_004", "locked")
	if got, want := err.Error(), "chapter ERR_004 is locked"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
	if !Is(err, ErrLocked) {
		t.Error("expected LockedError to unwrap to ErrLocked")
	}

	var target *LockedError
	wrapped := Wrap(err, "open chapter")
	if !As(wrapped, &target) {
		t.Fatal("As() failed to find LockedError in chain")
	}
	if target.ChapterID != "ERR_004" {
		t.Errorf("ChapterID = %q, want %q", target.ChapterID, "ERR_004")
	}
}

func TestIOError(t *testing.T) {
	underlying := errors.New("permission denied")

	tests := []struct {
		name    string
		err     *IOError
		wantMsg string
	}{
		{
			name:    "with path",
			err:     NewIO("read", "/data/S001.txt", underlying),
			wantMsg: "failed to read /data/S001.txt: permission denied",
		},
		{
			name:    "without path",
			err:     NewIO("verify", "", underlying),
			wantMsg: "failed to verify: permission denied",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.wantMsg {
				t.Errorf("Error() = %q, want %q", got, tt.wantMsg)
			}
			if !errors.Is(tt.err, underlying) {
				t.Error("expected IOError to unwrap to the underlying error")
			}
		})
	}
}

func TestParseError(t *testing.T) {
	tests := []struct {
		name    string
		err     *ParseError
		wantMsg string
	}{
		{
			name:    "with path",
			err:     NewParse("manifest", "vol.xml", "missing volume id"),
			wantMsg: "failed to parse manifest at vol.xml: missing volume id",
		},
		{
			name:    "without path",
			err:     NewParse("blocks", "", "unknown block kind x"),
			wantMsg: "failed to parse blocks: unknown block kind x",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.wantMsg {
				t.Errorf("Error() = %q, want %q", got, tt.wantMsg)
			}
			if !errors.Is(tt.err, ErrInvalidInput) {
				t.Error("expected ParseError to unwrap to ErrInvalidInput")
			}
		})
	}
}

func TestUnsupportedError(t *testing.T) {
	err := NewUnsupported("compression", "zstd")
	if got, want := err.Error(), "unsupported compression: zstd"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
	if !errors.Is(err, ErrUnsupported) {
		t.Error("expected UnsupportedError to unwrap to ErrUnsupported")
	}
	if got, want := (&UnsupportedError{Feature: "format"}).Error(), "unsupported format"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestWrap(t *testing.T) {
	if Wrap(nil, "context") != nil {
		t.Error("Wrap(nil) should return nil")
	}
	if Wrapf(nil, "context %d", 1) != nil {
		t.Error("Wrapf(nil) should return nil")
	}

	base := NewNotFound("volume", "VOL_DAILY")
	wrapped := Wrapf(base, "load %s", "VOL_DAILY")
	if got, want := wrapped.Error(), "load VOL_DAILY: volume not found: VOL_DAILY"; got != want {
		t.Errorf("Wrapf() = %q, want %q", got, want)
	}
	if !Is(wrapped, ErrNotFound) {
		t.Error("wrapped error lost ErrNotFound")
	}
}

func TestValidationErrorKeepsCause(t *testing.T) {
	cause := errors.New("invalid identifier")
	err := &ValidationError{Field: "chapter.id", Message: "bad", Err: cause}
	if !errors.Is(err, cause) {
		t.Error("expected cause in chain")
	}
	if !errors.Is(err, ErrInvalidInput) {
		t.Error("expected ErrInvalidInput in chain")
	}

	perr := &ParseError{Format: "manifest", Message: "eof", Err: cause}
	if !errors.Is(perr, cause) || !errors.Is(perr, ErrInvalidInput) {
		t.Error("ParseError should report both its cause and ErrInvalidInput")
	}
}
