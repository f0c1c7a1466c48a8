// Package validation checks user-supplied paths, identifiers and archive
// entry names before they touch the filesystem or the library store.
package validation

import (
	"bytes"
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Limits on user-supplied names (CWE-400).
const (
	// MaxFileSize is the largest manifest, chapter file or bundle entry read (64 MB).
	MaxFileSize = 64 << 20
	// MaxFilenameLength is the maximum allowed filename length.
	MaxFilenameLength = 255
	// MaxPathLength is the maximum allowed path length.
	MaxPathLength = 4096
	// MaxIDLength is the maximum length of a volume or chapter ID.
	MaxIDLength = 128
)

// Common validation errors.
var (
	ErrPathTraversal    = errors.New("path traversal detected")
	ErrInvalidFilename  = errors.New("invalid filename")
	ErrPathTooLong      = errors.New("path too long")
	ErrFilenameTooLong  = errors.New("filename too long")
	ErrInvalidCharacter = errors.New("invalid character in path")
	ErrEmptyPath        = errors.New("path cannot be empty")
	ErrInvalidID        = errors.New("invalid identifier")
)

// SanitizePath validates a path relative to baseDir and returns it cleaned.
// Absolute paths and paths that escape baseDir are rejected.
func SanitizePath(baseDir, userPath string) (string, error) {
	if userPath == "" {
		return "", ErrEmptyPath
	}
	if len(userPath) > MaxPathLength {
		return "", ErrPathTooLong
	}

	cleanPath := filepath.Clean(userPath)
	if filepath.IsAbs(cleanPath) {
		return "", fmt.Errorf("%w: absolute path not allowed", ErrPathTraversal)
	}
	if cleanPath == ".." || strings.HasPrefix(cleanPath, ".."+string(filepath.Separator)) {
		return "", ErrPathTraversal
	}

	absBase, err := filepath.Abs(baseDir)
	if err != nil {
		return "", fmt.Errorf("failed to resolve base directory: %w", err)
	}
	absPath, err := filepath.Abs(filepath.Join(baseDir, cleanPath))
	if err != nil {
		return "", fmt.Errorf("failed to resolve path: %w", err)
	}
	relPath, err := filepath.Rel(absBase, absPath)
	if err != nil || relPath == ".." || strings.HasPrefix(relPath, ".."+string(filepath.Separator)) {
		return "", ErrPathTraversal
	}

	return cleanPath, nil
}

// ValidateFilename rejects names with separators, control characters,
// reserved names and a leading hyphen.
func ValidateFilename(filename string) error {
	if filename == "" {
		return ErrInvalidFilename
	}
	if len(filename) > MaxFilenameLength {
		return ErrFilenameTooLong
	}
	if filename == "." || filename == ".." {
		return fmt.Errorf("%w: reserved name", ErrInvalidFilename)
	}
	if strings.ContainsAny(filename, "/\\") {
		return fmt.Errorf("%w: path separator not allowed", ErrInvalidFilename)
	}
	if err := checkControl(filename); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidFilename, err)
	}
	if strings.HasPrefix(filename, "-") {
		return fmt.Errorf("%w: filename cannot start with hyphen", ErrInvalidFilename)
	}
	return nil
}

// ValidatePath checks length and characters of a path without a base directory.
func ValidatePath(p string) error {
	if p == "" {
		return ErrEmptyPath
	}
	if len(p) > MaxPathLength {
		return ErrPathTooLong
	}
	if err := checkControl(p); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidCharacter, err)
	}
	return nil
}

// ValidateID checks a volume or chapter identifier. IDs appear in URLs and
// as directory names inside bundles, so they are limited to letters, digits,
// '-', '_' and '.' and may not be "." or "..".
func ValidateID(id string) error {
	if id == "" {
		return fmt.Errorf("%w: empty", ErrInvalidID)
	}
	if len(id) > MaxIDLength {
		return fmt.Errorf("%w: longer than %d bytes", ErrInvalidID, MaxIDLength)
	}
	if id == "." || id == ".." {
		return fmt.Errorf("%w: reserved name", ErrInvalidID)
	}
	for _, r := range id {
		if r > unicode.MaxASCII || !(unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-' || r == '_' || r == '.') {
			return fmt.Errorf("%w: character %q not allowed", ErrInvalidID, r)
		}
	}
	return nil
}

// ValidateArchiveEntry checks a tar entry name. Names use forward slashes,
// must be relative and may not contain ".." components.
func ValidateArchiveEntry(name string) error {
	if err := ValidatePath(name); err != nil {
		return err
	}
	if strings.Contains(name, "\\") {
		return fmt.Errorf("%w: backslash in archive entry", ErrInvalidCharacter)
	}
	if strings.HasPrefix(name, "/") {
		return fmt.Errorf("%w: absolute archive entry", ErrPathTraversal)
	}
	for _, part := range strings.Split(name, "/") {
		if part == ".." {
			return ErrPathTraversal
		}
	}
	if clean := path.Clean(name); clean != name {
		return fmt.Errorf("%w: archive entry %q is not canonical", ErrInvalidFilename, name)
	}
	return nil
}

func checkControl(s string) error {
	for _, r := range s {
		if unicode.IsControl(r) {
			if r == 0 {
				return errors.New("null byte not allowed")
			}
			return errors.New("control character not allowed")
		}
	}
	return nil
}

// FileType identifies a manifest or bundle format.
type FileType string

const (
	FileTypeTarXZ   FileType = "tar.xz"
	FileTypeTarGZ   FileType = "tar.gz"
	FileTypeTar     FileType = "tar"
	FileTypeXZ      FileType = "xz"
	FileTypeGzip    FileType = "gzip"
	FileTypeXML     FileType = "xml"
	FileTypeJSON    FileType = "json"
	FileTypeText    FileType = "text"
	FileTypeUnknown FileType = "unknown"
)

// SniffLen is the number of leading bytes DetectFileType looks at.
const SniffLen = 512

var magicBytes = []struct {
	fileType FileType
	magic    []byte
	offset   int
}{
	{FileTypeXZ, []byte{0xfd, 0x37, 0x7a, 0x58, 0x5a, 0x00}, 0},
	{FileTypeGzip, []byte{0x1f, 0x8b}, 0},
	{FileTypeTar, []byte("ustar"), 257},
}

// DetectFileType identifies content from its leading bytes. Compressed
// streams report the compression only, since the tar header is inside.
func DetectFileType(header []byte) FileType {
	for _, sig := range magicBytes {
		if sig.offset+len(sig.magic) <= len(header) &&
			bytes.Equal(header[sig.offset:sig.offset+len(sig.magic)], sig.magic) {
			return sig.fileType
		}
	}
	trimmed := bytes.TrimLeft(header, " \t\r\n\ufeff")
	switch {
	case len(trimmed) == 0:
		return FileTypeUnknown
	case trimmed[0] == '<':
		return FileTypeXML
	case trimmed[0] == '{' || trimmed[0] == '[':
		return FileTypeJSON
	case isLikelyText(header):
		return FileTypeText
	}
	return FileTypeUnknown
}

// FileTypeFromName determines the expected type from a file extension.
func FileTypeFromName(filename string) FileType {
	lower := strings.ToLower(filename)
	switch {
	case strings.HasSuffix(lower, ".tar.xz"), strings.HasSuffix(lower, ".txz"):
		return FileTypeTarXZ
	case strings.HasSuffix(lower, ".tar.gz"), strings.HasSuffix(lower, ".tgz"):
		return FileTypeTarGZ
	}
	switch filepath.Ext(lower) {
	case ".tar":
		return FileTypeTar
	case ".xz":
		return FileTypeXZ
	case ".gz":
		return FileTypeGzip
	case ".xml":
		return FileTypeXML
	case ".json":
		return FileTypeJSON
	case ".txt", ".md":
		return FileTypeText
	}
	return FileTypeUnknown
}

// isLikelyText reports whether buf is mostly printable. UTF-8 multibyte
// sequences count as neutral.
func isLikelyText(buf []byte) bool {
	if len(buf) == 0 || bytes.IndexByte(buf, 0) != -1 {
		return false
	}
	printable, control := 0, 0
	for _, b := range buf {
		switch {
		case b >= 0x20 && b <= 0x7e, b == '\t', b == '\n', b == '\r':
			printable++
		case b < 0x20:
			control++
		}
	}
	if printable+control == 0 {
		return utf8.Valid(buf)
	}
	return float64(printable)/float64(printable+control) > 0.95
}
