// Package bundle packs library volumes into compressed tar archives and
// unpacks them again.
//
// An archive holds manifest.json followed by one entry per translation at
// chapters/<chapter>/<lang>.txt. The manifest records the BLAKE3 and SHA-256
// fingerprint of every entry; Unpack refuses archives whose entries do not
// match.
package bundle

import (
	"archive/tar"
	"bufio"
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path"
	"time"

	"github.com/ulikunitz/xz"

	"github.com/FocuswithJustin/sidestory/core/cas"
	"github.com/FocuswithJustin/sidestory/core/errors"
	"github.com/FocuswithJustin/sidestory/core/library"
	"github.com/FocuswithJustin/sidestory/internal/logging"
	"github.com/FocuswithJustin/sidestory/internal/validation"
)

// FormatVersion is the manifest version written by Pack.
const FormatVersion = 1

// ManifestName is the archive entry holding the manifest.
const ManifestName = "manifest.json"

// Injectable for tests.
var nowFunc = time.Now

// CompressionType specifies the compression of a bundle.
type CompressionType string

const (
	// CompressionXZ uses XZ/LZMA2 compression (default, best ratio).
	CompressionXZ CompressionType = "xz"
	// CompressionGzip uses gzip compression (faster).
	CompressionGzip CompressionType = "gzip"
)

// ParseCompression accepts "xz", "gzip" or "" (xz).
func ParseCompression(s string) (CompressionType, error) {
	switch CompressionType(s) {
	case "", CompressionXZ:
		return CompressionXZ, nil
	case CompressionGzip, "gz":
		return CompressionGzip, nil
	}
	return "", errors.NewUnsupported("compression", s)
}

// Options configures packing.
type Options struct {
	Compression CompressionType
}

// DefaultOptions returns XZ compression.
func DefaultOptions() Options {
	return Options{Compression: CompressionXZ}
}

// Manifest describes the contents of a bundle.
type Manifest struct {
	Version int           `json:"version"`
	Created string        `json:"created"`
	Volumes []VolumeEntry `json:"volumes"`
}

// VolumeEntry is a volume in the manifest.
type VolumeEntry struct {
	ID       string         `json:"id"`
	Title    string         `json:"title"`
	TitleEn  string         `json:"title_en,omitempty"`
	Status   library.Status `json:"status"`
	Chapters []ChapterEntry `json:"chapters"`
}

// ChapterEntry is a chapter in the manifest.
type ChapterEntry struct {
	ID           string                                `json:"id"`
	Date         string                                `json:"date"`
	Status       library.Status                        `json:"status"`
	Legacy       bool                                  `json:"legacy,omitempty"`
	Diary        bool                                  `json:"diary,omitempty"`
	Extra        bool                                  `json:"extra,omitempty"`
	Translations map[library.Language]TranslationEntry `json:"translations"`
}

// TranslationEntry points at the archive entry holding a translation.
type TranslationEntry struct {
	Title   string `json:"title"`
	Summary string `json:"summary,omitempty"`
	Path    string `json:"path"`
	Size    int64  `json:"size"`
	BLAKE3  string `json:"blake3"`
	SHA256  string `json:"sha256"`
}

// EntryPath returns the archive path of a translation.
func EntryPath(chapterID string, lang library.Language) string {
	return path.Join("chapters", chapterID, string(lang)+".txt")
}

// Pack writes volumes to a bundle at archivePath.
func Pack(volumes []library.Volume, archivePath string, opts Options) (*Manifest, error) {
	file, err := os.Create(archivePath)
	if err != nil {
		return nil, errors.NewIO("create", archivePath, err)
	}
	m, err := Write(file, volumes, opts)
	if cerr := file.Close(); err == nil && cerr != nil {
		err = errors.NewIO("close", archivePath, cerr)
	}
	if err != nil {
		os.Remove(archivePath)
		return nil, err
	}
	return m, nil
}

// Write streams a bundle of volumes to w.
func Write(w io.Writer, volumes []library.Volume, opts Options) (*Manifest, error) {
	if err := library.Validate(volumes); err != nil {
		return nil, err
	}

	var compressWriter io.WriteCloser
	var err error
	switch opts.Compression {
	case CompressionGzip:
		compressWriter, err = gzip.NewWriterLevel(w, gzip.BestCompression)
		if err != nil {
			return nil, fmt.Errorf("failed to create gzip writer: %w", err)
		}
	case CompressionXZ, "":
		compressWriter, err = xz.NewWriter(w)
		if err != nil {
			return nil, fmt.Errorf("failed to create xz writer: %w", err)
		}
	default:
		return nil, errors.NewUnsupported("compression", string(opts.Compression))
	}
	tarWriter := tar.NewWriter(compressWriter)

	m, contents := buildManifest(volumes)
	manifestData, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to serialize manifest: %w", err)
	}
	if err := writeToTar(tarWriter, ManifestName, manifestData); err != nil {
		return nil, fmt.Errorf("failed to write manifest: %w", err)
	}
	for _, c := range contents {
		if err := writeToTar(tarWriter, c.path, c.data); err != nil {
			return nil, fmt.Errorf("failed to write %s: %w", c.path, err)
		}
	}

	if err := tarWriter.Close(); err != nil {
		return nil, fmt.Errorf("failed to finish tar stream: %w", err)
	}
	if err := compressWriter.Close(); err != nil {
		return nil, fmt.Errorf("failed to finish %s stream: %w", opts.Compression, err)
	}
	return m, nil
}

type content struct {
	path string
	data []byte
}

func buildManifest(volumes []library.Volume) (*Manifest, []content) {
	m := &Manifest{
		Version: FormatVersion,
		Created: nowFunc().UTC().Format(time.RFC3339),
		Volumes: make([]VolumeEntry, 0, len(volumes)),
	}
	var contents []content
	for _, v := range volumes {
		ve := VolumeEntry{ID: v.ID, Title: v.Title, TitleEn: v.TitleEn, Status: v.Status, Chapters: []ChapterEntry{}}
		for i := range v.Chapters {
			c := &v.Chapters[i]
			ce := ChapterEntry{
				ID:           c.ID,
				Date:         c.Date,
				Status:       c.Status,
				Legacy:       c.Legacy,
				Diary:        c.Diary,
				Extra:        c.Extra,
				Translations: make(map[library.Language]TranslationEntry, len(c.Translations)),
			}
			for _, lang := range library.SortedLanguages(c) {
				t := c.Translations[lang]
				data := []byte(t.Content)
				fp := cas.Fingerprint(data)
				p := EntryPath(c.ID, lang)
				ce.Translations[lang] = TranslationEntry{
					Title:   t.Title,
					Summary: t.Summary,
					Path:    p,
					Size:    int64(len(data)),
					BLAKE3:  fp.BLAKE3,
					SHA256:  fp.SHA256,
				}
				contents = append(contents, content{path: p, data: data})
			}
			ve.Chapters = append(ve.Chapters, ce)
		}
		m.Volumes = append(m.Volumes, ve)
	}
	return m, contents
}

func writeToTar(tw *tar.Writer, name string, data []byte) error {
	header := &tar.Header{
		Name:    name,
		Mode:    0644,
		Size:    int64(len(data)),
		ModTime: nowFunc().UTC().Truncate(time.Second),
		Format:  tar.FormatPAX,
	}
	if err := tw.WriteHeader(header); err != nil {
		return err
	}
	_, err := tw.Write(data)
	return err
}

// DetectCompression reads the magic bytes of r.
func DetectCompression(r *bufio.Reader) (validation.FileType, error) {
	header, err := r.Peek(validation.SniffLen)
	if err != nil && err != io.EOF && err != bufio.ErrBufferFull {
		return validation.FileTypeUnknown, errors.NewIO("read magic bytes", "", err)
	}
	if len(header) < 2 {
		return validation.FileTypeUnknown, errors.NewValidation("archive", "file too small to detect compression")
	}
	switch t := validation.DetectFileType(header); t {
	case validation.FileTypeXZ, validation.FileTypeGzip, validation.FileTypeTar:
		return t, nil
	}
	return validation.FileTypeUnknown, errors.NewUnsupported("compression format", "unknown magic bytes")
}

// Unpack reads the bundle at archivePath and returns its volumes.
func Unpack(archivePath string) ([]library.Volume, *Manifest, error) {
	file, err := os.Open(archivePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, errors.NewNotFound("bundle", archivePath)
		}
		return nil, nil, errors.NewIO("open", archivePath, err)
	}
	defer file.Close()

	volumes, m, err := Read(file)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "unpack %s", archivePath)
	}
	return volumes, m, nil
}

// Read decodes a bundle stream. Compression is detected from magic bytes.
func Read(r io.Reader) ([]library.Volume, *Manifest, error) {
	br := bufio.NewReaderSize(r, validation.SniffLen)
	kind, err := DetectCompression(br)
	if err != nil {
		return nil, nil, err
	}

	var decompressReader io.Reader
	switch kind {
	case validation.FileTypeGzip:
		gzReader, err := gzip.NewReader(br)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create gzip reader: %w", err)
		}
		defer gzReader.Close()
		decompressReader = gzReader
	case validation.FileTypeXZ:
		xzReader, err := xz.NewReader(br)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create xz reader: %w", err)
		}
		decompressReader = xzReader
	default:
		decompressReader = br
	}

	entries, err := readEntries(tar.NewReader(decompressReader))
	if err != nil {
		return nil, nil, err
	}

	data, ok := entries[ManifestName]
	if !ok {
		return nil, nil, errors.NewValidation("archive", "archive does not contain "+ManifestName)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, nil, &errors.ParseError{Format: "bundle manifest", Path: ManifestName, Message: err.Error(), Err: err}
	}
	if m.Version != FormatVersion {
		return nil, nil, errors.NewUnsupported("bundle version", fmt.Sprintf("%d", m.Version))
	}

	volumes, used, err := m.volumes(entries)
	if err != nil {
		return nil, nil, err
	}
	for name := range entries {
		if name != ManifestName && !used[name] {
			logging.Warn("bundle entry not referenced by manifest", "entry", name)
		}
	}
	if err := library.Validate(volumes); err != nil {
		return nil, nil, err
	}
	return volumes, &m, nil
}

func readEntries(tr *tar.Reader) (map[string][]byte, error) {
	entries := make(map[string][]byte)
	for {
		header, err := tr.Next()
		if err == io.EOF {
			return entries, nil
		}
		if errors.Is(err, tar.ErrInsecurePath) {
			return nil, &errors.ValidationError{Field: "entry", Message: fmt.Sprintf("%q: %v", header.Name, err), Err: err}
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read tar header: %w", err)
		}
		if err := validation.ValidateArchiveEntry(header.Name); err != nil {
			return nil, &errors.ValidationError{Field: "entry", Message: fmt.Sprintf("%q: %v", header.Name, err), Err: err}
		}
		switch header.Typeflag {
		case tar.TypeDir:
			continue
		case tar.TypeReg:
		default:
			return nil, errors.NewValidation("entry", fmt.Sprintf("%q: only regular files are allowed", header.Name))
		}
		if header.Size > validation.MaxFileSize {
			return nil, errors.NewValidation("entry", fmt.Sprintf("%q exceeds %d bytes", header.Name, validation.MaxFileSize))
		}
		if _, dup := entries[header.Name]; dup {
			return nil, errors.NewValidation("entry", fmt.Sprintf("duplicate entry %q", header.Name))
		}
		data, err := io.ReadAll(io.LimitReader(tr, validation.MaxFileSize))
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", header.Name, err)
		}
		entries[header.Name] = data
	}
}

func (m *Manifest) volumes(entries map[string][]byte) ([]library.Volume, map[string]bool, error) {
	used := make(map[string]bool)
	volumes := make([]library.Volume, 0, len(m.Volumes))
	for _, ve := range m.Volumes {
		v := library.Volume{ID: ve.ID, Title: ve.Title, TitleEn: ve.TitleEn, Status: ve.Status}
		for _, ce := range ve.Chapters {
			c := library.Chapter{
				ID:           ce.ID,
				Date:         ce.Date,
				Status:       ce.Status,
				Legacy:       ce.Legacy,
				Diary:        ce.Diary,
				Extra:        ce.Extra,
				Translations: make(map[library.Language]library.Translation, len(ce.Translations)),
			}
			for lang, te := range ce.Translations {
				data, ok := entries[te.Path]
				if !ok {
					return nil, nil, errors.NewNotFound("bundle entry", te.Path)
				}
				if int64(len(data)) != te.Size {
					return nil, nil, errors.NewIO("verify", te.Path,
						fmt.Errorf("%w: size %d, want %d", errors.ErrIntegrity, len(data), te.Size))
				}
				if err := cas.Verify(data, cas.HashResult{BLAKE3: te.BLAKE3, SHA256: te.SHA256}); err != nil {
					return nil, nil, errors.NewIO("verify", te.Path, err)
				}
				used[te.Path] = true
				c.Translations[lang] = library.Translation{Title: te.Title, Summary: te.Summary, Content: string(data)}
			}
			v.Chapters = append(v.Chapters, c)
		}
		volumes = append(volumes, v)
	}
	return volumes, used, nil
}
