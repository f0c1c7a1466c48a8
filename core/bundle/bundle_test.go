package bundle

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/FocuswithJustin/sidestory/core/cas"
	"github.com/FocuswithJustin/sidestory/core/errors"
	"github.com/FocuswithJustin/sidestory/core/library"
)

func testVolumes() []library.Volume {
	return []library.Volume{
		{
			ID:      "VOL_VARIABLE",
			Title:   "被保留的变量",
			TitleEn: "The Preserved Variable",
			Status:  library.StatusUnlocked,
			Chapters: []library.Chapter{
				{
					ID:     "f1",
					Date:   "2024-03-01",
					Status: library.StatusUnlocked,
					Translations: map[library.Language]library.Translation{
						library.LangZhCN: {Title: "一", Summary: "开端", Content: "零点：你好\n[[DIVIDER]]"},
						library.LangEn:   {Title: "One", Content: "Point: hello\n[[DIVIDER]]"},
					},
				},
				{
					ID:     "f2",
					Date:   "2024-03-03",
					Status: library.StatusUnlocked,
					Legacy: true,
					Extra:  true,
					Translations: map[library.Language]library.Translation{
						library.LangZhCN: {Title: "二", Content: "0000.2Void>>\nsignal\n【插入结束】"},
					},
				},
				library.NewGarbledChapter("F_ERR", "档案记录: F-NULL"),
			},
		},
		{
			ID:     "VOL_SEALED",
			Title:  "封存",
			Status: library.StatusLocked,
			Chapters: []library.Chapter{
				{
					ID:     "s1",
					Date:   "2024-04-01",
					Status: library.StatusLocked,
					Translations: map[library.Language]library.Translation{
						library.LangZhCN: {Title: "封", Content: "..."},
					},
				},
			},
		},
	}
}

type entry struct {
	name string
	data []byte
}

func gzipTar(t *testing.T, entries ...entry) []byte {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	for _, e := range entries {
		if err := tw.WriteHeader(&tar.Header{Name: e.name, Mode: 0644, Size: int64(len(e.data))}); err != nil {
			t.Fatal(err)
		}
		if _, err := tw.Write(e.data); err != nil {
			t.Fatal(err)
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := gz.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func singleChapterManifest(t *testing.T, content string) []byte {
	t.Helper()
	fp := cas.Fingerprint([]byte(content))
	m := Manifest{
		Version: FormatVersion,
		Volumes: []VolumeEntry{{
			ID:     "v1",
			Title:  "卷",
			Status: library.StatusUnlocked,
			Chapters: []ChapterEntry{{
				ID:     "c1",
				Status: library.StatusUnlocked,
				Translations: map[library.Language]TranslationEntry{
					library.LangZhCN: {
						Title:  "章",
						Path:   EntryPath("c1", library.LangZhCN),
						Size:   int64(len(content)),
						BLAKE3: fp.BLAKE3,
						SHA256: fp.SHA256,
					},
				},
			}},
		}},
	}
	data, err := json.Marshal(m)
	if err != nil {
		t.Fatal(err)
	}
	return data
}

func TestPackUnpackRoundTrip(t *testing.T) {
	for _, compression := range []CompressionType{CompressionXZ, CompressionGzip} {
		t.Run(string(compression), func(t *testing.T) {
			archive := filepath.Join(t.TempDir(), "library.tar."+string(compression))
			want := testVolumes()

			m, err := Pack(want, archive, Options{Compression: compression})
			if err != nil {
				t.Fatalf("Pack() error = %v", err)
			}
			if m.Version != FormatVersion || len(m.Volumes) != 2 {
				t.Fatalf("manifest = %+v", m)
			}

			got, gotManifest, err := Unpack(archive)
			if err != nil {
				t.Fatalf("Unpack() error = %v", err)
			}
			if diff := cmp.Diff(want, got); diff != "" {
				t.Errorf("volumes mismatch (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff(m, gotManifest); diff != "" {
				t.Errorf("manifest mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestWriteRecordsFingerprints(t *testing.T) {
	var buf bytes.Buffer
	m, err := Write(&buf, testVolumes(), DefaultOptions())
	if err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	te := m.Volumes[0].Chapters[0].Translations[library.LangEn]
	if te.Path != "chapters/f1/en.txt" {
		t.Errorf("Path = %q", te.Path)
	}
	content := "Point: hello\n[[DIVIDER]]"
	if te.BLAKE3 != cas.Blake3Hash([]byte(content)) {
		t.Errorf("BLAKE3 = %q", te.BLAKE3)
	}
	if te.Size != int64(len(content)) {
		t.Errorf("Size = %d", te.Size)
	}
	if !bytes.HasPrefix(buf.Bytes(), []byte{0xfd, '7', 'z', 'X', 'Z', 0x00}) {
		t.Errorf("default compression did not produce xz magic: % x", buf.Bytes()[:6])
	}
}

func TestWriteRejectsInvalidVolumes(t *testing.T) {
	volumes := testVolumes()
	volumes[1].Chapters[0].ID = "f1"
	var buf bytes.Buffer
	if _, err := Write(&buf, volumes, DefaultOptions()); !errors.Is(err, errors.ErrInvalidInput) {
		t.Errorf("Write() error = %v, want ErrInvalidInput", err)
	}
}

func TestWriteRejectsUnknownCompression(t *testing.T) {
	var buf bytes.Buffer
	if _, err := Write(&buf, testVolumes(), Options{Compression: "zstd"}); !errors.Is(err, errors.ErrUnsupported) {
		t.Errorf("Write() error = %v, want ErrUnsupported", err)
	}
}

func TestReadGzipStream(t *testing.T) {
	data := gzipTar(t,
		entry{ManifestName, singleChapterManifest(t, "hello")},
		entry{"chapters/c1/zh-CN.txt", []byte("hello")},
	)
	volumes, _, err := Read(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if got := volumes[0].Chapters[0].Translations[library.LangZhCN].Content; got != "hello" {
		t.Errorf("Content = %q", got)
	}
}

func TestReadPlainTar(t *testing.T) {
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	for _, e := range []entry{
		{ManifestName, singleChapterManifest(t, "plain")},
		{"chapters/c1/zh-CN.txt", []byte("plain")},
	} {
		if err := tw.WriteHeader(&tar.Header{Name: e.name, Mode: 0644, Size: int64(len(e.data))}); err != nil {
			t.Fatal(err)
		}
		if _, err := tw.Write(e.data); err != nil {
			t.Fatal(err)
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatal(err)
	}
	if _, _, err := Read(&buf); err != nil {
		t.Fatalf("Read() error = %v", err)
	}
}

func TestReadRejectsTamperedEntry(t *testing.T) {
	data := gzipTar(t,
		entry{ManifestName, singleChapterManifest(t, "original")},
		entry{"chapters/c1/zh-CN.txt", []byte("tampered")},
	)
	_, _, err := Read(bytes.NewReader(data))
	if !errors.Is(err, errors.ErrIntegrity) {
		t.Errorf("Read() error = %v, want ErrIntegrity", err)
	}
}

func TestReadRejectsBadEntries(t *testing.T) {
	manifest := singleChapterManifest(t, "x")
	tests := []struct {
		name    string
		entries []entry
		want    error
	}{
		{"traversal", []entry{{ManifestName, manifest}, {"../evil.txt", []byte("x")}}, errors.ErrInvalidInput},
		{"absolute", []entry{{"/etc/passwd", []byte("x")}}, errors.ErrInvalidInput},
		{"duplicate", []entry{{ManifestName, manifest}, {ManifestName, manifest}}, errors.ErrInvalidInput},
		{"no manifest", []entry{{"chapters/c1/zh-CN.txt", []byte("x")}}, errors.ErrInvalidInput},
		{"missing entry", []entry{{ManifestName, manifest}}, errors.ErrNotFound},
		{"bad manifest", []entry{{ManifestName, []byte("{")}}, errors.ErrInvalidInput},
		{"future version", []entry{{ManifestName, []byte(`{"version": 99}`)}}, errors.ErrUnsupported},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := Read(bytes.NewReader(gzipTar(t, tt.entries...)))
			if !errors.Is(err, tt.want) {
				t.Errorf("Read() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestReadUnknownFormat(t *testing.T) {
	_, _, err := Read(bytes.NewReader([]byte("just some text, not an archive")))
	if !errors.Is(err, errors.ErrUnsupported) {
		t.Errorf("Read() error = %v, want ErrUnsupported", err)
	}
	_, _, err = Read(bytes.NewReader([]byte{0x1f}))
	if !errors.Is(err, errors.ErrInvalidInput) {
		t.Errorf("Read(1 byte) error = %v, want ErrInvalidInput", err)
	}
}

func TestUnpackMissingFile(t *testing.T) {
	_, _, err := Unpack(filepath.Join(t.TempDir(), "missing.tar.xz"))
	if !errors.Is(err, errors.ErrNotFound) {
		t.Errorf("Unpack() error = %v, want ErrNotFound", err)
	}
}

func TestParseCompression(t *testing.T) {
	tests := []struct {
		in      string
		want    CompressionType
		wantErr bool
	}{
		{"", CompressionXZ, false},
		{"xz", CompressionXZ, false},
		{"gzip", CompressionGzip, false},
		{"gz", CompressionGzip, false},
		{"zstd", "", true},
	}
	for _, tt := range tests {
		got, err := ParseCompression(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParseCompression(%q) = %q, %v", tt.in, got, err)
		}
	}
}
