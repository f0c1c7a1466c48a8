// Command sidestory compiles chapter markup and manages the side-story
// library: importing manifests, packing bundles and serving the reader API.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/alecthomas/kong"

	"github.com/FocuswithJustin/sidestory/core/bundle"
	"github.com/FocuswithJustin/sidestory/core/errors"
	"github.com/FocuswithJustin/sidestory/core/library"
	"github.com/FocuswithJustin/sidestory/core/markup"
	"github.com/FocuswithJustin/sidestory/core/sqlite"
	"github.com/FocuswithJustin/sidestory/internal/api"
	"github.com/FocuswithJustin/sidestory/internal/logging"
	"github.com/FocuswithJustin/sidestory/internal/render"
	"github.com/FocuswithJustin/sidestory/internal/validation"
)

const version = "0.1.0"

// CLI defines the command-line interface for sidestory.
type CLI struct {
	// Global flags
	DB        string `name:"db" env:"SIDESTORY_DB" default:"sidestory.db" help:"SQLite library database" type:"path"`
	LogLevel  string `name:"log-level" env:"SIDESTORY_LOG_LEVEL" default:"info" enum:"debug,info,warn,error" help:"Log level"`
	LogFormat string `name:"log-format" env:"SIDESTORY_LOG_FORMAT" default:"text" enum:"text,json" help:"Log format"`

	Compile CompileCmd   `cmd:"" help:"Compile a chapter file and print the result"`
	Library LibraryGroup `cmd:"" help:"Library operations (import, list, show, stats, delete)"`
	Bundle  BundleGroup  `cmd:"" help:"Pack and unpack library bundles"`
	Serve   ServeCmd     `cmd:"" help:"Start the reader API server"`
	Version VersionCmd   `cmd:"" help:"Print version information"`
}

// LibraryGroup contains library store operations.
type LibraryGroup struct {
	Import LibraryImportCmd `cmd:"" help:"Import volumes from a JSON or XML manifest"`
	List   LibraryListCmd   `cmd:"" help:"List volumes and chapters"`
	Show   LibraryShowCmd   `cmd:"" help:"Compile and print a stored chapter"`
	Stats  LibraryStatsCmd  `cmd:"" help:"Count volumes, chapters and translations"`
	Delete LibraryDeleteCmd `cmd:"" help:"Delete a volume and its chapters"`
}

// BundleGroup contains bundle operations.
type BundleGroup struct {
	Pack   BundlePackCmd   `cmd:"" help:"Write the library to a .tar.xz or .tar.gz bundle"`
	Unpack BundleUnpackCmd `cmd:"" help:"Verify a bundle and import it into the library"`
}

// App carries what every command needs.
type App struct {
	Stdout io.Writer
	DB     string
}

func (a *App) openStore(ctx context.Context) (*library.Store, error) {
	store, err := library.Open(a.DB)
	if err != nil {
		return nil, err
	}
	applied, err := store.Migrate(ctx)
	if err != nil {
		store.Close()
		return nil, err
	}
	if len(applied) > 0 {
		logging.Debug("migrations applied", "db", a.DB, "migrations", strings.Join(applied, ","))
	}
	return store, nil
}

// openReader opens the library read-only. A missing database file is
// reported as a missing library.
func (a *App) openReader() (*library.Store, error) {
	if _, err := os.Stat(a.DB); os.IsNotExist(err) {
		return nil, errors.NewNotFound("library", a.DB)
	}
	return library.OpenReadOnly(a.DB)
}

// CompileCmd compiles a chapter file without touching the library.
type CompileCmd struct {
	File   string `arg:"" help:"Chapter file to compile (- for stdin)"`
	Legacy bool   `help:"Compile as a legacy chapter (Zelo uses the legacy blue)"`
	Diary  bool   `help:"Compile as a diary chapter"`
	Light  bool   `help:"Light theme"`
	Lang   string `default:"zh-CN" help:"Language for localized labels"`
	Format string `short:"f" default:"text" enum:"text,html,json" help:"Output format (text, html, json)"`
}

func (c *CompileCmd) Run(app *App) error {
	lang, err := library.ParseLanguage(c.Lang)
	if err != nil {
		return err
	}
	text, err := readChapter(c.File)
	if err != nil {
		return err
	}

	flags := markup.Flags{Legacy: c.Legacy, Diary: c.Diary, LightTheme: c.Light}
	start := time.Now()
	report := markup.Inspect(text, flags)
	ctx := context.Background()
	logging.ChapterCompiled(ctx, c.File, string(lang), len(report.Blocks), time.Since(start))
	if report.Unterminated != nil {
		logging.VoidBlockDropped(ctx, c.File, report.Unterminated.StartLine, report.Unterminated.Lines)
	}

	return writeReport(app.Stdout, report, c.Format, render.Options{Language: lang, LightTheme: c.Light})
}

func readChapter(path string) (string, error) {
	var r io.Reader
	if path == "-" {
		r = os.Stdin
	} else {
		if err := validation.ValidatePath(path); err != nil {
			return "", fmt.Errorf("invalid chapter path: %w", err)
		}
		f, err := os.Open(path)
		if err != nil {
			return "", fmt.Errorf("failed to open chapter: %w", err)
		}
		defer f.Close()
		r = f
	}
	data, err := io.ReadAll(io.LimitReader(r, validation.MaxFileSize+1))
	if err != nil {
		return "", fmt.Errorf("failed to read chapter: %w", err)
	}
	if len(data) > validation.MaxFileSize {
		return "", fmt.Errorf("chapter exceeds %d bytes", validation.MaxFileSize)
	}
	return string(data), nil
}

func writeReport(w io.Writer, report markup.Report, format string, opts render.Options) error {
	switch format {
	case "json":
		return writeJSON(w, report)
	case "html":
		html, err := render.HTML(report.Blocks, opts)
		if err != nil {
			return err
		}
		_, err = io.WriteString(w, html)
		return err
	default:
		_, err := io.WriteString(w, render.Text(report.Blocks))
		return err
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// LibraryImportCmd loads a manifest into the store.
type LibraryImportCmd struct {
	Manifest string `arg:"" help:"Manifest file (.json or .xml)" type:"existingfile"`
}

func (c *LibraryImportCmd) Run(app *App) error {
	volumes, err := library.LoadManifest(c.Manifest)
	if err != nil {
		return err
	}
	ctx := context.Background()
	store, err := app.openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := putVolumes(ctx, store, volumes, "manifest", c.Manifest); err != nil {
		return err
	}
	fmt.Fprintf(app.Stdout, "Imported %d volume(s) from %s\n", len(volumes), filepath.Base(c.Manifest))
	return nil
}

func putVolumes(ctx context.Context, store *library.Store, volumes []library.Volume, source, path string) error {
	for _, v := range volumes {
		if err := store.PutVolume(ctx, v); err != nil {
			return fmt.Errorf("import %s: %w", v.ID, err)
		}
		logging.LibraryEvent("volume_imported", v.ID, "chapters", len(v.Chapters), "source", source, "path", path)
	}
	return nil
}

// LibraryListCmd prints volumes and their tables of contents.
type LibraryListCmd struct {
	Lang string `default:"zh-CN" help:"Language for titles"`
}

func (c *LibraryListCmd) Run(app *App) error {
	lang, err := library.ParseLanguage(c.Lang)
	if err != nil {
		return err
	}
	ctx := context.Background()
	store, err := app.openReader()
	if errors.Is(err, errors.ErrNotFound) {
		fmt.Fprintln(app.Stdout, "Library is empty")
		return nil
	}
	if err != nil {
		return err
	}
	defer store.Close()

	headers, err := store.Volumes(ctx)
	if err != nil {
		return err
	}
	if len(headers) == 0 {
		fmt.Fprintln(app.Stdout, "Library is empty")
		return nil
	}

	tw := tabwriter.NewWriter(app.Stdout, 0, 4, 2, ' ', 0)
	for _, h := range headers {
		v, err := store.Volume(ctx, h.ID)
		if err != nil {
			return err
		}
		fmt.Fprintf(tw, "%s\t%s\t[%s]\n", v.ID, v.LocalizedTitle(lang), v.Status)
		listTOC(tw, v.MainChapters(), lang)
		if extras := v.ExtraChapters(); len(extras) > 0 {
			fmt.Fprintf(tw, "  %s\n", render.ExtraDirectoryTitle(lang))
			listTOC(tw, extras, lang)
		}
	}
	return tw.Flush()
}

func listTOC(w io.Writer, entries []library.TOCEntry, lang library.Language) {
	for _, e := range entries {
		t, _, _ := e.Chapter.Translation(lang)
		marker := ""
		if !e.Chapter.Status.Readable() {
			marker = " (" + render.AccessDenied + ")"
		}
		fmt.Fprintf(w, "  %02d\t%s\t%s\t%s%s\n", e.Index+1, e.Chapter.ID, e.Chapter.Date, t.Title, marker)
	}
}

// LibraryShowCmd compiles a stored chapter.
type LibraryShowCmd struct {
	Chapter string `arg:"" help:"Chapter ID"`
	Lang    string `default:"zh-CN" help:"Translation language (falls back to zh-CN)"`
	Light   bool   `help:"Light theme"`
	Format  string `short:"f" default:"text" enum:"text,html,json" help:"Output format (text, html, json)"`
}

func (c *LibraryShowCmd) Run(app *App) error {
	lang, err := library.ParseLanguage(c.Lang)
	if err != nil {
		return err
	}
	ctx := context.Background()
	store, err := app.openReader()
	if err != nil {
		return err
	}
	defer store.Close()

	view, err := library.NewReader(store, library.ReaderOptions{}).Open(ctx, c.Chapter, lang, c.Light)
	if err != nil {
		return err
	}

	switch c.Format {
	case "json":
		return writeJSON(app.Stdout, view)
	case "html":
		page, err := render.Page(view, c.Light)
		if err != nil {
			return err
		}
		_, err = io.WriteString(app.Stdout, page)
		return err
	default:
		fmt.Fprintf(app.Stdout, "%s // %s\n%s\n\n", view.VolumeTitle, view.ChapterID, view.Title)
		_, err = io.WriteString(app.Stdout, render.Text(view.Blocks))
		return err
	}
}

// LibraryStatsCmd prints store counts.
type LibraryStatsCmd struct {
	JSON bool `help:"Print JSON"`
}

func (c *LibraryStatsCmd) Run(app *App) error {
	ctx := context.Background()
	store, err := app.openReader()
	if err != nil {
		return err
	}
	defer store.Close()

	st, err := store.Stats(ctx)
	if err != nil {
		return err
	}
	if c.JSON {
		return writeJSON(app.Stdout, st)
	}
	fmt.Fprintf(app.Stdout, "Volumes:  %d\nChapters: %d\n", st.Volumes, st.Chapters)
	langs := make([]string, 0, len(st.Translations))
	for lang := range st.Translations {
		langs = append(langs, lang)
	}
	sort.Strings(langs)
	for _, lang := range langs {
		fmt.Fprintf(app.Stdout, "  %-6s %d\n", lang, st.Translations[lang])
	}
	return nil
}

// LibraryDeleteCmd removes a volume.
type LibraryDeleteCmd struct {
	Volume string `arg:"" help:"Volume ID"`
}

func (c *LibraryDeleteCmd) Run(app *App) error {
	ctx := context.Background()
	store, err := app.openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.DeleteVolume(ctx, c.Volume); err != nil {
		return err
	}
	logging.LibraryEvent("volume_deleted", c.Volume)
	fmt.Fprintf(app.Stdout, "Deleted %s\n", c.Volume)
	return nil
}

// BundlePackCmd exports the whole library into a bundle.
type BundlePackCmd struct {
	Out         string `arg:"" help:"Output bundle path" type:"path"`
	Compression string `short:"c" default:"xz" enum:"xz,gzip" help:"Compression (xz, gzip)"`
}

func (c *BundlePackCmd) Run(app *App) error {
	compression, err := bundle.ParseCompression(c.Compression)
	if err != nil {
		return err
	}
	if err := validation.ValidatePath(c.Out); err != nil {
		return fmt.Errorf("invalid output path: %w", err)
	}
	ctx := context.Background()
	store, err := app.openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	volumes, err := store.Export(ctx)
	if err != nil {
		return err
	}
	m, err := bundle.Pack(volumes, c.Out, bundle.Options{Compression: compression})
	if err != nil {
		return err
	}
	chapters := 0
	for _, v := range m.Volumes {
		chapters += len(v.Chapters)
		logging.LibraryEvent("volume_packed", v.ID, "bundle", c.Out)
	}
	fmt.Fprintf(app.Stdout, "Packed %d volume(s), %d chapter(s) into %s (%s)\n", len(m.Volumes), chapters, c.Out, compression)
	return nil
}

// BundleUnpackCmd imports a bundle into the store.
type BundleUnpackCmd struct {
	In string `arg:"" help:"Bundle path" type:"existingfile"`
}

func (c *BundleUnpackCmd) Run(app *App) error {
	volumes, _, err := bundle.Unpack(c.In)
	if err != nil {
		return err
	}
	ctx := context.Background()
	store, err := app.openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := putVolumes(ctx, store, volumes, "bundle", c.In); err != nil {
		return err
	}
	fmt.Fprintf(app.Stdout, "Unpacked %d volume(s) from %s\n", len(volumes), filepath.Base(c.In))
	return nil
}

// ServeCmd starts the API server over the library store.
type ServeCmd struct {
	Port           int           `help:"HTTP server port" default:"8080" env:"SIDESTORY_PORT"`
	AllowedOrigins []string      `name:"allowed-origin" help:"Allowed CORS and websocket origin (repeatable)"`
	RateLimit      int           `help:"Requests per minute per client IP (0 disables)" default:"0"`
	RateBurst      int           `help:"Rate limit burst size" default:"10"`
	CacheTTL       time.Duration `name:"cache-ttl" help:"How long compiled chapters are cached" default:"5m"`
	CacheEntries   int           `help:"Maximum cached chapters" default:"256"`
}

func (c *ServeCmd) Run(app *App) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := app.openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	cfg := api.DefaultConfig()
	cfg.Port = c.Port
	cfg.AllowedOrigins = c.AllowedOrigins
	cfg.RateLimitRequests = c.RateLimit
	cfg.RateLimitBurst = c.RateBurst

	api.Version = version
	reader := library.NewReader(store, library.ReaderOptions{CacheTTL: c.CacheTTL, CacheEntries: c.CacheEntries})
	return api.New(cfg, store, reader).ListenAndServe(ctx)
}

// VersionCmd prints version information.
type VersionCmd struct{}

func (c *VersionCmd) Run(app *App) error {
	info := sqlite.GetInfo()
	fmt.Fprintf(app.Stdout, "sidestory version %s\n", version)
	fmt.Fprintf(app.Stdout, "sqlite driver: %s (%s)\n", info.DriverType, info.Package)
	return nil
}

func main() {
	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("sidestory"),
		kong.Description("Side-story chapter compiler and library"),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact: true,
		}),
	)
	logging.InitLogger(logging.ParseLevel(cli.LogLevel), logging.ParseFormat(cli.LogFormat))

	err := ctx.Run(&App{Stdout: os.Stdout, DB: cli.DB})
	ctx.FatalIfErrorf(err)
}
