package library

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"

	"github.com/FocuswithJustin/sidestory/core/cas"
	"github.com/FocuswithJustin/sidestory/core/errors"
	"github.com/FocuswithJustin/sidestory/core/library/migrations"
	"github.com/FocuswithJustin/sidestory/core/sqlite"
)

// Store persists the library in SQLite.
type Store struct {
	db *sql.DB
}

// Open opens the store at dsn (a file path or ":memory:").
// Call Migrate before first use.
func Open(dsn string) (*Store, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.NewValidation("db", "database path is required")
	}
	db, err := sqlite.Open(dsn)
	if err != nil {
		return nil, errors.NewIO("open", dsn, err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, errors.NewIO("ping", dsn, err)
	}
	return &Store{db: db}, nil
}

// OpenReadOnly opens an existing, migrated store file for reading.
func OpenReadOnly(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.NewValidation("db", "database path is required")
	}
	db, err := sqlite.OpenReadOnly(path)
	if err != nil {
		return nil, errors.NewIO("open", path, err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, errors.NewIO("ping", path, err)
	}
	return &Store{db: db}, nil
}

// Migrate brings the schema up to date and returns the migrations it ran.
func (s *Store) Migrate(ctx context.Context) ([]string, error) {
	applied, err := sqlite.Migrate(ctx, s.db, migrations.FS, ".")
	if err != nil {
		return applied, errors.Wrap(err, "migrate library store")
	}
	return applied, nil
}

// Close closes the database handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// PutVolume inserts or replaces a volume with all its chapters. A replaced
// volume keeps its position in the library.
func (s *Store) PutVolume(ctx context.Context, v Volume) error {
	if err := Validate([]Volume{v}); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin put volume")
	}
	defer tx.Rollback()

	for _, c := range v.Chapters {
		var owner string
		err := tx.QueryRowContext(ctx, `SELECT volume_id FROM chapters WHERE id = ?`, c.ID).Scan(&owner)
		switch {
		case err == sql.ErrNoRows:
		case err != nil:
			return errors.Wrapf(err, "look up chapter %s", c.ID)
		case owner != v.ID:
			return errors.NewValidation("chapter.id", fmt.Sprintf("chapter %q already belongs to volume %s", c.ID, owner))
		}
	}

	var position int
	err = tx.QueryRowContext(ctx, `SELECT position FROM volumes WHERE id = ?`, v.ID).Scan(&position)
	if err == sql.ErrNoRows {
		err = tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(position), -1) + 1 FROM volumes`).Scan(&position)
	}
	if err != nil {
		return errors.Wrapf(err, "position of volume %s", v.ID)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM volumes WHERE id = ?`, v.ID); err != nil {
		return errors.Wrapf(err, "replace volume %s", v.ID)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO volumes (id, position, title, title_en, status) VALUES (?, ?, ?, ?, ?)`,
		v.ID, position, v.Title, v.TitleEn, string(v.Status),
	); err != nil {
		return errors.Wrapf(err, "insert volume %s", v.ID)
	}

	for i, c := range v.Chapters {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO chapters (id, volume_id, position, date, status, legacy, diary, extra)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			c.ID, v.ID, i, c.Date, string(c.Status), c.Legacy, c.Diary, c.Extra,
		); err != nil {
			return errors.Wrapf(err, "insert chapter %s", c.ID)
		}
		for lang, t := range c.Translations {
			fp := cas.Fingerprint([]byte(t.Content))
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO translations (chapter_id, lang, title, summary, content, blake3, sha256)
				 VALUES (?, ?, ?, ?, ?, ?, ?)`,
				c.ID, string(lang), t.Title, t.Summary, t.Content, fp.BLAKE3, fp.SHA256,
			); err != nil {
				return errors.Wrapf(err, "insert translation %s/%s", c.ID, lang)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "commit put volume")
	}
	return nil
}

// DeleteVolume removes a volume and its chapters.
func (s *Store) DeleteVolume(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM volumes WHERE id = ?`, id)
	if err != nil {
		return errors.Wrapf(err, "delete volume %s", id)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.NewNotFound("volume", id)
	}
	return nil
}

// Volumes lists all volumes in library order, without chapters.
func (s *Store) Volumes(ctx context.Context) ([]Volume, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, title, title_en, status FROM volumes ORDER BY position`)
	if err != nil {
		return nil, errors.Wrap(err, "list volumes")
	}
	defer rows.Close()

	var volumes []Volume
	for rows.Next() {
		var v Volume
		var status string
		if err := rows.Scan(&v.ID, &v.Title, &v.TitleEn, &status); err != nil {
			return nil, errors.Wrap(err, "scan volume")
		}
		v.Status = Status(status)
		volumes = append(volumes, v)
	}
	return volumes, rows.Err()
}

// Volume returns a volume with its table of contents. Translations carry
// titles and summaries only; use Chapter for content.
func (s *Store) Volume(ctx context.Context, id string) (*Volume, error) {
	v := &Volume{ID: id}
	var status string
	err := s.db.QueryRowContext(ctx,
		`SELECT title, title_en, status FROM volumes WHERE id = ?`, id,
	).Scan(&v.Title, &v.TitleEn, &status)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFound("volume", id)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "load volume %s", id)
	}
	v.Status = Status(status)

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, date, status, legacy, diary, extra FROM chapters
		 WHERE volume_id = ? ORDER BY position`, id)
	if err != nil {
		return nil, errors.Wrapf(err, "list chapters of %s", id)
	}
	for rows.Next() {
		var c Chapter
		var cstatus string
		if err := rows.Scan(&c.ID, &c.Date, &cstatus, &c.Legacy, &c.Diary, &c.Extra); err != nil {
			rows.Close()
			return nil, errors.Wrap(err, "scan chapter")
		}
		c.Status = Status(cstatus)
		c.Translations = make(map[Language]Translation)
		v.Chapters = append(v.Chapters, c)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	trows, err := s.db.QueryContext(ctx,
		`SELECT t.chapter_id, t.lang, t.title, t.summary FROM translations t
		 JOIN chapters c ON c.id = t.chapter_id WHERE c.volume_id = ?`, id)
	if err != nil {
		return nil, errors.Wrapf(err, "list translations of %s", id)
	}
	defer trows.Close()
	byID := make(map[string]*Chapter, len(v.Chapters))
	for i := range v.Chapters {
		byID[v.Chapters[i].ID] = &v.Chapters[i]
	}
	for trows.Next() {
		var chapterID, lang string
		var t Translation
		if err := trows.Scan(&chapterID, &lang, &t.Title, &t.Summary); err != nil {
			return nil, errors.Wrap(err, "scan translation")
		}
		if c := byID[chapterID]; c != nil {
			c.Translations[Language(lang)] = t
		}
	}
	return v, trows.Err()
}

// Chapter loads a chapter with full content and the ID of its volume.
// Content whose fingerprint no longer matches fails with an IOError.
func (s *Store) Chapter(ctx context.Context, id string) (*Chapter, string, error) {
	c := &Chapter{ID: id, Translations: make(map[Language]Translation)}
	var volumeID, status string
	err := s.db.QueryRowContext(ctx,
		`SELECT volume_id, date, status, legacy, diary, extra FROM chapters WHERE id = ?`, id,
	).Scan(&volumeID, &c.Date, &status, &c.Legacy, &c.Diary, &c.Extra)
	if err == sql.ErrNoRows {
		return nil, "", errors.NewNotFound("chapter", id)
	}
	if err != nil {
		return nil, "", errors.Wrapf(err, "load chapter %s", id)
	}
	c.Status = Status(status)

	rows, err := s.db.QueryContext(ctx,
		`SELECT lang, title, summary, content, blake3, sha256 FROM translations WHERE chapter_id = ?`, id)
	if err != nil {
		return nil, "", errors.Wrapf(err, "load translations of %s", id)
	}
	defer rows.Close()
	for rows.Next() {
		var lang string
		var t Translation
		var fp cas.HashResult
		if err := rows.Scan(&lang, &t.Title, &t.Summary, &t.Content, &fp.BLAKE3, &fp.SHA256); err != nil {
			return nil, "", errors.Wrap(err, "scan translation")
		}
		if err := cas.Verify([]byte(t.Content), fp); err != nil {
			return nil, "", errors.NewIO("verify", id+"/"+lang, err)
		}
		c.Translations[Language(lang)] = t
	}
	if err := rows.Err(); err != nil {
		return nil, "", err
	}
	return c, volumeID, nil
}

// Export returns every volume with full chapter content, for bundling.
func (s *Store) Export(ctx context.Context) ([]Volume, error) {
	headers, err := s.Volumes(ctx)
	if err != nil {
		return nil, err
	}
	volumes := make([]Volume, 0, len(headers))
	for _, h := range headers {
		v, err := s.Volume(ctx, h.ID)
		if err != nil {
			return nil, err
		}
		for i := range v.Chapters {
			full, _, err := s.Chapter(ctx, v.Chapters[i].ID)
			if err != nil {
				return nil, err
			}
			v.Chapters[i] = *full
		}
		volumes = append(volumes, *v)
	}
	return volumes, nil
}

// Stats summarises the store contents.
type Stats struct {
	Volumes      int            `json:"volumes"`
	Chapters     int            `json:"chapters"`
	Translations map[string]int `json:"translations"`
}

// Stats counts volumes, chapters and translations per language.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	st := Stats{Translations: make(map[string]int)}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM volumes`).Scan(&st.Volumes); err != nil {
		return st, errors.Wrap(err, "count volumes")
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chapters`).Scan(&st.Chapters); err != nil {
		return st, errors.Wrap(err, "count chapters")
	}
	rows, err := s.db.QueryContext(ctx, `SELECT lang, COUNT(*) FROM translations GROUP BY lang`)
	if err != nil {
		return st, errors.Wrap(err, "count translations")
	}
	defer rows.Close()
	for rows.Next() {
		var lang string
		var n int
		if err := rows.Scan(&lang, &n); err != nil {
			return st, err
		}
		st.Translations[lang] = n
	}
	return st, rows.Err()
}

// SortedLanguages returns the languages of c in Languages order.
func SortedLanguages(c *Chapter) []Language {
	langs := make([]Language, 0, len(c.Translations))
	for lang := range c.Translations {
		langs = append(langs, lang)
	}
	order := make(map[Language]int, len(Languages))
	for i, l := range Languages {
		order[l] = i
	}
	sort.Slice(langs, func(i, j int) bool { return order[langs[i]] < order[langs[j]] })
	return langs
}
