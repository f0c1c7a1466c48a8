package library

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/FocuswithJustin/sidestory/core/errors"
	"github.com/FocuswithJustin/sidestory/core/xml"
	"github.com/FocuswithJustin/sidestory/internal/validation"
)

// Manifest is the on-disk description of a library. Chapter content is
// either inline or read from a file next to the manifest.
type Manifest struct {
	Volumes []ManifestVolume `json:"volumes"`
}

// ManifestVolume describes one volume.
type ManifestVolume struct {
	ID       string            `json:"id"`
	Title    string            `json:"title"`
	TitleEn  string            `json:"title_en"`
	Status   string            `json:"status"`
	Chapters []ManifestChapter `json:"chapters"`
}

// ManifestChapter describes one chapter. Garbled chapters carry no
// translations and become NewGarbledChapter placeholders.
type ManifestChapter struct {
	ID           string                         `json:"id"`
	Date         string                         `json:"date"`
	Status       string                         `json:"status"`
	Legacy       bool                           `json:"legacy"`
	Diary        bool                           `json:"diary"`
	Extra        bool                           `json:"extra"`
	Garbled      bool                           `json:"garbled"`
	Translations map[string]ManifestTranslation `json:"translations"`
}

// ManifestTranslation is a translation whose content may live in Src.
type ManifestTranslation struct {
	Title   string `json:"title"`
	Summary string `json:"summary"`
	Content string `json:"content"`
	Src     string `json:"src,omitempty"`
}

// LoadManifest reads a JSON or XML manifest and resolves chapter files
// relative to it. The format is chosen by extension, then by content.
func LoadManifest(path string) ([]Volume, error) {
	if err := validation.ValidatePath(path); err != nil {
		return nil, &errors.ValidationError{Field: "manifest", Message: err.Error(), Err: err}
	}
	data, err := readLimited(path)
	if err != nil {
		return nil, err
	}

	format := validation.FileTypeFromName(path)
	if format != validation.FileTypeJSON && format != validation.FileTypeXML {
		format = validation.DetectFileType(data[:min(len(data), validation.SniffLen)])
	}

	var m *Manifest
	switch format {
	case validation.FileTypeJSON:
		m, err = ParseManifestJSON(data)
	case validation.FileTypeXML:
		m, err = ParseManifestXML(data)
	default:
		return nil, errors.NewUnsupported("manifest format", fmt.Sprintf("%s is neither JSON nor XML", path))
	}
	if err != nil {
		var pe *errors.ParseError
		if errors.As(err, &pe) && pe.Path == "" {
			pe.Path = path
		}
		return nil, err
	}
	return m.Resolve(filepath.Dir(path))
}

// ParseManifestJSON decodes a JSON manifest.
func ParseManifestJSON(data []byte) (*Manifest, error) {
	var m Manifest
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&m); err != nil {
		return nil, &errors.ParseError{Format: "manifest", Message: err.Error(), Err: err}
	}
	return &m, nil
}

// ParseManifestXML decodes an XML manifest of the form
//
//	<library>
//	  <volume id="VOL" status="unlocked" title-en="...">
//	    <title>...</title>
//	    <chapter id="s1" date="..." legacy="true">
//	      <translation lang="zh-CN" src="s1.txt"><title>...</title></translation>
//	    </chapter>
//	    <chapter id="x" date="..." garbled="true"/>
//	  </volume>
//	</library>
func ParseManifestXML(data []byte) (*Manifest, error) {
	doc, err := xml.Parse(data)
	if err != nil {
		return nil, &errors.ParseError{Format: "manifest", Message: err.Error(), Err: err}
	}
	if root := doc.Root(); root == nil || root.Name() != "library" {
		return nil, errors.NewParse("manifest", "", "root element must be <library>")
	}

	volumeNodes, err := doc.XPath("/library/volume")
	if err != nil {
		return nil, err
	}
	m := &Manifest{}
	for _, vn := range volumeNodes {
		mv := ManifestVolume{
			ID:      vn.Attr("id"),
			TitleEn: vn.Attr("title-en"),
			Status:  vn.Attr("status"),
			Title:   childText(vn, "title"),
		}
		chapterNodes, err := vn.XPath("chapter")
		if err != nil {
			return nil, err
		}
		for _, cn := range chapterNodes {
			mc := ManifestChapter{
				ID:      cn.Attr("id"),
				Date:    cn.Attr("date"),
				Status:  cn.Attr("status"),
				Legacy:  cn.BoolAttr("legacy"),
				Diary:   cn.BoolAttr("diary"),
				Extra:   cn.BoolAttr("extra"),
				Garbled: cn.BoolAttr("garbled"),
			}
			translationNodes, err := cn.XPath("translation")
			if err != nil {
				return nil, err
			}
			for _, tn := range translationNodes {
				if mc.Translations == nil {
					mc.Translations = make(map[string]ManifestTranslation)
				}
				mc.Translations[tn.Attr("lang")] = ManifestTranslation{
					Title:   childText(tn, "title"),
					Summary: childText(tn, "summary"),
					Content: childRaw(tn, "content"),
					Src:     tn.Attr("src"),
				}
			}
			mv.Chapters = append(mv.Chapters, mc)
		}
		m.Volumes = append(m.Volumes, mv)
	}
	return m, nil
}

func childText(n *xml.Node, name string) string {
	return strings.TrimSpace(childRaw(n, name))
}

func childRaw(n *xml.Node, name string) string {
	nodes, err := n.XPath(name)
	if err != nil || len(nodes) == 0 {
		return ""
	}
	return nodes[0].Text()
}

// Resolve turns the manifest into validated volumes, reading Src files
// relative to baseDir.
func (m *Manifest) Resolve(baseDir string) ([]Volume, error) {
	volumes := make([]Volume, 0, len(m.Volumes))
	for _, mv := range m.Volumes {
		status, err := ParseStatus(mv.Status)
		if err != nil {
			return nil, errors.Wrapf(err, "volume %s", mv.ID)
		}
		v := Volume{ID: mv.ID, Title: mv.Title, TitleEn: mv.TitleEn, Status: status}
		for _, mc := range mv.Chapters {
			c, err := mc.resolve(baseDir)
			if err != nil {
				return nil, errors.Wrapf(err, "volume %s", mv.ID)
			}
			v.Chapters = append(v.Chapters, c)
		}
		volumes = append(volumes, v)
	}
	if err := Validate(volumes); err != nil {
		return nil, err
	}
	return volumes, nil
}

func (mc ManifestChapter) resolve(baseDir string) (Chapter, error) {
	if mc.Garbled {
		c := NewGarbledChapter(mc.ID, mc.Date)
		c.Extra = mc.Extra
		return c, nil
	}
	status, err := ParseStatus(mc.Status)
	if err != nil {
		return Chapter{}, errors.Wrapf(err, "chapter %s", mc.ID)
	}
	c := Chapter{
		ID:           mc.ID,
		Date:         mc.Date,
		Status:       status,
		Legacy:       mc.Legacy,
		Diary:        mc.Diary,
		Extra:        mc.Extra,
		Translations: make(map[Language]Translation, len(mc.Translations)),
	}
	for tag, mt := range mc.Translations {
		lang, err := ParseLanguage(tag)
		if err != nil {
			return Chapter{}, errors.Wrapf(err, "chapter %s", mc.ID)
		}
		content := mt.Content
		if mt.Src != "" {
			if content != "" {
				return Chapter{}, errors.NewValidation("src", fmt.Sprintf("chapter %s/%s has both inline content and src", mc.ID, lang))
			}
			rel, err := validation.SanitizePath(baseDir, mt.Src)
			if err != nil {
				return Chapter{}, &errors.ValidationError{Field: "src", Message: err.Error(), Err: err}
			}
			data, err := readLimited(filepath.Join(baseDir, rel))
			if err != nil {
				return Chapter{}, err
			}
			content = string(data)
		}
		c.Translations[lang] = Translation{Title: mt.Title, Summary: mt.Summary, Content: content}
	}
	return c, nil
}

func readLimited(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NewNotFound("file", path)
		}
		return nil, errors.NewIO("open", path, err)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, validation.MaxFileSize+1))
	if err != nil {
		return nil, errors.NewIO("read", path, err)
	}
	if len(data) > validation.MaxFileSize {
		return nil, errors.NewValidation("file", fmt.Sprintf("%s exceeds %d bytes", path, validation.MaxFileSize))
	}
	return data, nil
}
