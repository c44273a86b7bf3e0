package cltemplates

import (
	"embed"
	"html/template"
	"io/fs"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/tdewolff/minify/v2"
	"github.com/tdewolff/minify/v2/css"
	htmlmin "github.com/tdewolff/minify/v2/html"
	"github.com/tdewolff/minify/v2/js"
)

//go:embed templates/*.html
var templatesFS embed.FS

const downloadableFile = "templates/downloadable.html"

// Page regroupe les données des pages HTML d'une image suivie
type Page struct {
	Title       string
	Description string
	TrackingID  string
	ImageURL    string
	PublicURL   string
	Caption     template.HTML
}

// Downloadable sont les valeurs injectées dans le document autonome
type Downloadable struct {
	Title      string
	ImageMime  string
	ImageData  string
	ServerURL  string
	TrackingID string
}

// Templates porte les pages parsées et le gabarit brut du document téléchargeable
type Templates struct {
	HTML         *template.Template
	downloadable string
}

func newMinifier() *minify.M {
	m := minify.New()
	// Les guillemets restent : les valeurs substituées peuvent contenir = ou /
	m.Add("text/html", &htmlmin.Minifier{KeepQuotes: true, KeepDocumentTags: true, KeepEndTags: true})
	m.AddFunc("text/css", css.Minify)
	m.AddFuncRegexp(regexp.MustCompile("^(application|text)/(x-)?(java|ecma)script$"), js.Minify)
	return m
}

// Load parse les pages embarquées, minifiées en production
func Load(production bool) (*Templates, error) {
	m := newMinifier()
	tmpl := template.New("")
	var downloadable string

	err := fs.WalkDir(templatesFS, "templates", func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || filepath.Ext(path) != ".html" {
			return err
		}

		content, err := fs.ReadFile(templatesFS, path)
		if err != nil {
			return err
		}

		// Le document téléchargeable n'est pas un template Go, il est toujours minifié
		if path == downloadableFile {
			minified, err := m.Bytes("text/html", content)
			if err != nil {
				log.Warn().Err(err).Str("file", path).Msg("Minification failed")
				minified = content
			}
			downloadable = string(minified)
			return nil
		}

		if production {
			if minified, err := m.Bytes("text/html", content); err == nil {
				content = minified
			} else {
				log.Warn().Err(err).Str("file", path).Msg("Minification failed")
			}
		}

		_, err = tmpl.New(path).Parse(string(content))
		return err
	})
	if err != nil {
		return nil, err
	}

	return &Templates{HTML: tmpl, downloadable: downloadable}, nil
}

// RenderDownloadable substitue les marqueurs du document autonome
func (t *Templates) RenderDownloadable(d Downloadable) string {
	r := strings.NewReplacer(
		"__TITLE__", template.HTMLEscapeString(d.Title),
		"__IMAGE_MIME__", d.ImageMime,
		"__IMAGE_DATA__", d.ImageData,
		"__SERVER_URL__", template.JSEscapeString(d.ServerURL),
		"__TRACKING_ID__", template.JSEscapeString(d.TrackingID),
	)
	return r.Replace(t.downloadable)
}
