package clmarkdown

import (
	"bytes"
	"html/template"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/rs/zerolog/log"
	stripmd "github.com/writeas/go-strip-markdown"
	"github.com/yuin/goldmark"
	emoji "github.com/yuin/goldmark-emoji"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/renderer/html"
	"github.com/yuin/goldmark/text"
	"github.com/yuin/goldmark/util"
)

type externalLinkTransformer struct{}

var (
	md     goldmark.Markdown
	mdOnce sync.Once
)

// Initialiser le convertisseur Markdown des légendes.
// Le HTML brut est échappé : la légende vient de l'utilisateur qui dépose l'image.
func InitMarkdown() {
	md = goldmark.New(
		goldmark.WithExtensions(
			extension.GFM,
			extension.Strikethrough,
			emoji.Emoji,
		),
		goldmark.WithParserOptions(
			parser.WithASTTransformers(
				util.Prioritized(&externalLinkTransformer{}, 100),
			),
		),
		goldmark.WithRendererOptions(
			html.WithHardWraps(),
			html.WithXHTML(),
		),
	)
}

func converter() goldmark.Markdown {
	mdOnce.Do(func() {
		if md == nil {
			InitMarkdown()
		}
	})
	return md
}

// ConvertMarkdownToHTML rend une légende en HTML
func ConvertMarkdownToHTML(markdown string) template.HTML {
	if strings.TrimSpace(markdown) == "" {
		return ""
	}
	var buf bytes.Buffer
	if err := converter().Convert([]byte(markdown), &buf); err != nil {
		log.Error().Err(err).Msg("Markdown conversion failed")
		return template.HTML("<pre>" + template.HTMLEscapeString(markdown) + "</pre>")
	}
	return template.HTML(buf.String())
}

// Description retourne le texte brut d'une légende, tronqué à max runes,
// pour les balises meta
func Description(markdown string, max int) string {
	plain := strings.Join(strings.Fields(stripmd.Strip(markdown)), " ")
	if max <= 0 || utf8.RuneCountInString(plain) <= max {
		return plain
	}
	runes := []rune(plain)
	return strings.TrimSpace(string(runes[:max])) + "…"
}

func (t *externalLinkTransformer) Transform(node *ast.Document, reader text.Reader, pc parser.Context) {
	ast.Walk(node, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}

		if link, ok := n.(*ast.Link); ok {
			link.SetAttributeString("target", []byte("_blank"))
			link.SetAttributeString("rel", []byte("noopener noreferrer"))
		}

		return ast.WalkContinue, nil
	})
}
