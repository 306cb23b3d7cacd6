package parse

import (
	"html"
	"regexp"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// maxCommentRunes bounds the comment text stored on a participant.
const maxCommentRunes = 100

var (
	markdown  = goldmark.New()
	stripHTML = bluemonday.StrictPolicy()

	mdImageRe  = regexp.MustCompile(`!\[[^\]]*\]\([^)]*\)`)
	mdLinkRe   = regexp.MustCompile(`\[([^\]]*)\]\([^)]*\)`)
	bareURLRe  = regexp.MustCompile(`https?://\S+|www\.\S+`)
	imageRe    = regexp.MustCompile(`(?i)\S+\.(?:jpe?g|png|gif|webp|svg|bmp)\b\S*`)
	whitespace = regexp.MustCompile(`\s+`)
)

// CleanComment reduces a comment body to display text: HTML and markdown
// markup are removed (link text is kept, images are dropped), bare URLs and
// image file names are stripped, whitespace is collapsed and the result is
// cut to 100 runes. A body made only of links or images cleans to "".
func CleanComment(body string) string {
	s := html.UnescapeString(stripHTML.Sanitize(body))
	plain := strip(markdownText(s))
	if plain == "" {
		// Markdown can swallow short bodies ("12." is an empty list item).
		plain = strip(mdLinkRe.ReplaceAllString(mdImageRe.ReplaceAllString(s, " "), "$1"))
	}
	s = plain
	if r := []rune(s); len(r) > maxCommentRunes {
		s = strings.TrimSpace(string(r[:maxCommentRunes]))
	}
	return s
}

func strip(s string) string {
	s = bareURLRe.ReplaceAllString(s, " ")
	s = imageRe.ReplaceAllString(s, " ")
	return strings.TrimSpace(whitespace.ReplaceAllString(s, " "))
}

func markdownText(s string) string {
	src := []byte(s)
	doc := markdown.Parser().Parse(text.NewReader(src))

	var b strings.Builder
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			if n.Type() == ast.TypeBlock {
				b.WriteByte(' ')
			}
			return ast.WalkContinue, nil
		}
		switch n := n.(type) {
		case *ast.Image, *ast.AutoLink, *ast.RawHTML, *ast.HTMLBlock:
			return ast.WalkSkipChildren, nil
		case *ast.Text:
			b.Write(n.Segment.Value(src))
			if n.SoftLineBreak() || n.HardLineBreak() {
				b.WriteByte(' ')
			}
		case *ast.String:
			b.Write(n.Value)
		case *ast.CodeBlock, *ast.FencedCodeBlock:
			lines := n.Lines()
			for i := 0; i < lines.Len(); i++ {
				seg := lines.At(i)
				b.Write(seg.Value(src))
			}
			return ast.WalkSkipChildren, nil
		}
		return ast.WalkContinue, nil
	})
	return b.String()
}
