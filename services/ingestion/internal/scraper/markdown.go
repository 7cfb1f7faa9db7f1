package scraper

import (
	"strings"

	"digitaltwin/common/textnorm"

	"github.com/PuerkitoBio/goquery"
)

var droppedTags = []string{
	"script", "style", "noscript", "template", "iframe", "svg", "canvas",
	"nav", "footer", "header", "form", "button", "select", "aside",
}

var blockTags = map[string]bool{
	"p": true, "div": true, "section": true, "article": true, "main": true,
	"blockquote": true, "pre": true, "table": true, "tr": true, "ul": true,
	"ol": true, "dl": true, "dt": true, "dd": true, "figure": true, "hr": true,
}

func headingLevel(name string) int {
	if len(name) == 2 && name[0] == 'h' && name[1] >= '1' && name[1] <= '6' {
		return int(name[1] - '0')
	}
	return 0
}

// RenderMarkdown flattens an HTML document into markdown-style text:
// headings become "#" lines, list items "- " lines and other blocks
// paragraphs separated by a blank line. Chrome such as scripts, navigation
// and footers is dropped.
func RenderMarkdown(doc *goquery.Document) string {
	doc.Find(strings.Join(droppedTags, ",")).Remove()

	root := doc.Find("body")
	if root.Length() == 0 {
		root = doc.Selection
	}

	var (
		blocks []string
		inline strings.Builder
	)
	flush := func(prefix string) {
		text := textnorm.CleanText(inline.String())
		inline.Reset()
		if text != "" {
			blocks = append(blocks, prefix+text)
		}
	}

	var walk func(sel *goquery.Selection)
	walk = func(sel *goquery.Selection) {
		sel.Contents().Each(func(_ int, child *goquery.Selection) {
			name := goquery.NodeName(child)
			switch {
			case name == "#text":
				inline.WriteString(child.Text())
			case name == "br":
				flush("")
			case headingLevel(name) > 0:
				flush("")
				walk(child)
				flush(strings.Repeat("#", headingLevel(name)) + " ")
			case name == "li":
				flush("")
				walk(child)
				flush("- ")
			case name == "td" || name == "th":
				walk(child)
				inline.WriteString(" | ")
			case blockTags[name]:
				flush("")
				walk(child)
				flush("")
			default:
				walk(child)
			}
		})
	}

	walk(root)
	flush("")

	for i, b := range blocks {
		blocks[i] = strings.TrimSuffix(strings.TrimSpace(b), " |")
	}
	return strings.Join(blocks, "\n\n")
}
