package wiki

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Elements that never carry article prose.
const noiseSelector = "sup.reference, .mw-editsection, table, .navbox, .infobox, .reflist, " +
	".references, .hatnote, .thumb, figure, .mw-empty-elt, style, script, .noprint, .metadata"

// Sections from which extraction stops.
var stopSections = map[string]bool{
	"references":      true,
	"external links":  true,
	"see also":        true,
	"notes":           true,
	"further reading": true,
	"bibliography":    true,
	"footnotes":       true,
}

var (
	citationRX   = regexp.MustCompile(`\[(?:\d+|[a-z]|citation needed|note \d+)\]`)
	whitespaceRX = regexp.MustCompile(`\s+`)
)

// ExtractText reduces rendered article HTML to plain text. Headings, paragraphs and
// list items are kept in document order, separated by blank lines. summary is the
// first paragraph.
func ExtractText(html string) (text, summary string, err error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", "", err
	}

	root := doc.Find(".mw-parser-output").First()
	if root.Length() == 0 {
		root = doc.Find("body")
	}
	root.Find(noiseSelector).Remove()

	var parts []string
	root.Children().EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if heading := headingText(s); heading != "" {
			if stopSections[strings.ToLower(heading)] {
				return false
			}
			parts = append(parts, heading)
			return true
		}

		switch {
		case s.Is("p"):
			if t := cleanText(s.Text()); t != "" {
				parts = append(parts, t)
				if summary == "" {
					summary = t
				}
			}
		case s.Is("ul, ol"):
			var items []string
			s.ChildrenFiltered("li").Each(func(_ int, li *goquery.Selection) {
				if t := cleanText(li.Text()); t != "" {
					items = append(items, "- "+t)
				}
			})
			if len(items) > 0 {
				parts = append(parts, strings.Join(items, "\n"))
			}
		case s.Is("dl, blockquote"):
			if t := cleanText(s.Text()); t != "" {
				parts = append(parts, t)
			}
		}
		return true
	})

	return strings.Join(parts, "\n\n"), summary, nil
}

// headingText returns the heading of s, or "" when s is not a heading. Newer
// MediaWiki output wraps headings in div.mw-heading.
func headingText(s *goquery.Selection) string {
	switch {
	case s.Is("h2, h3, h4, h5, h6"):
		return cleanText(s.Text())
	case s.HasClass("mw-heading"):
		return cleanText(s.Find("h2, h3, h4, h5, h6").First().Text())
	}
	return ""
}

func cleanText(s string) string {
	s = citationRX.ReplaceAllString(s, "")
	return strings.TrimSpace(whitespaceRX.ReplaceAllString(s, " "))
}
