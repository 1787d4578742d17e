package collect

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// CleanSummary strips markup from a feed description. Text from adjacent
// elements is separated by one space.
func CleanSummary(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if !strings.ContainsAny(raw, "<&") {
		return strings.Join(strings.Fields(raw), " ")
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(raw))
	if err != nil {
		return strings.Join(strings.Fields(raw), " ")
	}
	doc.Find("script, style, noscript").Remove()

	var parts []string
	collectText(doc.Selection, &parts)
	return strings.Join(strings.Fields(strings.Join(parts, " ")), " ")
}

func collectText(sel *goquery.Selection, parts *[]string) {
	sel.Contents().Each(func(_ int, child *goquery.Selection) {
		if goquery.NodeName(child) == "#text" {
			if text := strings.TrimSpace(child.Text()); text != "" {
				*parts = append(*parts, text)
			}
			return
		}
		collectText(child, parts)
	})
}
