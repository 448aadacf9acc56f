package normalize

import (
	"bytes"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"github.com/JakeFAU/realtime-ir-watcher/internal/hash/sha256"
	"github.com/JakeFAU/realtime-ir-watcher/internal/monitor"
)

var (
	numberRE    = regexp.MustCompile(`\b\d[\d,.\-]*\b`)
	timestampRE = regexp.MustCompile(`\b(?:\d{1,2}[:/.-]){2,}\d{2,4}\b`)
)

const (
	droppedTags  = "script, style, nav, footer, header, noscript"
	sectionTags  = "h1, h2, h3, p, li"
	minTextRunes = 3
)

// HTML reduces a page to its structured text and the hashes used for change
// detection. Relative anchors are resolved against sourceURL.
func HTML(body []byte, sourceURL string) (monitor.NormalizedPage, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return monitor.NormalizedPage{}, fmt.Errorf("parse html: %w", err)
	}
	doc.Find(droppedTags).Remove()

	sections := []monitor.Section{}
	doc.Find(sectionTags).Each(func(_ int, s *goquery.Selection) {
		text := collapse(nodeText(s.Get(0)))
		if text == "" {
			return
		}
		text = collapse(timestampRE.ReplaceAllString(text, ""))
		if len([]rune(text)) < minTextRunes {
			return
		}
		sections = append(sections, monitor.Section{Type: goquery.NodeName(s), Text: text})
	})

	texts := make([]string, 0, len(sections))
	sectionHashes := make(map[string]string, len(sections))
	for i, sec := range sections {
		texts = append(texts, sec.Text)
		sectionHashes[strconv.Itoa(i)] = sha256.SumString(sec.Type + "::" + sec.Text)
	}
	cleanText := strings.Join(texts, "\n")

	numbers := numberRE.FindAllString(cleanText, -1)
	if numbers == nil {
		numbers = []string{}
	}

	return monitor.NormalizedPage{
		CleanText:     cleanText,
		Sections:      sections,
		PDFLinks:      pdfLinks(doc, sourceURL),
		Numbers:       numbers,
		PageHash:      sha256.SumString(cleanText),
		SectionHashes: sectionHashes,
		NumbersHash:   sha256.SumString(strings.Join(numbers, "|")),
	}, nil
}

// Links returns the trimmed href of every anchor in document order, including
// anchors inside navigation chrome.
func Links(body []byte) ([]string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	var hrefs []string
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		if href := strings.TrimSpace(s.AttrOr("href", "")); href != "" {
			hrefs = append(hrefs, href)
		}
	})
	return hrefs, nil
}

func pdfLinks(doc *goquery.Document, sourceURL string) []string {
	seen := make(map[string]struct{})
	doc.Find("a").Each(func(_ int, s *goquery.Selection) {
		href := strings.TrimSpace(s.AttrOr("href", ""))
		if href == "" {
			return
		}
		full, err := URL(href, sourceURL)
		if err != nil {
			return
		}
		if strings.HasSuffix(strings.ToLower(full), ".pdf") {
			seen[full] = struct{}{}
		}
	})
	links := make([]string, 0, len(seen))
	for link := range seen {
		links = append(links, link)
	}
	sort.Strings(links)
	return links
}

// nodeText joins the trimmed, non-empty text nodes under n with single spaces.
func nodeText(n *html.Node) string {
	var parts []string
	var walk func(*html.Node)
	walk = func(cur *html.Node) {
		if cur.Type == html.TextNode {
			if t := strings.TrimSpace(cur.Data); t != "" {
				parts = append(parts, t)
			}
			return
		}
		for c := cur.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.Join(parts, " ")
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
