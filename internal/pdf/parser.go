// Package pdf downloads linked PDF documents and extracts their text.
package pdf

import (
	"bytes"
	"fmt"
	"io"
	"regexp"
	"strings"

	lpdf "github.com/ledongthuc/pdf"
)

const maxHeadings = 25

// Report types recognized in document text.
const (
	ReportAnnual       = "annual_report"
	ReportQuarterly    = "quarterly_results"
	ReportPresentation = "investor_presentation"
)

var reportPatterns = []struct {
	name    string
	pattern *regexp.Regexp
}{
	{ReportAnnual, regexp.MustCompile(`(?i)\bannual report\b`)},
	{ReportQuarterly, regexp.MustCompile(`(?i)\bquarter(?:ly)? results?\b`)},
	{ReportPresentation, regexp.MustCompile(`(?i)\binvestor presentation\b`)},
}

// Parsed is the text view of one document.
type Parsed struct {
	Text       string
	ReportType string
	Headings   []string
}

// Parser extracts plain text from PDF bytes.
type Parser struct {
	extract func(data []byte) (string, error)
}

// NewParser returns a Parser backed by ledongthuc/pdf.
func NewParser() *Parser {
	return &Parser{extract: plainText}
}

// Parse extracts and classifies the document. Unreadable input yields an error and empty text.
func (p *Parser) Parse(data []byte) (Parsed, error) {
	text, err := p.extract(data)
	if err != nil {
		return Parsed{Headings: []string{}}, err
	}
	return Analyze(text), nil
}

// Analyze classifies extracted text and lists its heading-like lines.
func Analyze(text string) Parsed {
	out := Parsed{Text: text, Headings: []string{}}
	for _, rp := range reportPatterns {
		if rp.pattern.MatchString(text) {
			out.ReportType = rp.name
			break
		}
	}
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if len([]rune(line)) <= 10 {
			continue
		}
		out.Headings = append(out.Headings, line)
		if len(out.Headings) == maxHeadings {
			break
		}
	}
	return out
}

func plainText(data []byte) (text string, err error) {
	// The reader panics on some malformed cross-reference tables.
	defer func() {
		if r := recover(); r != nil {
			text, err = "", fmt.Errorf("parse pdf: %v", r)
		}
	}()
	reader, err := lpdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}
	plain, err := reader.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("extract pdf text: %w", err)
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, plain); err != nil {
		return "", fmt.Errorf("read pdf text: %w", err)
	}
	return buf.String(), nil
}
