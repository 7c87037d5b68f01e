package ingest

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/xuri/excelize/v2"
	"golang.org/x/net/html"
)

// complexityRank orders extensions cheapest-to-parse first so a run
// surfaces simple documents before grinding through binary formats.
var complexityRank = map[string]int{
	".txt":  0,
	".md":   0,
	".csv":  1,
	".html": 2,
	".htm":  2,
	".xlsx": 3,
	".pdf":  4,
}

var mimeTypes = map[string]string{
	".txt":  "text/plain",
	".md":   "text/markdown",
	".csv":  "text/csv",
	".html": "text/html",
	".htm":  "text/html",
	".xlsx": "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	".pdf":  "application/pdf",
}

// Supported reports whether path has a parseable extension.
func Supported(path string) bool {
	_, ok := complexityRank[strings.ToLower(filepath.Ext(path))]
	return ok
}

func mimeType(path string) string {
	return mimeTypes[strings.ToLower(filepath.Ext(path))]
}

// parseFile extracts plain text from a document.
func parseFile(path string) (string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".txt", ".md":
		return parseText(path)
	case ".csv":
		return parseCSV(path)
	case ".html", ".htm":
		return parseHTML(path)
	case ".xlsx":
		return parseXLSX(path)
	case ".pdf":
		return parsePDF(path)
	default:
		return "", fmt.Errorf("unsupported file type %q", filepath.Ext(path))
	}
}

func parseText(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// parseCSV flattens rows into lines with cells separated by a single
// space, which keeps row context within one chunk.
func parseCSV(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1

	var sb strings.Builder
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("reading csv: %w", err)
		}
		sb.WriteString(strings.Join(record, " "))
		sb.WriteByte('\n')
	}
	return sb.String(), nil
}

// parseHTML walks the document tree collecting text nodes, skipping
// script and style subtrees.
func parseHTML(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	root, err := html.Parse(f)
	if err != nil {
		return "", fmt.Errorf("parsing html: %w", err)
	}

	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && (n.Data == "script" || n.Data == "style") {
			return
		}
		if n.Type == html.TextNode {
			if text := strings.TrimSpace(n.Data); text != "" {
				sb.WriteString(text)
				sb.WriteByte('\n')
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	return sb.String(), nil
}

// parseXLSX flattens every sheet into lines, one row per line.
func parseXLSX(path string) (string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return "", fmt.Errorf("opening workbook: %w", err)
	}
	defer f.Close()

	var sb strings.Builder
	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil {
			return "", fmt.Errorf("reading sheet %q: %w", sheet, err)
		}
		if len(rows) == 0 {
			continue
		}
		sb.WriteString(sheet)
		sb.WriteByte('\n')
		for _, row := range rows {
			sb.WriteString(strings.Join(row, " "))
			sb.WriteByte('\n')
		}
	}
	return sb.String(), nil
}

func parsePDF(path string) (string, error) {
	f, reader, err := pdf.Open(path)
	if err != nil {
		return "", fmt.Errorf("opening pdf: %w", err)
	}
	defer f.Close()

	body, err := reader.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("extracting pdf text: %w", err)
	}

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(body); err != nil {
		return "", fmt.Errorf("reading pdf text: %w", err)
	}
	return buf.String(), nil
}

// categoryKeywords maps filename substrings to document categories,
// checked in order.
var categoryKeywords = []struct {
	keywords []string
	category string
}{
	{[]string{"market", "stock"}, "market_report"},
	{[]string{"invest", "portfolio"}, "investment_guide"},
	{[]string{"tax"}, "tax_document"},
	{[]string{"insurance"}, "insurance_policy"},
	{[]string{"retire", "pension"}, "retirement_planning"},
}

// categorize assigns a document category from its filename.
func categorize(path string) string {
	name := strings.ToLower(filepath.Base(path))
	for _, ck := range categoryKeywords {
		for _, kw := range ck.keywords {
			if strings.Contains(name, kw) {
				return ck.category
			}
		}
	}
	return "general"
}
