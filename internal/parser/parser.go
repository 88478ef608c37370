// Package parser turns source documents into raw rule records.
package parser

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/nguyenthenguyen/docx"
	"github.com/tealeg/xlsx"
	"github.com/xuri/excelize/v2"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/text"
)

// Page is the plain text of one page, slide or sheet.
type Page struct {
	Number int
	Text   string
}

// Document is a parsed source file.
type Document struct {
	Name  string
	Pages []Page
}

// Text joins all pages with blank lines.
func (d Document) Text() string {
	parts := make([]string, 0, len(d.Pages))
	for _, p := range d.Pages {
		if t := strings.TrimSpace(p.Text); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, "\n\n")
}

// DocumentName is the file name without directory and extension.
func DocumentName(filePath string) string {
	base := filepath.Base(filePath)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// IsDocument reports whether ParseToText understands the file extension.
func IsDocument(filePath string) bool {
	switch strings.ToLower(filepath.Ext(filePath)) {
	case ".pdf", ".docx", ".pptx", ".xlsx", ".xlsm", ".ods", ".txt", ".md", ".markdown":
		return true
	}
	return false
}

// ParseToText extracts the plain text of a pdf, docx, pptx, spreadsheet,
// text or markdown file.
func ParseToText(filePath string) (Document, error) {
	var (
		pages []Page
		err   error
	)
	ext := strings.ToLower(filepath.Ext(filePath))
	switch ext {
	case ".pdf":
		pages, err = parsePDF(filePath)
	case ".docx":
		pages, err = parseDOCX(filePath)
	case ".pptx":
		pages, err = parsePPTX(filePath)
	case ".xlsx":
		pages, err = parseXLSX(filePath)
	case ".xlsm", ".ods":
		pages, err = parseSpreadsheet(filePath)
	case ".txt":
		pages, err = parseText(filePath)
	case ".md", ".markdown":
		pages, err = parseMarkdown(filePath)
	default:
		return Document{}, fmt.Errorf("unsupported file format: %s", ext)
	}
	if err != nil {
		return Document{}, fmt.Errorf("failed to parse %s: %w", filePath, err)
	}
	return Document{Name: DocumentName(filePath), Pages: pages}, nil
}

func parsePDF(filePath string) ([]Page, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return nil, err
	}
	reader, err := pdf.NewReader(f, stat.Size())
	if err != nil {
		return nil, err
	}

	var pages []Page
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		pageText, err := page.GetPlainText(nil)
		if err != nil {
			return nil, err
		}
		if strings.TrimSpace(pageText) != "" {
			pages = append(pages, Page{Number: i, Text: pageText})
		}
	}
	return pages, nil
}

func parseDOCX(filePath string) ([]Page, error) {
	r, err := docx.ReadDocxFile(filePath)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	// DOCX has no page numbers
	content := stripXMLTags(r.Editable().GetContent())
	if strings.TrimSpace(content) == "" {
		return nil, nil
	}
	return []Page{{Number: 1, Text: content}}, nil
}

func parsePPTX(filePath string) ([]Page, error) {
	f, err := zip.OpenReader(filePath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var slides []*zip.File
	for _, file := range f.File {
		if strings.HasPrefix(file.Name, "ppt/slides/slide") && strings.HasSuffix(file.Name, ".xml") {
			slides = append(slides, file)
		}
	}
	sort.Slice(slides, func(i, j int) bool { return slideNumber(slides[i].Name) < slideNumber(slides[j].Name) })

	var pages []Page
	for i, file := range slides {
		rc, err := file.Open()
		if err != nil {
			continue
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			continue
		}
		if slideText := extractTextFromXML(string(data)); strings.TrimSpace(slideText) != "" {
			pages = append(pages, Page{Number: i + 1, Text: slideText})
		}
	}
	return pages, nil
}

func slideNumber(name string) int {
	var n int
	fmt.Sscanf(strings.TrimPrefix(name, "ppt/slides/slide"), "%d", &n)
	return n
}

func parseXLSX(filePath string) ([]Page, error) {
	f, err := xlsx.OpenFile(filePath)
	if err != nil {
		return nil, err
	}

	var pages []Page
	for sheetNum, sheet := range f.Sheets {
		var b strings.Builder
		for _, row := range sheet.Rows {
			cells := make([]string, 0, len(row.Cells))
			for _, cell := range row.Cells {
				cells = append(cells, cell.String())
			}
			b.WriteString(strings.Join(cells, "\t"))
			b.WriteString("\n")
		}
		if strings.TrimSpace(b.String()) != "" {
			pages = append(pages, Page{Number: sheetNum + 1, Text: b.String()})
		}
	}
	return pages, nil
}

func parseSpreadsheet(filePath string) ([]Page, error) {
	f, err := excelize.OpenFile(filePath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var pages []Page
	for sheetNum, sheetName := range f.GetSheetList() {
		rows, err := f.GetRows(sheetName)
		if err != nil {
			continue
		}
		var b strings.Builder
		for _, row := range rows {
			b.WriteString(strings.Join(row, "\t"))
			b.WriteString("\n")
		}
		if strings.TrimSpace(b.String()) != "" {
			pages = append(pages, Page{Number: sheetNum + 1, Text: b.String()})
		}
	}
	return pages, nil
}

func parseText(filePath string) ([]Page, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(string(data)) == "" {
		return nil, nil
	}
	return []Page{{Number: 1, Text: string(data)}}, nil
}

func parseMarkdown(filePath string) ([]Page, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}
	plain := markdownToText(data)
	if strings.TrimSpace(plain) == "" {
		return nil, nil
	}
	return []Page{{Number: 1, Text: plain}}, nil
}

// markdownToText drops markdown syntax and keeps one line per source line.
func markdownToText(src []byte) string {
	md := goldmark.New(goldmark.WithExtensions(extension.GFM))
	doc := md.Parser().Parse(text.NewReader(src))

	var buf bytes.Buffer
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		switch node := n.(type) {
		case *ast.Text:
			if entering {
				buf.Write(node.Segment.Value(src))
				if node.SoftLineBreak() || node.HardLineBreak() {
					buf.WriteByte('\n')
				}
			}
		case *ast.String:
			if entering {
				buf.Write(node.Value)
			}
		case *ast.CodeBlock, *ast.FencedCodeBlock:
			if entering {
				lines := node.Lines()
				for i := 0; i < lines.Len(); i++ {
					seg := lines.At(i)
					buf.Write(seg.Value(src))
				}
			}
		default:
			if !entering && n.Type() == ast.TypeBlock {
				buf.WriteByte('\n')
			}
		}
		return ast.WalkContinue, nil
	})
	return strings.TrimSpace(buf.String())
}

func extractTextFromXML(xmlContent string) string {
	var b strings.Builder
	parts := strings.Split(xmlContent, "<a:t>")
	for i, part := range parts {
		if i == 0 {
			continue
		}
		if endIdx := strings.Index(part, "</a:t>"); endIdx >= 0 {
			b.WriteString(part[:endIdx] + " ")
		}
		if strings.Contains(part, "</a:p>") {
			b.WriteString("\n")
		}
	}
	return b.String()
}

// stripXMLTags keeps paragraph breaks from the raw docx body.
func stripXMLTags(s string) string {
	s = strings.ReplaceAll(s, "</w:p>", "\n")
	var b strings.Builder
	inTag := false
	for _, r := range s {
		switch {
		case r == '<':
			inTag = true
		case r == '>':
			inTag = false
		case !inTag:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// chunkContent splits content into windows of at most maxChars bytes that
// overlap by overlapChars, preferring to break on whitespace or a full stop.
func chunkContent(content string, maxChars, overlapChars int) []string {
	if maxChars <= 0 {
		return nil
	}
	if overlapChars < 0 {
		overlapChars = 0
	}
	if overlapChars >= maxChars {
		overlapChars = maxChars / 2
	}
	content = strings.TrimSpace(content)
	contentLen := len(content)
	if contentLen == 0 {
		return nil
	}
	if contentLen <= maxChars {
		return []string{content}
	}

	var chunks []string
	start := 0
	for start < contentLen {
		end := min(start+maxChars, contentLen)

		// look for a clean break within the last 10% of the window
		if end < contentLen {
			lookBack := min(maxChars/10, end-start)
			for i := end - 1; i >= end-lookBack && i > start; i-- {
				if content[i] == ' ' || content[i] == '\n' || content[i] == '.' {
					end = i + 1
					break
				}
			}
		}

		if chunk := strings.TrimSpace(content[start:end]); chunk != "" {
			chunks = append(chunks, chunk)
		}
		if end >= contentLen {
			break
		}
		next := end - overlapChars
		if next <= start {
			next = end
		}
		start = next
	}
	return chunks
}
