package parser

import (
	"archive/zip"
	"bytes"
	"fmt"
	"html"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"

	"github.com/gen2brain/go-fitz"
	"github.com/ledongthuc/pdf"
	"github.com/nguyenthenguyen/docx"
	"github.com/rs/zerolog/log"
	"github.com/tealeg/xlsx"
	"github.com/xuri/excelize/v2"
	"github.com/yuin/goldmark"
	gast "github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	east "github.com/yuin/goldmark/extension/ast"
	"github.com/yuin/goldmark/text"

	"docqa/internal/config"
	"docqa/internal/models"
)

type Parser interface {
	Extract(filePath string) (*models.DocumentContent, error)
}

const defaultPageNumber = 1

// SupportedExtensions lists the document types Extract understands
var SupportedExtensions = []string{".pdf", ".docx", ".pptx", ".xlsx", ".xlsm", ".xltx", ".xltm", ".md", ".txt"}

// Extractor produces per-page text and tables for a document
type Extractor struct {
	maxFileSize int64
}

func NewExtractor(cfg *config.Config) *Extractor {
	return &Extractor{maxFileSize: cfg.Processing.MaxFileSize}
}

// Extract dispatches on the file extension. All failures wrap models.ErrDocumentProcessing.
func (e *Extractor) Extract(filePath string) (*models.DocumentContent, error) {
	stat, err := os.Stat(filePath)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open document: %w", models.ErrDocumentProcessing, err)
	}
	if e.maxFileSize > 0 && stat.Size() > e.maxFileSize {
		return nil, fmt.Errorf("%w: document is %d bytes, limit is %d", models.ErrDocumentProcessing, stat.Size(), e.maxFileSize)
	}

	var content *models.DocumentContent
	ext := strings.ToLower(filepath.Ext(filePath))
	switch ext {
	case ".pdf":
		content, err = parsePDF(filePath)
	case ".docx":
		content, err = parseDOCX(filePath)
	case ".pptx":
		content, err = parsePPTX(filePath)
	case ".xlsx":
		content, err = parseXLSX(filePath)
	case ".xlsm", ".xltx", ".xltm":
		content, err = parseWorkbook(filePath)
	case ".md":
		content, err = parseMarkdown(filePath)
	case ".txt":
		content, err = parseText(filePath)
	default:
		return nil, fmt.Errorf("%w: unsupported file format: %s", models.ErrDocumentProcessing, ext)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: error extracting %s content: %w", models.ErrDocumentProcessing, ext, err)
	}

	content.Path = filePath
	log.Debug().Str("path", filePath).Int("pages", len(content.Text)).Int("tables", len(content.Tables)).Msg("Extracted document")
	return content, nil
}

// parsePDF takes the page text from MuPDF, which keeps line breaks, and the tables from the
// positioned rows of the pdf reader
func parsePDF(filePath string) (*models.DocumentContent, error) {
	doc, err := fitz.New(filePath)
	if err != nil {
		return nil, err
	}
	defer doc.Close()

	content := &models.DocumentContent{}
	for i := 0; i < doc.NumPage(); i++ {
		pageText, err := doc.Text(i)
		if err != nil {
			return nil, fmt.Errorf("page %d: %w", i+1, err)
		}
		if strings.TrimSpace(pageText) != "" {
			content.Text = append(content.Text, models.PageText{Page: i + 1, Content: strings.TrimRight(pageText, "\n")})
		}
	}

	tables, err := pdfTables(filePath)
	if err != nil {
		log.Warn().Err(err).Str("path", filePath).Msg("Skipping table detection")
		return content, nil
	}
	content.Tables = tables
	return content, nil
}

func pdfTables(filePath string) (tables []models.PageTable, err error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	// the pdf reader panics on some malformed objects
	defer func() {
		if r := recover(); r != nil {
			tables, err = nil, fmt.Errorf("malformed pdf: %v", r)
		}
	}()

	stat, err := f.Stat()
	if err != nil {
		return nil, err
	}
	reader, err := pdf.NewReader(f, stat.Size())
	if err != nil {
		return nil, err
	}

	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		rows, err := page.GetTextByRow()
		if err != nil {
			log.Warn().Err(err).Int("page", i).Msg("Skipping table detection")
			continue
		}
		for _, table := range DetectTables(convertRows(rows)) {
			tables = append(tables, models.PageTable{Page: i, Rows: table})
		}
	}
	return tables, nil
}

func convertRows(rows pdf.Rows) []TextRow {
	out := make([]TextRow, 0, len(rows))
	for _, row := range rows {
		r := TextRow{Y: float64(row.Position)}
		for _, t := range row.Content {
			r.Runs = append(r.Runs, TextRun{X: t.X, W: t.W, S: t.S})
		}
		out = append(out, r)
	}
	return out
}

var (
	wordTextRe  = regexp.MustCompile(`<w:t(?:\s[^>]*)?>([^<]*)</w:t>`)
	wordTableRe = regexp.MustCompile(`(?s)<w:tbl>.*?</w:tbl>`)
	wordRowRe   = regexp.MustCompile(`(?s)<w:tr[ >].*?</w:tr>`)
	wordCellRe  = regexp.MustCompile(`(?s)<w:tc[ >].*?</w:tc>`)
)

func parseDOCX(filePath string) (*models.DocumentContent, error) {
	r, err := docx.ReadDocxFile(filePath)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	body := r.Editable().GetContent()
	content := &models.DocumentContent{}

	var paragraphs []string
	for _, p := range strings.Split(body, "</w:p>") {
		if t := wordText(p); strings.TrimSpace(t) != "" {
			paragraphs = append(paragraphs, t)
		}
	}
	if len(paragraphs) > 0 {
		content.Text = append(content.Text, models.PageText{
			Page:    defaultPageNumber, // DOCX has no page numbers
			Content: strings.Join(paragraphs, "\n"),
		})
	}

	for _, tbl := range wordTableRe.FindAllString(body, -1) {
		var rows [][]string
		for _, tr := range wordRowRe.FindAllString(tbl, -1) {
			var cells []string
			for _, tc := range wordCellRe.FindAllString(tr, -1) {
				cells = append(cells, strings.TrimSpace(wordText(tc)))
			}
			rows = append(rows, cells)
		}
		if len(rows) > 0 {
			content.Tables = append(content.Tables, models.PageTable{Page: defaultPageNumber, Rows: rows})
		}
	}
	return content, nil
}

func wordText(fragment string) string {
	var b strings.Builder
	for _, m := range wordTextRe.FindAllStringSubmatch(fragment, -1) {
		b.WriteString(html.UnescapeString(m[1]))
	}
	return b.String()
}

// parseXLSX maps every sheet to one page holding one table
func parseXLSX(filePath string) (*models.DocumentContent, error) {
	f, err := xlsx.OpenFile(filePath)
	if err != nil {
		return nil, err
	}

	content := &models.DocumentContent{}
	for sheetNum, sheet := range f.Sheets {
		var rows [][]string
		for _, row := range sheet.Rows {
			if row == nil {
				continue
			}
			cells := make([]string, 0, len(row.Cells))
			for _, cell := range row.Cells {
				cells = append(cells, cell.String())
			}
			rows = append(rows, cells)
		}
		addSheet(content, sheetNum+1, sheet.Name, rows)
	}
	return content, nil
}

// parseWorkbook reads the macro and template workbook variants
func parseWorkbook(filePath string) (*models.DocumentContent, error) {
	f, err := excelize.OpenFile(filePath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	content := &models.DocumentContent{}
	for sheetNum, sheetName := range f.GetSheetList() {
		rows, err := f.GetRows(sheetName)
		if err != nil {
			log.Warn().Err(err).Str("sheet", sheetName).Msg("Skipping unreadable sheet")
			continue
		}
		addSheet(content, sheetNum+1, sheetName, rows)
	}
	return content, nil
}

func addSheet(content *models.DocumentContent, page int, name string, rows [][]string) {
	rows = trimEmptyRows(rows)
	if len(rows) == 0 {
		return
	}

	var b strings.Builder
	fmt.Fprintf(&b, "## Sheet: %s\n", name)
	for _, row := range rows {
		b.WriteString(strings.Join(row, "\t"))
		b.WriteString("\n")
	}
	content.Text = append(content.Text, models.PageText{Page: page, Content: b.String()})
	content.Tables = append(content.Tables, models.PageTable{Page: page, Rows: rows})
}

func trimEmptyRows(rows [][]string) [][]string {
	out := rows[:0]
	for _, row := range rows {
		if strings.TrimSpace(strings.Join(row, "")) != "" {
			out = append(out, row)
		}
	}
	return out
}

var slideTextRe = regexp.MustCompile(`<a:t>([^<]*)</a:t>`)

// parsePPTX maps every slide to one page
func parsePPTX(filePath string) (*models.DocumentContent, error) {
	f, err := zip.OpenReader(filePath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	content := &models.DocumentContent{}
	for _, file := range f.File {
		var slide int
		if _, err := fmt.Sscanf(file.Name, "ppt/slides/slide%d.xml", &slide); err != nil {
			continue
		}
		rc, err := file.Open()
		if err != nil {
			log.Warn().Err(err).Str("slide", file.Name).Msg("Skipping unreadable slide")
			continue
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			log.Warn().Err(err).Str("slide", file.Name).Msg("Skipping unreadable slide")
			continue
		}

		var parts []string
		for _, m := range slideTextRe.FindAllStringSubmatch(string(data), -1) {
			parts = append(parts, html.UnescapeString(m[1]))
		}
		if text := strings.Join(parts, " "); strings.TrimSpace(text) != "" {
			content.Text = append(content.Text, models.PageText{Page: slide, Content: text})
		}
	}
	slices.SortFunc(content.Text, func(a, b models.PageText) int { return a.Page - b.Page })
	return content, nil
}

// parseMarkdown keeps the source as text and lifts GFM tables out of the AST
func parseMarkdown(filePath string) (*models.DocumentContent, error) {
	src, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}

	content := &models.DocumentContent{}
	if strings.TrimSpace(string(src)) == "" {
		return content, nil
	}
	content.Text = []models.PageText{{Page: defaultPageNumber, Content: string(src)}}
	for _, table := range markdownTables(src) {
		content.Tables = append(content.Tables, models.PageTable{Page: defaultPageNumber, Rows: table})
	}
	return content, nil
}

func markdownTables(src []byte) [][][]string {
	md := goldmark.New(goldmark.WithExtensions(extension.GFM))
	doc := md.Parser().Parse(text.NewReader(src))

	var tables [][][]string
	_ = gast.Walk(doc, func(n gast.Node, entering bool) (gast.WalkStatus, error) {
		if !entering || n.Kind() != east.KindTable {
			return gast.WalkContinue, nil
		}
		var rows [][]string
		for row := n.FirstChild(); row != nil; row = row.NextSibling() {
			var cells []string
			for cell := row.FirstChild(); cell != nil; cell = cell.NextSibling() {
				cells = append(cells, strings.TrimSpace(inlineText(cell, src)))
			}
			rows = append(rows, cells)
		}
		tables = append(tables, rows)
		return gast.WalkSkipChildren, nil
	})
	return tables
}

func inlineText(n gast.Node, src []byte) string {
	var buf bytes.Buffer
	_ = gast.Walk(n, func(c gast.Node, entering bool) (gast.WalkStatus, error) {
		if !entering {
			return gast.WalkContinue, nil
		}
		switch t := c.(type) {
		case *gast.Text:
			buf.Write(t.Segment.Value(src))
		case *gast.String:
			buf.Write(t.Value)
		}
		return gast.WalkContinue, nil
	})
	return buf.String()
}

func parseText(filePath string) (*models.DocumentContent, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}
	content := &models.DocumentContent{}
	if strings.TrimSpace(string(data)) != "" {
		content.Text = []models.PageText{{Page: defaultPageNumber, Content: string(data)}}
	}
	return content, nil
}
