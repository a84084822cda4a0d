package parser

import (
	"archive/zip"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"docqa/internal/config"
	"docqa/internal/models"
	"docqa/internal/testpdf"
)

func newTestExtractor() *Extractor {
	return NewExtractor(config.Default())
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestExtractText(t *testing.T) {
	path := writeFile(t, "notes.txt", "first line\nsecond line\n")

	content, err := newTestExtractor().Extract(path)
	require.NoError(t, err)

	require.Len(t, content.Text, 1)
	assert.Equal(t, 1, content.Text[0].Page)
	assert.Equal(t, "first line\nsecond line\n", content.Text[0].Content)
	assert.Empty(t, content.Tables)
	assert.Equal(t, path, content.Path)
}

func TestExtractBlankTextHasNoPages(t *testing.T) {
	content, err := newTestExtractor().Extract(writeFile(t, "blank.txt", " \n\t\n"))
	require.NoError(t, err)
	assert.Empty(t, content.Text)
}

func TestExtractMarkdownTables(t *testing.T) {
	src := "# Prices\n\nSome intro.\n\n| Item | Cost |\n|------|------|\n| Tea | **3** |\n| Cake | 5 |\n"
	content, err := newTestExtractor().Extract(writeFile(t, "prices.md", src))
	require.NoError(t, err)

	require.Len(t, content.Text, 1)
	assert.Contains(t, content.Text[0].Content, "Some intro.")

	require.Len(t, content.Tables, 1)
	assert.Equal(t, 1, content.Tables[0].Page)
	assert.Equal(t, [][]string{
		{"Item", "Cost"},
		{"Tea", "3"},
		{"Cake", "5"},
	}, content.Tables[0].Rows)
}

func writeWorkbook(t *testing.T, name string) string {
	t.Helper()
	f := excelize.NewFile()
	require.NoError(t, f.SetCellValue("Sheet1", "A1", "name"))
	require.NoError(t, f.SetCellValue("Sheet1", "B1", "qty"))
	require.NoError(t, f.SetCellValue("Sheet1", "A2", "bolts"))
	require.NoError(t, f.SetCellValue("Sheet1", "B2", 12))
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, f.SaveAs(path))
	require.NoError(t, f.Close())
	return path
}

func TestExtractWorkbooks(t *testing.T) {
	for _, name := range []string{"stock.xlsx", "stock.xlsm"} {
		t.Run(name, func(t *testing.T) {
			content, err := newTestExtractor().Extract(writeWorkbook(t, name))
			require.NoError(t, err)

			require.Len(t, content.Text, 1)
			assert.Equal(t, 1, content.Text[0].Page)
			assert.Equal(t, "## Sheet: Sheet1\nname\tqty\nbolts\t12\n", content.Text[0].Content)
			require.Len(t, content.Tables, 1)
			assert.Equal(t, [][]string{{"name", "qty"}, {"bolts", "12"}}, content.Tables[0].Rows)
		})
	}
}

const testDocumentXML = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body>` +
	`<w:p><w:r><w:t>Quarterly </w:t></w:r><w:r><w:t xml:space="preserve">report &amp; summary</w:t></w:r></w:p>` +
	`<w:tbl><w:tr><w:tc><w:p><w:r><w:t>Region</w:t></w:r></w:p></w:tc><w:tc><w:p><w:r><w:t>Sales</w:t></w:r></w:p></w:tc></w:tr>` +
	`<w:tr><w:tc><w:p><w:r><w:t>North</w:t></w:r></w:p></w:tc><w:tc><w:p><w:r><w:t>42</w:t></w:r></w:p></w:tc></w:tr></w:tbl>` +
	`</w:body></w:document>`

const testDocumentRels = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships"></Relationships>`

func writeZip(t *testing.T, name string, files map[string]string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	f, err := os.Create(path)
	require.NoError(t, err)

	zw := zip.NewWriter(f)
	for name, body := range files {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())
	return path
}

func writeDocx(t *testing.T) string {
	return writeZip(t, "report.docx", map[string]string{
		"word/document.xml":            testDocumentXML,
		"word/_rels/document.xml.rels": testDocumentRels,
	})
}

func TestExtractDOCX(t *testing.T) {
	content, err := newTestExtractor().Extract(writeDocx(t))
	require.NoError(t, err)

	require.Len(t, content.Text, 1)
	assert.Contains(t, content.Text[0].Content, "Quarterly report & summary")
	assert.Contains(t, content.Text[0].Content, "North")

	require.Len(t, content.Tables, 1)
	assert.Equal(t, [][]string{{"Region", "Sales"}, {"North", "42"}}, content.Tables[0].Rows)
}

func slideXML(texts ...string) string {
	var b strings.Builder
	b.WriteString(`<p:sld xmlns:a="http://schemas.openxmlformats.org/drawingml/2006/main" xmlns:p="http://schemas.openxmlformats.org/presentationml/2006/main"><p:cSld><p:spTree>`)
	for _, t := range texts {
		b.WriteString(`<p:sp><p:txBody><a:p><a:r><a:t>` + t + `</a:t></a:r></a:p></p:txBody></p:sp>`)
	}
	b.WriteString(`</p:spTree></p:cSld></p:sld>`)
	return b.String()
}

func TestExtractPPTX(t *testing.T) {
	path := writeZip(t, "deck.pptx", map[string]string{
		"ppt/slides/slide2.xml":             slideXML("Revenue grew", "by 12%"),
		"ppt/slides/slide10.xml":            slideXML("Questions?"),
		"ppt/slides/slide1.xml":             slideXML("Q3 Review &amp; Outlook"),
		"ppt/slides/slide3.xml":             slideXML(),
		"ppt/slides/_rels/slide1.xml.rels":  testDocumentRels,
		"ppt/slideLayouts/slideLayout1.xml": slideXML("Layout placeholder"),
	})

	content, err := newTestExtractor().Extract(path)
	require.NoError(t, err)

	assert.Equal(t, []models.PageText{
		{Page: 1, Content: "Q3 Review & Outlook"},
		{Page: 2, Content: "Revenue grew by 12%"},
		{Page: 10, Content: "Questions?"},
	}, content.Text)
	assert.Empty(t, content.Tables)
}

func nonEmptyLines(text string) []string {
	var lines []string
	for _, line := range strings.Split(text, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

func TestExtractPDF(t *testing.T) {
	pages := []testpdf.Page{
		{Lines: []testpdf.Line{{X: 72, Y: 72, Text: "Quarterly report"}, {X: 72, Y: 100, Text: "Prepared by finance"}}},
		{Lines: []testpdf.Line{{X: 72, Y: 72, Text: "Revenue grew"}, {X: 72, Y: 100, Text: "in the northern region"}}},
		{Lines: []testpdf.Line{{X: 72, Y: 72, Text: "Outlook for next year"}}},
	}
	path := testpdf.Write(t, t.TempDir(), "report.pdf", pages...)

	content, err := newTestExtractor().Extract(path)
	require.NoError(t, err)

	require.Len(t, content.Text, 3)
	for i, page := range content.Text {
		assert.Equal(t, i+1, page.Page)
	}
	assert.Equal(t, []string{"Quarterly report", "Prepared by finance"}, nonEmptyLines(content.Text[0].Content))
	assert.Equal(t, []string{"Revenue grew", "in the northern region"}, nonEmptyLines(content.Text[1].Content))
	assert.Equal(t, []string{"Outlook for next year"}, nonEmptyLines(content.Text[2].Content))
	assert.Empty(t, content.Tables)

	combined := content.CombinedText()
	assert.True(t, strings.HasPrefix(combined, "[Page 1] Quarterly report\n"), combined)
	assert.Contains(t, combined, "\n[Page 2] Revenue grew\n")
	assert.Contains(t, combined, "\n[Page 3] Outlook for next year")
}

func TestExtractPDFSkipsBlankPages(t *testing.T) {
	path := testpdf.Write(t, t.TempDir(), "gap.pdf",
		testpdf.Page{Lines: []testpdf.Line{{X: 72, Y: 72, Text: "First"}}},
		testpdf.Page{},
		testpdf.Page{Lines: []testpdf.Line{{X: 72, Y: 72, Text: "Third"}}},
	)

	content, err := newTestExtractor().Extract(path)
	require.NoError(t, err)

	require.Len(t, content.Text, 2)
	assert.Equal(t, 1, content.Text[0].Page)
	assert.Equal(t, 3, content.Text[1].Page)
}

func TestExtractFailures(t *testing.T) {
	e := newTestExtractor()

	_, err := e.Extract(filepath.Join(t.TempDir(), "missing.pdf"))
	assert.ErrorIs(t, err, models.ErrDocumentProcessing)

	_, err = e.Extract(writeFile(t, "broken.pdf", "this is not a pdf"))
	assert.ErrorIs(t, err, models.ErrDocumentProcessing)

	_, err = e.Extract(writeFile(t, "slides.pptx", "binary"))
	assert.ErrorIs(t, err, models.ErrDocumentProcessing)

	_, err = e.Extract(writeFile(t, "notes.rtf", "{\\rtf1}"))
	assert.ErrorIs(t, err, models.ErrDocumentProcessing)
	assert.Contains(t, err.Error(), "unsupported file format")
}

func TestExtractRejectsOversizedFile(t *testing.T) {
	cfg := config.Default()
	cfg.Processing.MaxFileSize = 4

	_, err := NewExtractor(cfg).Extract(writeFile(t, "big.txt", "more than four bytes"))
	assert.ErrorIs(t, err, models.ErrDocumentProcessing)
}
