package models

import (
	"fmt"
	"strings"
)

// PageText is the raw text of one page, pages are 1-based
type PageText struct {
	Page    int    `json:"page"`
	Content string `json:"content"`
}

// PageTable is a table detected on a page
type PageTable struct {
	Page int        `json:"page"`
	Rows [][]string `json:"rows"`
}

// DocumentContent holds everything extracted from one document
type DocumentContent struct {
	Path   string      `json:"path"`
	Text   []PageText  `json:"text"`
	Tables []PageTable `json:"tables"`
}

// CombinedText joins page texts, each prefixed with its page marker, with newlines
func (d *DocumentContent) CombinedText() string {
	var b strings.Builder
	for i, page := range d.Text {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, PageMarkerFormat, page.Page, page.Content)
	}
	return b.String()
}

// Chunk represents one retrieval unit of the indexed document
type Chunk struct {
	ID       string
	Position int
	Content  string
}

// ChunkID returns the identifier used for the chunk at position i
func ChunkID(i int) string {
	return fmt.Sprintf("chunk_%d", i)
}

// Rect is a rectangle in page points, origin at the top left corner
type Rect struct {
	X0 float64 `json:"x0"`
	Y0 float64 `json:"y0"`
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
}

// Expand grows the rectangle by margin on every side
func (r Rect) Expand(margin float64) Rect {
	return Rect{X0: r.X0 - margin, Y0: r.Y0 - margin, X1: r.X1 + margin, Y1: r.Y1 + margin}
}

// Intersects reports whether r and o overlap. Touching edges count as overlap.
func (r Rect) Intersects(o Rect) bool {
	return r.X0 <= o.X1 && o.X0 <= r.X1 && r.Y0 <= o.Y1 && o.Y0 <= r.Y1
}

// ImageRecord is a processed image extracted from a document
type ImageRecord struct {
	Data       []byte `json:"-"`
	Format     string `json:"format"`
	Page       int    `json:"page"`
	Width      int    `json:"width"`
	Height     int    `json:"height"`
	Location   *Rect  `json:"location,omitempty"`
	NearbyText string `json:"nearby_text"`
}

func (r ImageRecord) MIMEType() string {
	if r.Format == "" {
		return "image/jpeg"
	}
	return "image/" + r.Format
}

// PromptPart is one element of a multimodal prompt: either text or inline data
type PromptPart struct {
	Text     string
	MIMEType string
	Data     []byte
}

func TextPart(text string) PromptPart {
	return PromptPart{Text: text}
}

func ImagePart(mimeType string, data []byte) PromptPart {
	return PromptPart{MIMEType: mimeType, Data: data}
}

func (p PromptPart) IsImage() bool {
	return p.MIMEType != ""
}

// PromptResponse is what the query flow hands back to the caller
type PromptResponse struct {
	Query      string
	Source     string
	Content    string
	Multimodal bool
}
