package imageproc

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"math"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"docqa/internal/models"
)

const (
	// average glyph width relative to the font size, used to estimate line widths
	glyphWidthRatio = 0.5
	// CSS px to pt
	pxToPt = 0.75
)

// LayoutImage is an image placed on a page, Src is usually a data URI
type LayoutImage struct {
	Rect models.Rect
	Src  string
}

// TextLine is a positioned line of page text
type TextLine struct {
	Rect models.Rect
	Text string
}

type PageLayout struct {
	Images []LayoutImage
	Lines  []TextLine
}

// ParseLayout reads the absolute-positioned HTML that MuPDF renders for a page
func ParseLayout(pageHTML string) (*PageLayout, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(pageHTML))
	if err != nil {
		return nil, fmt.Errorf("failed to parse page layout: %w", err)
	}

	layout := &PageLayout{}
	doc.Find("img").Each(func(_ int, s *goquery.Selection) {
		src, ok := s.Attr("src")
		if !ok || src == "" {
			return
		}
		layout.Images = append(layout.Images, LayoutImage{
			Rect: imageRect(s.AttrOr("style", ""), src),
			Src:  src,
		})
	})

	doc.Find("p").Each(func(_ int, s *goquery.Selection) {
		text := strings.Join(strings.Fields(s.Text()), " ")
		if text == "" {
			return
		}
		style := parseStyle(s.AttrOr("style", ""))
		fontSize := 0.0
		s.Find("span").EachWithBreak(func(_ int, span *goquery.Selection) bool {
			fontSize = parseStyle(span.AttrOr("style", ""))["font-size"]
			return fontSize == 0
		})
		height := style["line-height"]
		if height == 0 {
			height = fontSize
		}
		if fontSize == 0 {
			fontSize = height
		}
		top, left := style["top"], style["left"]
		width := float64(len([]rune(text))) * fontSize * glyphWidthRatio
		layout.Lines = append(layout.Lines, TextLine{
			Rect: models.Rect{X0: left, Y0: top, X1: left + width, Y1: top + height},
			Text: text,
		})
	})
	return layout, nil
}

// imageRect locates an <img>. MuPDF places the image as a box of its pixel size at the origin
// and moves it with a CSS matrix applied around the box center. Without a matrix the
// top, left, width and height declarations are used.
func imageRect(style, src string) models.Rect {
	m, ok := parseMatrix(style)
	if !ok {
		decl := parseStyle(style)
		top, left := decl["top"], decl["left"]
		return models.Rect{X0: left, Y0: top, X1: left + decl["width"], Y1: top + decl["height"]}
	}

	w, h, err := pixelSize(src)
	if err != nil {
		return models.Rect{}
	}
	ox, oy := w/2, h/2
	rect := models.Rect{X0: math.Inf(1), Y0: math.Inf(1), X1: math.Inf(-1), Y1: math.Inf(-1)}
	for _, corner := range [4][2]float64{{0, 0}, {w, 0}, {0, h}, {w, h}} {
		dx, dy := corner[0]-ox, corner[1]-oy
		x := (m[0]*dx + m[2]*dy + m[4] + ox) * pxToPt
		y := (m[1]*dx + m[3]*dy + m[5] + oy) * pxToPt
		rect.X0, rect.X1 = min(rect.X0, x), max(rect.X1, x)
		rect.Y0, rect.Y1 = min(rect.Y0, y), max(rect.Y1, y)
	}
	return rect
}

// parseMatrix reads the six values of a "transform:matrix(a,b,c,d,e,f)" declaration
func parseMatrix(style string) ([6]float64, bool) {
	var m [6]float64
	for _, decl := range strings.Split(style, ";") {
		key, value, ok := strings.Cut(decl, ":")
		if !ok || strings.TrimSpace(strings.ToLower(key)) != "transform" {
			continue
		}
		value = strings.TrimSpace(value)
		if !strings.HasPrefix(value, "matrix(") || !strings.HasSuffix(value, ")") {
			return m, false
		}
		args := strings.Split(value[len("matrix("):len(value)-1], ",")
		if len(args) != len(m) {
			return m, false
		}
		for i, arg := range args {
			f, err := strconv.ParseFloat(strings.TrimSpace(arg), 64)
			if err != nil {
				return m, false
			}
			m[i] = f
		}
		return m, true
	}
	return m, false
}

func pixelSize(src string) (float64, float64, error) {
	data, err := decodeDataURI(src)
	if err != nil {
		return 0, 0, err
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return 0, 0, fmt.Errorf("failed to read image size: %w", err)
	}
	return float64(cfg.Width), float64(cfg.Height), nil
}

// parseStyle extracts numeric declarations such as "top:12.5pt" from an inline style
func parseStyle(style string) map[string]float64 {
	values := make(map[string]float64)
	for _, decl := range strings.Split(style, ";") {
		key, value, ok := strings.Cut(decl, ":")
		if !ok {
			continue
		}
		value = strings.TrimSpace(value)
		value = strings.TrimSuffix(value, "pt")
		value = strings.TrimSuffix(value, "px")
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			continue
		}
		values[strings.TrimSpace(strings.ToLower(key))] = f
	}
	return values
}

// decodeDataURI returns the payload of a base64 data URI
func decodeDataURI(src string) ([]byte, error) {
	meta, payload, ok := strings.Cut(src, ",")
	if !ok || !strings.HasPrefix(meta, "data:") {
		return nil, errors.New("image source is not a data URI")
	}
	if !strings.HasSuffix(meta, ";base64") {
		return nil, errors.New("image data URI is not base64 encoded")
	}
	data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image data: %w", err)
	}
	return data, nil
}

// NearbyText joins the lines that touch rect grown by margin, in page order
func (l *PageLayout) NearbyText(rect models.Rect, margin float64) string {
	area := rect.Expand(margin)
	var nearby []string
	for _, line := range l.Lines {
		if line.Rect.Intersects(area) {
			nearby = append(nearby, line.Text)
		}
	}
	return strings.Join(nearby, " ")
}
