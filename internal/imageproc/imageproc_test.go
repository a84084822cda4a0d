package imageproc

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docqa/internal/config"
	"docqa/internal/models"
	"docqa/internal/testpdf"
)

type fakeDoc struct {
	pages  []string
	closed bool
}

func (f *fakeDoc) NumPage() int { return len(f.pages) }

func (f *fakeDoc) HTML(n int, _ bool) (string, error) {
	if n < 0 || n >= len(f.pages) {
		return "", errors.New("page out of range")
	}
	return f.pages[n], nil
}

func (f *fakeDoc) Close() error {
	f.closed = true
	return nil
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.NRGBA{R: uint8(x), G: uint8(y), B: 200, A: 128})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

// imgTag renders an image the way MuPDF does: a box of the image's pixel size at the origin,
// moved by a CSS matrix around its center so that it covers the given rectangle in pt
func imgTag(top, left, width, height float64, data []byte) string {
	w, h := 1.0, 1.0
	if cfg, _, err := image.DecodeConfig(bytes.NewReader(data)); err == nil {
		w, h = float64(cfg.Width), float64(cfg.Height)
	}
	a := width / pxToPt / w
	d := height / pxToPt / h
	e := left/pxToPt + a*w/2 - w/2
	f := top/pxToPt + d*h/2 - h/2
	return fmt.Sprintf(`<img style="position:absolute;transform:matrix(%v,0,-0,%v,%v,%v)" src="data:image/png;base64,%s">`,
		a, d, e, f, base64.StdEncoding.EncodeToString(data))
}

func assertRect(t *testing.T, want, got models.Rect, delta float64) {
	t.Helper()
	assert.InDelta(t, want.X0, got.X0, delta, "x0")
	assert.InDelta(t, want.Y0, got.Y0, delta, "y0")
	assert.InDelta(t, want.X1, got.X1, delta, "x1")
	assert.InDelta(t, want.Y1, got.Y1, delta, "y1")
}

func textTag(top, left float64, text string) string {
	return fmt.Sprintf(`<p style="top:%.1fpt;left:%.1fpt;line-height:12.0pt"><span style="font-family:Times,serif;font-size:12.0pt">%s</span></p>`,
		top, left, text)
}

func page(body ...string) string {
	return `<div id="page0" style="width:612.0pt;height:792.0pt">` + strings.Join(body, "\n") + `</div>`
}

func testProcessor(doc *fakeDoc) *Processor {
	return NewProcessor(config.Default()).WithOpener(func(string) (PageSource, error) {
		return doc, nil
	})
}

func TestParseLayout(t *testing.T) {
	data := pngBytes(t, 4, 4)
	layout, err := ParseLayout(page(
		textTag(90, 72, "Figure 1: revenue by quarter"),
		imgTag(100, 72, 200, 150, data),
		textTag(700, 72, "Footer far away"),
	))
	require.NoError(t, err)

	require.Len(t, layout.Images, 1)
	assertRect(t, models.Rect{X0: 72, Y0: 100, X1: 272, Y1: 250}, layout.Images[0].Rect, 1e-6)

	decoded, err := decodeDataURI(layout.Images[0].Src)
	require.NoError(t, err)
	assert.Equal(t, data, decoded)

	require.Len(t, layout.Lines, 2)
	assert.Equal(t, "Figure 1: revenue by quarter", layout.Lines[0].Text)
	assert.Equal(t, "Figure 1: revenue by quarter", layout.NearbyText(layout.Images[0].Rect, 72))
	assert.Empty(t, layout.NearbyText(models.Rect{X0: 400, Y0: 400, X1: 410, Y1: 410}, 10))
}

func TestParseLayoutMuPDFMatrix(t *testing.T) {
	img := fmt.Sprintf(`<img style="position:absolute;transform:matrix(8.333334,0,-0,8.333334,154.66667,234.66667)" src="data:image/png;base64,%s">`,
		base64.StdEncoding.EncodeToString(pngBytes(t, 16, 16)))
	layout, err := ParseLayout(page(
		textTag(30, 72, "Intro page one"),
		img,
		textTag(239, 72, "Figure 1 caption"),
	))
	require.NoError(t, err)

	require.Len(t, layout.Images, 1)
	rect := layout.Images[0].Rect
	assertRect(t, models.Rect{X0: 72, Y0: 132, X1: 172, Y1: 232}, rect, 1e-3)
	assert.Equal(t, "Figure 1 caption", layout.NearbyText(rect, 72))
}

func TestParseLayoutStyleFallback(t *testing.T) {
	layout, err := ParseLayout(page(
		`<img style="position:absolute;top:10pt;left:20pt;width:30pt;height:40pt" src="data:image/png;base64,AAAA">`,
	))
	require.NoError(t, err)
	require.Len(t, layout.Images, 1)
	assert.Equal(t, models.Rect{X0: 20, Y0: 10, X1: 50, Y1: 50}, layout.Images[0].Rect)
}

func TestExtractImagesFromPDF(t *testing.T) {
	path := testpdf.Write(t, t.TempDir(), "figure.pdf", testpdf.Page{
		Lines: []testpdf.Line{
			{X: 72, Y: 24, Text: "Intro page one"},
			{X: 72, Y: 250, Text: "Figure 1 caption"},
		},
		Images: []testpdf.Image{{X: 72, Y: 132, W: 100, H: 100, PNG: testpdf.OpaquePNG(t, 16, 16)}},
	})

	images, err := NewProcessor(config.Default()).ExtractImages(context.Background(), path)
	require.NoError(t, err)

	require.Len(t, images, 1)
	img := images[0]
	assert.Equal(t, 1, img.Page)
	require.NotNil(t, img.Location)
	assertRect(t, models.Rect{X0: 72, Y0: 132, X1: 172, Y1: 232}, *img.Location, 1)
	assert.Equal(t, "Figure 1 caption", img.NearbyText)
	assert.Equal(t, "jpeg", img.Format)
}

func TestDecodeDataURIRejectsNonBase64(t *testing.T) {
	_, err := decodeDataURI("image.png")
	assert.Error(t, err)
	_, err = decodeDataURI("data:image/png,raw")
	assert.Error(t, err)
}

func TestExtractImagesSkipsCorruptImage(t *testing.T) {
	good := pngBytes(t, 8, 6)
	var tags []string
	for i := 0; i < 10; i++ {
		data := good
		if i == 4 {
			data = []byte("definitely not an image")
		}
		tags = append(tags, imgTag(float64(10+i*60), 50, 40, 30, data))
	}
	doc := &fakeDoc{pages: []string{page(tags...)}}

	images, err := testProcessor(doc).ExtractImages(context.Background(), "doc.pdf")
	require.NoError(t, err)
	assert.Len(t, images, 9)
	assert.True(t, doc.closed)

	for _, img := range images {
		assert.Equal(t, 1, img.Page)
		assert.Equal(t, "jpeg", img.Format)
		assert.Equal(t, 8, img.Width)
		assert.Equal(t, 6, img.Height)
		require.NotNil(t, img.Location)
	}
}

func TestExtractImagesOpenFailure(t *testing.T) {
	p := NewProcessor(config.Default()).WithOpener(func(string) (PageSource, error) {
		return nil, errors.New("cannot open")
	})
	_, err := p.ExtractImages(context.Background(), "missing.pdf")
	assert.ErrorIs(t, err, models.ErrImageProcessing)
}

func TestExtractImagesOnlyReadsPDF(t *testing.T) {
	p := NewProcessor(config.Default()).WithOpener(func(string) (PageSource, error) {
		t.Fatal("opener must not run for non-PDF documents")
		return nil, nil
	})
	for _, name := range []string{"notes.txt", "deck.pptx", "stock.xlsx"} {
		images, err := p.ExtractImages(context.Background(), name)
		require.NoError(t, err)
		assert.Empty(t, images)
	}
}

func TestExtractImagesNoImages(t *testing.T) {
	doc := &fakeDoc{pages: []string{page(textTag(10, 10, "only text")), page()}}
	images, err := testProcessor(doc).ExtractImages(context.Background(), "doc.pdf")
	require.NoError(t, err)
	assert.Empty(t, images)
}

func TestProcessBytesDownscalesAndKeepsAspect(t *testing.T) {
	cfg := config.Default()
	cfg.Processing.MaxImageWidth = 40
	cfg.Processing.MaxImageHeight = 40
	p := NewProcessor(cfg)

	record, err := p.ProcessBytes(pngBytes(t, 100, 50), false)
	require.NoError(t, err)
	assert.Equal(t, 40, record.Width)
	assert.Equal(t, 20, record.Height)

	img, err := imaging.Decode(bytes.NewReader(record.Data))
	require.NoError(t, err)
	assert.Equal(t, 40, img.Bounds().Dx())
}

func TestProcessBytesPNGWhenJPEGUnsupported(t *testing.T) {
	cfg := config.Default()
	cfg.Processing.SupportedMIMETypes = []string{"image/png"}
	record, err := NewProcessor(cfg).ProcessBytes(pngBytes(t, 5, 5), true)
	require.NoError(t, err)
	assert.Equal(t, "png", record.Format)
	assert.Equal(t, "image/png", record.MIMEType())
}

func TestProcessInputImageAndSave(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "in.png")
	require.NoError(t, os.WriteFile(in, pngBytes(t, 12, 12), 0o644))

	p := NewProcessor(config.Default())
	record, err := p.ProcessInputImage(in)
	require.NoError(t, err)

	out, err := p.SaveProcessedImage(record, filepath.Join(dir, "out", "image_1.jpeg"))
	require.NoError(t, err)
	info, err := os.Stat(out)
	require.NoError(t, err)
	assert.Positive(t, info.Size())

	_, err = p.ProcessInputImage(filepath.Join(dir, "nope.png"))
	assert.ErrorIs(t, err, models.ErrImageProcessing)
}

func TestBuildVisionPromptCapsImages(t *testing.T) {
	var images []models.ImageRecord
	for i := 0; i < 12; i++ {
		images = append(images, models.ImageRecord{Data: []byte{byte(i)}, Format: "png", Page: i + 1, NearbyText: fmt.Sprintf("caption %d", i)})
	}

	parts := BuildVisionPrompt("what does the diagram show?", "ctx", images, 10)
	require.Len(t, parts, 11)
	assert.False(t, parts[0].IsImage())
	assert.Contains(t, parts[0].Text, "what does the diagram show?")
	assert.Contains(t, parts[0].Text, "caption 9")
	assert.NotContains(t, parts[0].Text, "caption 10")
	for _, part := range parts[1:] {
		assert.True(t, part.IsImage())
		assert.Equal(t, "image/png", part.MIMEType)
	}
}
