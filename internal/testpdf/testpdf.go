// Package testpdf writes small PDF fixtures for tests. Coordinates are in pt from the top left
// corner of a US Letter page.
package testpdf

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"path/filepath"
	"testing"

	"github.com/go-pdf/fpdf"
	"github.com/stretchr/testify/require"
)

// Line is one line of 12pt Helvetica, Y is the baseline
type Line struct {
	X, Y float64
	Text string
}

// Image is a PNG drawn into the rectangle at X, Y of size W x H
type Image struct {
	X, Y, W, H float64
	PNG        []byte
}

type Page struct {
	Lines  []Line
	Images []Image
}

// OpaquePNG returns a w x h RGB image without alpha
func OpaquePNG(t testing.TB, w, h int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.NRGBA{R: uint8(x * 16), G: uint8(y * 16), B: 120, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

// Write renders pages into dir/name and returns the path
func Write(t testing.TB, dir, name string, pages ...Page) string {
	t.Helper()
	doc := fpdf.New("P", "pt", "Letter", "")
	doc.SetFont("Helvetica", "", 12)

	for p, page := range pages {
		doc.AddPage()
		for _, line := range page.Lines {
			doc.Text(line.X, line.Y, line.Text)
		}
		for i, img := range page.Images {
			imageName := fmt.Sprintf("page%d_image%d", p+1, i+1)
			opts := fpdf.ImageOptions{ImageType: "PNG"}
			doc.RegisterImageOptionsReader(imageName, opts, bytes.NewReader(img.PNG))
			doc.ImageOptions(imageName, img.X, img.Y, img.W, img.H, false, opts, 0, "")
		}
	}
	require.NoError(t, doc.Error())

	path := filepath.Join(dir, name)
	require.NoError(t, doc.OutputFileAndClose(path))
	return path
}
