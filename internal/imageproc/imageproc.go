// Package imageproc extracts the embedded images of a PDF and prepares them for the vision model.
package imageproc

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/gen2brain/go-fitz"
	"github.com/rs/zerolog/log"
	_ "golang.org/x/image/webp"

	"docqa/internal/config"
	"docqa/internal/models"
)

const (
	contrastBoost = 20
	sharpenSigma  = 0.5
)

// PageSource renders document pages as positioned HTML. *fitz.Document satisfies it.
type PageSource interface {
	NumPage() int
	HTML(pageNumber int, header bool) (string, error)
	Close() error
}

type Opener func(path string) (PageSource, error)

func openFitz(path string) (PageSource, error) {
	doc, err := fitz.New(path)
	if err != nil {
		return nil, err
	}
	return doc, nil
}

type Processor struct {
	cfg  config.ProcessingConfig
	open Opener
}

func NewProcessor(cfg *config.Config) *Processor {
	return &Processor{cfg: cfg.Processing, open: openFitz}
}

// WithOpener replaces the document backend
func (p *Processor) WithOpener(open Opener) *Processor {
	p.open = open
	return p
}

// ExtractImages returns every image of a PDF that decodes. Images that fail are logged
// and skipped; only a document that cannot be opened is an error. Other formats have no images.
func (p *Processor) ExtractImages(ctx context.Context, path string) ([]models.ImageRecord, error) {
	if ext := strings.ToLower(filepath.Ext(path)); ext != ".pdf" {
		log.Debug().Str("path", path).Str("ext", ext).Msg("No image extraction for format")
		return nil, nil
	}

	doc, err := p.open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: error extracting images: %w", models.ErrImageProcessing, err)
	}
	defer doc.Close()

	var images []models.ImageRecord
	for i := 0; i < doc.NumPage(); i++ {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("%w: %w", models.ErrImageProcessing, err)
		}
		pageNum := i + 1

		html, err := doc.HTML(i, false)
		if err != nil {
			log.Error().Err(err).Int("page", pageNum).Msg("Error rendering page layout")
			continue
		}
		layout, err := ParseLayout(html)
		if err != nil {
			log.Error().Err(err).Int("page", pageNum).Msg("Error reading page layout")
			continue
		}

		for idx, li := range layout.Images {
			record, err := p.processEmbedded(li)
			if err != nil {
				log.Error().Err(err).Int("page", pageNum).Int("image", idx).Msg("Error processing image")
				continue
			}
			record.Page = pageNum
			record.NearbyText = layout.NearbyText(li.Rect, p.cfg.NearbyTextMargin)
			images = append(images, record)
		}
	}

	log.Info().Str("path", path).Int("images", len(images)).Msg("Extracted images")
	return images, nil
}

func (p *Processor) processEmbedded(li LayoutImage) (models.ImageRecord, error) {
	data, err := decodeDataURI(li.Src)
	if err != nil {
		return models.ImageRecord{}, err
	}
	record, err := p.ProcessBytes(data, p.cfg.EnhanceImages)
	if err != nil {
		return models.ImageRecord{}, err
	}
	rect := li.Rect
	record.Location = &rect
	return record, nil
}

// ProcessBytes decodes, validates, normalizes and re-encodes one image
func (p *Processor) ProcessBytes(data []byte, enhance bool) (models.ImageRecord, error) {
	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return models.ImageRecord{}, fmt.Errorf("failed to decode image: %w", err)
	}
	b := img.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return models.ImageRecord{}, fmt.Errorf("invalid image dimensions %dx%d", b.Dx(), b.Dy())
	}

	img = p.transform(img, enhance)

	format := p.outputFormat()
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, format, imaging.JPEGQuality(p.cfg.JPEGQuality)); err != nil {
		return models.ImageRecord{}, fmt.Errorf("failed to encode image: %w", err)
	}

	out := img.Bounds()
	return models.ImageRecord{
		Data:   buf.Bytes(),
		Format: formatName(format),
		Width:  out.Dx(),
		Height: out.Dy(),
	}, nil
}

func (p *Processor) transform(img image.Image, enhance bool) image.Image {
	img = normalize(img)

	b := img.Bounds()
	if b.Dx() > p.cfg.MaxImageWidth || b.Dy() > p.cfg.MaxImageHeight {
		img = imaging.Fit(img, p.cfg.MaxImageWidth, p.cfg.MaxImageHeight, imaging.Lanczos)
	}

	if enhance {
		img = imaging.AdjustContrast(img, contrastBoost)
		img = imaging.Sharpen(img, sharpenSigma)
	}
	return img
}

// normalize keeps grayscale images and flattens everything else onto an opaque white canvas
func normalize(img image.Image) image.Image {
	switch img.(type) {
	case *image.Gray, *image.Gray16:
		return img
	}
	b := img.Bounds()
	canvas := imaging.New(b.Dx(), b.Dy(), color.White)
	return imaging.Overlay(canvas, img, image.Pt(0, 0), 1.0)
}

func (p *Processor) outputFormat() imaging.Format {
	if p.cfg.SupportsMIMEType("image/jpeg") || !p.cfg.SupportsMIMEType("image/png") {
		return imaging.JPEG
	}
	return imaging.PNG
}

func formatName(f imaging.Format) string {
	switch f {
	case imaging.PNG:
		return "png"
	default:
		return "jpeg"
	}
}

// ProcessInputImage processes a standalone image file with enhancement enabled
func (p *Processor) ProcessInputImage(path string) (models.ImageRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return models.ImageRecord{}, fmt.Errorf("%w: error processing input image: %w", models.ErrImageProcessing, err)
	}
	record, err := p.ProcessBytes(data, true)
	if err != nil {
		return models.ImageRecord{}, fmt.Errorf("%w: error processing input image: %w", models.ErrImageProcessing, err)
	}
	return record, nil
}

// SaveProcessedImage writes the record to outPath in its own format, JPEG when the format is unknown
func (p *Processor) SaveProcessedImage(record models.ImageRecord, outPath string) (string, error) {
	img, err := imaging.Decode(bytes.NewReader(record.Data))
	if err != nil {
		return "", fmt.Errorf("%w: error saving processed image: %w", models.ErrImageProcessing, err)
	}
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return "", fmt.Errorf("%w: error saving processed image: %w", models.ErrImageProcessing, err)
	}

	format, err := imaging.FormatFromExtension(strings.ToLower(record.Format))
	if err != nil {
		format = imaging.JPEG
	}

	f, err := os.Create(outPath)
	if err != nil {
		return "", fmt.Errorf("%w: error saving processed image: %w", models.ErrImageProcessing, err)
	}
	defer f.Close()

	if err := imaging.Encode(f, img, format, imaging.JPEGQuality(p.cfg.JPEGQuality)); err != nil {
		return "", fmt.Errorf("%w: error saving processed image: %w", models.ErrImageProcessing, err)
	}
	return outPath, nil
}

// PrepareVisionPrompt builds the multimodal prompt: the instruction text first, then at most
// MaxImages images with their mime types
func (p *Processor) PrepareVisionPrompt(query, textContext string, images []models.ImageRecord) []models.PromptPart {
	return BuildVisionPrompt(query, textContext, images, p.cfg.MaxImages)
}

func BuildVisionPrompt(query, textContext string, images []models.ImageRecord, maxImages int) []models.PromptPart {
	if maxImages >= 0 && len(images) > maxImages {
		images = images[:maxImages]
	}

	related := make([]string, 0, len(images))
	for _, img := range images {
		related = append(related, img.NearbyText)
	}

	parts := []models.PromptPart{
		models.TextPart(fmt.Sprintf(models.VisionPromptTemplate, textContext, strings.Join(related, " "), query)),
	}
	for _, img := range images {
		if len(img.Data) == 0 {
			log.Error().Int("page", img.Page).Msg("Error preparing image for prompt: empty data")
			continue
		}
		parts = append(parts, models.ImagePart(img.MIMEType(), img.Data))
	}
	return parts
}
