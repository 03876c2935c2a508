// Package extract pulls text out of documents: embedded PDF text via
// MuPDF, with raster OCR as the fallback for scans and single images.
package extract

import (
	"context"
	"fmt"
	"image/png"
	"os"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/gen2brain/go-fitz"
	"github.com/hashicorp/go-hclog"
)

// Extraction thresholds.
const (
	// Pages whose embedded text is shorter than this are assumed to be
	// scans and go through OCR.
	minEmbeddedTextLen = 50

	// Images larger than this are downscaled before OCR.
	maxOCRImageBytes = 2 << 20 // 2 MiB

	// Longest side after downscaling.
	maxOCRImageSide = 2048

	// Render zoom for OCR of PDF pages: 144 dpi is 2x the PDF default.
	ocrRenderDPI = 144
)

// Config configures the extractor.
type Config struct {
	// Engine performs OCR. Nil disables OCR entirely.
	Engine Engine

	// Logger defaults to a null logger.
	Logger hclog.Logger
}

// Extractor turns a stored blob into text.
type Extractor struct {
	engine Engine
	logger hclog.Logger
}

// NewExtractor creates an extractor.
func NewExtractor(cfg Config) *Extractor {
	logger := cfg.Logger
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Extractor{
		engine: cfg.Engine,
		logger: logger.Named("extract"),
	}
}

// OCREnabled reports whether an OCR engine is configured.
func (e *Extractor) OCREnabled() bool {
	return e.engine != nil
}

// ExtractText extracts text from the file at absPath. PDFs use embedded
// text per page unless forceOCR is set or the page looks like a scan;
// images go straight to OCR. Returns empty text (not an error) when
// nothing could be extracted; errors mean the file could not be
// processed at all.
func (e *Extractor) ExtractText(ctx context.Context, absPath string, forceOCR bool) (string, error) {
	if strings.EqualFold(filepath.Ext(absPath), ".pdf") {
		return e.extractPDF(ctx, absPath, forceOCR)
	}
	if e.engine == nil {
		e.logger.Debug("OCR disabled, skipping image extraction", "path", absPath)
		return "", nil
	}
	return e.extractImage(ctx, absPath)
}

// PageCount returns the number of pages of a PDF, or 0 for other types.
func (e *Extractor) PageCount(absPath string) (int, error) {
	if !strings.EqualFold(filepath.Ext(absPath), ".pdf") {
		return 0, nil
	}
	doc, err := fitz.New(absPath)
	if err != nil {
		return 0, fmt.Errorf("failed to open PDF: %w", err)
	}
	defer doc.Close()
	return doc.NumPage(), nil
}

func (e *Extractor) extractPDF(ctx context.Context, absPath string, forceOCR bool) (string, error) {
	doc, err := fitz.New(absPath)
	if err != nil {
		return "", fmt.Errorf("failed to open PDF: %w", err)
	}
	defer doc.Close()

	pages := make([]string, 0, doc.NumPage())
	for n := 0; n < doc.NumPage(); n++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		text := ""
		if !forceOCR {
			text, err = doc.Text(n)
			if err != nil {
				e.logger.Warn("failed to read embedded text, skipping page",
					"path", absPath, "page", n, "error", err)
				continue
			}
		}

		if (forceOCR || len(strings.TrimSpace(text)) < minEmbeddedTextLen) && e.engine != nil {
			ocrText, err := e.ocrPage(ctx, doc, n)
			if err != nil {
				e.logger.Warn("page OCR failed, skipping page",
					"path", absPath, "page", n, "error", err)
			} else if strings.TrimSpace(ocrText) != "" {
				text = ocrText
			}
		}

		if strings.TrimSpace(text) != "" {
			pages = append(pages, strings.TrimSpace(text))
		}
	}
	return strings.Join(pages, "\n\n"), nil
}

// ocrPage renders one page at 2x zoom into a temp PNG and runs OCR.
func (e *Extractor) ocrPage(ctx context.Context, doc *fitz.Document, page int) (string, error) {
	img, err := doc.ImageDPI(page, ocrRenderDPI)
	if err != nil {
		return "", fmt.Errorf("failed to render page: %w", err)
	}

	tmp, err := os.CreateTemp("", "cartulary-page-*.png")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	err = png.Encode(tmp, img)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return "", fmt.Errorf("failed to write page image: %w", err)
	}

	return e.engine.ExtractText(ctx, tmp.Name())
}

// extractImage OCRs a single image, downscaling oversized inputs first.
func (e *Extractor) extractImage(ctx context.Context, absPath string) (string, error) {
	info, err := os.Stat(absPath)
	if err != nil {
		return "", fmt.Errorf("failed to stat image: %w", err)
	}

	path := absPath
	if info.Size() > maxOCRImageBytes {
		resized, cleanup, err := e.resizeForOCR(absPath)
		if err != nil {
			e.logger.Warn("failed to resize image, using original",
				"path", absPath, "error", err)
		} else {
			defer cleanup()
			path = resized
		}
	}

	return e.engine.ExtractText(ctx, path)
}

// resizeForOCR writes a version of the image whose longest side is at
// most maxOCRImageSide, as a quality-95 JPEG temp file.
func (e *Extractor) resizeForOCR(absPath string) (string, func(), error) {
	img, err := imaging.Open(absPath)
	if err != nil {
		return "", nil, fmt.Errorf("failed to open image: %w", err)
	}

	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w >= h && w > maxOCRImageSide {
		img = imaging.Resize(img, maxOCRImageSide, 0, imaging.Lanczos)
	} else if h > w && h > maxOCRImageSide {
		img = imaging.Resize(img, 0, maxOCRImageSide, imaging.Lanczos)
	}

	tmp, err := os.CreateTemp("", "cartulary-ocr-*.jpg")
	if err != nil {
		return "", nil, fmt.Errorf("failed to create temp file: %w", err)
	}
	err = imaging.Encode(tmp, img, imaging.JPEG, imaging.JPEGQuality(95))
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmp.Name())
		return "", nil, fmt.Errorf("failed to write resized image: %w", err)
	}

	name := tmp.Name()
	e.logger.Debug("resized image for OCR", "path", absPath, "resized", name)
	return name, func() { os.Remove(name) }, nil
}
