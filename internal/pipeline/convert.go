package pipeline

import (
	"context"
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"strings"

	// raster formats beyond the stdlib set
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
	_ "image/jpeg"

	"invoiceocr/internal/file"
)

// PageRenderer rasterizes a PDF into one PNG per page, in page order.
// The concrete rendering engine is a collaborator, not part of this core.
type PageRenderer interface {
	RenderPages(ctx context.Context, pdfPath, outputDir, baseName string) ([]string, error)
}

// Converter normalizes an upload into an ordered sequence of page PNGs.
type Converter struct {
	renderer PageRenderer
}

func NewConverter(renderer PageRenderer) *Converter {
	return &Converter{renderer: renderer}
}

var rasterExts = map[string]struct{}{
	".jpg": {}, ".jpeg": {}, ".bmp": {}, ".tif": {}, ".tiff": {}, ".webp": {},
}

// Convert returns the page images for an upload, one path per page in page
// order. PNG input passes through untouched. An unsupported extension
// yields an empty slice and no error; the dispatcher treats zero pages as
// a pipeline failure.
func (c *Converter) Convert(ctx context.Context, uploadPath, outputDir string) ([]string, error) {
	ext := strings.ToLower(filepath.Ext(uploadPath))
	base := file.Base(uploadPath)

	switch {
	case ext == ".png":
		return []string{uploadPath}, nil
	case ext == ".pdf":
		if c.renderer == nil {
			return nil, fmt.Errorf("no pdf renderer configured")
		}
		return c.renderer.RenderPages(ctx, uploadPath, outputDir, base)
	default:
		if _, ok := rasterExts[ext]; !ok {
			return nil, nil
		}
	}

	out := filepath.Join(outputDir, base+".png")
	if err := reencodePNG(uploadPath, out); err != nil {
		return nil, err
	}
	return []string{out}, nil
}

func reencodePNG(srcPath, dstPath string) error {
	src, err := os.Open(srcPath)
	if err != nil {
		return fmt.Errorf("open image: %w", err)
	}
	defer func() { _ = src.Close() }()

	img, _, err := image.Decode(src)
	if err != nil {
		return fmt.Errorf("decode image: %w", err)
	}

	if err := file.EnsureDir(filepath.Dir(dstPath)); err != nil {
		return err
	}
	dst, err := os.Create(dstPath)
	if err != nil {
		return fmt.Errorf("create png: %w", err)
	}
	if err := png.Encode(dst, img); err != nil {
		_ = dst.Close()
		return fmt.Errorf("encode png: %w", err)
	}
	if err := dst.Close(); err != nil {
		return fmt.Errorf("close png: %w", err)
	}
	return nil
}
