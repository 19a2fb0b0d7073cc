package pipeline

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"invoiceocr/internal/file"
)

const defaultRenderDPI = 144

// PopplerRenderer rasterizes PDFs by shelling out to pdftoppm. Output files
// are renamed to the service's page-PNG convention so deletion by basename
// keeps working.
type PopplerRenderer struct {
	Binary string
	DPI    int
}

func NewPopplerRenderer() *PopplerRenderer {
	return &PopplerRenderer{Binary: "pdftoppm", DPI: defaultRenderDPI}
}

func (r *PopplerRenderer) RenderPages(ctx context.Context, pdfPath, outputDir, baseName string) ([]string, error) {
	if err := file.EnsureDir(outputDir); err != nil {
		return nil, err
	}
	prefix := filepath.Join(outputDir, baseName+"_page")
	cmd := exec.CommandContext(ctx, r.Binary, "-png", "-r", strconv.Itoa(r.DPI), pdfPath, prefix)
	if out, err := cmd.CombinedOutput(); err != nil {
		return nil, fmt.Errorf("pdftoppm: %w: %s", err, strings.TrimSpace(string(out)))
	}

	// pdftoppm numbers pages as <prefix>-1.png, zero-padded on longer docs
	rendered, err := filepath.Glob(prefix + "-*.png")
	if err != nil {
		return nil, fmt.Errorf("glob rendered pages: %w", err)
	}
	type page struct {
		num  int
		path string
	}
	pages := make([]page, 0, len(rendered))
	for _, p := range rendered {
		numStr := strings.TrimSuffix(strings.TrimPrefix(p, prefix+"-"), ".png")
		n, err := strconv.Atoi(numStr)
		if err != nil {
			continue
		}
		pages = append(pages, page{num: n, path: p})
	}
	sort.Slice(pages, func(i, j int) bool { return pages[i].num < pages[j].num })

	out := make([]string, 0, len(pages))
	for i, p := range pages {
		dst := file.PagePNG(outputDir, baseName, i+1)
		if err := os.Rename(p.path, dst); err != nil {
			return nil, fmt.Errorf("rename page %d: %w", i+1, err)
		}
		out = append(out, dst)
	}
	return out, nil
}
