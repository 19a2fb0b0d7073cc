// Package pipeline runs the per-task document pipeline: convert the upload
// to page images, recognize text per page, and aggregate the pages into
// one result. Stages execute strictly in order; each stage's full output
// feeds the next.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"invoiceocr/internal/file"
	"invoiceocr/internal/task"
)

// Input names everything one pipeline run needs. UploadPath points at the
// stored upload; derived artifacts land in OutputDir.
type Input struct {
	UploadPath string `json:"upload_path"`
	OutputDir  string `json:"output_dir"`
	Language   string `json:"language"`
	UseGPU     bool   `json:"use_gpu"`
}

// ErrNoPages is returned when conversion produces zero page images, which
// happens for unsupported file contents.
var ErrNoPages = errors.New("conversion produced no page images")

type Pipeline struct {
	converter  *Converter
	recognizer Recognizer
}

func New(converter *Converter, recognizer Recognizer) *Pipeline {
	return &Pipeline{converter: converter, recognizer: recognizer}
}

// Run executes Convert then Recognize and aggregates the per-page text.
// The result's page count always equals the conversion's image count, in
// the same order.
func (p *Pipeline) Run(ctx context.Context, in Input) (*task.Result, error) {
	images, err := p.converter.Convert(ctx, in.UploadPath, in.OutputDir)
	if err != nil {
		return nil, fmt.Errorf("convert: %w", err)
	}
	if len(images) == 0 {
		return nil, ErrNoPages
	}

	pages := make([]string, 0, len(images))
	for _, img := range images {
		text, err := p.recognizer.Recognize(ctx, img, in.Language, in.UseGPU)
		if err != nil {
			return nil, fmt.Errorf("recognize: %w", err)
		}
		pages = append(pages, text)
	}

	res := Aggregate(pages)
	p.persistArtifacts(in, res)
	return res, nil
}

// persistArtifacts writes the .txt and _pages.json siblings next to the
// page images. They are conveniences for the download endpoint; a write
// failure does not fail the task.
func (p *Pipeline) persistArtifacts(in Input, res *task.Result) {
	textPath := file.TextPath(in.OutputDir, in.UploadPath)
	if err := file.CopyAtomic(textPath, strings.NewReader(res.AllText)); err != nil {
		log.Warn().Str("path", textPath).Err(err).Msg("persist recognized text failed")
	}
	pagesPath := file.PagesPath(in.OutputDir, in.UploadPath)
	if err := file.WriteJSONAtomic(pagesPath, map[string][]string{"pages": res.Pages}); err != nil {
		log.Warn().Str("path", pagesPath).Err(err).Msg("persist pages json failed")
	}
}

// Aggregate deterministically merges ordered per-page text into the single
// canonical result: pages joined with newlines plus the page count.
func Aggregate(pages []string) *task.Result {
	return &task.Result{
		Pages:          pages,
		AllText:        strings.Join(pages, "\n"),
		PagesProcessed: len(pages),
	}
}
