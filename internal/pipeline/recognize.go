package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/otiai10/gosseract/v2"
)

// Recognizer turns one page image into its recognized text. A page with no
// detected content yields an empty string, never a missing entry.
type Recognizer interface {
	Recognize(ctx context.Context, imagePath, lang string, useGPU bool) (string, error)
}

// API language codes to Tesseract trained-data names.
var tesseractLangs = map[string]string{
	"en":     "eng",
	"ch":     "chi_sim",
	"fr":     "fra",
	"german": "deu",
	"korean": "kor",
	"japan":  "jpn",
}

func mapLanguage(lang string) string {
	if mapped, ok := tesseractLangs[strings.ToLower(strings.TrimSpace(lang))]; ok {
		return mapped
	}
	if lang == "" {
		return "eng"
	}
	return lang
}

// Tesseract recognizes pages through gosseract. The engine is CPU-bound;
// the accelerator flag is accepted for contract parity and ignored.
type Tesseract struct {
	tessdataDir string
	newClient   func() *gosseract.Client
}

// NewTesseract builds the default recognition engine. When requireLocal is
// set the engine refuses to start without a configured trained-data
// directory instead of silently degrading; a configured directory that
// does not exist on disk is rejected the same way.
func NewTesseract(tessdataDir string, requireLocal bool) (*Tesseract, error) {
	if requireLocal && tessdataDir == "" {
		return nil, errors.New("model download is disabled and no local tessdata dir is configured")
	}
	if tessdataDir != "" {
		info, err := os.Stat(tessdataDir)
		if err != nil || !info.IsDir() {
			return nil, fmt.Errorf("tessdata dir not found at %s", tessdataDir)
		}
	}
	return &Tesseract{tessdataDir: tessdataDir, newClient: gosseract.NewClient}, nil
}

func (r *Tesseract) Recognize(ctx context.Context, imagePath, lang string, _ bool) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	default:
	}

	c := r.newClient()
	defer func() { _ = c.Close() }()

	if r.tessdataDir != "" {
		if err := c.SetTessdataPrefix(r.tessdataDir); err != nil {
			return "", fmt.Errorf("set tessdata prefix: %w", err)
		}
	}
	if err := c.SetLanguage(mapLanguage(lang)); err != nil {
		return "", fmt.Errorf("set language: %w", err)
	}
	if err := c.SetImage(imagePath); err != nil {
		return "", fmt.Errorf("set image: %w", err)
	}
	text, err := c.Text()
	if err != nil {
		return "", fmt.Errorf("recognize %s: %w", imagePath, err)
	}
	return strings.TrimSpace(text), nil
}
