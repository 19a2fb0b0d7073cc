package file

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Derived artifacts are addressed by the upload's stored basename only,
// never by absolute paths, so deletion can reconstruct every sibling from
// the task's filename field.

// Base strips the extension from an upload's stored filename.
func Base(uploadName string) string {
	name := filepath.Base(uploadName)
	return strings.TrimSuffix(name, filepath.Ext(name))
}

// TextPath is the recognized full-text artifact for an upload.
func TextPath(outputDir, uploadName string) string {
	return filepath.Join(outputDir, Base(uploadName)+".txt")
}

// PagesPath is the per-page JSON artifact for an upload.
func PagesPath(outputDir, uploadName string) string {
	return filepath.Join(outputDir, Base(uploadName)+"_pages.json")
}

// PagePNG is the rendered image for one 1-based page of an upload.
func PagePNG(outputDir, uploadName string, page int) string {
	return filepath.Join(outputDir, fmt.Sprintf("%s_page_%d.png", Base(uploadName), page))
}

// RemoveDerived deletes the upload and every derived artifact that shares
// its basename: the .txt and _pages.json outputs plus any page PNGs.
// Missing files are not an error; deletion is best effort by design of the
// naming convention.
func RemoveDerived(uploadDir, outputDir, uploadName string) error {
	name := filepath.Base(uploadName)
	if name == "." || name == string(filepath.Separator) {
		return nil
	}
	targets := []string{
		filepath.Join(uploadDir, name),
		TextPath(outputDir, name),
		PagesPath(outputDir, name),
		filepath.Join(outputDir, Base(name)+".png"),
		filepath.Join(outputDir, Base(name)+"_artifacts.zip"),
	}
	pagePNGs, err := filepath.Glob(filepath.Join(outputDir, Base(name)+"_page_*.png"))
	if err == nil {
		targets = append(targets, pagePNGs...)
	}
	for _, path := range targets {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove %s: %w", path, err)
		}
	}
	return nil
}
