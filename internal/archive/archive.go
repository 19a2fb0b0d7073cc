// Package archive bundles a task's derived artifacts into a single zip
// for download.
package archive

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
)

// Result describes one artifact's inclusion in the bundle. A file that
// could not be read gets Err set and is omitted; the rest of the bundle
// is still built.
type Result struct {
	Filename string
	Err      string
}

const archiveDirPerm os.FileMode = 0o750

// Build writes the given files into a zip at destZipPath, flattened to
// their basenames. It always returns one Result per input path; per-file
// read failures are recorded there without failing the bundle. An empty
// input is an error since an empty bundle is never useful.
func Build(destZipPath string, paths []string) ([]Result, error) {
	if len(paths) == 0 {
		return nil, errors.New("no files to bundle")
	}

	zipFile, zipWriter, err := prepareZip(destZipPath)
	if err != nil {
		return nil, err
	}
	defer func() { _ = zipWriter.Close() }()
	defer func() { _ = zipFile.Close() }()

	results := make([]Result, len(paths))
	for i, p := range paths {
		results[i] = addFile(zipWriter, p)
	}

	if err := zipWriter.Close(); err != nil {
		log.Error().Err(err).Msg("closing zip writer failed")
		return results, fmt.Errorf("close zip writer: %w", err)
	}
	if err := zipFile.Close(); err != nil {
		log.Error().Err(err).Msg("closing zip file failed")
		return results, fmt.Errorf("close zip file: %w", err)
	}
	return results, nil
}

func prepareZip(destZipPath string) (*os.File, *zip.Writer, error) {
	if err := os.MkdirAll(filepath.Dir(destZipPath), archiveDirPerm); err != nil {
		return nil, nil, fmt.Errorf("create archive dir: %w", err)
	}
	zipFile, err := os.Create(destZipPath)
	if err != nil {
		return nil, nil, fmt.Errorf("create zip file: %w", err)
	}
	return zipFile, zip.NewWriter(zipFile), nil
}

func addFile(zw *zip.Writer, path string) Result {
	name := filepath.Base(path)
	res := Result{Filename: name}

	src, err := os.Open(path)
	if err != nil {
		log.Warn().Str("path", path).Err(err).Msg("artifact missing, skipping")
		res.Err = "artifact not readable"
		return res
	}
	defer func() { _ = src.Close() }()

	w, err := zw.Create(name)
	if err != nil {
		res.Err = "zip entry failed"
		return res
	}
	if _, err := io.Copy(w, src); err != nil {
		res.Err = "copy failed"
		return res
	}
	return res
}
