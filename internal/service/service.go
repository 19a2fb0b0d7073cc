// Package service orchestrates the task lifecycle: it creates tasks,
// hands them to the dispatcher, gates every read and mutation on
// ownership, and pulls delegated job outcomes into the store from the
// read path.
package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"invoiceocr/internal/archive"
	"invoiceocr/internal/dispatch"
	"invoiceocr/internal/extract"
	"invoiceocr/internal/file"
	"invoiceocr/internal/pipeline"
	"invoiceocr/internal/task"
)

type Service struct {
	store     task.Store
	disp      dispatch.Dispatcher
	extractor extract.Extractor // nil when the backend is not configured
	uploadDir string
	outputDir string
}

func New(store task.Store, disp dispatch.Dispatcher, extractor extract.Extractor, uploadDir, outputDir string) *Service {
	return &Service{
		store:     store,
		disp:      disp,
		extractor: extractor,
		uploadDir: uploadDir,
		outputDir: outputDir,
	}
}

// Submit creates the task already marked processing and dispatches its
// pipeline. Scheduling failures do not fail the submission; the task is
// flipped to failed and the error reaches the client through status polls.
func (s *Service) Submit(ctx context.Context, owner, storedName, language string, useGPU bool) (*task.Task, error) {
	t := &task.Task{
		ID:        uuid.NewString(),
		Owner:     owner,
		Status:    task.StatusProcessing,
		Filename:  storedName,
		Language:  language,
		UseGPU:    useGPU,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.Create(ctx, t); err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}

	in := pipeline.Input{
		UploadPath: filepath.Join(s.uploadDir, storedName),
		OutputDir:  s.outputDir,
		Language:   language,
		UseGPU:     useGPU,
	}
	if err := s.disp.Submit(ctx, t, in); err != nil {
		msg := "failed to start processing: " + err.Error()
		log.Warn().Str("task_id", t.ID).Err(err).Msg("dispatch failed")
		if uerr := s.store.UpdateStatus(ctx, t.ID, task.StatusFailed, msg); uerr != nil {
			log.Error().Str("task_id", t.ID).Err(uerr).Msg("persist dispatch failure failed")
		}
		t.Status = task.StatusFailed
		t.Error = msg
	}
	log.Info().Str("task_id", t.ID).Str("owner", owner).Str("filename", storedName).Msg("task submitted")
	return t, nil
}

// authorized loads the task and enforces ownership. Existence is checked
// first: a missing task is ErrNotFound even for a non-owner, only an
// existing task owned by someone else is ErrAccessDenied.
func (s *Service) authorized(ctx context.Context, owner, id string) (*task.Task, error) {
	t, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if t.Owner != owner {
		return nil, task.ErrAccessDenied
	}
	return t, nil
}

// Status returns the task, reconciling a still-processing delegated task
// against its external job first. A reconcile failure leaves the task as
// stored rather than failing the read.
func (s *Service) Status(ctx context.Context, owner, id string) (*task.Task, error) {
	t, err := s.authorized(ctx, owner, id)
	if err != nil {
		return nil, err
	}
	if t.Status == task.StatusProcessing {
		if rerr := s.disp.Reconcile(ctx, t); rerr != nil {
			log.Warn().Str("task_id", t.ID).Err(rerr).Msg("reconcile failed")
		}
	}
	return t, nil
}

// Result returns the task together with its result when completed. While
// processing or failed the result is nil; callers branch on the status.
func (s *Service) Result(ctx context.Context, owner, id string) (*task.Task, *task.Result, error) {
	t, err := s.Status(ctx, owner, id)
	if err != nil {
		return nil, nil, err
	}
	if t.Status != task.StatusCompleted {
		return t, nil, nil
	}
	res, err := s.store.Result(ctx, t.ID)
	if err != nil {
		return nil, nil, err
	}
	return t, res, nil
}

// Extract runs field extraction over a completed task's stored text.
// pageNumber 0 means all pages; a positive value selects one page and is
// range-checked. Extraction never mutates task status.
func (s *Service) Extract(ctx context.Context, owner, id string, pageNumber int) ([]extract.PageFields, int, error) {
	if s.extractor == nil {
		return nil, 0, extract.ErrNotConfigured
	}
	t, err := s.Status(ctx, owner, id)
	if err != nil {
		return nil, 0, err
	}
	if t.Status != task.StatusCompleted {
		return nil, 0, task.ErrNotCompleted
	}
	res, err := s.store.Result(ctx, t.ID)
	if err != nil {
		return nil, 0, err
	}
	if pageNumber > 0 {
		pf, err := extract.ExtractPage(ctx, s.extractor, res.Pages, pageNumber)
		if err != nil {
			return nil, len(res.Pages), err
		}
		return []extract.PageFields{pf}, len(res.Pages), nil
	}
	return extract.ExtractPages(ctx, s.extractor, res.Pages), len(res.Pages), nil
}

// Delete removes the task record, its result, and every file derived from
// the upload.
func (s *Service) Delete(ctx context.Context, owner, id string) error {
	t, err := s.authorized(ctx, owner, id)
	if err != nil {
		return err
	}
	if err := s.store.Delete(ctx, id); err != nil {
		return err
	}
	if err := file.RemoveDerived(s.uploadDir, s.outputDir, t.Filename); err != nil {
		// metadata is already gone; report but do not resurrect the task
		log.Warn().Str("task_id", id).Err(err).Msg("removing derived files failed")
	}
	log.Info().Str("task_id", id).Str("owner", owner).Msg("task deleted")
	return nil
}

// List returns the owner's tasks, newest first.
func (s *Service) List(ctx context.Context, owner string, statusFilter task.Status) ([]*task.Task, error) {
	return s.store.List(ctx, owner, statusFilter)
}

// ArtifactBundle zips every derived artifact of a completed task and
// returns the zip's path. The bundle is rebuilt on each call so it always
// reflects what is on disk.
func (s *Service) ArtifactBundle(ctx context.Context, owner, id string) (string, error) {
	t, err := s.Status(ctx, owner, id)
	if err != nil {
		return "", err
	}
	if t.Status != task.StatusCompleted {
		return "", task.ErrNotCompleted
	}

	base := file.Base(t.Filename)
	var paths []string
	for _, p := range []string{
		file.TextPath(s.outputDir, t.Filename),
		file.PagesPath(s.outputDir, t.Filename),
		filepath.Join(s.outputDir, base+".png"),
	} {
		if _, err := os.Stat(p); err == nil {
			paths = append(paths, p)
		}
	}
	pagePNGs, err := filepath.Glob(filepath.Join(s.outputDir, base+"_page_*.png"))
	if err == nil {
		paths = append(paths, pagePNGs...)
	}
	if len(paths) == 0 {
		return "", task.ErrNotFound
	}

	zipPath := filepath.Join(s.outputDir, base+"_artifacts.zip")
	if _, err := archive.Build(zipPath, paths); err != nil {
		return "", fmt.Errorf("bundle artifacts: %w", err)
	}
	return zipPath, nil
}

// ArtifactPath resolves a derived artifact for download. Only the basename
// is honored and it must belong to the task's upload.
func (s *Service) ArtifactPath(ctx context.Context, owner, id, filename string) (string, error) {
	t, err := s.authorized(ctx, owner, id)
	if err != nil {
		return "", err
	}
	name := filepath.Base(filename)
	if name == "." || name == string(filepath.Separator) {
		return "", task.ErrNotFound
	}
	if !strings.HasPrefix(file.Base(name), file.Base(t.Filename)) {
		return "", task.ErrNotFound
	}
	path := filepath.Join(s.outputDir, name)
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", task.ErrNotFound
		}
		return "", fmt.Errorf("stat artifact: %w", err)
	}
	return path, nil
}
