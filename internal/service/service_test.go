package service

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"invoiceocr/internal/dispatch"
	"invoiceocr/internal/extract"
	"invoiceocr/internal/pipeline"
	"invoiceocr/internal/task"
)

type fakeRunner struct {
	res *task.Result
	err error
}

func (r *fakeRunner) Run(context.Context, pipeline.Input) (*task.Result, error) {
	return r.res, r.err
}

type failingDispatcher struct{}

func (failingDispatcher) Submit(context.Context, *task.Task, pipeline.Input) error {
	return errors.New("queue unreachable")
}
func (failingDispatcher) Reconcile(context.Context, *task.Task) error { return nil }

type fakeExtractor struct {
	fields extract.Fields
	err    error
}

func (e *fakeExtractor) ExtractFields(context.Context, string) (extract.Fields, error) {
	return e.fields, e.err
}

func newInlineService(t *testing.T, runner dispatch.Runner, extractor extract.Extractor) (*Service, *dispatch.Inline, task.Store) {
	t.Helper()
	store := task.NewMemoryStore()
	inline := dispatch.NewInline(store, runner)
	svc := New(store, inline, extractor, t.TempDir(), t.TempDir())
	return svc, inline, store
}

func drain(t *testing.T, inline *dispatch.Inline) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if !inline.WaitAll(ctx) {
		t.Fatal("pipeline goroutines did not drain")
	}
}

func TestSubmitReturnsProcessingImmediately(t *testing.T) {
	res := &task.Result{Pages: []string{"a", "b"}, AllText: "a\nb", PagesProcessed: 2}
	svc, inline, _ := newInlineService(t, &fakeRunner{res: res}, nil)

	tk, err := svc.Submit(context.Background(), "primary", "inv.pdf", "en", false)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if tk.Status != task.StatusProcessing {
		t.Fatalf("submit must report processing, got %q", tk.Status)
	}
	if tk.ID == "" || tk.Owner != "primary" || tk.Filename != "inv.pdf" {
		t.Fatalf("unexpected task: %+v", tk)
	}

	drain(t, inline)

	got, err := svc.Status(context.Background(), "primary", tk.ID)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if got.Status != task.StatusCompleted {
		t.Fatalf("status = %q, want completed", got.Status)
	}

	_, stored, err := svc.Result(context.Background(), "primary", tk.ID)
	if err != nil {
		t.Fatalf("Result: %v", err)
	}
	if stored == nil || stored.PagesProcessed != 2 {
		t.Fatalf("unexpected result: %+v", stored)
	}
}

func TestSubmitDispatchFailureFlipsToFailed(t *testing.T) {
	store := task.NewMemoryStore()
	svc := New(store, failingDispatcher{}, nil, t.TempDir(), t.TempDir())

	tk, err := svc.Submit(context.Background(), "primary", "inv.pdf", "en", false)
	if err != nil {
		t.Fatalf("Submit itself must not fail: %v", err)
	}
	if tk.Status != task.StatusFailed || tk.Error == "" {
		t.Fatalf("expected failed task with error, got %+v", tk)
	}

	got, _ := store.Get(context.Background(), tk.ID)
	if got.Status != task.StatusFailed {
		t.Fatalf("store status = %q, want failed", got.Status)
	}
}

func TestAccessControlOrdering(t *testing.T) {
	svc, inline, _ := newInlineService(t, &fakeRunner{res: &task.Result{PagesProcessed: 1, Pages: []string{"x"}}}, nil)

	tk, err := svc.Submit(context.Background(), "primary", "inv.pdf", "en", false)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	drain(t, inline)

	// Missing task is not-found even for a stranger.
	if _, err := svc.Status(context.Background(), "stranger", "no-such-id"); !errors.Is(err, task.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	// Existing task owned by someone else is denied, not hidden.
	if _, err := svc.Status(context.Background(), "stranger", tk.ID); !errors.Is(err, task.ErrAccessDenied) {
		t.Fatalf("expected ErrAccessDenied, got %v", err)
	}
	if err := svc.Delete(context.Background(), "stranger", tk.ID); !errors.Is(err, task.ErrAccessDenied) {
		t.Fatalf("delete by non-owner: expected ErrAccessDenied, got %v", err)
	}
	if _, _, err := svc.Result(context.Background(), "stranger", tk.ID); !errors.Is(err, task.ErrAccessDenied) {
		t.Fatalf("result by non-owner: expected ErrAccessDenied, got %v", err)
	}
}

func TestResultWhileProcessing(t *testing.T) {
	store := task.NewMemoryStore()
	// A dispatcher that never finishes: Submit succeeds, nothing runs.
	svc := New(store, noopDispatcher{}, nil, t.TempDir(), t.TempDir())

	tk, err := svc.Submit(context.Background(), "primary", "inv.pdf", "en", false)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	got, res, err := svc.Result(context.Background(), "primary", tk.ID)
	if err != nil {
		t.Fatalf("Result: %v", err)
	}
	if got.Status != task.StatusProcessing || res != nil {
		t.Fatalf("processing task must have nil result, got %+v %+v", got, res)
	}
}

type noopDispatcher struct{}

func (noopDispatcher) Submit(context.Context, *task.Task, pipeline.Input) error { return nil }
func (noopDispatcher) Reconcile(context.Context, *task.Task) error              { return nil }

func TestExtract(t *testing.T) {
	extractor := &fakeExtractor{fields: extract.Fields{InvoiceNumber: "INV-1"}}
	res := &task.Result{Pages: []string{"p1", "p2"}, AllText: "p1\np2", PagesProcessed: 2}
	svc, inline, _ := newInlineService(t, &fakeRunner{res: res}, extractor)

	tk, err := svc.Submit(context.Background(), "primary", "inv.pdf", "en", false)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	drain(t, inline)

	all, total, err := svc.Extract(context.Background(), "primary", tk.ID, 0)
	if err != nil {
		t.Fatalf("Extract all: %v", err)
	}
	if total != 2 || len(all) != 2 || all[0].InvoiceNumber != "INV-1" {
		t.Fatalf("unexpected batch extraction: total=%d %+v", total, all)
	}

	one, total, err := svc.Extract(context.Background(), "primary", tk.ID, 2)
	if err != nil {
		t.Fatalf("Extract page: %v", err)
	}
	if total != 2 || len(one) != 1 || one[0].Page != 2 {
		t.Fatalf("unexpected single-page extraction: %+v", one)
	}

	if _, _, err := svc.Extract(context.Background(), "primary", tk.ID, 5); !errors.Is(err, extract.ErrPageOutOfRange) {
		t.Fatalf("expected ErrPageOutOfRange, got %v", err)
	}

	// Extraction never mutates status.
	got, _ := svc.Status(context.Background(), "primary", tk.ID)
	if got.Status != task.StatusCompleted {
		t.Fatalf("extraction mutated status to %q", got.Status)
	}
}

func TestExtractGating(t *testing.T) {
	store := task.NewMemoryStore()
	svc := New(store, noopDispatcher{}, &fakeExtractor{}, t.TempDir(), t.TempDir())

	tk, err := svc.Submit(context.Background(), "primary", "inv.pdf", "en", false)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if _, _, err := svc.Extract(context.Background(), "primary", tk.ID, 0); !errors.Is(err, task.ErrNotCompleted) {
		t.Fatalf("expected ErrNotCompleted while processing, got %v", err)
	}

	noBackend := New(store, noopDispatcher{}, nil, t.TempDir(), t.TempDir())
	if _, _, err := noBackend.Extract(context.Background(), "primary", tk.ID, 0); !errors.Is(err, extract.ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}

func TestDeleteRemovesDerivedFiles(t *testing.T) {
	store := task.NewMemoryStore()
	uploadDir := t.TempDir()
	outputDir := t.TempDir()
	svc := New(store, noopDispatcher{}, nil, uploadDir, outputDir)

	tk, err := svc.Submit(context.Background(), "primary", "inv_123_abcd.pdf", "en", false)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	paths := []string{
		filepath.Join(uploadDir, "inv_123_abcd.pdf"),
		filepath.Join(outputDir, "inv_123_abcd.txt"),
		filepath.Join(outputDir, "inv_123_abcd_pages.json"),
		filepath.Join(outputDir, "inv_123_abcd_page_1.png"),
	}
	for _, p := range paths {
		if err := os.WriteFile(p, []byte("x"), 0o644); err != nil {
			t.Fatalf("seed %s: %v", p, err)
		}
	}

	if err := svc.Delete(context.Background(), "primary", tk.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	for _, p := range paths {
		if _, err := os.Stat(p); !errors.Is(err, os.ErrNotExist) {
			t.Fatalf("%s should be gone, stat err = %v", p, err)
		}
	}
	if _, err := svc.Status(context.Background(), "primary", tk.ID); !errors.Is(err, task.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestListIsolation(t *testing.T) {
	store := task.NewMemoryStore()
	svc := New(store, noopDispatcher{}, nil, t.TempDir(), t.TempDir())

	if _, err := svc.Submit(context.Background(), "alice", "a.pdf", "en", false); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if _, err := svc.Submit(context.Background(), "bob", "b.pdf", "en", false); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	mine, err := svc.List(context.Background(), "alice", "")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(mine) != 1 || mine[0].Filename != "a.pdf" {
		t.Fatalf("list leaked other owners' tasks: %+v", mine)
	}
}

func TestArtifactBundle(t *testing.T) {
	res := &task.Result{Pages: []string{"x"}, AllText: "x", PagesProcessed: 1}
	store := task.NewMemoryStore()
	inline := dispatch.NewInline(store, &fakeRunner{res: res})
	uploadDir := t.TempDir()
	outputDir := t.TempDir()
	svc := New(store, inline, nil, uploadDir, outputDir)

	tk, err := svc.Submit(context.Background(), "primary", "inv_1.pdf", "en", false)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	drain(t, inline)

	for _, name := range []string{"inv_1.txt", "inv_1_pages.json", "inv_1_page_1.png"} {
		if err := os.WriteFile(filepath.Join(outputDir, name), []byte("x"), 0o644); err != nil {
			t.Fatalf("seed %s: %v", name, err)
		}
	}

	zipPath, err := svc.ArtifactBundle(context.Background(), "primary", tk.ID)
	if err != nil {
		t.Fatalf("ArtifactBundle: %v", err)
	}
	if filepath.Base(zipPath) != "inv_1_artifacts.zip" {
		t.Fatalf("zip path = %s", zipPath)
	}
	if _, err := os.Stat(zipPath); err != nil {
		t.Fatalf("zip missing: %v", err)
	}
}

func TestArtifactBundleRequiresCompletion(t *testing.T) {
	store := task.NewMemoryStore()
	svc := New(store, noopDispatcher{}, nil, t.TempDir(), t.TempDir())

	tk, err := svc.Submit(context.Background(), "primary", "inv.pdf", "en", false)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if _, err := svc.ArtifactBundle(context.Background(), "primary", tk.ID); !errors.Is(err, task.ErrNotCompleted) {
		t.Fatalf("expected ErrNotCompleted, got %v", err)
	}
}

func TestArtifactPath(t *testing.T) {
	store := task.NewMemoryStore()
	uploadDir := t.TempDir()
	outputDir := t.TempDir()
	svc := New(store, noopDispatcher{}, nil, uploadDir, outputDir)

	tk, err := svc.Submit(context.Background(), "primary", "inv_1.pdf", "en", false)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	artifact := filepath.Join(outputDir, "inv_1.txt")
	if err := os.WriteFile(artifact, []byte("text"), 0o644); err != nil {
		t.Fatalf("seed artifact: %v", err)
	}
	// A file outside the task's basename must be unreachable.
	other := filepath.Join(outputDir, "other.txt")
	if err := os.WriteFile(other, []byte("secret"), 0o644); err != nil {
		t.Fatalf("seed other: %v", err)
	}

	got, err := svc.ArtifactPath(context.Background(), "primary", tk.ID, "inv_1.txt")
	if err != nil {
		t.Fatalf("ArtifactPath: %v", err)
	}
	if got != artifact {
		t.Fatalf("path = %s, want %s", got, artifact)
	}

	if _, err := svc.ArtifactPath(context.Background(), "primary", tk.ID, "other.txt"); !errors.Is(err, task.ErrNotFound) {
		t.Fatalf("foreign artifact: expected ErrNotFound, got %v", err)
	}
	if _, err := svc.ArtifactPath(context.Background(), "primary", tk.ID, "../inv_1.txt"); err != nil {
		// traversal collapses to the basename, which exists
		t.Fatalf("traversal must degrade to basename lookup: %v", err)
	}
	if _, err := svc.ArtifactPath(context.Background(), "primary", tk.ID, "inv_1_missing.txt"); !errors.Is(err, task.ErrNotFound) {
		t.Fatalf("missing artifact: expected ErrNotFound, got %v", err)
	}
}
