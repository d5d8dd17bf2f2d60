package queue_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/simp-lee/bookpipe"
	"github.com/simp-lee/bookpipe/queue"
	"github.com/simp-lee/bookpipe/sqlstore"
)

func openStore(t *testing.T) *sqlstore.Store {
	t.Helper()
	store, err := sqlstore.Open(filepath.Join(t.TempDir(), "books.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

type failingProcessor struct{ err error }

func (p failingProcessor) ProcessUploadedBook(context.Context, int64, string, string) (*bookpipe.ProcessedBook, error) {
	return nil, p.err
}

func TestResolveFile(t *testing.T) {
	w := queue.NewWorker(nil, nil, queue.Config{StorageDir: "books", LegacyDir: "ebooks"})

	path, name := w.ResolveFile(7, "/api/books/7/file/novel.epub")
	if want := filepath.Join("books", "7", "novel.epub"); path != want {
		t.Errorf("api path = %q, want %q", path, want)
	}
	if name != "novel.epub" {
		t.Errorf("api name = %q, want novel.epub", name)
	}

	path, name = w.ResolveFile(7, "/uploads/old.html")
	if want := filepath.Join("ebooks", "old.html"); path != want {
		t.Errorf("legacy path = %q, want %q", path, want)
	}
	if name != "old.html" {
		t.Errorf("legacy name = %q, want old.html", name)
	}

	if _, name = w.ResolveFile(7, "/api/books/7/"); name != "unknown.epub" {
		t.Errorf("empty segment name = %q, want unknown.epub", name)
	}
}

func TestRunOnceProcessesPendingBook(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)
	storageDir := t.TempDir()

	id, err := store.CreateBook(ctx, "Catalog Title", "Catalog Author", "")
	if err != nil {
		t.Fatalf("create book: %v", err)
	}
	fileURL := "/api/books/file/manuscript.html"
	if err := store.SetFileURL(ctx, id, fileURL); err != nil {
		t.Fatalf("set file url: %v", err)
	}

	w := queue.NewWorker(store, bookpipe.NewProcessor(store, bookpipe.WithStorageDir(storageDir)),
		queue.Config{StorageDir: storageDir})
	path, _ := w.ResolveFile(id, fileURL)
	writeFile(t, path, `<html><head><title>Queued</title></head><body>
<h2>One</h2><p>first chapter words</p><h2>Two</h2><p>second</p></body></html>`)

	if queued, err := w.Enqueue(ctx, id, false); err != nil || !queued {
		t.Fatalf("Enqueue = %v, %v; want true, nil", queued, err)
	}

	processed, err := w.RunOnce(ctx)
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if !processed {
		t.Fatal("RunOnce reported an empty queue")
	}

	status, perr, err := store.Status(ctx, id)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if status != sqlstore.StatusCompleted || perr != "" {
		t.Errorf("status = %q (%q), want completed", status, perr)
	}
	if n, _ := store.ChapterCount(ctx, id); n != 2 {
		t.Errorf("chapters = %d, want 2", n)
	}

	processed, err = w.RunOnce(ctx)
	if err != nil || processed {
		t.Errorf("second RunOnce = %v, %v; want false, nil", processed, err)
	}
}

func TestRunOnceMarksFailure(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)

	id, err := store.CreateBook(ctx, "Broken", "Someone", "/uploads/broken.pdf")
	if err != nil {
		t.Fatalf("create book: %v", err)
	}
	w := queue.NewWorker(store, bookpipe.NewProcessor(store, bookpipe.WithStorageDir(t.TempDir())),
		queue.Config{LegacyDir: t.TempDir()})
	if _, err := w.Enqueue(ctx, id, false); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	if _, err := w.RunOnce(ctx); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}

	status, perr, err := store.Status(ctx, id)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if status != sqlstore.StatusFailed {
		t.Errorf("status = %q, want failed", status)
	}
	if !strings.Contains(perr, "unsupported") {
		t.Errorf("parsing_error = %q, want it to mention the unsupported format", perr)
	}
}

func TestEnqueueRules(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)
	w := queue.NewWorker(store, failingProcessor{err: errors.New("boom")}, queue.Config{})

	id, err := store.CreateBook(ctx, "T", "A", "/uploads/t.epub")
	if err != nil {
		t.Fatalf("create book: %v", err)
	}
	if _, err := w.Enqueue(ctx, id, false); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if _, err := w.RunOnce(ctx); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if status, perr, _ := store.Status(ctx, id); status != sqlstore.StatusFailed || perr != "boom" {
		t.Fatalf("status = %q (%q), want failed (boom)", status, perr)
	}

	n, err := w.RetryFailed(ctx)
	if err != nil || n != 1 {
		t.Fatalf("RetryFailed = %d, %v; want 1, nil", n, err)
	}
	if status, perr, _ := store.Status(ctx, id); status != sqlstore.StatusPending || perr != "" {
		t.Errorf("after retry status = %q (%q), want pending", status, perr)
	}

	// A book being processed is never re-queued.
	if claimed, err := store.Claim(ctx, id); err != nil || !claimed {
		t.Fatalf("Claim = %v, %v", claimed, err)
	}
	if queued, err := w.Enqueue(ctx, id, true); err != nil || queued {
		t.Errorf("Enqueue while processing = %v, %v; want false, nil", queued, err)
	}
}

func TestEnqueueCompletedNeedsForce(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)
	id, err := store.CreateBook(ctx, "T", "A", "/uploads/t.html")
	if err != nil {
		t.Fatalf("create book: %v", err)
	}
	book := &bookpipe.ProcessedBook{Format: bookpipe.FormatHTML, Title: "T", Author: "A"}
	if err := store.WriteBook(ctx, id, book); err != nil {
		t.Fatalf("WriteBook: %v", err)
	}

	w := queue.NewWorker(store, failingProcessor{}, queue.Config{})
	if queued, _ := w.Enqueue(ctx, id, false); queued {
		t.Error("completed book was re-queued without force")
	}
	if queued, err := w.Enqueue(ctx, id, true); err != nil || !queued {
		t.Errorf("forced Enqueue = %v, %v; want true, nil", queued, err)
	}
}

func TestStatusCounts(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)
	w := queue.NewWorker(store, failingProcessor{}, queue.Config{})

	for i := 0; i < 3; i++ {
		id, err := store.CreateBook(ctx, "T", "A", "/uploads/t.epub")
		if err != nil {
			t.Fatalf("create book: %v", err)
		}
		if i < 2 {
			if _, err := w.Enqueue(ctx, id, false); err != nil {
				t.Fatalf("Enqueue: %v", err)
			}
		}
	}
	// Books without a file are not part of the queue.
	if _, err := store.CreateBook(ctx, "No file", "A", ""); err != nil {
		t.Fatalf("create book: %v", err)
	}

	counts, err := w.Status(ctx)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if counts[sqlstore.StatusPending] != 2 {
		t.Errorf("pending = %d, want 2", counts[sqlstore.StatusPending])
	}
	if counts[sqlstore.StatusUploaded] != 1 {
		t.Errorf("uploaded = %d, want 1", counts[sqlstore.StatusUploaded])
	}
	if _, ok := counts[sqlstore.StatusFailed]; !ok {
		t.Error("failed count missing")
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	w := queue.NewWorker(openStore(t), failingProcessor{}, queue.Config{})
	if err := w.Run(ctx); err != nil {
		t.Errorf("Run = %v, want nil", err)
	}
}
