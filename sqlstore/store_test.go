package sqlstore_test

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	_ "github.com/mattn/go-sqlite3"

	"github.com/simp-lee/bookpipe"
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

func createBook(t *testing.T, store *sqlstore.Store) int64 {
	t.Helper()
	id, err := store.CreateBook(context.Background(), "Catalog Title", "Catalog Author", "/api/books/file.html")
	if err != nil {
		t.Fatalf("create book: %v", err)
	}
	return id
}

func sampleBook(chapters ...string) *bookpipe.ProcessedBook {
	var list []bookpipe.Chapter
	words := 0
	for i, content := range chapters {
		w := bookpipe.CountWords(content)
		words += w
		list = append(list, bookpipe.Chapter{
			ID:                 bookpipe.ChapterID(i + 1),
			Number:             i + 1,
			Title:              fmt.Sprintf("Part %d", i+1),
			ContentHTML:        content,
			ReadingTimeMinutes: bookpipe.EstimateMinutes(w),
		})
	}
	return &bookpipe.ProcessedBook{
		Title:  "Source Title",
		Author: "Source Author",
		Format: bookpipe.FormatEPUB,
		Metadata: bookpipe.BookMetadata{
			WordCount:            words,
			EstimatedReadingTime: bookpipe.EstimateMinutes(words),
			Pages:                bookpipe.EstimatePages(words),
			Language:             "en",
		},
		Chapters:        list,
		TableOfContents: bookpipe.TableOfContents(list),
	}
}

func TestWriteReadRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)
	id := createBook(t, store)

	in := sampleBook("<p>one two three</p>", "<p>four five</p>")
	if err := store.WriteBook(ctx, id, in); err != nil {
		t.Fatalf("WriteBook: %v", err)
	}

	out, err := store.ReadBook(ctx, id)
	if err != nil {
		t.Fatalf("ReadBook: %v", err)
	}
	if out == nil {
		t.Fatal("ReadBook returned nil for a processed book")
	}
	if out.Title != "Source Title" || out.Author != "Source Author" {
		t.Errorf("got %q by %q, want Source Title by Source Author", out.Title, out.Author)
	}
	if out.Format != bookpipe.FormatEPUB {
		t.Errorf("Format = %q, want epub", out.Format)
	}
	if out.Metadata != in.Metadata {
		t.Errorf("Metadata = %+v, want %+v", out.Metadata, in.Metadata)
	}
	if len(out.Chapters) != 2 {
		t.Fatalf("chapters = %d, want 2", len(out.Chapters))
	}
	for i, ch := range out.Chapters {
		if ch != in.Chapters[i] {
			t.Errorf("chapter %d = %+v, want %+v", i, ch, in.Chapters[i])
		}
	}
	if len(out.TableOfContents) != 2 || out.TableOfContents[1].ID != "chapter-2" {
		t.Errorf("TableOfContents = %+v", out.TableOfContents)
	}

	status, _, err := store.Status(ctx, id)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if status != sqlstore.StatusCompleted {
		t.Errorf("status = %q, want completed", status)
	}
}

func TestCoverImagePath(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)
	id := createBook(t, store)

	in := sampleBook("<p>with a cover</p>")
	in.CoverImage = filepath.Join("storage", "books", "1", "images", "cover.jpg")
	if err := store.WriteBook(ctx, id, in); err != nil {
		t.Fatalf("WriteBook: %v", err)
	}
	out, err := store.ReadBook(ctx, id)
	if err != nil || out == nil {
		t.Fatalf("ReadBook: %v, %v", out, err)
	}
	if out.CoverImage != in.CoverImage {
		t.Errorf("CoverImage = %q, want %q", out.CoverImage, in.CoverImage)
	}

	// A later run without a cover clears it.
	if err := store.WriteBook(ctx, id, sampleBook("<p>no cover</p>")); err != nil {
		t.Fatalf("WriteBook: %v", err)
	}
	out, err = store.ReadBook(ctx, id)
	if err != nil || out == nil {
		t.Fatalf("ReadBook: %v, %v", out, err)
	}
	if out.CoverImage != "" {
		t.Errorf("CoverImage = %q, want empty", out.CoverImage)
	}
}

func TestOpenAddsCoverColumnToExistingDatabase(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "old.db")
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		t.Fatalf("sql.Open: %v", err)
	}
	_, err = db.Exec(`CREATE TABLE books (
  id                     INTEGER PRIMARY KEY AUTOINCREMENT,
  title                  TEXT    NOT NULL DEFAULT '',
  author_name            TEXT    NOT NULL DEFAULT '',
  ebook_file_url         TEXT,
  file_format            TEXT,
  source_title           TEXT,
  source_author          TEXT,
  language               TEXT,
  publisher              TEXT,
  isbn                   TEXT,
  word_count             INTEGER NOT NULL DEFAULT 0,
  estimated_reading_time INTEGER NOT NULL DEFAULT 0,
  pages                  INTEGER NOT NULL DEFAULT 0,
  processing_status      TEXT    NOT NULL DEFAULT 'uploaded',
  parsing_error          TEXT,
  created_at             TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
  updated_at             TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
)`)
	if err != nil {
		t.Fatalf("create legacy table: %v", err)
	}
	db.Close()

	// Opening twice checks the column is added once.
	for i := 0; i < 2; i++ {
		store, err := sqlstore.Open(dbPath)
		if err != nil {
			t.Fatalf("Open #%d: %v", i+1, err)
		}
		id := createBook(t, store)
		in := sampleBook("<p>x</p>")
		in.CoverImage = "images/cover.png"
		if err := store.WriteBook(context.Background(), id, in); err != nil {
			t.Fatalf("WriteBook #%d: %v", i+1, err)
		}
		out, err := store.ReadBook(context.Background(), id)
		if err != nil || out == nil || out.CoverImage != in.CoverImage {
			t.Errorf("ReadBook #%d = %+v, %v; want cover %q", i+1, out, err, in.CoverImage)
		}
		store.Close()
	}
}

func TestReadBookUnknownOrUnprocessed(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)

	if book, err := store.ReadBook(ctx, 404); err != nil || book != nil {
		t.Errorf("unknown book: got %v, %v; want nil, nil", book, err)
	}

	id := createBook(t, store)
	if book, err := store.ReadBook(ctx, id); err != nil || book != nil {
		t.Errorf("unprocessed book: got %v, %v; want nil, nil", book, err)
	}
}

func TestWriteBookMissingCatalogRow(t *testing.T) {
	store := openStore(t)
	err := store.WriteBook(context.Background(), 99, sampleBook("<p>x</p>"))
	if !errors.Is(err, bookpipe.ErrBookNotFound) {
		t.Fatalf("got %v, want ErrBookNotFound", err)
	}
	if n, _ := store.ChapterCount(context.Background(), 99); n != 0 {
		t.Errorf("chapters = %d, want 0", n)
	}
}

func TestWriteBookReplacesChapters(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)
	id := createBook(t, store)

	if err := store.WriteBook(ctx, id, sampleBook("<p>a</p>", "<p>b</p>", "<p>c</p>")); err != nil {
		t.Fatalf("first WriteBook: %v", err)
	}
	if err := store.WriteBook(ctx, id, sampleBook("<p>only</p>")); err != nil {
		t.Fatalf("second WriteBook: %v", err)
	}

	n, err := store.ChapterCount(ctx, id)
	if err != nil {
		t.Fatalf("ChapterCount: %v", err)
	}
	if n != 1 {
		t.Errorf("chapters = %d, want 1", n)
	}
}

func TestProcessTwiceIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)
	id := createBook(t, store)

	src := filepath.Join(t.TempDir(), "book.html")
	doc := `<html><head><title>T</title></head><body>
<h2>A</h2><p>alpha beta</p><h2>B</h2><p>gamma</p><h2>C</h2><p>delta</p></body></html>`
	if err := os.WriteFile(src, []byte(doc), 0o644); err != nil {
		t.Fatalf("write source: %v", err)
	}

	p := bookpipe.NewProcessor(store, bookpipe.WithStorageDir(t.TempDir()))
	first, err := p.ProcessUploadedBook(ctx, id, src, "book.html")
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	if _, err := p.ProcessUploadedBook(ctx, id, src, "book.html"); err != nil {
		t.Fatalf("second run: %v", err)
	}

	n, err := store.ChapterCount(ctx, id)
	if err != nil {
		t.Fatalf("ChapterCount: %v", err)
	}
	if n != len(first.Chapters) {
		t.Errorf("chapters = %d, want %d", n, len(first.Chapters))
	}

	stored, err := p.ProcessedBook(ctx, id)
	if err != nil {
		t.Fatalf("ProcessedBook: %v", err)
	}
	if stored.Metadata.WordCount != first.Metadata.WordCount {
		t.Errorf("WordCount = %d, want %d", stored.Metadata.WordCount, first.Metadata.WordCount)
	}
}

func TestConcurrentWritesLeaveOneChapterSet(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)
	id := createBook(t, store)

	books := []*bookpipe.ProcessedBook{
		sampleBook("<p>a</p>", "<p>b</p>"),
		sampleBook("<p>x</p>", "<p>y</p>", "<p>z</p>", "<p>w</p>"),
	}

	var wg sync.WaitGroup
	errs := make([]error, len(books)*4)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = store.WriteBook(ctx, id, books[i%len(books)])
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("write %d: %v", i, err)
		}
	}

	out, err := store.ReadBook(ctx, id)
	if err != nil {
		t.Fatalf("ReadBook: %v", err)
	}
	n := len(out.Chapters)
	if n != 2 && n != 4 {
		t.Fatalf("chapters = %d, want a complete set of 2 or 4", n)
	}
	for i, ch := range out.Chapters {
		if ch.Number != i+1 {
			t.Errorf("chapter %d has number %d", i, ch.Number)
		}
	}
	if out.Metadata.WordCount != n {
		t.Errorf("WordCount = %d does not match the %d-chapter set", out.Metadata.WordCount, n)
	}
}
