// Package queue drives background processing of catalog books.
//
// A book enters the queue when its status becomes pending. The Worker picks
// the oldest pending book that has a file, claims it, resolves the file on
// disk and hands it to the processor. A successful run leaves the book
// completed (the store does that as part of the write); a failed run marks
// it failed with the error text.
package queue

import (
	"context"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/simp-lee/bookpipe"
	"github.com/simp-lee/bookpipe/sqlstore"
)

// DefaultInterval is how often an idle Worker polls for pending books.
const DefaultInterval = 5 * time.Second

// fallbackFileName is used when a file URL has no usable last segment.
const fallbackFileName = "unknown.epub"

// Catalog is the part of the book catalog the queue works against.
// *sqlstore.Store implements it.
type Catalog interface {
	Enqueue(ctx context.Context, bookID int64, force bool) (bool, error)
	NextPending(ctx context.Context) (*sqlstore.QueuedBook, error)
	Claim(ctx context.Context, bookID int64) (bool, error)
	MarkFailed(ctx context.Context, bookID int64, reason string) error
	RetryFailed(ctx context.Context) (int64, error)
	StatusCounts(ctx context.Context) (map[string]int, error)
}

// Processor processes one uploaded book. *bookpipe.Processor implements it.
type Processor interface {
	ProcessUploadedBook(ctx context.Context, bookID int64, filePath, originalFileName string) (*bookpipe.ProcessedBook, error)
}

// Worker processes pending books one at a time.
type Worker struct {
	catalog    Catalog
	processor  Processor
	storageDir string
	legacyDir  string
	interval   time.Duration
	log        *zap.Logger
}

// Config configures a Worker.
type Config struct {
	// StorageDir holds per-book directories: <StorageDir>/<id>/<file>.
	StorageDir string
	// LegacyDir holds files uploaded before per-book directories existed.
	LegacyDir string
	Interval  time.Duration
	Logger    *zap.Logger
}

// NewWorker returns a Worker. Zero Config fields take defaults.
func NewWorker(catalog Catalog, processor Processor, cfg Config) *Worker {
	w := &Worker{
		catalog:    catalog,
		processor:  processor,
		storageDir: cfg.StorageDir,
		legacyDir:  cfg.LegacyDir,
		interval:   cfg.Interval,
		log:        cfg.Logger,
	}
	if w.storageDir == "" {
		w.storageDir = bookpipe.DefaultStorageDir
	}
	if w.legacyDir == "" {
		w.legacyDir = filepath.Join("storage", "ebooks")
	}
	if w.interval <= 0 {
		w.interval = DefaultInterval
	}
	if w.log == nil {
		w.log = zap.NewNop()
	}
	return w
}

// Enqueue marks a book pending. Books being processed are never re-queued;
// completed books only when force is set.
func (w *Worker) Enqueue(ctx context.Context, bookID int64, force bool) (bool, error) {
	queued, err := w.catalog.Enqueue(ctx, bookID, force)
	if err != nil {
		return false, errors.Wrapf(err, "unable to queue book %d", bookID)
	}
	if queued {
		w.log.Info("Queued book for processing", zap.Int64("book_id", bookID))
	}
	return queued, nil
}

// RetryFailed re-queues every failed book.
func (w *Worker) RetryFailed(ctx context.Context) (int64, error) {
	n, err := w.catalog.RetryFailed(ctx)
	if err != nil {
		return 0, err
	}
	w.log.Info("Queued failed books for retry", zap.Int64("books", n))
	return n, nil
}

// Status returns the number of books per status. The four queue statuses
// are always present.
func (w *Worker) Status(ctx context.Context) (map[string]int, error) {
	counts, err := w.catalog.StatusCounts(ctx)
	if err != nil {
		return nil, err
	}
	for _, s := range []string{sqlstore.StatusPending, sqlstore.StatusProcessing, sqlstore.StatusCompleted, sqlstore.StatusFailed} {
		if _, ok := counts[s]; !ok {
			counts[s] = 0
		}
	}
	return counts, nil
}

// Run processes pending books until ctx is done. When the queue is empty it
// sleeps for the poll interval.
func (w *Worker) Run(ctx context.Context) error {
	w.log.Info("Starting book processing queue", zap.Duration("interval", w.interval))
	defer w.log.Info("Book processing queue stopped")

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		for {
			processed, err := w.RunOnce(ctx)
			if err != nil {
				w.log.Error("Error in book processing queue", zap.Error(err))
				break
			}
			if !processed || ctx.Err() != nil {
				break
			}
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// RunOnce processes the oldest pending book, if any. It reports whether a
// book was taken off the queue. A book that fails to process is marked
// failed and is not an error of RunOnce; errors are reserved for the
// catalog itself.
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, nil
	}

	qb, err := w.catalog.NextPending(ctx)
	if err != nil {
		return false, err
	}
	if qb == nil {
		return false, nil
	}

	claimed, err := w.catalog.Claim(ctx, qb.ID)
	if err != nil {
		return false, err
	}
	if !claimed {
		// Someone else got it first.
		return true, nil
	}

	log := w.log.With(zap.Int64("book_id", qb.ID), zap.String("title", qb.Title))
	filePath, name := w.ResolveFile(qb.ID, qb.FileURL)
	log.Info("Processing queued book", zap.String("path", filePath))

	if _, err := w.processor.ProcessUploadedBook(ctx, qb.ID, filePath, name); err != nil {
		log.Error("Failed to process queued book", zap.Error(err))
		if merr := w.catalog.MarkFailed(context.WithoutCancel(ctx), qb.ID, err.Error()); merr != nil {
			return true, errors.Wrapf(merr, "unable to mark book %d failed", qb.ID)
		}
		return true, nil
	}

	log.Info("Processed queued book")
	return true, nil
}

// ResolveFile maps a book's file URL to a path on disk and the original
// file name. URLs served by the API ("/api/...") live in the book's own
// storage directory; anything else is a legacy upload.
func (w *Worker) ResolveFile(bookID int64, fileURL string) (filePath, fileName string) {
	fileName = fileURL[strings.LastIndex(fileURL, "/")+1:]
	if fileName == "" {
		fileName = fallbackFileName
	}
	if strings.HasPrefix(fileURL, "/api/") {
		return filepath.Join(w.storageDir, strconv.FormatInt(bookID, 10), fileName), fileName
	}
	return filepath.Join(w.legacyDir, fileName), fileName
}
