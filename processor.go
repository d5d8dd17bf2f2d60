package bookpipe

import (
	"archive/zip"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DefaultStorageDir is the base directory for per-book output directories.
var DefaultStorageDir = filepath.Join("storage", "books")

// Processor turns uploaded book files into ProcessedBooks and persists them.
// A Processor holds only configuration and is safe for concurrent use; each
// call to ProcessUploadedBook is independent.
type Processor struct {
	store      Store
	storageDir string
	workers    int
	log        *zap.Logger
}

// Option configures a Processor.
type Option func(*Processor)

// WithStorageDir sets the base directory under which each book gets its own
// output directory.
func WithStorageDir(dir string) Option {
	return func(p *Processor) {
		if dir != "" {
			p.storageDir = dir
		}
	}
}

// WithWorkers sets how many ePub spine items are loaded concurrently.
func WithWorkers(n int) Option {
	return func(p *Processor) {
		if n > 0 {
			p.workers = n
		}
	}
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(log *zap.Logger) Option {
	return func(p *Processor) {
		if log != nil {
			p.log = log
		}
	}
}

// NewProcessor returns a Processor that persists results to store.
func NewProcessor(store Store, opts ...Option) *Processor {
	p := &Processor{
		store:      store,
		storageDir: DefaultStorageDir,
		workers:    DefaultWorkers,
		log:        zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// BookDir returns the output directory of a book.
func (p *Processor) BookDir(bookID int64) string {
	return filepath.Join(p.storageDir, strconv.FormatInt(bookID, 10))
}

// FormatFromName determines the source format from a file name's extension,
// case-insensitively.
func FormatFromName(name string) (Format, error) {
	switch ext := strings.ToLower(filepath.Ext(name)); ext {
	case ".epub":
		return FormatEPUB, nil
	case ".html", ".htm":
		return FormatHTML, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}
}

// ProcessUploadedBook extracts, normalizes and persists the book stored at
// filePath. originalFileName is only used to pick the format.
//
// Extraction fails open: unreadable metadata or chapters are replaced by
// defaults and the run continues. An unsupported extension, a storage
// failure and a persistence failure abort the run with a *ProcessError and
// leave the previously persisted state untouched. If ctx is cancelled before
// the write starts nothing is persisted; once the write has started it runs
// to commit or rollback regardless of ctx.
func (p *Processor) ProcessUploadedBook(ctx context.Context, bookID int64, filePath, originalFileName string) (*ProcessedBook, error) {
	start := time.Now()
	log := p.log.With(
		zap.Int64("book_id", bookID),
		zap.String("run_id", uuid.NewString()),
		zap.String("file", originalFileName),
	)
	log.Info("Processing book")

	format, err := FormatFromName(originalFileName)
	if err != nil {
		return nil, p.abort(log, stageError(StageUnsupportedFormat, bookID, err))
	}
	log = log.With(zap.String("format", string(format)))

	dir := p.BookDir(bookID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, p.abort(log, stageError(StageStorage, bookID, fmt.Errorf("create %s: %w", dir, err)))
	}

	var book *ProcessedBook
	switch format {
	case FormatEPUB:
		book, err = p.processEPUB(ctx, log, bookID, filePath, dir)
	case FormatHTML:
		book, err = p.processHTML(bookID, filePath)
	}
	if err != nil {
		return nil, p.abort(log, stageError(StageStorage, bookID, err))
	}

	if err := ctx.Err(); err != nil {
		return nil, p.abort(log, stageError(StageCanceled, bookID, err))
	}

	if err := p.store.WriteBook(context.WithoutCancel(ctx), bookID, book); err != nil {
		return nil, p.abort(log, stageError(StagePersistence, bookID, err))
	}

	log.Info("Processing book - done",
		zap.Int("chapters", len(book.Chapters)),
		zap.Int("assets", len(book.Assets)),
		zap.Int("words", book.Metadata.WordCount),
		zap.Duration("elapsed", time.Since(start)),
	)
	return book, nil
}

// ProcessedBook reads a previously processed book back from the store. It
// returns nil and a nil error when the book is unknown.
func (p *Processor) ProcessedBook(ctx context.Context, bookID int64) (*ProcessedBook, error) {
	book, err := p.store.ReadBook(ctx, bookID)
	if err != nil {
		return nil, p.abort(p.log.With(zap.Int64("book_id", bookID)), stageError(StagePersistence, bookID, err))
	}
	return book, nil
}

func (p *Processor) abort(log *zap.Logger, err *ProcessError) error {
	log.Error("Unable to process book", zap.String("stage", string(err.Stage)), zap.Error(err.Err))
	return err
}

func (p *Processor) processEPUB(ctx context.Context, log *zap.Logger, bookID int64, filePath, dir string) (*ProcessedBook, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("open source: %w", err)
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat source: %w", err)
	}

	zr, err := zip.NewReader(f, st.Size())
	if err != nil {
		log.Warn("Source is not a readable ePub archive, substituting defaults", zap.Error(err))
		return assembleBook(bookID, FormatEPUB, defaultBookInfo(), placeholderChapters(noContentHTML)), nil
	}
	for _, w := range mimetypeWarnings(zr) {
		log.Warn("Unexpected ePub packaging", zap.String("detail", w))
	}
	a := newArchive(zr)

	// Metadata, assets and chapters are read-only over the same archive and
	// share no parsed state, so they run side by side.
	var (
		info    BookInfo
		metaErr error
		assets  []Asset
		cover   string
		wg      sync.WaitGroup
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		info, metaErr = readEPUBMetadata(a)
	}()
	go func() {
		defer wg.Done()
		assets, cover = extractEPUBAssets(ctx, a, dir, log)
	}()
	chapters := extractEPUBChapters(ctx, a, log, p.workers)
	wg.Wait()

	if metaErr != nil {
		log.Warn("Unable to extract ePub metadata, using defaults", zap.Error(metaErr))
		info = defaultBookInfo()
	}
	book := assembleBook(bookID, FormatEPUB, info, chapters)
	book.Assets = assets
	book.CoverImage = cover
	return book, nil
}

func (p *Processor) processHTML(bookID int64, filePath string) (*ProcessedBook, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("read source: %w", err)
	}
	document := decodeMarkup(data, "text/html")
	info := ExtractHTMLMetadata(document)
	return assembleBook(bookID, FormatHTML, info, ExtractHTMLChapters(document)), nil
}

// assembleBook aggregates chapter statistics into a ProcessedBook. Reading
// time and pages derive from the total word count rather than from summed
// chapter estimates, which would compound rounding.
func assembleBook(bookID int64, format Format, info BookInfo, chapters []Chapter) *ProcessedBook {
	words := 0
	for _, ch := range chapters {
		words += CountWords(ch.ContentHTML)
	}

	return &ProcessedBook{
		ID:     strconv.FormatInt(bookID, 10),
		Title:  info.Title,
		Author: info.Author,
		Format: format,
		Metadata: BookMetadata{
			WordCount:            words,
			EstimatedReadingTime: EstimateMinutes(words),
			Pages:                EstimatePages(words),
			Language:             info.Language,
			Publisher:            info.Publisher,
			ISBN:                 info.ISBN,
		},
		Chapters:        chapters,
		TableOfContents: TableOfContents(chapters),
	}
}
