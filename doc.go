// Package bookpipe ingests uploaded ePub and HTML books and normalizes them
// into a uniform chapter structure for a web reader.
//
// A processing run picks the source format from the uploaded file name,
// extracts descriptive metadata and chapters, sanitizes each chapter's
// markup, computes reading statistics and hands the result to a [Store] in a
// single atomic write.
//
// # Processing a book
//
// Create a [Processor] over a Store and call [Processor.ProcessUploadedBook]:
//
//	p := bookpipe.NewProcessor(store, bookpipe.WithStorageDir("storage/books"))
//	book, err := p.ProcessUploadedBook(ctx, bookID, "/tmp/upload", "novel.epub")
//
// The sqlstore package provides the SQLite-backed Store used in production,
// and the queue package drives runs from the catalog's processing status.
//
// # Fail-open extraction
//
// Extraction never aborts a run. Unreadable metadata falls back to
// [UnknownTitle] and [UnknownAuthor]. An ePub without readable chapters
// yields a single placeholder chapter, so a processed book always has at
// least one chapter and its table of contents mirrors the chapter list.
//
// # Chapters
//
// ePub chapters follow the spine. Only application/xhtml+xml items become
// chapters, numbered by output position. A chapter is titled by its
// document <title>, then its first heading, then the book's own table of
// contents, and finally "Chapter N".
//
// HTML manuscripts are split at h1–h6 headings by [ExtractHTMLChapters].
//
// # Reading statistics
//
// Word counts strip markup and count whitespace-separated tokens. Reading
// time assumes [WordsPerMinute] and pages assume [WordsPerPage]; both round
// up.
//
// # Error Handling
//
// Fail-closed stages return a [*ProcessError] carrying the [Stage]. Use
// errors.Is with the sentinels:
//   - [ErrUnsupportedFormat] – the extension is not .epub, .html or .htm
//   - [ErrStorage] – the book directory or source file is unavailable
//   - [ErrPersistence] – the Store rejected the write
//
// A cancelled context yields a ProcessError with [StageCanceled] that wraps
// the context error. Nothing is persisted by a failed run.
package bookpipe
