package bookpipe

import "context"

// Store is the persistence gateway for processed books.
//
// WriteBook must be atomic: inside one transaction it updates the book's
// aggregate reading statistics and processing status, deletes every
// existing chapter row for bookID and inserts book.Chapters in
// chapter_number order. Concurrent writes for the same book must be
// serialized so the last committer leaves a complete chapter set.
//
// ReadBook reconstructs the ProcessedBook shape with chapters ordered by
// number and the table of contents derived from them. It returns nil and a
// nil error when the book is unknown.
type Store interface {
	WriteBook(ctx context.Context, bookID int64, book *ProcessedBook) error
	ReadBook(ctx context.Context, bookID int64) (*ProcessedBook, error)
}
