package sqlstore

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"

	"github.com/simp-lee/bookpipe"
)

// QueuedBook is a catalog row waiting for processing.
type QueuedBook struct {
	ID      int64
	Title   string
	FileURL string
}

// CreateBook inserts a catalog row and returns its id.
func (s *Store) CreateBook(ctx context.Context, title, author, fileURL string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO books (title, author_name, ebook_file_url) VALUES (?, ?, ?)`,
		title, author, nullString(fileURL),
	)
	if err != nil {
		return 0, errors.Wrap(err, "unable to create book")
	}
	id, err := res.LastInsertId()
	return id, errors.Wrap(err, "unable to create book")
}

// SetFileURL records where the uploaded file of a book lives.
func (s *Store) SetFileURL(ctx context.Context, bookID int64, fileURL string) error {
	return s.updateOne(ctx, bookID,
		`UPDATE books SET ebook_file_url = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		nullString(fileURL), bookID)
}

// Status returns the processing status and last parsing error of a book.
func (s *Store) Status(ctx context.Context, bookID int64) (status, parsingError string, err error) {
	var perr sql.NullString
	err = s.db.QueryRowContext(ctx,
		`SELECT processing_status, parsing_error FROM books WHERE id = ?`, bookID,
	).Scan(&status, &perr)
	if err == sql.ErrNoRows {
		return "", "", errors.Wrapf(bookpipe.ErrBookNotFound, "book %d", bookID)
	}
	if err != nil {
		return "", "", errors.Wrap(err, "unable to read status")
	}
	return status, perr.String, nil
}

// Enqueue marks a book pending. Books already processing are left alone, as
// are completed books unless force is set. It reports whether the book was
// queued.
func (s *Store) Enqueue(ctx context.Context, bookID int64, force bool) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
UPDATE books SET processing_status = ?, parsing_error = NULL, updated_at = CURRENT_TIMESTAMP
WHERE id = ? AND processing_status != ? AND (? OR processing_status != ?)`,
		StatusPending, bookID, StatusProcessing, force, StatusCompleted,
	)
	if err != nil {
		return false, errors.Wrap(err, "unable to queue book")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "unable to queue book")
	}
	return n == 1, nil
}

// NextPending returns the oldest pending book that has a file, or nil when
// the queue is empty.
func (s *Store) NextPending(ctx context.Context) (*QueuedBook, error) {
	var qb QueuedBook
	err := s.db.QueryRowContext(ctx, `
SELECT id, title, ebook_file_url FROM books
WHERE processing_status = ? AND ebook_file_url IS NOT NULL AND ebook_file_url != ''
ORDER BY created_at, id
LIMIT 1`, StatusPending).Scan(&qb.ID, &qb.Title, &qb.FileURL)
	switch {
	case err == sql.ErrNoRows:
		return nil, nil
	case err != nil:
		return nil, errors.Wrap(err, "unable to read queue")
	}
	return &qb, nil
}

// Claim moves a pending book to processing. It reports false if another
// worker claimed it first.
func (s *Store) Claim(ctx context.Context, bookID int64) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
UPDATE books SET processing_status = ?, updated_at = CURRENT_TIMESTAMP
WHERE id = ? AND processing_status = ?`, StatusProcessing, bookID, StatusPending)
	if err != nil {
		return false, errors.Wrap(err, "unable to claim book")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "unable to claim book")
	}
	return n == 1, nil
}

// MarkFailed records a failed processing run.
func (s *Store) MarkFailed(ctx context.Context, bookID int64, reason string) error {
	return s.updateOne(ctx, bookID, `
UPDATE books SET processing_status = ?, parsing_error = ?, updated_at = CURRENT_TIMESTAMP
WHERE id = ?`, StatusFailed, reason, bookID)
}

// RetryFailed moves every failed book that has a file back to pending and
// returns how many were queued.
func (s *Store) RetryFailed(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
UPDATE books SET processing_status = ?, parsing_error = NULL, updated_at = CURRENT_TIMESTAMP
WHERE processing_status = ? AND ebook_file_url IS NOT NULL`, StatusPending, StatusFailed)
	if err != nil {
		return 0, errors.Wrap(err, "unable to retry failed books")
	}
	n, err := res.RowsAffected()
	return n, errors.Wrap(err, "unable to retry failed books")
}

// StatusCounts returns the number of books with a file per processing
// status.
func (s *Store) StatusCounts(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT processing_status, COUNT(*) FROM books
WHERE ebook_file_url IS NOT NULL
GROUP BY processing_status`)
	if err != nil {
		return nil, errors.Wrap(err, "unable to count statuses")
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, errors.Wrap(err, "unable to count statuses")
		}
		counts[status] = n
	}
	return counts, errors.Wrap(rows.Err(), "unable to count statuses")
}

func (s *Store) updateOne(ctx context.Context, bookID int64, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return errors.Wrap(err, "unable to update book")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "unable to update book")
	}
	if n == 0 {
		return errors.Wrapf(bookpipe.ErrBookNotFound, "book %d", bookID)
	}
	return nil
}
