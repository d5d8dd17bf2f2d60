// Package sqlstore persists processed books in SQLite.
//
// It owns two tables: books, the catalog row the pipeline annotates with
// reading statistics and a processing status, and book_chapters, the
// chapter rows replaced wholesale on every processing run. The catalog row
// itself is normally created elsewhere; CreateBook exists for tooling and
// tests.
package sqlstore

import (
	"context"
	"database/sql"
	"net/url"
	"os"
	"path/filepath"
	"strconv"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"

	"github.com/simp-lee/bookpipe"
)

// Processing status values of a book row.
const (
	StatusUploaded   = "uploaded"
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

const schema = `
CREATE TABLE IF NOT EXISTS books (
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
  cover_image_path       TEXT,
  processing_status      TEXT    NOT NULL DEFAULT 'uploaded',
  parsing_error          TEXT,
  created_at             TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
  updated_at             TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS book_chapters (
  book_id              INTEGER NOT NULL REFERENCES books(id) ON DELETE CASCADE,
  chapter_number       INTEGER NOT NULL,
  chapter_title        TEXT    NOT NULL,
  content_html         TEXT    NOT NULL,
  word_count           INTEGER NOT NULL,
  reading_time_minutes INTEGER NOT NULL,
  PRIMARY KEY (book_id, chapter_number)
);

CREATE INDEX IF NOT EXISTS books_processing_status ON books (processing_status, created_at);
`

// Store is a SQLite-backed bookpipe.Store.
type Store struct {
	db *sql.DB
}

var _ bookpipe.Store = (*Store)(nil)

// Open opens (creating if needed) the database at dbPath.
//
// Transactions begin IMMEDIATE, so a write transaction holds the database
// write lock from its first statement. Two runs writing the same book
// therefore never interleave their delete and insert statements; the later
// one waits (up to the busy timeout) and then replaces the earlier result.
func Open(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, errors.Wrap(err, "unable to create database directory")
	}

	q := url.Values{}
	q.Set("_txlock", "immediate")
	q.Set("_busy_timeout", "10000")
	q.Set("_foreign_keys", "on")
	q.Set("_journal_mode", "WAL")
	db, err := sql.Open("sqlite3", "file:"+dbPath+"?"+q.Encode())
	if err != nil {
		return nil, errors.Wrap(err, "unable to open database")
	}

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema() error {
	if _, err := s.db.Exec(schema); err != nil {
		return errors.Wrap(err, "unable to initialize schema")
	}
	// Databases created before covers were extracted lack the column.
	return s.addColumn("books", "cover_image_path", "TEXT")
}

// addColumn adds a column to table unless it already exists.
func (s *Store) addColumn(table, column, decl string) error {
	rows, err := s.db.Query(`SELECT name FROM pragma_table_info(?)`, table)
	if err != nil {
		return errors.Wrapf(err, "unable to inspect table %s", table)
	}
	defer rows.Close()
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return errors.Wrapf(err, "unable to inspect table %s", table)
		}
		if name == column {
			return nil
		}
	}
	if err := rows.Err(); err != nil {
		return errors.Wrapf(err, "unable to inspect table %s", table)
	}
	rows.Close()

	_, err = s.db.Exec(`ALTER TABLE ` + table + ` ADD COLUMN ` + column + ` ` + decl)
	return errors.Wrapf(err, "unable to add column %s.%s", table, column)
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// WriteBook replaces the processed state of a book in one transaction.
// It fails with bookpipe.ErrBookNotFound if the catalog has no such book.
func (s *Store) WriteBook(ctx context.Context, bookID int64, book *bookpipe.ProcessedBook) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "unable to begin transaction")
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	md := book.Metadata
	res, err := tx.ExecContext(ctx, `
UPDATE books SET
  file_format            = ?,
  source_title           = ?,
  source_author          = ?,
  language               = ?,
  publisher              = ?,
  isbn                   = ?,
  word_count             = ?,
  estimated_reading_time = ?,
  pages                  = ?,
  cover_image_path       = ?,
  processing_status      = ?,
  parsing_error          = NULL,
  updated_at             = CURRENT_TIMESTAMP
WHERE id = ?`,
		string(book.Format), book.Title, book.Author,
		nullString(md.Language), nullString(md.Publisher), nullString(md.ISBN),
		md.WordCount, md.EstimatedReadingTime, md.Pages,
		nullString(book.CoverImage), StatusCompleted, bookID,
	)
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

	if _, err = tx.ExecContext(ctx, `DELETE FROM book_chapters WHERE book_id = ?`, bookID); err != nil {
		return errors.Wrap(err, "unable to clear chapters")
	}

	stmt, err := tx.PrepareContext(ctx, `
INSERT INTO book_chapters (book_id, chapter_number, chapter_title, content_html, word_count, reading_time_minutes)
VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return errors.Wrap(err, "unable to prepare chapter insert")
	}
	defer stmt.Close()

	for _, ch := range book.Chapters {
		_, err = stmt.ExecContext(ctx, bookID, ch.Number, ch.Title, ch.ContentHTML,
			bookpipe.CountWords(ch.ContentHTML), ch.ReadingTimeMinutes)
		if err != nil {
			return errors.Wrapf(err, "unable to insert chapter %d", ch.Number)
		}
	}

	return errors.Wrap(tx.Commit(), "unable to commit book")
}

// ReadBook returns the processed state of a book, or nil if the book is
// unknown or has never been processed.
func (s *Store) ReadBook(ctx context.Context, bookID int64) (*bookpipe.ProcessedBook, error) {
	var (
		title, author                 string
		format, srcTitle, srcAuthor   sql.NullString
		language, publisher, isbn     sql.NullString
		coverImage                    sql.NullString
		wordCount, readingTime, pages int
	)
	err := s.db.QueryRowContext(ctx, `
SELECT title, author_name, file_format, source_title, source_author,
       language, publisher, isbn, word_count, estimated_reading_time, pages,
       cover_image_path
FROM books WHERE id = ?`, bookID).Scan(
		&title, &author, &format, &srcTitle, &srcAuthor,
		&language, &publisher, &isbn, &wordCount, &readingTime, &pages,
		&coverImage,
	)
	switch {
	case err == sql.ErrNoRows:
		return nil, nil
	case err != nil:
		return nil, errors.Wrap(err, "unable to read book")
	case !format.Valid || format.String == "":
		return nil, nil
	}

	chapters, err := s.readChapters(ctx, bookID)
	if err != nil {
		return nil, err
	}

	return &bookpipe.ProcessedBook{
		ID:     strconv.FormatInt(bookID, 10),
		Title:  firstNonEmpty(srcTitle.String, title, bookpipe.UnknownTitle),
		Author: firstNonEmpty(srcAuthor.String, author, bookpipe.UnknownAuthor),
		Format: bookpipe.Format(format.String),
		Metadata: bookpipe.BookMetadata{
			WordCount:            wordCount,
			EstimatedReadingTime: readingTime,
			Pages:                pages,
			Language:             language.String,
			Publisher:            publisher.String,
			ISBN:                 isbn.String,
		},
		Chapters:        chapters,
		TableOfContents: bookpipe.TableOfContents(chapters),
		CoverImage:      coverImage.String,
	}, nil
}

func (s *Store) readChapters(ctx context.Context, bookID int64) ([]bookpipe.Chapter, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT chapter_number, chapter_title, content_html, reading_time_minutes
FROM book_chapters WHERE book_id = ? ORDER BY chapter_number`, bookID)
	if err != nil {
		return nil, errors.Wrap(err, "unable to read chapters")
	}
	defer rows.Close()

	chapters := []bookpipe.Chapter{}
	for rows.Next() {
		var ch bookpipe.Chapter
		if err := rows.Scan(&ch.Number, &ch.Title, &ch.ContentHTML, &ch.ReadingTimeMinutes); err != nil {
			return nil, errors.Wrap(err, "unable to scan chapter")
		}
		ch.ID = bookpipe.ChapterID(ch.Number)
		chapters = append(chapters, ch)
	}
	return chapters, errors.Wrap(rows.Err(), "unable to read chapters")
}

// ChapterCount returns the number of chapter rows stored for a book.
func (s *Store) ChapterCount(ctx context.Context, bookID int64) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM book_chapters WHERE book_id = ?`, bookID).Scan(&n)
	return n, errors.Wrap(err, "unable to count chapters")
}

func nullString(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
