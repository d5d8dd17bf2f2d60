package bookpipe

import "fmt"

// Format identifies the source format of an uploaded book.
type Format string

const (
	FormatEPUB Format = "epub"
	FormatHTML Format = "html"
)

// Fallback values used whenever metadata extraction yields nothing usable.
const (
	UnknownTitle  = "Unknown Title"
	UnknownAuthor = "Unknown Author"
)

// ProcessedBook is the normalized result of one processing run.
// It is built fresh on every run and never mutated after it is returned.
type ProcessedBook struct {
	// ID is the catalog book identifier rendered as a decimal string.
	ID string `json:"id"`

	// Title and Author are never empty; see UnknownTitle and UnknownAuthor.
	Title  string `json:"title"`
	Author string `json:"author"`

	// Format is fixed by the extension of the uploaded file.
	Format Format `json:"format"`

	Metadata BookMetadata `json:"metadata"`

	// Chapters are in reading order and never empty.
	Chapters []Chapter `json:"chapters"`

	// TableOfContents mirrors Chapters one-to-one.
	TableOfContents []TOCEntry `json:"tableOfContents"`

	// CoverImage is the on-disk path of the extracted cover, if any.
	CoverImage string `json:"coverImage,omitempty"`

	// Assets lists the ePub resources written under the book directory.
	// They are not persisted by the store.
	Assets []Asset `json:"assets,omitempty"`
}

// BookMetadata holds the aggregate reading statistics and the optional
// descriptive fields of a ProcessedBook.
type BookMetadata struct {
	WordCount            int `json:"wordCount"`
	EstimatedReadingTime int `json:"estimatedReadingTime"`
	Pages                int `json:"pages"`

	// Language, Publisher and ISBN are only populated for EPUB sources.
	Language  string `json:"language,omitempty"`
	Publisher string `json:"publisher,omitempty"`
	ISBN      string `json:"isbn,omitempty"`
}

// Chapter is one addressable unit of a processed book.
type Chapter struct {
	// ID has the form "chapter-<n>" where n equals Number.
	ID string `json:"id"`

	// Number is 1-based and contiguous within a book.
	Number int `json:"chapter_number"`

	Title string `json:"chapter_title"`

	// ContentHTML is the sanitized fragment rendered by the reader.
	ContentHTML string `json:"content_html"`

	ReadingTimeMinutes int `json:"reading_time_minutes"`
}

// TOCEntry is a single row of the derived table of contents.
type TOCEntry struct {
	ID     string `json:"id"`
	Title  string `json:"title"`
	Number int    `json:"chapter_number"`
}

// BookInfo is the descriptive metadata scraped from a source file.
type BookInfo struct {
	Title     string
	Author    string
	Language  string
	Publisher string
	ISBN      string
}

// defaultBookInfo returns the metadata used when extraction fails.
func defaultBookInfo() BookInfo {
	return BookInfo{Title: UnknownTitle, Author: UnknownAuthor}
}

// ChapterID returns the identifier of the chapter with the given number.
func ChapterID(n int) string {
	return fmt.Sprintf("chapter-%d", n)
}

// defaultChapterTitle returns the synthesized title for position n.
func defaultChapterTitle(n int) string {
	return fmt.Sprintf("Chapter %d", n)
}

// draftChapter is an extracted chapter before it has been numbered.
type draftChapter struct {
	title   string
	content string
}

// numberChapters assigns ids and contiguous 1-based numbers by slice
// position and computes per-chapter reading time.
func numberChapters(drafts []draftChapter) []Chapter {
	chapters := make([]Chapter, 0, len(drafts))
	for i, d := range drafts {
		n := i + 1
		chapters = append(chapters, Chapter{
			ID:                 ChapterID(n),
			Number:             n,
			Title:              d.title,
			ContentHTML:        d.content,
			ReadingTimeMinutes: EstimateMinutes(CountWords(d.content)),
		})
	}
	return chapters
}

// TableOfContents derives the table of contents from chapters.
func TableOfContents(chapters []Chapter) []TOCEntry {
	toc := make([]TOCEntry, 0, len(chapters))
	for _, ch := range chapters {
		toc = append(toc, TOCEntry{
			ID:     ch.ID,
			Title:  ch.Title,
			Number: ch.Number,
		})
	}
	return toc
}
