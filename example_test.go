package bookpipe_test

import (
	"context"
	"fmt"
	"log"

	"github.com/simp-lee/bookpipe"
	"github.com/simp-lee/bookpipe/sqlstore"
)

func ExampleProcessor_ProcessUploadedBook() {
	store, err := sqlstore.Open("storage/bookpipe.db")
	if err != nil {
		log.Fatal(err)
	}
	defer store.Close()

	ctx := context.Background()
	id, err := store.CreateBook(ctx, "Pride and Prejudice", "Jane Austen", "/api/books/upload/pride.epub")
	if err != nil {
		log.Fatal(err)
	}

	p := bookpipe.NewProcessor(store, bookpipe.WithStorageDir("storage/books"))
	book, err := p.ProcessUploadedBook(ctx, id, "storage/books/1/pride.epub", "pride.epub")
	if err != nil {
		log.Fatal(err)
	}

	for _, entry := range book.TableOfContents {
		fmt.Println(entry.Number, entry.Title)
	}
}

func ExampleSanitize() {
	fmt.Println(bookpipe.Sanitize("<p>Hello</p><script>alert(1)</script>\n   <p>world</p>"))
	// Output: <p>Hello</p> <p>world</p>
}

func ExampleExtractHTMLChapters() {
	doc := "<h2>One</h2><p>first</p><h2>Two</h2><p>second</p>"
	for _, ch := range bookpipe.ExtractHTMLChapters(doc) {
		fmt.Println(ch.ID, ch.Title, ch.ContentHTML)
	}
	// Output:
	// chapter-1 One <p>first</p>
	// chapter-2 Two <p>second</p>
}

func ExampleEstimateMinutes() {
	words := 401
	fmt.Println(bookpipe.EstimateMinutes(words), "min,", bookpipe.EstimatePages(words), "pages")
	// Output: 3 min, 2 pages
}
