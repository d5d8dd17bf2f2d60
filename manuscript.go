package bookpipe

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

const headingSelector = "h1, h2, h3, h4, h5, h6"

// ExtractHTMLChapters splits a flat HTML manuscript into chapters at its
// h1–h6 headings. Each chapter holds the sibling nodes that follow its
// heading up to the next heading; its title is the heading text.
//
// A document without headings becomes a single chapter. If the document
// cannot be parsed, the whole raw input is sanitized into a single chapter
// instead. The result is never empty.
func ExtractHTMLChapters(document string) []Chapter {
	drafts, err := splitHTMLChapters(document)
	if err != nil {
		drafts = wholeDocument(document)
	}
	return numberChapters(drafts)
}

func wholeDocument(document string) []draftChapter {
	return []draftChapter{{title: defaultChapterTitle(1), content: Sanitize(document)}}
}

func splitHTMLChapters(document string) ([]draftChapter, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(document))
	if err != nil {
		return nil, err
	}

	headings := doc.Find(headingSelector).Nodes
	if len(headings) == 0 {
		return wholeDocument(document), nil
	}

	drafts := make([]draftChapter, 0, len(headings))
	for i, h := range headings {
		var next *html.Node
		if i+1 < len(headings) {
			next = headings[i+1]
		}

		var body strings.Builder
		for sib := h.NextSibling; sib != nil && sib != next; sib = sib.NextSibling {
			out, err := renderNode(sib)
			if err != nil {
				return nil, err
			}
			body.WriteString(out)
		}

		title := normalizeSpace(nodeTextContent(h))
		if title == "" {
			title = defaultChapterTitle(i + 1)
		}
		drafts = append(drafts, draftChapter{title: title, content: Sanitize(body.String())})
	}
	return drafts, nil
}

// ExtractHTMLMetadata scrapes the title from <title> and the author from
// <meta name="author"> or <meta name="dc.creator">. Missing values fall
// back to UnknownTitle and UnknownAuthor. HTML sources carry no language,
// publisher or ISBN.
func ExtractHTMLMetadata(document string) BookInfo {
	info := defaultBookInfo()

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(document))
	if err != nil {
		return info
	}

	if title := normalizeSpace(doc.Find("title").First().Text()); title != "" {
		info.Title = title
	}

	doc.Find("meta[name]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		name := strings.ToLower(strings.TrimSpace(s.AttrOr("name", "")))
		if name != "author" && name != "dc.creator" {
			return true
		}
		content := normalizeSpace(s.AttrOr("content", ""))
		if content == "" {
			return true
		}
		info.Author = content
		return false
	})

	return info
}
