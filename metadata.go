package bookpipe

import (
	"archive/zip"
	"fmt"
	"strings"

	"github.com/beevik/etree"
	"golang.org/x/net/html/charset"
	"golang.org/x/text/language"
)

// dcNamespace is the Dublin Core elements namespace used by OPF metadata.
const dcNamespace = "http://purl.org/dc/elements/1.1/"

// ExtractEPUBMetadata reads the Dublin Core title, creator, language,
// publisher and identifier from the package document of an ePub.
//
// The returned BookInfo is always usable: when the container, the OPF, or
// its XML cannot be read, the result is {UnknownTitle, UnknownAuthor} with
// the optional fields empty, and the error describes what went wrong so the
// caller can log it. Metadata failure must never stop chapter extraction.
func ExtractEPUBMetadata(zr *zip.Reader) (BookInfo, error) {
	info, err := readEPUBMetadata(newArchive(zr))
	if err != nil {
		return defaultBookInfo(), err
	}
	return info, nil
}

func readEPUBMetadata(a *archive) (BookInfo, error) {
	opfPath, err := locateOPF(a)
	if err != nil {
		return BookInfo{}, err
	}

	data, err := a.readFile(opfPath)
	if err != nil {
		return BookInfo{}, fmt.Errorf("bookpipe: read OPF %s: %w: %w", opfPath, ErrInvalidEPub, err)
	}

	doc := etree.NewDocument()
	doc.ReadSettings.CharsetReader = charset.NewReaderLabel
	if err := doc.ReadFromBytes(preprocessHTMLEntities(data)); err != nil {
		return BookInfo{}, fmt.Errorf("bookpipe: parse OPF %s: %w", opfPath, err)
	}

	info := BookInfo{
		Title:     firstDCValue(doc, "title"),
		Author:    firstDCValue(doc, "creator"),
		Language:  canonicalLanguage(firstDCValue(doc, "language")),
		Publisher: firstDCValue(doc, "publisher"),
		ISBN:      firstDCValue(doc, "identifier"),
	}
	if info.Title == "" {
		info.Title = UnknownTitle
	}
	if info.Author == "" {
		info.Author = UnknownAuthor
	}
	return info, nil
}

// firstDCValue returns the trimmed text of the first Dublin Core element
// with the given local name, in document order. Elements match either by
// the conventional "dc" prefix or by the Dublin Core namespace URI.
func firstDCValue(doc *etree.Document, name string) string {
	for _, e := range doc.FindElements("//*") {
		if e.Tag != name {
			continue
		}
		if e.Space == "dc" || e.NamespaceURI() == dcNamespace {
			return normalizeSpace(e.Text())
		}
	}
	return ""
}

// canonicalLanguage rewrites a BCP 47 tag into canonical form ("EN-us" ->
// "en-US"). Values that do not parse are returned unchanged.
func canonicalLanguage(v string) string {
	if v == "" {
		return ""
	}
	tag, err := language.Parse(v)
	if err != nil {
		return strings.TrimSpace(v)
	}
	return tag.String()
}
