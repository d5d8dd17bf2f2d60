package bookpipe

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// tocLabel is one entry of an ePub's own table of contents, flattened in
// document order. Path is a ZIP-internal path without fragment.
type tocLabel struct {
	Label string
	Path  string
}

// tocTitles reads the ePub's own table of contents and returns a map from
// ZIP-internal file path to the first TOC label pointing at it. ePub 3 nav
// documents are preferred over the NCX, as reading systems do. A book
// without a usable TOC yields an empty map and a nil error; the error is
// non-nil only when a declared NCX could not be read or parsed.
func tocTitles(a *archive, opfPath string, pkg *opfPackage, manifest map[string]*manifestItem) (map[string]string, error) {
	labels, err := readTOC(a, opfPath, pkg, manifest)
	titles := make(map[string]string, len(labels))
	for _, l := range labels {
		if _, seen := titles[l.Path]; !seen {
			titles[l.Path] = l.Label
		}
	}
	return titles, err
}

func readTOC(a *archive, opfPath string, pkg *opfPackage, manifest map[string]*manifestItem) ([]tocLabel, error) {
	if strings.HasPrefix(pkg.Version, "3") {
		if labels := readNavTOC(a, opfPath, pkg); len(labels) > 0 {
			return labels, nil
		}
	}

	ncx, ok := manifest[pkg.Spine.Toc]
	if !ok {
		return nil, nil
	}
	ncxPath := resolveOPFHref(opfPath, ncx.Href)
	data, err := a.readFile(ncxPath)
	if err != nil {
		return nil, fmt.Errorf("bookpipe: read NCX %s: %w", ncxPath, err)
	}
	return parseNCX(data, ncxPath)
}

// readNavTOC returns the labels of the first manifest item with the "nav"
// property, or nil when there is none or it cannot be read.
func readNavTOC(a *archive, opfPath string, pkg *opfPackage) []tocLabel {
	for _, item := range pkg.Manifest.Items {
		if !hasToken(item.Properties, "nav") {
			continue
		}
		navPath := resolveOPFHref(opfPath, item.Href)
		data, err := a.readFile(navPath)
		if err != nil {
			return nil
		}
		labels, err := parseNavDocument(data, navPath)
		if err != nil {
			return nil
		}
		return labels
	}
	return nil
}

func hasToken(list, tok string) bool {
	for _, t := range strings.Fields(list) {
		if t == tok {
			return true
		}
	}
	return false
}

// hrefWithoutFragment returns the href with the fragment (#...) removed.
func hrefWithoutFragment(href string) string {
	if idx := strings.IndexByte(href, '#'); idx >= 0 {
		return href[:idx]
	}
	return href
}

// newTOCLabel resolves href against base. It reports false when the entry
// has no label or does not point at a file inside the archive.
func newTOCLabel(base, label, href string) (tocLabel, bool) {
	label = normalizeSpace(label)
	p := resolveRelativePath(base, hrefWithoutFragment(strings.TrimSpace(href)))
	if label == "" || p == "" {
		return tocLabel{}, false
	}
	return tocLabel{Label: label, Path: p}, true
}

type ncxNavPoint struct {
	Label   string `xml:"navLabel>text"`
	Content struct {
		Src string `xml:"src,attr"`
	} `xml:"content"`
	Children []ncxNavPoint `xml:"navPoint"`
}

// parseNCX parses an ePub 2 NCX. Hrefs are resolved against ncxPath, the
// NCX's own location in the archive. Nested navPoints follow their parent.
func parseNCX(data []byte, ncxPath string) ([]tocLabel, error) {
	var doc struct {
		XMLName   xml.Name      `xml:"ncx"`
		NavPoints []ncxNavPoint `xml:"navMap>navPoint"`
	}
	if err := xml.Unmarshal(stripBOM(preprocessHTMLEntities(data)), &doc); err != nil {
		return nil, fmt.Errorf("bookpipe: parse NCX: %w", err)
	}

	var labels []tocLabel
	var walk func([]ncxNavPoint)
	walk = func(points []ncxNavPoint) {
		for _, np := range points {
			if l, ok := newTOCLabel(ncxPath, np.Label, np.Content.Src); ok {
				labels = append(labels, l)
			}
			walk(np.Children)
		}
	}
	walk(doc.NavPoints)
	return labels, nil
}

// parseNavDocument parses an ePub 3 nav document and returns the links of
// its toc nav in document order. Other navs (landmarks, page-list) and
// headings without a link are ignored. basePath is the nav document's own
// location in the archive.
func parseNavDocument(data []byte, basePath string) ([]tocLabel, error) {
	doc, err := html.Parse(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("bookpipe: parse nav document: %w", err)
	}

	var toc *html.Node
	walkElements(doc, func(n *html.Node) bool {
		if n.DataAtom == atom.Nav && hasToken(attr(n, "epub:type"), "toc") {
			toc = n
			return false
		}
		return true
	})
	if toc == nil {
		return nil, nil
	}

	var labels []tocLabel
	walkElements(toc, func(n *html.Node) bool {
		if n.DataAtom == atom.A {
			if l, ok := newTOCLabel(basePath, nodeTextContent(n), attr(n, "href")); ok {
				labels = append(labels, l)
			}
		}
		return true
	})
	return labels, nil
}

// attr returns the value of the attribute key of n, or "".
func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}
