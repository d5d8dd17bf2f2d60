package bookpipe

import (
	"bytes"
	"regexp"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
	"golang.org/x/net/html/charset"
)

// entityNameToNumeric maps lowercase HTML entity names to their XML numeric
// character references. encoding/xml does not recognise HTML named entities,
// so we convert them before parsing OPF/NCX files.
var entityNameToNumeric = map[string][]byte{
	"nbsp": []byte("&#160;"), "mdash": []byte("&#8212;"), "ndash": []byte("&#8211;"),
	"hellip": []byte("&#8230;"),
	"lsquo":  []byte("&#8216;"), "rsquo": []byte("&#8217;"),
	"ldquo": []byte("&#8220;"), "rdquo": []byte("&#8221;"),
	"copy": []byte("&#169;"), "reg": []byte("&#174;"), "trade": []byte("&#8482;"),
	"bull": []byte("&#8226;"), "middot": []byte("&#183;"),
	"eacute": []byte("&#233;"), "egrave": []byte("&#232;"),
	"ecirc": []byte("&#234;"), "euml": []byte("&#235;"),
	"aacute": []byte("&#225;"), "agrave": []byte("&#224;"),
	"acirc": []byte("&#226;"), "auml": []byte("&#228;"),
	"iacute": []byte("&#237;"), "igrave": []byte("&#236;"),
	"icirc": []byte("&#238;"), "iuml": []byte("&#239;"),
	"oacute": []byte("&#243;"), "ograve": []byte("&#242;"),
	"ocirc": []byte("&#244;"), "ouml": []byte("&#246;"),
	"uacute": []byte("&#250;"), "ugrave": []byte("&#249;"),
	"ucirc": []byte("&#251;"), "uuml": []byte("&#252;"),
	"ntilde": []byte("&#241;"), "ccedil": []byte("&#231;"),
	"times": []byte("&#215;"), "divide": []byte("&#247;"),
	"deg": []byte("&#176;"), "para": []byte("&#182;"), "sect": []byte("&#167;"),
	"laquo": []byte("&#171;"), "raquo": []byte("&#187;"),
	"iexcl": []byte("&#161;"), "iquest": []byte("&#191;"),
}

// htmlEntityPattern matches common HTML named entities case-insensitively.
var htmlEntityPattern = regexp.MustCompile(
	`(?i)&(nbsp|mdash|ndash|hellip|lsquo|rsquo|ldquo|rdquo|copy|reg|trade|bull|middot|` +
		`eacute|egrave|ecirc|euml|aacute|agrave|acirc|auml|iacute|igrave|icirc|iuml|` +
		`oacute|ograve|ocirc|ouml|uacute|ugrave|ucirc|uuml|ntilde|ccedil|` +
		`times|divide|deg|para|sect|laquo|raquo|iexcl|iquest);`)

// preprocessHTMLEntities replaces common HTML named entities with their
// numeric character references so that encoding/xml can parse the data.
// The matching is case-insensitive to handle non-standard ePub content.
func preprocessHTMLEntities(data []byte) []byte {
	return htmlEntityPattern.ReplaceAllFunc(data, func(match []byte) []byte {
		// Extract entity name between & and ;, lowercase for lookup.
		name := strings.ToLower(string(match[1 : len(match)-1]))
		if replacement, ok := entityNameToNumeric[name]; ok {
			return replacement
		}
		return match
	})
}

// selfClosingRawTagPattern matches XHTML self-closing forms of elements an
// HTML parser treats as raw text. Left as-is, "<script/>" or "<title/>"
// swallows the rest of the document.
var selfClosingRawTagPattern = regexp.MustCompile(`(?is)<(script|style|title)\b([^>]*)/>`)

// expandSelfClosingRawTags rewrites "<script src="a.js"/>" into an explicit
// empty element "<script src="a.js"></script>".
func expandSelfClosingRawTags(s string) string {
	if !selfClosingRawTagPattern.MatchString(s) {
		return s
	}
	return selfClosingRawTagPattern.ReplaceAllString(s, `<$1$2></$1>`)
}

// headingAtoms are the heading elements h1 through h6.
var headingAtoms = map[atom.Atom]bool{
	atom.H1: true,
	atom.H2: true,
	atom.H3: true,
	atom.H4: true,
	atom.H5: true,
	atom.H6: true,
}

// decodeMarkup converts markup to a UTF-8 string. The encoding is taken from
// a BOM, the charset parameter of contentType, a <meta charset> prescan, or
// a heuristic, in that order. Undecodable input is returned as-is.
func decodeMarkup(data []byte, contentType string) string {
	enc, name, _ := charset.DetermineEncoding(data, contentType)
	if name == "utf-8" {
		return string(stripBOM(data))
	}
	out, err := enc.NewDecoder().Bytes(data)
	if err != nil {
		return string(data)
	}
	return string(out)
}

// documentTitle returns the title of an XHTML chapter document: the text of
// its <title> element, else the text of its first non-empty heading. It
// returns "" when neither exists.
func documentTitle(markup string) string {
	doc, err := html.Parse(strings.NewReader(expandSelfClosingRawTags(markup)))
	if err != nil {
		return ""
	}
	if t := findElement(doc, atom.Title); t != nil {
		if title := normalizeSpace(nodeTextContent(t)); title != "" {
			return title
		}
	}
	var heading string
	walkElements(doc, func(n *html.Node) bool {
		if !headingAtoms[n.DataAtom] {
			return true
		}
		heading = normalizeSpace(nodeTextContent(n))
		return heading == ""
	})
	return heading
}

// walkElements visits element nodes depth-first in document order until
// visit returns false.
func walkElements(n *html.Node, visit func(*html.Node) bool) bool {
	if n.Type == html.ElementNode && !visit(n) {
		return false
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if !walkElements(c, visit) {
			return false
		}
	}
	return true
}

// findElement performs a depth-first search for a node with the given atom tag.
func findElement(n *html.Node, a atom.Atom) *html.Node {
	if n.Type == html.ElementNode && n.DataAtom == a {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if result := findElement(c, a); result != nil {
			return result
		}
	}
	return nil
}

// nodeTextContent recursively collects all text content within a node.
func nodeTextContent(n *html.Node) string {
	if n.Type == html.TextNode {
		return n.Data
	}
	var sb strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		sb.WriteString(nodeTextContent(c))
	}
	return sb.String()
}

// renderNode renders n back to HTML.
func renderNode(n *html.Node) (string, error) {
	var buf bytes.Buffer
	if err := html.Render(&buf, n); err != nil {
		return "", err
	}
	return buf.String(), nil
}
