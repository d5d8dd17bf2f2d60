package bookpipe

import (
	"encoding/xml"
	"fmt"
)

// xhtmlMediaType is the only manifest media type treated as a chapter.
const xhtmlMediaType = "application/xhtml+xml"

// opfPackage represents the root <package> element of an OPF file.
// Dublin Core metadata is read separately by tag name; only the <meta>
// elements used for cover lookup are decoded here.
type opfPackage struct {
	XMLName  xml.Name    `xml:"package"`
	Version  string      `xml:"version,attr"`
	Metadata opfMetadata `xml:"metadata"`
	Manifest opfManifest `xml:"manifest"`
	Spine    opfSpine    `xml:"spine"`
	Guide    opfGuide    `xml:"guide"`
}

type opfMetadata struct {
	Metas []opfMeta `xml:"meta"`
}

// opfMeta is an ePub 2 <meta name="..." content="..."/> element.
type opfMeta struct {
	Name    string `xml:"name,attr"`
	Content string `xml:"content,attr"`
}

type opfGuide struct {
	References []opfGuideReference `xml:"reference"`
}

type opfGuideReference struct {
	Type string `xml:"type,attr"`
	Href string `xml:"href,attr"`
}

// opfManifest wraps the <manifest> element.
type opfManifest struct {
	Items []opfManifestItem `xml:"item"`
}

// opfManifestItem represents a single <item> in the manifest.
type opfManifestItem struct {
	ID         string `xml:"id,attr"`
	Href       string `xml:"href,attr"`
	MediaType  string `xml:"media-type,attr"`
	Properties string `xml:"properties,attr"`
}

// opfSpine wraps the <spine> element.
type opfSpine struct {
	Toc      string            `xml:"toc,attr"`
	ItemRefs []opfSpineItemRef `xml:"itemref"`
}

// opfSpineItemRef represents a single <itemref> in the spine.
type opfSpineItemRef struct {
	IDRef string `xml:"idref,attr"`
}

// manifestItem is the resolved form of a manifest entry.
type manifestItem struct {
	ID         string
	Href       string
	MediaType  string
	Properties string
}

// spineItem is a spine entry resolved through the manifest.
type spineItem struct {
	// Position is the 1-based index of the itemref in the spine.
	Position int

	IDRef     string
	Href      string
	MediaType string

	// Found reports whether IDRef matched a manifest item.
	Found bool
}

// parseOPF parses the OPF file content and returns the parsed package structure.
func parseOPF(data []byte) (*opfPackage, error) {
	data = preprocessHTMLEntities(stripBOM(data))

	var pkg opfPackage
	if err := xml.Unmarshal(data, &pkg); err != nil {
		return nil, fmt.Errorf("bookpipe: parse OPF: %w", err)
	}

	if pkg.Version == "" {
		// Default to 2.0 if version attribute is missing.
		pkg.Version = "2.0"
	}

	return &pkg, nil
}

// readPackage locates and parses the package document of a.
func readPackage(a *archive) (string, *opfPackage, error) {
	opfPath, err := locateOPF(a)
	if err != nil {
		return "", nil, err
	}
	data, err := a.readFile(opfPath)
	if err != nil {
		return opfPath, nil, fmt.Errorf("bookpipe: read OPF %s: %w", opfPath, err)
	}
	pkg, err := parseOPF(data)
	if err != nil {
		return opfPath, nil, err
	}
	return opfPath, pkg, nil
}

// buildManifestMap creates a lookup from manifest item id to item. Items
// without an id or href are ignored.
func buildManifestMap(manifest opfManifest) map[string]*manifestItem {
	byID := make(map[string]*manifestItem, len(manifest.Items))
	for _, item := range manifest.Items {
		if item.ID == "" || item.Href == "" {
			continue
		}
		byID[item.ID] = &manifestItem{
			ID:         item.ID,
			Href:       item.Href,
			MediaType:  item.MediaType,
			Properties: item.Properties,
		}
	}
	return byID
}

// buildSpine resolves each itemref through the manifest, preserving
// document order.
func buildSpine(spine opfSpine, manifestByID map[string]*manifestItem) []spineItem {
	items := make([]spineItem, 0, len(spine.ItemRefs))
	for i, ref := range spine.ItemRefs {
		si := spineItem{
			Position: i + 1,
			IDRef:    ref.IDRef,
		}
		if mi, ok := manifestByID[ref.IDRef]; ok {
			si.Href = mi.Href
			si.MediaType = mi.MediaType
			si.Found = true
		}
		items = append(items, si)
	}
	return items
}

// isChapter reports whether the spine item resolves to an XHTML document.
func (si spineItem) isChapter() bool {
	return si.Found && si.MediaType == xhtmlMediaType
}

// resolveOPFHref resolves a manifest href against the OPF's own directory.
// Hrefs in the package document are relative to the OPF, not the archive root.
func resolveOPFHref(opfPath, href string) string {
	return resolveRelativePath(opfPath, href)
}
