package bookpipe

import (
	"bytes"
	"path"
	"slices"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// coverFinder resolves the archive path of an ePub's cover image from its
// package document. A nil pkg leaves only the name-based fallback.
type coverFinder struct {
	a        *archive
	opfPath  string
	pkg      *opfPackage
	manifest map[string]*manifestItem

	// byPath indexes manifest items by lower-cased archive path.
	byPath map[string]*manifestItem
}

func newCoverFinder(a *archive, opfPath string, pkg *opfPackage) *coverFinder {
	cf := &coverFinder{a: a, opfPath: opfPath, pkg: pkg}
	if pkg == nil {
		return cf
	}
	cf.manifest = buildManifestMap(pkg.Manifest)
	cf.byPath = make(map[string]*manifestItem, len(cf.manifest))
	for _, item := range cf.manifest {
		if p := resolveOPFHref(opfPath, item.Href); p != "" {
			cf.byPath[strings.ToLower(p)] = item
		}
	}
	return cf
}

// find returns the archive path of the cover image, or "" when the book has
// none. Strategies are tried in priority order:
//  1. ePub 3 manifest item with properties="cover-image"
//  2. ePub 2 <meta name="cover" content="ID"/> resolved through the manifest
//  3. <guide> reference type="cover", first image of that page
//  4. image manifest item whose id or href contains "cover"
//  5. first image of the first spine document
//  6. an image among images whose file name contains "cover", else the
//     first of images
func (cf *coverFinder) find(images []string) string {
	if cf.pkg != nil {
		for _, strategy := range []func() string{
			cf.fromManifestProperties,
			cf.fromMetaCover,
			cf.fromGuide,
			cf.fromManifestName,
			cf.fromFirstSpine,
		} {
			if p := strategy(); p != "" {
				return p
			}
		}
	}
	return coverByName(images)
}

func (cf *coverFinder) fromManifestProperties() string {
	for _, raw := range cf.pkg.Manifest.Items {
		item, ok := cf.manifest[raw.ID]
		if !ok {
			continue
		}
		if slices.Contains(strings.Fields(item.Properties), "cover-image") {
			return cf.itemPath(item)
		}
	}
	return ""
}

// fromMetaCover follows <meta name="cover">. The referenced item is usually
// the image itself; some books point it at an XHTML cover page instead.
func (cf *coverFinder) fromMetaCover() string {
	for _, m := range cf.pkg.Metadata.Metas {
		if !strings.EqualFold(m.Name, "cover") || m.Content == "" {
			continue
		}
		item, ok := cf.manifest[m.Content]
		if !ok {
			continue
		}
		if isImageMediaType(item.MediaType) {
			return cf.itemPath(item)
		}
		if p := cf.imageInPage(resolveOPFHref(cf.opfPath, item.Href)); p != "" {
			return p
		}
	}
	return ""
}

func (cf *coverFinder) fromGuide() string {
	for _, ref := range cf.pkg.Guide.References {
		if !strings.EqualFold(ref.Type, "cover") {
			continue
		}
		page := resolveOPFHref(cf.opfPath, hrefWithoutFragment(ref.Href))
		if p := cf.imageInPage(page); p != "" {
			return p
		}
	}
	return ""
}

func (cf *coverFinder) fromManifestName() string {
	for _, raw := range cf.pkg.Manifest.Items {
		item, ok := cf.manifest[raw.ID]
		if !ok || !isImageMediaType(item.MediaType) {
			continue
		}
		if containsFold(item.ID, "cover") || containsFold(item.Href, "cover") {
			return cf.itemPath(item)
		}
	}
	return ""
}

func (cf *coverFinder) fromFirstSpine() string {
	spine := buildSpine(cf.pkg.Spine, cf.manifest)
	if len(spine) == 0 || !spine[0].Found {
		return ""
	}
	return cf.imageInPage(resolveOPFHref(cf.opfPath, spine[0].Href))
}

// imageInPage returns the first image referenced by the XHTML page at
// archive path page, provided the archive holds it and it is an image.
func (cf *coverFinder) imageInPage(page string) string {
	if page == "" {
		return ""
	}
	data, err := cf.a.readFile(page)
	if err != nil {
		return ""
	}
	src := firstImageSrc(data, page)
	if src == "" || cf.a.find(src) == nil {
		return ""
	}
	if item, ok := cf.byPath[strings.ToLower(src)]; ok {
		if isImageMediaType(item.MediaType) {
			return src
		}
		return ""
	}
	if t, ok := assetTypeOf(src); ok && t.kind == AssetImage {
		return src
	}
	return ""
}

// itemPath returns the archive path of a manifest item, or "" when the
// archive does not contain it.
func (cf *coverFinder) itemPath(item *manifestItem) string {
	p := resolveOPFHref(cf.opfPath, item.Href)
	if p == "" || cf.a.find(p) == nil {
		return ""
	}
	return p
}

// coverByName picks an image named like a cover, or the first image.
func coverByName(images []string) string {
	for _, p := range images {
		if containsFold(path.Base(p), "cover") {
			return p
		}
	}
	if len(images) > 0 {
		return images[0]
	}
	return ""
}

// firstImageSrc returns the archive path of the first <img src> or SVG
// <image href> in an HTML document located at basePath.
func firstImageSrc(data []byte, basePath string) string {
	z := html.NewTokenizer(bytes.NewReader(data))
	for {
		switch z.Next() {
		case html.ErrorToken:
			return ""
		case html.StartTagToken, html.SelfClosingTagToken:
			name, hasAttr := z.TagName()
			if !hasAttr {
				continue
			}
			var keys []string
			switch atom.Lookup(name) {
			case atom.Img:
				keys = []string{"src"}
			case atom.Image:
				keys = []string{"href", "xlink:href"}
			default:
				continue
			}
			for {
				key, val, more := z.TagAttr()
				if len(val) > 0 && slices.Contains(keys, string(key)) {
					return resolveRelativePath(basePath, string(val))
				}
				if !more {
					break
				}
			}
		}
	}
}

func isImageMediaType(mediaType string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(mediaType)), "image/")
}

func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
