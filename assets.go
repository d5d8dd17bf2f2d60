package bookpipe

import (
	"context"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

// AssetKind names the subdirectory of a book directory an asset is written
// to.
type AssetKind string

const (
	AssetImage      AssetKind = "images"
	AssetStylesheet AssetKind = "stylesheets"
	AssetFont       AssetKind = "fonts"
)

// Asset is a resource copied out of an ePub into the book directory.
type Asset struct {
	Kind AssetKind `json:"kind"`

	// Href is the entry path inside the archive.
	Href string `json:"href"`

	// Path is where the asset was written on disk.
	Path string `json:"path"`

	MediaType string `json:"mediaType"`
}

type assetType struct {
	kind      AssetKind
	mediaType string
}

// assetTypes maps lower-case file extensions to the assets that are kept.
var assetTypes = map[string]assetType{
	".jpg":   {AssetImage, "image/jpeg"},
	".jpeg":  {AssetImage, "image/jpeg"},
	".png":   {AssetImage, "image/png"},
	".gif":   {AssetImage, "image/gif"},
	".svg":   {AssetImage, "image/svg+xml"},
	".webp":  {AssetImage, "image/webp"},
	".css":   {AssetStylesheet, "text/css"},
	".ttf":   {AssetFont, "font/ttf"},
	".otf":   {AssetFont, "font/otf"},
	".woff":  {AssetFont, "font/woff"},
	".woff2": {AssetFont, "font/woff2"},
}

func assetTypeOf(name string) (assetType, bool) {
	t, ok := assetTypes[strings.ToLower(path.Ext(name))]
	return t, ok
}

// extractEPUBAssets copies the images, stylesheets and fonts of an ePub
// into dir/<kind>/ and returns them in archive order, together with the
// on-disk path of the cover image ("" when there is none).
//
// Extraction fails open: an entry that cannot be read or written is logged
// and skipped. A DRM-protected archive yields no assets, and cancellation
// stops the copy at the next entry.
func extractEPUBAssets(ctx context.Context, a *archive, dir string, log *zap.Logger) ([]Asset, string) {
	if _, err := checkDRM(a); err != nil {
		log.Warn("Skipping asset extraction", zap.Error(err))
		return nil, ""
	}

	opfPath, pkg, err := readPackage(a)
	if err != nil {
		log.Debug("Package document unavailable for cover lookup", zap.Error(err))
	}

	w := &assetWriter{dir: dir, used: make(map[string]bool)}
	var (
		assets []Asset
		images []string
	)
	for _, f := range a.zr.File {
		if ctx.Err() != nil {
			log.Warn("Asset extraction interrupted", zap.Error(ctx.Err()), zap.Int("written", len(assets)))
			return assets, ""
		}
		if f.FileInfo().IsDir() || !isSafePath(f.Name) {
			continue
		}
		t, ok := assetTypeOf(f.Name)
		if !ok {
			continue
		}
		asset, err := w.write(a, f.Name, t)
		if err != nil {
			log.Warn("Unable to store asset", zap.String("entry", f.Name), zap.Error(err))
			continue
		}
		assets = append(assets, asset)
		if t.kind == AssetImage {
			images = append(images, f.Name)
		}
	}

	cover := newCoverFinder(a, opfPath, pkg).find(images)
	if cover == "" {
		return assets, ""
	}
	for _, asset := range assets {
		if strings.EqualFold(asset.Href, cover) {
			return assets, asset.Path
		}
	}
	// A cover with an unrecognized extension, stored on its own.
	asset, err := w.write(a, cover, assetType{AssetImage, "application/octet-stream"})
	if err != nil {
		log.Warn("Unable to store cover image", zap.String("entry", cover), zap.Error(err))
		return assets, ""
	}
	return append(assets, asset), asset.Path
}

// assetWriter names and writes assets. Entries sharing a base name get a
// numeric suffix in archive order, so names are stable across runs.
type assetWriter struct {
	dir  string
	used map[string]bool
}

func (w *assetWriter) write(a *archive, entry string, t assetType) (Asset, error) {
	f := a.find(entry)
	if f == nil {
		return Asset{}, ErrFileNotFound
	}
	data, err := readZipFile(f)
	if err != nil {
		return Asset{}, err
	}

	kindDir := filepath.Join(w.dir, string(t.kind))
	if err := os.MkdirAll(kindDir, 0o755); err != nil {
		return Asset{}, err
	}
	dst := filepath.Join(kindDir, w.name(t.kind, path.Base(entry)))
	if err := os.WriteFile(dst, data, 0o644); err != nil {
		return Asset{}, err
	}
	return Asset{Kind: t.kind, Href: f.Name, Path: dst, MediaType: t.mediaType}, nil
}

func (w *assetWriter) name(kind AssetKind, base string) string {
	ext := path.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	name := base
	for n := 2; w.used[string(kind)+"/"+strings.ToLower(name)]; n++ {
		name = stem + "-" + strconv.Itoa(n) + ext
	}
	w.used[string(kind)+"/"+strings.ToLower(name)] = true
	return name
}
