package bookpipe

import (
	"archive/zip"
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// DefaultWorkers is the number of spine items loaded concurrently.
const DefaultWorkers = 4

// Bodies of the synthetic chapter substituted when an ePub yields nothing.
const (
	noContentHTML    = "<p>No content available</p>"
	loadingErrorHTML = "<p>Error loading content</p>"
)

// placeholderChapters returns the single chapter used in place of an
// empty extraction result.
func placeholderChapters(body string) []Chapter {
	return []Chapter{{
		ID:                 ChapterID(1),
		Number:             1,
		Title:              defaultChapterTitle(1),
		ContentHTML:        body,
		ReadingTimeMinutes: 1,
	}}
}

// ExtractEPUBChapters returns the chapters of an ePub in spine order. Only
// spine items whose manifest media type is application/xhtml+xml become
// chapters, and they are numbered by output position so skipped items
// leave no gaps.
//
// The result is never empty. A structurally broken archive (no
// container.xml, unreadable OPF, no XHTML spine items) yields one
// "No content available" chapter; a failure while reading chapter content
// yields one "Error loading content" chapter. Both are logged to log.
func ExtractEPUBChapters(ctx context.Context, zr *zip.Reader, log *zap.Logger) []Chapter {
	return extractEPUBChapters(ctx, newArchive(zr), log, DefaultWorkers)
}

func extractEPUBChapters(ctx context.Context, a *archive, log *zap.Logger, workers int) []Chapter {
	if log == nil {
		log = zap.NewNop()
	}
	drafts, err := loadEPUBChapters(ctx, a, log, workers)
	if err != nil {
		log.Warn("Unable to load ePub chapters, substituting placeholder", zap.Error(err))
		return placeholderChapters(loadingErrorHTML)
	}
	if len(drafts) == 0 {
		log.Warn("No readable chapters in ePub spine, substituting placeholder")
		return placeholderChapters(noContentHTML)
	}
	return numberChapters(drafts)
}

// loadEPUBChapters walks the spine and returns one draft per readable XHTML
// item. Structural problems are logged and produce no drafts; only failures
// while loading content are returned as errors.
func loadEPUBChapters(ctx context.Context, a *archive, log *zap.Logger, workers int) ([]draftChapter, error) {
	opfPath, err := locateOPF(a)
	if err != nil {
		log.Warn("Unable to locate package document", zap.String("entry", containerPath), zap.Error(err))
		return nil, nil
	}

	data, err := a.readFile(opfPath)
	if err != nil {
		log.Warn("Unable to read package document", zap.String("entry", opfPath), zap.Error(err))
		return nil, nil
	}
	pkg, err := parseOPF(data)
	if err != nil {
		log.Warn("Unable to parse package document", zap.String("entry", opfPath), zap.Error(err))
		return nil, nil
	}

	fontObfuscation, err := checkDRM(a)
	if err != nil {
		return nil, fmt.Errorf("bookpipe: %s: %w", encryptionFilePath, err)
	}
	if fontObfuscation {
		log.Info("Font obfuscation detected; obfuscated fonts may not render correctly")
	}

	manifest := buildManifestMap(pkg.Manifest)
	var items []spineItem
	for _, si := range buildSpine(pkg.Spine, manifest) {
		if !si.Found {
			log.Warn("Spine item missing from manifest", zap.String("idref", si.IDRef))
			continue
		}
		if si.isChapter() {
			items = append(items, si)
		}
	}
	if len(items) == 0 {
		return nil, nil
	}

	titles, err := tocTitles(a, opfPath, pkg, manifest)
	if err != nil {
		log.Debug("Unable to read table of contents", zap.Error(err))
	}

	results, err := loadSpineItems(ctx, a, opfPath, items, titles, workers)
	if err != nil {
		return nil, err
	}

	drafts := make([]draftChapter, 0, len(results))
	for i, r := range results {
		if r.err != nil {
			return nil, r.err
		}
		if r.skipped {
			log.Warn("Spine item not found in archive", zap.String("entry", r.entry), zap.Int("position", items[i].Position))
			continue
		}
		drafts = append(drafts, r.draft)
	}
	return drafts, nil
}

// spineResult is the outcome of loading one spine item.
type spineResult struct {
	entry   string
	draft   draftChapter
	skipped bool
	err     error
}

// loadSpineItems loads items on a bounded pool of workers. Results are
// slotted by input position, so their order never depends on completion
// order.
func loadSpineItems(ctx context.Context, a *archive, opfPath string, items []spineItem, titles map[string]string, workers int) ([]spineResult, error) {
	if workers < 1 {
		workers = 1
	}
	if workers > len(items) {
		workers = len(items)
	}

	results := make([]spineResult, len(items))
	jobs := make(chan int)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				results[i] = safeLoadSpineItem(a, opfPath, items[i], titles)
			}
		}()
	}

feed:
	for i := range items {
		select {
		case jobs <- i:
		case <-ctx.Done():
			break feed
		}
	}
	close(jobs)
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

// safeLoadSpineItem turns a panic while parsing a malformed item into a
// load error for that item.
func safeLoadSpineItem(a *archive, opfPath string, si spineItem, titles map[string]string) (r spineResult) {
	defer func() {
		if v := recover(); v != nil {
			r = spineResult{entry: si.Href, err: fmt.Errorf("bookpipe: panic loading %s: %v", si.Href, v)}
		}
	}()
	return loadSpineItem(a, opfPath, si, titles)
}

// loadSpineItem reads one XHTML resource, derives its title and sanitizes
// its markup.
func loadSpineItem(a *archive, opfPath string, si spineItem, titles map[string]string) spineResult {
	entry := resolveOPFHref(opfPath, si.Href)
	if entry == "" || a.find(entry) == nil {
		return spineResult{entry: si.Href, skipped: true}
	}

	data, err := a.readFile(entry)
	if err != nil {
		return spineResult{entry: entry, err: err}
	}
	raw := decodeMarkup(data, xhtmlMediaType)

	title := documentTitle(raw)
	if title == "" {
		title = titles[entry]
	}
	if title == "" {
		title = defaultChapterTitle(si.Position)
	}

	return spineResult{
		entry: entry,
		draft: draftChapter{title: title, content: Sanitize(raw)},
	}
}
