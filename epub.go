package bookpipe

import (
	"archive/zip"
	"fmt"
	"strings"
)

// expectedMimetype is the required content of the "mimetype" entry of an ePub.
const expectedMimetype = "application/epub+zip"

// mimetypeWarnings checks that the first ZIP entry is named "mimetype" and
// contains "application/epub+zip". Deviations are returned as warnings;
// readers in the wild accept such files, so none of them is fatal.
func mimetypeWarnings(zr *zip.Reader) []string {
	if len(zr.File) == 0 {
		return []string{"empty ZIP archive; mimetype entry missing"}
	}

	first := zr.File[0]
	if first.Name != "mimetype" {
		return []string{`first ZIP entry is not "mimetype"`}
	}

	data, err := readZipFileWithLimit(first, 1024)
	if err != nil {
		return []string{fmt.Sprintf("cannot read mimetype entry: %v", err)}
	}
	if mt := strings.TrimSpace(string(data)); mt != expectedMimetype {
		return []string{fmt.Sprintf("unexpected mimetype: %q", mt)}
	}
	return nil
}
