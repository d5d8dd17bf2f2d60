package bookpipe

import (
	"encoding/xml"
	"fmt"
	"strings"
)

// containerXML models the META-INF/container.xml file used to locate the OPF.
type containerXML struct {
	XMLName   xml.Name   `xml:"container"`
	RootFiles []rootFile `xml:"rootfiles>rootfile"`
}

// rootFile represents a single <rootfile> element inside container.xml.
type rootFile struct {
	FullPath  string `xml:"full-path,attr"`
	MediaType string `xml:"media-type,attr"`
}

// containerPath is the well-known location of container.xml in an ePub archive.
const containerPath = "META-INF/container.xml"

// opfMediaType is the media type of the package document.
const opfMediaType = "application/oebps-package+xml"

// locateOPF reads META-INF/container.xml (case-insensitive lookup) and
// returns the full-path of the package document. A missing container is
// an ErrInvalidEPub; unlike permissive readers there is no fallback scan
// for stray .opf files.
func locateOPF(a *archive) (string, error) {
	data, err := a.readFile(containerPath)
	if err != nil {
		return "", fmt.Errorf("bookpipe: read %s: %w: %w", containerPath, ErrInvalidEPub, err)
	}
	return parseContainerXML(data)
}

// parseContainerXML decodes container.xml, returning the full-path of the
// first package rootfile, or of the first rootfile with a path at all.
func parseContainerXML(data []byte) (string, error) {
	var c containerXML
	if err := xml.Unmarshal(stripBOM(data), &c); err != nil {
		return "", fmt.Errorf("bookpipe: parse container.xml: %w", err)
	}

	var fallbackPath string
	for _, rf := range c.RootFiles {
		fullPath := strings.TrimSpace(rf.FullPath)
		if fullPath == "" {
			continue
		}
		if strings.EqualFold(strings.TrimSpace(rf.MediaType), opfMediaType) {
			return fullPath, nil
		}
		if fallbackPath == "" {
			fallbackPath = fullPath
		}
	}

	if fallbackPath == "" {
		return "", fmt.Errorf("bookpipe: container.xml has no rootfile full-path: %w", ErrInvalidEPub)
	}
	return fallbackPath, nil
}
