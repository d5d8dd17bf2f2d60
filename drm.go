package bookpipe

import (
	"strings"

	"github.com/beevik/etree"
)

const (
	// encryptionFilePath lists every encrypted resource of the container.
	encryptionFilePath = "META-INF/encryption.xml"

	// sinfFilePath only exists in Apple FairPlay protected books.
	sinfFilePath = "META-INF/sinf.xml"
)

// fontObfuscationAlgorithms mangle embedded fonts only. Chapter text stays
// readable, so books using nothing else are processed normally.
var fontObfuscationAlgorithms = map[string]bool{
	"http://www.idpf.org/2008/embedding": true,
	"http://ns.adobe.com/pdf/enc#RC":     true,
}

// checkDRM reports whether chapter content of the archive is encrypted.
//
// Entries of encryption.xml that only obfuscate fonts are tolerated and
// reported through fontObfuscation. Any other encryption method (Adobe
// ADEPT, Readium LCP, plain xmlenc), an encryption.xml that does not parse,
// or the presence of FairPlay's sinf.xml yields ErrDRMProtected.
func checkDRM(a *archive) (fontObfuscation bool, err error) {
	if a.find(sinfFilePath) != nil {
		return false, ErrDRMProtected
	}
	if a.find(encryptionFilePath) == nil {
		return false, nil
	}

	data, err := a.readFile(encryptionFilePath)
	if err != nil {
		return false, err
	}
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(data); err != nil {
		return false, ErrDRMProtected
	}

	for _, e := range doc.FindElements("//*") {
		if e.Tag != "EncryptedData" {
			continue
		}
		if !fontObfuscationAlgorithms[encryptionAlgorithm(e)] {
			return false, ErrDRMProtected
		}
		fontObfuscation = true
	}
	return fontObfuscation, nil
}

// encryptionAlgorithm returns the Algorithm of an EncryptedData element's
// EncryptionMethod, or "" when it has none.
func encryptionAlgorithm(ed *etree.Element) string {
	for _, c := range ed.ChildElements() {
		if c.Tag == "EncryptionMethod" {
			return strings.TrimSpace(c.SelectAttrValue("Algorithm", ""))
		}
	}
	return ""
}
