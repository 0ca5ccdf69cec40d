// Package epubtest builds minimal EPUB containers for tests.
package epubtest

import (
	"archive/zip"
	"bytes"
	"fmt"
	"testing"
)

// Doc is one spine content document of a test EPUB.
type Doc struct {
	Name string // file name inside the container, e.g. "chapter_01.xhtml"
	Body string // XHTML body content, wrapped in <p> tags by the caller
}

// Build assembles a valid single-rootfile EPUB from the given documents, in
// spine order.
func Build(t *testing.T, docs []Doc) []byte {
	t.Helper()

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	writeFile(t, zw, "mimetype", "application/epub+zip")
	writeFile(t, zw, "META-INF/container.xml", `<?xml version="1.0"?>
<container version="1.0" xmlns="urn:oasis:names:tc:opendocument:xmlns:container">
  <rootfiles>
    <rootfile full-path="OEBPS/content.opf" media-type="application/oebps-package+xml"/>
  </rootfiles>
</container>`)

	var manifest, spine bytes.Buffer
	for i, doc := range docs {
		fmt.Fprintf(&manifest,
			`<item id="doc%d" href="%s" media-type="application/xhtml+xml"/>`+"\n", i, doc.Name)
		fmt.Fprintf(&spine, `<itemref idref="doc%d"/>`+"\n", i)
	}

	writeFile(t, zw, "OEBPS/content.opf", fmt.Sprintf(`<?xml version="1.0"?>
<package xmlns="http://www.idpf.org/2007/opf" version="3.0" unique-identifier="id">
  <metadata><dc:title xmlns:dc="http://purl.org/dc/elements/1.1/">Test Book</dc:title></metadata>
  <manifest>
%s  </manifest>
  <spine>
%s  </spine>
</package>`, manifest.String(), spine.String()))

	for _, doc := range docs {
		writeFile(t, zw, "OEBPS/"+doc.Name, fmt.Sprintf(`<?xml version="1.0"?>
<html xmlns="http://www.w3.org/1999/xhtml"><head><title>t</title></head>
<body>%s</body></html>`, doc.Body))
	}

	if err := zw.Close(); err != nil {
		t.Fatalf("failed to close zip: %v", err)
	}
	return buf.Bytes()
}

func writeFile(t *testing.T, zw *zip.Writer, name, content string) {
	t.Helper()
	w, err := zw.Create(name)
	if err != nil {
		t.Fatalf("failed to create %s: %v", name, err)
	}
	if _, err := w.Write([]byte(content)); err != nil {
		t.Fatalf("failed to write %s: %v", name, err)
	}
}
