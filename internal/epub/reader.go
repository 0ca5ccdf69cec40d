// Package epub reads EPUB containers: the zip layout, the OPF package
// document, and the spine order of content documents.
package epub

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"path"
	"strings"
)

// Document is one spine content document in reading order.
type Document struct {
	Href string // path inside the container
	Data []byte
}

// container.xml points at the package (OPF) document.
type containerXML struct {
	Rootfiles []struct {
		FullPath string `xml:"full-path,attr"`
	} `xml:"rootfiles>rootfile"`
}

type packageXML struct {
	Manifest struct {
		Items []manifestItem `xml:"item"`
	} `xml:"manifest"`
	Spine struct {
		ItemRefs []struct {
			IDRef string `xml:"idref,attr"`
		} `xml:"itemref"`
	} `xml:"spine"`
}

type manifestItem struct {
	ID        string `xml:"id,attr"`
	Href      string `xml:"href,attr"`
	MediaType string `xml:"media-type,attr"`
}

// Read opens an EPUB from raw bytes and returns its content documents in
// spine order. Non-document spine entries (images, stylesheets) are skipped.
func Read(data []byte) ([]Document, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("failed to open EPUB container: %w", err)
	}

	opfPath, err := rootfilePath(zr)
	if err != nil {
		return nil, err
	}

	opfData, err := readFile(zr, opfPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read package document: %w", err)
	}

	var pkg packageXML
	if err := xml.Unmarshal(opfData, &pkg); err != nil {
		return nil, fmt.Errorf("failed to parse package document: %w", err)
	}

	manifest := make(map[string]manifestItem, len(pkg.Manifest.Items))
	for _, item := range pkg.Manifest.Items {
		manifest[item.ID] = item
	}

	// Hrefs in the manifest are relative to the OPF's directory.
	opfDir := path.Dir(opfPath)

	var docs []Document
	for _, ref := range pkg.Spine.ItemRefs {
		item, ok := manifest[ref.IDRef]
		if !ok {
			continue
		}
		if !isDocumentType(item.MediaType) {
			continue
		}
		href := item.Href
		if opfDir != "." {
			href = path.Join(opfDir, href)
		}
		body, err := readFile(zr, href)
		if err != nil {
			return nil, fmt.Errorf("failed to read spine document %s: %w", href, err)
		}
		docs = append(docs, Document{Href: href, Data: body})
	}

	if len(docs) == 0 {
		return nil, fmt.Errorf("EPUB contains no readable spine documents")
	}
	return docs, nil
}

func rootfilePath(zr *zip.Reader) (string, error) {
	data, err := readFile(zr, "META-INF/container.xml")
	if err != nil {
		return "", fmt.Errorf("failed to read container.xml: %w", err)
	}
	var container containerXML
	if err := xml.Unmarshal(data, &container); err != nil {
		return "", fmt.Errorf("failed to parse container.xml: %w", err)
	}
	if len(container.Rootfiles) == 0 || container.Rootfiles[0].FullPath == "" {
		return "", fmt.Errorf("container.xml declares no rootfile")
	}
	return container.Rootfiles[0].FullPath, nil
}

func readFile(zr *zip.Reader, name string) ([]byte, error) {
	f, err := zr.Open(name)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

func isDocumentType(mediaType string) bool {
	switch strings.ToLower(mediaType) {
	case "application/xhtml+xml", "text/html", "application/html+xml":
		return true
	}
	return false
}
