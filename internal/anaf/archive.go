package anaf

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"strings"
)

// DownloadedDocument is the unpacked content of a message archive.
type DownloadedDocument struct {
	XML       []byte
	Signature []byte
}

// HasSignature reports whether a detached signature was included.
func (d *DownloadedDocument) HasSignature() bool {
	return len(d.Signature) > 0
}

// UnpackDownload opens the zip the download endpoint returns and splits it
// into the document XML and the detached signature file. Signature entries
// are named with a "semnatura" prefix.
func UnpackDownload(data []byte) (*DownloadedDocument, error) {
	reader, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("opening download archive: %w", err)
	}

	doc := &DownloadedDocument{}
	for _, file := range reader.File {
		name := strings.ToLower(file.Name)
		if !strings.HasSuffix(name, ".xml") {
			continue
		}

		content, err := readZipEntry(file)
		if err != nil {
			return nil, fmt.Errorf("reading archive entry %s: %w", file.Name, err)
		}

		if strings.HasPrefix(name, "semnatura") {
			doc.Signature = content
		} else if doc.XML == nil {
			doc.XML = content
		}
	}

	if doc.XML == nil {
		return nil, fmt.Errorf("download archive contains no document XML")
	}
	return doc, nil
}

func readZipEntry(file *zip.File) ([]byte, error) {
	rc, err := file.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}
