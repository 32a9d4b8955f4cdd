// Package document reads uploaded lab reports and prepares them for inline
// transmission to a model.
package document

import (
	"bytes"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
)

const (
	// DefaultMaxBytes is the advertised upload limit. The encoder does not
	// enforce it; upload surfaces call CheckSize.
	DefaultMaxBytes int64 = 10 << 20

	MIMETypePDF = "application/pdf"
)

var (
	// ErrUnsupportedType is returned by Accept for anything but images and PDFs.
	ErrUnsupportedType = errors.New("unsupported document type")
	// ErrTooLarge is returned by CheckSize.
	ErrTooLarge = errors.New("document exceeds size limit")
)

// Document is an uploaded file ready to be sent inline.
type Document struct {
	Name     string `json:"name"`
	MIMEType string `json:"mime_type"`
	Size     int64  `json:"size"`
	SHA256   string `json:"sha256"`
	Pages    int    `json:"pages,omitempty"`
	Data     []byte `json:"-"`
}

// Base64 returns the standard base64 encoding of the content.
func (d *Document) Base64() string {
	return base64.StdEncoding.EncodeToString(d.Data)
}

// IsPDF reports whether the document is a PDF.
func (d *Document) IsPDF() bool {
	return d.MIMEType == MIMETypePDF
}

// Read reads the full content of r. declaredType may be empty; it is used
// when it is more specific than what the name suggests. Only I/O errors fail.
func Read(name string, r io.Reader, declaredType string) (*Document, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", name, err)
	}
	return FromBytes(name, data, declaredType), nil
}

// Open reads a document from disk.
func Open(path string) (*Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open document: %w", err)
	}
	defer f.Close()
	return Read(filepath.Base(path), f, "")
}

// FromBytes builds a Document from in-memory content.
func FromBytes(name string, data []byte, declaredType string) *Document {
	sum := sha256.Sum256(data)
	doc := &Document{
		Name:     name,
		MIMEType: DetectMIMEType(name, data, declaredType),
		Size:     int64(len(data)),
		SHA256:   hex.EncodeToString(sum[:]),
		Data:     data,
	}
	if doc.IsPDF() {
		doc.Pages = pageCount(data)
	}
	return doc
}

// DetectMIMEType picks the declared type when specific, then the extension,
// then content sniffing.
func DetectMIMEType(name string, data []byte, declaredType string) string {
	if mt := baseType(declaredType); mt != "" && mt != "application/octet-stream" {
		return mt
	}

	ext := strings.ToLower(filepath.Ext(name))
	if ext == ".pdf" {
		return MIMETypePDF
	}
	if mt := baseType(mime.TypeByExtension(ext)); mt != "" {
		return mt
	}

	return baseType(http.DetectContentType(data))
}

// Accept reports whether the document is an image or a PDF.
func Accept(doc *Document) error {
	if doc.IsPDF() || strings.HasPrefix(doc.MIMEType, "image/") {
		return nil
	}
	if strings.EqualFold(filepath.Ext(doc.Name), ".pdf") {
		return nil
	}
	return fmt.Errorf("%w: %s (%s)", ErrUnsupportedType, doc.Name, doc.MIMEType)
}

// CheckSize returns ErrTooLarge if size exceeds max. A non-positive max disables the check.
func CheckSize(size, max int64) error {
	if max > 0 && size > max {
		return fmt.Errorf("%w: %d bytes > %d bytes", ErrTooLarge, size, max)
	}
	return nil
}

func baseType(t string) string {
	if t == "" {
		return ""
	}
	mt, _, err := mime.ParseMediaType(t)
	if err != nil {
		return ""
	}
	return mt
}

// pageCount returns 0 when the PDF cannot be parsed; the model may still read it.
func pageCount(data []byte) (n int) {
	// pdfcpu can panic on malformed xref tables.
	defer func() {
		if recover() != nil {
			n = 0
		}
	}()

	n, err := api.PageCount(bytes.NewReader(data), nil)
	if err != nil {
		return 0
	}
	return n
}
