package document

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"testing/iotest"
)

var pngHeader = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n', 0, 0, 0, 0}

func TestRead(t *testing.T) {
	t.Run("encodes content and hashes it", func(t *testing.T) {
		doc, err := Read("exame.png", strings.NewReader("hello"), "image/png")
		if err != nil {
			t.Fatalf("Read() error = %v", err)
		}
		if doc.Base64() != "aGVsbG8=" {
			t.Errorf("Base64() = %q", doc.Base64())
		}
		if doc.Size != 5 {
			t.Errorf("Size = %d, want 5", doc.Size)
		}
		if doc.SHA256 != "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824" {
			t.Errorf("SHA256 = %s", doc.SHA256)
		}
	})

	t.Run("propagates read errors", func(t *testing.T) {
		_, err := Read("broken.pdf", iotest.ErrReader(errors.New("disk gone")), "")
		if err == nil || !strings.Contains(err.Error(), "disk gone") {
			t.Errorf("expected wrapped read error, got %v", err)
		}
	})

	t.Run("invalid pdf still encodes with zero pages", func(t *testing.T) {
		doc, err := Read("laudo.pdf", strings.NewReader("%PDF-1.4 not really"), "")
		if err != nil {
			t.Fatalf("Read() error = %v", err)
		}
		if !doc.IsPDF() {
			t.Errorf("MIMEType = %s, want application/pdf", doc.MIMEType)
		}
		if doc.Pages != 0 {
			t.Errorf("Pages = %d, want 0", doc.Pages)
		}
	})
}

func TestOpen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "hemograma.png")
	if err := os.WriteFile(path, pngHeader, 0o644); err != nil {
		t.Fatal(err)
	}

	doc, err := Open(path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if doc.Name != "hemograma.png" {
		t.Errorf("Name = %q", doc.Name)
	}
	if doc.MIMEType != "image/png" {
		t.Errorf("MIMEType = %q", doc.MIMEType)
	}

	if _, err := Open(filepath.Join(dir, "missing.pdf")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestDetectMIMEType(t *testing.T) {
	tests := []struct {
		name     string
		file     string
		data     []byte
		declared string
		want     string
	}{
		{"declared wins", "x.bin", nil, "image/jpeg", "image/jpeg"},
		{"declared with params", "x", nil, "image/png; charset=binary", "image/png"},
		{"octet stream falls through", "x.pdf", nil, "application/octet-stream", "application/pdf"},
		{"pdf extension", "LAUDO.PDF", nil, "", "application/pdf"},
		{"sniffed png", "noext", pngHeader, "", "image/png"},
		{"sniffed pdf", "noext", []byte("%PDF-1.7\n"), "", "application/pdf"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DetectMIMEType(tt.file, tt.data, tt.declared); got != tt.want {
				t.Errorf("DetectMIMEType() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestAccept(t *testing.T) {
	tests := []struct {
		doc     *Document
		wantErr bool
	}{
		{&Document{Name: "a.pdf", MIMEType: "application/pdf"}, false},
		{&Document{Name: "a.jpg", MIMEType: "image/jpeg"}, false},
		{&Document{Name: "a.webp", MIMEType: "image/webp"}, false},
		{&Document{Name: "a.txt", MIMEType: "text/plain"}, true},
		{&Document{Name: "a.zip", MIMEType: "application/zip"}, true},
	}
	for _, tt := range tests {
		err := Accept(tt.doc)
		if (err != nil) != tt.wantErr {
			t.Errorf("Accept(%s) error = %v, wantErr %v", tt.doc.Name, err, tt.wantErr)
		}
		if err != nil && !errors.Is(err, ErrUnsupportedType) {
			t.Errorf("Accept(%s) error should wrap ErrUnsupportedType", tt.doc.Name)
		}
	}
}

func TestCheckSize(t *testing.T) {
	if err := CheckSize(DefaultMaxBytes, DefaultMaxBytes); err != nil {
		t.Errorf("limit itself should pass: %v", err)
	}
	if err := CheckSize(DefaultMaxBytes+1, DefaultMaxBytes); !errors.Is(err, ErrTooLarge) {
		t.Errorf("expected ErrTooLarge, got %v", err)
	}
	if err := CheckSize(1<<40, 0); err != nil {
		t.Errorf("zero limit disables the check: %v", err)
	}
}
