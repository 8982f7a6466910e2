package extract

import (
	"archive/zip"
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/xuri/excelize/v2"
)

func zipOf(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range files {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := w.Write([]byte(content)); err != nil {
			t.Fatal(err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestBytes_plain(t *testing.T) {
	tests := []struct {
		name    string
		content string
		ext     string
		want    string
	}{
		{"txt", "Hello world\nLine 2", ".txt", "Hello world\nLine 2"},
		{"utf8", "caf\xc3\xa9", ".md", "café"},
		{"invalid utf8", "hello\x80world", ".rst", "hello\uFFFDworld"},
		{"unknown extension", "package main", ".go", "package main"},
		{"no extension", "plain", "", "plain"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Bytes([]byte(tt.content), tt.ext)
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestBytes_docx(t *testing.T) {
	content := zipOf(t, map[string]string{
		"word/document.xml": `<w:document><w:body><w:p w:rsidR="00A1"><w:r><w:t>Hello</w:t></w:r><w:r><w:t xml:space="preserve"> world </w:t></w:r></w:p></w:body></w:document>`,
	})
	got, err := Bytes(content, ".DOCX")
	if err != nil {
		t.Fatal(err)
	}
	if got != "Hello world" {
		t.Errorf("got %q", got)
	}
}

func TestBytes_pptxSlideOrder(t *testing.T) {
	content := zipOf(t, map[string]string{
		"ppt/slides/slide10.xml": `<p:sld><a:t>ten</a:t></p:sld>`,
		"ppt/slides/slide2.xml":  `<p:sld><a:t>two</a:t></p:sld>`,
		"ppt/slides/slide1.xml":  `<p:sld><a:t>one</a:t><a:t></a:t></p:sld>`,
		"ppt/slides/_rels/slide1.xml.rels": `<a:t>ignored</a:t>`,
	})
	got, err := Bytes(content, ".pptx")
	if err != nil {
		t.Fatal(err)
	}
	if got != "one two ten" {
		t.Errorf("got %q", got)
	}
}

func TestBytes_openDocument(t *testing.T) {
	content := zipOf(t, map[string]string{
		"content.xml": `<office:body><text:h text:outline-level="1">Title</text:h><text:p>Cell <text:span>A</text:span></text:p><text:p>B1</text:p></office:body>`,
	})
	for _, ext := range []string{".odt", ".odp", ".ods"} {
		got, err := Bytes(content, ext)
		if err != nil {
			t.Fatalf("%s: %v", ext, err)
		}
		if got != "Title A B1" {
			t.Errorf("%s: got %q", ext, got)
		}
	}
}

func TestBytes_missingPart(t *testing.T) {
	content := zipOf(t, map[string]string{"other.xml": "<x/>"})
	if _, err := Bytes(content, ".odt"); err == nil {
		t.Error("expected error for missing content.xml")
	}
	if _, err := Bytes(content, ".docx"); err == nil {
		t.Error("expected error for missing document.xml")
	}
}

func TestBytes_notZip(t *testing.T) {
	if _, err := Bytes([]byte("not a zip"), ".pptx"); err == nil {
		t.Error("expected error")
	}
}

func TestBytes_excel(t *testing.T) {
	f := excelize.NewFile()
	defer f.Close()
	f.SetCellValue("Sheet1", "A1", "Title")
	f.SetCellValue("Sheet1", "A2", "Value 1")
	f.SetCellValue("Sheet1", "B2", "Value 2")
	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		t.Fatal(err)
	}
	got, err := Bytes(buf.Bytes(), ".xlsx")
	if err != nil {
		t.Fatal(err)
	}
	if got != "Title\nValue 1\tValue 2" {
		t.Errorf("got %q", got)
	}
}

func TestFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "note.md")
	if err := os.WriteFile(path, []byte("# Note"), 0600); err != nil {
		t.Fatal(err)
	}
	got, err := File(path)
	if err != nil || got != "# Note" {
		t.Errorf("File() = %q, %v", got, err)
	}
	if _, err := File(filepath.Join(t.TempDir(), "missing.txt")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestSupported(t *testing.T) {
	if !Supported(".PDF") || !Supported(".xlsx") || Supported(".txt") {
		t.Error("unexpected Supported result")
	}
}
