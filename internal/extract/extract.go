// Package extract turns document files into the plain text that warm embeds.
package extract

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"
)

type textFunc func(content []byte) (string, error)

var byExtension = map[string]textFunc{
	".pdf":  pdfText,
	".xlsx": spreadsheetText,
	".docx": wordText,
	".pptx": slidesText,
	".odt":  openDocumentText,
	".odp":  openDocumentText,
	".ods":  openDocumentText,
	".rtf":  richText,
}

// Supported reports whether ext (with leading dot) has a dedicated decoder. Other
// extensions are read as plain text.
func Supported(ext string) bool {
	_, ok := byExtension[strings.ToLower(ext)]
	return ok
}

// File returns the text content of the file at path.
func File(path string) (string, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read file: %w", err)
	}
	return Bytes(content, filepath.Ext(path))
}

// Bytes decodes content according to ext. Unknown extensions are treated as UTF-8 text
// with invalid sequences replaced.
func Bytes(content []byte, ext string) (string, error) {
	if fn, ok := byExtension[strings.ToLower(ext)]; ok {
		text, err := fn(content)
		if err != nil {
			return "", fmt.Errorf("extract %s: %w", ext, err)
		}
		return text, nil
	}
	return plainText(content), nil
}

func plainText(content []byte) string {
	if !utf8.Valid(content) {
		return strings.ToValidUTF8(string(content), "\uFFFD")
	}
	return string(content)
}
