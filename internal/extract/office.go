package extract

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"regexp"
	"sort"
	"strings"

	"github.com/lu4p/cat"
	"github.com/xuri/excelize/v2"
)

var (
	wordRun    = regexp.MustCompile(`<w:t[^>]*>([^<]*)</w:t>`)
	drawingRun = regexp.MustCompile(`<a:t[^>]*>([^<]*)</a:t>`)
	odfText    = regexp.MustCompile(`<text:(?:p|h|span)[^>]*>([^<]*)</text:(?:p|h|span)>`)
	slideName  = regexp.MustCompile(`^ppt/slides/slide(\d+)\.xml$`)
)

// zipParts returns the contents of the members accepted by keep, in archive order.
func zipParts(content []byte, keep func(name string) bool) ([]string, [][]byte, error) {
	zr, err := zip.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return nil, nil, fmt.Errorf("not a zip archive: %w", err)
	}
	var names []string
	var parts [][]byte
	for _, f := range zr.File {
		if !keep(f.Name) {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, nil, fmt.Errorf("open %s: %w", f.Name, err)
		}
		data, err := io.ReadAll(rc)
		_ = rc.Close()
		if err != nil {
			return nil, nil, fmt.Errorf("read %s: %w", f.Name, err)
		}
		names = append(names, f.Name)
		parts = append(parts, data)
	}
	return names, parts, nil
}

// joinMatches joins the first capture group of every match with single spaces.
func joinMatches(re *regexp.Regexp, docs ...[]byte) string {
	var words []string
	for _, doc := range docs {
		for _, m := range re.FindAllSubmatch(doc, -1) {
			if w := strings.TrimSpace(string(m[1])); w != "" {
				words = append(words, w)
			}
		}
	}
	return strings.Join(words, " ")
}

func wordText(content []byte) (string, error) {
	_, parts, err := zipParts(content, func(name string) bool {
		return strings.HasPrefix(name, "word/document") && strings.HasSuffix(name, ".xml")
	})
	if err != nil {
		return "", err
	}
	if len(parts) == 0 {
		return "", fmt.Errorf("no word/document.xml")
	}
	return joinMatches(wordRun, parts...), nil
}

func slidesText(content []byte) (string, error) {
	names, parts, err := zipParts(content, slideName.MatchString)
	if err != nil {
		return "", err
	}
	// slide10 sorts after slide9
	order := make([]int, len(parts))
	for i := range order {
		order[i] = i
	}
	number := func(i int) int {
		var n int
		fmt.Sscanf(slideName.FindStringSubmatch(names[i])[1], "%d", &n)
		return n
	}
	sort.Slice(order, func(a, b int) bool { return number(order[a]) < number(order[b]) })
	sorted := make([][]byte, len(parts))
	for i, idx := range order {
		sorted[i] = parts[idx]
	}
	return joinMatches(drawingRun, sorted...), nil
}

func openDocumentText(content []byte) (string, error) {
	_, parts, err := zipParts(content, func(name string) bool { return name == "content.xml" })
	if err != nil {
		return "", err
	}
	if len(parts) == 0 {
		return "", fmt.Errorf("no content.xml")
	}
	return joinMatches(odfText, parts...), nil
}

func spreadsheetText(content []byte) (string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(content))
	if err != nil {
		return "", err
	}
	defer f.Close()
	var b strings.Builder
	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil {
			return "", fmt.Errorf("sheet %q: %w", sheet, err)
		}
		for _, row := range rows {
			b.WriteString(strings.Join(row, "\t"))
			b.WriteByte('\n')
		}
	}
	return strings.TrimSpace(b.String()), nil
}

func richText(content []byte) (string, error) {
	return cat.FromBytes(content)
}
