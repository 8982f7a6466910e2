package extract

import "strings"

// Chunker splits text into overlapping windows of words so long documents can be embedded
// piecewise within the model's token limit.
type Chunker struct {
	size    int
	overlap int
}

// NewChunker returns a chunker with windows of size words sharing overlap words. A size of
// zero or less disables splitting.
func NewChunker(size, overlap int) *Chunker {
	return &Chunker{size: size, overlap: overlap}
}

// Split returns the windows of text, each joined with single spaces. Blank text yields nil.
// With splitting disabled the whole text is returned as one chunk, unchanged.
func (c *Chunker) Split(text string) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	if c.size <= 0 {
		return []string{text}
	}
	words := strings.Fields(text)
	step := c.size - c.overlap
	if step <= 0 {
		step = 1
	}
	var chunks []string
	for i := 0; i < len(words); i += step {
		end := min(i+c.size, len(words))
		chunks = append(chunks, strings.Join(words[i:end], " "))
		if end == len(words) {
			break
		}
	}
	return chunks
}
