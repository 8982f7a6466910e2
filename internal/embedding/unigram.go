package embedding

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// metaspace marks a word start in SentencePiece vocabularies.
const metaspace = "▁"

// unkPenalty is subtracted from the lowest piece score to score unknown characters.
const unkPenalty = 10.0

type piece struct {
	id    int64
	score float64
}

// UnigramTokenizer is a SentencePiece unigram tokenizer read from a Hugging Face
// tokenizer.json, as shipped with XLM-R based sentence-transformer models. Text is NFKC
// normalized, split on whitespace with a "▁" word prefix, and each word is segmented by
// Viterbi search over the piece scores.
type UnigramTokenizer struct {
	pieces        map[string]piece
	maxPieceRunes int
	unkID         int64
	unkScore      float64
	bosID         int64
	eosID         int64
	padID         int64
}

type tokenizerFile struct {
	Model struct {
		Type  string            `json:"type"`
		UnkID *int64            `json:"unk_id"`
		Vocab []json.RawMessage `json:"vocab"`
	} `json:"model"`
}

// LoadUnigramTokenizer reads a tokenizer.json whose model type is Unigram.
func LoadUnigramTokenizer(path string) (*UnigramTokenizer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read tokenizer: %w", err)
	}
	return ParseUnigramTokenizer(data)
}

// ParseUnigramTokenizer parses tokenizer.json content.
func ParseUnigramTokenizer(data []byte) (*UnigramTokenizer, error) {
	var f tokenizerFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse tokenizer: %w", err)
	}
	if f.Model.Type != "Unigram" {
		return nil, fmt.Errorf("unsupported tokenizer model %q", f.Model.Type)
	}
	t := &UnigramTokenizer{pieces: make(map[string]piece, len(f.Model.Vocab))}
	minScore := 0.0
	for i, raw := range f.Model.Vocab {
		var entry []any
		if err := json.Unmarshal(raw, &entry); err != nil || len(entry) != 2 {
			return nil, fmt.Errorf("malformed vocab entry %d", i)
		}
		text, ok := entry[0].(string)
		score, ok2 := entry[1].(float64)
		if !ok || !ok2 {
			return nil, fmt.Errorf("malformed vocab entry %d", i)
		}
		t.pieces[text] = piece{id: int64(i), score: score}
		t.maxPieceRunes = max(t.maxPieceRunes, utf8.RuneCountInString(text))
		minScore = min(minScore, score)
	}
	t.unkScore = minScore - unkPenalty

	special := func(name string, fallback int64) int64 {
		if p, ok := t.pieces[name]; ok {
			return p.id
		}
		return fallback
	}
	t.bosID = special("<s>", 0)
	t.padID = special("<pad>", 1)
	t.eosID = special("</s>", 2)
	t.unkID = special("<unk>", 3)
	if f.Model.UnkID != nil {
		t.unkID = *f.Model.UnkID
	}
	// Control tokens are never produced from input text.
	for _, name := range []string{"<s>", "<pad>", "</s>", "<unk>", "<mask>"} {
		delete(t.pieces, name)
	}
	return t, nil
}

// Tokenize produces padded token IDs up to maxTokens, framed by <s> and </s>.
func (t *UnigramTokenizer) Tokenize(text string, maxTokens int) (inputIDs, attentionMask, tokenTypeIDs []int64) {
	if maxTokens <= 2 {
		maxTokens = 256
	}
	inputIDs = make([]int64, maxTokens)
	attentionMask = make([]int64, maxTokens)
	tokenTypeIDs = make([]int64, maxTokens)
	for i := range inputIDs {
		inputIDs[i] = t.padID
	}

	inputIDs[0] = t.bosID
	attentionMask[0] = 1
	pos := 1
	for _, id := range t.Encode(text) {
		if pos >= maxTokens-1 {
			break
		}
		inputIDs[pos] = id
		attentionMask[pos] = 1
		pos++
	}
	inputIDs[pos] = t.eosID
	attentionMask[pos] = 1
	return inputIDs, attentionMask, tokenTypeIDs
}

// Encode returns the piece ids of text without special tokens.
func (t *UnigramTokenizer) Encode(text string) []int64 {
	var ids []int64
	for _, word := range strings.Fields(norm.NFKC.String(text)) {
		ids = append(ids, t.segment(metaspace+word)...)
	}
	return ids
}

// segment finds the highest scoring split of word into pieces. Characters no piece covers
// become <unk>; adjacent unknowns are fused.
func (t *UnigramTokenizer) segment(word string) []int64 {
	runes := []rune(word)
	n := len(runes)
	best := make([]float64, n+1)
	from := make([]int, n+1)
	ids := make([]int64, n+1)
	for i := 1; i <= n; i++ {
		best[i] = math.Inf(-1)
	}
	for i := 0; i < n; i++ {
		if math.IsInf(best[i], -1) {
			continue
		}
		single := false
		for l := 1; l <= t.maxPieceRunes && i+l <= n; l++ {
			p, ok := t.pieces[string(runes[i:i+l])]
			if !ok {
				continue
			}
			if l == 1 {
				single = true
			}
			if s := best[i] + p.score; s > best[i+l] {
				best[i+l], from[i+l], ids[i+l] = s, i, p.id
			}
		}
		if !single {
			if s := best[i] + t.unkScore; s > best[i+1] {
				best[i+1], from[i+1], ids[i+1] = s, i, t.unkID
			}
		}
	}

	var out []int64
	for end := n; end > 0; end = from[end] {
		out = append(out, ids[end])
	}
	fused := make([]int64, 0, len(out))
	for i := len(out) - 1; i >= 0; i-- {
		id := out[i]
		if id == t.unkID && len(fused) > 0 && fused[len(fused)-1] == t.unkID {
			continue
		}
		fused = append(fused, id)
	}
	return fused
}
