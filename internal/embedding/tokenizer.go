package embedding

import (
	"hash/fnv"
	"unicode"
)

// BERT special token ids.
const (
	clsTokenID = 101
	sepTokenID = 102
	vocabSize  = 30000
)

// Tokenizer produces token IDs for BERT-style models (input_ids, attention_mask, token_type_ids).
type Tokenizer interface {
	Tokenize(text string, maxTokens int) (inputIDs, attentionMask, tokenTypeIDs []int64)
}

// WordTokenizer splits on whitespace and punctuation with hash-based token IDs.
// Han, Hiragana, Katakana and Hangul characters become one token each, since those
// scripts do not separate words with spaces.
type WordTokenizer struct{}

// Tokenize produces padded token IDs up to maxTokens, framed by [CLS] and [SEP].
func (t *WordTokenizer) Tokenize(text string, maxTokens int) (inputIDs, attentionMask, tokenTypeIDs []int64) {
	if maxTokens <= 2 {
		maxTokens = 256
	}
	inputIDs = make([]int64, maxTokens)
	attentionMask = make([]int64, maxTokens)
	tokenTypeIDs = make([]int64, maxTokens)

	inputIDs[0] = clsTokenID
	attentionMask[0] = 1

	pos := 1
	for _, word := range t.Split(text) {
		if pos >= maxTokens-1 {
			break
		}
		inputIDs[pos] = tokenID(word)
		attentionMask[pos] = 1
		pos++
	}
	inputIDs[pos] = sepTokenID
	attentionMask[pos] = 1
	return inputIDs, attentionMask, tokenTypeIDs
}

// Split returns the non-empty tokens of text.
func (t *WordTokenizer) Split(text string) []string {
	var tokens []string
	word := make([]rune, 0, 16)
	flush := func() {
		if len(word) > 0 {
			tokens = append(tokens, string(word))
			word = word[:0]
		}
	}
	for _, r := range text {
		switch {
		case isCJK(r):
			flush()
			tokens = append(tokens, string(r))
		case unicode.IsSpace(r) || unicode.IsPunct(r) || unicode.IsSymbol(r):
			flush()
		default:
			word = append(word, unicode.ToLower(r))
		}
	}
	flush()
	return tokens
}

func isCJK(r rune) bool {
	return unicode.In(r, unicode.Han, unicode.Hiragana, unicode.Katakana, unicode.Hangul)
}

// tokenID maps a word into the vocabulary range, skipping the special ids.
func tokenID(word string) int64 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(word))
	id := int64(h.Sum32() % vocabSize)
	if id <= sepTokenID {
		id += sepTokenID + 1
	}
	return id
}
