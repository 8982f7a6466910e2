package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"strings"

	"github.com/hyperjump/embedkit/pkg/utils"
)

// HashModelName is reported by HashEmbedder as its model name.
const HashModelName = "hash-sha256"

// bucketsPerFeature is how many vector slots each token contributes to.
const bucketsPerFeature = 4

// HashEmbedder is a deterministic, offline embedder. Each token is hashed with SHA-256
// into a few signed buckets (feature hashing), so texts sharing words land close together.
// The whole text is always hashed in as well, which keeps the vector non-zero for any input.
type HashEmbedder struct {
	dimensions int
	tokenizer  *WordTokenizer
}

// NewHashEmbedder returns an embedder that produces deterministic embeddings of the given dimensions.
func NewHashEmbedder(dimensions int) *HashEmbedder {
	if dimensions <= 0 {
		dimensions = 384
	}
	return &HashEmbedder{dimensions: dimensions, tokenizer: &WordTokenizer{}}
}

// Embed returns a unit-length embedding derived from the text's tokens.
func (e *HashEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	emb := make([]float32, e.dimensions)
	for _, tok := range e.tokenizer.Split(text) {
		e.addFeature(emb, "t:"+strings.ToLower(tok), 1)
	}
	e.addFeature(emb, "s:"+text, 0.5)
	utils.NormalizeL2(emb)
	return emb, nil
}

func (e *HashEmbedder) addFeature(emb []float32, feature string, weight float32) {
	sum := sha256.Sum256([]byte(feature))
	for j := 0; j < bucketsPerFeature; j++ {
		chunk := sum[j*8 : j*8+8]
		idx := binary.LittleEndian.Uint32(chunk[:4]) % uint32(e.dimensions)
		if chunk[4]&1 == 1 {
			emb[idx] -= weight
		} else {
			emb[idx] += weight
		}
	}
}

// EmbedBatch calls Embed for each text.
func (e *HashEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return embedEach(ctx, e, texts)
}

// Dimensions returns the embedding dimension.
func (e *HashEmbedder) Dimensions() int {
	return e.dimensions
}

// Model returns HashModelName.
func (e *HashEmbedder) Model() string {
	return HashModelName
}

// Close is a no-op.
func (e *HashEmbedder) Close() error {
	return nil
}
