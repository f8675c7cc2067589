package embedding

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"strings"
	"unicode"

	"coursebot/internal/domain"
)

// DefaultHashDims is the vector size of HashEmbedder when none is given.
const DefaultHashDims = 256

// HashEmbedder maps text to a normalized bag-of-words vector using feature
// hashing. It needs no model server, so it backs offline runs and tests.
// Similar wording yields similar vectors; synonyms do not.
type HashEmbedder struct {
	dims int
}

// NewHashEmbedder returns a hashing embedder with dims dimensions.
func NewHashEmbedder(dims int) *HashEmbedder {
	if dims <= 0 {
		dims = DefaultHashDims
	}
	return &HashEmbedder{dims: dims}
}

// Embed implements domain.Embedder.
func (h *HashEmbedder) Embed(ctx context.Context, text string) ([]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	terms := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	if len(terms) == 0 {
		return nil, fmt.Errorf("text must contain at least one word")
	}

	vec := make([]float64, h.dims)
	for _, t := range terms {
		f := fnv.New64a()
		_, _ = f.Write([]byte(t))
		sum := f.Sum64()
		sign := 1.0
		if sum&1 == 1 {
			sign = -1.0
		}
		vec[(sum>>1)%uint64(h.dims)] += sign
	}

	var norm float64
	for _, v := range vec {
		norm += v * v
	}
	norm = math.Sqrt(norm)
	if norm > 0 {
		for i := range vec {
			vec[i] /= norm
		}
	}
	return vec, nil
}

var _ domain.Embedder = (*HashEmbedder)(nil)
