package tokenizer

import (
	"fmt"
	"log/slog"
	"strings"
	"unicode"

	tiktoken "github.com/pkoukk/tiktoken-go"

	"coursebot/internal/domain"
)

// DefaultEncoding is the BPE used to budget conversation history.
const DefaultEncoding = "cl100k_base"

// TikToken counts BPE tokens with tiktoken-go.
type TikToken struct {
	encoding *tiktoken.Tiktoken
}

// NewTikToken loads the named encoding. tiktoken-go fetches the BPE ranks on
// first use, so this can fail offline.
func NewTikToken(encodingName string) (*TikToken, error) {
	enc, err := tiktoken.GetEncoding(encodingName)
	if err != nil {
		return nil, fmt.Errorf("tokenizer: unknown encoding %q: %w", encodingName, err)
	}
	return &TikToken{encoding: enc}, nil
}

// CountTokens returns the number of tokens in text.
func (t *TikToken) CountTokens(text string) (int, error) {
	if text == "" {
		return 0, nil
	}
	return len(t.encoding.Encode(text, nil, nil)), nil
}

// Approx estimates tokens without a vocabulary: every word costs one token
// plus one per four runes beyond the first four, and punctuation costs one.
type Approx struct{}

// CountTokens implements domain.Tokenizer.
func (Approx) CountTokens(text string) (int, error) {
	count := 0
	for _, f := range strings.FieldsFunc(text, unicode.IsSpace) {
		word := 0
		for _, r := range f {
			if unicode.IsPunct(r) || unicode.IsSymbol(r) {
				count++
				continue
			}
			word++
		}
		if word > 0 {
			count += 1 + (word-1)/4
		}
	}
	return count, nil
}

// New returns a tiktoken counter for encodingName, or Approx when the
// encoding cannot be loaded.
func New(encodingName string, logger *slog.Logger) domain.Tokenizer {
	if encodingName == "" {
		encodingName = DefaultEncoding
	}
	tok, err := NewTikToken(encodingName)
	if err != nil {
		if logger != nil {
			logger.Warn("tiktoken unavailable, using approximate token counts", "encoding", encodingName, "error", err)
		}
		return Approx{}
	}
	return tok
}

var (
	_ domain.Tokenizer = (*TikToken)(nil)
	_ domain.Tokenizer = Approx{}
)
