package summarizer

import (
	"fmt"
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// TokenBudget trims document text so the prompt stays under a token limit.
// The encoding is loaded on first use; a nil budget or a limit <= 0 is a no-op.
type TokenBudget struct {
	limit int
	model string

	once sync.Once
	enc  *tiktoken.Tiktoken
	err  error
}

// NewTokenBudget creates a budget of limit tokens for the given model family.
func NewTokenBudget(model string, limit int) *TokenBudget {
	return &TokenBudget{limit: limit, model: model}
}

// Fit returns text cut to the token limit and whether it was cut.
func (b *TokenBudget) Fit(text string) (string, bool, error) {
	if b == nil || b.limit <= 0 || text == "" {
		return text, false, nil
	}

	b.once.Do(func() {
		name := encodingForModel(b.model)
		b.enc, b.err = tiktoken.GetEncoding(name)
		if b.err != nil {
			b.err = fmt.Errorf("load %s encoding: %w", name, b.err)
		}
	})
	if b.err != nil {
		return "", false, b.err
	}

	tokens := b.enc.Encode(text, nil, nil)
	if len(tokens) <= b.limit {
		return text, false, nil
	}
	return b.enc.Decode(tokens[:b.limit]), true, nil
}

func encodingForModel(model string) string {
	switch {
	case strings.HasPrefix(model, "gpt-4o"), strings.HasPrefix(model, "o1"), strings.HasPrefix(model, "o3"):
		return "o200k_base"
	default:
		return "cl100k_base"
	}
}
