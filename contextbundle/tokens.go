package contextbundle

import (
	"fmt"

	"github.com/tiktoken-go/tokenizer"
)

// Counter counts prompt tokens.
type Counter interface {
	Count(text string) int
}

// CounterFunc adapts a function to Counter.
type CounterFunc func(string) int

func (f CounterFunc) Count(text string) int { return f(text) }

// TokenCounter counts with a tiktoken encoding. Models the tokenizer does
// not know are counted with the GPT-4 encoding.
type TokenCounter struct {
	codec tokenizer.Codec
}

func NewTokenCounter(model string) (*TokenCounter, error) {
	codec, err := tokenizer.ForModel(tokenizer.Model(model))
	if err != nil {
		codec, err = tokenizer.ForModel(tokenizer.GPT4)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create tokenizer codec for model %s: %w", model, err)
	}
	return &TokenCounter{codec: codec}, nil
}

func (c *TokenCounter) Count(text string) int {
	if c == nil || c.codec == nil {
		return len(text) / 4
	}
	n, err := c.codec.Count(text)
	if err != nil {
		return len(text) / 4
	}
	return n
}
