package cache

import (
	"context"
	"fmt"
	"runtime"
	"sync"

	"github.com/pkoukk/tiktoken-go"
	"golang.org/x/sync/semaphore"
)

// Encoder turns text into a token count.
type Encoder interface {
	CountTokens(text string) (int, error)
}

// TiktokenEncoder counts tokens with a BPE encoding. The encoding is loaded on
// first use so that a load failure surfaces as a computation error.
type TiktokenEncoder struct {
	encoding string
	load     func() (*tiktoken.Tiktoken, error)
}

// NewTiktokenEncoder creates an encoder for the named encoding
// (e.g. "o200k_base", "cl100k_base").
func NewTiktokenEncoder(encoding string) *TiktokenEncoder {
	return &TiktokenEncoder{
		encoding: encoding,
		load: sync.OnceValues(func() (*tiktoken.Tiktoken, error) {
			return tiktoken.GetEncoding(encoding)
		}),
	}
}

// CountTokens implements Encoder.
func (e *TiktokenEncoder) CountTokens(text string) (int, error) {
	tke, err := e.load()
	if err != nil {
		return 0, fmt.Errorf("failed to initialize tokenizer %s: %w", e.encoding, err)
	}
	return len(tke.Encode(text, nil, nil)), nil
}

// TokenCounter counts tokens through a Cache keyed by the hash of the text.
// Tokenization is CPU bound; at most GOMAXPROCS encodings run at once.
type TokenCounter struct {
	cache   *Cache[int]
	encoder Encoder
	sem     *semaphore.Weighted
}

// NewTokenCounter creates a counter over the given cache and encoder.
func NewTokenCounter(c *Cache[int], enc Encoder) *TokenCounter {
	return &TokenCounter{
		cache:   c,
		encoder: enc,
		sem:     semaphore.NewWeighted(int64(runtime.GOMAXPROCS(0))),
	}
}

// Count returns the token count of text.
func (t *TokenCounter) Count(ctx context.Context, text string) (int, error) {
	if text == "" {
		return 0, nil
	}
	return t.cache.GetOrCompute(ctx, HashKey(text), func(ctx context.Context) (int, error) {
		if err := t.sem.Acquire(ctx, 1); err != nil {
			return 0, err
		}
		defer t.sem.Release(1)
		return t.encoder.CountTokens(text)
	})
}

// Stats returns the underlying cache counters.
func (t *TokenCounter) Stats() Stats {
	return t.cache.Stats()
}
