// Package usage estimates and records the prompt token usage of composed
// generation inputs.
package usage

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"chatcompose/internal/logging"
	"chatcompose/internal/message"
)

// DefaultImageTokens is charged for every inline image.
const DefaultImageTokens = 765

// Counter counts the tokens of a text. *cache.TokenCounter satisfies it.
type Counter interface {
	Count(ctx context.Context, text string) (int, error)
}

// Estimate is the token breakdown of one generation input.
type Estimate struct {
	Total  int
	ByRole map[message.Role]int
	// Images is the number of inline images; each costs ImageTokens.
	Images int
	// Unresolved counts file pointers, which contribute nothing.
	Unresolved int
	// ContextSize and Remaining are zero when no context size is known.
	ContextSize int
	Remaining   int
}

// Estimator sums token counts over input messages.
type Estimator struct {
	counter     Counter
	ImageTokens int
}

// NewEstimator creates an estimator over counter.
func NewEstimator(counter Counter) *Estimator {
	return &Estimator{counter: counter, ImageTokens: DefaultImageTokens}
}

// Estimate counts the text of every message concurrently. contextSize is the
// model's context window; pass 0 when unknown.
func (e *Estimator) Estimate(ctx context.Context, messages []message.InputMessage, contextSize int) (Estimate, error) {
	counts := make([]int, len(messages))
	est := Estimate{ByRole: make(map[message.Role]int), ContextSize: contextSize}

	g, gctx := errgroup.WithContext(ctx)
	for i, m := range messages {
		switch c := m.Content.(type) {
		case message.Text:
			if c.Text == "" {
				continue
			}
			i := i
			g.Go(func() error {
				n, err := e.counter.Count(gctx, c.Text)
				if err != nil {
					return fmt.Errorf("failed to count tokens for message %d: %w", i, err)
				}
				counts[i] = n
				return nil
			})
		case message.Image:
			counts[i] = e.ImageTokens
			est.Images++
		case message.TextFilePointer, message.ImageFilePointer:
			est.Unresolved++
		}
	}
	if err := g.Wait(); err != nil {
		return Estimate{}, err
	}

	for i, m := range messages {
		est.Total += counts[i]
		est.ByRole[m.Role] += counts[i]
	}
	if contextSize > 0 {
		est.Remaining = max(contextSize-est.Total, 0)
	}

	logging.Get(logging.CategoryUsage).Debug("token estimate",
		zap.Int("messages", len(messages)),
		zap.Int("total", est.Total),
		zap.Int("images", est.Images),
		zap.Int("unresolved", est.Unresolved),
	)
	return est, nil
}
