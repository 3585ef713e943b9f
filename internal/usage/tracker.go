package usage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"chatcompose/internal/logging"
)

// Data is the persisted form of the tracker.
type Data struct {
	Version   string          `json:"version"`
	UpdatedAt time.Time       `json:"updated_at"`
	Aggregate AggregatedStats `json:"aggregate"`
}

// AggregatedStats holds prompt token sums broken down by dimension.
type AggregatedStats struct {
	Total      TokenCounts            `json:"total"`
	ByProvider map[string]TokenCounts `json:"by_provider"`
	ByModel    map[string]TokenCounts `json:"by_model"`
	ByRole     map[string]TokenCounts `json:"by_role"`
}

// TokenCounts holds the sums for one key.
type TokenCounts struct {
	Requests int64 `json:"requests"`
	Prompt   int64 `json:"prompt_tokens"`
	Images   int64 `json:"images"`
}

func (tc *TokenCounts) add(tokens, images int) {
	tc.Requests++
	tc.Prompt += int64(tokens)
	tc.Images += int64(images)
}

// Tracker aggregates estimates per provider and model and persists them to
// <dir>/usage.json.
type Tracker struct {
	mu       sync.Mutex
	data     Data
	filePath string
}

// NewTracker creates a tracker persisting under dir, loading any existing
// data. A corrupt file is logged and replaced on the next Save.
func NewTracker(dir string) (*Tracker, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create usage dir: %w", err)
	}
	t := &Tracker{
		filePath: filepath.Join(dir, "usage.json"),
		data:     Data{Version: "1.0"},
	}
	t.data.Aggregate.ensureMaps()

	if err := t.Load(); err != nil {
		logging.Get(logging.CategoryUsage).Warn("ignoring unreadable usage data",
			zap.String("path", t.filePath),
			zap.Error(err),
		)
	}
	return t, nil
}

func (a *AggregatedStats) ensureMaps() {
	if a.ByProvider == nil {
		a.ByProvider = make(map[string]TokenCounts)
	}
	if a.ByModel == nil {
		a.ByModel = make(map[string]TokenCounts)
	}
	if a.ByRole == nil {
		a.ByRole = make(map[string]TokenCounts)
	}
}

// Load reads the usage data from disk.
func (t *Tracker) Load() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	data, err := os.ReadFile(t.filePath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}

	var loaded Data
	if err := json.Unmarshal(data, &loaded); err != nil {
		return err
	}
	loaded.Aggregate.ensureMaps()
	t.data = loaded
	return nil
}

// Save writes the usage data to disk.
func (t *Tracker) Save() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	data, err := json.MarshalIndent(t.data, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(t.filePath, data, 0644)
}

// Track records one estimate against a provider and model.
func (t *Tracker) Track(providerID, model string, est Estimate) {
	t.mu.Lock()
	defer t.mu.Unlock()

	agg := &t.data.Aggregate
	agg.Total.add(est.Total, est.Images)
	addToMap(agg.ByProvider, providerID, est.Total, est.Images)
	addToMap(agg.ByModel, model, est.Total, est.Images)
	for role, tokens := range est.ByRole {
		entry := agg.ByRole[string(role)]
		entry.Prompt += int64(tokens)
		agg.ByRole[string(role)] = entry
	}
	t.data.UpdatedAt = time.Now().UTC()
}

// Stats returns a copy of the aggregated stats.
func (t *Tracker) Stats() AggregatedStats {
	t.mu.Lock()
	defer t.mu.Unlock()
	stats := t.data.Aggregate
	stats.ByProvider = copyTokenCountsMap(stats.ByProvider)
	stats.ByModel = copyTokenCountsMap(stats.ByModel)
	stats.ByRole = copyTokenCountsMap(stats.ByRole)
	return stats
}

func copyTokenCountsMap(src map[string]TokenCounts) map[string]TokenCounts {
	dst := make(map[string]TokenCounts, len(src))
	for key, counts := range src {
		dst[key] = counts
	}
	return dst
}

func addToMap(m map[string]TokenCounts, key string, tokens, images int) {
	entry := m[key]
	entry.add(tokens, images)
	m[key] = entry
}
