// Package prompt supplies the system, assistant and external prompts used by
// composition.
package prompt

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"chatcompose/internal/compose"
	"chatcompose/internal/config"
	"chatcompose/internal/logging"
	"chatcompose/internal/message"
)

// ErrPromptNotFound is returned for unknown external prompt names.
var ErrPromptNotFound = errors.New("prompt not found")

// ExternalStore fetches prompts by name.
type ExternalStore interface {
	GetPrompt(ctx context.Context, name string) (string, error)
}

// Assistant is a stored assistant definition.
type Assistant struct {
	ID   uuid.UUID
	Name string
	// Inline prompt or external prompt name; at most one is set.
	Prompt         string
	PromptExternal string
	FileIDs        []uuid.UUID
}

// AssistantLookup loads assistants by id.
type AssistantLookup interface {
	GetAssistant(ctx context.Context, id uuid.UUID) (Assistant, error)
}

// Provider implements compose.PromptProvider.
type Provider struct {
	external   ExternalStore
	assistants AssistantLookup
	renderer   *Renderer
}

var _ compose.PromptProvider = (*Provider)(nil)

// NewProvider creates a prompt provider. assistants may be nil when no chat
// is ever bound to an assistant.
func NewProvider(external ExternalStore, assistants AssistantLookup, renderer *Renderer) *Provider {
	if renderer == nil {
		renderer = NewRenderer()
	}
	return &Provider{external: external, assistants: assistants, renderer: renderer}
}

// GetSystemPrompt returns the provider's system prompt spec, or nil. Inline
// prompts are rendered immediately; external ones when resolved.
func (p *Provider) GetSystemPrompt(ctx context.Context, provider config.ChatProviderConfig, preferredLanguage string) (compose.PromptSpec, error) {
	switch {
	case provider.SystemPromptExternal != "":
		return compose.ExternalPrompt{Name: provider.SystemPromptExternal, Language: preferredLanguage}, nil
	case provider.SystemPrompt != "":
		return compose.StaticPrompt{Content: p.renderer.Render(provider.SystemPrompt, preferredLanguage)}, nil
	}
	return nil, nil
}

// ResolveExternalPrompt fetches and renders an external prompt.
func (p *Provider) ResolveExternalPrompt(ctx context.Context, spec compose.ExternalPrompt) (string, error) {
	if p.external == nil {
		return "", fmt.Errorf("%w: no external prompt store configured for %q", ErrPromptNotFound, spec.Name)
	}
	text, err := p.external.GetPrompt(ctx, spec.Name)
	if err != nil {
		return "", err
	}
	logging.Get(logging.CategoryPrompt).Debug("external prompt resolved",
		zap.String("name", spec.Name),
		zap.Int("length", len(text)),
	)
	return p.renderer.Render(text, spec.Language), nil
}

// GetAssistantConfig returns the chat's assistant, or nil for unbound chats.
func (p *Provider) GetAssistantConfig(ctx context.Context, chat message.Chat) (*compose.AssistantConfig, error) {
	if chat.AssistantID == nil || p.assistants == nil {
		return nil, nil
	}
	a, err := p.assistants.GetAssistant(ctx, *chat.AssistantID)
	if err != nil {
		return nil, fmt.Errorf("failed to load assistant %s: %w", *chat.AssistantID, err)
	}

	cfg := &compose.AssistantConfig{ID: a.ID, Name: a.Name, FileIDs: a.FileIDs}
	switch {
	case a.PromptExternal != "":
		cfg.Prompt = compose.ExternalPrompt{Name: a.PromptExternal}
	case a.Prompt != "":
		cfg.Prompt = compose.StaticPrompt{Content: a.Prompt}
	}
	return cfg, nil
}

// DirStore serves external prompts from <dir>/<name>.md or <dir>/<name>.txt.
type DirStore struct {
	dir string
}

// NewDirStore creates a store over dir.
func NewDirStore(dir string) *DirStore {
	return &DirStore{dir: dir}
}

// GetPrompt implements ExternalStore.
func (s *DirStore) GetPrompt(ctx context.Context, name string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if name == "" || strings.ContainsAny(name, `/\`) || strings.HasPrefix(name, ".") {
		return "", fmt.Errorf("%w: invalid prompt name %q", ErrPromptNotFound, name)
	}

	for _, ext := range []string{".md", ".txt"} {
		data, err := os.ReadFile(filepath.Join(s.dir, name+ext))
		if err == nil {
			return strings.TrimSpace(string(data)), nil
		}
		if !os.IsNotExist(err) {
			return "", fmt.Errorf("failed to read prompt %s: %w", name, err)
		}
	}
	return "", fmt.Errorf("%w: %s", ErrPromptNotFound, name)
}
