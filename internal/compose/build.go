package compose

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"chatcompose/internal/config"
	"chatcompose/internal/facets"
	"chatcompose/internal/logging"
	"chatcompose/internal/message"
)

// DefaultHistoryWindow is the number of stored messages walked back from the
// previous message.
const DefaultHistoryWindow = 10

// BuildRequest is the input of phase 1.
type BuildRequest struct {
	Chat message.Chat
	// The message the new generation answers, usually the one the user just
	// submitted.
	PreviousMessageID uuid.UUID
	NewFileIDs        []uuid.UUID
	Provider          config.ChatProviderConfig
	PreferredLanguage string
	SelectedFacets    []string
}

// Builder produces the abstract sequence of a request.
type Builder struct {
	messages      MessageRepository
	prompts       PromptProvider
	facets        config.FacetsConfig
	historyWindow int
}

// NewBuilder creates a phase 1 builder. A non-positive window falls back to
// DefaultHistoryWindow.
func NewBuilder(messages MessageRepository, prompts PromptProvider, facetsCfg config.FacetsConfig, historyWindow int) *Builder {
	if historyWindow <= 0 {
		historyWindow = DefaultHistoryWindow
	}
	return &Builder{
		messages:      messages,
		prompts:       prompts,
		facets:        facetsCfg,
		historyWindow: historyWindow,
	}
}

// Build determines the ordered parts of the request: system prompt, assistant
// prompt, facet prompts, history, new user files and, on the first turn, the
// assistant's files.
//
// An unknown previous message or malformed stored content fails the build.
func (b *Builder) Build(ctx context.Context, req BuildRequest) (AbstractChatSequence, error) {
	previous, err := b.messages.GetMessageByID(ctx, req.PreviousMessageID)
	if err != nil {
		return AbstractChatSequence{}, fmt.Errorf("failed to load previous message %s: %w", req.PreviousMessageID, err)
	}
	firstTurn := previous.IsFirst()

	var parts []Part

	system, err := b.prompts.GetSystemPrompt(ctx, req.Provider, req.PreferredLanguage)
	if err != nil {
		return AbstractChatSequence{}, fmt.Errorf("failed to get system prompt: %w", err)
	}
	if system != nil {
		parts = append(parts, SystemPrompt{Spec: system})
	}

	assistant, err := b.prompts.GetAssistantConfig(ctx, req.Chat)
	if err != nil {
		return AbstractChatSequence{}, fmt.Errorf("failed to get assistant config: %w", err)
	}
	if assistant != nil && assistant.Prompt != nil {
		parts = append(parts, AssistantPrompt{Spec: assistant.Prompt})
	}

	for _, p := range facets.SelectedPrompts(b.facets, req.SelectedFacets) {
		var spec PromptSpec = StaticPrompt{Content: p.Text}
		if p.External != "" {
			spec = ExternalPrompt{Name: p.External, Language: req.PreferredLanguage}
		}
		parts = append(parts, FacetPrompt{
			FacetID:     p.FacetID,
			DisplayName: p.DisplayName,
			Template:    p.Template,
			Spec:        spec,
		})
	}

	history, err := b.historyParts(ctx, req.PreviousMessageID)
	if err != nil {
		return AbstractChatSequence{}, err
	}
	parts = append(parts, history...)

	for _, id := range req.NewFileIDs {
		parts = append(parts, UserFile{FileID: id})
	}

	if firstTurn && assistant != nil {
		for _, id := range assistant.FileIDs {
			parts = append(parts, AssistantFile{FileID: id})
		}
	}

	logging.Get(logging.CategoryCompose).Debug("abstract sequence built",
		zap.Stringer("chat_id", req.Chat.ID),
		zap.Int("parts", len(parts)),
		zap.Bool("first_turn", firstTurn),
	)
	return AbstractChatSequence{Parts: parts}, nil
}

// historyParts emits one part per stored message. When an assistant message
// in the window carries its generation input, that input replaces everything
// before it.
func (b *Builder) historyParts(ctx context.Context, previousID uuid.UUID) ([]Part, error) {
	history, err := b.messages.GetHistory(ctx, previousID, b.historyWindow)
	if err != nil {
		return nil, fmt.Errorf("failed to load history before %s: %w", previousID, err)
	}

	schemas := make([]message.Schema, len(history))
	for i, m := range history {
		s, err := message.ParseRaw(m.RawMessage)
		if err != nil {
			return nil, fmt.Errorf("stored message %s: %w", m.ID, err)
		}
		schemas[i] = s
	}

	var parts []Part
	start := 0
	if anchor := findAnchor(history, schemas); anchor >= 0 {
		input, err := message.ParseGenerationInput(history[anchor].GenerationInput)
		if err != nil {
			return nil, fmt.Errorf("generation input of message %s: %w", history[anchor].ID, err)
		}
		parts = append(parts, HistoricGenerationInput{MessageID: history[anchor].ID})
		if !containsReply(input, schemas[anchor]) {
			parts = append(parts, PreviousMessage{MessageID: history[anchor].ID, Role: message.RoleAssistant})
		}
		start = anchor + 1
	}

	for i := start; i < len(history); i++ {
		m, s := history[i], schemas[i]
		if m.ID == previousID && s.Role == message.RoleUser {
			for _, c := range s.Content {
				if t, ok := c.(message.Text); ok && strings.TrimSpace(t.Text) != "" {
					parts = append(parts, CurrentUserContent{Text: t.Text})
				}
			}
			continue
		}
		parts = append(parts, PreviousMessage{MessageID: m.ID, Role: s.Role})
	}
	return parts, nil
}

// findAnchor returns the index of the most recent assistant message with a
// stored generation input, or -1.
func findAnchor(history []message.Message, schemas []message.Schema) int {
	for i := len(history) - 1; i >= 0; i-- {
		if schemas[i].Role == message.RoleAssistant && len(history[i].GenerationInput) > 0 {
			return i
		}
	}
	return -1
}

func containsReply(input message.GenerationInputMessages, reply message.Schema) bool {
	var sb strings.Builder
	for _, c := range reply.Content {
		if t, ok := c.(message.Text); ok {
			sb.WriteString(t.Text)
		}
	}
	text := sb.String()
	if text == "" {
		return false
	}
	for _, m := range input.Messages {
		if m.Role == message.RoleAssistant && m.FullText() == text {
			return true
		}
	}
	return false
}
