package compose

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"chatcompose/internal/config"
	"chatcompose/internal/message"
)

var (
	// ErrNotFound is returned by repositories for unknown ids.
	ErrNotFound = errors.New("not found")

	// ErrUnresolvedPrompt means an external prompt reached phase 2.
	ErrUnresolvedPrompt = errors.New("external prompt not resolved before resolution phase")
)

// MessageRepository reads stored chat messages.
type MessageRepository interface {
	// GetMessageByID returns an error wrapping ErrNotFound for unknown ids.
	GetMessageByID(ctx context.Context, id uuid.UUID) (message.Message, error)
	// GetHistory returns up to maxCount messages ending at previousMessageID,
	// oldest first.
	GetHistory(ctx context.Context, previousMessageID uuid.UUID, maxCount int) ([]message.Message, error)
}

// AuthContext identifies the user files are fetched for.
type AuthContext struct {
	UserID string
}

// FileContentsForGeneration is one file's resolved content.
type FileContentsForGeneration struct {
	ID       uuid.UUID
	Filename string
	// Text with the file header, or Image.
	Content message.ContentPart
}

// FileResolver fetches and formats uploaded files.
type FileResolver interface {
	ResolveTextFile(ctx context.Context, fileID uuid.UUID) (string, error)
	ResolveImageFile(ctx context.Context, fileID uuid.UUID) (message.Image, error)
	IsImageFile(ctx context.Context, fileID uuid.UUID) (bool, error)
	GetBulkFiles(ctx context.Context, fileIDs []uuid.UUID, auth AuthContext) ([]FileContentsForGeneration, error)
}

// Placeholder is implemented by resolver errors that know how to explain
// themselves to the model.
type Placeholder interface {
	Placeholder() string
}

// AssistantConfig is the assistant a chat is bound to.
type AssistantConfig struct {
	ID      uuid.UUID
	Name    string
	Prompt  PromptSpec
	FileIDs []uuid.UUID
}

// PromptProvider supplies prompt specs and resolves external ones.
type PromptProvider interface {
	// GetSystemPrompt returns nil when the provider has no system prompt.
	GetSystemPrompt(ctx context.Context, provider config.ChatProviderConfig, preferredLanguage string) (PromptSpec, error)
	ResolveExternalPrompt(ctx context.Context, spec ExternalPrompt) (string, error)
	// GetAssistantConfig returns nil when the chat is not bound to an
	// assistant.
	GetAssistantConfig(ctx context.Context, chat message.Chat) (*AssistantConfig, error)
}
