package compose

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"chatcompose/internal/config"
	"chatcompose/internal/message"
)

// MockMessageRepository implements MessageRepository over an in-memory chain.
type MockMessageRepository struct {
	GetMessageByIDFunc func(ctx context.Context, id uuid.UUID) (message.Message, error)
	GetHistoryFunc     func(ctx context.Context, previousMessageID uuid.UUID, maxCount int) ([]message.Message, error)

	mu       sync.Mutex
	messages map[uuid.UUID]message.Message
}

func NewMockMessageRepository() *MockMessageRepository {
	return &MockMessageRepository{messages: make(map[uuid.UUID]message.Message)}
}

func (m *MockMessageRepository) GetMessageByID(ctx context.Context, id uuid.UUID) (message.Message, error) {
	if m.GetMessageByIDFunc != nil {
		return m.GetMessageByIDFunc(ctx, id)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.messages[id]
	if !ok {
		return message.Message{}, fmt.Errorf("message %s: %w", id, ErrNotFound)
	}
	return msg, nil
}

func (m *MockMessageRepository) GetHistory(ctx context.Context, previousMessageID uuid.UUID, maxCount int) ([]message.Message, error) {
	if m.GetHistoryFunc != nil {
		return m.GetHistoryFunc(ctx, previousMessageID, maxCount)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	var walked []message.Message
	id := &previousMessageID
	for id != nil && len(walked) < maxCount {
		msg, ok := m.messages[*id]
		if !ok {
			return nil, fmt.Errorf("message %s: %w", *id, ErrNotFound)
		}
		walked = append(walked, msg)
		id = msg.PreviousMessageID
	}
	for i, j := 0, len(walked)-1; i < j; i, j = i+1, j-1 {
		walked[i], walked[j] = walked[j], walked[i]
	}
	return walked, nil
}

// Add stores a message after prev and returns it.
func (m *MockMessageRepository) Add(t *testing.T, prev *message.Message, role message.Role, parts ...message.ContentPart) message.Message {
	t.Helper()
	raw, err := json.Marshal(message.Schema{Role: role, Content: parts})
	require.NoError(t, err)

	msg := message.Message{
		ID:         uuid.New(),
		RawMessage: raw,
		CreatedAt:  time.Now(),
	}
	if prev != nil {
		id := prev.ID
		msg.PreviousMessageID = &id
		msg.ChatID = prev.ChatID
	}
	m.Put(msg)
	return msg
}

// Put stores msg as is.
func (m *MockMessageRepository) Put(msg message.Message) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages[msg.ID] = msg
}

// MockFileResolver implements FileResolver from in-memory maps.
type MockFileResolver struct {
	ResolveTextFileFunc  func(ctx context.Context, fileID uuid.UUID) (string, error)
	ResolveImageFileFunc func(ctx context.Context, fileID uuid.UUID) (message.Image, error)
	GetBulkFilesFunc     func(ctx context.Context, fileIDs []uuid.UUID, auth AuthContext) ([]FileContentsForGeneration, error)

	Texts  map[uuid.UUID]string
	Images map[uuid.UUID]message.Image
	Errors map[uuid.UUID]error

	TextCalls  atomic.Int32
	ImageCalls atomic.Int32
}

func NewMockFileResolver() *MockFileResolver {
	return &MockFileResolver{
		Texts:  make(map[uuid.UUID]string),
		Images: make(map[uuid.UUID]message.Image),
		Errors: make(map[uuid.UUID]error),
	}
}

func (m *MockFileResolver) ResolveTextFile(ctx context.Context, fileID uuid.UUID) (string, error) {
	m.TextCalls.Add(1)
	if m.ResolveTextFileFunc != nil {
		return m.ResolveTextFileFunc(ctx, fileID)
	}
	if err, ok := m.Errors[fileID]; ok {
		return "", err
	}
	text, ok := m.Texts[fileID]
	if !ok {
		return "", fmt.Errorf("file %s: %w", fileID, ErrNotFound)
	}
	return text, nil
}

func (m *MockFileResolver) ResolveImageFile(ctx context.Context, fileID uuid.UUID) (message.Image, error) {
	m.ImageCalls.Add(1)
	if m.ResolveImageFileFunc != nil {
		return m.ResolveImageFileFunc(ctx, fileID)
	}
	if err, ok := m.Errors[fileID]; ok {
		return message.Image{}, err
	}
	img, ok := m.Images[fileID]
	if !ok {
		return message.Image{}, fmt.Errorf("file %s: %w", fileID, ErrNotFound)
	}
	return img, nil
}

func (m *MockFileResolver) IsImageFile(ctx context.Context, fileID uuid.UUID) (bool, error) {
	_, ok := m.Images[fileID]
	return ok, nil
}

func (m *MockFileResolver) GetBulkFiles(ctx context.Context, fileIDs []uuid.UUID, auth AuthContext) ([]FileContentsForGeneration, error) {
	if m.GetBulkFilesFunc != nil {
		return m.GetBulkFilesFunc(ctx, fileIDs, auth)
	}
	out := make([]FileContentsForGeneration, 0, len(fileIDs))
	for _, id := range fileIDs {
		text, err := m.ResolveTextFile(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, FileContentsForGeneration{ID: id, Content: message.Text{Text: text}})
	}
	return out, nil
}

// MockPromptProvider implements PromptProvider.
type MockPromptProvider struct {
	GetSystemPromptFunc       func(ctx context.Context, provider config.ChatProviderConfig, preferredLanguage string) (PromptSpec, error)
	ResolveExternalPromptFunc func(ctx context.Context, spec ExternalPrompt) (string, error)

	System    PromptSpec
	Assistant *AssistantConfig
	External  map[string]string

	ExternalCalls atomic.Int32
}

func (m *MockPromptProvider) GetSystemPrompt(ctx context.Context, provider config.ChatProviderConfig, preferredLanguage string) (PromptSpec, error) {
	if m.GetSystemPromptFunc != nil {
		return m.GetSystemPromptFunc(ctx, provider, preferredLanguage)
	}
	return m.System, nil
}

func (m *MockPromptProvider) ResolveExternalPrompt(ctx context.Context, spec ExternalPrompt) (string, error) {
	m.ExternalCalls.Add(1)
	if m.ResolveExternalPromptFunc != nil {
		return m.ResolveExternalPromptFunc(ctx, spec)
	}
	text, ok := m.External[spec.Name]
	if !ok {
		return "", fmt.Errorf("prompt %s: %w", spec.Name, ErrNotFound)
	}
	return text, nil
}

func (m *MockPromptProvider) GetAssistantConfig(ctx context.Context, chat message.Chat) (*AssistantConfig, error) {
	if chat.AssistantID == nil {
		return nil, nil
	}
	return m.Assistant, nil
}

// placeholderErr is a resolver error carrying its own explanation.
type placeholderErr struct {
	text string
}

func (e placeholderErr) Error() string       { return "unreadable: " + e.text }
func (e placeholderErr) Placeholder() string { return e.text }

func text(role message.Role, s string) message.InputMessage {
	return message.InputMessage{Role: role, Content: message.Text{Text: s}}
}
