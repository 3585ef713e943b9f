package message

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrInvalidFormat is returned when stored message JSON does not match the
// expected schema.
var ErrInvalidFormat = errors.New("invalid message format")

// InputMessage is one LLM input message: a role and a single content part.
type InputMessage struct {
	Role    Role
	Content ContentPart
}

// FullText returns the text of a Text part and "" for every other variant.
func (m InputMessage) FullText() string {
	if t, ok := m.Content.(Text); ok {
		return t.Text
	}
	return ""
}

// GenerationInputMessages is the ordered input of one generation. The stored
// form keeps file pointers; the dispatched form has them resolved.
type GenerationInputMessages struct {
	Messages []InputMessage `json:"messages"`
}

// HasPointers reports whether any message still carries a file pointer.
func (g GenerationInputMessages) HasPointers() bool {
	for _, m := range g.Messages {
		if IsPointer(m.Content) {
			return true
		}
	}
	return false
}

// ParseGenerationInput decodes a stored generation input.
func ParseGenerationInput(data []byte) (GenerationInputMessages, error) {
	var g GenerationInputMessages
	if err := json.Unmarshal(data, &g); err != nil {
		if errors.Is(err, ErrInvalidFormat) {
			return GenerationInputMessages{}, err
		}
		return GenerationInputMessages{}, fmt.Errorf("%w: %v", ErrInvalidFormat, err)
	}
	return g, nil
}

// Schema is the validated shape of a stored raw message.
type Schema struct {
	Role    Role
	Name    string
	Content []ContentPart
}

// ParseRaw validates a stored raw message.
func ParseRaw(raw []byte) (Schema, error) {
	var r rawMessageJSON
	if err := json.Unmarshal(raw, &r); err != nil {
		return Schema{}, fmt.Errorf("%w: %v", ErrInvalidFormat, err)
	}
	if !r.Role.Valid() {
		return Schema{}, fmt.Errorf("%w: unknown role %q", ErrInvalidFormat, r.Role)
	}
	s := Schema{Role: r.Role, Name: r.Name, Content: make([]ContentPart, 0, len(r.Content))}
	for _, c := range r.Content {
		part, err := UnmarshalContent(c)
		if err != nil {
			return Schema{}, err
		}
		s.Content = append(s.Content, part)
	}
	return s, nil
}

// Message is a stored chat message.
type Message struct {
	ID                uuid.UUID
	ChatID            uuid.UUID
	PreviousMessageID *uuid.UUID
	RawMessage        json.RawMessage
	// GenerationInput is the stored input of the generation that produced
	// this message; nil when none was recorded.
	GenerationInput json.RawMessage
	CreatedAt       time.Time
}

// IsFirst reports whether the message has no predecessor.
func (m Message) IsFirst() bool {
	return m.PreviousMessageID == nil
}

// Role returns the role recorded in the raw message without validating the
// content.
func (m Message) Role() Role {
	var head struct {
		Role Role `json:"role"`
	}
	if err := json.Unmarshal(m.RawMessage, &head); err != nil {
		return ""
	}
	return head.Role
}

// Chat is a conversation, optionally bound to an assistant.
type Chat struct {
	ID          uuid.UUID
	OwnerID     string
	AssistantID *uuid.UUID
	CreatedAt   time.Time
}
