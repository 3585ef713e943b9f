// Package compose assembles the input of one chat generation.
//
// Composition runs in three phases:
//
//  1. Build: decide what goes into the request and in which order, as an
//     AbstractChatSequence. No file or prompt text is fetched.
//  2. Resolve: turn every part into concrete messages. Files of the current
//     turn are fetched concurrently through the FileResolver; failures become
//     placeholder text instead of failing the turn.
//  3. ToConcrete: package the resolved messages into a ChatRequest and pair
//     them with the pointer-preserving mirror that is stored with the message.
//
// External prompts are resolved between phases 1 and 2 so that phase 2 never
// talks to the prompt store.
package compose

import (
	"github.com/google/uuid"

	"chatcompose/internal/config"
	"chatcompose/internal/message"
)

// PromptSpec describes where prompt text comes from: StaticPrompt or
// ExternalPrompt.
type PromptSpec interface {
	promptSpec()
}

// StaticPrompt is inline prompt text.
type StaticPrompt struct {
	Content string
}

// ExternalPrompt names a prompt held by the external prompt store.
type ExternalPrompt struct {
	Name string
	// Language used to render placeholders once the prompt is fetched.
	Language string
}

func (StaticPrompt) promptSpec()   {}
func (ExternalPrompt) promptSpec() {}

// Part is one element of an AbstractChatSequence.
type Part interface {
	sequencePart()
}

// SystemPrompt is the provider's system prompt.
type SystemPrompt struct {
	Spec PromptSpec
}

// AssistantPrompt holds the instructions of the assistant the chat is bound to.
type AssistantPrompt struct {
	Spec PromptSpec
}

// FacetPrompt is the additional prompt of a selected facet. Template, when
// set, wraps the resolved text.
type FacetPrompt struct {
	FacetID     string
	DisplayName string
	Template    string
	Spec        PromptSpec
}

// HistoricGenerationInput re-emits the stored generation input of an earlier
// assistant message.
type HistoricGenerationInput struct {
	MessageID uuid.UUID
}

// PreviousMessage re-emits a stored message verbatim.
type PreviousMessage struct {
	MessageID uuid.UUID
	Role      message.Role
}

// CurrentUserContent is text of the message the user just submitted.
type CurrentUserContent struct {
	Text string
}

// UserFile is a file attached to the current turn.
type UserFile struct {
	FileID uuid.UUID
}

// AssistantFile is a file bound to the assistant. Only emitted on the first
// turn of a chat.
type AssistantFile struct {
	FileID uuid.UUID
}

func (SystemPrompt) sequencePart()            {}
func (AssistantPrompt) sequencePart()         {}
func (FacetPrompt) sequencePart()             {}
func (HistoricGenerationInput) sequencePart() {}
func (PreviousMessage) sequencePart()         {}
func (CurrentUserContent) sequencePart()      {}
func (UserFile) sequencePart()                {}
func (AssistantFile) sequencePart()           {}

// AbstractChatSequence is the ordered plan of a request.
type AbstractChatSequence struct {
	Parts []Part
}

// ResolvedChatSequence is the ordered list of messages after phase 2.
type ResolvedChatSequence struct {
	Messages []message.InputMessage
}

// ChatRequest is the provider-agnostic request handed to the LLM layer.
type ChatRequest struct {
	ProviderID    string
	Model         string
	Messages      []message.InputMessage
	ModelSettings config.ModelSettings
	// Nil means every tool is permitted.
	ToolAllowlist []string
}

// ConcreteChatRequest pairs the dispatchable request with its storage mirror.
type ConcreteChatRequest struct {
	Request    ChatRequest
	Unresolved message.GenerationInputMessages
}
