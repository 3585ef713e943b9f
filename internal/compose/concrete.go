package compose

import (
	"fmt"

	"chatcompose/internal/config"
	"chatcompose/internal/message"
)

// RequestOptions carries the non-message fields of a ChatRequest.
type RequestOptions struct {
	ProviderID    string
	Model         string
	ModelSettings config.ModelSettings
	ToolAllowlist []string
}

// ToConcrete packages resolved messages into a ChatRequest and pairs it with
// the storage mirror. It panics if a file pointer is still present in
// resolved: pointers must never reach a provider.
func ToConcrete(resolved ResolvedChatSequence, unresolved message.GenerationInputMessages, opts RequestOptions) ConcreteChatRequest {
	for i, m := range resolved.Messages {
		if m.Content == nil || message.IsPointer(m.Content) {
			panic(fmt.Sprintf("compose: message %d of resolved sequence is %T, expected resolved content", i, m.Content))
		}
	}

	msgs := make([]message.InputMessage, len(resolved.Messages))
	copy(msgs, resolved.Messages)

	return ConcreteChatRequest{
		Request: ChatRequest{
			ProviderID:    opts.ProviderID,
			Model:         opts.Model,
			Messages:      msgs,
			ModelSettings: opts.ModelSettings,
			ToolAllowlist: opts.ToolAllowlist,
		},
		Unresolved: unresolved,
	}
}
