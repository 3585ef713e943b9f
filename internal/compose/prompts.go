package compose

import (
	"context"
	"fmt"
)

// ResolvePromptSpecs replaces every ExternalPrompt in seq with the fetched
// text. Any failure fails the request.
func ResolvePromptSpecs(ctx context.Context, seq AbstractChatSequence, prompts PromptProvider) (AbstractChatSequence, error) {
	out := make([]Part, len(seq.Parts))
	for i, part := range seq.Parts {
		switch p := part.(type) {
		case SystemPrompt:
			spec, err := resolveSpec(ctx, p.Spec, prompts)
			if err != nil {
				return AbstractChatSequence{}, fmt.Errorf("system prompt: %w", err)
			}
			p.Spec = spec
			out[i] = p
		case AssistantPrompt:
			spec, err := resolveSpec(ctx, p.Spec, prompts)
			if err != nil {
				return AbstractChatSequence{}, fmt.Errorf("assistant prompt: %w", err)
			}
			p.Spec = spec
			out[i] = p
		case FacetPrompt:
			spec, err := resolveSpec(ctx, p.Spec, prompts)
			if err != nil {
				return AbstractChatSequence{}, fmt.Errorf("facet %s prompt: %w", p.FacetID, err)
			}
			p.Spec = spec
			out[i] = p
		default:
			out[i] = part
		}
	}
	return AbstractChatSequence{Parts: out}, nil
}

func resolveSpec(ctx context.Context, spec PromptSpec, prompts PromptProvider) (PromptSpec, error) {
	ext, ok := spec.(ExternalPrompt)
	if !ok {
		return spec, nil
	}
	text, err := prompts.ResolveExternalPrompt(ctx, ext)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve external prompt %q: %w", ext.Name, err)
	}
	return StaticPrompt{Content: text}, nil
}
