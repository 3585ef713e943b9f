// Package facets computes the effective tool allowlist, model settings and
// facet prompts for a set of selected facets. Everything here is pure.
package facets

import (
	"strings"

	"github.com/samber/lo"

	"chatcompose/internal/config"
)

// BuildToolAllowlist returns the effective tool-call allowlist.
//
// A nil result means no restriction: either no facets are configured or the
// combined list is empty. An empty allowlist never means "deny all tools".
func BuildToolAllowlist(cfg config.FacetsConfig, selected []string) []string {
	if len(cfg.Facets) == 0 {
		return nil
	}

	patterns := append([]string(nil), cfg.ToolCallAllowlist...)
	for _, id := range selected {
		facet, ok := cfg.Facets[id]
		if !ok {
			continue
		}
		patterns = append(patterns, facet.ToolCallAllowlist...)
	}

	patterns = lo.Uniq(patterns)
	if len(patterns) == 0 {
		return nil
	}
	return patterns
}

// BuildModelSettings merges the selected facets' model settings over base.
//
// Facets in the configured priority order are applied first, then selected
// facets missing from it in selection order. Later facets win on optional
// fields; GenerateImages can only be switched on.
func BuildModelSettings(base config.ModelSettings, cfg config.FacetsConfig, selected []string) config.ModelSettings {
	if len(cfg.Facets) == 0 {
		return base
	}

	result := base
	for _, id := range ApplicationOrder(cfg, selected) {
		if facet, ok := cfg.Facets[id]; ok {
			result = Merge(result, facet.ModelSettings)
		}
	}
	return result
}

// ApplicationOrder returns the selected facet ids in the order their settings
// are applied.
func ApplicationOrder(cfg config.FacetsConfig, selected []string) []string {
	order := lo.Filter(cfg.PriorityOrder, func(id string, _ int) bool {
		return lo.Contains(selected, id)
	})
	for _, id := range selected {
		if !lo.Contains(cfg.PriorityOrder, id) {
			order = append(order, id)
		}
	}
	return lo.Uniq(order)
}

// Merge applies override on top of base.
func Merge(base, override config.ModelSettings) config.ModelSettings {
	result := base
	if override.GenerateImages {
		result.GenerateImages = true
	}
	if override.Temperature != nil {
		result.Temperature = override.Temperature
	}
	if override.TopP != nil {
		result.TopP = override.TopP
	}
	if override.ReasoningEffort != nil {
		result.ReasoningEffort = override.ReasoningEffort
	}
	if override.Verbosity != nil {
		result.Verbosity = override.Verbosity
	}
	return result
}

// Prompt is a facet's additional prompt. Exactly one of Text and External is
// set.
type Prompt struct {
	FacetID  string
	Text     string
	External string
	// Applied around the resolved prompt text; empty when the facet disables
	// the template or none is configured.
	Template    string
	DisplayName string
}

// SelectedPrompts returns the additional prompts of the selected facets in
// selection order. Unknown facets and facets without a prompt are skipped.
func SelectedPrompts(cfg config.FacetsConfig, selected []string) []Prompt {
	var prompts []Prompt
	for _, id := range lo.Uniq(selected) {
		facet, ok := cfg.Facets[id]
		if !ok {
			continue
		}
		if facet.AdditionalSystemPrompt == "" && facet.AdditionalSystemPromptExternal == "" {
			continue
		}
		p := Prompt{
			FacetID:     id,
			Text:        facet.AdditionalSystemPrompt,
			External:    facet.AdditionalSystemPromptExternal,
			DisplayName: lo.Ternary(facet.DisplayName != "", facet.DisplayName, id),
		}
		if !facet.DisableFacetPromptTemplate {
			p.Template = cfg.FacetPromptTemplate
		}
		prompts = append(prompts, p)
	}
	return prompts
}

// Render wraps a resolved facet prompt with its template.
func (p Prompt) Render(text string) string {
	if p.Template == "" {
		return text
	}
	return strings.NewReplacer(
		"{{facet_prompt}}", text,
		"{{facet_display_name}}", p.DisplayName,
	).Replace(p.Template)
}
