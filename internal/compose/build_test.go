package compose

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatcompose/internal/config"
	"chatcompose/internal/message"
)

func boundChat() message.Chat {
	assistantID := uuid.New()
	return message.Chat{ID: uuid.New(), OwnerID: "user-1", AssistantID: &assistantID}
}

func TestBuild_Ordering(t *testing.T) {
	repo := NewMockMessageRepository()
	m1 := repo.Add(t, nil, message.RoleUser, message.Text{Text: "first question"})
	m2 := repo.Add(t, &m1, message.RoleAssistant, message.Text{Text: "first answer"})
	m3 := repo.Add(t, &m2, message.RoleUser, message.Text{Text: "follow up"}, message.Text{Text: "  "})

	prompts := &MockPromptProvider{
		System:    StaticPrompt{Content: "system"},
		Assistant: &AssistantConfig{Prompt: StaticPrompt{Content: "assistant"}, FileIDs: []uuid.UUID{uuid.New()}},
	}
	f1 := uuid.New()

	b := NewBuilder(repo, prompts, config.FacetsConfig{}, 10)
	seq, err := b.Build(context.Background(), BuildRequest{
		Chat:              boundChat(),
		PreviousMessageID: m3.ID,
		NewFileIDs:        []uuid.UUID{f1},
	})
	require.NoError(t, err)

	want := []Part{
		SystemPrompt{Spec: StaticPrompt{Content: "system"}},
		AssistantPrompt{Spec: StaticPrompt{Content: "assistant"}},
		PreviousMessage{MessageID: m1.ID, Role: message.RoleUser},
		PreviousMessage{MessageID: m2.ID, Role: message.RoleAssistant},
		CurrentUserContent{Text: "follow up"},
		UserFile{FileID: f1},
	}
	if diff := cmp.Diff(want, seq.Parts); diff != "" {
		t.Errorf("parts mismatch (-want +got):\n%s", diff)
	}
}

func TestBuild_AssistantFilesOnlyOnFirstTurn(t *testing.T) {
	a1, a2 := uuid.New(), uuid.New()
	prompts := &MockPromptProvider{
		Assistant: &AssistantConfig{FileIDs: []uuid.UUID{a1, a2}},
	}

	repo := NewMockMessageRepository()
	first := repo.Add(t, nil, message.RoleUser, message.Text{Text: "hi"})
	reply := repo.Add(t, &first, message.RoleAssistant, message.Text{Text: "hello"})
	second := repo.Add(t, &reply, message.RoleUser, message.Text{Text: "again"})

	b := NewBuilder(repo, prompts, config.FacetsConfig{}, 10)
	chat := boundChat()

	tests := []struct {
		name     string
		previous uuid.UUID
		want     []uuid.UUID
	}{
		{name: "first turn", previous: first.ID, want: []uuid.UUID{a1, a2}},
		{name: "later turn", previous: second.ID, want: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seq, err := b.Build(context.Background(), BuildRequest{Chat: chat, PreviousMessageID: tt.previous})
			require.NoError(t, err)

			var got []uuid.UUID
			for _, p := range seq.Parts {
				if af, ok := p.(AssistantFile); ok {
					got = append(got, af.FileID)
				}
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestBuild_UnboundChatHasNoAssistantParts(t *testing.T) {
	repo := NewMockMessageRepository()
	first := repo.Add(t, nil, message.RoleUser, message.Text{Text: "hi"})
	prompts := &MockPromptProvider{
		Assistant: &AssistantConfig{Prompt: StaticPrompt{Content: "never"}, FileIDs: []uuid.UUID{uuid.New()}},
	}

	seq, err := NewBuilder(repo, prompts, config.FacetsConfig{}, 10).Build(context.Background(), BuildRequest{
		Chat:              message.Chat{ID: uuid.New()},
		PreviousMessageID: first.ID,
	})
	require.NoError(t, err)
	assert.Equal(t, []Part{CurrentUserContent{Text: "hi"}}, seq.Parts)
}

func TestBuild_FacetPromptsFollowAssistantPrompt(t *testing.T) {
	repo := NewMockMessageRepository()
	first := repo.Add(t, nil, message.RoleUser, message.Text{Text: "hi"})
	prompts := &MockPromptProvider{
		System:    StaticPrompt{Content: "system"},
		Assistant: &AssistantConfig{Prompt: StaticPrompt{Content: "assistant"}},
	}
	facetsCfg := config.FacetsConfig{
		FacetPromptTemplate: "[{{facet_display_name}}] {{facet_prompt}}",
		Facets: map[string]config.FacetConfig{
			"search": {DisplayName: "Search", AdditionalSystemPrompt: "Use the web."},
			"legal":  {AdditionalSystemPromptExternal: "legal-prompt", DisableFacetPromptTemplate: true},
		},
	}

	seq, err := NewBuilder(repo, prompts, facetsCfg, 10).Build(context.Background(), BuildRequest{
		Chat:              boundChat(),
		PreviousMessageID: first.ID,
		PreferredLanguage: "de",
		SelectedFacets:    []string{"legal", "search"},
	})
	require.NoError(t, err)

	want := []Part{
		SystemPrompt{Spec: StaticPrompt{Content: "system"}},
		AssistantPrompt{Spec: StaticPrompt{Content: "assistant"}},
		FacetPrompt{FacetID: "legal", DisplayName: "legal", Spec: ExternalPrompt{Name: "legal-prompt", Language: "de"}},
		FacetPrompt{FacetID: "search", DisplayName: "Search", Template: "[{{facet_display_name}}] {{facet_prompt}}", Spec: StaticPrompt{Content: "Use the web."}},
		CurrentUserContent{Text: "hi"},
	}
	if diff := cmp.Diff(want, seq.Parts); diff != "" {
		t.Errorf("parts mismatch (-want +got):\n%s", diff)
	}
}

func TestBuild_GenerationInputAnchor(t *testing.T) {
	repo := NewMockMessageRepository()
	m1 := repo.Add(t, nil, message.RoleUser, message.Text{Text: "old question"})
	m2 := repo.Add(t, &m1, message.RoleAssistant, message.Text{Text: "old answer"})

	stored := message.GenerationInputMessages{Messages: []message.InputMessage{
		text(message.RoleSystem, "old system"),
		text(message.RoleUser, "old question"),
	}}
	gi, err := json.Marshal(stored)
	require.NoError(t, err)
	m2.GenerationInput = gi
	repo.Put(m2)

	m3 := repo.Add(t, &m2, message.RoleUser, message.Text{Text: "new question"})

	seq, err := NewBuilder(repo, &MockPromptProvider{}, config.FacetsConfig{}, 10).Build(context.Background(), BuildRequest{
		Chat:              message.Chat{ID: uuid.New()},
		PreviousMessageID: m3.ID,
	})
	require.NoError(t, err)

	want := []Part{
		HistoricGenerationInput{MessageID: m2.ID},
		PreviousMessage{MessageID: m2.ID, Role: message.RoleAssistant},
		CurrentUserContent{Text: "new question"},
	}
	if diff := cmp.Diff(want, seq.Parts); diff != "" {
		t.Errorf("parts mismatch (-want +got):\n%s", diff)
	}
}

func TestBuild_AnchorReplyAlreadyInInput(t *testing.T) {
	repo := NewMockMessageRepository()
	m1 := repo.Add(t, nil, message.RoleUser, message.Text{Text: "q"})
	m2 := repo.Add(t, &m1, message.RoleAssistant, message.Text{Text: "a"})
	gi, err := json.Marshal(message.GenerationInputMessages{Messages: []message.InputMessage{
		text(message.RoleUser, "q"),
		text(message.RoleAssistant, "a"),
	}})
	require.NoError(t, err)
	m2.GenerationInput = gi
	repo.Put(m2)
	m3 := repo.Add(t, &m2, message.RoleUser, message.Text{Text: "next"})

	seq, err := NewBuilder(repo, &MockPromptProvider{}, config.FacetsConfig{}, 10).Build(context.Background(), BuildRequest{
		Chat:              message.Chat{ID: uuid.New()},
		PreviousMessageID: m3.ID,
	})
	require.NoError(t, err)
	assert.Equal(t, []Part{
		HistoricGenerationInput{MessageID: m2.ID},
		CurrentUserContent{Text: "next"},
	}, seq.Parts)
}

func TestBuild_HistoryWindow(t *testing.T) {
	repo := NewMockMessageRepository()
	var prev *message.Message
	for i := 0; i < 15; i++ {
		role := message.RoleUser
		if i%2 == 1 {
			role = message.RoleAssistant
		}
		m := repo.Add(t, prev, role, message.Text{Text: "msg"})
		prev = &m
	}

	seq, err := NewBuilder(repo, &MockPromptProvider{}, config.FacetsConfig{}, 4).Build(context.Background(), BuildRequest{
		Chat:              message.Chat{ID: uuid.New()},
		PreviousMessageID: prev.ID,
	})
	require.NoError(t, err)
	assert.Len(t, seq.Parts, 4)
}

func TestBuild_Errors(t *testing.T) {
	t.Run("unknown previous message", func(t *testing.T) {
		repo := NewMockMessageRepository()
		_, err := NewBuilder(repo, &MockPromptProvider{}, config.FacetsConfig{}, 10).Build(context.Background(), BuildRequest{
			PreviousMessageID: uuid.New(),
		})
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("malformed stored message", func(t *testing.T) {
		repo := NewMockMessageRepository()
		bad := message.Message{ID: uuid.New(), RawMessage: json.RawMessage(`{"role":"user","content":[{"content_type":"hologram"}]}`)}
		repo.Put(bad)
		_, err := NewBuilder(repo, &MockPromptProvider{}, config.FacetsConfig{}, 10).Build(context.Background(), BuildRequest{
			PreviousMessageID: bad.ID,
		})
		assert.ErrorIs(t, err, message.ErrInvalidFormat)
	})

	t.Run("malformed generation input", func(t *testing.T) {
		repo := NewMockMessageRepository()
		m1 := repo.Add(t, nil, message.RoleAssistant, message.Text{Text: "a"})
		m1.GenerationInput = json.RawMessage(`{"messages":[{"role":"wizard","content":{"content_type":"text","text":"x"}}]}`)
		repo.Put(m1)
		m2 := repo.Add(t, &m1, message.RoleUser, message.Text{Text: "q"})

		_, err := NewBuilder(repo, &MockPromptProvider{}, config.FacetsConfig{}, 10).Build(context.Background(), BuildRequest{
			PreviousMessageID: m2.ID,
		})
		assert.ErrorIs(t, err, message.ErrInvalidFormat)
	})
}

func TestBuild_DoesNotResolveExternalPrompts(t *testing.T) {
	repo := NewMockMessageRepository()
	first := repo.Add(t, nil, message.RoleUser, message.Text{Text: "hi"})
	prompts := &MockPromptProvider{System: ExternalPrompt{Name: "base"}}

	seq, err := NewBuilder(repo, prompts, config.FacetsConfig{}, 10).Build(context.Background(), BuildRequest{
		Chat:              message.Chat{ID: uuid.New()},
		PreviousMessageID: first.ID,
	})
	require.NoError(t, err)
	assert.Equal(t, SystemPrompt{Spec: ExternalPrompt{Name: "base"}}, seq.Parts[0])
	assert.Zero(t, prompts.ExternalCalls.Load())
}
