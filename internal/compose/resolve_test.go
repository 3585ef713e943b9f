package compose

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatcompose/internal/message"
)

func TestResolve_Sequence(t *testing.T) {
	repo := NewMockMessageRepository()
	m1 := repo.Add(t, nil, message.RoleUser, message.Text{Text: "q1"})
	m2 := repo.Add(t, &m1, message.RoleAssistant, message.Text{Text: "a1"}, message.ToolUse{CallID: "c1", Status: message.ToolCallSuccess, ToolName: "search"})

	files := NewMockFileResolver()
	doc, img := uuid.New(), uuid.New()
	files.Texts[doc] = "doc contents"
	files.Images[img] = message.Image{ContentType: "image/png", Base64Data: "aGk="}

	seq := AbstractChatSequence{Parts: []Part{
		SystemPrompt{Spec: StaticPrompt{Content: "system"}},
		AssistantPrompt{Spec: StaticPrompt{Content: "assistant"}},
		FacetPrompt{FacetID: "f", DisplayName: "Facet", Template: "<{{facet_display_name}}>{{facet_prompt}}", Spec: StaticPrompt{Content: "be brief"}},
		PreviousMessage{MessageID: m1.ID, Role: message.RoleUser},
		PreviousMessage{MessageID: m2.ID, Role: message.RoleAssistant},
		CurrentUserContent{Text: "q2"},
		UserFile{FileID: doc},
		UserFile{FileID: img},
	}}

	resolved, unresolved, err := NewResolver(repo, files, 4).Resolve(context.Background(), seq)
	require.NoError(t, err)

	tool := message.ToolUse{CallID: "c1", Status: message.ToolCallSuccess, ToolName: "search"}
	want := []message.InputMessage{
		text(message.RoleSystem, "system"),
		text(message.RoleSystem, "assistant"),
		text(message.RoleSystem, "<Facet>be brief"),
		text(message.RoleUser, "q1"),
		text(message.RoleAssistant, "a1"),
		{Role: message.RoleAssistant, Content: tool},
		text(message.RoleUser, "q2"),
		text(message.RoleUser, "doc contents"),
		{Role: message.RoleUser, Content: message.Image{ContentType: "image/png", Base64Data: "aGk="}},
	}
	if diff := cmp.Diff(want, resolved.Messages); diff != "" {
		t.Errorf("resolved mismatch (-want +got):\n%s", diff)
	}

	wantUnresolved := append([]message.InputMessage(nil), want[:7]...)
	wantUnresolved = append(wantUnresolved,
		message.InputMessage{Role: message.RoleUser, Content: message.TextFilePointer{FileID: doc}},
		message.InputMessage{Role: message.RoleUser, Content: message.ImageFilePointer{FileID: img}},
	)
	if diff := cmp.Diff(wantUnresolved, unresolved.Messages); diff != "" {
		t.Errorf("unresolved mismatch (-want +got):\n%s", diff)
	}
}

func TestResolve_FilesReassembledInPartOrder(t *testing.T) {
	files := NewMockFileResolver()
	var ids []uuid.UUID
	for i := 0; i < 12; i++ {
		id := uuid.New()
		ids = append(ids, id)
		files.Texts[id] = fmt.Sprintf("file-%02d", i)
	}
	delays := make(map[uuid.UUID]time.Duration)
	for i, id := range ids {
		delays[id] = time.Duration(len(ids)-i) * time.Millisecond
	}
	files.ResolveTextFileFunc = func(ctx context.Context, id uuid.UUID) (string, error) {
		time.Sleep(delays[id])
		return files.Texts[id], nil
	}

	var parts []Part
	for _, id := range ids {
		parts = append(parts, UserFile{FileID: id})
	}

	resolved, _, err := NewResolver(NewMockMessageRepository(), files, 3).Resolve(context.Background(), AbstractChatSequence{Parts: parts})
	require.NoError(t, err)
	require.Len(t, resolved.Messages, len(ids))
	for i, m := range resolved.Messages {
		assert.Equal(t, fmt.Sprintf("file-%02d", i), m.FullText())
	}
}

func TestResolve_FailedFilesBecomePlaceholders(t *testing.T) {
	files := NewMockFileResolver()
	good, explained, opaque, badImage := uuid.New(), uuid.New(), uuid.New(), uuid.New()
	files.Texts[good] = "fine"
	files.Errors[explained] = placeholderErr{text: "File:\nfile name: secret.pdf\nno permission"}
	files.Errors[opaque] = errors.New("disk on fire")
	files.Images[badImage] = message.Image{}
	files.Errors[badImage] = errors.New("gone")

	seq := AbstractChatSequence{Parts: []Part{
		UserFile{FileID: explained},
		UserFile{FileID: good},
		AssistantFile{FileID: opaque},
		UserFile{FileID: badImage},
	}}

	resolved, unresolved, err := NewResolver(NewMockMessageRepository(), files, 2).Resolve(context.Background(), seq)
	require.NoError(t, err)
	require.Len(t, resolved.Messages, 4)

	assert.Equal(t, "File:\nfile name: secret.pdf\nno permission", resolved.Messages[0].FullText())
	assert.Equal(t, "fine", resolved.Messages[1].FullText())
	assert.Contains(t, resolved.Messages[2].FullText(), "file_id: file_id:"+opaque.String())
	assert.Contains(t, resolved.Messages[2].FullText(), "unknown error")
	assert.Contains(t, resolved.Messages[3].FullText(), badImage.String())

	assert.Equal(t, message.TextFilePointer{FileID: explained}, unresolved.Messages[0].Content)
	assert.Equal(t, message.TextFilePointer{FileID: opaque}, unresolved.Messages[2].Content)
	assert.Equal(t, message.ImageFilePointer{FileID: badImage}, unresolved.Messages[3].Content)
}

func TestResolve_UnresolvedExternalPrompt(t *testing.T) {
	for _, part := range []Part{
		SystemPrompt{Spec: ExternalPrompt{Name: "base"}},
		AssistantPrompt{Spec: ExternalPrompt{Name: "assistant"}},
		FacetPrompt{FacetID: "f", Spec: ExternalPrompt{Name: "facet"}},
	} {
		_, _, err := NewResolver(NewMockMessageRepository(), NewMockFileResolver(), 1).Resolve(context.Background(), AbstractChatSequence{Parts: []Part{part}})
		assert.ErrorIs(t, err, ErrUnresolvedPrompt, "%T", part)
	}
}

func TestResolve_HistoricGenerationInput(t *testing.T) {
	repo := NewMockMessageRepository()
	storedFile := uuid.New()
	m := repo.Add(t, nil, message.RoleAssistant, message.Text{Text: "answer"})
	gi, err := json.Marshal(message.GenerationInputMessages{Messages: []message.InputMessage{
		text(message.RoleSystem, "old system"),
		text(message.RoleUser, "question"),
		{Role: message.RoleUser, Content: message.TextFilePointer{FileID: storedFile}},
	}})
	require.NoError(t, err)
	m.GenerationInput = gi
	repo.Put(m)

	files := NewMockFileResolver()
	r := NewResolver(repo, files, 2)

	t.Run("stored system dropped when fresh system emitted", func(t *testing.T) {
		resolved, _, err := r.Resolve(context.Background(), AbstractChatSequence{Parts: []Part{
			SystemPrompt{Spec: StaticPrompt{Content: "new system"}},
			HistoricGenerationInput{MessageID: m.ID},
		}})
		require.NoError(t, err)
		require.Len(t, resolved.Messages, 3)
		assert.Equal(t, "new system", resolved.Messages[0].FullText())
		assert.Equal(t, "question", resolved.Messages[1].FullText())
	})

	t.Run("stored system kept otherwise", func(t *testing.T) {
		resolved, _, err := r.Resolve(context.Background(), AbstractChatSequence{Parts: []Part{
			HistoricGenerationInput{MessageID: m.ID},
		}})
		require.NoError(t, err)
		require.Len(t, resolved.Messages, 3)
		assert.Equal(t, "old system", resolved.Messages[0].FullText())
	})

	t.Run("historic pointers are not fetched", func(t *testing.T) {
		resolved, unresolved, err := r.Resolve(context.Background(), AbstractChatSequence{Parts: []Part{
			HistoricGenerationInput{MessageID: m.ID},
		}})
		require.NoError(t, err)
		assert.Equal(t, message.TextFilePointer{FileID: storedFile}, resolved.Messages[2].Content)
		assert.Equal(t, message.TextFilePointer{FileID: storedFile}, unresolved.Messages[2].Content)
		assert.Zero(t, files.TextCalls.Load())
	})

	t.Run("message without generation input", func(t *testing.T) {
		plain := repo.Add(t, nil, message.RoleAssistant, message.Text{Text: "x"})
		_, _, err := r.Resolve(context.Background(), AbstractChatSequence{Parts: []Part{
			HistoricGenerationInput{MessageID: plain.ID},
		}})
		assert.ErrorIs(t, err, message.ErrInvalidFormat)
	})
}

func TestResolve_MissingPreviousMessage(t *testing.T) {
	_, _, err := NewResolver(NewMockMessageRepository(), NewMockFileResolver(), 1).Resolve(context.Background(), AbstractChatSequence{Parts: []Part{
		PreviousMessage{MessageID: uuid.New(), Role: message.RoleUser},
	}})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestResolvePointers_RoundTrip(t *testing.T) {
	files := NewMockFileResolver()
	doc, img := uuid.New(), uuid.New()
	files.Texts[doc] = "File:\nfile name: notes.txt\n---\nhello\n---"
	files.Images[img] = message.Image{ContentType: "image/jpeg", Base64Data: "/9j/"}

	r := NewResolver(NewMockMessageRepository(), files, 2)
	seq := AbstractChatSequence{Parts: []Part{
		CurrentUserContent{Text: "look"},
		UserFile{FileID: doc},
		UserFile{FileID: img},
	}}

	resolved, unresolved, err := r.Resolve(context.Background(), seq)
	require.NoError(t, err)
	assert.True(t, unresolved.HasPointers())

	// The stored form survives a JSON round trip and resolves to the same
	// content.
	data, err := json.Marshal(unresolved)
	require.NoError(t, err)
	stored, err := message.ParseGenerationInput(data)
	require.NoError(t, err)

	again, err := r.ResolvePointers(context.Background(), stored)
	require.NoError(t, err)
	assert.False(t, again.HasPointers())
	if diff := cmp.Diff(resolved.Messages, again.Messages); diff != "" {
		t.Errorf("round trip mismatch (-resolved +again):\n%s", diff)
	}
	assert.True(t, stored.HasPointers(), "input must not be modified")
}

func TestResolvePointers_Cancelled(t *testing.T) {
	files := NewMockFileResolver()
	id := uuid.New()
	files.ResolveTextFileFunc = func(ctx context.Context, fileID uuid.UUID) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewResolver(NewMockMessageRepository(), files, 1).ResolvePointers(ctx, message.GenerationInputMessages{
		Messages: []message.InputMessage{{Role: message.RoleUser, Content: message.TextFilePointer{FileID: id}}},
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestToConcrete(t *testing.T) {
	resolved := ResolvedChatSequence{Messages: []message.InputMessage{text(message.RoleUser, "hi")}}
	unresolved := message.GenerationInputMessages{Messages: resolved.Messages}

	req := ToConcrete(resolved, unresolved, RequestOptions{ProviderID: "p", Model: "gpt-4o"})
	assert.Equal(t, "gpt-4o", req.Request.Model)
	assert.Equal(t, resolved.Messages, req.Request.Messages)
	assert.Equal(t, unresolved, req.Unresolved)
	assert.Nil(t, req.Request.ToolAllowlist)

	assert.Panics(t, func() {
		ToConcrete(ResolvedChatSequence{Messages: []message.InputMessage{
			{Role: message.RoleUser, Content: message.TextFilePointer{FileID: uuid.New()}},
		}}, unresolved, RequestOptions{})
	})
}

func TestResolve_LargeFanOut(t *testing.T) {
	files := NewMockFileResolver()
	var parts []Part
	for i := 0; i < 40; i++ {
		id := uuid.New()
		files.Texts[id] = strings.Repeat("x", i)
		parts = append(parts, UserFile{FileID: id})
	}

	resolved, unresolved, err := NewResolver(NewMockMessageRepository(), files, 0).Resolve(context.Background(), AbstractChatSequence{Parts: parts})
	require.NoError(t, err)
	assert.Len(t, resolved.Messages, 40)
	assert.Len(t, unresolved.Messages, 40)
	assert.Equal(t, int32(40), files.TextCalls.Load())
}
