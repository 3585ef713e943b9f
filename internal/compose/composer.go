package compose

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"chatcompose/internal/config"
	"chatcompose/internal/facets"
	"chatcompose/internal/logging"
	"chatcompose/internal/message"
)

// UserInput is what the user submitted for this turn.
type UserInput struct {
	JustSubmittedMessageID uuid.UUID
	RequestedProviderID    string
	NewFileIDs             []uuid.UUID
	SelectedFacetIDs       []string
}

// Options configures a Composer.
type Options struct {
	Facets          config.FacetsConfig
	HistoryWindow   int
	FileConcurrency int
}

// Composer runs the three composition phases. It holds no per-request state
// and is safe for concurrent use.
type Composer struct {
	builder  *Builder
	resolver *Resolver
	prompts  PromptProvider
	files    FileResolver
	facets   config.FacetsConfig
}

// NewComposer wires the collaborators into a Composer.
func NewComposer(messages MessageRepository, files FileResolver, prompts PromptProvider, opts Options) *Composer {
	return &Composer{
		builder:  NewBuilder(messages, prompts, opts.Facets, opts.HistoryWindow),
		resolver: NewResolver(messages, files, opts.FileConcurrency),
		prompts:  prompts,
		files:    files,
		facets:   opts.Facets,
	}
}

// Compose builds the generation input for one turn and returns its
// pointer-preserving form, suitable for storage. Pointers are resolved just
// before dispatch with ResolvePointers.
func (c *Composer) Compose(ctx context.Context, input UserInput, chat message.Chat, provider config.ChatProviderConfig, preferredLanguage string) (message.GenerationInputMessages, error) {
	_, unresolved, err := c.run(ctx, input, chat, provider, preferredLanguage)
	if err != nil {
		return message.GenerationInputMessages{}, err
	}
	return unresolved, nil
}

// ResolvePointers resolves the file pointers of a stored generation input.
func (c *Composer) ResolvePointers(ctx context.Context, input message.GenerationInputMessages) (message.GenerationInputMessages, error) {
	return c.resolver.ResolvePointers(ctx, input)
}

// Prepare composes the turn and returns the dispatchable request together
// with its storage mirror.
func (c *Composer) Prepare(ctx context.Context, input UserInput, chat message.Chat, provider config.ChatProviderConfig, preferredLanguage string) (ConcreteChatRequest, error) {
	resolved, unresolved, err := c.run(ctx, input, chat, provider, preferredLanguage)
	if err != nil {
		return ConcreteChatRequest{}, err
	}

	// History may still carry pointers.
	full, err := c.resolver.ResolvePointers(ctx, message.GenerationInputMessages{Messages: resolved.Messages})
	if err != nil {
		return ConcreteChatRequest{}, err
	}

	return ToConcrete(ResolvedChatSequence{Messages: full.Messages}, unresolved, RequestOptions{
		ProviderID:    input.RequestedProviderID,
		Model:         provider.ModelName,
		ModelSettings: facets.BuildModelSettings(provider.ModelSettings, c.facets, input.SelectedFacetIDs),
		ToolAllowlist: facets.BuildToolAllowlist(c.facets, input.SelectedFacetIDs),
	}), nil
}

// FilesForGeneration returns the contents of the given files as seen by auth.
func (c *Composer) FilesForGeneration(ctx context.Context, fileIDs []uuid.UUID, auth AuthContext) ([]FileContentsForGeneration, error) {
	return c.files.GetBulkFiles(ctx, fileIDs, auth)
}

func (c *Composer) run(ctx context.Context, input UserInput, chat message.Chat, provider config.ChatProviderConfig, preferredLanguage string) (ResolvedChatSequence, message.GenerationInputMessages, error) {
	timer := logging.StartTimer(logging.CategoryCompose, "compose")
	defer timer.Stop()

	seq, err := c.builder.Build(ctx, BuildRequest{
		Chat:              chat,
		PreviousMessageID: input.JustSubmittedMessageID,
		NewFileIDs:        input.NewFileIDs,
		Provider:          provider,
		PreferredLanguage: preferredLanguage,
		SelectedFacets:    input.SelectedFacetIDs,
	})
	if err != nil {
		return ResolvedChatSequence{}, message.GenerationInputMessages{}, err
	}

	seq, err = ResolvePromptSpecs(ctx, seq, c.prompts)
	if err != nil {
		return ResolvedChatSequence{}, message.GenerationInputMessages{}, err
	}

	resolved, unresolved, err := c.resolver.Resolve(ctx, seq)
	if err != nil {
		return ResolvedChatSequence{}, message.GenerationInputMessages{}, fmt.Errorf("failed to resolve sequence: %w", err)
	}

	logging.Get(logging.CategoryCompose).Info("generation input composed",
		zap.Stringer("chat_id", chat.ID),
		zap.Stringer("message_id", input.JustSubmittedMessageID),
		zap.Int("messages", len(unresolved.Messages)),
	)
	return resolved, unresolved, nil
}
