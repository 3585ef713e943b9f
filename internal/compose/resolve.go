package compose

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"chatcompose/internal/facets"
	"chatcompose/internal/logging"
	"chatcompose/internal/message"
)

// DefaultFileConcurrency bounds concurrent file resolutions per request.
const DefaultFileConcurrency = 8

// Resolver runs phase 2 and the pointer resolution pass.
type Resolver struct {
	messages    MessageRepository
	files       FileResolver
	concurrency int
}

// NewResolver creates a phase 2 resolver. A non-positive concurrency falls
// back to DefaultFileConcurrency.
func NewResolver(messages MessageRepository, files FileResolver, concurrency int) *Resolver {
	if concurrency <= 0 {
		concurrency = DefaultFileConcurrency
	}
	return &Resolver{messages: messages, files: files, concurrency: concurrency}
}

type entry struct {
	resolved   message.InputMessage
	unresolved message.InputMessage
}

func same(m message.InputMessage) entry {
	return entry{resolved: m, unresolved: m}
}

type fileJob struct {
	index  int
	fileID uuid.UUID
}

// Resolve turns seq into messages. It returns the resolved sequence and the
// pointer-preserving mirror for storage.
//
// Files of the current turn are fetched concurrently and reassembled in part
// order; a file that cannot be read becomes placeholder text. Historic
// messages are re-emitted as stored, so pointers they carry are left for
// ResolvePointers.
func (r *Resolver) Resolve(ctx context.Context, seq AbstractChatSequence) (ResolvedChatSequence, message.GenerationInputMessages, error) {
	var (
		entries       []entry
		jobs          []fileJob
		systemEmitted bool
	)

	for _, part := range seq.Parts {
		switch p := part.(type) {
		case SystemPrompt:
			text, err := staticText(p.Spec)
			if err != nil {
				return ResolvedChatSequence{}, message.GenerationInputMessages{}, fmt.Errorf("system prompt: %w", err)
			}
			entries = append(entries, same(systemText(text)))
			systemEmitted = true
		case AssistantPrompt:
			text, err := staticText(p.Spec)
			if err != nil {
				return ResolvedChatSequence{}, message.GenerationInputMessages{}, fmt.Errorf("assistant prompt: %w", err)
			}
			entries = append(entries, same(systemText(text)))
			systemEmitted = true
		case FacetPrompt:
			text, err := staticText(p.Spec)
			if err != nil {
				return ResolvedChatSequence{}, message.GenerationInputMessages{}, fmt.Errorf("facet %s prompt: %w", p.FacetID, err)
			}
			wrapper := facets.Prompt{Template: p.Template, DisplayName: p.DisplayName}
			entries = append(entries, same(systemText(wrapper.Render(text))))
			systemEmitted = true
		case HistoricGenerationInput:
			stored, err := r.historicInput(ctx, p.MessageID)
			if err != nil {
				return ResolvedChatSequence{}, message.GenerationInputMessages{}, err
			}
			for _, m := range stored.Messages {
				if m.Role == message.RoleSystem && systemEmitted {
					continue
				}
				entries = append(entries, same(m))
			}
		case PreviousMessage:
			msgs, err := r.previousMessage(ctx, p.MessageID)
			if err != nil {
				return ResolvedChatSequence{}, message.GenerationInputMessages{}, err
			}
			for _, m := range msgs {
				entries = append(entries, same(m))
			}
		case CurrentUserContent:
			entries = append(entries, same(message.InputMessage{Role: message.RoleUser, Content: message.Text{Text: p.Text}}))
		case UserFile:
			jobs = append(jobs, fileJob{index: len(entries), fileID: p.FileID})
			entries = append(entries, entry{})
		case AssistantFile:
			jobs = append(jobs, fileJob{index: len(entries), fileID: p.FileID})
			entries = append(entries, entry{})
		default:
			panic(fmt.Sprintf("compose: unhandled sequence part %T", part))
		}
	}

	if err := r.resolveFiles(ctx, entries, jobs); err != nil {
		return ResolvedChatSequence{}, message.GenerationInputMessages{}, err
	}

	resolved := ResolvedChatSequence{Messages: make([]message.InputMessage, len(entries))}
	unresolved := message.GenerationInputMessages{Messages: make([]message.InputMessage, len(entries))}
	for i, e := range entries {
		resolved.Messages[i] = e.resolved
		unresolved.Messages[i] = e.unresolved
	}

	logging.Get(logging.CategoryCompose).Debug("sequence resolved",
		zap.Int("messages", len(entries)),
		zap.Int("files", len(jobs)),
	)
	return resolved, unresolved, nil
}

// ResolvePointers replaces every file pointer in input with its content.
// Unreadable files become placeholder text; only cancellation fails the call.
func (r *Resolver) ResolvePointers(ctx context.Context, input message.GenerationInputMessages) (message.GenerationInputMessages, error) {
	out := make([]message.InputMessage, len(input.Messages))
	copy(out, input.Messages)

	var g errgroup.Group
	g.SetLimit(r.concurrency)
	for i, m := range out {
		if !message.IsPointer(m.Content) {
			continue
		}
		i, m := i, m
		g.Go(func() error {
			out[i].Content = r.resolvePointer(ctx, m.Content)
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return message.GenerationInputMessages{}, err
	}
	return message.GenerationInputMessages{Messages: out}, nil
}

func (r *Resolver) resolveFiles(ctx context.Context, entries []entry, jobs []fileJob) error {
	if len(jobs) == 0 {
		return nil
	}

	var g errgroup.Group
	g.SetLimit(r.concurrency)
	for _, job := range jobs {
		job := job
		g.Go(func() error {
			pointer := r.pointerFor(ctx, job.fileID)
			entries[job.index] = entry{
				resolved:   message.InputMessage{Role: message.RoleUser, Content: r.resolvePointer(ctx, pointer)},
				unresolved: message.InputMessage{Role: message.RoleUser, Content: pointer},
			}
			return nil
		})
	}
	_ = g.Wait()

	return ctx.Err()
}

// pointerFor tags a file as image or text. Files whose metadata cannot be
// read are treated as text; resolving them yields the placeholder.
func (r *Resolver) pointerFor(ctx context.Context, fileID uuid.UUID) message.ContentPart {
	isImage, err := r.files.IsImageFile(ctx, fileID)
	if err != nil {
		logging.Get(logging.CategoryCompose).Debug("file type lookup failed",
			zap.Stringer("file_id", fileID),
			zap.Error(err),
		)
	}
	if isImage {
		return message.ImageFilePointer{FileID: fileID}
	}
	return message.TextFilePointer{FileID: fileID}
}

func (r *Resolver) resolvePointer(ctx context.Context, part message.ContentPart) message.ContentPart {
	switch p := part.(type) {
	case message.TextFilePointer:
		text, err := r.files.ResolveTextFile(ctx, p.FileID)
		if err != nil {
			return r.placeholder(p.FileID, err)
		}
		return message.Text{Text: text}
	case message.ImageFilePointer:
		img, err := r.files.ResolveImageFile(ctx, p.FileID)
		if err != nil {
			return r.placeholder(p.FileID, err)
		}
		return img
	}
	return part
}

func (r *Resolver) placeholder(fileID uuid.UUID, err error) message.Text {
	logging.Get(logging.CategoryCompose).Warn("file replaced by placeholder",
		zap.Stringer("file_id", fileID),
		zap.Error(err),
	)
	var p Placeholder
	if errors.As(err, &p) {
		return message.Text{Text: p.Placeholder()}
	}
	return message.Text{Text: fmt.Sprintf(
		"File:\nfile name: Unknown\nfile_id: file_id:%s\nUnable to retrieve file contents due to an unknown error. Please contact support if this issue persists.",
		fileID,
	)}
}

func (r *Resolver) historicInput(ctx context.Context, id uuid.UUID) (message.GenerationInputMessages, error) {
	m, err := r.messages.GetMessageByID(ctx, id)
	if err != nil {
		return message.GenerationInputMessages{}, fmt.Errorf("failed to load message %s: %w", id, err)
	}
	if len(m.GenerationInput) == 0 {
		return message.GenerationInputMessages{}, fmt.Errorf("message %s: %w: no generation input", id, message.ErrInvalidFormat)
	}
	input, err := message.ParseGenerationInput(m.GenerationInput)
	if err != nil {
		return message.GenerationInputMessages{}, fmt.Errorf("generation input of message %s: %w", id, err)
	}
	return input, nil
}

func (r *Resolver) previousMessage(ctx context.Context, id uuid.UUID) ([]message.InputMessage, error) {
	m, err := r.messages.GetMessageByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load message %s: %w", id, err)
	}
	s, err := message.ParseRaw(m.RawMessage)
	if err != nil {
		return nil, fmt.Errorf("stored message %s: %w", id, err)
	}
	msgs := make([]message.InputMessage, 0, len(s.Content))
	for _, c := range s.Content {
		msgs = append(msgs, message.InputMessage{Role: s.Role, Content: c})
	}
	return msgs, nil
}

func staticText(spec PromptSpec) (string, error) {
	switch s := spec.(type) {
	case StaticPrompt:
		return s.Content, nil
	case ExternalPrompt:
		return "", fmt.Errorf("%w: %s", ErrUnresolvedPrompt, s.Name)
	}
	return "", fmt.Errorf("unknown prompt spec %T", spec)
}

func systemText(text string) message.InputMessage {
	return message.InputMessage{Role: message.RoleSystem, Content: message.Text{Text: text}}
}
