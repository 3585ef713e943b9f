// Package files resolves uploaded files into message content. Raw bytes and
// parsed text are each held in a process-wide coalescing cache keyed by file
// id, so a file is fetched and parsed once however many requests need it.
package files

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"chatcompose/internal/cache"
	"chatcompose/internal/compose"
	"chatcompose/internal/logging"
	"chatcompose/internal/message"
)

// Upload is the metadata of an uploaded file.
type Upload struct {
	ID                uuid.UUID
	OwnerID           string
	Filename          string
	StorageProviderID string
	StoragePath       string
	CreatedAt         time.Time
}

// UploadLookup finds upload records. Unknown ids yield an error wrapping
// ErrFileNotFound.
type UploadLookup interface {
	GetFileUpload(ctx context.Context, id uuid.UUID) (Upload, error)
}

// Caches are the two tiers shared by every Resolver of the process.
type Caches struct {
	Bytes *cache.Cache[[]byte]
	Text  *cache.Cache[string]
}

// NewCaches creates both tiers.
func NewCaches(bytesMax, textMax int, timeout time.Duration) Caches {
	return Caches{
		Bytes: cache.New[[]byte]("file_bytes", cache.Options{MaxEntries: bytesMax, ComputeTimeout: timeout}),
		Text:  cache.New[string]("file_contents", cache.Options{MaxEntries: textMax, ComputeTimeout: timeout}),
	}
}

// Resolver implements compose.FileResolver.
type Resolver struct {
	uploads     UploadLookup
	storage     Providers
	parser      Parser
	caches      Caches
	concurrency int
}

var _ compose.FileResolver = (*Resolver)(nil)

// NewResolver creates a resolver. A nil parser means TextParser.
func NewResolver(uploads UploadLookup, storage Providers, caches Caches, parser Parser, concurrency int) *Resolver {
	if parser == nil {
		parser = TextParser{}
	}
	if concurrency <= 0 {
		concurrency = compose.DefaultFileConcurrency
	}
	return &Resolver{
		uploads:     uploads,
		storage:     storage,
		parser:      parser,
		caches:      caches,
		concurrency: concurrency,
	}
}

// ResolveTextFile returns the file's text wrapped in its metadata header.
// Failures are *ResolveError values carrying the placeholder text.
func (r *Resolver) ResolveTextFile(ctx context.Context, fileID uuid.UUID) (string, error) {
	upload, err := r.uploads.GetFileUpload(ctx, fileID)
	if err != nil {
		return "", r.fail(fileID, "", err)
	}
	if IsImageFilename(upload.Filename) {
		return "", r.fail(fileID, upload.Filename, fmt.Errorf("text pointer references image file"))
	}

	text, err := r.text(ctx, upload)
	if err != nil {
		return "", r.fail(fileID, upload.Filename, err)
	}

	logging.Get(logging.CategoryFiles).Debug("text file resolved",
		zap.Stringer("file_id", fileID),
		zap.String("filename", upload.Filename),
		zap.Int("text_length", len(text)),
	)
	return FormatContent(upload.Filename, fileID, text), nil
}

// ResolveImageFile returns the image as base64 with its MIME type.
func (r *Resolver) ResolveImageFile(ctx context.Context, fileID uuid.UUID) (message.Image, error) {
	upload, err := r.uploads.GetFileUpload(ctx, fileID)
	if err != nil {
		return message.Image{}, r.fail(fileID, "", err)
	}
	return r.image(ctx, upload)
}

// IsImageFile reports whether the upload has an image extension.
func (r *Resolver) IsImageFile(ctx context.Context, fileID uuid.UUID) (bool, error) {
	upload, err := r.uploads.GetFileUpload(ctx, fileID)
	if err != nil {
		return false, err
	}
	return IsImageFilename(upload.Filename), nil
}

// GetBulkFiles resolves several files for auth. Files owned by someone else
// fail with ErrPermissionDenied. The first failure fails the call.
func (r *Resolver) GetBulkFiles(ctx context.Context, fileIDs []uuid.UUID, auth compose.AuthContext) ([]compose.FileContentsForGeneration, error) {
	out := make([]compose.FileContentsForGeneration, len(fileIDs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)
	for i, id := range fileIDs {
		i, id := i, id
		g.Go(func() error {
			upload, err := r.uploads.GetFileUpload(gctx, id)
			if err != nil {
				return r.fail(id, "", err)
			}
			if auth.UserID != "" && upload.OwnerID != auth.UserID {
				return r.fail(id, upload.Filename, fmt.Errorf("%w: file belongs to another user", ErrPermissionDenied))
			}

			var content message.ContentPart
			if IsImageFilename(upload.Filename) {
				img, err := r.image(gctx, upload)
				if err != nil {
					return err
				}
				content = img
			} else {
				text, err := r.text(gctx, upload)
				if err != nil {
					return r.fail(id, upload.Filename, err)
				}
				content = message.Text{Text: FormatContent(upload.Filename, id, text)}
			}

			out[i] = compose.FileContentsForGeneration{ID: id, Filename: upload.Filename, Content: content}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *Resolver) image(ctx context.Context, upload Upload) (message.Image, error) {
	if !IsImageFilename(upload.Filename) {
		return message.Image{}, r.fail(upload.ID, upload.Filename, fmt.Errorf("image pointer references non-image file"))
	}
	data, err := r.bytes(ctx, upload)
	if err != nil {
		return message.Image{}, r.fail(upload.ID, upload.Filename, err)
	}
	return message.Image{
		ContentType: MIMEType(upload.Filename),
		Base64Data:  base64.StdEncoding.EncodeToString(data),
	}, nil
}

func (r *Resolver) text(ctx context.Context, upload Upload) (string, error) {
	return r.caches.Text.GetOrCompute(ctx, upload.ID.String(), func(ctx context.Context) (string, error) {
		data, err := r.bytes(ctx, upload)
		if err != nil {
			return "", err
		}
		return r.parser.Parse(upload.Filename, data)
	})
}

func (r *Resolver) bytes(ctx context.Context, upload Upload) ([]byte, error) {
	return r.caches.Bytes.GetOrCompute(ctx, upload.ID.String(), func(ctx context.Context) ([]byte, error) {
		st, err := r.storage.Get(upload.StorageProviderID)
		if err != nil {
			return nil, err
		}
		return st.ReadFile(ctx, upload.StoragePath)
	})
}

func (r *Resolver) fail(id uuid.UUID, filename string, err error) *ResolveError {
	rerr := newResolveError(id, filename, err)
	logging.Get(logging.CategoryFiles).Warn("file resolution failed",
		zap.Stringer("file_id", id),
		zap.String("filename", rerr.Filename),
		zap.String("class", string(rerr.Class)),
		zap.Error(err),
	)
	return rerr
}
