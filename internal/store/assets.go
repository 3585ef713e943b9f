package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"chatcompose/internal/compose"
	"chatcompose/internal/files"
	"chatcompose/internal/prompt"
)

// CreateFileUpload records an uploaded file.
func (s *Store) CreateFileUpload(ctx context.Context, u files.Upload) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO file_uploads (id, owner_id, filename, storage_provider_id, storage_path, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		u.ID.String(), u.OwnerID, u.Filename, u.StorageProviderID, u.StoragePath, formatTime(u.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to create file upload %s: %w", u.ID, err)
	}
	return nil
}

// GetFileUpload implements files.UploadLookup.
func (s *Store) GetFileUpload(ctx context.Context, id uuid.UUID) (files.Upload, error) {
	var (
		created string
		u       = files.Upload{ID: id}
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT owner_id, filename, storage_provider_id, storage_path, created_at
		 FROM file_uploads WHERE id = ?`, id.String(),
	).Scan(&u.OwnerID, &u.Filename, &u.StorageProviderID, &u.StoragePath, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return files.Upload{}, fmt.Errorf("%w: %s", files.ErrFileNotFound, id)
	}
	if err != nil {
		return files.Upload{}, fmt.Errorf("failed to load file upload %s: %w", id, err)
	}
	u.CreatedAt = parseTime(created)
	return u, nil
}

// CreateAssistant stores an assistant and its attached files in one
// transaction.
func (s *Store) CreateAssistant(ctx context.Context, ownerID string, a prompt.Assistant) error {
	if a.Prompt != "" && a.PromptExternal != "" {
		return fmt.Errorf("assistant %s: prompt and external prompt are mutually exclusive", a.ID)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO assistants (id, owner_id, name, prompt, prompt_external, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		a.ID.String(), ownerID, a.Name, a.Prompt, a.PromptExternal, formatTime(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("failed to create assistant %s: %w", a.ID, err)
	}
	for i, fileID := range a.FileIDs {
		_, err := tx.ExecContext(ctx,
			"INSERT INTO assistant_files (assistant_id, file_upload_id, position) VALUES (?, ?, ?)",
			a.ID.String(), fileID.String(), i,
		)
		if err != nil {
			return fmt.Errorf("failed to attach file %s to assistant %s: %w", fileID, a.ID, err)
		}
	}
	return tx.Commit()
}

// GetAssistant implements prompt.AssistantLookup.
func (s *Store) GetAssistant(ctx context.Context, id uuid.UUID) (prompt.Assistant, error) {
	a := prompt.Assistant{ID: id}
	err := s.db.QueryRowContext(ctx,
		"SELECT name, prompt, prompt_external FROM assistants WHERE id = ?", id.String(),
	).Scan(&a.Name, &a.Prompt, &a.PromptExternal)
	if errors.Is(err, sql.ErrNoRows) {
		return prompt.Assistant{}, fmt.Errorf("%w: assistant %s", compose.ErrNotFound, id)
	}
	if err != nil {
		return prompt.Assistant{}, fmt.Errorf("failed to load assistant %s: %w", id, err)
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT file_upload_id FROM assistant_files WHERE assistant_id = ? ORDER BY position", id.String(),
	)
	if err != nil {
		return prompt.Assistant{}, fmt.Errorf("failed to load assistant files: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return prompt.Assistant{}, err
		}
		fileID, err := uuid.Parse(raw)
		if err != nil {
			return prompt.Assistant{}, fmt.Errorf("invalid file id %q: %w", raw, err)
		}
		a.FileIDs = append(a.FileIDs, fileID)
	}
	return a, rows.Err()
}
