package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"chatcompose/internal/compose"
	"chatcompose/internal/logging"
	"chatcompose/internal/message"
)

// CreateChat inserts a chat.
func (s *Store) CreateChat(ctx context.Context, chat message.Chat) error {
	var assistant sql.NullString
	if chat.AssistantID != nil {
		assistant = sql.NullString{String: chat.AssistantID.String(), Valid: true}
	}
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO chats (id, owner_id, assistant_id, created_at) VALUES (?, ?, ?, ?)",
		chat.ID.String(), chat.OwnerID, assistant, formatTime(chat.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to create chat %s: %w", chat.ID, err)
	}
	return nil
}

// GetChat loads a chat by id.
func (s *Store) GetChat(ctx context.Context, id uuid.UUID) (message.Chat, error) {
	var (
		chatID, owner, created string
		assistant              sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT id, owner_id, assistant_id, created_at FROM chats WHERE id = ?", id.String(),
	).Scan(&chatID, &owner, &assistant, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return message.Chat{}, fmt.Errorf("%w: chat %s", compose.ErrNotFound, id)
	}
	if err != nil {
		return message.Chat{}, fmt.Errorf("failed to load chat %s: %w", id, err)
	}

	chat := message.Chat{OwnerID: owner, CreatedAt: parseTime(created)}
	if chat.ID, err = uuid.Parse(chatID); err != nil {
		return message.Chat{}, fmt.Errorf("invalid chat id %q: %w", chatID, err)
	}
	if chat.AssistantID, err = parseNullUUID(assistant); err != nil {
		return message.Chat{}, err
	}
	return chat, nil
}

// AddMessage validates and inserts a message.
func (s *Store) AddMessage(ctx context.Context, m message.Message) error {
	if _, err := message.ParseRaw(m.RawMessage); err != nil {
		return fmt.Errorf("refusing to store message %s: %w", m.ID, err)
	}
	var input sql.NullString
	if len(m.GenerationInput) > 0 {
		if _, err := message.ParseGenerationInput(m.GenerationInput); err != nil {
			return fmt.Errorf("refusing to store message %s: %w", m.ID, err)
		}
		input = sql.NullString{String: string(m.GenerationInput), Valid: true}
	}
	var prev sql.NullString
	if m.PreviousMessageID != nil {
		prev = sql.NullString{String: m.PreviousMessageID.String(), Valid: true}
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (id, chat_id, previous_message_id, raw_message, generation_input, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		m.ID.String(), m.ChatID.String(), prev, string(m.RawMessage), input, formatTime(m.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to add message %s: %w", m.ID, err)
	}
	logging.Get(logging.CategoryStore).Debug("message stored",
		zap.String("message_id", m.ID.String()),
		zap.String("chat_id", m.ChatID.String()),
	)
	return nil
}

// SetGenerationInput records the pointer form of the input that produced a
// message.
func (s *Store) SetGenerationInput(ctx context.Context, id uuid.UUID, input message.GenerationInputMessages) error {
	data, err := json.Marshal(input)
	if err != nil {
		return fmt.Errorf("failed to encode generation input: %w", err)
	}
	res, err := s.db.ExecContext(ctx, "UPDATE messages SET generation_input = ? WHERE id = ?", string(data), id.String())
	if err != nil {
		return fmt.Errorf("failed to store generation input for %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: message %s", compose.ErrNotFound, id)
	}
	return nil
}

// GetMessageByID implements compose.MessageRepository.
func (s *Store) GetMessageByID(ctx context.Context, id uuid.UUID) (message.Message, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, chat_id, previous_message_id, raw_message, generation_input, created_at
		 FROM messages WHERE id = ?`, id.String(),
	)
	m, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return message.Message{}, fmt.Errorf("%w: message %s", compose.ErrNotFound, id)
	}
	if err != nil {
		return message.Message{}, fmt.Errorf("failed to load message %s: %w", id, err)
	}
	return m, nil
}

// GetHistory implements compose.MessageRepository. It follows previous
// message links back from previousMessageID and returns at most maxCount
// messages, oldest first, ending with previousMessageID itself.
func (s *Store) GetHistory(ctx context.Context, previousMessageID uuid.UUID, maxCount int) ([]message.Message, error) {
	if maxCount <= 0 {
		return nil, nil
	}
	timer := logging.StartTimer(logging.CategoryStore, "store.GetHistory")
	defer timer.StopWithThreshold(defaultSlowQuery)

	rows, err := s.db.QueryContext(ctx, `
		WITH RECURSIVE chain(id, chat_id, previous_message_id, raw_message, generation_input, created_at, depth) AS (
			SELECT id, chat_id, previous_message_id, raw_message, generation_input, created_at, 1
			FROM messages WHERE id = ?
			UNION ALL
			SELECT m.id, m.chat_id, m.previous_message_id, m.raw_message, m.generation_input, m.created_at, c.depth + 1
			FROM messages m JOIN chain c ON m.id = c.previous_message_id
			WHERE c.depth < ?
		)
		SELECT id, chat_id, previous_message_id, raw_message, generation_input, created_at
		FROM chain ORDER BY depth DESC`,
		previousMessageID.String(), maxCount,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load history for %s: %w", previousMessageID, err)
	}
	defer rows.Close()

	var history []message.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan history: %w", err)
		}
		history = append(history, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(history) == 0 {
		return nil, fmt.Errorf("%w: message %s", compose.ErrNotFound, previousMessageID)
	}
	return history, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanMessage(sc scanner) (message.Message, error) {
	var (
		id, chatID, raw, created string
		prev, input              sql.NullString
	)
	if err := sc.Scan(&id, &chatID, &prev, &raw, &input, &created); err != nil {
		return message.Message{}, err
	}

	m := message.Message{RawMessage: json.RawMessage(raw), CreatedAt: parseTime(created)}
	var err error
	if m.ID, err = uuid.Parse(id); err != nil {
		return message.Message{}, fmt.Errorf("invalid message id %q: %w", id, err)
	}
	if m.ChatID, err = uuid.Parse(chatID); err != nil {
		return message.Message{}, fmt.Errorf("invalid chat id %q: %w", chatID, err)
	}
	if m.PreviousMessageID, err = parseNullUUID(prev); err != nil {
		return message.Message{}, err
	}
	if input.Valid && input.String != "" {
		m.GenerationInput = json.RawMessage(input.String)
	}
	return m, nil
}

func parseNullUUID(s sql.NullString) (*uuid.UUID, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	id, err := uuid.Parse(s.String)
	if err != nil {
		return nil, fmt.Errorf("invalid id %q: %w", s.String, err)
	}
	return &id, nil
}
