package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"chatcompose/internal/config"
	"chatcompose/internal/files"
	"chatcompose/internal/logging"
	"chatcompose/internal/message"
	"chatcompose/internal/prompt"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage the configuration file",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write the default configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		force, _ := cmd.Flags().GetBool("force")
		if _, err := os.Stat(configPath); err == nil && !force {
			return fmt.Errorf("%s already exists (use --force to overwrite)", configPath)
		}
		if err := config.DefaultConfig().Save(configPath); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", configPath)
		return nil
	},
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the configuration for errors",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate(); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "configuration ok")
		return nil
	},
}

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Manage chats",
}

var chatCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a chat",
	RunE: func(cmd *cobra.Command, args []string) error {
		owner, _ := cmd.Flags().GetString("owner")
		assistant, _ := cmd.Flags().GetString("assistant")

		chat := message.Chat{ID: uuid.New(), OwnerID: owner, CreatedAt: time.Now()}
		if assistant != "" {
			id, err := uuid.Parse(assistant)
			if err != nil {
				return fmt.Errorf("invalid assistant id: %w", err)
			}
			chat.AssistantID = &id
		}

		return withApp(cmd, func(ctx context.Context, a *app) error {
			if err := a.store.CreateChat(ctx, chat); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), chat.ID)
			return nil
		})
	},
}

var messageCmd = &cobra.Command{
	Use:   "message",
	Short: "Manage chat messages",
}

var messageAddCmd = &cobra.Command{
	Use:   "add <chat-id>",
	Short: "Append a text message to a chat",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		chatID, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid chat id: %w", err)
		}
		role, _ := cmd.Flags().GetString("role")
		texts, _ := cmd.Flags().GetStringArray("text")
		previous, _ := cmd.Flags().GetString("previous")

		schema := message.Schema{Role: message.Role(role)}
		for _, t := range texts {
			schema.Content = append(schema.Content, message.Text{Text: t})
		}
		raw, err := json.Marshal(schema)
		if err != nil {
			return err
		}

		m := message.Message{ID: uuid.New(), ChatID: chatID, RawMessage: raw, CreatedAt: time.Now()}
		if previous != "" {
			id, err := uuid.Parse(previous)
			if err != nil {
				return fmt.Errorf("invalid previous message id: %w", err)
			}
			m.PreviousMessageID = &id
		}

		return withApp(cmd, func(ctx context.Context, a *app) error {
			if err := a.store.AddMessage(ctx, m); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), m.ID)
			return nil
		})
	},
}

var assistantCmd = &cobra.Command{
	Use:   "assistant",
	Short: "Manage assistants",
}

var assistantCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create an assistant with an optional prompt and files",
	RunE: func(cmd *cobra.Command, args []string) error {
		owner, _ := cmd.Flags().GetString("owner")
		name, _ := cmd.Flags().GetString("name")
		text, _ := cmd.Flags().GetString("prompt")
		external, _ := cmd.Flags().GetString("prompt-external")
		rawFiles, _ := cmd.Flags().GetStringSlice("file")

		fileIDs, err := parseUUIDs(rawFiles)
		if err != nil {
			return err
		}
		assistant := prompt.Assistant{ID: uuid.New(), Name: name, Prompt: text, PromptExternal: external, FileIDs: fileIDs}

		return withApp(cmd, func(ctx context.Context, a *app) error {
			if err := a.store.CreateAssistant(ctx, owner, assistant); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), assistant.ID)
			return nil
		})
	},
}

var uploadCmd = &cobra.Command{
	Use:   "upload <path>",
	Short: "Copy a file into storage and register it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		owner, _ := cmd.Flags().GetString("owner")
		providerID, _ := cmd.Flags().GetString("storage")

		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", args[0], err)
		}

		return withApp(cmd, func(ctx context.Context, a *app) error {
			if _, err := a.storage.Get(providerID); err != nil {
				return err
			}
			provider := a.cfg.Storage.Providers[providerID]

			u := files.Upload{
				ID:                uuid.New(),
				OwnerID:           owner,
				Filename:          filepath.Base(args[0]),
				StorageProviderID: providerID,
				CreatedAt:         time.Now(),
			}
			u.StoragePath = filepath.ToSlash(filepath.Join(u.ID.String(), u.Filename))

			dest := filepath.Join(provider.Root, filepath.FromSlash(u.StoragePath))
			if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
				return fmt.Errorf("failed to create storage directory: %w", err)
			}
			if err := os.WriteFile(dest, data, 0644); err != nil {
				return fmt.Errorf("failed to store %s: %w", u.Filename, err)
			}
			if err := a.store.CreateFileUpload(ctx, u); err != nil {
				return err
			}

			logging.Get(logging.CategoryFiles).Info("file uploaded",
				zap.String("file_id", u.ID.String()),
				zap.String("filename", u.Filename),
				zap.Int("bytes", len(data)),
			)
			fmt.Fprintln(cmd.OutOrStdout(), u.ID)
			return nil
		})
	},
}

func init() {
	configInitCmd.Flags().Bool("force", false, "Overwrite an existing file")

	chatCreateCmd.Flags().String("owner", "", "Owner (user id) of the chat")
	chatCreateCmd.Flags().String("assistant", "", "Assistant to bind the chat to")
	_ = chatCreateCmd.MarkFlagRequired("owner")

	messageAddCmd.Flags().String("role", string(message.RoleUser), "Message role (user, assistant, system)")
	messageAddCmd.Flags().StringArray("text", nil, "Text part (repeatable)")
	messageAddCmd.Flags().String("previous", "", "Id of the preceding message")

	assistantCreateCmd.Flags().String("owner", "", "Owner (user id) of the assistant")
	assistantCreateCmd.Flags().String("name", "", "Assistant name")
	assistantCreateCmd.Flags().String("prompt", "", "Inline assistant prompt")
	assistantCreateCmd.Flags().String("prompt-external", "", "Name of an external prompt")
	assistantCreateCmd.Flags().StringSlice("file", nil, "Attached file upload ids")
	_ = assistantCreateCmd.MarkFlagRequired("name")
	assistantCreateCmd.MarkFlagsMutuallyExclusive("prompt", "prompt-external")

	uploadCmd.Flags().String("owner", "", "Owner (user id) of the file")
	uploadCmd.Flags().String("storage", "local", "Storage provider id")
	_ = uploadCmd.MarkFlagRequired("owner")
}

func parseUUIDs(raw []string) ([]uuid.UUID, error) {
	ids := make([]uuid.UUID, 0, len(raw))
	for _, r := range raw {
		id, err := uuid.Parse(r)
		if err != nil {
			return nil, fmt.Errorf("invalid id %q: %w", r, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
