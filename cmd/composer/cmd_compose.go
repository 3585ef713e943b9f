package main

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"chatcompose/internal/compose"
	"chatcompose/internal/config"
	"chatcompose/internal/facets"
	"chatcompose/internal/logging"
	"chatcompose/internal/message"
	"chatcompose/internal/usage"
)

// turnFlags are shared by compose and prepare.
type turnFlags struct {
	provider string
	facets   []string
	files    []string
	language string
}

func (f *turnFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.provider, "provider", "p", "", "Chat provider id (default: first in priority order)")
	cmd.Flags().StringSliceVar(&f.facets, "facet", nil, "Selected facet ids (default: configured default facets)")
	cmd.Flags().StringSliceVar(&f.files, "file", nil, "File upload ids attached to this turn")
	cmd.Flags().StringVar(&f.language, "lang", "en", "Preferred language (BCP 47)")
}

// turn resolves the flags and the submitted message into composer inputs.
func (f *turnFlags) turn(ctx context.Context, cmd *cobra.Command, a *app, messageID string) (compose.UserInput, message.Chat, config.ChatProviderConfig, error) {
	id, err := uuid.Parse(messageID)
	if err != nil {
		return compose.UserInput{}, message.Chat{}, config.ChatProviderConfig{}, fmt.Errorf("invalid message id: %w", err)
	}
	fileIDs, err := parseUUIDs(f.files)
	if err != nil {
		return compose.UserInput{}, message.Chat{}, config.ChatProviderConfig{}, err
	}
	providerID, provider, err := a.cfg.Provider(f.provider)
	if err != nil {
		return compose.UserInput{}, message.Chat{}, config.ChatProviderConfig{}, err
	}

	submitted, err := a.store.GetMessageByID(ctx, id)
	if err != nil {
		return compose.UserInput{}, message.Chat{}, config.ChatProviderConfig{}, err
	}
	chat, err := a.store.GetChat(ctx, submitted.ChatID)
	if err != nil {
		return compose.UserInput{}, message.Chat{}, config.ChatProviderConfig{}, err
	}

	selected := f.facets
	if !cmd.Flags().Changed("facet") {
		selected = a.cfg.Facets.DefaultSelectedFacets
	}
	for _, facet := range selected {
		if _, ok := a.cfg.Facets.Facets[facet]; !ok {
			return compose.UserInput{}, message.Chat{}, config.ChatProviderConfig{}, fmt.Errorf("unknown facet: %s", facet)
		}
	}

	return compose.UserInput{
		JustSubmittedMessageID: id,
		RequestedProviderID:    providerID,
		NewFileIDs:             fileIDs,
		SelectedFacetIDs:       selected,
	}, chat, provider, nil
}

var (
	composeFlags turnFlags
	prepareFlags turnFlags
)

var composeCmd = &cobra.Command{
	Use:   "compose <message-id>",
	Short: "Print the storable generation input for a submitted message",
	Long: `Composes the generation input for the turn ending with <message-id> and
prints it with file pointers kept. With --record the input is stored on the
given reply message, where later turns pick it up as their anchor.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		record, _ := cmd.Flags().GetString("record")

		return withApp(cmd, func(ctx context.Context, a *app) error {
			input, chat, provider, err := composeFlags.turn(ctx, cmd, a, args[0])
			if err != nil {
				return err
			}
			gen, err := a.composer.Compose(ctx, input, chat, provider, composeFlags.language)
			if err != nil {
				return err
			}

			if record != "" {
				replyID, err := uuid.Parse(record)
				if err != nil {
					return fmt.Errorf("invalid reply id: %w", err)
				}
				if err := a.store.SetGenerationInput(ctx, replyID, gen); err != nil {
					return err
				}
			}
			return printJSON(cmd, gen)
		})
	},
}

// preparedRequest is the printed form of a concrete request.
type preparedRequest struct {
	ProviderID    string                          `json:"provider_id"`
	Model         string                          `json:"model"`
	ModelSettings config.ModelSettings            `json:"model_settings"`
	ToolAllowlist []string                        `json:"tool_allowlist"`
	Messages      []message.InputMessage          `json:"messages"`
	Unresolved    message.GenerationInputMessages `json:"generation_input_messages"`
	Tokens        tokenReport                     `json:"tokens"`
}

type tokenReport struct {
	Total       int            `json:"total"`
	ByRole      map[string]int `json:"by_role"`
	Images      int            `json:"images"`
	ContextSize int            `json:"context_size,omitempty"`
	Remaining   int            `json:"remaining,omitempty"`
}

func newTokenReport(est usage.Estimate) tokenReport {
	r := tokenReport{
		Total:       est.Total,
		ByRole:      make(map[string]int, len(est.ByRole)),
		Images:      est.Images,
		ContextSize: est.ContextSize,
		Remaining:   est.Remaining,
	}
	for role, n := range est.ByRole {
		r.ByRole[string(role)] = n
	}
	return r
}

var prepareCmd = &cobra.Command{
	Use:   "prepare <message-id>",
	Short: "Print the dispatchable request for a submitted message",
	Long: `Runs all composition phases, resolving file pointers, and prints the
concrete request with merged model settings, tool allowlist and a token
estimate. The estimate is added to the usage statistics.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			input, chat, provider, err := prepareFlags.turn(ctx, cmd, a, args[0])
			if err != nil {
				return err
			}
			req, err := a.composer.Prepare(ctx, input, chat, provider, prepareFlags.language)
			if err != nil {
				return err
			}

			est, err := a.estimator.Estimate(ctx, req.Request.Messages, provider.ContextSizeTokens)
			if err != nil {
				return err
			}
			if err := trackUsage(req.Request.ProviderID, req.Request.Model, est); err != nil {
				logging.Get(logging.CategoryUsage).Warn("failed to record usage", zap.Error(err))
			}

			return printJSON(cmd, preparedRequest{
				ProviderID:    req.Request.ProviderID,
				Model:         req.Request.Model,
				ModelSettings: req.Request.ModelSettings,
				ToolAllowlist: req.Request.ToolAllowlist,
				Messages:      req.Request.Messages,
				Unresolved:    req.Unresolved,
				Tokens:        newTokenReport(est),
			})
		})
	},
}

var filesCmd = &cobra.Command{
	Use:   "files <file-id>...",
	Short: "Print the generation contents of uploaded files",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		owner, _ := cmd.Flags().GetString("owner")
		ids, err := parseUUIDs(args)
		if err != nil {
			return err
		}

		return withApp(cmd, func(ctx context.Context, a *app) error {
			contents, err := a.composer.FilesForGeneration(ctx, ids, compose.AuthContext{UserID: owner})
			if err != nil {
				return err
			}
			type fileJSON struct {
				ID       uuid.UUID            `json:"id"`
				Filename string               `json:"filename"`
				Content  message.InputMessage `json:"content"`
			}
			out := make([]fileJSON, 0, len(contents))
			for _, c := range contents {
				out = append(out, fileJSON{ID: c.ID, Filename: c.Filename, Content: message.InputMessage{Role: message.RoleUser, Content: c.Content}})
			}
			return printJSON(cmd, out)
		})
	},
}

var facetsCmd = &cobra.Command{
	Use:   "facets",
	Short: "Print the tool allowlist and model settings for a facet selection",
	RunE: func(cmd *cobra.Command, args []string) error {
		providerID, _ := cmd.Flags().GetString("provider")
		selected, _ := cmd.Flags().GetStringSlice("facet")

		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}
		_, provider, err := cfg.Provider(providerID)
		if err != nil {
			return err
		}

		allowlist := facets.BuildToolAllowlist(cfg.Facets, selected)
		return printJSON(cmd, struct {
			Order         []string             `json:"application_order"`
			ToolAllowlist []string             `json:"tool_allowlist"`
			Unrestricted  bool                 `json:"unrestricted"`
			ModelSettings config.ModelSettings `json:"model_settings"`
		}{
			Order:         facets.ApplicationOrder(cfg.Facets, selected),
			ToolAllowlist: allowlist,
			Unrestricted:  allowlist == nil,
			ModelSettings: facets.BuildModelSettings(provider.ModelSettings, cfg.Facets, selected),
		})
	},
}

var tokensCmd = &cobra.Command{
	Use:   "tokens <text>...",
	Short: "Count the tokens of a text with the configured encoding",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			n, err := a.tokens.Count(ctx, strings.Join(args, " "))
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), n)
			return nil
		})
	},
}

var usageCmd = &cobra.Command{
	Use:   "usage",
	Short: "Print the recorded prompt token usage",
	RunE: func(cmd *cobra.Command, args []string) error {
		tracker, err := usage.NewTracker(usageDir())
		if err != nil {
			return err
		}
		return printJSON(cmd, tracker.Stats())
	},
}

// usageDir keeps usage statistics next to the database.
func usageDir() string {
	return filepath.Dir(cfg.Database.Path)
}

func trackUsage(providerID, model string, est usage.Estimate) error {
	tracker, err := usage.NewTracker(usageDir())
	if err != nil {
		return err
	}
	tracker.Track(providerID, model, est)
	return tracker.Save()
}

func init() {
	composeFlags.register(composeCmd)
	composeCmd.Flags().String("record", "", "Store the result as the generation input of this reply message")
	prepareFlags.register(prepareCmd)

	filesCmd.Flags().String("owner", "", "User requesting the files")
	_ = filesCmd.MarkFlagRequired("owner")

	facetsCmd.Flags().String("provider", "", "Chat provider id whose model settings are the base")
	facetsCmd.Flags().StringSlice("facet", nil, "Selected facet ids")
}
