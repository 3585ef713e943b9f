package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/hashicorp/go-multierror"
	"gopkg.in/yaml.v3"
)

// Config holds all composer configuration.
type Config struct {
	Name string `yaml:"name"`

	// Chat providers and their prompts / generation settings
	ChatProviders ChatProvidersConfig `yaml:"chat_providers"`

	// Facets (feature toggles selectable per generation)
	Facets FacetsConfig `yaml:"facets"`

	Composition CompositionConfig `yaml:"composition"`
	Caches      CachesConfig      `yaml:"caches"`
	Storage     StorageConfig     `yaml:"storage"`
	Prompts     PromptsConfig     `yaml:"prompts"`
	Database    DatabaseConfig    `yaml:"database"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// ChatProvidersConfig lists the configured providers.
type ChatProvidersConfig struct {
	// Provider ids in priority order; the first one is the default.
	PriorityOrder []string                      `yaml:"priority_order"`
	Providers     map[string]ChatProviderConfig `yaml:"providers"`
}

// ChatProviderConfig configures one LLM provider/model.
type ChatProviderConfig struct {
	ProviderKind     string `yaml:"provider_kind"` // openai, ollama, ...
	ModelName        string `yaml:"model_name"`
	ModelDisplayName string `yaml:"model_display_name,omitempty"`
	// Context window of the model, used for remaining-token estimates.
	ContextSizeTokens int `yaml:"context_size_tokens,omitempty"`

	// Inline system prompt. Mutually exclusive with SystemPromptExternal.
	SystemPrompt string `yaml:"system_prompt,omitempty"`
	// Name of a prompt held by the external prompt store.
	SystemPromptExternal string `yaml:"system_prompt_external,omitempty"`

	ModelSettings ModelSettings `yaml:"model_settings"`
}

// DisplayName falls back to the model name.
func (p ChatProviderConfig) DisplayName() string {
	if p.ModelDisplayName != "" {
		return p.ModelDisplayName
	}
	return p.ModelName
}

// ReasoningEffort is the reasoning effort level for supported models.
type ReasoningEffort string

const (
	ReasoningNone    ReasoningEffort = "none"
	ReasoningMinimal ReasoningEffort = "minimal"
	ReasoningLow     ReasoningEffort = "low"
	ReasoningMedium  ReasoningEffort = "medium"
	ReasoningHigh    ReasoningEffort = "high"
)

// Verbosity is the output verbosity for supported models.
type Verbosity string

const (
	VerbosityLow    Verbosity = "low"
	VerbosityMedium Verbosity = "medium"
	VerbosityHigh   Verbosity = "high"
)

// ModelSettings are generation parameters. Nil pointers mean "not set".
type ModelSettings struct {
	GenerateImages  bool             `yaml:"generate_images,omitempty" json:"generate_images"`
	Temperature     *float64         `yaml:"temperature,omitempty" json:"temperature,omitempty"`
	TopP            *float64         `yaml:"top_p,omitempty" json:"top_p,omitempty"`
	ReasoningEffort *ReasoningEffort `yaml:"reasoning_effort,omitempty" json:"reasoning_effort,omitempty"`
	Verbosity       *Verbosity       `yaml:"verbosity,omitempty" json:"verbosity,omitempty"`
}

// FacetsConfig configures selectable facets.
type FacetsConfig struct {
	Facets map[string]FacetConfig `yaml:"facets"`

	// Facet ids in priority order; also the order model settings are applied.
	PriorityOrder []string `yaml:"priority_order"`

	// Global tool allowlist applied whenever facets are configured.
	ToolCallAllowlist []string `yaml:"tool_call_allowlist"`

	// Optional wrapper for facet prompts. Supports {{facet_prompt}} and
	// {{facet_display_name}}.
	FacetPromptTemplate string `yaml:"facet_prompt_template,omitempty"`

	DefaultSelectedFacets []string `yaml:"default_selected_facets,omitempty"`
}

// FacetConfig configures one facet.
type FacetConfig struct {
	DisplayName string `yaml:"display_name"`
	Icon        string `yaml:"icon,omitempty"`

	// Additional prompt, inline or by external prompt name.
	AdditionalSystemPrompt         string `yaml:"additional_system_prompt,omitempty"`
	AdditionalSystemPromptExternal string `yaml:"additional_system_prompt_external,omitempty"`

	ToolCallAllowlist []string      `yaml:"tool_call_allowlist"`
	ModelSettings     ModelSettings `yaml:"model_settings"`

	DisableFacetPromptTemplate bool `yaml:"disable_facet_prompt_template,omitempty"`
}

// CompositionConfig tunes the composition pipeline.
type CompositionConfig struct {
	// Maximum number of stored messages walked back from the previous message.
	HistoryWindow int `yaml:"history_window"`
	// Maximum concurrent file resolutions per request.
	FileConcurrency int `yaml:"file_concurrency"`
	// BPE encoding used for token counts.
	TokenizerEncoding string `yaml:"tokenizer_encoding"`
}

// CachesConfig bounds the process-wide caches.
type CachesConfig struct {
	FileBytesMaxEntries    int    `yaml:"file_bytes_max_entries"`
	FileContentsMaxEntries int    `yaml:"file_contents_max_entries"`
	TokenCountMaxEntries   int    `yaml:"token_count_max_entries"`
	ComputeTimeout         string `yaml:"compute_timeout"`
}

// StorageConfig maps storage provider ids to backends.
type StorageConfig struct {
	Providers map[string]StorageProviderConfig `yaml:"providers"`
}

// StorageProviderConfig configures one file storage backend.
type StorageProviderConfig struct {
	Kind string `yaml:"kind"` // local
	Root string `yaml:"root"`
}

// PromptsConfig configures the external prompt store.
type PromptsConfig struct {
	// Directory holding <name>.md / <name>.txt prompt files.
	ExternalDir string `yaml:"external_dir"`
}

// DatabaseConfig configures the SQLite database.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level      string          `yaml:"level"`  // debug, info, warn, error
	Format     string          `yaml:"format"` // json, console
	File       string          `yaml:"file"`
	Categories map[string]bool `yaml:"categories,omitempty"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name: "composer",
		ChatProviders: ChatProvidersConfig{
			PriorityOrder: []string{"default"},
			Providers: map[string]ChatProviderConfig{
				"default": {
					ProviderKind:      "openai",
					ModelName:         "gpt-4o",
					ContextSizeTokens: 128000,
					SystemPrompt:      "You are a helpful assistant. Today is {{now_date}}. Answer in {{preferred_language_en}}.",
				},
			},
		},
		Composition: CompositionConfig{
			HistoryWindow:     10,
			FileConcurrency:   8,
			TokenizerEncoding: "o200k_base",
		},
		Caches: CachesConfig{
			FileBytesMaxEntries:    256,
			FileContentsMaxEntries: 1024,
			TokenCountMaxEntries:   8192,
			ComputeTimeout:         "2m",
		},
		Storage: StorageConfig{
			Providers: map[string]StorageProviderConfig{
				"local": {Kind: "local", Root: "data/files"},
			},
		},
		Prompts: PromptsConfig{
			ExternalDir: "prompts",
		},
		Database: DatabaseConfig{
			Path: "data/composer.db",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// Return defaults if config file doesn't exist
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()

	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if path := os.Getenv("COMPOSER_DB"); path != "" {
		c.Database.Path = path
	}
	if root := os.Getenv("COMPOSER_STORAGE_ROOT"); root != "" {
		local := c.Storage.Providers["local"]
		local.Kind = "local"
		local.Root = root
		if c.Storage.Providers == nil {
			c.Storage.Providers = make(map[string]StorageProviderConfig)
		}
		c.Storage.Providers["local"] = local
	}
	if dir := os.Getenv("COMPOSER_PROMPT_DIR"); dir != "" {
		c.Prompts.ExternalDir = dir
	}
	if level := os.Getenv("COMPOSER_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
}

// GetComputeTimeout returns the cache computation timeout as a duration.
func (c *Config) GetComputeTimeout() time.Duration {
	if c.Caches.ComputeTimeout == "" {
		return 0
	}
	d, err := time.ParseDuration(c.Caches.ComputeTimeout)
	if err != nil {
		return 2 * time.Minute
	}
	return d
}

// Provider returns the requested provider, or the highest-priority one when
// requested is empty.
func (c *Config) Provider(requested string) (string, ChatProviderConfig, error) {
	id := requested
	if id == "" {
		if len(c.ChatProviders.PriorityOrder) == 0 {
			return "", ChatProviderConfig{}, fmt.Errorf("no chat providers configured")
		}
		id = c.ChatProviders.PriorityOrder[0]
	}
	p, ok := c.ChatProviders.Providers[id]
	if !ok {
		return "", ChatProviderConfig{}, fmt.Errorf("unknown chat provider: %s", id)
	}
	return id, p, nil
}

// Validate validates the configuration and reports every problem found.
func (c *Config) Validate() error {
	var result *multierror.Error

	for _, id := range c.ChatProviders.PriorityOrder {
		if _, ok := c.ChatProviders.Providers[id]; !ok {
			result = multierror.Append(result, fmt.Errorf("chat_providers.priority_order references unknown provider %q", id))
		}
	}
	for id, p := range c.ChatProviders.Providers {
		if p.ModelName == "" {
			result = multierror.Append(result, fmt.Errorf("chat provider %q: model_name is required", id))
		}
		if p.ContextSizeTokens < 0 {
			result = multierror.Append(result, fmt.Errorf("chat provider %q: context_size_tokens must not be negative", id))
		}
		if p.SystemPrompt != "" && p.SystemPromptExternal != "" {
			result = multierror.Append(result, fmt.Errorf("chat provider %q: system_prompt and system_prompt_external are mutually exclusive", id))
		}
		if err := p.ModelSettings.validate(); err != nil {
			result = multierror.Append(result, fmt.Errorf("chat provider %q: %w", id, err))
		}
	}

	for _, id := range c.Facets.PriorityOrder {
		if _, ok := c.Facets.Facets[id]; !ok {
			result = multierror.Append(result, fmt.Errorf("facets.priority_order references unknown facet %q", id))
		}
	}
	for id, f := range c.Facets.Facets {
		if f.AdditionalSystemPrompt != "" && f.AdditionalSystemPromptExternal != "" {
			result = multierror.Append(result, fmt.Errorf("facet %q: additional_system_prompt and additional_system_prompt_external are mutually exclusive", id))
		}
		if err := f.ModelSettings.validate(); err != nil {
			result = multierror.Append(result, fmt.Errorf("facet %q: %w", id, err))
		}
	}

	if c.Composition.HistoryWindow <= 0 {
		result = multierror.Append(result, fmt.Errorf("composition.history_window must be positive"))
	}
	if c.Composition.FileConcurrency <= 0 {
		result = multierror.Append(result, fmt.Errorf("composition.file_concurrency must be positive"))
	}

	for id, s := range c.Storage.Providers {
		if s.Kind != "local" {
			result = multierror.Append(result, fmt.Errorf("storage provider %q: unsupported kind %q", id, s.Kind))
		}
	}

	return result.ErrorOrNil()
}

func (m ModelSettings) validate() error {
	if m.Temperature != nil && (*m.Temperature < 0 || *m.Temperature > 2) {
		return fmt.Errorf("temperature %v out of range [0,2]", *m.Temperature)
	}
	if m.TopP != nil && (*m.TopP < 0 || *m.TopP > 1) {
		return fmt.Errorf("top_p %v out of range [0,1]", *m.TopP)
	}
	if m.ReasoningEffort != nil {
		switch *m.ReasoningEffort {
		case ReasoningNone, ReasoningMinimal, ReasoningLow, ReasoningMedium, ReasoningHigh:
		default:
			return fmt.Errorf("unknown reasoning_effort %q", *m.ReasoningEffort)
		}
	}
	if m.Verbosity != nil {
		switch *m.Verbosity {
		case VerbosityLow, VerbosityMedium, VerbosityHigh:
		default:
			return fmt.Errorf("unknown verbosity %q", *m.Verbosity)
		}
	}
	return nil
}
