package main

import (
	"fmt"

	"chatcompose/internal/cache"
	"chatcompose/internal/compose"
	"chatcompose/internal/config"
	"chatcompose/internal/files"
	"chatcompose/internal/logging"
	"chatcompose/internal/prompt"
	"chatcompose/internal/store"
	"chatcompose/internal/usage"
)

// app holds the wired components for one CLI invocation.
type app struct {
	cfg       *config.Config
	store     *store.Store
	storage   files.Providers
	files     *files.Resolver
	composer  *compose.Composer
	tokens    *cache.TokenCounter
	estimator *usage.Estimator
}

// newEncoder builds the tokenizer behind the token-count cache.
var newEncoder = func(encoding string) cache.Encoder {
	return cache.NewTiktokenEncoder(encoding)
}

func loggingConfig(cfg config.LoggingConfig, verbose bool) logging.Config {
	level := cfg.Level
	if verbose {
		level = "debug"
	}
	return logging.Config{
		Level:      level,
		Format:     cfg.Format,
		File:       cfg.File,
		Categories: cfg.Categories,
	}
}

func newApp(cfg *config.Config) (*app, error) {
	db, err := store.Open(cfg.Database.Path)
	if err != nil {
		return nil, err
	}

	storage, err := files.NewProviders(cfg.Storage)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to configure storage: %w", err)
	}

	timeout := cfg.GetComputeTimeout()
	resolver := files.NewResolver(
		db,
		storage,
		files.NewCaches(cfg.Caches.FileBytesMaxEntries, cfg.Caches.FileContentsMaxEntries, timeout),
		files.TextParser{},
		cfg.Composition.FileConcurrency,
	)

	var external prompt.ExternalStore
	if cfg.Prompts.ExternalDir != "" {
		external = prompt.NewDirStore(cfg.Prompts.ExternalDir)
	}
	prompts := prompt.NewProvider(external, db, prompt.NewRenderer())

	tokens := cache.NewTokenCounter(
		cache.New[int]("token_counts", cache.Options{MaxEntries: cfg.Caches.TokenCountMaxEntries, ComputeTimeout: timeout}),
		newEncoder(cfg.Composition.TokenizerEncoding),
	)

	return &app{
		cfg:     cfg,
		store:   db,
		storage: storage,
		files:   resolver,
		composer: compose.NewComposer(db, resolver, prompts, compose.Options{
			Facets:          cfg.Facets,
			HistoryWindow:   cfg.Composition.HistoryWindow,
			FileConcurrency: cfg.Composition.FileConcurrency,
		}),
		tokens:    tokens,
		estimator: usage.NewEstimator(tokens),
	}, nil
}

func (a *app) Close() error {
	return a.store.Close()
}
