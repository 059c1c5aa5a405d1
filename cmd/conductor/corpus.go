package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mohammad-safakhou/conductor/config"
	"github.com/mohammad-safakhou/conductor/internal/checkpoint"
	"github.com/mohammad-safakhou/conductor/internal/retrieval"
)

// loadCorpus reads every .txt and .md file under dir into a document, keyed
// by the filename without extension.
func loadCorpus(dir string) ([]retrieval.Document, error) {
	if dir == "" {
		return nil, nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read corpus dir: %w", err)
	}
	var docs []retrieval.Document
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := filepath.Ext(e.Name())
		if ext != ".txt" && ext != ".md" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("read corpus file %s: %w", e.Name(), err)
		}
		docs = append(docs, retrieval.Document{
			ID:   strings.TrimSuffix(e.Name(), ext),
			Text: string(data),
		})
	}
	return docs, nil
}

// openStore builds the checkpoint backend the config selects.
func openStore(ctx context.Context, cfg *config.Config) (checkpoint.HistoryStore, error) {
	switch cfg.Checkpoint.Backend {
	case "postgres":
		return checkpoint.NewPGStore(ctx, cfg.Storage.Postgres.DSN())
	default:
		return checkpoint.NewFileStore(cfg.Checkpoint.Dir)
	}
}
