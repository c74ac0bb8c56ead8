// Command lexcore is the retrieval core CLI: deterministic chunking,
// hybrid keyword + semantic search, replayable retrieval runs and an
// append-only generation audit log.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/custodia-labs/lexcore/internal/adapters/driven/config/file"
	"github.com/custodia-labs/lexcore/internal/adapters/driven/embedding/ollama"
	"github.com/custodia-labs/lexcore/internal/adapters/driven/embedding/openai"
	"github.com/custodia-labs/lexcore/internal/adapters/driven/storage/sqlite"
	"github.com/custodia-labs/lexcore/internal/adapters/driven/vector/hnsw"
	"github.com/custodia-labs/lexcore/internal/adapters/driving/cli"
	"github.com/custodia-labs/lexcore/internal/core/ports/driven"
	"github.com/custodia-labs/lexcore/internal/core/services"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configStore, err := file.NewConfigStore(os.Getenv("LEXCORE_CONFIG_DIR"))
	if err != nil {
		return fmt.Errorf("open config: %w", err)
	}

	store, err := sqlite.NewStore(os.Getenv("LEXCORE_DATA_DIR"))
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	embeddingService, err := buildEmbeddingService(configStore)
	if err != nil {
		return fmt.Errorf("configure embedding provider: %w", err)
	}

	var vectorIndex driven.VectorIndex
	if embeddingService != nil {
		defer embeddingService.Close()
		vectorIndex, err = hnsw.New(hnsw.Config{
			Dim:            embeddingService.Dimensions(),
			M:              configStore.GetInt("vector.m"),
			EfConstruction: configStore.GetInt("vector.ef_construction"),
			EfSearch:       configStore.GetInt("vector.ef_search"),
		})
		if err != nil {
			return fmt.Errorf("create vector index: %w", err)
		}
		defer vectorIndex.Close()
	}

	chunkStore := store.ChunkStore()
	lexicalIndex := store.LexicalIndex()
	runStore := store.RunStore()

	documentService := services.NewDocumentService(chunkStore, lexicalIndex, vectorIndex, embeddingService)
	retrievalService := services.NewRetrievalService(chunkStore, lexicalIndex, vectorIndex, embeddingService, runStore)
	auditService := services.NewAuditService(store.AuditStore(), runStore)

	// The HNSW graph lives in process memory only; refill it from the
	// persisted vectors before any command can search it.
	if vectorIndex != nil {
		if _, err := documentService.HydrateVectorIndex(context.Background()); err != nil {
			return fmt.Errorf("hydrate vector index: %w", err)
		}
	}

	cli.Execute(cli.Deps{
		Version:          version,
		DocumentService:  documentService,
		RetrievalService: retrievalService,
		AuditService:     auditService,
		ConfigStore:      configStore,
	})
	return nil
}

// buildEmbeddingService picks the embedding provider from configuration.
// Returns nil when embedding is disabled; retrieval then runs lexical-only.
func buildEmbeddingService(cfg driven.ConfigStore) (driven.EmbeddingService, error) {
	provider := cfg.GetString("embedding.provider")
	if provider == "" {
		provider = "ollama"
	}

	timeout := time.Duration(cfg.GetInt("embedding.timeout_seconds")) * time.Second

	switch provider {
	case "none":
		return nil, nil
	case "ollama":
		return ollama.NewEmbeddingService(ollama.Config{
			BaseURL:    cfg.GetString("embedding.base_url"),
			Model:      cfg.GetString("embedding.model"),
			Timeout:    timeout,
			Dimensions: cfg.GetInt("embedding.dimensions"),
		}), nil
	case "openai":
		apiKey := cfg.GetString("embedding.api_key")
		if apiKey == "" {
			apiKey = os.Getenv("OPENAI_API_KEY")
		}
		return openai.NewEmbeddingService(openai.Config{
			APIKey:     apiKey,
			BaseURL:    cfg.GetString("embedding.base_url"),
			Model:      cfg.GetString("embedding.model"),
			Timeout:    timeout,
			Dimensions: cfg.GetInt("embedding.dimensions"),
		})
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", provider)
	}
}
