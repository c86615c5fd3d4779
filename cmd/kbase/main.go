// Package main is the kbase CLI entry point.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/doclens/kbase/internal/codes"
	"github.com/doclens/kbase/internal/config"
	"github.com/doclens/kbase/internal/linker"
	"github.com/doclens/kbase/internal/oem"
	"github.com/doclens/kbase/internal/search"
	"github.com/doclens/kbase/internal/server"
	"github.com/doclens/kbase/internal/storage"
	"github.com/doclens/kbase/internal/vector"
	"github.com/doclens/kbase/pkg/utils"
)

var version = "dev"

const defaultConfigPath = "/usr/local/etc/kbase/config.yaml"

// loadConfig loads config from path. When path is the default, it first looks for
// config.yaml in the current directory (for development); if that exists it is used,
// so that "kbase server" from the project dir uses the project's config (including debug).
// Returns the config and the path that was actually loaded.
func loadConfig(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		if cwd, cwdErr := os.Getwd(); cwdErr == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, statErr := os.Stat(fallback); statErr == nil {
				cfg, loadErr := config.Load(fallback)
				if loadErr != nil {
					return nil, "", loadErr
				}
				return cfg, fallback, nil
			}
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	command := os.Args[1]
	switch command {
	case "server":
		runServer()
	case "reset":
		runReset()
	case "load-oem":
		runLoadOEM()
	case "status":
		runStatus()
	case "version", "--version", "-v":
		fmt.Printf("kbase version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

func runServer() {
	fs := flag.NewFlagSet("server", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging (query traces, reference reloads, etc.)")
	_ = fs.Parse(os.Args[2:])

	cfg, resolvedConfigPath, err := loadConfig(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	debugMode := cfg.Debug || *debug
	logger, err := utils.NewLogger(debugMode)
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("config loaded",
		zap.String("config_path", resolvedConfigPath),
		zap.Bool("debug", debugMode),
	)

	components, err := initializeComponents(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize components", zap.Error(err))
	}
	defer components.Close()

	oemCtx, oemCancel := context.WithCancel(context.Background())
	defer oemCancel()
	if cfg.OEM.ReferencePath != "" {
		if _, statErr := os.Stat(cfg.OEM.ReferencePath); statErr == nil {
			n, loadErr := components.OEMLoader.LoadFile(oemCtx, cfg.OEM.ReferencePath)
			if loadErr != nil {
				logger.Fatal("Failed to load OEM reference data", zap.Error(loadErr))
			}
			logger.Info("oem reference loaded", zap.Int("relationships", n))
		} else {
			// No file yet: fall back to whatever storage holds from a prior run.
			if _, loadErr := components.OEMLoader.LoadFromStorage(oemCtx); loadErr != nil {
				logger.Warn("oem load from storage failed", zap.Error(loadErr))
			}
		}
		if cfg.OEM.Watch {
			if err := components.OEMLoader.Watch(oemCtx, cfg.OEM.ReferencePath); err != nil {
				logger.Fatal("Failed to watch OEM reference file", zap.Error(err))
			}
		}
	} else {
		if _, loadErr := components.OEMLoader.LoadFromStorage(oemCtx); loadErr != nil {
			logger.Warn("oem load from storage failed", zap.Error(loadErr))
		}
	}

	srv := server.NewServer(
		components.Ranker,
		components.Resolver,
		components.Products,
		components.Evidence,
		components.Codes,
		components.Storage,
		&cfg.Server,
		logger,
	)
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down...")
	if cfg.Storage.VectorIndexPath != "" && components.VectorIndex != nil {
		if err := components.VectorIndex.Save(cfg.Storage.VectorIndexPath); err != nil {
			logger.Warn("vector index save failed", zap.String("path", cfg.Storage.VectorIndexPath), zap.Error(err))
		}
	}
	oemCancel()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Stop(ctx)
}

func runReset() {
	fs := flag.NewFlagSet("reset", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	modelName := fs.String("model", "", "embedding model whose vectors to reset (default: configured model)")
	batchSize := fs.Int("batch-size", 0, "chunks per transaction (default: configured batch size)")
	_ = fs.Parse(os.Args[2:])

	cfg, _, err := loadConfig(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger, err := utils.NewLogger(cfg.Debug)
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	model := *modelName
	if model == "" {
		model = cfg.Embedding.ModelName
	}
	batch := *batchSize
	if batch == 0 {
		batch = cfg.Reset.BatchSize
	}

	store, err := storage.NewSQLiteStorage(cfg.Storage.DatabasePath)
	if err != nil {
		fmt.Printf("Failed to open storage: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	// The saved vector index would otherwise keep serving the deleted vectors
	// on next startup. Evict per batch and persist the pruned index at the end.
	var idx *vector.MemoryIndex
	if cfg.Storage.VectorIndexPath != "" {
		if _, statErr := os.Stat(cfg.Storage.VectorIndexPath); statErr == nil {
			idx, err = vector.NewMemoryIndex(cfg.Embedding.Dimensions)
			if err == nil {
				if loadErr := idx.Load(cfg.Storage.VectorIndexPath); loadErr != nil {
					logger.Warn("vector index load failed, skipping eviction", zap.Error(loadErr))
					idx = nil
				}
			}
		}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	total, err := store.ResetEmbeddings(ctx, model, batch, func(chunkIDs []string) {
		logger.Info("reset batch committed", zap.Int("chunks", len(chunkIDs)))
		if idx != nil {
			if rmErr := idx.Remove(context.Background(), chunkIDs); rmErr != nil {
				logger.Warn("vector index eviction failed", zap.Error(rmErr))
			}
		}
	})
	if err != nil {
		// Committed batches stay committed; re-running resumes where this run
		// stopped.
		fmt.Fprintf(os.Stderr, "Reset interrupted after %d chunk(s): %v\n", total, err)
		if idx != nil {
			_ = idx.Save(cfg.Storage.VectorIndexPath)
		}
		os.Exit(1)
	}
	if idx != nil {
		if err := idx.Save(cfg.Storage.VectorIndexPath); err != nil {
			logger.Warn("vector index save failed", zap.Error(err))
		}
	}
	fmt.Printf("Reset %d chunk(s) to pending for model %s\n", total, model)
}

func runLoadOEM() {
	fs := flag.NewFlagSet("load-oem", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	_ = fs.Parse(os.Args[2:])

	cfg, _, err := loadConfig(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger, err := utils.NewLogger(cfg.Debug)
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	path := cfg.OEM.ReferencePath
	if fs.NArg() > 0 {
		path = fs.Arg(0)
	}
	if path == "" {
		fmt.Println("Usage: kbase load-oem [flags] <reference.yaml>")
		os.Exit(1)
	}

	store, err := storage.NewSQLiteStorage(cfg.Storage.DatabasePath)
	if err != nil {
		fmt.Printf("Failed to open storage: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	resolver := oem.NewResolver(logger)
	loader := oem.NewLoader(resolver, store, logger)
	n, err := loader.LoadFile(context.Background(), path)
	if err != nil {
		fmt.Printf("Load failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Loaded %d relationship(s) from %s", n, path)
	if anomalies := resolver.Anomalies(); anomalies > 0 {
		fmt.Printf(" (%d skipped, see log)", anomalies)
	}
	fmt.Println()
}

// statusResponse is the shape of GET /api/v1/status response.
type statusResponse struct {
	Chunks           int64 `json:"chunks"`
	Embeddings       int64 `json:"embeddings"`
	VectorIndexSize  int   `json:"vector_index_size"`
	OEMRelationships int   `json:"oem_relationships"`
	OEMAnomalies     int   `json:"oem_anomalies"`
}

func runStatus() {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	serverURL := fs.String("server", "http://localhost:8080", "server URL (empty = use direct storage)")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(os.Args[2:])

	var status statusResponse
	if *serverURL != "" {
		res, err := statusViaHTTP(*serverURL)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Status failed: %v\n", err)
			os.Exit(1)
		}
		status = *res
	} else {
		cfg, _, err := loadConfig(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
			os.Exit(1)
		}
		store, err := storage.NewSQLiteStorage(cfg.Storage.DatabasePath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open storage: %v\n", err)
			os.Exit(1)
		}
		defer store.Close()
		ctx := context.Background()
		chunkCount, err := store.CountChunks(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Count chunks failed: %v\n", err)
			os.Exit(1)
		}
		embeddingCount, err := store.CountEmbeddings(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Count embeddings failed: %v\n", err)
			os.Exit(1)
		}
		rels, err := store.ListOEMRelationships(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "List relationships failed: %v\n", err)
			os.Exit(1)
		}
		status = statusResponse{
			Chunks:           chunkCount,
			Embeddings:       embeddingCount,
			OEMRelationships: len(rels),
		}
	}

	switch *outputFormat {
	case "json":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(status); err != nil {
			fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
			os.Exit(1)
		}
	case "text":
		fmt.Printf("chunks:             %d   # count of document chunks\n", status.Chunks)
		fmt.Printf("embeddings:         %d   # count of stored vectors\n", status.Embeddings)
		fmt.Printf("vector_index_size:  %d   # vectors loaded in the search index\n", status.VectorIndexSize)
		fmt.Printf("oem_relationships:  %d   # curated reference rows\n", status.OEMRelationships)
		if status.OEMAnomalies > 0 {
			fmt.Printf("oem_anomalies:      %d   # malformed reference rows skipped\n", status.OEMAnomalies)
		}
	default:
		fmt.Fprintf(os.Stderr, "Unknown output format %q; use text or json\n", *outputFormat)
		os.Exit(1)
	}
}

func statusViaHTTP(serverURL string) (*statusResponse, error) {
	resp, err := http.Get(serverURL + "/api/v1/status")
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("server returned %d: %s", resp.StatusCode, string(b))
	}
	var s statusResponse
	if err := json.NewDecoder(resp.Body).Decode(&s); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &s, nil
}

// Components holds initialized services.
type Components struct {
	Storage     storage.Storage
	VectorIndex *vector.MemoryIndex
	DescIndex   *codes.DescIndex
	Resolver    *oem.Resolver
	OEMLoader   *oem.Loader
	Ranker      *search.Ranker
	Products    *linker.ProductLinker
	Evidence    *linker.EvidenceLinker
	Codes       *codes.Service
}

func (c *Components) Close() {
	if c.Storage != nil {
		_ = c.Storage.Close()
	}
	if c.VectorIndex != nil {
		_ = c.VectorIndex.Close()
	}
	if c.DescIndex != nil {
		_ = c.DescIndex.Close()
	}
}

func initializeComponents(cfg *config.Config, logger *zap.Logger) (*Components, error) {
	store, err := storage.NewSQLiteStorage(cfg.Storage.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	vectorIndex, err := vector.NewMemoryIndex(cfg.Embedding.Dimensions)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize vector index: %w", err)
	}
	if cfg.Storage.VectorIndexPath != "" {
		if loadErr := vectorIndex.Load(cfg.Storage.VectorIndexPath); loadErr != nil {
			logger.Warn("vector index load skipped, rebuilding from storage",
				zap.String("path", cfg.Storage.VectorIndexPath), zap.Error(loadErr))
		}
	}
	if vectorIndex.Size() == 0 {
		n, rebuildErr := rebuildVectorIndex(context.Background(), store, vectorIndex, cfg.Embedding.ModelName)
		if rebuildErr != nil {
			return nil, fmt.Errorf("failed to rebuild vector index: %w", rebuildErr)
		}
		logger.Info("vector index rebuilt from storage", zap.Int("vectors", n))
	} else {
		logger.Info("vector index loaded", zap.Int("vectors", vectorIndex.Size()))
	}

	descIndex, err := codes.NewDescIndex(cfg.Storage.DescIndexPath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize description index: %w", err)
	}

	resolver := oem.NewResolver(logger)
	loader := oem.NewLoader(resolver, store, logger)
	codesSvc := codes.NewService(store, resolver, descIndex, logger)

	if count, countErr := descIndex.DocCount(); countErr == nil && count == 0 {
		n, rebuildErr := codesSvc.RebuildDescIndex(context.Background())
		if rebuildErr != nil {
			return nil, fmt.Errorf("failed to rebuild description index: %w", rebuildErr)
		}
		if n > 0 {
			logger.Info("description index rebuilt", zap.Int("occurrences", n))
		}
	}

	ranker := search.NewRanker(vectorIndex, store, search.Config{
		MinSimilarity: cfg.Search.MinSimilarity,
		DefaultTopK:   cfg.Search.DefaultLimit,
		MaxTopK:       cfg.Search.MaxLimit,
	}, logger)

	return &Components{
		Storage:     store,
		VectorIndex: vectorIndex,
		DescIndex:   descIndex,
		Resolver:    resolver,
		OEMLoader:   loader,
		Ranker:      ranker,
		Products:    linker.NewProductLinker(store, logger),
		Evidence:    linker.NewEvidenceLinker(store, logger),
		Codes:       codesSvc,
	}, nil
}

// rebuildVectorIndex repopulates the in-memory index from stored embeddings.
// Only completed chunks have vectors, so the index never serves chunks that
// were reset or are still mid-pipeline.
func rebuildVectorIndex(ctx context.Context, store storage.Storage, idx *vector.MemoryIndex, modelName string) (int, error) {
	embeddings, err := store.ListEmbeddingsByModel(ctx, modelName)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, emb := range embeddings {
		chunk, err := store.GetChunk(ctx, emb.ChunkID)
		if err != nil {
			continue
		}
		meta := search.ChunkMetadata(chunk, emb.ModelName)
		if err := idx.Add(ctx, emb.ChunkID, emb.Vector, meta); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

func printUsage() {
	fmt.Println(`kbase - Document knowledge base query engine

Usage:
  kbase server [flags]            Start the HTTP server
  kbase reset [flags]             Reset embeddings to pending for re-embedding
  kbase load-oem [flags] [file]   Load curated OEM reference data
  kbase status [flags]            Show storage/index status
  kbase version                   Show version
  kbase help                      Show this help

Server Flags:
  --config string    Config file path (default: /usr/local/etc/kbase/config.yaml)
  --debug            Enable debug logging (query traces, reference reloads, etc.)

Reset Flags:
  --config string      Config file path
  --model string       Embedding model whose vectors to reset (default: configured model)
  --batch-size int     Chunks per transaction (default: configured batch size)

Load-OEM Flags:
  --config string    Config file path (file argument overrides oem.reference_path)

Status Flags:
  --config string    Config file path (for direct storage mode)
  --server string    Server URL (default: http://localhost:8080). Use empty (--server "") for direct storage.
  --output string    Output format: text or json (default: text)

Examples:
  kbase server
  kbase reset --model all-MiniLM-L6-v2
  kbase load-oem oem_relationships.yaml
  kbase status
  kbase status --output json`)
}
