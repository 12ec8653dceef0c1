// Package main provides the CLI entry point for the sifts document search
// engine.
//
// handlers.go contains the RunE handler functions for all CLI commands.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/haasonsaas/sifts/internal/config"
	"github.com/haasonsaas/sifts/internal/embeddings"
	"github.com/haasonsaas/sifts/internal/embeddings/ollama"
	"github.com/haasonsaas/sifts/internal/embeddings/openai"
	"github.com/haasonsaas/sifts/internal/observability"
	"github.com/haasonsaas/sifts/pkg/sifts"
)

// =============================================================================
// Shared Setup
// =============================================================================

// loadCLIConfig resolves the configuration for a command invocation. Flag
// values override file values.
func loadCLIConfig(global *globalFlags) (*config.Config, error) {
	path := strings.TrimSpace(global.configPath)
	if path == "" {
		path = strings.TrimSpace(os.Getenv("SIFTS_CONFIG"))
	}

	var cfg *config.Config
	if path == "" {
		cfg = config.Default()
	} else {
		loaded, err := config.Load(path)
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
		cfg = loaded
	}

	if global.url != "" {
		cfg.Database.URL = global.url
	}
	if global.collection != "" {
		cfg.Database.Collection = global.collection
	}
	return cfg, nil
}

// openCollection opens the configured collection with its observability
// stack. The returned cleanup function closes the collection and tears the
// stack down; it must be called even when the command fails.
func openCollection(cmd *cobra.Command, global *globalFlags) (*sifts.Collection, func(), error) {
	cfg, err := loadCLIConfig(global)
	if err != nil {
		return nil, nil, err
	}

	logger := observability.NewLogger(observability.LogConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	slog.SetDefault(logger)

	var cleanups []func()
	cleanup := func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}

	opts := []sifts.Option{
		sifts.WithLogger(logger),
		sifts.WithFTS(cfg.Database.FTSEnabled()),
	}

	if cfg.Embeddings.Provider != "" {
		provider, err := buildEmbedder(cfg.Embeddings)
		if err != nil {
			return nil, nil, err
		}
		opts = append(opts, sifts.WithEmbedding(embeddings.Func(provider)))
	}

	if cfg.Metrics.Enabled {
		opts = append(opts, sifts.WithMetrics(observability.NewMetrics(prometheus.DefaultRegisterer)))
		server, err := observability.StartMetricsServer(cfg.Metrics.Addr, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("start metrics server: %w", err)
		}
		cleanups = append(cleanups, func() { server.Stop(context.Background()) })
	}

	if cfg.Tracing.Enabled {
		serviceVersion := cfg.Tracing.ServiceVersion
		if serviceVersion == "" {
			serviceVersion = version
		}
		_, shutdown := observability.NewTracer(observability.TraceConfig{
			ServiceName:    cfg.Tracing.ServiceName,
			ServiceVersion: serviceVersion,
			Environment:    cfg.Tracing.Environment,
			Endpoint:       cfg.Tracing.Endpoint,
			SamplingRate:   cfg.Tracing.SamplingRate,
			Attributes:     cfg.Tracing.Attributes,
			EnableInsecure: cfg.Tracing.Insecure,
		})
		cleanups = append(cleanups, func() { _ = shutdown(context.Background()) })
	}

	logger.Debug("opening collection",
		"url", observability.RedactDSN(cfg.Database.URL),
		"collection", cfg.Database.Collection,
	)

	coll, err := sifts.New(cmd.Context(), cfg.Database.URL, cfg.Database.Collection, opts...)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	cleanups = append(cleanups, func() {
		if err := coll.Close(); err != nil {
			logger.Warn("close failed", "error", err)
		}
	})

	return coll, cleanup, nil
}

// buildEmbedder constructs the configured embedding provider.
func buildEmbedder(cfg embeddings.Config) (embeddings.Provider, error) {
	switch cfg.Provider {
	case "openai":
		return openai.New(openai.Config{
			APIKey:  cfg.APIKey,
			BaseURL: cfg.BaseURL,
			Model:   cfg.Model,
		})
	case "ollama":
		return ollama.New(ollama.Config{
			BaseURL: cfg.BaseURL,
			Model:   cfg.Model,
		})
	default:
		return nil, fmt.Errorf("unknown embeddings provider %q (want openai or ollama)", cfg.Provider)
	}
}

// =============================================================================
// Document Command Handlers
// =============================================================================

// runAdd handles the add command.
func runAdd(cmd *cobra.Command, global *globalFlags, files []string, update bool) error {
	docs, err := readDocuments(cmd, files)
	if err != nil {
		return err
	}
	if len(docs) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No documents to add.")
		return nil
	}

	coll, cleanup, err := openCollection(cmd, global)
	if err != nil {
		return err
	}
	defer cleanup()

	var ids []string
	if update {
		ids, err = coll.Update(cmd.Context(), docs)
	} else {
		ids, err = coll.Add(cmd.Context(), docs)
	}
	if err != nil {
		return fmt.Errorf("add failed: %w", err)
	}

	out := cmd.OutOrStdout()
	if update {
		fmt.Fprintf(out, "Updated %d documents.\n", len(ids))
	} else {
		fmt.Fprintf(out, "Added %d documents.\n", len(ids))
	}
	for _, id := range ids {
		fmt.Fprintln(out, id)
	}
	return nil
}

// runQuery handles the query command.
func runQuery(cmd *cobra.Command, global *globalFlags, text string, flags *queryFlags, vector bool) error {
	opts, err := buildQueryOptions(flags)
	if err != nil {
		return err
	}
	opts.VectorSearch = vector

	coll, cleanup, err := openCollection(cmd, global)
	if err != nil {
		return err
	}
	defer cleanup()

	resp, err := coll.Query(cmd.Context(), text, opts)
	if err != nil {
		return fmt.Errorf("query failed: %w", err)
	}
	return printResponse(cmd.OutOrStdout(), resp, flags.asJSON)
}

// runGet handles the get command.
func runGet(cmd *cobra.Command, global *globalFlags, flags *queryFlags) error {
	opts, err := buildQueryOptions(flags)
	if err != nil {
		return err
	}

	coll, cleanup, err := openCollection(cmd, global)
	if err != nil {
		return err
	}
	defer cleanup()

	resp, err := coll.Get(cmd.Context(), opts)
	if err != nil {
		return fmt.Errorf("get failed: %w", err)
	}
	return printResponse(cmd.OutOrStdout(), resp, flags.asJSON)
}

// runCount handles the count command. The bare number keeps the output
// script-friendly.
func runCount(cmd *cobra.Command, global *globalFlags) error {
	coll, cleanup, err := openCollection(cmd, global)
	if err != nil {
		return err
	}
	defer cleanup()

	n, err := coll.Count(cmd.Context())
	if err != nil {
		return fmt.Errorf("count failed: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), n)
	return nil
}

// runDelete handles the delete command.
func runDelete(cmd *cobra.Command, global *globalFlags, ids []string) error {
	coll, cleanup, err := openCollection(cmd, global)
	if err != nil {
		return err
	}
	defer cleanup()

	if err := coll.Delete(cmd.Context(), ids); err != nil {
		return fmt.Errorf("delete failed: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d documents.\n", len(ids))
	return nil
}

// runDeleteAll handles the delete-all command.
func runDeleteAll(cmd *cobra.Command, global *globalFlags) error {
	coll, cleanup, err := openCollection(cmd, global)
	if err != nil {
		return err
	}
	defer cleanup()

	if err := coll.DeleteAll(cmd.Context()); err != nil {
		return fmt.Errorf("delete-all failed: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Deleted all documents in collection %q.\n", coll.Name())
	return nil
}

// runDocs handles the docs command.
func runDocs(cmd *cobra.Command, global *globalFlags, withContent, asJSON bool) error {
	coll, cleanup, err := openCollection(cmd, global)
	if err != nil {
		return err
	}
	defer cleanup()

	docs, err := coll.AllDocuments(cmd.Context(), withContent)
	if err != nil {
		return fmt.Errorf("docs failed: %w", err)
	}

	out := cmd.OutOrStdout()
	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(docs)
	}

	if len(docs) == 0 {
		fmt.Fprintln(out, "No documents.")
		return nil
	}
	for _, doc := range docs {
		fmt.Fprintln(out, doc.ID)
		if len(doc.Metadata) > 0 {
			meta, err := json.Marshal(doc.Metadata)
			if err != nil {
				return fmt.Errorf("encode metadata: %w", err)
			}
			fmt.Fprintf(out, "   Metadata: %s\n", meta)
		}
		if withContent && doc.Content != "" {
			fmt.Fprintf(out, "   %s\n", truncate(doc.Content))
		}
	}
	return nil
}

// runStats handles the stats command.
func runStats(cmd *cobra.Command, global *globalFlags) error {
	coll, cleanup, err := openCollection(cmd, global)
	if err != nil {
		return err
	}
	defer cleanup()

	stats, err := coll.Stats(cmd.Context())
	if err != nil {
		return fmt.Errorf("stats failed: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "Collection Statistics")
	fmt.Fprintln(out, "=====================")
	fmt.Fprintf(out, "Collection: %s\n", coll.Name())
	fmt.Fprintf(out, "Backend:    %s\n", stats.Backend)
	fmt.Fprintf(out, "Documents:  %d\n", stats.Documents)
	fmt.Fprintf(out, "Full-text:  %v\n", stats.FTS)
	fmt.Fprintf(out, "Vector:     %v\n", stats.Vector)
	return nil
}

// =============================================================================
// Input / Output Helpers
// =============================================================================

// readDocuments loads documents from the given files, or stdin when no
// files are named.
func readDocuments(cmd *cobra.Command, files []string) ([]sifts.Document, error) {
	if len(files) == 0 {
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return nil, fmt.Errorf("read stdin: %w", err)
		}
		docs, err := parseDocuments(data)
		if err != nil {
			return nil, fmt.Errorf("parse stdin: %w", err)
		}
		return docs, nil
	}

	var docs []sifts.Document
	for _, path := range files {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		parsed, err := parseDocuments(data)
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		docs = append(docs, parsed...)
	}
	return docs, nil
}

// parseDocuments accepts a single document object or an array of them.
func parseDocuments(data []byte) ([]sifts.Document, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, nil
	}
	if trimmed[0] == '[' {
		var docs []sifts.Document
		if err := json.Unmarshal(trimmed, &docs); err != nil {
			return nil, err
		}
		return docs, nil
	}
	var doc sifts.Document
	if err := json.Unmarshal(trimmed, &doc); err != nil {
		return nil, err
	}
	return []sifts.Document{doc}, nil
}

// buildQueryOptions converts retrieval flags into query options.
func buildQueryOptions(flags *queryFlags) (*sifts.QueryOptions, error) {
	opts := &sifts.QueryOptions{
		Limit:   flags.limit,
		Offset:  flags.offset,
		OrderBy: flags.orderBy,
	}
	if strings.TrimSpace(flags.where) != "" {
		var where map[string]any
		if err := json.Unmarshal([]byte(flags.where), &where); err != nil {
			return nil, fmt.Errorf("invalid --where filter: %w", err)
		}
		opts.Where = where
	}
	return opts, nil
}

// printResponse renders a query envelope.
func printResponse(out io.Writer, resp *sifts.QueryResponse, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(resp)
	}

	if len(resp.Results) == 0 {
		fmt.Fprintln(out, "No results found.")
		return nil
	}

	fmt.Fprintf(out, "Found %d results (total: %d):\n\n", len(resp.Results), resp.Total)
	for i, result := range resp.Results {
		if result.Rank != nil {
			fmt.Fprintf(out, "%d. [Score: %.3f] %s\n", i+1, *result.Rank, result.ID)
		} else {
			fmt.Fprintf(out, "%d. %s\n", i+1, result.ID)
		}
		if content := truncate(result.Content); content != "" {
			fmt.Fprintf(out, "   %s\n", content)
		}
		if len(result.Metadata) > 0 {
			meta, err := json.Marshal(result.Metadata)
			if err != nil {
				return fmt.Errorf("encode metadata: %w", err)
			}
			fmt.Fprintf(out, "   Metadata: %s\n", meta)
		}
		fmt.Fprintln(out)
	}
	return nil
}

func truncate(content string) string {
	content = strings.ReplaceAll(content, "\n", " ")
	if len(content) > 200 {
		return content[:197] + "..."
	}
	return content
}
