// Package main provides the CLI entry point for the sifts document search
// engine.
//
// Sifts stores named document collections in SQLite or PostgreSQL and
// unifies full-text and vector similarity search behind one query surface.
//
// # Basic Usage
//
// Add documents from a JSON file:
//
//	sifts add docs.json --url sqlite:///search.db --collection articles
//
// Search a collection:
//
//	sifts query "database indexes" --collection articles --limit 5
//
// Retrieve by metadata only:
//
//	sifts get --where '{"topic": "storage"}' --order-by -published
//
// # Environment Variables
//
//   - SIFTS_CONFIG: Path to configuration file (used when --config is not given)
//   - OPENAI_API_KEY: referenced from config files via ${OPENAI_API_KEY}
package main

import (
	"log/slog"
	"os"
)

// Build information - populated by ldflags during build.
//
// Example build command:
//
//	go build -ldflags "-X main.version=v1.0.0 -X main.commit=$(git rev-parse HEAD) -X main.date=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
var (
	version = "dev"     // Semantic version (e.g., "v1.0.0")
	commit  = "none"    // Git commit SHA
	date    = "unknown" // Build timestamp
)

func main() {
	// Default logger until a command installs one from config. Logs go to
	// stderr so stdout stays clean for command output.
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	rootCmd := buildRootCmd()

	if err := rootCmd.Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}
