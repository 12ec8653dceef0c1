package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// globalFlags are the persistent flags shared by every command.
type globalFlags struct {
	configPath string
	url        string
	collection string
}

// queryFlags are the retrieval flags shared by query and get.
type queryFlags struct {
	limit   int
	offset  int
	where   string
	orderBy []string
	asJSON  bool
}

func (q *queryFlags) register(cmd *cobra.Command) {
	cmd.Flags().IntVar(&q.limit, "limit", 10, "Maximum number of results (0 = unlimited)")
	cmd.Flags().IntVar(&q.offset, "offset", 0, "Number of results to skip")
	cmd.Flags().StringVar(&q.where, "where", "", `Metadata filter as JSON (e.g. '{"topic": "storage", "year": {"$gte": 2020}}')`)
	cmd.Flags().StringArrayVar(&q.orderBy, "order-by", nil, "Metadata key to order by, prefix with - for descending (repeatable)")
	cmd.Flags().BoolVar(&q.asJSON, "json", false, "Print the raw result envelope as JSON")
}

// buildRootCmd creates the root command with all subcommands attached.
// This is separated from main() to facilitate testing.
func buildRootCmd() *cobra.Command {
	var global globalFlags

	rootCmd := &cobra.Command{
		Use:   "sifts",
		Short: "Sifts - full-text and vector search over document collections",
		Long: `Sifts stores named document collections and unifies full-text and
vector similarity search behind one query surface.

Backends: SQLite (embedded, FTS5) and PostgreSQL (tsvector + pgvector)
Embedding providers: OpenAI, Ollama

Documentation: https://github.com/haasonsaas/sifts`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		// SilenceUsage prevents printing usage on every error.
		SilenceUsage: true,
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&global.configPath, "config", "c", "", "Path to configuration file (or set SIFTS_CONFIG)")
	pf.StringVar(&global.url, "url", "", "Database URL (empty = embedded SQLite, overrides config)")
	pf.StringVar(&global.collection, "collection", "", "Collection name (overrides config)")

	rootCmd.AddCommand(
		buildAddCmd(&global),
		buildQueryCmd(&global),
		buildGetCmd(&global),
		buildCountCmd(&global),
		buildDeleteCmd(&global),
		buildDeleteAllCmd(&global),
		buildDocsCmd(&global),
		buildStatsCmd(&global),
	)

	return rootCmd
}

// =============================================================================
// Document Commands
// =============================================================================

func buildAddCmd(global *globalFlags) *cobra.Command {
	var update bool
	cmd := &cobra.Command{
		Use:   "add [file...]",
		Short: "Add documents to a collection",
		Long: `Add documents to a collection from JSON files or stdin.

Each file holds a document object or an array of document objects:

  {"id": "doc1", "content": "...", "metadata": {"topic": "storage"}}

Ids are optional; missing ids are minted as UUIDs. When a document's id
already exists, its content and metadata are replaced. With no file
arguments, documents are read from stdin.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAdd(cmd, global, args, update)
		},
	}
	cmd.Flags().BoolVar(&update, "update", false, "Require ids on every document and fail on missing ones")
	return cmd
}

func buildQueryCmd(global *globalFlags) *cobra.Command {
	var (
		flags  queryFlags
		vector bool
	)
	cmd := &cobra.Command{
		Use:   "query <text>",
		Short: "Search a collection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQuery(cmd, global, args[0], &flags, vector)
		},
	}
	flags.register(cmd)
	cmd.Flags().BoolVar(&vector, "vector", false, "Rank by embedding similarity instead of the lexical index")
	return cmd
}

func buildGetCmd(global *globalFlags) *cobra.Command {
	var flags queryFlags
	cmd := &cobra.Command{
		Use:   "get",
		Short: "Retrieve documents by metadata filters without search ranking",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGet(cmd, global, &flags)
		},
	}
	flags.register(cmd)
	return cmd
}

func buildCountCmd(global *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "count",
		Short: "Count documents in a collection",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCount(cmd, global)
		},
	}
}

func buildDeleteCmd(global *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>...",
		Short: "Delete documents by id",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDelete(cmd, global, args)
		},
	}
}

func buildDeleteAllCmd(global *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "delete-all",
		Short: "Delete every document in a collection",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDeleteAll(cmd, global)
		},
	}
}

func buildDocsCmd(global *globalFlags) *cobra.Command {
	var (
		withContent bool
		asJSON      bool
	)
	cmd := &cobra.Command{
		Use:   "docs",
		Short: "List all documents in a collection",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDocs(cmd, global, withContent, asJSON)
		},
	}
	cmd.Flags().BoolVar(&withContent, "content", false, "Include document content")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print documents as JSON")
	return cmd
}

func buildStatsCmd(global *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show collection statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStats(cmd, global)
		},
	}
}
