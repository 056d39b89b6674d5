package main

import (
	"errors"
	"fmt"
	"os"

	"go-treewiki/internal/config"
	"go-treewiki/internal/data"
	"go-treewiki/internal/logger"
	"go-treewiki/internal/markdown"
	"go-treewiki/internal/search"
	"go-treewiki/internal/service"

	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"
)

// errMemoryIndex is returned by reindex when the index would only live for
// the duration of the command.
var errMemoryIndex = errors.New("search.path is in-memory; set WIKI_SEARCH_PATH to the server's index file to reindex it")

// --- Global Command Variables ---
var (
	cfg *config.Config
	log logger.Logger

	exportRev int
	exportOut string
	treeAll   bool

	rootCmd = &cobra.Command{
		Use:           "wikictl",
		Short:         "Maintenance commands for a tree wiki",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			if cfg, err = config.LoadConfig(); err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}
			log = logger.New(cfg.Log, os.Stderr)
			return nil
		},
	}

	migrateCmd = &cobra.Command{
		Use:   "migrate",
		Short: "Apply content store migrations",
		Args:  cobra.NoArgs,
		RunE:  runMigrate,
	}

	reindexCmd = &cobra.Command{
		Use:   "reindex",
		Short: "Rebuild the search index from the latest revision of every page",
		Long: `Rebuild the search index from the latest revision of every page.
The index must be file-backed (search.path); an in-memory index is rebuilt by
the server at startup.`,
		Args:  cobra.NoArgs,
		RunE:  runReindex,
	}

	exportCmd = &cobra.Command{
		Use:   "export [path]",
		Short: "Print a page revision as markdown",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runExport,
	}

	treeCmd = &cobra.Command{
		Use:   "tree [path]",
		Short: "Print the page tree, expanded along path",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runTree,
	}
)

func init() {
	exportCmd.Flags().IntVar(&exportRev, "rev", -1, "zero-based revision ordinal (default latest)")
	exportCmd.Flags().StringVarP(&exportOut, "out", "o", "", "write to a file instead of stdout")
	treeCmd.Flags().BoolVar(&treeAll, "all", false, "expand every branch")

	rootCmd.AddCommand(migrateCmd, reindexCmd, exportCmd, treeCmd)
}

// openStore connects to the content store and applies pending migrations.
func openStore() (*sqlx.DB, error) {
	db, err := data.NewDB(cfg.DB)
	if err != nil {
		return nil, err
	}
	if err := data.ApplyMigrations(db, cfg.DB.Driver); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// openWiki builds the wiki service on top of the configured stores. The
// returned func releases them.
func openWiki() (*service.WikiService, func(), error) {
	db, err := openStore()
	if err != nil {
		return nil, nil, err
	}
	index, err := search.New(cfg.Search)
	if err != nil {
		db.Close()
		return nil, nil, err
	}
	wiki := service.NewWikiService(
		data.NewSQLPageRepository(db),
		data.NewSQLRevisionRepository(db),
		index,
		markdown.New(cfg.Markdown),
		log,
	)
	closer := func() {
		index.Close()
		db.Close()
	}
	return wiki, closer, nil
}

func runMigrate(cmd *cobra.Command, args []string) error {
	db, err := openStore()
	if err != nil {
		return err
	}
	defer db.Close()
	log.Info("Migrations applied successfully.")
	return nil
}

func runReindex(cmd *cobra.Command, args []string) error {
	if data.IsMemoryDSN(cfg.Search.Path) {
		return errMemoryIndex
	}
	wiki, closer, err := openWiki()
	if err != nil {
		return err
	}
	defer closer()
	return wiki.Reindex(cmd.Context())
}

func runExport(cmd *cobra.Command, args []string) error {
	wiki, closer, err := openWiki()
	if err != nil {
		return err
	}
	defer closer()

	var ordinal *int
	if exportRev >= 0 {
		ordinal = &exportRev
	}
	raw, err := wiki.RawMarkdown(cmd.Context(), pathArg(args), ordinal)
	if err != nil {
		return err
	}

	if exportOut == "" {
		_, err = fmt.Fprint(cmd.OutOrStdout(), raw.Content)
		return err
	}
	if err := os.WriteFile(exportOut, []byte(raw.Content), 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", exportOut, err)
	}
	log.With(map[string]interface{}{"file": exportOut}).Info("page exported")
	return nil
}

func runTree(cmd *cobra.Command, args []string) error {
	wiki, closer, err := openWiki()
	if err != nil {
		return err
	}
	defer closer()

	tree, err := wiki.Tree(cmd.Context(), pathArg(args), treeAll)
	if err != nil {
		return err
	}
	_, err = fmt.Fprint(cmd.OutOrStdout(), tree)
	return err
}

// pathArg returns the optional page path argument; the root when absent.
func pathArg(args []string) string {
	if len(args) == 0 {
		return ""
	}
	return args[0]
}
