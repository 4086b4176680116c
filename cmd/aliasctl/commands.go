package main

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/JackTn/azure-sdk-usage-agent/internal/alias"
	"github.com/JackTn/azure-sdk-usage-agent/internal/config"
	apperrors "github.com/JackTn/azure-sdk-usage-agent/internal/errors"
)

type rootOptions struct {
	configPath string
	wholeWord  bool
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:           "aliasctl",
		Short:         "Inspect and edit alias configuration",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "alias file (default: ALIAS_SOURCE/ALIAS_CONFIG_PATH settings)")
	root.PersistentFlags().BoolVar(&opts.wholeWord, "whole-word", false, "only match aliases bounded by non-alphanumeric characters")

	root.AddCommand(
		newStatsCmd(opts),
		newShowCmd(opts),
		newTestCmd(opts),
		newAddCmd(opts),
		newValidateCmd(opts),
		newExportCmd(opts),
		newHistoryCmd(opts),
	)
	return root
}

// openStore loads the store named by --config, or the configured source
func openStore(ctx context.Context, opts *rootOptions) (*alias.Store, func(), error) {
	noop := func() {}
	if opts.configPath != "" {
		store, err := loadStore(ctx, alias.NewFileSource(opts.configPath))
		return store, noop, err
	}

	cfg, err := config.NewDefaultLoader().Load(ctx)
	if err != nil {
		return nil, noop, err
	}
	if !opts.wholeWord {
		opts.wholeWord = cfg.Aliases.WholeWord
	}

	if cfg.Aliases.Source != config.AliasSourcePostgres {
		store, err := loadStore(ctx, alias.NewFileSource(cfg.Aliases.ConfigPath))
		return store, noop, err
	}

	var db *sql.DB
	db, err = alias.OpenPostgres(alias.PostgresConfig{
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		Database: cfg.Database.Database,
		Username: cfg.Database.Username,
		Password: cfg.Database.Password,
		SSLMode:  cfg.Database.SSLMode,
	})
	if err != nil {
		return nil, noop, apperrors.NewDatabaseConnectionError(err)
	}
	store, err := loadStore(ctx, alias.NewPostgresSource(db, cfg.Aliases.DocumentName))
	return store, func() { db.Close() }, err
}

func loadStore(ctx context.Context, source alias.Source) (*alias.Store, error) {
	store := alias.NewStore(source)
	if err := store.Load(ctx); err != nil {
		return nil, err
	}
	return store, nil
}

// withStore runs fn against an opened store and closes it afterwards
func withStore(opts *rootOptions, fn func(cmd *cobra.Command, args []string, store *alias.Store) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		store, closeStore, err := openStore(cmd.Context(), opts)
		defer closeStore()
		if err != nil {
			return err
		}
		return fn(cmd, args, store)
	}
}

func newStatsCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show alias counts per category",
		Args:  cobra.NoArgs,
		RunE: withStore(opts, func(cmd *cobra.Command, args []string, store *alias.Store) error {
			printStats(cmd.OutOrStdout(), store)
			return nil
		}),
	}
}

func printStats(w io.Writer, store *alias.Store) {
	snapshot := store.Snapshot()
	meta := snapshot.Metadata

	fmt.Fprintf(w, "Alias configuration (%s)\n", store.SourceName())
	fmt.Fprintln(w, strings.Repeat("=", 50))
	fmt.Fprintf(w, "Version:      %v\n", metaValue(meta, "version"))
	fmt.Fprintf(w, "Last updated: %v\n", metaValue(meta, "last_updated"))
	if langs, ok := meta["supported_languages"].([]interface{}); ok {
		names := make([]string, 0, len(langs))
		for _, l := range langs {
			names = append(names, fmt.Sprint(l))
		}
		fmt.Fprintf(w, "Languages:    %s\n", strings.Join(names, ", "))
	}
	fmt.Fprintln(w)

	for _, category := range snapshot.CategoryNames() {
		fmt.Fprintf(w, "%-22s %d aliases\n", category+":", len(snapshot.Categories[category]))
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Total: %d aliases\n", snapshot.AliasCount())
}

func metaValue(meta map[string]interface{}, key string) interface{} {
	if v, ok := meta[key]; ok {
		return v
	}
	return "unknown"
}

func newShowCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show <category>",
		Short: "List the aliases of one category",
		Args:  cobra.ExactArgs(1),
		RunE: withStore(opts, func(cmd *cobra.Command, args []string, store *alias.Store) error {
			category := args[0]
			if !alias.IsKnownCategory(category) {
				return apperrors.NewUnknownCategoryError(category, alias.KnownCategories)
			}

			aliases := store.Category(category)
			w := cmd.OutOrStdout()
			if len(aliases) == 0 {
				fmt.Fprintf(w, "%s is empty\n", category)
				return nil
			}

			keys := make([]string, 0, len(aliases))
			for k := range aliases {
				keys = append(keys, k)
			}
			sort.Strings(keys)

			fmt.Fprintf(w, "%s (%d)\n", category, len(keys))
			fmt.Fprintln(w, strings.Repeat("=", 50))
			for _, k := range keys {
				fmt.Fprintf(w, "%s → %s\n", k, strings.Join(aliases[k], ", "))
			}
			return nil
		}),
	}
}

func newTestCmd(opts *rootOptions) *cobra.Command {
	var category string

	cmd := &cobra.Command{
		Use:   "test <text>",
		Short: "Show which aliases match a piece of text",
		Args:  cobra.MinimumNArgs(1),
		RunE: withStore(opts, func(cmd *cobra.Command, args []string, store *alias.Store) error {
			text := strings.Join(args, " ")
			matcher := alias.NewMatcher(store, alias.WithWholeWord(opts.wholeWord))
			w := cmd.OutOrStdout()

			fmt.Fprintf(w, "Query: %q\n", text)
			mode := "substring"
			if matcher.WholeWord() {
				mode = "whole-word"
			}
			fmt.Fprintf(w, "Matching: %s\n", mode)
			if category != "" {
				if !alias.IsKnownCategory(category) {
					return apperrors.NewUnknownCategoryError(category, alias.KnownCategories)
				}
				fmt.Fprintf(w, "%s: %s\n", category, formatMatches(matcher.FindMatches(text, category, nil)))
				return nil
			}

			all := matcher.FindAll(text)
			if len(all) == 0 {
				fmt.Fprintln(w, "No matches")
				return nil
			}
			for _, c := range alias.KnownCategories {
				if matches, ok := all[c]; ok {
					fmt.Fprintf(w, "%s: %s\n", c, formatMatches(matches))
				}
			}
			return nil
		}),
	}
	cmd.Flags().StringVar(&category, "category", "", "only test one category")
	return cmd
}

func formatMatches(matches []string) string {
	if len(matches) == 0 {
		return "(none)"
	}
	return strings.Join(matches, ", ")
}

func newAddCmd(opts *rootOptions) *cobra.Command {
	var noSave bool

	cmd := &cobra.Command{
		Use:   "add <category> <alias> <target>...",
		Short: "Add or replace an alias",
		Args:  cobra.MinimumNArgs(3),
		RunE: withStore(opts, func(cmd *cobra.Command, args []string, store *alias.Store) error {
			category, key, targets := args[0], args[1], args[2:]
			if err := store.AddAlias(cmd.Context(), category, key, targets, !noSave); err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "Added %s → %s (%s)\n", strings.ToLower(key), strings.Join(targets, ", "), category)
			if !noSave {
				fmt.Fprintf(w, "Saved to %s\n", store.SourceName())
			}
			return nil
		}),
	}
	cmd.Flags().BoolVar(&noSave, "no-save", false, "do not persist the change")
	return cmd
}

func newValidateCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the configuration for empty categories, empty targets and missing metadata",
		Args:  cobra.NoArgs,
		RunE: withStore(opts, func(cmd *cobra.Command, args []string, store *alias.Store) error {
			issues := store.Validate()
			w := cmd.OutOrStdout()
			if len(issues) == 0 {
				fmt.Fprintln(w, "Configuration is valid")
				return nil
			}

			fmt.Fprintln(w, "Problems found:")
			for _, issue := range issues {
				fmt.Fprintf(w, "  - %s\n", issue)
			}
			return fmt.Errorf("%d validation problem(s)", len(issues))
		}),
	}
}

func newExportCmd(opts *rootOptions) *cobra.Command {
	var (
		category string
		format   string
	)

	cmd := &cobra.Command{
		Use:   "export <output>",
		Short: "Write the configuration, or one category, to a file (\"-\" for stdout)",
		Args:  cobra.ExactArgs(1),
		RunE: withStore(opts, func(cmd *cobra.Command, args []string, store *alias.Store) error {
			output := args[0]

			var doc map[string]interface{}
			if category != "" {
				if !alias.IsKnownCategory(category) {
					return apperrors.NewUnknownCategoryError(category, alias.KnownCategories)
				}
				doc = map[string]interface{}{category: store.Category(category)}
			} else {
				doc = store.Snapshot().Document()
			}

			f := alias.Format(strings.ToLower(format))
			if format == "" {
				f = alias.FormatForPath(output)
			}
			if f != alias.FormatJSON && f != alias.FormatYAML {
				return apperrors.NewInvalidInputError("format", "must be json or yaml")
			}

			data, err := alias.Marshal(doc, f)
			if err != nil {
				return err
			}

			if output == "-" {
				_, err = cmd.OutOrStdout().Write(data)
				return err
			}
			if err := os.WriteFile(output, data, 0o644); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Exported to %s\n", output)
			return nil
		}),
	}
	cmd.Flags().StringVar(&category, "category", "", "only export one category")
	cmd.Flags().StringVar(&format, "format", "", "json or yaml (default: from the output extension)")
	return cmd
}

func newHistoryCmd(opts *rootOptions) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List earlier alias documents archived by the postgres source",
		Args:  cobra.NoArgs,
		RunE: withStore(opts, func(cmd *cobra.Command, args []string, store *alias.Store) error {
			revisions, err := store.History(cmd.Context(), limit)
			if err != nil {
				return err
			}
			printHistory(cmd.OutOrStdout(), store.SourceName(), revisions)
			return nil
		}),
	}
	cmd.Flags().IntVar(&limit, "limit", alias.DefaultHistoryLimit, "number of revisions to list")
	return cmd
}

func printHistory(w io.Writer, source string, revisions []alias.Revision) {
	if len(revisions) == 0 {
		fmt.Fprintf(w, "No archived revisions in %s\n", source)
		return
	}

	fmt.Fprintf(w, "Archived revisions (%s)\n", source)
	fmt.Fprintln(w, strings.Repeat("=", 50))
	for _, rev := range revisions {
		count := "unreadable"
		if cfg, _, err := alias.Decode(rev.Document); err == nil {
			count = fmt.Sprintf("%d aliases", cfg.AliasCount())
		}
		meta, _ := rev.Document[alias.MetadataKey].(map[string]interface{})
		fmt.Fprintf(w, "#%-5d %s  %-14s last_updated=%v\n",
			rev.ID, rev.ArchivedAt.UTC().Format(time.RFC3339), count, metaValue(meta, "last_updated"))
	}
}
