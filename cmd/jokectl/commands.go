package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"joke-catalog/internal/cache"
	"joke-catalog/internal/filter"
	"joke-catalog/internal/importer"
	"joke-catalog/internal/language"
	"joke-catalog/internal/models"
	"joke-catalog/internal/service"
	"joke-catalog/internal/validation"
)

func importCmd(opts *options) *cobra.Command {
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "import <file|url>",
		Short: "Import a catalog document into postgres",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := opts.config()
			if err != nil {
				return err
			}
			svc, err := service.FromConfig(cfg.Catalog, service.Options{})
			if err != nil {
				return err
			}

			jokes, report, err := svc.Importer().Read(ctx, args[0])
			if err != nil {
				return err
			}

			if !dryRun {
				repo, closeRepo, err := opts.open(ctx, cfg.Database)
				if err != nil {
					return err
				}
				defer closeRepo()

				// Content already stored under another id would break the
				// catalog's uniqueness on the next load.
				jokes, err = importer.DropStored(ctx, repo, jokes, &report)
				if err != nil {
					return err
				}
				inserted, err := repo.InsertBatch(ctx, jokes)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "Inserted %d new jokes\n", inserted)
			}

			return writeJSON(cmd.OutOrStdout(), report)
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "only parse and report")
	return cmd
}

func selectCmd(opts *options) *cobra.Command {
	var (
		f       filter.Filter
		id      int
		from    int
		to      int
		include []string
		exclude []string
		typ     string
		seed    uint64
	)

	cmd := &cobra.Command{
		Use:   "select",
		Short: "Run a filter against the catalog",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var err error
			if cmd.Flags().Changed("id") {
				f.ID = filter.ExactID(id)
			}
			if cmd.Flags().Changed("from") || cmd.Flags().Changed("to") {
				f.IDRange = &filter.IDRange{From: from, To: to}
			}
			if f.IncludeFlags, err = flagSet(include); err != nil {
				return err
			}
			if f.ExcludeFlags, err = flagSet(exclude); err != nil {
				return err
			}
			if f.Type, err = jokeType(typ); err != nil {
				return err
			}

			var filterOpts []filter.Option
			if cmd.Flags().Changed("seed") {
				filterOpts = append(filterOpts, filter.WithSeed(seed))
			}

			svc, err := opts.catalog(cmd.Context(), filterOpts...)
			if err != nil {
				return err
			}

			jokes, err := svc.Select(f)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), jokes)
		},
	}

	cmd.Flags().StringSliceVar(&f.IncludeCategories, "cat", nil, "categories or aliases to include (\"any\" for all)")
	cmd.Flags().StringSliceVar(&f.ExcludeCategories, "exclude", nil, "categories or aliases to exclude")
	cmd.Flags().StringSliceVar(&include, "flags", nil, "only jokes with at least one of these flags")
	cmd.Flags().StringSliceVar(&exclude, "blacklist", nil, "drop jokes with any of these flags")
	cmd.Flags().StringVar(&typ, "type", "", "single or twopart")
	cmd.Flags().StringVar(&f.Contains, "contains", "", "substring to search for")
	cmd.Flags().IntVar(&id, "id", 0, "fetch a single joke by id")
	cmd.Flags().IntVar(&from, "from", 0, "lower bound of an id range")
	cmd.Flags().IntVar(&to, "to", 0, "upper bound of an id range")
	cmd.Flags().StringVar(&f.Lang, "lang", "", "language code")
	cmd.Flags().IntVar(&f.Amount, "amount", 1, "number of jokes")
	cmd.Flags().BoolVar(&f.SafeMode, "safe", false, "exclude flagged and dark jokes")
	cmd.Flags().Uint64Var(&seed, "seed", 0, "sample deterministically")
	return cmd
}

func flagSet(names []string) (models.FlagSet, error) {
	var set models.FlagSet
	for _, name := range names {
		flag, ok := models.ParseFlag(name)
		if !ok {
			return 0, fmt.Errorf("flag %q is unknown", name)
		}
		set = set.With(flag)
	}
	return set, nil
}

func jokeType(s string) (models.JokeType, error) {
	if s == "" {
		return "", nil
	}
	t := models.JokeType(strings.ToLower(s))
	if !t.Valid() {
		return "", fmt.Errorf("%w: %q", models.ErrUnknownJokeType, s)
	}
	return t, nil
}

// validateCmd checks a submission document read from stdin against the
// loaded catalog without staging it.
func validateCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate a submission read from stdin",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var raw validation.RawSubmission
			if err := json.NewDecoder(cmd.InOrStdin()).Decode(&raw); err != nil {
				return fmt.Errorf("failed to decode submission: %w", err)
			}

			svc, err := opts.catalog(cmd.Context())
			if err != nil {
				return err
			}

			res := svc.Validate(raw)
			if err := writeJSON(cmd.OutOrStdout(), res); err != nil {
				return err
			}
			if !res.Valid {
				return errors.New("submission is invalid")
			}
			return nil
		},
	}
}

// langsCmd counts per language in postgres, or in the --catalog document.
func langsCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "langs",
		Short: "Show joke counts and coverage per language",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if opts.catalogFile != "" {
				svc, err := opts.catalog(ctx)
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), svc.Languages())
			}

			cfg, err := opts.config()
			if err != nil {
				return err
			}
			languages, err := language.NewTable(cfg.Catalog.DefaultLang, cfg.Catalog.Languages)
			if err != nil {
				return err
			}

			repo, closeRepo, err := opts.open(ctx, cfg.Database)
			if err != nil {
				return err
			}
			defer closeRepo()

			counts, err := repo.CountByLang(ctx)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), languages.Completeness(counts))
		},
	}
}

func getCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Show one stored joke",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("id %q is not a number", args[0])
			}

			ctx := cmd.Context()
			cfg, err := opts.config()
			if err != nil {
				return err
			}
			repo, closeRepo, err := opts.open(ctx, cfg.Database)
			if err != nil {
				return err
			}
			defer closeRepo()

			joke, err := repo.Get(ctx, id)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), joke)
		},
	}
}

func statsCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "stats [lang]",
		Short: "Show catalog statistics for a language",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := opts.catalog(cmd.Context())
			if err != nil {
				return err
			}
			lang := svc.DefaultLanguage()
			if len(args) == 1 {
				lang = args[0]
			}
			return writeJSON(cmd.OutOrStdout(), svc.Stats(lang))
		},
	}
}

// pendingCmd reads the persisted submission bucket of a language. It never
// resolves entries; moderation goes through the running server.
func pendingCmd(opts *options) *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "pending [lang]",
		Short: "List submissions waiting for moderation",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := opts.config()
			if err != nil {
				return err
			}

			lang, err := bucketLanguage(cfg.Catalog.DefaultLang, cfg.Catalog.Languages, args)
			if err != nil {
				return err
			}

			store, err := cache.New(ctx, cfg.Redis)
			if err != nil {
				return err
			}
			defer store.Close()

			entries, err := store.LoadBucket(ctx, lang)
			if err != nil {
				return err
			}
			if !all {
				entries = pendingOnly(entries)
			}
			return writeJSON(cmd.OutOrStdout(), entries)
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "include resolved entries")
	return cmd
}

// bucketLanguage resolves the requested language the way the submission
// cache does: normalized, and unsupported codes fall back to the default.
func bucketLanguage(def string, supported, args []string) (string, error) {
	languages, err := language.NewTable(def, supported)
	if err != nil {
		return "", err
	}
	if len(args) == 0 {
		return languages.Default(), nil
	}
	return languages.Fallback(args[0]), nil
}

func pendingOnly(entries []models.CacheEntry) []models.CacheEntry {
	out := make([]models.CacheEntry, 0, len(entries))
	for _, e := range entries {
		if e.Pending() {
			out = append(out, e)
		}
	}
	return out
}
