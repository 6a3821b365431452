package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/nvoss/trellis/internal/conflict"
	"github.com/nvoss/trellis/internal/storage"
)

var (
	resolveStrategy string
	mergedFile      string
	resolveAll      bool
)

var conflictsCmd = &cobra.Command{
	Use:   "conflicts",
	Short: "Inspect and resolve sync conflicts",
	Long: `A conflict is a file edited locally and in external storage since the
last sync, with differing content. Conflicts are detected against the
current content of both sides and resolved one at a time or in bulk.`,
}

var conflictsListCmd = &cobra.Command{
	Use:   "list",
	Short: "Detect and list current conflicts",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := openApp(ctx, true)
		if err != nil {
			return err
		}
		defer a.close()

		if err := a.requireConnected(); err != nil {
			return err
		}

		// A partial detect still reports what it found; the per-path
		// failures come back as the command's error.
		found, detectErr := a.conflictEng.Detect(ctx)
		if len(found) == 0 && detectErr == nil {
			fmt.Println("No conflicts")
			return nil
		}
		if len(found) > 0 {
			fmt.Printf("%d conflict(s):\n", len(found))
			for _, c := range found {
				fmt.Printf("  %s (local %d bytes, external %d bytes)\n",
					c.Path, len(c.LocalContent), len(c.ExternalContent))
			}
		}
		return detectErr
	},
}

var conflictsResolveCmd = &cobra.Command{
	Use:   "resolve [path]",
	Short: "Resolve a conflict by path, or all with --all",
	Long: `Resolve settles conflicts with one of three strategies:

  keep-local     write the local content to external storage
  keep-external  write the external content to the durable store
  merge          write the content of --merged-file to both sides

merge applies to a single path only.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		strategy, err := parseStrategy(resolveStrategy)
		if err != nil {
			return err
		}

		a, err := openApp(ctx, true)
		if err != nil {
			return err
		}
		defer a.close()

		if err := a.requireConnected(); err != nil {
			return err
		}
		if _, err := a.conflictEng.Detect(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "warning: some paths could not be inspected: %v\n", err)
		}

		if resolveAll {
			if len(args) != 0 {
				return fmt.Errorf("--all takes no path argument")
			}
			outcomes := a.conflictEng.ResolveAll(ctx, strategy)
			failed := 0
			for _, o := range outcomes {
				if o.Err != nil {
					failed++
					fmt.Fprintf(os.Stderr, "  %s: %v\n", o.Path, o.Err)
				}
			}
			fmt.Printf("Resolved %d of %d conflict(s)\n", len(outcomes)-failed, len(outcomes))
			if failed > 0 {
				return fmt.Errorf("%d conflict(s) not resolved", failed)
			}
			return nil
		}

		if len(args) != 1 {
			return fmt.Errorf("expected a conflict path (or --all)")
		}
		c, err := findByPath(a.conflictEng, args[0])
		if err != nil {
			return err
		}

		var merged string
		if strategy == conflict.Merge {
			if mergedFile == "" {
				return fmt.Errorf("merge requires --merged-file")
			}
			data, err := os.ReadFile(mergedFile)
			if err != nil {
				return fmt.Errorf("read merged content: %w", err)
			}
			merged = string(data)
		}

		if err := a.conflictEng.Resolve(ctx, c.ID, strategy, merged); err != nil {
			return err
		}
		fmt.Printf("Resolved %s (%s)\n", c.Path, strategy)
		return nil
	},
}

var conflictsSkipCmd = &cobra.Command{
	Use:   "skip <path>",
	Short: "Dismiss a conflict without resolving it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := openApp(ctx, true)
		if err != nil {
			return err
		}
		defer a.close()

		if err := a.requireConnected(); err != nil {
			return err
		}
		if _, err := a.conflictEng.Detect(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "warning: some paths could not be inspected: %v\n", err)
		}

		c, err := findByPath(a.conflictEng, args[0])
		if err != nil {
			return err
		}
		if err := a.conflictEng.Skip(c.ID); err != nil {
			return err
		}
		fmt.Printf("Skipped %s; it may be detected again\n", c.Path)
		return nil
	},
}

func parseStrategy(s string) (conflict.Strategy, error) {
	switch conflict.Strategy(s) {
	case conflict.KeepLocal, conflict.KeepExternal, conflict.Merge:
		return conflict.Strategy(s), nil
	default:
		return "", fmt.Errorf("unknown strategy %q (keep-local, keep-external, merge)", s)
	}
}

func findByPath(eng *conflict.Engine, path string) (*conflict.Conflict, error) {
	p := storage.NormalizePath(path)
	for _, c := range eng.Pending() {
		if c.Path == p {
			return c, nil
		}
	}
	return nil, fmt.Errorf("no pending conflict for %s", p)
}

func init() {
	conflictsResolveCmd.Flags().StringVar(&resolveStrategy, "strategy", "keep-local", "resolution strategy")
	conflictsResolveCmd.Flags().StringVar(&mergedFile, "merged-file", "", "file with merged content (merge strategy)")
	conflictsResolveCmd.Flags().BoolVar(&resolveAll, "all", false, "resolve every pending conflict")

	conflictsCmd.AddCommand(conflictsListCmd)
	conflictsCmd.AddCommand(conflictsResolveCmd)
	conflictsCmd.AddCommand(conflictsSkipCmd)
}
