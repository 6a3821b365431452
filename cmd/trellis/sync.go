package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/nvoss/trellis/internal/syncengine"
)

var (
	pushContinueOnError bool
	pullContinueOnError bool
	pullAll             bool
)

var pushCmd = &cobra.Command{
	Use:   "push [paths...]",
	Short: "Push dirty files to external storage",
	Long: `Push writes every dirty file from the durable store out to the
connected directory and marks it synced. With path arguments only those
paths are pushed.`,
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

		res, err := a.syncEngine.Push(ctx, syncengine.PushOptions{
			Paths:           args,
			ContinueOnError: pushContinueOnError,
		})
		if err != nil {
			return err
		}
		printResult(res)
		if !res.Success {
			return fmt.Errorf("push finished with %d failed file(s)", res.Failed)
		}
		return nil
	},
}

var pullCmd = &cobra.Command{
	Use:   "pull",
	Short: "Pull the external tree into the durable store",
	Long: `Pull reads every tracked file from the connected directory into the
durable store. By default files that are unchanged on both sides are
skipped; --all re-reads everything.`,
	Args: cobra.NoArgs,
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

		res, err := a.syncEngine.Pull(ctx, syncengine.PullOptions{
			SkipUnchanged:   !pullAll,
			ContinueOnError: pullContinueOnError,
		})
		if err != nil {
			return err
		}
		printResult(res)
		if !res.Success {
			return fmt.Errorf("pull finished with %d failed file(s)", res.Failed)
		}
		return nil
	},
}

func printResult(res *syncengine.Result) {
	fmt.Printf("%s complete: %d synced, %d skipped, %d failed (%v)\n",
		res.Mode, res.Synced, res.Skipped, res.Failed,
		res.CompletedAt.Sub(res.StartedAt).Round(time.Millisecond))
	for _, item := range res.Items {
		if item.Error != "" {
			fmt.Printf("  failed %s: %s\n", item.Path, item.Error)
		}
	}
}

func init() {
	pushCmd.Flags().BoolVar(&pushContinueOnError, "continue-on-error", false, "keep pushing past per-file failures")
	pullCmd.Flags().BoolVar(&pullContinueOnError, "continue-on-error", false, "keep pulling past per-file failures")
	pullCmd.Flags().BoolVar(&pullAll, "all", false, "re-read files even when unchanged")
}
