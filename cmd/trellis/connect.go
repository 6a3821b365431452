package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/nvoss/trellis/internal/storage/external"
)

var connectCmd = &cobra.Command{
	Use:   "connect <directory>",
	Short: "Connect an external directory for syncing",
	Long: `Connect grants trellis access to an external directory and stores the
handle so later sessions reconnect automatically.

The directory must exist and be listable. Once connected, push and pull
move content between the durable store and this directory.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		dir, err := filepath.Abs(args[0])
		if err != nil {
			return err
		}

		a, err := openApp(ctx, false)
		if err != nil {
			return err
		}
		defer a.close()

		if err := a.coord.Connect(ctx, external.NewDirectoryHandle(dir)); err != nil {
			return err
		}
		fmt.Printf("Connected to %s\n", dir)
		return nil
	},
}

var forgetHandle bool

var disconnectCmd = &cobra.Command{
	Use:   "disconnect",
	Short: "Disconnect from external storage",
	Long: `Disconnect detaches external storage. Edits keep landing in the
durable store and are pushed on the next sync after reconnecting.

With --forget the stored handle is also deleted, so the next session
will not attempt to reconnect.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer a.close()

		if err := a.coord.Disconnect(forgetHandle); err != nil {
			return err
		}
		if forgetHandle {
			fmt.Println("Disconnected; stored handle forgotten")
		} else {
			fmt.Println("Disconnected")
		}
		return nil
	},
}

func init() {
	disconnectCmd.Flags().BoolVar(&forgetHandle, "forget", false, "also delete the stored directory handle")
}
