package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show connection and sync status",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := openApp(ctx, true)
		if err != nil {
			return err
		}
		defer a.close()

		fmt.Printf("Project:    %s (%s)\n", a.cfg.Project.Name, a.cfg.Project.ID)
		fmt.Printf("State:      %s\n", a.coord.State())

		rec, err := a.coord.StoredHandle()
		if err != nil {
			return err
		}
		if rec != nil {
			fmt.Printf("Directory:  %s\n", rec.Root)
			if !rec.LastSyncedAt.IsZero() {
				fmt.Printf("Last sync:  %s\n", rec.LastSyncedAt.Format("2006-01-02 15:04:05"))
			}
		}

		dirty, err := a.store.DirtyFiles(ctx)
		if err != nil {
			return err
		}
		modified, err := a.store.ExternallyModifiedFiles(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("Dirty:      %d file(s)\n", len(dirty))
		fmt.Printf("Ext. mod.:  %d file(s)\n", len(modified))
		for _, p := range dirty {
			fmt.Printf("  dirty %s\n", p)
		}
		return nil
	},
}
