package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nvoss/trellis/internal/daemon"
	"github.com/nvoss/trellis/internal/dashboard"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the auto-sync daemon and status dashboard",
	Long: `Serve reconnects to external storage, watches the connected directory
for changes, periodically pulls, and streams events over a WebSocket
dashboard. Runs until interrupted.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		a, err := openApp(ctx, true)
		if err != nil {
			return err
		}
		defer a.close()

		server := dashboard.NewServer(a.bus, a, &dashboard.Config{Port: a.cfg.Serve.Port})
		if err := server.Start(); err != nil {
			return err
		}
		defer server.Stop()
		fmt.Printf("Dashboard on http://%s\n", server.Addr())

		if err := a.requireConnected(); err != nil {
			// The dashboard still serves status while disconnected; the
			// daemon needs a directory to watch.
			fmt.Println(err)
			<-ctx.Done()
			return nil
		}

		rec, err := a.coord.StoredHandle()
		if err != nil {
			return err
		}
		d, err := daemon.New(rec.Root, a.store, a.conflictEng, a.syncEngine, &daemon.Config{
			PullInterval:     a.cfg.Sync.PullIntervalDuration,
			DebounceInterval: a.cfg.Sync.DebounceDuration,
			Extension:        a.cfg.Sync.Extension,
		})
		if err != nil {
			return err
		}
		fmt.Printf("Watching %s\n", rec.Root)
		return d.Start(ctx)
	},
}
