package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/nvoss/trellis/internal/config"
	"github.com/nvoss/trellis/internal/conflict"
	"github.com/nvoss/trellis/internal/coordinator"
	"github.com/nvoss/trellis/internal/dashboard"
	"github.com/nvoss/trellis/internal/events"
	"github.com/nvoss/trellis/internal/logging"
	"github.com/nvoss/trellis/internal/storage/durable"
	"github.com/nvoss/trellis/internal/storage/external"
	"github.com/nvoss/trellis/internal/syncengine"
)

func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "trellis.yaml"
	}
	return filepath.Join(home, ".trellis", "trellis.yaml")
}

// app wires the stores, engines and coordinator for one CLI invocation.
type app struct {
	cfg         *config.Config
	store       *durable.Store
	handles     *coordinator.HandleStore
	bus         *events.Bus
	coord       *coordinator.Coordinator
	syncEngine  *syncengine.Engine
	conflictEng *conflict.Engine
}

// openApp builds the full stack. With reconnect set it also replays the
// stored handle, so commands that need external storage start from the
// previous session's connection.
func openApp(ctx context.Context, reconnect bool) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	logging.Setup(cfg.System.LogLevel, cfg.System.LogFile)

	store, err := durable.Open(cfg.System.DBPath, cfg.Project.ID)
	if err != nil {
		return nil, fmt.Errorf("open durable store: %w", err)
	}
	if err := store.RegisterProject(ctx, cfg.Project.Name, ""); err != nil {
		store.Close()
		return nil, fmt.Errorf("register project: %w", err)
	}

	handles, err := coordinator.OpenHandleStore(cfg.System.HandleStorePath)
	if err != nil {
		store.Close()
		return nil, err
	}

	bus := events.NewBus()
	coord := coordinator.New(cfg.Project.ID, store, handles, bus, external.Options{
		PollInterval: cfg.Sync.PollIntervalDuration,
	})
	syncEng := syncengine.New(store, bus,
		syncengine.WithExtension(cfg.Sync.Extension),
		syncengine.WithHandleToucher(coord),
	)
	conflictEng := conflict.New(store, bus)
	coord.AddAttacher(syncEng)
	coord.AddAttacher(conflictEng)

	a := &app{
		cfg:         cfg,
		store:       store,
		handles:     handles,
		bus:         bus,
		coord:       coord,
		syncEngine:  syncEng,
		conflictEng: conflictEng,
	}

	if reconnect {
		if err := coord.Reconnect(ctx); err != nil {
			a.close()
			return nil, err
		}
	}
	return a, nil
}

func (a *app) close() {
	_ = a.coord.Disconnect(false)
	a.bus.Close()
	a.handles.Close()
	a.store.Close()
}

// requireConnected fails with an actionable message when no external
// storage is reachable.
func (a *app) requireConnected() error {
	switch a.coord.State() {
	case coordinator.Connected:
		return nil
	case coordinator.PermissionNeeded:
		rec, _ := a.coord.StoredHandle()
		if rec != nil {
			return fmt.Errorf("access to %s needs to be re-granted; run 'trellis connect %s'", rec.Name, rec.Root)
		}
		return fmt.Errorf("external storage access needs to be re-granted")
	default:
		return fmt.Errorf("not connected to external storage; run 'trellis connect <directory>'")
	}
}

// Status implements dashboard.StatusProvider.
func (a *app) Status() dashboard.Status {
	return dashboard.Status{
		Project:          a.cfg.Project.Name,
		ConnectionState:  a.coord.State().String(),
		PendingConflicts: a.conflictEng.Pending(),
		LastSync:         a.syncEngine.LastResult(),
	}
}
