package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/gfhdhytghd/oqqwall/internal/config"
	"github.com/gfhdhytghd/oqqwall/internal/control"
	"github.com/gfhdhytghd/oqqwall/internal/dashboard"
	"github.com/gfhdhytghd/oqqwall/internal/db"
	"github.com/gfhdhytghd/oqqwall/internal/logx"
	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the long-lived control listener",
		Long: "Accepts flush commands on the control socket, serves the HTTP control API when control.http_port\n" +
			"is set, runs scheduled flushes and reloads the config file when it changes.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			return runServe(cmd, configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to OQQWall config file")
	return cmd
}

func runServe(cmd *cobra.Command, configPath string) error {
	a, err := loadApp(configPath)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	engine := a.newEngine(a.cfg)
	listener := control.NewListener(engine, a.crash, a.log)

	sched, err := control.NewScheduler(ctx, a.cfg, listener, a.log)
	if err != nil {
		return err
	}
	sched.Start()

	var api *dashboard.Server
	var wg sync.WaitGroup
	errCh := make(chan error, 3)
	if a.cfg.Control.HTTPPort > 0 {
		api = dashboard.NewServer(engine, sched, listener, a.log)
		wg.Add(1)
		go func() {
			defer wg.Done()
			errCh <- api.Start(ctx, a.cfg.Control.HTTPPort)
		}()
	}

	var mu sync.Mutex
	reload := func(cfg *config.Config) {
		mu.Lock()
		defer mu.Unlock()
		if err := db.Init(a.db, cfg.GroupNames()); err != nil {
			a.log.Error("reload rejected: provisioning failed", logx.Err(err))
			return
		}
		next, err := control.NewScheduler(ctx, cfg, listener, a.log)
		if err != nil {
			a.log.Error("reload rejected: bad schedule", logx.Err(err))
			return
		}
		eng := a.newEngine(cfg)
		listener.Swap(eng)
		sched.Stop()
		sched = next
		sched.Start()
		if api != nil {
			api.Swap(eng, sched)
		}
		a.log.Info("dispatch engine rebuilt", logx.Strings("groups", cfg.GroupNames()))
	}

	wg.Add(2)
	go func() {
		defer wg.Done()
		errCh <- config.Watch(ctx, configPath, a.log, reload)
	}()
	go func() {
		defer wg.Done()
		errCh <- listener.Serve(ctx, a.cfg.Control.Socket)
	}()

	var first error
	select {
	case <-ctx.Done():
	case first = <-errCh:
		stop()
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		if first == nil && err != nil && !errors.Is(err, context.Canceled) {
			first = err
		}
	}

	mu.Lock()
	sched.Stop()
	mu.Unlock()
	a.log.Info("control listener stopped")
	return first
}
