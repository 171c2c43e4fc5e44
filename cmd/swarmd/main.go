package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/swarmhq/swarmd/pkg/auth"
	"github.com/swarmhq/swarmd/pkg/bus"
	"github.com/swarmhq/swarmd/pkg/catalog"
	"github.com/swarmhq/swarmd/pkg/completer"
	"github.com/swarmhq/swarmd/pkg/config"
	"github.com/swarmhq/swarmd/pkg/gateway"
	"github.com/swarmhq/swarmd/pkg/logger"
	"github.com/swarmhq/swarmd/pkg/mcpgw"
	"github.com/swarmhq/swarmd/pkg/monitor"
	"github.com/swarmhq/swarmd/pkg/orchestrator"
	"github.com/swarmhq/swarmd/pkg/planner"
	"github.com/swarmhq/swarmd/pkg/scope"
	"github.com/swarmhq/swarmd/pkg/store"
	"github.com/swarmhq/swarmd/pkg/tracing"
	"github.com/swarmhq/swarmd/pkg/workspace"
)

var (
	version   = "dev"
	gitCommit string
)

func formatVersion() string {
	v := version
	if gitCommit != "" {
		v += fmt.Sprintf(" (git: %s)", gitCommit)
	}
	return v
}

func main() {
	root := &cobra.Command{
		Use:   "swarmd",
		Short: "Multi-agent swarm orchestration daemon",
		RunE:  runDaemon,
	}
	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Printf("swarmd %s (%s)\n", formatVersion(), runtime.Version())
		},
	})

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runDaemon(_ *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger.SetLevel(logger.ParseLevel(cfg.LogLevel))
	if cfg.LogFile != "" {
		if err := logger.EnableFileLogging(cfg.LogFile); err != nil {
			return fmt.Errorf("enable file logging: %w", err)
		}
		defer logger.DisableFileLogging()
	}

	if cfg.TraceEndpoint != "" {
		if _, err := tracing.Init("swarmd", formatVersion(), cfg.TraceEndpoint); err != nil {
			return fmt.Errorf("init tracing: %w", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			tracing.Shutdown(shutdownCtx)
		}()
	}

	st, err := store.Open(cfg.DBPath, cfg.Monitor.MaxRetries)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	comp, err := completer.New(cfg.Completer)
	if err != nil {
		return fmt.Errorf("build completer: %w", err)
	}

	cat, err := catalog.LoadStatic(cfg.CatalogPath)
	if err != nil {
		return fmt.Errorf("load catalog: %w", err)
	}

	roster, err := planner.RosterFor(cfg.RoleSet)
	if err != nil {
		return err
	}

	rawCreds, err := cfg.ParseCredentials()
	if err != nil {
		return fmt.Errorf("parse credentials: %w", err)
	}
	creds, err := auth.NewCredentialSet(rawCreds)
	if err != nil {
		return err
	}
	if creds.Empty() {
		logger.WarnC("main", "No API credentials configured; every request will be rejected")
	}

	eventBus := bus.New(2 * time.Second)
	if cfg.TraceEndpoint != "" {
		eventBus.Subscribe(tracing.EventSubscriber())
	}

	var writer workspace.Writer = workspace.Discard{}
	if cfg.WorkspaceDir != "" {
		writer = workspace.NewDirWriter(cfg.WorkspaceDir)
	}

	manager := orchestrator.NewManager(st, scope.NewExtractor(comp, cat), planner.New(roster, comp), writer, eventBus)
	mcp := mcpgw.NewClient(cfg.MCP.URL, cfg.MCP.Credential, cfg.MCP.Timeout)

	gateway.SetVersion(formatVersion())
	server := gateway.NewServer(cfg.Gateway, manager, st, mcp, cat, creds, cfg.Monitor.PollInterval())
	if err := server.Start(); err != nil {
		return fmt.Errorf("start gateway: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	retryMonitor := monitor.New(st, cfg.Monitor, eventBus)
	go retryMonitor.Run(ctx)

	checkpointer, err := monitor.NewCheckpointer(st, cfg.Monitor.CheckpointCron)
	if err != nil {
		return err
	}
	go checkpointer.Run(ctx)

	logger.InfoCF("main", "swarmd started", map[string]any{
		"version":  formatVersion(),
		"port":     cfg.Gateway.Port,
		"role_set": cfg.RoleSet,
		"db_path":  cfg.DBPath,
	})

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig

	logger.InfoC("main", "Shutting down")
	cancel()
	checkpointer.Checkpoint(context.Background())
	if err := server.Stop(context.Background()); err != nil {
		logger.WarnCF("main", "Gateway shutdown error", map[string]any{"error": err.Error()})
	}
	return nil
}
