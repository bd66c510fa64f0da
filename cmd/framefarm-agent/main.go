package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/3cpo-dev/framefarm/internal/agent"
	"github.com/3cpo-dev/framefarm/internal/core"
	"github.com/3cpo-dev/framefarm/internal/environment"
	"github.com/3cpo-dev/framefarm/internal/telemetry"
)

var version = "dev"

func main() {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	telemetry.ServiceVersion = version

	cmd := &cobra.Command{
		Use:           "framefarm-agent",
		Short:         "Serve the framefarm task API",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          serve,
	}
	cmd.Flags().String("config", "", "config file")
	cmd.Flags().String("listen", "", "listen address (default agent.listen)")
	cmd.Flags().StringP("log", "l", "info", "log level")
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serve(cmd *cobra.Command, args []string) error {
	if lvl, err := zerolog.ParseLevel(flagValue(cmd.Flags().GetString("log"))); err == nil {
		zerolog.SetGlobalLevel(lvl)
	}
	cfg, err := core.LoadConfig(flagValue(cmd.Flags().GetString("config")))
	if err != nil {
		return err
	}
	addr := flagValue(cmd.Flags().GetString("listen"))
	if addr == "" {
		addr = cfg.Agent.Listen
	}
	if cfg.Telemetry.Enabled {
		telemetry.InitGlobal(true, cfg.Telemetry.OTLPEndpoint)
	}
	defer telemetry.Shutdown()

	tmp := cfg.TempDir
	if tmp == "" {
		tmp = os.TempDir()
	}
	executor := core.NewTaskExecutor(cfg.ExecutablesRoot, tmp)
	// Requests run concurrently, so each task composes against its own copy
	// of the agent's environment.
	ambient := environment.ProcessEnviron{}.Snapshot()
	executor.NewEnviron = func() environment.Environ { return environment.NewMapEnviron(ambient) }
	srv := &agent.Server{
		Version:  version,
		Executor: executor,
		Merger:   &core.MergeAggregator{Thumbnails: executor.Thumbnails},
		WorkDir:  cfg.WorkDir,
		Token:    cfg.Agent.Token,
	}
	if cfg.Ledger != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.Ledger), 0700); err != nil {
			return err
		}
		store, err := core.NewStore(cfg.Ledger)
		if err != nil {
			return err
		}
		defer store.Close()
		srv.Store = store
	}

	tlsCfg := agent.MTLSConfigFrom(cfg.Agent)
	errc := make(chan error, 1)
	go func() {
		if tlsCfg.Enabled() {
			errc <- srv.ListenAndServeTLS(addr, tlsCfg)
			return
		}
		errc <- srv.ListenAndServe(addr)
	}()

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errc:
		return err
	case <-sigc:
	}
	log.Info().Msg("framefarm-agent shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(ctx)
}

func flagValue(s string, _ error) string { return s }
