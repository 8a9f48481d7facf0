// Command fleetd is the orchestrator daemon (§4, §6): it owns the
// Navigation Graph Store, Lock Manager, Host Proxy, Reference Store and
// Translator, and serves the stable HTTP surface the dashboards, the
// fleetscript CLI and fellow fleetd replicas call. Grounded on
// cmd/newtron's cobra root-command shape, with the listen/serve loop
// grounded on cklxx-elephant.ai's eval-server bootstrap (signal channel,
// select, timed Shutdown).
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/fleetlab/fleetlab/pkg/apiserver"
	"github.com/fleetlab/fleetlab/pkg/config"
	"github.com/fleetlab/fleetlab/pkg/util"
	"github.com/fleetlab/fleetlab/pkg/version"
)

var (
	errServerError = errors.New("server error")
)

var (
	configPath string
	listenAddr string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "fleetd",
		Short: "Device-fleet test orchestrator",
		Long: `fleetd is the orchestrator daemon for the device-fleet test harness.

It owns the navigation graph, device leases, and the host proxy, and serves
the HTTP surface consumed by fleetscript and the fleet dashboard:

  fleetd serve                 # run the orchestrator HTTP server
  fleetd version                # print version information`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		CompletionOptions: cobra.CompletionOptions{HiddenDefaultCmd: true},
	}

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config file (default: ~/.fleet/config.json)")

	rootCmd.AddCommand(
		newServeCmd(),
		&cobra.Command{
			Use:   "version",
			Short: "Print version information",
			Run: func(cmd *cobra.Command, args []string) {
				if version.Version == "dev" {
					fmt.Println("fleetd dev build (use 'make build' for version info)")
				} else {
					fmt.Printf("fleetd %s (%s)\n", version.Version, version.GitCommit)
				}
			},
		},
	)

	if err := rootCmd.Execute(); err != nil {
		if errors.Is(err, errServerError) {
			os.Exit(2)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the orchestrator HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
	}
	cmd.Flags().StringVar(&listenAddr, "listen", ":8080", "HTTP listen address")
	return cmd
}

func runServe() error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("fleetd: loading config: %w", err)
	}

	ctx := context.Background()
	app, err := buildApp(ctx, cfg)
	if err != nil {
		return fmt.Errorf("fleetd: %w", err)
	}
	defer app.Close()

	router := apiserver.New(*app.router)

	server := &http.Server{
		Addr:         listenAddr,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		util.Infof("fleetd: listening on %s", listenAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		util.Infof("fleetd: received signal %s, shutting down", sig)
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("%w: %v", errServerError, err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("fleetd: shutdown: %w", err)
	}
	util.Info("fleetd: stopped")
	return nil
}

func loadConfig() (*config.Config, error) {
	if configPath != "" {
		return config.LoadFrom(configPath)
	}
	return config.Load()
}
