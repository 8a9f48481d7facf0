// Command fleethost is the per-host daemon: it owns the physical devices
// attached to this machine, runs the Capture Ingestor, Frame Analyzer and
// Zap Detector for each, and serves the /host/* RPCs the orchestrator
// proxies to it (§4.8-§4.11). Same cobra/serve shape as cmd/fleetd.
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

	"github.com/fleetlab/fleetlab/pkg/config"
	"github.com/fleetlab/fleetlab/pkg/hostapi"
	"github.com/fleetlab/fleetlab/pkg/util"
	"github.com/fleetlab/fleetlab/pkg/version"
)

var (
	errServerError = errors.New("server error")
)

var (
	configPath   string
	listenAddr   string
	advertiseURL string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "fleethost",
		Short: "Device-fleet host daemon",
		Long: `fleethost runs on each physical test host. It drives the devices
attached to this machine, captures and analyzes their AV output
continuously, and serves the RPCs the orchestrator (fleetd) proxies here:

  fleethost serve              # run the host daemon
  fleethost version             # print version information`,
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
					fmt.Println("fleethost dev build (use 'make build' for version info)")
				} else {
					fmt.Printf("fleethost %s (%s)\n", version.Version, version.GitCommit)
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
		Short: "Run the host daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
	}
	cmd.Flags().StringVar(&listenAddr, "listen", ":8090", "HTTP listen address")
	cmd.Flags().StringVar(&advertiseURL, "advertise", "", "base URL the orchestrator should use to reach this daemon (default: http://<HOST_NAME><listen>)")
	return cmd
}

func runServe() error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("fleethost: loading config: %w", err)
	}
	if cfg.HostName == "" {
		return errors.New("fleethost: host_name is not configured (set it in the config file or HOST_NAME)")
	}
	if len(cfg.Devices) == 0 {
		util.Warn("fleethost: no devices configured, serving RPCs without capture pipelines")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	d, err := buildDaemon(ctx, cfg)
	if err != nil {
		return fmt.Errorf("fleethost: %w", err)
	}
	defer d.Close()

	router := hostapi.New(*d.deps)

	server := &http.Server{
		Addr:         listenAddr,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		util.WithField("host", cfg.HostName).Infof("fleethost: listening on %s", listenAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	if cfg.ServerURL != "" {
		registerWithOrchestrator(cfg)
	} else {
		util.Warn("fleethost: no server_url configured, skipping orchestrator registration")
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		util.Infof("fleethost: received signal %s, shutting down", sig)
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("%w: %v", errServerError, err)
		}
	}

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("fleethost: shutdown: %w", err)
	}
	util.Info("fleethost: stopped")
	return nil
}

func loadConfig() (*config.Config, error) {
	if configPath != "" {
		return config.LoadFrom(configPath)
	}
	return config.Load()
}
