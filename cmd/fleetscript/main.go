// Command fleetscript is the Script Executor CLI (§4.12): a
// lifecycle-managed driver that runs scenario suites against the
// orchestrator, with start/pause/stop/status mirroring the run lifecycle
// and the campaign stdout contract (§6): SCRIPT_RESULT_ID once at
// startup, SCRIPT_SUCCESS exactly once on exit, exit code follows
// success.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/fleetlab/fleetlab/pkg/config"
	"github.com/fleetlab/fleetlab/pkg/version"
)

var verboseFlag bool

// Sentinel errors for exit code mapping. RunE handlers return these
// instead of calling os.Exit directly, so deferred cleanup (lease and run
// lock release) runs.
var (
	errScriptFailure = errors.New("script failure")
	errInfraError    = errors.New("infrastructure error")
)

var configPath string

func main() {
	rootCmd := &cobra.Command{
		Use:   "fleetscript",
		Short: "Scenario runner for the device fleet",
		Long: `Fleetscript runs scripted navigation scenarios against fleet devices.

A suite is a directory of YAML scenario files. Each scenario names a
host/device/tree and a sequence of navigation steps with verifications.

Lifecycle:
  fleetscript start <suite>          # take control, run all scenarios
  fleetscript status                 # check progress
  fleetscript pause                  # stop after current scenario
  fleetscript start <suite>          # resume from where it left off
  fleetscript stop                   # abort and clean state

Discovery:
  fleetscript list                   # show suites with saved state
  fleetscript list <suite-dir>       # show scenarios in a suite`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		CompletionOptions: cobra.CompletionOptions{HiddenDefaultCmd: true},
	}

	rootCmd.PersistentFlags().BoolVarP(&verboseFlag, "verbose", "v", false, "Verbose output")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config file (default: ~/.fleet/config.json)")

	rootCmd.AddCommand(
		newStartCmd(),
		newPauseCmd(),
		newStopCmd(),
		newStatusCmd(),
		newListCmd(),
		&cobra.Command{
			Use:   "version",
			Short: "Print version information",
			Run: func(cmd *cobra.Command, args []string) {
				if version.Version == "dev" {
					fmt.Println("fleetscript dev build (use 'make build' for version info)")
				} else {
					fmt.Printf("fleetscript %s (%s)\n", version.Version, version.GitCommit)
				}
			},
		},
	)

	if err := rootCmd.Execute(); err != nil {
		if errors.Is(err, errInfraError) {
			os.Exit(2)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	if configPath != "" {
		return config.LoadFrom(configPath)
	}
	return config.Load()
}
