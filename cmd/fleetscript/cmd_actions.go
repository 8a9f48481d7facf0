package main

import (
	"encoding/json"
	"fmt"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/fleetlab/fleetlab/pkg/cli"
	"github.com/fleetlab/fleetlab/pkg/scriptexec"
)

func newPauseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pause [suite]",
		Short: "Pause a running suite after its current scenario",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			state, err := resolveSuiteState(args)
			if err != nil {
				return err
			}
			if state.Status != scriptexec.StatusRunning {
				return fmt.Errorf("suite %s is %s, not running", state.Suite, state.Status)
			}
			if err := scriptexec.RequestPause(state.Suite); err != nil {
				return err
			}
			state.Status = scriptexec.StatusPausing
			if err := state.Save(); err != nil {
				return err
			}
			fmt.Printf("suite %s will pause after the current scenario\n", state.Suite)
			return nil
		},
	}
}

func newStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop [suite]",
		Short: "Abort a suite run and clean its state",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			state, err := resolveSuiteState(args)
			if err != nil {
				return err
			}
			if pid := scriptexec.RunnerPID(state.Suite); pid != 0 {
				// The runner installs no SIGTERM handler, so the signal
				// ends it without the executor's teardown; its lease is
				// released only when it expires.
				if err := syscall.Kill(pid, syscall.SIGTERM); err == nil {
					fmt.Printf("sent SIGTERM to runner pid %d\n", pid)
				}
			}
			if err := scriptexec.ClearState(state.Suite); err != nil {
				return err
			}
			fmt.Printf("suite %s state removed\n", state.Suite)
			return nil
		},
	}
}

func newStatusCmd() *cobra.Command {
	var jqExpr string
	cmd := &cobra.Command{
		Use:   "status [suite]",
		Short: "Show suite run progress",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			state, err := resolveSuiteState(args)
			if err != nil {
				return err
			}

			data, err := json.MarshalIndent(state, "", "  ")
			if err != nil {
				return err
			}
			if jqExpr != "" {
				out, err := cli.ApplyJQ(data, jqExpr)
				if err != nil {
					return err
				}
				fmt.Print(out)
				return nil
			}

			fmt.Printf("%s %s (started %s)\n\n", cli.Bold(state.Suite), statusColor(state.Status), state.Started.Format("2006-01-02 15:04:05"))
			for _, sc := range state.Scenarios {
				status := sc.Status
				if status == "" {
					status = cli.Dim("pending")
				} else {
					status = scenarioColor(status)
				}
				line := cli.DotPad(sc.Name, 40) + " " + status
				if sc.Duration != "" {
					line += " (" + sc.Duration + ")"
				}
				fmt.Println(line)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&jqExpr, "jq", "", "filter the state JSON with a jq expression")
	return cmd
}

func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list [suite-dir]",
		Short: "List suites with saved state, or the scenarios in a suite directory",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				scenarios, err := scriptexec.LoadSuite(args[0])
				if err != nil {
					return err
				}
				for _, sc := range scenarios {
					fmt.Printf("%s %s (%d steps, %s/%s)\n", cli.DotPad(sc.Name, 40), sc.Description, len(sc.Steps), sc.Host, sc.Device)
				}
				return nil
			}

			names, err := scriptexec.Suites()
			if err != nil {
				return err
			}
			if len(names) == 0 {
				fmt.Println("no suites have saved state")
				return nil
			}
			for _, name := range names {
				state, err := scriptexec.LoadState(name)
				if err != nil || state == nil {
					continue
				}
				fmt.Printf("%s %s\n", cli.DotPad(name, 40), statusColor(state.Status))
			}
			return nil
		},
	}
}

// resolveSuiteState loads the named suite's state, or the single active
// suite when no name is given.
func resolveSuiteState(args []string) (*scriptexec.RunState, error) {
	if len(args) == 1 {
		state, err := scriptexec.LoadState(args[0])
		if err != nil {
			return nil, err
		}
		if state == nil {
			return nil, fmt.Errorf("no state for suite %s", args[0])
		}
		return state, nil
	}

	names, err := scriptexec.Suites()
	if err != nil {
		return nil, err
	}
	var active []*scriptexec.RunState
	for _, name := range names {
		state, err := scriptexec.LoadState(name)
		if err != nil || state == nil {
			continue
		}
		if state.Status == scriptexec.StatusRunning || state.Status == scriptexec.StatusPausing || state.Status == scriptexec.StatusPaused {
			active = append(active, state)
		}
	}
	switch len(active) {
	case 0:
		return nil, fmt.Errorf("no active suite run; name one explicitly")
	case 1:
		return active[0], nil
	default:
		return nil, fmt.Errorf("%d active suites; name one explicitly", len(active))
	}
}

func statusColor(s scriptexec.RunStatus) string {
	switch s {
	case scriptexec.StatusComplete:
		return cli.Green(string(s))
	case scriptexec.StatusRunFailed, scriptexec.StatusAborted:
		return cli.Red(string(s))
	case scriptexec.StatusPausing, scriptexec.StatusPaused:
		return cli.Yellow(string(s))
	default:
		return string(s)
	}
}

func scenarioColor(status string) string {
	switch status {
	case string(scriptexec.StepPassed):
		return cli.Green(status)
	case string(scriptexec.StepFailed), string(scriptexec.StepError):
		return cli.Red(status)
	case string(scriptexec.StepSkipped):
		return cli.Yellow(status)
	default:
		return status
	}
}
