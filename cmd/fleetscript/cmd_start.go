package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/fleetlab/fleetlab/pkg/cli"
	"github.com/fleetlab/fleetlab/pkg/scriptexec"
	"github.com/fleetlab/fleetlab/pkg/util"
)

var (
	reportDir string
	uiName    string
)

func newStartCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start <suite-dir>",
		Short: "Run every scenario in a suite",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStart(args[0])
		},
	}
	cmd.Flags().StringVar(&reportDir, "report-dir", "", "directory for markdown/junit reports (default: <suite>/reports)")
	cmd.Flags().StringVar(&uiName, "ui", "", "userinterface name for phrase resolution (default: from config)")
	return cmd
}

func runStart(suiteDir string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("%w: loading config: %v", errInfraError, err)
	}
	if cfg.ServerURL == "" {
		return fmt.Errorf("%w: server_url is not configured (set it in the config file or SERVER_URL)", errInfraError)
	}

	scenarios, err := scriptexec.LoadSuite(suiteDir)
	if err != nil {
		return fmt.Errorf("%w: %v", errInfraError, err)
	}

	suite := scriptexec.SuiteName(suiteDir)

	// Resume support: statuses saved by a paused run carry over, so
	// already-passed scenarios are not re-run.
	prior := make(map[string]string)
	if existing, err := scriptexec.LoadState(suite); err == nil && existing != nil {
		for _, s := range existing.Scenarios {
			prior[s.Name] = s.Status
		}
	}

	if err := scriptexec.AcquireRunnerLock(suite); err != nil {
		return fmt.Errorf("%w: %v", errInfraError, err)
	}
	defer func() {
		if err := scriptexec.ReleaseRunnerLock(suite); err != nil {
			util.Warnf("fleetscript: releasing runner lock: %v", err)
		}
	}()
	// A marker left over from the paused run would stop us immediately.
	scriptexec.ClearPauseRequest(suite)

	state := &scriptexec.RunState{
		Suite:    suite,
		SuiteDir: suiteDir,
		Status:   scriptexec.StatusRunning,
		Started:  time.Now(),
	}
	for _, sc := range scenarios {
		state.Scenarios = append(state.Scenarios, scriptexec.ScenarioState{Name: sc.Name, Status: prior[sc.Name]})
	}
	if err := state.Save(); err != nil {
		return fmt.Errorf("%w: %v", errInfraError, err)
	}

	resultID := uuid.NewString()
	fmt.Printf("SCRIPT_RESULT_ID:%s\n", resultID)

	results := runScenarios(cfg.ServerURL, cfg.TeamID, suite, state, scenarios)

	allPassed := true
	paused := false
	infraFailed := false
	for _, r := range results {
		switch r.Status {
		case scriptexec.StepFailed:
			allPassed = false
		case scriptexec.StepError:
			allPassed = false
			infraFailed = true
		case scriptexec.StepSkipped:
			if r.SkipReason == "suite pausing" {
				paused = true
			}
		}
	}

	switch {
	case paused:
		state.Status = scriptexec.StatusPaused
	case allPassed:
		state.Status = scriptexec.StatusComplete
	default:
		state.Status = scriptexec.StatusRunFailed
	}
	if err := state.Save(); err != nil {
		util.Warnf("fleetscript: saving final state: %v", err)
	}

	gen := &scriptexec.ReportGenerator{Results: results}
	gen.PrintConsole(os.Stdout)
	writeReports(gen, suiteDir)

	fmt.Printf("SCRIPT_SUCCESS:%t\n", allPassed && !paused)

	if infraFailed {
		return errInfraError
	}
	if !allPassed {
		return errScriptFailure
	}
	return nil
}

// runScenarios drives each scenario through the Executor, honoring pause
// requests between scenarios and persisting progress after each one.
func runScenarios(serverURL, team, suite string, state *scriptexec.RunState, scenarios []*scriptexec.Scenario) []*scriptexec.ScenarioResult {
	results := make([]*scriptexec.ScenarioResult, 0, len(scenarios))

	for i, sc := range scenarios {
		if state.Scenarios[i].Status == string(scriptexec.StepPassed) {
			results = append(results, &scriptexec.ScenarioResult{
				Name: sc.Name, Host: sc.Host, Device: sc.Device,
				Status: scriptexec.StepSkipped, SkipReason: "passed in previous run",
			})
			continue
		}
		if scriptexec.PauseRequested(suite) {
			scriptexec.ClearPauseRequest(suite)
			for _, rest := range scenarios[i:] {
				results = append(results, &scriptexec.ScenarioResult{
					Name: rest.Name, Host: rest.Host, Device: rest.Device,
					Status: scriptexec.StepSkipped, SkipReason: "suite pausing",
				})
			}
			break
		}

		result := runScenario(serverURL, team, sc)
		results = append(results, result)

		state.SetScenario(sc.Name, result.Status, result.Duration)
		if err := state.Save(); err != nil {
			util.Warnf("fleetscript: saving progress: %v", err)
		}

		fmt.Printf("%s %s (%s)\n", cli.DotPad(sc.Name, 40), result.Status, result.Duration.Round(time.Second))
	}
	return results
}

// runScenario executes one scenario, iterating when repeat is set and
// stopping at the first failing iteration.
func runScenario(serverURL, team string, sc *scriptexec.Scenario) *scriptexec.ScenarioResult {
	result := &scriptexec.ScenarioResult{
		Name: sc.Name, Host: sc.Host, Device: sc.Device, Repeat: sc.Repeat,
	}

	iterations := sc.Repeat
	if iterations < 1 {
		iterations = 1
	}

	start := time.Now()
	for iter := 1; iter <= iterations; iter++ {
		ui := uiName
		if ui == "" {
			ui = sc.Tree
		}
		client := newOrchestratorClient(serverURL, team, ui)
		sessionID := uuid.NewString()
		client.bind(sc.Host, sc.Device, sessionID)

		executor := scriptexec.New(client, client, client)
		executor.Zap = client
		executor.Phrases = client
		executor.Stdout = nil // suite-level markers are emitted once by runStart

		summary, err := executor.Run(sc.Script(sessionID))
		result.Summary = summary
		if err != nil {
			result.Status = scriptexec.StepError
			result.Duration = time.Since(start)
			if iterations > 1 {
				result.FailedIteration = iter
			}
			return result
		}
		if !summary.ScriptSuccess {
			result.Status = scriptexec.StepFailed
			result.Duration = time.Since(start)
			if iterations > 1 {
				result.FailedIteration = iter
			}
			return result
		}
	}

	result.Status = scriptexec.StepPassed
	result.Duration = time.Since(start)
	return result
}

func writeReports(gen *scriptexec.ReportGenerator, suiteDir string) {
	dir := reportDir
	if dir == "" {
		dir = filepath.Join(suiteDir, "reports")
	}
	if err := gen.WriteMarkdown(filepath.Join(dir, "report.md")); err != nil {
		util.Warnf("fleetscript: writing markdown report: %v", err)
	}
	if err := gen.WriteJUnit(filepath.Join(dir, "junit.xml")); err != nil {
		util.Warnf("fleetscript: writing junit report: %v", err)
	}
}
