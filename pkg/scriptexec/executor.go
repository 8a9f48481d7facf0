package scriptexec

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/fleetlab/fleetlab/pkg/util"
)

// Executor runs a Script against the lease, pathfinder, host-proxy, and
// zap-detector surfaces, following the §4.12 contract: setup, step loop,
// teardown, always.
type Executor struct {
	Lease    LeaseController
	Resolver PathResolver
	Sender   ActionSender
	Zap      ZapObserver
	ZapState ZapState
	Phrases  PhraseResolver

	Stdout io.Writer
}

// New creates an Executor with os.Stdout for the markers contract,
// matching the teacher's cmd-binary wiring style.
func New(lease LeaseController, resolver PathResolver, sender ActionSender) *Executor {
	return &Executor{
		Lease:    lease,
		Resolver: resolver,
		Sender:   sender,
		Stdout:   os.Stdout,
	}
}

// Run drives the full setup/step-loop/teardown lifecycle for script.
// Teardown always executes and always releases the lease, even if setup
// partially failed after taking it. The only error Run returns itself is
// a setup failure that prevented any step from running; step-level
// failures are reported inside RunSummary, not as a Go error.
func (e *Executor) Run(script Script) (RunSummary, error) {
	resultID := uuid.NewString()
	e.writeMarker(fmt.Sprintf("SCRIPT_RESULT_ID:%s", resultID))

	summary := RunSummary{ScriptResultID: resultID}

	if err := e.Lease.TakeControl(script.HostName, script.DeviceID, script.SessionID, script.UserID); err != nil {
		summary.ScriptSuccess = false
		e.teardown(script, &summary, false)
		return summary, fmt.Errorf("scriptexec: setup: taking control: %w", err)
	}
	if e.ZapState != nil {
		e.ZapState.Reset(script.DeviceID)
	}

	success := true
	for _, step := range script.Steps {
		result, fatal := e.runStep(script, step)
		summary.StepResults = append(summary.StepResults, result)
		if result.Status != StepPassed {
			success = false
		}
		if fatal {
			break
		}
	}

	summary.ScriptSuccess = success
	e.teardown(script, &summary, true)
	return summary, nil
}

// runStep executes one planned step and reports whether the failure is
// fatal (lease lost / host unreachable) — fatal failures terminate the
// run; tolerable failures (no_path, verification_failed) continue to the
// next step (§4.12, §7).
func (e *Executor) runStep(script Script, step PlannedStep) (StepResult, bool) {
	start := time.Now()
	result := StepResult{From: step.From, To: step.To}

	if step.To == "" && step.Phrase != "" {
		if e.Phrases == nil {
			result.Status = StepError
			result.Message = fmt.Sprintf("step names destination by phrase %q but no phrase resolver is configured", step.Phrase)
			result.Duration = time.Since(start)
			return result, false
		}
		to, err := e.Phrases.ResolvePhrase(step.Phrase)
		if err != nil {
			result.Status = StepFailed
			result.Message = err.Error()
			result.Duration = time.Since(start)
			return result, false
		}
		step.To = to
		result.To = to
	}

	hop, err := e.Resolver.Resolve(script.TreeID, step.From, step.To)
	if err != nil {
		result.Status = StepFailed
		result.Message = err.Error()
		result.Duration = time.Since(start)
		return result, isFatal(err)
	}

	keyReleaseTS, err := e.Sender.SendActions(script.HostName, script.DeviceID, hop.Actions)
	if err != nil {
		result.Status = StepError
		result.Message = err.Error()
		result.Duration = time.Since(start)
		return result, isFatal(err)
	}

	if step.FinalWaitMS > 0 {
		time.Sleep(time.Duration(step.FinalWaitMS) * time.Millisecond)
	}

	passed, err := e.Sender.RunVerifications(script.HostName, script.DeviceID, step.To)
	if err != nil {
		result.Status = StepError
		result.Message = err.Error()
		result.Duration = time.Since(start)
		return result, isFatal(err)
	}
	if !passed {
		result.Status = StepFailed
		result.Message = util.ErrVerificationFailed.Error()
		result.Duration = time.Since(start)
		return result, false
	}

	if step.TriggerZap && e.Zap != nil {
		actionCommand := ""
		if len(hop.Actions) > 0 {
			actionCommand = hop.Actions[0].Command
		}
		detected, err := e.Zap.Observe(actionCommand, keyReleaseTS)
		if err != nil {
			e.logf("scriptexec: zap observe failed: %v", err)
		} else if !detected {
			e.logf("scriptexec: %s", util.ErrZapNotDetected.Error())
		}
	}

	result.Status = StepPassed
	result.Duration = time.Since(start)
	return result, false
}

// teardown always releases the lease and emits the final stdout marker,
// regardless of how the run ended (§4.12 step 3).
func (e *Executor) teardown(script Script, summary *RunSummary, hadLease bool) {
	if hadLease {
		if err := e.Lease.ReleaseControl(script.HostName, script.DeviceID, script.SessionID); err != nil {
			e.logf("scriptexec: teardown: releasing lease: %v", err)
		}
	}
	e.writeMarker(fmt.Sprintf("SCRIPT_SUCCESS:%t", summary.ScriptSuccess))
}

func (e *Executor) writeMarker(line string) {
	if e.Stdout == nil {
		return
	}
	fmt.Fprintln(e.Stdout, line)
}

func (e *Executor) logf(format string, args ...interface{}) {
	util.Logger.Warnf(format, args...)
}

func isFatal(err error) bool {
	return errors.Is(err, util.ErrLeaseExpired) || errors.Is(err, util.ErrHostUnreachable)
}
