package scriptexec

import (
	"bytes"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/fleetlab/fleetlab/pkg/util"
)

type fakeLease struct {
	takeErr    error
	released   bool
	releaseErr error
}

func (f *fakeLease) TakeControl(hostName, deviceID, sessionID, userID string) error {
	return f.takeErr
}

func (f *fakeLease) ReleaseControl(hostName, deviceID, sessionID string) error {
	f.released = true
	return f.releaseErr
}

type fakeResolver struct {
	hops map[string]Hop
	errs map[string]error
}

func (f *fakeResolver) Resolve(treeID, from, to string) (Hop, error) {
	key := from + "->" + to
	if err, ok := f.errs[key]; ok {
		return Hop{}, err
	}
	return f.hops[key], nil
}

type fakeSender struct {
	sendErrs   map[string]error
	verifyOK   map[string]bool
	verifyErrs map[string]error
	sendCalls  int
}

func (f *fakeSender) SendActions(hostName, deviceID string, actions []Action) (time.Time, error) {
	f.sendCalls++
	if len(actions) > 0 {
		if err, ok := f.sendErrs[actions[0].Command]; ok {
			return time.Time{}, err
		}
	}
	return time.Now(), nil
}

func (f *fakeSender) RunVerifications(hostName, deviceID, nodeID string) (bool, error) {
	if err, ok := f.verifyErrs[nodeID]; ok {
		return false, err
	}
	if ok, exists := f.verifyOK[nodeID]; exists {
		return ok, nil
	}
	return true, nil
}

func TestRunEmitsStdoutMarkersAndReleasesLeaseOnSuccess(t *testing.T) {
	var buf bytes.Buffer
	lease := &fakeLease{}
	resolver := &fakeResolver{hops: map[string]Hop{
		"A->B": {Actions: []Action{{Command: "select"}}},
	}}
	sender := &fakeSender{}
	ex := New(lease, resolver, sender)
	ex.Stdout = &buf

	summary, err := ex.Run(Script{
		HostName: "h1", DeviceID: "d1", SessionID: "s1", UserID: "u1", TreeID: "t1",
		Steps: []PlannedStep{{From: "A", To: "B"}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if !summary.ScriptSuccess {
		t.Errorf("expected success, got step results: %+v", summary.StepResults)
	}
	if !lease.released {
		t.Error("expected lease to be released in teardown")
	}
	out := buf.String()
	if !strings.Contains(out, fmt.Sprintf("SCRIPT_RESULT_ID:%s", summary.ScriptResultID)) {
		t.Errorf("missing SCRIPT_RESULT_ID marker: %q", out)
	}
	if !strings.Contains(out, "SCRIPT_SUCCESS:true") {
		t.Errorf("missing SCRIPT_SUCCESS marker: %q", out)
	}
}

func TestRunContinuesAfterTolerableNoPath(t *testing.T) {
	lease := &fakeLease{}
	resolver := &fakeResolver{
		hops: map[string]Hop{"B->C": {Actions: []Action{{Command: "select"}}}},
		errs: map[string]error{"A->B": util.ErrNoPath},
	}
	sender := &fakeSender{}
	ex := New(lease, resolver, sender)
	ex.Stdout = &bytes.Buffer{}

	summary, err := ex.Run(Script{
		HostName: "h1", DeviceID: "d1", SessionID: "s1", TreeID: "t1",
		Steps: []PlannedStep{{From: "A", To: "B"}, {From: "B", To: "C"}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if summary.ScriptSuccess {
		t.Error("expected overall failure since one step had no_path")
	}
	if len(summary.StepResults) != 2 {
		t.Fatalf("expected both steps to run (tolerable failure continues), got %d", len(summary.StepResults))
	}
	if summary.StepResults[1].Status != StepPassed {
		t.Errorf("expected second step to still run and pass, got %v", summary.StepResults[1])
	}
	if !lease.released {
		t.Error("expected lease released even after a tolerable failure")
	}
}

func TestRunTerminatesOnFatalHostUnreachable(t *testing.T) {
	lease := &fakeLease{}
	resolver := &fakeResolver{hops: map[string]Hop{
		"A->B": {Actions: []Action{{Command: "select"}}},
		"B->C": {Actions: []Action{{Command: "select"}}},
	}}
	sender := &fakeSender{sendErrs: map[string]error{"select": util.ErrHostUnreachable}}
	ex := New(lease, resolver, sender)
	ex.Stdout = &bytes.Buffer{}

	summary, err := ex.Run(Script{
		HostName: "h1", DeviceID: "d1", SessionID: "s1", TreeID: "t1",
		Steps: []PlannedStep{{From: "A", To: "B"}, {From: "B", To: "C"}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if summary.ScriptSuccess {
		t.Error("expected failure on fatal host-unreachable error")
	}
	if len(summary.StepResults) != 1 {
		t.Fatalf("expected the run to terminate after the fatal step, got %d results", len(summary.StepResults))
	}
	if !lease.released {
		t.Error("expected lease released even after a fatal failure")
	}
}

func TestRunSetupFailureStillEmitsSuccessFalseMarker(t *testing.T) {
	lease := &fakeLease{takeErr: util.ErrDeviceLocked}
	resolver := &fakeResolver{}
	sender := &fakeSender{}
	var buf bytes.Buffer
	ex := New(lease, resolver, sender)
	ex.Stdout = &buf

	summary, err := ex.Run(Script{HostName: "h1", DeviceID: "d1", SessionID: "s1"})
	if err == nil {
		t.Fatal("expected an error from setup failure")
	}
	if summary.ScriptSuccess {
		t.Error("expected ScriptSuccess=false on setup failure")
	}
	if !strings.Contains(buf.String(), "SCRIPT_SUCCESS:false") {
		t.Errorf("expected SCRIPT_SUCCESS:false marker even on setup failure, got %q", buf.String())
	}
}
