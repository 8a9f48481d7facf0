package navvalidate

import (
	"errors"
	"testing"

	"github.com/fleetlab/fleetlab/pkg/cmdregistry"
	"github.com/fleetlab/fleetlab/pkg/navtree"
	"github.com/fleetlab/fleetlab/pkg/util"
)

func newTestRegistry(t *testing.T) *cmdregistry.Registry {
	t.Helper()
	store := cmdregistry.NewMemStore()
	specs := []cmdregistry.CommandSpec{
		{DeviceModel: "host_vnc", CommandName: "waitForElementToAppear", Kind: cmdregistry.KindWeb, Category: "verification",
			Schema: cmdregistry.Schema{Required: []string{"search_term"}}},
		{DeviceModel: "host_vnc", CommandName: "click_element", Kind: cmdregistry.KindWeb, Category: "action",
			Schema: cmdregistry.Schema{Required: []string{"id"}}},
	}
	for _, s := range specs {
		if err := store.Save(s); err != nil {
			t.Fatal(err)
		}
	}
	return cmdregistry.New(store)
}

// TestRejectsUnregisteredVerification mirrors spec §8 scenario S2.
func TestRejectsUnregisteredVerification(t *testing.T) {
	v := New(newTestRegistry(t))
	node := navtree.Node{
		NodeID: "home",
		Verifications: []navtree.Verification{
			{Command: "check_element_exists", VerificationType: navtree.VerifyWeb, Params: map[string]any{"search_term": "Sauce Demo"}},
		},
	}
	_, err := v.ValidateNode("host_vnc", node)
	if err == nil {
		t.Fatal("expected rejection for unregistered command")
	}
	var apiErr *util.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *util.APIError, got %T: %v", err, err)
	}
	if apiErr.Suggestion != "waitForElementToAppear" {
		t.Errorf("expected suggestion waitForElementToAppear, got %q", apiErr.Suggestion)
	}
	found := false
	for _, c := range apiErr.AvailableCommands {
		if c == "verification:waitForElementToAppear" {
			found = true
		}
	}
	if !found {
		t.Errorf("available commands missing expected entry: %v", apiErr.AvailableCommands)
	}
}

func TestAcceptsRegisteredVerification(t *testing.T) {
	v := New(newTestRegistry(t))
	node := navtree.Node{
		NodeID: "home",
		Verifications: []navtree.Verification{
			{Command: "waitForElementToAppear", VerificationType: navtree.VerifyWeb, Params: map[string]any{"search_term": "Sauce Demo"}},
		},
	}
	if _, err := v.ValidateNode("host_vnc", node); err != nil {
		t.Fatalf("unexpected rejection: %v", err)
	}
}

func TestRejectsDanglingDefaultActionSet(t *testing.T) {
	v := New(newTestRegistry(t))
	edge := navtree.Edge{
		DefaultActionSet: "missing",
		ActionSets:       []navtree.ActionSet{{ID: "fwd"}},
	}
	if _, err := v.ValidateEdge("host_vnc", edge); err == nil {
		t.Fatal("expected rejection for dangling default_action_set_id")
	}
}

func TestRejectsNegativeWaitTime(t *testing.T) {
	v := New(newTestRegistry(t))
	edge := navtree.Edge{
		DefaultActionSet: "fwd",
		ActionSets: []navtree.ActionSet{
			{ID: "fwd", Actions: []navtree.Action{{Command: "click_element", Params: map[string]any{"id": "x"}, WaitTime: -1}}},
		},
	}
	if _, err := v.ValidateEdge("host_vnc", edge); err == nil {
		t.Fatal("expected rejection for negative wait_time_ms")
	}
}
