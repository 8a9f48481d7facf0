// Package navvalidate is the Action/Verification Validator (C6): it
// rejects malformed commands at write-time, before they ever reach the
// Navigation Graph Store. Grounded on pkg/auth/checker.go's error-object
// style (a structured error with Unwrap to a sentinel) and the Command
// Registry's suggestion idiom.
package navvalidate

import (
	"github.com/fleetlab/fleetlab/pkg/cmdregistry"
	"github.com/fleetlab/fleetlab/pkg/navtree"
	"github.com/fleetlab/fleetlab/pkg/util"
)

// Registry is the subset of cmdregistry.Registry the validator needs.
type Registry interface {
	ValidateParams(deviceModel, command string, params map[string]any, categoryHint string) (*cmdregistry.ValidationResult, error)
	AvailableCommandsError(deviceModel, command, categoryHint string) error
}

// Validator rejects malformed node verifications and edge action_sets at
// write-time (§4.6).
type Validator struct {
	registry Registry
}

// New creates a Validator over the given Command Registry.
func New(registry Registry) *Validator {
	return &Validator{registry: registry}
}

// Warning is a non-blocking issue surfaced to the caller but not rejected.
// A missing required param is a blocking error, not a Warning; none of the
// validator's current checks emits a Warning.
type Warning struct {
	Command string
	Message string
}

// ValidateNode checks every verification on a node against the Command
// Registry for deviceModel. Returns the first blocking error, or nil plus
// any warnings.
func (v *Validator) ValidateNode(deviceModel string, node navtree.Node) ([]Warning, error) {
	var warnings []Warning
	for _, verf := range node.Verifications {
		w, err := v.validateVerification(deviceModel, verf)
		if err != nil {
			return nil, err
		}
		warnings = append(warnings, w...)
	}
	return warnings, nil
}

func (v *Validator) validateVerification(deviceModel string, verf navtree.Verification) ([]Warning, error) {
	result, err := v.registry.ValidateParams(deviceModel, verf.Command, verf.Params, "verification")
	if err != nil {
		return nil, err
	}
	if commandUnregistered(result, verf.Command) {
		return nil, v.registry.AvailableCommandsError(deviceModel, verf.Command, "verification")
	}

	switch verf.VerificationType {
	case navtree.VerifyImage:
		if _, ok := verf.Params["image_path"]; !ok {
			if _, ok := verf.Params["reference_name"]; !ok {
				return nil, util.NewValidationError("image verification requires params.image_path or params.reference_name")
			}
		}
	case navtree.VerifyText:
		if _, ok := verf.Params["text"]; !ok {
			if _, ok := verf.Params["reference_name"]; !ok {
				return nil, util.NewValidationError("text verification requires params.text or params.reference_name")
			}
		}
	}

	if len(result.Missing) > 0 {
		return nil, util.NewValidationError(verf.Command + ": missing required param " + result.Missing[0])
	}
	return nil, nil
}

// ValidateEdge checks every action across an edge's action_sets (actions,
// retry_actions, failure_actions) against the Command Registry, and that
// default_action_set_id resolves to one of the edge's action sets.
func (v *Validator) ValidateEdge(deviceModel string, edge navtree.Edge) ([]Warning, error) {
	if _, ok := edge.DefaultSet(); !ok {
		return nil, util.NewValidationError("default_action_set_id " + edge.DefaultActionSet + " does not resolve to an action set on this edge")
	}
	var warnings []Warning
	for _, as := range edge.ActionSets {
		for _, group := range [][]navtree.Action{as.Actions, as.RetryActions, as.FailureActions} {
			for _, action := range group {
				w, err := v.validateAction(deviceModel, action)
				if err != nil {
					return nil, err
				}
				warnings = append(warnings, w...)
			}
		}
	}
	return warnings, nil
}

// commandUnregistered reports whether result reflects a command the
// registry has never heard of for this device model, as opposed to a
// registered command called with missing/unknown params.
func commandUnregistered(result *cmdregistry.ValidationResult, command string) bool {
	if result.OK || len(result.Unknown) != 1 {
		return false
	}
	return result.Unknown[0] == command && result.Missing == nil
}

func (v *Validator) validateAction(deviceModel string, action navtree.Action) ([]Warning, error) {
	if action.WaitTime < 0 {
		return nil, util.NewValidationError("wait_time_ms must be >= 0")
	}
	result, err := v.registry.ValidateParams(deviceModel, action.Command, action.Params, "action")
	if err != nil {
		return nil, err
	}
	if commandUnregistered(result, action.Command) {
		return nil, v.registry.AvailableCommandsError(deviceModel, action.Command, "action")
	}
	if len(result.Missing) > 0 {
		return nil, util.NewValidationError(action.Command + ": missing required param " + result.Missing[0])
	}
	return nil, nil
}
