package scriptexec

import "time"

// LeaseController is the C7 surface the executor depends on.
type LeaseController interface {
	TakeControl(hostName, deviceID, sessionID, userID string) error
	ReleaseControl(hostName, deviceID, sessionID string) error
}

// PathResolver is the C5 surface: resolve a planned (from, to) hop within
// a tree into the edge/action-set to send.
type PathResolver interface {
	Resolve(treeID, from, to string) (Hop, error)
}

// ActionSender is the C8 surface used to drive actions and verifications.
type ActionSender interface {
	SendActions(hostName, deviceID string, actions []Action) (keyReleaseTS time.Time, err error)
	RunVerifications(hostName, deviceID, nodeID string) (passed bool, err error)
}

// PhraseResolver resolves a free-text step destination to a node id via
// the disambiguation mappings. Optional: steps naming destinations by
// node id never consult it.
type PhraseResolver interface {
	ResolvePhrase(phrase string) (nodeID string, err error)
}

// ZapObserver is the C11 surface, invoked only for steps with TriggerZap
// set.
type ZapObserver interface {
	Observe(actionCommand string, keyReleaseTS time.Time) (detected bool, err error)
}

// ZapState clears any accumulated zap-detector state for a device; called
// during setup (§4.12 step 1: "clears any zap-detector state").
type ZapState interface {
	Reset(deviceID string)
}
