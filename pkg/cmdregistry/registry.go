// Package cmdregistry is the per-device-model catalog of valid action and
// verification commands and their parameter schemas.
package cmdregistry

import (
	"fmt"
	"sort"

	"github.com/fleetlab/fleetlab/pkg/util"
)

// Kind identifies which transport a command runs over.
type Kind string

const (
	KindRemote Kind = "remote"
	KindADB    Kind = "adb"
	KindWeb    Kind = "web"
	KindIR     Kind = "ir"
)

// Schema describes a command's accepted parameters.
type Schema struct {
	Required []string
	Optional []string
}

// CommandSpec is the persisted, read-mostly catalog row. Unique by
// (device_model, command_name).
type CommandSpec struct {
	DeviceModel string `json:"device_model"`
	CommandName string `json:"command_name"`
	Kind        Kind   `json:"kind"`
	Category    string `json:"category"`
	Description string `json:"description"`
	Schema      Schema `json:"params_schema"`
}

// DefaultWaitMS returns the baseline wait_time_ms for this command's
// name, or the "default" entry when the name has none, per the
// registry's §4.2 baselines.
func (c CommandSpec) DefaultWaitMS() int {
	if ms, ok := defaultWaitMS[c.CommandName]; ok {
		return ms
	}
	return defaultWaitMS["default"]
}

// defaultWaitMS holds the baseline wait_time_ms per action kind.
var defaultWaitMS = map[string]int{
	"launch_app": 8000,
	"click":      2000,
	"press_key":  1000,
	"back":       1500,
	"type_text":  1000,
	"default":    1000,
}

// Store persists command specs keyed by device model. The Postgres
// implementation lives in pkg/navtree alongside the rest of the schema
// (command_specs shares the database with trees/nodes/edges).
type Store interface {
	List(deviceModel string) ([]CommandSpec, error)
	Get(deviceModel, commandName string) (*CommandSpec, error)
	Save(spec CommandSpec) error
}

// ValidationResult is returned by ValidateParams.
type ValidationResult struct {
	OK             bool
	Missing        []string
	Unknown        []string
	TypoSuggestion string
}

// Registry is the read-mostly command catalog.
type Registry struct {
	store Store
}

// New creates a registry backed by the given store.
func New(store Store) *Registry {
	return &Registry{store: store}
}

// List returns every command spec registered for a device model.
func (r *Registry) List(deviceModel string) ([]CommandSpec, error) {
	specs, err := r.store.List(deviceModel)
	if err != nil {
		return nil, err
	}
	sort.Slice(specs, func(i, j int) bool { return specs[i].CommandName < specs[j].CommandName })
	return specs, nil
}

// ValidateParams checks params against the command's schema for the given
// device model, per §4.2 and §4.6. A command not found in the registry
// returns a not-found ValidationResult carrying a typo suggestion over the
// model's available commands of the same categoryHint (pass "" to search
// across every category).
func (r *Registry) ValidateParams(deviceModel, command string, params map[string]any, categoryHint string) (*ValidationResult, error) {
	spec, err := r.store.Get(deviceModel, command)
	if err != nil {
		return nil, err
	}
	if spec == nil {
		specs, lerr := r.store.List(deviceModel)
		if lerr != nil {
			return nil, lerr
		}
		var names, hinted []string
		for _, s := range specs {
			names = append(names, s.CommandName)
			if categoryHint != "" && s.Category == categoryHint {
				hinted = append(hinted, s.CommandName)
			}
		}
		candidates := names
		if len(hinted) > 0 {
			candidates = hinted
		}
		return &ValidationResult{
			OK:             false,
			Unknown:        []string{command},
			TypoSuggestion: closestMatch(command, candidates),
		}, nil
	}

	result := &ValidationResult{OK: true}
	known := make(map[string]bool, len(spec.Schema.Required)+len(spec.Schema.Optional))
	for _, name := range spec.Schema.Required {
		known[name] = true
		if _, present := params[name]; !present {
			result.Missing = append(result.Missing, name)
			result.OK = false
		}
	}
	for _, name := range spec.Schema.Optional {
		known[name] = true
	}
	for name := range params {
		if !known[name] {
			result.Unknown = append(result.Unknown, name)
		}
	}
	sort.Strings(result.Missing)
	sort.Strings(result.Unknown)
	return result, nil
}

// AvailableCommandsError builds the structured validation error enumerating
// available commands grouped by category, per §4.6/§7. categoryHint narrows
// the typo-suggestion search to commands of that category when the caller
// knows the kind of command being validated (e.g. "verification" when
// rejecting an unregistered verification command) — without it, an
// unrelated action command in a different category could otherwise win on
// raw edit distance alone.
func (r *Registry) AvailableCommandsError(deviceModel, command, categoryHint string) error {
	specs, err := r.store.List(deviceModel)
	if err != nil {
		return err
	}
	var names, hinted []string
	byCategory := map[string][]string{}
	for _, s := range specs {
		names = append(names, s.CommandName)
		byCategory[s.Category] = append(byCategory[s.Category], s.CommandName)
		if categoryHint != "" && s.Category == categoryHint {
			hinted = append(hinted, s.CommandName)
		}
	}
	var available []string
	for _, cat := range sortedKeys(byCategory) {
		for _, n := range byCategory[cat] {
			available = append(available, fmt.Sprintf("%s:%s", cat, n))
		}
	}
	apiErr := util.NewAPIError("validation", fmt.Sprintf("command %q is not registered for device model %q", command, deviceModel), util.ErrValidationFailed)
	apiErr.WithAvailableCommands(available)
	candidates := names
	if len(hinted) > 0 {
		candidates = hinted
	}
	if s := closestMatch(command, candidates); s != "" {
		apiErr.WithSuggestion(s)
	}
	return apiErr
}

func sortedKeys(m map[string][]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// closestMatch returns the candidate with the smallest Levenshtein distance
// to target, or "" if candidates is empty. No distance cutoff applies;
// callers narrow candidates by category instead.
func closestMatch(target string, candidates []string) string {
	best := ""
	bestDist := -1
	for _, c := range candidates {
		d := levenshtein(target, c)
		if bestDist == -1 || d < bestDist {
			bestDist = d
			best = c
		}
	}
	return best
}

// levenshtein computes the edit distance between a and b.
func levenshtein(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	la, lb := len(ra), len(rb)
	if la == 0 {
		return lb
	}
	if lb == 0 {
		return la
	}
	prev := make([]int, lb+1)
	curr := make([]int, lb+1)
	for j := 0; j <= lb; j++ {
		prev[j] = j
	}
	for i := 1; i <= la; i++ {
		curr[0] = i
		for j := 1; j <= lb; j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			curr[j] = min3(curr[j-1]+1, prev[j]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[lb]
}

func min3(a, b, c int) int {
	m := a
	if b < m {
		m = b
	}
	if c < m {
		m = c
	}
	return m
}
