package scriptexec

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/fleetlab/fleetlab/pkg/util"
)

// Scenario is a parsed scenario from a YAML file: the device it targets
// and the navigation steps to drive. A suite is a directory of these.
type Scenario struct {
	Name        string         `yaml:"name"`
	Description string         `yaml:"description,omitempty"`
	Host        string         `yaml:"host"`
	Device      string         `yaml:"device"`
	Tree        string         `yaml:"tree"`
	UserID      string         `yaml:"user_id,omitempty"`
	Repeat      int            `yaml:"repeat,omitempty"`
	Steps       []ScenarioStep `yaml:"steps"`
}

// ScenarioStep is a single navigation hop within a scenario. Either
// from/to node ids or a free-text phrase (resolved through the
// disambiguation mappings) names the destination.
type ScenarioStep struct {
	Name        string `yaml:"name"`
	From        string `yaml:"from"`
	To          string `yaml:"to,omitempty"`
	Phrase      string `yaml:"phrase,omitempty"`
	FinalWaitMS int    `yaml:"final_wait_ms,omitempty"`
	TriggerZap  bool   `yaml:"trigger_zap,omitempty"`
}

// LoadScenario parses and validates a single scenario file.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("scriptexec: read scenario: %w", err)
	}

	var s Scenario
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("scriptexec: parse %s: %w", filepath.Base(path), err)
	}
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("scriptexec: %s: %w", filepath.Base(path), err)
	}
	return &s, nil
}

// Validate checks the scenario's structural requirements before any lease
// is taken: a device to run against, a tree to navigate, and at least one
// well-formed step.
func (s *Scenario) Validate() error {
	v := &util.ValidationBuilder{}
	v.Add(s.Name != "", "scenario name is required")
	v.Add(s.Host != "", "scenario host is required")
	v.Add(s.Device != "", "scenario device is required")
	v.Add(s.Tree != "", "scenario tree is required")
	v.Add(len(s.Steps) > 0, "scenario has no steps")
	v.Add(s.Repeat >= 0, "repeat must be >= 0")

	for i, step := range s.Steps {
		if step.Name == "" {
			v.AddErrorf("step %d: name is required", i+1)
		}
		if step.From == "" {
			v.AddErrorf("step %d (%s): from is required", i+1, step.Name)
		}
		if step.To == "" && step.Phrase == "" {
			v.AddErrorf("step %d (%s): either to or phrase is required", i+1, step.Name)
		}
		if step.To != "" && step.Phrase != "" {
			v.AddErrorf("step %d (%s): to and phrase are mutually exclusive", i+1, step.Name)
		}
		if step.FinalWaitMS < 0 {
			v.AddErrorf("step %d (%s): final_wait_ms must be >= 0", i+1, step.Name)
		}
	}
	return v.Build()
}

// LoadSuite loads every scenario file in dir, in filename order, so a
// numbered suite (01-boot.yaml, 02-zap.yaml) runs deterministically.
func LoadSuite(dir string) ([]*Scenario, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("scriptexec: read suite dir: %w", err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if strings.HasSuffix(e.Name(), ".yaml") || strings.HasSuffix(e.Name(), ".yml") {
			names = append(names, e.Name())
		}
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("scriptexec: no scenario files in %s", dir)
	}
	sort.Strings(names)

	scenarios := make([]*Scenario, 0, len(names))
	for _, name := range names {
		s, err := LoadScenario(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		scenarios = append(scenarios, s)
	}
	return scenarios, nil
}

// Script converts the scenario into the executor's run description,
// binding it to a fresh session identity.
func (s *Scenario) Script(sessionID string) Script {
	steps := make([]PlannedStep, len(s.Steps))
	for i, step := range s.Steps {
		steps[i] = PlannedStep{
			From:        step.From,
			To:          step.To,
			Phrase:      step.Phrase,
			FinalWaitMS: step.FinalWaitMS,
			TriggerZap:  step.TriggerZap,
		}
	}
	return Script{
		HostName:  s.Host,
		DeviceID:  s.Device,
		SessionID: sessionID,
		UserID:    s.UserID,
		TreeID:    s.Tree,
		Steps:     steps,
	}
}
