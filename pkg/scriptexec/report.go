package scriptexec

import (
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

// ScenarioResult holds the result of a single scenario execution within a
// suite run.
type ScenarioResult struct {
	Name       string
	Host       string
	Device     string
	Status     StepStatus
	Duration   time.Duration
	Summary    RunSummary
	SkipReason string // set when Status==StepSkipped (e.g. "suite pausing")

	Repeat          int // total iterations requested (0 = no repeat)
	FailedIteration int // which iteration failed (0 = none; only set when Repeat > 1)
}

// ReportGenerator produces suite reports from scenario results.
type ReportGenerator struct {
	Results []*ScenarioResult
}

// statusSymbol returns the console symbol for a status.
func statusSymbol(s StepStatus) string {
	switch s {
	case StepPassed:
		return "\u2713" // ✓
	case StepFailed:
		return "\u2717" // ✗
	case StepSkipped:
		return "\u2298" // ⊘
	case StepError:
		return "!"
	default:
		return "?"
	}
}

// PrintConsole writes human-readable output to w.
func (g *ReportGenerator) PrintConsole(w io.Writer) {
	for _, r := range g.Results {
		fmt.Fprintf(w, "\nfleetscript: %s (%s/%s)\n\n", r.Name, r.Host, r.Device)

		if r.Status == StepSkipped && r.SkipReason != "" {
			fmt.Fprintf(w, "  %s skipped: %s\n\n", statusSymbol(StepSkipped), r.SkipReason)
			continue
		}

		passed := 0
		for i, step := range r.Summary.StepResults {
			fmt.Fprintf(w, "  [%d/%d] %s → %s\n", i+1, len(r.Summary.StepResults), step.From, step.To)
			if step.Message != "" {
				fmt.Fprintf(w, "    %s %s\n", statusSymbol(step.Status), step.Message)
			} else {
				fmt.Fprintf(w, "    %s\n", statusSymbol(step.Status))
			}
			if step.Status == StepPassed {
				passed++
			}
		}

		fmt.Fprintf(w, "\n%s: %s (%d/%d steps passed, %s)\n\n",
			r.Status, r.Name, passed, len(r.Summary.StepResults), r.Duration.Round(time.Second))
	}
}

// WriteMarkdown writes a markdown report to the given path.
func (g *ReportGenerator) WriteMarkdown(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	fmt.Fprintf(f, "# fleetscript Report — %s\n\n", time.Now().Format("2006-01-02 15:04:05"))

	fmt.Fprintln(f, "| Scenario | Host | Device | Result | Duration | Note |")
	fmt.Fprintln(f, "|----------|------|--------|--------|----------|------|")
	for _, r := range g.Results {
		note := ""
		if r.SkipReason != "" {
			note = r.SkipReason
		}
		if r.Repeat > 1 && r.FailedIteration > 0 {
			note = fmt.Sprintf("failed on iteration %d/%d", r.FailedIteration, r.Repeat)
		} else if r.Repeat > 1 {
			note = fmt.Sprintf("%d iterations", r.Repeat)
		}
		fmt.Fprintf(f, "| %s | %s | %s | %s | %s | %s |\n",
			r.Name, r.Host, r.Device, r.Status,
			r.Duration.Round(time.Second), note)
	}

	hasFailures := false
	for _, r := range g.Results {
		for _, s := range r.Summary.StepResults {
			if s.Status == StepFailed || s.Status == StepError {
				if !hasFailures {
					fmt.Fprintf(f, "\n## Failures\n\n")
					hasFailures = true
				}
				fmt.Fprintf(f, "### %s\n", r.Name)
				fmt.Fprintf(f, "Step %s → %s: %s\n\n", s.From, s.To, s.Message)
			}
		}
	}
	return nil
}

// JUnit XML shapes, matching the de-facto schema CI systems consume.
type junitTestSuites struct {
	XMLName xml.Name         `xml:"testsuites"`
	Suites  []junitTestSuite `xml:"testsuite"`
}

type junitTestSuite struct {
	Name     string          `xml:"name,attr"`
	Tests    int             `xml:"tests,attr"`
	Failures int             `xml:"failures,attr"`
	Errors   int             `xml:"errors,attr"`
	Skipped  int             `xml:"skipped,attr"`
	Time     string          `xml:"time,attr"`
	Cases    []junitTestCase `xml:"testcase"`
}

type junitTestCase struct {
	Name      string        `xml:"name,attr"`
	ClassName string        `xml:"classname,attr"`
	Time      string        `xml:"time,attr"`
	Failure   *junitMessage `xml:"failure,omitempty"`
	Error     *junitMessage `xml:"error,omitempty"`
	Skipped   *junitMessage `xml:"skipped,omitempty"`
}

type junitMessage struct {
	Message string `xml:"message,attr"`
}

// WriteJUnit writes a JUnit XML report to the given path.
func (g *ReportGenerator) WriteJUnit(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	var suites junitTestSuites
	for _, r := range g.Results {
		suite := junitTestSuite{
			Name: r.Name,
			Time: fmt.Sprintf("%.3f", r.Duration.Seconds()),
		}

		if r.Status == StepSkipped {
			suite.Tests = 1
			suite.Skipped = 1
			suite.Cases = append(suite.Cases, junitTestCase{
				Name:      r.Name,
				ClassName: r.Name,
				Time:      "0.000",
				Skipped:   &junitMessage{Message: r.SkipReason},
			})
			suites.Suites = append(suites.Suites, suite)
			continue
		}

		for _, s := range r.Summary.StepResults {
			tc := junitTestCase{
				Name:      fmt.Sprintf("%s → %s", s.From, s.To),
				ClassName: r.Name,
				Time:      fmt.Sprintf("%.3f", s.Duration.Seconds()),
			}
			switch s.Status {
			case StepFailed:
				tc.Failure = &junitMessage{Message: s.Message}
				suite.Failures++
			case StepError:
				tc.Error = &junitMessage{Message: s.Message}
				suite.Errors++
			case StepSkipped:
				tc.Skipped = &junitMessage{Message: s.Message}
				suite.Skipped++
			}
			suite.Tests++
			suite.Cases = append(suite.Cases, tc)
		}
		suites.Suites = append(suites.Suites, suite)
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	fmt.Fprint(f, xml.Header)
	enc := xml.NewEncoder(f)
	enc.Indent("", "    ")
	if err := enc.Encode(suites); err != nil {
		return err
	}
	fmt.Fprintln(f)
	return nil
}
