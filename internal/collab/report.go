// Copyright (c) 2025 Open Swarm Contributors
//
// This software is released under the MIT License.
// See LICENSE file in the repository for details.

package collab

import (
	"fmt"
	"regexp"
	"strings"
)

// Maximum failure message length kept in summaries.
const MaxFailureMessageLength = 500

// Failure is one failing test found in test output.
type Failure struct {
	// Name is the test name, e.g. "TestFoo" or "TestFoo/subcase".
	Name string `json:"name"`

	// Package is set when the output names the failing package.
	Package string `json:"package,omitempty"`

	// Location is "file:line" of the first reported assertion.
	Location string `json:"location,omitempty"`

	// Message holds the indented output that followed the failure line.
	Message string `json:"message,omitempty"`

	Panic bool `json:"panic,omitempty"`
}

// TestReport is the parsed result of a test command. It is the result type
// of command-driven test generation and carries the failing-test count the
// implementation gate needs.
type TestReport struct {
	Command  string    `json:"command"`
	Failures []Failure `json:"failures"`
	Passed   int       `json:"passed"`
	// BuildFailed is set when a package did not compile. Compile errors are
	// not failing tests.
	BuildFailed bool   `json:"buildFailed"`
	Raw         string `json:"-"`
}

// FailingTestCount returns the number of distinct failing tests.
func (r *TestReport) FailingTestCount() int {
	if r == nil {
		return 0
	}
	return len(r.Failures)
}

// Summary returns a short human readable description of the failures.
func (r *TestReport) Summary() string {
	if r.FailingTestCount() == 0 {
		if r.BuildFailed {
			return "build failed, no tests ran"
		}
		return fmt.Sprintf("all %d tests passed", r.Passed)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%d failing tests:\n", len(r.Failures))
	for _, f := range r.Failures {
		b.WriteString("  " + f.Name)
		if f.Panic {
			b.WriteString(" [PANIC]")
		}
		if f.Location != "" {
			b.WriteString(" at " + f.Location)
		}
		b.WriteString("\n")
		if msg := f.Message; msg != "" {
			if len(msg) > MaxFailureMessageLength {
				msg = msg[:MaxFailureMessageLength] + "..."
			}
			b.WriteString("    " + strings.ReplaceAll(msg, "\n", "\n    ") + "\n")
		}
	}
	return b.String()
}

var (
	testFailRegex = regexp.MustCompile(`^\s*---\s*FAIL:\s*([^\s]+)`)
	testPassRegex = regexp.MustCompile(`^\s*---\s*PASS:`)
	pkgFailRegex  = regexp.MustCompile(`^FAIL\s+([^\s]+)`)
	buildRegex    = regexp.MustCompile(`^#\s+([^\s]+)`)
	locationRegex = regexp.MustCompile(`^\s+([^\s:]+\.go):(\d+):\s*(.*)$`)
	panicRegex    = regexp.MustCompile(`^panic:`)
)

// ParseGoTest extracts failing tests from `go test` output. Failures are
// attributed to the package named on the FAIL line that closes them. A test
// name is counted once per package.
func ParseGoTest(output string) *TestReport {
	report := &TestReport{Raw: output}
	// seen holds the names failing in the package block still open.
	seen := make(map[string]bool)
	current := -1
	pending := 0 // first failure not yet attributed to a package

	for _, line := range strings.Split(output, "\n") {
		switch {
		case testPassRegex.MatchString(line):
			report.Passed++
			current = -1

		case testFailRegex.MatchString(line):
			name := testFailRegex.FindStringSubmatch(line)[1]
			if seen[name] {
				current = -1
				continue
			}
			seen[name] = true
			report.Failures = append(report.Failures, Failure{Name: name})
			current = len(report.Failures) - 1

		case panicRegex.MatchString(line):
			if current >= 0 {
				report.Failures[current].Panic = true
				appendMessage(&report.Failures[current], strings.TrimSpace(line))
			}

		case buildRegex.MatchString(line):
			report.BuildFailed = true
			current = -1

		case pkgFailRegex.MatchString(line):
			pkg := pkgFailRegex.FindStringSubmatch(line)[1]
			for i := pending; i < len(report.Failures); i++ {
				report.Failures[i].Package = pkg
			}
			pending = len(report.Failures)
			seen = make(map[string]bool)
			current = -1

		case current >= 0 && locationRegex.MatchString(line):
			m := locationRegex.FindStringSubmatch(line)
			f := &report.Failures[current]
			if f.Location == "" {
				f.Location = m[1] + ":" + m[2]
			}
			appendMessage(f, m[3])

		case current >= 0 && (strings.HasPrefix(line, "\t") || strings.HasPrefix(line, "    ")):
			appendMessage(&report.Failures[current], strings.TrimSpace(line))

		default:
			if strings.TrimSpace(line) == "" {
				current = -1
			}
		}
	}
	report.Failures = leaves(report.Failures)
	return report
}

// leaves drops parent tests whose failure is explained by a failing subtest.
func leaves(failures []Failure) []Failure {
	var out []Failure
	for _, f := range failures {
		parent := false
		for _, other := range failures {
			if other.Package == f.Package && strings.HasPrefix(other.Name, f.Name+"/") {
				parent = true
				break
			}
		}
		if !parent {
			out = append(out, f)
		}
	}
	return out
}

func appendMessage(f *Failure, msg string) {
	if msg == "" {
		return
	}
	if f.Message != "" {
		f.Message += "\n"
	}
	f.Message += msg
}
