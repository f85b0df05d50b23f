package verifier

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/louannemur/agent-orchestrator-sub000/pkg/models"
)

// GoChecker runs the syntax and types stages for a Go module as two
// separate commands. The syntax stage attempts a non-emitting build
// (go build -o <devnull> ./...); go build's diagnostics do not distinguish
// syntax errors from type errors, so a type error fails this stage too. The
// types stage then runs go vet ./..., which also type-checks the packages;
// go vet's own analyzer findings fail the types stage as well.
type GoChecker struct {
	goBin string
}

// NewGoChecker constructs a GoChecker. goBin overrides the "go" executable
// name/path; empty uses "go" from PATH.
func NewGoChecker(goBin string) *GoChecker {
	if goBin == "" {
		goBin = "go"
	}
	return &GoChecker{goBin: goBin}
}

func (c *GoChecker) Name() string { return "go" }

func (c *GoChecker) Detect(workingDir string) bool {
	_, err := os.Stat(filepath.Join(workingDir, "go.mod"))
	return err == nil
}

// goDiagnostic matches a compiler/vet line of the form "file.go:12:5: message".
var goDiagnostic = regexp.MustCompile(`^(.+\.go):(\d+)(?::(\d+))?: (.+)$`)

func (c *GoChecker) CheckSyntax(ctx context.Context, workingDir string) (bool, []models.VerificationFailure, error) {
	out, err := runGo(ctx, c.goBin, workingDir, "build", "-o", os.DevNull, "./...")
	if err == nil {
		return true, nil, nil
	}
	var exitErr *exec.ExitError
	if !isExecExitError(err, &exitErr) {
		return false, nil, fmt.Errorf("run go build: %w", err)
	}
	return false, parseGoDiagnostics(out, "syntax"), nil
}

func (c *GoChecker) CheckTypes(ctx context.Context, workingDir string) (bool, []models.VerificationFailure, error) {
	out, err := runGo(ctx, c.goBin, workingDir, "vet", "./...")
	if err == nil {
		return true, nil, nil
	}
	var exitErr *exec.ExitError
	if !isExecExitError(err, &exitErr) {
		return false, nil, fmt.Errorf("run go vet: %w", err)
	}
	return false, parseGoDiagnostics(out, "types"), nil
}

func runGo(ctx context.Context, goBin, workingDir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, goBin, args...)
	cmd.Dir = workingDir
	out, err := cmd.CombinedOutput()
	return string(out), err
}

func parseGoDiagnostics(output, check string) []models.VerificationFailure {
	var failures []models.VerificationFailure
	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		line := scanner.Text()
		m := goDiagnostic.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		file := m[1]
		lineNo, _ := strconv.Atoi(m[2])
		failures = append(failures, models.VerificationFailure{
			Check:   check,
			Message: m[4],
			File:    &file,
			Line:    &lineNo,
		})
	}
	if len(failures) == 0 && strings.TrimSpace(output) != "" {
		// Build failed but produced no line-addressable diagnostic (e.g. a
		// module resolution error); still surface it as one failure.
		failures = append(failures, models.VerificationFailure{Check: check, Message: strings.TrimSpace(output)})
	}
	return failures
}

// GolangciLintLinter runs golangci-lint's JSON output format, used when a
// project carries a .golangci.yml/.golangci.yaml config file.
type GolangciLintLinter struct {
	bin string
}

// NewGolangciLintLinter constructs a GolangciLintLinter. bin overrides the
// "golangci-lint" executable name/path; empty uses "golangci-lint" from PATH.
func NewGolangciLintLinter(bin string) *GolangciLintLinter {
	if bin == "" {
		bin = "golangci-lint"
	}
	return &GolangciLintLinter{bin: bin}
}

func (l *GolangciLintLinter) Name() string { return "golangci-lint" }

func (l *GolangciLintLinter) Detect(workingDir string) bool {
	for _, name := range []string{".golangci.yml", ".golangci.yaml"} {
		if _, err := os.Stat(filepath.Join(workingDir, name)); err == nil {
			return true
		}
	}
	return false
}

type golangciReport struct {
	Issues []struct {
		FromLinter string `json:"FromLinter"`
		Text       string `json:"Text"`
		Severity   string `json:"Severity"`
		Pos        struct {
			Filename string `json:"Filename"`
			Line     int    `json:"Line"`
		} `json:"Pos"`
	} `json:"Issues"`
}

func (l *GolangciLintLinter) Lint(ctx context.Context, workingDir string) (bool, []models.VerificationFailure, error) {
	cmd := exec.CommandContext(ctx, l.bin, "run", "--out-format", "json", "./...")
	cmd.Dir = workingDir
	out, _ := cmd.Output() // golangci-lint exits non-zero whenever it finds issues

	var report golangciReport
	if err := json.Unmarshal(out, &report); err != nil {
		return false, nil, fmt.Errorf("decode golangci-lint report: %w", err)
	}

	var failures []models.VerificationFailure
	for _, issue := range report.Issues {
		if issue.Severity != "" && issue.Severity != "error" {
			continue // keep only severity=error records, per spec.md §4.3
		}
		file := issue.Pos.Filename
		line := issue.Pos.Line
		failures = append(failures, models.VerificationFailure{
			Check:   "lint",
			Message: fmt.Sprintf("%s: %s", issue.FromLinter, issue.Text),
			File:    &file,
			Line:    &line,
		})
	}
	return len(failures) == 0, failures, nil
}

// GoTestRunner runs `go test -json` and parses the newline-delimited test2json
// event stream for pass/fail totals.
type GoTestRunner struct {
	goBin string
}

// NewGoTestRunner constructs a GoTestRunner. goBin overrides the "go"
// executable name/path; empty uses "go" from PATH.
func NewGoTestRunner(goBin string) *GoTestRunner {
	if goBin == "" {
		goBin = "go"
	}
	return &GoTestRunner{goBin: goBin}
}

func (r *GoTestRunner) Name() string { return "go test" }

func (r *GoTestRunner) Detect(workingDir string) bool {
	_, err := os.Stat(filepath.Join(workingDir, "go.mod"))
	return err == nil
}

type goTestEvent struct {
	Action  string `json:"Action"`
	Package string `json:"Package"`
	Test    string `json:"Test"`
	Output  string `json:"Output"`
}

func (r *GoTestRunner) RunTests(ctx context.Context, workingDir string, budget time.Duration) (TestReport, error) {
	cmd := exec.CommandContext(ctx, r.goBin, "test", "-json", fmt.Sprintf("-timeout=%s", budget), "./...")
	cmd.Dir = workingDir
	out, _ := cmd.Output() // go test exits non-zero on any test failure

	var report TestReport
	scanner := bufio.NewScanner(strings.NewReader(string(out)))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		var ev goTestEvent
		if err := json.Unmarshal(scanner.Bytes(), &ev); err != nil {
			continue // non-JSON line; go test -json can interleave raw build output
		}
		if ev.Test == "" {
			continue // package-level event, not an individual test result
		}
		switch ev.Action {
		case "pass":
			report.Total++
		case "fail":
			report.Total++
			report.Failed++
			pkg, test := ev.Package, ev.Test
			report.Failures = append(report.Failures, models.VerificationFailure{
				Check:   "tests",
				Message: fmt.Sprintf("%s: %s failed", pkg, test),
			})
		}
	}
	if ctx.Err() != nil {
		return report, fmt.Errorf("test run exceeded %s budget: %w", budget, ctx.Err())
	}
	return report, nil
}

func isExecExitError(err error, target **exec.ExitError) bool {
	ee, ok := err.(*exec.ExitError)
	if ok {
		*target = ee
	}
	return ok
}
