package collab

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gateflow/internal/config"
	"gateflow/pkg/types"
)

const failingOutput = `=== RUN   TestAdd
--- FAIL: TestAdd (0.00s)
    calc_test.go:10: Expected 3, got 0
=== RUN   TestSub
--- PASS: TestSub (0.00s)
=== RUN   TestDiv
=== RUN   TestDiv/by_zero
=== RUN   TestDiv/by_one
--- FAIL: TestDiv (0.00s)
    --- FAIL: TestDiv/by_zero (0.00s)
        calc_test.go:31: expected error
    --- FAIL: TestDiv/by_one (0.00s)
        calc_test.go:31: expected 4
FAIL
FAIL	example.com/calc	0.012s
ok  	example.com/other	0.003s`

func quiet() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestParseGoTest(t *testing.T) {
	t.Run("failures", func(t *testing.T) {
		r := ParseGoTest(failingOutput)

		require.Equal(t, 3, r.FailingTestCount())
		names := []string{r.Failures[0].Name, r.Failures[1].Name, r.Failures[2].Name}
		assert.Equal(t, []string{"TestAdd", "TestDiv/by_zero", "TestDiv/by_one"}, names)
		assert.Equal(t, "calc_test.go:10", r.Failures[0].Location)
		assert.Equal(t, "Expected 3, got 0", r.Failures[0].Message)
		assert.Equal(t, "example.com/calc", r.Failures[1].Package)
		assert.Equal(t, 1, r.Passed)
		assert.False(t, r.BuildFailed)
	})

	t.Run("all passing", func(t *testing.T) {
		r := ParseGoTest("--- PASS: TestA (0.00s)\n--- PASS: TestB (0.00s)\nPASS\nok  \tpkg\t0.1s\n")
		assert.Zero(t, r.FailingTestCount())
		assert.Equal(t, 2, r.Passed)
		assert.Equal(t, "all 2 tests passed", r.Summary())
	})

	t.Run("panic", func(t *testing.T) {
		r := ParseGoTest("--- FAIL: TestBoom (0.00s)\npanic: runtime error: index out of range [recovered]\n")
		require.Equal(t, 1, r.FailingTestCount())
		assert.True(t, r.Failures[0].Panic)
		assert.Contains(t, r.Summary(), "[PANIC]")
	})

	t.Run("build failure", func(t *testing.T) {
		r := ParseGoTest("# example.com/calc\n./calc.go:3:1: syntax error\nFAIL\texample.com/calc [build failed]\n")
		assert.Zero(t, r.FailingTestCount())
		assert.True(t, r.BuildFailed)
		assert.Equal(t, "build failed, no tests ran", r.Summary())
	})

	t.Run("repeated names count once", func(t *testing.T) {
		r := ParseGoTest("--- FAIL: TestA (0.00s)\n--- FAIL: TestA (0.00s)\n")
		assert.Equal(t, 1, r.FailingTestCount())
	})

	t.Run("same name in two packages counts twice", func(t *testing.T) {
		out := "--- FAIL: TestFoo (0.00s)\n    a_test.go:5: broken\nFAIL\nFAIL\texample.com/a\t0.01s\n" +
			"--- FAIL: TestFoo (0.00s)\n    b_test.go:7: broken\nFAIL\nFAIL\texample.com/b\t0.01s\n"
		r := ParseGoTest(out)
		require.Equal(t, 2, r.FailingTestCount())
		assert.Equal(t, "example.com/a", r.Failures[0].Package)
		assert.Equal(t, "example.com/b", r.Failures[1].Package)
		assert.Equal(t, "b_test.go:7", r.Failures[1].Location)
	})

	t.Run("subtest in another package keeps the parent", func(t *testing.T) {
		out := "--- FAIL: TestFoo (0.00s)\nFAIL\texample.com/a\t0.01s\n" +
			"--- FAIL: TestFoo (0.00s)\n    --- FAIL: TestFoo/case (0.00s)\nFAIL\texample.com/b\t0.01s\n"
		r := ParseGoTest(out)
		require.Equal(t, 2, r.FailingTestCount())
		assert.Equal(t, "TestFoo", r.Failures[0].Name)
		assert.Equal(t, "TestFoo/case", r.Failures[1].Name)
	})

	t.Run("nil report", func(t *testing.T) {
		var r *TestReport
		assert.Zero(t, r.FailingTestCount())
	})
}

func TestCommandTestGenerator(t *testing.T) {
	exitErr := errors.New("exit status 1")

	tests := []struct {
		name    string
		output  string
		runErr  error
		failing int
		wantErr bool
	}{
		{name: "failing tests with non-zero exit", output: failingOutput, runErr: exitErr, failing: 3},
		{name: "passing tests", output: "--- PASS: TestA (0.00s)\nok  \tpkg\t0.1s\n", failing: 0},
		{name: "build failure", output: "# pkg\nsyntax error\n", runErr: exitErr, wantErr: true},
		{name: "missing binary", runErr: errors.New("executable file not found"), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := NewCommandTestGenerator("go test ./...", quiet())
			g.Runner = func(context.Context, string) (string, error) {
				return tt.output, tt.runErr
			}

			r, err := g.Generate(context.Background())
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, tt.runErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.failing, r.FailingTestCount())
			assert.Equal(t, "go test ./...", r.Command)
		})
	}

	t.Run("no command", func(t *testing.T) {
		_, err := NewCommandTestGenerator(" ", quiet()).Generate(context.Background())
		assert.Error(t, err)
	})
}

func TestScriptRunner(t *testing.T) {
	out, err := ScriptRunner(context.Background(), "echo hello")
	require.NoError(t, err)
	assert.Equal(t, "hello", strings.TrimSpace(out))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = ScriptRunner(ctx, "echo hello")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestScriptRunner_ReturnsOnDeadline(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := ScriptRunner(ctx, "sleep 5")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestCommandStep(t *testing.T) {
	ctx := context.Background()

	t.Run("success", func(t *testing.T) {
		step := CommandStep("go vet ./...", func(_ context.Context, cmd string) (string, error) {
			return "vet ok for " + cmd, nil
		})
		res, err := step(ctx)
		require.NoError(t, err)
		assert.Equal(t, CommandOutput{Command: "go vet ./...", Output: "vet ok for go vet ./..."}, res)
	})

	t.Run("failure carries output", func(t *testing.T) {
		step := CommandStep("lint", func(context.Context, string) (string, error) {
			return "main.go:1: unused variable\n", errors.New("exit status 1")
		})
		_, err := step(ctx)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unused variable")
	})

	t.Run("empty command is a no-op", func(t *testing.T) {
		called := false
		step := CommandStep("", func(context.Context, string) (string, error) {
			called = true
			return "", nil
		})
		_, err := step(ctx)
		require.NoError(t, err)
		assert.False(t, called)
	})
}

func TestPhaseCommand(t *testing.T) {
	cmds := config.CommandsConfig{Test: "t", Lint: "l", Docs: "d", Release: "r"}

	assert.Equal(t, "", PhaseCommand(cmds, types.PhasePlanning))
	assert.Equal(t, "t", PhaseCommand(cmds, types.PhaseTestGeneration))
	assert.Equal(t, "t", PhaseCommand(cmds, types.PhaseImplementation))
	assert.Equal(t, "l", PhaseCommand(cmds, types.PhaseReview))
	assert.Equal(t, "d", PhaseCommand(cmds, types.PhaseDocumentation))
	assert.Equal(t, "r", PhaseCommand(cmds, types.PhaseRelease))
}

func TestPhaseWork(t *testing.T) {
	work := PhaseWork(config.CommandsConfig{Test: "echo '--- FAIL: TestPending'"}, quiet())

	res, err := work(types.PhaseTestGeneration)(context.Background())
	require.NoError(t, err)
	report, ok := res.(*TestReport)
	require.True(t, ok)
	assert.Equal(t, 1, report.FailingTestCount())

	res, err = work(types.PhasePlanning)(context.Background())
	require.NoError(t, err)
	assert.Equal(t, CommandOutput{}, res)
}
