package controller

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bofitdev/bofit/internal/config"
	"github.com/bofitdev/bofit/internal/curve"
	"github.com/bofitdev/bofit/internal/errors"
	"github.com/bofitdev/bofit/internal/history"
)

// linearSolver writes a shell script that computes J1 * H, so the best fit
// to a target generated with slope s is the grid point closest to s.
func linearSolver(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "solver.sh")
	script := `#!/bin/sh
j=$(awk -F' = ' '$1 == "J1" {print $2}' "$1")
h=$(awk -F' = ' '$1 == "H" {print $2}' "$1")
awk "BEGIN {print $j * $h}" > result.dat
`
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}

// linearTarget builds a target curve value = slope * sweep over n points.
func linearTarget(n int, step, slope float64) curve.Curve {
	out := make(curve.Curve, n)
	for i := range out {
		h := float64(i) * step
		out[i] = curve.Point{Sweep: h, Value: slope * h}
	}
	return out
}

func testConfig(t *testing.T, solverCmd, runDir string, maxItr int) config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Search.MaxItr = maxItr
	cfg.Search.Params = []config.Param{{Name: "J1", Min: 0, Max: 1, Points: 21}}
	cfg.Solver.Command = solverCmd
	cfg.Paths.TargetCSV = "unused.csv"
	cfg.Paths.RunDir = runDir
	require.NoError(t, cfg.Validate())
	return cfg
}

func runOnce(t *testing.T, cfg config.Config, target curve.Curve) *Controller {
	t.Helper()
	c, err := New(cfg, target, nil)
	require.NoError(t, err)
	require.NoError(t, c.Run(context.Background()))
	return c
}

func TestRunEndToEnd(t *testing.T) {
	target := linearTarget(61, 0.05, 0.6)
	runDir := filepath.Join(t.TempDir(), "run")
	cfg := testConfig(t, linearSolver(t), runDir, 5)

	c := runOnce(t, cfg, target)

	records, err := history.ReadHistory(runDir)
	require.NoError(t, err)
	require.Len(t, records, 5)

	// Iterations 1..3 are seeded-random, the rest Bayesian.
	for i, rec := range records {
		assert.Equal(t, i+1, rec.Iteration)
		if rec.Iteration <= 3 {
			assert.Equal(t, ModeRandom, rec.Mode, "iteration %d", rec.Iteration)
		} else {
			assert.Equal(t, ModeBayesian, rec.Mode, "iteration %d", rec.Iteration)
		}
	}

	// The final best equals the maximum of the recorded scores.
	maxScore := records[0].Score
	for _, rec := range records {
		if rec.Score > maxScore {
			maxScore = rec.Score
		}
	}
	assert.Equal(t, maxScore, c.Best().Score)
	assert.True(t, c.Best().Valid)

	// best.csv is non-decreasing.
	data, err := os.ReadFile(filepath.Join(runDir, "best.csv"))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 5)
	prev := -1e18
	for _, line := range lines {
		var iter int
		var best float64
		_, err := fmt.Sscanf(line, "%d,%g", &iter, &best)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, best, prev)
		prev = best
	}

	// Solver artifacts exist for every recorded iteration.
	for _, rec := range records {
		dir := filepath.Join(runDir, fmt.Sprintf("iter_%04d", rec.Iteration))
		_, err := os.Stat(filepath.Join(dir, "curve.csv"))
		assert.NoError(t, err)
		_, err = os.Stat(filepath.Join(dir, "point_000", "result.dat"))
		assert.NoError(t, err)
	}
}

func TestResumeEqualsUninterrupted(t *testing.T) {
	target := linearTarget(5, 0.25, 0.6)
	cmd := linearSolver(t)

	// Uninterrupted reference run.
	refDir := filepath.Join(t.TempDir(), "ref")
	ref := runOnce(t, testConfig(t, cmd, refDir, 6), target)

	// Interrupted run: stop after 2 iterations, then continue to 6.
	resDir := filepath.Join(t.TempDir(), "res")
	runOnce(t, testConfig(t, cmd, resDir, 2), target)
	res := runOnce(t, testConfig(t, cmd, resDir, 6), target)

	refHist, err := history.ReadHistory(refDir)
	require.NoError(t, err)
	resHist, err := history.ReadHistory(resDir)
	require.NoError(t, err)
	require.Len(t, resHist, len(refHist))

	for i := range refHist {
		assert.Equal(t, refHist[i].Index, resHist[i].Index, "record %d", i)
		assert.InDelta(t, refHist[i].Score, resHist[i].Score, 1e-12, "record %d", i)
	}
	assert.Equal(t, ref.Best().Index, res.Best().Index)
	assert.InDelta(t, ref.Best().Score, res.Best().Score, 1e-12)
}

func TestSolverFailureKeepsPriorRecords(t *testing.T) {
	target := linearTarget(5, 0.25, 0.6)
	runDir := filepath.Join(t.TempDir(), "run")

	runOnce(t, testConfig(t, linearSolver(t), runDir, 2), target)

	failing := filepath.Join(t.TempDir(), "fail.sh")
	require.NoError(t, os.WriteFile(failing, []byte("#!/bin/sh\nexit 1\n"), 0o755))

	c, err := New(testConfig(t, failing, runDir, 4), target, nil)
	require.NoError(t, err)
	err = c.Run(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindSolver))
	assert.Contains(t, err.Error(), "iteration 3")

	records, err := history.ReadHistory(runDir)
	require.NoError(t, err)
	assert.Len(t, records, 2, "no partial record for the failed iteration")
}

func TestMaxItrBoundedByGrid(t *testing.T) {
	cfg := testConfig(t, "true", t.TempDir(), 5)
	cfg.Search.MaxItr = 22 // grid has 21 points

	_, err := New(cfg, linearTarget(3, 0.5, 1), nil)
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindConfig))
}

func TestMaxItrCountsProbes(t *testing.T) {
	cfg := testConfig(t, "true", t.TempDir(), 11)
	cfg.Search.NumSearchEachProbe = 2 // 22 evaluations on a 21-point grid

	_, err := New(cfg, linearTarget(3, 0.5, 1), nil)
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindConfig))
	assert.Contains(t, err.Error(), "22 evaluations")
}

func TestObserverSeesProgress(t *testing.T) {
	target := linearTarget(3, 0.5, 0.6)
	runDir := filepath.Join(t.TempDir(), "run")

	c, err := New(testConfig(t, linearSolver(t), runDir, 4), target, nil)
	require.NoError(t, err)

	var states []State
	c.Observer = func(s State) { states = append(states, s) }
	require.NoError(t, c.Run(context.Background()))

	require.Len(t, states, 4)
	assert.Equal(t, 1, states[0].Iteration)
	assert.Equal(t, ModeRandom, states[0].Mode)
	assert.Equal(t, ModeBayesian, states[3].Mode)
	assert.Equal(t, 4, states[3].Records)
	assert.True(t, states[3].Best.Valid)
	assert.NotEmpty(t, states[3].RunUUID)
}

func TestBestTieBreak(t *testing.T) {
	invalid := Best{Score: -1}
	assert.True(t, invalid.improves(-5, config.TieBreakEarliest))

	b := Best{Score: -2, Iteration: 1, Valid: true}
	assert.True(t, b.improves(-1, config.TieBreakEarliest))
	assert.False(t, b.improves(-3, config.TieBreakLatest))

	assert.False(t, b.improves(-2, config.TieBreakEarliest), "earliest keeps the incumbent on a tie")
	assert.True(t, b.improves(-2, config.TieBreakLatest), "latest takes over on a tie")
}

func TestCanceledContextStopsRun(t *testing.T) {
	target := linearTarget(3, 0.5, 0.6)
	c, err := New(testConfig(t, linearSolver(t), filepath.Join(t.TempDir(), "run"), 3), target, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = c.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.False(t, errors.IsKind(err, errors.KindSolver), "cancellation is not a solver failure")
}
