package solver

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bofitdev/bofit/internal/config"
	"github.com/bofitdev/bofit/internal/errors"
	"github.com/bofitdev/bofit/internal/searchspace"
)

// fakeSolver writes a shell script that doubles the sweep value from its
// input file into result.dat.
func fakeSolver(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "solver.sh")
	script := `#!/bin/sh
h=$(awk -F' = ' '$1 == "H" {print $2}' "$1")
echo "field $h" >&2
awk "BEGIN {print $h * 2}" > result.dat
`
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}

func failingSolver(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "solver.sh")
	script := "#!/bin/sh\necho broken >&2\nexit 3\n"
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}

func testCandidate(t *testing.T) searchspace.Candidate {
	t.Helper()
	space, err := searchspace.New([]searchspace.ParameterSpec{
		{Name: "J1", Min: 0, Max: 1, Points: 3},
	})
	require.NoError(t, err)
	cand, err := space.Decode(1)
	require.NoError(t, err)
	return cand
}

func TestEvaluate(t *testing.T) {
	inv := New(config.Solver{
		Command:    fakeSolver(t),
		SweepParam: "H",
		Workers:    1,
		Fixed:      map[string]float64{"twoS": 1},
	}, nil)

	dir := filepath.Join(t.TempDir(), "iter_0001")
	got, err := inv.Evaluate(context.Background(), dir, testCandidate(t), []float64{0, 0.5, 1})
	require.NoError(t, err)

	require.Len(t, got, 3)
	assert.Equal(t, 0.0, got[0].Value)
	assert.InDelta(t, 1.0, got[1].Value, 1e-9)
	assert.InDelta(t, 2.0, got[2].Value, 1e-9)

	// Permanent point dirs hold the input, result and transcript.
	for _, name := range []string{"point_000", "point_001", "point_002"} {
		for _, file := range []string{"input.in", "result.dat", "solver.log"} {
			_, err := os.Stat(filepath.Join(dir, name, file))
			assert.NoError(t, err, "%s/%s", name, file)
		}
	}

	input, err := os.ReadFile(filepath.Join(dir, "point_001", "input.in"))
	require.NoError(t, err)
	assert.Equal(t, "twoS = 1\nJ1 = 0.5\nH = 0.5\n", string(input))
}

func TestEvaluateParallelMatchesSequential(t *testing.T) {
	sweeps := []float64{0, 0.25, 0.5, 0.75, 1}
	cand := testCandidate(t)
	cmd := fakeSolver(t)

	seq := New(config.Solver{Command: cmd, SweepParam: "H", Workers: 1}, nil)
	par := New(config.Solver{Command: cmd, SweepParam: "H", Workers: 3}, nil)

	seqCurve, err := seq.Evaluate(context.Background(), filepath.Join(t.TempDir(), "s"), cand, sweeps)
	require.NoError(t, err)
	parCurve, err := par.Evaluate(context.Background(), filepath.Join(t.TempDir(), "p"), cand, sweeps)
	require.NoError(t, err)

	assert.Equal(t, seqCurve, parCurve)
}

func TestEvaluateSolverFailure(t *testing.T) {
	inv := New(config.Solver{Command: failingSolver(t), SweepParam: "H", Workers: 1}, nil)

	dir := filepath.Join(t.TempDir(), "iter")
	_, err := inv.Evaluate(context.Background(), dir, testCandidate(t), []float64{0.5})
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindSolver))
	assert.Contains(t, err.Error(), "candidate 1")
	assert.Contains(t, err.Error(), "sweep point 0.5")

	// The transient work dir is cleaned up on failure.
	_, statErr := os.Stat(filepath.Join(dir, "work_000"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestEvaluateKeepWork(t *testing.T) {
	inv := New(config.Solver{Command: failingSolver(t), SweepParam: "H", Workers: 1, KeepWork: true}, nil)

	dir := filepath.Join(t.TempDir(), "iter")
	_, err := inv.Evaluate(context.Background(), dir, testCandidate(t), []float64{0.5})
	require.Error(t, err)

	_, statErr := os.Stat(filepath.Join(dir, "work_000", "solver.log"))
	assert.NoError(t, statErr)
}

func TestEvaluateUnparsableResult(t *testing.T) {
	path := filepath.Join(t.TempDir(), "solver.sh")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\necho nonsense > result.dat\n"), 0o755))

	inv := New(config.Solver{Command: path, SweepParam: "H", Workers: 1}, nil)
	_, err := inv.Evaluate(context.Background(), t.TempDir(), testCandidate(t), []float64{1})
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindSolver))
}

func TestEvaluateCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	inv := New(config.Solver{Command: fakeSolver(t), SweepParam: "H", Workers: 1}, nil)
	_, err := inv.Evaluate(ctx, t.TempDir(), testCandidate(t), []float64{0, 1})
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindSolver))
}

func TestEvaluateNoSweeps(t *testing.T) {
	inv := New(config.Solver{Command: "true", SweepParam: "H", Workers: 1}, nil)
	_, err := inv.Evaluate(context.Background(), t.TempDir(), testCandidate(t), nil)
	require.Error(t, err)
}
