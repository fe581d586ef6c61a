// Package solver invokes the external numerical solver once per sweep point
// and assembles the resulting curve.
package solver

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/bofitdev/bofit/internal/config"
	"github.com/bofitdev/bofit/internal/curve"
	"github.com/bofitdev/bofit/internal/errors"
	"github.com/bofitdev/bofit/internal/searchspace"
)

const (
	inputFile  = "input.in"
	resultFile = "result.dat"
	logFile    = "solver.log"
)

// Invoker runs the configured solver command for each sweep point of a
// candidate and parses one observable value per run.
type Invoker struct {
	cfg    config.Solver
	logger *zap.Logger
}

// New creates an Invoker. A nil logger disables logging.
func New(cfg config.Solver, logger *zap.Logger) *Invoker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Invoker{cfg: cfg, logger: logger.Named("solver")}
}

// Evaluate runs the solver for every sweep point of the candidate and returns
// the computed curve in sweep order. Artifacts for point i land in
// dir/point_NNN. Any solver failure aborts the whole candidate.
func (inv *Invoker) Evaluate(ctx context.Context, dir string, cand searchspace.Candidate, sweeps []float64) (curve.Curve, error) {
	if len(sweeps) == 0 {
		return nil, errors.New(errors.KindSolver, "no sweep points")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(err, errors.KindSolver, "create iteration dir")
	}

	if inv.cfg.Workers > 1 {
		return inv.evaluateParallel(ctx, dir, cand, sweeps)
	}

	out := make(curve.Curve, len(sweeps))
	for i, sweep := range sweeps {
		value, err := inv.solvePoint(ctx, dir, i, cand, sweep)
		if err != nil {
			return nil, err
		}
		out[i] = curve.Point{Sweep: sweep, Value: value}
	}
	return out, nil
}

// evaluateParallel runs sweep points on a bounded worker pool. Results are
// merged in sweep order; the first failure cancels the remaining points.
func (inv *Invoker) evaluateParallel(ctx context.Context, dir string, cand searchspace.Candidate, sweeps []float64) (curve.Curve, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	out := make(curve.Curve, len(sweeps))
	sem := make(chan struct{}, inv.cfg.Workers)
	var wg sync.WaitGroup
	var mu sync.Mutex
	var firstErr error

	for i, sweep := range sweeps {
		wg.Add(1)
		go func(i int, sweep float64) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				return
			}
			value, err := inv.solvePoint(ctx, dir, i, cand, sweep)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if firstErr == nil {
					firstErr = err
					cancel()
				}
				return
			}
			out[i] = curve.Point{Sweep: sweep, Value: value}
		}(i, sweep)
	}
	wg.Wait()

	if firstErr != nil {
		return nil, firstErr
	}
	if err := ctx.Err(); err != nil {
		return nil, errors.Wrap(err, errors.KindSolver, "evaluation interrupted")
	}
	return out, nil
}

// solvePoint runs one solver invocation in a transient work directory and
// renames it to its permanent point directory on success.
func (inv *Invoker) solvePoint(ctx context.Context, dir string, point int, cand searchspace.Candidate, sweep float64) (float64, error) {
	fail := func(err error, msg string) (float64, error) {
		return 0, errors.Wrapf(err, errors.KindSolver,
			"%s (candidate %d, sweep point %g)", msg, cand.Index, sweep)
	}

	workDir := filepath.Join(dir, fmt.Sprintf("work_%03d", point))
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return fail(err, "create work dir")
	}
	cleanup := true
	defer func() {
		if cleanup && !inv.cfg.KeepWork {
			os.RemoveAll(workDir)
		}
	}()

	if err := inv.writeInput(workDir, cand, sweep); err != nil {
		return fail(err, "write input")
	}

	logF, err := os.Create(filepath.Join(workDir, logFile))
	if err != nil {
		return fail(err, "create solver log")
	}
	defer logF.Close()

	args := append(append([]string{}, inv.cfg.Args...), inputFile)
	cmd := exec.CommandContext(ctx, inv.cfg.Command, args...)
	cmd.Dir = workDir
	cmd.Stdout = logF
	cmd.Stderr = logF

	inv.logger.Debug("running solver",
		zap.Int("candidate", cand.Index),
		zap.Float64("sweep", sweep),
		zap.String("dir", workDir))

	if err := cmd.Run(); err != nil {
		return fail(err, "solver process failed")
	}

	value, err := parseResult(filepath.Join(workDir, resultFile))
	if err != nil {
		return 0, errors.Wrapf(err, errors.KindSolver,
			"parse solver output (candidate %d, sweep point %g)", cand.Index, sweep)
	}

	pointDir := filepath.Join(dir, fmt.Sprintf("point_%03d", point))
	os.RemoveAll(pointDir)
	if err := os.Rename(workDir, pointDir); err != nil {
		return fail(err, "finalize point dir")
	}
	cleanup = false
	return value, nil
}

// writeInput materializes the solver input file: fixed model parameters in
// sorted order, then the candidate parameters, then the sweep variable.
func (inv *Invoker) writeInput(dir string, cand searchspace.Candidate, sweep float64) error {
	var b strings.Builder

	keys := make([]string, 0, len(inv.cfg.Fixed))
	for k := range inv.cfg.Fixed {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "%s = %g\n", k, inv.cfg.Fixed[k])
	}
	for i, name := range cand.Names() {
		fmt.Fprintf(&b, "%s = %g\n", name, cand.Values[i])
	}
	fmt.Fprintf(&b, "%s = %g\n", inv.cfg.SweepParam, sweep)

	return os.WriteFile(filepath.Join(dir, inputFile), []byte(b.String()), 0o644)
}

// parseResult reads the first floating-point token from the solver's result
// file.
func parseResult(path string) (float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open result: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Split(bufio.ScanWords)
	for scanner.Scan() {
		if v, err := strconv.ParseFloat(scanner.Text(), 64); err == nil {
			return v, nil
		}
		return 0, fmt.Errorf("result file %s: first token %q is not a number", path, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return 0, err
	}
	return 0, fmt.Errorf("result file %s is empty", path)
}
