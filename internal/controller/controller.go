// Package controller runs the optimization loop: candidate selection,
// solver evaluation, scoring, feedback and recording, plus resume from a
// prior run directory.
package controller

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/bofitdev/bofit/internal/config"
	"github.com/bofitdev/bofit/internal/curve"
	"github.com/bofitdev/bofit/internal/errors"
	"github.com/bofitdev/bofit/internal/history"
	"github.com/bofitdev/bofit/internal/optimization"
	"github.com/bofitdev/bofit/internal/optimization/bayesian"
	"github.com/bofitdev/bofit/internal/searchspace"
	"github.com/bofitdev/bofit/internal/solver"
)

// Phase names recorded with each score.
const (
	ModeRandom   = "Random"
	ModeBayesian = "BayesianOptimization"
)

// Best is the incumbent: the highest score seen so far.
type Best struct {
	Score     float64
	Index     int
	Iteration int
	Values    []float64
	Valid     bool
}

// improves reports whether a new score takes over the incumbent. Strictly
// greater always wins; whether an equal score displaces the earlier find is
// the configured tie-break policy.
func (b Best) improves(score float64, tieBreak string) bool {
	if !b.Valid || score > b.Score {
		return true
	}
	return score == b.Score && tieBreak == config.TieBreakLatest
}

// State is a point-in-time view of the loop for observers.
type State struct {
	RunUUID   string
	Iteration int
	MaxItr    int
	Mode      string
	Records   int
	Best      Best
}

// Controller owns one run of the search loop.
type Controller struct {
	cfg      config.Config
	space    *searchspace.Space
	target   curve.Curve
	opt      optimization.Optimizer
	invoker  *solver.Invoker
	recorder *history.Recorder
	restart  *history.RestartManager
	logger   *zap.Logger

	// Observer, when set, receives a State snapshot after every iteration.
	Observer func(State)

	rng      *rand.Rand
	explored map[int]bool
	best     Best
	records  int
	meta     history.RunMeta
}

// New wires a controller from the validated configuration and target curve.
func New(cfg config.Config, target curve.Curve, logger *zap.Logger) (*Controller, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	space, err := searchspace.New(cfg.Specs())
	if err != nil {
		return nil, err
	}
	if evals := cfg.Search.MaxItr * cfg.Search.NumSearchEachProbe; evals > space.Size() {
		return nil, errors.Newf(errors.KindConfig,
			"max_itr %d at %d probes per iteration needs %d evaluations but the grid has %d points",
			cfg.Search.MaxItr, cfg.Search.NumSearchEachProbe, evals, space.Size())
	}
	opt, err := bayesian.NewGridOptimizer(space.Grid(), optimization.Config{
		Seed:          cfg.Search.Seed,
		Acquisition:   cfg.Search.Score,
		MaxCandidates: cfg.Search.NumRandBasis,
	}, logger)
	if err != nil {
		return nil, err
	}
	return &Controller{
		cfg:      cfg,
		space:    space,
		target:   target,
		opt:      opt,
		invoker:  solver.New(cfg.Solver, logger),
		recorder: history.NewRecorder(cfg.Paths.RunDir, space, logger),
		restart:  history.NewRestartManager(cfg.Paths.RunDir, space, logger),
		logger:   logger.Named("controller"),
		rng:      rand.New(rand.NewSource(cfg.Search.Seed)),
		explored: make(map[int]bool),
		best:     Best{Score: math.Inf(-1)},
	}, nil
}

// Best returns the incumbent after Run completes.
func (c *Controller) Best() Best { return c.best }

// Run executes the loop until max_itr iterations are recorded or a fatal
// error occurs.
func (c *Controller) Run(ctx context.Context) error {
	state, err := c.restart.Prepare(c.cfg.RestartEnabled(), c.cfg.Search.Seed)
	if err != nil {
		return err
	}

	next := 1
	if state != nil {
		if err := c.replay(state); err != nil {
			return err
		}
		next = state.NextIteration
		c.meta = state.Meta
	} else {
		c.meta = history.NewRunMeta(c.cfg.Search.Seed, c.space.Specs())
	}
	if err := c.recorder.Init(c.meta); err != nil {
		return err
	}

	c.logger.Info("starting run",
		zap.String("uuid", c.meta.UUID),
		zap.Int("grid_size", c.space.Size()),
		zap.Int("from_iteration", next),
		zap.Int("max_itr", c.cfg.Search.MaxItr),
		zap.String("acquisition", c.cfg.Search.Score))

	for iteration := next; iteration <= c.cfg.Search.MaxItr; iteration++ {
		// An external interrupt is not a failure of any component; pass the
		// cancellation through unclassified.
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := c.iterate(ctx, iteration); err != nil {
			return err
		}
		c.maybeTrain(iteration)
		c.observe(iteration)
	}

	c.logger.Info("run finished",
		zap.Int("iterations", c.cfg.Search.MaxItr),
		zap.Float64("best_score", c.best.Score),
		zap.Int("best_index", c.best.Index),
		zap.Int("best_iteration", c.best.Iteration))
	return nil
}

// iterate runs one loop iteration: one candidate per probe.
func (c *Controller) iterate(ctx context.Context, iteration int) error {
	mode := c.mode(iteration)
	for probe := 0; probe < c.cfg.Search.NumSearchEachProbe; probe++ {
		index, err := c.selectCandidate(mode)
		if err != nil {
			return err
		}
		cand, err := c.space.Decode(index)
		if err != nil {
			return err
		}

		evalDir := c.recorder.IterDir(iteration)
		if probe > 0 {
			evalDir = filepath.Join(evalDir, fmt.Sprintf("probe_%02d", probe))
		}

		start := time.Now()
		computed, err := c.invoker.Evaluate(ctx, evalDir, cand, c.target.Sweeps())
		if err != nil {
			return errors.Wrapf(err, errors.KindSolver, "iteration %d", iteration)
		}
		score, err := curve.Score(computed, c.target)
		if err != nil {
			return errors.Wrapf(err, errors.KindScore, "iteration %d", iteration)
		}

		if err := c.opt.Tell(index, score); err != nil {
			return err
		}
		c.explored[index] = true

		isBest := c.best.improves(score, c.cfg.Search.TieBreak)
		if isBest {
			c.best = Best{
				Score:     score,
				Index:     index,
				Iteration: iteration,
				Values:    cand.Values,
				Valid:     true,
			}
		}

		rec := history.ScoreRecord{
			Iteration: iteration,
			Probe:     probe,
			Index:     index,
			Values:    cand.Values,
			Score:     score,
			Best:      isBest,
			Mode:      mode,
			Time:      time.Now().UTC(),
		}
		if err := c.recorder.Record(rec, computed, c.best.Score); err != nil {
			return err
		}
		c.records++

		c.logger.Info("iteration recorded",
			zap.Int("iteration", iteration),
			zap.String("mode", mode),
			zap.Int("index", index),
			zap.Float64("score", score),
			zap.Bool("best", isBest),
			zap.Duration("elapsed", time.Since(start)))
	}
	return nil
}

// mode is a pure function of the iteration number.
func (c *Controller) mode(iteration int) string {
	if iteration <= c.cfg.Search.NumRandom {
		return ModeRandom
	}
	return ModeBayesian
}

func (c *Controller) selectCandidate(mode string) (int, error) {
	if mode == ModeRandom {
		return c.space.RandomIndex(c.rng, c.explored), nil
	}
	return c.opt.Ask()
}

// maybeTrain refits surrogate hyperparameters per the configured interval.
// Zero trains after every Bayesian iteration, negative never trains.
func (c *Controller) maybeTrain(iteration int) {
	if c.mode(iteration) != ModeBayesian || c.cfg.Search.Interval < 0 {
		return
	}
	if c.cfg.Search.Interval > 0 && iteration%c.cfg.Search.Interval != 0 {
		return
	}
	if err := c.opt.Train(); err != nil {
		c.logger.Warn("hyperparameter training failed", zap.Error(err))
	}
}

// replay feeds a resumed run's records back into the optimizer and advances
// the random-phase rng past the draws the prior run already made, so the
// continuation is identical to an uninterrupted run.
func (c *Controller) replay(state *history.ResumeState) error {
	prevIter := 0
	for _, rec := range state.Records {
		if rec.Iteration != prevIter {
			if prevIter > 0 {
				c.maybeTrain(prevIter)
			}
			prevIter = rec.Iteration
		}
		if rec.Mode == ModeRandom {
			c.space.RandomIndex(c.rng, c.explored)
		}
		if err := c.opt.Tell(rec.Index, rec.Score); err != nil {
			return errors.Wrapf(err, errors.KindRestart, "replay iteration %d", rec.Iteration)
		}
		c.explored[rec.Index] = true
		if c.best.improves(rec.Score, c.cfg.Search.TieBreak) {
			c.best = Best{
				Score:     rec.Score,
				Index:     rec.Index,
				Iteration: rec.Iteration,
				Values:    rec.Values,
				Valid:     true,
			}
		}
		c.records++
	}
	if prevIter > 0 {
		c.maybeTrain(prevIter)
	}
	c.recorder.Replay(state.Records)
	c.logger.Info("replayed prior observations", zap.Int("records", len(state.Records)))
	return nil
}

func (c *Controller) observe(iteration int) {
	if c.Observer == nil {
		return
	}
	c.Observer(State{
		RunUUID:   c.meta.UUID,
		Iteration: iteration,
		MaxItr:    c.cfg.Search.MaxItr,
		Mode:      c.mode(iteration),
		Records:   c.records,
		Best:      c.best,
	})
}
