package bayesian

import (
	"math"
	"math/rand"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"

	"github.com/bofitdev/bofit/internal/errors"
	"github.com/bofitdev/bofit/internal/optimization"
	"github.com/bofitdev/bofit/internal/optimization/acquisition"
	"github.com/bofitdev/bofit/internal/optimization/kernels"
)

const defaultNoiseVar = 1e-6

// lengthScaleFactors are the multipliers of the base length scale tried
// during hyperparameter retraining.
var lengthScaleFactors = []float64{0.1, 0.2, 0.5, 1, 2, 5, 10}

// GridOptimizer proposes action indices over a fixed discrete candidate grid
// using a Gaussian-process surrogate. Proposals are deterministic given the
// seed and the sequence of observations told so far.
type GridOptimizer struct {
	grid [][]float64
	cfg  optimization.Config

	kernel    kernels.Kernel
	baseScale float64

	indices  []int
	scores   []float64
	explored map[int]bool

	logger *zap.Logger
}

// NewGridOptimizer creates an optimizer over the given grid. Row i of the
// grid is the parameter vector for action index i.
func NewGridOptimizer(grid [][]float64, cfg optimization.Config, logger *zap.Logger) (*GridOptimizer, error) {
	if len(grid) == 0 {
		return nil, errors.New(errors.KindConfig, "candidate grid is empty")
	}
	switch cfg.Acquisition {
	case "TS", "EI", "PI":
	default:
		return nil, errors.Newf(errors.KindConfig, "unknown acquisition %q", cfg.Acquisition)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	base := baseLengthScale(grid)
	return &GridOptimizer{
		grid:      grid,
		cfg:       cfg,
		kernel:    kernels.NewRBF(base, 1.0),
		baseScale: base,
		explored:  make(map[int]bool),
		logger:    logger.Named("optimizer"),
	}, nil
}

// baseLengthScale picks an initial RBF length scale from the grid extent:
// a quarter of the diagonal of the bounding box, floored to keep the kernel
// well defined for degenerate single-point grids.
func baseLengthScale(grid [][]float64) float64 {
	d := len(grid[0])
	lo := make([]float64, d)
	hi := make([]float64, d)
	copy(lo, grid[0])
	copy(hi, grid[0])
	for _, row := range grid {
		for j, v := range row {
			lo[j] = math.Min(lo[j], v)
			hi[j] = math.Max(hi[j], v)
		}
	}
	sum := 0.0
	for j := range lo {
		span := hi[j] - lo[j]
		sum += span * span
	}
	scale := math.Sqrt(sum) / 4
	if scale <= 0 {
		scale = 1
	}
	return scale
}

// askRNG derives the rng for one proposal from the seed and the number of
// observations, so a replayed Tell sequence reproduces identical proposals.
func (o *GridOptimizer) askRNG() *rand.Rand {
	return rand.New(rand.NewSource(o.cfg.Seed + int64(len(o.indices))*0x9e3779b9))
}

// Ask proposes the next action index. With no observations yet it draws a
// uniform unexplored index; otherwise it scores unexplored candidates with
// the configured acquisition and returns the argmax.
func (o *GridOptimizer) Ask() (int, error) {
	remaining := o.unexplored()
	if len(remaining) == 0 {
		return 0, errors.New(errors.KindConfig, "candidate grid is exhausted")
	}
	rng := o.askRNG()
	if len(o.indices) == 0 {
		return remaining[rng.Intn(len(remaining))], nil
	}

	if o.cfg.MaxCandidates > 0 && len(remaining) > o.cfg.MaxCandidates {
		rng.Shuffle(len(remaining), func(i, j int) {
			remaining[i], remaining[j] = remaining[j], remaining[i]
		})
		remaining = remaining[:o.cfg.MaxCandidates]
	}

	gp, offset, err := o.fitSurrogate()
	if err != nil {
		return 0, err
	}

	x := o.rows(remaining)
	var scores []float64
	switch o.cfg.Acquisition {
	case "TS":
		scores, err = gp.Sample(x, rng)
	case "EI", "PI":
		var mean, variance []float64
		mean, variance, err = gp.Predict(x)
		if err != nil {
			break
		}
		best := o.bestScore() - offset
		var fn acquisition.Function
		if o.cfg.Acquisition == "EI" {
			fn = acquisition.ExpectedImprovement{}
		} else {
			fn = acquisition.ProbabilityOfImprovement{}
		}
		scores = make([]float64, len(mean))
		for i := range mean {
			scores[i] = fn.Compute(mean[i], math.Sqrt(variance[i]), best)
		}
	}
	if err != nil {
		return 0, err
	}

	bestPos := 0
	for i, s := range scores {
		if s > scores[bestPos] {
			bestPos = i
		}
	}
	o.logger.Debug("proposed candidate",
		zap.Int("index", remaining[bestPos]),
		zap.String("acquisition", o.cfg.Acquisition),
		zap.Int("scored", len(remaining)))
	return remaining[bestPos], nil
}

// Tell records the observed score for an action index.
func (o *GridOptimizer) Tell(index int, score float64) error {
	if index < 0 || index >= len(o.grid) {
		return errors.Newf(errors.KindConfig, "action index %d outside [0, %d)", index, len(o.grid))
	}
	if o.explored[index] {
		return errors.Newf(errors.KindConfig, "action index %d already observed", index)
	}
	o.indices = append(o.indices, index)
	o.scores = append(o.scores, score)
	o.explored[index] = true
	return nil
}

// Train refits the kernel length scale by maximizing the log marginal
// likelihood over a fixed factor grid. A no-op below two observations.
func (o *GridOptimizer) Train() error {
	if len(o.indices) < 2 {
		return nil
	}
	x := o.rows(o.indices)
	y, _ := o.centered()

	signalVar := o.kernel.Hyperparameters()[1]
	bestScale := o.kernel.Hyperparameters()[0]
	bestLML := math.Inf(-1)
	for _, f := range lengthScaleFactors {
		scale := o.baseScale * f
		gp := NewGP(kernels.NewRBF(scale, signalVar), defaultNoiseVar, o.logger)
		if err := gp.Fit(x, y); err != nil {
			continue
		}
		lml, err := gp.LogMarginalLikelihood()
		if err != nil {
			continue
		}
		if lml > bestLML {
			bestLML = lml
			bestScale = scale
		}
	}
	if math.IsInf(bestLML, -1) {
		return errors.New(errors.KindScore, "hyperparameter training: no candidate fitted")
	}
	o.logger.Debug("retrained kernel",
		zap.Float64("length_scale", bestScale),
		zap.Float64("log_marginal_likelihood", bestLML))
	return o.kernel.SetHyperparameters([]float64{bestScale, signalVar})
}

// Posterior returns the de-centered posterior mean and variance over the
// full candidate grid. Requires at least one observation.
func (o *GridOptimizer) Posterior() ([]float64, []float64, error) {
	if len(o.indices) == 0 {
		return nil, nil, errors.New(errors.KindScore, "no observations")
	}
	gp, offset, err := o.fitSurrogate()
	if err != nil {
		return nil, nil, err
	}
	all := make([]int, len(o.grid))
	for i := range all {
		all[i] = i
	}
	mean, variance, err := gp.Predict(o.rows(all))
	if err != nil {
		return nil, nil, err
	}
	for i := range mean {
		mean[i] += offset
	}
	return mean, variance, nil
}

// Observations returns the number of scores told so far.
func (o *GridOptimizer) Observations() int { return len(o.indices) }

// fitSurrogate conditions a fresh GP on the centered observations and
// returns it with the centering offset.
func (o *GridOptimizer) fitSurrogate() (*GP, float64, error) {
	x := o.rows(o.indices)
	y, offset := o.centered()
	gp := NewGP(o.kernel, defaultNoiseVar, o.logger)
	if err := gp.Fit(x, y); err != nil {
		return nil, 0, err
	}
	return gp, offset, nil
}

// centered returns the observed scores with their mean removed, and the mean.
func (o *GridOptimizer) centered() (*mat.VecDense, float64) {
	mean := 0.0
	for _, s := range o.scores {
		mean += s
	}
	mean /= float64(len(o.scores))
	y := mat.NewVecDense(len(o.scores), nil)
	for i, s := range o.scores {
		y.SetVec(i, s-mean)
	}
	return y, mean
}

func (o *GridOptimizer) bestScore() float64 {
	best := math.Inf(-1)
	for _, s := range o.scores {
		if s > best {
			best = s
		}
	}
	return best
}

func (o *GridOptimizer) unexplored() []int {
	out := make([]int, 0, len(o.grid)-len(o.indices))
	for i := range o.grid {
		if !o.explored[i] {
			out = append(out, i)
		}
	}
	return out
}

func (o *GridOptimizer) rows(indices []int) *mat.Dense {
	d := len(o.grid[0])
	x := mat.NewDense(len(indices), d, nil)
	for i, idx := range indices {
		x.SetRow(i, o.grid[idx])
	}
	return x
}
