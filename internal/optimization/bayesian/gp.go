// Package bayesian implements the Gaussian-process search engine that drives
// candidate selection over the discrete parameter grid.
package bayesian

import (
	"math"
	"math/rand"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"

	"github.com/bofitdev/bofit/internal/errors"
	"github.com/bofitdev/bofit/internal/optimization/kernels"
)

// GP is a Gaussian-process surrogate with a zero mean function. Callers are
// expected to center their observations before fitting.
type GP struct {
	kernel   kernels.Kernel
	noiseVar float64

	x     *mat.Dense
	y     *mat.VecDense
	chol  *mat.Cholesky
	alpha *mat.VecDense

	logger *zap.Logger
}

// NewGP creates a GP surrogate. A nil logger disables logging.
func NewGP(kernel kernels.Kernel, noiseVar float64, logger *zap.Logger) *GP {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GP{
		kernel:   kernel,
		noiseVar: noiseVar,
		logger:   logger.Named("gp"),
	}
}

// Kernel returns the covariance function the GP was built with.
func (gp *GP) Kernel() kernels.Kernel { return gp.kernel }

// Fit conditions the GP on the training rows of x and targets y.
func (gp *GP) Fit(x *mat.Dense, y *mat.VecDense) error {
	if x == nil || y == nil {
		return errors.New(errors.KindScore, "gp fit: nil training data")
	}
	n, d := x.Dims()
	if n == 0 || d == 0 {
		return errors.New(errors.KindScore, "gp fit: empty training data")
	}
	if n != y.Len() {
		return errors.Newf(errors.KindScore,
			"gp fit: %d training rows but %d targets", n, y.Len())
	}

	k := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		xi := x.RawRowView(i)
		k.SetSym(i, i, gp.kernel.Eval(xi, xi)+gp.noiseVar)
		for j := i + 1; j < n; j++ {
			k.SetSym(i, j, gp.kernel.Eval(xi, x.RawRowView(j)))
		}
	}

	chol, jitter, err := factorize(k)
	if err != nil {
		return err
	}
	if jitter > 0 {
		gp.logger.Debug("added jitter for positive definiteness",
			zap.Float64("jitter", jitter), zap.Int("samples", n))
	}

	alpha := mat.NewVecDense(n, nil)
	if err := chol.SolveVecTo(alpha, y); err != nil {
		return errors.Wrap(err, errors.KindScore, "gp fit: solve for alpha")
	}

	gp.x = mat.DenseCopyOf(x)
	gp.y = mat.VecDenseCopyOf(y)
	gp.chol = chol
	gp.alpha = alpha
	return nil
}

// factorize attempts a Cholesky decomposition, escalating diagonal jitter
// until the matrix is positive definite.
func factorize(k *mat.SymDense) (*mat.Cholesky, float64, error) {
	n, _ := k.Dims()
	jitter := 0.0
	next := 1e-10
	for attempt := 0; attempt < 10; attempt++ {
		var chol mat.Cholesky
		if chol.Factorize(k) {
			return &chol, jitter, nil
		}
		add := next - jitter
		for i := 0; i < n; i++ {
			k.SetSym(i, i, k.At(i, i)+add)
		}
		jitter = next
		next *= 10
	}
	return nil, jitter, errors.New(errors.KindScore,
		"gp fit: kernel matrix is not positive definite")
}

// Predict returns the posterior mean and variance at each row of x.
func (gp *GP) Predict(x *mat.Dense) ([]float64, []float64, error) {
	if gp.chol == nil {
		return nil, nil, errors.New(errors.KindScore, "gp predict: model not fitted")
	}
	nTest, _ := x.Dims()
	nTrain, _ := gp.x.Dims()

	kstar := mat.NewDense(nTest, nTrain, nil)
	kss := make([]float64, nTest)
	for i := 0; i < nTest; i++ {
		xi := x.RawRowView(i)
		kss[i] = gp.kernel.Eval(xi, xi)
		for j := 0; j < nTrain; j++ {
			kstar.Set(i, j, gp.kernel.Eval(xi, gp.x.RawRowView(j)))
		}
	}

	meanVec := mat.NewVecDense(nTest, nil)
	meanVec.MulVec(kstar, gp.alpha)

	// variance_i = k(x_i,x_i) - v_i^T v_i with K v = k*_i
	v := mat.NewDense(nTrain, nTest, nil)
	if err := gp.chol.SolveTo(v, kstar.T()); err != nil {
		return nil, nil, errors.Wrap(err, errors.KindScore, "gp predict: solve")
	}

	mean := make([]float64, nTest)
	variance := make([]float64, nTest)
	for i := 0; i < nTest; i++ {
		sum := 0.0
		for j := 0; j < nTrain; j++ {
			val := v.At(j, i)
			sum += val * val
		}
		mean[i] = meanVec.AtVec(i)
		variance[i] = math.Max(0, kss[i]-sum)
	}
	return mean, variance, nil
}

// Sample draws one realization of the posterior at each row of x, using the
// marginal variance at each point.
func (gp *GP) Sample(x *mat.Dense, rng *rand.Rand) ([]float64, error) {
	mean, variance, err := gp.Predict(x)
	if err != nil {
		return nil, err
	}
	sample := make([]float64, len(mean))
	for i := range mean {
		sample[i] = mean[i] + math.Sqrt(variance[i])*rng.NormFloat64()
	}
	return sample, nil
}

// LogMarginalLikelihood returns the log evidence of the fitted model. Used
// to compare hyperparameter settings during retraining.
func (gp *GP) LogMarginalLikelihood() (float64, error) {
	if gp.chol == nil {
		return 0, errors.New(errors.KindScore, "gp likelihood: model not fitted")
	}
	n := gp.y.Len()
	fit := mat.Dot(gp.y, gp.alpha)
	return -0.5*fit - 0.5*gp.chol.LogDet() - 0.5*float64(n)*math.Log(2*math.Pi), nil
}
