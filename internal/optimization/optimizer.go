// Package optimization defines the search-engine capability the run loop
// drives. Implementations propose candidate action indices and learn from
// observed scores; the loop never sees acquisition internals.
package optimization

// Optimizer proposes action indices over a fixed discrete candidate grid and
// is fed the observed score for each evaluated index.
type Optimizer interface {
	// Ask proposes the next unexplored action index to evaluate.
	Ask() (int, error)

	// Tell records the observed score for an action index. Scores are
	// maximized: a larger score is a better fit.
	Tell(index int, score float64) error

	// Train refits the surrogate's hyperparameters to the observations
	// collected so far.
	Train() error
}

// Config tunes an optimizer over a candidate grid.
type Config struct {
	// Seed drives every random draw the optimizer makes. Proposals are a
	// deterministic function of (seed, observations told so far).
	Seed int64

	// Acquisition selects the scoring rule for unexplored candidates:
	// "TS", "EI" or "PI".
	Acquisition string

	// MaxCandidates caps the number of unexplored grid points scored per
	// proposal. Larger grids are subsampled. Zero or negative means no cap.
	MaxCandidates int
}
