// Package history persists run state: the append-only score log, the
// per-iteration artifact directories, and the tables post-analysis reads.
// It also rebuilds optimizer state from disk when a run is resumed.
package history

import (
	"time"

	"github.com/google/uuid"

	"github.com/bofitdev/bofit/internal/searchspace"
)

// ScoreRecord is one evaluated candidate. Records are append-only; a run's
// history is the ordered sequence of its records.
type ScoreRecord struct {
	// Iteration is the 1-based loop iteration that produced the record.
	Iteration int `json:"iteration"`
	// Probe distinguishes candidates within one iteration when more than
	// one is evaluated per probe.
	Probe int `json:"probe"`
	// Index is the candidate's action index.
	Index int `json:"index"`
	// Values are the candidate's parameter values in spec order.
	Values []float64 `json:"values"`
	// Score is the fit score. Larger is better, 0 is a perfect fit.
	Score float64 `json:"score"`
	// Best marks whether this record improved on all earlier ones.
	Best bool `json:"best"`
	// Mode names the phase that selected the candidate.
	Mode string `json:"mode"`
	// Time is when the record was written.
	Time time.Time `json:"time"`
}

// RunMeta identifies a run directory.
type RunMeta struct {
	UUID    string                      `yaml:"uuid"`
	Created time.Time                   `yaml:"created"`
	Seed    int64                       `yaml:"seed"`
	Params  []searchspace.ParameterSpec `yaml:"params"`
}

// NewRunMeta stamps a fresh run with a UUID and creation time.
func NewRunMeta(seed int64, specs []searchspace.ParameterSpec) RunMeta {
	return RunMeta{
		UUID:    uuid.NewString(),
		Created: time.Now().UTC(),
		Seed:    seed,
		Params:  specs,
	}
}

// Compatible reports whether a stored run's parameter specs match the
// current configuration, so its observations can be replayed.
func (m RunMeta) Compatible(seed int64, specs []searchspace.ParameterSpec) bool {
	if m.Seed != seed || len(m.Params) != len(specs) {
		return false
	}
	for i, p := range m.Params {
		if p != specs[i] {
			return false
		}
	}
	return true
}
