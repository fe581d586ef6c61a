package history

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/bofitdev/bofit/internal/errors"
	"github.com/bofitdev/bofit/internal/searchspace"
)

var iterDirPattern = regexp.MustCompile(`^iter_(\d{4})$`)

// ResumeState is the replayable state recovered from a prior run.
type ResumeState struct {
	Meta          RunMeta
	Records       []ScoreRecord
	NextIteration int
}

// RestartManager decides how a run enters its run directory: fresh, or
// resuming a compatible prior run. Inconsistent prior state is never fatal;
// the directory is set aside and the run starts fresh.
type RestartManager struct {
	runDir string
	space  *searchspace.Space
	logger *zap.Logger
}

// NewRestartManager creates a manager for runDir. A nil logger disables
// logging.
func NewRestartManager(runDir string, space *searchspace.Space, logger *zap.Logger) *RestartManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RestartManager{runDir: runDir, space: space, logger: logger.Named("restart")}
}

// Prepare inspects the run directory and returns the resume state, or nil
// for a fresh run. When enabled is false any existing directory is set
// aside unconditionally.
func (m *RestartManager) Prepare(enabled bool, seed int64) (*ResumeState, error) {
	if _, err := os.Stat(m.runDir); os.IsNotExist(err) {
		return nil, nil
	} else if err != nil {
		return nil, errors.Wrap(err, errors.KindRestart, "inspect run dir")
	}

	if !enabled {
		if !m.hasPriorRun() {
			return nil, nil
		}
		m.logger.Info("restart disabled, setting prior run aside", zap.String("dir", m.runDir))
		return nil, m.setAside()
	}

	state, err := m.scan(seed)
	if err != nil {
		m.logger.Warn("prior run is inconsistent, starting fresh",
			zap.String("dir", m.runDir), zap.Error(err))
		return nil, m.setAside()
	}
	if state == nil {
		return nil, nil
	}

	if err := m.removeOrphans(state); err != nil {
		return nil, err
	}
	m.logger.Info("resuming run",
		zap.String("uuid", state.Meta.UUID),
		zap.Int("records", len(state.Records)),
		zap.Int("next_iteration", state.NextIteration))
	return state, nil
}

// scan validates the prior run and rebuilds its resume state. Any structural
// problem is returned as a KindRestart error for the caller to downgrade on.
func (m *RestartManager) scan(seed int64) (*ResumeState, error) {
	rec := NewRecorder(m.runDir, m.space, nil)
	meta, ok, err := rec.Meta()
	if err != nil {
		return nil, err
	}
	if !ok {
		// No metadata: only a problem when run artifacts are present.
		if m.hasRunArtifacts() {
			return nil, errors.New(errors.KindRestart, "run dir has artifacts but no metadata")
		}
		return nil, nil
	}
	if !meta.Compatible(seed, m.space.Specs()) {
		return nil, errors.New(errors.KindRestart, "run metadata does not match configuration")
	}

	records, err := ReadHistory(m.runDir)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		// Metadata only: treat as fresh but keep the directory.
		return nil, nil
	}

	lastIter, lastProbe := 0, -1
	seen := make(map[int]bool, len(records))
	for i, r := range records {
		if r.Iteration < lastIter || (r.Iteration == lastIter && r.Probe <= lastProbe) {
			return nil, errors.Newf(errors.KindRestart,
				"history out of order at record %d (iteration %d probe %d)", i, r.Iteration, r.Probe)
		}
		if r.Iteration > lastIter {
			lastProbe = -1
		}
		lastIter, lastProbe = r.Iteration, r.Probe
		if r.Index < 0 || r.Index >= m.space.Size() {
			return nil, errors.Newf(errors.KindRestart,
				"record %d has action index %d outside the grid", i, r.Index)
		}
		if seen[r.Index] {
			return nil, errors.Newf(errors.KindRestart,
				"action index %d recorded twice", r.Index)
		}
		seen[r.Index] = true
		if _, err := os.Stat(rec.IterDir(r.Iteration)); err != nil {
			return nil, errors.Newf(errors.KindRestart,
				"iteration %d recorded but its directory is missing", r.Iteration)
		}
	}

	return &ResumeState{
		Meta:          meta,
		Records:       records,
		NextIteration: lastIter + 1,
	}, nil
}

// hasPriorRun reports whether the run dir belongs to an earlier run at all,
// metadata included.
func (m *RestartManager) hasPriorRun() bool {
	if _, err := os.Stat(filepath.Join(m.runDir, metaFile)); err == nil {
		return true
	}
	return m.hasRunArtifacts()
}

// hasRunArtifacts reports whether the run dir holds iteration output or a
// history log, as opposed to incidental files like the log subdirectory.
func (m *RestartManager) hasRunArtifacts() bool {
	if _, err := os.Stat(filepath.Join(m.runDir, historyFile)); err == nil {
		return true
	}
	entries, err := os.ReadDir(m.runDir)
	if err != nil {
		return true
	}
	for _, e := range entries {
		if e.IsDir() && iterDirPattern.MatchString(e.Name()) {
			return true
		}
	}
	return false
}

// removeOrphans deletes iteration directories past the last recorded
// iteration: leftovers of an interrupted, never-recorded iteration.
func (m *RestartManager) removeOrphans(state *ResumeState) error {
	entries, err := os.ReadDir(m.runDir)
	if err != nil {
		return errors.Wrap(err, errors.KindRestart, "list run dir")
	}
	last := state.NextIteration - 1
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		match := iterDirPattern.FindStringSubmatch(e.Name())
		if match == nil {
			continue
		}
		n, err := strconv.Atoi(match[1])
		if err != nil || n <= last {
			continue
		}
		m.logger.Warn("removing unrecorded iteration directory", zap.String("dir", e.Name()))
		if err := os.RemoveAll(filepath.Join(m.runDir, e.Name())); err != nil {
			return errors.Wrap(err, errors.KindRestart, "remove orphan iteration dir")
		}
	}
	return nil
}

// setAside renames the run directory out of the way so a fresh run can use
// its path.
func (m *RestartManager) setAside() error {
	dst := fmt.Sprintf("%s.stale-%s", m.runDir, time.Now().UTC().Format("20060102T150405"))
	if err := os.Rename(m.runDir, dst); err != nil {
		return errors.Wrap(err, errors.KindRestart, "set prior run aside")
	}
	m.logger.Info("prior run moved", zap.String("to", dst))
	return nil
}
