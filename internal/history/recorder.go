package history

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/bofitdev/bofit/internal/curve"
	"github.com/bofitdev/bofit/internal/errors"
	"github.com/bofitdev/bofit/internal/searchspace"
)

const (
	metaFile       = "run.yaml"
	historyFile    = "history.jsonl"
	bestFile       = "best.csv"
	candidatesFile = "candidates.csv"
	curveFile      = "curve.csv"
	paramsFile     = "params.yaml"
)

// Recorder owns the run directory layout. history.jsonl is the authoritative
// record; best.csv and candidates.csv are derived views regenerated from it.
type Recorder struct {
	runDir string
	space  *searchspace.Space
	scores map[int]float64
	logger *zap.Logger
}

// NewRecorder creates a recorder for runDir. A nil logger disables logging.
func NewRecorder(runDir string, space *searchspace.Space, logger *zap.Logger) *Recorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recorder{
		runDir: runDir,
		space:  space,
		scores: make(map[int]float64),
		logger: logger.Named("recorder"),
	}
}

// RunDir returns the run directory root.
func (r *Recorder) RunDir() string { return r.runDir }

// IterDir returns the artifact directory for one iteration.
func (r *Recorder) IterDir(iteration int) string {
	return filepath.Join(r.runDir, fmt.Sprintf("iter_%04d", iteration))
}

// Init creates the run directory and stamps its metadata. Existing metadata
// is left untouched.
func (r *Recorder) Init(meta RunMeta) error {
	if err := os.MkdirAll(r.runDir, 0o755); err != nil {
		return errors.Wrap(err, errors.KindRestart, "create run dir")
	}
	path := filepath.Join(r.runDir, metaFile)
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	data, err := yaml.Marshal(meta)
	if err != nil {
		return errors.Wrap(err, errors.KindRestart, "encode run metadata")
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.Wrap(err, errors.KindRestart, "write run metadata")
	}
	return r.writeCandidates()
}

// Meta reads the run metadata. The second return is false when none exists.
func (r *Recorder) Meta() (RunMeta, bool, error) {
	data, err := os.ReadFile(filepath.Join(r.runDir, metaFile))
	if os.IsNotExist(err) {
		return RunMeta{}, false, nil
	}
	if err != nil {
		return RunMeta{}, false, errors.Wrap(err, errors.KindRestart, "read run metadata")
	}
	var meta RunMeta
	if err := yaml.Unmarshal(data, &meta); err != nil {
		return RunMeta{}, false, errors.Wrap(err, errors.KindRestart, "decode run metadata")
	}
	return meta, true, nil
}

// Record persists one evaluated candidate. Iteration artifacts are written
// before the history line is appended, so a crash leaves only fully recorded
// iterations behind. bestScore is the running best including this record.
func (r *Recorder) Record(rec ScoreRecord, computed curve.Curve, bestScore float64) error {
	iterDir := r.IterDir(rec.Iteration)
	if err := os.MkdirAll(iterDir, 0o755); err != nil {
		return errors.Wrap(err, errors.KindRestart, "create iteration dir")
	}

	if err := curve.WriteCSV(filepath.Join(iterDir, probeName(curveFile, rec.Probe)), computed); err != nil {
		return errors.Wrap(err, errors.KindRestart, "write iteration curve")
	}
	if err := r.writeParams(iterDir, rec); err != nil {
		return err
	}

	if err := r.appendHistory(rec); err != nil {
		return err
	}
	r.scores[rec.Index] = rec.Score

	if err := r.appendBest(rec.Iteration, bestScore); err != nil {
		return err
	}
	if err := copyFile(filepath.Join(r.runDir, bestFile), filepath.Join(iterDir, bestFile)); err != nil {
		return errors.Wrap(err, errors.KindRestart, "snapshot best table")
	}
	return r.writeCandidates()
}

// Replay seeds the derived-view state from previously recorded scores
// without rewriting the history.
func (r *Recorder) Replay(records []ScoreRecord) {
	for _, rec := range records {
		r.scores[rec.Index] = rec.Score
	}
}

func (r *Recorder) writeParams(iterDir string, rec ScoreRecord) error {
	names := r.space.Names()
	doc := struct {
		Iteration int                `yaml:"iteration"`
		Probe     int                `yaml:"probe"`
		Index     int                `yaml:"index"`
		Mode      string             `yaml:"mode"`
		Score     float64            `yaml:"score"`
		Params    map[string]float64 `yaml:"params"`
	}{
		Iteration: rec.Iteration,
		Probe:     rec.Probe,
		Index:     rec.Index,
		Mode:      rec.Mode,
		Score:     rec.Score,
		Params:    make(map[string]float64, len(names)),
	}
	for i, name := range names {
		doc.Params[name] = rec.Values[i]
	}
	data, err := yaml.Marshal(doc)
	if err != nil {
		return errors.Wrap(err, errors.KindRestart, "encode iteration params")
	}
	if err := os.WriteFile(filepath.Join(iterDir, probeName(paramsFile, rec.Probe)), data, 0o644); err != nil {
		return errors.Wrap(err, errors.KindRestart, "write iteration params")
	}
	return nil
}

// probeName suffixes an artifact filename for probes past the first, so
// multi-probe iterations do not overwrite each other's files.
func probeName(base string, probe int) string {
	if probe == 0 {
		return base
	}
	ext := filepath.Ext(base)
	return fmt.Sprintf("%s_%02d%s", strings.TrimSuffix(base, ext), probe, ext)
}

func (r *Recorder) appendHistory(rec ScoreRecord) error {
	f, err := os.OpenFile(filepath.Join(r.runDir, historyFile),
		os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return errors.Wrap(err, errors.KindRestart, "open history log")
	}
	defer f.Close()

	line, err := json.Marshal(rec)
	if err != nil {
		return errors.Wrap(err, errors.KindRestart, "encode score record")
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		return errors.Wrap(err, errors.KindRestart, "append score record")
	}
	return f.Sync()
}

func (r *Recorder) appendBest(iteration int, bestScore float64) error {
	f, err := os.OpenFile(filepath.Join(r.runDir, bestFile),
		os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return errors.Wrap(err, errors.KindRestart, "open best table")
	}
	defer f.Close()

	if _, err := fmt.Fprintf(f, "%d,%g\n", iteration, bestScore); err != nil {
		return errors.Wrap(err, errors.KindRestart, "append best table")
	}
	return nil
}

// writeCandidates regenerates the full-grid table. Rows keep their score
// column blank until the candidate has been evaluated.
func (r *Recorder) writeCandidates() error {
	f, err := os.Create(filepath.Join(r.runDir, candidatesFile))
	if err != nil {
		return errors.Wrap(err, errors.KindRestart, "write candidates table")
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	fmt.Fprintf(w, "index,%s,score\n", strings.Join(r.space.Names(), ","))
	for i := 0; i < r.space.Size(); i++ {
		cand, err := r.space.Decode(i)
		if err != nil {
			return err
		}
		cols := make([]string, 0, len(cand.Values)+2)
		cols = append(cols, fmt.Sprintf("%d", i))
		for _, v := range cand.Values {
			cols = append(cols, fmt.Sprintf("%g", v))
		}
		if score, ok := r.scores[i]; ok {
			cols = append(cols, fmt.Sprintf("%g", score))
		} else {
			cols = append(cols, "")
		}
		fmt.Fprintln(w, strings.Join(cols, ","))
	}
	if err := w.Flush(); err != nil {
		return errors.Wrap(err, errors.KindRestart, "write candidates table")
	}
	return nil
}

// ReadHistory loads the score records from a run directory in order.
func ReadHistory(runDir string) ([]ScoreRecord, error) {
	f, err := os.Open(filepath.Join(runDir, historyFile))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.KindRestart, "open history log")
	}
	defer f.Close()

	var records []ScoreRecord
	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var rec ScoreRecord
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			return nil, errors.Wrapf(err, errors.KindRestart, "history line %d", lineNo)
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, errors.KindRestart, "read history log")
	}
	return records, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}
