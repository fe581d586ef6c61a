// Package curve holds sweep/observable curves and the fit score that compares
// a computed curve against the observed target.
package curve

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/bofitdev/bofit/internal/errors"
)

// Point is one (sweep value, observable value) pair.
type Point struct {
	Sweep float64
	Value float64
}

// Curve is an ordered list of points, ascending by sweep value.
type Curve []Point

// Sweeps returns the sweep values in order.
func (c Curve) Sweeps() []float64 {
	out := make([]float64, len(c))
	for i, p := range c {
		out[i] = p.Sweep
	}
	return out
}

// Values returns the observable values in order.
func (c Curve) Values() []float64 {
	out := make([]float64, len(c))
	for i, p := range c {
		out[i] = p.Value
	}
	return out
}

// LoadCSV reads a target curve file: two columns per line, comma- or
// whitespace-separated, sweep values strictly ascending. Blank lines and
// lines starting with '#' are skipped.
func LoadCSV(path string) (Curve, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, errors.KindConfig, "open target curve")
	}
	defer f.Close()

	var curve Curve
	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := splitColumns(line)
		if len(fields) < 2 {
			return nil, errors.Newf(errors.KindConfig,
				"%s:%d: expected two columns, got %d", path, lineNo, len(fields))
		}
		sweep, err := strconv.ParseFloat(fields[0], 64)
		if err != nil {
			return nil, errors.Wrapf(err, errors.KindConfig, "%s:%d: sweep column", path, lineNo)
		}
		value, err := strconv.ParseFloat(fields[1], 64)
		if err != nil {
			return nil, errors.Wrapf(err, errors.KindConfig, "%s:%d: value column", path, lineNo)
		}
		if n := len(curve); n > 0 && sweep <= curve[n-1].Sweep {
			return nil, errors.Newf(errors.KindConfig,
				"%s:%d: sweep values must be strictly ascending (%g after %g)",
				path, lineNo, sweep, curve[n-1].Sweep)
		}
		curve = append(curve, Point{Sweep: sweep, Value: value})
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, errors.KindConfig, "read target curve")
	}
	if len(curve) == 0 {
		return nil, errors.Newf(errors.KindConfig, "%s: target curve is empty", path)
	}
	return curve, nil
}

func splitColumns(line string) []string {
	if strings.Contains(line, ",") {
		parts := strings.Split(line, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		return out
	}
	return strings.Fields(line)
}

// Score compares a computed curve against the target. The score is the
// negative sum of squared pointwise differences, so a perfect fit scores
// exactly 0 and the optimizer maximizes toward it.
func Score(computed, target Curve) (float64, error) {
	if len(computed) != len(target) {
		return 0, errors.Newf(errors.KindScore,
			"curve length mismatch: computed %d points, target %d points",
			len(computed), len(target))
	}
	sum := 0.0
	for i := range computed {
		if computed[i].Sweep != target[i].Sweep {
			return 0, errors.Newf(errors.KindScore,
				"sweep mismatch at point %d: computed %g, target %g",
				i, computed[i].Sweep, target[i].Sweep)
		}
		d := computed[i].Value - target[i].Value
		sum += d * d
	}
	return -sum, nil
}

// WriteCSV writes the curve as "sweep,value" lines.
func WriteCSV(path string, c Curve) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("write curve: %w", err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	fmt.Fprintln(w, "# sweep,value")
	for _, p := range c {
		fmt.Fprintf(w, "%g,%g\n", p.Sweep, p.Value)
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("write curve: %w", err)
	}
	return f.Close()
}
