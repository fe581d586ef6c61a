// Package analysis provides post-run tooling over a run directory: ranked
// score listings, a smoothed surrogate fit over the full grid, and
// spreadsheet export.
package analysis

import (
	"bufio"
	"fmt"
	"math"
	"os"
	"sort"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/bofitdev/bofit/internal/errors"
	"github.com/bofitdev/bofit/internal/history"
	"github.com/bofitdev/bofit/internal/optimization"
	"github.com/bofitdev/bofit/internal/optimization/bayesian"
	"github.com/bofitdev/bofit/internal/searchspace"
)

// Ranked returns the records ordered by score, best first. Equal scores keep
// the earlier iteration first. n > 0 truncates the list.
func Ranked(records []history.ScoreRecord, n int) []history.ScoreRecord {
	out := append([]history.ScoreRecord(nil), records...)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Iteration < out[j].Iteration
	})
	if n > 0 && n < len(out) {
		out = out[:n]
	}
	return out
}

// WriteRanked writes the ranked score list as CSV.
func WriteRanked(path string, space *searchspace.Space, records []history.ScoreRecord, n int) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, errors.KindRestart, "write score list")
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	fmt.Fprintf(w, "rank,iteration,index,%s,score\n", strings.Join(space.Names(), ","))
	for rank, rec := range Ranked(records, n) {
		cols := []string{
			fmt.Sprintf("%d", rank+1),
			fmt.Sprintf("%d", rec.Iteration),
			fmt.Sprintf("%d", rec.Index),
		}
		for _, v := range rec.Values {
			cols = append(cols, fmt.Sprintf("%g", v))
		}
		cols = append(cols, fmt.Sprintf("%g", rec.Score))
		fmt.Fprintln(w, strings.Join(cols, ","))
	}
	if err := w.Flush(); err != nil {
		return errors.Wrap(err, errors.KindRestart, "write score list")
	}
	return nil
}

// WriteFit conditions a surrogate on the recorded observations and writes
// its posterior mean and standard deviation for every grid point.
func WriteFit(path string, space *searchspace.Space, records []history.ScoreRecord, seed int64) error {
	if len(records) == 0 {
		return errors.New(errors.KindRestart, "no recorded observations to fit")
	}

	opt, err := bayesian.NewGridOptimizer(space.Grid(), optimization.Config{
		Seed:        seed,
		Acquisition: "TS",
	}, nil)
	if err != nil {
		return err
	}
	for _, rec := range records {
		if err := opt.Tell(rec.Index, rec.Score); err != nil {
			return errors.Wrapf(err, errors.KindRestart, "replay iteration %d", rec.Iteration)
		}
	}
	if err := opt.Train(); err != nil {
		return err
	}
	mean, variance, err := opt.Posterior()
	if err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, errors.KindRestart, "write fit table")
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	fmt.Fprintf(w, "index,%s,mean,stddev\n", strings.Join(space.Names(), ","))
	for i := 0; i < space.Size(); i++ {
		cand, err := space.Decode(i)
		if err != nil {
			return err
		}
		cols := []string{fmt.Sprintf("%d", i)}
		for _, v := range cand.Values {
			cols = append(cols, fmt.Sprintf("%g", v))
		}
		cols = append(cols,
			fmt.Sprintf("%g", mean[i]),
			fmt.Sprintf("%g", math.Sqrt(variance[i])))
		fmt.Fprintln(w, strings.Join(cols, ","))
	}
	if err := w.Flush(); err != nil {
		return errors.Wrap(err, errors.KindRestart, "write fit table")
	}
	return nil
}

// ExportXLSX writes a two-sheet workbook: a run summary and the full score
// history.
func ExportXLSX(path string, meta history.RunMeta, space *searchspace.Space, records []history.ScoreRecord) error {
	wb := excelize.NewFile()
	defer wb.Close()

	const summary = "Summary"
	if err := wb.SetSheetName(wb.GetSheetName(0), summary); err != nil {
		return errors.Wrap(err, errors.KindRestart, "rename summary sheet")
	}

	ranked := Ranked(records, 1)
	rows := [][]interface{}{
		{"run uuid", meta.UUID},
		{"created", meta.Created.Format("2006-01-02 15:04:05")},
		{"seed", meta.Seed},
		{"grid size", space.Size()},
		{"records", len(records)},
	}
	if len(ranked) > 0 {
		rows = append(rows,
			[]interface{}{"best score", ranked[0].Score},
			[]interface{}{"best iteration", ranked[0].Iteration},
			[]interface{}{"best index", ranked[0].Index})
	}
	for i, row := range rows {
		cell, _ := excelize.CoordinatesToCellName(1, i+1)
		if err := wb.SetSheetRow(summary, cell, &row); err != nil {
			return errors.Wrap(err, errors.KindRestart, "write summary row")
		}
	}

	const sheet = "History"
	if _, err := wb.NewSheet(sheet); err != nil {
		return errors.Wrap(err, errors.KindRestart, "create history sheet")
	}
	header := []interface{}{"iteration", "probe", "mode", "index"}
	for _, name := range space.Names() {
		header = append(header, name)
	}
	header = append(header, "score", "best")
	if err := wb.SetSheetRow(sheet, "A1", &header); err != nil {
		return errors.Wrap(err, errors.KindRestart, "write history header")
	}
	for i, rec := range records {
		row := []interface{}{rec.Iteration, rec.Probe, rec.Mode, rec.Index}
		for _, v := range rec.Values {
			row = append(row, v)
		}
		row = append(row, rec.Score, rec.Best)
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		if err := wb.SetSheetRow(sheet, cell, &row); err != nil {
			return errors.Wrap(err, errors.KindRestart, "write history row")
		}
	}

	if err := wb.SaveAs(path); err != nil {
		return errors.Wrap(err, errors.KindRestart, "save workbook")
	}
	return nil
}
