package evaluate

import (
	"fmt"
	"io"
	"strings"
)

// PrintReport writes the summary table and threshold failures for one model.
func PrintReport(w io.Writer, r ModelReport) {
	_, _ = fmt.Fprintf(w, "Analysis: %s\n", r.Model)
	_, _ = fmt.Fprintf(w, "%-10s %10s %10s %10s %10s %10s\n", "Metric", "Mean", "Median", "Std Dev", "Min", "Max")
	for _, row := range []struct {
		name string
		s    Stats
	}{{"Dice", r.Dice}, {"IoU", r.IoU}} {
		_, _ = fmt.Fprintf(w, "%-10s %10.4f %10.4f %10.4f %10.4f %10.4f\n",
			row.name, row.s.Mean, row.s.Median, row.s.Std, row.s.Min, row.s.Max)
	}

	if len(r.Failures) > 0 {
		_, _ = fmt.Fprintf(w, "\nTHRESHOLD FAILURES (Dice < %.2f):\n", r.Threshold)
		for _, f := range r.Failures {
			_, _ = fmt.Fprintf(w, "  - %s: Dice=%.4f, IoU=%.4f\n", f.Case, f.Dice, f.IoU)
		}
	} else {
		_, _ = fmt.Fprintf(w, "\nAll files passed threshold (%.2f)\n", r.Threshold)
	}
	_, _ = fmt.Fprintf(w, "\n%s\n\n", strings.Repeat("=", 65))
}
