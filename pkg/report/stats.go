// Package report assembles the per-component statistics table.
package report

import (
	"fmt"
	"io"
	"math"
	"text/tabwriter"
)

// Row is one component's statistics
type Row struct {
	Label        string  `json:"label" yaml:"label"`
	Variance     float64 `json:"variance" yaml:"variance"`
	RatioPercent float64 `json:"ratio_percent" yaml:"ratioPercent"`
	StdDev       float64 `json:"std_dev" yaml:"stdDev"`
}

// Table holds one row per retained component, PC1 first
type Table []Row

// Build creates the table from explained variance and ratio slices of
// equal length, both already ordered by descending variance.
func Build(variance, ratio []float64) (Table, error) {
	if len(variance) != len(ratio) {
		return nil, fmt.Errorf("variance has %d entries but ratio has %d", len(variance), len(ratio))
	}

	table := make(Table, len(variance))
	for i, v := range variance {
		table[i] = Row{
			Label:        Label(i),
			Variance:     v,
			RatioPercent: ratio[i],
			StdDev:       StdDev(v),
		}
	}
	return table, nil
}

// Label returns the display label of zero-based component i
func Label(i int) string {
	return fmt.Sprintf("PC%d", i+1)
}

// StdDev is the non-negative square root of a variance. Round-off can
// leave a trailing eigenvalue slightly below zero, that is reported as 0.
func StdDev(variance float64) float64 {
	if variance <= 0 {
		return 0
	}
	return math.Sqrt(variance)
}

// Format writes the table for display. Formatting only affects the
// output, Table keeps full precision.
func (t Table) Format(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "Component\tExplained Variance\tVariance Ratio (%)\tStd. Dev.\t")
	for _, r := range t {
		fmt.Fprintf(tw, "%s\t%.4f\t%%%.2f\t%.4f\t\n", r.Label, r.Variance, r.RatioPercent, r.StdDev)
	}
	return tw.Flush()
}

// CumulativeRatio returns the running sum of the ratio column
func (t Table) CumulativeRatio() []float64 {
	out := make([]float64, len(t))
	sum := 0.0
	for i, r := range t {
		sum += r.RatioPercent
		out[i] = sum
	}
	return out
}
