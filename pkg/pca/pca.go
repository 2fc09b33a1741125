// Package pca fits principal component decompositions to pixel-vector
// matrices.
//
// The engine centres every band, factorises the centred data with gonum's
// SVD based stat.PC and projects the pixels onto the leading components.
// Explained variance uses the sample (n-1) normalisation and the ratio of
// each component is taken against the variance summed over every band, not
// just the retained components.
package pca

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// DefaultMaxComponents bounds the number of computed components
const DefaultMaxComponents = 10

// ErrEmptyInput is returned for matrices without rows or columns
var ErrEmptyInput = errors.New("pca: empty input matrix")

// ComponentCount returns min(k, max). A max below 1 selects DefaultMaxComponents.
func ComponentCount(k, max int) int {
	if max < 1 {
		max = DefaultMaxComponents
	}
	if k < max {
		return k
	}
	return max
}

// Engine computes principal components
type Engine struct {
	// MaxComponents caps the number of retained components
	MaxComponents int

	// NormalizeSigns flips each component so that its loading with the
	// largest magnitude is positive, making output signs reproducible
	NormalizeSigns bool
}

// NewEngine returns an engine retaining at most maxComponents components
func NewEngine(maxComponents int) *Engine {
	return &Engine{MaxComponents: maxComponents, NormalizeSigns: true}
}

// Result holds a fitted decomposition. Components are ordered by
// descending explained variance.
type Result struct {
	// Components is the number of retained components n
	Components int

	// Mean is the per-band mean removed before projection
	Mean []float64

	// Loadings is K×n, column i is the direction of component i
	Loadings *mat.Dense

	// Scores is (H·W)×n, the centred pixels projected onto the loadings
	Scores *mat.Dense

	// ExplainedVariance holds the n leading eigenvalues
	ExplainedVariance []float64

	// ExplainedVarianceRatio holds each eigenvalue as a percentage of TotalVariance
	ExplainedVarianceRatio []float64

	// AllVariances holds all K eigenvalues, zero beyond the data rank
	AllVariances []float64

	// TotalVariance is the sum of AllVariances
	TotalVariance float64
}

// Fit decomposes x, an (H·W)×K pixel matrix
func (e *Engine) Fit(x mat.Matrix) (*Result, error) {
	rows, k := x.Dims()
	if rows == 0 || k == 0 {
		return nil, ErrEmptyInput
	}
	n := ComponentCount(k, e.MaxComponents)

	mean := make([]float64, k)
	col := make([]float64, rows)
	for j := 0; j < k; j++ {
		mat.Col(col, j, x)
		for i, v := range col {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, fmt.Errorf("pca: non-finite sample at row %d, band %d", i, j)
			}
		}
		mean[j] = stat.Mean(col, nil)
	}

	allVars := make([]float64, k)
	vecs := mat.NewDense(k, k, nil)

	if rows < 2 {
		// Sample variance is undefined for a single observation, every
		// component is reported with zero variance.
		for j := 0; j < k; j++ {
			vecs.Set(j, j, 1)
		}
	} else {
		var pc stat.PC
		if ok := pc.PrincipalComponents(x, nil); !ok {
			return nil, errors.New("pca: decomposition failed")
		}
		vars := pc.VarsTo(nil)
		var v mat.Dense
		pc.VectorsTo(&v)

		_, rank := v.Dims()
		copy(allVars, vars)
		vecs.Slice(0, k, 0, rank).(*mat.Dense).Copy(&v)
	}

	if e.NormalizeSigns {
		normalizeSigns(vecs)
	}

	loadings := mat.DenseCopyOf(vecs.Slice(0, k, 0, n))

	centered := mat.NewDense(rows, k, nil)
	centered.Apply(func(_, j int, v float64) float64 {
		return v - mean[j]
	}, x)

	scores := mat.NewDense(rows, n, nil)
	scores.Mul(centered, loadings)

	total := floats.Sum(allVars)
	variance := make([]float64, n)
	ratio := make([]float64, n)
	copy(variance, allVars[:n])
	for i := range ratio {
		if total > 0 {
			ratio[i] = variance[i] / total * 100
		}
	}

	return &Result{
		Components:             n,
		Mean:                   mean,
		Loadings:               loadings,
		Scores:                 scores,
		ExplainedVariance:      variance,
		ExplainedVarianceRatio: ratio,
		AllVariances:           allVars,
		TotalVariance:          total,
	}, nil
}

// normalizeSigns makes the largest-magnitude entry of every column positive
func normalizeSigns(vecs *mat.Dense) {
	r, c := vecs.Dims()
	col := make([]float64, r)
	for j := 0; j < c; j++ {
		mat.Col(col, j, vecs)
		if floats.Max(col) == 0 && floats.Min(col) == 0 {
			continue
		}
		idx := 0
		for i, v := range col {
			if math.Abs(v) > math.Abs(col[idx]) {
				idx = i
			}
		}
		if col[idx] < 0 {
			floats.Scale(-1, col)
			vecs.SetCol(j, col)
		}
	}
}
