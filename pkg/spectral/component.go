package spectral

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"spectralpca/internal/models"
)

// ConsistencyError reports that a score matrix does not fit the spatial
// grid it is being laid onto. It always indicates a bug upstream.
type ConsistencyError struct {
	Height, Width int
	Rows, Cols    int
	Component     int
}

func (e *ConsistencyError) Error() string {
	if e.Component >= e.Cols {
		return fmt.Sprintf("internal consistency error: component %d requested from %d score columns", e.Component, e.Cols)
	}
	return fmt.Sprintf("internal consistency error: %d scores cannot be reshaped to %dx%d", e.Rows, e.Height, e.Width)
}

// ComponentImage lays the first (highest variance) score column back onto
// the height×width grid.
func ComponentImage(scores mat.Matrix, height, width int) (*models.ComponentImage, error) {
	return ComponentImageAt(scores, 0, height, width)
}

// ComponentImageAt lays score column i onto the height×width grid. The
// reshape is exact, mismatched sizes are never truncated or padded.
func ComponentImageAt(scores mat.Matrix, i, height, width int) (*models.ComponentImage, error) {
	rows, cols := scores.Dims()
	if rows != height*width || height < 1 || width < 1 || i < 0 || i >= cols {
		return nil, &ConsistencyError{Height: height, Width: width, Rows: rows, Cols: cols, Component: i}
	}

	data := make([]float64, rows)
	mat.Col(data, i, scores)
	return &models.ComponentImage{
		Data:      data,
		Width:     width,
		Height:    height,
		Component: i,
	}, nil
}
