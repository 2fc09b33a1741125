// Package spectral converts between raster band arrays and the pixel-vector
// matrices the PCA engine works on.
package spectral

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"spectralpca/internal/models"
)

// ShapeWarning is a non-fatal advisory about the input shape. A single
// band has exactly one principal component carrying all of the variance,
// so the result says nothing about spectral separation.
type ShapeWarning struct {
	Shape []int
}

func (w *ShapeWarning) String() string {
	return fmt.Sprintf("single-band image %v: PCA is not meaningful for spectral separation, computing anyway", w.Shape)
}

// ShapeError reports a raster whose shape or sample buffer is unusable
type ShapeError struct {
	Shape []int
	Err   error
}

func (e *ShapeError) Error() string {
	return fmt.Sprintf("invalid raster %v: %v", e.Shape, e.Err)
}

func (e *ShapeError) Unwrap() error { return e.Err }

// PixelMatrix flattens img into an (H·W)×K matrix with one row per pixel in
// row-major order and one column per band. The raster is copied, so the
// matrix does not alias img. A ShapeWarning is returned for K = 1.
func PixelMatrix(img *models.RasterImage) (*mat.Dense, *ShapeWarning, error) {
	if err := img.Validate(); err != nil {
		return nil, nil, &ShapeError{Shape: img.Shape(), Err: err}
	}

	data := make([]float64, len(img.Data))
	copy(data, img.Data)
	m := mat.NewDense(img.Pixels(), img.Bands, data)

	var warn *ShapeWarning
	if img.Bands == 1 {
		warn = &ShapeWarning{Shape: img.Shape()}
	}
	return m, warn, nil
}
