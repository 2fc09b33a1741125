package models

import (
	"fmt"
	"math"
)

// RasterImage represents a decoded raster held entirely in memory
type RasterImage struct {
	// Data holds the samples band-interleaved in row-major order,
	// the sample of band b at (x, y) is Data[(y*Width+x)*Bands+b]
	Data []float64

	// Width and Height are the spatial dimensions in pixels
	Width  int
	Height int

	// Bands is the number of spectral bands per pixel
	Bands int

	// Is2D is set when the source had no band axis at all (shape H×W),
	// as opposed to an explicit single band (shape H×W×1)
	Is2D bool

	// Source is the path the image was loaded from
	Source string

	// Decoder names the decoder that produced the image
	Decoder string
}

// NewRasterImage allocates a zeroed raster with the given shape
func NewRasterImage(width, height, bands int) *RasterImage {
	return &RasterImage{
		Data:   make([]float64, width*height*bands),
		Width:  width,
		Height: height,
		Bands:  bands,
	}
}

// At returns the sample of band b at pixel (x, y)
func (r *RasterImage) At(x, y, b int) float64 {
	return r.Data[(y*r.Width+x)*r.Bands+b]
}

// Set stores the sample of band b at pixel (x, y)
func (r *RasterImage) Set(x, y, b int, v float64) {
	r.Data[(y*r.Width+x)*r.Bands+b] = v
}

// Pixels returns H·W
func (r *RasterImage) Pixels() int {
	return r.Width * r.Height
}

// Shape returns (H, W) for band-less images and (H, W, C) otherwise
func (r *RasterImage) Shape() []int {
	if r.Is2D {
		return []int{r.Height, r.Width}
	}
	return []int{r.Height, r.Width, r.Bands}
}

// Band copies band b out as a row-major H·W slice
func (r *RasterImage) Band(b int) []float64 {
	out := make([]float64, r.Pixels())
	for i := range out {
		out[i] = r.Data[i*r.Bands+b]
	}
	return out
}

// Validate checks the shape invariants H ≥ 1, W ≥ 1, C ≥ 1 and that the
// sample buffer matches the shape.
func (r *RasterImage) Validate() error {
	if r.Width < 1 || r.Height < 1 || r.Bands < 1 {
		return fmt.Errorf("invalid raster shape %v", r.Shape())
	}
	if r.Is2D && r.Bands != 1 {
		return fmt.Errorf("band-less raster must have exactly one band, got %d", r.Bands)
	}
	if want := r.Width * r.Height * r.Bands; len(r.Data) != want {
		return fmt.Errorf("raster buffer holds %d samples, shape %v needs %d", len(r.Data), r.Shape(), want)
	}
	return nil
}

// ComponentImage is one principal component laid back onto the spatial grid
type ComponentImage struct {
	// Data is row-major, the value at (x, y) is Data[y*Width+x]
	Data []float64

	Width  int
	Height int

	// Component is the zero-based component index (0 for PC1)
	Component int
}

// At returns the component value at pixel (x, y)
func (c *ComponentImage) At(x, y int) float64 {
	return c.Data[y*c.Width+x]
}

// MinMax returns the value range of the component image
func (c *ComponentImage) MinMax() (min, max float64) {
	min, max = math.Inf(1), math.Inf(-1)
	for _, v := range c.Data {
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	return min, max
}
