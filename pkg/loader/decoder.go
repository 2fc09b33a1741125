// Package loader turns raster files into in-memory band arrays.
//
// Loading tries an ordered list of Decoder strategies. The first decoder
// that returns an image wins; when every decoder fails the caller gets a
// *LoadError carrying each decoder's cause.
package loader

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"spectralpca/internal/models"
	"spectralpca/pkg/logging"
)

// MaxSamples caps the number of samples (W·H·C) a decoder allocates for one
// image, 2 GiB of float64 samples
const MaxSamples = 1 << 28

// checkSize rejects shapes that are empty, overflow int or exceed MaxSamples
func checkSize(width, height, bands int) error {
	if width < 1 || height < 1 || bands < 1 {
		return fmt.Errorf("invalid image shape %dx%dx%d", width, height, bands)
	}
	if width > MaxSamples/height || width*height > MaxSamples/bands {
		return fmt.Errorf("image of %dx%dx%d samples exceeds the %d sample limit", width, height, bands, MaxSamples)
	}
	return nil
}

// Decoder decodes a raster file into a RasterImage
type Decoder interface {
	// Name identifies the decoder in logs, errors and configuration
	Name() string

	// Decode reads the file at path
	Decode(path string) (*models.RasterImage, error)
}

// DecodeFailure records why one decoder rejected a file
type DecodeFailure struct {
	Decoder string
	Err     error
}

// LoadError is returned when a file cannot be read or no decoder accepts it
type LoadError struct {
	Path string

	// Cause is set when the file could not be opened at all
	Cause error

	// Failures lists each decoder attempt in the order it was tried
	Failures []DecodeFailure
}

func (e *LoadError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("cannot load %s: %v", e.Path, e.Cause)
	}
	parts := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		parts = append(parts, fmt.Sprintf("%s: %v", f.Decoder, f.Err))
	}
	return fmt.Sprintf("cannot decode %s (%s)", e.Path, strings.Join(parts, "; "))
}

// Unwrap exposes the underlying causes to errors.Is and errors.As
func (e *LoadError) Unwrap() []error {
	if e.Cause != nil {
		return []error{e.Cause}
	}
	errs := make([]error, 0, len(e.Failures))
	for _, f := range e.Failures {
		errs = append(errs, f.Err)
	}
	return errs
}

// Options configures the decoders built by name
type Options struct {
	// StackPages makes the TIFF decoder treat same-sized single-sample
	// pages as the bands of one image
	StackPages bool
}

// NewDecoder builds a decoder from its configuration name
func NewDecoder(name string, opts Options) (Decoder, error) {
	switch strings.ToLower(name) {
	case "tiff":
		return &TIFFDecoder{StackPages: opts.StackPages}, nil
	case "generic":
		return &GenericDecoder{}, nil
	}
	return nil, fmt.Errorf("unknown decoder %q", name)
}

// Chain tries its decoders in order
type Chain struct {
	decoders []Decoder
}

// NewChain creates a chain over the given decoders
func NewChain(decoders ...Decoder) *Chain {
	return &Chain{decoders: decoders}
}

// NewChainFromNames creates a chain from configured decoder names
func NewChainFromNames(names []string, opts Options) (*Chain, error) {
	decoders := make([]Decoder, 0, len(names))
	for _, name := range names {
		d, err := NewDecoder(name, opts)
		if err != nil {
			return nil, err
		}
		decoders = append(decoders, d)
	}
	if len(decoders) == 0 {
		return nil, errors.New("decoder chain is empty")
	}
	return NewChain(decoders...), nil
}

// DefaultChain is the format-specific TIFF decoder followed by the generic one
func DefaultChain() *Chain {
	return NewChain(&TIFFDecoder{StackPages: true}, &GenericDecoder{})
}

// Decoders returns the decoder names in order
func (c *Chain) Decoders() []string {
	names := make([]string, len(c.decoders))
	for i, d := range c.decoders {
		names[i] = d.Name()
	}
	return names
}

// Load decodes path with the first decoder that accepts it
func (c *Chain) Load(path string) (*models.RasterImage, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, &LoadError{Path: path, Cause: err}
	}
	if info.IsDir() {
		return nil, &LoadError{Path: path, Cause: errors.New("is a directory")}
	}

	loadErr := &LoadError{Path: path}
	for _, d := range c.decoders {
		img, err := decode(d, path)
		if err == nil {
			err = img.Validate()
		}
		if err != nil {
			logging.Info("decoder %s rejected %s: %v", d.Name(), path, err)
			loadErr.Failures = append(loadErr.Failures, DecodeFailure{Decoder: d.Name(), Err: err})
			continue
		}

		img.Source = path
		img.Decoder = d.Name()
		logging.Info("decoded %s with %s decoder: shape %v", path, d.Name(), img.Shape())
		return img, nil
	}

	return nil, loadErr
}

// decode runs one decoder, turning a panic on a malformed file into an error
// so the rest of the chain still gets its turn
func decode(d Decoder, path string) (img *models.RasterImage, err error) {
	defer func() {
		if r := recover(); r != nil {
			img, err = nil, fmt.Errorf("decoder panicked: %v", r)
		}
	}()
	return d.Decode(path)
}
