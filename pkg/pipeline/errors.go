package pipeline

import (
	"errors"

	"spectralpca/pkg/loader"
	"spectralpca/pkg/spectral"
)

// ErrorKind classifies pipeline failures for the presentation layer
type ErrorKind int

const (
	// KindNone means no error
	KindNone ErrorKind = iota

	// KindLoad means the file could not be read or decoded
	KindLoad

	// KindConsistency means an internal reshape mismatch, a programming defect
	KindConsistency

	// KindCompute means the decomposition itself failed
	KindCompute

	// KindShape means the raster handed to the analysis has an unusable shape
	KindShape
)

func (k ErrorKind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindLoad:
		return "load error"
	case KindConsistency:
		return "internal consistency error"
	case KindCompute:
		return "computation error"
	case KindShape:
		return "shape error"
	}
	return "unknown"
}

// Classify maps an error returned by Session.Load to its kind
func Classify(err error) ErrorKind {
	if err == nil {
		return KindNone
	}
	var loadErr *loader.LoadError
	if errors.As(err, &loadErr) {
		return KindLoad
	}
	var consistencyErr *spectral.ConsistencyError
	if errors.As(err, &consistencyErr) {
		return KindConsistency
	}
	var shapeErr *spectral.ShapeError
	if errors.As(err, &shapeErr) {
		return KindShape
	}
	return KindCompute
}

// Message returns a human-readable description of err for display
func Message(err error) string {
	switch Classify(err) {
	case KindNone:
		return ""
	case KindLoad:
		return "The image could not be loaded: " + err.Error()
	case KindConsistency:
		return "Internal error, results were discarded: " + err.Error()
	case KindShape:
		return "The image cannot be analysed: " + err.Error()
	}
	return "PCA computation failed: " + err.Error()
}
