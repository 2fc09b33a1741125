// Package pipeline runs the load → reshape → PCA → report sequence for one
// raster at a time.
package pipeline

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"gonum.org/v1/gonum/stat"

	"spectralpca/internal/models"
	"spectralpca/pkg/config"
	"spectralpca/pkg/loader"
	"spectralpca/pkg/logging"
	"spectralpca/pkg/pca"
	"spectralpca/pkg/report"
	"spectralpca/pkg/spectral"
)

// Params holds the pipeline parameters
type Params struct {
	// MaxComponents caps the number of computed components.
	// Zero selects pca.DefaultMaxComponents.
	MaxComponents int

	// NormalizeSigns makes component signs reproducible
	NormalizeSigns bool

	// Decoders lists decoder names in the order they are tried.
	// Empty selects the TIFF decoder followed by the generic one.
	Decoders []string

	// StackPages treats same-sized single-sample TIFF pages as bands
	StackPages bool
}

// ParamsFromConfig extracts the pipeline parameters from the application config
func ParamsFromConfig(cfg *config.Config) *Params {
	return &Params{
		MaxComponents:  cfg.PCA.MaxComponents,
		NormalizeSigns: cfg.PCA.NormalizeSigns,
		Decoders:       cfg.Loader.Decoders,
		StackPages:     cfg.Loader.StackPages,
	}
}

// Result is everything produced for one loaded image. A new load always
// produces a new Result, earlier ones are never modified.
type Result struct {
	// Image is the raster as loaded
	Image *models.RasterImage

	// PCA is the fitted decomposition
	PCA *pca.Result

	// Component is PC1 laid back onto the image grid
	Component *models.ComponentImage

	// Table is the per-component statistics, PC1 first
	Table report.Table

	// Warning is set for single-band input, where PCA is degenerate
	Warning *spectral.ShapeWarning

	// Elapsed is the wall time of the whole run
	Elapsed time.Duration
}

// Session owns the results of the most recent load. Each call to Load is
// one indivisible unit of work, concurrent callers are serialised.
type Session struct {
	params *Params
	chain  *loader.Chain
	engine *pca.Engine

	mu      sync.Mutex
	state   State
	current *Result
	lastErr error

	// OnStateChange, when set, is called on every state transition
	OnStateChange func(from, to State)
}

// NewSession creates a session in the Idle state
func NewSession(params *Params) (*Session, error) {
	if params == nil {
		params = &Params{NormalizeSigns: true, StackPages: true}
	}

	chain := loader.DefaultChain()
	if len(params.Decoders) > 0 {
		var err error
		chain, err = loader.NewChainFromNames(params.Decoders, loader.Options{StackPages: params.StackPages})
		if err != nil {
			return nil, fmt.Errorf("failed to build decoder chain: %w", err)
		}
	}

	engine := pca.NewEngine(params.MaxComponents)
	engine.NormalizeSigns = params.NormalizeSigns

	return &Session{
		params: params,
		chain:  chain,
		engine: engine,
		state:  Idle,
	}, nil
}

// State returns the current pipeline state
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Current returns the result of the last successful load, nil after a failure
func (s *Session) Current() *Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Err returns the error of the last failed load
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// Load reads the raster at path and runs the full analysis on it. Any
// previous result is dropped as soon as the load starts.
func (s *Session) Load(path string) (*Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	s.current = nil
	s.lastErr = nil
	s.transition(Loading)

	logging.Info("Loading %s...", filepath.Base(path))
	img, err := s.chain.Load(path)
	if err != nil {
		return nil, s.fail(err)
	}

	res, err := s.analyze(img)
	if err != nil {
		return nil, s.fail(err)
	}
	res.Elapsed = time.Since(start)

	s.current = res
	s.transition(Ready)
	logging.Info("PCA analysis of %s completed in %s", filepath.Base(path), res.Elapsed)
	return res, nil
}

// Analyze runs the analysis on an already decoded raster
func (s *Session) Analyze(img *models.RasterImage) (*Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	s.current = nil
	s.lastErr = nil
	s.transition(Loading)

	res, err := s.analyze(img)
	if err != nil {
		return nil, s.fail(err)
	}
	res.Elapsed = time.Since(start)

	s.current = res
	s.transition(Ready)
	return res, nil
}

func (s *Session) analyze(img *models.RasterImage) (*Result, error) {
	s.transition(Reshaping)
	pixels, warn, err := spectral.PixelMatrix(img)
	if err != nil {
		return nil, err
	}
	if warn != nil {
		logging.Warning("%s", warn)
	}
	for b := 0; b < img.Bands; b++ {
		logging.Debug("band %d mean %.4f", b, stat.Mean(img.Band(b), nil))
	}

	s.transition(Computing)
	rows, bands := pixels.Dims()
	logging.Info("Fitting PCA on %d pixels x %d bands", rows, bands)
	fit, err := s.engine.Fit(pixels)
	if err != nil {
		return nil, err
	}

	component, err := spectral.ComponentImage(fit.Scores, img.Height, img.Width)
	if err != nil {
		return nil, err
	}

	table, err := report.Build(fit.ExplainedVariance, fit.ExplainedVarianceRatio)
	if err != nil {
		return nil, err
	}

	return &Result{
		Image:     img,
		PCA:       fit,
		Component: component,
		Table:     table,
		Warning:   warn,
	}, nil
}

func (s *Session) fail(err error) error {
	s.lastErr = err
	s.current = nil
	s.transition(Failed)
	logging.Error("%s: %v", Classify(err), err)
	return err
}

func (s *Session) transition(to State) {
	from := s.state
	if !CanTransition(from, to) {
		panic(fmt.Sprintf("pipeline: illegal transition %s -> %s", from, to))
	}
	s.state = to
	if s.OnStateChange != nil {
		s.OnStateChange(from, to)
	}
}
