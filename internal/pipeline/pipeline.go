// Package pipeline assembles base features, optional pitch, optional
// CMVN, and the online n-vector estimator into a single frame-indexed
// feature stream for a downstream decoder.
//
// Grounded on spec.md §4.E / original_source/src/online2/online-nnet2-noise-feature-pipeline.{h,cc}.
package pipeline

import (
	"errors"
	"fmt"

	"github.com/example/go-noise-vector/internal/linalg"
	"github.com/example/go-noise-vector/internal/noiseprior"
	"github.com/example/go-noise-vector/internal/nvector"
)

// ErrPreconditionViolation is returned when a frame not yet ready is
// requested, or when setup-time wiring constraints are violated.
var ErrPreconditionViolation = errors.New("pipeline: precondition violation")

// Source is the frame-indexed feature capability every pipeline stage
// (base extractor, pitch, append, CMVN, n-vector view) implements.
// Concrete base/pitch extraction is out of scope here (Non-goals); this
// package only defines the wiring slot and the stages it itself owns:
// Append, CMVN, and the n-vector view.
type Source interface {
	// Dim returns the per-frame feature dimension.
	Dim() int
	// NumFramesReady returns the number of frames currently available.
	NumFramesReady() int
	// IsLastFrame reports whether frame t is the last frame of the
	// utterance (only meaningful once InputFinished has been called
	// upstream and t == NumFramesReady()-1).
	IsLastFrame(t int) bool
	// GetFrame writes frame t's features into out, which must already
	// be sized to Dim(). Requires t < NumFramesReady().
	GetFrame(t int, out *linalg.Vector) error
	// FrameShiftSeconds returns the frame shift in seconds.
	FrameShiftSeconds() float64
}

// WaveformSource is the subset of Source that additionally accepts
// audio, implemented only by the root (base) stage. The stages this
// package builds (append, CMVN, n-vector view) do not implement it, so
// audio goes to the base source directly.
type WaveformSource interface {
	Source
	AcceptWaveform(rate float64, samples []float64) error
	InputFinished()
}

// Config mirrors spec.md §4.E's recognized options, loaded the
// teacher's way: a mapstructure-tagged struct populated via viper.
type Config struct {
	FeatureType string `mapstructure:"feature_type"`

	MFCCConfig  string `mapstructure:"mfcc_config"`
	PLPConfig   string `mapstructure:"plp_config"`
	FbankConfig string `mapstructure:"fbank_config"`

	AddPitch          bool   `mapstructure:"add_pitch"`
	OnlinePitchConfig string `mapstructure:"online_pitch_config"`

	CMVNConfig      string `mapstructure:"cmvn_config"`
	GlobalCMVNStats string `mapstructure:"global_cmvn_stats"`

	NVectorExtraction NVectorExtractionConfig `mapstructure:"nvector_extraction_config"`

	SilencePhones string `mapstructure:"silence_phones"`
}

// NVectorExtractionConfig is Config's nvector_extraction_config block.
type NVectorExtractionConfig struct {
	Enabled             bool   `mapstructure:"enabled"`
	NoisePrior          string `mapstructure:"noise_prior"`
	NVectorPeriod       int    `mapstructure:"nvector_period"`
	MaxRememberedFrames int    `mapstructure:"max_remembered_frames"`
}

// Pipeline is the assembled frame source plus the owned-node set the
// assembler must tear down exactly once, even when optional stages
// alias each other (CMVN disabled means Norm IS BaseP, not a copy).
type Pipeline struct {
	final Source
	owned []any // nodes constructed by Assemble, in construction order

	estimator *nvector.Estimator // nil if n-vector branch disabled
}

// Final returns the assembled frame source downstream decoders read.
func (p *Pipeline) Final() Source { return p.final }

// Estimator returns the n-vector estimator backing the n-vector branch,
// or nil if the branch is disabled. Exposed so a caller can drive
// UpdateChunk (which also updates the scaling scalars) from silence
// decisions.
func (p *Pipeline) Estimator() *nvector.Estimator { return p.estimator }

// Dim returns the assembled pipeline's per-frame output dimension.
func (p *Pipeline) Dim() int { return p.final.Dim() }

// Close releases every node the assembler constructed, in reverse
// construction order, walking the recorded owned-set exactly once so
// aliased nodes (e.g. Norm aliasing BaseP when CMVN is disabled) are
// never double-released. Most stages here hold no external resource;
// this only matters for whichever stage wraps an io.Closer (such as an
// archive-backed base source).
func (p *Pipeline) Close() error {
	var firstErr error

	for i := len(p.owned) - 1; i >= 0; i-- {
		closer, ok := p.owned[i].(interface{ Close() error })
		if !ok {
			continue
		}

		if err := closer.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	return firstErr
}

// Assemble builds the pipeline DAG per spec.md §4.E's wiring rules:
// Base -> (+Pitch) -> (CMVN) -> (+NVectorView). base and pitch are
// externally constructed (base/pitch/CMVN-internals extraction stays
// out of scope per Non-goals); Assemble only wires them together and
// constructs the stages it owns: appendSource, cmvnSource, and
// nvectorSource over prior.
//
// pitch may be nil when cfg.AddPitch is false; cmvnStats may be nil
// when cfg.CMVNConfig is empty. prior is required iff
// cfg.NVectorExtraction.Enabled.
func Assemble(cfg Config, base WaveformSource, pitch Source, cmvnStats *linalg.Vector, prior *noiseprior.Prior) (*Pipeline, error) {
	if cfg.AddPitch && pitch == nil {
		return nil, fmt.Errorf("%w: add_pitch is set but no pitch source was supplied", ErrPreconditionViolation)
	}

	if cfg.CMVNConfig != "" && cmvnStats == nil {
		return nil, fmt.Errorf("%w: cmvn_config requires global_cmvn_stats", ErrPreconditionViolation)
	}

	if cfg.NVectorExtraction.Enabled && prior == nil {
		return nil, fmt.Errorf("%w: nvector_extraction_config is enabled but no prior was supplied", ErrPreconditionViolation)
	}

	p := &Pipeline{}

	var baseP Source = base
	if cfg.AddPitch {
		appended, err := newAppendSource(base, pitch)
		if err != nil {
			return nil, err
		}

		p.owned = append(p.owned, appended)
		baseP = appended
	}

	var norm Source = baseP
	if cfg.CMVNConfig != "" {
		c, err := newCMVNSource(baseP, cmvnStats)
		if err != nil {
			return nil, err
		}

		p.owned = append(p.owned, c)
		norm = c
	}

	final := norm

	if cfg.NVectorExtraction.Enabled {
		est, err := nvector.New(prior, cfg.NVectorExtraction.NVectorPeriod)
		if err != nil {
			return nil, fmt.Errorf("pipeline: constructing n-vector estimator: %w", err)
		}

		p.estimator = est

		// The n-vector branch observes the unnormalized base (baseP),
		// never the CMVN-normalized branch (norm), per spec.md §4.E.
		nv := newNVectorSource(est, baseP.FrameShiftSeconds())

		appended, err := newAppendSource(norm, nv)
		if err != nil {
			return nil, err
		}

		p.owned = append(p.owned, appended, nv)
		final = appended
	}

	p.final = final

	return p, nil
}
