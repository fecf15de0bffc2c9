// Package nvector implements the online Bayesian n-vector estimator:
// given chunks of base feature frames and per-frame silence/speech
// labels, it maintains a closed-form MAP estimate of the concatenated
// (noise-mean, speech-mean) vector, re-estimated every `period` frames.
//
// Grounded on original_source/src/ivector/online-noise-vector.cc
// (OnlineNoiseVector::ExtractVectors/UpdateVector/UpdateScalingParams).
package nvector

import (
	"errors"
	"fmt"

	"github.com/example/go-noise-vector/internal/linalg"
	"github.com/example/go-noise-vector/internal/noiseprior"
)

// ErrIllConditioned is returned when the per-chunk K matrix is not
// numerically positive-definite; current is left unchanged.
var ErrIllConditioned = linalg.ErrIllConditioned

// ErrDimensionMismatch is returned when a chunk's feature row count
// disagrees with its label count, or a feature's column count
// disagrees with the estimator's configured half-dimension.
var ErrDimensionMismatch = errors.New("nvector: dimension mismatch")

// Estimator maintains per-utterance state S: the current MAP estimate,
// its history of period-snapshots, frames consumed so far, and a
// private copy of the prior's scaling scalars r_n, r_s (which evolve
// per utterance and must not leak back into the shared Prior).
type Estimator struct {
	muN     *linalg.Vector
	a       *linalg.Vector
	b       *linalg.Matrix
	bT      *linalg.Matrix
	lambdaN *linalg.Matrix
	lambdaS *linalg.Matrix

	rN float64
	rS float64

	period int
	dim    int // half-dimension d

	current    *linalg.Vector
	history    []*linalg.Vector
	framesSeen int
}

// AdaptationState is a snapshot of per-utterance estimator state that
// can be carried over to seed a subsequent utterance of the same
// speaker, per spec.md §5 / §9 ("Scaling precisions r_s, r_n").
type AdaptationState struct {
	Current    *linalg.Vector
	RN         float64
	RS         float64
	FramesSeen int
}

// New initializes an Estimator from a (shared, read-only) prior and a
// re-estimation period. current is seeded to the prior mean
// (mu_n, a + B*mu_n), history is empty, frames_seen is 0.
func New(prior *noiseprior.Prior, period int) (*Estimator, error) {
	if period < 1 {
		return nil, fmt.Errorf("nvector: period must be >= 1, got %d", period)
	}

	d := prior.HalfDim()
	if d <= 0 {
		return nil, fmt.Errorf("nvector: prior has non-positive half-dimension")
	}

	e := &Estimator{
		muN:     prior.MuN.Clone(),
		a:       prior.A.Clone(),
		b:       prior.B,
		bT:      prior.B.T(),
		lambdaN: prior.LambdaN,
		lambdaS: prior.LambdaS,
		rN:      prior.RN,
		rS:      prior.RS,
		period:  period,
		dim:     d,
	}

	e.current = priorMeanVector(e.muN, e.a, e.b)

	return e, nil
}

func priorMeanVector(muN, a *linalg.Vector, b *linalg.Matrix) *linalg.Vector {
	d := muN.Len()
	out := linalg.Zeros(2 * d)
	out.SetSub(0, muN)
	out.SetSub(d, a.AddScaled(1.0, b.MatVec(muN)))

	return out
}

// Dim returns 2d, the dimension of every emitted n-vector.
func (e *Estimator) Dim() int { return 2 * e.dim }

// FramesSeen returns the count of base-feature frames consumed so far.
func (e *Estimator) FramesSeen() int { return e.framesSeen }

// HistoryLen returns the number of completed period-chunks processed.
func (e *Estimator) HistoryLen() int { return len(e.history) }

// UpdateChunk computes a new MAP estimate for `current` from a chunk of
// unnormalized base features and per-frame silence/speech labels
// (true = silence), appends it to history, advances frames_seen, and
// updates the scaling scalars r_n, r_s.
//
// feats.rows must equal len(labels); both may be less than the
// configured period for a final, partial chunk at utterance end. A
// zero-row chunk leaves current at the prior mean (MAP solve reduces
// to the prior recovery identity).
func (e *Estimator) UpdateChunk(feats *linalg.Matrix, labels []bool) error {
	n, cols := feats.Dims()
	if n != len(labels) {
		return fmt.Errorf("%w: %d feature rows vs %d labels", ErrDimensionMismatch, n, len(labels))
	}

	if n > 0 && cols != e.dim {
		return fmt.Errorf("%w: feature dim %d, estimator half-dim %d", ErrDimensionMismatch, cols, e.dim)
	}

	d := e.dim

	speechSum := linalg.Zeros(d)
	noiseSum := linalg.Zeros(d)

	var numSpeech, numNoise int

	for i := range n {
		row := feats.Row(i)
		if labels[i] {
			numNoise++
			noiseSum = noiseSum.AddScaled(1.0, row)
		} else {
			numSpeech++
			speechSum = speechSum.AddScaled(1.0, row)
		}
	}

	k, err := e.buildK(numSpeech, numNoise)
	if err != nil {
		return err
	}

	q := e.buildQ(speechSum, noiseSum)

	x, err := linalg.SymmetricSolve(k, q)
	if err != nil {
		return fmt.Errorf("nvector: MAP solve: %w", err)
	}

	e.current = x
	e.history = append(e.history, x.Clone())
	e.framesSeen += n

	e.updateScalingParams(feats, labels, numSpeech, numNoise)

	return nil
}

// buildK assembles the 2d x 2d block matrix K described in spec.md §4.C,
// noise block first (index 0) and speech block second (index d), matching
// the ordering priorMeanVector and updateScalingParams both assume.
func (e *Estimator) buildK(numSpeech, numNoise int) (*linalg.Matrix, error) {
	d := e.dim

	btLs := e.bT.Mul(e.lambdaS)

	k11 := e.lambdaN.Scale(1.0 + e.rN*float64(numNoise)).Add(btLs.Mul(e.b))
	k12 := btLs.Scale(-1.0)
	k21 := e.lambdaS.Mul(e.b).Scale(-1.0)
	k22 := e.lambdaS.Scale(1.0 + e.rS*float64(numSpeech))

	k := linalg.ZerosMatrix(2*d, 2*d)
	k.SetBlock(0, 0, k11)
	k.SetBlock(0, d, k12)
	k.SetBlock(d, 0, k21)
	k.SetBlock(d, d, k22)

	return k, nil
}

// buildQ assembles the 2d vector Q described in spec.md §4.C, noise half
// first and speech half second.
func (e *Estimator) buildQ(speechSum, noiseSum *linalg.Vector) *linalg.Vector {
	d := e.dim

	inner := e.muN.AddScaled(e.rN, noiseSum)
	q1 := e.lambdaN.MatVec(inner).AddScaled(-1.0, e.bT.MatVec(e.lambdaS.MatVec(e.a)))

	q2 := e.lambdaS.MatVec(e.a.AddScaled(e.rS, speechSum))

	q := linalg.Zeros(2 * d)
	q.SetSub(0, q1)
	q.SetSub(d, q2)

	return q
}

// updateScalingParams recomputes r_n, r_s per spec.md §4.C: residuals
// against the just-updated `current`, accumulated into V_s/V_n, traced
// against Lambda_s/Lambda_n.
func (e *Estimator) updateScalingParams(feats *linalg.Matrix, labels []bool, numSpeech, numNoise int) {
	d := e.dim

	noiseHat := e.current.Sub(0, d)
	speechHat := e.current.Sub(d, d)

	vs := linalg.ZerosMatrix(d, d)
	vn := linalg.ZerosMatrix(d, d)

	n, _ := feats.Dims()
	for i := range n {
		row := feats.Row(i)
		if labels[i] {
			resid := row.AddScaled(-1.0, noiseHat)
			vn.OuterAdd(resid)
		} else {
			resid := row.AddScaled(-1.0, speechHat)
			vs.OuterAdd(resid)
		}
	}

	if numSpeech > 0 {
		e.rS = noiseprior.ClampScale(float64(d*numSpeech) / linalg.TraceMatMat(e.lambdaS, vs))
	}

	if numNoise > 0 {
		e.rN = noiseprior.ClampScale(float64(d*numNoise) / linalg.TraceMatMat(e.lambdaN, vn))
	}
}

// Extract produces one n-vector row per period-chunk, ceil(T/period)
// rows total, by repeatedly calling UpdateChunk. If labels is nil, the
// "no decoder" fallback is used: every row equals the prior mean
// (mu_n, a + B*mu_n) and no state is mutated.
func (e *Estimator) Extract(feats *linalg.Matrix, labels []bool) (*linalg.Matrix, error) {
	t, cols := feats.Dims()
	if cols != e.dim {
		return nil, fmt.Errorf("%w: feature dim %d, estimator half-dim %d", ErrDimensionMismatch, cols, e.dim)
	}

	numRows := ceilDiv(t, e.period)
	out := linalg.ZerosMatrix(numRows, e.Dim())

	if labels == nil {
		priorRow := priorMeanVector(e.muN, e.a, e.b)
		for i := range numRows {
			out.SetRow(i, priorRow)
		}

		return out, nil
	}

	if len(labels) != t {
		return nil, fmt.Errorf("%w: %d feature rows vs %d labels", ErrDimensionMismatch, t, len(labels))
	}

	for i := range numRows {
		start := i * e.period
		end := start + e.period

		if end > t {
			end = t
		}

		chunk := feats.Block(start, end-start, 0, cols)

		if err := e.UpdateChunk(chunk, labels[start:end]); err != nil {
			return nil, err
		}

		out.SetRow(i, e.current)
	}

	return out, nil
}

// NVectorAt returns the n-vector that was active on frame t: the
// history entry for chunk floor(t/period), or the initialization value
// if that chunk has not completed yet.
func (e *Estimator) NVectorAt(t int) *linalg.Vector {
	idx := t / e.period
	if idx >= len(e.history) {
		return priorMeanVector(e.muN, e.a, e.b)
	}

	return e.history[idx]
}

// GetAdaptationState snapshots the estimator state for carry-over to a
// subsequent utterance of the same speaker.
func (e *Estimator) GetAdaptationState() AdaptationState {
	return AdaptationState{
		Current:    e.current.Clone(),
		RN:         e.rN,
		RS:         e.rS,
		FramesSeen: e.framesSeen,
	}
}

// SetAdaptationState seeds the estimator from a prior snapshot. It
// should be called right after New, before any UpdateChunk calls.
func (e *Estimator) SetAdaptationState(s AdaptationState) {
	e.current = s.Current.Clone()
	e.rN = noiseprior.ClampScale(s.RN)
	e.rS = noiseprior.ClampScale(s.RS)
	e.framesSeen = s.FramesSeen
}

func ceilDiv(a, b int) int {
	if a <= 0 {
		return 0
	}

	return (a + b - 1) / b
}
