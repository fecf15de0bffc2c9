package pipeline

import (
	"fmt"
	"math"

	"github.com/example/go-noise-vector/internal/linalg"
	"github.com/example/go-noise-vector/internal/nvector"
)

// appendSource concatenates two frame sources column-wise: frame t is
// (left.GetFrame(t) ‖ right.GetFrame(t)). Used both for Base+Pitch and
// Norm+NVectorView wiring.
type appendSource struct {
	left, right Source
	dim         int
}

func newAppendSource(left, right Source) (*appendSource, error) {
	if left == nil || right == nil {
		return nil, fmt.Errorf("%w: append requires two non-nil sources", ErrPreconditionViolation)
	}

	return &appendSource{left: left, right: right, dim: left.Dim() + right.Dim()}, nil
}

func (a *appendSource) Dim() int { return a.dim }

func (a *appendSource) NumFramesReady() int {
	lf, rf := a.left.NumFramesReady(), a.right.NumFramesReady()
	if lf < rf {
		return lf
	}

	return rf
}

func (a *appendSource) IsLastFrame(t int) bool {
	return a.left.IsLastFrame(t) && a.right.IsLastFrame(t)
}

func (a *appendSource) FrameShiftSeconds() float64 { return a.left.FrameShiftSeconds() }

func (a *appendSource) GetFrame(t int, out *linalg.Vector) error {
	if t >= a.NumFramesReady() {
		return fmt.Errorf("%w: frame %d not ready (have %d)", ErrPreconditionViolation, t, a.NumFramesReady())
	}

	ld := a.left.Dim()

	lOut := linalg.Zeros(ld)
	if err := a.left.GetFrame(t, lOut); err != nil {
		return err
	}

	rOut := linalg.Zeros(a.right.Dim())
	if err := a.right.GetFrame(t, rOut); err != nil {
		return err
	}

	out.SetSub(0, lOut)
	out.SetSub(ld, rOut)

	return nil
}

// cmvnSource applies online cepstral mean/variance normalization to an
// upstream source, seeded by global statistics (count, sum, sum of
// squares per dimension) and accumulating its own running statistics
// as frames are consumed, matching the "seed from global stats, adapt
// online" strategy spec.md §4.E names for the cmvn_config branch.
type cmvnSource struct {
	upstream Source
	dim      int

	globalCount float64
	globalSum   *linalg.Vector
	globalSumSq *linalg.Vector

	runningCount float64
	runningSum   *linalg.Vector
	runningSumSq *linalg.Vector
}

// newCMVNSource builds a cmvnSource. globalStats holds, concatenated,
// [count, sum(dim), sumSq(dim)] — the minimal sufficient statistics an
// online CMVN implementation seeds from.
func newCMVNSource(upstream Source, globalStats *linalg.Vector) (*cmvnSource, error) {
	d := upstream.Dim()
	if globalStats.Len() != 1+2*d {
		return nil, fmt.Errorf("%w: global_cmvn_stats has %d entries, want %d for dim %d",
			ErrPreconditionViolation, globalStats.Len(), 1+2*d, d)
	}

	return &cmvnSource{
		upstream:     upstream,
		dim:          d,
		globalCount:  globalStats.At(0),
		globalSum:    globalStats.Sub(1, d),
		globalSumSq:  globalStats.Sub(1+d, d),
		runningCount: 0,
		runningSum:   linalg.Zeros(d),
		runningSumSq: linalg.Zeros(d),
	}, nil
}

func (c *cmvnSource) Dim() int                       { return c.dim }
func (c *cmvnSource) NumFramesReady() int            { return c.upstream.NumFramesReady() }
func (c *cmvnSource) IsLastFrame(t int) bool         { return c.upstream.IsLastFrame(t) }
func (c *cmvnSource) FrameShiftSeconds() float64     { return c.upstream.FrameShiftSeconds() }

func (c *cmvnSource) GetFrame(t int, out *linalg.Vector) error {
	raw := linalg.Zeros(c.dim)
	if err := c.upstream.GetFrame(t, raw); err != nil {
		return err
	}

	c.runningCount++
	c.runningSum = c.runningSum.AddScaled(1.0, raw)

	sq := linalg.Zeros(c.dim)
	for i := range c.dim {
		sq.Set(i, raw.At(i)*raw.At(i))
	}

	c.runningSumSq = c.runningSumSq.AddScaled(1.0, sq)

	count := c.globalCount + c.runningCount

	for i := range c.dim {
		sum := c.globalSum.At(i) + c.runningSum.At(i)
		sumSq := c.globalSumSq.At(i) + c.runningSumSq.At(i)

		mean := sum / count
		variance := sumSq/count - mean*mean

		if variance < 1e-10 {
			variance = 1e-10
		}

		out.Set(i, (raw.At(i)-mean)/math.Sqrt(variance))
	}

	return nil
}

// nvectorSource exposes an estimator's currently-active n-vector as a
// frame source, per spec.md §4.E's NVectorView. It never accumulates
// statistics itself — UpdateChunk (driven by silence decisions, on
// the estimator directly) is what advances the estimator's history;
// this type only reads it back per frame.
type nvectorSource struct {
	estimator   *nvector.Estimator
	frameShift  float64
	framesReady int
}

func newNVectorSource(estimator *nvector.Estimator, frameShift float64) *nvectorSource {
	return &nvectorSource{estimator: estimator, frameShift: frameShift}
}

func (n *nvectorSource) Dim() int                   { return n.estimator.Dim() }
func (n *nvectorSource) NumFramesReady() int        { return n.framesReady }
func (n *nvectorSource) IsLastFrame(int) bool       { return false }
func (n *nvectorSource) FrameShiftSeconds() float64 { return n.frameShift }

// SetFramesReady is called by the pipeline owner as new base frames
// become available, so NumFramesReady tracks the base branch even
// though the n-vector itself only changes once per period.
func (n *nvectorSource) SetFramesReady(t int) { n.framesReady = t }

func (n *nvectorSource) GetFrame(t int, out *linalg.Vector) error {
	if t >= n.framesReady {
		return fmt.Errorf("%w: frame %d not ready (have %d)", ErrPreconditionViolation, t, n.framesReady)
	}

	v := n.estimator.NVectorAt(t)
	for i := range v.Len() {
		out.Set(i, v.At(i))
	}

	return nil
}
