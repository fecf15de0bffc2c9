// Package batchnvector implements the offline, whole-utterance noise
// vector: a plain average of feature frames classified as non-speech
// (and, optionally, a concatenated average of speech frames), given a
// precomputed per-frame posterior over {silence, speech, garbage}.
//
// Grounded on original_source/src/featbin/compute-noise-vector.cc.
package batchnvector

import (
	"errors"
	"fmt"

	"github.com/example/go-noise-vector/internal/linalg"
)

// ErrDimensionMismatch is returned when feats and targets disagree on
// frame count, or targets does not have exactly 3 posterior columns
// (silence, speech, garbage).
var ErrDimensionMismatch = errors.New("batchnvector: dimension mismatch")

// ErrEmptyInput is returned for a zero-row feature matrix.
var ErrEmptyInput = errors.New("batchnvector: empty utterance")

const (
	classSilence = 0
	classSpeech  = 1
	classGarbage = 2
)

// ComputeUtterance averages feats rows into a noise vector and,
// if concatSpeech, a speech vector concatenated after it.
//
// targets holds one row per frame with exactly 3 columns, the
// posterior over (silence, speech, garbage); a frame is classified as
// speech when its speech column strictly exceeds both the silence and
// garbage columns, and as noise (silence or garbage) otherwise. Noise
// and speech frames are each averaged independently; a class with zero
// frames contributes an all-zero average, matching the original's
// unscaled-when-empty behavior.
func ComputeUtterance(feats, targets *linalg.Matrix, concatSpeech bool) (*linalg.Vector, error) {
	numFrames, dim := feats.Dims()
	if numFrames == 0 {
		return nil, ErrEmptyInput
	}

	tRows, tCols := targets.Dims()
	if tRows != numFrames {
		return nil, fmt.Errorf("%w: %d feature frames vs %d target frames", ErrDimensionMismatch, numFrames, tRows)
	}

	if tCols != 3 {
		return nil, fmt.Errorf("%w: targets must have 3 columns (silence, speech, garbage), got %d", ErrDimensionMismatch, tCols)
	}

	speechSum := linalg.Zeros(dim)
	noiseSum := linalg.Zeros(dim)

	var numSpeech, numNoise int

	for i := range numFrames {
		row := feats.Row(i)
		target := targets.Row(i)

		if target.At(classSpeech) > target.At(classSilence) && target.At(classSpeech) > target.At(classGarbage) {
			speechSum = speechSum.AddScaled(1.0, row)
			numSpeech++
		} else {
			noiseSum = noiseSum.AddScaled(1.0, row)
			numNoise++
		}
	}

	if numSpeech > 0 {
		speechSum = linalg.Zeros(dim).AddScaled(1.0/float64(numSpeech), speechSum)
	}

	if numNoise > 0 {
		noiseSum = linalg.Zeros(dim).AddScaled(1.0/float64(numNoise), noiseSum)
	}

	if !concatSpeech {
		return noiseSum, nil
	}

	out := linalg.Zeros(2 * dim)
	out.SetSub(0, noiseSum)
	out.SetSub(dim, speechSum)

	return out, nil
}
