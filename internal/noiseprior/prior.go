// Package noiseprior implements the Bayesian prior over concatenated
// (noise-frame mean, speech-frame mean) vectors used to seed the online
// n-vector estimator, and its binary/text serialization.
//
// Grounded on original_source/src/ivector/online-noise-vector.{h,cc}
// (OnlineNoisePrior::EstimatePriorParameters/Write/Read).
package noiseprior

import (
	"errors"
	"fmt"

	"github.com/example/go-noise-vector/internal/linalg"
)

// ErrIllConditioned is returned when the training covariance (or a
// derived block) is not invertible.
var ErrIllConditioned = linalg.ErrIllConditioned

// Prior holds the immutable Bayesian prior parameters (mu_n, a, B,
// Lambda_n, Lambda_s) plus the mutable observation-precision scalars
// r_n, r_s, initialized to 1.0. Prior is safe to share read-only across
// utterances; callers that need to mutate r_n/r_s must Clone() first
// (the online estimator instead copies them into its own fields).
type Prior struct {
	MuN     *linalg.Vector
	A       *linalg.Vector
	B       *linalg.Matrix
	LambdaN *linalg.Matrix
	LambdaS *linalg.Matrix
	RN      float64
	RS      float64
}

// minScale is the floor r_n/r_s are clamped to; see spec invariant that
// they must stay strictly positive.
const minScale = 1e-6

// Dim returns 2*d, the full (noise,speech) concatenated dimension.
func (p *Prior) Dim() int {
	if p == nil || p.MuN == nil {
		return 0
	}

	return 2 * p.MuN.Len()
}

// HalfDim returns d, the dimension of each of the noise/speech halves.
func (p *Prior) HalfDim() int {
	return p.Dim() / 2
}

// Clone returns a deep copy of p.
func (p *Prior) Clone() *Prior {
	return &Prior{
		MuN:     p.MuN.Clone(),
		A:       p.A.Clone(),
		B:       p.B.Block(0, rows(p.B), 0, cols(p.B)),
		LambdaN: p.LambdaN.Block(0, rows(p.LambdaN), 0, cols(p.LambdaN)),
		LambdaS: p.LambdaS.Block(0, rows(p.LambdaS), 0, cols(p.LambdaS)),
		RN:      p.RN,
		RS:      p.RS,
	}
}

func rows(m *linalg.Matrix) int { r, _ := m.Dims(); return r }
func cols(m *linalg.Matrix) int { _, c := m.Dims(); return c }

// ClampScale floors a scaling scalar to the minimum permitted value.
func ClampScale(r float64) float64 {
	if r < minScale {
		return minScale
	}

	return r
}

// EstimatePrior derives a Prior from the training-side sufficient
// statistics: a mean vector and covariance matrix of dimension 2d over
// concatenated (noise-frame mean, speech-frame mean) samples.
//
// Follows spec.md §4.B / OnlineNoisePrior::EstimatePriorParameters:
//  1. split mean into mu_n, mu_s
//  2. invert cov to get the joint precision Lambda
//  3. extract the Lambda_nn, Lambda_sn, Lambda_ss blocks
//  4. Lambda_n = Lambda_nn, Lambda_s = Lambda_ss
//  5. B = -Lambda_ss^-1 Lambda_sn, a = mu_s - B mu_n
func EstimatePrior(mean *linalg.Vector, cov *linalg.Matrix, d int) (*Prior, error) {
	if mean.Len() != 2*d {
		return nil, fmt.Errorf("noiseprior: mean has dimension %d, want %d", mean.Len(), 2*d)
	}

	rows, colsN := cov.Dims()
	if rows != 2*d || colsN != 2*d {
		return nil, fmt.Errorf("noiseprior: covariance has shape %dx%d, want %dx%d", rows, colsN, 2*d, 2*d)
	}

	muN := mean.Sub(0, d)
	muS := mean.Sub(d, d)

	lambda, err := cov.Invert()
	if err != nil {
		return nil, fmt.Errorf("noiseprior: invert training covariance: %w", err)
	}

	lambdaNN := lambda.Block(0, d, 0, d)
	lambdaSN := lambda.Block(d, d, 0, d)
	lambdaSS := lambda.Block(d, d, d, d)

	lambdaSSInv, err := lambdaSS.Invert()
	if err != nil {
		return nil, fmt.Errorf("noiseprior: invert Lambda_ss block: %w", err)
	}

	// B = -Lambda_ss^-1 Lambda_sn
	b := lambdaSSInv.Mul(lambdaSN).Scale(-1.0)

	// a = mu_s - B mu_n
	a := muS.AddScaled(-1.0, b.MatVec(muN))

	return &Prior{
		MuN:     muN,
		A:       a,
		B:       b,
		LambdaN: lambdaNN,
		LambdaS: lambdaSS,
		RN:      1.0,
		RS:      1.0,
	}, nil
}

// ErrFormatError is returned by Read* when the serialized form is
// missing or mismatches the expected bracket tokens.
var ErrFormatError = errors.New("noiseprior: malformed prior data")
