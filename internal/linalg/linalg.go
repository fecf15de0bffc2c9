// Package linalg wraps gonum's dense/symmetric matrix types with the
// narrow vocabulary the Bayesian noise-vector math needs: block views,
// inversion that reports ill-conditioning instead of panicking, and
// Cholesky-based solves.
package linalg

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// ErrIllConditioned is returned when a matrix expected to be
// positive-definite (or merely invertible) is numerically singular.
var ErrIllConditioned = errors.New("linalg: ill-conditioned matrix")

// Vector is a dense real vector.
type Vector struct {
	data *mat.VecDense
}

// NewVector copies vals into a new Vector.
func NewVector(vals []float64) *Vector {
	v := make([]float64, len(vals))
	copy(v, vals)

	return &Vector{data: mat.NewVecDense(len(v), v)}
}

// Zeros returns a zero vector of the given length.
func Zeros(n int) *Vector {
	return &Vector{data: mat.NewVecDense(n, nil)}
}

// Len returns the vector's dimension.
func (v *Vector) Len() int {
	if v == nil || v.data == nil {
		return 0
	}

	return v.data.Len()
}

// At returns the i'th element.
func (v *Vector) At(i int) float64 { return v.data.AtVec(i) }

// Set assigns the i'th element.
func (v *Vector) Set(i int, val float64) { v.data.SetVec(i, val) }

// Raw returns the backing gonum vector for interop with matrix ops.
func (v *Vector) Raw() *mat.VecDense { return v.data }

// Slice returns the values as a plain float64 slice (copy).
func (v *Vector) Slice() []float64 {
	out := make([]float64, v.Len())
	for i := range out {
		out[i] = v.data.AtVec(i)
	}

	return out
}

// Clone returns a deep copy.
func (v *Vector) Clone() *Vector {
	out := mat.NewVecDense(v.Len(), nil)
	out.CloneFromVec(v.data)

	return &Vector{data: out}
}

// Sub returns a sub-vector view [start, start+length).
func (v *Vector) Sub(start, length int) *Vector {
	out := mat.NewVecDense(length, nil)
	for i := range length {
		out.SetVec(i, v.data.AtVec(start+i))
	}

	return &Vector{data: out}
}

// SetSub writes src into this vector starting at start.
func (v *Vector) SetSub(start int, src *Vector) {
	for i := range src.Len() {
		v.data.SetVec(start+i, src.data.AtVec(i))
	}
}

// AddScaled returns v + alpha*other.
func (v *Vector) AddScaled(alpha float64, other *Vector) *Vector {
	out := mat.NewVecDense(v.Len(), nil)
	out.AddScaledVec(v.data, alpha, other.data)

	return &Vector{data: out}
}

// Matrix is a dense real matrix.
type Matrix struct {
	data *mat.Dense
}

// NewMatrix builds a row-major rows x cols matrix from flat data.
func NewMatrix(rows, cols int, data []float64) *Matrix {
	return &Matrix{data: mat.NewDense(rows, cols, data)}
}

// ZerosMatrix returns a zero rows x cols matrix. If either dimension is
// zero it returns an empty matrix, whose Dims reports (0, 0).
func ZerosMatrix(rows, cols int) *Matrix {
	if rows == 0 || cols == 0 {
		return &Matrix{data: &mat.Dense{}}
	}

	return &Matrix{data: mat.NewDense(rows, cols, nil)}
}

// Dims returns (rows, cols).
func (m *Matrix) Dims() (int, int) { return m.data.Dims() }

// At returns m[i][j].
func (m *Matrix) At(i, j int) float64 { return m.data.At(i, j) }

// Set assigns m[i][j].
func (m *Matrix) Set(i, j int, val float64) { m.data.Set(i, j, val) }

// Row returns row i as a Vector (copy).
func (m *Matrix) Row(i int) *Vector {
	_, cols := m.data.Dims()
	out := mat.NewVecDense(cols, nil)

	for j := range cols {
		out.SetVec(j, m.data.At(i, j))
	}

	return &Vector{data: out}
}

// SetRow assigns row i from v.
func (m *Matrix) SetRow(i int, v *Vector) {
	for j := range v.Len() {
		m.data.Set(i, j, v.At(j))
	}
}

// Raw exposes the backing gonum matrix.
func (m *Matrix) Raw() *mat.Dense { return m.data }

// Block extracts the sub-matrix [r0:r0+nr, c0:c0+nc) as a new Matrix.
func (m *Matrix) Block(r0, nr, c0, nc int) *Matrix {
	out := mat.NewDense(nr, nc, nil)
	for i := range nr {
		for j := range nc {
			out.Set(i, j, m.data.At(r0+i, c0+j))
		}
	}

	return &Matrix{data: out}
}

// SetBlock writes src into this matrix starting at (r0, c0).
func (m *Matrix) SetBlock(r0, c0 int, src *Matrix) {
	nr, nc := src.Dims()
	for i := range nr {
		for j := range nc {
			m.data.Set(r0+i, c0+j, src.data.At(i, j))
		}
	}
}

// Scale returns alpha*m.
func (m *Matrix) Scale(alpha float64) *Matrix {
	out := new(mat.Dense)
	out.Scale(alpha, m.data)

	return &Matrix{data: out}
}

// Add returns m + other.
func (m *Matrix) Add(other *Matrix) *Matrix {
	out := new(mat.Dense)
	out.Add(m.data, other.data)

	return &Matrix{data: out}
}

// Mul returns m * other (standard matrix product).
func (m *Matrix) Mul(other *Matrix) *Matrix {
	mr, _ := m.data.Dims()
	_, oc := other.data.Dims()
	out := mat.NewDense(mr, oc, nil)
	out.Mul(m.data, other.data)

	return &Matrix{data: out}
}

// T returns the transpose as a new Matrix.
func (m *Matrix) T() *Matrix {
	r, c := m.data.Dims()
	out := mat.NewDense(c, r, nil)
	out.Copy(m.data.T())

	return &Matrix{data: out}
}

// MatVec returns m * v.
func (m *Matrix) MatVec(v *Vector) *Vector {
	rows, _ := m.data.Dims()
	out := mat.NewVecDense(rows, nil)
	out.MulVec(m.data, v.data)

	return &Vector{data: out}
}

// Invert returns the inverse of m, or ErrIllConditioned if m is singular.
func (m *Matrix) Invert() (*Matrix, error) {
	rows, cols := m.data.Dims()
	if rows != cols {
		return nil, fmt.Errorf("linalg: invert requires a square matrix, got %dx%d", rows, cols)
	}

	out := mat.NewDense(rows, cols, nil)
	if err := out.Inverse(m.data); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrIllConditioned, err)
	}

	return &Matrix{data: out}, nil
}

// OuterAdd accumulates v*v^T into m in place (m += v v^T).
func (m *Matrix) OuterAdd(v *Vector) {
	n := v.Len()
	for i := range n {
		vi := v.At(i)
		for j := range n {
			m.data.Set(i, j, m.data.At(i, j)+vi*v.At(j))
		}
	}
}

// Trace returns the trace of m.
func (m *Matrix) Trace() float64 {
	rows, cols := m.data.Dims()

	n := rows
	if cols < n {
		n = cols
	}

	var sum float64
	for i := range n {
		sum += m.data.At(i, i)
	}

	return sum
}

// TraceMatMat returns tr(a * b), computed without materializing the
// full product (only the diagonal contributions are needed).
func TraceMatMat(a, b *Matrix) float64 {
	ar, ac := a.Dims()
	_, bc := b.Dims()

	if ac != bc {
		// b is expected to be square here (it always is in this package's
		// callers); fall back to a full multiply if shapes don't line up
		// for the fast path.
		prod := a.Mul(b)

		return prod.Trace()
	}

	var sum float64

	for i := range ar {
		for k := range ac {
			sum += a.At(i, k) * b.At(k, i)
		}
	}

	return sum
}

// SymmetricSolve solves K x = q for x via Cholesky factorization of K,
// which must be symmetric positive-definite. Returns ErrIllConditioned
// if the factorization fails.
func SymmetricSolve(k *Matrix, q *Vector) (*Vector, error) {
	n, cols := k.Dims()
	if n != cols {
		return nil, fmt.Errorf("linalg: symmetric solve requires a square matrix, got %dx%d", n, cols)
	}

	sym := mat.NewSymDense(n, nil)
	for i := range n {
		for j := i; j < n; j++ {
			v := 0.5 * (k.At(i, j) + k.At(j, i))
			sym.SetSym(i, j, v)
		}
	}

	var chol mat.Cholesky
	if ok := chol.Factorize(sym); !ok {
		return nil, fmt.Errorf("%w: cholesky factorization failed", ErrIllConditioned)
	}

	out := mat.NewVecDense(n, nil)
	if err := chol.SolveVecTo(out, q.data); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrIllConditioned, err)
	}

	return &Vector{data: out}, nil
}

// Identity returns the n x n identity matrix.
func Identity(n int) *Matrix {
	out := mat.NewDense(n, n, nil)
	for i := range n {
		out.Set(i, i, 1)
	}

	return &Matrix{data: out}
}
