package linalg

import (
	"errors"
	"math"
	"testing"
)

func approxEqual(a, b, tol float64) bool {
	return math.Abs(a-b) <= tol
}

func TestMatrixInvertRoundTrip(t *testing.T) {
	m := NewMatrix(2, 2, []float64{4, 0, 0, 2})

	inv, err := m.Invert()
	if err != nil {
		t.Fatalf("Invert: %v", err)
	}

	prod := m.Mul(inv)
	for i := range 2 {
		for j := range 2 {
			want := 0.0
			if i == j {
				want = 1.0
			}

			if !approxEqual(prod.At(i, j), want, 1e-9) {
				t.Errorf("prod[%d][%d] = %v, want %v", i, j, prod.At(i, j), want)
			}
		}
	}
}

func TestMatrixInvertSingular(t *testing.T) {
	m := NewMatrix(2, 2, []float64{1, 1, 1, 1})

	if _, err := m.Invert(); !errors.Is(err, ErrIllConditioned) {
		t.Fatalf("Invert on singular matrix: got %v, want ErrIllConditioned", err)
	}
}

func TestSymmetricSolveIdentity(t *testing.T) {
	k := Identity(3)
	q := NewVector([]float64{1, 2, 3})

	x, err := SymmetricSolve(k, q)
	if err != nil {
		t.Fatalf("SymmetricSolve: %v", err)
	}

	for i, want := range []float64{1, 2, 3} {
		if !approxEqual(x.At(i), want, 1e-9) {
			t.Errorf("x[%d] = %v, want %v", i, x.At(i), want)
		}
	}
}

func TestSymmetricSolveIllConditioned(t *testing.T) {
	k := NewMatrix(2, 2, []float64{1, 1, 1, 1})
	q := NewVector([]float64{1, 1})

	if _, err := SymmetricSolve(k, q); !errors.Is(err, ErrIllConditioned) {
		t.Fatalf("SymmetricSolve on singular K: got %v, want ErrIllConditioned", err)
	}
}

func TestBlockAndSetBlock(t *testing.T) {
	m := ZerosMatrix(4, 4)
	block := NewMatrix(2, 2, []float64{1, 2, 3, 4})
	m.SetBlock(1, 1, block)

	got := m.Block(1, 2, 1, 2)
	for i := range 2 {
		for j := range 2 {
			if got.At(i, j) != block.At(i, j) {
				t.Errorf("Block[%d][%d] = %v, want %v", i, j, got.At(i, j), block.At(i, j))
			}
		}
	}
}

func TestOuterAddAccumulates(t *testing.T) {
	m := ZerosMatrix(2, 2)
	m.OuterAdd(NewVector([]float64{1, 0}))
	m.OuterAdd(NewVector([]float64{0, 1}))

	if m.At(0, 0) != 1 || m.At(1, 1) != 1 || m.At(0, 1) != 0 || m.At(1, 0) != 0 {
		t.Errorf("OuterAdd accumulation wrong: %v %v %v %v", m.At(0, 0), m.At(0, 1), m.At(1, 0), m.At(1, 1))
	}
}

func TestTraceMatMatMatchesFullMultiply(t *testing.T) {
	a := NewMatrix(2, 2, []float64{1, 2, 3, 4})
	b := NewMatrix(2, 2, []float64{5, 6, 7, 8})

	want := a.Mul(b).Trace()
	got := TraceMatMat(a, b)

	if !approxEqual(got, want, 1e-9) {
		t.Errorf("TraceMatMat = %v, want %v", got, want)
	}
}

func TestVectorSubAndSetSub(t *testing.T) {
	v := NewVector([]float64{1, 2, 3, 4})
	sub := v.Sub(1, 2)

	if sub.At(0) != 2 || sub.At(1) != 3 {
		t.Errorf("Sub = %v, want [2 3]", sub.Slice())
	}

	v.SetSub(0, NewVector([]float64{9, 9}))
	if v.At(0) != 9 || v.At(1) != 9 {
		t.Errorf("SetSub failed: %v", v.Slice())
	}
}
