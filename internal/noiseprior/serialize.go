package noiseprior

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/example/go-noise-vector/internal/linalg"
)

const (
	openToken  = "<OnlineNoisePrior>"
	closeToken = "</OnlineNoisePrior>"
)

// WriteBinary serializes p in the fixed-order bracketed binary form:
// <OnlineNoisePrior> mu_n a B Lambda_n Lambda_s </OnlineNoisePrior>.
func WriteBinary(w io.Writer, p *Prior) error {
	bw := &binWriter{w: w}

	bw.token(openToken)
	bw.vector(p.MuN)
	bw.vector(p.A)
	bw.matrix(p.B)
	bw.matrix(p.LambdaN)
	bw.matrix(p.LambdaS)
	bw.token(closeToken)

	return bw.err
}

// ReadBinary parses the form written by WriteBinary.
func ReadBinary(r io.Reader) (*Prior, error) {
	br := &binReader{r: bufio.NewReader(r)}

	if err := br.expectToken(openToken); err != nil {
		return nil, err
	}

	muN := br.vector()
	a := br.vector()
	b := br.matrix()
	lambdaN := br.matrix()
	lambdaS := br.matrix()

	if err := br.expectToken(closeToken); err != nil {
		return nil, err
	}

	if br.err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFormatError, br.err)
	}

	return &Prior{MuN: muN, A: a, B: b, LambdaN: lambdaN, LambdaS: lambdaS, RN: 1.0, RS: 1.0}, nil
}

// WriteText serializes p as whitespace-delimited text, bracketed the
// same way as WriteBinary.
func WriteText(w io.Writer, p *Prior) error {
	bw := bufio.NewWriter(w)

	fmt.Fprintf(bw, "%s\n", openToken)
	writeTextVector(bw, p.MuN)
	writeTextVector(bw, p.A)
	writeTextMatrix(bw, p.B)
	writeTextMatrix(bw, p.LambdaN)
	writeTextMatrix(bw, p.LambdaS)
	fmt.Fprintf(bw, "%s\n", closeToken)

	return bw.Flush()
}

// ReadText parses the form written by WriteText.
func ReadText(r io.Reader) (*Prior, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 64*1024*1024)

	tr := &textReader{sc: sc}

	if err := tr.expectToken(openToken); err != nil {
		return nil, err
	}

	muN := tr.vector()
	a := tr.vector()
	b := tr.matrix()
	lambdaN := tr.matrix()
	lambdaS := tr.matrix()

	if err := tr.expectToken(closeToken); err != nil {
		return nil, err
	}

	if tr.err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFormatError, tr.err)
	}

	return &Prior{MuN: muN, A: a, B: b, LambdaN: lambdaN, LambdaS: lambdaS, RN: 1.0, RS: 1.0}, nil
}

// --- binary framing ---

type binWriter struct {
	w   io.Writer
	err error
}

func (bw *binWriter) token(tok string) {
	if bw.err != nil {
		return
	}

	_, bw.err = fmt.Fprintf(bw.w, "%s ", tok)
}

func (bw *binWriter) u32(v uint32) {
	if bw.err != nil {
		return
	}

	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	_, bw.err = bw.w.Write(buf[:])
}

func (bw *binWriter) f64(v float64) {
	if bw.err != nil {
		return
	}

	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], math.Float64bits(v))
	_, bw.err = bw.w.Write(buf[:])
}

func (bw *binWriter) vector(v *linalg.Vector) {
	bw.u32(uint32(v.Len()))

	for i := range v.Len() {
		bw.f64(v.At(i))
	}
}

func (bw *binWriter) matrix(m *linalg.Matrix) {
	rows, cols := m.Dims()
	bw.u32(uint32(rows))
	bw.u32(uint32(cols))

	for i := range rows {
		for j := range cols {
			bw.f64(m.At(i, j))
		}
	}
}

type binReader struct {
	r   *bufio.Reader
	err error
}

func (br *binReader) expectToken(tok string) error {
	if br.err != nil {
		return fmt.Errorf("%w: %w", ErrFormatError, br.err)
	}

	want := tok + " "
	buf := make([]byte, len(want))

	if _, err := io.ReadFull(br.r, buf); err != nil {
		return fmt.Errorf("%w: reading token %q: %w", ErrFormatError, tok, err)
	}

	if string(buf) != want {
		return fmt.Errorf("%w: expected token %q, got %q", ErrFormatError, tok, string(buf))
	}

	return nil
}

func (br *binReader) u32() uint32 {
	if br.err != nil {
		return 0
	}

	var buf [4]byte
	if _, err := io.ReadFull(br.r, buf[:]); err != nil {
		br.err = err
		return 0
	}

	return binary.LittleEndian.Uint32(buf[:])
}

func (br *binReader) f64() float64 {
	if br.err != nil {
		return 0
	}

	var buf [8]byte
	if _, err := io.ReadFull(br.r, buf[:]); err != nil {
		br.err = err
		return 0
	}

	return math.Float64frombits(binary.LittleEndian.Uint64(buf[:]))
}

func (br *binReader) vector() *linalg.Vector {
	n := int(br.u32())
	v := linalg.Zeros(n)

	for i := range n {
		v.Set(i, br.f64())
	}

	return v
}

func (br *binReader) matrix() *linalg.Matrix {
	rows := int(br.u32())
	cols := int(br.u32())
	m := linalg.ZerosMatrix(rows, cols)

	for i := range rows {
		for j := range cols {
			m.Set(i, j, br.f64())
		}
	}

	return m
}

// --- text framing ---

func writeTextVector(w io.Writer, v *linalg.Vector) {
	parts := make([]string, v.Len())
	for i := range v.Len() {
		parts[i] = strconv.FormatFloat(v.At(i), 'g', -1, 64)
	}

	fmt.Fprintf(w, "[ %s ]\n", strings.Join(parts, " "))
}

func writeTextMatrix(w io.Writer, m *linalg.Matrix) {
	rows, cols := m.Dims()

	fmt.Fprintln(w, "[")

	for i := range rows {
		parts := make([]string, cols)
		for j := range cols {
			parts[j] = strconv.FormatFloat(m.At(i, j), 'g', -1, 64)
		}

		fmt.Fprintf(w, "  %s\n", strings.Join(parts, " "))
	}

	fmt.Fprintln(w, "]")
}

type textReader struct {
	sc  *bufio.Scanner
	err error
}

func (tr *textReader) nextLine() string {
	if tr.err != nil {
		return ""
	}

	if !tr.sc.Scan() {
		if err := tr.sc.Err(); err != nil {
			tr.err = err
		} else {
			tr.err = io.ErrUnexpectedEOF
		}

		return ""
	}

	return strings.TrimSpace(tr.sc.Text())
}

func (tr *textReader) expectToken(tok string) error {
	line := tr.nextLine()
	if tr.err != nil {
		return fmt.Errorf("%w: reading token %q: %w", ErrFormatError, tok, tr.err)
	}

	if line != tok {
		return fmt.Errorf("%w: expected token %q, got %q", ErrFormatError, tok, line)
	}

	return nil
}

func (tr *textReader) vector() *linalg.Vector {
	line := tr.nextLine()
	if tr.err != nil {
		return nil
	}

	line = strings.TrimPrefix(line, "[")
	line = strings.TrimSuffix(line, "]")

	fields := strings.Fields(line)
	v := linalg.Zeros(len(fields))

	for i, f := range fields {
		val, err := strconv.ParseFloat(f, 64)
		if err != nil {
			tr.err = err
			return nil
		}

		v.Set(i, val)
	}

	return v
}

func (tr *textReader) matrix() *linalg.Matrix {
	header := tr.nextLine()
	if tr.err != nil {
		return nil
	}

	if header != "[" {
		tr.err = fmt.Errorf("%w: expected matrix opening '[', got %q", ErrFormatError, header)
		return nil
	}

	var rows [][]float64

	for {
		line := tr.nextLine()
		if tr.err != nil {
			return nil
		}

		if line == "]" {
			break
		}

		fields := strings.Fields(line)
		row := make([]float64, len(fields))

		for i, f := range fields {
			val, err := strconv.ParseFloat(f, 64)
			if err != nil {
				tr.err = err
				return nil
			}

			row[i] = val
		}

		rows = append(rows, row)
	}

	if len(rows) == 0 {
		return linalg.ZerosMatrix(0, 0)
	}

	m := linalg.ZerosMatrix(len(rows), len(rows[0]))
	for i, row := range rows {
		for j, val := range row {
			m.Set(i, j, val)
		}
	}

	return m
}
