package archive

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

// --- binary record framing, one record = key + payload ---

func writeBinaryKey(w io.Writer, key string) error {
	if strings.ContainsAny(key, " \n\t") {
		return fmt.Errorf("%w: key %q must not contain whitespace", ErrFormatError, key)
	}

	_, err := fmt.Fprintf(w, "%s\n", key)

	return err
}

func readBinaryKey(r *bufio.Reader) (string, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		return "", err
	}

	return strings.TrimSuffix(line, "\n"), nil
}

func writeBinaryMatrix(w io.Writer, m *linalg.Matrix) error {
	rows, cols := m.Dims()

	if err := writeU32(w, uint32(rows)); err != nil {
		return err
	}

	if err := writeU32(w, uint32(cols)); err != nil {
		return err
	}

	for i := range rows {
		for j := range cols {
			if err := writeF64(w, m.At(i, j)); err != nil {
				return err
			}
		}
	}

	return nil
}

func readBinaryMatrix(r io.Reader) (*linalg.Matrix, error) {
	rows, err := readU32(r)
	if err != nil {
		return nil, err
	}

	cols, err := readU32(r)
	if err != nil {
		return nil, err
	}

	m := linalg.ZerosMatrix(int(rows), int(cols))

	for i := range int(rows) {
		for j := range int(cols) {
			v, err := readF64(r)
			if err != nil {
				return nil, err
			}

			m.Set(i, j, v)
		}
	}

	return m, nil
}

func writeBinaryVector(w io.Writer, v *linalg.Vector) error {
	if err := writeU32(w, uint32(v.Len())); err != nil {
		return err
	}

	for i := range v.Len() {
		if err := writeF64(w, v.At(i)); err != nil {
			return err
		}
	}

	return nil
}

func readBinaryVector(r io.Reader) (*linalg.Vector, error) {
	n, err := readU32(r)
	if err != nil {
		return nil, err
	}

	v := linalg.Zeros(int(n))

	for i := range int(n) {
		f, err := readF64(r)
		if err != nil {
			return nil, err
		}

		v.Set(i, f)
	}

	return v, nil
}

func writeU32(w io.Writer, val uint32) error {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], val)
	_, err := w.Write(buf[:])

	return err
}

func readU32(r io.Reader) (uint32, error) {
	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}

	return binary.LittleEndian.Uint32(buf[:]), nil
}

func writeF64(w io.Writer, val float64) error {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], math.Float64bits(val))
	_, err := w.Write(buf[:])

	return err
}

func readF64(r io.Reader) (float64, error) {
	var buf [8]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}

	return math.Float64frombits(binary.LittleEndian.Uint64(buf[:])), nil
}

// --- text record framing ---

func writeTextMatrix(w io.Writer, key string, m *linalg.Matrix) error {
	rows, cols := m.Dims()

	if _, err := fmt.Fprintf(w, "%s\n[\n", key); err != nil {
		return err
	}

	for i := range rows {
		parts := make([]string, cols)
		for j := range cols {
			parts[j] = strconv.FormatFloat(m.At(i, j), 'g', -1, 64)
		}

		if _, err := fmt.Fprintf(w, "  %s\n", strings.Join(parts, " ")); err != nil {
			return err
		}
	}

	_, err := fmt.Fprintln(w, "]")

	return err
}

func writeTextVector(w io.Writer, key string, v *linalg.Vector) error {
	parts := make([]string, v.Len())
	for i := range v.Len() {
		parts[i] = strconv.FormatFloat(v.At(i), 'g', -1, 64)
	}

	_, err := fmt.Fprintf(w, "%s\n[ %s ]\n", key, strings.Join(parts, " "))

	return err
}

// textRecordScanner reads "key\n<body...>\n" records where body is
// either "[ v0 v1 ... ]" (vector) or "[\n row\n ...\n]\n" (matrix).
type textRecordScanner struct {
	sc  *bufio.Scanner
	err error
}

func newTextRecordScanner(r io.Reader) *textRecordScanner {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 64*1024*1024)

	return &textRecordScanner{sc: sc}
}

func (s *textRecordScanner) nextLine() (string, bool) {
	if !s.sc.Scan() {
		s.err = s.sc.Err()
		return "", false
	}

	return s.sc.Text(), true
}

func (s *textRecordScanner) nextKey() (string, bool) {
	line, ok := s.nextLine()
	if !ok {
		return "", false
	}

	return strings.TrimSpace(line), true
}

func (s *textRecordScanner) readVectorBody() (*linalg.Vector, error) {
	line, ok := s.nextLine()
	if !ok {
		if s.err != nil {
			return nil, s.err
		}

		return nil, io.ErrUnexpectedEOF
	}

	line = strings.TrimSpace(line)
	line = strings.TrimPrefix(line, "[")
	line = strings.TrimSuffix(line, "]")

	fields := strings.Fields(line)
	v := linalg.Zeros(len(fields))

	for i, f := range fields {
		val, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: parsing vector field %q: %w", ErrFormatError, f, err)
		}

		v.Set(i, val)
	}

	return v, nil
}

func (s *textRecordScanner) readMatrixBody() (*linalg.Matrix, error) {
	header, ok := s.nextLine()
	if !ok {
		return nil, io.ErrUnexpectedEOF
	}

	if strings.TrimSpace(header) != "[" {
		return nil, fmt.Errorf("%w: expected matrix opening '[', got %q", ErrFormatError, header)
	}

	var rows [][]float64

	for {
		line, ok := s.nextLine()
		if !ok {
			return nil, io.ErrUnexpectedEOF
		}

		trimmed := strings.TrimSpace(line)
		if trimmed == "]" {
			break
		}

		fields := strings.Fields(trimmed)
		row := make([]float64, len(fields))

		for i, f := range fields {
			val, err := strconv.ParseFloat(f, 64)
			if err != nil {
				return nil, fmt.Errorf("%w: parsing matrix field %q: %w", ErrFormatError, f, err)
			}

			row[i] = val
		}

		rows = append(rows, row)
	}

	if len(rows) == 0 {
		return linalg.ZerosMatrix(0, 0), nil
	}

	m := linalg.ZerosMatrix(len(rows), len(rows[0]))
	for i, row := range rows {
		for j, v := range row {
			m.Set(i, j, v)
		}
	}

	return m, nil
}
