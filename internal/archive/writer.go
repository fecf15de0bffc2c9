package archive

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/example/go-noise-vector/internal/linalg"
)

// MatrixWriter writes one keyed feature/n-vector matrix per utterance,
// per a wspec string ("ark:path", "ark,t:path", or "scp:path").
type MatrixWriter struct {
	spec specifier
	f    *os.File
	bw   *bufio.Writer
	scp  *os.File
	dir  string
}

// OpenMatrixWriter opens wspec for writing.
func OpenMatrixWriter(wspec string) (*MatrixWriter, error) {
	spec, err := parseSpecifier(wspec)
	if err != nil {
		return nil, err
	}

	w := &MatrixWriter{spec: spec}

	switch spec.kind {
	case kindArkBinary, kindArkText:
		f, err := os.Create(spec.path)
		if err != nil {
			return nil, fmt.Errorf("archive: creating %s: %w", spec.path, err)
		}

		w.f = f
		w.bw = bufio.NewWriter(f)
	case kindSCP:
		scp, err := os.Create(spec.path)
		if err != nil {
			return nil, fmt.Errorf("archive: creating %s: %w", spec.path, err)
		}

		dir := spec.path + ".d"
		if err := os.MkdirAll(dir, 0o755); err != nil {
			scp.Close()
			return nil, fmt.Errorf("archive: creating record dir %s: %w", dir, err)
		}

		w.scp = scp
		w.dir = dir
	}

	return w, nil
}

// Write appends one keyed record.
func (w *MatrixWriter) Write(key string, m *linalg.Matrix) error {
	switch w.spec.kind {
	case kindArkBinary:
		if err := writeBinaryKey(w.bw, key); err != nil {
			return err
		}

		return writeBinaryMatrix(w.bw, m)
	case kindArkText:
		return writeTextMatrix(w.bw, key, m)
	case kindSCP:
		return w.writeSCPRecord(key, func(f io.Writer) error { return writeBinaryMatrix(f, m) })
	default:
		return fmt.Errorf("%w: unhandled specifier kind", ErrFormatError)
	}
}

func (w *MatrixWriter) writeSCPRecord(key string, write func(io.Writer) error) error {
	path := filepath.Join(w.dir, key+".rec")

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("archive: creating %s: %w", path, err)
	}

	if err := write(f); err != nil {
		f.Close()
		return err
	}

	if err := f.Close(); err != nil {
		return err
	}

	_, err = fmt.Fprintf(w.scp, "%s %s\n", key, path)

	return err
}

// Close flushes and closes the writer.
func (w *MatrixWriter) Close() error {
	if w.bw != nil {
		if err := w.bw.Flush(); err != nil {
			return err
		}
	}

	if w.f != nil {
		if err := w.f.Close(); err != nil {
			return err
		}
	}

	if w.scp != nil {
		return w.scp.Close()
	}

	return nil
}

// VectorWriter writes one keyed vector per utterance.
type VectorWriter struct {
	spec specifier
	f    *os.File
	bw   *bufio.Writer
	scp  *os.File
	dir  string
}

// OpenVectorWriter opens wspec for writing.
func OpenVectorWriter(wspec string) (*VectorWriter, error) {
	spec, err := parseSpecifier(wspec)
	if err != nil {
		return nil, err
	}

	w := &VectorWriter{spec: spec}

	switch spec.kind {
	case kindArkBinary, kindArkText:
		f, err := os.Create(spec.path)
		if err != nil {
			return nil, fmt.Errorf("archive: creating %s: %w", spec.path, err)
		}

		w.f = f
		w.bw = bufio.NewWriter(f)
	case kindSCP:
		scp, err := os.Create(spec.path)
		if err != nil {
			return nil, fmt.Errorf("archive: creating %s: %w", spec.path, err)
		}

		dir := spec.path + ".d"
		if err := os.MkdirAll(dir, 0o755); err != nil {
			scp.Close()
			return nil, fmt.Errorf("archive: creating record dir %s: %w", dir, err)
		}

		w.scp = scp
		w.dir = dir
	}

	return w, nil
}

// Write appends one keyed record.
func (w *VectorWriter) Write(key string, v *linalg.Vector) error {
	switch w.spec.kind {
	case kindArkBinary:
		if err := writeBinaryKey(w.bw, key); err != nil {
			return err
		}

		return writeBinaryVector(w.bw, v)
	case kindArkText:
		return writeTextVector(w.bw, key, v)
	case kindSCP:
		path := filepath.Join(w.dir, key+".rec")

		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("archive: creating %s: %w", path, err)
		}

		if err := writeBinaryVector(f, v); err != nil {
			f.Close()
			return err
		}

		if err := f.Close(); err != nil {
			return err
		}

		_, err = fmt.Fprintf(w.scp, "%s %s\n", key, path)

		return err
	default:
		return fmt.Errorf("%w: unhandled specifier kind", ErrFormatError)
	}
}

// Close flushes and closes the writer.
func (w *VectorWriter) Close() error {
	if w.bw != nil {
		if err := w.bw.Flush(); err != nil {
			return err
		}
	}

	if w.f != nil {
		if err := w.f.Close(); err != nil {
			return err
		}
	}

	if w.scp != nil {
		return w.scp.Close()
	}

	return nil
}
