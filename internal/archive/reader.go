package archive

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/example/go-noise-vector/internal/linalg"
)

type scpEntry struct {
	key  string
	path string
}

func readSCPEntries(path string) ([]scpEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("archive: opening scp %s: %w", path, err)
	}
	defer f.Close()

	var entries []scpEntry

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}

		fields := strings.Fields(line)
		if len(fields) != 2 {
			return nil, fmt.Errorf("%w: malformed scp line %q", ErrFormatError, line)
		}

		entries = append(entries, scpEntry{key: fields[0], path: fields[1]})
	}

	if err := sc.Err(); err != nil {
		return nil, err
	}

	return entries, nil
}

// SequentialMatrixReader iterates keyed matrix records in archive
// order, mirroring the teacher/original's
// "for (;!reader.Done(); reader.Next())" idiom.
type SequentialMatrixReader struct {
	spec    specifier
	f       *os.File
	br      *bufio.Reader
	ts      *textRecordScanner
	entries []scpEntry
	idx     int

	key  string
	val  *linalg.Matrix
	err  error
	done bool
}

// OpenSequentialMatrixReader opens rspec and loads the first record.
func OpenSequentialMatrixReader(rspec string) (*SequentialMatrixReader, error) {
	spec, err := parseSpecifier(rspec)
	if err != nil {
		return nil, err
	}

	r := &SequentialMatrixReader{spec: spec}

	switch spec.kind {
	case kindArkBinary:
		f, err := os.Open(spec.path)
		if err != nil {
			return nil, fmt.Errorf("archive: opening %s: %w", spec.path, err)
		}

		r.f = f
		r.br = bufio.NewReader(f)
	case kindArkText:
		f, err := os.Open(spec.path)
		if err != nil {
			return nil, fmt.Errorf("archive: opening %s: %w", spec.path, err)
		}

		r.f = f
		r.ts = newTextRecordScanner(f)
	case kindSCP:
		entries, err := readSCPEntries(spec.path)
		if err != nil {
			return nil, err
		}

		r.entries = entries
	}

	r.Next()

	return r, nil
}

// Done reports whether every record has been consumed (or an error
// terminated iteration early; check Err after the loop).
func (r *SequentialMatrixReader) Done() bool { return r.done }

// Key returns the current record's key.
func (r *SequentialMatrixReader) Key() string { return r.key }

// Value returns the current record's matrix.
func (r *SequentialMatrixReader) Value() *linalg.Matrix { return r.val }

// Err returns the first error encountered, if any (nil at clean EOF).
func (r *SequentialMatrixReader) Err() error { return r.err }

// Next advances to the next record.
func (r *SequentialMatrixReader) Next() {
	if r.done || r.err != nil {
		return
	}

	switch r.spec.kind {
	case kindArkBinary:
		key, err := readBinaryKey(r.br)
		if err != nil {
			r.finish(err)
			return
		}

		m, err := readBinaryMatrix(r.br)
		if err != nil {
			r.finish(fmt.Errorf("%w: record %q: %w", ErrFormatError, key, err))
			return
		}

		r.key, r.val = key, m
	case kindArkText:
		key, ok := r.ts.nextKey()
		if !ok {
			r.finish(r.ts.err)
			return
		}

		m, err := r.ts.readMatrixBody()
		if err != nil {
			r.finish(err)
			return
		}

		r.key, r.val = key, m
	case kindSCP:
		if r.idx >= len(r.entries) {
			r.finish(nil)
			return
		}

		entry := r.entries[r.idx]
		r.idx++

		m, err := readStandaloneMatrix(entry.path)
		if err != nil {
			r.finish(err)
			return
		}

		r.key, r.val = entry.key, m
	}
}

func (r *SequentialMatrixReader) finish(err error) {
	r.done = true

	if err != nil && err != io.EOF {
		r.err = err
	}
}

// Close releases any open file handles.
func (r *SequentialMatrixReader) Close() error {
	if r.f != nil {
		return r.f.Close()
	}

	return nil
}

func readStandaloneMatrix(path string) (*linalg.Matrix, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("archive: opening record %s: %w", path, err)
	}
	defer f.Close()

	return readBinaryMatrix(f)
}

// RandomAccessMatrixReader supports HasKey/Value lookups, used for
// target posteriors keyed by utterance.
type RandomAccessMatrixReader struct {
	values map[string]*linalg.Matrix
	paths  map[string]string // scp only: lazy per-key load
}

// OpenRandomAccessMatrixReader opens rspec, eagerly loading ark-style
// archives and indexing (but not yet reading) scp-style ones.
func OpenRandomAccessMatrixReader(rspec string) (*RandomAccessMatrixReader, error) {
	spec, err := parseSpecifier(rspec)
	if err != nil {
		return nil, err
	}

	r := &RandomAccessMatrixReader{}

	switch spec.kind {
	case kindArkBinary, kindArkText:
		seq, err := OpenSequentialMatrixReader(rspec)
		if err != nil {
			return nil, err
		}
		defer seq.Close()

		r.values = map[string]*linalg.Matrix{}

		for !seq.Done() {
			r.values[seq.Key()] = seq.Value()
			seq.Next()
		}

		if seq.Err() != nil {
			return nil, seq.Err()
		}
	case kindSCP:
		entries, err := readSCPEntries(spec.path)
		if err != nil {
			return nil, err
		}

		r.paths = make(map[string]string, len(entries))
		for _, e := range entries {
			r.paths[e.key] = e.path
		}
	}

	return r, nil
}

// HasKey reports whether utt has a record.
func (r *RandomAccessMatrixReader) HasKey(utt string) bool {
	if r.values != nil {
		_, ok := r.values[utt]
		return ok
	}

	_, ok := r.paths[utt]

	return ok
}

// Value returns utt's matrix, or ErrMissingKey.
func (r *RandomAccessMatrixReader) Value(utt string) (*linalg.Matrix, error) {
	if r.values != nil {
		m, ok := r.values[utt]
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrMissingKey, utt)
		}

		return m, nil
	}

	path, ok := r.paths[utt]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrMissingKey, utt)
	}

	return readStandaloneMatrix(path)
}
