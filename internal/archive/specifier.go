// Package archive implements a minimal keyed-archive I/O layer for
// per-utterance feature matrices and vectors, addressing the rspec
// ("read specifier") / wspec ("write specifier") contract spec.md
// treats as given (`<feats-rspec>`, `<targets-rspec>`, `<vec-wspec>`,
// `<mat-wspec>`) without specifying a concrete format.
//
// Three specifier kinds are supported, named after Kaldi's table-archive
// convention: "ark:path" (binary, one file holding every keyed record),
// "ark,t:path" (the same, in a human-readable text form), and "scp:path"
// (path is an index file of "key record-path" lines, one small archive
// file per key, alongside it). Binary record framing continues the
// length-prefixed style of internal/noiseprior's serialization (itself
// grounded on the teacher's internal/safetensors framing).
package archive

import (
	"errors"
	"fmt"
	"strings"
)

// ErrMissingKey is returned when a random-access reader is queried for
// a key its archive does not contain.
var ErrMissingKey = errors.New("archive: missing key")

// ErrFormatError is returned for a malformed specifier string or a
// corrupt archive record.
var ErrFormatError = errors.New("archive: format error")

type kind int

const (
	kindArkBinary kind = iota
	kindArkText
	kindSCP
)

type specifier struct {
	kind kind
	path string
}

// parseSpecifier parses "ark:path", "ark,t:path", or "scp:path".
func parseSpecifier(s string) (specifier, error) {
	idx := strings.Index(s, ":")
	if idx < 0 {
		return specifier{}, fmt.Errorf("%w: %q is not a valid rspec/wspec (want ark:/ark,t:/scp:<path>)", ErrFormatError, s)
	}

	tag, path := s[:idx], s[idx+1:]
	if path == "" {
		return specifier{}, fmt.Errorf("%w: %q has an empty path", ErrFormatError, s)
	}

	switch tag {
	case "ark":
		return specifier{kind: kindArkBinary, path: path}, nil
	case "ark,t":
		return specifier{kind: kindArkText, path: path}, nil
	case "scp":
		return specifier{kind: kindSCP, path: path}, nil
	default:
		return specifier{}, fmt.Errorf("%w: unknown specifier tag %q (want ark, ark,t, or scp)", ErrFormatError, tag)
	}
}
