// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev

package inspect

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
)

// chunkSize is the read size used when scanning artifacts for literals.
const chunkSize = 32 * 1024

// ErrEmptyPattern is returned when inspecting with the zero Pattern.
var ErrEmptyPattern = errors.New("empty pattern")

// Contains reports whether the artifact file at path contains p. A missing
// or unreadable artifact is an error; callers treat it as "not found".
func Contains(p Pattern, path string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, fmt.Errorf("failed to open artifact: %w", err)
	}
	defer f.Close()

	return ContainsReader(p, f)
}

// ContainsReader reports whether the stream r contains p.
func ContainsReader(p Pattern, r io.Reader) (bool, error) {
	if p.IsZero() {
		return false, ErrEmptyPattern
	}
	if p.kind == KindRegex {
		return p.re.MatchReader(bufio.NewReaderSize(r, chunkSize)), nil
	}
	return containsLiteral([]byte(p.text), r)
}

// containsLiteral scans r chunk by chunk, carrying the last len(needle)-1
// bytes over so matches spanning a chunk boundary are found.
func containsLiteral(needle []byte, r io.Reader) (bool, error) {
	overlap := len(needle) - 1
	buf := make([]byte, 0, chunkSize+overlap)
	chunk := make([]byte, chunkSize)

	for {
		n, err := r.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
			if bytes.Contains(buf, needle) {
				return true, nil
			}
			if len(buf) > overlap {
				buf = append(buf[:0], buf[len(buf)-overlap:]...)
			}
		}
		if errors.Is(err, io.EOF) {
			return false, nil
		}
		if err != nil {
			return false, fmt.Errorf("failed to read artifact: %w", err)
		}
	}
}

// Inspector is the capability the pipeline depends on. It exists so that a
// structured-output oracle can replace pattern scraping without touching
// stage sequencing.
type Inspector interface {
	Contains(p Pattern, artifact string) (bool, error)
}

// FileInspector implements Inspector over local files.
type FileInspector struct{}

// Contains implements Inspector.
func (FileInspector) Contains(p Pattern, artifact string) (bool, error) {
	return Contains(p, artifact)
}
