// Package chunker splits extracted text into overlapping windows.
package chunker

import (
	"fmt"
	"iter"
	"unicode/utf8"

	appErr "github.com/xxxsen/legisrag/internal/pkg/errors"
)

// Validate reports whether (maxSize, overlap) can produce a finite sequence.
func Validate(maxSize, overlap int) error {
	if maxSize <= 0 {
		return fmt.Errorf("%w: chunk max size must be > 0, got %d", appErr.ErrConfig, maxSize)
	}
	if overlap < 0 || overlap >= maxSize {
		return fmt.Errorf("%w: chunk overlap must be in [0, %d), got %d", appErr.ErrConfig, maxSize, overlap)
	}
	return nil
}

// Chunk returns the windows of text as (index, chunk) pairs. Sizes are in
// runes. Windows advance by maxSize-overlap; the last one is cut at the end of
// the text. Iterating the sequence again yields the same chunks.
func Chunk(text string, maxSize, overlap int) (iter.Seq2[int, string], error) {
	if err := Validate(maxSize, overlap); err != nil {
		return nil, err
	}
	return func(yield func(int, string) bool) {
		if text == "" {
			return
		}
		// byte offset of every rune start, plus len(text) as sentinel
		offsets := make([]int, 0, utf8.RuneCountInString(text)+1)
		for i := range text {
			offsets = append(offsets, i)
		}
		runes := len(offsets)
		offsets = append(offsets, len(text))

		stride := maxSize - overlap
		for idx, start := 0, 0; start < runes; idx, start = idx+1, start+stride {
			end := start + maxSize
			if end > runes {
				end = runes
			}
			if !yield(idx, text[offsets[start]:offsets[end]]) {
				return
			}
			if end == runes {
				return
			}
		}
	}, nil
}

// Collect materializes Chunk.
func Collect(text string, maxSize, overlap int) ([]string, error) {
	seq, err := Chunk(text, maxSize, overlap)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, c := range seq {
		out = append(out, c)
	}
	return out, nil
}
