// Package chunk partitions ordered work into fixed-size ordered groups.
package chunk

import (
	"fmt"

	"github.com/duke-git/lancet/v2/slice"

	operrors "github.com/systmms/opbulk/internal/errors"
)

// Split partitions items into consecutive chunks of at most size elements.
// Concatenating the result reproduces items exactly; only the last chunk may
// be shorter, and an empty input yields no chunks.
func Split[T any](items []T, size int) ([][]T, error) {
	if size < 1 {
		return nil, fmt.Errorf("%w: chunk size must be at least 1, got %d", operrors.ErrInvalidConfiguration, size)
	}
	if len(items) == 0 {
		return [][]T{}, nil
	}
	return slice.Chunk(items, size), nil
}

// Count returns the number of chunks Split produces for n items.
func Count(n, size int) int {
	if size < 1 || n <= 0 {
		return 0
	}
	return (n + size - 1) / size
}
