package opgraph

import (
	"cmp"
	"fmt"
	"strings"

	"github.com/edgefleet/c2d/internal/types"
)

// Compare is the total node order used for every traversal: creation
// timestamp ascending, then id. It returns 0 only for the same node (same
// reference or same id). Two distinct operations with equal timestamps and no
// ids cannot be ordered and yield ErrIncomparable.
func Compare(a, b *types.Operation) (int, error) {
	if a == b {
		return 0, nil
	}
	if a == nil || b == nil {
		return 0, fmt.Errorf("%w: nil operation", ErrIncomparable)
	}
	if c := cmp.Compare(a.Created, b.Created); c != 0 {
		return c, nil
	}
	if a.ID == "" && b.ID == "" {
		return 0, fmt.Errorf("%w: equal creation time %d and no ids", ErrIncomparable, a.Created)
	}
	return strings.Compare(a.ID, b.ID), nil
}
