//go:build !cgo

package dolt

import (
	"context"
	"fmt"
)

// newEmbeddedMode fails in non-CGO builds; dolthub/driver needs cgo.
func newEmbeddedMode(_ context.Context, _ *Config) (*DoltStore, error) {
	return nil, fmt.Errorf("embedded mode requires CGO: %w\n\nConnect to a dolt sql-server instead:\n  c2d config set dolt.server-mode true", ErrNoCGO)
}
