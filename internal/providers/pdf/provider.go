package pdf

import (
	"context"
	"io"
)

// Provider renders credit statements. The data is fully resolved by the
// caller; rendering never touches storage.
type Provider interface {
	GenerateStatement(ctx context.Context, data StatementData) (io.Reader, error)
}
