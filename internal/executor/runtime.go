// Package executor contains the sandbox runtimes that execute untrusted code
// under a wall-clock timeout and a memory ceiling.
package executor

import (
	"context"
	"errors"

	"github.com/Harsh-BH/codesandbox/internal/domain"
)

// ErrUnsupportedLanguage is returned when a runtime has no recipe for a language.
var ErrUnsupportedLanguage = errors.New("unsupported language")

// Runtime runs one request in an isolated sandbox.
//
// Run returns a result for every execution the sandbox managed to start,
// including non-zero exits, OOM kills and timeouts (TimedOut set, partial
// output kept). A non-nil error means the sandbox itself failed. Cancelling
// ctx must kill the sandbox.
type Runtime interface {
	Run(ctx context.Context, req *domain.ExecutionRequest) (*domain.ExecutionResult, error)
}
