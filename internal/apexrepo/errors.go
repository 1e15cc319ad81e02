package apexrepo

import (
	"errors"
	"fmt"

	"github.com/open-edge-platform/apex-catalog/internal/utils/logger"
)

var (
	ErrNotFound          = errors.New("apex not found")
	ErrPublicKeyMismatch = errors.New("public key doesn't match")
	ErrDuplicateApex     = errors.New("duplicate apex")
)

// InvariantError reports a catalog state that must never happen on a
// correctly built device. It is delivered to the repository's AbortHandler.
type InvariantError struct {
	Msg string
}

func (e *InvariantError) Error() string { return e.Msg }

// IsInvariantError reports whether err wraps an *InvariantError.
func IsInvariantError(err error) bool {
	var inv *InvariantError
	return errors.As(err, &inv)
}

// AbortHandler receives invariant violations. The default handler logs at
// fatal level, which exits the process.
type AbortHandler func(err *InvariantError)

// DefaultAbortHandler terminates the process.
func DefaultAbortHandler(err *InvariantError) {
	logger.Logger().Fatalf("%v", err)
}

// fatal hands an invariant violation to the abort handler. If the handler
// returns, the error is returned so the caller can unwind.
func (r *Repository) fatal(format string, args ...interface{}) error {
	err := &InvariantError{Msg: fmt.Sprintf(format, args...)}
	r.abort(err)
	return err
}
