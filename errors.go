package bleproxy

import "github.com/pkg/errors"

// Error taxonomy shared by every proxy operation. Callers classify a returned
// error with the Is* helpers; the wrapped message carries the detail.
var (
	// ErrInvalidArgument is returned synchronously for malformed parameters.
	// No state is mutated.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrUnavailable is transient: no free credit, no free tx buffer, a full
	// queue, or a single-shot send still outstanding. Retry once resources free up.
	ErrUnavailable = errors.New("unavailable")

	// ErrResourceExhausted means the channel storage is full.
	ErrResourceExhausted = errors.New("resource exhausted")

	// ErrFailedPrecondition is returned by channels that are not running.
	ErrFailedPrecondition = errors.New("failed precondition")
)

func IsInvalidArgument(err error) bool    { return errors.Cause(err) == ErrInvalidArgument }
func IsUnavailable(err error) bool        { return errors.Cause(err) == ErrUnavailable }
func IsResourceExhausted(err error) bool  { return errors.Cause(err) == ErrResourceExhausted }
func IsFailedPrecondition(err error) bool { return errors.Cause(err) == ErrFailedPrecondition }
