package extraction

import (
	"errors"
	"fmt"
)

// Failure classes of an extraction attempt. Every one of them is fatal to
// the import that raised it.
var (
	ErrUpstreamUnavailable    = errors.New("upstream unavailable")
	ErrModelNoResponse        = errors.New("model returned no choices")
	ErrModelDidNotCallTool    = errors.New("model did not call tool")
	ErrConversionFailure      = errors.New("document conversion failed")
	ErrMalformedToolArguments = errors.New("malformed tool arguments")
	ErrInvalidTransactionDate = errors.New("invalid transaction date")
)

// errMissingCredential is an UpstreamUnavailable failure that is never retried.
var errMissingCredential = fmt.Errorf("%w: api key not configured", ErrUpstreamUnavailable)

// NoToolCallError is returned when the model answered with free text instead
// of invoking create_transactions.
type NoToolCallError struct {
	Content string
}

func (e *NoToolCallError) Error() string {
	return fmt.Sprintf("model did not call tool. content=%s", e.Content)
}

func (e *NoToolCallError) Is(target error) bool {
	return target == ErrModelDidNotCallTool
}

// DateError reports the first candidate whose date could not be parsed.
type DateError struct {
	Index int
	Value string
}

func (e *DateError) Error() string {
	return fmt.Sprintf("invalid transaction date %q at item %d", e.Value, e.Index)
}

func (e *DateError) Is(target error) bool {
	return target == ErrInvalidTransactionDate
}

func upstreamError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrUpstreamUnavailable, fmt.Sprintf(format, args...))
}
