package gemini

import (
	"errors"
	"fmt"
)

// ErrTimeout is returned when a Gemini process exceeds its configured timeout.
var ErrTimeout = errors.New("gemini process timed out")

// ExitError reports a Gemini CLI run that exited with a non-zero code.
type ExitError struct {
	Code   int
	Stderr string
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("gemini CLI exited with code %d. Error: %s", e.Code, e.Stderr)
}

// SpawnError reports a Gemini CLI process that could not be started or
// terminated abnormally without an exit code.
type SpawnError struct {
	Err error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("failed to spawn gemini CLI: %v", e.Err)
}

func (e *SpawnError) Unwrap() error {
	return e.Err
}
