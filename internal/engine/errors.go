package engine

import (
	"errors"
	"fmt"
	"io/fs"
)

// ErrPlaybookNotFound is returned before any host is contacted when the
// playbook file does not exist. It matches fs.ErrNotExist too.
var ErrPlaybookNotFound = fmt.Errorf("playbook does not exist: %w", fs.ErrNotExist)

// PlaybookNotFound wraps ErrPlaybookNotFound with the offending path.
func PlaybookNotFound(path string) error {
	return fmt.Errorf("playbook %s: %w", path, ErrPlaybookNotFound)
}

// AutomationError is the generic wrapper for failures raised while
// preparing a run, such as a playbook that does not parse.
type AutomationError struct {
	Err error
}

func (e *AutomationError) Error() string {
	return "automation error: " + e.Err.Error()
}

func (e *AutomationError) Unwrap() error {
	return e.Err
}

// IsAutomationError reports whether err is or wraps an *AutomationError.
func IsAutomationError(err error) bool {
	var ae *AutomationError
	return errors.As(err, &ae)
}
