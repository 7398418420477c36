package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/deepnoodle-ai/recon/control"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0 // Operation accepted
	ExitFailure      = 1 // Operation rejected or failed (stale write, not paused, ...)
	ExitCommandError = 2 // Command error (bad config, store unreachable, bad arguments)
)

// ExitError carries the exit code a command should terminate with.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// NewExitError creates an ExitError with the given code and message.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError wraps err with an exit code.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode extracts the exit code from an error. Errors that are not an
// ExitError map to ExitCommandError, which covers cobra's argument errors.
func GetExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitCommandError
}

// accepted reports whether a response status can describe an operation that
// did what was asked. Rejections also carry an error message.
func accepted(status string) bool {
	switch status {
	case control.StatusPaused,
		control.StatusComplete,
		control.StatusRunningOrComplete,
		control.StatusNotStarted,
		control.StatusDelivered:
		return true
	default:
		return false
	}
}

// emit writes resp in the configured format and turns a rejected response
// into an ExitError. The response is written either way.
func emit(w io.Writer, asJSON bool, resp *control.Response) error {
	if asJSON {
		if err := writeJSON(w, resp); err != nil {
			return err
		}
	} else {
		RenderResponse(w, resp)
	}
	if resp.Error != "" || !accepted(resp.Status) {
		exitErr := NewExitError(ExitFailure, "operation returned "+resp.Status)
		if resp.Error != "" {
			exitErr.Err = errors.New(resp.Error)
		}
		return exitErr
	}
	return nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return WrapExitError(ExitCommandError, "failed to encode output", err)
	}
	return nil
}
