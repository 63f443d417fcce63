package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/TOMATOFGY/oceanbase/internal/lsmeta"
	"github.com/TOMATOFGY/oceanbase/internal/lsservice"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0 // Successful execution
	ExitFailure      = 1 // Rejected mutation, failed check or failed scenario
	ExitCommandError = 2 // Command error (bad flags, unreadable config, backend unavailable)
)

// ExitError represents an error with a specific exit code.
type ExitError struct {
	Code    int    // Exit code (use ExitFailure or ExitCommandError)
	Kind    string // lsmeta error kind, if any
	Message string
	Err     error // Underlying error (optional)
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

// NewExitError creates a new ExitError with the given code and message.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError wraps an existing error with an exit code.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// rejected classifies an operation failure. Errors that carry an lsmeta
// kind are rejections (exit 1); anything else, such as an unreadable
// backend, is a command error (exit 2).
func rejected(message string, err error) *ExitError {
	kind := lsmeta.KindName(err)
	if kind == "unknown" || errors.Is(err, lsservice.ErrNotRecovered) {
		return &ExitError{Code: ExitCommandError, Message: message, Err: err}
	}
	return &ExitError{Code: ExitFailure, Kind: kind, Message: message, Err: err}
}

// GetExitCode extracts the exit code from an error.
// Returns ExitFailure (1) if the error is not an ExitError.
func GetExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// OutputFormatter handles JSON vs text output for CLI commands.
type OutputFormatter struct {
	Format    string
	Writer    io.Writer
	ErrWriter io.Writer // Separate writer for verbose/diagnostic output (defaults to Writer)
	Verbose   bool
}

// CLIResponse is the standard JSON response format for CLI output.
type CLIResponse struct {
	Status string    `json:"status"`          // "ok" or "error"
	Data   any       `json:"data,omitempty"`  // success payload
	Error  *CLIError `json:"error,omitempty"` // error details
}

// CLIError is the error structure for CLI responses.
type CLIError struct {
	Code    string `json:"code"` // error kind such as "invalid_state", or "E_COMMAND"
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// Success outputs a successful result in the configured format.
func (f *OutputFormatter) Success(data any) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{
			Status: "ok",
			Data:   data,
		})
	}

	switch v := data.(type) {
	case map[string]any:
		writeFields(f.Writer, "", v)
	default:
		fmt.Fprintln(f.Writer, data)
	}
	return nil
}

// Error outputs an error in the configured format.
func (f *OutputFormatter) Error(code, message string, details any) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{
			Status: "error",
			Error: &CLIError{
				Code:    code,
				Message: message,
				Details: details,
			},
		})
	}

	fmt.Fprintf(f.Writer, "Error [%s]: %s\n", code, message)
	if f.Verbose && details != nil {
		fmt.Fprintf(f.Writer, "Details: %v\n", details)
	}
	return nil
}

// Fail reports err in the configured format and returns it unchanged so
// RunE can propagate the exit code.
func (f *OutputFormatter) Fail(err *ExitError) error {
	code := err.Kind
	if code == "" {
		code = "E_COMMAND"
	}
	var details any
	if err.Err != nil {
		details = err.Err.Error()
	}
	if outErr := f.Error(code, err.Message, details); outErr != nil {
		return outErr
	}
	return err
}

// VerboseLog outputs a message only if verbose mode is enabled.
// When format is JSON, verbose logs go to ErrWriter to avoid corrupting JSON output.
func (f *OutputFormatter) VerboseLog(format string, args ...any) {
	if !f.Verbose {
		return
	}
	fmt.Fprintf(f.GetErrWriter(), format+"\n", args...)
}

// GetErrWriter returns the appropriate writer for diagnostic output.
// Returns ErrWriter if set, otherwise Writer.
func (f *OutputFormatter) GetErrWriter() io.Writer {
	if f.ErrWriter != nil {
		return f.ErrWriter
	}
	return f.Writer
}

// writeFields prints a field map one "key: value" line per leaf, sorted,
// with nested maps flattened under dotted keys.
func writeFields(w io.Writer, prefix string, fields map[string]any) {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	for _, k := range keys {
		name := k
		if prefix != "" {
			name = prefix + "." + k
		}
		if nested, ok := fields[k].(map[string]any); ok {
			if len(nested) == 0 {
				fmt.Fprintf(w, "%s: {}\n", name)
				continue
			}
			writeFields(w, name, nested)
			continue
		}
		fmt.Fprintf(w, "%s: %v\n", name, fields[k])
	}
}

// recordLine renders a record summary for list output.
func recordLine(rec lsmeta.Record) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%-12s %-8s %-8s ckpt=%s base=%s",
		rec.Key(), rec.ReplicaType, rec.CreateStatus, rec.ClogCheckpointSCN, rec.ClogBaseLSN)
	fmt.Fprintf(&b, " migration=%s gc=%s restore=%s", rec.MigrationStatus, rec.GCState, rec.RestoreStatus)
	if rec.RebuildSeq > 0 {
		fmt.Fprintf(&b, " rebuild_seq=%d", rec.RebuildSeq)
	}
	return b.String()
}
