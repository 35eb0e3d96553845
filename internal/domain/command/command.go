// Package command resolves user-supplied command strings into executable
// shell commands plus the set of referenced file ids.
//
// Three forms are accepted:
//
//	/ai-<name> <file-id> [--key=value ...]   AI pipeline
//	/<name> <file-id> [--key=value ...]      built-in preset
//	anything else                            raw command, file ids inline
//
// Executables keep file ids as input placeholders; the runner swaps them for
// absolute paths right before spawning.
package command

import (
	"errors"
	"strings"

	"github.com/Strob0t/stratos/internal/domain"
)

// Kind is the form a command was written in.
type Kind string

const (
	KindRaw     Kind = "raw"
	KindBuiltin Kind = "builtin"
	KindAI      Kind = "ai"
)

// Resolution is the result of resolving a command string.
type Resolution struct {
	Kind       Kind     `json:"kind"`
	Name       string   `json:"name,omitempty"`
	Executable string   `json:"executable"`
	FileIDs    []string `json:"file_ids"`
	Options    Options  `json:"options,omitempty"`
	OutputName string   `json:"output_name,omitempty"`
}

// ErrorCode classifies a ResolutionError.
type ErrorCode string

const (
	CodeEmpty               ErrorCode = "empty_command"
	CodeMissingArgument     ErrorCode = "missing_argument"
	CodeUnknownCommand      ErrorCode = "unknown_command"
	CodeInvalidInput        ErrorCode = "invalid_input"
	CodeInvalidOption       ErrorCode = "invalid_option"
	CodeNoFileReference     ErrorCode = "no_file_reference"
	CodeUnresolvedReference ErrorCode = "unresolved_reference"
)

// ResolutionError reports why a command string could not be resolved.
// It unwraps to domain.ErrValidation.
type ResolutionError struct {
	Code    ErrorCode
	Message string
	Missing []string // file ids that do not exist, for CodeUnresolvedReference
}

func (e *ResolutionError) Error() string { return e.Message }

// Unwrap lets callers match resolution failures with errors.Is(err, domain.ErrValidation).
func (e *ResolutionError) Unwrap() error { return domain.ErrValidation }

// AsResolutionError extracts a *ResolutionError from err.
func AsResolutionError(err error) (*ResolutionError, bool) {
	var re *ResolutionError
	if errors.As(err, &re) {
		return re, true
	}
	return nil, false
}

func missingArgument(kind Kind) *ResolutionError {
	label := "Built-in"
	if kind == KindAI {
		label = "AI"
	}
	return &ResolutionError{
		Code:    CodeMissingArgument,
		Message: label + " command requires at least a command name and input file ID",
	}
}

func unknownCommand(kind Kind, name string) *ResolutionError {
	label := "built-in"
	if kind == KindAI {
		label = "AI"
	}
	if name == "" {
		name = "empty"
	}
	return &ResolutionError{
		Code:    CodeUnknownCommand,
		Message: "Unknown " + label + " command: " + name,
	}
}

func unresolved(missing []string) *ResolutionError {
	return &ResolutionError{
		Code:    CodeUnresolvedReference,
		Message: "Files not found: " + strings.Join(missing, ", "),
		Missing: missing,
	}
}
