package errors

import (
	"fmt"
)

// Kind is the stable error classification surfaced at the tool boundary.
// Kinds are transport-independent strings; callers match on them, never on
// error message text.
type Kind string

const (
	KindValidation      Kind = "validation"
	KindFileNotFound    Kind = "file-not-found"
	KindNotSwiftFile    Kind = "not-swift-file"
	KindProjectNotFound Kind = "project-not-found"
	KindEnvironment     Kind = "environment"
	KindTimeout         Kind = "timeout"
	KindSessionLost     Kind = "session-lost"
	KindLSPError        Kind = "lsp-error"
	KindBuildError      Kind = "build-error"
	KindBuildInProgress Kind = "build-in-progress"
	KindInternal        Kind = "internal"
)

// Sentinel errors for each kind. Wrap these with errors.Wrap to add context
// while preserving the classification.
var (
	ErrValidation      = New("validation failed")
	ErrFileNotFound    = New("file not found")
	ErrNotSwiftFile    = New("not a Swift file")
	ErrProjectNotFound = New("no project found")
	ErrEnvironment     = New("required tool unavailable")
	ErrTimeout         = New("operation timed out")
	ErrSessionLost     = New("language server session lost")
	ErrBuildError      = New("build failed")
	ErrBuildInProgress = New("index build already in progress")
)

// LSPError preserves a JSON-RPC error returned by the language server.
type LSPError struct {
	Code    int
	Message string
}

func (e *LSPError) Error() string {
	return fmt.Sprintf("language server error %d: %s", e.Code, e.Message)
}

// NewLSPError creates an error carrying the server's JSON-RPC error payload.
func NewLSPError(code int, message string) error {
	return WithStack(&LSPError{Code: code, Message: message})
}

// KindOf classifies an error into the stable taxonomy. Unrecognized errors
// are internal: any invariant violation surfaced by the core.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var lspErr *LSPError
	if As(err, &lspErr) {
		return KindLSPError
	}
	switch {
	case Is(err, ErrValidation):
		return KindValidation
	case Is(err, ErrFileNotFound):
		return KindFileNotFound
	case Is(err, ErrNotSwiftFile):
		return KindNotSwiftFile
	case Is(err, ErrProjectNotFound):
		return KindProjectNotFound
	case Is(err, ErrEnvironment):
		return KindEnvironment
	case Is(err, ErrTimeout):
		return KindTimeout
	case Is(err, ErrSessionLost):
		return KindSessionLost
	case Is(err, ErrBuildInProgress):
		return KindBuildInProgress
	case Is(err, ErrBuildError):
		return KindBuildError
	default:
		return KindInternal
	}
}

// Retriable reports whether the operation may succeed if retried.
// Session-lost errors are retriable with a fresh session; timeouts may
// succeed on a warmer index.
func Retriable(err error) bool {
	switch KindOf(err) {
	case KindSessionLost, KindTimeout:
		return true
	default:
		return false
	}
}

// Envelope is the structured error shape returned across the tool boundary.
type Envelope struct {
	OK      bool     `json:"ok"`
	Kind    Kind     `json:"kind"`
	Message string   `json:"message"`
	Details []string `json:"details,omitempty"`
}

// ToEnvelope converts an error into its boundary representation.
func ToEnvelope(err error) Envelope {
	if err == nil {
		return Envelope{OK: true}
	}
	return Envelope{
		OK:      false,
		Kind:    KindOf(err),
		Message: err.Error(),
		Details: GetAllDetails(err),
	}
}
