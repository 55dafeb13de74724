package nodejs

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a resolution or construction failure.
type ErrorKind string

const (
	// KindCapability indicates the interpreter capability is unavailable.
	KindCapability ErrorKind = "capability"

	// KindConfiguration indicates the deployment was set up incorrectly,
	// for example with a shared loader.
	KindConfiguration ErrorKind = "configuration"

	// KindNotFound indicates the identifier does not name an eligible project
	// or the entry script is missing.
	KindNotFound ErrorKind = "not_found"

	// KindMalformed indicates a project descriptor that could not be parsed.
	KindMalformed ErrorKind = "malformed"

	// KindIO indicates a filesystem or archive failure.
	KindIO ErrorKind = "io"

	// KindExecution indicates the interpreter rejected or failed the script.
	KindExecution ErrorKind = "execution"
)

// Fixed resolution failure messages.
const (
	MsgDisabled          = "Resolution of node.js components disabled"
	MsgIsolationRequired = "isolating loader required"
	MsgNotEligible       = "package.json with node engines entry or node_modules directory required"
)

// ErrMalformedManifest is wrapped by every package.json parse failure.
var ErrMalformedManifest = errors.New("malformed package.json")

// Error is a classified failure with the identifier it concerns.
type Error struct {
	// Kind is the failure classification.
	Kind ErrorKind `json:"kind"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Identifier is the deployment identifier or script name, if known.
	Identifier string `json:"identifier,omitempty"`

	// Err is the underlying cause.
	Err error `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Kind, e.Message)
	if e.Identifier != "" {
		msg = fmt.Sprintf("%s (identifier=%s)", msg, e.Identifier)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap returns the underlying error for error chain inspection.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind && (t.Message == "" || t.Message == e.Message)
}

// WithIdentifier adds identifier context to an error.
func (e *Error) WithIdentifier(identifier string) *Error {
	e.Identifier = identifier
	return e
}

func newError(kind ErrorKind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf returns the kind of a classified error, or "" for any other error.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsKind reports whether err is a classified error of kind.
func IsKind(err error, kind ErrorKind) bool {
	return KindOf(err) == kind
}
