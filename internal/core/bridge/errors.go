package bridge

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/caboose014/Hue-Savant-Coprocessor/internal/core/hub"
)

// Error classes carried by client-facing error lines.
const (
	ClassEmptyCommand    = "empty_command"
	ClassParseError      = "parse_error"
	ClassTypeMismatch    = "type_mismatch"
	ClassHubError        = "hub_error"
	ClassUnsupportedPath = "unsupported_path"
)

// ErrUnsupportedAckPath is returned for hub acknowledgements whose path
// does not have the resource/id/field or resource/id/sub/field layout.
var ErrUnsupportedAckPath = errors.New("bridge: unsupported acknowledgement path")

// Error is a failure reported to a client as an error line.
type Error struct {
	Class       string
	Description string
	// Type and Address are set for errors relayed from the hub.
	Type    int
	Address string
}

// Errorf builds an Error of the given class.
func Errorf(class, format string, args ...any) *Error {
	return &Error{Class: class, Description: fmt.Sprintf(format, args...)}
}

func (e *Error) Error() string {
	return fmt.Sprintf("bridge: %s: %s", e.Class, e.Description)
}

// Line renders the error as a reply line.
func (e *Error) Line() string {
	body := map[string]any{
		"class":       e.Class,
		"description": e.Description,
	}
	if e.Class == ClassHubError && e.Type != 0 {
		body["type"] = e.Type
		body["address"] = e.Address
	}
	data, _ := json.Marshal(map[string]any{"error": body})
	return string(data)
}

// ErrorLine renders any error as a reply line. Errors that are not an
// *Error are reported as hub errors, since every other failure on a
// command path comes from talking to the hub.
func ErrorLine(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Line()
	}
	var apiErr *hub.APIError
	if errors.As(err, &apiErr) {
		return fromAPIError(apiErr).Line()
	}
	if errors.Is(err, ErrUnsupportedAckPath) {
		return Errorf(ClassUnsupportedPath, "%v", err).Line()
	}
	return Errorf(ClassHubError, "%v", err).Line()
}

func fromAPIError(apiErr *hub.APIError) *Error {
	return &Error{
		Class:       ClassHubError,
		Description: apiErr.Description,
		Type:        apiErr.Type,
		Address:     apiErr.Address,
	}
}
