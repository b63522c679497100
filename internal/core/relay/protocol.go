package relay

import (
	"encoding/json"
	"strings"

	"github.com/caboose014/Hue-Savant-Coprocessor/internal/core/bridge"
	"github.com/caboose014/Hue-Savant-Coprocessor/internal/core/document"
)

// RequestKind tags a parsed inbound line.
type RequestKind int

const (
	// RequestInvalid is a line that could not be parsed; Err says why.
	RequestInvalid RequestKind = iota
	// RequestEmpty is a blank line.
	RequestEmpty
	// RequestClose ends the session (close, exit, quit).
	RequestClose
	// RequestRestart asks for the relay to be rebuilt.
	RequestRestart
	// RequestQuery reads a resource: "lights" or "lights/1".
	RequestQuery
	// RequestCommand writes a resource: "lights/1/state%{...}[%r]".
	RequestCommand
	// RequestCreate creates a resource: "+groups%{...}".
	RequestCreate
)

// Request is the parsed form of one inbound line.
type Request struct {
	Kind    RequestKind
	Path    string
	Body    document.Map
	Channel string
	Err     *bridge.Error
}

// ParseLine parses one inbound line. Line terminators are ignored.
func ParseLine(line string) Request {
	line = strings.Trim(line, "\r\n")

	switch line {
	case "":
		return Request{Kind: RequestEmpty}
	case "close", "exit", "quit":
		return Request{Kind: RequestClose}
	case "restart":
		return Request{Kind: RequestRestart}
	}

	if rest, ok := strings.CutPrefix(line, "+"); ok {
		path, body, found := strings.Cut(rest, "%")
		if !found {
			return invalid(bridge.ClassParseError, "create needs <resource>%%<json body>")
		}
		m, perr := parseBody(body)
		if perr != nil {
			return Request{Kind: RequestInvalid, Err: perr}
		}
		return Request{Kind: RequestCreate, Path: path, Body: m}
	}

	parts := strings.Split(line, "%")
	switch len(parts) {
	case 1:
		return Request{Kind: RequestQuery, Path: parts[0]}
	case 2, 3:
		if parts[0] == "" {
			return invalid(bridge.ClassParseError, "command has no resource path")
		}
		m, perr := parseBody(parts[1])
		if perr != nil {
			return Request{Kind: RequestInvalid, Err: perr}
		}
		req := Request{Kind: RequestCommand, Path: parts[0], Body: m}
		if len(parts) == 3 {
			switch parts[2] {
			case "r", "g", "b":
				req.Channel = parts[2]
			default:
				return invalid(bridge.ClassParseError, "unknown colour channel %q", parts[2])
			}
		}
		return req
	default:
		return invalid(bridge.ClassParseError, "too many %% separated segments")
	}
}

// parseBody distinguishes malformed JSON from well-formed JSON that is not
// an object.
func parseBody(body string) (document.Map, *bridge.Error) {
	if !json.Valid([]byte(body)) {
		return nil, bridge.Errorf(bridge.ClassParseError, "malformed JSON body")
	}
	m, err := document.Parse([]byte(body))
	if err != nil {
		return nil, bridge.Errorf(bridge.ClassTypeMismatch, "JSON body is not an object")
	}
	return m, nil
}

func invalid(class, format string, args ...any) Request {
	return Request{Kind: RequestInvalid, Err: bridge.Errorf(class, format, args...)}
}
