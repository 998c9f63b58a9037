package gateway

import (
	"context"
	"encoding/json"
	"fmt"
)

// Response is the envelope every command returns.
type Response struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

// OK wraps a successful result.
func OK(data any) Response {
	return Response{Success: true, Data: data}
}

// Fail wraps an error message.
func Fail(msg string) Response {
	return Response{Success: false, Error: msg}
}

// Command is one operation the host can invoke.
type Command interface {
	// Name returns the command name used on the wire (e.g., "navigate")
	Name() string

	// Description returns a human-readable summary
	Description() string

	// Execute runs the command with its JSON arguments. The returned value
	// becomes the response data.
	Execute(ctx context.Context, args json.RawMessage) (any, error)
}

type commandFunc struct {
	name string
	desc string
	fn   func(ctx context.Context, args json.RawMessage) (any, error)
}

func (c *commandFunc) Name() string        { return c.name }
func (c *commandFunc) Description() string { return c.desc }
func (c *commandFunc) Execute(ctx context.Context, args json.RawMessage) (any, error) {
	return c.fn(ctx, args)
}

// NewCommand adapts a function to a Command.
func NewCommand(name, description string, fn func(ctx context.Context, args json.RawMessage) (any, error)) Command {
	return &commandFunc{name: name, desc: description, fn: fn}
}

// ArgumentError reports malformed command arguments.
type ArgumentError struct {
	Command string
	Err     error
}

func (e *ArgumentError) Error() string {
	return fmt.Sprintf("invalid arguments for %s: %v", e.Command, e.Err)
}

func (e *ArgumentError) Unwrap() error { return e.Err }

// decodeArgs unmarshals raw into T. Missing or null arguments decode to the
// zero value.
func decodeArgs[T any](command string, raw json.RawMessage) (T, error) {
	var v T
	if len(raw) == 0 || string(raw) == "null" {
		return v, nil
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return v, &ArgumentError{Command: command, Err: err}
	}
	return v, nil
}
