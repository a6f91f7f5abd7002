package protocol

import (
	"encoding/json"
	"fmt"
)

// Identifies a request or response.
type Command string

const (
	CmdBuild        Command = "build"         // Execute a recipe.
	CmdRun          Command = "run"           // Run an image's entrypoint to completion.
	CmdImageDestroy Command = "image-destroy" // Remove an image and its containers.
	CmdCachePrune   Command = "cache-prune"   // Remove all cache images.
	CmdStatus       Command = "status"        // Report daemon status.
	CmdShutdown     Command = "shutdown"      // Stop the daemon.

	CmdOK     Command = "ok"     // Successful final response.
	CmdError  Command = "error"  // Failed final response, payload is [ErrorResult].
	CmdOutput Command = "output" // Intermediate container output, payload is [OutputEvent].
)

// Wire format of every message.
type Envelope struct {
	Command Command         `json:"command"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Reports whether the command ends an exchange.
func (c Command) Final() bool {
	return c == CmdOK || c == CmdError
}

// Encodes a command and payload as a JSON envelope, without the trailing
// newline. A nil payload is omitted.
func Encode(cmd Command, payload any) ([]byte, error) {
	env := Envelope{Command: cmd}

	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrProtocol, err)
		}
		env.Payload = raw
	}

	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrProtocol, err)
	}
	return data, nil
}

// Decodes a JSON envelope, returning it along with its raw payload.
func Decode(data []byte) (*Envelope, json.RawMessage, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrProtocol, err)
	}
	if env.Command == "" {
		return nil, nil, ErrMissingCommand
	}
	return &env, env.Payload, nil
}

// Decodes a payload into T. An empty payload yields the zero value.
func DecodePayload[T any](payload json.RawMessage) (*T, error) {
	var v T
	if len(payload) == 0 || string(payload) == "null" {
		return &v, nil
	}
	if err := json.Unmarshal(payload, &v); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrProtocol, err)
	}
	return &v, nil
}
