// Package client sends commands to the kilnd daemon.
//
// Each call dials the daemon socket, writes one request envelope, and reads
// responses until the final one. Cancelling the call's context closes the
// connection, which the daemon treats as cancellation of the command.
package client

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"

	"github.com/emberhq/kilnd/internal/protocol"
)

// Largest response line accepted from the daemon.
const maxLineSize = 16 << 20

// A handle on the daemon socket.
type Client struct {
	socket string
}

// Returns a client for the daemon listening on socket.
//
// No connection is made until the first call.
func Dial(socket string) *Client {
	return &Client{socket: socket}
}

// Sends a command and decodes the final response payload into result.
//
// An error response is returned as an [*Error]. result may be nil when the
// response carries no payload.
func (c *Client) Call(ctx context.Context, cmd protocol.Command, request, result any) error {
	return c.Stream(ctx, cmd, request, result, nil, nil)
}

// Like [Client.Call], but copies intermediate container output to stdout and
// stderr. Nil writers discard the corresponding stream.
func (c *Client) Stream(ctx context.Context, cmd protocol.Command, request, result any, stdout, stderr io.Writer) error {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", c.socket)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	data, err := protocol.Encode(cmd, request)
	if err != nil {
		return err
	}
	if _, err := conn.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("%w: %w", ErrConnection, err)
	}

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64<<10), maxLineSize)

	for scanner.Scan() {
		env, payload, err := protocol.Decode(scanner.Bytes())
		if err != nil {
			return err
		}

		switch env.Command {
		case protocol.CmdOutput:
			if err := writeOutput(payload, stdout, stderr); err != nil {
				return err
			}
		case protocol.CmdError:
			res, err := protocol.DecodePayload[protocol.ErrorResult](payload)
			if err != nil {
				return err
			}
			return &Error{Message: res.Message, ExitCode: res.ExitCode}
		case protocol.CmdOK:
			if result == nil || len(payload) == 0 {
				return nil
			}
			return decodeInto(payload, result)
		default:
			return fmt.Errorf("%w: unexpected response %q", protocol.ErrProtocol, env.Command)
		}
	}

	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrConnection, err)
	}
	return fmt.Errorf("%w: connection closed before response", ErrConnection)
}

// Copies an output event to its stream.
func writeOutput(payload []byte, stdout, stderr io.Writer) error {
	ev, err := protocol.DecodePayload[protocol.OutputEvent](payload)
	if err != nil {
		return err
	}

	w := stdout
	if ev.Stream == protocol.StreamStderr {
		w = stderr
	}
	if w == nil {
		return nil
	}
	_, err = io.WriteString(w, ev.Data)
	return err
}

func decodeInto(payload []byte, result any) error {
	if err := json.Unmarshal(payload, result); err != nil {
		return fmt.Errorf("%w: %w", protocol.ErrProtocol, err)
	}
	return nil
}

// Reports whether err means the daemon is not running.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrUnavailable)
}
