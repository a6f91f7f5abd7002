package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	"github.com/emberhq/kilnd/internal/client"
	"github.com/emberhq/kilnd/internal/protocol"
)

// Represents the 'kilnd status' command.
type StatusCmd struct{}

// Executes the status command. A daemon that is not running is reported,
// not treated as a failure.
func (c *StatusCmd) Run(ctx context.Context) error {
	var res protocol.StatusResult
	err := daemon().Call(ctx, protocol.CmdStatus, nil, &res)
	if client.IsUnavailable(err) {
		fmt.Println("kilnd is not running")
		return nil
	}
	if err != nil {
		return err
	}

	printStatus(os.Stdout, &res)
	return nil
}

// Column style for status field names.
var statusKey = lipgloss.NewStyle().Bold(true).Width(11)

func printStatus(w io.Writer, res *protocol.StatusResult) {
	for _, row := range [][2]string{
		{"running", fmt.Sprintf("pid %d, up %s", res.Pid, res.Uptime)},
		{"version", res.Version},
		{"namespace", res.Namespace},
		{"platform", res.Platform},
		{"builds", strconv.Itoa(res.Builds)},
		{"runs", strconv.Itoa(res.Runs)},
	} {
		fmt.Fprintln(w, statusKey.Render(row[0])+row[1])
	}
}

// Represents the 'kilnd stop' command.
type StopCmd struct{}

// Executes the stop command.
func (c *StopCmd) Run(ctx context.Context) error {
	return daemon().Call(ctx, protocol.CmdShutdown, nil, nil)
}

// Represents the 'kilnd rmi' command.
type RmiCmd struct {
	Image string `arg:"" help:"Image to remove."`
}

// Executes the rmi command.
func (c *RmiCmd) Run(ctx context.Context) error {
	return daemon().Call(ctx, protocol.CmdImageDestroy, &protocol.ImageRequest{Name: c.Image}, nil)
}

// Represents the 'kilnd prune' command.
type PruneCmd struct{}

// Executes the prune command.
func (c *PruneCmd) Run(ctx context.Context) error {
	var res protocol.PruneResult
	if err := daemon().Call(ctx, protocol.CmdCachePrune, nil, &res); err != nil {
		return err
	}
	fmt.Printf("removed %d cache images\n", res.Removed)
	return nil
}
