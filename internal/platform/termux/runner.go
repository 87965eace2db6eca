// Package termux adapts the Termux:API command-line tools to the sensor,
// location, message and call interfaces of the service.
package termux

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/oshokin/shake-guard/internal/domain/shake"
)

const (
	// ToolSensor streams sensor readings as JSON objects.
	ToolSensor = "termux-sensor"
	// ToolLocation prints one location report as JSON.
	ToolLocation = "termux-location"
	// ToolSMS sends a text message.
	ToolSMS = "termux-sms-send"
	// ToolCall starts a phone call.
	ToolCall = "termux-telephony-call"

	// streamStopGrace is how long a stream gets to exit after an interrupt.
	streamStopGrace = 2 * time.Second
)

// Runner executes platform tools.
type Runner interface {
	// Output runs the tool to completion and returns its standard output.
	Output(ctx context.Context, name string, args ...string) ([]byte, error)
	// Stream starts the tool and returns its standard output. Closing the
	// stream stops the tool.
	Stream(ctx context.Context, name string, args ...string) (io.ReadCloser, error)
}

// Tools maps every capability to the tool that provides it.
func Tools() map[shake.Capability]string {
	return map[shake.Capability]string{
		shake.CapabilitySendMessage: ToolSMS,
		shake.CapabilityLocation:    ToolLocation,
		shake.CapabilityPlaceCall:   ToolCall,
	}
}

// ExecRunner runs tools as child processes.
type ExecRunner struct{}

// Output implements Runner.
func (ExecRunner) Output(ctx context.Context, name string, args ...string) ([]byte, error) {
	out, err := exec.CommandContext(ctx, name, args...).Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && len(exitErr.Stderr) > 0 {
			return nil, fmt.Errorf("run %s: %w: %s", name, err, strings.TrimSpace(string(exitErr.Stderr)))
		}

		return nil, fmt.Errorf("run %s: %w", name, err)
	}

	return out, nil
}

// Stream implements Runner. The tool is interrupted on Close or when ctx is
// canceled, and killed if it does not exit within a short grace period.
func (ExecRunner) Stream(ctx context.Context, name string, args ...string) (io.ReadCloser, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Cancel = func() error {
		return cmd.Process.Signal(os.Interrupt)
	}
	cmd.WaitDelay = streamStopGrace

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("pipe %s: %w", name, err)
	}

	if err = cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", name, err)
	}

	return &commandStream{cmd: cmd, ReadCloser: stdout}, nil
}

// commandStream is the standard output of a running tool.
type commandStream struct {
	io.ReadCloser

	// cmd is the running tool.
	cmd *exec.Cmd
	// once guards the teardown.
	once sync.Once
}

// Close interrupts the tool and waits for it to exit. It is idempotent.
func (s *commandStream) Close() error {
	s.once.Do(func() {
		_ = s.cmd.Process.Signal(os.Interrupt)

		kill := time.AfterFunc(streamStopGrace, func() {
			_ = s.cmd.Process.Kill()
		})
		defer kill.Stop()

		// The exit status of an interrupted stream carries no information.
		_ = s.cmd.Wait()
	})

	return nil
}
