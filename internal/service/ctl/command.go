// Package ctl implements the control CLI of the shake daemon: it sends
// commands, prints the state and streams events over the control surface.
package ctl

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/oshokin/shake-guard/internal/config"
	"github.com/oshokin/shake-guard/internal/domain/shake"
	"github.com/oshokin/shake-guard/internal/logger"
	"github.com/oshokin/shake-guard/internal/service/common"
)

const (
	// ActionStatus prints the current state.
	ActionStatus = "status"
	// ActionWatch streams events until interrupted.
	ActionWatch = "watch"

	// defaultRetryInterval is the delay between attempts with Wait.
	defaultRetryInterval = 1 * time.Second
)

// Options configures the control CLI.
type Options struct {
	// ConfigPath to YAML settings file, used when ServerAddress is empty.
	ConfigPath string
	// ServerAddress overrides the daemon address from config.
	ServerAddress string
	// Action is play, pause, stop, status or watch.
	Action string
	// Wait retries until the daemon is reachable.
	Wait bool
	// Out receives printed states and events; defaults to stdout.
	Out io.Writer
	// Timeout bounds each unary call; defaults to config.DefaultTimeout.
	Timeout time.Duration
}

// Run performs one control action against the daemon.
func Run(ctx context.Context, opts *Options) error {
	ctx = logger.WithName(ctx, "shake-ctl")

	out := opts.Out
	if out == nil {
		out = os.Stdout
	}

	serverAddress, err := resolveServerAddress(opts)
	if err != nil {
		return err
	}

	dialOptions := []common.Option{common.WithCallTimeout(opts.Timeout)}

	if actor, err := common.DetectActor(); err == nil {
		dialOptions = append(dialOptions, common.WithActor(actor))
	} else {
		logger.WarnKV(ctx, "Cannot detect actor", "error", err)
	}

	client, err := common.Dial(ctx, serverAddress, dialOptions...)
	if err != nil {
		return err
	}

	defer func() {
		_ = client.Close()
	}()

	action := strings.ToLower(strings.TrimSpace(opts.Action))

	switch action {
	case ActionWatch:
		return client.WatchEvents(ctx, func(event *structpb.Struct) error {
			return printEvent(out, event)
		})
	case ActionStatus:
		return retry(ctx, opts.Wait, func() error {
			state, err := client.GetState(ctx)
			if err != nil {
				return err
			}

			_, err = fmt.Fprintln(out, state)

			return err
		})
	}

	cmd, err := shake.ParseCommand(action)
	if err != nil || cmd == shake.CommandStart {
		return fmt.Errorf("action %q: %w", opts.Action, shake.ErrUnknownCommand)
	}

	logger.InfoKV(ctx, "Sending command", "server_address", serverAddress, "command", string(cmd))

	return retry(ctx, opts.Wait, func() error {
		state, err := client.SendCommand(ctx, cmd)
		if err != nil {
			return err
		}

		_, err = fmt.Fprintln(out, state)

		return err
	})
}

// resolveServerAddress prefers the explicit address over the settings file.
func resolveServerAddress(opts *Options) (string, error) {
	if opts.ServerAddress != "" {
		return opts.ServerAddress, nil
	}

	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return "", fmt.Errorf("load settings: %w", err)
	}

	return cfg.ListenAddress, nil
}

// retry runs attempt once, or until it stops failing with Unavailable when wait is set.
func retry(ctx context.Context, wait bool, attempt func() error) error {
	err := attempt()
	if err == nil || !wait || !isUnavailable(err) {
		return err
	}

	logger.WarnKV(ctx, "Daemon unavailable, retrying", "error", err)

	ticker := time.NewTicker(defaultRetryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			err = attempt()
			if err == nil || !isUnavailable(err) {
				return err
			}
		}
	}
}

// isUnavailable reports whether err means the daemon could not be reached.
func isUnavailable(err error) bool {
	return status.Code(err) == codes.Unavailable
}

// printEvent writes one event as a JSON line.
func printEvent(out io.Writer, event *structpb.Struct) error {
	data, err := protojson.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	_, err = fmt.Fprintln(out, string(data))

	return err
}
