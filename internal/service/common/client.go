//nolint:revive,nolintlint // Package name "common" is intentional for shared helpers.
package common

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/oshokin/shake-guard/internal/api/grpc/control"
	"github.com/oshokin/shake-guard/internal/config"
	"github.com/oshokin/shake-guard/internal/domain/shake"
)

// Client wraps the control service with convenience helpers.
type Client struct {
	// conn is the underlying gRPC connection to the daemon.
	conn *grpc.ClientConn

	// callTimeout is the default timeout for individual unary calls.
	callTimeout time.Duration
	// actor is attached to every command when set.
	actor *control.Actor
	// dialOptions are appended to the default dial options.
	dialOptions []grpc.DialOption
}

// Option configures client behaviour.
type Option func(*Client)

// WithCallTimeout sets a default timeout for unary calls.
func WithCallTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.callTimeout = timeout
		}
	}
}

// WithActor attaches actor to every command for the daemon's audit log.
func WithActor(actor control.Actor) Option {
	return func(c *Client) {
		c.actor = &actor
	}
}

// WithDialOptions adds gRPC dial options, e.g. a custom dialer in tests.
func WithDialOptions(opts ...grpc.DialOption) Option {
	return func(c *Client) {
		c.dialOptions = append(c.dialOptions, opts...)
	}
}

// EventHandler receives streamed events. Returning an error ends the watch.
type EventHandler func(event *structpb.Struct) error

// errAddressRequired is returned when a required address value is missing.
var errAddressRequired = errors.New("address must be provided")

// Dial prepares a gRPC connection to the daemon.
// Note: this uses insecure transport credentials; the control surface is
// meant to listen on loopback only.
func Dial(_ context.Context, address string, opts ...Option) (*Client, error) {
	if address == "" {
		return nil, errAddressRequired
	}

	client := &Client{
		callTimeout: config.DefaultTimeout,
	}

	for _, opt := range opts {
		opt(client)
	}

	dialOptions := append(
		[]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())},
		client.dialOptions...,
	)

	conn, err := grpc.NewClient(address, dialOptions...)
	if err != nil {
		return nil, fmt.Errorf("dial shake daemon: %w", err)
	}

	client.conn = conn

	return client, nil
}

// Close releases the underlying gRPC connection.
func (c *Client) Close() error {
	if c == nil || c.conn == nil {
		return nil
	}

	return c.conn.Close()
}

// SendCommand applies cmd and returns the resulting state name.
func (c *Client) SendCommand(ctx context.Context, cmd shake.Command) (string, error) {
	callCtx, cancel := c.callContext(ctx)
	defer cancel()

	if c.actor != nil {
		callCtx = control.OutgoingActor(callCtx, *c.actor)
	}

	resp := new(wrapperspb.StringValue)
	if err := c.conn.Invoke(callCtx, control.SendCommandMethod, wrapperspb.String(string(cmd)), resp); err != nil {
		return "", fmt.Errorf("send command: %w", err)
	}

	return resp.GetValue(), nil
}

// GetState returns the current state name.
func (c *Client) GetState(ctx context.Context) (string, error) {
	callCtx, cancel := c.callContext(ctx)
	defer cancel()

	resp := new(wrapperspb.StringValue)
	if err := c.conn.Invoke(callCtx, control.GetStateMethod, new(emptypb.Empty), resp); err != nil {
		return "", fmt.Errorf("get state: %w", err)
	}

	return resp.GetValue(), nil
}

// WatchEvents streams events to handle until ctx is canceled, the daemon
// stops, or handle returns an error. The call timeout does not apply.
func (c *Client) WatchEvents(ctx context.Context, handle EventHandler) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	stream, err := c.conn.NewStream(ctx, &control.WatchEventsStreamDesc, control.WatchEventsMethod)
	if err != nil {
		return fmt.Errorf("open event stream: %w", err)
	}

	if err = stream.SendMsg(new(emptypb.Empty)); err != nil {
		return fmt.Errorf("request events: %w", err)
	}

	if err = stream.CloseSend(); err != nil {
		return fmt.Errorf("close send: %w", err)
	}

	for {
		event := new(structpb.Struct)
		if err = stream.RecvMsg(event); err != nil {
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				return nil
			}

			return fmt.Errorf("receive event: %w", err)
		}

		if err = handle(event); err != nil {
			return err
		}
	}
}

// callContext returns a context with the client's call timeout if configured,
// otherwise a cancellable child context without a deadline.
func (c *Client) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.callTimeout <= 0 {
		return context.WithCancel(ctx)
	}

	return context.WithTimeout(ctx, c.callTimeout)
}
