package control

import (
	"context"
	"errors"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/oshokin/shake-guard/internal/domain/shake"
	"github.com/oshokin/shake-guard/internal/logger"
	"github.com/oshokin/shake-guard/internal/service/controller"
)

// defaultWatchBuffer is the event buffer of one WatchEvents subscriber.
const defaultWatchBuffer = 64

// Service abstracts the controller operations the transport depends on.
type Service interface {
	Handle(ctx context.Context, cmd shake.Command) (shake.ServiceState, error)
	State() shake.ServiceState
	Subscribe(buffer int) (<-chan shake.Event, func())
}

// Server implements ControlServer.
type Server struct {
	// service is the run-state machine.
	service Service
	// watchBuffer is the event buffer per watcher.
	watchBuffer int
	// now stamps state snapshots.
	now func() time.Time
}

// NewServer wires the provided service into a gRPC handler.
func NewServer(service Service) *Server {
	return &Server{
		service:     service,
		watchBuffer: defaultWatchBuffer,
		now:         time.Now,
	}
}

// SendCommand applies a command and returns the resulting state name.
func (s *Server) SendCommand(ctx context.Context, req *wrapperspb.StringValue) (*wrapperspb.StringValue, error) {
	if req == nil {
		return nil, status.Error(codes.InvalidArgument, "request is required")
	}

	cmd, err := shake.ParseCommand(req.GetValue())
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	actor := IncomingActor(ctx)
	logger.InfoKV(ctx, "Control command received",
		"command", commandName(cmd),
		"hostname", actor.Hostname,
		"username", actor.Username)

	state, err := s.service.Handle(ctx, cmd)

	switch {
	case err == nil:
		return wrapperspb.String(state.String()), nil
	case errors.Is(err, controller.ErrStopped):
		return nil, status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, shake.ErrUnknownCommand):
		return nil, status.Error(codes.InvalidArgument, err.Error())
	default:
		return nil, status.Error(codes.Internal, err.Error())
	}
}

// GetState returns the current state name.
func (s *Server) GetState(context.Context, *emptypb.Empty) (*wrapperspb.StringValue, error) {
	return wrapperspb.String(s.service.State().String()), nil
}

// WatchEvents sends a snapshot of the current state followed by every event
// until the client goes away or the service stops.
func (s *Server) WatchEvents(_ *emptypb.Empty, stream EventStream) error {
	ctx := stream.Context()

	events, cancel := s.service.Subscribe(s.watchBuffer)
	defer cancel()

	snapshot := shake.Event{
		Kind:      shake.EventStateChanged,
		State:     s.service.State(),
		Timestamp: s.now(),
	}

	if err := s.send(stream, snapshot); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}

			if err := s.send(stream, ev); err != nil {
				return err
			}
		}
	}
}

func (s *Server) send(stream EventStream, ev shake.Event) error {
	msg, err := EventToProto(ev)
	if err != nil {
		return status.Error(codes.Internal, err.Error())
	}

	return stream.Send(msg)
}

// EventToProto converts an event to its Struct representation.
func EventToProto(ev shake.Event) (*structpb.Struct, error) {
	fields := map[string]any{
		"kind":      string(ev.Kind),
		"state":     ev.State.String(),
		"timestamp": ev.Timestamp.UTC().Format(time.RFC3339Nano),
	}

	if ev.RequestID != "" {
		fields["request_id"] = ev.RequestID
	}

	if ev.Outcome != nil {
		fields["outcome"] = ev.Outcome.Kind.String()
		fields["call_placed"] = ev.Outcome.CallPlaced

		if ev.Outcome.Reason != "" {
			fields["reason"] = ev.Outcome.Reason
		}

		if ev.Outcome.CallError != "" {
			fields["call_error"] = ev.Outcome.CallError
		}
	}

	return structpb.NewStruct(fields)
}

// commandName names the implicit start command for logs.
func commandName(cmd shake.Command) string {
	if cmd == shake.CommandStart {
		return "START"
	}

	return string(cmd)
}
