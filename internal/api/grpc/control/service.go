package control

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

const (
	// ServiceName is the fully qualified gRPC service name.
	ServiceName = "shakeguard.v1.ControlService"

	// SendCommandMethod applies a control command.
	SendCommandMethod = "/" + ServiceName + "/SendCommand"
	// GetStateMethod returns the current run-state.
	GetStateMethod = "/" + ServiceName + "/GetState"
	// WatchEventsMethod streams service events.
	WatchEventsMethod = "/" + ServiceName + "/WatchEvents"
)

// ControlServer is the server API of the control service.
type ControlServer interface {
	SendCommand(ctx context.Context, req *wrapperspb.StringValue) (*wrapperspb.StringValue, error)
	GetState(ctx context.Context, req *emptypb.Empty) (*wrapperspb.StringValue, error)
	WatchEvents(req *emptypb.Empty, stream EventStream) error
}

// EventStream is the server side of WatchEvents.
type EventStream interface {
	Send(event *structpb.Struct) error
	grpc.ServerStream
}

// WatchEventsStreamDesc describes the WatchEvents stream for clients.
//
//nolint:gochecknoglobals // Stream descriptors are static by nature.
var WatchEventsStreamDesc = grpc.StreamDesc{
	StreamName:    "WatchEvents",
	ServerStreams: true,
}

// serviceDesc describes the control service for grpc.Server.
//
//nolint:gochecknoglobals // Service descriptors are static by nature.
var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ControlServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "SendCommand",
			Handler:    sendCommandHandler,
		},
		{
			MethodName: "GetState",
			Handler:    getStateHandler,
		},
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    WatchEventsStreamDesc.StreamName,
			Handler:       watchEventsHandler,
			ServerStreams: true,
		},
	},
	Metadata: "shakeguard/v1/control.proto",
}

// RegisterControlServer registers srv with the gRPC registrar.
func RegisterControlServer(registrar grpc.ServiceRegistrar, srv ControlServer) {
	registrar.RegisterService(&serviceDesc, srv)
}

func sendCommandHandler(
	srv any,
	ctx context.Context,
	decode func(any) error,
	interceptor grpc.UnaryServerInterceptor,
) (any, error) {
	in := new(wrapperspb.StringValue)
	if err := decode(in); err != nil {
		return nil, err
	}

	if interceptor == nil {
		return srv.(ControlServer).SendCommand(ctx, in) //nolint:forcetypeassert // Guaranteed by HandlerType.
	}

	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: SendCommandMethod,
	}

	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(ControlServer).SendCommand(ctx, req.(*wrapperspb.StringValue)) //nolint:forcetypeassert // As above.
	}

	return interceptor(ctx, in, info, handler)
}

func getStateHandler(
	srv any,
	ctx context.Context,
	decode func(any) error,
	interceptor grpc.UnaryServerInterceptor,
) (any, error) {
	in := new(emptypb.Empty)
	if err := decode(in); err != nil {
		return nil, err
	}

	if interceptor == nil {
		return srv.(ControlServer).GetState(ctx, in) //nolint:forcetypeassert // Guaranteed by HandlerType.
	}

	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: GetStateMethod,
	}

	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(ControlServer).GetState(ctx, req.(*emptypb.Empty)) //nolint:forcetypeassert // As above.
	}

	return interceptor(ctx, in, info, handler)
}

func watchEventsHandler(srv any, stream grpc.ServerStream) error {
	in := new(emptypb.Empty)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}

	return srv.(ControlServer).WatchEvents(in, &eventStream{stream}) //nolint:forcetypeassert // Guaranteed by HandlerType.
}

// eventStream adapts grpc.ServerStream to EventStream.
type eventStream struct {
	grpc.ServerStream
}

// Send implements EventStream.
func (s *eventStream) Send(event *structpb.Struct) error {
	return s.SendMsg(event)
}
