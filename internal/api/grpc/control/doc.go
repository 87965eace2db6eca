// Package control implements the gRPC control surface of the shake service.
//
// The service is described by a hand-written grpc.ServiceDesc over protobuf
// well-known types, so no generated code is needed: commands and states travel
// as StringValue, events as Struct.
package control
