package control

import (
	"context"

	"google.golang.org/grpc/metadata"
)

const (
	// metadataHostname carries the caller's hostname.
	metadataHostname = "x-actor-hostname"
	// metadataUsername carries the caller's username.
	metadataUsername = "x-actor-username"
)

// Actor identifies who issued a control command.
type Actor struct {
	// Hostname of the calling machine.
	Hostname string
	// Username of the calling user.
	Username string
}

// OutgoingActor attaches actor to the outgoing call metadata.
func OutgoingActor(ctx context.Context, actor Actor) context.Context {
	return metadata.AppendToOutgoingContext(ctx,
		metadataHostname, actor.Hostname,
		metadataUsername, actor.Username)
}

// IncomingActor reads the actor from incoming call metadata.
// Missing values are left empty.
func IncomingActor(ctx context.Context) Actor {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return Actor{}
	}

	return Actor{
		Hostname: first(md.Get(metadataHostname)),
		Username: first(md.Get(metadataUsername)),
	}
}

func first(values []string) string {
	if len(values) == 0 {
		return ""
	}

	return values[0]
}
