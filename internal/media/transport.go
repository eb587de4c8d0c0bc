package media

import "context"

// Container is an opaque handle to a rendering surface owned by the UI
// layer. The transport decides how to bind media tracks to it.
type Container any

// Transport is the external real-time audio/video channel. Media
// acquisition, encoding, and network transport all live behind this
// interface; the coordinator core only drives its lifecycle.
//
// Channel identifiers are opaque strings. For 1:1 calls the core derives
// them deterministically from the address pair; for group calls the
// signaling record carries a server-assigned identifier.
type Transport interface {
	Join(ctx context.Context, channel string, videoEnabled bool) error
	Leave(ctx context.Context) error

	SetMuted(muted bool) error
	SetVideoEnabled(enabled bool) error
	SetScreenShare(enabled bool) error

	AttachLocalContainer(c Container)
	AttachRemoteContainer(c Container)
	AttachScreenContainer(c Container)
}
