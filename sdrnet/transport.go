package sdrnet

import "context"

// ----------------------------------------------------------------------
// Transport capabilities (implemented externally)
// ----------------------------------------------------------------------

// ControlTransport is the reliable, connection-oriented command path.
// Implementations deliver every inbound control message to the handler
// registered with SetMessageHandler, one call per message, from their own
// receive goroutine.
type ControlTransport interface {
	Connected() bool
	Connect(ctx context.Context) error
	Disconnect()
	Send(ctx context.Context, payload []byte) error

	// SetMessageHandler registers the inbound-message notification. The
	// handler must not block; the client treats each invocation as one
	// control-channel notification.
	SetMessageHandler(fn func(payload []byte))
}

// DataTransport is the connectionless sample path. Implementations deliver
// every inbound datagram to the handler registered with SetDatagramHandler.
type DataTransport interface {
	StartListening(ctx context.Context) error
	StopListening()

	SetDatagramHandler(fn func(payload []byte))
}
