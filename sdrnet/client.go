// Package sdrnet implements the client side of a dual-channel protocol for
// network-attached SDR receivers: a reliable TCP control channel carrying
// command/acknowledgement exchanges and a connectionless UDP data channel
// carrying streamed IQ sample datagrams.
package sdrnet

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rfkit/netsdr/internal/logging"
)

// ErrAckTimeout is returned when a control command is not acknowledged
// within the configured bound. The receiver may still have applied the
// command; reconnection policy is left to the caller.
var ErrAckTimeout = errors.New("sdrnet: acknowledgement timeout")

// DefaultAckTimeout bounds the wait for a control-channel acknowledgement.
const DefaultAckTimeout = 3 * time.Second

// ----------------------------------------------------------------------
// Options / construction
// ----------------------------------------------------------------------

// Options tunes client construction. The zero value selects defaults.
type Options struct {
	// Setup configures the three handshake messages sent by Connect.
	Setup SetupOptions

	// AckTimeout bounds each acknowledgement wait. Zero selects
	// DefaultAckTimeout.
	AckTimeout time.Duration

	// Consumer receives decoded sample batches. May be nil and installed
	// later via SetConsumer.
	Consumer Consumer

	// Logger receives protocol events. Nil selects logging.Default().
	Logger logging.Logger
}

// session is the engine's in-memory connection and streaming state for one
// receiver. It is owned by Client and guarded by Client.stateMu.
type session struct {
	connected   bool
	frequencies map[int]uint64
}

// Client is the protocol engine. It owns the session state machine, builds
// and sends control commands, correlates acknowledgements positionally, and
// coordinates streaming start/stop across the two channels.
//
// Control operations are serialized internally: at most one command is in
// flight at any instant, which is what makes positional acknowledgement
// correlation sound.
type Client struct {
	control ControlTransport
	data    DataTransport
	codec   Codec

	setup      SetupOptions
	ackTimeout time.Duration
	log        logging.Logger

	pipeline *Pipeline

	// opMu serializes Connect/Disconnect/StartIQ/StopIQ/ChangeFrequency.
	// This is the single-flight gate.
	opMu sync.Mutex

	// stateMu guards the session so observables never wait behind an
	// operation suspended on its acknowledgement.
	stateMu sync.Mutex
	session session

	// pendingMu guards the single pending-acknowledgement slot. The
	// transport's notification goroutine only ever touches this lock.
	pendingMu sync.Mutex
	pending   chan []byte

	iqStreaming atomic.Bool
}

// NewClient wires a client to its two transports and registers the inbound
// notification handlers. The transports are not opened until Connect.
func NewClient(control ControlTransport, data DataTransport, opts Options) *Client {
	if opts.AckTimeout <= 0 {
		opts.AckTimeout = DefaultAckTimeout
	}
	if opts.Setup == (SetupOptions{}) {
		opts.Setup = DefaultSetupOptions()
	}
	if opts.Logger == nil {
		opts.Logger = logging.Default()
	}

	c := &Client{
		control:    control,
		data:       data,
		setup:      opts.Setup,
		ackTimeout: opts.AckTimeout,
		log:        opts.Logger,
		pipeline:   NewPipeline(opts.Consumer, opts.Logger),
		session:    session{frequencies: make(map[int]uint64)},
	}

	control.SetMessageHandler(c.handleControlMessage)
	data.SetDatagramHandler(c.pipeline.HandleDatagram)
	return c
}

// SetConsumer installs or replaces the sample batch consumer.
func (c *Client) SetConsumer(consumer Consumer) {
	c.pipeline.SetConsumer(consumer)
}

// PipelineStats reports how many batches the data path has delivered and
// how many datagrams it has dropped.
func (c *Client) PipelineStats() (delivered, dropped uint64) {
	return c.pipeline.Stats()
}

// ----------------------------------------------------------------------
// Session observables
// ----------------------------------------------------------------------

// Connected reports whether the control-channel handshake has completed.
func (c *Client) Connected() bool {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.session.connected
}

// IQStreaming reports whether IQ streaming is active. It is safe to call
// from any goroutine, including sample consumers.
func (c *Client) IQStreaming() bool {
	return c.iqStreaming.Load()
}

// ActiveFrequency returns the last acknowledged tune for a channel.
func (c *Client) ActiveFrequency(channel int) (uint64, bool) {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	f, ok := c.session.frequencies[channel]
	return f, ok
}

// ActiveFrequencies returns a copy of all acknowledged tunes by channel.
func (c *Client) ActiveFrequencies() map[int]uint64 {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	out := make(map[int]uint64, len(c.session.frequencies))
	for ch, f := range c.session.frequencies {
		out[ch] = f
	}
	return out
}

func (c *Client) isConnected() bool {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.session.connected
}

// ----------------------------------------------------------------------
// Operations
// ----------------------------------------------------------------------

// Connect opens the control transport and performs the setup handshake:
// three configuration messages sent strictly sequentially, each acknowledged
// before the next is sent. Connect is idempotent; while already connected it
// sends nothing and returns nil.
func (c *Client) Connect(ctx context.Context) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	if c.isConnected() {
		return nil
	}

	if err := c.control.Connect(ctx); err != nil {
		return fmt.Errorf("open control channel: %w", err)
	}

	for i, msg := range c.codec.SetupMessages(c.setup) {
		if err := c.sendAwait(ctx, msg); err != nil {
			c.control.Disconnect()
			return fmt.Errorf("setup message %d: %w", i+1, err)
		}
	}

	c.stateMu.Lock()
	c.session.connected = true
	c.stateMu.Unlock()

	c.log.Info("control session established")
	return nil
}

// StartIQ asks the receiver to begin streaming and, once the command is
// acknowledged, starts the data channel's listening loop. While not
// connected it is a silent no-op. While already streaming it sends nothing.
func (c *Client) StartIQ(ctx context.Context) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	if !c.isConnected() || c.iqStreaming.Load() {
		return nil
	}

	if err := c.sendAwait(ctx, c.codec.StartIQ()); err != nil {
		return fmt.Errorf("start IQ: %w", err)
	}

	// The data channel is opened only after the receiver has accepted the
	// command, so a datagram can never arrive ahead of the session flag.
	if err := c.data.StartListening(ctx); err != nil {
		return fmt.Errorf("start data channel: %w", err)
	}

	c.iqStreaming.Store(true)
	c.log.Info("IQ streaming started")
	return nil
}

// StopIQ asks the receiver to halt streaming, then stops the data channel's
// listening loop and clears the streaming flag, even if it was already
// clear. While not connected it is a silent no-op.
func (c *Client) StopIQ(ctx context.Context) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	if !c.isConnected() {
		return nil
	}

	if err := c.sendAwait(ctx, c.codec.StopIQ()); err != nil {
		return fmt.Errorf("stop IQ: %w", err)
	}

	c.data.StopListening()
	c.iqStreaming.Store(false)
	c.log.Info("IQ streaming stopped")
	return nil
}

// ChangeFrequency tunes one channel. While not connected it is a silent
// no-op. The new frequency is recorded only after the acknowledgement.
func (c *Client) ChangeFrequency(ctx context.Context, freqHz uint64, channel int) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	if !c.isConnected() {
		return nil
	}

	msg, err := c.codec.SetFrequency(freqHz, channel)
	if err != nil {
		return err
	}
	if err := c.sendAwait(ctx, msg); err != nil {
		return fmt.Errorf("set frequency: %w", err)
	}

	c.stateMu.Lock()
	c.session.frequencies[channel] = freqHz
	c.stateMu.Unlock()

	c.log.Debug("frequency changed",
		logging.Field{Key: "channel", Value: channel},
		logging.Field{Key: "freqHz", Value: freqHz})
	return nil
}

// Disconnect tears the session down from any state. It always forwards to
// the control transport, never waits for an acknowledgement, and leaves the
// client ready for a fresh Connect.
func (c *Client) Disconnect() {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	if c.iqStreaming.Load() {
		c.data.StopListening()
		c.iqStreaming.Store(false)
	}

	c.control.Disconnect()

	c.stateMu.Lock()
	c.session.connected = false
	c.stateMu.Unlock()

	c.log.Info("disconnected")
}

// ----------------------------------------------------------------------
// Positional acknowledgement correlation
// ----------------------------------------------------------------------

// sendAwait transmits one control frame and suspends the calling operation
// until the next control-channel notification arrives, the context is
// cancelled, or the acknowledgement timeout elapses. The notification's
// content is irrelevant: correlation is purely positional, which is sound
// because opMu guarantees a single outstanding request.
//
// Callers must hold opMu.
func (c *Client) sendAwait(ctx context.Context, payload []byte) error {
	ack := make(chan []byte, 1)

	c.pendingMu.Lock()
	c.pending = ack
	c.pendingMu.Unlock()

	if err := c.control.Send(ctx, payload); err != nil {
		c.clearPending()
		return fmt.Errorf("send control message: %w", err)
	}

	timer := time.NewTimer(c.ackTimeout)
	defer timer.Stop()

	select {
	case <-ack:
		return nil
	case <-ctx.Done():
		c.clearPending()
		return ctx.Err()
	case <-timer.C:
		c.clearPending()
		return ErrAckTimeout
	}
}

func (c *Client) clearPending() {
	c.pendingMu.Lock()
	c.pending = nil
	c.pendingMu.Unlock()
}

// handleControlMessage is invoked by the control transport once per inbound
// message. It resolves the pending request if one exists; an unsolicited
// message is logged and dropped. The buffered slot means this never blocks
// the transport's receive goroutine.
func (c *Client) handleControlMessage(payload []byte) {
	c.pendingMu.Lock()
	ack := c.pending
	c.pending = nil
	c.pendingMu.Unlock()

	if ack == nil {
		c.log.Debug("unsolicited control message dropped",
			logging.Field{Key: "len", Value: len(payload)})
		return
	}
	ack <- payload
}
