// Package transport provides the production control and data transports
// consumed by the sdrnet client: a framed TCP connection for commands and a
// UDP listener for sample datagrams.
package transport

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/rfkit/netsdr/internal/logging"
)

// ErrNotConnected is returned by Send when no control connection is open.
var ErrNotConnected = errors.New("transport: not connected")

const (
	// minFrameLen is the smallest legal control frame: length + item code.
	minFrameLen = 4
	// maxFrameLen bounds a single control frame; anything larger means the
	// stream is corrupt.
	maxFrameLen = 8192

	defaultDialTimeout = 3 * time.Second
	defaultIOTimeout   = 5 * time.Second
)

// DialFunc opens the underlying stream. The default dials plain TCP; an
// SSH-tunnelled dialer can be substituted via TCPOptions.
type DialFunc func(ctx context.Context, network, addr string) (net.Conn, error)

// TCPOptions tunes the control transport. The zero value selects defaults.
type TCPOptions struct {
	DialTimeout time.Duration
	IOTimeout   time.Duration
	Dial        DialFunc
	Logger      logging.Logger
}

// TCP is a framed control-channel transport. Inbound frames are length
// prefixed (uint16 little-endian, counting the whole frame); each complete
// frame is handed to the registered message handler from a dedicated
// receive goroutine.
type TCP struct {
	addr        string
	dialTimeout time.Duration
	ioTimeout   time.Duration
	dial        DialFunc
	log         logging.Logger

	mu      sync.Mutex
	conn    net.Conn
	handler func([]byte)
	wg      sync.WaitGroup
}

// NewTCP builds a control transport for the given receiver address.
func NewTCP(addr string, opts TCPOptions) *TCP {
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = defaultDialTimeout
	}
	if opts.IOTimeout <= 0 {
		opts.IOTimeout = defaultIOTimeout
	}
	if opts.Logger == nil {
		opts.Logger = logging.Default()
	}
	if opts.Dial == nil {
		opts.Dial = func(ctx context.Context, network, addr string) (net.Conn, error) {
			d := net.Dialer{Timeout: opts.DialTimeout}
			return d.DialContext(ctx, network, addr)
		}
	}
	return &TCP{
		addr:        addr,
		dialTimeout: opts.DialTimeout,
		ioTimeout:   opts.IOTimeout,
		dial:        opts.Dial,
		log:         opts.Logger,
	}
}

// SetMessageHandler registers the inbound-message notification. It must be
// called before Connect.
func (t *TCP) SetMessageHandler(fn func(payload []byte)) {
	t.mu.Lock()
	t.handler = fn
	t.mu.Unlock()
}

// Connected reports whether a control connection is open.
func (t *TCP) Connected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conn != nil
}

// Connect dials the receiver and starts the receive loop. Calling Connect
// while already connected is a no-op.
func (t *TCP) Connect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn != nil {
		return nil
	}

	conn, err := t.dial(ctx, "tcp", t.addr)
	if err != nil {
		return fmt.Errorf("dial %s: %w", t.addr, err)
	}

	t.conn = conn
	t.wg.Add(1)
	go t.readLoop(conn)

	t.log.Debug("control transport connected", logging.Field{Key: "addr", Value: t.addr})
	return nil
}

// Disconnect closes the connection and waits for the receive loop to drain.
// It is safe to call from any state, any number of times.
func (t *TCP) Disconnect() {
	t.mu.Lock()
	conn := t.conn
	t.conn = nil
	t.mu.Unlock()

	if conn == nil {
		return
	}
	_ = conn.Close()
	t.wg.Wait()
	t.log.Debug("control transport disconnected")
}

// Send writes one complete frame, handling short writes. The write deadline
// follows the transport's IO timeout and the context deadline, whichever is
// sooner.
func (t *TCP) Send(ctx context.Context, payload []byte) error {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()

	if conn == nil {
		return ErrNotConnected
	}

	deadline := time.Now().Add(t.ioTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.SetWriteDeadline(deadline)

	for len(payload) > 0 {
		n, err := conn.Write(payload)
		if err != nil {
			return fmt.Errorf("write control frame: %w", err)
		}
		payload = payload[n:]
	}
	return nil
}

// readLoop reassembles length-prefixed frames and delivers them until the
// connection dies. It owns no locks while the handler runs.
func (t *TCP) readLoop(conn net.Conn) {
	defer t.wg.Done()

	header := make([]byte, 2)
	for {
		if _, err := io.ReadFull(conn, header); err != nil {
			t.logReadExit(err)
			return
		}

		frameLen := int(binary.LittleEndian.Uint16(header))
		if frameLen < minFrameLen || frameLen > maxFrameLen {
			t.log.Warn("control frame with invalid length, closing",
				logging.Field{Key: "len", Value: frameLen})
			_ = conn.Close()
			return
		}

		frame := make([]byte, frameLen)
		copy(frame, header)
		if _, err := io.ReadFull(conn, frame[2:]); err != nil {
			t.logReadExit(err)
			return
		}

		t.mu.Lock()
		handler := t.handler
		t.mu.Unlock()
		if handler != nil {
			handler(frame)
		}
	}
}

func (t *TCP) logReadExit(err error) {
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
		t.log.Debug("control receive loop finished")
		return
	}
	t.log.Warn("control receive loop error", logging.Field{Key: "err", Value: err})
}
