package transport

import (
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/rfkit/netsdr/internal/logging"
)

const defaultReadBuffer = 1 << 20

// UDPOptions tunes the data transport. The zero value selects defaults.
type UDPOptions struct {
	// ReadBuffer is the kernel receive buffer size requested for the
	// socket. Zero selects a 1 MiB default; sample streams burst.
	ReadBuffer int
	Logger     logging.Logger
}

// UDP is the connectionless data-channel transport. StartListening binds
// the local address and delivers every received datagram to the registered
// handler from a dedicated goroutine; StopListening tears the socket down.
type UDP struct {
	addr       string
	readBuffer int
	log        logging.Logger

	mu      sync.Mutex
	conn    *net.UDPConn
	handler func([]byte)
	wg      sync.WaitGroup
}

// NewUDP builds a data transport bound to the given local address, for
// example ":50000".
func NewUDP(addr string, opts UDPOptions) *UDP {
	if opts.ReadBuffer <= 0 {
		opts.ReadBuffer = defaultReadBuffer
	}
	if opts.Logger == nil {
		opts.Logger = logging.Default()
	}
	return &UDP{addr: addr, readBuffer: opts.ReadBuffer, log: opts.Logger}
}

// SetDatagramHandler registers the inbound-datagram notification. It must
// be called before StartListening.
func (u *UDP) SetDatagramHandler(fn func(payload []byte)) {
	u.mu.Lock()
	u.handler = fn
	u.mu.Unlock()
}

// LocalAddr returns the bound address, or nil while not listening. Useful
// when the configured port is 0.
func (u *UDP) LocalAddr() net.Addr {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.conn == nil {
		return nil
	}
	return u.conn.LocalAddr()
}

// StartListening binds the socket and starts the receive loop. Calling it
// while already listening is a no-op.
func (u *UDP) StartListening(_ context.Context) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.conn != nil {
		return nil
	}

	laddr, err := net.ResolveUDPAddr("udp", u.addr)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", u.addr, err)
	}
	conn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", u.addr, err)
	}
	if err := conn.SetReadBuffer(u.readBuffer); err != nil {
		u.log.Warn("set UDP read buffer failed",
			logging.Field{Key: "size", Value: u.readBuffer},
			logging.Field{Key: "err", Value: err})
	}

	u.conn = conn
	u.wg.Add(1)
	go u.readLoop(conn)

	u.log.Debug("data transport listening",
		logging.Field{Key: "addr", Value: conn.LocalAddr().String()})
	return nil
}

// StopListening closes the socket and waits for the receive loop to drain.
// Safe to call while not listening.
func (u *UDP) StopListening() {
	u.mu.Lock()
	conn := u.conn
	u.conn = nil
	u.mu.Unlock()

	if conn == nil {
		return
	}
	_ = conn.Close()
	u.wg.Wait()
	u.log.Debug("data transport stopped")
}

func (u *UDP) readLoop(conn *net.UDPConn) {
	defer u.wg.Done()

	// 64 KiB covers the largest possible UDP payload.
	buf := make([]byte, 65536)
	for {
		n, _, err := conn.ReadFromUDP(buf)
		if err != nil {
			// Closed socket is the normal StopListening path.
			return
		}

		u.mu.Lock()
		handler := u.handler
		u.mu.Unlock()
		if handler == nil {
			continue
		}

		payload := make([]byte, n)
		copy(payload, buf[:n])
		handler(payload)
	}
}
