package transport

import (
	"context"
	"net"
	"testing"
	"time"
)

func TestUDPDeliversDatagrams(t *testing.T) {
	tr := NewUDP("127.0.0.1:0", UDPOptions{})
	received := make(chan []byte, 4)
	tr.SetDatagramHandler(func(p []byte) { received <- p })

	if err := tr.StartListening(context.Background()); err != nil {
		t.Fatalf("StartListening failed: %v", err)
	}
	defer tr.StopListening()

	laddr := tr.LocalAddr()
	if laddr == nil {
		t.Fatal("expected a bound local address")
	}

	conn, err := net.Dial("udp", laddr.String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	want := []byte{0x01, 0x00, 0x00, 0x00, 0xAA, 0xBB, 0xCC, 0xDD}
	if _, err := conn.Write(want); err != nil {
		t.Fatalf("write: %v", err)
	}

	select {
	case got := <-received:
		if string(got) != string(want) {
			t.Fatalf("received %x, want %x", got, want)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("datagram handler never fired")
	}
}

func TestUDPStartStopIdempotent(t *testing.T) {
	tr := NewUDP("127.0.0.1:0", UDPOptions{})
	tr.SetDatagramHandler(func([]byte) {})

	if err := tr.StartListening(context.Background()); err != nil {
		t.Fatalf("StartListening failed: %v", err)
	}
	first := tr.LocalAddr()

	// Second start is a no-op: same socket stays bound.
	if err := tr.StartListening(context.Background()); err != nil {
		t.Fatalf("second StartListening failed: %v", err)
	}
	if got := tr.LocalAddr(); got.String() != first.String() {
		t.Fatalf("rebound socket: %s -> %s", first, got)
	}

	tr.StopListening()
	tr.StopListening() // safe while stopped

	if tr.LocalAddr() != nil {
		t.Fatal("expected no local address after stop")
	}
}

func TestUDPHandlerPayloadIsOwned(t *testing.T) {
	tr := NewUDP("127.0.0.1:0", UDPOptions{})
	received := make(chan []byte, 4)
	tr.SetDatagramHandler(func(p []byte) { received <- p })

	if err := tr.StartListening(context.Background()); err != nil {
		t.Fatalf("StartListening failed: %v", err)
	}
	defer tr.StopListening()

	conn, err := net.Dial("udp", tr.LocalAddr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// Two back-to-back datagrams must not alias the same buffer.
	if _, err := conn.Write([]byte{1, 1, 1, 1}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := conn.Write([]byte{2, 2, 2, 2}); err != nil {
		t.Fatalf("write: %v", err)
	}

	var first, second []byte
	for i := 0; i < 2; i++ {
		select {
		case p := <-received:
			if i == 0 {
				first = p
			} else {
				second = p
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("datagram %d never arrived", i+1)
		}
	}
	if first[0] != 1 || second[0] != 2 {
		t.Fatalf("payloads corrupted: %x %x", first, second)
	}
}
