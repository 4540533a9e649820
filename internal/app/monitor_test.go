package app

import (
	"context"
	"encoding/binary"
	"sync"
	"testing"
	"time"

	"github.com/rfkit/netsdr/internal/telemetry"
	"github.com/rfkit/netsdr/sdrnet"
)

// ackingControl acknowledges every command immediately, like a healthy
// receiver with no work to do.
type ackingControl struct {
	mu        sync.Mutex
	connected bool
	handler   func([]byte)
}

func (a *ackingControl) Connected() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.connected
}

func (a *ackingControl) Connect(context.Context) error {
	a.mu.Lock()
	a.connected = true
	a.mu.Unlock()
	return nil
}

func (a *ackingControl) Disconnect() {
	a.mu.Lock()
	a.connected = false
	a.mu.Unlock()
}

func (a *ackingControl) Send(context.Context, []byte) error {
	a.mu.Lock()
	handler := a.handler
	a.mu.Unlock()
	if handler != nil {
		go handler([]byte{0x04, 0x00, 0x00, 0x00})
	}
	return nil
}

func (a *ackingControl) SetMessageHandler(fn func([]byte)) {
	a.mu.Lock()
	a.handler = fn
	a.mu.Unlock()
}

type stubData struct {
	mu      sync.Mutex
	handler func([]byte)
}

func (s *stubData) StartListening(context.Context) error { return nil }
func (s *stubData) StopListening()                       {}

func (s *stubData) SetDatagramHandler(fn func([]byte)) {
	s.mu.Lock()
	s.handler = fn
	s.mu.Unlock()
}

func (s *stubData) inject(payload []byte) {
	s.mu.Lock()
	handler := s.handler
	s.mu.Unlock()
	if handler != nil {
		handler(payload)
	}
}

// datagramWithTone builds a datagram carrying n constant-amplitude samples,
// which concentrates spectral power at DC.
func datagramWithTone(n int) []byte {
	out := make([]byte, 4+n*4)
	binary.LittleEndian.PutUint16(out[0:2], 1)
	for i := 0; i < n; i++ {
		off := 4 + i*4
		binary.LittleEndian.PutUint16(out[off:off+2], uint16(16384)) // I = 0.5
		binary.LittleEndian.PutUint16(out[off+2:off+4], 0)           // Q = 0
	}
	return out
}

func TestMonitorReportsStreamingStatus(t *testing.T) {
	const batchSamples = 8

	control := &ackingControl{}
	data := &stubData{}
	client := sdrnet.NewClient(control, data, sdrnet.Options{})

	hub := telemetry.NewHub(50)
	monitor := NewMonitor(client, hub, Config{
		SampleRateHz:   8_000,
		BatchSamples:   batchSamples,
		ReportInterval: 10 * time.Millisecond,
	}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go monitor.Run(ctx)

	if err := client.Connect(ctx); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if err := client.ChangeFrequency(ctx, 7_100_000, 0); err != nil {
		t.Fatalf("ChangeFrequency failed: %v", err)
	}
	if err := client.StartIQ(ctx); err != nil {
		t.Fatalf("StartIQ failed: %v", err)
	}

	updates, unsubscribe := hub.Subscribe()
	defer unsubscribe()

	data.inject(datagramWithTone(batchSamples))

	deadline := time.After(2 * time.Second)
	for {
		select {
		case sample := <-updates:
			if sample.BatchesDelivered == 0 {
				continue // reporter tick before the datagram landed
			}
			if !sample.Streaming {
				t.Fatalf("sample = %+v, want streaming", sample)
			}
			if sample.Frequencies[0] != 7_100_000 {
				t.Fatalf("frequencies = %v", sample.Frequencies)
			}
			// A constant tone peaks at DC: zero offset from center.
			if sample.PeakOffsetHz != 0 {
				t.Fatalf("peak offset = %v Hz, want 0", sample.PeakOffsetHz)
			}
			return
		case <-deadline:
			t.Fatal("no telemetry sample with delivered batches")
		}
	}
}

func TestMonitorConsumeNeverBlocks(t *testing.T) {
	control := &ackingControl{}
	data := &stubData{}
	client := sdrnet.NewClient(control, data, sdrnet.Options{})

	// No Run loop draining: the channel fills, Consume must still return.
	NewMonitor(client, telemetry.NewHub(5), Config{BatchSamples: 4}, nil)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 500; i++ {
			data.inject(datagramWithTone(4))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Consume blocked the data path")
	}
}
