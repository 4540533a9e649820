package sdrnet

import (
	"encoding/binary"
	"fmt"
)

// ----------------------------------------------------------------------
// Control item codes
// ----------------------------------------------------------------------

// Control frames are little-endian throughout:
//
//	[length uint16][item uint16][params ...]
//
// where length counts the whole frame including its own two bytes. The item
// codes follow the NetSDR-style control-item convention but the parameter
// layouts below are our own documented contract, not a vendor encoding.
const (
	itemReceiverState = 0x0018 // params: [run uint8] 1=start 0=stop
	itemFrequency     = 0x0020 // params: [channel uint8][freqHz uint64]
	itemRFGain        = 0x0038 // params: [channel uint8][gain int8]
	itemSampleRate    = 0x00B8 // params: [channel uint8][rate uint32]
	itemPacketSize    = 0x00C4 // params: [mode uint8][samples uint16]
)

const (
	runStop  = 0
	runStart = 1
)

// DatagramHeaderLen is the minimum length of a valid sample datagram:
// a 16-bit sequence counter followed by a 16-bit flags word. Anything
// shorter is dropped by the decoder.
const DatagramHeaderLen = 4

// BytesPerSample is the wire size of one complex sample: int16 I + int16 Q.
const BytesPerSample = 4

// ----------------------------------------------------------------------
// Codec
// ----------------------------------------------------------------------

// SetupOptions carries the runtime values baked into the three setup
// messages sent during Connect. The engine treats the resulting payloads as
// opaque; only the codec knows their layout.
type SetupOptions struct {
	SampleRateHz  uint32
	RFGainDB      int8
	PacketSamples uint16
}

// DefaultSetupOptions mirrors the receiver's power-on defaults.
func DefaultSetupOptions() SetupOptions {
	return SetupOptions{
		SampleRateHz:  2_000_000,
		RFGainDB:      0,
		PacketSamples: 1024,
	}
}

// Codec builds control-channel request frames and decodes data-channel
// datagrams. It is stateless; all methods are safe for concurrent use.
type Codec struct{}

func frame(item uint16, params []byte) []byte {
	total := 4 + len(params)
	out := make([]byte, 4, total)
	binary.LittleEndian.PutUint16(out[0:2], uint16(total))
	binary.LittleEndian.PutUint16(out[2:4], item)
	return append(out, params...)
}

// SetupMessages returns the three configuration frames sent, in order,
// during the connect handshake: sample rate, RF gain, data packet size.
func (Codec) SetupMessages(opts SetupOptions) [][]byte {
	rate := make([]byte, 5)
	rate[0] = 0 // channel 0 programs the master clock
	binary.LittleEndian.PutUint32(rate[1:5], opts.SampleRateHz)

	gain := []byte{0, byte(opts.RFGainDB)}

	pkt := make([]byte, 3)
	pkt[0] = 0 // contiguous 16-bit mode
	binary.LittleEndian.PutUint16(pkt[1:3], opts.PacketSamples)

	return [][]byte{
		frame(itemSampleRate, rate),
		frame(itemRFGain, gain),
		frame(itemPacketSize, pkt),
	}
}

// StartIQ returns the receiver-state frame that begins streaming.
func (Codec) StartIQ() []byte {
	return frame(itemReceiverState, []byte{runStart})
}

// StopIQ returns the receiver-state frame that halts streaming.
func (Codec) StopIQ() []byte {
	return frame(itemReceiverState, []byte{runStop})
}

// SetFrequency returns the tune frame for one channel. The channel occupies
// a single byte and the frequency eight bytes little-endian, so distinct
// (frequency, channel) pairs always yield distinct payloads.
func (Codec) SetFrequency(freqHz uint64, channel int) ([]byte, error) {
	if channel < 0 || channel > 0xFF {
		return nil, fmt.Errorf("channel %d out of range", channel)
	}
	params := make([]byte, 9)
	params[0] = byte(channel)
	binary.LittleEndian.PutUint64(params[1:9], freqHz)
	return frame(itemFrequency, params), nil
}

// ----------------------------------------------------------------------
// Datagram decoding
// ----------------------------------------------------------------------

// SampleBatch is the ordered set of complex samples decoded from one
// datagram. Samples are normalized to [-1, 1) with the 1/32768 int16 scale.
type SampleBatch struct {
	Sequence uint16
	Flags    uint16
	Samples  []complex64
}

// DecodeDatagram parses one data-channel datagram. It returns ok=false for
// anything shorter than the minimum header; trailing bytes that do not form
// a whole sample are ignored. It never fails loudly: a bad datagram simply
// produces no batch.
func (Codec) DecodeDatagram(payload []byte) (SampleBatch, bool) {
	if len(payload) < DatagramHeaderLen {
		return SampleBatch{}, false
	}

	seq := binary.LittleEndian.Uint16(payload[0:2])
	flags := binary.LittleEndian.Uint16(payload[2:4])

	body := payload[DatagramHeaderLen:]
	n := len(body) / BytesPerSample

	samples := make([]complex64, n)
	const scale = float32(1.0 / 32768.0)
	for i := 0; i < n; i++ {
		off := i * BytesPerSample
		iVal := int16(binary.LittleEndian.Uint16(body[off : off+2]))
		qVal := int16(binary.LittleEndian.Uint16(body[off+2 : off+4]))
		samples[i] = complex(float32(iVal)*scale, float32(qVal)*scale)
	}

	return SampleBatch{Sequence: seq, Flags: flags, Samples: samples}, true
}
