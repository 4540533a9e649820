package sdrnet

import (
	"sync"
	"sync/atomic"

	"github.com/rfkit/netsdr/internal/logging"
)

// Consumer receives decoded sample batches from the data path. Consume is
// called from the data transport's receive goroutine and should hand work
// off quickly.
type Consumer interface {
	Consume(batch SampleBatch)
}

// ConsumerFunc adapts a function to the Consumer interface.
type ConsumerFunc func(batch SampleBatch)

func (f ConsumerFunc) Consume(batch SampleBatch) { f(batch) }

// Pipeline decodes inbound datagrams and forwards sample batches to the
// registered consumer. Malformed datagrams are counted and dropped without
// interrupting the stream; the pipeline itself never fails.
type Pipeline struct {
	codec Codec
	log   logging.Logger

	mu       sync.RWMutex
	consumer Consumer

	delivered atomic.Uint64
	dropped   atomic.Uint64
}

// NewPipeline builds a pipeline for the given consumer, which may be nil.
func NewPipeline(consumer Consumer, log logging.Logger) *Pipeline {
	if log == nil {
		log = logging.Default()
	}
	return &Pipeline{consumer: consumer, log: log}
}

// SetConsumer installs or replaces the consumer. A nil consumer discards
// batches while keeping the drop/deliver accounting running.
func (p *Pipeline) SetConsumer(consumer Consumer) {
	p.mu.Lock()
	p.consumer = consumer
	p.mu.Unlock()
}

// HandleDatagram is the data transport's notification entry point, invoked
// once per inbound packet.
func (p *Pipeline) HandleDatagram(payload []byte) {
	batch, ok := p.codec.DecodeDatagram(payload)
	if !ok {
		p.dropped.Add(1)
		p.log.Debug("short datagram dropped",
			logging.Field{Key: "len", Value: len(payload)})
		return
	}

	p.mu.RLock()
	consumer := p.consumer
	p.mu.RUnlock()

	p.delivered.Add(1)
	if consumer != nil {
		consumer.Consume(batch)
	}
}

// Stats returns the number of batches delivered and datagrams dropped.
func (p *Pipeline) Stats() (delivered, dropped uint64) {
	return p.delivered.Load(), p.dropped.Load()
}
