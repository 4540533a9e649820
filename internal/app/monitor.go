// Package app ties the protocol client, spectral analysis, and telemetry
// together into a runnable receiver monitor.
package app

import (
	"context"
	"time"

	"github.com/rfkit/netsdr/internal/dsp"
	"github.com/rfkit/netsdr/internal/logging"
	"github.com/rfkit/netsdr/internal/telemetry"
	"github.com/rfkit/netsdr/sdrnet"
)

// Config captures monitor-level configuration.
type Config struct {
	SampleRateHz   float64
	BatchSamples   int
	ReportInterval time.Duration
}

// Monitor consumes sample batches from the client, runs a power spectrum
// over each full batch, and reports streaming status to telemetry at a
// fixed cadence.
type Monitor struct {
	client   *sdrnet.Client
	analyzer *dsp.Analyzer
	reporter telemetry.Reporter
	log      logging.Logger
	cfg      Config

	batches chan sdrnet.SampleBatch
}

// NewMonitor builds a monitor and installs it as the client's sample
// consumer.
func NewMonitor(client *sdrnet.Client, reporter telemetry.Reporter, cfg Config, log logging.Logger) *Monitor {
	if cfg.BatchSamples <= 0 {
		cfg.BatchSamples = 1024
	}
	if cfg.ReportInterval <= 0 {
		cfg.ReportInterval = time.Second
	}
	if log == nil {
		log = logging.Default()
	}

	m := &Monitor{
		client:   client,
		analyzer: dsp.NewAnalyzer(cfg.BatchSamples),
		reporter: reporter,
		log:      log,
		cfg:      cfg,
		// Analysis lags bursty streams rather than blocking the data path.
		batches: make(chan sdrnet.SampleBatch, 64),
	}
	client.SetConsumer(m)
	return m
}

// Consume implements sdrnet.Consumer. It never blocks the data transport's
// receive goroutine; when analysis falls behind, batches are dropped.
func (m *Monitor) Consume(batch sdrnet.SampleBatch) {
	select {
	case m.batches <- batch:
	default:
	}
}

// Run analyzes batches and reports until the context is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.ReportInterval)
	defer ticker.Stop()

	var lastPeak dsp.Peak
	var analyzed uint64

	for {
		select {
		case batch := <-m.batches:
			spectrum := m.analyzer.PowerSpectrum(batch.Samples)
			if spectrum == nil {
				m.log.Debug("batch size mismatch, skipping analysis",
					logging.Field{Key: "got", Value: len(batch.Samples)},
					logging.Field{Key: "want", Value: m.analyzer.Size()})
				continue
			}
			lastPeak = dsp.FindPeak(spectrum, m.cfg.SampleRateHz)
			analyzed++

		case <-ticker.C:
			delivered, dropped := m.client.PipelineStats()
			m.reporter.Report(telemetry.Sample{
				Timestamp:        time.Now(),
				Streaming:        m.client.IQStreaming(),
				Frequencies:      m.client.ActiveFrequencies(),
				BatchesDelivered: delivered,
				DatagramsDropped: dropped,
				PeakOffsetHz:     lastPeak.OffsetHz,
				PeakPowerDB:      lastPeak.PowerDB,
			})

		case <-ctx.Done():
			m.log.Debug("monitor stopped",
				logging.Field{Key: "batchesAnalyzed", Value: analyzed})
			return
		}
	}
}
