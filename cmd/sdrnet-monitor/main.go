// Command sdrnet-monitor connects to a network-attached SDR receiver,
// tunes it, streams IQ samples, and serves live streaming statistics over
// HTTP until interrupted.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cenkalti/backoff"

	"github.com/rfkit/netsdr/internal/app"
	"github.com/rfkit/netsdr/internal/config"
	"github.com/rfkit/netsdr/internal/logging"
	"github.com/rfkit/netsdr/internal/mdns"
	"github.com/rfkit/netsdr/internal/telemetry"
	"github.com/rfkit/netsdr/internal/transport"
	"github.com/rfkit/netsdr/sdrnet"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "sdrnet-monitor:", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath = flag.String("config", "", "path to YAML configuration")
		addr       = flag.String("addr", "", "receiver control address (overrides config)")
		freq       = flag.Uint64("freq", 0, "initial tune frequency in Hz for channel 0")
		discover   = flag.Bool("discover", false, "browse mDNS for a receiver instead of using the configured address")
		logLevel   = flag.String("log-level", "", "debug, info, warn, or error (overrides config)")
	)
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	if *addr != "" {
		cfg.Receiver.ControlAddress = *addr
	}
	if *freq != 0 {
		cfg.Tunes = append(cfg.Tunes, config.TuneConfig{Channel: 0, FrequencyHz: *freq})
	}
	if *discover {
		cfg.Discovery.Enabled = true
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}

	level, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return err
	}
	format, err := logging.ParseFormat(cfg.Logging.Format)
	if err != nil {
		return err
	}
	log := logging.NewStderr(level, format)
	logging.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Discovery.Enabled {
		found, err := mdns.Discover(ctx, time.Duration(cfg.Discovery.TimeoutSeconds)*time.Second)
		if err != nil {
			return fmt.Errorf("discovery: %w", err)
		}
		picked := ""
		for _, r := range found {
			if a, ok := r.ControlAddress(); ok {
				log.Info("discovered receiver",
					logging.Field{Key: "instance", Value: r.Instance},
					logging.Field{Key: "addr", Value: a})
				if picked == "" {
					picked = a
				}
			}
		}
		if picked == "" {
			return fmt.Errorf("discovery found no usable receivers")
		}
		cfg.Receiver.ControlAddress = picked
	}

	tcpOpts := transport.TCPOptions{Logger: log}
	if cfg.SSH.Host != "" {
		tunnel, err := transport.NewSSHTunnel(transport.SSHConfig{
			Host:     cfg.SSH.Host,
			User:     cfg.SSH.User,
			Password: cfg.SSH.Password,
			KeyPath:  cfg.SSH.KeyPath,
			Port:     cfg.SSH.Port,
		})
		if err != nil {
			return fmt.Errorf("ssh tunnel: %w", err)
		}
		defer tunnel.Close()
		tcpOpts.Dial = tunnel.Dial
		log.Info("control channel tunnelled over ssh",
			logging.Field{Key: "host", Value: cfg.SSH.Host})
	}

	control := transport.NewTCP(cfg.Receiver.ControlAddress, tcpOpts)
	data := transport.NewUDP(cfg.Receiver.DataListen, transport.UDPOptions{Logger: log})

	client := sdrnet.NewClient(control, data, sdrnet.Options{
		Setup: sdrnet.SetupOptions{
			SampleRateHz:  cfg.Setup.SampleRateHz,
			RFGainDB:      cfg.Setup.RFGainDB,
			PacketSamples: cfg.Setup.PacketSamples,
		},
		AckTimeout: cfg.Receiver.AckTimeout(),
		Logger:     log,
	})

	// Retry only the initial connection; once a session drops, policy
	// belongs to the operator, not this tool.
	connect := func() error {
		if err := client.Connect(ctx); err != nil {
			log.Warn("connect attempt failed", logging.Field{Key: "err", Value: err})
			return err
		}
		return nil
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 4), ctx)
	if err := backoff.Retry(connect, policy); err != nil {
		return fmt.Errorf("connect to %s: %w", cfg.Receiver.ControlAddress, err)
	}
	defer client.Disconnect()

	for _, tune := range cfg.Tunes {
		if err := client.ChangeFrequency(ctx, tune.FrequencyHz, tune.Channel); err != nil {
			return fmt.Errorf("tune channel %d: %w", tune.Channel, err)
		}
		log.Info("tuned",
			logging.Field{Key: "channel", Value: tune.Channel},
			logging.Field{Key: "freqHz", Value: tune.FrequencyHz})
	}

	hub := telemetry.NewHub(cfg.Telemetry.HistoryLimit)
	if cfg.Telemetry.Listen != "" {
		server := telemetry.NewServer(cfg.Telemetry.Listen, hub, log)
		go server.Start(ctx)
		log.Info("telemetry listening", logging.Field{Key: "addr", Value: cfg.Telemetry.Listen})
	}

	monitor := app.NewMonitor(client, hub, app.Config{
		SampleRateHz: float64(cfg.Setup.SampleRateHz),
		BatchSamples: int(cfg.Setup.PacketSamples),
	}, log)
	go monitor.Run(ctx)

	if err := client.StartIQ(ctx); err != nil {
		return err
	}

	<-ctx.Done()

	// A fresh context: the signal context is already cancelled.
	stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.StopIQ(stopCtx); err != nil {
		log.Warn("stop IQ on shutdown", logging.Field{Key: "err", Value: err})
	}
	return nil
}
