// SPDX-License-Identifier: MIT
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"spectro/internal/audio"
	"spectro/internal/config"
	applog "spectro/internal/log"
	"spectro/internal/metrics"
	"spectro/internal/pipeline"
	"spectro/internal/record"
	"spectro/internal/transport"
	"spectro/internal/transport/udp"
	"spectro/internal/tui"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

// run executes one session: start the pipeline, fan columns out to the
// configured transports, then either show the monitor or wait.
func run(ctx context.Context, cmd *cobra.Command, cfg *config.Config, flags *runFlags) error {
	setupLogging(cfg)

	if usesDevice(cfg.Audio.Source) {
		if err := audio.Initialize(); err != nil {
			return err
		}
		defer audio.Terminate()
	}

	registry := prometheus.NewRegistry()
	pm, err := metrics.NewPipelineMetrics(registry)
	if err != nil {
		return fmt.Errorf("registering metrics: %w", err)
	}

	ctrl := pipeline.New(audio.DefaultOpener{Audio: cfg.Audio}, pipeline.WithMetrics(pm))
	if err := ctrl.Start(ctx, cfg.Audio.Source, cfg.Audio.SampleRate, cfg.Pipeline); err != nil {
		return err
	}
	defer ctrl.Stop()

	transports, err := openTransports(cfg, registry, flags.headless)
	if err != nil {
		ctrl.Stop()
		return err
	}
	feed := transport.NewFeed(ctrl, cfg.Transport.FeedInterval, cfg.Transport.FeedColumns, transports...)
	defer func() {
		if err := feed.Close(); err != nil {
			applog.Warnf("Main: closing transports: %v", err)
		}
	}()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if flags.duration > 0 {
		runCtx, cancel = context.WithTimeout(runCtx, flags.duration)
		defer cancel()
	}

	sinks := record.Sinks{
		Audio:       record.WAVSink{Dir: cfg.Recording.OutputDir, BitDepth: cfg.Recording.BitDepth},
		Spectrogram: record.CSVSink{Dir: cfg.Recording.OutputDir},
	}

	g, gctx := errgroup.WithContext(runCtx)
	if len(transports) > 0 {
		g.Go(func() error { return feed.Run(gctx) })
	}
	g.Go(func() error {
		defer cancel()
		if flags.headless {
			select {
			case <-gctx.Done():
			case <-ctrl.Done():
			}
			return nil
		}
		restore, err := logToFile(cfg.Recording.OutputDir)
		if err != nil {
			return err
		}
		defer restore()
		return tui.RunMonitor(ctrl, describeSource(cfg), sinks)
	})
	if err := g.Wait(); err != nil {
		return err
	}

	stopErr := ctrl.Stop()
	if flags.export {
		sum, err := ctrl.Export(record.Request{
			Name:        record.DefaultName(time.Now()),
			Audio:       true,
			Spectrogram: true,
		}, sinks)
		if err != nil {
			return fmt.Errorf("export: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Saved %.2f-%.2fs:\n  %s (%d samples)\n  %s (%d columns)\n",
			sum.Range.Start, sum.Range.End, sum.AudioPath, sum.AudioSamples, sum.SpectrogramPath, sum.Columns)
	}
	if stopErr != nil && !errors.Is(stopErr, context.Canceled) {
		return stopErr
	}
	return nil
}

// openTransports builds the transports the config asks for.
func openTransports(cfg *config.Config, registry *prometheus.Registry, headless bool) ([]transport.Transport, error) {
	var out []transport.Transport
	if headless && cfg.Debug {
		out = append(out, transport.NewLoggingTransport())
	}

	if cfg.Transport.WebSocketEnabled {
		ws := transport.NewWebSocketTransport(cfg.Transport.WebSocketAddress)
		if cfg.Metrics.Enabled {
			ws.Handle(cfg.Metrics.Path, metrics.Handler(registry))
		}
		if err := ws.Serve(); err != nil {
			ws.Close()
			return closeAll(out, fmt.Errorf("websocket: %w", err))
		}
		out = append(out, ws)
	} else if cfg.Metrics.Enabled {
		applog.Warnf("Main: metrics are served on the websocket address; enable it with --ws")
	}

	if cfg.Transport.UDPEnabled {
		sender, err := udp.NewUDPSender(cfg.Transport.UDPTargetAddress)
		if err != nil {
			return closeAll(out, err)
		}
		pub, err := udp.NewPublisher(cfg.Transport.UDPSendInterval, sender)
		if err != nil {
			sender.Close()
			return closeAll(out, err)
		}
		out = append(out, pub)
	}
	return out, nil
}

func closeAll(ts []transport.Transport, err error) ([]transport.Transport, error) {
	for _, t := range ts {
		t.Close()
	}
	return nil, err
}

func setupLogging(cfg *config.Config) {
	if level, ok := applog.ParseLevel(cfg.LogLevel); ok {
		applog.SetLevel(level)
	} else {
		applog.Warnf("Main: unknown log level %q, keeping %s", cfg.LogLevel, applog.GetLevel())
	}
	if cfg.Debug {
		applog.SetLevel(applog.LevelDebug)
	}
}

// logToFile moves log output off the terminal while the monitor owns it.
func logToFile(dir string) (restore func(), err error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating output directory: %w", err)
	}
	f, err := os.OpenFile(filepath.Join(dir, "spectro.log"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening log file: %w", err)
	}
	applog.SetOutput(f)
	return func() {
		applog.SetOutput(os.Stderr)
		f.Close()
	}, nil
}

func usesDevice(source string) bool {
	return source == "" || strings.HasPrefix(source, "device:")
}

func describeSource(cfg *config.Config) string {
	if cfg.Audio.Source == "" {
		return fmt.Sprintf("device %d", cfg.Audio.InputDevice)
	}
	return cfg.Audio.Source
}
