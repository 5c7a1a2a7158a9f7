// Command voxline runs a realtime multimodal voice session against a remote
// model provider. Audio capture is read from a raw PCM file (or disabled for
// transcript-only mode), synthesised speech is written to another, and
// transcripts stream to stdout.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/voxline-ai/voxline/internal/app"
	"github.com/voxline-ai/voxline/internal/config"
	"github.com/voxline-ai/voxline/internal/observe"
	"github.com/voxline-ai/voxline/pkg/audio"
	"github.com/voxline-ai/voxline/pkg/session"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	inputPath := flag.String("input", "", "raw s16le PCM file used as the capture source (overrides audio.input_file)")
	outputPath := flag.String("output", "", "file where synthesised s16le PCM is written (overrides audio.output_file)")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "voxline: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "voxline: %v\n", err)
		}
		return 1
	}
	if *inputPath != "" {
		cfg.Audio.InputFile = *inputPath
	}
	if *outputPath != "" {
		cfg.Audio.OutputFile = *outputPath
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("voxline starting",
		"config", *configPath,
		"provider", cfg.Transport.Provider,
		"model", cfg.Transport.Model,
		"listen_addr", cfg.Server.ListenAddr,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Observability ─────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName: "voxline",
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(shCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Application ───────────────────────────────────────────────────────────
	application, err := app.New(cfg,
		app.WithGraphConfig(graphConfig(cfg)),
		app.WithCallbacks(session.Callbacks{
			OnStateChange: func(state session.State) {
				slog.Info("session state", "state", state.String())
			},
			OnTranscript: printTranscript,
		}),
	)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	slog.Info("session starting — press Ctrl+C to shut down")

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutdown signal received, stopping…")
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// graphConfig builds the audio graph factories from the file paths in cfg.
// Either side may be absent: no input file means transcript-only capture, no
// output file means playback audio is discarded after metering.
func graphConfig(cfg *config.Config) audio.GraphConfig {
	g := audio.GraphConfig{
		InputRate:      cfg.Audio.InputRate,
		OutputRate:     cfg.Audio.OutputRate,
		OutputChannels: cfg.Audio.OutputChannels,
		FrameSize:      cfg.Audio.FrameSize,
		Gain:           cfg.Audio.Gain,
	}

	if path := cfg.Audio.InputFile; path != "" {
		rate := cfg.Audio.InputRate
		if rate <= 0 {
			rate = audio.DefaultInputRate
		}
		g.AcquireSource = func(context.Context) (audio.CaptureSource, error) {
			f, err := os.Open(path)
			if err != nil {
				return nil, fmt.Errorf("open input file %q: %w", path, err)
			}
			return audio.NewReaderSource(f, rate, 1), nil
		}
	}

	if path := cfg.Audio.OutputFile; path != "" {
		g.NewSink = func() (audio.PlaybackSink, error) {
			f, err := os.Create(path)
			if err != nil {
				return nil, fmt.Errorf("create output file %q: %w", path, err)
			}
			return audio.NewWriterSink(f), nil
		}
	}

	return g
}

// printTranscript streams transcript fragments to stdout. Partial fragments
// are suppressed; finals are printed one per line with their speaker side.
func printTranscript(text string, input, final bool, agent string) {
	if !final || text == "" {
		return
	}
	side := "model"
	if input {
		side = "you"
	}
	if agent != "" {
		fmt.Printf("[%s/%s] %s\n", side, agent, text)
		return
	}
	fmt.Printf("[%s] %s\n", side, text)
}

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
