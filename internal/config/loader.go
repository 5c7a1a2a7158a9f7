package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidTransportProviders lists the known realtime transport providers.
// Used by [Validate] to warn about unrecognised provider names.
var ValidTransportProviders = []string{"gemini-live", "mock"}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.Metrics && cfg.Server.ListenAddr == "" {
		errs = append(errs, fmt.Errorf("server.metrics requires server.listen_addr"))
	}

	// Transport
	if cfg.Transport.Provider == "" {
		errs = append(errs, fmt.Errorf("transport.provider is required"))
	} else if !slices.Contains(ValidTransportProviders, cfg.Transport.Provider) {
		slog.Warn("unknown transport provider — may be a typo or third-party provider",
			"provider", cfg.Transport.Provider,
			"known", ValidTransportProviders,
		)
	}
	if cfg.Transport.Provider == "gemini-live" && cfg.Transport.APIKey == "" {
		errs = append(errs, fmt.Errorf("transport.api_key is required for provider gemini-live"))
	}

	// Session
	if cfg.Session.HandshakeTimeoutSeconds < 0 {
		errs = append(errs, fmt.Errorf("session.handshake_timeout_seconds %d is negative", cfg.Session.HandshakeTimeoutSeconds))
	}
	if cfg.Session.FlushBatchSize < 0 {
		errs = append(errs, fmt.Errorf("session.flush_batch_size %d is negative", cfg.Session.FlushBatchSize))
	}
	if cfg.Session.RateLimitMax < 0 {
		errs = append(errs, fmt.Errorf("session.rate_limit_max %d is negative", cfg.Session.RateLimitMax))
	}

	// Audio
	if cfg.Audio.InputRate < 0 || cfg.Audio.OutputRate < 0 {
		errs = append(errs, fmt.Errorf("audio sample rates must not be negative"))
	}
	if cfg.Audio.OutputChannels < 0 {
		errs = append(errs, fmt.Errorf("audio.output_channels %d is negative", cfg.Audio.OutputChannels))
	}
	if cfg.Audio.FrameSize < 0 {
		errs = append(errs, fmt.Errorf("audio.frame_size %d is negative", cfg.Audio.FrameSize))
	}
	if cfg.Audio.Gain < 0 || cfg.Audio.Gain > 4 {
		errs = append(errs, fmt.Errorf("audio.gain %.2f is out of range (0, 4]", cfg.Audio.Gain))
	}
	if cfg.Audio.FrameSize > 0 && cfg.Audio.FrameSize&(cfg.Audio.FrameSize-1) != 0 {
		slog.Warn("audio.frame_size is not a power of two; capture falls back to the passthrough processor",
			"frame_size", cfg.Audio.FrameSize,
		)
	}

	return errors.Join(errs...)
}
