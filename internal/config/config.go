// Package config provides the configuration schema and loader for the
// Voxline voice session client.
package config

// LogLevel controls log verbosity for the Voxline process.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Config is the root configuration structure for Voxline.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Transport TransportConfig `yaml:"transport"`
	Session   SessionConfig   `yaml:"session"`
	Audio     AudioConfig     `yaml:"audio"`
}

// ServerConfig holds network and logging settings for the local HTTP surface
// (health probes and metrics).
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8080").
	// When empty, no local HTTP server is started.
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// Metrics enables the Prometheus /metrics endpoint.
	Metrics bool `yaml:"metrics"`
}

// TransportConfig selects and configures the realtime transport provider.
type TransportConfig struct {
	// Provider selects the registered transport implementation
	// (e.g., "gemini-live").
	Provider string `yaml:"provider"`

	// APIKey is the authentication key for the provider's API.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default endpoint.
	// Leave empty to use the provider's built-in default.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider
	// (e.g., "gemini-2.0-flash-live-001").
	Model string `yaml:"model"`
}

// SessionConfig tunes the session client's handshake and flush behaviour.
// Zero values select the built-in defaults.
type SessionConfig struct {
	// Voice is the model's speech output voice name.
	Voice string `yaml:"voice"`

	// Locale is sent with the session handshake (e.g., "en-US").
	Locale string `yaml:"locale"`

	// HandshakeTimeoutSeconds bounds the advisory handshake timer.
	// The timer only logs on expiry; it never forces a disconnect.
	HandshakeTimeoutSeconds int `yaml:"handshake_timeout_seconds"`

	// FlushSettleMillis is the delay between readiness and the pending-queue
	// flush.
	FlushSettleMillis int `yaml:"flush_settle_millis"`

	// FlushBatchSize is the number of queued media frames sent per flush
	// batch.
	FlushBatchSize int `yaml:"flush_batch_size"`

	// FlushBatchDelayMillis spaces out consecutive flush batches.
	FlushBatchDelayMillis int `yaml:"flush_batch_delay_millis"`

	// RateLimitWindowSeconds and RateLimitMax bound outbound context
	// updates.
	RateLimitWindowSeconds int `yaml:"rate_limit_window_seconds"`
	RateLimitMax           int `yaml:"rate_limit_max"`
}

// AudioConfig holds the audio graph format settings.
type AudioConfig struct {
	// InputRate is the capture wire sample rate in Hz. Default 16000.
	InputRate int `yaml:"input_rate"`

	// OutputRate is the playback sample rate in Hz. Default 24000.
	OutputRate int `yaml:"output_rate"`

	// OutputChannels is the playback channel count. Default 1.
	OutputChannels int `yaml:"output_channels"`

	// FrameSize is the samples per capture frame at InputRate. Default 256.
	FrameSize int `yaml:"frame_size"`

	// Gain scales playback amplitude in the range (0, 4]. 0 means default (1.0).
	Gain float64 `yaml:"gain"`

	// InputFile is a path to raw s16le PCM used as the capture source.
	// When empty, the session runs in transcript-only mode.
	InputFile string `yaml:"input_file"`

	// OutputFile is a path where synthesised s16le PCM is written.
	// When empty, playback audio is discarded after metering.
	OutputFile string `yaml:"output_file"`
}
