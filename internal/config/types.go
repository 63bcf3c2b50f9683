package config

import (
	"pushbridge/internal/channels"
)

type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Transport TransportConfig `json:"transport"`
	Renderer  RendererConfig  `json:"renderer"`

	// Channels is the desired notification channel set. If omitted, a single
	// "default" channel is assumed.
	Channels *channels.Settings `json:"channels,omitempty"`

	// Dispatch tunes the bridge pipeline. If omitted, runtime defaults apply.
	Dispatch *DispatchConfig `json:"dispatch,omitempty"`

	Resync ResyncConfig `json:"resync,omitempty"`
	Pprof  PprofConfig  `json:"pprof,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// TransportConfig selects and configures the push message source.
//
// Drivers:
//   - "memory": in-process transport, mainly for tests and local runs.
//   - "rabbit": AMQP broker; messages arrive on Queue, opens on OpenedQueue.
//
// Example:
//
//	"transport": { "driver": "rabbit", "url": "amqp://localhost", "queue": "push" }
type TransportConfig struct {
	Driver string `json:"driver"`

	// URL is the AMQP connection string. May embed credentials; never logged.
	URL         string `json:"url,omitempty"`
	Queue       string `json:"queue,omitempty"`
	OpenedQueue string `json:"opened_queue,omitempty"`
	// Heartbeat and DialTimeout are Go duration strings (e.g. "10s").
	Heartbeat   string `json:"heartbeat,omitempty"`
	DialTimeout string `json:"dial_timeout,omitempty"`
	Prefetch    int    `json:"prefetch,omitempty"`
}

// RendererConfig selects and configures the notification sink.
//
// Drivers:
//   - "memory": in-process renderer, mainly for tests.
//   - "local": sqlite-backed renderer with channel management.
//   - "telegram": renders notifications as Telegram messages (no channels).
type RendererConfig struct {
	Driver string `json:"driver"`

	// Local driver.
	Path        string `json:"path,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string

	// Telegram driver. Token is never logged.
	Token       string `json:"token,omitempty"`
	ChatID      int64  `json:"chat_id,omitempty"`
	ThreadID    int    `json:"thread_id,omitempty"`
	PollTimeout string `json:"poll_timeout,omitempty"` // Go duration string
}

// DispatchConfig tunes the bridge dispatch loop.
//
// Defaults (when fields are omitted/zero):
//   - queue_size: 256
//   - tap_queue_size: 64
//   - display_rate: 0 (pacing disabled)
type DispatchConfig struct {
	QueueSize    int `json:"queue_size,omitempty"`
	TapQueueSize int `json:"tap_queue_size,omitempty"`

	// DisplayRate paces renderer displays (per second); 0 disables pacing.
	DisplayRate  float64 `json:"display_rate,omitempty"`
	DisplayBurst int     `json:"display_burst,omitempty"`
}

// ResyncConfig holds optional cron specs (robfig/cron syntax, seconds field
// optional, @descriptors allowed). Empty disables the schedule.
type ResyncConfig struct {
	// Channels re-reconciles the renderer channel registry.
	Channels string `json:"channels,omitempty"`
	// Token rotates the transport registration token.
	Token string `json:"token,omitempty"`
}

// PprofConfig controls the optional pprof HTTP server.
//
// Security note:
//   - Prefer binding to localhost (e.g. "127.0.0.1:6060").
//   - If you bind to a non-loopback address, set a token or explicitly allow_insecure.
type PprofConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`   // default: "127.0.0.1:6060"
	Prefix        string `json:"prefix,omitempty"` // default: "/debug/pprof/"
	Token         string `json:"token,omitempty"`  // optional bearer token (do not log)
	AllowInsecure bool   `json:"allow_insecure,omitempty"`

	// Server timeouts (Go duration strings). WriteTimeout defaults to 0 (disabled)
	// so /profile (which can take 30s+) works reliably.
	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`

	// Runtime profiling rates. Leave 0 to keep Go defaults.
	MutexProfileFraction int `json:"mutex_profile_fraction,omitempty"`
	BlockProfileRate     int `json:"block_profile_rate,omitempty"`
	MemProfileRate       int `json:"mem_profile_rate,omitempty"`
}

// DefaultChannels is the channel set assumed when the config omits one.
func DefaultChannels() channels.Settings {
	return channels.Settings{
		Default: channels.Channel{
			ID:         "default",
			Name:       "General",
			Importance: channels.ImportanceDefault,
		},
	}
}

// EffectiveChannels returns the configured channel set or the default one.
func (c *Config) EffectiveChannels() channels.Settings {
	if c == nil || c.Channels == nil {
		return DefaultChannels()
	}
	return *c.Channels
}
