package config

import (
	"reflect"
	"sort"
	"strings"

	logx "pushbridge/pkg/logx"
)

// SummarizeConfigChange returns (1) a compact list of changed sections and
// (2) safe structured attrs for logging. Secrets (bot tokens, broker URLs
// with embedded credentials) are reduced to "set" booleans.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 6)
	attrs := make([]logx.Field, 0, 16)

	// Logging
	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logx.level", newCfg.Logging.Level),
			logx.Bool("logx.console", newCfg.Logging.Console),
			logx.Bool("logx.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	// Transport (never log the URL; it may embed credentials)
	if oldCfg.Transport != newCfg.Transport {
		changed = append(changed, "transport")
		attrs = append(attrs,
			logx.String("transport.driver", strings.TrimSpace(newCfg.Transport.Driver)),
			logx.Bool("transport.url_set", strings.TrimSpace(newCfg.Transport.URL) != ""),
			logx.String("transport.queue", strings.TrimSpace(newCfg.Transport.Queue)),
			logx.Bool("transport.opened_queue_set", strings.TrimSpace(newCfg.Transport.OpenedQueue) != ""),
			logx.Int("transport.prefetch", newCfg.Transport.Prefetch),
		)
	}

	// Renderer (never log the token)
	if oldCfg.Renderer != newCfg.Renderer {
		changed = append(changed, "renderer")
		attrs = append(attrs,
			logx.String("renderer.driver", strings.TrimSpace(newCfg.Renderer.Driver)),
			logx.Bool("renderer.path_set", strings.TrimSpace(newCfg.Renderer.Path) != ""),
			logx.Bool("renderer.token_set", strings.TrimSpace(newCfg.Renderer.Token) != ""),
			logx.Bool("renderer.chat_id_set", newCfg.Renderer.ChatID != 0),
		)
	}

	// Channels. Nil means the built-in default set.
	oldCh := oldCfg.EffectiveChannels()
	newCh := newCfg.EffectiveChannels()
	if !reflect.DeepEqual(oldCh, newCh) {
		changed = append(changed, "channels")
		attrs = append(attrs,
			logx.String("channels.default", newCh.Default.ID),
			logx.Int("channels.count", len(newCh.Desired())),
		)
	}

	// Dispatch. Nil means runtime defaults.
	oldD := derefDispatch(oldCfg.Dispatch)
	newD := derefDispatch(newCfg.Dispatch)
	if oldD != newD {
		changed = append(changed, "dispatch")
		attrs = append(attrs,
			logx.Int("dispatch.queue_size", newD.QueueSize),
			logx.Int("dispatch.tap_queue_size", newD.TapQueueSize),
			logx.Float64("dispatch.display_rate", newD.DisplayRate),
			logx.Int("dispatch.display_burst", newD.DisplayBurst),
		)
	}

	// Resync schedules
	if strings.TrimSpace(oldCfg.Resync.Channels) != strings.TrimSpace(newCfg.Resync.Channels) ||
		strings.TrimSpace(oldCfg.Resync.Token) != strings.TrimSpace(newCfg.Resync.Token) {
		changed = append(changed, "resync")
		attrs = append(attrs,
			logx.String("resync.channels", strings.TrimSpace(newCfg.Resync.Channels)),
			logx.String("resync.token", strings.TrimSpace(newCfg.Resync.Token)),
		)
	}

	// Pprof (never log token)
	if oldCfg.Pprof.Enabled != newCfg.Pprof.Enabled ||
		strings.TrimSpace(oldCfg.Pprof.Addr) != strings.TrimSpace(newCfg.Pprof.Addr) ||
		strings.TrimSpace(oldCfg.Pprof.Prefix) != strings.TrimSpace(newCfg.Pprof.Prefix) ||
		oldCfg.Pprof.AllowInsecure != newCfg.Pprof.AllowInsecure ||
		strings.TrimSpace(oldCfg.Pprof.ReadTimeout) != strings.TrimSpace(newCfg.Pprof.ReadTimeout) ||
		strings.TrimSpace(oldCfg.Pprof.WriteTimeout) != strings.TrimSpace(newCfg.Pprof.WriteTimeout) ||
		strings.TrimSpace(oldCfg.Pprof.IdleTimeout) != strings.TrimSpace(newCfg.Pprof.IdleTimeout) ||
		oldCfg.Pprof.MutexProfileFraction != newCfg.Pprof.MutexProfileFraction ||
		oldCfg.Pprof.BlockProfileRate != newCfg.Pprof.BlockProfileRate ||
		oldCfg.Pprof.MemProfileRate != newCfg.Pprof.MemProfileRate ||
		(strings.TrimSpace(oldCfg.Pprof.Token) != "") != (strings.TrimSpace(newCfg.Pprof.Token) != "") {
		changed = append(changed, "pprof")
		attrs = append(attrs,
			logx.Bool("pprof.enabled", newCfg.Pprof.Enabled),
			logx.String("pprof.addr", strings.TrimSpace(newCfg.Pprof.Addr)),
			logx.Bool("pprof.token_set", strings.TrimSpace(newCfg.Pprof.Token) != ""),
			logx.Bool("pprof.allow_insecure", newCfg.Pprof.AllowInsecure),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}

func derefDispatch(d *DispatchConfig) DispatchConfig {
	if d == nil {
		return DispatchConfig{}
	}
	return *d
}
