package config

import (
	"fmt"
	"strings"

	"github.com/robfig/cron/v3"
)

// Same parser family the bridge schedules use: 5-field specs, optional
// leading seconds, @descriptors.
var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Validate checks a parsed config for semantic errors so a bad reload is
// rejected before anything is committed or published.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}

	switch lvl := strings.ToLower(strings.TrimSpace(cfg.Logging.Level)); lvl {
	case "", "trace", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level: unknown level %q", cfg.Logging.Level)
	}

	switch drv := strings.TrimSpace(cfg.Transport.Driver); drv {
	case "", "memory":
	case "rabbit":
		if strings.TrimSpace(cfg.Transport.URL) == "" {
			return fmt.Errorf("transport.url: required for driver %q", drv)
		}
		if strings.TrimSpace(cfg.Transport.Queue) == "" {
			return fmt.Errorf("transport.queue: required for driver %q", drv)
		}
	default:
		return fmt.Errorf("transport.driver: unknown driver %q", drv)
	}
	if _, err := ParseDurationField("transport.heartbeat", cfg.Transport.Heartbeat); err != nil {
		return err
	}
	if _, err := ParseDurationField("transport.dial_timeout", cfg.Transport.DialTimeout); err != nil {
		return err
	}
	if cfg.Transport.Prefetch < 0 {
		return fmt.Errorf("transport.prefetch: must be >= 0")
	}

	switch drv := strings.TrimSpace(cfg.Renderer.Driver); drv {
	case "", "memory":
	case "local":
		if strings.TrimSpace(cfg.Renderer.Path) == "" {
			return fmt.Errorf("renderer.path: required for driver %q", drv)
		}
	case "telegram":
		if strings.TrimSpace(cfg.Renderer.Token) == "" {
			return fmt.Errorf("renderer.token: required for driver %q", drv)
		}
		if cfg.Renderer.ChatID == 0 {
			return fmt.Errorf("renderer.chat_id: required for driver %q", drv)
		}
	default:
		return fmt.Errorf("renderer.driver: unknown driver %q", drv)
	}
	if _, err := ParseDurationField("renderer.busy_timeout", cfg.Renderer.BusyTimeout); err != nil {
		return err
	}
	if _, err := ParseDurationField("renderer.poll_timeout", cfg.Renderer.PollTimeout); err != nil {
		return err
	}

	if cfg.Channels != nil {
		if err := cfg.Channels.Validate(); err != nil {
			return fmt.Errorf("channels: %w", err)
		}
	}

	if d := cfg.Dispatch; d != nil {
		if d.QueueSize < 0 || d.TapQueueSize < 0 {
			return fmt.Errorf("dispatch: queue sizes must be >= 0")
		}
		if d.DisplayRate < 0 {
			return fmt.Errorf("dispatch.display_rate: must be >= 0")
		}
		if d.DisplayBurst < 0 {
			return fmt.Errorf("dispatch.display_burst: must be >= 0")
		}
	}

	if err := validateCron("resync.channels", cfg.Resync.Channels); err != nil {
		return err
	}
	if err := validateCron("resync.token", cfg.Resync.Token); err != nil {
		return err
	}

	for _, f := range []struct{ path, raw string }{
		{"pprof.read_timeout", cfg.Pprof.ReadTimeout},
		{"pprof.write_timeout", cfg.Pprof.WriteTimeout},
		{"pprof.idle_timeout", cfg.Pprof.IdleTimeout},
	} {
		if _, err := ParseDurationField(f.path, f.raw); err != nil {
			return err
		}
	}

	return nil
}

func validateCron(path, spec string) error {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return nil
	}
	if _, err := cronParser.Parse(spec); err != nil {
		return fmt.Errorf("%s: invalid cron spec %q: %w", path, spec, err)
	}
	return nil
}
