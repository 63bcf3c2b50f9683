package config

import (
	"reflect"
	"testing"

	"pushbridge/internal/channels"
)

func TestSummarizeConfigChange(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(cfg *Config)
		want   []string
	}{
		{name: "no change", mutate: func(*Config) {}, want: []string{}},
		{name: "logging", mutate: func(cfg *Config) { cfg.Logging.Level = "debug" }, want: []string{"logging"}},
		{name: "transport url", mutate: func(cfg *Config) { cfg.Transport.URL = "amqp://other" }, want: []string{"transport"}},
		{name: "renderer token", mutate: func(cfg *Config) { cfg.Renderer.Token = "999:zzz" }, want: []string{"renderer"}},
		{name: "channels", mutate: func(cfg *Config) {
			cfg.Channels.Channels = append(cfg.Channels.Channels, channels.Channel{
				ID: "alerts", Name: "Alerts", Importance: channels.ImportanceMax,
			})
		}, want: []string{"channels"}},
		{name: "channels dropped to default", mutate: func(cfg *Config) { cfg.Channels = nil }, want: []string{"channels"}},
		{name: "dispatch", mutate: func(cfg *Config) { cfg.Dispatch.DisplayRate = 10 }, want: []string{"dispatch"}},
		{name: "dispatch nil means defaults", mutate: func(cfg *Config) { cfg.Dispatch = nil }, want: []string{"dispatch"}},
		{name: "resync", mutate: func(cfg *Config) { cfg.Resync.Channels = "@daily" }, want: []string{"resync"}},
		{name: "resync whitespace only", mutate: func(cfg *Config) { cfg.Resync.Channels = " @hourly " }, want: []string{}},
		{name: "pprof", mutate: func(cfg *Config) { cfg.Pprof.Enabled = true }, want: []string{"pprof"}},
		{name: "several sorted", mutate: func(cfg *Config) {
			cfg.Resync.Token = ""
			cfg.Logging.Console = false
			cfg.Transport.Prefetch = 1
		}, want: []string{"logging", "resync", "transport"}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			oldCfg := validConfig()
			newCfg := validConfig()
			tt.mutate(newCfg)
			got, _ := SummarizeConfigChange(oldCfg, newCfg)
			if !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("changed sections = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSummarizeConfigChangeNil(t *testing.T) {
	t.Parallel()

	// A nil side stands in for "everything unset".
	got, _ := SummarizeConfigChange(nil, validConfig())
	if len(got) == 0 {
		t.Fatal("nil -> populated config reported no changes")
	}
	if got2, _ := SummarizeConfigChange(nil, nil); len(got2) != 0 {
		t.Fatalf("nil -> nil reported %v", got2)
	}
}
