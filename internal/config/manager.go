package config

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"io"
	"os"
	"sync"
	"time"

	logx "pushbridge/pkg/logx"
)

// ConfigManager loads the bridge configuration from one file and hands
// reloads to subscribers. Unknown keys and trailing data are rejected so a
// typo in a section name fails loudly instead of silently running defaults.
type ConfigManager struct {
	path string

	mu          sync.RWMutex
	cfg         *Config
	fingerprint uint64 // of the last committed config; skips no-op publishes

	// subsMu guards the subscriber list and keeps publish from racing a
	// channel close in Unsubscribe.
	subsMu sync.Mutex
	subs   []chan *Config

	log       logx.Logger
	validator func(ctx context.Context, cfg *Config) error

	timerMu     sync.Mutex
	reloadTimer *time.Timer
}

func NewConfigManager(path string) *ConfigManager {
	return &ConfigManager{path: path, log: logx.Nop()}
}

func (m *ConfigManager) SetLogger(log logx.Logger) {
	if log.IsZero() {
		log = logx.Nop()
	}
	m.log = log
}

// SetValidator installs a hook Watch runs before committing a reload. A
// rejected config never reaches subscribers.
func (m *ConfigManager) SetValidator(fn func(ctx context.Context, cfg *Config) error) {
	m.validator = fn
}

// Parse reads and decodes the file without committing it.
func (m *ConfigManager) Parse() (*Config, error) {
	raw, err := os.ReadFile(m.path)
	if err != nil {
		return nil, err
	}
	jb, err := toJSON(m.path, raw)
	if err != nil {
		return nil, err
	}
	return decodeStrict(jb)
}

func decodeStrict(jb []byte) (*Config, error) {
	dec := json.NewDecoder(bytes.NewReader(jb))
	dec.DisallowUnknownFields()

	var cfg Config
	if err := dec.Decode(&cfg); err != nil {
		return nil, err
	}
	switch err := dec.Decode(&struct{}{}); {
	case err == nil:
		return nil, errors.New("invalid config: trailing data")
	case err != io.EOF:
		return nil, err
	}
	return &cfg, nil
}

// Load parses the file and commits the result.
func (m *ConfigManager) Load() (*Config, error) {
	cfg, err := m.Parse()
	if err != nil {
		return nil, err
	}
	m.Commit(cfg)
	return cfg, nil
}

func (m *ConfigManager) Commit(cfg *Config) {
	fp := fingerprint(cfg)
	m.mu.Lock()
	m.cfg = cfg
	m.fingerprint = fp
	m.mu.Unlock()
}

func (m *ConfigManager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

func (m *ConfigManager) committed() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.fingerprint
}

// fingerprint hashes the canonical JSON form of a config. Nil and
// unmarshalable configs hash to 0, which never matches a committed value.
func fingerprint(cfg *Config) uint64 {
	if cfg == nil {
		return 0
	}
	b, err := json.Marshal(cfg)
	if err != nil || len(b) == 0 {
		return 0
	}
	h := fnv.New64a()
	_, _ = h.Write(b)
	return h.Sum64()
}

// Subscribe returns a channel that receives each committed reload. The
// channel stays usable until Unsubscribe closes it.
func (m *ConfigManager) Subscribe(buffer int) chan *Config {
	ch := make(chan *Config, buffer)
	m.subsMu.Lock()
	m.subs = append(m.subs, ch)
	m.subsMu.Unlock()
	return ch
}

func (m *ConfigManager) Unsubscribe(ch chan *Config) {
	if ch == nil {
		return
	}
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	for i, s := range m.subs {
		if s != ch {
			continue
		}
		last := len(m.subs) - 1
		m.subs[i] = m.subs[last]
		m.subs[last] = nil
		m.subs = m.subs[:last]
		close(ch)
		return
	}
}

// publish offers cfg to every subscriber. A full buffer sheds the oldest
// queued config so slow consumers converge on the newest state instead of
// replaying history.
func (m *ConfigManager) publish(cfg *Config) {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	for _, ch := range m.subs {
		if ch == nil {
			continue
		}
		select {
		case ch <- cfg:
			continue
		default:
		}
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- cfg:
		default:
			m.log.Debug("config update dropped (subscriber slow)",
				logx.Int("queue_len", len(ch)),
				logx.Int("queue_cap", cap(ch)))
		}
	}
}

// reload parses, deduplicates, validates and finally commits plus publishes
// one reload attempt. Failures log and leave the committed config in place.
func (m *ConfigManager) reload(ctx context.Context) {
	cfg, err := m.Parse()
	if err != nil {
		m.log.Warn("config parse failed", logx.String("path", m.path), logx.Err(err))
		return
	}

	fp := fingerprint(cfg)
	if fp != 0 && fp == m.committed() {
		m.log.Debug("config unchanged; skipping publish", logx.String("path", m.path))
		return
	}

	if m.validator != nil {
		vctx, cancel := context.WithTimeout(ctx, validateTimeout)
		err := m.validator(vctx, cfg)
		cancel()
		if err != nil {
			m.log.Warn("config rejected", logx.String("path", m.path), logx.Err(err))
			return
		}
	}

	m.Commit(cfg)
	m.publish(cfg)
	m.log.Debug("config published",
		logx.String("path", m.path),
		logx.String("fingerprint", fmt.Sprintf("%x", fp)))
}
