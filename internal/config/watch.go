package config

import (
	"context"
	"math/rand"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	logx "pushbridge/pkg/logx"
)

const (
	// debounceWindow absorbs the burst of events editors and atomic saves
	// produce for a single logical write.
	debounceWindow  = 250 * time.Millisecond
	validateTimeout = 5 * time.Second
)

// retryDelay is a jittered exponential backoff for watcher restarts.
type retryDelay struct {
	base, max, cur time.Duration
	rng            *rand.Rand
}

func newRetryDelay(base, max time.Duration) *retryDelay {
	return &retryDelay{
		base: base, max: max, cur: base,
		rng: rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (r *retryDelay) next() time.Duration {
	d := r.cur + time.Duration(r.rng.Int63n(int64(r.cur/2)+1))
	if r.cur < r.max {
		r.cur *= 2
		if r.cur > r.max {
			r.cur = r.max
		}
	}
	return d
}

func (r *retryDelay) reset() { r.cur = r.base }

// Watch follows the config file until ctx ends. Edits are debounced, hashed
// against the committed config to skip no-op writes, validated, and only then
// committed and fanned out. Filesystem watchers can die underneath us (editor
// swap tricks, inotify overflow), so each broken watcher is replaced with a
// jittered backoff rather than surfacing an error.
func (m *ConfigManager) Watch(ctx context.Context) error {
	dir := filepath.Dir(m.path)
	retry := newRetryDelay(250*time.Millisecond, 5*time.Second)

	for ctx.Err() == nil {
		w, err := fsnotify.NewWatcher()
		if err == nil {
			err = w.Add(dir)
			if err != nil {
				_ = w.Close()
			}
		}
		if err != nil {
			m.log.Warn("config watch setup failed", logx.Err(err), logx.String("dir", dir))
			if !sleep(ctx, retry.next()) {
				return nil
			}
			continue
		}

		retry.reset()
		m.log.Debug("config watcher started", logx.String("path", m.path))

		if done := m.watchEvents(ctx, w); done {
			_ = w.Close()
			return nil
		}
		_ = w.Close()

		wait := retry.next()
		m.log.Warn("config watcher stopped; restarting",
			logx.String("path", m.path),
			logx.Duration("backoff", wait))
		if !sleep(ctx, wait) {
			return nil
		}
	}
	return nil
}

// watchEvents drains one watcher generation. It reports true when ctx ended
// and false when the watcher broke and needs replacing.
func (m *ConfigManager) watchEvents(ctx context.Context, w *fsnotify.Watcher) bool {
	file := filepath.Base(m.path)
	const relevant = fsnotify.Write | fsnotify.Create | fsnotify.Rename | fsnotify.Remove | fsnotify.Chmod

	for {
		select {
		case <-ctx.Done():
			return true
		case ev, ok := <-w.Events:
			if !ok {
				return false
			}
			// Match by basename: the watch is on the directory, and editors
			// rename temp files over the target.
			if strings.EqualFold(filepath.Base(ev.Name), file) && ev.Op&relevant != 0 {
				m.scheduleReload(ctx)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return false
			}
			if err == nil {
				continue
			}
			msg := strings.ToLower(err.Error())
			// Overflow means events were missed; reload once instead of
			// trusting the stream.
			if strings.Contains(msg, "overflow") {
				m.log.Warn("config watch overflow; forcing reload", logx.Err(err))
				m.scheduleReload(ctx)
				continue
			}
			m.log.Warn("config watch error", logx.Err(err))
			if strings.Contains(msg, "closed") {
				return false
			}
		}
	}
}

// scheduleReload arms the debounce timer, collapsing event bursts into one
// reload per window.
func (m *ConfigManager) scheduleReload(ctx context.Context) {
	m.timerMu.Lock()
	defer m.timerMu.Unlock()
	if m.reloadTimer != nil {
		m.reloadTimer.Stop()
	}
	m.log.Debug("config change detected; scheduling reload", logx.String("path", m.path))
	m.reloadTimer = time.AfterFunc(debounceWindow, func() {
		if ctx.Err() != nil {
			return
		}
		m.reload(ctx)
	})
}

func sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
