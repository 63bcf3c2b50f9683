// Package local provides the SQLite-backed renderer. Displayed
// notifications, the channel registry and the last tapped payload live in a
// database file, so taps and the launched-from-notification payload survive
// process restarts.
package local

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"pushbridge/internal/channels"
	"pushbridge/internal/render"
	logx "pushbridge/pkg/logx"
)

type Config struct {
	Path        string
	BusyTimeout time.Duration // 0 means driver default
}

const schema = `
CREATE TABLE IF NOT EXISTS channels (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL,
	importance TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS notifications (
	id           INTEGER PRIMARY KEY,
	title        TEXT NOT NULL,
	body         TEXT NOT NULL,
	has_android  INTEGER NOT NULL DEFAULT 0,
	channel_id   TEXT NOT NULL DEFAULT '',
	channel_name TEXT NOT NULL DEFAULT '',
	priority     TEXT NOT NULL DEFAULT '',
	importance   TEXT NOT NULL DEFAULT '',
	a_play_sound INTEGER NOT NULL DEFAULT 0,
	a_sound      TEXT NOT NULL DEFAULT '',
	visibility   TEXT NOT NULL DEFAULT '',
	small_icon   TEXT NOT NULL DEFAULT '',
	tag          TEXT NOT NULL DEFAULT '',
	ticker       TEXT NOT NULL DEFAULT '',
	has_apple    INTEGER NOT NULL DEFAULT 0,
	p_play_sound INTEGER NOT NULL DEFAULT 0,
	p_sound      TEXT NOT NULL DEFAULT '',
	badge        INTEGER,
	payload      TEXT NOT NULL,
	displayed_at TEXT NOT NULL,
	active       INTEGER NOT NULL DEFAULT 1
);
CREATE TABLE IF NOT EXISTS launch (
	k         INTEGER PRIMARY KEY CHECK (k = 1),
	payload   TEXT NOT NULL,
	tapped_at TEXT NOT NULL
);
`

// Renderer implements render.Renderer and channels.Manager on top of a
// SQLite file.
type Renderer struct {
	db  *sql.DB
	log logx.Logger

	mu   sync.Mutex
	taps chan<- render.Tap
}

func Open(cfg Config, log logx.Logger) (*Renderer, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("renderer.path is required for the local driver")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return &Renderer{db: db, log: log.With(logx.String("comp", "render.local"))}, nil
}

func (r *Renderer) Start(ctx context.Context, taps chan<- render.Tap) error {
	r.mu.Lock()
	r.taps = taps
	r.mu.Unlock()
	return nil
}

func (r *Renderer) Stop(ctx context.Context) error {
	r.mu.Lock()
	r.taps = nil
	r.mu.Unlock()
	return r.db.Close()
}

func (r *Renderer) Display(ctx context.Context, req render.Request) error {
	var (
		hasAndroid, aPlay      int
		channelID, channelName string
		priority, importance   string
		aSound                 string
		visibility, smallIcon  string
		tag, ticker            string
		hasApple, pPlay        int
		pSound                 string
		badge                  any
	)
	if a := req.Android; a != nil {
		hasAndroid = 1
		channelID, channelName = a.ChannelID, a.ChannelName
		priority = string(a.Priority)
		importance = string(a.Importance)
		aPlay = boolInt(a.PlaySound)
		aSound = a.Sound
		visibility = string(a.Visibility)
		smallIcon, tag, ticker = a.SmallIcon, a.Tag, a.Ticker
	}
	if p := req.Apple; p != nil {
		hasApple = 1
		pPlay = boolInt(p.PlaySound)
		pSound = p.Sound
		if p.Badge != nil {
			badge = *p.Badge
		}
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO notifications(id, title, body,
			has_android, channel_id, channel_name, priority, importance, a_play_sound, a_sound, visibility, small_icon, tag, ticker,
			has_apple, p_play_sound, p_sound, badge,
			payload, displayed_at, active)
		 VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,1)
		 ON CONFLICT(id) DO UPDATE SET
			title=excluded.title, body=excluded.body,
			has_android=excluded.has_android, channel_id=excluded.channel_id, channel_name=excluded.channel_name,
			priority=excluded.priority, importance=excluded.importance, a_play_sound=excluded.a_play_sound, a_sound=excluded.a_sound,
			visibility=excluded.visibility, small_icon=excluded.small_icon, tag=excluded.tag, ticker=excluded.ticker,
			has_apple=excluded.has_apple, p_play_sound=excluded.p_play_sound, p_sound=excluded.p_sound, badge=excluded.badge,
			payload=excluded.payload, displayed_at=excluded.displayed_at, active=1`,
		req.ID, req.Title, req.Body,
		hasAndroid, channelID, channelName, priority, importance, aPlay, aSound, visibility, smallIcon, tag, ticker,
		hasApple, pPlay, pSound, badge,
		req.Payload, time.Now().Format(time.RFC3339Nano),
	)
	return err
}

func (r *Renderer) Cancel(ctx context.Context, id int32) error {
	_, err := r.db.ExecContext(ctx, `UPDATE notifications SET active = 0 WHERE id = ?`, id)
	return err
}

func (r *Renderer) Launch(ctx context.Context) (string, bool, error) {
	var payload string
	err := r.db.QueryRowContext(ctx, `SELECT payload FROM launch WHERE k = 1`).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return payload, true, nil
}

// MarkTapped records a user tap on a displayed notification. The tap is
// emitted to the running bridge (if any) and persisted as the launch payload
// for the next process. It reports false for ids that were never displayed.
func (r *Renderer) MarkTapped(ctx context.Context, id int32) (bool, error) {
	var payload string
	err := r.db.QueryRowContext(ctx, `SELECT payload FROM notifications WHERE id = ?`, id).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	now := time.Now()
	_, err = r.db.ExecContext(ctx,
		`INSERT INTO launch(k, payload, tapped_at) VALUES(1, ?, ?)
		 ON CONFLICT(k) DO UPDATE SET payload=excluded.payload, tapped_at=excluded.tapped_at`,
		payload, now.Format(time.RFC3339Nano),
	)
	if err != nil {
		return false, err
	}

	r.mu.Lock()
	taps := r.taps
	r.mu.Unlock()
	if taps != nil {
		select {
		case taps <- render.Tap{ID: id, Payload: payload, At: now}:
		default:
			r.log.Warn("tap dropped (channel full)", logx.Int32("id", id))
		}
	}
	return true, nil
}

// Displayed returns every notification in the ledger, oldest first.
func (r *Renderer) Displayed(ctx context.Context) ([]render.Request, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, title, body,
			has_android, channel_id, channel_name, priority, importance, a_play_sound, a_sound, visibility, small_icon, tag, ticker,
			has_apple, p_play_sound, p_sound, badge, payload
		 FROM notifications ORDER BY displayed_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []render.Request
	for rows.Next() {
		var (
			req                  render.Request
			hasAndroid, aPlay    int
			a                    render.AndroidDetails
			priority, importance string
			visibility           string
			hasApple, pPlay      int
			p                    render.AppleDetails
			badge                sql.NullInt64
		)
		err := rows.Scan(&req.ID, &req.Title, &req.Body,
			&hasAndroid, &a.ChannelID, &a.ChannelName, &priority, &importance, &aPlay, &a.Sound, &visibility, &a.SmallIcon, &a.Tag, &a.Ticker,
			&hasApple, &pPlay, &p.Sound, &badge, &req.Payload)
		if err != nil {
			return nil, err
		}
		if hasAndroid == 1 {
			a.Priority = render.Priority(priority)
			a.Importance = channels.Importance(importance)
			a.Visibility = render.Visibility(visibility)
			a.PlaySound = aPlay == 1
			req.Android = &a
		}
		if hasApple == 1 {
			p.PlaySound = pPlay == 1
			if badge.Valid {
				v := int(badge.Int64)
				p.Badge = &v
			}
			req.Apple = &p
		}
		out = append(out, req)
	}
	return out, rows.Err()
}

// ---- channels.Manager ----

func (r *Renderer) EnsureChannel(ctx context.Context, ch channels.Channel) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO channels(id, name, importance) VALUES(?,?,?)
		 ON CONFLICT(id) DO UPDATE SET name=excluded.name, importance=excluded.importance`,
		ch.ID, ch.Name, string(ch.Importance),
	)
	return err
}

func (r *Renderer) Channels(ctx context.Context) ([]channels.Channel, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, name, importance FROM channels ORDER BY id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []channels.Channel
	for rows.Next() {
		var ch channels.Channel
		var imp string
		if err := rows.Scan(&ch.ID, &ch.Name, &imp); err != nil {
			return nil, err
		}
		ch.Importance = channels.Importance(imp)
		out = append(out, ch)
	}
	return out, rows.Err()
}

func (r *Renderer) DeleteChannel(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM channels WHERE id = ?`, id)
	return err
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
