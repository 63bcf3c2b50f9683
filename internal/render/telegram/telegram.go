// Package telegram provides a renderer that delivers notifications into a
// Telegram chat. It is display-only: there is no channel registry, so
// channel reconciliation skips this renderer entirely.
package telegram

import (
	"context"
	"errors"
	"html"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	tele "gopkg.in/telebot.v4"

	"pushbridge/internal/render"
	rtsup "pushbridge/internal/runtime/supervisor"
	logx "pushbridge/pkg/logx"
)

type Config struct {
	Token       string
	ChatID      int64
	ThreadID    int
	PollTimeout time.Duration
}

// sentNote tracks one delivered notification so taps can be resolved and
// Cancel can delete the chat message.
type sentNote struct {
	payload   string
	messageID int
}

// payloadCap bounds the in-memory tap registry.
const payloadCap = 512

type Renderer struct {
	cfg Config
	log logx.Logger
	bot *tele.Bot

	taps atomic.Value // stores (chan<- render.Tap)

	runMu   sync.Mutex
	running bool
	sup     *rtsup.Supervisor

	// droppedTaps counts taps dropped because the consumer was slower than
	// the callback handler. Logged periodically to avoid per-tap spam.
	droppedTaps uint64

	mu    sync.Mutex
	notes map[int32]sentNote
	order []int32
}

func New(cfg Config, log logx.Logger) (*Renderer, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if cfg.ChatID == 0 {
		return nil, errors.New("telegram chat_id is required")
	}
	timeout := cfg.PollTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: timeout},
	})
	if err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	r := &Renderer{
		cfg:   cfg,
		log:   log.With(logx.String("comp", "render.telegram")),
		bot:   b,
		notes: map[int32]sentNote{},
	}
	// Ensure atomic.Value is initialized with a stable dynamic type.
	var nilTaps chan<- render.Tap
	r.taps.Store(nilTaps)
	r.registerHandlers()
	return r, nil
}

func (r *Renderer) registerHandlers() {
	// The "open" button carries the display id; the payload stays local.
	r.bot.Handle(&tele.Btn{Unique: "open"}, func(c tele.Context) error {
		id64, err := strconv.ParseInt(strings.TrimSpace(c.Data()), 10, 32)
		if err != nil {
			return c.Respond(&tele.CallbackResponse{})
		}
		id := int32(id64)

		r.mu.Lock()
		note, ok := r.notes[id]
		r.mu.Unlock()
		if ok {
			r.emitTap(render.Tap{ID: id, Payload: note.payload, At: time.Now()})
		}
		return c.Respond(&tele.CallbackResponse{})
	})
}

func (r *Renderer) emitTap(tap render.Tap) {
	v := r.taps.Load()
	taps, _ := v.(chan<- render.Tap)
	if taps == nil {
		return
	}
	select {
	case taps <- tap:
	default:
		atomic.AddUint64(&r.droppedTaps, 1)
	}
}

func (r *Renderer) Start(ctx context.Context, taps chan<- render.Tap) error {
	if ctx == nil {
		ctx = context.Background()
	}
	r.runMu.Lock()
	if r.running {
		r.runMu.Unlock()
		return nil
	}
	r.running = true
	r.taps.Store(taps)
	r.sup = rtsup.NewSupervisor(ctx,
		rtsup.WithLogger(r.log),
		rtsup.WithCancelOnError(false),
	)
	sup := r.sup
	r.runMu.Unlock()

	sup.Go0("taps.drop_report", func(c context.Context) {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-c.Done():
				if n := atomic.SwapUint64(&r.droppedTaps, 0); n > 0 {
					r.log.Warn("taps dropped (channel full)", logx.Uint64("count", n))
				}
				return
			case <-ticker.C:
				if n := atomic.SwapUint64(&r.droppedTaps, 0); n > 0 {
					r.log.Warn("taps dropped (channel full)", logx.Uint64("count", n))
				}
			}
		}
	})

	sup.Go0("telebot.stop_on_cancel", func(c context.Context) {
		<-c.Done()
		if r.bot != nil {
			r.bot.Stop()
		}
	})

	// Telebot's Start() is a long-running loop. In some failure modes it can
	// exit unexpectedly; run it under a restart loop so the renderer self-heals.
	sup.GoRestart("telebot.poll", func(c context.Context) error {
		r.log.Info("polling started")
		if r.bot != nil {
			r.bot.Start()
		}
		r.log.Info("polling stopped")
		return nil
	},
		rtsup.WithRestartBackoff(500*time.Millisecond, 10*time.Second),
		rtsup.WithPublishFirstError(true),
		rtsup.WithStopOnCleanExit(false),
	)

	return nil
}

func (r *Renderer) Stop(ctx context.Context) error {
	r.runMu.Lock()
	sup := r.sup
	r.sup = nil
	wasRunning := r.running
	r.running = false
	var nilTaps chan<- render.Tap
	r.taps.Store(nilTaps)
	r.runMu.Unlock()

	if !wasRunning {
		return nil
	}

	if sup != nil {
		sup.Cancel()
	}
	if r.bot != nil {
		go r.bot.Stop()
	}

	// Grace window: keep shutdown snappy even if the long-poll is still waiting.
	grace := 2 * time.Second
	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem > 0 && rem < grace {
			grace = rem
		}
	}
	if sup == nil {
		return nil
	}
	wctx, cancel := context.WithTimeout(ctx, grace)
	defer cancel()
	if err := sup.Wait(wctx); err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			r.log.Warn("telegram stop timed out", logx.Err(err))
			return nil
		}
		r.log.Warn("telegram stop error", logx.Err(err))
	}
	return nil
}

func (r *Renderer) Display(ctx context.Context, req render.Request) error {
	if ctx != nil {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}

	markup := &tele.ReplyMarkup{}
	btn := markup.Data("Open", "open", strconv.FormatInt(int64(req.ID), 10))
	markup.Inline(markup.Row(btn))

	opt := &tele.SendOptions{
		ParseMode:           tele.ModeHTML,
		ThreadID:            r.cfg.ThreadID,
		ReplyMarkup:         markup,
		DisableNotification: silentFor(req),
	}

	msg, err := r.bot.Send(&tele.Chat{ID: r.cfg.ChatID}, formatText(req), opt)
	if err != nil {
		return err
	}
	r.remember(req.ID, sentNote{payload: req.Payload, messageID: msg.ID})
	return nil
}

func (r *Renderer) Cancel(ctx context.Context, id int32) error {
	r.mu.Lock()
	note, ok := r.notes[id]
	delete(r.notes, id)
	r.mu.Unlock()
	if !ok {
		return nil
	}
	return r.bot.Delete(&tele.Message{ID: note.messageID, Chat: &tele.Chat{ID: r.cfg.ChatID}})
}

// Launch is unsupported: a chat has no notion of the process being started
// from a notification.
func (r *Renderer) Launch(ctx context.Context) (string, bool, error) {
	return "", false, nil
}

func (r *Renderer) remember(id int32, note sentNote) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.notes[id]; !exists {
		r.order = append(r.order, id)
	}
	r.notes[id] = note
	for len(r.order) > payloadCap {
		oldest := r.order[0]
		r.order = r.order[1:]
		delete(r.notes, oldest)
	}
}

// silentFor suppresses the chat ping for low-priority or soundless
// notifications.
func silentFor(req render.Request) bool {
	a := req.Android
	if a == nil {
		return false
	}
	if !a.PlaySound {
		return true
	}
	return a.Priority.Rank() != 0 && a.Priority.Rank() <= render.PriorityLow.Rank()
}

// Telegram caps one message at 4096 characters after entity parsing. Fields
// are clamped before markup so the sum stays under the cap and a cut never
// lands inside a tag or entity.
const (
	titleRuneCap   = 256
	bodyRuneCap    = 3500
	channelRuneCap = 128
)

func formatText(req render.Request) string {
	var b strings.Builder
	b.WriteString("<b>")
	b.WriteString(html.EscapeString(clampRunes(req.Title, titleRuneCap)))
	b.WriteString("</b>")
	if req.Body != "" {
		b.WriteString("\n")
		b.WriteString(html.EscapeString(clampRunes(req.Body, bodyRuneCap)))
	}
	if a := req.Android; a != nil && a.ChannelName != "" {
		b.WriteString("\n\n")
		b.WriteString("<i>")
		b.WriteString(html.EscapeString(clampRunes(a.ChannelName, channelRuneCap)))
		b.WriteString("</i>")
	}
	return b.String()
}

// clampRunes caps s at n runes, appending an ellipsis when anything was cut.
func clampRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	count, cut := 0, 0
	for i, r := range s {
		count++
		if count == n {
			cut = i + utf8.RuneLen(r)
			continue
		}
		if count > n {
			if cut <= 0 {
				cut = i
			}
			return s[:cut] + "…"
		}
	}
	return s
}
