package local

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"pushbridge/internal/channels"
	"pushbridge/internal/render"
	"pushbridge/pkg/logx"
)

func openTestRenderer(t *testing.T) (*Renderer, Config) {
	t.Helper()
	cfg := Config{
		Path:        filepath.Join(t.TempDir(), "notify.db"),
		BusyTimeout: time.Second,
	}
	r, err := Open(cfg, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return r, cfg
}

func TestOpenRequiresPath(t *testing.T) {
	t.Parallel()
	if _, err := Open(Config{}, logx.Nop()); err == nil {
		t.Fatal("Open accepted an empty path")
	}
}

func TestChannelRegistry(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	r, _ := openTestRenderer(t)
	defer r.Stop(ctx)

	// The renderer advertises channel management.
	if _, ok := any(r).(channels.Manager); !ok {
		t.Fatal("local renderer does not implement channels.Manager")
	}

	ensure := []channels.Channel{
		{ID: "promo", Name: "Promotions", Importance: channels.ImportanceLow},
		{ID: "default", Name: "General", Importance: channels.ImportanceDefault},
	}
	for _, ch := range ensure {
		if err := r.EnsureChannel(ctx, ch); err != nil {
			t.Fatalf("EnsureChannel(%s): %v", ch.ID, err)
		}
	}

	got, err := r.Channels(ctx)
	if err != nil {
		t.Fatalf("Channels: %v", err)
	}
	if len(got) != 2 || got[0].ID != "default" || got[1].ID != "promo" {
		t.Fatalf("Channels = %v, want [default promo]", got)
	}

	// Ensure updates in place.
	if err := r.EnsureChannel(ctx, channels.Channel{ID: "promo", Name: "Deals", Importance: channels.ImportanceHigh}); err != nil {
		t.Fatalf("EnsureChannel update: %v", err)
	}
	got, err = r.Channels(ctx)
	if err != nil {
		t.Fatalf("Channels: %v", err)
	}
	if len(got) != 2 || got[1].Name != "Deals" || got[1].Importance != channels.ImportanceHigh {
		t.Fatalf("Channels after update = %v", got)
	}

	if err := r.DeleteChannel(ctx, "promo"); err != nil {
		t.Fatalf("DeleteChannel: %v", err)
	}
	if err := r.DeleteChannel(ctx, "never-existed"); err != nil {
		t.Fatalf("DeleteChannel(unknown): %v", err)
	}
	got, err = r.Channels(ctx)
	if err != nil {
		t.Fatalf("Channels: %v", err)
	}
	if len(got) != 1 || got[0].ID != "default" {
		t.Fatalf("Channels after delete = %v", got)
	}
}

func TestDisplayRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	r, _ := openTestRenderer(t)
	defer r.Stop(ctx)

	badge := 3
	req := render.Request{
		ID:    101,
		Title: "Order shipped",
		Body:  "It is on the way",
		Android: &render.AndroidDetails{
			ChannelID:   "promo",
			ChannelName: "Promotions",
			Priority:    render.PriorityLow,
			Importance:  channels.ImportanceLow,
			PlaySound:   true,
			Visibility:  render.VisibilityPrivate,
			SmallIcon:   "ic_stat",
			Tag:         "orders",
			Ticker:      "Order shipped",
		},
		Apple:   &render.AppleDetails{PlaySound: true, Sound: "ping.caf", Badge: &badge},
		Payload: `{"order":"42"}`,
	}
	if err := r.Display(ctx, req); err != nil {
		t.Fatalf("Display: %v", err)
	}

	got, err := r.Displayed(ctx)
	if err != nil {
		t.Fatalf("Displayed: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("Displayed returned %d rows, want 1", len(got))
	}
	stored := got[0]
	if stored.ID != 101 || stored.Title != req.Title || stored.Body != req.Body || stored.Payload != req.Payload {
		t.Fatalf("stored = %+v", stored)
	}
	if stored.Android == nil || *stored.Android != *req.Android {
		t.Fatalf("stored.Android = %+v, want %+v", stored.Android, req.Android)
	}
	if stored.Apple == nil || stored.Apple.Sound != "ping.caf" || !stored.Apple.PlaySound {
		t.Fatalf("stored.Apple = %+v", stored.Apple)
	}
	if stored.Apple.Badge == nil || *stored.Apple.Badge != 3 {
		t.Fatalf("stored badge = %v, want 3", stored.Apple.Badge)
	}

	// Re-displaying the same id replaces, never duplicates.
	req.Title = "Order delivered"
	req.Apple = nil
	if err := r.Display(ctx, req); err != nil {
		t.Fatalf("Display again: %v", err)
	}
	got, err = r.Displayed(ctx)
	if err != nil {
		t.Fatalf("Displayed: %v", err)
	}
	if len(got) != 1 || got[0].Title != "Order delivered" {
		t.Fatalf("after re-display = %+v", got)
	}
	if got[0].Apple != nil {
		t.Fatalf("stale apple details survived: %+v", got[0].Apple)
	}

	if err := r.Cancel(ctx, 101); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
}

func TestMarkTappedEmitsAndPersists(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	r, cfg := openTestRenderer(t)

	taps := make(chan render.Tap, 4)
	if err := r.Start(ctx, taps); err != nil {
		t.Fatalf("Start: %v", err)
	}

	req := render.Request{ID: 7, Title: "Reply", Payload: `{"thread":"support"}`}
	if err := r.Display(ctx, req); err != nil {
		t.Fatalf("Display: %v", err)
	}

	if ok, err := r.MarkTapped(ctx, 999); err != nil || ok {
		t.Fatalf("MarkTapped(unknown) = (%v, %v), want (false, nil)", ok, err)
	}
	ok, err := r.MarkTapped(ctx, 7)
	if err != nil || !ok {
		t.Fatalf("MarkTapped = (%v, %v), want (true, nil)", ok, err)
	}

	select {
	case tap := <-taps:
		if tap.ID != 7 || tap.Payload != req.Payload {
			t.Fatalf("tap = %+v", tap)
		}
	default:
		t.Fatal("no tap emitted")
	}

	enc, ok, err := r.Launch(ctx)
	if err != nil || !ok || enc != req.Payload {
		t.Fatalf("Launch = (%q, %v, %v)", enc, ok, err)
	}

	if err := r.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	// Taps and the ledger survive a restart.
	r2, err := Open(cfg, logx.Nop())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer r2.Stop(ctx)

	enc, ok, err = r2.Launch(ctx)
	if err != nil || !ok || enc != req.Payload {
		t.Fatalf("Launch after reopen = (%q, %v, %v)", enc, ok, err)
	}
	shown, err := r2.Displayed(ctx)
	if err != nil || len(shown) != 1 || shown[0].ID != 7 {
		t.Fatalf("Displayed after reopen = (%v, %v)", shown, err)
	}
}

func TestLaunchEmptyDatabase(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	r, _ := openTestRenderer(t)
	defer r.Stop(ctx)

	if enc, ok, err := r.Launch(ctx); err != nil || ok || enc != "" {
		t.Fatalf("Launch = (%q, %v, %v), want empty", enc, ok, err)
	}
}
