package remote

import (
	"errors"
	"testing"

	"pushbridge/internal/channels"
	"pushbridge/internal/payload"
	"pushbridge/internal/render"
)

func testSettings() channels.Settings {
	return channels.Settings{
		Default: channels.Channel{ID: "default", Name: "General", Importance: channels.ImportanceDefault},
		Channels: []channels.Channel{
			{ID: "promo", Name: "Promotions", Importance: channels.ImportanceLow},
			{ID: "alerts", Name: "Alerts", Importance: channels.ImportanceMax},
		},
	}
}

func TestResolveSuppressesWithoutTitle(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		msg  *Message
	}{
		{name: "nil message", msg: nil},
		{name: "data only, no title key", msg: &Message{ID: "m1", Data: map[string]string{"k": "v"}}},
		{name: "empty notification", msg: &Message{ID: "m2", Notification: &Notification{}, Data: map[string]string{}}},
		{name: "body but no title", msg: &Message{ID: "m3", Notification: &Notification{Body: "text"}, Data: map[string]string{}}},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			req, err := Resolve(tt.msg, testSettings(), nil)
			if err != nil {
				t.Fatalf("Resolve: %v", err)
			}
			if req != nil {
				t.Fatalf("Resolve = %+v, want nil (suppressed)", req)
			}
		})
	}
}

func TestResolveTitleFallback(t *testing.T) {
	t.Parallel()

	// Title only in data.
	msg := &Message{ID: "m1", Data: map[string]string{"title": "From Data"}}
	req, err := Resolve(msg, testSettings(), nil)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if req == nil || req.Title != "From Data" {
		t.Fatalf("req = %+v, want title From Data", req)
	}
	if req.Android != nil || req.Apple != nil {
		t.Fatalf("data-only message grew platform details: %+v", req)
	}

	// Notification title wins over the data key.
	msg = &Message{
		ID:           "m2",
		Notification: &Notification{Title: "Real Title", Body: "body text"},
		Data:         map[string]string{"title": "Shadowed"},
	}
	req, err = Resolve(msg, testSettings(), nil)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if req.Title != "Real Title" {
		t.Fatalf("Title = %q, want Real Title", req.Title)
	}
	if req.Body != "body text" {
		t.Fatalf("Body = %q, want body text", req.Body)
	}
}

func TestResolveBodyComesOnlyFromNotification(t *testing.T) {
	t.Parallel()
	msg := &Message{
		ID:           "m1",
		Notification: &Notification{Title: "T"},
		Data:         map[string]string{"body": "not a body"},
	}
	req, err := Resolve(msg, testSettings(), nil)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if req.Body != "" {
		t.Fatalf("Body = %q, want empty (no data fallback for body)", req.Body)
	}
}

func TestResolveAndroidSound(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name      string
		sound     string
		playSound bool
		wantName  string
	}{
		{name: "absent", sound: "", playSound: false, wantName: ""},
		{name: "default marker", sound: "default", playSound: true, wantName: ""},
		{name: "named", sound: "chime.ogg", playSound: true, wantName: "chime.ogg"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			msg := &Message{
				ID: "m",
				Notification: &Notification{
					Title:   "T",
					Android: &AndroidConfig{Sound: tt.sound},
				},
				Data: map[string]string{},
			}
			req, err := Resolve(msg, testSettings(), nil)
			if err != nil {
				t.Fatalf("Resolve: %v", err)
			}
			if req.Android == nil {
				t.Fatal("Android details missing")
			}
			if req.Android.PlaySound != tt.playSound {
				t.Fatalf("PlaySound = %v, want %v", req.Android.PlaySound, tt.playSound)
			}
			if req.Android.Sound != tt.wantName {
				t.Fatalf("Sound = %q, want %q", req.Android.Sound, tt.wantName)
			}
		})
	}
}

func TestResolveAppleSoundAndBadge(t *testing.T) {
	t.Parallel()

	msg := func(a *AppleConfig) *Message {
		return &Message{
			ID:           "m",
			Notification: &Notification{Title: "T", Apple: a},
			Data:         map[string]string{},
		}
	}

	// Sound absent.
	req, err := Resolve(msg(&AppleConfig{}), testSettings(), nil)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if req.Apple == nil || req.Apple.PlaySound || req.Apple.Sound != "" {
		t.Fatalf("Apple = %+v, want silent", req.Apple)
	}
	if req.Apple.Badge != nil {
		t.Fatalf("Badge = %v, want nil", *req.Apple.Badge)
	}

	// Default marker: enabled, unnamed.
	req, err = Resolve(msg(&AppleConfig{Sound: &AppleSound{Name: "default"}}), testSettings(), nil)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !req.Apple.PlaySound || req.Apple.Sound != "" {
		t.Fatalf("Apple = %+v, want play-default", req.Apple)
	}

	// Named sound.
	req, err = Resolve(msg(&AppleConfig{Sound: &AppleSound{Name: "ping.caf"}}), testSettings(), nil)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !req.Apple.PlaySound || req.Apple.Sound != "ping.caf" {
		t.Fatalf("Apple = %+v, want named sound", req.Apple)
	}

	// Numeric badge strings parse; zero clears.
	for raw, want := range map[string]int{"5": 5, "0": 0, "12": 12} {
		req, err = Resolve(msg(&AppleConfig{Badge: raw}), testSettings(), nil)
		if err != nil {
			t.Fatalf("Resolve(badge=%q): %v", raw, err)
		}
		if req.Apple.Badge == nil || *req.Apple.Badge != want {
			t.Fatalf("Badge(%q) = %v, want %d", raw, req.Apple.Badge, want)
		}
	}
}

func TestResolveBadgeErrorIsFatalForMessage(t *testing.T) {
	t.Parallel()
	msg := &Message{
		ID: "bad",
		Notification: &Notification{
			Title: "T",
			Apple: &AppleConfig{Badge: "many"},
		},
		Data: map[string]string{},
	}
	req, err := Resolve(msg, testSettings(), nil)
	if err == nil {
		t.Fatal("expected error for non-numeric badge")
	}
	if req != nil {
		t.Fatalf("req = %+v, want nil on badge error", req)
	}
	var be *BadgeError
	if !errors.As(err, &be) {
		t.Fatalf("error type %T, want *BadgeError", err)
	}
	if be.Raw != "many" {
		t.Fatalf("BadgeError.Raw = %q, want many", be.Raw)
	}
}

func TestPriorityImportanceBijection(t *testing.T) {
	t.Parallel()
	pairs := []struct {
		p       Priority
		wantPr  render.Priority
		wantImp channels.Importance
	}{
		{PriorityMinimum, render.PriorityMin, channels.ImportanceMin},
		{PriorityLow, render.PriorityLow, channels.ImportanceLow},
		{PriorityDefault, render.PriorityDefault, channels.ImportanceDefault},
		{PriorityHigh, render.PriorityHigh, channels.ImportanceHigh},
		{PriorityMaximum, render.PriorityMax, channels.ImportanceMax},
	}

	seen := map[channels.Importance]Priority{}
	lastRank := 0
	for _, tt := range pairs {
		pr, imp := stepFor(tt.p)
		if pr != tt.wantPr {
			t.Fatalf("stepFor(%s) priority = %s, want %s", tt.p, pr, tt.wantPr)
		}
		if imp != tt.wantImp {
			t.Fatalf("stepFor(%s) importance = %s, want %s", tt.p, imp, tt.wantImp)
		}
		if pr.Rank() != imp.Rank() {
			t.Fatalf("steps diverged at %s: priority rank %d, importance rank %d", tt.p, pr.Rank(), imp.Rank())
		}
		if prev, dup := seen[imp]; dup {
			t.Fatalf("importance %s mapped twice (%s and %s)", imp, prev, tt.p)
		}
		seen[imp] = tt.p
		if imp.Rank() <= lastRank {
			t.Fatalf("rank order broken at %s: %d after %d", tt.p, imp.Rank(), lastRank)
		}
		lastRank = imp.Rank()
	}

	// Absent priority lands on the default step for both scales.
	pr, imp := stepFor("")
	if pr != render.PriorityDefault || imp != channels.ImportanceDefault {
		t.Fatalf("stepFor(absent) = %s/%s, want default/default", pr, imp)
	}
}

func TestResolveSetsPriorityWithImportance(t *testing.T) {
	t.Parallel()
	msg := &Message{
		ID:           "m",
		Notification: &Notification{Title: "T", Android: &AndroidConfig{Priority: PriorityHigh}},
		Data:         map[string]string{},
	}
	req, err := Resolve(msg, testSettings(), nil)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if req.Android.Priority != render.PriorityHigh {
		t.Fatalf("Priority = %s, want %s", req.Android.Priority, render.PriorityHigh)
	}
	if req.Android.Importance != channels.ImportanceHigh {
		t.Fatalf("Importance = %s, want %s", req.Android.Importance, channels.ImportanceHigh)
	}
}

func TestResolveVisibility(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		in   Visibility
		want render.Visibility
	}{
		{name: "absent stays unset", in: "", want: ""},
		{name: "private", in: VisibilityPrivate, want: render.VisibilityPrivate},
		{name: "public", in: VisibilityPublic, want: render.VisibilityPublic},
		{name: "secret", in: VisibilitySecret, want: render.VisibilitySecret},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			msg := &Message{
				ID:           "m",
				Notification: &Notification{Title: "T", Android: &AndroidConfig{Visibility: tt.in}},
				Data:         map[string]string{},
			}
			req, err := Resolve(msg, testSettings(), nil)
			if err != nil {
				t.Fatalf("Resolve: %v", err)
			}
			if req.Android.Visibility != tt.want {
				t.Fatalf("Visibility = %q, want %q", req.Android.Visibility, tt.want)
			}
		})
	}
}

func TestResolveChannelLookup(t *testing.T) {
	t.Parallel()

	// Known channel id resolves to that channel.
	msg := &Message{
		ID:           "m",
		Notification: &Notification{Title: "T", Android: &AndroidConfig{ChannelID: "promo"}},
		Data:         map[string]string{},
	}
	req, err := Resolve(msg, testSettings(), nil)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if req.Android.ChannelID != "promo" || req.Android.ChannelName != "Promotions" {
		t.Fatalf("channel = %s/%s, want promo/Promotions", req.Android.ChannelID, req.Android.ChannelName)
	}

	// Unknown and absent ids fall back to the default channel.
	for _, id := range []string{"ghost", ""} {
		msg.Notification.Android.ChannelID = id
		req, err = Resolve(msg, testSettings(), nil)
		if err != nil {
			t.Fatalf("Resolve(channel=%q): %v", id, err)
		}
		if req.Android.ChannelID != "default" || req.Android.ChannelName != "General" {
			t.Fatalf("channel(%q) = %s/%s, want default/General", id, req.Android.ChannelID, req.Android.ChannelName)
		}
	}
}

func TestResolveChannelLookupPrefersKnown(t *testing.T) {
	t.Parallel()

	known := []channels.Channel{
		// A channel only the registry has, e.g. one the reconciler kept past
		// a settings change.
		{ID: "legacy", Name: "Legacy", Importance: channels.ImportanceLow},
		// Same id as a desired channel but a different name: the observed
		// state wins over the desired one.
		{ID: "promo", Name: "Old Promotions", Importance: channels.ImportanceLow},
	}

	msg := func(id string) *Message {
		return &Message{
			ID:           "m",
			Notification: &Notification{Title: "T", Android: &AndroidConfig{ChannelID: id}},
			Data:         map[string]string{},
		}
	}

	req, err := Resolve(msg("legacy"), testSettings(), known)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if req.Android.ChannelID != "legacy" || req.Android.ChannelName != "Legacy" {
		t.Fatalf("channel = %s/%s, want legacy/Legacy", req.Android.ChannelID, req.Android.ChannelName)
	}

	req, err = Resolve(msg("promo"), testSettings(), known)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if req.Android.ChannelName != "Old Promotions" {
		t.Fatalf("ChannelName = %q, want observed name", req.Android.ChannelName)
	}

	// Ids neither view has still land on the default.
	req, err = Resolve(msg("ghost"), testSettings(), known)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if req.Android.ChannelID != "default" {
		t.Fatalf("ChannelID = %q, want default", req.Android.ChannelID)
	}
}

func TestResolvePassthroughFields(t *testing.T) {
	t.Parallel()
	msg := &Message{
		ID: "m",
		Notification: &Notification{
			Title: "T",
			Android: &AndroidConfig{
				SmallIcon: "ic_stat",
				Tag:       "grouped",
				Ticker:    "ticker text",
			},
		},
		Data: map[string]string{},
	}
	req, err := Resolve(msg, testSettings(), nil)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	a := req.Android
	if a.SmallIcon != "ic_stat" || a.Tag != "grouped" || a.Ticker != "ticker text" {
		t.Fatalf("passthrough fields = %+v", a)
	}
}

func TestResolvePayloadRoundTrips(t *testing.T) {
	t.Parallel()
	data := map[string]string{"title": "T", "deep_link": "app://thing/42", "k": "v"}
	msg := &Message{ID: "m", Data: data}

	req, err := Resolve(msg, testSettings(), nil)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	got, err := payload.Decode(req.Payload)
	if err != nil {
		t.Fatalf("Decode(%q): %v", req.Payload, err)
	}
	if len(got) != len(data) {
		t.Fatalf("payload len = %d, want %d", len(got), len(data))
	}
	for k, v := range data {
		if got[k] != v {
			t.Fatalf("payload[%q] = %q, want %q", k, got[k], v)
		}
	}
}

func TestNotificationIDStable(t *testing.T) {
	t.Parallel()
	a := NotificationID("msg-001")
	for i := 0; i < 5; i++ {
		if got := NotificationID("msg-001"); got != a {
			t.Fatalf("NotificationID unstable: %d vs %d", got, a)
		}
	}
	if NotificationID("msg-002") == a {
		t.Fatal("distinct message ids collided")
	}

	// The id on a resolved request is exactly the derived one.
	msg := &Message{ID: "msg-001", Data: map[string]string{"title": "T"}}
	req, err := Resolve(msg, testSettings(), nil)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if req.ID != a {
		t.Fatalf("req.ID = %d, want %d", req.ID, a)
	}
}

func TestNormalize(t *testing.T) {
	t.Parallel()
	m := &Message{ID: "m"}
	m.Normalize()
	if m.Data == nil {
		t.Fatal("Normalize left Data nil")
	}
	m.Data["k"] = "v"
	m.Normalize()
	if m.Data["k"] != "v" {
		t.Fatal("Normalize clobbered existing data")
	}
}
