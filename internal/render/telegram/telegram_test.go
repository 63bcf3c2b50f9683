package telegram

import (
	"strings"
	"testing"

	"pushbridge/internal/render"
)

func TestFormatText(t *testing.T) {
	t.Parallel()

	req := render.Request{
		Title: "Order <shipped>",
		Body:  "Tracking & more",
		Android: &render.AndroidDetails{
			ChannelID:   "orders",
			ChannelName: "Orders",
		},
	}
	got := formatText(req)
	want := "<b>Order &lt;shipped&gt;</b>\nTracking &amp; more\n\n<i>Orders</i>"
	if got != want {
		t.Fatalf("formatText = %q, want %q", got, want)
	}

	// Title-only message stays a single line.
	got = formatText(render.Request{Title: "Ping"})
	if got != "<b>Ping</b>" {
		t.Fatalf("formatText = %q, want bold title only", got)
	}
}

func TestFormatTextClampsLongBody(t *testing.T) {
	t.Parallel()

	req := render.Request{
		Title: strings.Repeat("T", titleRuneCap+50),
		Body:  strings.Repeat("b", bodyRuneCap+500),
	}
	got := formatText(req)
	if n := len([]rune(got)); n > 4096 {
		t.Fatalf("formatted message is %d runes, over the telegram cap", n)
	}
	if !strings.Contains(got, "…") {
		t.Fatal("clamped text carries no ellipsis")
	}
}

func TestClampRunes(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		in   string
		n    int
		want string
	}{
		{name: "short stays", in: "abc", n: 5, want: "abc"},
		{name: "exact stays", in: "abcde", n: 5, want: "abcde"},
		{name: "cut gets ellipsis", in: "abcdef", n: 5, want: "abcde…"},
		{name: "zero cap", in: "abc", n: 0, want: ""},
		{name: "multibyte boundary", in: "héllo wörld", n: 4, want: "héll…"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := clampRunes(tt.in, tt.n); got != tt.want {
				t.Fatalf("clampRunes(%q, %d) = %q, want %q", tt.in, tt.n, got, tt.want)
			}
		})
	}
}

func TestSilentFor(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		a    *render.AndroidDetails
		want bool
	}{
		{name: "no android details pings", a: nil, want: false},
		{name: "soundless is silent", a: &render.AndroidDetails{PlaySound: false}, want: true},
		{name: "min priority is silent", a: &render.AndroidDetails{PlaySound: true, Priority: render.PriorityMin}, want: true},
		{name: "low priority is silent", a: &render.AndroidDetails{PlaySound: true, Priority: render.PriorityLow}, want: true},
		{name: "default priority pings", a: &render.AndroidDetails{PlaySound: true, Priority: render.PriorityDefault}, want: false},
		{name: "max priority pings", a: &render.AndroidDetails{PlaySound: true, Priority: render.PriorityMax}, want: false},
		{name: "unset priority pings", a: &render.AndroidDetails{PlaySound: true}, want: false},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			req := render.Request{Title: "T", Android: tt.a}
			if got := silentFor(req); got != tt.want {
				t.Fatalf("silentFor = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRememberEvictsOldest(t *testing.T) {
	t.Parallel()
	r := &Renderer{notes: map[int32]sentNote{}}

	for i := 0; i < payloadCap+3; i++ {
		r.remember(int32(i), sentNote{payload: "p", messageID: i})
	}

	if len(r.notes) != payloadCap {
		t.Fatalf("notes holds %d entries, want %d", len(r.notes), payloadCap)
	}
	for _, old := range []int32{0, 1, 2} {
		if _, ok := r.notes[old]; ok {
			t.Fatalf("oldest entry %d survived eviction", old)
		}
	}
	if _, ok := r.notes[payloadCap+2]; !ok {
		t.Fatal("newest entry missing")
	}

	// Re-remembering an id must not grow the eviction order.
	r.remember(42, sentNote{payload: "q", messageID: 9000})
	if len(r.order) != payloadCap {
		t.Fatalf("order grew to %d on update, want %d", len(r.order), payloadCap)
	}
	if r.notes[42].messageID != 9000 {
		t.Fatalf("update lost: %+v", r.notes[42])
	}
}
