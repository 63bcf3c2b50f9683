package remote

import (
	"fmt"
	"hash/fnv"
	"strconv"

	"pushbridge/internal/channels"
	"pushbridge/internal/payload"
	"pushbridge/internal/render"
)

// BadgeError reports a badge field that is not a numeric string. The message
// carrying it cannot be displayed; other messages are unaffected.
type BadgeError struct {
	Raw string
	Err error
}

func (e *BadgeError) Error() string {
	return fmt.Sprintf("badge %q is not numeric", e.Raw)
}

func (e *BadgeError) Unwrap() error { return e.Err }

// NotificationID derives the stable display id for a transport message id.
// Re-delivery of the same message id always lands on the same notification.
func NotificationID(messageID string) int32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(messageID))
	return int32(h.Sum32())
}

// Resolve maps one remote message onto concrete display parameters.
//
// The title comes from the notification block, falling back to data["title"].
// With no title anywhere there is nothing to show: Resolve returns (nil, nil)
// and the caller skips the message silently.
//
// Channel references are resolved against known (the renderer registry as
// last observed) and then against the desired settings. Both are best-effort
// views; a reference neither knows falls back to the default channel rather
// than failing. known may be nil when the renderer does not manage channels.
func Resolve(msg *Message, settings channels.Settings, known []channels.Channel) (*render.Request, error) {
	if msg == nil {
		return nil, nil
	}

	n := msg.Notification
	title := ""
	body := ""
	if n != nil {
		title = n.Title
		body = n.Body
	}
	if title == "" {
		title = msg.Data["title"]
	}
	if title == "" {
		return nil, nil
	}

	encoded, err := payload.Encode(msg.Data)
	if err != nil {
		return nil, fmt.Errorf("encode data: %w", err)
	}

	req := &render.Request{
		ID:      NotificationID(msg.ID),
		Title:   title,
		Body:    body,
		Payload: encoded,
	}

	if n != nil && n.Android != nil {
		req.Android = resolveAndroid(n.Android, settings, known)
	}
	if n != nil && n.Apple != nil {
		apple, err := resolveApple(n.Apple)
		if err != nil {
			return nil, err
		}
		req.Apple = apple
	}

	return req, nil
}

func resolveAndroid(a *AndroidConfig, settings channels.Settings, known []channels.Channel) *render.AndroidDetails {
	ch := lookupChannel(a.ChannelID, settings, known)
	pr, imp := stepFor(a.Priority)

	d := &render.AndroidDetails{
		ChannelID:   ch.ID,
		ChannelName: ch.Name,
		Priority:    pr,
		Importance:  imp,
		SmallIcon:   a.SmallIcon,
		Tag:         a.Tag,
		Ticker:      a.Ticker,
	}

	// Sound present enables sound; the "default" marker enables it without
	// naming one.
	if a.Sound != "" {
		d.PlaySound = true
		if a.Sound != SoundDefault {
			d.Sound = a.Sound
		}
	}

	switch a.Visibility {
	case VisibilityPrivate:
		d.Visibility = render.VisibilityPrivate
	case VisibilityPublic:
		d.Visibility = render.VisibilityPublic
	case VisibilitySecret:
		d.Visibility = render.VisibilitySecret
	}

	return d
}

func resolveApple(a *AppleConfig) (*render.AppleDetails, error) {
	d := &render.AppleDetails{}

	if a.Sound != nil {
		d.PlaySound = true
		if a.Sound.Name != SoundDefault {
			d.Sound = a.Sound.Name
		}
	}

	if a.Badge != "" {
		v, err := strconv.Atoi(a.Badge)
		if err != nil {
			return nil, &BadgeError{Raw: a.Badge, Err: err}
		}
		d.Badge = &v
	}

	return d, nil
}

// lookupChannel resolves a channel reference against the observed registry
// first and the desired set second. References neither view can place, and
// messages that name no channel at all, land on the default channel.
func lookupChannel(id string, settings channels.Settings, known []channels.Channel) channels.Channel {
	if id != "" {
		for _, ch := range known {
			if ch.ID == id {
				return ch
			}
		}
		if ch, ok := settings.Lookup(id); ok {
			return ch
		}
	}
	return settings.Default
}

// stepFor maps sender priority onto display priority and channel importance,
// preserving order step for step. Absent priority lands on the default step.
func stepFor(p Priority) (render.Priority, channels.Importance) {
	switch p {
	case PriorityMinimum:
		return render.PriorityMin, channels.ImportanceMin
	case PriorityLow:
		return render.PriorityLow, channels.ImportanceLow
	case PriorityHigh:
		return render.PriorityHigh, channels.ImportanceHigh
	case PriorityMaximum:
		return render.PriorityMax, channels.ImportanceMax
	default:
		return render.PriorityDefault, channels.ImportanceDefault
	}
}
