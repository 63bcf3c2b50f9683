package remote

// SoundDefault is the wire marker for "use the platform default sound".
// It enables sound without naming a specific one.
const SoundDefault = "default"

// Priority is the sender-requested prominence of a message.
type Priority string

const (
	PriorityMinimum Priority = "minimum"
	PriorityLow     Priority = "low"
	PriorityDefault Priority = "default"
	PriorityHigh    Priority = "high"
	PriorityMaximum Priority = "maximum"
)

// Visibility controls how much of a notification shows on secured surfaces.
type Visibility string

const (
	VisibilityPrivate Visibility = "private"
	VisibilityPublic  Visibility = "public"
	VisibilitySecret  Visibility = "secret"
)

// AndroidConfig is the channel-oriented half of a notification.
// Zero values mean the sender omitted the field.
type AndroidConfig struct {
	ChannelID  string     `json:"channel_id,omitempty"`
	Sound      string     `json:"sound,omitempty"`
	Priority   Priority   `json:"priority,omitempty"`
	Visibility Visibility `json:"visibility,omitempty"`
	SmallIcon  string     `json:"small_icon,omitempty"`
	Tag        string     `json:"tag,omitempty"`
	Ticker     string     `json:"ticker,omitempty"`
}

// AppleSound names a sound for the badge-oriented platform half.
type AppleSound struct {
	Name string `json:"name"`
}

// AppleConfig is the badge-oriented half of a notification.
type AppleConfig struct {
	Sound *AppleSound `json:"sound,omitempty"`
	Badge string      `json:"badge,omitempty"` // numeric string per the wire format
}

// Notification is the display block of a message. Messages without one are
// data-only.
type Notification struct {
	Title   string         `json:"title,omitempty"`
	Body    string         `json:"body,omitempty"`
	Android *AndroidConfig `json:"android,omitempty"`
	Apple   *AppleConfig   `json:"apple,omitempty"`
}

// Message is one push message as delivered by a transport. Data is always
// non-nil; transports normalize a missing map to an empty one. Messages are
// ephemeral: they exist only while flowing through dispatch.
type Message struct {
	ID           string            `json:"id"`
	Notification *Notification     `json:"notification,omitempty"`
	Data         map[string]string `json:"data"`
}

// Normalize makes the ever-present-Data invariant hold for messages built
// from external input.
func (m *Message) Normalize() {
	if m.Data == nil {
		m.Data = map[string]string{}
	}
}
