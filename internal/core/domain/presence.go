package domain

import "time"

const (
	MinPresenceMinutes  = 30
	MaxPresenceMinutes  = 120
	MaxPresenceMessage  = 100
	DefaultPresenceMins = 60
)

// PresenceDurations are the preset durations offered by the editor.
var PresenceDurations = []int{30, 60, 90, 120}

// DefaultPresenceEmojis is the fixed emoji set a viewer may broadcast.
var DefaultPresenceEmojis = []string{"👋", "☕", "📚", "💬", "🎧", "🌍"}

// AvailabilityStatus is the remote status field value.
type AvailabilityStatus string

const (
	StatusAvailable AvailabilityStatus = "available"
	StatusOffline   AvailabilityStatus = "offline"
)

// ViewerPresence is the viewer's "available now" broadcast.
type ViewerPresence struct {
	IsAvailable     bool       `json:"is_available"`
	DurationMinutes int        `json:"duration_minutes"`
	Message         string     `json:"message"`
	Emoji           string     `json:"emoji"`
	CommittedAt     *time.Time `json:"committed_at,omitempty"`
}

// PresenceMeta is the subset persisted locally to pre-seed the editor.
type PresenceMeta struct {
	Message string `json:"message"`
	Emoji   string `json:"emoji"`
}

// CommittedPresence is a broadcast value with its expiry.
type CommittedPresence struct {
	Value     ViewerPresence `json:"value"`
	ExpiresAt time.Time      `json:"expires_at"`
}

// PresenceState is one of PresenceOffline, PresenceDrafting or PresenceCommitted.
type PresenceState interface {
	Phase() string
	isPresenceState()
}

// PresenceOffline means nothing is broadcast.
type PresenceOffline struct{}

// PresenceDrafting holds an editable draft. Committed is the value still being
// broadcast while the editor is open, or nil.
type PresenceDrafting struct {
	Draft     ViewerPresence     `json:"draft"`
	Committed *CommittedPresence `json:"committed,omitempty"`
}

// PresenceCommitted is a live broadcast.
type PresenceCommitted struct {
	CommittedPresence
}

func (PresenceOffline) Phase() string   { return "offline" }
func (PresenceDrafting) Phase() string  { return "drafting" }
func (PresenceCommitted) Phase() string { return "committed" }

func (PresenceOffline) isPresenceState()   {}
func (PresenceDrafting) isPresenceState()  {}
func (PresenceCommitted) isPresenceState() {}
