// Package persona holds the mascot's per-user memory record and builds
// the system instruction sent to the extraction oracle.
package persona

import "time"

// Default persona preferences for a brand-new memory record.
const (
	DefaultTone       = "gentle"
	DefaultNameUsed   = "friend"
	DefaultMascotName = "Barnaby the Bear"
)

// Preferences controls how the mascot addresses and talks to a user.
type Preferences struct {
	Tone       string `json:"tone"`
	NameUsed   string `json:"name_used"`
	MascotName string `json:"mascot_name"`
}

// DefaultPreferences returns the preferences used when a memory record
// is created lazily on first access.
func DefaultPreferences() Preferences {
	return Preferences{
		Tone:       DefaultTone,
		NameUsed:   DefaultNameUsed,
		MascotName: DefaultMascotName,
	}
}

// Memory is the per-user persona record: addressing preferences plus a
// running free-text summary of everything learned about the user. At
// most one Memory exists per user.
type Memory struct {
	UserID      string      `json:"user_id"`
	Preferences Preferences `json:"preferences"`
	Summary     string      `json:"summary"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// IsFirstInteraction reports whether the mascot has learned anything
// about this user yet.
func (m Memory) IsFirstInteraction() bool {
	return m.Summary == ""
}
