// Package notify maps a due dose to a notification urgency profile.
//
// Classification is a pure function of the due instant and the medication
// metadata; it touches no platform API and cannot fail. The set of profiles is
// closed (Gentle, Normal, Urgent, Critical) and every lookup goes through an
// exhaustive switch.
package notify

import (
	"fmt"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Type is the urgency class of a notification.
type Type uint8

const (
	Gentle Type = iota + 1
	Normal
	Urgent
	Critical
)

// Types lists every profile type in increasing urgency.
var Types = []Type{Gentle, Normal, Urgent, Critical}

// String returns the wire name of the type.
func (t Type) String() string {
	switch t {
	case Gentle:
		return "gentle"
	case Normal:
		return "normal"
	case Urgent:
		return "urgent"
	case Critical:
		return "critical"
	}
	return fmt.Sprintf("Type(%d)", uint8(t))
}

// MarshalText encodes the type by name.
func (t Type) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

// UnmarshalText decodes a type name; unknown names are rejected.
func (t *Type) UnmarshalText(b []byte) error {
	v, ok := ParseType(string(b))
	if !ok {
		return fmt.Errorf("unknown notification type %q", string(b))
	}
	*t = v
	return nil
}

// ParseType resolves a profile name (case-insensitive).
func ParseType(s string) (Type, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "gentle":
		return Gentle, true
	case "normal":
		return Normal, true
	case "urgent":
		return Urgent, true
	case "critical":
		return Critical, true
	}
	return 0, false
}

// Priority mirrors the OS notification priority levels.
type Priority int

const (
	PriorityLow     Priority = -1
	PriorityDefault Priority = 0
	PriorityHigh    Priority = 1
	PriorityMax     Priority = 2
)

// Profile is the alert style for one dose.
type Profile struct {
	Type           Type          `json:"type"`
	TitleFormat    string        `json:"title_format"`
	Icon           string        `json:"icon"`
	Sound          string        `json:"sound"`
	Vibration      []int         `json:"vibration_ms"`
	Priority       Priority      `json:"priority"`
	RepeatInterval time.Duration `json:"repeat_interval"`
}

// Repeats reports whether the profile asks for escalation re-checks.
func (p Profile) Repeats() bool { return p.RepeatInterval > 0 }

// Title renders the title template for a medication name.
func (p Profile) Title(name string) string { return fmt.Sprintf(p.TitleFormat, name) }

// PendingTitle is the title of the "still pending" escalation variant.
func (p Profile) PendingTitle(name string) string {
	return fmt.Sprintf("Still pending: %s", name)
}

// Lookup returns the fixed profile for t. An unknown value falls back to
// Normal so callers always get a deliverable profile.
func Lookup(t Type) Profile {
	switch t {
	case Gentle:
		return Profile{
			Type:        Gentle,
			TitleFormat: "Time for %s",
			Icon:        "ic_pill_soft",
			Sound:       "soft_chime",
			Vibration:   []int{200},
			Priority:    PriorityLow,
		}
	case Normal:
		return Profile{
			Type:        Normal,
			TitleFormat: "Time to take %s",
			Icon:        "ic_pill",
			Sound:       "default",
			Vibration:   []int{300, 200, 300},
			Priority:    PriorityDefault,
		}
	case Urgent:
		return Profile{
			Type:           Urgent,
			TitleFormat:    "Important: take %s now",
			Icon:           "ic_pill_alert",
			Sound:          "alert",
			Vibration:      []int{500, 200, 500, 200, 500},
			Priority:       PriorityHigh,
			RepeatInterval: 5 * time.Minute,
		}
	case Critical:
		return Profile{
			Type:           Critical,
			TitleFormat:    "CRITICAL: %s is due",
			Icon:           "ic_pill_critical",
			Sound:          "alarm",
			Vibration:      []int{1000, 300, 1000, 300, 1000},
			Priority:       PriorityMax,
			RepeatInterval: 3 * time.Minute,
		}
	}
	return Lookup(Normal)
}

// Medication is the subset of item metadata the classifier looks at.
type Medication struct {
	Category     string
	Notes        string
	ExplicitType string
}

// criticalKeywords are matched against folded, accent-stripped notes.
var criticalKeywords = []string{
	// en
	"urgent", "critical", "important",
	// pt
	"urgente", "critico", "importante",
	// es
	"imprescindible",
}

// importantCategories are matched against the folded, accent-stripped category.
var importantCategories = []string{
	"antibiotic", "antibiotico",
	"controlled", "controlado",
	"essential", "essencial", "esencial",
}

// Classify picks the profile for a dose due at dueAt. First match wins:
// explicit override, critical keyword in notes, important category, then the
// local hour of dueAt (early morning and late evening are gentle).
func Classify(dueAt time.Time, med Medication) Profile {
	if t, ok := ParseType(med.ExplicitType); ok {
		return Lookup(t)
	}
	if notes := fold(med.Notes); notes != "" && containsAny(notes, criticalKeywords) {
		return Lookup(Critical)
	}
	if cat := fold(med.Category); cat != "" && containsAny(cat, importantCategories) {
		return Lookup(Urgent)
	}
	return Lookup(bucket(dueAt.Hour()))
}

// bucket maps an hour of day to Gentle for [0,7) and [21,24), Normal otherwise.
func bucket(hour int) Type {
	if hour < 7 || hour >= 21 {
		return Gentle
	}
	return Normal
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}

// fold case-folds s and strips combining marks so "Crítico" matches "critico".
func fold(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC, cases.Fold())
	out, _, err := transform.String(t, s)
	if err != nil {
		return strings.ToLower(s)
	}
	return out
}
