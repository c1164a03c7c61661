package services

import (
	"strings"
	"time"

	"github.com/tbourn/go-dose-engine/internal/channel"
	"github.com/tbourn/go-dose-engine/internal/domain"
	"github.com/tbourn/go-dose-engine/internal/notify"
)

func medicationOf(it *domain.MedicationItem) notify.Medication {
	if it == nil {
		return notify.Medication{}
	}
	m := notify.Medication{Category: string(it.Category), Notes: it.Notes}
	if it.NotificationType != nil {
		m.ExplicitType = *it.NotificationType
	}
	return m
}

// Classify picks the notification profile of d, evaluating the hour bucket
// in loc.
func Classify(d domain.DoseInstance, loc *time.Location) notify.Profile {
	if loc == nil {
		loc = time.Local
	}
	return notify.Classify(d.DueAt.In(loc), medicationOf(d.Item))
}

// BuildPayload renders the notification for d with profile p. The payload
// tag is the dose ID so a later notification for the same dose replaces it.
func BuildPayload(d domain.DoseInstance, p notify.Profile) channel.Payload {
	name := ""
	var text string
	withFood := false
	if d.Item != nil {
		name = d.Item.Name
		text = strings.TrimSpace(d.Item.DoseText)
		withFood = d.Item.WithFood
	}

	var b strings.Builder
	b.WriteString("Take ")
	if text != "" {
		b.WriteString(text)
		b.WriteString(" of ")
	}
	b.WriteString(name)
	if withFood {
		b.WriteString(" with food")
	}

	return channel.Payload{
		DoseID:    d.ID,
		UserID:    d.UserID,
		ItemID:    d.ItemID,
		ItemName:  name,
		FireAt:    d.DueAt,
		Title:     p.Title(name),
		Body:      b.String(),
		Icon:      p.Icon,
		Sound:     p.Sound,
		Vibration: p.Vibration,
		Priority:  p.Priority,
		Profile:   p.Type,
		Repeat:    p.RepeatInterval,
	}
}
