// Package events defines the club-mutation event taken in by the ingestion
// endpoint and by its subscription to the ClubMutations topic, grounded on the teacher's
// invalidation.InvalidationEvent/CacheInvalidateTopic shape but carrying a
// tagged union instead of a generic key/pattern payload, per §6's event
// ingestion schema.
package events

import (
	"errors"
	"fmt"
	"time"

	"encore.dev/pubsub"
)

// MutationType discriminates the event union on its "type" field.
type MutationType string

const (
	BookingCreated   MutationType = "booking_created"
	BookingCancelled MutationType = "booking_cancelled"
	ClubUpdated      MutationType = "club_updated"
	CourtUpdated     MutationType = "court_updated"
)

// MutationSlot is the booking-event payload's "slot" object. It is opaque to
// the core except for Datetime, from which the invalidation engine derives
// the affected calendar day in the configured timezone.
type MutationSlot struct {
	Price    float64   `json:"price"`
	Duration int       `json:"duration"`
	Datetime time.Time `json:"datetime"`
	Start    string    `json:"start"`
	End      string    `json:"end"`
	Priority int       `json:"_priority"`
}

// ClubMutation is the single event type carried on ClubMutations. Which
// fields are required depends on Type; see Validate.
type ClubMutation struct {
	Type      MutationType  `json:"type"`
	ClubID    int           `json:"clubId,omitempty"`
	CourtID   int           `json:"courtId,omitempty"`
	Slot      *MutationSlot `json:"slot,omitempty"`
	Fields    []string      `json:"fields,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
	RequestID string        `json:"requestId,omitempty"`
}

// Date returns the slot's calendar day in loc, the yyyy-mm-dd form the slot
// cache key is keyed by. Only meaningful for booking events; callers must
// check Slot != nil first (Validate already guarantees this for a validated
// booking event).
func (m *ClubMutation) Date(loc *time.Location) string {
	return m.Slot.Datetime.In(loc).Format("2006-01-02")
}

// Validate checks that a mutation carries the fields its Type requires.
func (m *ClubMutation) Validate() error {
	switch m.Type {
	case BookingCreated, BookingCancelled:
		if m.ClubID == 0 || m.CourtID == 0 {
			return fmt.Errorf("events: %s requires clubId and courtId", m.Type)
		}
		if m.Slot == nil || m.Slot.Datetime.IsZero() {
			return fmt.Errorf("events: %s requires a slot with a datetime", m.Type)
		}
	case ClubUpdated:
		if m.ClubID == 0 {
			return errors.New("events: club_updated requires clubId")
		}
	case CourtUpdated:
		if m.ClubID == 0 || m.CourtID == 0 {
			return errors.New("events: court_updated requires clubId and courtId")
		}
	default:
		return fmt.Errorf("events: unknown mutation type %q", m.Type)
	}
	return nil
}

// ClubMutations is the topic other producers publish club/court/booking
// mutations to; the ingestion service's subscription is its sole subscriber.
// Events received by the HTTP endpoint are processed directly and are not
// published here.
var ClubMutations = pubsub.NewTopic[*ClubMutation](
	"club-mutations",
	pubsub.TopicConfig{
		DeliveryGuarantee: pubsub.AtLeastOnce,
	},
)
