// Package models provides the canonical domain types shared across the
// availability fabric: the upstream's clubs/courts/slots shapes and the
// assembled response tree.
package models

import "time"

// Club is an upstream-owned entity, identified by integer id. The fields
// named below beyond ID are opaque to the fabric and passed through
// verbatim; other fields of the upstream's club objects are not kept.
type Club struct {
	ID         int                    `json:"id"`
	Attributes map[string]interface{} `json:"attributes,omitempty"`
	OpenHours  map[string]interface{} `json:"openhours,omitempty"`
	LogoURL    string                 `json:"logo_url,omitempty"`
	BGURL      string                 `json:"background_url,omitempty"`
}

// Court belongs to exactly one Club; CourtID is only unique within ClubID.
type Court struct {
	ID         int                    `json:"id"`
	ClubID     int                    `json:"clubId"`
	Name       string                 `json:"name,omitempty"`
	Attributes map[string]interface{} `json:"attributes,omitempty"`

	// Available never appears in the upstream's courts response and is not
	// set by the planner, which places a court's slots in
	// CourtAvailability.Available instead.
	Available []Slot `json:"available,omitempty"`
}

// Slot is opaque to the fabric except for Datetime, from which the
// invalidation engine derives a calendar day.
type Slot struct {
	Datetime time.Time `json:"datetime"`
	Start    string    `json:"start"`
	End      string    `json:"end"`
	Duration int       `json:"duration"`
	Price    float64   `json:"price"`
	Priority int       `json:"_priority"`
}

// CourtAvailability pairs a court with its hydrated slots, preserving the
// upstream courts order.
type CourtAvailability struct {
	Court     Court  `json:"court"`
	Available []Slot `json:"available"`
}

// ClubAvailability pairs a club with its courts, in upstream order.
type ClubAvailability struct {
	Club   Club                `json:"club"`
	Courts []CourtAvailability `json:"courts"`
}

// AvailabilityTree is the fully hydrated response for (placeId, date).
type AvailabilityTree struct {
	Clubs []ClubAvailability `json:"clubs"`
}

// EmptyAvailabilityTree returns the canonical "nothing to show" response –
// not an error, per the fabric's "always return something" contract.
func EmptyAvailabilityTree() AvailabilityTree {
	return AvailabilityTree{Clubs: []ClubAvailability{}}
}
