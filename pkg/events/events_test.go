package events

import (
	"testing"
	"time"
)

func TestValidateBookingRequiresClubCourtSlot(t *testing.T) {
	m := &ClubMutation{Type: BookingCreated, ClubID: 1}
	if err := m.Validate(); err == nil {
		t.Fatal("expected error for missing courtId/slot")
	}
	m.CourtID = 2
	if err := m.Validate(); err == nil {
		t.Fatal("expected error for missing slot")
	}
	m.Slot = &MutationSlot{Datetime: time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)}
	if err := m.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestDateDerivesCalendarDayFromSlotDatetimeInLocation(t *testing.T) {
	m := &ClubMutation{
		Type:    BookingCreated,
		ClubID:  7,
		CourtID: 42,
		Slot:    &MutationSlot{Datetime: time.Date(2024, 6, 2, 2, 0, 0, 0, time.UTC)},
	}
	if got := m.Date(time.UTC); got != "2024-06-02" {
		t.Fatalf("expected 2024-06-02 under UTC, got %s", got)
	}

	est, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	if got := m.Date(est); got != "2024-06-01" {
		t.Fatalf("expected day boundary shift to 2024-06-01 in America/New_York, got %s", got)
	}
}

func TestValidateClubUpdatedRequiresClubID(t *testing.T) {
	m := &ClubMutation{Type: ClubUpdated}
	if err := m.Validate(); err == nil {
		t.Fatal("expected error for missing clubId")
	}
	m.ClubID = 5
	if err := m.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateCourtUpdatedRequiresClubAndCourt(t *testing.T) {
	m := &ClubMutation{Type: CourtUpdated, ClubID: 1}
	if err := m.Validate(); err == nil {
		t.Fatal("expected error for missing courtId")
	}
	m.CourtID = 3
	if err := m.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateUnknownTypeRejected(t *testing.T) {
	m := &ClubMutation{Type: "something_else", ClubID: 1}
	if err := m.Validate(); err == nil {
		t.Fatal("expected error for unknown mutation type")
	}
}
