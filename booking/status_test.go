package booking

import (
	"testing"

	"github.com/carebridge/backend/models"
)

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to models.AppointmentStatus
		want     bool
	}{
		{models.StatusPending, models.StatusBooked, true},
		{models.StatusPending, models.StatusCancelled, true},
		{models.StatusPending, models.StatusCompleted, true},
		{models.StatusBooked, models.StatusCompleted, true},
		{models.StatusBooked, models.StatusCancelled, true},
		{models.StatusBooked, models.StatusPending, false},
		{models.StatusCompleted, models.StatusBooked, false},
		{models.StatusCompleted, models.StatusCancelled, false},
		{models.StatusCancelled, models.StatusPending, false},
		{models.StatusCancelled, models.StatusBooked, false},
	}
	for _, tc := range cases {
		if got := CanTransition(tc.from, tc.to); got != tc.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
}

func TestIsTerminal(t *testing.T) {
	if !IsTerminal(models.StatusCancelled) || !IsTerminal(models.StatusCompleted) {
		t.Error("cancelled and completed are terminal")
	}
	if IsTerminal(models.StatusPending) || IsTerminal(models.StatusBooked) {
		t.Error("pending and booked are not terminal")
	}
}

func TestNormalizeSlot(t *testing.T) {
	cases := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"10:00 AM", "10:00", false},
		{"10:00AM", "10:00", false},
		{"10:00", "10:00", false},
		{"9:05", "09:05", false},
		{"2:30 PM", "14:30", false},
		{"14:30:00", "14:30", false},
		{"3 PM", "15:00", false},
		{"half past ten", "", true},
		{"25:00", "", true},
	}
	for _, tc := range cases {
		got, err := NormalizeSlot(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Errorf("NormalizeSlot(%q) expected error, got %q", tc.in, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("NormalizeSlot(%q) unexpected error: %v", tc.in, err)
			continue
		}
		if got != tc.want {
			t.Errorf("NormalizeSlot(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
