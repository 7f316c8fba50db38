package booking

import (
	"context"
	"errors"

	"github.com/carebridge/backend/models"
)

var (
	// ErrSlotTaken means the (doctor, date, slot) tuple already has a
	// non-cancelled appointment.
	ErrSlotTaken = errors.New("slot already booked")
	// ErrNotFound means no appointment exists for the given id.
	ErrNotFound = errors.New("appointment not found")
	// ErrInvalidTransition means the requested status change is not allowed
	// from the appointment's current status.
	ErrInvalidTransition = errors.New("invalid status transition")
)

// ListFilter narrows appointment list queries.
type ListFilter struct {
	DoctorID     string
	PatientEmail string
	Status       models.AppointmentStatus
	StartDate    string
	EndDate      string
	Limit        int64
	Offset       int64
	SortBy       string
	SortOrder    string
}

// Repository is the persistence contract for appointments. Insert must
// enforce slot exclusivity atomically and return ErrSlotTaken on violation;
// Confirm must update the target and cancel its pending siblings as one
// atomic unit.
type Repository interface {
	Insert(ctx context.Context, a *models.Appointment) error
	FindByID(ctx context.Context, id string) (*models.Appointment, error)
	FindActiveByDoctorDate(ctx context.Context, doctorID, date string) ([]models.Appointment, error)
	UpdateStatus(ctx context.Context, id string, status models.AppointmentStatus, reason string) (*models.Appointment, error)
	Confirm(ctx context.Context, id, siblingReason string) (*models.Appointment, []models.Appointment, error)
	List(ctx context.Context, f ListFilter) ([]models.Appointment, int64, error)
	CancelUpcomingForDoctor(ctx context.Context, doctorID, fromDate, reason string) ([]models.Appointment, error)
}
