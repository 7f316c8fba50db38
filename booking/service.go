package booking

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/carebridge/backend/models"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrValidation wraps request-level validation failures.
var ErrValidation = errors.New("validation failed")

// Cancellation reasons written by the resolver itself.
const (
	ReasonSlotFilled        = "slot filled by another confirmed appointment"
	ReasonDoctorUnavailable = "doctor no longer available"
	ReasonPatientCancelled  = "cancelled by patient"
)

// SlotCache caches booked-slot lookups. Satisfied by cache.Cache; may be nil.
type SlotCache interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	Delete(ctx context.Context, key string) error
}

// RefGenerator issues human-facing booking reference codes.
type RefGenerator interface {
	GenerateID() (string, error)
}

// Service implements the slot query and booking conflict-resolution workflow
// over a Repository.
type Service struct {
	repo    Repository
	slots   SlotCache
	refs    RefGenerator
	logger  *zap.Logger
	slotTTL time.Duration
}

func NewService(repo Repository, refs RefGenerator, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		repo:    repo,
		refs:    refs,
		logger:  logger,
		slotTTL: 30 * time.Second,
	}
}

// SetSlotCache attaches an optional cache for booked-slot queries.
func (s *Service) SetSlotCache(c SlotCache, ttl time.Duration) {
	s.slots = c
	if ttl > 0 {
		s.slotTTL = ttl
	}
}

// CreateRequest carries everything needed to book a slot.
type CreateRequest struct {
	PatientName   string `json:"patient_name" validate:"required"`
	PatientEmail  string `json:"patient_email" validate:"required,email"`
	PatientPhone  string `json:"patient_phone" validate:"required"`
	PatientAge    int    `json:"patient_age" validate:"omitempty,min=0,max=150"`
	PatientGender string `json:"patient_gender" validate:"omitempty,oneof=male female other"`
	DoctorID      string `json:"doctor_id" validate:"required"`
	DoctorEmail   string `json:"doctor_email" validate:"required,email"`
	DoctorName    string `json:"doctor_name" validate:"required"`
	Date          string `json:"appointment_date" validate:"required"`
	Slot          string `json:"slot_time" validate:"required"`
	Symptoms      string `json:"symptoms"`
	Notes         string `json:"notes"`
	// Status lets a flow that skips doctor confirmation book directly.
	Status models.AppointmentStatus `json:"status"`

	Attachments []models.Attachment `json:"-"`
}

// Create books a slot for a patient. Slot exclusivity is enforced by the
// repository's atomic insert; a losing race surfaces as ErrSlotTaken exactly
// like a straight duplicate.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*models.Appointment, error) {
	if err := s.validateCreate(&req); err != nil {
		return nil, err
	}

	ref := ""
	if s.refs != nil {
		r, err := s.refs.GenerateID()
		if err != nil {
			return nil, fmt.Errorf("generate booking ref: %w", err)
		}
		ref = r
	}

	now := time.Now().UTC()
	appt := &models.Appointment{
		ID:              uuid.New().String(),
		BookingRef:      ref,
		PatientName:     req.PatientName,
		PatientEmail:    strings.ToLower(req.PatientEmail),
		PatientPhone:    req.PatientPhone,
		PatientAge:      req.PatientAge,
		PatientGender:   req.PatientGender,
		DoctorID:        req.DoctorID,
		DoctorEmail:     strings.ToLower(req.DoctorEmail),
		DoctorName:      req.DoctorName,
		AppointmentDate: req.Date,
		SlotTime:        req.Slot,
		Status:          req.Status,
		Symptoms:        req.Symptoms,
		Notes:           req.Notes,
		Attachments:     req.Attachments,
		IsValid:         true,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if err := s.repo.Insert(ctx, appt); err != nil {
		if errors.Is(err, ErrSlotTaken) {
			s.logger.Info("slot conflict on create",
				zap.String("doctor_id", appt.DoctorID),
				zap.String("date", appt.AppointmentDate),
				zap.String("slot", appt.SlotTime))
			return nil, ErrSlotTaken
		}
		return nil, err
	}

	s.invalidateSlots(ctx, appt.DoctorID, appt.AppointmentDate)
	return appt, nil
}

func (s *Service) validateCreate(req *CreateRequest) error {
	if req.PatientName == "" || req.PatientEmail == "" || req.DoctorID == "" {
		return fmt.Errorf("%w: patient_name, patient_email and doctor_id are required", ErrValidation)
	}
	if !validateDateFormat(req.Date) {
		return fmt.Errorf("%w: appointment_date must be in YYYY-MM-DD format", ErrValidation)
	}
	slot, err := NormalizeSlot(req.Slot)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	req.Slot = slot

	switch req.Status {
	case "":
		req.Status = models.StatusPending
	case models.StatusPending, models.StatusBooked:
		// allowed initial states
	default:
		return fmt.Errorf("%w: initial status must be pending or booked", ErrValidation)
	}
	return nil
}

// BookedSlots returns the distinct slot labels claimed by non-cancelled
// appointments for (doctor, date). Unknown doctors and empty days yield an
// empty slice, not an error.
func (s *Service) BookedSlots(ctx context.Context, doctorID, date string) ([]string, error) {
	if !validateDateFormat(date) {
		return nil, fmt.Errorf("%w: date must be in YYYY-MM-DD format", ErrValidation)
	}

	key := slotKey(doctorID, date)
	if s.slots != nil {
		var cached []string
		if err := s.slots.Get(ctx, key, &cached); err == nil {
			return cached, nil
		}
	}

	appts, err := s.repo.FindActiveByDoctorDate(ctx, doctorID, date)
	if err != nil {
		return nil, fmt.Errorf("query booked slots: %w", err)
	}

	// Two appointments should never share a slot, but the projection must
	// not assume it.
	seen := make(map[string]bool, len(appts))
	slots := make([]string, 0, len(appts))
	for _, a := range appts {
		if !seen[a.SlotTime] {
			seen[a.SlotTime] = true
			slots = append(slots, a.SlotTime)
		}
	}
	sort.Strings(slots)

	if s.slots != nil {
		if err := s.slots.Set(ctx, key, slots, s.slotTTL); err != nil {
			s.logger.Warn("slot cache set failed", zap.Error(err))
		}
	}
	return slots, nil
}

// StatusChange is the outcome of a status transition: the updated appointment
// plus the pending siblings auto-cancelled by a confirmation.
type StatusChange struct {
	Appointment *models.Appointment
	Cancelled   []models.Appointment
}

// SetStatus transitions an appointment through the status state machine.
// Confirming (→ booked) additionally cancels every other pending appointment
// for the same (doctor, date, slot) and reports them so the caller can notify
// the losing patients.
func (s *Service) SetStatus(ctx context.Context, id string, status models.AppointmentStatus) (*StatusChange, error) {
	if !models.ValidStatus(status) {
		return nil, fmt.Errorf("%w: unknown status %q", ErrValidation, status)
	}

	appt, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if appt.Status == status {
		return &StatusChange{Appointment: appt}, nil
	}
	if !CanTransition(appt.Status, status) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, appt.Status, status)
	}

	if status == models.StatusBooked {
		updated, cancelled, err := s.repo.Confirm(ctx, id, ReasonSlotFilled)
		if err != nil {
			return nil, err
		}
		s.invalidateSlots(ctx, appt.DoctorID, appt.AppointmentDate)
		if len(cancelled) > 0 {
			s.logger.Info("auto-cancelled conflicting pending appointments",
				zap.String("winner", id),
				zap.Int("cancelled", len(cancelled)))
		}
		return &StatusChange{Appointment: updated, Cancelled: cancelled}, nil
	}

	updated, err := s.repo.UpdateStatus(ctx, id, status, "")
	if err != nil {
		return nil, err
	}
	s.invalidateSlots(ctx, appt.DoctorID, appt.AppointmentDate)
	return &StatusChange{Appointment: updated}, nil
}

// Cancel marks an appointment cancelled. Cancelling an already-cancelled
// appointment is a no-op that returns the stored state with its original
// reason untouched.
func (s *Service) Cancel(ctx context.Context, id, reason string) (*models.Appointment, error) {
	appt, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if appt.Status == models.StatusCancelled {
		return appt, nil
	}
	if !CanTransition(appt.Status, models.StatusCancelled) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, appt.Status, models.StatusCancelled)
	}
	if reason == "" {
		reason = ReasonPatientCancelled
	}

	updated, err := s.repo.UpdateStatus(ctx, id, models.StatusCancelled, reason)
	if err != nil {
		return nil, err
	}
	s.invalidateSlots(ctx, appt.DoctorID, appt.AppointmentDate)
	return updated, nil
}

// Get returns a single appointment by id.
func (s *Service) Get(ctx context.Context, id string) (*models.Appointment, error) {
	return s.repo.FindByID(ctx, id)
}

// List returns appointments matching the filter plus the unpaginated total.
func (s *Service) List(ctx context.Context, f ListFilter) ([]models.Appointment, int64, error) {
	if f.Limit <= 0 || f.Limit > 100 {
		f.Limit = 10
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	if f.SortBy == "" {
		f.SortBy = "created_at"
	}
	if f.SortOrder != "asc" {
		f.SortOrder = "desc"
	}
	return s.repo.List(ctx, f)
}

// CancelUpcomingForDoctor cancels every pending or booked appointment for a
// doctor from the given date on. Used when an admin deactivates or deletes a
// doctor account.
func (s *Service) CancelUpcomingForDoctor(ctx context.Context, doctorID, fromDate string) ([]models.Appointment, error) {
	if fromDate == "" {
		fromDate = time.Now().UTC().Format("2006-01-02")
	}
	cancelled, err := s.repo.CancelUpcomingForDoctor(ctx, doctorID, fromDate, ReasonDoctorUnavailable)
	if err != nil {
		return nil, err
	}
	for _, a := range cancelled {
		s.invalidateSlots(ctx, a.DoctorID, a.AppointmentDate)
	}
	return cancelled, nil
}

// Contacts projects appointments down to the patient contact info returned in
// affected.cancelled lists.
func Contacts(appts []models.Appointment) []models.PatientContact {
	out := make([]models.PatientContact, 0, len(appts))
	for _, a := range appts {
		out = append(out, models.PatientContact{
			AppointmentID: a.ID,
			BookingRef:    a.BookingRef,
			PatientName:   a.PatientName,
			PatientEmail:  a.PatientEmail,
			PatientPhone:  a.PatientPhone,
		})
	}
	return out
}

func slotKey(doctorID, date string) string {
	return fmt.Sprintf("slots:%s:%s", doctorID, date)
}

func (s *Service) invalidateSlots(ctx context.Context, doctorID, date string) {
	if s.slots == nil {
		return
	}
	if err := s.slots.Delete(ctx, slotKey(doctorID, date)); err != nil {
		s.logger.Warn("slot cache invalidation failed",
			zap.String("doctor_id", doctorID),
			zap.String("date", date),
			zap.Error(err))
	}
}
