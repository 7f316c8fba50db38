package booking

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/carebridge/backend/models"
	"github.com/google/uuid"
)

type mockRepo struct {
	store map[string]*models.Appointment
}

func newMockRepo() *mockRepo {
	return &mockRepo{store: make(map[string]*models.Appointment)}
}

// seed inserts without the exclusivity check, emulating duplicates that
// predate the unique index or slipped through a race.
func (m *mockRepo) seed(a *models.Appointment) {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	a.IsValid = a.Status != models.StatusCancelled
	m.store[a.ID] = a
}

func (m *mockRepo) Insert(_ context.Context, a *models.Appointment) error {
	for _, existing := range m.store {
		if existing.IsValid &&
			existing.DoctorID == a.DoctorID &&
			existing.AppointmentDate == a.AppointmentDate &&
			existing.SlotTime == a.SlotTime {
			return ErrSlotTaken
		}
	}
	m.store[a.ID] = a
	return nil
}

func (m *mockRepo) FindByID(_ context.Context, id string) (*models.Appointment, error) {
	a, ok := m.store[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *mockRepo) FindActiveByDoctorDate(_ context.Context, doctorID, date string) ([]models.Appointment, error) {
	var out []models.Appointment
	for _, a := range m.store {
		if a.DoctorID == doctorID && a.AppointmentDate == date && a.Status != models.StatusCancelled {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (m *mockRepo) UpdateStatus(_ context.Context, id string, status models.AppointmentStatus, reason string) (*models.Appointment, error) {
	a, ok := m.store[id]
	if !ok {
		return nil, ErrNotFound
	}
	a.Status = status
	a.IsValid = status != models.StatusCancelled
	if reason != "" {
		a.CancellationReason = reason
	}
	a.UpdatedAt = time.Now().UTC()
	cp := *a
	return &cp, nil
}

func (m *mockRepo) Confirm(ctx context.Context, id, siblingReason string) (*models.Appointment, []models.Appointment, error) {
	updated, err := m.UpdateStatus(ctx, id, models.StatusBooked, "")
	if err != nil {
		return nil, nil, err
	}
	var cancelled []models.Appointment
	for _, a := range m.store {
		if a.ID != id &&
			a.DoctorID == updated.DoctorID &&
			a.AppointmentDate == updated.AppointmentDate &&
			a.SlotTime == updated.SlotTime &&
			a.Status == models.StatusPending {
			a.Status = models.StatusCancelled
			a.IsValid = false
			a.CancellationReason = siblingReason
			cancelled = append(cancelled, *a)
		}
	}
	return updated, cancelled, nil
}

func (m *mockRepo) List(_ context.Context, f ListFilter) ([]models.Appointment, int64, error) {
	var out []models.Appointment
	for _, a := range m.store {
		if f.DoctorID != "" && a.DoctorID != f.DoctorID {
			continue
		}
		if f.PatientEmail != "" && a.PatientEmail != f.PatientEmail {
			continue
		}
		if f.Status != "" && a.Status != f.Status {
			continue
		}
		out = append(out, *a)
	}
	return out, int64(len(out)), nil
}

func (m *mockRepo) CancelUpcomingForDoctor(_ context.Context, doctorID, fromDate, reason string) ([]models.Appointment, error) {
	var affected []models.Appointment
	for _, a := range m.store {
		if a.DoctorID == doctorID && a.AppointmentDate >= fromDate &&
			(a.Status == models.StatusPending || a.Status == models.StatusBooked) {
			a.Status = models.StatusCancelled
			a.IsValid = false
			a.CancellationReason = reason
			affected = append(affected, *a)
		}
	}
	return affected, nil
}

type stubRefs struct{ n int }

func (s *stubRefs) GenerateID() (string, error) {
	s.n++
	return fmt.Sprintf("REF%05d", s.n), nil
}

func newTestService() (*Service, *mockRepo) {
	repo := newMockRepo()
	return NewService(repo, &stubRefs{}, nil), repo
}

func validRequest() CreateRequest {
	return CreateRequest{
		PatientName:   "Priya Sharma",
		PatientEmail:  "Priya@Example.com",
		PatientPhone:  "9876543210",
		PatientAge:    34,
		PatientGender: "female",
		DoctorID:      "doc-1",
		DoctorEmail:   "dr.rao@clinic.example",
		DoctorName:    "Dr. Rao",
		Date:          "2025-11-15",
		Slot:          "10:00 AM",
		Symptoms:      "persistent cough",
		Notes:         "prefers morning visits",
	}
}

func TestCreate_Defaults(t *testing.T) {
	svc, _ := newTestService()
	appt, err := svc.Create(context.Background(), validRequest())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if appt.Status != models.StatusPending {
		t.Errorf("expected default status pending, got %q", appt.Status)
	}
	if !appt.IsValid {
		t.Error("new appointment should be valid")
	}
	if appt.SlotTime != "10:00" {
		t.Errorf("slot should be normalized to 24-hour form, got %q", appt.SlotTime)
	}
	if appt.PatientEmail != "priya@example.com" {
		t.Errorf("patient email should be lowercased, got %q", appt.PatientEmail)
	}
	if appt.BookingRef == "" {
		t.Error("expected a booking reference")
	}
}

func TestCreate_SlotConflict(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	if _, err := svc.Create(ctx, validRequest()); err != nil {
		t.Fatalf("first booking should succeed: %v", err)
	}

	req := validRequest()
	req.PatientName = "Arun Nair"
	req.PatientEmail = "arun@example.com"
	_, err := svc.Create(ctx, req)
	if !errors.Is(err, ErrSlotTaken) {
		t.Fatalf("expected ErrSlotTaken for duplicate slot, got %v", err)
	}
}

func TestCreate_EquivalentSlotSpellingsConflict(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	if _, err := svc.Create(ctx, validRequest()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	req := validRequest()
	req.PatientEmail = "other@example.com"
	req.Slot = "10:00"
	if _, err := svc.Create(ctx, req); !errors.Is(err, ErrSlotTaken) {
		t.Fatalf("expected ErrSlotTaken for equivalent slot label, got %v", err)
	}
}

func TestCreate_DifferentSlotSucceeds(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	if _, err := svc.Create(ctx, validRequest()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	req := validRequest()
	req.Slot = "10:30 AM"
	if _, err := svc.Create(ctx, req); err != nil {
		t.Fatalf("different slot should not conflict: %v", err)
	}
}

func TestCreate_SlotFreedByCancellation(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	appt, err := svc.Create(ctx, validRequest())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := svc.Cancel(ctx, appt.ID, "change of plans"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	req := validRequest()
	req.PatientEmail = "second@example.com"
	if _, err := svc.Create(ctx, req); err != nil {
		t.Fatalf("cancelled appointment should free the slot: %v", err)
	}
}

func TestCreate_Validation(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	cases := []struct {
		name   string
		mutate func(*CreateRequest)
	}{
		{"bad date", func(r *CreateRequest) { r.Date = "15-11-2025" }},
		{"impossible date", func(r *CreateRequest) { r.Date = "2025-13-45" }},
		{"bad slot", func(r *CreateRequest) { r.Slot = "half past ten" }},
		{"bad initial status", func(r *CreateRequest) { r.Status = models.StatusCompleted }},
		{"missing patient", func(r *CreateRequest) { r.PatientName = "" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := validRequest()
			tc.mutate(&req)
			if _, err := svc.Create(ctx, req); !errors.Is(err, ErrValidation) {
				t.Fatalf("expected ErrValidation, got %v", err)
			}
		})
	}
}

func TestBookedSlots(t *testing.T) {
	svc, repo := newTestService()
	ctx := context.Background()

	repo.seed(&models.Appointment{DoctorID: "doc-1", AppointmentDate: "2025-11-15", SlotTime: "10:00", Status: models.StatusPending})
	repo.seed(&models.Appointment{DoctorID: "doc-1", AppointmentDate: "2025-11-15", SlotTime: "10:00", Status: models.StatusPending})
	repo.seed(&models.Appointment{DoctorID: "doc-1", AppointmentDate: "2025-11-15", SlotTime: "11:00", Status: models.StatusBooked})
	repo.seed(&models.Appointment{DoctorID: "doc-1", AppointmentDate: "2025-11-15", SlotTime: "12:00", Status: models.StatusCancelled})
	repo.seed(&models.Appointment{DoctorID: "doc-1", AppointmentDate: "2025-11-16", SlotTime: "09:00", Status: models.StatusPending})
	repo.seed(&models.Appointment{DoctorID: "doc-2", AppointmentDate: "2025-11-15", SlotTime: "13:00", Status: models.StatusPending})

	slots, err := svc.BookedSlots(ctx, "doc-1", "2025-11-15")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{"10:00", "11:00"}
	if len(slots) != len(want) {
		t.Fatalf("expected slots %v, got %v", want, slots)
	}
	for i := range want {
		if slots[i] != want[i] {
			t.Fatalf("expected slots %v, got %v", want, slots)
		}
	}
}

func TestBookedSlots_UnknownDoctorIsEmpty(t *testing.T) {
	svc, _ := newTestService()
	slots, err := svc.BookedSlots(context.Background(), "nobody", "2025-11-15")
	if err != nil {
		t.Fatalf("unknown doctor should not be an error: %v", err)
	}
	if len(slots) != 0 {
		t.Errorf("expected empty slot list, got %v", slots)
	}
}

func TestBookedSlots_BadDate(t *testing.T) {
	svc, _ := newTestService()
	if _, err := svc.BookedSlots(context.Background(), "doc-1", "nov 15"); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestSetStatus_ConfirmCancelsSiblings(t *testing.T) {
	svc, repo := newTestService()
	ctx := context.Background()

	winner := &models.Appointment{ID: "a1", DoctorID: "doc-1", AppointmentDate: "2025-11-15", SlotTime: "10:00",
		Status: models.StatusPending, PatientName: "P1", PatientEmail: "p1@example.com", PatientPhone: "111"}
	loser := &models.Appointment{ID: "a2", DoctorID: "doc-1", AppointmentDate: "2025-11-15", SlotTime: "10:00",
		Status: models.StatusPending, PatientName: "P2", PatientEmail: "p2@example.com", PatientPhone: "222"}
	otherSlot := &models.Appointment{ID: "a3", DoctorID: "doc-1", AppointmentDate: "2025-11-15", SlotTime: "11:00",
		Status: models.StatusPending}
	otherDay := &models.Appointment{ID: "a4", DoctorID: "doc-1", AppointmentDate: "2025-11-16", SlotTime: "10:00",
		Status: models.StatusPending}
	repo.seed(winner)
	repo.seed(loser)
	repo.seed(otherSlot)
	repo.seed(otherDay)

	change, err := svc.SetStatus(ctx, "a1", models.StatusBooked)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if change.Appointment.Status != models.StatusBooked {
		t.Errorf("winner should be booked, got %q", change.Appointment.Status)
	}
	if len(change.Cancelled) != 1 || change.Cancelled[0].ID != "a2" {
		t.Fatalf("expected exactly a2 in affected.cancelled, got %+v", change.Cancelled)
	}
	if change.Cancelled[0].CancellationReason != ReasonSlotFilled {
		t.Errorf("expected reason %q, got %q", ReasonSlotFilled, change.Cancelled[0].CancellationReason)
	}

	if got, _ := svc.Get(ctx, "a2"); got.Status != models.StatusCancelled {
		t.Errorf("loser should be cancelled, got %q", got.Status)
	}
	if got, _ := svc.Get(ctx, "a3"); got.Status != models.StatusPending {
		t.Errorf("other slot must be untouched, got %q", got.Status)
	}
	if got, _ := svc.Get(ctx, "a4"); got.Status != models.StatusPending {
		t.Errorf("other day must be untouched, got %q", got.Status)
	}

	contacts := Contacts(change.Cancelled)
	if len(contacts) != 1 || contacts[0].PatientEmail != "p2@example.com" {
		t.Errorf("affected contacts should list P2, got %+v", contacts)
	}
}

func TestSetStatus_TerminalStatesRejected(t *testing.T) {
	svc, repo := newTestService()
	ctx := context.Background()

	repo.seed(&models.Appointment{ID: "done", DoctorID: "d", AppointmentDate: "2025-11-15", SlotTime: "10:00", Status: models.StatusCompleted})
	repo.seed(&models.Appointment{ID: "gone", DoctorID: "d", AppointmentDate: "2025-11-15", SlotTime: "11:00", Status: models.StatusCancelled})

	if _, err := svc.SetStatus(ctx, "done", models.StatusBooked); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("completed -> booked should be rejected, got %v", err)
	}
	if _, err := svc.SetStatus(ctx, "gone", models.StatusPending); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("cancelled -> pending should be rejected, got %v", err)
	}
}

func TestSetStatus_SameStatusIsNoop(t *testing.T) {
	svc, repo := newTestService()
	repo.seed(&models.Appointment{ID: "a1", DoctorID: "d", AppointmentDate: "2025-11-15", SlotTime: "10:00", Status: models.StatusPending})

	change, err := svc.SetStatus(context.Background(), "a1", models.StatusPending)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if change.Appointment.Status != models.StatusPending || len(change.Cancelled) != 0 {
		t.Errorf("same-status transition should be a no-op, got %+v", change)
	}
}

func TestSetStatus_NotFound(t *testing.T) {
	svc, _ := newTestService()
	if _, err := svc.SetStatus(context.Background(), "missing", models.StatusBooked); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSetStatus_UnknownStatus(t *testing.T) {
	svc, _ := newTestService()
	if _, err := svc.SetStatus(context.Background(), "x", "archived"); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestCancel_Idempotent(t *testing.T) {
	svc, repo := newTestService()
	ctx := context.Background()
	repo.seed(&models.Appointment{ID: "a1", DoctorID: "d", AppointmentDate: "2025-11-15", SlotTime: "10:00", Status: models.StatusPending})

	first, err := svc.Cancel(ctx, "a1", "patient travelling")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first.Status != models.StatusCancelled || first.CancellationReason != "patient travelling" {
		t.Fatalf("unexpected state after cancel: %+v", first)
	}

	second, err := svc.Cancel(ctx, "a1", "a different reason")
	if err != nil {
		t.Fatalf("cancelling a cancelled appointment must not error: %v", err)
	}
	if second.CancellationReason != "patient travelling" {
		t.Errorf("repeat cancel must not change the reason, got %q", second.CancellationReason)
	}
}

func TestCancel_DefaultReason(t *testing.T) {
	svc, repo := newTestService()
	repo.seed(&models.Appointment{ID: "a1", DoctorID: "d", AppointmentDate: "2025-11-15", SlotTime: "10:00", Status: models.StatusPending})

	got, err := svc.Cancel(context.Background(), "a1", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.CancellationReason != ReasonPatientCancelled {
		t.Errorf("expected default reason, got %q", got.CancellationReason)
	}
}

func TestCancel_CompletedRejected(t *testing.T) {
	svc, repo := newTestService()
	repo.seed(&models.Appointment{ID: "a1", DoctorID: "d", AppointmentDate: "2025-11-15", SlotTime: "10:00", Status: models.StatusCompleted})

	if _, err := svc.Cancel(context.Background(), "a1", "too late"); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("cancelling a completed appointment should be rejected, got %v", err)
	}
}

func TestRoundTrip(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	created, err := svc.Create(ctx, validRequest())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	fetched, err := svc.Get(ctx, created.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fetched.PatientName != created.PatientName ||
		fetched.PatientEmail != created.PatientEmail ||
		fetched.PatientPhone != created.PatientPhone ||
		fetched.DoctorID != created.DoctorID ||
		fetched.AppointmentDate != created.AppointmentDate ||
		fetched.SlotTime != created.SlotTime ||
		fetched.Symptoms != created.Symptoms ||
		fetched.Notes != created.Notes ||
		fetched.BookingRef != created.BookingRef {
		t.Errorf("fetched appointment differs from created:\ncreated: %+v\nfetched: %+v", created, fetched)
	}

	byDoctor, _, err := svc.List(ctx, ListFilter{DoctorID: created.DoctorID})
	if err != nil || len(byDoctor) != 1 {
		t.Fatalf("expected 1 appointment by doctor, got %d (%v)", len(byDoctor), err)
	}
	byPatient, _, err := svc.List(ctx, ListFilter{PatientEmail: created.PatientEmail})
	if err != nil || len(byPatient) != 1 {
		t.Fatalf("expected 1 appointment by patient, got %d (%v)", len(byPatient), err)
	}
}

func TestCancelUpcomingForDoctor(t *testing.T) {
	svc, repo := newTestService()
	ctx := context.Background()

	repo.seed(&models.Appointment{ID: "future-pending", DoctorID: "doc-1", AppointmentDate: "2099-01-10", SlotTime: "10:00", Status: models.StatusPending})
	repo.seed(&models.Appointment{ID: "future-booked", DoctorID: "doc-1", AppointmentDate: "2099-01-11", SlotTime: "10:00", Status: models.StatusBooked})
	repo.seed(&models.Appointment{ID: "past-done", DoctorID: "doc-1", AppointmentDate: "2020-01-01", SlotTime: "10:00", Status: models.StatusCompleted})
	repo.seed(&models.Appointment{ID: "other-doc", DoctorID: "doc-2", AppointmentDate: "2099-01-10", SlotTime: "10:00", Status: models.StatusPending})

	affected, err := svc.CancelUpcomingForDoctor(ctx, "doc-1", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(affected) != 2 {
		t.Fatalf("expected 2 affected appointments, got %d", len(affected))
	}
	for _, a := range affected {
		if a.CancellationReason != ReasonDoctorUnavailable {
			t.Errorf("expected reason %q, got %q", ReasonDoctorUnavailable, a.CancellationReason)
		}
	}
	if got, _ := svc.Get(ctx, "other-doc"); got.Status != models.StatusPending {
		t.Errorf("other doctor's appointment must be untouched, got %q", got.Status)
	}
	if got, _ := svc.Get(ctx, "past-done"); got.Status != models.StatusCompleted {
		t.Errorf("past appointment must be untouched, got %q", got.Status)
	}
}
