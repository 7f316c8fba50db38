package records

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/carebridge/backend/models"
	"github.com/google/uuid"
)

type mockRecordRepo struct {
	store     map[string]*models.MedicalRecord
	failnext  bool
	deleteErr error
}

func newMockRecordRepo() *mockRecordRepo {
	return &mockRecordRepo{store: make(map[string]*models.MedicalRecord)}
}

func (m *mockRecordRepo) Insert(_ context.Context, r *models.MedicalRecord) error {
	cp := *r
	m.store[r.ID] = &cp
	return nil
}

func (m *mockRecordRepo) FindByID(_ context.Context, id string) (*models.MedicalRecord, error) {
	r, ok := m.store[id]
	if !ok {
		return nil, ErrRecordNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *mockRecordRepo) Update(_ context.Context, r *models.MedicalRecord) error {
	if _, ok := m.store[r.ID]; !ok {
		return ErrRecordNotFound
	}
	cp := *r
	m.store[r.ID] = &cp
	return nil
}

func (m *mockRecordRepo) Delete(_ context.Context, id string) error {
	if m.deleteErr != nil {
		return m.deleteErr
	}
	if _, ok := m.store[id]; !ok {
		return ErrRecordNotFound
	}
	delete(m.store, id)
	return nil
}

func (m *mockRecordRepo) ListByPatient(_ context.Context, email string) ([]models.MedicalRecord, error) {
	var out []models.MedicalRecord
	for _, r := range m.store {
		if r.PatientEmail == email {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (m *mockRecordRepo) ListByDoctor(_ context.Context, doctorID string) ([]models.MedicalRecord, error) {
	var out []models.MedicalRecord
	for _, r := range m.store {
		if r.DoctorID == doctorID {
			out = append(out, *r)
		}
	}
	return out, nil
}

type mockPrescriptionRepo struct {
	store     map[string]*models.Prescription
	insertErr error
}

func newMockPrescriptionRepo() *mockPrescriptionRepo {
	return &mockPrescriptionRepo{store: make(map[string]*models.Prescription)}
}

func (m *mockPrescriptionRepo) Insert(_ context.Context, p *models.Prescription) error {
	if m.insertErr != nil {
		return m.insertErr
	}
	cp := *p
	m.store[p.ID] = &cp
	return nil
}

func (m *mockPrescriptionRepo) FindByID(_ context.Context, id string) (*models.Prescription, error) {
	p, ok := m.store[id]
	if !ok {
		return nil, ErrPrescriptionNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *mockPrescriptionRepo) Update(_ context.Context, p *models.Prescription) error {
	if _, ok := m.store[p.ID]; !ok {
		return ErrPrescriptionNotFound
	}
	cp := *p
	m.store[p.ID] = &cp
	return nil
}

func (m *mockPrescriptionRepo) Delete(_ context.Context, id string) error {
	if _, ok := m.store[id]; !ok {
		return ErrPrescriptionNotFound
	}
	delete(m.store, id)
	return nil
}

func (m *mockPrescriptionRepo) FindByRecord(_ context.Context, recordID string) ([]models.Prescription, error) {
	var out []models.Prescription
	for _, p := range m.store {
		if p.MedicalRecordID == recordID {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (m *mockPrescriptionRepo) DeleteByRecord(_ context.Context, recordID string) (int64, error) {
	var n int64
	for id, p := range m.store {
		if p.MedicalRecordID == recordID {
			delete(m.store, id)
			n++
		}
	}
	return n, nil
}

func (m *mockPrescriptionRepo) ListByPatient(_ context.Context, email string) ([]models.Prescription, error) {
	var out []models.Prescription
	for _, p := range m.store {
		if p.PatientEmail == email {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (m *mockPrescriptionRepo) seed(recordID string) *models.Prescription {
	p := &models.Prescription{
		ID:              uuid.New().String(),
		MedicalRecordID: recordID,
		DoctorID:        "doc-1",
		PatientEmail:    "p@example.com",
		Medication:      "amoxicillin",
		Dosage:          "500mg",
	}
	m.store[p.ID] = p
	return p
}

func newTestService() (*Service, *mockRecordRepo, *mockPrescriptionRepo) {
	rr := newMockRecordRepo()
	pr := newMockPrescriptionRepo()
	return NewService(rr, pr, nil), rr, pr
}

func validCreate() CreateRecordRequest {
	return CreateRecordRequest{
		DoctorID:     "doc-1",
		PatientName:  "Priya Sharma",
		PatientEmail: "Priya@Example.com",
		Diagnosis:    "acute bronchitis",
		Treatment:    "rest, fluids",
		Prescriptions: []PrescriptionInput{
			{Medication: "amoxicillin", Dosage: "500mg", Duration: "7 days", Refills: 1},
			{Medication: "salbutamol", Dosage: "2 puffs", Instructions: "as needed"},
		},
	}
}

func TestCreateRecord(t *testing.T) {
	svc, _, pr := newTestService()
	rec, err := svc.CreateRecord(context.Background(), validCreate())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.PatientEmail != "priya@example.com" {
		t.Errorf("patient email should be lowercased, got %q", rec.PatientEmail)
	}
	if len(rec.Prescriptions) != 2 {
		t.Fatalf("expected 2 prescriptions on the record, got %d", len(rec.Prescriptions))
	}
	if len(pr.store) != 2 {
		t.Fatalf("expected 2 standalone prescriptions, got %d", len(pr.store))
	}
	for _, p := range pr.store {
		if p.MedicalRecordID != rec.ID {
			t.Errorf("prescription should reference record %s, got %q", rec.ID, p.MedicalRecordID)
		}
	}
}

func TestCreateRecord_Validation(t *testing.T) {
	svc, _, _ := newTestService()
	req := validCreate()
	req.Diagnosis = ""
	if _, err := svc.CreateRecord(context.Background(), req); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestGetRecord_DerivesPrescriptions(t *testing.T) {
	svc, _, pr := newTestService()
	ctx := context.Background()

	rec, err := svc.CreateRecord(ctx, validCreate())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	pr.seed(rec.ID)

	got, err := svc.GetRecord(ctx, rec.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got.Prescriptions) != 3 {
		t.Errorf("record view should reflect the live prescription collection, got %d", len(got.Prescriptions))
	}
}

func TestUpdateRecord_ReplacesPrescriptionsWholesale(t *testing.T) {
	svc, _, pr := newTestService()
	ctx := context.Background()

	rec, err := svc.CreateRecord(ctx, validCreate())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	otherRecordScript := pr.seed("some-other-record")

	updated, err := svc.UpdateRecord(ctx, rec.ID, UpdateRecordRequest{
		Prescriptions: []PrescriptionInput{{Medication: "azithromycin", Dosage: "250mg"}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(updated.Prescriptions) != 1 || updated.Prescriptions[0].Medication != "azithromycin" {
		t.Fatalf("expected replaced prescription set, got %+v", updated.Prescriptions)
	}

	linked, _ := pr.FindByRecord(ctx, rec.ID)
	if len(linked) != 1 {
		t.Errorf("old prescriptions should be gone, got %d", len(linked))
	}
	if _, err := pr.FindByID(ctx, otherRecordScript.ID); err != nil {
		t.Error("prescriptions of other records must not be touched")
	}
}

func TestUpdateRecord_NilPrescriptionsLeavesThemAlone(t *testing.T) {
	svc, _, pr := newTestService()
	ctx := context.Background()

	rec, err := svc.CreateRecord(ctx, validCreate())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	newDiagnosis := "chronic bronchitis"
	updated, err := svc.UpdateRecord(ctx, rec.ID, UpdateRecordRequest{Diagnosis: &newDiagnosis})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if updated.Diagnosis != newDiagnosis {
		t.Errorf("diagnosis should be patched, got %q", updated.Diagnosis)
	}
	if len(updated.Prescriptions) != 2 {
		t.Errorf("prescriptions should be untouched, got %d", len(updated.Prescriptions))
	}
	if len(pr.store) != 2 {
		t.Errorf("standalone prescriptions should be untouched, got %d", len(pr.store))
	}
}

func TestUpdateRecord_PartialFailureReported(t *testing.T) {
	svc, _, pr := newTestService()
	ctx := context.Background()

	rec, err := svc.CreateRecord(ctx, validCreate())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	pr.insertErr = fmt.Errorf("storage unavailable")
	_, err = svc.UpdateRecord(ctx, rec.ID, UpdateRecordRequest{
		Prescriptions: []PrescriptionInput{{Medication: "azithromycin", Dosage: "250mg"}},
	})
	if err == nil {
		t.Fatal("expected partial-failure error")
	}
}

func TestDeleteRecord_Cascades(t *testing.T) {
	svc, rr, pr := newTestService()
	ctx := context.Background()

	rec, err := svc.CreateRecord(ctx, validCreate())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	other := pr.seed("unrelated-record")

	if err := svc.DeleteRecord(ctx, rec.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := rr.store[rec.ID]; ok {
		t.Error("record should be deleted")
	}
	linked, _ := pr.FindByRecord(ctx, rec.ID)
	if len(linked) != 0 {
		t.Errorf("linked prescriptions should be deleted, got %d", len(linked))
	}
	if _, err := pr.FindByID(ctx, other.ID); err != nil {
		t.Error("prescriptions linked to other records must survive")
	}
}

func TestDeleteRecord_PartialFailureReported(t *testing.T) {
	svc, rr, pr := newTestService()
	ctx := context.Background()

	rec, err := svc.CreateRecord(ctx, validCreate())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	rr.deleteErr = fmt.Errorf("storage unavailable")
	err = svc.DeleteRecord(ctx, rec.ID)
	if err == nil {
		t.Fatal("expected error when record delete fails after cascade")
	}
	if linked, _ := pr.FindByRecord(ctx, rec.ID); len(linked) != 0 {
		t.Errorf("cascade ran before the failure, prescriptions should be gone, got %d", len(linked))
	}
}

func TestDeleteRecord_NotFound(t *testing.T) {
	svc, _, _ := newTestService()
	if err := svc.DeleteRecord(context.Background(), "missing"); !errors.Is(err, ErrRecordNotFound) {
		t.Fatalf("expected ErrRecordNotFound, got %v", err)
	}
}

func TestStandalonePrescriptionCRUD(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	p, err := svc.CreatePrescription(ctx, &models.Prescription{
		DoctorID:     "doc-1",
		PatientEmail: "P@Example.com",
		Medication:   "metformin",
		Dosage:       "850mg",
		Refills:      3,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.PatientEmail != "p@example.com" {
		t.Errorf("patient email should be lowercased, got %q", p.PatientEmail)
	}

	updated, err := svc.UpdatePrescription(ctx, p.ID, PrescriptionInput{Medication: "metformin", Dosage: "1000mg"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if updated.Dosage != "1000mg" {
		t.Errorf("dosage should be updated, got %q", updated.Dosage)
	}

	if err := svc.DeletePrescription(ctx, p.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := svc.GetPrescription(ctx, p.ID); !errors.Is(err, ErrPrescriptionNotFound) {
		t.Fatalf("expected ErrPrescriptionNotFound after delete, got %v", err)
	}
}

func TestCreatePrescription_UnknownRecordRejected(t *testing.T) {
	svc, _, _ := newTestService()
	_, err := svc.CreatePrescription(context.Background(), &models.Prescription{
		DoctorID:        "doc-1",
		PatientEmail:    "p@example.com",
		Medication:      "metformin",
		Dosage:          "850mg",
		MedicalRecordID: "missing",
	})
	if !errors.Is(err, ErrRecordNotFound) {
		t.Fatalf("expected ErrRecordNotFound, got %v", err)
	}
}
