package records

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/carebridge/backend/models"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrValidation wraps request-level validation failures.
var ErrValidation = errors.New("validation failed")

// Service owns medical records and their prescription cascade. The
// prescriptions collection is the single source of truth; the prescription
// list on a record is derived on read.
type Service struct {
	records       RecordRepository
	prescriptions PrescriptionRepository
	logger        *zap.Logger
}

func NewService(records RecordRepository, prescriptions PrescriptionRepository, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{records: records, prescriptions: prescriptions, logger: logger}
}

// PrescriptionInput is one prescription line in a create/update request.
type PrescriptionInput struct {
	Medication   string `json:"medication" validate:"required"`
	Dosage       string `json:"dosage" validate:"required"`
	Duration     string `json:"duration"`
	Refills      int    `json:"refills" validate:"min=0"`
	Instructions string `json:"instructions"`
	Pharmacy     string `json:"pharmacy"`
}

// CreateRecordRequest carries a new clinical note plus its prescriptions.
type CreateRecordRequest struct {
	DoctorID      string              `json:"doctor_id" validate:"required"`
	PatientName   string              `json:"patient_name" validate:"required"`
	PatientEmail  string              `json:"patient_email" validate:"required,email"`
	AppointmentID string              `json:"appointment_id"`
	Diagnosis     string              `json:"diagnosis" validate:"required"`
	Treatment     string              `json:"treatment"`
	Notes         string              `json:"notes"`
	RecordDate    time.Time           `json:"record_date"`
	Prescriptions []PrescriptionInput `json:"prescriptions"`
}

// UpdateRecordRequest patches a record. A non-nil Prescriptions slice
// replaces every linked prescription wholesale; nil leaves them alone.
type UpdateRecordRequest struct {
	Diagnosis     *string             `json:"diagnosis"`
	Treatment     *string             `json:"treatment"`
	Notes         *string             `json:"notes"`
	Prescriptions []PrescriptionInput `json:"prescriptions"`
}

// CreateRecord persists the note and its prescription lines.
func (s *Service) CreateRecord(ctx context.Context, req CreateRecordRequest) (*models.MedicalRecord, error) {
	if req.DoctorID == "" || req.PatientEmail == "" || req.Diagnosis == "" {
		return nil, fmt.Errorf("%w: doctor_id, patient_email and diagnosis are required", ErrValidation)
	}
	if req.RecordDate.IsZero() {
		req.RecordDate = time.Now().UTC()
	}

	now := time.Now().UTC()
	record := &models.MedicalRecord{
		ID:            uuid.New().String(),
		DoctorID:      req.DoctorID,
		PatientName:   req.PatientName,
		PatientEmail:  strings.ToLower(req.PatientEmail),
		AppointmentID: req.AppointmentID,
		Diagnosis:     req.Diagnosis,
		Treatment:     req.Treatment,
		Notes:         req.Notes,
		RecordDate:    req.RecordDate,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.records.Insert(ctx, record); err != nil {
		return nil, err
	}

	created, err := s.createPrescriptions(ctx, record, req.Prescriptions)
	if err != nil {
		return nil, fmt.Errorf("record %s created but prescriptions failed: %w", record.ID, err)
	}
	record.Prescriptions = created
	return record, nil
}

// GetRecord loads a record and attaches its live prescription list.
func (s *Service) GetRecord(ctx context.Context, id string) (*models.MedicalRecord, error) {
	record, err := s.records.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	scripts, err := s.prescriptions.FindByRecord(ctx, id)
	if err != nil {
		return nil, err
	}
	record.Prescriptions = scripts
	return record, nil
}

// UpdateRecord applies a patch. When the patch carries prescriptions, every
// standalone prescription referencing the record is deleted and recreated
// from the patch array: a full replace, not a merge.
func (s *Service) UpdateRecord(ctx context.Context, id string, patch UpdateRecordRequest) (*models.MedicalRecord, error) {
	record, err := s.records.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if patch.Diagnosis != nil {
		record.Diagnosis = *patch.Diagnosis
	}
	if patch.Treatment != nil {
		record.Treatment = *patch.Treatment
	}
	if patch.Notes != nil {
		record.Notes = *patch.Notes
	}
	record.UpdatedAt = time.Now().UTC()

	if err := s.records.Update(ctx, record); err != nil {
		return nil, err
	}

	if patch.Prescriptions != nil {
		deleted, err := s.prescriptions.DeleteByRecord(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("record %s updated but prescription replace failed during delete: %w", id, err)
		}
		created, err := s.createPrescriptions(ctx, record, patch.Prescriptions)
		if err != nil {
			return nil, fmt.Errorf("record %s updated, %d prescriptions deleted, but recreate failed: %w", id, deleted, err)
		}
		record.Prescriptions = created
		return record, nil
	}

	scripts, err := s.prescriptions.FindByRecord(ctx, id)
	if err != nil {
		return nil, err
	}
	record.Prescriptions = scripts
	return record, nil
}

// DeleteRecord removes the record's prescriptions first, then the record.
// If the record delete fails after the prescriptions are gone, the error
// says so instead of swallowing the partial failure.
func (s *Service) DeleteRecord(ctx context.Context, id string) error {
	if _, err := s.records.FindByID(ctx, id); err != nil {
		return err
	}

	deleted, err := s.prescriptions.DeleteByRecord(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to delete prescriptions for record %s: %w", id, err)
	}
	if err := s.records.Delete(ctx, id); err != nil {
		return fmt.Errorf("deleted %d prescriptions but record %s removal failed: %w", deleted, id, err)
	}
	s.logger.Info("medical record deleted",
		zap.String("record_id", id),
		zap.Int64("prescriptions_removed", deleted))
	return nil
}

// ListRecordsByPatient returns a patient's records with derived prescription
// lists attached.
func (s *Service) ListRecordsByPatient(ctx context.Context, patientEmail string) ([]models.MedicalRecord, error) {
	recs, err := s.records.ListByPatient(ctx, strings.ToLower(patientEmail))
	if err != nil {
		return nil, err
	}
	for i := range recs {
		scripts, err := s.prescriptions.FindByRecord(ctx, recs[i].ID)
		if err != nil {
			return nil, err
		}
		recs[i].Prescriptions = scripts
	}
	return recs, nil
}

// ListRecordsByDoctor returns a doctor's authored records.
func (s *Service) ListRecordsByDoctor(ctx context.Context, doctorID string) ([]models.MedicalRecord, error) {
	return s.records.ListByDoctor(ctx, doctorID)
}

// CreatePrescription persists a standalone prescription, optionally linked
// to a record and/or appointment.
func (s *Service) CreatePrescription(ctx context.Context, p *models.Prescription) (*models.Prescription, error) {
	if p.DoctorID == "" || p.PatientEmail == "" || p.Medication == "" || p.Dosage == "" {
		return nil, fmt.Errorf("%w: doctor_id, patient_email, medication and dosage are required", ErrValidation)
	}
	if p.MedicalRecordID != "" {
		if _, err := s.records.FindByID(ctx, p.MedicalRecordID); err != nil {
			return nil, err
		}
	}
	now := time.Now().UTC()
	p.ID = uuid.New().String()
	p.PatientEmail = strings.ToLower(p.PatientEmail)
	p.CreatedAt = now
	p.UpdatedAt = now
	if err := s.prescriptions.Insert(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// GetPrescription returns a single prescription by id.
func (s *Service) GetPrescription(ctx context.Context, id string) (*models.Prescription, error) {
	return s.prescriptions.FindByID(ctx, id)
}

// UpdatePrescription replaces the mutable fields of a prescription.
func (s *Service) UpdatePrescription(ctx context.Context, id string, in PrescriptionInput) (*models.Prescription, error) {
	if in.Medication == "" || in.Dosage == "" {
		return nil, fmt.Errorf("%w: medication and dosage are required", ErrValidation)
	}
	p, err := s.prescriptions.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	p.Medication = in.Medication
	p.Dosage = in.Dosage
	p.Duration = in.Duration
	p.Refills = in.Refills
	p.Instructions = in.Instructions
	p.Pharmacy = in.Pharmacy
	p.UpdatedAt = time.Now().UTC()
	if err := s.prescriptions.Update(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// DeletePrescription removes a single standalone prescription.
func (s *Service) DeletePrescription(ctx context.Context, id string) error {
	if _, err := s.prescriptions.FindByID(ctx, id); err != nil {
		return err
	}
	return s.prescriptions.Delete(ctx, id)
}

// ListPrescriptionsByPatient returns a patient's prescriptions.
func (s *Service) ListPrescriptionsByPatient(ctx context.Context, patientEmail string) ([]models.Prescription, error) {
	return s.prescriptions.ListByPatient(ctx, strings.ToLower(patientEmail))
}

func (s *Service) createPrescriptions(ctx context.Context, record *models.MedicalRecord, inputs []PrescriptionInput) ([]models.Prescription, error) {
	created := make([]models.Prescription, 0, len(inputs))
	now := time.Now().UTC()
	for _, in := range inputs {
		if in.Medication == "" || in.Dosage == "" {
			return nil, fmt.Errorf("%w: medication and dosage are required", ErrValidation)
		}
		p := models.Prescription{
			ID:              uuid.New().String(),
			MedicalRecordID: record.ID,
			AppointmentID:   record.AppointmentID,
			DoctorID:        record.DoctorID,
			PatientEmail:    record.PatientEmail,
			Medication:      in.Medication,
			Dosage:          in.Dosage,
			Duration:        in.Duration,
			Refills:         in.Refills,
			Instructions:    in.Instructions,
			Pharmacy:        in.Pharmacy,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		if err := s.prescriptions.Insert(ctx, &p); err != nil {
			return nil, err
		}
		created = append(created, p)
	}
	return created, nil
}
