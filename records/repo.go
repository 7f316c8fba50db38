package records

import (
	"context"
	"errors"

	"github.com/carebridge/backend/models"
)

var (
	// ErrRecordNotFound means no medical record exists for the given id.
	ErrRecordNotFound = errors.New("medical record not found")
	// ErrPrescriptionNotFound means no prescription exists for the given id.
	ErrPrescriptionNotFound = errors.New("prescription not found")
)

// RecordRepository is the persistence contract for medical records.
type RecordRepository interface {
	Insert(ctx context.Context, r *models.MedicalRecord) error
	FindByID(ctx context.Context, id string) (*models.MedicalRecord, error)
	Update(ctx context.Context, r *models.MedicalRecord) error
	Delete(ctx context.Context, id string) error
	ListByPatient(ctx context.Context, patientEmail string) ([]models.MedicalRecord, error)
	ListByDoctor(ctx context.Context, doctorID string) ([]models.MedicalRecord, error)
}

// PrescriptionRepository is the persistence contract for standalone
// prescriptions, the source of truth for all prescription data.
type PrescriptionRepository interface {
	Insert(ctx context.Context, p *models.Prescription) error
	FindByID(ctx context.Context, id string) (*models.Prescription, error)
	Update(ctx context.Context, p *models.Prescription) error
	Delete(ctx context.Context, id string) error
	FindByRecord(ctx context.Context, recordID string) ([]models.Prescription, error)
	DeleteByRecord(ctx context.Context, recordID string) (int64, error)
	ListByPatient(ctx context.Context, patientEmail string) ([]models.Prescription, error)
}
