package models

import "time"

// AppointmentStatus is the lifecycle state of an appointment.
type AppointmentStatus string

const (
	StatusPending   AppointmentStatus = "pending"
	StatusBooked    AppointmentStatus = "booked"
	StatusCompleted AppointmentStatus = "completed"
	StatusCancelled AppointmentStatus = "cancelled"
)

// ValidStatus reports whether s is one of the known appointment statuses.
func ValidStatus(s AppointmentStatus) bool {
	switch s {
	case StatusPending, StatusBooked, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// Attachment is a reference to an uploaded medical report file.
type Attachment struct {
	FileID       string `bson:"file_id" json:"file_id"`
	FileName     string `bson:"file_name" json:"file_name"`
	FileType     string `bson:"file_type" json:"file_type"`
	URL          string `bson:"url" json:"url"`
	ThumbnailURL string `bson:"thumbnail_url,omitempty" json:"thumbnail_url,omitempty"`
}

// Appointment is one booking of a doctor's slot. Patient identity is
// denormalized by value; there is no separate patient collection.
// IsValid mirrors status != cancelled and backs the unique partial index
// that enforces slot exclusivity.
type Appointment struct {
	ID                 string            `bson:"_id" json:"id"`
	BookingRef         string            `bson:"booking_ref" json:"booking_ref"`
	PatientName        string            `bson:"patient_name" json:"patient_name"`
	PatientEmail       string            `bson:"patient_email" json:"patient_email"`
	PatientPhone       string            `bson:"patient_phone" json:"patient_phone"`
	PatientAge         int               `bson:"patient_age,omitempty" json:"patient_age,omitempty"`
	PatientGender      string            `bson:"patient_gender,omitempty" json:"patient_gender,omitempty"`
	DoctorID           string            `bson:"doctor_id" json:"doctor_id"`
	DoctorEmail        string            `bson:"doctor_email" json:"doctor_email"`
	DoctorName         string            `bson:"doctor_name" json:"doctor_name"`
	AppointmentDate    string            `bson:"appointment_date" json:"appointment_date"`
	SlotTime           string            `bson:"slot_time" json:"slot_time"`
	Status             AppointmentStatus `bson:"status" json:"status"`
	Symptoms           string            `bson:"symptoms,omitempty" json:"symptoms,omitempty"`
	Notes              string            `bson:"notes,omitempty" json:"notes,omitempty"`
	Attachments        []Attachment      `bson:"attachments,omitempty" json:"attachments,omitempty"`
	CancellationReason string            `bson:"cancellation_reason,omitempty" json:"cancellation_reason,omitempty"`
	IsValid            bool              `bson:"is_valid" json:"is_valid"`
	CreatedAt          time.Time         `bson:"created_at" json:"created_at"`
	UpdatedAt          time.Time         `bson:"updated_at" json:"updated_at"`
}

// Doctor is an admin-managed doctor account.
type Doctor struct {
	ID              string    `bson:"_id" json:"id"`
	Name            string    `bson:"name" json:"name"`
	Email           string    `bson:"email" json:"email"`
	Specialization  string    `bson:"specialization" json:"specialization"`
	Degree          string    `bson:"degree" json:"degree"`
	ExperienceYears int       `bson:"experience_years" json:"experience_years"`
	LicenseNumber   string    `bson:"license_number" json:"license_number"`
	ConsultationFee int       `bson:"consultation_fee" json:"consultation_fee"`
	Availability    string    `bson:"availability,omitempty" json:"availability,omitempty"`
	IsActive        bool      `bson:"is_active" json:"is_active"`
	CreatedAt       time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt       time.Time `bson:"updated_at" json:"updated_at"`
}

// MedicalRecord is a doctor-authored clinical note. Prescriptions is a
// derived view: the prescriptions collection is the source of truth and the
// list is attached on read, never persisted with the record.
type MedicalRecord struct {
	ID            string         `bson:"_id" json:"id"`
	DoctorID      string         `bson:"doctor_id" json:"doctor_id"`
	PatientName   string         `bson:"patient_name" json:"patient_name"`
	PatientEmail  string         `bson:"patient_email" json:"patient_email"`
	AppointmentID string         `bson:"appointment_id,omitempty" json:"appointment_id,omitempty"`
	Diagnosis     string         `bson:"diagnosis" json:"diagnosis"`
	Treatment     string         `bson:"treatment,omitempty" json:"treatment,omitempty"`
	Notes         string         `bson:"notes,omitempty" json:"notes,omitempty"`
	RecordDate    time.Time      `bson:"record_date" json:"record_date"`
	Prescriptions []Prescription `bson:"-" json:"prescriptions,omitempty"`
	CreatedAt     time.Time      `bson:"created_at" json:"created_at"`
	UpdatedAt     time.Time      `bson:"updated_at" json:"updated_at"`
}

// Prescription is a standalone clinical order, optionally linked to a
// medical record and/or appointment.
type Prescription struct {
	ID              string    `bson:"_id" json:"id"`
	MedicalRecordID string    `bson:"medical_record_id,omitempty" json:"medical_record_id,omitempty"`
	AppointmentID   string    `bson:"appointment_id,omitempty" json:"appointment_id,omitempty"`
	DoctorID        string    `bson:"doctor_id" json:"doctor_id"`
	PatientEmail    string    `bson:"patient_email" json:"patient_email"`
	Medication      string    `bson:"medication" json:"medication"`
	Dosage          string    `bson:"dosage" json:"dosage"`
	Duration        string    `bson:"duration,omitempty" json:"duration,omitempty"`
	Refills         int       `bson:"refills" json:"refills"`
	Instructions    string    `bson:"instructions,omitempty" json:"instructions,omitempty"`
	Pharmacy        string    `bson:"pharmacy,omitempty" json:"pharmacy,omitempty"`
	CreatedAt       time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt       time.Time `bson:"updated_at" json:"updated_at"`
}

// HealthMetric is a patient-authored vitals log entry.
type HealthMetric struct {
	ID           string    `bson:"_id" json:"id"`
	PatientEmail string    `bson:"patient_email" json:"patient_email"`
	MetricType   string    `bson:"metric_type" json:"metric_type"`
	Value        float64   `bson:"value" json:"value"`
	Unit         string    `bson:"unit,omitempty" json:"unit,omitempty"`
	Notes        string    `bson:"notes,omitempty" json:"notes,omitempty"`
	RecordedAt   time.Time `bson:"recorded_at" json:"recorded_at"`
	CreatedAt    time.Time `bson:"created_at" json:"created_at"`
}

// AlertStatus is the lifecycle state of an emergency alert.
type AlertStatus string

const (
	AlertActive       AlertStatus = "active"
	AlertAcknowledged AlertStatus = "acknowledged"
	AlertResolved     AlertStatus = "resolved"
)

// EmergencyAlert is a patient-raised emergency notification with doctor-side
// acknowledgment state.
type EmergencyAlert struct {
	ID             string      `bson:"_id" json:"id"`
	PatientName    string      `bson:"patient_name" json:"patient_name"`
	PatientEmail   string      `bson:"patient_email" json:"patient_email"`
	PatientPhone   string      `bson:"patient_phone,omitempty" json:"patient_phone,omitempty"`
	Message        string      `bson:"message" json:"message"`
	Location       string      `bson:"location,omitempty" json:"location,omitempty"`
	Severity       string      `bson:"severity,omitempty" json:"severity,omitempty"`
	Status         AlertStatus `bson:"status" json:"status"`
	AcknowledgedBy string      `bson:"acknowledged_by,omitempty" json:"acknowledged_by,omitempty"`
	CreatedAt      time.Time   `bson:"created_at" json:"created_at"`
	UpdatedAt      time.Time   `bson:"updated_at" json:"updated_at"`
}

// PatientContact is the contact view of an appointment's patient returned in
// affected.cancelled lists so callers can notify losing patients.
type PatientContact struct {
	AppointmentID string `json:"appointment_id"`
	BookingRef    string `json:"booking_ref"`
	PatientName   string `json:"patient_name"`
	PatientEmail  string `json:"patient_email"`
	PatientPhone  string `json:"patient_phone"`
}
