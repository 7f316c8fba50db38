package handlers

import (
	"errors"
	"strings"

	"github.com/carebridge/backend/models"
	"github.com/carebridge/backend/records"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// RecordsHandler exposes medical records and prescriptions.
type RecordsHandler struct {
	logger    *zap.Logger
	service   *records.Service
	validator *validator.Validate
}

func NewRecordsHandler(logger *zap.Logger, svc *records.Service) *RecordsHandler {
	return &RecordsHandler{
		logger:    logger,
		service:   svc,
		validator: validator.New(),
	}
}

func (h *RecordsHandler) mapError(c *fiber.Ctx, err error, action string) error {
	switch {
	case errors.Is(err, records.ErrRecordNotFound):
		return fail(c, fiber.StatusNotFound, "Medical record not found", err)
	case errors.Is(err, records.ErrPrescriptionNotFound):
		return fail(c, fiber.StatusNotFound, "Prescription not found", err)
	case errors.Is(err, records.ErrValidation):
		return fail(c, fiber.StatusBadRequest, "Invalid request data", err)
	default:
		h.logger.Error(action, zap.Error(err))
		return fail(c, fiber.StatusInternalServerError, "Request failed", err)
	}
}

// CreateMedicalRecord stores a clinical note with its prescription lines.
func (h *RecordsHandler) CreateMedicalRecord(c *fiber.Ctx) error {
	var req records.CreateRecordRequest
	if err := c.BodyParser(&req); err != nil {
		return fail(c, fiber.StatusBadRequest, "Invalid medical record data", err)
	}
	if err := h.validator.Struct(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"message": "Validation failed",
			"error":   formatValidationErrors(err),
		})
	}

	record, err := h.service.CreateRecord(c.Context(), req)
	if err != nil {
		return h.mapError(c, err, "failed to create medical record")
	}

	h.logger.Info("medical record created",
		zap.String("record_id", record.ID),
		zap.String("doctor_id", record.DoctorID),
		zap.String("patient_email", record.PatientEmail))

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"success": true,
		"message": "Medical record created successfully",
		"record":  record,
	})
}

// GetMedicalRecord returns a record with its derived prescription list.
func (h *RecordsHandler) GetMedicalRecord(c *fiber.Ctx) error {
	record, err := h.service.GetRecord(c.Context(), c.Params("id"))
	if err != nil {
		return h.mapError(c, err, "failed to fetch medical record")
	}
	return c.JSON(fiber.Map{
		"success": true,
		"record":  record,
	})
}

// UpdateMedicalRecord patches a record. A prescriptions array in the body
// replaces the record's prescriptions wholesale.
func (h *RecordsHandler) UpdateMedicalRecord(c *fiber.Ctx) error {
	var req records.UpdateRecordRequest
	if err := c.BodyParser(&req); err != nil {
		return fail(c, fiber.StatusBadRequest, "Invalid medical record data", err)
	}

	record, err := h.service.UpdateRecord(c.Context(), c.Params("id"), req)
	if err != nil {
		return h.mapError(c, err, "failed to update medical record")
	}
	return c.JSON(fiber.Map{
		"success": true,
		"message": "Medical record updated successfully",
		"record":  record,
	})
}

// DeleteMedicalRecord removes a record and its linked prescriptions.
func (h *RecordsHandler) DeleteMedicalRecord(c *fiber.Ctx) error {
	if err := h.service.DeleteRecord(c.Context(), c.Params("id")); err != nil {
		return h.mapError(c, err, "failed to delete medical record")
	}
	return c.JSON(fiber.Map{
		"success": true,
		"message": "Medical record deleted successfully",
	})
}

// GetRecordsByPatient lists a patient's records.
func (h *RecordsHandler) GetRecordsByPatient(c *fiber.Ctx) error {
	email := strings.ToLower(c.Params("email"))
	if email == "" {
		return fail(c, fiber.StatusBadRequest, "Patient email is required", nil)
	}
	recs, err := h.service.ListRecordsByPatient(c.Context(), email)
	if err != nil {
		return h.mapError(c, err, "failed to list medical records")
	}
	if recs == nil {
		recs = []models.MedicalRecord{}
	}
	return c.JSON(fiber.Map{
		"success": true,
		"records": recs,
	})
}

// GetRecordsByDoctor lists a doctor's authored records.
func (h *RecordsHandler) GetRecordsByDoctor(c *fiber.Ctx) error {
	doctorID := c.Params("doctorId")
	if doctorID == "" {
		return fail(c, fiber.StatusBadRequest, "Doctor ID is required", nil)
	}
	recs, err := h.service.ListRecordsByDoctor(c.Context(), doctorID)
	if err != nil {
		return h.mapError(c, err, "failed to list medical records")
	}
	if recs == nil {
		recs = []models.MedicalRecord{}
	}
	return c.JSON(fiber.Map{
		"success": true,
		"records": recs,
	})
}

// CreatePrescription stores a standalone prescription.
func (h *RecordsHandler) CreatePrescription(c *fiber.Ctx) error {
	var p models.Prescription
	if err := c.BodyParser(&p); err != nil {
		return fail(c, fiber.StatusBadRequest, "Invalid prescription data", err)
	}

	created, err := h.service.CreatePrescription(c.Context(), &p)
	if err != nil {
		return h.mapError(c, err, "failed to create prescription")
	}

	h.logger.Info("prescription created",
		zap.String("prescription_id", created.ID),
		zap.String("doctor_id", created.DoctorID))

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"success":      true,
		"message":      "Prescription created successfully",
		"prescription": created,
	})
}

// GetPrescription returns a single prescription by id.
func (h *RecordsHandler) GetPrescription(c *fiber.Ctx) error {
	p, err := h.service.GetPrescription(c.Context(), c.Params("id"))
	if err != nil {
		return h.mapError(c, err, "failed to fetch prescription")
	}
	return c.JSON(fiber.Map{
		"success":      true,
		"prescription": p,
	})
}

// UpdatePrescription replaces the mutable fields of a prescription.
func (h *RecordsHandler) UpdatePrescription(c *fiber.Ctx) error {
	var in records.PrescriptionInput
	if err := c.BodyParser(&in); err != nil {
		return fail(c, fiber.StatusBadRequest, "Invalid prescription data", err)
	}

	p, err := h.service.UpdatePrescription(c.Context(), c.Params("id"), in)
	if err != nil {
		return h.mapError(c, err, "failed to update prescription")
	}
	return c.JSON(fiber.Map{
		"success":      true,
		"message":      "Prescription updated successfully",
		"prescription": p,
	})
}

// DeletePrescription removes a standalone prescription.
func (h *RecordsHandler) DeletePrescription(c *fiber.Ctx) error {
	if err := h.service.DeletePrescription(c.Context(), c.Params("id")); err != nil {
		return h.mapError(c, err, "failed to delete prescription")
	}
	return c.JSON(fiber.Map{
		"success": true,
		"message": "Prescription deleted successfully",
	})
}

// GetPrescriptionsByPatient lists a patient's prescriptions.
func (h *RecordsHandler) GetPrescriptionsByPatient(c *fiber.Ctx) error {
	email := strings.ToLower(c.Params("email"))
	if email == "" {
		return fail(c, fiber.StatusBadRequest, "Patient email is required", nil)
	}
	scripts, err := h.service.ListPrescriptionsByPatient(c.Context(), email)
	if err != nil {
		return h.mapError(c, err, "failed to list prescriptions")
	}
	if scripts == nil {
		scripts = []models.Prescription{}
	}
	return c.JSON(fiber.Map{
		"success":       true,
		"prescriptions": scripts,
	})
}
