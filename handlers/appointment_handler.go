package handlers

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png"
	"mime/multipart"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/carebridge/backend/booking"
	"github.com/carebridge/backend/config"
	"github.com/carebridge/backend/models"
	"github.com/carebridge/backend/notify"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/nfnt/resize"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.uber.org/zap"
)

const (
	reportsBucket   = "medical-reports"
	maxReportSize   = 10 * 1024 * 1024
	thumbnailWidth  = 256
	thumbnailJPEGQ  = 80
	uploadIOTimeout = 30 * time.Second
)

// AppointmentHandler exposes the booking workflow over HTTP.
type AppointmentHandler struct {
	config      *config.Config
	logger      *zap.Logger
	service     *booking.Service
	notifier    *notify.Notifier
	mongoClient *mongo.Client
	minioClient *minio.Client
	validator   *validator.Validate
}

func NewAppointmentHandler(cfg *config.Config, logger *zap.Logger, svc *booking.Service, notifier *notify.Notifier, mongoClient *mongo.Client, minioClient *minio.Client) *AppointmentHandler {
	return &AppointmentHandler{
		config:      cfg,
		logger:      logger,
		service:     svc,
		notifier:    notifier,
		mongoClient: mongoClient,
		minioClient: minioClient,
		validator:   validator.New(),
	}
}

// CreateAppointment books a slot. Accepts JSON or multipart form data; the
// multipart path may carry medical report attachments.
func (h *AppointmentHandler) CreateAppointment(c *fiber.Ctx) error {
	var req booking.CreateRequest

	contentType := c.Get("Content-Type")
	if strings.HasPrefix(contentType, "multipart/form-data") {
		if err := h.parseMultipartCreate(c, &req); err != nil {
			h.logger.Error("failed to parse multipart appointment", zap.Error(err))
			return fail(c, fiber.StatusBadRequest, "Invalid appointment data", err)
		}
	} else if err := c.BodyParser(&req); err != nil {
		h.logger.Error("failed to parse appointment data", zap.Error(err))
		return fail(c, fiber.StatusBadRequest, "Invalid appointment data", err)
	}

	if err := h.validator.Struct(&req); err != nil {
		h.logger.Warn("appointment validation failed", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"message": "Validation failed",
			"error":   formatValidationErrors(err),
		})
	}

	appt, err := h.service.Create(c.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, booking.ErrSlotTaken):
			return fail(c, fiber.StatusConflict, "Slot already booked", err)
		case errors.Is(err, booking.ErrValidation):
			return fail(c, fiber.StatusBadRequest, "Invalid appointment data", err)
		default:
			h.logger.Error("failed to create appointment", zap.Error(err))
			return fail(c, fiber.StatusInternalServerError, "Failed to create appointment", err)
		}
	}

	h.notifier.Broadcast(c.Context(), notify.AppointmentEvent(notify.EventAppointmentCreated, appt, nil))

	h.logger.Info("appointment created",
		zap.String("appointment_id", appt.ID),
		zap.String("doctor_id", appt.DoctorID),
		zap.String("date", appt.AppointmentDate),
		zap.String("slot", appt.SlotTime))

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"success":     true,
		"message":     "Appointment created successfully",
		"appointment": appt,
	})
}

func (h *AppointmentHandler) parseMultipartCreate(c *fiber.Ctx, req *booking.CreateRequest) error {
	req.PatientName = c.FormValue("patient_name")
	req.PatientEmail = c.FormValue("patient_email")
	req.PatientPhone = c.FormValue("patient_phone")
	req.PatientGender = c.FormValue("patient_gender")
	req.DoctorID = c.FormValue("doctor_id")
	req.DoctorEmail = c.FormValue("doctor_email")
	req.DoctorName = c.FormValue("doctor_name")
	req.Date = c.FormValue("appointment_date")
	req.Slot = c.FormValue("slot_time")
	req.Symptoms = c.FormValue("symptoms")
	req.Notes = c.FormValue("notes")
	req.Status = models.AppointmentStatus(c.FormValue("status"))

	if age := c.FormValue("patient_age"); age != "" {
		n, err := strconv.Atoi(age)
		if err != nil {
			return fmt.Errorf("patient_age must be a number")
		}
		req.PatientAge = n
	}

	form, err := c.MultipartForm()
	if err != nil {
		return err
	}
	files := form.File["attachments"]
	if len(files) == 0 {
		return nil
	}

	attachments, err := h.uploadAttachments(c.Context(), files)
	if err != nil {
		return err
	}
	req.Attachments = attachments
	return nil
}

func (h *AppointmentHandler) uploadAttachments(ctx context.Context, files []*multipart.FileHeader) ([]models.Attachment, error) {
	ctx, cancel := context.WithTimeout(ctx, uploadIOTimeout)
	defer cancel()

	attachments := make([]models.Attachment, 0, len(files))
	for _, file := range files {
		if file.Size > maxReportSize {
			return nil, fmt.Errorf("file %s exceeds maximum size of %d MB", file.Filename, maxReportSize/(1024*1024))
		}

		ext := strings.ToLower(filepath.Ext(file.Filename))
		switch ext {
		case ".jpg", ".jpeg", ".png", ".pdf":
		default:
			return nil, fmt.Errorf("file type %s is not allowed", ext)
		}

		src, err := file.Open()
		if err != nil {
			return nil, fmt.Errorf("failed to open %s: %w", file.Filename, err)
		}

		buf := new(bytes.Buffer)
		if _, err := buf.ReadFrom(src); err != nil {
			src.Close()
			return nil, fmt.Errorf("failed to read %s: %w", file.Filename, err)
		}
		src.Close()

		fileID := uuid.New().String()
		objectName := fileID + ext
		contentType := file.Header.Get("Content-Type")

		_, err = h.minioClient.PutObject(ctx, reportsBucket, objectName,
			bytes.NewReader(buf.Bytes()), int64(buf.Len()),
			minio.PutObjectOptions{ContentType: contentType})
		if err != nil {
			h.logger.Error("failed to upload attachment",
				zap.String("file", file.Filename),
				zap.Error(err))
			return nil, fmt.Errorf("failed to store %s: %w", file.Filename, err)
		}

		attachment := models.Attachment{
			FileID:   fileID,
			FileName: file.Filename,
			FileType: contentType,
			URL:      fmt.Sprintf("/api/media/%s/%s", reportsBucket, objectName),
		}

		if ext != ".pdf" {
			if thumbName, err := h.uploadThumbnail(ctx, fileID, buf.Bytes()); err != nil {
				h.logger.Warn("thumbnail generation failed",
					zap.String("file", file.Filename),
					zap.Error(err))
			} else {
				attachment.ThumbnailURL = fmt.Sprintf("/api/media/%s/%s", reportsBucket, thumbName)
			}
		}

		attachments = append(attachments, attachment)
	}
	return attachments, nil
}

func (h *AppointmentHandler) uploadThumbnail(ctx context.Context, fileID string, data []byte) (string, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return "", err
	}

	thumb := resize.Resize(thumbnailWidth, 0, img, resize.Lanczos3)
	buf := new(bytes.Buffer)
	if err := jpeg.Encode(buf, thumb, &jpeg.Options{Quality: thumbnailJPEGQ}); err != nil {
		return "", err
	}

	thumbName := fileID + "_thumb.jpg"
	_, err = h.minioClient.PutObject(ctx, reportsBucket, thumbName,
		bytes.NewReader(buf.Bytes()), int64(buf.Len()),
		minio.PutObjectOptions{ContentType: "image/jpeg"})
	if err != nil {
		return "", err
	}
	return thumbName, nil
}

// GetBookedSlots returns the claimed slot labels for a doctor and date.
// The doctor may be addressed by id or by email.
func (h *AppointmentHandler) GetBookedSlots(c *fiber.Ctx) error {
	date := c.Query("date")
	doctorID := c.Query("doctorId")

	if doctorID == "" {
		doctorEmail := strings.ToLower(c.Query("doctorEmail"))
		if doctorEmail == "" {
			return fail(c, fiber.StatusBadRequest, "doctorId or doctorEmail is required", nil)
		}
		id, err := h.resolveDoctorID(c.Context(), doctorEmail)
		if err != nil {
			if errors.Is(err, mongo.ErrNoDocuments) {
				// Unknown doctor has no bookings
				return c.JSON(fiber.Map{"success": true, "bookedSlots": []string{}})
			}
			h.logger.Error("failed to resolve doctor", zap.String("email", doctorEmail), zap.Error(err))
			return fail(c, fiber.StatusInternalServerError, "Failed to fetch booked slots", err)
		}
		doctorID = id
	}

	slots, err := h.service.BookedSlots(c.Context(), doctorID, date)
	if err != nil {
		if errors.Is(err, booking.ErrValidation) {
			return fail(c, fiber.StatusBadRequest, "Invalid date", err)
		}
		h.logger.Error("failed to fetch booked slots",
			zap.String("doctor_id", doctorID),
			zap.String("date", date),
			zap.Error(err))
		return fail(c, fiber.StatusInternalServerError, "Failed to fetch booked slots", err)
	}

	return c.JSON(fiber.Map{
		"success":     true,
		"bookedSlots": slots,
	})
}

func (h *AppointmentHandler) resolveDoctorID(ctx context.Context, email string) (string, error) {
	var doctor models.Doctor
	err := h.mongoClient.Database(h.config.MongoDBName).
		Collection("doctors").
		FindOne(ctx, bson.M{"email": email}).
		Decode(&doctor)
	if err != nil {
		return "", err
	}
	return doctor.ID, nil
}

// UpdateAppointmentStatus transitions an appointment. Confirming returns the
// auto-cancelled conflicting appointments under affected.cancelled.
func (h *AppointmentHandler) UpdateAppointmentStatus(c *fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return fail(c, fiber.StatusBadRequest, "Appointment ID is required", nil)
	}

	var body struct {
		Status models.AppointmentStatus `json:"status"`
	}
	if err := c.BodyParser(&body); err != nil {
		return fail(c, fiber.StatusBadRequest, "Invalid request body", err)
	}

	change, err := h.service.SetStatus(c.Context(), id, body.Status)
	if err != nil {
		switch {
		case errors.Is(err, booking.ErrNotFound):
			return fail(c, fiber.StatusNotFound, "Appointment not found", err)
		case errors.Is(err, booking.ErrInvalidTransition):
			return fail(c, fiber.StatusUnprocessableEntity, "Status transition not allowed", err)
		case errors.Is(err, booking.ErrValidation):
			return fail(c, fiber.StatusBadRequest, "Invalid status", err)
		default:
			h.logger.Error("failed to update appointment status",
				zap.String("appointment_id", id),
				zap.Error(err))
			return fail(c, fiber.StatusInternalServerError, "Failed to update appointment", err)
		}
	}

	affected := booking.Contacts(change.Cancelled)

	eventType := notify.EventAppointmentConfirmed
	switch body.Status {
	case models.StatusCompleted:
		eventType = notify.EventAppointmentCompleted
	case models.StatusCancelled:
		eventType = notify.EventAppointmentCancelled
	}
	h.notifier.Broadcast(c.Context(), notify.AppointmentEvent(eventType, change.Appointment, affected))

	return c.JSON(fiber.Map{
		"success":     true,
		"message":     "Appointment status updated",
		"appointment": change.Appointment,
		"affected": fiber.Map{
			"cancelled": affected,
		},
	})
}

// CancelAppointment cancels an appointment. Repeat cancellations are no-ops.
func (h *AppointmentHandler) CancelAppointment(c *fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return fail(c, fiber.StatusBadRequest, "Appointment ID is required", nil)
	}

	var body struct {
		CancellationReason string `json:"cancellationReason"`
	}
	// Body is optional; a bare DELETE cancels with the default reason.
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&body); err != nil {
			return fail(c, fiber.StatusBadRequest, "Invalid request body", err)
		}
	}

	appt, err := h.service.Cancel(c.Context(), id, body.CancellationReason)
	if err != nil {
		switch {
		case errors.Is(err, booking.ErrNotFound):
			return fail(c, fiber.StatusNotFound, "Appointment not found", err)
		case errors.Is(err, booking.ErrInvalidTransition):
			return fail(c, fiber.StatusUnprocessableEntity, "Appointment can no longer be cancelled", err)
		default:
			h.logger.Error("failed to cancel appointment",
				zap.String("appointment_id", id),
				zap.Error(err))
			return fail(c, fiber.StatusInternalServerError, "Failed to cancel appointment", err)
		}
	}

	h.notifier.Broadcast(c.Context(), notify.AppointmentEvent(notify.EventAppointmentCancelled, appt, nil))

	return c.JSON(fiber.Map{
		"success":     true,
		"message":     "Appointment cancelled",
		"appointment": appt,
	})
}

// GetAppointment returns a single appointment by id.
func (h *AppointmentHandler) GetAppointment(c *fiber.Ctx) error {
	id := c.Params("id")
	appt, err := h.service.Get(c.Context(), id)
	if err != nil {
		if errors.Is(err, booking.ErrNotFound) {
			return fail(c, fiber.StatusNotFound, "Appointment not found", err)
		}
		h.logger.Error("failed to fetch appointment", zap.String("appointment_id", id), zap.Error(err))
		return fail(c, fiber.StatusInternalServerError, "Failed to fetch appointment", err)
	}
	return c.JSON(fiber.Map{
		"success":     true,
		"appointment": appt,
	})
}

// GetAppointmentsByPatient lists a patient's appointments.
func (h *AppointmentHandler) GetAppointmentsByPatient(c *fiber.Ctx) error {
	email := strings.ToLower(c.Params("email"))
	if email == "" {
		return fail(c, fiber.StatusBadRequest, "Patient email is required", nil)
	}
	f := h.parseListFilter(c)
	f.PatientEmail = email
	return h.listAppointments(c, f)
}

// GetAppointmentsByDoctor lists a doctor's appointments.
func (h *AppointmentHandler) GetAppointmentsByDoctor(c *fiber.Ctx) error {
	doctorID := c.Params("doctorId")
	if doctorID == "" {
		return fail(c, fiber.StatusBadRequest, "Doctor ID is required", nil)
	}
	f := h.parseListFilter(c)
	f.DoctorID = doctorID
	return h.listAppointments(c, f)
}

func (h *AppointmentHandler) parseListFilter(c *fiber.Ctx) booking.ListFilter {
	var f booking.ListFilter
	f.Status = models.AppointmentStatus(c.Query("status"))
	f.StartDate = c.Query("start_date")
	f.EndDate = c.Query("end_date")
	f.SortBy = c.Query("sort_by", "created_at")
	f.SortOrder = c.Query("sort_order", "desc")

	limit, err := strconv.ParseInt(c.Query("limit", "10"), 10, 64)
	if err != nil || limit < 1 {
		limit = 10
	}
	f.Limit = limit

	offset, err := strconv.ParseInt(c.Query("offset", "0"), 10, 64)
	if err != nil || offset < 0 {
		offset = 0
	}
	f.Offset = offset
	return f
}

func (h *AppointmentHandler) listAppointments(c *fiber.Ctx, f booking.ListFilter) error {
	appts, total, err := h.service.List(c.Context(), f)
	if err != nil {
		h.logger.Error("failed to list appointments", zap.Error(err))
		return fail(c, fiber.StatusInternalServerError, "Failed to fetch appointments", err)
	}
	if appts == nil {
		appts = []models.Appointment{}
	}
	return c.JSON(fiber.Map{
		"success":      true,
		"appointments": appts,
		"pagination": fiber.Map{
			"total":  total,
			"limit":  f.Limit,
			"offset": f.Offset,
		},
	})
}

// GetMedicalReport streams an uploaded attachment back to the client.
func (h *AppointmentHandler) GetMedicalReport(c *fiber.Ctx) error {
	filename := c.Params("filename")
	if filename == "" || strings.Contains(filename, "/") {
		return fail(c, fiber.StatusBadRequest, "Invalid filename", nil)
	}

	ctx, cancel := context.WithTimeout(c.Context(), uploadIOTimeout)
	defer cancel()

	obj, err := h.minioClient.GetObject(ctx, reportsBucket, filename, minio.GetObjectOptions{})
	if err != nil {
		h.logger.Error("failed to fetch attachment", zap.String("filename", filename), zap.Error(err))
		return fail(c, fiber.StatusInternalServerError, "Failed to fetch file", err)
	}

	stat, err := obj.Stat()
	if err != nil {
		return fail(c, fiber.StatusNotFound, "File not found", err)
	}

	c.Set("Content-Type", stat.ContentType)
	c.Set("Content-Length", strconv.FormatInt(stat.Size, 10))
	return c.SendStream(obj)
}
