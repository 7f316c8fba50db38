package handlers

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/carebridge/backend/booking"
	"github.com/carebridge/backend/config"
	"github.com/carebridge/backend/models"
	"github.com/carebridge/backend/notify"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/workos/workos-go/v4/pkg/usermanagement"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.uber.org/zap"
)

// DoctorHandler manages doctor accounts. Creation provisions an identity
// provider account and records the doctor role in the identity directory;
// deactivation cancels the doctor's upcoming appointments.
type DoctorHandler struct {
	config      *config.Config
	logger      *zap.Logger
	booking     *booking.Service
	notifier    *notify.Notifier
	mongoClient *mongo.Client
	pgPool      *pgxpool.Pool
	validator   *validator.Validate
}

func NewDoctorHandler(cfg *config.Config, logger *zap.Logger, bookingSvc *booking.Service, notifier *notify.Notifier, mongoClient *mongo.Client, pgPool *pgxpool.Pool) *DoctorHandler {
	return &DoctorHandler{
		config:      cfg,
		logger:      logger,
		booking:     bookingSvc,
		notifier:    notifier,
		mongoClient: mongoClient,
		pgPool:      pgPool,
		validator:   validator.New(),
	}
}

func (h *DoctorHandler) doctors() *mongo.Collection {
	return h.mongoClient.Database(h.config.MongoDBName).Collection("doctors")
}

type createDoctorRequest struct {
	Name            string `json:"name" validate:"required"`
	Email           string `json:"email" validate:"required,email"`
	Specialization  string `json:"specialization" validate:"required"`
	Degree          string `json:"degree"`
	ExperienceYears int    `json:"experience_years" validate:"omitempty,min=0,max=70"`
	LicenseNumber   string `json:"license_number"`
	ConsultationFee int    `json:"consultation_fee" validate:"omitempty,min=0"`
	Availability    string `json:"availability"`
}

// CreateDoctor registers a doctor account. The email is unique; a duplicate
// registration returns 409.
func (h *DoctorHandler) CreateDoctor(c *fiber.Ctx) error {
	var req createDoctorRequest
	if err := c.BodyParser(&req); err != nil {
		return fail(c, fiber.StatusBadRequest, "Invalid doctor data", err)
	}
	if err := h.validator.Struct(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"message": "Validation failed",
			"error":   formatValidationErrors(err),
		})
	}

	now := time.Now().UTC()
	doctor := models.Doctor{
		ID:              uuid.New().String(),
		Name:            req.Name,
		Email:           strings.ToLower(req.Email),
		Specialization:  req.Specialization,
		Degree:          req.Degree,
		ExperienceYears: req.ExperienceYears,
		LicenseNumber:   req.LicenseNumber,
		ConsultationFee: req.ConsultationFee,
		Availability:    req.Availability,
		IsActive:        true,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if _, err := h.doctors().InsertOne(c.Context(), doctor); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fail(c, fiber.StatusConflict, "A doctor with this email already exists", err)
		}
		h.logger.Error("failed to create doctor", zap.Error(err))
		return fail(c, fiber.StatusInternalServerError, "Failed to create doctor", err)
	}

	h.provisionIdentity(c.Context(), &doctor)

	h.logger.Info("doctor created",
		zap.String("doctor_id", doctor.ID),
		zap.String("email", doctor.Email))

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"success": true,
		"message": "Doctor created successfully",
		"doctor":  doctor,
	})
}

// provisionIdentity creates the IdP account and records the doctor role in
// the directory. Both are retryable out of band, so failures are logged and
// never fail the registration.
func (h *DoctorHandler) provisionIdentity(ctx context.Context, doctor *models.Doctor) {
	if h.config.WorkOSApiKey != "" {
		first, last := splitName(doctor.Name)
		_, err := usermanagement.CreateUser(ctx, usermanagement.CreateUserOpts{
			Email:         doctor.Email,
			FirstName:     first,
			LastName:      last,
			EmailVerified: false,
		})
		if err != nil {
			h.logger.Warn("identity provider account creation failed",
				zap.String("email", doctor.Email),
				zap.Error(err))
		}
	}

	if h.pgPool != nil {
		_, err := h.pgPool.Exec(ctx,
			`INSERT INTO users (auth_id, email, role)
			 VALUES ($1, $2, 'doctor')
			 ON CONFLICT (email) DO UPDATE SET role = EXCLUDED.role`,
			doctor.ID, doctor.Email)
		if err != nil {
			h.logger.Warn("failed to record doctor role",
				zap.String("email", doctor.Email),
				zap.Error(err))
		}
	}
}

func splitName(full string) (string, string) {
	parts := strings.Fields(full)
	if len(parts) == 0 {
		return "", ""
	}
	if len(parts) == 1 {
		return parts[0], ""
	}
	return parts[0], strings.Join(parts[1:], " ")
}

// GetDoctors lists doctors, optionally filtered by specialization and active
// state. Patients use this to pick a doctor, so it defaults to active only.
func (h *DoctorHandler) GetDoctors(c *fiber.Ctx) error {
	filter := bson.M{}
	if spec := c.Query("specialization"); spec != "" {
		filter["specialization"] = spec
	}
	switch c.Query("active", "true") {
	case "true":
		filter["is_active"] = true
	case "false":
		filter["is_active"] = false
	case "all":
	default:
		return fail(c, fiber.StatusBadRequest, "active must be true, false or all", nil)
	}

	cursor, err := h.doctors().Find(c.Context(), filter,
		options.Find().SetSort(bson.D{{Key: "name", Value: 1}}))
	if err != nil {
		h.logger.Error("failed to list doctors", zap.Error(err))
		return fail(c, fiber.StatusInternalServerError, "Failed to fetch doctors", err)
	}
	defer cursor.Close(c.Context())

	doctors := []models.Doctor{}
	if err := cursor.All(c.Context(), &doctors); err != nil {
		h.logger.Error("failed to decode doctors", zap.Error(err))
		return fail(c, fiber.StatusInternalServerError, "Failed to fetch doctors", err)
	}

	return c.JSON(fiber.Map{
		"success": true,
		"doctors": doctors,
	})
}

// GetDoctor returns a single doctor by id.
func (h *DoctorHandler) GetDoctor(c *fiber.Ctx) error {
	id := c.Params("id")
	var doctor models.Doctor
	err := h.doctors().FindOne(c.Context(), bson.M{"_id": id}).Decode(&doctor)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return fail(c, fiber.StatusNotFound, "Doctor not found", err)
		}
		h.logger.Error("failed to fetch doctor", zap.String("doctor_id", id), zap.Error(err))
		return fail(c, fiber.StatusInternalServerError, "Failed to fetch doctor", err)
	}
	return c.JSON(fiber.Map{
		"success": true,
		"doctor":  doctor,
	})
}

type updateDoctorRequest struct {
	Name            *string `json:"name"`
	Specialization  *string `json:"specialization"`
	Degree          *string `json:"degree"`
	ExperienceYears *int    `json:"experience_years"`
	LicenseNumber   *string `json:"license_number"`
	ConsultationFee *int    `json:"consultation_fee"`
	Availability    *string `json:"availability"`
	IsActive        *bool   `json:"is_active"`
}

// UpdateDoctor patches a doctor's profile. Setting is_active to false cancels
// every upcoming appointment the doctor holds and reports the affected
// patients.
func (h *DoctorHandler) UpdateDoctor(c *fiber.Ctx) error {
	id := c.Params("id")

	var req updateDoctorRequest
	if err := c.BodyParser(&req); err != nil {
		return fail(c, fiber.StatusBadRequest, "Invalid doctor data", err)
	}

	set := bson.M{"updated_at": time.Now().UTC()}
	if req.Name != nil {
		set["name"] = *req.Name
	}
	if req.Specialization != nil {
		set["specialization"] = *req.Specialization
	}
	if req.Degree != nil {
		set["degree"] = *req.Degree
	}
	if req.ExperienceYears != nil {
		set["experience_years"] = *req.ExperienceYears
	}
	if req.LicenseNumber != nil {
		set["license_number"] = *req.LicenseNumber
	}
	if req.ConsultationFee != nil {
		set["consultation_fee"] = *req.ConsultationFee
	}
	if req.Availability != nil {
		set["availability"] = *req.Availability
	}
	if req.IsActive != nil {
		set["is_active"] = *req.IsActive
	}

	var doctor models.Doctor
	err := h.doctors().FindOneAndUpdate(c.Context(),
		bson.M{"_id": id},
		bson.M{"$set": set},
		options.FindOneAndUpdate().SetReturnDocument(options.After)).
		Decode(&doctor)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return fail(c, fiber.StatusNotFound, "Doctor not found", err)
		}
		h.logger.Error("failed to update doctor", zap.String("doctor_id", id), zap.Error(err))
		return fail(c, fiber.StatusInternalServerError, "Failed to update doctor", err)
	}

	affected := []models.PatientContact{}
	if req.IsActive != nil && !*req.IsActive {
		affected = h.cancelUpcoming(c.Context(), id)
	}

	return c.JSON(fiber.Map{
		"success": true,
		"message": "Doctor updated successfully",
		"doctor":  doctor,
		"affected": fiber.Map{
			"cancelled": affected,
		},
	})
}

// DeleteDoctor removes a doctor account after cancelling their upcoming
// appointments.
func (h *DoctorHandler) DeleteDoctor(c *fiber.Ctx) error {
	id := c.Params("id")

	var doctor models.Doctor
	err := h.doctors().FindOne(c.Context(), bson.M{"_id": id}).Decode(&doctor)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return fail(c, fiber.StatusNotFound, "Doctor not found", err)
		}
		h.logger.Error("failed to fetch doctor", zap.String("doctor_id", id), zap.Error(err))
		return fail(c, fiber.StatusInternalServerError, "Failed to delete doctor", err)
	}

	affected := h.cancelUpcoming(c.Context(), id)

	if _, err := h.doctors().DeleteOne(c.Context(), bson.M{"_id": id}); err != nil {
		h.logger.Error("failed to delete doctor", zap.String("doctor_id", id), zap.Error(err))
		return fail(c, fiber.StatusInternalServerError, "Failed to delete doctor", err)
	}

	if h.pgPool != nil {
		if _, err := h.pgPool.Exec(c.Context(),
			`DELETE FROM users WHERE email = $1 AND role = 'doctor'`, doctor.Email); err != nil {
			h.logger.Warn("failed to remove doctor role",
				zap.String("email", doctor.Email),
				zap.Error(err))
		}
	}

	h.logger.Info("doctor deleted",
		zap.String("doctor_id", id),
		zap.Int("cancelled_appointments", len(affected)))

	return c.JSON(fiber.Map{
		"success": true,
		"message": "Doctor deleted successfully",
		"affected": fiber.Map{
			"cancelled": affected,
		},
	})
}

func (h *DoctorHandler) cancelUpcoming(ctx context.Context, doctorID string) []models.PatientContact {
	cancelled, err := h.booking.CancelUpcomingForDoctor(ctx, doctorID, "")
	if err != nil {
		h.logger.Error("failed to cancel upcoming appointments",
			zap.String("doctor_id", doctorID),
			zap.Error(err))
		return []models.PatientContact{}
	}

	for i := range cancelled {
		h.notifier.Broadcast(ctx, notify.AppointmentEvent(notify.EventAppointmentCancelled, &cancelled[i], nil))
	}

	if len(cancelled) > 0 {
		h.logger.Info("cancelled upcoming appointments for doctor",
			zap.String("doctor_id", doctorID),
			zap.Int("count", len(cancelled)))
	}
	return booking.Contacts(cancelled)
}
