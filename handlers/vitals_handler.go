package handlers

import (
	"errors"
	"strings"
	"time"

	"github.com/carebridge/backend/config"
	"github.com/carebridge/backend/models"
	"github.com/carebridge/backend/notify"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.uber.org/zap"
)

// VitalsHandler stores patient health metrics and manages emergency alerts.
type VitalsHandler struct {
	config      *config.Config
	logger      *zap.Logger
	notifier    *notify.Notifier
	mongoClient *mongo.Client
	validator   *validator.Validate
}

func NewVitalsHandler(cfg *config.Config, logger *zap.Logger, notifier *notify.Notifier, mongoClient *mongo.Client) *VitalsHandler {
	return &VitalsHandler{
		config:      cfg,
		logger:      logger,
		notifier:    notifier,
		mongoClient: mongoClient,
		validator:   validator.New(),
	}
}

func (h *VitalsHandler) metrics() *mongo.Collection {
	return h.mongoClient.Database(h.config.MongoDBName).Collection("health_metrics")
}

func (h *VitalsHandler) alerts() *mongo.Collection {
	return h.mongoClient.Database(h.config.MongoDBName).Collection("emergency_alerts")
}

type createMetricRequest struct {
	PatientEmail string    `json:"patient_email" validate:"required,email"`
	MetricType   string    `json:"metric_type" validate:"required"`
	Value        float64   `json:"value" validate:"required"`
	Unit         string    `json:"unit"`
	Notes        string    `json:"notes"`
	RecordedAt   time.Time `json:"recorded_at"`
}

// CreateHealthMetric logs one vitals reading for a patient.
func (h *VitalsHandler) CreateHealthMetric(c *fiber.Ctx) error {
	var req createMetricRequest
	if err := c.BodyParser(&req); err != nil {
		return fail(c, fiber.StatusBadRequest, "Invalid health metric data", err)
	}
	if err := h.validator.Struct(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"message": "Validation failed",
			"error":   formatValidationErrors(err),
		})
	}

	if req.RecordedAt.IsZero() {
		req.RecordedAt = time.Now().UTC()
	}

	metric := models.HealthMetric{
		ID:           uuid.New().String(),
		PatientEmail: strings.ToLower(req.PatientEmail),
		MetricType:   req.MetricType,
		Value:        req.Value,
		Unit:         req.Unit,
		Notes:        req.Notes,
		RecordedAt:   req.RecordedAt,
		CreatedAt:    time.Now().UTC(),
	}

	if _, err := h.metrics().InsertOne(c.Context(), metric); err != nil {
		h.logger.Error("failed to store health metric", zap.Error(err))
		return fail(c, fiber.StatusInternalServerError, "Failed to store health metric", err)
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"success": true,
		"message": "Health metric recorded",
		"metric":  metric,
	})
}

// GetHealthMetrics lists a patient's readings, newest first, optionally
// filtered by metric type.
func (h *VitalsHandler) GetHealthMetrics(c *fiber.Ctx) error {
	email := strings.ToLower(c.Params("email"))
	if email == "" {
		return fail(c, fiber.StatusBadRequest, "Patient email is required", nil)
	}

	filter := bson.M{"patient_email": email}
	if mt := c.Query("metric_type"); mt != "" {
		filter["metric_type"] = mt
	}

	cursor, err := h.metrics().Find(c.Context(), filter,
		options.Find().SetSort(bson.D{{Key: "recorded_at", Value: -1}}).SetLimit(200))
	if err != nil {
		h.logger.Error("failed to fetch health metrics", zap.Error(err))
		return fail(c, fiber.StatusInternalServerError, "Failed to fetch health metrics", err)
	}
	defer cursor.Close(c.Context())

	metrics := []models.HealthMetric{}
	if err := cursor.All(c.Context(), &metrics); err != nil {
		h.logger.Error("failed to decode health metrics", zap.Error(err))
		return fail(c, fiber.StatusInternalServerError, "Failed to fetch health metrics", err)
	}

	return c.JSON(fiber.Map{
		"success": true,
		"metrics": metrics,
	})
}

type createAlertRequest struct {
	PatientName  string `json:"patient_name" validate:"required"`
	PatientEmail string `json:"patient_email" validate:"required,email"`
	PatientPhone string `json:"patient_phone"`
	Message      string `json:"message" validate:"required"`
	Location     string `json:"location"`
	Severity     string `json:"severity" validate:"omitempty,oneof=low medium high critical"`
}

// CreateEmergencyAlert raises an alert and broadcasts it to doctor dashboards.
func (h *VitalsHandler) CreateEmergencyAlert(c *fiber.Ctx) error {
	var req createAlertRequest
	if err := c.BodyParser(&req); err != nil {
		return fail(c, fiber.StatusBadRequest, "Invalid alert data", err)
	}
	if err := h.validator.Struct(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"message": "Validation failed",
			"error":   formatValidationErrors(err),
		})
	}

	now := time.Now().UTC()
	alert := models.EmergencyAlert{
		ID:           uuid.New().String(),
		PatientName:  req.PatientName,
		PatientEmail: strings.ToLower(req.PatientEmail),
		PatientPhone: req.PatientPhone,
		Message:      req.Message,
		Location:     req.Location,
		Severity:     req.Severity,
		Status:       models.AlertActive,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if _, err := h.alerts().InsertOne(c.Context(), alert); err != nil {
		h.logger.Error("failed to store emergency alert", zap.Error(err))
		return fail(c, fiber.StatusInternalServerError, "Failed to raise alert", err)
	}

	h.notifier.BroadcastAlert(c.Context(), &alert)

	h.logger.Warn("emergency alert raised",
		zap.String("alert_id", alert.ID),
		zap.String("patient_email", alert.PatientEmail),
		zap.String("severity", alert.Severity))

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"success": true,
		"message": "Emergency alert raised",
		"alert":   alert,
	})
}

// GetEmergencyAlerts lists alerts, newest first, optionally filtered by
// status.
func (h *VitalsHandler) GetEmergencyAlerts(c *fiber.Ctx) error {
	filter := bson.M{}
	if status := c.Query("status"); status != "" {
		switch models.AlertStatus(status) {
		case models.AlertActive, models.AlertAcknowledged, models.AlertResolved:
			filter["status"] = status
		default:
			return fail(c, fiber.StatusBadRequest, "Unknown alert status", nil)
		}
	}

	cursor, err := h.alerts().Find(c.Context(), filter,
		options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}}).SetLimit(100))
	if err != nil {
		h.logger.Error("failed to fetch alerts", zap.Error(err))
		return fail(c, fiber.StatusInternalServerError, "Failed to fetch alerts", err)
	}
	defer cursor.Close(c.Context())

	alerts := []models.EmergencyAlert{}
	if err := cursor.All(c.Context(), &alerts); err != nil {
		h.logger.Error("failed to decode alerts", zap.Error(err))
		return fail(c, fiber.StatusInternalServerError, "Failed to fetch alerts", err)
	}

	return c.JSON(fiber.Map{
		"success": true,
		"alerts":  alerts,
	})
}

// alertTransitionAllowed enforces active -> acknowledged -> resolved. An
// active alert may also be resolved directly.
func alertTransitionAllowed(from, to models.AlertStatus) bool {
	switch from {
	case models.AlertActive:
		return to == models.AlertAcknowledged || to == models.AlertResolved
	case models.AlertAcknowledged:
		return to == models.AlertResolved
	}
	return false
}

// UpdateAlertStatus moves an alert through its lifecycle. The acknowledging
// doctor's identity is taken from the verified token, never the body.
func (h *VitalsHandler) UpdateAlertStatus(c *fiber.Ctx) error {
	id := c.Params("id")

	var body struct {
		Status models.AlertStatus `json:"status"`
	}
	if err := c.BodyParser(&body); err != nil {
		return fail(c, fiber.StatusBadRequest, "Invalid request body", err)
	}
	switch body.Status {
	case models.AlertAcknowledged, models.AlertResolved:
	default:
		return fail(c, fiber.StatusBadRequest, "Status must be acknowledged or resolved", nil)
	}

	var alert models.EmergencyAlert
	if err := h.alerts().FindOne(c.Context(), bson.M{"_id": id}).Decode(&alert); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return fail(c, fiber.StatusNotFound, "Alert not found", err)
		}
		h.logger.Error("failed to fetch alert", zap.String("alert_id", id), zap.Error(err))
		return fail(c, fiber.StatusInternalServerError, "Failed to update alert", err)
	}

	if alert.Status == body.Status {
		return c.JSON(fiber.Map{
			"success": true,
			"message": "Alert already in requested state",
			"alert":   alert,
		})
	}
	if !alertTransitionAllowed(alert.Status, body.Status) {
		return fail(c, fiber.StatusUnprocessableEntity, "Alert status transition not allowed", nil)
	}

	set := bson.M{
		"status":     body.Status,
		"updated_at": time.Now().UTC(),
	}
	if body.Status == models.AlertAcknowledged {
		if authID, err := getAuthID(c); err == nil {
			set["acknowledged_by"] = authID
		}
	}

	err := h.alerts().FindOneAndUpdate(c.Context(),
		bson.M{"_id": id},
		bson.M{"$set": set},
		options.FindOneAndUpdate().SetReturnDocument(options.After)).
		Decode(&alert)
	if err != nil {
		h.logger.Error("failed to update alert", zap.String("alert_id", id), zap.Error(err))
		return fail(c, fiber.StatusInternalServerError, "Failed to update alert", err)
	}

	return c.JSON(fiber.Map{
		"success": true,
		"message": "Alert status updated",
		"alert":   alert,
	})
}
