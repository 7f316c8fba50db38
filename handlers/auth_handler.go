package handlers

import (
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// AuthHandler answers role lookups against the identity directory.
// Authentication itself is delegated to the external identity provider; this
// backend only maps verified identities to roles.
type AuthHandler struct {
	logger    *zap.Logger
	pgPool    *pgxpool.Pool
	validator *validator.Validate
}

func NewAuthHandler(logger *zap.Logger, pgPool *pgxpool.Pool) *AuthHandler {
	return &AuthHandler{
		logger:    logger,
		pgPool:    pgPool,
		validator: validator.New(),
	}
}

type checkRoleRequest struct {
	Email string `json:"email" validate:"required,email"`
}

// CheckRole resolves a verified user's role. Anyone not listed in the
// directory is a patient.
func (h *AuthHandler) CheckRole(c *fiber.Ctx) error {
	var req checkRoleRequest
	if err := c.BodyParser(&req); err != nil {
		return fail(c, fiber.StatusBadRequest, "Invalid request body", err)
	}
	if err := h.validator.Struct(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"message": "Validation failed",
			"error":   formatValidationErrors(err),
		})
	}

	email := strings.ToLower(req.Email)

	// The token email is the only identity a caller may ask about.
	if tokenEmail, ok := c.Locals("email").(string); ok && tokenEmail != "" && tokenEmail != email {
		return fail(c, fiber.StatusForbidden, "Cannot query another user's role", nil)
	}

	role := "patient"
	if h.pgPool != nil {
		err := h.pgPool.QueryRow(c.Context(),
			`SELECT role FROM users WHERE email = $1`, email).Scan(&role)
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			h.logger.Error("role lookup failed", zap.String("email", email), zap.Error(err))
			return fail(c, fiber.StatusInternalServerError, "Failed to resolve role", err)
		}
	}

	return c.JSON(fiber.Map{
		"success": true,
		"email":   email,
		"role":    role,
	})
}
