package handlers

import (
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
)

// fail writes the standard failure envelope: { success, message, error }.
func fail(c *fiber.Ctx, status int, message string, err error) error {
	detail := message
	if err != nil {
		detail = err.Error()
	}
	return c.Status(status).JSON(fiber.Map{
		"success": false,
		"message": message,
		"error":   detail,
	})
}

// formatValidationErrors flattens validator errors into readable strings.
func formatValidationErrors(err error) []string {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return []string{err.Error()}
	}
	out := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		out = append(out, fmt.Sprintf("%s failed on %s", fe.Field(), fe.Tag()))
	}
	return out
}

// getAuthID extracts the verified identity injected by the identity
// middleware.
func getAuthID(c *fiber.Ctx) (string, error) {
	authID, ok := c.Locals("authID").(string)
	if !ok || authID == "" {
		return "", fmt.Errorf("auth ID not found in context")
	}
	return authID, nil
}
