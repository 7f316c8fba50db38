package middleware

import (
	"fmt"
	"strings"
	"time"

	"github.com/MicahParks/keyfunc/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

// IdentityMiddleware verifies tokens issued by the external identity
// provider against its JWKS and injects the verified identity into request
// Locals. Role claims supplied by clients are never trusted; role lookups
// happen server-side against the identity directory.
type IdentityMiddleware struct {
	logger   *zap.Logger
	jwks     *keyfunc.JWKS
	issuer   string
	audience string
}

type IdentityConfig struct {
	Logger   *zap.Logger
	JWKSURL  string
	Issuer   string
	Audience string
}

func NewIdentityMiddleware(cfg IdentityConfig) (*IdentityMiddleware, error) {
	if cfg.JWKSURL == "" {
		return nil, fmt.Errorf("identity JWKS URL is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	jwks, err := keyfunc.Get(cfg.JWKSURL, keyfunc.Options{
		RefreshInterval:   time.Hour,
		RefreshRateLimit:  time.Minute * 5,
		RefreshTimeout:    time.Second * 10,
		RefreshUnknownKID: true,
		RefreshErrorHandler: func(err error) {
			logger.Warn("jwks refresh failed", zap.Error(err))
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load identity provider JWKS: %w", err)
	}

	return &IdentityMiddleware{
		logger:   logger,
		jwks:     jwks,
		issuer:   cfg.Issuer,
		audience: cfg.Audience,
	}, nil
}

func (m *IdentityMiddleware) Handler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		auth := c.Get("Authorization")
		if auth == "" || !strings.HasPrefix(auth, "Bearer ") {
			m.logger.Debug("no bearer token",
				zap.String("path", c.Path()))
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"success": false,
				"message": "Authentication required",
				"error":   "missing bearer token",
			})
		}
		tokenString := strings.TrimPrefix(auth, "Bearer ")

		opts := []jwt.ParserOption{jwt.WithValidMethods([]string{"RS256", "ES256"})}
		if m.issuer != "" {
			opts = append(opts, jwt.WithIssuer(m.issuer))
		}
		if m.audience != "" {
			opts = append(opts, jwt.WithAudience(m.audience))
		}

		token, err := jwt.Parse(tokenString, m.jwks.Keyfunc, opts...)
		if err != nil || !token.Valid {
			m.logger.Debug("token verification failed",
				zap.String("path", c.Path()),
				zap.Error(err))
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"success": false,
				"message": "Invalid or expired token",
				"error":   "token verification failed",
			})
		}

		claims, ok := token.Claims.(jwt.MapClaims)
		if !ok {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"success": false,
				"message": "Invalid token claims",
				"error":   "unexpected claims type",
			})
		}

		sub, _ := claims["sub"].(string)
		email, _ := claims["email"].(string)
		if sub == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"success": false,
				"message": "Invalid token claims",
				"error":   "missing subject",
			})
		}

		c.Locals("authID", sub)
		c.Locals("email", strings.ToLower(email))

		return c.Next()
	}
}
