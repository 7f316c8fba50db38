package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

type Config struct {
	PostgresURL string
	RedisURL    string
	MongoDBURL  string
	MongoDBName string

	ServerPort     string
	AllowedOrigins string
	Environment    string

	MinioAccessKey string
	MinioSecretKey string
	MinioEndpoint  string
	MinioRegion    string

	IdentityJWKSURL  string
	ExpectedIssuer   string
	ExpectedAudience string
	WorkOSApiKey     string
	WorkOSClientId   string

	EventChannelPrefix string
	SlotCacheSeconds   string
}

// getEnvWithDefault gets an environment variable with a default value
func getEnvWithDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func LoadConfig() (*Config, error) {
	// Load .env file if it exists
	godotenv.Load() // Ignore error since file might not exist in production

	// Get environment with default
	env := getEnvWithDefault("ENVIRONMENT", "development")
	env = strings.ToLower(env)

	// Validate environment value
	validEnvs := map[string]bool{
		"development": true,
		"staging":     true,
		"production":  true,
	}
	if !validEnvs[env] {
		return nil, fmt.Errorf("invalid environment value: %s", env)
	}

	mongoURL := os.Getenv("MONGODB_URL")
	if mongoURL == "" {
		return nil, fmt.Errorf("MONGODB_URL environment variable is required")
	}

	config := &Config{
		Environment: env,

		PostgresURL: os.Getenv("POSTGRES_URL"),
		RedisURL:    os.Getenv("REDIS_URL"),
		MongoDBURL:  mongoURL,
		MongoDBName: getEnvWithDefault("MONGODB_NAME", "carebridge"),

		ServerPort:     getEnvWithDefault("SERVER_PORT", "8080"),
		AllowedOrigins: getEnvWithDefault("ALLOWED_ORIGINS", "http://localhost:3000"),

		MinioAccessKey: os.Getenv("MINIO_ACCESS_KEY"),
		MinioSecretKey: os.Getenv("MINIO_SECRET_KEY"),
		MinioEndpoint:  os.Getenv("MINIO_ENDPOINT"),
		MinioRegion:    getEnvWithDefault("MINIO_REGION", "india-s-1"),

		IdentityJWKSURL:  os.Getenv("IDENTITY_JWKS_URL"),
		ExpectedIssuer:   os.Getenv("EXPECTED_ISSUER"),
		ExpectedAudience: os.Getenv("EXPECTED_AUDIENCE"),
		WorkOSApiKey:     os.Getenv("WORKOS_API_KEY"),
		WorkOSClientId:   os.Getenv("WORKOS_CLIENT_ID"),

		EventChannelPrefix: getEnvWithDefault("EVENT_CHANNEL_PREFIX", "events"),
		SlotCacheSeconds:   getEnvWithDefault("SLOT_CACHE_SECONDS", "30"),
	}

	return config, nil
}

// IsDevelopment returns whether the current environment is development
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// IsProduction returns whether the current environment is production
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// IsStaging returns whether the current environment is staging
func (c *Config) IsStaging() bool {
	return c.Environment == "staging"
}
