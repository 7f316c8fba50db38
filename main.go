package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/carebridge/backend/booking"
	"github.com/carebridge/backend/cache"
	"github.com/carebridge/backend/config"
	"github.com/carebridge/backend/handlers"
	"github.com/carebridge/backend/middleware"
	"github.com/carebridge/backend/notify"
	"github.com/carebridge/backend/records"
	"github.com/carebridge/backend/utils"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/redis/go-redis/v9"
	"github.com/workos/workos-go/v4/pkg/usermanagement"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.uber.org/zap"
)

type App struct {
	Fiber       *fiber.App
	Postgres    *pgxpool.Pool
	Redis       *redis.Client
	Mongo       *mongo.Client
	MinioClient *minio.Client
	Ctx         context.Context
	Config      *config.Config
	Logger      *zap.Logger

	bookingSvc *booking.Service
	recordsSvc *records.Service
	notifier   *notify.Notifier
}

func NewApp() (*App, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %v", err)
	}

	ctx := context.Background()

	var logger *zap.Logger
	if cfg.IsDevelopment() {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %v", err)
	}

	if cfg.WorkOSApiKey != "" {
		usermanagement.SetAPIKey(cfg.WorkOSApiKey)
	}

	// Setup MongoDB connection with retry logic
	var mongoClient *mongo.Client
	maxRetries := 5
	for i := 0; i < maxRetries; i++ {
		mongoClient, err = mongo.Connect(options.Client().ApplyURI(cfg.MongoDBURL))
		if err == nil {
			pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err = mongoClient.Ping(pingCtx, nil)
			cancel()
			if err == nil {
				break
			}
			mongoClient.Disconnect(ctx)
		}
		logger.Warn("failed to connect to mongodb, retrying...",
			zap.Error(err),
			zap.Int("attempt", i+1))
		time.Sleep(time.Second * time.Duration(i+1))
	}
	if err != nil {
		return nil, fmt.Errorf("mongodb connection failed after %d attempts: %v", maxRetries, err)
	}

	// Setup PostgreSQL connection with retry logic. The directory is optional
	// in development; role lookups fall back to the patient default.
	var pgPool *pgxpool.Pool
	if cfg.PostgresURL != "" {
		poolConfig, err := pgxpool.ParseConfig(cfg.PostgresURL)
		if err != nil {
			return nil, fmt.Errorf("unable to parse pool config: %v", err)
		}
		poolConfig.MaxConns = 10
		poolConfig.MinConns = 2
		poolConfig.MaxConnLifetime = time.Hour
		poolConfig.MaxConnIdleTime = 30 * time.Minute

		for i := 0; i < maxRetries; i++ {
			pgPool, err = pgxpool.NewWithConfig(ctx, poolConfig)
			if err == nil {
				if err = pgPool.Ping(ctx); err == nil {
					break
				}
				pgPool.Close()
			}
			logger.Warn("failed to connect to postgres, retrying...",
				zap.Error(err),
				zap.Int("attempt", i+1))
			time.Sleep(time.Second * time.Duration(i+1))
		}
		if err != nil {
			return nil, fmt.Errorf("postgres connection failed after %d attempts: %v", maxRetries, err)
		}
	} else if cfg.IsProduction() {
		return nil, fmt.Errorf("POSTGRES_URL is required in production")
	} else {
		logger.Warn("no postgres URL configured, role lookups will default to patient")
	}

	// Setup Redis connection with retry logic
	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		redisOpt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("redis URL parsing failed: %v", err)
		}
		redisClient = redis.NewClient(redisOpt)
		for i := 0; i < maxRetries; i++ {
			_, err = redisClient.Ping(ctx).Result()
			if err == nil {
				break
			}
			logger.Warn("failed to connect to redis, retrying...",
				zap.Error(err),
				zap.Int("attempt", i+1))
			time.Sleep(time.Second * time.Duration(i+1))
		}
		if err != nil {
			return nil, fmt.Errorf("redis connection failed after %d attempts: %v", maxRetries, err)
		}
	} else if cfg.IsProduction() {
		return nil, fmt.Errorf("REDIS_URL is required in production")
	} else {
		logger.Warn("no redis URL configured, slot caching and event fan-out disabled")
	}

	// Setup MinIO connection with retry logic
	var minioClient *minio.Client
	for i := 0; i < maxRetries; i++ {
		minioClient, err = minio.New(cfg.MinioEndpoint, &minio.Options{
			Creds:  credentials.NewStaticV4(cfg.MinioAccessKey, cfg.MinioSecretKey, ""),
			Secure: cfg.IsProduction(),
			Region: cfg.MinioRegion,
		})
		if err != nil {
			logger.Warn("failed to create minio client, retrying...",
				zap.Error(err),
				zap.Int("attempt", i+1))
			time.Sleep(time.Second * time.Duration(i+1))
			continue
		}
		break
	}
	if err != nil {
		return nil, fmt.Errorf("minio connection failed after %d attempts: %v", maxRetries, err)
	}

	// Create required buckets
	requiredBuckets := []string{"medical-reports"}
	for _, bucket := range requiredBuckets {
		exists, err := minioClient.BucketExists(ctx, bucket)
		if err != nil {
			logger.Error("failed to check bucket existence",
				zap.String("bucket", bucket),
				zap.Error(err))
			continue
		}
		if exists {
			logger.Info("bucket verified", zap.String("bucket", bucket))
			continue
		}
		err = minioClient.MakeBucket(ctx, bucket, minio.MakeBucketOptions{Region: cfg.MinioRegion})
		if err != nil && !strings.Contains(err.Error(), "already exists") {
			logger.Error("failed to create bucket",
				zap.String("bucket", bucket),
				zap.Error(err))
		} else {
			logger.Info("bucket created", zap.String("bucket", bucket))
		}
	}

	// Fiber setup
	fiberApp := fiber.New(fiber.Config{
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			logger.Error("request error",
				zap.Error(err),
				zap.String("path", c.Path()),
				zap.Int("status", code))
			return c.Status(code).JSON(fiber.Map{
				"success": false,
				"message": "Request failed",
				"error":   err.Error(),
			})
		},
		ReadTimeout:  time.Second * 10,
		WriteTimeout: time.Second * 30,
		BodyLimit:    12 * 1024 * 1024,
	})

	fiberApp.Use(middleware.RecoveryMiddleware(logger))

	// CORS configuration
	fiberApp.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.AllowedOrigins,
		AllowMethods:     "GET,POST,HEAD,PUT,DELETE,PATCH,OPTIONS",
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization",
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// CSP configuration
	fiberApp.Use(func(c *fiber.Ctx) error {
		c.Set("Content-Security-Policy",
			"default-src 'self'; "+
				"connect-src 'self'; "+
				"script-src 'self' 'unsafe-inline'; "+
				"style-src 'self' 'unsafe-inline'")
		return c.Next()
	})

	// Request logging middleware
	fiberApp.Use(func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()
		duration := time.Since(start)

		logger.Info("request completed",
			zap.String("method", c.Method()),
			zap.String("path", c.Path()),
			zap.String("ip", c.IP()),
			zap.Duration("duration", duration),
			zap.Int("status", c.Response().StatusCode()),
		)
		return err
	})

	app := &App{
		Fiber:       fiberApp,
		Postgres:    pgPool,
		Redis:       redisClient,
		Mongo:       mongoClient,
		MinioClient: minioClient,
		Ctx:         ctx,
		Config:      cfg,
		Logger:      logger,
	}

	if err := app.setupServices(); err != nil {
		return nil, err
	}
	return app, nil
}

func (a *App) setupServices() error {
	bookingRepo := booking.NewMongoRepository(a.Mongo, a.Config.MongoDBName)
	recordRepo := records.NewMongoRecordRepository(a.Mongo, a.Config.MongoDBName)
	prescriptionRepo := records.NewMongoPrescriptionRepository(a.Mongo, a.Config.MongoDBName)

	indexCtx, cancel := context.WithTimeout(a.Ctx, 30*time.Second)
	defer cancel()
	if err := bookingRepo.EnsureIndexes(indexCtx); err != nil {
		return fmt.Errorf("failed to ensure appointment indexes: %v", err)
	}
	if err := recordRepo.EnsureIndexes(indexCtx); err != nil {
		return fmt.Errorf("failed to ensure medical record indexes: %v", err)
	}
	if err := prescriptionRepo.EnsureIndexes(indexCtx); err != nil {
		return fmt.Errorf("failed to ensure prescription indexes: %v", err)
	}
	if err := a.ensureDoctorIndexes(indexCtx); err != nil {
		return fmt.Errorf("failed to ensure doctor indexes: %v", err)
	}

	a.bookingSvc = booking.NewService(bookingRepo, utils.NewIDGenerator(), a.Logger)
	if a.Redis != nil {
		ttl := 30 * time.Second
		if secs, err := strconv.Atoi(a.Config.SlotCacheSeconds); err == nil && secs > 0 {
			ttl = time.Duration(secs) * time.Second
		}
		a.bookingSvc.SetSlotCache(cache.NewCache(a.Redis, "booking:"), ttl)
	}

	a.recordsSvc = records.NewService(recordRepo, prescriptionRepo, a.Logger)

	var pub notify.Publisher
	if a.Redis != nil {
		pub = notify.NewRedisPublisher(a.Redis)
	} else {
		pub = notify.NopPublisher{}
	}
	a.notifier = notify.NewNotifier(pub, a.Logger, a.Config.EventChannelPrefix)

	return nil
}

func (a *App) ensureDoctorIndexes(ctx context.Context) error {
	coll := a.Mongo.Database(a.Config.MongoDBName).Collection("doctors")
	_, err := coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "email", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	return err
}

func (a *App) setupRoutes() error {
	appointmentHandler := handlers.NewAppointmentHandler(a.Config, a.Logger, a.bookingSvc, a.notifier, a.Mongo, a.MinioClient)
	doctorHandler := handlers.NewDoctorHandler(a.Config, a.Logger, a.bookingSvc, a.notifier, a.Mongo, a.Postgres)
	recordsHandler := handlers.NewRecordsHandler(a.Logger, a.recordsSvc)
	vitalsHandler := handlers.NewVitalsHandler(a.Config, a.Logger, a.notifier, a.Mongo)
	authHandler := handlers.NewAuthHandler(a.Logger, a.Postgres)

	var authenticated fiber.Handler
	if a.Config.IdentityJWKSURL != "" {
		identity, err := middleware.NewIdentityMiddleware(middleware.IdentityConfig{
			Logger:   a.Logger,
			JWKSURL:  a.Config.IdentityJWKSURL,
			Issuer:   a.Config.ExpectedIssuer,
			Audience: a.Config.ExpectedAudience,
		})
		if err != nil {
			return fmt.Errorf("failed to initialize identity middleware: %v", err)
		}
		authenticated = identity.Handler()
	} else if a.Config.IsProduction() {
		return fmt.Errorf("IDENTITY_JWKS_URL is required in production")
	} else {
		a.Logger.Warn("no identity JWKS URL configured, requests are unauthenticated")
		authenticated = func(c *fiber.Ctx) error { return c.Next() }
	}

	a.Fiber.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	// Public discovery routes
	a.Fiber.Get("/api/doctors", doctorHandler.GetDoctors)
	a.Fiber.Get("/api/doctors/:id", doctorHandler.GetDoctor)
	a.Fiber.Get("/api/appointments/booked-slots", appointmentHandler.GetBookedSlots)

	api := a.Fiber.Group("/api", authenticated)

	api.Post("/auth/check-role", authHandler.CheckRole)

	appointments := api.Group("/appointments")
	appointments.Post("/create", appointmentHandler.CreateAppointment)
	appointments.Get("/user/:email", appointmentHandler.GetAppointmentsByPatient)
	appointments.Get("/doctor/:doctorId", appointmentHandler.GetAppointmentsByDoctor)
	appointments.Get("/:id", appointmentHandler.GetAppointment)
	appointments.Put("/:id/status", appointmentHandler.UpdateAppointmentStatus)
	appointments.Delete("/:id", appointmentHandler.CancelAppointment)

	recordsGroup := api.Group("/medical-records")
	recordsGroup.Post("/", recordsHandler.CreateMedicalRecord)
	recordsGroup.Get("/patient/:email", recordsHandler.GetRecordsByPatient)
	recordsGroup.Get("/doctor/:doctorId", recordsHandler.GetRecordsByDoctor)
	recordsGroup.Get("/:id", recordsHandler.GetMedicalRecord)
	recordsGroup.Put("/:id", recordsHandler.UpdateMedicalRecord)
	recordsGroup.Delete("/:id", recordsHandler.DeleteMedicalRecord)

	prescriptions := api.Group("/prescriptions")
	prescriptions.Post("/", recordsHandler.CreatePrescription)
	prescriptions.Get("/patient/:email", recordsHandler.GetPrescriptionsByPatient)
	prescriptions.Get("/:id", recordsHandler.GetPrescription)
	prescriptions.Put("/:id", recordsHandler.UpdatePrescription)
	prescriptions.Delete("/:id", recordsHandler.DeletePrescription)

	vitals := api.Group("/health-metrics")
	vitals.Post("/", vitalsHandler.CreateHealthMetric)
	vitals.Get("/patient/:email", vitalsHandler.GetHealthMetrics)

	alerts := api.Group("/emergency-alerts")
	alerts.Post("/", vitalsHandler.CreateEmergencyAlert)
	alerts.Get("/", vitalsHandler.GetEmergencyAlerts)
	alerts.Put("/:id/status", vitalsHandler.UpdateAlertStatus)

	doctors := api.Group("/doctors")
	doctors.Post("/", doctorHandler.CreateDoctor)
	doctors.Put("/:id", doctorHandler.UpdateDoctor)
	doctors.Delete("/:id", doctorHandler.DeleteDoctor)

	api.Get("/media/medical-reports/:filename", appointmentHandler.GetMedicalReport)

	return nil
}

func (a *App) Start() error {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	if err := a.setupRoutes(); err != nil {
		return fmt.Errorf("failed to setup routes: %v", err)
	}

	go func() {
		if err := a.Fiber.Listen(":" + a.Config.ServerPort); err != nil {
			a.Logger.Fatal("failed to start server",
				zap.Error(err),
				zap.String("port", a.Config.ServerPort))
		}
	}()

	a.Logger.Info("server started",
		zap.String("port", a.Config.ServerPort))

	<-sigChan
	a.Logger.Info("shutting down server...")

	if err := a.Fiber.Shutdown(); err != nil {
		a.Logger.Error("error during server shutdown",
			zap.Error(err))
	}
	if a.Postgres != nil {
		a.Postgres.Close()
	}
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			a.Logger.Error("error closing redis connection",
				zap.Error(err))
		}
	}
	if err := a.Mongo.Disconnect(a.Ctx); err != nil {
		a.Logger.Error("error closing mongodb connection",
			zap.Error(err))
	}
	if err := a.Logger.Sync(); err != nil {
		log.Printf("error syncing logger: %v", err)
	}

	return nil
}

func main() {
	app, err := NewApp()
	if err != nil {
		log.Fatalf("Failed to initialize application: %v", err)
	}

	if err := app.Start(); err != nil {
		log.Fatalf("Application error: %v", err)
	}
}
