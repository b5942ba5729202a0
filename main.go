package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"listening-raid-system/handlers"
	"listening-raid-system/middleware"
	"listening-raid-system/models"
	"listening-raid-system/services"
	"listening-raid-system/storage"
	"listening-raid-system/utils"
	"listening-raid-system/workers"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/joho/godotenv"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("⚠️  No .env file found, reading environment variables directly")
	}

	app := fiber.New(fiber.Config{})

	// 🔐 GLOBAL: Only Gateway requests allowed — no exceptions
	app.Use(middleware.GatewayAuthMiddleware())

	allowedOrigins := os.Getenv("ALLOWED_ORIGINS")
	if allowedOrigins == "" {
		log.Println("⚠️  ALLOWED_ORIGINS environment variable not set, using default: http://localhost:3000")
		allowedOrigins = "http://localhost:3000"
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOrigins,
		AllowMethods:     "GET,POST,DELETE,OPTIONS",
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, X-Request-ID, X-User-ID, X-User-Role",
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		log.Fatal("DATABASE_URL environment variable not set")
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		log.Fatal("failed to connect to database:", err)
	}

	if err := db.AutoMigrate(
		&models.Raid{},
		&models.RaidParticipant{},
		&models.PlatformCredential{},
	); err != nil {
		log.Fatal("failed to migrate database:", err)
	}

	var reportUploader services.ReportUploader
	if os.Getenv("R2_BUCKET_NAME") != "" {
		if err := utils.InitR2(); err != nil {
			log.Fatal("failed to initialize R2 client:", err)
		}
		reportUploader = utils.UploadReportToR2
	} else {
		log.Println("⚠️  R2_BUCKET_NAME not set — completion report uploads disabled")
	}

	notifierURL := os.Getenv("NOTIFIER_SERVICE_URL")
	if notifierURL == "" {
		log.Fatal("NOTIFIER_SERVICE_URL environment variable not set")
	}
	escrowURL := os.Getenv("ESCROW_SERVICE_URL")
	if escrowURL == "" {
		log.Fatal("ESCROW_SERVICE_URL environment variable not set")
	}
	serviceToken := os.Getenv("RAID_SERVICE_TOKEN")

	store := storage.NewGormStore(db)
	registry := services.NewSessionRegistry()

	spotifyAccess := services.NewCredentialAccessProvider(store, models.PlatformSpotify)
	appleAccess := services.NewCredentialAccessProvider(store, models.PlatformAppleMusic)
	verifiers := map[models.Platform]services.PlaybackVerifier{
		models.PlatformSpotify:    services.NewSpotifyVerifier(spotifyAccess),
		models.PlatformAppleMusic: services.NewAppleMusicVerifier(appleAccess),
	}
	access := map[models.Platform]*services.CredentialAccessProvider{
		models.PlatformSpotify:    spotifyAccess,
		models.PlatformAppleMusic: appleAccess,
	}

	notifier := services.NewNotificationDispatcher(services.NewNotifierClient(notifierURL, serviceToken), store)
	completion := services.NewCompletionDetector(store, store, registry, notifier, reportUploader)
	tracker := services.NewTracker(registry, store, verifiers, completion, notifier)
	claimService := services.NewClaimService(store, store, services.NewEscrowClient(escrowURL, serviceToken), registry)
	raidService := services.NewRaidService(store, store, registry, access)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Resume sessions that were mid-stretch when the previous process
	// stopped, before the first poll tick.
	raidService.Rehydrate(ctx)

	poller := workers.NewSessionPoller(registry, tracker, pollInterval(), maxInFlight())
	go poller.Run(ctx)

	sched, err := services.StartMaintenanceScheduler(ctx, completion, claimService)
	if err != nil {
		log.Fatal("failed to start maintenance scheduler:", err)
	}
	defer func() { _ = sched.Shutdown() }()

	handlers.SetupRaidRoutes(app, raidService, claimService)

	go func() {
		if err := app.Listen(":5300"); err != nil {
			log.Printf("Server error: %v", err)
		}
	}()

	log.Println("✅ Server running on http://localhost:5300")
	log.Printf("✅ Session poller running (every %s)", pollInterval())
	log.Println("✅ GatewayAuthMiddleware enforced globally — all requests must come from Gateway")
	log.Printf("✅ CORS configured for origins: %s", strings.TrimSpace(allowedOrigins))

	<-ctx.Done()
	log.Println("Shutting down server...")
}

func pollInterval() time.Duration {
	if raw := os.Getenv("POLL_INTERVAL_SECONDS"); raw != "" {
		if secs, err := strconv.Atoi(raw); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return 10 * time.Second
}

func maxInFlight() int {
	if raw := os.Getenv("POLL_MAX_IN_FLIGHT"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			return n
		}
	}
	return 8
}
