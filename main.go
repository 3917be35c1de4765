package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"sphere-health-server/internal/auth"
	"sphere-health-server/internal/config"
	"sphere-health-server/internal/fieldcrypt"
	"sphere-health-server/internal/integrity"
	"sphere-health-server/internal/jobs"
	"sphere-health-server/internal/logger"
	"sphere-health-server/internal/mailer"
	"sphere-health-server/internal/models"
	"sphere-health-server/internal/otp"
	"sphere-health-server/internal/records"
	"sphere-health-server/internal/routes"
	"sphere-health-server/internal/users"
)

const shutdownTimeout = 10 * time.Second

func main() {
	// a missing .env is fine, the environment may already be set
	envErr := godotenv.Load()

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(cfg.Log)
	if envErr != nil {
		log.Warn().Err(envErr).Msg("no .env file loaded")
	}

	if err := run(cfg, log); err != nil {
		log.Fatal().Err(err).Msg("server stopped")
	}
}

func run(cfg *config.Config, log zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := models.InitDB(cfg.Database)
	if err != nil {
		return err
	}

	keyring, err := fieldcrypt.LoadKeyring(ctx, cfg.Keys, log)
	if err != nil {
		return fmt.Errorf("failed to load encryption keys: %w", err)
	}
	engine, err := keyring.Engine(fieldcrypt.DefaultPolicy())
	if err != nil {
		return err
	}
	keys, err := integrity.NewKeys(cfg.IntegritySecret)
	if err != nil {
		return err
	}

	store, err := challengeStore(ctx, cfg, db)
	if err != nil {
		return err
	}
	mail, err := mailer.New(cfg.Mailer, log)
	if err != nil {
		return err
	}

	dir := users.NewDirectory(db, engine, keys.Indexer, log)
	codes := otp.NewChannel(store, mail, dir, time.Duration(cfg.OTP.TTLMinutes)*time.Minute, log)
	authSvc := auth.NewService(dir, codes, cfg, log)
	recordSvc := records.NewService(db, engine, keys.Verifier, dir, log)

	scheduler, err := jobs.Start(log, cfg.OTP.CleanupSchedule, codes)
	if err != nil {
		return err
	}

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery(), logger.Middleware(log))

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = []string{cfg.Origin}
	corsConfig.AllowCredentials = true
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Accept", "Authorization", logger.RequestIDHeader}
	corsConfig.ExposeHeaders = []string{logger.RequestIDHeader}
	router.Use(cors.New(corsConfig))
	router.Use(gzip.Gzip(gzip.DefaultCompression))

	routes.SetupRoutes(router, routes.Dependencies{
		DB:      db,
		Auth:    authSvc,
		Users:   dir,
		Records: recordSvc,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("port", cfg.Port).Str("env", cfg.Environment).Msg("server running")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("failed to start server: %w", err)
		}
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("failed to drain connections")
	}
	<-scheduler.Stop().Done()
	codes.Wait()

	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
	return nil
}

// challengeStore picks where pending one-time codes live.
func challengeStore(ctx context.Context, cfg *config.Config, db *gorm.DB) (otp.Store, error) {
	if cfg.OTP.Store != "redis" {
		return otp.NewGormStore(db), nil
	}
	client, err := otp.NewRedisClient(ctx, cfg.Redis)
	if err != nil {
		return nil, err
	}
	return otp.NewRedisStore(client), nil
}
