package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	config "github.com/treinanr/academy/configs"
	"github.com/treinanr/academy/database"
	"github.com/treinanr/academy/handlers"
	"github.com/treinanr/academy/i18n"
	"github.com/treinanr/academy/jobs"
	"github.com/treinanr/academy/logging"
	"github.com/treinanr/academy/notifications"
	"github.com/treinanr/academy/routes"
	"github.com/treinanr/academy/services"
	"github.com/treinanr/academy/websocket"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootstrap := zerolog.New(os.Stderr).With().Timestamp().Logger()
		bootstrap.Fatal().Err(err).Msg("invalid configuration")
	}
	log := logging.NewLogger(cfg)

	db, err := database.ConnectDB(cfg.DatabaseURL, log)
	if err != nil {
		log.Fatal().Err(err).Msg("database connection failed")
	}
	if err := database.Migrate(db); err != nil {
		log.Fatal().Err(err).Msg("database migration failed")
	}
	certificates := database.NewCertificateStore(db)
	enrollments := database.NewEnrollmentStore(db)

	text, err := i18n.NewTranslator(cfg.DefaultLocale)
	if err != nil {
		log.Fatal().Err(err).Msg("locale setup failed")
	}

	var renderer services.Renderer = services.NewPDFRenderer(cfg.PDFCompress)
	if cfg.Engine == config.EngineHTML {
		if renderer, err = services.NewHTMLRenderer(30 * time.Second); err != nil {
			log.Fatal().Err(err).Msg("html renderer setup failed")
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	hub := websocket.NewHub(log)
	go hub.Run(ctx)

	opts := []services.IssuerOption{
		services.WithRecordStore(certificates),
		services.WithEventSink(hub),
	}
	artifacts, err := services.NewArtifactStore(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("artifact store setup failed")
	}
	if artifacts != nil {
		opts = append(opts, services.WithArtifactStore(artifacts))
	}
	if cfg.EmailEnabled() {
		opts = append(opts, services.WithMailer(notifications.NewBrevoService(cfg.BrevoAPIKey, cfg.EmailSender, cfg.EmailSenderName, log)))
	} else {
		log.Warn().Msg("BREVO_API_KEY, EMAIL_SENDER or EMAIL_SENDER_NAME not set, certificate emails disabled")
	}

	issuer := services.NewIssuer(renderer, text, services.IssuerConfig{
		Institution: services.Institution{
			Name:           cfg.InstitutionName,
			SignatoryName:  cfg.SignatoryName,
			SignatoryTitle: cfg.SignatoryTitle,
		},
		PersistAttempts: cfg.PersistAttempts,
		PersistTimeout:  cfg.PersistTimeout,
	}, log, opts...)

	scheduler := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger)))
	if cfg.CompletionSweepSchedule != "" {
		sweep := jobs.NewCompletionSweep(enrollments, issuer, text, log)
		if _, err := scheduler.AddFunc(cfg.CompletionSweepSchedule, sweep.Run); err != nil {
			log.Fatal().Err(err).Str("schedule", cfg.CompletionSweepSchedule).Msg("invalid COMPLETION_SWEEP_SCHEDULE")
		}
		scheduler.Start()
		log.Info().Str("schedule", cfg.CompletionSweepSchedule).Msg("completion sweep scheduled")
	}

	app := fiber.New(fiber.Config{
		AppName:       cfg.AppName,
		CaseSensitive: true,
		StrictRouting: true,
		ReadTimeout:   15 * time.Second,
		WriteTimeout:  60 * time.Second,
		IdleTimeout:   60 * time.Second,
		BodyLimit:     1 * 1024 * 1024,
		ErrorHandler:  handlers.ErrorHandler(log),
	})

	app.Use(cors.New(cors.Config{
		AllowOrigins:  "*",
		AllowHeaders:  "Origin, Content-Type, Accept, Authorization, Sec-WebSocket-Key, Sec-WebSocket-Version",
		AllowMethods:  "GET, POST, OPTIONS",
		ExposeHeaders: "Content-Length, Content-Disposition",
		MaxAge:        86400,
	}))
	app.Use(recover.New())
	app.Use(logger.New(logger.Config{
		TimeFormat: "2006-01-02 15:04:05",
		Format:     "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))

	routes.PublicRoutes(app, handlers.NewLocaleHandler(text))
	routes.CertificateRoutes(app, handlers.NewCertificateHandler(issuer, certificates, log), cfg.JWTSecret)
	routes.WebsocketRoutes(app, hub, cfg.JWTSecret)

	go func() {
		<-ctx.Done()
		log.Info().Msg("shutting down")
		if err := app.ShutdownWithTimeout(20 * time.Second); err != nil {
			log.Error().Err(err).Msg("server shutdown")
		}
	}()

	log.Info().Str("port", cfg.Port).Msg("server is running")
	if err := app.Listen(":" + cfg.Port); err != nil {
		log.Error().Err(err).Msg("server failed")
	}

	<-scheduler.Stop().Done()
	issuer.Wait()
	log.Info().Msg("pending certificate records flushed")
}
