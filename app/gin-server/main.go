package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/yoockh/yoointerview/config"
	"github.com/yoockh/yoointerview/internal/api/handlers"
	"github.com/yoockh/yoointerview/internal/api/routes"
	"github.com/yoockh/yoointerview/internal/cache"
	"github.com/yoockh/yoointerview/internal/events"
	"github.com/yoockh/yoointerview/internal/logger"
	"github.com/yoockh/yoointerview/internal/models"
	"github.com/yoockh/yoointerview/internal/observability"
	"github.com/yoockh/yoointerview/internal/providers/avatar"
	"github.com/yoockh/yoointerview/internal/providers/llm"
	"github.com/yoockh/yoointerview/internal/providers/stt"
	"github.com/yoockh/yoointerview/internal/realtime"
	mongorepo "github.com/yoockh/yoointerview/internal/repositories/mongo"
	pgrepo "github.com/yoockh/yoointerview/internal/repositories/postgres"
	"github.com/yoockh/yoointerview/internal/services"
	"github.com/yoockh/yoointerview/internal/storage"
	"github.com/yoockh/yoointerview/internal/store"
	"github.com/yoockh/yoointerview/internal/turn"
	"github.com/yoockh/yoointerview/internal/workers"
)

const serviceName = "yoointerview"

func main() {
	_ = godotenv.Load()
	log := logger.New()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownOTel := observability.InitOTel(ctx, log, serviceName)
	defer func() { _ = shutdownOTel(context.Background()) }()

	cfg := config.LoadInterview()

	// Init MongoDB
	if err := config.InitMongo(); err != nil {
		log.WithError(err).Fatal("MongoDB init error")
	}
	if err := config.EnsureMongoIndexes(); err != nil {
		log.WithError(err).Warn("MongoDB index creation failed")
	}
	log.Info("MongoDB connected")

	// Init PostgreSQL
	if err := config.InitPostgres(log); err != nil {
		log.WithError(err).Fatal("PostgreSQL init error")
	}
	if err := config.PostgresDB.AutoMigrate(&models.ResultRecord{}); err != nil {
		log.WithError(err).Fatal("PostgreSQL migrate error")
	}
	log.Info("PostgreSQL connected")

	// Init Redis
	if err := config.InitRedis(); err != nil {
		log.WithError(err).Fatal("Redis init error")
	}
	rdb := config.RedisClient
	log.Info("Redis connected")

	kvCache := cache.NewRedisCache(rdb)
	kv := store.NewKV(kvCache, cfg.SnapshotTTL)

	report, err := store.MigrateLegacy(ctx, kvCache, kv, log)
	if err != nil {
		log.WithError(err).Error("legacy migration failed")
	} else if report != (store.MigrationReport{}) {
		log.WithFields(logrus.Fields{
			"sessions":  report.Sessions,
			"histories": report.Histories,
			"results":   report.Results,
		}).Info("legacy interview data migrated")
	}

	// Event bus + archive workers
	publisher, err := events.NewAMQPPublisher(cfg.RabbitURI, log)
	if err != nil {
		log.WithError(err).Fatal("RabbitMQ init error")
	}
	defer publisher.Close()

	archiveWorkers := &workers.ArchiveWorkerPool{
		Redis:      rdb,
		Sessions:   mongorepo.NewSessionArchiveRepo(config.MongoDatabase()),
		Results:    pgrepo.NewResultRepo(config.PostgresDB),
		Events:     publisher,
		NumWorkers: cfg.ArchiveWorkers,
		Logger:     log,
	}
	if err := archiveWorkers.Start(ctx); err != nil {
		log.WithError(err).Fatal("archive workers init error")
	}

	// Providers
	tmpl := services.DefaultTemplate()
	if cfg.TemplateFile != "" {
		if tmpl, err = services.LoadTemplateFile(cfg.TemplateFile); err != nil {
			log.WithError(err).Fatal("question template load error")
		}
	}

	var gen avatar.Generator
	if cfg.AvatarAPIURL != "" {
		gen = avatar.NewTalkClient(cfg.AvatarAPIURL, cfg.AvatarAPIKey, cfg.AvatarTimeout)
	} else {
		log.Warn("AVATAR_API_URL is not set, questions are presented text-only")
	}

	var transcriber stt.Provider
	if g, err := stt.NewGoogleSpeech(ctx); err != nil {
		log.WithError(err).Warn("speech client init failed, answers without a live transcript get a placeholder")
	} else {
		transcriber = g
		defer g.Close()
	}

	var (
		uploader storage.Uploader
		signer   storage.Signer
	)
	if cfg.AudioBucket != "" {
		g, err := storage.NewGCSUploader(ctx, cfg.AudioBucket)
		if err != nil {
			log.WithError(err).Warn("GCS init failed, recordings are not kept")
		} else {
			uploader, signer = g, g
			defer g.Close()
		}
	}

	var coach services.FeedbackWriter
	if cfg.VertexProject != "" {
		g, err := llm.NewVertexGemini(ctx, cfg.VertexProject, cfg.VertexLocation, cfg.VertexModel)
		if err != nil {
			log.WithError(err).Warn("Vertex AI init failed, results keep templated feedback")
		} else {
			coach = llm.NewCoach(g)
			defer g.Close()
		}
	}

	// Services
	sessionSvc := services.NewSessionService(services.SessionDeps{
		Sessions:   kv,
		Results:    kv,
		Pool:       services.NewQuestionPoolService(kv, tmpl, log),
		Media:      services.NewMediaService(gen, services.MediaOptions{RequestTimeout: cfg.AvatarTimeout, Concurrency: cfg.AvatarConcurrency}, log),
		Aggregator: services.NewResultAggregator(nil),
		Jobs:       pgrepo.NewJobRepo(config.PostgresDB),
		Archiver:   workers.NewArchiveQueue(rdb, ""),
		Coach:      coach,
	}, services.SessionConfig{
		Language:          cfg.Language,
		Persona:           cfg.Persona,
		JobQuestions:      cfg.JobQuestions,
		PracticeQuestions: cfg.PracticeQuestions,
		JobBudget:         cfg.JobBudget,
		PracticeBudget:    cfg.PracticeBudget,
	}, log)

	statusPublisher := realtime.NewPublisher(rdb, log, 0)
	defer statusPublisher.Close()

	live := handlers.NewLive()

	// HTTP
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	routes.RegisterRoutes(r, routes.Deps{
		Session: handlers.NewSessionHandler(sessionSvc, live, signer, cfg.SignedURLTTL),
		WS: handlers.NewWSHandler(handlers.WSDeps{
			Sessions: sessionSvc,
			Live:     live,
			STT:      transcriber,
			Uploader: uploader,
			Fanout:   statusPublisher,
			Options: turn.Options{
				AdvanceFallback:       cfg.AdvanceFallback,
				VolumeInterval:        cfg.VolumeInterval,
				TranscribeTimeout:     cfg.TranscribeTimeout,
				LongTranscribeTimeout: cfg.LongTranscribeTimeout,
			},
			Origins: cfg.CORSOrigins,
			Logger:  log,
		}),
		Logger:      log,
		ServiceName: serviceName,
		Origins:     cfg.CORSOrigins,
		Health:      func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
	})

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	srv := &http.Server{Addr: ":" + port, Handler: r, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		log.WithField("port", port).Info("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("http server error")
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("http shutdown error")
	}
}
