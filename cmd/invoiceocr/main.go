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

	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"invoiceocr/internal/api"
	"invoiceocr/internal/auth"
	"invoiceocr/internal/config"
	"invoiceocr/internal/dispatch"
	"invoiceocr/internal/extract"
	fileutil "invoiceocr/internal/file"
	"invoiceocr/internal/pipeline"
	"invoiceocr/internal/service"
	"invoiceocr/internal/task"
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load("config.yml")
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	for _, dir := range []string{cfg.UploadDir, cfg.OutputDir} {
		if err := fileutil.EnsureDir(dir); err != nil {
			log.Fatal().Err(err).Str("dir", dir).Msg("ensure dir")
		}
	}

	tokens, err := auth.NewService(auth.Config{
		Secret:     cfg.Auth.JWTSecret,
		AccessTTL:  time.Duration(cfg.Auth.AccessTTLMinutes) * time.Minute,
		RefreshTTL: time.Duration(cfg.Auth.RefreshTTLDays) * 24 * time.Hour,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("auth setup failed (set JWT_SECRET_KEY)")
	}

	store := buildStore(cfg)

	var disp dispatch.Dispatcher
	var inline *dispatch.Inline
	var queue *dispatch.Queue
	if cfg.Dispatch == config.DispatchQueue {
		queue = dispatch.NewQueue(asynq.RedisClientOpt{Addr: cfg.RedisAddr}, store, cfg.QueueName)
		disp = queue
	} else {
		inline = dispatch.NewInline(store, buildPipeline(cfg))
		disp = inline
	}

	extractor, err := extract.NewAzureClient(extract.AzureConfig{
		Endpoint:   cfg.Azure.Endpoint,
		Deployment: cfg.Azure.Deployment,
		APIVersion: cfg.Azure.APIVersion,
		APIKey:     cfg.Azure.APIKey,
	})
	var fieldExtractor extract.Extractor
	switch {
	case err == nil:
		fieldExtractor = extractor
	case errors.Is(err, extract.ErrNotConfigured):
		log.Warn().Msg("extraction backend not configured, /invoice endpoints disabled")
	default:
		log.Fatal().Err(err).Msg("extraction backend setup failed")
	}

	svc := service.New(store, disp, fieldExtractor, cfg.UploadDir, cfg.OutputDir)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(api.ZerologLogger())
	api.NewAPI(svc, tokens, api.Options{
		AllowedExtensions: cfg.AllowedExtensions,
		MaxUploadBytes:    cfg.MaxUploadBytes,
		DefaultLanguage:   cfg.DefaultLanguage,
		UploadDir:         cfg.UploadDir,
		APIKey:            cfg.Auth.APIKey,
		ExtractionReady:   fieldExtractor != nil,
	}).RegisterRoutes(router)

	baseCtx, baseCancel := context.WithCancel(context.Background())
	if inline != nil {
		inline.SetBaseContext(baseCtx)
	}

	const (
		readHeaderTimeout = 5 * time.Second
		shutdownTimeout   = 30 * time.Second
	)
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	go func() {
		log.Info().Int("port", cfg.Port).Str("dispatch", cfg.Dispatch).Str("store", cfg.Store).Msg("server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("http server failed")
		}
	}()

	waitForShutdownSignal()
	gracefulShutdown(srv, baseCancel, inline, queue, shutdownTimeout)
}

func buildStore(cfg config.Config) task.Store {
	if cfg.Store == config.StoreRedis {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		return task.NewRedisStore(rdb)
	}
	return task.NewMemoryStore()
}

func buildPipeline(cfg config.Config) *pipeline.Pipeline {
	recognizer, err := pipeline.NewTesseract(cfg.OCR.TessdataDir, cfg.OCR.RequireLocal)
	if err != nil {
		log.Fatal().Err(err).Msg("recognition engine setup failed")
	}
	converter := pipeline.NewConverter(pipeline.NewPopplerRenderer())
	return pipeline.New(converter, recognizer)
}

func waitForShutdownSignal() {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutdown signal received")
}

func gracefulShutdown(srv *http.Server, cancelBase context.CancelFunc, inline *dispatch.Inline, queue *dispatch.Queue, timeout time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("http server shutdown warning")
	}

	cancelBase()
	if inline != nil && !inline.WaitAll(ctx) {
		log.Warn().Msg("pipeline goroutines did not finish before timeout")
	}
	if queue != nil {
		if err := queue.Close(); err != nil {
			log.Warn().Err(err).Msg("queue client close warning")
		}
	}
	log.Info().Msg("server exited cleanly")
}
