// Command worker consumes queued recognition jobs when the service runs
// with dispatch: queue. Run at least one instance alongside the API server.
package main

import (
	"os"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"invoiceocr/internal/config"
	"invoiceocr/internal/dispatch"
	fileutil "invoiceocr/internal/file"
	"invoiceocr/internal/pipeline"
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load("config.yml")
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if err := fileutil.EnsureDir(cfg.OutputDir); err != nil {
		log.Fatal().Err(err).Str("dir", cfg.OutputDir).Msg("ensure dir")
	}

	recognizer, err := pipeline.NewTesseract(cfg.OCR.TessdataDir, cfg.OCR.RequireLocal)
	if err != nil {
		log.Fatal().Err(err).Msg("recognition engine setup failed")
	}
	pipe := pipeline.New(pipeline.NewConverter(pipeline.NewPopplerRenderer()), recognizer)

	srv := asynq.NewServer(
		asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		asynq.Config{
			Concurrency: cfg.WorkerConcurrency,
			Queues:      map[string]int{cfg.QueueName: 1},
		},
	)

	mux := asynq.NewServeMux()
	mux.HandleFunc(dispatch.TypeOCRProcess, dispatch.NewOCRHandler(pipe))

	log.Info().Str("queue", cfg.QueueName).Int("concurrency", cfg.WorkerConcurrency).Msg("worker starting")
	if err := srv.Run(mux); err != nil {
		log.Fatal().Err(err).Msg("worker failed")
	}
}
