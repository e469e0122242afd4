package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/movesec/moveaudit/internal/application"
	appanalysis "github.com/movesec/moveaudit/internal/application/analysis"
	appgithub "github.com/movesec/moveaudit/internal/application/github"
	"github.com/movesec/moveaudit/internal/config"
	domain "github.com/movesec/moveaudit/internal/domain/analysis"
	aiopenai "github.com/movesec/moveaudit/internal/infra/ai/openai"
	mysqlp "github.com/movesec/moveaudit/internal/infra/db/mysql"
	postgresp "github.com/movesec/moveaudit/internal/infra/db/postgres"
	ghfiles "github.com/movesec/moveaudit/internal/infra/github"
	"github.com/movesec/moveaudit/internal/infra/httpserver"
	"github.com/movesec/moveaudit/internal/infra/localfs"
	minioStore "github.com/movesec/moveaudit/internal/infra/storage"
	"github.com/movesec/moveaudit/internal/middleware"
)

func main() {
	// path config.yaml
	path := "config.yaml"
	if v := os.Getenv("CONFIG_PATH"); v != "" {
		path = v
	}

	cfg, err := config.Load(path)
	if err != nil {
		log.Fatal().Err(err).Msg("config load error")
	}
	setupLogging(cfg.Logging.Level, cfg.Logging.Format)

	ctx := context.Background()

	var db *sql.DB
	var repo domain.Repository
	switch cfg.Database.Driver {
	case "mysql", "":
		db, err = mysqlp.Connect(ctx, cfg.MySQLDSN())
		if err != nil {
			log.Fatal().Err(err).Msg("mysql connect error")
		}
		repo = mysqlp.NewAnalysisRepository(db)
	case "postgres":
		db, err = postgresp.Connect(ctx, cfg.PostgresDSN())
		if err != nil {
			log.Fatal().Err(err).Msg("postgres connect error")
		}
		repo = postgresp.NewAnalysisRepository(db)
	default:
		log.Fatal().Str("driver", cfg.Database.Driver).Msg("unknown database driver")
	}
	defer db.Close()

	// LLM tracks stay disabled without an API key; static analysis still runs.
	var provider domain.Provider
	if cfg.OpenAI.APIKey != "" {
		provider = aiopenai.NewClient(cfg.OpenAI.APIKey, cfg.OpenAI.Model)
		log.Info().Str("model", cfg.OpenAI.Model).Msg("llm provider enabled")
	}

	var reports domain.ReportStore
	if cfg.Minio.Endpoint != "" {
		store, err := minioStore.New(ctx,
			cfg.Minio.Endpoint,
			cfg.Minio.Region,
			cfg.Minio.BucketName,
			cfg.Minio.AccessKey,
			cfg.Minio.SecretKey,
			cfg.Minio.UseSSL,
		)
		if err != nil {
			log.Fatal().Err(err).Msg("minio init error")
		}
		reports = store
	}

	var files domain.FileProvider = ghfiles.NewClient(cfg.GitHub.Token)
	if cfg.GitHub.CheckoutDir != "" {
		files = localfs.NewProvider(cfg.GitHub.CheckoutDir)
		log.Info().Str("dir", cfg.GitHub.CheckoutDir).Msg("serving repository files from local checkouts")
	}

	analysisSvc := &appanalysis.Service{
		Repo:    repo,
		Engine:  domain.NewEngine(provider),
		Files:   files,
		Reports: reports,
		Clock:   application.SystemClock{},
	}
	githubSvc := appgithub.NewService(analysisSvc, files)

	checkers := map[string]middleware.HealthChecker{
		"database": &middleware.DatabaseHealthChecker{DB: db},
	}

	handler := httpserver.NewRouter(analysisSvc, githubSvc, httpserver.Options{
		APIKeys:        cfg.Auth.APIKeys,
		RateCapacity:   cfg.RateLimit.Capacity,
		RateRefillRate: cfg.RateLimit.RefillRate,
		Checkers:       checkers,
	})

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:        addr,
		Handler:     handler,
		ReadTimeout: 15 * time.Second,
		// Synchronous LLM-backed runs can take well over a minute.
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// run server
	go func() {
		log.Info().Str("addr", addr).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	// graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	log.Info().Msg("shutting down server")

	ctx2, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx2); err != nil {
		log.Error().Err(err).Msg("shutdown error")
	}
}

func setupLogging(level, format string) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	if format == "console" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
}
