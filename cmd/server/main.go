package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/trustwork/trustwork-core/internal/api"
	apiassessments "github.com/trustwork/trustwork-core/internal/api/assessments"
	apicatalog "github.com/trustwork/trustwork-core/internal/api/catalog"
	apiengagements "github.com/trustwork/trustwork-core/internal/api/engagements"
	apiprofiles "github.com/trustwork/trustwork-core/internal/api/profiles"
	"github.com/trustwork/trustwork-core/internal/config"
	"github.com/trustwork/trustwork-core/internal/events"
	"github.com/trustwork/trustwork-core/internal/repository"
	"github.com/trustwork/trustwork-core/internal/service/assessment"
	"github.com/trustwork/trustwork-core/internal/service/catalog"
	"github.com/trustwork/trustwork-core/internal/service/ledger"
	"github.com/trustwork/trustwork-core/internal/service/lifecycle"
	"github.com/trustwork/trustwork-core/internal/service/milestone"
	"github.com/trustwork/trustwork-core/internal/service/review"
	"github.com/trustwork/trustwork-core/internal/service/timeline"
	"github.com/trustwork/trustwork-core/pkg/clock"
	"github.com/trustwork/trustwork-core/pkg/logger"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output)
	log.Info().Int("port", cfg.Server.Port).Str("environment", cfg.Server.Environment).Msg("Starting trustwork-core")

	db, err := repository.NewDB(&cfg.Database.Postgres, cfg.Rules.TxMaxRetries, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	if err := db.AutoMigrate(); err != nil {
		log.Fatal().Err(err).Msg("Failed to migrate schema")
	}
	if err := repository.Migrate(&cfg.Database.Postgres, log); err != nil {
		log.Fatal().Err(err).Msg("Failed to run migrations")
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to close database")
		}
	}()

	redisClient := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Database.Redis.Host, cfg.Database.Redis.Port),
		Password: cfg.Database.Redis.Password,
		DB:       cfg.Database.Redis.DB,
		PoolSize: cfg.Database.Redis.PoolSize,
	})
	defer redisClient.Close()

	pingCtx, pingCancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := redisClient.Ping(pingCtx).Err(); err != nil {
		log.Warn().Err(err).Msg("Redis unreachable, events and unlock cache degraded")
	}
	pingCancel()

	profileRepo := repository.NewProfileRepository(db)
	templateRepo := repository.NewTemplateRepository(db)
	attemptRepo := repository.NewAttemptRepository(db)
	creditRepo := repository.NewCreditRepository(db)
	assignmentRepo := repository.NewAssignmentRepository(db)
	applicationRepo := repository.NewApplicationRepository(db)
	milestoneRepo := repository.NewMilestoneRepository(db)
	reviewRepo := repository.NewReviewRepository(db)

	clk := clock.System{}
	idGen := clock.UUIDGen{}

	var publisher events.Publisher = events.NopPublisher{}
	if cfg.Events.Enabled {
		publisher = events.NewRedisPublisher(redisClient, cfg.Events.ChannelPrefix, log)
	}

	ledgerSvc := ledger.NewService(db, creditRepo, clk, idGen, log)
	catalogSvc := catalog.NewService(templateRepo, idGen, log)
	assessmentSvc := assessment.NewService(
		db, attemptRepo, templateRepo, profileRepo, assignmentRepo,
		ledgerSvc, assessment.NewRedisUnlockCache(redisClient), publisher,
		clk, idGen, cfg.Rules, log,
	)
	lifecycleSvc := lifecycle.NewService(
		db, assignmentRepo, applicationRepo, profileRepo, milestoneRepo,
		assessmentSvc, publisher, clk, idGen, cfg.Rules, log,
	)
	milestoneSvc := milestone.NewService(db, milestoneRepo, assignmentRepo, publisher, clk, idGen, cfg.Rules, log)
	reviewSvc := review.NewService(db, reviewRepo, assignmentRepo, profileRepo, publisher, clk, idGen, cfg.Rules, log)
	timelineSvc := timeline.NewService(assignmentRepo, milestoneRepo, reviewRepo, applicationRepo)

	server := api.NewServer(cfg, db, api.Handlers{
		Profiles:    apiprofiles.NewHandler(profileRepo, log),
		Catalog:     apicatalog.NewHandler(catalogSvc, log),
		Assessments: apiassessments.NewHandler(assessmentSvc, ledgerSvc, log),
		Engagements: apiengagements.NewHandler(lifecycleSvc, milestoneSvc, reviewSvc, timelineSvc, log),
	}, log)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      server.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", httpServer.Addr).Msg("HTTP server listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}
	log.Info().Msg("Stopped")
}
