package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/Dosada05/league-portal/brackets"
	"github.com/Dosada05/league-portal/config"
	"github.com/Dosada05/league-portal/db"
	"github.com/Dosada05/league-portal/events"
	"github.com/Dosada05/league-portal/handlers"
	"github.com/Dosada05/league-portal/logger"
	"github.com/Dosada05/league-portal/middleware"
	"github.com/Dosada05/league-portal/models"
	"github.com/Dosada05/league-portal/repositories"
	api "github.com/Dosada05/league-portal/routes"
	"github.com/Dosada05/league-portal/services"
	"github.com/Dosada05/league-portal/storage"
)

const shutdownTimeout = 15 * time.Second

// @title League Portal Bracket API
// @version 1.0
// @description Single-elimination brackets, score entry and live bracket updates.
// @BasePath /
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
func main() {
	if err := run(); err != nil {
		slog.Error("application failed", slog.Any("error", err))
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	log := logger.New(cfg.LogLevel)
	slog.SetDefault(log)
	log.Info("configuration loaded",
		slog.Int("port", cfg.ServerPort),
		slog.String("match_store", cfg.MatchStore),
		slog.String("change_feed", cfg.ChangeFeed),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var dbConn *sql.DB
	if cfg.NeedsDatabase() {
		dbConn, err = db.Connect(cfg.DatabaseURL, 5*time.Second, log)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		log.Info("database connection established")
		if cfg.RunMigrations {
			if err := db.RunMigrations(dbConn); err != nil {
				dbConn.Close()
				return fmt.Errorf("failed to run migrations: %w", err)
			}
			log.Info("database migrations applied")
		}
	}

	feed, err := newFeed(cfg, dbConn, log)
	if err != nil {
		if dbConn != nil {
			dbConn.Close()
		}
		return err
	}
	defer func() {
		if err := feed.Close(); err != nil {
			log.Error("failed to close change feed", slog.Any("error", err))
		}
	}()

	store, teamRepo, err := newStores(cfg, dbConn, feed, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Error("failed to close match store", slog.Any("error", err))
		} else {
			log.Info("match store closed")
		}
	}()

	var uploader storage.FileUploader
	r2 := storage.CloudflareR2Config(cfg.R2)
	if r2.Enabled() {
		r2Uploader, err := storage.NewCloudflareR2Uploader(ctx, r2, log)
		if err != nil {
			return fmt.Errorf("failed to initialize Cloudflare R2 uploader: %w", err)
		}
		uploader = r2Uploader
		log.Info("Cloudflare R2 uploader initialized", slog.String("bucket", cfg.R2.BucketName))
	} else {
		log.Info("Cloudflare R2 not configured, logos and results hand-off disabled")
	}

	points, err := services.ParsePlacementPoints(cfg.PlacementPoints)
	if err != nil {
		return fmt.Errorf("invalid PLACEMENT_POINTS: %w", err)
	}

	bracketService := services.NewBracketService(store, teamRepo, uploader, services.BracketServiceConfig{
		RetryAttempts: cfg.ScoreRetryAttempts,
		RetryBackoff:  25 * time.Millisecond,
		Points:        points,
		Live: services.LiveSyncConfig{
			Debounce:           cfg.Live.Debounce,
			RecomputeTimeout:   cfg.Live.RecomputeTimeout,
			MinPublishInterval: cfg.Live.MinPublishInterval,
		},
	}, log)
	defer bracketService.Close()

	hubCtx, stopHub := context.WithCancel(context.Background())
	defer stopHub()
	wsHub := brackets.NewHub(handlers.NewLiveRoomFeed(bracketService), log)
	go wsHub.Run(hubCtx)
	log.Info("WebSocket hub started")

	router := chi.NewRouter()
	api.SetupRoutes(
		router,
		api.Options{AllowedOrigins: cfg.CORSAllowedOrigins, RequestTimeout: 30 * time.Second},
		middleware.NewAuthenticator(cfg.JWTSecretKey, log),
		handlers.NewBracketHandler(bracketService, log),
		handlers.NewWebSocketHandler(wsHub, cfg.CORSAllowedOrigins, log),
	)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.ServerPort),
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 35 * time.Second,
		IdleTimeout:  120 * time.Second,
		ErrorLog:     slog.NewLogLogger(log.Handler(), slog.LevelError),
	}

	serverErrors := make(chan error, 1)
	go func() {
		log.Info("starting server", slog.String("address", server.Addr))
		serverErrors <- server.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
		log.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		// Websocket clients are hijacked connections; the hub closes them.
		stopHub()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error("graceful shutdown failed", slog.Any("error", err))
			if closeErr := server.Close(); closeErr != nil {
				log.Error("failed to force close server", slog.Any("error", closeErr))
			}
			return err
		}
		log.Info("server shutdown complete")
	}
	return nil
}

func newFeed(cfg *config.Config, dbConn *sql.DB, log *slog.Logger) (events.Feed, error) {
	switch cfg.ChangeFeed {
	case config.FeedPostgres:
		feed, err := events.NewPostgresFeed(dbConn, cfg.DatabaseURL, log)
		if err != nil {
			return nil, fmt.Errorf("failed to start postgres change feed: %w", err)
		}
		return feed, nil
	case config.FeedAMQP:
		feed, err := events.NewAMQPFeed(cfg.AMQPURL, cfg.AMQPExchange, events.DefaultReconnectConfig(), log)
		if err != nil {
			return nil, fmt.Errorf("failed to start amqp change feed: %w", err)
		}
		return feed, nil
	default:
		return events.NewMemoryFeed(log), nil
	}
}

func newStores(cfg *config.Config, dbConn *sql.DB, feed events.Feed, log *slog.Logger) (repositories.MatchStore, repositories.TeamRepository, error) {
	if cfg.MatchStore == config.StorePostgres {
		return repositories.NewPostgresMatchStore(dbConn, feed, log), repositories.NewPostgresTeamRepository(dbConn), nil
	}

	store := repositories.NewMemoryMatchStore(feed, log)
	teamRepo := repositories.NewMemoryTeamRepository()
	if cfg.SeedTeams == 0 {
		return store, teamRepo, nil
	}

	teamIDs := make([]int, cfg.SeedTeams)
	for i := range teamIDs {
		teamIDs[i] = i + 1
		teamRepo.Add(models.Team{
			ID:         i + 1,
			SportID:    cfg.SeedSportID,
			ClubID:     i + 1,
			Name:       fmt.Sprintf("Team %d", i+1),
			SeedNumber: models.IntPtr(i + 1),
		})
	}
	rows, err := brackets.GenerateSingleElimination(brackets.GenerateParams{
		SportID:      cfg.SeedSportID,
		TeamIDs:      teamIDs,
		FirstMatchID: 1,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to generate demo bracket: %w", err)
	}
	if err := store.Seed(rows...); err != nil {
		return nil, nil, fmt.Errorf("failed to seed demo bracket: %w", err)
	}
	log.Info("in-memory store seeded",
		slog.Int("sport_id", cfg.SeedSportID),
		slog.Int("teams", cfg.SeedTeams),
		slog.Int("matches", len(rows)),
	)
	return store, teamRepo, nil
}
