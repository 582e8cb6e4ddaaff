package cli

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"trainingquiz/internal/app"
	"trainingquiz/internal/config"
	"trainingquiz/internal/domain"
	"trainingquiz/internal/infra/memory"
	pgloader "trainingquiz/internal/infra/postgres"
	redisinfra "trainingquiz/internal/infra/redis"
	transport "trainingquiz/internal/transport/http"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the session server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	logger := zerolog.New(os.Stderr).With().Timestamp().Logger()

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if cfg.Postgres.URL != "" {
		if err := runMigrationsWithConfig(ctx, cfg); err != nil {
			return err
		}
	}

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}
	if finalPort == "" {
		finalPort = "8080"
	}

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
	}
	docTTL := config.TTLDuration(cfg.Redis.TTL, 24*time.Hour)

	var pool *pgxpool.Pool
	if cfg.Postgres.URL != "" {
		pool, err = pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return err
		}
	}

	var loader memory.GameLoader = memory.NewStaticGameLoader(sampleGames())
	if pool != nil {
		loader = pgloader.NewGameLoader(pool)
	}

	gameTTL := config.TTLDuration(cfg.Game.TTL, 10*time.Minute)
	var games app.GameRepository
	if redisClient != nil {
		games = redisinfra.NewGameRepository(redisClient, loader, gameTTL)
	} else {
		games = memory.NewGameRepository(loader, gameTTL)
	}

	var store app.DocumentStore
	if redisClient != nil {
		store = redisinfra.NewDocStore(redisClient, docTTL)
	} else {
		store = memory.NewDocStore()
	}

	service := app.NewGameService(store, games, clockwork.NewRealClock(), logger)
	wsHandler := transport.NewWSHandler(service, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	mux.HandleFunc("/ws/controller", wsHandler.ServeController)
	mux.HandleFunc("/ws/participant", wsHandler.ServeParticipant)

	server := &http.Server{
		Addr:        ":" + finalPort,
		Handler:     mux,
		ReadTimeout: 15 * time.Second,
		// No WriteTimeout: websocket connections outlive any sane value.
	}

	go func() {
		logger.Info().Str("port", finalPort).Msg("starting session service")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("failed to start server")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		logger.Info().Msg("shutting down server")
	case <-ctx.Done():
		logger.Info().Msg("context canceled, shutting down server")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// sampleGames provides a minimal built-in catalog; swap the loader for the
// Postgres-backed one in production.
func sampleGames() map[string]domain.Game {
	return map[string]domain.Game{
		"game-1": {
			ID:                   "game-1",
			Kind:                 domain.GameKindQuiz,
			Title:                "Warm-up quiz",
			TotalDurationSeconds: 120,
			Items: []domain.Item{
				{
					ID:     "q1",
					Prompt: "What is 2 + 2?",
					Options: []domain.Option{
						{ID: "o1", Text: "3", Correct: false},
						{ID: "o2", Text: "4", Correct: true},
						{ID: "o3", Text: "5", Correct: false},
					},
					BasePoints:       100,
					TimeLimitSeconds: 30,
				},
				{
					ID:     "q2",
					Prompt: "Which planet is closest to the sun?",
					Options: []domain.Option{
						{ID: "o1", Text: "Venus", Correct: false},
						{ID: "o2", Text: "Mercury", Correct: true},
					},
					BasePoints:       100,
					TimeLimitSeconds: 30,
				},
			},
		},
	}
}
