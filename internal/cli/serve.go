package cli

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/Muradxanyann/OnlineQuizScoreService/internal/app"
	"github.com/Muradxanyann/OnlineQuizScoreService/internal/config"
	"github.com/Muradxanyann/OnlineQuizScoreService/internal/domain"
	"github.com/Muradxanyann/OnlineQuizScoreService/internal/infra/memory"
	"github.com/Muradxanyann/OnlineQuizScoreService/internal/infra/postgres"
	"github.com/Muradxanyann/OnlineQuizScoreService/internal/infra/quizmanager"
	"github.com/Muradxanyann/OnlineQuizScoreService/internal/infra/rabbitmq"
	infraredis "github.com/Muradxanyann/OnlineQuizScoreService/internal/infra/redis"
	"github.com/Muradxanyann/OnlineQuizScoreService/internal/logging"
	transport "github.com/Muradxanyann/OnlineQuizScoreService/internal/transport/http"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// NewServeCmd builds the CLI subcommand to start the service.
func NewServeCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the scoring service",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), *configPath, *port)
		},
	}
}

func runServe(ctx context.Context, configPath, portFlag string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	log := logging.New(cfg.Log.Mode, cfg.Log.File)
	defer log.Sync()

	if err := runMigrationsWithConfig(ctx, cfg); err != nil {
		return err
	}

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}
	if finalPort == "" {
		finalPort = "8080"
	}

	pool, err := pgxpool.Connect(ctx, cfg.Postgres.URL)
	if err != nil {
		return err
	}
	defer pool.Close()
	store := postgres.NewResultStore(pool)

	var fetcher app.AnswerKeyFetcher
	if cfg.QuizManager.BaseURL != "" {
		timeout := config.Duration(cfg.QuizManager.Timeout, 10*time.Second)
		fetcher = quizmanager.NewClient(cfg.QuizManager.BaseURL, timeout, log)
	} else {
		log.Warn("quiz manager url not configured, serving sample answer keys")
		fetcher = memory.NewStaticAnswerKeySource(sampleAnswerKeys())
	}

	feed := app.NewScoreFeed()
	service := app.NewScoringService(fetcher, store, log).WithFeed(feed)

	var leaderboard *infraredis.Leaderboard
	if cfg.Redis.Addr != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()
		leaderboard = infraredis.NewLeaderboard(redisClient)
		service.WithLeaderboard(leaderboard)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	var lbReader transport.LeaderboardReader
	if leaderboard != nil {
		lbReader = leaderboard
	}
	transport.NewHandler(service, fetcher, lbReader, log).Register(mux)
	mux.HandleFunc("/ws", transport.NewWSHandler(feed, log).ServeWS)

	server := &http.Server{
		Addr:         ":" + finalPort,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	runCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(runCtx)

	g.Go(func() error {
		log.Info("starting scoring service", zap.String("port", finalPort))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down http server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if cfg.RabbitMQ.URL != "" {
		consumer := rabbitmq.NewConsumer(rabbitmq.Config{
			URL:             cfg.RabbitMQ.URL,
			Exchange:        cfg.RabbitMQ.Exchange,
			Queue:           cfg.RabbitMQ.Queue,
			RoutingKey:      cfg.RabbitMQ.RoutingKey,
			Prefetch:        cfg.RabbitMQ.Prefetch,
			ConnectAttempts: cfg.RabbitMQ.ConnectAttempts,
		}, service, log)
		// A consumer that cannot start is fatal to the whole process.
		g.Go(func() error {
			return consumer.Run(gctx)
		})
	} else {
		log.Warn("rabbitmq url not configured, queue consumer disabled")
	}

	return g.Wait()
}

// sampleAnswerKeys backs local runs without a quiz manager.
func sampleAnswerKeys() map[int]domain.AnswerKey {
	return map[int]domain.AnswerKey{
		1: {
			ID: 1,
			Questions: []domain.KeyQuestion{
				{
					ID: 1,
					Options: []domain.KeyOption{
						{ID: 10, IsCorrect: false},
						{ID: 11, IsCorrect: true},
						{ID: 12, IsCorrect: false},
					},
				},
				{
					ID: 2,
					Options: []domain.KeyOption{
						{ID: 20, IsCorrect: true},
						{ID: 21, IsCorrect: false},
					},
				},
			},
		},
	}
}
