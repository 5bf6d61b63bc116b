package cli

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"quiz-session-service/internal/app"
	"quiz-session-service/internal/config"
	"quiz-session-service/internal/infra/management"
	"quiz-session-service/internal/infra/memory"
	pgstore "quiz-session-service/internal/infra/postgres"
	redisbus "quiz-session-service/internal/infra/redis"
	"quiz-session-service/internal/leaderboard"
	"quiz-session-service/internal/logger"
	"quiz-session-service/internal/metrics"
	transport "quiz-session-service/internal/transport/http"
)

const serviceName = "quiz-session-service"

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the quiz session server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

// eventBus is what both bus implementations provide: publishing, subscriptions
// for websocket consumers and binding counts for the idle reaper.
type eventBus interface {
	app.MessageBus
	app.BindingProber
	transport.Subscriber
}

type sessionStore interface {
	app.SessionRepository
	app.MemberRepository
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	log := logger.New(serviceName, cfg.Log.Level, cfg.Log.Format)
	m := metrics.NewMetrics("quiz")

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}
	if finalPort == "" {
		finalPort = "8080"
	}

	var store sessionStore = memory.NewStore()
	if cfg.Postgres.URL != "" {
		if err := runMigrationsWithConfig(ctx, cfg, log); err != nil {
			return err
		}
		pool, err := pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return err
		}
		defer pool.Close()
		store = pgstore.NewStore(pool)
		log.Info("using postgres session store")
	}

	cacheTTL := config.TTLDuration(cfg.Leaderboard.CacheTTL, config.TTLDuration(cfg.Redis.TTL, 30*time.Second))
	var (
		bus    eventBus
		boards app.BoardCache
	)
	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer client.Close()
		bus = redisbus.NewBus(client, log)
		boards = redisbus.NewBoardCache(client, cacheTTL)
		log.WithField("addr", cfg.Redis.Addr).Info("using redis message bus")
	} else {
		bus = memory.NewBus()
		boards = memory.NewBoardCache(cacheTTL)
	}

	var probe app.BindingProber = bus
	if cfg.Probe.Host != "" {
		probe = management.NewProbe(management.Config{
			Protocol: cfg.Probe.Protocol,
			Host:     cfg.Probe.Host,
			Port:     cfg.Probe.Port,
			VHost:    cfg.Probe.VHost,
			User:     cfg.Probe.User,
			Password: cfg.Probe.Password,
		})
		log.WithField("host", cfg.Probe.Host).Info("using management api idle probe")
	}

	strategy, err := leaderboard.NewStrategy(leaderboard.StrategyConfig{
		Algorithm:     leaderboard.Algorithm(cfg.Leaderboard.Algorithm),
		BasePoints:    cfg.Leaderboard.TimeBased.BasePoints,
		HalfLife:      config.TTLDuration(cfg.Leaderboard.TimeBased.HalfLife, 0),
		CorrectPoints: cfg.Leaderboard.PointBased.Correct,
		PartialPoints: cfg.Leaderboard.PointBased.Partial,
	})
	if err != nil {
		return err
	}

	registry := app.NewRegistry(store, store, bus, probe,
		app.WithLogger(log),
		app.WithMetrics(m),
		app.WithBoardCache(boards),
		app.WithIdleCheckInterval(config.TTLDuration(cfg.Session.IdleCheckInterval, 0)),
		app.WithCountdownInterval(config.TTLDuration(cfg.Session.CountdownInterval, 0)),
		app.WithProbeTimeout(config.TTLDuration(cfg.Session.ProbeTimeout, 0)),
	)
	defer registry.Close()

	participants := app.NewParticipantService(store, store, boards, app.WithParticipantLogger(log))
	leaderboards := app.NewLeaderboardService(store, store, strategy, boards, m)

	router := mux.NewRouter()
	router.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	}).Methods(http.MethodGet)
	router.Handle("/metrics", m.Handler()).Methods(http.MethodGet)
	router.HandleFunc("/ws", transport.NewWSHandler(participants, bus, log).ServeWS)
	transport.NewAPI(registry, leaderboards, log).Register(router)
	router.Use(requestLogger(log))

	server := &http.Server{
		Addr:        ":" + finalPort,
		Handler:     router,
		ReadTimeout: 15 * time.Second,
	}

	go func() {
		log.WithField("port", finalPort).Info("starting quiz session service")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("failed to start server")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		log.Info("shutting down server...")
	case <-ctx.Done():
		log.Info("context canceled, shutting down server...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func requestLogger(log logrus.FieldLogger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			next.ServeHTTP(w, r)
			log.WithFields(logrus.Fields{
				"method":   r.Method,
				"path":     r.URL.Path,
				"duration": time.Since(start).String(),
			}).Debug("request served")
		})
	}
}
