package main // Entry point package

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/iliyamo/chat-realtime/internal/config"
	"github.com/iliyamo/chat-realtime/internal/database"
	"github.com/iliyamo/chat-realtime/internal/handler"
	"github.com/iliyamo/chat-realtime/internal/middleware"
	"github.com/iliyamo/chat-realtime/internal/queue"
	"github.com/iliyamo/chat-realtime/internal/realtime"
	"github.com/iliyamo/chat-realtime/internal/repository"
	"github.com/iliyamo/chat-realtime/internal/router"
	"github.com/iliyamo/chat-realtime/internal/service"
	"github.com/iliyamo/chat-realtime/internal/utils"
)

func setupLogger(env string) {
	zerolog.TimeFieldFormat = time.RFC3339
	if env == "dev" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
		return
	}
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
}

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn().Err(err).Msg("could not read .env")
	}
	cfg := config.Load()
	setupLogger(cfg.Env)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
	if err != nil {
		log.Fatal().Err(err).Msg("database")
	}
	defer db.Close()
	if err := database.Migrate(ctx, db); err != nil {
		log.Fatal().Err(err).Msg("migrate")
	}

	scope, err := service.ParseScope(cfg.SessionScope)
	if err != nil {
		log.Fatal().Err(err).Msg("SESSION_SCOPE")
	}
	rdb := config.NewRedisClient()
	if rdb != nil {
		defer rdb.Close()
	}

	// Realtime fan-out.  With FANOUT_REDIS every instance publishes through
	// Redis and delivers what it receives to its own connections.
	hub := realtime.NewHub()
	registry := realtime.NewRegistry()
	var pub service.Publisher = hub
	if cfg.FanoutRedis && rdb != nil {
		relay := realtime.NewRedisRelay(rdb, realtime.DefaultRelayChannel, hub)
		go relay.Run(ctx)
		pub = relay
	}
	events := service.NewNotifier(pub)

	var activity service.ActivityRecorder = service.NopRecorder{}
	if cfg.RabbitMQURL != "" {
		qp := queue.NewPublisher(cfg.RabbitMQURL)
		defer qp.Close()
		activity = qp
		go func() {
			if err := queue.StartActivityConsumer(ctx, cfg.RabbitMQURL, cfg.LogDir); err != nil && !errors.Is(err, context.Canceled) {
				log.Error().Err(err).Msg("activity consumer stopped")
			}
		}()
	}

	store := repository.NewSQLStore(db)
	hasher := utils.Bcrypt{Cost: cfg.BcryptCost}
	coord := service.NewCoordinator(store, hasher, service.NewValidator(scope), events, activity, cfg.JoinMaxRetries)
	rooms := service.NewRoomService(store, hasher, events)
	messages := service.NewMessageService(store, events)
	reconciler := service.NewReconciler(coord, registry)

	// The registry only knows this process's connections, so a sweep would
	// close sessions held on other instances.
	sweepEvery := cfg.SweepInterval
	if cfg.FanoutRedis {
		sweepEvery = 0
	}
	go service.NewSweeper(coord, registry, hub, sweepEvery, cfg.SweepGrace).Run(ctx)

	ws := realtime.NewServer(hub, reconciler, messages, handler.TokenAuthenticator(cfg.JWTSecret), realtime.ServerConfig{
		SendBuffer: cfg.WSSendBuffer,
		PingPeriod: cfg.WSPingPeriod,
	})

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(echomw.Recover())
	e.Use(middleware.RequestLogger(log.With().Str("module", "http").Logger()))

	router.RegisterRoutes(e, db)
	router.RegisterAuth(e, handler.NewAuthHandler(cfg, repository.NewUserRepo(db), repository.NewTokenRepo(db)), cfg.JWTSecret)
	router.RegisterRooms(e, handler.NewRoomHandler(rooms, coord), cfg.JWTSecret,
		middleware.NewTokenBucket(config.LoadRateLimitConfig(), rdb),
		middleware.NewRedisCache(config.LoadCacheConfig(), rdb))
	router.RegisterMessages(e, handler.NewMessageHandler(messages), cfg.JWTSecret)
	router.RegisterRealtime(e, handler.WebSocket(ws))

	addr := ":" + cfg.Port
	go func() {
		log.Info().Str("addr", addr).Str("env", cfg.Env).Str("session_scope", cfg.SessionScope).Msg("listening")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("shutdown")
	}
}
