package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/v2/mongo"

	echoapi "github.com/qodari/iam/api/echo"
	"github.com/qodari/iam/cache"
	redisstore "github.com/qodari/iam/cache/redis"
	"github.com/qodari/iam/config"
	"github.com/qodari/iam/domain"
	"github.com/qodari/iam/internal/auth"
	"github.com/qodari/iam/internal/metrics"
	"github.com/qodari/iam/middleware"
	"github.com/qodari/iam/mongodb"
	"github.com/qodari/iam/services"
)

const directoryCacheTTL = 30 * time.Second

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		bootLogger := zerolog.New(os.Stdout).With().Timestamp().Logger()
		bootLogger.Fatal().Err(err).Msg("Failed to load configuration")
	}

	setupLogger(cfg)
	log.Info().Msg("Starting qodari-iam server...")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	mongoClient, err := mongodb.Connect(ctx, cfg.MongoURI)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to MongoDB")
	}
	db := mongoClient.Database(cfg.MongoDBName)

	accounts, err := mongodb.NewAccountRepository(ctx, db)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to init account repository")
	}
	applications, err := mongodb.NewApplicationRepository(ctx, db)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to init application repository")
	}
	users, err := mongodb.NewUserRepository(ctx, db)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to init user repository")
	}
	apiClients, err := mongodb.NewApiClientRepository(ctx, db)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to init api client repository")
	}
	roles, err := mongodb.NewRoleRepository(ctx, db)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to init role repository")
	}
	authCodes, err := mongodb.NewAuthCodeRepository(ctx, db)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to init auth code repository")
	}
	refreshTokens, err := mongodb.NewRefreshTokenRepository(ctx, db)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to init refresh token repository")
	}
	sessionRepo, err := mongodb.NewSessionRepository(ctx, db)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to init session repository")
	}
	mfaRepo, err := mongodb.NewMfaRepository(ctx, db)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to init mfa repository")
	}

	rateLimitStore := buildRateLimitStore(cfg, db)

	directory := cache.NewDirectory(accounts, applications, directoryCacheTTL)
	hasher := auth.NewArgon2Hasher(auth.DefaultArgon2Params())
	limiter := services.NewRateLimiter(rateLimitStore)
	resolver := services.NewRoleResolver(roles)

	sessionTTL := time.Duration(cfg.SessionTTLHours) * time.Hour
	sessions := services.NewSessionService(sessionRepo, sessionTTL, cfg.CookieSecure)
	mfa := services.NewMfaService(mfaRepo, users, services.LogMailer{}, limiter)
	authCodeSvc := services.NewAuthCodeService(authCodes)
	tokens := services.NewTokenService(directory, users, apiClients, refreshTokens, authCodeSvc, resolver, hasher, cfg.Issuer)
	login := services.NewLoginService(directory, users, sessions, mfa, hasher, limiter)

	cleanup, err := services.NewCleanupService(
		cfg.CleanupEnabled,
		time.Duration(cfg.CleanupIntervalMin)*time.Minute,
		authCodes, refreshTokens, sessionRepo, mfaRepo, rateLimitStore,
	)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to init cleanup scheduler")
	}
	if err := cleanup.Start(); err != nil {
		log.Fatal().Err(err).Msg("Failed to start cleanup scheduler")
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics.InitCustomMetrics(reg)
	metricsServer := startMetricsServer(cfg.MetricsPort, reg)

	e := echo.New()
	e.HideBanner = true
	e.Use(echomw.Recover())
	e.Use(echomw.RequestID())

	sessionAuth := middleware.NewSessionAuth(sessions, users)
	api := echoapi.NewAuthAPI(login, tokens, authCodeSvc, sessions, directory, resolver, limiter, sessionAuth)
	api.RegisterRoutes(e)

	go func() {
		log.Info().Str("port", cfg.HTTPPort).Msg("HTTP server listening")
		if err := e.Start(":" + cfg.HTTPPort); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("Shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Metrics server shutdown failed")
	}
	if err := cleanup.Stop(); err != nil {
		log.Error().Err(err).Msg("Cleanup scheduler shutdown failed")
	}
	mongodb.Disconnect(shutdownCtx, mongoClient)
	log.Info().Msg("Shutdown complete")
}

func setupLogger(cfg *config.ServerConfig) {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	if cfg.LogPretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	}
}

// buildRateLimitStore selects the counter backend. MongoDB is the default;
// Redis is for deployments that want counter traffic off the primary
// database.
func buildRateLimitStore(cfg *config.ServerConfig, db *mongo.Database) domain.RateLimitStore {
	if cfg.RateLimitBackend == "redis" {
		if cfg.RedisAddr == "" {
			log.Fatal().Msg("RATE_LIMIT_BACKEND is redis but REDIS_ADDR is empty")
		}
		client := goredis.NewClient(&goredis.Options{Addr: cfg.RedisAddr})
		log.Info().Str("addr", cfg.RedisAddr).Msg("Using Redis rate limit store")
		return redisstore.NewRateLimitStore(client, "iam:rl")
	}
	return mongodb.NewRateLimitRepository(db)
}

func startMetricsServer(port string, reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: ":" + port, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		log.Info().Str("port", port).Msg("Metrics server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("Metrics server failed")
		}
	}()
	return srv
}
