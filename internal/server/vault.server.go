package server

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"vault-service/internal/config"
	"vault-service/internal/handler"
	"vault-service/internal/repository"
	"vault-service/internal/service/keywrap"
	vaultservice "vault-service/internal/service/vault"
	"vault-service/pkg/middleware"
)

type Server struct {
	Cfg    config.AppConfig
	DB     *pgxpool.Pool
	Rdb    *redis.Client
	Logger *zap.Logger

	Handler *handler.VaultHandler
	Auth    *middleware.AuthMiddleware
}

func NewServer(logger *zap.Logger) *Server {
	cfg := config.Load()

	dbpool, err := pgxpool.New(context.Background(), cfg.DBConnString)
	if err != nil {
		logger.Fatal("failed to connect to DB", zap.Error(err))
	}

	rdb := redis.NewClient(&redis.Options{
		Addr: cfg.RedisAddr, Password: cfg.RedisPass,
	})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		logger.Warn("failed to connect to redis", zap.Error(err))
	}

	if cfg.JWTSecret == "" {
		logger.Fatal("JWT_SECRET is required")
	}

	if cfg.KDFTime > 0 || cfg.KDFMemoryKiB > 0 || cfg.KDFThreads > 0 {
		keywrap.SetCost(uint32(cfg.KDFTime), uint32(cfg.KDFMemoryKiB), uint8(cfg.KDFThreads))
	}

	store := repository.NewStore(dbpool)
	vaultSvc := vaultservice.NewVaultService(store, logger)
	recoverySvc := vaultservice.NewRecoveryService(store, logger)

	return &Server{
		Cfg:     cfg,
		DB:      dbpool,
		Rdb:     rdb,
		Logger:  logger,
		Handler: handler.NewVaultHandler(vaultSvc, recoverySvc, logger),
		Auth:    middleware.NewAuthMiddleware(cfg.JWTSecret),
	}
}

func (s *Server) Close() {
	s.DB.Close()
	_ = s.Rdb.Close()
}
