package router

import (
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/redis/go-redis/v9"

	"vault-service/internal/handler"
	"vault-service/pkg/middleware"
)

func SetupRoutes(
	r chi.Router,
	h *handler.VaultHandler,
	auth *middleware.AuthMiddleware,
	rdb *redis.Client,
) chi.Router {
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Route("/api/v1", func(api chi.Router) {
		api.Get("/vault/health", h.Health)

		api.Group(func(g chi.Router) {
			g.Use(auth.Require)
			g.Use(middleware.RateLimiter(rdb, 100, time.Minute, time.Minute, "vault_api"))

			g.Get("/vault/status", h.HandleStatus)
			g.Get("/vault/events", h.HandleListEvents)

			g.Post("/vault/initialize", h.HandleInitialize)
			g.Post("/vault/lock", h.HandleLock)
			g.Post("/vault/passphrase", h.HandleChangePassphrase)
			g.Post("/vault/recovery-codes", h.HandleGenerateRecoveryCodes)

			// Credential-verifying routes: KDF-bound and guessable, so a
			// much tighter limit with a block window.
			g.Group(func(cred chi.Router) {
				cred.Use(middleware.RateLimiter(rdb, 5, 30*time.Second, 5*time.Minute, "vault_unlock"))
				cred.Post("/vault/unlock", h.HandleUnlock)
				cred.Post("/vault/recovery-codes/redeem", h.HandleRedeemRecoveryCode)
			})
		})
	})

	return r
}
