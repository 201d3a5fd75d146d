package apiapp

import (
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/ivankudzin/tgaccounts/internal/config"
	"github.com/ivankudzin/tgaccounts/internal/services/accounts"
	authsvc "github.com/ivankudzin/tgaccounts/internal/services/auth"
	"github.com/ivankudzin/tgaccounts/internal/transport/http/handlers"
)

type Dependencies struct {
	AccountsService *accounts.Service
	AuthService     *authsvc.Service
	Store           accounts.Store
	Logger          *zap.Logger
	Config          config.Config
}

func RegisterRoutes(r chi.Router, deps Dependencies) {
	healthHandler := handlers.NewHealthHandler(deps.Config.Env, deps.Store)
	usersHandler := handlers.NewUsersHandler(deps.AccountsService, deps.Logger)
	accountsHandler := handlers.NewAccountsHandler(deps.AccountsService, deps.Config.Codes.ExposeResetCode, deps.Logger)
	if deps.AuthService != nil {
		accountsHandler.AttachTokens(deps.AuthService)
	}
	authHandler := handlers.NewAuthHandler(deps.AuthService, deps.Logger)
	staticHandler := handlers.NewStaticHandler(deps.Config.Static.Dir)
	authMW := AuthMiddleware(deps.AuthService, deps.Logger)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", healthHandler.Handle)
		r.Get("/users", usersHandler.List)
		r.With(authMW).Get("/me", usersHandler.Me)

		r.Route("/auth", func(r chi.Router) {
			r.Post("/register", accountsHandler.Register)
			r.Post("/login", accountsHandler.Login)
			r.Post("/request-telegram-link", accountsHandler.RequestTelegramLink)
			r.Post("/confirm-telegram-link", accountsHandler.ConfirmTelegramLink)
			r.Post("/request-password-reset", accountsHandler.RequestPasswordReset)
			r.Post("/reset-password", accountsHandler.ResetPassword)
			r.Post("/refresh", authHandler.Refresh)
			r.With(authMW).Post("/logout", authHandler.Logout)
		})
	})

	r.Get("/", staticHandler.Index)
	for _, page := range handlers.Pages {
		r.Get("/"+page, staticHandler.Page)
	}
}
