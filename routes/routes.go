package routes

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	httpSwagger "github.com/swaggo/http-swagger"

	_ "github.com/Dosada05/league-portal/docs"
	"github.com/Dosada05/league-portal/handlers"
	"github.com/Dosada05/league-portal/middleware"
	"github.com/Dosada05/league-portal/models"
)

type Options struct {
	AllowedOrigins []string
	RequestTimeout time.Duration
}

func SetupRoutes(
	router chi.Router,
	opts Options,
	auth *middleware.Authenticator,
	bracketHandler *handlers.BracketHandler,
	webSocketHandler *handlers.WebSocketHandler,
) {
	router.Use(chiMiddleware.RequestID)
	router.Use(chiMiddleware.RealIP)
	router.Use(chiMiddleware.Logger)
	router.Use(chiMiddleware.Recoverer)
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   opts.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	router.Get("/healthz", bracketHandler.Health)
	router.Get("/swagger/*", httpSwagger.Handler(httpSwagger.URL("/swagger/doc.json")))

	// Websocket connections are long-lived and stay outside the request timeout.
	router.Get("/ws/sports/{sportID}", webSocketHandler.ServeWs)

	router.Route("/api", func(r chi.Router) {
		if opts.RequestTimeout > 0 {
			r.Use(chiMiddleware.Timeout(opts.RequestTimeout))
		}

		r.Get("/sports/{sportID}/bracket", bracketHandler.GetBracket)

		r.Group(func(r chi.Router) {
			r.Use(auth.Authenticate)

			r.With(middleware.RequireRole(models.RoleAdmin, models.RoleOrganizer, models.RoleReferee)).
				Post("/matches/{matchID}/score", bracketHandler.SubmitScore)
			r.With(middleware.RequireRole(models.RoleAdmin)).
				Post("/sports/{sportID}/bracket/reconcile", bracketHandler.ReconcileBracket)
		})
	})

	router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":"the requested resource could not be found"}` + "\n"))
	})
}
