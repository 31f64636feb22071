// Package server assembles the chi routers served by pos-service and the
// kitchen display.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"labonnas-pos/internal/auth"
	"labonnas-pos/internal/httpx"
	"labonnas-pos/internal/logger"
)

// Routes is implemented by every service handler.
type Routes interface {
	Routes(r chi.Router)
}

type pinger interface {
	Ping(ctx context.Context) error
}

type broker interface {
	IsClosed() bool
}

type Options struct {
	Service        string
	Store          pinger
	Broker         broker // nil when RabbitMQ is disabled
	Tokens         *auth.Tokens
	RequestTimeout time.Duration
	AllowedOrigins []string
	Logger         *logger.Logger
}

// NewAPI serves /health and mounts handlers under /api behind bearer auth.
func NewAPI(opts Options, handlers ...Routes) http.Handler {
	r := base(opts)
	r.Route("/api", func(r chi.Router) {
		r.Use(auth.Middleware(opts.Tokens))
		for _, h := range handlers {
			h.Routes(r)
		}
	})
	return r
}

// NewKitchenDisplay serves /health and the handlers at the root, without
// auth, for the screens on the kitchen network.
func NewKitchenDisplay(opts Options, handlers ...Routes) http.Handler {
	r := base(opts)
	for _, h := range handlers {
		h.Routes(r)
	}
	return r
}

func base(opts Options) *chi.Mux {
	timeout := opts.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(httpx.WithLogging(opts.Logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(timeout))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		ExposedHeaders: []string{"X-Request-Id"},
		MaxAge:         300,
	}))

	r.Get("/health", health(opts))
	return r
}
