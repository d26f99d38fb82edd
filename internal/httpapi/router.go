package httpapi

import (
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"rendergate/internal/httpapi/handlers"
	"rendergate/internal/httpkit"
	"rendergate/internal/pkg/logger"
	"rendergate/internal/pkg/middleware"
)

// NewRouter wires the worker's three endpoints behind the standard
// middleware chain. The render timeout is generous; the renderer's own
// wall clock is the real ceiling.
func NewRouter(d handlers.Deps) http.Handler {
	log := d.Log
	if log == nil {
		log = logger.NewDefault()
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recovery(log))
	r.Use(middleware.Logging(log))
	r.Use(middleware.Timeout(10 * time.Minute))

	allowedOrigins := envCSV("CORS_ALLOWED_ORIGINS", nil)
	if len(allowedOrigins) > 0 {
		r.Use(httpkit.CORS(httpkit.CORSOptions{
			AllowedOrigins:   allowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders:   []string{"Content-Type", "Authorization"},
			AllowCredentials: false,
			MaxAgeSeconds:    600,
		}))
	}

	h := handlers.New(d)

	r.Get("/health", h.Health)
	r.Get("/capabilities", h.Capabilities)
	r.Post("/render", middleware.WrapHandler(log, h.Render))

	return r
}

func envCSV(key string, def []string) []string {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}
