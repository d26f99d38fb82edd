// Package handlers implements the worker's HTTP endpoints. Every
// privileged operation sits behind delegated-credential verification;
// the worker itself holds no platform secret.
package handlers

import (
	"github.com/jackc/pgx/v5/pgxpool"

	"rendergate/internal/audit"
	"rendergate/internal/pkg/logger"
	"rendergate/internal/render"
	"rendergate/internal/script"
	"rendergate/internal/token"
	"rendergate/internal/upload"
)

type Deps struct {
	Verifier  *token.Verifier
	Generator *script.Generator
	Renderer  *render.Renderer
	Uploader  *upload.Uploader
	Audit     *audit.Sink
	Slots     *Slots
	Pool      *pgxpool.Pool
	Log       *logger.Logger

	// EnginePath is reported by health checks; the renderer owns the
	// actual invocation.
	EnginePath string
}

type Handler struct {
	verifier  *token.Verifier
	generator *script.Generator
	renderer  *render.Renderer
	uploader  *upload.Uploader
	audit     *audit.Sink
	slots     *Slots
	pool      *pgxpool.Pool
	log       *logger.Logger

	enginePath string
}

func New(d Deps) *Handler {
	if d.Log == nil {
		d.Log = logger.NewDefault()
	}
	if d.Slots == nil {
		d.Slots = NewSlots(0)
	}
	if d.Audit == nil {
		d.Audit = audit.NewSink(nil, d.Log)
	}
	return &Handler{
		verifier:   d.Verifier,
		generator:  d.Generator,
		renderer:   d.Renderer,
		uploader:   d.Uploader,
		audit:      d.Audit,
		slots:      d.Slots,
		pool:       d.Pool,
		log:        d.Log.WithComponent("httpapi"),
		enginePath: d.EnginePath,
	}
}
