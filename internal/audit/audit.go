// Package audit records security-relevant pipeline events: token
// issuance and rejection, unsafe content, render outcomes. Writes are
// fire-and-forget so a slow or absent database never blocks a render.
package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"rendergate/internal/pkg/logger"
)

// Event kinds. Kept flat; consumers filter on kind + reason.
const (
	KindTokenIssued    = "token_issued"
	KindTokenRejected  = "token_rejected"
	KindUnsafeContent  = "unsafe_content"
	KindRenderComplete = "render_complete"
	KindRenderFailed   = "render_failed"
	KindUploadFailed   = "upload_failed"
)

type Event struct {
	Kind      string
	TokenID   string
	Actor     string
	ActingFor string
	Reason    string
	Fields    map[string]any
}

// Sink writes events to Postgres when a pool is configured and to the
// structured log always. A nil pool degrades to log-only so the
// pipeline runs without a database.
type Sink struct {
	pool *pgxpool.Pool
	log  *logger.Logger
}

func NewSink(pool *pgxpool.Pool, log *logger.Logger) *Sink {
	if log == nil {
		log = logger.NewDefault()
	}
	return &Sink{pool: pool, log: log.WithComponent("audit")}
}

// Record logs the event and, when a pool is present, inserts it. The
// insert error is swallowed: audit must never fail the pipeline.
func (s *Sink) Record(ctx context.Context, e Event) {
	if s == nil {
		return
	}
	s.log.Info("audit event",
		"kind", e.Kind,
		"token_id", e.TokenID,
		"actor", e.Actor,
		"acting_for", e.ActingFor,
		"reason", e.Reason,
	)
	if s.pool == nil {
		return
	}

	details, _ := json.Marshal(e.Fields)
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	go func() {
		defer cancel()
		_, err := s.pool.Exec(writeCtx, `
INSERT INTO audit_events(kind,token_id,actor,acting_for,reason,details)
VALUES($1,$2,$3,$4,$5,$6::jsonb)
`, e.Kind, e.TokenID, e.Actor, e.ActingFor, e.Reason, string(details))
		if err != nil {
			s.log.Warn("audit insert failed", "kind", e.Kind, "error", err.Error())
		}
	}()
}
