package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"rendergate/internal/audit"
	"rendergate/internal/pkg/errors"
	"rendergate/internal/pkg/logger"
	"rendergate/internal/ports"
	"rendergate/internal/token"
	"rendergate/internal/topic"
	"rendergate/internal/upload"
)

// Pipeline runs one ask end to end on the requester side: validate,
// reserve an upload slot, mint a delegated credential, call the
// worker, publish, archive a receipt. Each step fails the ask; there
// are no partial completions to resume.
type Pipeline struct {
	issuer   token.Issuer
	uploads  *upload.Client
	worker   *WorkerClient
	archive  ports.StorageProvider
	audit    *audit.Sink
	log      *logger.Logger
	audience string
	scopes   []string
}

type PipelineConfig struct {
	Issuer   token.Issuer
	Uploads  *upload.Client
	Worker   *WorkerClient
	Archive  ports.StorageProvider
	Audit    *audit.Sink
	Log      *logger.Logger
	Audience string
	Scopes   []string
}

func NewPipeline(cfg PipelineConfig) *Pipeline {
	if cfg.Log == nil {
		cfg.Log = logger.NewDefault()
	}
	if cfg.Audit == nil {
		cfg.Audit = audit.NewSink(nil, cfg.Log)
	}
	return &Pipeline{
		issuer:   cfg.Issuer,
		uploads:  cfg.Uploads,
		worker:   cfg.Worker,
		archive:  cfg.Archive,
		audit:    cfg.Audit,
		log:      cfg.Log.WithComponent("pipeline"),
		audience: cfg.Audience,
		scopes:   cfg.Scopes,
	}
}

// receipt is the archived record of one completed render. The artifact
// itself lives on the platform; this is the requester's own copy of
// what happened.
type receipt struct {
	Topic        string `json:"topic"`
	FileID       string `json:"file_id"`
	Filename     string `json:"filename"`
	ArtifactSize int64  `json:"artifact_size"`
	Actor        string `json:"actor"`
	ActingFor    string `json:"acting_for"`
	RenderedAt   string `json:"rendered_at"`
}

func (p *Pipeline) Process(ctx context.Context, rawAsk string) error {
	log := p.log.FromContext(ctx)

	ask, err := parseAsk(rawAsk)
	if err != nil {
		return err
	}

	// Fail fast before any remote call.
	if err := topic.Validate(ask.Topic); err != nil {
		return err
	}
	params := topic.DefaultParams()
	if ask.Render != nil {
		params = topic.Params{
			Width:     ask.Render.Width,
			Height:    ask.Render.Height,
			DurationS: ask.Render.DurationS,
			FPS:       ask.Render.FPS,
			Quality:   ask.Render.Quality,
		}
	}
	if err := topic.ValidateRenderParams(params); err != nil {
		return err
	}

	filename := ask.Filename
	if filename == "" {
		filename = topic.SanitizeForFilename(ask.Topic) + ".mp4"
	}

	session, err := p.uploads.Reserve(ctx, filename, upload.EstimateSize(params))
	if err != nil {
		return err
	}

	bearer, err := p.issuer.Issue(ctx, token.IssueRequest{
		Audience:  p.audience,
		Scopes:    p.scopes,
		ActingFor: ask.UserID,
	})
	if err != nil {
		return err
	}
	p.audit.Record(ctx, audit.Event{
		Kind:      audit.KindTokenIssued,
		ActingFor: ask.UserID,
		Fields:    map[string]any{"audience": p.audience, "scopes": p.scopes},
	})

	result, err := p.worker.Render(ctx, bearer, RenderRequest{
		Topic:     ask.Topic,
		UploadURL: session.UploadURL,
		FileID:    session.FileID,
		Render:    params,
	})
	if err != nil {
		p.audit.Record(ctx, audit.Event{
			Kind:      audit.KindRenderFailed,
			ActingFor: ask.UserID,
			Reason:    string(errors.GetCode(err)),
		})
		return err
	}

	if err := p.uploads.Finalize(ctx, session, ask.Topic); err != nil {
		return err
	}

	p.archiveReceipt(ctx, log, receipt{
		Topic:        ask.Topic,
		FileID:       session.FileID,
		Filename:     filename,
		ArtifactSize: result.ArtifactSize,
		Actor:        result.Actor,
		ActingFor:    ask.UserID,
		RenderedAt:   time.Now().UTC().Format(time.RFC3339),
	})

	p.audit.Record(ctx, audit.Event{
		Kind:      audit.KindRenderComplete,
		Actor:     result.Actor,
		ActingFor: ask.UserID,
		Fields:    map[string]any{"file_id": session.FileID, "bytes": result.ArtifactSize},
	})
	log.Info("ask completed",
		"file_id", session.FileID,
		"bytes", result.ArtifactSize,
		"duration_ms", result.DurationMS,
	)
	return nil
}

// archiveReceipt keeps a copy of the outcome in the configured storage
// backend. Best effort: a failed archive does not fail the ask.
func (p *Pipeline) archiveReceipt(ctx context.Context, log *logger.Logger, rec receipt) {
	if p.archive == nil {
		return
	}
	body, err := json.Marshal(rec)
	if err != nil {
		return
	}
	key := fmt.Sprintf("archive/%s/%s.json", rec.FileID, rec.Filename)
	_, err = p.archive.PutObject(ctx, ports.PutObjectInput{
		ObjectKey:   key,
		ContentType: "application/json",
		Reader:      bytes.NewReader(body),
		Size:        int64(len(body)),
	})
	if err != nil {
		log.Warn("archiving receipt failed", "key", key, "error", err.Error())
	}
}
