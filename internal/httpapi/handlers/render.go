package handlers

import (
	"net/http"
	"os"
	"strings"

	"rendergate/internal/audit"
	"rendergate/internal/httpkit"
	"rendergate/internal/pkg/errors"
	"rendergate/internal/render"
	"rendergate/internal/token"
	"rendergate/internal/topic"
	"rendergate/internal/upload"
)

type renderParams struct {
	Width     int    `json:"width"`
	Height    int    `json:"height"`
	DurationS int    `json:"duration_s"`
	FPS       int    `json:"fps"`
	Quality   string `json:"quality"`
}

type renderRequest struct {
	Topic     string        `json:"topic"`
	UploadURL string        `json:"upload_url"`
	FileID    string        `json:"file_id"`
	Render    *renderParams `json:"render"`
}

type renderResponse struct {
	OK           bool   `json:"ok"`
	Topic        string `json:"topic"`
	ArtifactSize int64  `json:"artifact_size"`
	DurationMS   int64  `json:"duration_ms"`
	Actor        string `json:"actor"`
	ActingFor    string `json:"acting_for,omitempty"`
}

// Render runs one render job end to end: verify the delegated
// credential, validate the topic and parameters, generate the script,
// render under resource ceilings, and stream the artifact to the
// pre-signed handle from the request. Nothing is persisted; a failed
// request leaves no state behind.
func (h *Handler) Render(w http.ResponseWriter, r *http.Request) error {
	ctx := r.Context()
	log := h.log.FromContext(ctx)

	raw, err := bearerToken(r)
	if err != nil {
		h.audit.Record(ctx, audit.Event{Kind: audit.KindTokenRejected, Reason: "missing_bearer"})
		return err
	}

	vc, err := h.verifier.Verify(ctx, raw)
	if err != nil {
		h.audit.Record(ctx, audit.Event{
			Kind:   audit.KindTokenRejected,
			Reason: token.RejectionReason(err),
		})
		return err
	}
	log = log.WithFields(map[string]any{"actor": vc.Subject, "jti": vc.TokenID})

	var req renderRequest
	if err := httpkit.DecodeJSON(r, &req); err != nil {
		return errors.InputRejected("request body is not valid JSON")
	}
	if req.UploadURL == "" || req.FileID == "" {
		return errors.InputRejected("upload_url and file_id are required")
	}

	if err := topic.Validate(req.Topic); err != nil {
		if policy, _ := errors.GetFields(err)["policy"].(string); policy == "forbidden_content" {
			h.audit.Record(ctx, audit.Event{
				Kind:      audit.KindUnsafeContent,
				TokenID:   vc.TokenID,
				Actor:     vc.Subject,
				ActingFor: vc.ActingFor,
				Reason:    "topic_rejected",
			})
		}
		return err
	}

	params := topic.DefaultParams()
	if req.Render != nil {
		params = topic.Params{
			Width:     req.Render.Width,
			Height:    req.Render.Height,
			DurationS: req.Render.DurationS,
			FPS:       req.Render.FPS,
			Quality:   req.Render.Quality,
		}
	}
	if err := topic.ValidateRenderParams(params); err != nil {
		return err
	}

	scr, err := h.generator.Generate(topic.SanitizeForFilename(req.Topic))
	if err != nil {
		if errors.GetCode(err) == errors.CodeUnsafeContent {
			h.audit.Record(ctx, audit.Event{
				Kind:      audit.KindUnsafeContent,
				TokenID:   vc.TokenID,
				Actor:     vc.Subject,
				ActingFor: vc.ActingFor,
				Reason:    "script_policy",
			})
		}
		return err
	}

	if !h.slots.TryAcquire() {
		log.Warn("render pool exhausted", "capacity", h.slots.Capacity())
		return errors.Busy()
	}
	defer h.slots.Release()

	res, err := h.renderer.Render(ctx, scr, params)
	if res != nil {
		defer res.Close()
	}
	if err != nil {
		h.audit.Record(ctx, audit.Event{
			Kind:      audit.KindRenderFailed,
			TokenID:   vc.TokenID,
			Actor:     vc.Subject,
			ActingFor: vc.ActingFor,
			Reason:    failureReason(res),
			Fields:    map[string]any{"family": string(scr.Family)},
		})
		return err
	}

	artifact, err := os.Open(res.ArtifactPath)
	if err != nil {
		return errors.Wrap(err, "render.artifact", "opening artifact")
	}
	defer artifact.Close()

	session := &upload.Session{UploadURL: req.UploadURL, FileID: req.FileID}
	if err := h.uploader.Transfer(ctx, session, artifact, res.ArtifactBytes); err != nil {
		h.audit.Record(ctx, audit.Event{
			Kind:      audit.KindUploadFailed,
			TokenID:   vc.TokenID,
			Actor:     vc.Subject,
			ActingFor: vc.ActingFor,
			Reason:    uploadReason(err),
		})
		return err
	}

	h.audit.Record(ctx, audit.Event{
		Kind:      audit.KindRenderComplete,
		TokenID:   vc.TokenID,
		Actor:     vc.Subject,
		ActingFor: vc.ActingFor,
		Fields: map[string]any{
			"family":      string(scr.Family),
			"bytes":       res.ArtifactBytes,
			"duration_ms": res.Duration.Milliseconds(),
		},
	})
	log.Info("render request completed",
		"family", string(scr.Family),
		"bytes", res.ArtifactBytes,
		"duration_ms", res.Duration.Milliseconds(),
	)

	httpkit.WriteJSON(w, http.StatusOK, renderResponse{
		OK:           true,
		Topic:        req.Topic,
		ArtifactSize: res.ArtifactBytes,
		DurationMS:   res.Duration.Milliseconds(),
		Actor:        vc.Subject,
		ActingFor:    vc.ActingFor,
	})
	return nil
}

func bearerToken(r *http.Request) (string, error) {
	const prefix = "Bearer "
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, prefix) {
		return "", errors.Credential("missing bearer token")
	}
	raw := strings.TrimSpace(strings.TrimPrefix(header, prefix))
	if raw == "" {
		return "", errors.Credential("missing bearer token")
	}
	return raw, nil
}

func failureReason(res *render.Result) string {
	if res == nil || res.FailureKind == "" {
		return "start_failed"
	}
	return res.FailureKind
}

func uploadReason(err error) string {
	if reason, ok := errors.GetFields(err)["reason"].(string); ok {
		return reason
	}
	return "fatal"
}
