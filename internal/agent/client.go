package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"rendergate/internal/pkg/errors"
	"rendergate/internal/topic"
)

// RenderRequest is the worker's /render wire contract.
type RenderRequest struct {
	Topic     string       `json:"topic"`
	UploadURL string       `json:"upload_url"`
	FileID    string       `json:"file_id"`
	Render    topic.Params `json:"render"`
}

// RenderResult is the worker's success response.
type RenderResult struct {
	OK           bool   `json:"ok"`
	Topic        string `json:"topic"`
	ArtifactSize int64  `json:"artifact_size"`
	DurationMS   int64  `json:"duration_ms"`
	Actor        string `json:"actor"`
	ActingFor    string `json:"acting_for"`
}

type workerError struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// WorkerClient calls a render worker over HTTP with a delegated bearer
// token. The timeout covers the full render.
type WorkerClient struct {
	baseURL string
	client  *http.Client
}

func NewWorkerClient(baseURL string) *WorkerClient {
	return &WorkerClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 10 * time.Minute},
	}
}

func (c *WorkerClient) Render(ctx context.Context, bearer string, spec RenderRequest) (*RenderResult, error) {
	body, err := json.Marshal(spec)
	if err != nil {
		return nil, errors.Wrap(err, "agent.render", "encoding request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/render", bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "agent.render", "building request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+bearer)

	res, err := c.client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "agent.render", "worker unreachable")
	}
	defer res.Body.Close()

	if res.StatusCode == http.StatusTooManyRequests {
		return nil, errors.Busy().WithField("retryable", true)
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		var we workerError
		_ = json.NewDecoder(res.Body).Decode(&we)
		code := errors.Code(we.Error.Code)
		if code == "" {
			code = errors.CodeInternal
		}
		msg := we.Error.Message
		if msg == "" {
			msg = fmt.Sprintf("worker http %d", res.StatusCode)
		}
		return nil, errors.New(code, msg)
	}

	var out RenderResult
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return nil, errors.Wrap(err, "agent.render", "decoding worker response")
	}
	if !out.OK {
		return nil, errors.Internal("worker reported failure without an error code")
	}
	return &out, nil
}
