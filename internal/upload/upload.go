// Package upload handles the two-phase artifact hand-off with the
// chat platform: the requester agent reserves an upload slot and later
// finalizes it, while the worker streams bytes to the pre-signed
// handle in between. The handle carries no platform credential, so the
// worker never holds one.
package upload

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"rendergate/internal/pkg/errors"
	"rendergate/internal/pkg/logger"
	"rendergate/internal/topic"
)

// MaxArtifactBytes caps both size estimates and actual transfers.
const MaxArtifactBytes = 100_000_000

// Session is the single-use result of one reservation. It is valid
// for exactly one transfer and one finalize.
type Session struct {
	UploadURL string `json:"upload_url"`
	FileID    string `json:"file_id"`
}

// EstimateSize predicts the artifact size for a reservation from the
// validated render parameters. Bytes per pixel varies by quality tier;
// the estimate is conservative and capped at the artifact ceiling.
func EstimateSize(p topic.Params) int64 {
	perPixel := 0.03
	switch p.Quality {
	case "low":
		perPixel = 0.01
	case "high":
		perPixel = 0.08
	case "production":
		perPixel = 0.15
	}
	frames := float64(p.DurationS * p.FPS)
	estimate := int64(float64(p.Width*p.Height) * frames * perPixel)
	if estimate > MaxArtifactBytes {
		return MaxArtifactBytes
	}
	if estimate < 1 {
		return 1
	}
	return estimate
}

// Client talks to the platform's file API on the requester side.
type Client struct {
	baseURL string
	token   string
	client  *http.Client
	log     *logger.Logger
}

func NewClient(baseURL, token string, log *logger.Logger) *Client {
	if log == nil {
		log = logger.NewDefault()
	}
	return &Client{
		baseURL: baseURL,
		token:   token,
		client:  &http.Client{Timeout: 30 * time.Second},
		log:     log.WithComponent("upload"),
	}
}

type reserveRequest struct {
	Filename string `json:"filename"`
	Length   int64  `json:"length"`
}

type reserveResponse struct {
	OK        bool   `json:"ok"`
	UploadURL string `json:"upload_url"`
	FileID    string `json:"file_id"`
	Error     string `json:"error"`
}

// Reserve asks the platform for an upload slot. A response missing any
// of ok, upload_url, or file_id invalidates the reservation.
func (c *Client) Reserve(ctx context.Context, filename string, length int64) (*Session, error) {
	var out reserveResponse
	err := c.post(ctx, "/files/reserve", reserveRequest{Filename: filename, Length: length}, &out)
	if err != nil {
		return nil, err
	}
	if !out.OK || out.UploadURL == "" || out.FileID == "" {
		return nil, errors.New(errors.CodeUpload, "incomplete upload reservation").
			WithField("platform_error", out.Error)
	}
	c.log.Info("upload slot reserved", "file_id", out.FileID, "length", length)
	return &Session{UploadURL: out.UploadURL, FileID: out.FileID}, nil
}

type finalizeRequest struct {
	FileID string `json:"file_id"`
	Title  string `json:"title,omitempty"`
}

type finalizeResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
}

// Finalize publishes a completed upload. Until this call the file is
// invisible to the requester.
func (c *Client) Finalize(ctx context.Context, s *Session, title string) error {
	var out finalizeResponse
	err := c.post(ctx, "/files/finalize", finalizeRequest{FileID: s.FileID, Title: title}, &out)
	if err != nil {
		return err
	}
	if !out.OK {
		return errors.New(errors.CodeUpload, "finalize rejected by platform").
			WithField("platform_error", out.Error)
	}
	c.log.Info("upload finalized", "file_id", s.FileID)
	return nil
}

func (c *Client) post(ctx context.Context, path string, in any, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return errors.Wrap(err, "upload.post", "encoding request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(err, "upload.post", "building request")
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	res, err := c.client.Do(req)
	if err != nil {
		return errors.WrapWithCode(err, errors.CodeUpload, "upload.post", "platform unreachable")
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return errors.New(errors.CodeUpload, fmt.Sprintf("platform http %d", res.StatusCode))
	}
	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return errors.WrapWithCode(err, errors.CodeUpload, "upload.post", "decoding platform response")
	}
	return nil
}

// Uploader streams artifact bytes to a pre-signed handle on the worker
// side.
type Uploader struct {
	client *http.Client
	log    *logger.Logger
}

func NewUploader(client *http.Client, log *logger.Logger) *Uploader {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Minute}
	}
	if log == nil {
		log = logger.NewDefault()
	}
	return &Uploader{client: client, log: log.WithComponent("upload")}
}

// Transfer streams size bytes from r to the session's handle. A 413
// means the reservation was too small for the artifact; a 429 is a
// platform rate limit and retryable. Anything else non-2xx is fatal.
func (u *Uploader) Transfer(ctx context.Context, s *Session, r io.Reader, size int64) error {
	if s == nil || s.UploadURL == "" {
		return errors.New(errors.CodeUpload, "no upload session")
	}
	if size <= 0 {
		return errors.New(errors.CodeUpload, "nothing to upload")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, s.UploadURL, r)
	if err != nil {
		return errors.Wrap(err, "upload.transfer", "building request")
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set("Content-Length", strconv.FormatInt(size, 10))
	req.ContentLength = size

	start := time.Now()
	res, err := u.client.Do(req)
	if err != nil {
		return errors.WrapWithCode(err, errors.CodeUpload, "upload.transfer", "upload failed")
	}
	defer res.Body.Close()
	_, _ = io.Copy(io.Discard, res.Body)

	switch {
	case res.StatusCode >= 200 && res.StatusCode < 300:
		u.log.Info("artifact transferred",
			"file_id", s.FileID,
			"bytes", size,
			"duration_ms", time.Since(start).Milliseconds(),
		)
		return nil
	case res.StatusCode == http.StatusRequestEntityTooLarge:
		return errors.New(errors.CodeUpload, "artifact exceeds the reserved upload size").
			WithField("reason", "size_exceeded")
	case res.StatusCode == http.StatusTooManyRequests:
		return errors.New(errors.CodeUpload, "platform is rate limiting uploads").
			WithField("reason", "rate_limited").
			WithField("retryable", true)
	default:
		return errors.New(errors.CodeUpload, fmt.Sprintf("upload rejected with http %d", res.StatusCode))
	}
}
