package agent

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"rendergate/internal/pkg/errors"
	"rendergate/internal/ports"
	"rendergate/internal/token"
	"rendergate/internal/upload"
)

type memStorage struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newMemStorage() *memStorage {
	return &memStorage{objects: make(map[string][]byte)}
}

func (m *memStorage) Provider() string { return "mem" }

func (m *memStorage) PutObject(_ context.Context, in ports.PutObjectInput) (ports.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Reader)
	if err != nil {
		return ports.PutObjectOutput{}, err
	}
	m.mu.Lock()
	m.objects[in.ObjectKey] = data
	m.mu.Unlock()
	return ports.PutObjectOutput{ObjectKey: in.ObjectKey, Size: int64(len(data))}, nil
}

func (m *memStorage) GetObject(_ context.Context, key string) (io.ReadCloser, string, int64, error) {
	return nil, "", 0, errors.NotFound("object", key)
}

func (m *memStorage) DeleteObject(_ context.Context, key string) error { return nil }

type fakePlatform struct {
	srv       *httptest.Server
	mu        sync.Mutex
	reserves  []int64
	filenames []string
	finalized []string
}

func newFakePlatform(t *testing.T) *fakePlatform {
	t.Helper()
	p := &fakePlatform{}
	p.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/files/reserve":
			var req struct {
				Filename string `json:"filename"`
				Length   int64  `json:"length"`
			}
			_ = json.NewDecoder(r.Body).Decode(&req)
			p.mu.Lock()
			p.reserves = append(p.reserves, req.Length)
			p.filenames = append(p.filenames, req.Filename)
			p.mu.Unlock()
			_ = json.NewEncoder(w).Encode(map[string]any{
				"ok": true, "upload_url": "http://unused.invalid", "file_id": "F900",
			})
		case "/files/finalize":
			var req struct {
				FileID string `json:"file_id"`
			}
			_ = json.NewDecoder(r.Body).Decode(&req)
			p.mu.Lock()
			p.finalized = append(p.finalized, req.FileID)
			p.mu.Unlock()
			_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
		default:
			t.Errorf("unexpected platform path %s", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(p.srv.Close)
	return p
}

func (p *fakePlatform) calls() (reserves, finalized int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.reserves), len(p.finalized)
}

func newTestPipeline(t *testing.T, workerStatus int, store *memStorage) (*Pipeline, *fakePlatform, *[]string) {
	t.Helper()

	platform := newFakePlatform(t)

	var bearers []string
	var mu sync.Mutex
	worker := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		bearers = append(bearers, r.Header.Get("Authorization"))
		mu.Unlock()
		if workerStatus != http.StatusOK {
			w.WriteHeader(workerStatus)
			_, _ = w.Write([]byte(`{"error":{"code":"BUSY","message":"no free render slots"}}`))
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"ok": true, "topic": "t", "artifact_size": 1234, "duration_ms": 50,
			"actor": "dev-agent", "acting_for": "U42",
		})
	}))
	t.Cleanup(worker.Close)

	issuer := token.NewDevIssuer(token.DevIssuerConfig{
		Secret:  []byte("agent-test-secret"),
		Subject: "dev-agent",
	}, nil)

	p := NewPipeline(PipelineConfig{
		Issuer:   issuer,
		Uploads:  upload.NewClient(platform.srv.URL, "", nil),
		Worker:   NewWorkerClient(worker.URL),
		Archive:  store,
		Audience: "worker-1",
		Scopes:   []string{"video.create", "manim.render"},
	})
	return p, platform, &bearers
}

func TestPipelineHappyPath(t *testing.T) {
	store := newMemStorage()
	p, platform, bearers := newTestPipeline(t, http.StatusOK, store)

	ask := `{"topic":"simple harmonic motion","user_id":"U42"}`
	if err := p.Process(context.Background(), ask); err != nil {
		t.Fatalf("Process: %v", err)
	}

	reserves, finalized := platform.calls()
	if reserves != 1 || finalized != 1 {
		t.Errorf("reserves = %d, finalized = %d", reserves, finalized)
	}
	if platform.filenames[0] != "simple_harmonic_motion.mp4" {
		t.Errorf("filename = %q", platform.filenames[0])
	}
	if platform.reserves[0] <= 0 {
		t.Errorf("reserved length = %d", platform.reserves[0])
	}

	if len(*bearers) != 1 {
		t.Fatalf("worker calls = %d", len(*bearers))
	}
	verifier := token.NewVerifier(token.VerifierConfig{
		Audience:       "worker-1",
		RequiredScopes: []string{"video.create", "manim.render"},
		DevMode:        true,
		DevSecret:      []byte("agent-test-secret"),
	}, nil)
	raw := (*bearers)[0][len("Bearer "):]
	vc, err := verifier.Verify(context.Background(), raw)
	if err != nil {
		t.Fatalf("issued token does not verify: %v", err)
	}
	if vc.ActingFor != "U42" {
		t.Errorf("acting_for = %q", vc.ActingFor)
	}

	store.mu.Lock()
	defer store.mu.Unlock()
	data, ok := store.objects["archive/F900/simple_harmonic_motion.mp4.json"]
	if !ok {
		t.Fatalf("receipt not archived: %v", store.objects)
	}
	var rec receipt
	if err := json.Unmarshal(data, &rec); err != nil {
		t.Fatalf("decoding receipt: %v", err)
	}
	if rec.FileID != "F900" || rec.ArtifactSize != 1234 || rec.ActingFor != "U42" {
		t.Errorf("receipt = %+v", rec)
	}
}

func TestPipelineRejectsBeforeAnyCall(t *testing.T) {
	cases := map[string]string{
		"malformed json":  `{"topic":`,
		"missing topic":   `{"user_id":"U1"}`,
		"missing user":    `{"topic":"simple harmonic motion"}`,
		"forbidden topic": `{"topic":"how to make a bomb","user_id":"U1"}`,
		"bad params":      `{"topic":"simple harmonic motion","user_id":"U1","render":{"width":9999,"height":720,"duration_s":30,"fps":30,"quality":"medium"}}`,
	}
	for name, ask := range cases {
		t.Run(name, func(t *testing.T) {
			p, platform, bearers := newTestPipeline(t, http.StatusOK, nil)
			if err := p.Process(context.Background(), ask); err == nil {
				t.Fatal("expected error")
			}
			reserves, finalized := platform.calls()
			if reserves != 0 || finalized != 0 || len(*bearers) != 0 {
				t.Errorf("remote calls made: reserves=%d finalized=%d worker=%d",
					reserves, finalized, len(*bearers))
			}
		})
	}
}

func TestPipelineWorkerBusyPropagates(t *testing.T) {
	p, platform, _ := newTestPipeline(t, http.StatusTooManyRequests, nil)

	err := p.Process(context.Background(), `{"topic":"simple harmonic motion","user_id":"U1"}`)
	if err == nil {
		t.Fatal("expected error")
	}
	if errors.GetCode(err) != errors.CodeBusy {
		t.Errorf("code = %s, want %s", errors.GetCode(err), errors.CodeBusy)
	}
	_, finalized := platform.calls()
	if finalized != 0 {
		t.Error("failed render must not finalize")
	}
}

func TestParseAsk(t *testing.T) {
	ask, err := parseAsk(`{"topic":"wave interference","user_id":"U7","filename":"waves.mp4"}`)
	if err != nil {
		t.Fatalf("parseAsk: %v", err)
	}
	if ask.Topic != "wave interference" || ask.UserID != "U7" || ask.Filename != "waves.mp4" {
		t.Errorf("ask = %+v", ask)
	}
}
