// Package render executes a generated script inside an isolated
// working directory under CPU, memory, and wall-clock ceilings. The
// ceilings are the authoritative containment boundary: content-level
// scanning upstream is best effort, resource enforcement is not.
package render

import (
	"bytes"
	"context"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"time"

	"rendergate/internal/pkg/errors"
	"rendergate/internal/pkg/logger"
	"rendergate/internal/script"
	"rendergate/internal/topic"
)

// Failure kinds reported in Result. Raw engine output never reaches
// the caller; these are the only externally visible outcomes.
const (
	FailureNone          = ""
	FailureResourceLimit = "resource_limit"
	FailureEngine        = "engine_error"
	FailureNoOutput      = "no_output"
)

type Config struct {
	// EnginePath is the rendering engine binary.
	EnginePath string
	// WorkRoot is the parent directory for per-render scratch dirs.
	WorkRoot string
	// Timeout is the wall-clock ceiling for one render.
	Timeout time.Duration
	// CPUSeconds and MemoryBytes and MaxProcs are rlimits applied to
	// the engine process (Linux).
	CPUSeconds  uint64
	MemoryBytes uint64
	MaxProcs    uint64
	// MaxArtifactBytes rejects oversized outputs.
	MaxArtifactBytes int64
}

// DefaultConfig mirrors the production ceilings: two minutes of wall
// clock, five of CPU, 2GiB of memory, 100MB of artifact.
func DefaultConfig(enginePath, workRoot string) Config {
	return Config{
		EnginePath:       enginePath,
		WorkRoot:         workRoot,
		Timeout:          120 * time.Second,
		CPUSeconds:       300,
		MemoryBytes:      2 << 30,
		MaxProcs:         10,
		MaxArtifactBytes: 100_000_000,
	}
}

// Result describes one render attempt. On success ArtifactPath points
// inside the render's scratch directory; call Close after the artifact
// has been consumed.
type Result struct {
	Success       bool
	FailureKind   string
	ArtifactPath  string
	ArtifactBytes int64
	Duration      time.Duration

	workDir string
}

// Close removes the scratch directory and the artifact with it.
func (r *Result) Close() error {
	if r == nil || r.workDir == "" {
		return nil
	}
	return os.RemoveAll(r.workDir)
}

type Renderer struct {
	cfg Config
	log *logger.Logger
}

func New(cfg Config, log *logger.Logger) *Renderer {
	if log == nil {
		log = logger.NewDefault()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 120 * time.Second
	}
	return &Renderer{cfg: cfg, log: log.WithComponent("renderer")}
}

// Render executes the script with the already-validated parameters.
// Parameters come only from the request; nothing in the script body
// influences the engine invocation.
func (r *Renderer) Render(ctx context.Context, s *script.Script, p topic.Params) (*Result, error) {
	workDir, err := os.MkdirTemp(r.cfg.WorkRoot, "render_")
	if err != nil {
		return nil, errors.Wrap(err, "render.workdir", "creating scratch directory")
	}
	res := &Result{workDir: workDir}

	scriptPath := filepath.Join(workDir, "scene.py")
	if err := os.WriteFile(scriptPath, []byte(s.Body), 0o600); err != nil {
		_ = res.Close()
		return nil, errors.Wrap(err, "render.workdir", "writing script")
	}

	mediaDir := filepath.Join(workDir, "media")
	args := buildArgs(scriptPath, mediaDir, p)

	runCtx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, r.cfg.EnginePath, args...)
	cmd.Dir = workDir
	cmd.Env = minimalEnv()
	cmd.WaitDelay = 5 * time.Second

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	if err := cmd.Start(); err != nil {
		_ = res.Close()
		return nil, errors.Wrap(err, "render.exec", "starting render engine")
	}
	applyLimits(cmd.Process.Pid, r.cfg, r.log)

	err = cmd.Wait()
	res.Duration = time.Since(start)

	if err != nil {
		// Diagnostics stay in the log; the caller sees a kind only.
		r.log.Error("render engine failed",
			"error", err.Error(),
			"duration_ms", res.Duration.Milliseconds(),
			"stderr_bytes", stderr.Len(),
		)
		if runCtx.Err() == context.DeadlineExceeded {
			res.FailureKind = FailureResourceLimit
			return res, errors.ResourceLimit("wall_clock")
		}
		if ctx.Err() != nil {
			res.FailureKind = FailureResourceLimit
			return res, errors.WrapWithCode(ctx.Err(), errors.CodeResourceLimit, "render.exec", "render canceled")
		}
		if limit := exceededLimit(cmd.ProcessState, r.cfg); limit != "" {
			res.FailureKind = FailureResourceLimit
			return res, errors.ResourceLimit(limit)
		}
		res.FailureKind = FailureEngine
		return res, errors.New(errors.CodeInternal, "render engine failed")
	}

	artifact, size, err := findArtifact(mediaDir)
	if err != nil {
		res.FailureKind = FailureNoOutput
		return res, err
	}
	if size > r.cfg.MaxArtifactBytes {
		res.FailureKind = FailureResourceLimit
		return res, errors.ResourceLimit("artifact_size").
			WithField("bytes", size)
	}

	res.Success = true
	res.ArtifactPath = artifact
	res.ArtifactBytes = size

	r.log.Info("render completed",
		"artifact_bytes", size,
		"duration_ms", res.Duration.Milliseconds(),
	)
	return res, nil
}

// buildArgs maps validated render parameters to engine flags. The
// mapping is deterministic: same parameters, same invocation.
func buildArgs(scriptPath, mediaDir string, p topic.Params) []string {
	args := []string{qualityFlag(p.Quality)}
	args = append(args,
		"--media_dir", mediaDir,
		"--disable_caching",
		"--resolution", fmt.Sprintf("%d,%d", p.Width, p.Height),
		"--frame_rate", strconv.Itoa(p.FPS),
		"--format", "mp4",
		scriptPath,
		script.SceneName,
	)
	return args
}

func qualityFlag(quality string) string {
	switch quality {
	case "low":
		return "-ql"
	case "high":
		return "-qh"
	case "production":
		return "-qk"
	default:
		return "-qm"
	}
}

// minimalEnv gives the engine a clean environment: no inherited
// secrets, a minimal PATH, telemetry off.
func minimalEnv() []string {
	return []string{
		"PATH=/usr/local/bin:/usr/bin:/bin",
		"HOME=/tmp",
		"MANIM_DISABLE_TELEMETRY=1",
	}
}

// findArtifact locates the rendered container file under the media
// directory. Exactly one non-empty mp4 is expected.
func findArtifact(mediaDir string) (string, int64, error) {
	var path string
	var size int64

	walkErr := filepath.WalkDir(mediaDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || filepath.Ext(p) != ".mp4" {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		if path == "" || info.Size() > size {
			path = p
			size = info.Size()
		}
		return nil
	})
	if walkErr != nil || path == "" {
		return "", 0, errors.New(errors.CodeInternal, "render produced no video output")
	}
	if size == 0 {
		return "", 0, errors.New(errors.CodeInternal, "render produced an empty video file")
	}
	return path, size, nil
}
