//go:build linux

package render

import (
	"os"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"rendergate/internal/pkg/logger"
)

// applyLimits sets per-process ceilings on the running engine. A
// failed prlimit is logged but does not abort the render; the wall
// clock timeout still bounds it.
func applyLimits(pid int, cfg Config, log *logger.Logger) {
	set := func(resource int, name string, value uint64) {
		lim := unix.Rlimit{Cur: value, Max: value}
		if err := unix.Prlimit(pid, resource, &lim, nil); err != nil {
			log.Warn("setting resource limit failed", "limit", name, "error", err.Error())
		}
	}
	if cfg.CPUSeconds > 0 {
		set(unix.RLIMIT_CPU, "cpu", cfg.CPUSeconds)
	}
	if cfg.MemoryBytes > 0 {
		set(unix.RLIMIT_AS, "memory", cfg.MemoryBytes)
	}
	if cfg.MaxProcs > 0 {
		set(unix.RLIMIT_NPROC, "nproc", cfg.MaxProcs)
	}
}

// exceededLimit classifies a dead engine process against the ceilings
// applyLimits installed. The CPU rlimit kills with SIGXCPU at the soft
// limit or SIGKILL at the hard one, so the consumed CPU clock is the
// reliable signal; a plain SIGKILL with CPU to spare is the kernel
// reclaiming address space. Context-driven kills are ruled out by the
// caller before this runs.
func exceededLimit(ps *os.ProcessState, cfg Config) string {
	if ps == nil {
		return ""
	}
	if cfg.CPUSeconds > 0 {
		cpu := ps.UserTime() + ps.SystemTime()
		if cpu >= time.Duration(cfg.CPUSeconds)*time.Second {
			return "cpu"
		}
	}
	ws, ok := ps.Sys().(syscall.WaitStatus)
	if !ok || !ws.Signaled() {
		return ""
	}
	switch ws.Signal() {
	case syscall.SIGXCPU:
		return "cpu"
	case syscall.SIGKILL:
		return "memory"
	}
	return ""
}
