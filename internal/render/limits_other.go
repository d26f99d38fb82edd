//go:build !linux

package render

import (
	"os"

	"rendergate/internal/pkg/logger"
)

// Non-Linux platforms rely on the wall-clock timeout alone.
func applyLimits(pid int, cfg Config, log *logger.Logger) {
	log.Warn("process resource limits unsupported on this platform")
}

// Without rlimits no kill can be attributed to a ceiling.
func exceededLimit(ps *os.ProcessState, cfg Config) string {
	return ""
}
