// Package agent is the requester side of the system: it drains render
// asks from a queue, mints a short-lived delegated credential per ask,
// and drives a remote worker through the render and upload hand-off.
// The long-lived platform secret stays here; workers only ever see the
// per-request token.
package agent

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"rendergate/internal/pkg/logger"
)

type Deps struct {
	RDB       *redis.Client
	QueueName string
	Pipeline  *Pipeline
	Log       *logger.Logger
}

// Run drains the ask queue until the context is canceled. One ask at a
// time; worker-side slot limits are the real concurrency bound.
func Run(ctx context.Context, d Deps) error {
	log := d.Log
	if log == nil {
		log = logger.NewDefault()
	}
	log = log.WithComponent("agent")

	q := NewQueue(d.RDB, d.QueueName)

	for {
		select {
		case <-ctx.Done():
			log.Info("agent context canceled, stopping")
			return ctx.Err()
		default:
		}

		popCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		raw, err := q.Pop(popCtx)
		cancel()

		if err != nil {
			if ctx.Err() != nil {
				log.Info("agent stopping due to context cancellation")
				return ctx.Err()
			}
			log.Warn("queue pop error, retrying", "error", err.Error())
			time.Sleep(1 * time.Second)
			continue
		}

		if raw == "" {
			continue
		}

		askID := generateAskID()
		askCtx := logger.ContextWithJobID(ctx, askID)
		askLog := log.WithJobID(askID)

		askLog.Info("processing ask")
		startTime := time.Now()

		if err := d.Pipeline.Process(askCtx, raw); err != nil {
			askLog.Error("ask failed",
				"error", err.Error(),
				"duration_ms", time.Since(startTime).Milliseconds(),
			)
		} else {
			askLog.Info("ask completed",
				"duration_ms", time.Since(startTime).Milliseconds(),
			)
		}
	}
}
