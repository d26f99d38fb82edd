package agent

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"

	"rendergate/internal/pkg/errors"
)

// Ask is one queued render request from the chat surface. UserID is
// the opaque end-user identity carried into the delegated token's act
// claim; it is never a platform credential.
type Ask struct {
	Topic    string `json:"topic"`
	UserID   string `json:"user_id"`
	Filename string `json:"filename,omitempty"`
	Render   *struct {
		Width     int    `json:"width"`
		Height    int    `json:"height"`
		DurationS int    `json:"duration_s"`
		FPS       int    `json:"fps"`
		Quality   string `json:"quality"`
	} `json:"render,omitempty"`
}

type Queue struct {
	rdb       *redis.Client
	queueName string
}

func NewQueue(rdb *redis.Client, queueName string) *Queue {
	return &Queue{rdb: rdb, queueName: queueName}
}

// Pop blocks until an ask is available (BRPOP).
func (q *Queue) Pop(ctx context.Context) (string, error) {
	res, err := q.rdb.BRPop(ctx, 0, q.queueName).Result()
	if err != nil {
		return "", err
	}
	if len(res) < 2 {
		return "", nil
	}
	return res[1], nil
}

func parseAsk(raw string) (*Ask, error) {
	var ask Ask
	if err := json.Unmarshal([]byte(raw), &ask); err != nil {
		return nil, errors.InputRejected("ask payload is not valid JSON")
	}
	if ask.Topic == "" {
		return nil, errors.InputRejected("ask is missing a topic")
	}
	if ask.UserID == "" {
		return nil, errors.InputRejected("ask is missing the requesting user")
	}
	return &ask, nil
}
