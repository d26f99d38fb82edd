package audit

import (
	"context"
	"testing"
)

func TestRecordWithoutPool(t *testing.T) {
	s := NewSink(nil, nil)
	// Log-only mode must not panic or block.
	s.Record(context.Background(), Event{
		Kind:      KindTokenRejected,
		TokenID:   "jti-1",
		Actor:     "render-worker",
		ActingFor: "U123",
		Reason:    "audience_mismatch",
		Fields:    map[string]any{"audience": "other"},
	})
}

func TestRecordNilSink(t *testing.T) {
	var s *Sink
	s.Record(context.Background(), Event{Kind: KindRenderComplete})
}
