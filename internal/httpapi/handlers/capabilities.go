package handlers

import (
	"net/http"

	"rendergate/internal/httpkit"
	"rendergate/internal/topic"
)

// Capabilities describes what this worker can do: the operations it
// exposes, the scopes a delegated token needs, the accepted parameter
// ranges, and topic suggestions for requesters. Public; requesters
// read it before asking for a credential.
func (h *Handler) Capabilities(w http.ResponseWriter, r *http.Request) {
	bounds := func(min, max int) map[string]int {
		return map[string]int{"min": min, "max": max}
	}

	httpkit.WriteJSON(w, http.StatusOK, map[string]any{
		"service": "rendergate-worker",
		"operations": []map[string]any{
			{
				"name":            "render.video",
				"method":          "POST",
				"path":            "/render",
				"required_scopes": []string{"video.create", "manim.render"},
			},
		},
		"render_limits": map[string]any{
			"width":      bounds(topic.MinWidth, topic.MaxWidth),
			"height":     bounds(topic.MinHeight, topic.MaxHeight),
			"duration_s": bounds(topic.MinDurationS, topic.MaxDurationS),
			"fps":        bounds(topic.MinFPS, topic.MaxFPS),
			"max_frames": topic.MaxFrames,
			"max_pixels": topic.MaxPixels,
			"qualities":  topic.Qualities,
		},
		"topic": map[string]any{
			"min_length":  topic.MinTopicLength,
			"max_length":  topic.MaxTopicLength,
			"suggestions": topic.Suggestions(),
		},
		"slots": map[string]any{
			"capacity": h.slots.Capacity(),
			"free":     h.slots.Free(),
		},
	})
}
