// Package topic validates free-text render topics and render
// parameters before any privileged work begins. Validation is a pure
// predicate: fail closed, no clamping, no side effects.
package topic

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"rendergate/internal/pkg/errors"
)

const (
	MinTopicLength = 3
	MaxTopicLength = 200

	MinWidth     = 480
	MaxWidth     = 1920
	MinHeight    = 360
	MaxHeight    = 1080
	MinDurationS = 5
	MaxDurationS = 300
	MinFPS       = 15
	MaxFPS       = 60

	// MaxFrames bounds duration*fps so a request inside the individual
	// ranges cannot still demand an unreasonable render.
	MaxFrames = 18000
	// MaxPixels is 1920x1080.
	MaxPixels = 2073600

	maxFilenameLength = 50
)

// Params are the render parameters of one request. They are carried
// unchanged from the validated request to the renderer; the generated
// script never supplies them.
type Params struct {
	Width     int    `json:"width"`
	Height    int    `json:"height"`
	DurationS int    `json:"duration_s"`
	FPS       int    `json:"fps"`
	Quality   string `json:"quality"`
}

// DefaultParams returns the parameters used when a caller omits them.
func DefaultParams() Params {
	return Params{Width: 1280, Height: 720, DurationS: 30, FPS: 30, Quality: "medium"}
}

// Qualities is the closed set of quality tiers, lowest first.
var Qualities = []string{"low", "medium", "high", "production"}

// forbiddenContent rejects regardless of anything else: code-injection
// vocabulary, markup/script markers, and disallowed subject matter.
var forbiddenContent = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b(exec|eval|compile|__import__|getattr|setattr|subprocess|import)\b`),
	regexp.MustCompile(`(?i)\b(os\.system|popen|shell|rm -rf|/etc/|\.\./)`),
	regexp.MustCompile("[<>'\"`;\\\\\r\n]"),
	regexp.MustCompile(`(?i)<script|javascript:|data:`),
	regexp.MustCompile(`(?i)\b(porn|sex|nude|naked|violence|gore|kill|murder|hate|racist|nazi)\b`),
	regexp.MustCompile(`(?i)\b(cocaine|heroin|meth|bomb|weapon|explosive|hack|exploit|malware)\b`),
}

// educationalVocab grants immediate acceptance: subject names, physical
// and mathematical quantities, pedagogical verbs.
var educationalVocab = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b(math|mathematics|algebra|geometry|calculus|trigonometry|statistics|probability)\b`),
	regexp.MustCompile(`(?i)\b(physics|chemistry|biology|astronomy|geology|science|engineering)\b`),
	regexp.MustCompile(`(?i)\b(motion|wave|oscillation|pendulum|force|gravity|energy|momentum|velocity|acceleration)\b`),
	regexp.MustCompile(`(?i)\b(equation|function|theorem|derivative|integral|matrix|vector|graph|fraction)\b`),
	regexp.MustCompile(`(?i)\b(cell|dna|photosynthesis|respiration|molecule|atom|electron|protein|enzyme)\b`),
	regexp.MustCompile(`(?i)\b(algorithm|sorting|search|recursion|data structure|binary|computing)\b`),
	regexp.MustCompile(`(?i)\b(explain|learn|teach|understand|demonstrate|visualize|introduction)\b`),
}

// nonEducational is the secondary denylist applied to topics that did
// not match the educational vocabulary.
var nonEducational = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b(celebrity|gossip|movie|netflix|tiktok|meme|influencer|gambling|casino)\b`),
	regexp.MustCompile(`(?i)\b(password|credential|token|secret|api key|login)\b`),
	regexp.MustCompile(`(?i)\b(crack|torrent|piracy|keygen|warez)\b`),
}

// Validate accepts or rejects a raw topic string.
func Validate(raw string) error {
	t := strings.TrimSpace(raw)
	// Bounds count characters, not bytes, so multibyte topics are
	// measured the same as ASCII ones.
	if n := utf8.RuneCountInString(t); n < MinTopicLength {
		return errors.InputRejectedf("topic too short: minimum %d characters", MinTopicLength)
	} else if n > MaxTopicLength {
		return errors.InputRejectedf("topic too long: maximum %d characters", MaxTopicLength)
	}

	for _, re := range forbiddenContent {
		if re.MatchString(t) {
			return errors.InputRejected("topic contains disallowed content").
				WithField("policy", "forbidden_content")
		}
	}

	for _, re := range educationalVocab {
		if re.MatchString(t) {
			return nil
		}
	}

	for _, re := range nonEducational {
		if re.MatchString(t) {
			return errors.InputRejected("topic is outside the supported educational subjects").
				WithField("policy", "non_educational")
		}
	}

	return nil
}

// ValidateRenderParams checks every field against its declared bounds.
// Any out-of-range field rejects the whole request; nothing is clamped.
func ValidateRenderParams(p Params) error {
	if p.Width < MinWidth || p.Width > MaxWidth {
		return errors.InputRejectedf("width must be between %d and %d", MinWidth, MaxWidth).
			WithField("field", "width")
	}
	if p.Height < MinHeight || p.Height > MaxHeight {
		return errors.InputRejectedf("height must be between %d and %d", MinHeight, MaxHeight).
			WithField("field", "height")
	}
	if p.DurationS < MinDurationS || p.DurationS > MaxDurationS {
		return errors.InputRejectedf("duration_s must be between %d and %d", MinDurationS, MaxDurationS).
			WithField("field", "duration_s")
	}
	if p.FPS < MinFPS || p.FPS > MaxFPS {
		return errors.InputRejectedf("fps must be between %d and %d", MinFPS, MaxFPS).
			WithField("field", "fps")
	}
	if !validQuality(p.Quality) {
		return errors.InputRejectedf("quality must be one of: %s", strings.Join(Qualities, ", ")).
			WithField("field", "quality")
	}
	if p.DurationS*p.FPS > MaxFrames {
		return errors.InputRejected("total frame count too high: reduce duration or fps").
			WithField("field", "duration_s")
	}
	if p.Width*p.Height > MaxPixels {
		return errors.InputRejected("resolution too high: maximum is 1920x1080").
			WithField("field", "width")
	}
	return nil
}

func validQuality(q string) bool {
	for _, v := range Qualities {
		if q == v {
			return true
		}
	}
	return false
}

var (
	filenameAllowed = regexp.MustCompile(`[^a-z0-9 -]`)
	whitespaceRun   = regexp.MustCompile(`\s+`)
	underscoreRun   = regexp.MustCompile(`_+`)
)

// SanitizeForFilename reduces a topic to a filename-safe slug:
// lowercase, [a-z0-9_-] only, whitespace collapsed to single
// underscores, hyphens kept as written, at most 50 characters, no
// leading or trailing underscore.
func SanitizeForFilename(raw string) string {
	s := strings.ToLower(strings.TrimSpace(raw))
	s = filenameAllowed.ReplaceAllString(s, "")
	s = whitespaceRun.ReplaceAllString(s, "_")
	s = underscoreRun.ReplaceAllString(s, "_")
	if len(s) > maxFilenameLength {
		s = s[:maxFilenameLength]
	}
	s = strings.Trim(s, "_")
	if s == "" {
		return "video"
	}
	return s
}

// Suggestions returns the fixed, ordered set of known-safe topics
// advertised on the capability endpoint.
func Suggestions() []string {
	return []string{
		"simple harmonic motion",
		"quadratic equations",
		"photosynthesis process",
		"Newton's laws of motion",
		"Pythagorean theorem",
		"cellular respiration",
		"electromagnetic waves",
		"binary search algorithm",
		"derivatives and limits",
		"DNA structure and replication",
		"thermodynamics principles",
		"periodic table trends",
		"geometric transformations",
		"probability distributions",
		"chemical bonding types",
	}
}
