package whisper

import (
	"context"
	"strings"
)

type Mode string

const (
	ModeTranscribe Mode = "transcribe"
	ModeTranslate  Mode = "translate"
)

type TranscriptionRequest struct {
	AudioPath string
	Language  string
	Mode      Mode
}

// Segment offsets are seconds from the start of the audio.
type Segment struct {
	Start float64
	End   float64
	Text  string
}

type Transcript struct {
	Text     string
	Language string
	Segments []Segment
}

type Engine interface {
	Name() string
	Transcribe(ctx context.Context, req TranscriptionRequest) (Transcript, error)
}

// HealthChecker is implemented by engines that can report readiness
// without running inference.
type HealthChecker interface {
	Available(ctx context.Context) bool
}

const blankAudioToken = "[BLANK_AUDIO]"

// IsBlank reports whether the engine heard nothing worth returning.
func IsBlank(text string) bool {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return true
	}
	return strings.EqualFold(trimmed, blankAudioToken)
}

func joinSegments(segments []Segment) string {
	var b strings.Builder
	for _, seg := range segments {
		b.WriteString(seg.Text)
	}
	return strings.TrimSpace(b.String())
}

func languageArg(lang string) string {
	lang = strings.TrimSpace(strings.ToLower(lang))
	if lang == "" || lang == "auto" {
		return ""
	}
	return lang
}
