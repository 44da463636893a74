// Package media converts uploads into audio whisper.cpp can read directly.
package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/fmueller/whisperd/internal/audio"
	"go.uber.org/zap"
)

var ErrFFmpegUnavailable = errors.New("ffmpeg not available")

type FFmpeg struct {
	Binary string
	Logger *zap.Logger
}

// NewFFmpeg resolves binary (default "ffmpeg") on PATH.
func NewFFmpeg(binary string, logger *zap.Logger) (*FFmpeg, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if strings.TrimSpace(binary) == "" {
		binary = "ffmpeg"
	}

	resolved, err := exec.LookPath(binary)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFFmpegUnavailable, err)
	}

	return &FFmpeg{Binary: resolved, Logger: logger}, nil
}

// Convert decodes input and writes 16 kHz mono PCM16 WAV to output.
func (f *FFmpeg) Convert(ctx context.Context, input, output string) error {
	if input == "" || output == "" {
		return errors.New("input and output paths are required")
	}

	args := convertArgs(input, output)
	cmd := exec.CommandContext(ctx, f.Binary, args...)
	var stderr bytes.Buffer
	cmd.Stdout = &stderr
	cmd.Stderr = &stderr

	f.log().Debug("converting audio", zap.String("ffmpeg", f.Binary), zap.Strings("args", args))
	if err := cmd.Run(); err != nil {
		_ = os.Remove(output)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("ffmpeg interrupted: %w", ctxErr)
		}
		return fmt.Errorf("ffmpeg could not decode audio: %w (%s)", err, strings.TrimSpace(stderr.String()))
	}

	return nil
}

func convertArgs(input, output string) []string {
	return []string{
		"-nostdin", "-hide_banner", "-loglevel", "error", "-y",
		"-i", input,
		"-vn",
		"-ac", "1",
		"-ar", strconv.Itoa(audio.WhisperSampleRate),
		"-c:a", "pcm_s16le",
		"-f", "wav",
		output,
	}
}

func (f *FFmpeg) log() *zap.Logger {
	if f.Logger == nil {
		return zap.NewNop()
	}
	return f.Logger
}
