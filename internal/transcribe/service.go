package transcribe

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fmueller/whisperd/internal/apperr"
	"github.com/fmueller/whisperd/internal/audio"
	"github.com/fmueller/whisperd/internal/subtitle"
	"github.com/fmueller/whisperd/internal/whisper"
	"go.uber.org/zap"
)

// Converter turns an arbitrary upload into 16 kHz mono WAV.
type Converter interface {
	Convert(ctx context.Context, input, output string) error
}

// EngineFactory builds a fresh engine; Reload calls it.
type EngineFactory func(ctx context.Context) (whisper.Engine, error)

type Options struct {
	Engine    whisper.Engine
	Factory   EngineFactory
	Converter Converter

	TempDir  string
	Language string

	MaxConcurrent    int
	QueueTimeout     time.Duration
	InferenceTimeout time.Duration

	SilenceGate          bool
	SilenceThresholdDBFS float64

	Logger *zap.Logger
}

type Request struct {
	Task     Task
	Language string
	// Filename is the client's name for the upload; only its extension is used.
	Filename string
}

type Result struct {
	Task     Task
	Text     string
	Cues     []subtitle.Cue
	Language string
}

// Lines renders subtitle cues as "[start --> end]: text" lines.
func (r Result) Lines() []string {
	return subtitle.Lines(r.Cues)
}

type Service struct {
	mu      sync.RWMutex
	engine  whisper.Engine
	factory EngineFactory

	converter Converter
	slots     *slots

	tempDir              string
	language             string
	inferenceTimeout     time.Duration
	silenceGate          bool
	silenceThresholdDBFS float64

	logger *zap.Logger
}

func New(ctx context.Context, opts Options) (*Service, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	engine := opts.Engine
	if engine == nil {
		if opts.Factory == nil {
			return nil, errors.New("transcription engine is required")
		}
		built, err := opts.Factory(ctx)
		if err != nil {
			return nil, fmt.Errorf("build engine: %w", err)
		}
		engine = built
	}

	return &Service{
		engine:               engine,
		factory:              opts.Factory,
		converter:            opts.Converter,
		slots:                newSlots(opts.MaxConcurrent, opts.QueueTimeout),
		tempDir:              opts.TempDir,
		language:             opts.Language,
		inferenceTimeout:     opts.InferenceTimeout,
		silenceGate:          opts.SilenceGate,
		silenceThresholdDBFS: opts.SilenceThresholdDBFS,
		logger:               logger,
	}, nil
}

// Engine returns the engine currently serving requests.
func (s *Service) Engine() whisper.Engine {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.engine
}

// Reload rebuilds the engine. Requests already running keep the engine
// they started with.
func (s *Service) Reload(ctx context.Context) error {
	if s.factory == nil {
		return errors.New("engine reload is not configured")
	}

	engine, err := s.factory(ctx)
	if err != nil {
		return fmt.Errorf("reload engine: %w", err)
	}

	s.mu.Lock()
	s.engine = engine
	s.mu.Unlock()

	s.logger.Info("engine reloaded", zap.String("engine", engine.Name()))
	return nil
}

// Available reports whether the engine can take work.
func (s *Service) Available(ctx context.Context) bool {
	checker, ok := s.Engine().(whisper.HealthChecker)
	if !ok {
		return true
	}
	return checker.Available(ctx)
}

// SlotsInUse returns busy and total inference slots.
func (s *Service) SlotsInUse() (int, int) {
	return s.slots.inUse(), s.slots.capacity()
}

// Handle runs one request end to end. Every temporary file it creates is
// gone when it returns. Failures are *apperr.Error values.
func (s *Service) Handle(ctx context.Context, req Request, upload io.Reader) (Result, error) {
	if upload == nil {
		return Result{}, apperr.MissingField("file")
	}
	if !req.Task.Valid() {
		return Result{}, apperr.InvalidInput(fmt.Sprintf("%v %q", ErrUnknownTask, req.Task))
	}

	language := strings.TrimSpace(req.Language)
	if language == "" {
		language = s.language
	}

	var scratch []string
	defer func() {
		for _, path := range scratch {
			if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
				s.logger.Warn("failed to remove temporary file", zap.String("path", path), zap.Error(err))
			}
		}
	}()

	staged, err := s.stage(upload, req.Filename)
	if staged != "" {
		scratch = append(scratch, staged)
	}
	if err != nil {
		return Result{}, err
	}

	audioPath, err := s.prepare(ctx, staged, &scratch)
	if err != nil {
		return Result{}, err
	}

	result := Result{Task: req.Task, Language: language}
	if req.Task == TaskSubtitle {
		result.Cues = []subtitle.Cue{}
	}

	if s.silenceGate && s.isSilent(audioPath) {
		return result, nil
	}

	release, err := s.slots.acquire(ctx)
	if err != nil {
		return Result{}, apperr.Unavailable("no inference slot available, try again later", err)
	}
	defer release()

	transcript, err := s.infer(ctx, whisper.TranscriptionRequest{
		AudioPath: audioPath,
		Language:  language,
		Mode:      req.Task.Mode(),
	})
	if err != nil {
		return Result{}, err
	}

	if transcript.Language != "" {
		result.Language = transcript.Language
	}

	switch req.Task {
	case TaskSubtitle:
		for _, seg := range transcript.Segments {
			result.Cues = append(result.Cues, subtitle.Cue{Start: seg.Start, End: seg.End, Text: strings.TrimSpace(seg.Text)})
		}
	default:
		if !whisper.IsBlank(transcript.Text) {
			result.Text = strings.TrimSpace(transcript.Text)
		}
	}

	return result, nil
}

func (s *Service) stage(upload io.Reader, filename string) (string, error) {
	f, err := os.CreateTemp(s.tempDir, "whisperd-upload-*"+uploadExt(filename))
	if err != nil {
		return "", apperr.Internal(fmt.Errorf("create upload file: %w", err))
	}
	path := f.Name()

	written, copyErr := io.Copy(f, upload)
	closeErr := f.Close()

	if copyErr != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(copyErr, &tooLarge) {
			return path, apperr.PayloadTooLarge(tooLarge.Limit)
		}
		return path, apperr.Internal(fmt.Errorf("write upload file: %w", copyErr))
	}
	if closeErr != nil {
		return path, apperr.Internal(fmt.Errorf("close upload file: %w", closeErr))
	}
	if written == 0 {
		return path, apperr.InvalidInput("uploaded file is empty")
	}

	s.logger.Debug("upload staged", zap.String("path", path), zap.Int64("bytes", written))
	return path, nil
}

func (s *Service) prepare(ctx context.Context, staged string, scratch *[]string) (string, error) {
	if s.converter == nil || audio.IsWhisperReadyWAV(staged) {
		return staged, nil
	}

	converted := strings.TrimSuffix(staged, filepath.Ext(staged)) + "-16k.wav"
	*scratch = append(*scratch, converted)

	if err := s.converter.Convert(ctx, staged, converted); err != nil {
		if ctx.Err() != nil {
			return "", apperr.Unavailable("request cancelled during audio conversion", err)
		}
		return "", apperr.InvalidInput("could not decode uploaded audio").WithCause(err)
	}
	return converted, nil
}

func (s *Service) isSilent(path string) bool {
	silent, metrics, err := audio.IsSilentWAV(path, s.silenceThresholdDBFS)
	if err != nil {
		s.logger.Debug("silence gate skipped", zap.Error(err))
		return false
	}
	if silent {
		s.logger.Info("skipping inference for silent audio",
			zap.Float64("rms_dbfs", metrics.RMSdBFS),
			zap.Float64("peak_dbfs", metrics.PeakdBFS),
		)
	}
	return silent
}

func (s *Service) infer(ctx context.Context, req whisper.TranscriptionRequest) (whisper.Transcript, error) {
	engine := s.Engine()

	inferCtx := ctx
	if s.inferenceTimeout > 0 {
		var cancel context.CancelFunc
		inferCtx, cancel = context.WithTimeout(ctx, s.inferenceTimeout)
		defer cancel()
	}

	start := time.Now()
	transcript, err := engine.Transcribe(inferCtx, req)
	elapsed := time.Since(start)

	if err != nil {
		if errors.Is(inferCtx.Err(), context.DeadlineExceeded) {
			s.logger.Warn("inference timed out", zap.String("engine", engine.Name()), zap.Duration("elapsed", elapsed))
			return whisper.Transcript{}, apperr.Timeout("inference", err)
		}
		s.logger.Error("inference failed", zap.String("engine", engine.Name()), zap.Error(err))
		return whisper.Transcript{}, apperr.InferenceFailed(err)
	}

	s.logger.Info("inference finished",
		zap.String("engine", engine.Name()),
		zap.String("mode", string(req.Mode)),
		zap.Duration("elapsed", elapsed),
		zap.Int("segments", len(transcript.Segments)),
	)
	return transcript, nil
}

// uploadExt keeps a short alphanumeric extension so converters can sniff
// the container from the name.
func uploadExt(filename string) string {
	ext := strings.ToLower(filepath.Ext(filepath.Base(filename)))
	if len(ext) < 2 || len(ext) > 6 {
		return ""
	}
	for _, r := range ext[1:] {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') {
			return ""
		}
	}
	return ext
}
