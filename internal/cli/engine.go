package cli

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/fmueller/whisperd/internal/media"
	"github.com/fmueller/whisperd/internal/platform"
	"github.com/fmueller/whisperd/internal/transcribe"
	"github.com/fmueller/whisperd/internal/whisper"
	"go.uber.org/zap"
)

func (a *appState) buildEngine(ctx context.Context) (whisper.Engine, error) {
	cfg := a.cfg.Engine

	if cfg.Backend == "server" {
		engine, err := whisper.NewServerEngine(whisper.ServerOptions{URL: cfg.ServerURL, Logger: a.log()})
		if err != nil {
			return nil, err
		}
		a.log().Info("using whisper-server backend", zap.String("url", cfg.ServerURL))
		return engine, nil
	}

	model, err := a.ensureModel(ctx)
	if err != nil {
		return nil, err
	}

	device, err := platform.ResolveDevice(cfg.Device, platform.HostProbe())
	if err != nil {
		return nil, err
	}

	engine, err := whisper.NewBundledEngine(whisper.BundledOptions{
		Executable: cfg.WhisperPath,
		ModelPath:  model.Path,
		Threads:    cfg.Threads,
		NoGPU:      device == platform.DeviceCPU,
		Logger:     a.log(),
	})
	if err != nil {
		return nil, err
	}

	a.log().Info("using whisper-cli backend",
		zap.String("executable", engine.Executable),
		zap.String("model", model.Path),
		zap.String("device", string(device)),
	)
	return engine, nil
}

func (a *appState) ensureModel(ctx context.Context) (whisper.ResolvedModel, error) {
	modelDir, err := platform.EnsureModelDir(a.cfg.Engine.ModelDir)
	if err != nil {
		return whisper.ResolvedModel{}, err
	}

	return whisper.EnsureModel(ctx, whisper.EnsureOptions{
		Model:        a.cfg.Engine.Model,
		ModelDir:     modelDir,
		AutoDownload: a.cfg.Engine.AutoDownload,
		NoProgress:   a.noProgress,
		Logger:       a.log(),
		Download:     a.downloadFn,
	})
}

// engineFactory builds the first engine from engineFn. Later calls
// rebuild it, and a server backend is also told to load the configured
// model when that model exists locally.
func (a *appState) engineFactory() transcribe.EngineFactory {
	var built atomic.Bool

	return func(ctx context.Context) (whisper.Engine, error) {
		engine, err := a.engineFn(ctx)
		if err != nil {
			return nil, err
		}
		if !built.CompareAndSwap(false, true) {
			if server, ok := engine.(*whisper.ServerEngine); ok {
				if err := a.reloadServerModel(ctx, server); err != nil {
					return nil, err
				}
			}
		}
		return engine, nil
	}
}

func (a *appState) reloadServerModel(ctx context.Context, server *whisper.ServerEngine) error {
	modelDir, err := platform.ResolveModelDir(a.cfg.Engine.ModelDir)
	if err != nil {
		return err
	}
	resolved, err := whisper.ResolveModel(a.cfg.Engine.Model, modelDir)
	if err != nil {
		return err
	}
	if resolved.NeedsDownload {
		a.log().Info("model not present locally; keeping the sidecar's current model", zap.String("model", resolved.Name))
		return nil
	}
	return server.Load(ctx, resolved.Path)
}

func (a *appState) converter() transcribe.Converter {
	if !a.cfg.Audio.FFmpeg {
		return nil
	}

	ff, err := media.NewFFmpeg(a.cfg.Audio.FFmpegPath, a.log())
	if err != nil {
		a.log().Warn("ffmpeg not found; uploads must already be 16 kHz mono WAV", zap.Error(err))
		return nil
	}
	return ff
}

func (a *appState) newService(ctx context.Context) (*transcribe.Service, error) {
	svc, err := transcribe.New(ctx, transcribe.Options{
		Factory:              a.engineFactory(),
		Converter:            a.converter(),
		TempDir:              a.cfg.Audio.TempDir,
		Language:             a.cfg.Engine.Language,
		MaxConcurrent:        a.cfg.Limits.MaxConcurrent,
		QueueTimeout:         a.cfg.Limits.QueueTimeout,
		InferenceTimeout:     a.cfg.Limits.InferenceTimeout,
		SilenceGate:          a.cfg.Audio.SilenceGate,
		SilenceThresholdDBFS: a.cfg.Audio.SilenceThresholdDBFS,
		Logger:               a.log(),
	})
	if err != nil {
		return nil, fmt.Errorf("start transcription service: %w", err)
	}
	return svc, nil
}
