package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/fmueller/whisperd/internal/config"
	"github.com/fmueller/whisperd/internal/download"
	"github.com/fmueller/whisperd/internal/logging"
	"github.com/fmueller/whisperd/internal/version"
	"github.com/fmueller/whisperd/internal/whisper"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/term"
)

type appState struct {
	viper      *viper.Viper
	configFile string
	envFile    string
	noProgress bool

	cfg    config.Config
	logger *zap.Logger

	// engineFn builds the inference engine; tests swap in stubs.
	engineFn   func(ctx context.Context) (whisper.Engine, error)
	serveFn    func(ctx context.Context) error
	downloadFn func(ctx context.Context, opts download.Options) error
}

// flagKeys maps command line flags onto config keys.
var flagKeys = map[string]string{
	"verbose":                "log.verbose",
	"json":                   "log.json",
	"model":                  "engine.model",
	"model-dir":              "engine.model_dir",
	"language":               "engine.language",
	"auto-download":          "engine.auto_download",
	"backend":                "engine.backend",
	"whisper-path":           "engine.whisper_path",
	"server-url":             "engine.server_url",
	"device":                 "engine.device",
	"threads":                "engine.threads",
	"ffmpeg":                 "audio.ffmpeg",
	"ffmpeg-path":            "audio.ffmpeg_path",
	"silence-gate":           "audio.silence_gate",
	"silence-threshold-dbfs": "audio.silence_threshold_dbfs",
	"temp-dir":               "audio.temp_dir",
	"inference-timeout":      "limits.inference_timeout",
	"host":                   "server.host",
	"port":                   "server.port",
	"max-upload-size":        "server.max_upload_size",
	"shutdown-timeout":       "server.shutdown_timeout",
	"max-concurrent":         "limits.max_concurrent",
	"queue-timeout":          "limits.queue_timeout",
	"legacy-error-status":    "legacy_error_status",
}

func NewRootCmd() *cobra.Command {
	return newRootCmd(newAppState())
}

func newAppState() *appState {
	app := &appState{
		viper:   viper.New(),
		envFile: ".env",
	}
	app.engineFn = app.buildEngine
	app.serveFn = app.serve
	app.downloadFn = download.DownloadFile
	return app
}

func newRootCmd(app *appState) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "whisperd",
		Short:         "Speech-to-text HTTP service backed by whisper.cpp",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       version.Resolve(),
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return app.initialize(cmd)
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return app.serveFn(cmd.Context())
		},
	}

	cmd.SetVersionTemplate("{{.Name}} v{{.Version}}\n")

	bindGlobalFlags(cmd, app)
	bindServeFlags(cmd)

	cmd.AddCommand(newServeCmd(app))
	cmd.AddCommand(newTranscribeCmd(app))
	cmd.AddCommand(newSetupCmd(app))
	cmd.AddCommand(newVersionCmd())

	return cmd
}

func bindGlobalFlags(cmd *cobra.Command, app *appState) {
	d := config.Default()
	flags := cmd.PersistentFlags()

	flags.StringVar(&app.configFile, "config", app.configFile, "YAML config file")
	flags.StringVar(&app.envFile, "env-file", app.envFile, "Dotenv file loaded into the environment when present")
	flags.BoolVar(&app.noProgress, "no-progress", app.noProgress, "Disable progress indicators")

	flags.Bool("verbose", d.Log.Verbose, "Enable verbose logs")
	flags.Bool("json", d.Log.JSON, "Enable JSON logging")

	flags.String("model", d.Engine.Model, "Model name or model file path")
	flags.String("model-dir", d.Engine.ModelDir, "Directory where models are stored")
	flags.String("language", d.Engine.Language, "Default language code (auto|en|de|...)")
	flags.Bool("auto-download", d.Engine.AutoDownload, "Automatically download missing models")
	flags.String("backend", d.Engine.Backend, "Inference backend: cli|server")
	flags.String("whisper-path", d.Engine.WhisperPath, "Path to the whisper-cli executable")
	flags.String("server-url", d.Engine.ServerURL, "Base URL of a whisper-server sidecar (backend=server)")
	flags.String("device", d.Engine.Device, "Inference device: auto|cpu|gpu")
	flags.Int("threads", d.Engine.Threads, "Inference threads; 0 lets whisper.cpp decide")
	flags.Duration("inference-timeout", d.Limits.InferenceTimeout, "Deadline for one inference call; 0 disables it")

	flags.Bool("ffmpeg", d.Audio.FFmpeg, "Convert uploads to 16 kHz mono WAV with ffmpeg")
	flags.String("ffmpeg-path", d.Audio.FFmpegPath, "ffmpeg executable")
	flags.Bool("silence-gate", d.Audio.SilenceGate, "Detect near-silent WAV audio and skip transcription")
	flags.Float64("silence-threshold-dbfs", d.Audio.SilenceThresholdDBFS, "Silence gate threshold in dBFS")
	flags.String("temp-dir", d.Audio.TempDir, "Directory for staged uploads; empty uses the system default")
}

func bindServeFlags(cmd *cobra.Command) {
	d := config.Default()
	flags := cmd.Flags()

	flags.String("host", d.Server.Host, "Listen host")
	flags.Int("port", d.Server.Port, "Listen port")
	flags.String("max-upload-size", d.Server.MaxUploadSize, "Largest accepted request body, e.g. 200MB")
	flags.Duration("shutdown-timeout", d.Server.ShutdownTimeout, "How long to drain requests on shutdown")
	flags.Int("max-concurrent", d.Limits.MaxConcurrent, "Inference calls allowed at once")
	flags.Duration("queue-timeout", d.Limits.QueueTimeout, "How long a request waits for an inference slot")
	flags.Bool("legacy-error-status", d.LegacyErrorStatus, "Answer inference failures with 200 and an error body")
}

// initialize binds the executing command's flags, loads config and builds
// the logger.
func (a *appState) initialize(cmd *cobra.Command) error {
	for name, key := range flagKeys {
		if flag := cmd.Flags().Lookup(name); flag != nil {
			if err := a.viper.BindPFlag(key, flag); err != nil {
				return fmt.Errorf("bind flag %s: %w", name, err)
			}
		}
	}

	cfg, err := config.Load(a.viper, config.LoadOptions{ConfigFile: a.configFile, EnvFile: a.envFile})
	if err != nil {
		return err
	}

	logger, err := logging.New(logging.Options{Verbose: cfg.Log.Verbose, JSON: cfg.Log.JSON, Version: version.Resolve()})
	if err != nil {
		return fmt.Errorf("initialize logger: %w", err)
	}

	a.cfg = cfg
	a.logger = logger
	return nil
}

func (a *appState) log() *zap.Logger {
	if a.logger == nil {
		return zap.NewNop()
	}
	return a.logger
}

func (a *appState) progressEnabled() bool {
	if a.noProgress {
		return false
	}
	return term.IsTerminal(int(os.Stderr.Fd()))
}
