package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Options struct {
	Verbose bool
	JSON    bool
	// Version is attached to every JSON entry when set.
	Version string
}

// New builds the process logger. Console output is meant for a terminal;
// JSON output is one object per line with RFC 3339 timestamps for log
// shippers.
func New(opts Options) (*zap.Logger, error) {
	cfg := config(opts)

	logger, err := cfg.Build()
	if err != nil {
		return nil, err
	}

	if opts.JSON && opts.Version != "" {
		logger = logger.With(zap.String("version", opts.Version))
	}
	return logger, nil
}

func config(opts Options) zap.Config {
	level := zapcore.InfoLevel
	if opts.Verbose {
		level = zapcore.DebugLevel
	}

	var cfg zap.Config
	if opts.JSON {
		cfg = zap.NewProductionConfig()
		cfg.Encoding = "json"
		cfg.EncoderConfig.EncodeTime = zapcore.RFC3339TimeEncoder
		// Every request gets its own access line.
		cfg.Sampling = nil
	} else {
		cfg = zap.NewDevelopmentConfig()
		cfg.Encoding = "console"
		cfg.EncoderConfig.TimeKey = ""
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		cfg.EncoderConfig.EncodeCaller = nil
	}

	cfg.Level = zap.NewAtomicLevelAt(level)
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}
	cfg.DisableStacktrace = !opts.Verbose
	return cfg
}
