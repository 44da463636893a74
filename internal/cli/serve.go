package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/fmueller/whisperd/internal/httpapi"
	"github.com/fmueller/whisperd/internal/version"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newServeCmd(app *appState) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP transcription service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return app.serveFn(cmd.Context())
		},
	}

	bindServeFlags(cmd)
	return cmd
}

// serve runs until SIGINT or SIGTERM. SIGHUP rebuilds the engine; a failed
// reload keeps the previous one.
func (a *appState) serve(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc, err := a.newService(ctx)
	if err != nil {
		return err
	}

	if a.cfg.Log.Verbose {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	srv := httpapi.New(svc, httpapi.Options{
		Host:              a.cfg.Server.Host,
		Port:              a.cfg.Server.Port,
		ReadTimeout:       a.cfg.Server.ReadTimeout,
		WriteTimeout:      a.cfg.Server.WriteTimeout,
		ShutdownTimeout:   a.cfg.Server.ShutdownTimeout,
		MaxUploadBytes:    a.cfg.MaxUploadBytes(),
		LegacyErrorStatus: a.cfg.LegacyErrorStatus,
		Version:           version.Resolve(),
		Logger:            a.log(),
	})
	if err := srv.Start(ctx); err != nil {
		return err
	}

	a.log().Info("whisperd ready",
		zap.String("addr", srv.Addr()),
		zap.String("engine", svc.Engine().Name()),
		zap.Int("max_concurrent", a.cfg.Limits.MaxConcurrent),
	)

	reload := make(chan os.Signal, 1)
	if signals := reloadSignals(); len(signals) > 0 {
		signal.Notify(reload, signals...)
		defer signal.Stop(reload)
	}

	for {
		select {
		case <-ctx.Done():
			return srv.Stop(context.WithoutCancel(ctx))
		case <-reload:
			a.log().Info("reloading engine")
			if err := svc.Reload(ctx); err != nil {
				a.log().Error("engine reload failed; keeping current engine", zap.Error(err))
			}
		}
	}
}
