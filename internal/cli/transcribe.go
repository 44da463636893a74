package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fmueller/whisperd/internal/httpapi"
	"github.com/fmueller/whisperd/internal/subtitle"
	"github.com/fmueller/whisperd/internal/transcribe"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const (
	outputText = "text"
	outputJSON = "json"
	outputVTT  = "vtt"
)

func newTranscribeCmd(app *appState) *cobra.Command {
	var taskName, output string

	cmd := &cobra.Command{
		Use:   "transcribe <audio-file>",
		Short: "Transcribe an audio file",
		Long:  "Run one file through the same pipeline the HTTP service uses and print the result.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.transcribeFile(cmd.Context(), cmd.OutOrStdout(), args[0], taskName, output)
		},
	}

	cmd.Flags().StringVar(&taskName, "task", string(transcribe.TaskTranscribe), "Task: transcribe|translate|subtitle")
	cmd.Flags().StringVar(&output, "format", outputText, "Output format: text|json|vtt")
	return cmd
}

func (a *appState) transcribeFile(ctx context.Context, out io.Writer, audioPath, taskName, output string) error {
	if ctx == nil {
		ctx = context.Background()
	}

	task, err := transcribe.ParseTask(taskName)
	if err != nil {
		return err
	}

	output = strings.ToLower(strings.TrimSpace(output))
	switch output {
	case outputText, outputJSON:
	case outputVTT:
		if task != transcribe.TaskSubtitle {
			return fmt.Errorf("--format vtt requires --task subtitle")
		}
	default:
		return fmt.Errorf("unknown output format %q (expected text, json or vtt)", output)
	}

	audioPath = filepath.Clean(audioPath)
	f, err := os.Open(audioPath)
	if err != nil {
		return fmt.Errorf("audio file not found: %w", err)
	}
	defer f.Close()

	svc, err := a.newService(ctx)
	if err != nil {
		return err
	}

	a.log().Info("transcribing...", zap.String("audio", audioPath), zap.String("task", task.String()), zap.String("engine", svc.Engine().Name()))
	stopSpinner := startSpinner(a.progressEnabled(), "Transcribing")
	started := time.Now()

	result, err := svc.Handle(ctx, transcribe.Request{Task: task, Filename: filepath.Base(audioPath)}, f)
	stopSpinner()
	if err != nil {
		a.log().Warn("transcription failed", zap.Duration("elapsed", time.Since(started)), zap.Error(err))
		return err
	}
	a.log().Info("transcription finished", zap.Duration("elapsed", time.Since(started)))

	if task != transcribe.TaskSubtitle && result.Text == "" {
		a.log().Warn("no speech detected; check the input level or try --language")
	}

	return writeResult(out, result, output)
}

func writeResult(out io.Writer, result transcribe.Result, output string) error {
	switch output {
	case outputJSON:
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(httpapi.NewEnvelope(result))
	case outputVTT:
		return subtitle.WriteWebVTT(out, result.Cues)
	}

	if result.Task == transcribe.TaskSubtitle {
		for _, line := range result.Lines() {
			if _, err := fmt.Fprintln(out, line); err != nil {
				return err
			}
		}
		return nil
	}

	_, err := fmt.Fprintln(out, result.Text)
	return err
}
