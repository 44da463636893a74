//go:build e2e

package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fmueller/whisperd/internal/httpapi"
	"github.com/stretchr/testify/require"
)

const (
	e2eWhisperPathEnv = "WHISPERD_E2E_WHISPER_PATH"
	e2eModelDirEnv    = "WHISPERD_E2E_MODEL_DIR"
	e2eAudioEnv       = "WHISPERD_E2E_AUDIO"
	e2eExpectEnv      = "WHISPERD_E2E_EXPECT"
)

// setupE2E installs the tiny model and returns flags shared by every run.
func setupE2E(t *testing.T) []string {
	t.Helper()

	whisperPath := strings.TrimSpace(os.Getenv(e2eWhisperPathEnv))
	if whisperPath == "" {
		t.Skip("set WHISPERD_E2E_WHISPER_PATH to run e2e test")
	}

	modelDir := strings.TrimSpace(os.Getenv(e2eModelDirEnv))
	if modelDir == "" {
		modelDir = t.TempDir()
	}

	common := []string{
		"--model", "tiny",
		"--model-dir", modelDir,
		"--whisper-path", whisperPath,
		"--device", "cpu",
		"--no-progress",
	}

	_, setupStderr, err := runCommand(t, append([]string{"setup"}, common...))
	require.NoErrorf(t, err, "setup command failed: %s", setupStderr)
	return common
}

func silentWAV(t *testing.T) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "silent.wav")
	require.NoError(t, os.WriteFile(path, makePCM16WAVForTest(make([]int16, 16000), 16000, 1), 0o644))
	return path
}

func TestTranscribeSilentAudioEndToEnd(t *testing.T) {
	common := setupE2E(t)

	args := append([]string{"transcribe"}, common...)
	stdout, stderr, err := runCommand(t, append(args, silentWAV(t)))
	require.NoErrorf(t, err, "transcribe command failed: %s", stderr)
	require.Equal(t, "", strings.TrimSpace(stdout))
}

func TestTranscribeSilenceGateEndToEnd(t *testing.T) {
	common := setupE2E(t)

	args := append([]string{"transcribe", "--silence-gate", "--task", "subtitle"}, common...)
	stdout, stderr, err := runCommand(t, append(args, silentWAV(t)))
	require.NoErrorf(t, err, "transcribe command failed: %s", stderr)
	require.Equal(t, "", stdout)
}

func TestTranscribeProvidedAudioEndToEnd(t *testing.T) {
	common := setupE2E(t)

	audioPath := strings.TrimSpace(os.Getenv(e2eAudioEnv))
	if audioPath == "" {
		t.Skip("set WHISPERD_E2E_AUDIO to run against real speech")
	}

	for _, task := range []string{"transcribe", "subtitle"} {
		t.Run(task, func(t *testing.T) {
			args := append([]string{"transcribe", "--task", task, "--language", "en"}, common...)
			stdout, stderr, err := runCommand(t, append(args, audioPath))
			require.NoErrorf(t, err, "transcribe command failed: %s", stderr)
			require.NotEmpty(t, strings.TrimSpace(stdout))

			if expect := strings.TrimSpace(os.Getenv(e2eExpectEnv)); expect != "" {
				require.Contains(t, strings.ToLower(stdout), strings.ToLower(expect))
			}
		})
	}
}

func TestHTTPEndToEnd(t *testing.T) {
	common := setupE2E(t)

	app := newAppState()
	app.serveFn = func(ctx context.Context) error {
		svc, err := app.newService(ctx)
		if err != nil {
			return err
		}

		server := httpapi.New(svc, httpapi.Options{
			MaxUploadBytes: app.cfg.MaxUploadBytes(),
			Logger:         app.log(),
		})
		ts := httptest.NewServer(server.Handler())
		defer ts.Close()

		var body bytes.Buffer
		writer := multipart.NewWriter(&body)
		require.NoError(t, writer.WriteField("task", "transcribe"))
		part, err := writer.CreateFormFile("file", "silent.wav")
		require.NoError(t, err)
		f, err := os.Open(silentWAV(t))
		require.NoError(t, err)
		defer f.Close()
		_, err = io.Copy(part, f)
		require.NoError(t, err)
		require.NoError(t, writer.Close())

		resp, err := http.Post(ts.URL+"/whisper", writer.FormDataContentType(), &body)
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var envelope struct {
			Results []struct {
				Result string `json:"result"`
			} `json:"results"`
		}
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&envelope))
		require.Len(t, envelope.Results, 1)
		require.Equal(t, "", envelope.Results[0].Result)
		return nil
	}

	_, stderr, err := runApp(t, app, append([]string{"serve"}, common...))
	require.NoErrorf(t, err, "serve failed: %s", stderr)
}
