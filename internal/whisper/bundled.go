package whisper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/fmueller/whisperd/internal/platform"
	"go.uber.org/zap"
)

const executableEnv = "WHISPERD_WHISPER_PATH"

type BundledOptions struct {
	// Executable overrides discovery when set.
	Executable string
	ModelPath  string
	Threads    int
	NoGPU      bool
	Logger     *zap.Logger
}

// BundledEngine runs whisper.cpp's whisper-cli once per request against a
// model file resolved at startup.
type BundledEngine struct {
	Executable string
	ModelPath  string
	Threads    int
	NoGPU      bool
	Logger     *zap.Logger
}

func NewBundledEngine(opts BundledOptions) (*BundledEngine, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	if strings.TrimSpace(opts.ModelPath) == "" {
		return nil, errors.New("model path is required")
	}

	executable, err := resolveExecutable(opts.Executable)
	if err != nil {
		return nil, err
	}

	return &BundledEngine{
		Executable: executable,
		ModelPath:  opts.ModelPath,
		Threads:    opts.Threads,
		NoGPU:      opts.NoGPU,
		Logger:     logger,
	}, nil
}

func resolveExecutable(explicit string) (string, error) {
	if explicit = strings.TrimSpace(explicit); explicit != "" {
		if err := ensureExecutable(explicit); err != nil {
			return "", fmt.Errorf("configured whisper engine is not executable: %w", err)
		}
		return explicit, nil
	}

	if override := strings.TrimSpace(os.Getenv(executableEnv)); override != "" {
		if err := ensureExecutable(override); err != nil {
			return "", fmt.Errorf("%s is not executable: %w", executableEnv, err)
		}
		return override, nil
	}

	self, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("resolve whisperd executable path: %w", err)
	}

	if path, err := ResolveBundledEnginePath(self); err == nil {
		return path, nil
	}

	if path, err := exec.LookPath(engineBinaryName()); err == nil {
		return path, nil
	}

	return "", fmt.Errorf("whisper engine not found near %s or on PATH; install whisper.cpp or set %s, expected at ../libexec/whisper/%s", self, executableEnv, engineBinaryName())
}

func ResolveBundledEnginePath(selfExecutable string) (string, error) {
	for _, candidate := range EnginePathCandidates(selfExecutable) {
		if err := ensureExecutable(candidate); err == nil {
			return candidate, nil
		}
	}

	return "", fmt.Errorf("bundled whisper engine not found near %s", selfExecutable)
}

func EnginePathCandidates(selfExecutable string) []string {
	binDir := filepath.Dir(selfExecutable)
	engineName := engineBinaryName()
	hostTarget := fmt.Sprintf("%s_%s", runtime.GOOS, platform.NormalizeArch(runtime.GOARCH))

	return []string{
		filepath.Join(binDir, "..", "libexec", "whisper", engineName),
		filepath.Join(binDir, "libexec", "whisper", engineName),
		filepath.Join(binDir, "packaging", "whisper", hostTarget, engineName),
		filepath.Join(binDir, engineName),
	}
}

func (b *BundledEngine) Name() string { return "cli" }

func (b *BundledEngine) Available(_ context.Context) bool {
	if err := ensureExecutable(b.Executable); err != nil {
		return false
	}
	_, err := os.Stat(b.ModelPath)
	return err == nil
}

func (b *BundledEngine) Transcribe(ctx context.Context, req TranscriptionRequest) (Transcript, error) {
	if strings.TrimSpace(req.AudioPath) == "" {
		return Transcript{}, errors.New("audio path is required")
	}

	if err := ensureExecutable(b.Executable); err != nil {
		return Transcript{}, fmt.Errorf("whisper engine missing or not executable: %w", err)
	}

	outDir, err := os.MkdirTemp("", "whisperd-out-")
	if err != nil {
		return Transcript{}, fmt.Errorf("create whisper output directory: %w", err)
	}
	defer os.RemoveAll(outDir)

	outBase := filepath.Join(outDir, "transcript")
	args := b.buildArgs(req, outBase)

	cmd := exec.CommandContext(ctx, b.Executable, args...)
	var stderr bytes.Buffer
	cmd.Stdout = io.Discard
	cmd.Stderr = &stderr

	b.log().Debug("running whisper engine", zap.String("engine", b.Executable), zap.Strings("args", args))
	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Transcript{}, fmt.Errorf("whisper transcribe interrupted: %w", ctxErr)
		}
		errText := strings.TrimSpace(stderr.String())
		if isMissingSharedLibraryError(errText) {
			return Transcript{}, fmt.Errorf("whisper engine at %s is missing required shared libraries (%s); rebuild whisper-cli with BUILD_SHARED_LIBS=OFF", b.Executable, errText)
		}
		if isIllegalInstructionError(errText) || isIllegalInstructionError(err.Error()) {
			return Transcript{}, fmt.Errorf("whisper engine crashed with an illegal CPU instruction; " +
				"your CPU may lack required instruction set extensions; " +
				"set " + executableEnv + " to a whisper-cli binary built for your CPU")
		}
		return Transcript{}, fmt.Errorf("whisper transcribe failed: %w (%s)", err, lastLine(errText))
	}

	content, err := os.ReadFile(outBase + ".json")
	if err != nil {
		return Transcript{}, fmt.Errorf("read whisper output: %w", err)
	}

	return parseCLIOutput(content)
}

func (b *BundledEngine) buildArgs(req TranscriptionRequest, outBase string) []string {
	args := []string{"-m", b.ModelPath, "-f", req.AudioPath, "-oj", "-of", outBase, "-np"}
	if lang := languageArg(req.Language); lang != "" {
		args = append(args, "-l", lang)
	}
	if req.Mode == ModeTranslate {
		args = append(args, "-tr")
	}
	if b.Threads > 0 {
		args = append(args, "-t", strconv.Itoa(b.Threads))
	}
	if b.NoGPU {
		args = append(args, "-ng")
	}
	return args
}

func (b *BundledEngine) log() *zap.Logger {
	if b.Logger == nil {
		return zap.NewNop()
	}
	return b.Logger
}

type cliOutput struct {
	Result struct {
		Language string `json:"language"`
	} `json:"result"`
	Transcription []struct {
		Offsets struct {
			From int64 `json:"from"`
			To   int64 `json:"to"`
		} `json:"offsets"`
		Text string `json:"text"`
	} `json:"transcription"`
}

// parseCLIOutput decodes whisper-cli's -oj file. Offsets there are
// milliseconds.
func parseCLIOutput(content []byte) (Transcript, error) {
	var out cliOutput
	if err := json.Unmarshal(content, &out); err != nil {
		return Transcript{}, fmt.Errorf("decode whisper output: %w", err)
	}

	segments := make([]Segment, 0, len(out.Transcription))
	for _, item := range out.Transcription {
		segments = append(segments, Segment{
			Start: float64(item.Offsets.From) / 1000,
			End:   float64(item.Offsets.To) / 1000,
			Text:  item.Text,
		})
	}

	return Transcript{
		Text:     joinSegments(segments),
		Language: out.Result.Language,
		Segments: segments,
	}, nil
}

func lastLine(text string) string {
	text = strings.TrimSpace(text)
	if idx := strings.LastIndexByte(text, '\n'); idx >= 0 {
		return strings.TrimSpace(text[idx+1:])
	}
	return text
}

func engineBinaryName() string {
	if runtime.GOOS == "windows" {
		return "whisper-cli.exe"
	}
	return "whisper-cli"
}

func ensureExecutable(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if info.IsDir() {
		return fmt.Errorf("%s is a directory", path)
	}
	if runtime.GOOS != "windows" && info.Mode()&0o111 == 0 {
		return fmt.Errorf("%s is not executable", path)
	}
	return nil
}

func isMissingSharedLibraryError(stderr string) bool {
	value := strings.ToLower(strings.TrimSpace(stderr))
	if value == "" {
		return false
	}

	patterns := []string{
		"error while loading shared libraries",
		"cannot open shared object file",
		"dyld: library not loaded",
		"image not found",
	}

	for _, pattern := range patterns {
		if strings.Contains(value, pattern) {
			return true
		}
	}

	return false
}

func isIllegalInstructionError(stderr string) bool {
	return strings.Contains(strings.ToLower(stderr), "illegal instruction")
}
