package whisper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

const defaultServerTimeout = 10 * time.Minute

type ServerOptions struct {
	URL        string
	HTTPClient *http.Client
	Logger     *zap.Logger
}

// ServerEngine talks to a whisper.cpp whisper-server sidecar, which keeps
// the model resident between requests.
type ServerEngine struct {
	url    string
	client *http.Client
	logger *zap.Logger
}

func NewServerEngine(opts ServerOptions) (*ServerEngine, error) {
	base := strings.TrimRight(strings.TrimSpace(opts.URL), "/")
	if base == "" {
		return nil, errors.New("whisper server URL is required")
	}

	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: defaultServerTimeout}
	}

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &ServerEngine{url: base, client: client, logger: logger}, nil
}

func (s *ServerEngine) Name() string { return "server" }

func (s *ServerEngine) Available(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

func (s *ServerEngine) Transcribe(ctx context.Context, req TranscriptionRequest) (Transcript, error) {
	if strings.TrimSpace(req.AudioPath) == "" {
		return Transcript{}, errors.New("audio path is required")
	}

	audio, err := os.Open(req.AudioPath)
	if err != nil {
		return Transcript{}, fmt.Errorf("open audio file: %w", err)
	}
	defer audio.Close()

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	part, err := writer.CreateFormFile("file", filepath.Base(req.AudioPath))
	if err != nil {
		return Transcript{}, fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(part, audio); err != nil {
		return Transcript{}, fmt.Errorf("write audio data: %w", err)
	}

	_ = writer.WriteField("response_format", "verbose_json")
	_ = writer.WriteField("temperature", "0.0")
	_ = writer.WriteField("translate", strconv.FormatBool(req.Mode == ModeTranslate))
	if lang := languageArg(req.Language); lang != "" {
		_ = writer.WriteField("language", lang)
	}
	if err := writer.Close(); err != nil {
		return Transcript{}, fmt.Errorf("close multipart body: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url+"/inference", &body)
	if err != nil {
		return Transcript{}, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", writer.FormDataContentType())

	s.logger.Debug("posting audio to whisper server", zap.String("url", s.url), zap.String("mode", string(req.Mode)))
	resp, err := s.client.Do(httpReq)
	if err != nil {
		return Transcript{}, fmt.Errorf("whisper server request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return Transcript{}, fmt.Errorf("whisper server error (status %d): %s", resp.StatusCode, strings.TrimSpace(string(detail)))
	}

	var out serverResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Transcript{}, fmt.Errorf("decode whisper server response: %w", err)
	}
	if out.Error != "" {
		return Transcript{}, fmt.Errorf("whisper server error: %s", out.Error)
	}

	return out.transcript(), nil
}

// Load asks the sidecar to swap in the model at modelPath.
func (s *ServerEngine) Load(ctx context.Context, modelPath string) error {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	_ = writer.WriteField("model", modelPath)
	if err := writer.Close(); err != nil {
		return fmt.Errorf("close multipart body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url+"/load", &body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("whisper server load request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("whisper server load failed (status %d): %s", resp.StatusCode, strings.TrimSpace(string(detail)))
	}
	return nil
}

type serverResponse struct {
	Error    string `json:"error"`
	Text     string `json:"text"`
	Language string `json:"language"`
	Segments []struct {
		Start float64 `json:"start"`
		End   float64 `json:"end"`
		Text  string  `json:"text"`
	} `json:"segments"`
}

func (r serverResponse) transcript() Transcript {
	segments := make([]Segment, 0, len(r.Segments))
	for _, seg := range r.Segments {
		segments = append(segments, Segment{Start: seg.Start, End: seg.End, Text: seg.Text})
	}

	text := strings.TrimSpace(r.Text)
	if text == "" {
		text = joinSegments(segments)
	}

	return Transcript{Text: text, Language: r.Language, Segments: segments}
}
