package download

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/schollz/progressbar/v3"
	"go.uber.org/zap"
	"golang.org/x/term"
)

const (
	defaultRetries = 3
	defaultBackoff = 500 * time.Millisecond
	partSuffix     = ".part"
	userAgent      = "whisperd/1"
)

var checksumPattern = regexp.MustCompile(`(?i)\b([a-f0-9]{64})\b`)

// ErrChecksumMismatch is returned when the fetched bytes do not hash to the
// expected SHA-256.
var ErrChecksumMismatch = errors.New("checksum mismatch")

// StatusError is a non-success answer from the model host.
type StatusError struct {
	URL  string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d from %s", e.Code, e.URL)
}

// Retryable reports whether a later attempt could get a different answer.
func (e *StatusError) Retryable() bool {
	return e.Code == http.StatusTooManyRequests ||
		e.Code == http.StatusRequestedRangeNotSatisfiable ||
		e.Code >= http.StatusInternalServerError
}

type Options struct {
	URL            string
	Destination    string
	ExpectedSHA256 string
	ChecksumURL    string
	Retries        int
	// Backoff is multiplied by the attempt number between retries.
	Backoff    time.Duration
	NoProgress bool
	HTTPClient *http.Client
	Logger     *zap.Logger
}

// DownloadFile fetches opts.URL into opts.Destination. Bytes land in a
// ".part" sibling first; an interrupted transfer is resumed with a Range
// request on the next attempt, and the destination only appears once the
// checksum matches.
func DownloadFile(ctx context.Context, opts Options) error {
	if opts.URL == "" {
		return errors.New("download URL is required")
	}
	if opts.Destination == "" {
		return errors.New("destination path is required")
	}

	if opts.Retries <= 0 {
		opts.Retries = defaultRetries
	}
	if opts.Backoff <= 0 {
		opts.Backoff = defaultBackoff
	}
	if opts.HTTPClient == nil {
		// ctx bounds the transfer.
		opts.HTTPClient = &http.Client{}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	expected := strings.ToLower(strings.TrimSpace(opts.ExpectedSHA256))
	if expected == "" && opts.ChecksumURL != "" {
		resolved, err := ResolveExpectedChecksum(ctx, opts.ChecksumURL, filepath.Base(opts.Destination), opts.HTTPClient)
		if err != nil {
			return fmt.Errorf("fetch checksum: %w", err)
		}
		expected = resolved
	}

	if err := os.MkdirAll(filepath.Dir(opts.Destination), 0o755); err != nil {
		return fmt.Errorf("create destination directory: %w", err)
	}

	var lastErr error
	for attempt := 1; attempt <= opts.Retries; attempt++ {
		if attempt > 1 {
			opts.Logger.Warn("retrying download",
				zap.Int("attempt", attempt),
				zap.Int("max", opts.Retries),
				zap.String("url", opts.URL),
				zap.Error(lastErr),
			)
			if err := sleep(ctx, time.Duration(attempt-1)*opts.Backoff); err != nil {
				return err
			}
		}

		lastErr = downloadOnce(ctx, opts, expected)
		if lastErr == nil {
			return nil
		}
		if ctx.Err() != nil || !retryable(lastErr) {
			return lastErr
		}
	}

	return lastErr
}

func retryable(err error) bool {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Retryable()
	}
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func ResolveExpectedChecksum(ctx context.Context, checksumURL, fileName string, client *http.Client) (string, error) {
	if strings.TrimSpace(checksumURL) == "" {
		return "", errors.New("checksum URL is required")
	}

	if client == nil {
		client = &http.Client{Timeout: 2 * time.Minute}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, checksumURL, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", &StatusError{URL: checksumURL, Code: resp.StatusCode}
	}

	content, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", err
	}

	return ParseChecksum(content, fileName)
}

// ParseChecksum finds a SHA-256 in a checksum listing, preferring the line
// that names fileName.
func ParseChecksum(content []byte, fileName string) (string, error) {
	lines := strings.Split(string(content), "\n")

	if fileName != "" {
		for _, line := range lines {
			if !strings.Contains(line, fileName) {
				continue
			}
			if checksum := parseChecksumFromLine(line); checksum != "" {
				return checksum, nil
			}
		}
	}

	for _, line := range lines {
		if checksum := parseChecksumFromLine(line); checksum != "" {
			return checksum, nil
		}
	}

	return "", errors.New("sha256 checksum not found")
}

func VerifyFileChecksum(path, expectedSHA256 string) error {
	expected := strings.ToLower(strings.TrimSpace(expectedSHA256))
	if expected == "" {
		return nil
	}

	h := sha256.New()
	if _, err := hashFile(h, path); err != nil {
		return err
	}

	if actual := hex.EncodeToString(h.Sum(nil)); actual != expected {
		return fmt.Errorf("%w: expected %s, got %s", ErrChecksumMismatch, expected, actual)
	}
	return nil
}

func hashFile(h hash.Hash, path string) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open file for checksum: %w", err)
	}
	defer f.Close()

	n, err := io.Copy(h, f)
	if err != nil {
		return n, fmt.Errorf("hash file: %w", err)
	}
	return n, nil
}

func parseChecksumFromLine(line string) string {
	match := checksumPattern.FindStringSubmatch(line)
	if len(match) < 2 {
		return ""
	}
	return strings.ToLower(match[1])
}

func partialSize(path string) int64 {
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return 0
	}
	return info.Size()
}

func downloadOnce(ctx context.Context, opts Options, expectedChecksum string) error {
	partPath := opts.Destination + partSuffix
	offset := partialSize(partPath)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, opts.URL, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	if offset > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
	}

	resp, err := opts.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("download request failed: %w", err)
	}
	defer resp.Body.Close()

	flags := os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	switch {
	case resp.StatusCode == http.StatusPartialContent && offset > 0:
		flags = os.O_WRONLY | os.O_APPEND
		opts.Logger.Info("resuming download", zap.String("url", opts.URL), zap.Int64("offset", offset))
	case resp.StatusCode == http.StatusOK:
		offset = 0
	default:
		if resp.StatusCode == http.StatusRequestedRangeNotSatisfiable {
			_ = os.Remove(partPath)
		}
		return &StatusError{URL: opts.URL, Code: resp.StatusCode}
	}

	digest := sha256.New()
	if offset > 0 {
		if _, err := hashFile(digest, partPath); err != nil {
			return err
		}
	}

	outFile, err := os.OpenFile(partPath, flags, 0o644)
	if err != nil {
		return fmt.Errorf("open partial file: %w", err)
	}
	defer outFile.Close()

	total := resp.ContentLength
	if total > 0 {
		total += offset
	}
	progress := newProgress(opts, total, offset)

	if _, err := io.Copy(io.MultiWriter(outFile, digest, progress), resp.Body); err != nil {
		return fmt.Errorf("download body: %w", err)
	}
	progress.finish()

	if err := outFile.Sync(); err != nil {
		return fmt.Errorf("sync partial file: %w", err)
	}
	if err := outFile.Close(); err != nil {
		return fmt.Errorf("close partial file: %w", err)
	}

	actualChecksum := hex.EncodeToString(digest.Sum(nil))
	if expectedChecksum != "" && actualChecksum != expectedChecksum {
		_ = os.Remove(partPath)
		return fmt.Errorf("%w: expected %s, got %s", ErrChecksumMismatch, expectedChecksum, actualChecksum)
	}

	if err := os.Rename(partPath, opts.Destination); err != nil {
		return fmt.Errorf("move partial file into destination: %w", err)
	}
	return nil
}

// progress renders a bar on an interactive stderr and otherwise logs at
// every tenth of the transfer.
type progress struct {
	bar    *progressbar.ProgressBar
	logger *zap.Logger
	url    string

	total   int64
	written int64
	next    int64
}

func newProgress(opts Options, total, offset int64) *progress {
	p := &progress{logger: opts.Logger, url: opts.URL, total: total, written: offset}
	if total > 0 {
		p.next = (offset*100/total)/10*10 + 10
	}

	if shouldRenderProgress(opts.NoProgress, total) {
		p.bar = progressbar.NewOptions64(
			total,
			progressbar.OptionSetDescription("downloading"),
			progressbar.OptionSetWidth(20),
			progressbar.OptionShowBytes(true),
			progressbar.OptionThrottle(65*time.Millisecond),
			progressbar.OptionSetRenderBlankState(true),
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionClearOnFinish(),
		)
		_ = p.bar.Set64(offset)
	}
	return p
}

func (p *progress) Write(b []byte) (int, error) {
	p.written += int64(len(b))

	if p.bar != nil {
		return p.bar.Write(b)
	}
	if p.total <= 0 || p.next > 100 {
		return len(b), nil
	}

	if percent := p.written * 100 / p.total; percent >= p.next {
		p.logger.Info("download progress",
			zap.String("url", p.url),
			zap.Int64("percent", percent),
			zap.Int64("bytes", p.written),
		)
		p.next = percent/10*10 + 10
	}
	return len(b), nil
}

func (p *progress) finish() {
	if p.bar != nil {
		_ = p.bar.Finish()
	}
}

func shouldRenderProgress(noProgress bool, contentLength int64) bool {
	if noProgress {
		return false
	}
	if contentLength <= 0 {
		return false
	}
	return term.IsTerminal(int(os.Stderr.Fd()))
}
