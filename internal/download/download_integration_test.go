//go:build integration

package download

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// A host that drops the first connection halfway through must not cost the
// bytes already on disk.
func TestDownloadFileSurvivesDroppedConnection(t *testing.T) {
	payload := bytes.Repeat([]byte("ggml"), 64*1024)
	sum := sha256.Sum256(payload)
	sumHex := hex.EncodeToString(sum[:])

	target := filepath.Join(t.TempDir(), "ggml-tiny.bin")
	checksums := fmt.Sprintf("%s  %s\n", sumHex, filepath.Base(target))

	var attempts atomic.Int32
	var resumedFrom atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/checksums.txt" {
			_, _ = w.Write([]byte(checksums))
			return
		}

		if attempts.Add(1) == 1 {
			w.Header().Set("Content-Length", strconv.Itoa(len(payload)))
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write(payload[:len(payload)/2])
			w.(http.Flusher).Flush()
			conn, _, err := w.(http.Hijacker).Hijack()
			if err == nil {
				_ = conn.Close()
			}
			return
		}

		var start int
		if _, err := fmt.Sscanf(r.Header.Get("Range"), "bytes=%d-", &start); err != nil {
			_, _ = w.Write(payload)
			return
		}
		resumedFrom.Store(int64(start))
		w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, len(payload)-1, len(payload)))
		w.WriteHeader(http.StatusPartialContent)
		_, _ = w.Write(payload[start:])
	}))
	defer server.Close()

	err := DownloadFile(context.Background(), Options{
		URL:         server.URL + "/ggml-tiny.bin",
		Destination: target,
		ChecksumURL: server.URL + "/checksums.txt",
		NoProgress:  true,
		Backoff:     10 * time.Millisecond,
	})
	require.NoError(t, err)
	require.Equal(t, int32(2), attempts.Load())
	require.Positive(t, resumedFrom.Load())

	onDisk, err := os.ReadFile(target)
	require.NoError(t, err)
	require.Equal(t, payload, onDisk)
}
