package httpapi

import (
	"bytes"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"runtime"
	"strings"
	"time"

	"github.com/fmueller/whisperd/internal/apperr"
	"github.com/fmueller/whisperd/internal/subtitle"
	"github.com/fmueller/whisperd/internal/transcribe"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const multipartMemory = 32 << 20

const (
	formatJSON = "json"
	formatVTT  = "vtt"
)

type handler struct {
	svc               Transcriber
	legacyErrorStatus bool
	version           string
	log               *zap.Logger
}

func (h *handler) register(r gin.IRouter) {
	r.POST("/whisper", h.transcribe)
	r.POST("/whisper/", h.transcribe)
	r.POST("/transcribe", h.transcribe)
	r.GET("/health", h.health)
	r.GET("/version", h.versionInfo)
}

func (h *handler) transcribe(c *gin.Context) {
	if err := c.Request.ParseMultipartForm(multipartMemory); err != nil && !errors.Is(err, http.ErrNotMultipart) {
		h.respondError(c, formError(err))
		return
	}
	if form := c.Request.MultipartForm; form != nil {
		defer func() { _ = form.RemoveAll() }()
	}

	taskName := param(c, "task", "func_name")
	if taskName == "" {
		h.respondError(c, apperr.MissingField("task"))
		return
	}
	task, err := transcribe.ParseTask(taskName)
	if err != nil {
		h.respondError(c, apperr.InvalidInput(err.Error()).WithCause(err))
		return
	}

	format := strings.ToLower(param(c, "format"))
	switch format {
	case "", formatJSON:
		format = formatJSON
	case formatVTT:
		if task != transcribe.TaskSubtitle {
			h.respondError(c, apperr.InvalidInput("format vtt is only available for the subtitle task"))
			return
		}
	default:
		h.respondError(c, apperr.InvalidInput("unknown format "+format+" (expected json or vtt)"))
		return
	}

	req := transcribe.Request{Task: task, Language: param(c, "language")}

	var upload io.Reader
	if fh := formFile(c.Request.MultipartForm, "file", "files"); fh != nil {
		file, err := fh.Open()
		if err != nil {
			h.respondError(c, apperr.Internal(err))
			return
		}
		defer file.Close()
		upload = file
		req.Filename = fh.Filename
	}

	result, err := h.svc.Handle(c.Request.Context(), req, upload)
	if err != nil {
		h.respondError(c, err)
		return
	}

	if format == formatVTT {
		var buf bytes.Buffer
		if err := subtitle.WriteWebVTT(&buf, result.Cues); err != nil {
			h.respondError(c, apperr.Internal(err))
			return
		}
		c.Data(http.StatusOK, "text/vtt; charset=utf-8", buf.Bytes())
		return
	}

	c.JSON(http.StatusOK, NewEnvelope(result))
}

func (h *handler) respondError(c *gin.Context, err error) {
	appErr := apperr.From(err)

	status := appErr.HTTPStatus
	if h.legacyErrorStatus && appErr.Code == apperr.CodeInferenceFailed {
		status = http.StatusOK
	}
	if appErr.Code == apperr.CodeInternal {
		h.log.Error("request failed", zap.String("request_id", c.GetString(requestIDKey)), zap.Error(err))
	}

	c.JSON(status, errorEnvelope(appErr))
}

func (h *handler) health(c *gin.Context) {
	ctx := c.Request.Context()
	status, httpStatus := "healthy", http.StatusOK
	if !h.svc.Available(ctx) {
		status, httpStatus = "unhealthy", http.StatusServiceUnavailable
	}

	busy, total := h.svc.SlotsInUse()
	c.JSON(httpStatus, gin.H{
		"status":    status,
		"service":   ServiceName,
		"engine":    h.svc.Engine().Name(),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"slots": gin.H{
			"in_use": busy,
			"total":  total,
		},
	})
}

func (h *handler) versionInfo(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"service":    ServiceName,
		"version":    h.version,
		"go_version": runtime.Version(),
	})
}

// param returns the first non-empty query or form value among names.
func param(c *gin.Context, names ...string) string {
	for _, name := range names {
		if v := strings.TrimSpace(c.Query(name)); v != "" {
			return v
		}
		if v := strings.TrimSpace(c.Request.PostFormValue(name)); v != "" {
			return v
		}
	}
	return ""
}

func formFile(form *multipart.Form, names ...string) *multipart.FileHeader {
	if form == nil {
		return nil
	}
	for _, name := range names {
		if files := form.File[name]; len(files) > 0 {
			return files[0]
		}
	}
	return nil
}

func formError(err error) *apperr.Error {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return apperr.PayloadTooLarge(tooLarge.Limit)
	}
	return apperr.InvalidInput("malformed multipart body").WithCause(err)
}
