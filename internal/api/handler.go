// Package api implements the HTTP surface the Orchestrator is served
// behind: POST /exec, POST /upload, GET /download, GET /health and
// GET /health/detailed. Grounded on the reference's gin controller
// layer (cmd/judge-service/main.go's buildHTTPServer, judge_service/
// internal/controller).
package api

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"coderunner/internal/audit"
	"coderunner/internal/common/storage"
	"coderunner/internal/execengine/orchestrator"
	"coderunner/internal/execengine/spec"
	appErr "coderunner/pkg/errors"
	"coderunner/pkg/utils/contextkey"
)

// Orchestrator is the subset of orchestrator.Orchestrator the HTTP
// handler depends on.
type Orchestrator interface {
	Execute(ctx context.Context, req orchestrator.Request) (orchestrator.Result, error)
}

// HealthChecker reports component health for GET /health/detailed.
type HealthChecker interface {
	CheckHealth(ctx context.Context) Health
}

// ObjectStore is the narrow slice of storage.ObjectStorage plus the
// single-shot PutObject the upload/download handlers need;
// storage.MinIOStorage satisfies it directly.
type ObjectStore interface {
	storage.ObjectStorage
	PutObject(ctx context.Context, bucket, objectKey string, reader storage.ObjectReader, sizeBytes int64, contentType string) error
}

// Handler wires the Orchestrator, file transport and audit log into
// gin route handlers.
type Handler struct {
	orchestrator Orchestrator
	storage      ObjectStore
	bucket       string
	audit        *audit.Log
	health       HealthChecker
}

// NewHandler builds a Handler.
func NewHandler(o Orchestrator, objStorage ObjectStore, bucket string, auditLog *audit.Log, health HealthChecker) *Handler {
	return &Handler{orchestrator: o, storage: objStorage, bucket: bucket, audit: auditLog, health: health}
}

// execRequest is the POST /exec request body.
type execRequest struct {
	Language     string            `json:"language" binding:"required"`
	Code         string            `json:"code" binding:"required"`
	SessionID    string            `json:"sessionId"`
	CaptureState bool              `json:"captureState"`
	Stdin        string            `json:"stdin"`
	InputFiles   map[string]string `json:"inputFiles"` // inline content, used as raw text (not decoded)
	TimeLimitMs  int64             `json:"timeLimitMs"`
	MemoryMB     int64             `json:"memoryMb"`
}

type execResponse struct {
	Stdout    string   `json:"stdout"`
	Stderr    string   `json:"stderr"`
	ExitCode  int      `json:"exitCode"`
	SessionID string   `json:"sessionId"`
	Files     []string `json:"files,omitempty"`
	Warnings  []string `json:"warnings,omitempty"`
	TimedOut  bool     `json:"timedOut,omitempty"`
	OomKilled bool     `json:"oomKilled,omitempty"`
}

// Exec handles POST /exec.
func (h *Handler) Exec(c *gin.Context) {
	start := time.Now()
	var req execRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, appErr.New(appErr.ExecBadRequest).WithMessage(err.Error()))
		return
	}

	inputFiles := make(map[string][]byte, len(req.InputFiles))
	for name, content := range req.InputFiles {
		inputFiles[name] = []byte(content)
	}

	result, err := h.orchestrator.Execute(c.Request.Context(), orchestrator.Request{
		Language:     req.Language,
		Code:         req.Code,
		SessionID:    req.SessionID,
		CaptureState: req.CaptureState,
		Stdin:        req.Stdin,
		InputFiles:   inputFiles,
		Limits: spec.ResourceLimit{
			WallTimeMs: req.TimeLimitMs,
			MemoryMB:   req.MemoryMB,
		},
	})

	h.recordAudit(c.Request.Context(), req.Language, start, err)

	if err != nil {
		writeError(c, err)
		return
	}

	files := make([]string, 0, len(result.Files))
	for _, f := range result.Files {
		files = append(files, f.Name)
	}

	c.JSON(http.StatusOK, execResponse{
		Stdout:    result.Stdout,
		Stderr:    result.Stderr,
		ExitCode:  result.ExitCode,
		SessionID: result.SessionID,
		Files:     files,
		Warnings:  result.Warnings,
		TimedOut:  result.TimedOut,
		OomKilled: result.OomKilled,
	})
}

// Upload handles POST /upload: large input files go to the object
// store instead of being inlined in the /exec request body.
func (h *Handler) Upload(c *gin.Context) {
	sessionID := c.PostForm("sessionId")
	if sessionID == "" {
		writeError(c, appErr.New(appErr.ExecBadRequest).WithMessage("sessionId is required"))
		return
	}
	file, header, err := c.Request.FormFile("file")
	if err != nil {
		writeError(c, appErr.New(appErr.ExecBadRequest).WithMessage("file is required"))
		return
	}
	defer file.Close()

	fileID := header.Filename
	objectKey := sessionID + "/" + fileID
	if err := h.storage.PutObject(c.Request.Context(), h.bucket, objectKey, file, header.Size, header.Header.Get("Content-Type")); err != nil {
		writeError(c, appErr.Wrap(err, appErr.InternalServerError).WithMessage("upload failed"))
		return
	}
	c.JSON(http.StatusOK, gin.H{"fileId": objectKey})
}

// Download handles GET /download: ?ref={sessionId}/{fileId}.
func (h *Handler) Download(c *gin.Context) {
	ref := c.Query("ref")
	if ref == "" {
		writeError(c, appErr.New(appErr.ExecBadRequest).WithMessage("ref is required"))
		return
	}
	reader, err := h.storage.GetObject(c.Request.Context(), h.bucket, ref)
	if err != nil {
		writeError(c, appErr.New(appErr.NotFound).WithMessage("file not found"))
		return
	}
	defer reader.Close()
	c.Status(http.StatusOK)
	c.Header("Content-Type", "application/octet-stream")
	_, _ = io.Copy(c.Writer, reader)
}

// Health handles GET /health: a bare liveness probe.
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Health is the GET /health/detailed response body.
type Health struct {
	HotStoreOK      bool           `json:"hotStoreOk"`
	ColdStoreOK     bool           `json:"coldStoreOk"`
	PoolUtilization map[string]int `json:"poolUtilization"`
	InterpreterWarm int            `json:"interpreterWarm"`
}

// HealthDetailed handles GET /health/detailed.
func (h *Handler) HealthDetailed(c *gin.Context) {
	if h.health == nil {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
		return
	}
	status := h.health.CheckHealth(c.Request.Context())
	code := http.StatusOK
	if !status.HotStoreOK || !status.ColdStoreOK {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, status)
}

func (h *Handler) recordAudit(ctx context.Context, language string, start time.Time, err error) {
	if h.audit == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = outcomeFor(err)
	}
	h.audit.Record(ctx, audit.Entry{
		RequestID:  requestIDFrom(ctx),
		Language:   language,
		Outcome:    outcome,
		DurationMs: time.Since(start).Milliseconds(),
		StartedAt:  start,
	})
}

func outcomeFor(err error) string {
	switch {
	case appErr.Is(err, appErr.ExecBadRequest), appErr.Is(err, appErr.CodeTooLarge):
		return "bad_request"
	case appErr.Is(err, appErr.PoolExhausted), appErr.Is(err, appErr.ServiceBusy):
		return "pool_exhausted"
	case appErr.Is(err, appErr.TimeoutExceeded):
		return "timeout"
	case appErr.Is(err, appErr.ResourceExceeded):
		return "resource_exceeded"
	default:
		return "internal_error"
	}
}

func requestIDFrom(ctx context.Context) string {
	if id, ok := ctx.Value(contextkey.RequestID).(string); ok {
		return id
	}
	return ""
}

func writeError(c *gin.Context, err error) {
	e := appErr.GetError(err)
	c.JSON(e.Code.HTTPStatus(), gin.H{"error": e.Message, "details": e.Details})
}
