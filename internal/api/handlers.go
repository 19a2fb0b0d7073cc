package api

import (
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"invoiceocr/internal/auth"
	"invoiceocr/internal/export"
	"invoiceocr/internal/extract"
	"invoiceocr/internal/file"
	"invoiceocr/internal/service"
	"invoiceocr/internal/task"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

type Options struct {
	AllowedExtensions []string
	MaxUploadBytes    int64
	DefaultLanguage   string
	UploadDir         string
	APIKey            string
	ExtractionReady   bool
}

type API struct {
	svc       *service.Service
	tokens    *auth.Service
	apiKey    string
	allowed   map[string]struct{}
	maxUpload int64
	defLang   string
	uploadDir string
	extractOK bool
	startedAt time.Time
}

func NewAPI(svc *service.Service, tokens *auth.Service, opts Options) *API {
	allowed := make(map[string]struct{}, len(opts.AllowedExtensions))
	for _, ext := range opts.AllowedExtensions {
		allowed[strings.ToLower(ext)] = struct{}{}
	}
	return &API{
		svc:       svc,
		tokens:    tokens,
		apiKey:    opts.APIKey,
		allowed:   allowed,
		maxUpload: opts.MaxUploadBytes,
		defLang:   opts.DefaultLanguage,
		uploadDir: opts.UploadDir,
		extractOK: opts.ExtractionReady,
		startedAt: time.Now(),
	}
}

// RegisterRoutes registers API routes on the provided gin engine.
func (a *API) RegisterRoutes(router *gin.Engine) {
	v1 := router.Group("/api/v1")
	v1.GET("/health", a.Health)
	v1.POST("/auth/token", a.IssueToken)
	v1.POST("/auth/refresh", a.RefreshToken)

	authed := v1.Group("", auth.Middleware(a.tokens))
	{
		authed.POST("/ocr/process", a.Process)
		authed.GET("/ocr/status/:id", a.Status)
		authed.GET("/ocr/result/:id", a.Result)
		authed.POST("/invoice/extract", a.Extract)
		authed.POST("/invoice/extract/xlsx", a.ExtractXLSX)
		authed.GET("/tasks", a.ListTasks)
		authed.DELETE("/tasks/:id", a.DeleteTask)
		authed.GET("/files/:id/download/:filename", a.DownloadFile)
		authed.GET("/files/:id/archive", a.DownloadArchive)
	}
}

// Health reports liveness and whether the extraction backend is wired up.
func (a *API) Health(c *gin.Context) {
	extraction := "not_configured"
	if a.extractOK {
		extraction = "configured"
	}
	respondOK(c, http.StatusOK, "Service is healthy", gin.H{
		"status":         "healthy",
		"uptime_seconds": int(time.Since(a.startedAt).Seconds()),
		"services":       gin.H{"extraction": extraction},
	})
}

// IssueToken exchanges the configured API key for a JWT pair.
func (a *API) IssueToken(c *gin.Context) {
	var req tokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "VALIDATION_ERROR", "api_key is required")
		return
	}
	if a.apiKey == "" {
		log.Error().Msg("token requested but server api key is not configured")
		respondError(c, http.StatusInternalServerError, "NOT_CONFIGURED", "server API key not configured")
		return
	}
	if strings.TrimSpace(req.APIKey) != a.apiKey {
		respondError(c, http.StatusUnauthorized, "INVALID_API_KEY", "invalid API key")
		return
	}
	const principal = "primary"
	access, err := a.tokens.GenerateAccessToken(principal)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
		return
	}
	refresh, err := a.tokens.GenerateRefreshToken(principal)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"access_token":  access,
		"refresh_token": refresh,
		"token_type":    "bearer",
	})
}

// RefreshToken exchanges a valid refresh token for a fresh JWT pair. The
// refresh token is single-purpose; an access token is rejected here.
func (a *API) RefreshToken(c *gin.Context) {
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "VALIDATION_ERROR", "refresh_token is required")
		return
	}
	principal, err := a.tokens.ValidateRefreshToken(req.RefreshToken)
	if err != nil {
		respondError(c, http.StatusUnauthorized, "INVALID_TOKEN", "invalid or expired refresh token")
		return
	}
	access, err := a.tokens.GenerateAccessToken(principal)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
		return
	}
	refresh, err := a.tokens.GenerateRefreshToken(principal)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"access_token":  access,
		"refresh_token": refresh,
		"token_type":    "bearer",
	})
}

var unsafeBaseChars = regexp.MustCompile(`[^A-Za-z0-9_-]+`)

func sanitizeBase(name string) string {
	base := unsafeBaseChars.ReplaceAllString(name, "_")
	base = strings.Trim(base, "_")
	if base == "" {
		return "upload"
	}
	return base
}

// Process accepts an upload, creates the task already in processing and
// dispatches the pipeline. Validation failures are the only way to be
// rejected here; pipeline failures surface later through status polls.
func (a *API) Process(c *gin.Context) {
	owner, ok := auth.Principal(c)
	if !ok {
		respondError(c, http.StatusUnauthorized, "UNAUTHORIZED", "no principal")
		return
	}

	language := c.DefaultPostForm("language", a.defLang)
	useGPU := parseBool(c.PostForm("use_gpu"))

	fh, err := c.FormFile("file")
	if err != nil {
		respondError(c, http.StatusBadRequest, "NO_FILE", "no file provided")
		return
	}
	origName := strings.TrimSpace(fh.Filename)
	if origName == "" {
		respondError(c, http.StatusBadRequest, "EMPTY_FILENAME", "no file selected")
		return
	}
	ext := strings.ToLower(filepath.Ext(origName))
	if _, allowed := a.allowed[ext]; !allowed {
		respondError(c, http.StatusBadRequest, "INVALID_FILE_TYPE",
			fmt.Sprintf("unsupported file type %q", ext))
		return
	}
	if a.maxUpload > 0 && fh.Size > a.maxUpload {
		respondError(c, http.StatusRequestEntityTooLarge, "FILE_TOO_LARGE",
			fmt.Sprintf("file too large, maximum size is %d MB", a.maxUpload/(1024*1024)))
		return
	}

	base := sanitizeBase(strings.TrimSuffix(filepath.Base(origName), ext))
	storedName := fmt.Sprintf("%s_%d_%s%s", base, time.Now().Unix(), uuid.NewString()[:8], ext)

	src, err := fh.Open()
	if err != nil {
		respondError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
		return
	}
	defer func() { _ = src.Close() }()
	if err := file.CopyAtomic(filepath.Join(a.uploadDir, storedName), src); err != nil {
		log.Error().Str("filename", storedName).Err(err).Msg("saving upload failed")
		respondError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
		return
	}

	t, err := a.svc.Submit(c.Request.Context(), owner, storedName, language, useGPU)
	if err != nil {
		log.Error().Err(err).Msg("task creation failed")
		respondError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
		return
	}
	respondOK(c, http.StatusAccepted, "OCR processing started", gin.H{
		"task_id": t.ID,
		"status":  t.Status,
	})
}

// Status returns the task's current status, reconciling delegated jobs.
func (a *API) Status(c *gin.Context) {
	owner, _ := auth.Principal(c)
	t, err := a.svc.Status(c.Request.Context(), owner, c.Param("id"))
	if err != nil {
		a.respondTaskError(c, err)
		return
	}
	respondOK(c, http.StatusOK, "", gin.H{
		"task_id":       t.ID,
		"status":        t.Status,
		"created_at":    t.CreatedAt.UTC().Format(time.RFC3339),
		"error_message": t.Error,
	})
}

// Result returns the recognized text once the task completed; 202 while it
// is still processing.
func (a *API) Result(c *gin.Context) {
	owner, _ := auth.Principal(c)
	t, res, err := a.svc.Result(c.Request.Context(), owner, c.Param("id"))
	if err != nil {
		a.respondTaskError(c, err)
		return
	}
	switch t.Status {
	case task.StatusProcessing:
		respondOK(c, http.StatusAccepted, "task is still processing", gin.H{
			"task_id": t.ID,
			"status":  t.Status,
		})
	case task.StatusFailed:
		respondError(c, http.StatusInternalServerError, "PROCESSING_FAILED", t.Error)
	default:
		respondOK(c, http.StatusOK, "", gin.H{
			"task_id": t.ID,
			"status":  t.Status,
			"results": res,
		})
	}
}

func (a *API) runExtraction(c *gin.Context) ([]extract.PageFields, string, int, bool) {
	owner, _ := auth.Principal(c)
	var req extractRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "VALIDATION_ERROR", "task_id is required")
		return nil, "", 0, false
	}
	rows, totalPages, err := a.svc.Extract(c.Request.Context(), owner, req.TaskID, req.PageNumber)
	if err != nil {
		a.respondTaskError(c, err)
		return nil, "", 0, false
	}
	return rows, req.TaskID, totalPages, true
}

// Extract runs field extraction over a completed task's stored text. One
// page's failure shows up as an error marker on that entry only.
func (a *API) Extract(c *gin.Context) {
	rows, taskID, totalPages, ok := a.runExtraction(c)
	if !ok {
		return
	}
	respondOK(c, http.StatusOK, "invoice data extracted", gin.H{
		"task_id":      taskID,
		"invoice_data": rows,
		"total_pages":  totalPages,
	})
}

// ExtractXLSX is Extract with an XLSX workbook as the response body.
func (a *API) ExtractXLSX(c *gin.Context) {
	rows, taskID, _, ok := a.runExtraction(c)
	if !ok {
		return
	}
	workbook, err := export.FieldsWorkbook(rows)
	if err != nil {
		log.Error().Str("task_id", taskID).Err(err).Msg("building workbook failed")
		respondError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%s_extracted.xlsx", taskID))
	c.Data(http.StatusOK, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", workbook)
}

// ListTasks returns the caller's tasks, newest first, paginated.
func (a *API) ListTasks(c *gin.Context) {
	owner, _ := auth.Principal(c)

	statusFilter := task.Status(c.Query("status"))
	switch statusFilter {
	case "", task.StatusProcessing, task.StatusCompleted, task.StatusFailed:
	default:
		respondError(c, http.StatusBadRequest, "VALIDATION_ERROR", "invalid status filter")
		return
	}
	page := queryInt(c, "page", 1)
	if page < 1 {
		page = 1
	}
	perPage := queryInt(c, "per_page", defaultPageSize)
	if perPage < 1 {
		perPage = defaultPageSize
	}
	if perPage > maxPageSize {
		perPage = maxPageSize
	}

	tasks, err := a.svc.List(c.Request.Context(), owner, statusFilter)
	if err != nil {
		log.Error().Str("owner", owner).Err(err).Msg("listing tasks failed")
		respondError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
		return
	}

	total := len(tasks)
	start := (page - 1) * perPage
	if start > total {
		start = total
	}
	end := start + perPage
	if end > total {
		end = total
	}
	items := make([]taskSummary, 0, end-start)
	for _, t := range tasks[start:end] {
		items = append(items, taskSummary{
			TaskID:    t.ID,
			Status:    string(t.Status),
			Filename:  t.Filename,
			Language:  t.Language,
			CreatedAt: t.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	pages := 0
	if total > 0 {
		pages = (total + perPage - 1) / perPage
	}
	respondPaginated(c, http.StatusOK, items, pagination{
		Page: page, PerPage: perPage, Total: total, Pages: pages,
	})
}

// DeleteTask removes the task, its result and derived files.
func (a *API) DeleteTask(c *gin.Context) {
	owner, _ := auth.Principal(c)
	if err := a.svc.Delete(c.Request.Context(), owner, c.Param("id")); err != nil {
		a.respondTaskError(c, err)
		return
	}
	respondOK(c, http.StatusOK, "task deleted", nil)
}

// DownloadFile serves a derived artifact of the task by basename.
func (a *API) DownloadFile(c *gin.Context) {
	owner, _ := auth.Principal(c)
	path, err := a.svc.ArtifactPath(c.Request.Context(), owner, c.Param("id"), c.Param("filename"))
	if err != nil {
		a.respondTaskError(c, err)
		return
	}
	c.FileAttachment(path, filepath.Base(path))
}

// DownloadArchive serves a zip of all derived artifacts of a completed
// task.
func (a *API) DownloadArchive(c *gin.Context) {
	owner, _ := auth.Principal(c)
	path, err := a.svc.ArtifactBundle(c.Request.Context(), owner, c.Param("id"))
	if err != nil {
		a.respondTaskError(c, err)
		return
	}
	c.FileAttachment(path, filepath.Base(path))
}

func (a *API) respondTaskError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, task.ErrNotFound), errors.Is(err, task.ErrNoResult):
		respondError(c, http.StatusNotFound, "TASK_NOT_FOUND", "task not found")
	case errors.Is(err, task.ErrAccessDenied):
		respondError(c, http.StatusForbidden, "ACCESS_DENIED", "access denied")
	case errors.Is(err, task.ErrNotCompleted):
		respondError(c, http.StatusBadRequest, "TASK_NOT_COMPLETED", "task not completed yet")
	case errors.Is(err, extract.ErrPageOutOfRange):
		respondError(c, http.StatusBadRequest, "PAGE_OUT_OF_RANGE", "page number out of range")
	case errors.Is(err, extract.ErrNotConfigured):
		respondError(c, http.StatusServiceUnavailable, "EXTRACTION_NOT_CONFIGURED", "extraction backend not configured")
	default:
		log.Error().Err(err).Msg("request failed")
		respondError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
	}
}

func parseBool(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

func queryInt(c *gin.Context, key string, def int) int {
	v := c.Query(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
