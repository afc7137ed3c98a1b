package http

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/http"
	"path"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"

	apierrors "bfintake/internal/errors"
	"bfintake/internal/infrastructure"
	"bfintake/internal/middleware"
	"bfintake/internal/operations"
	api "bfintake/pkg/contracts/api/v1"
	"bfintake/pkg/contracts/domain"
)

// defaultMultipartMemory is how much of an upload form is kept in memory
// before parts spill to temporary files.
const defaultMultipartMemory = 32 << 20

type stageCtxKey struct{}

// IntakeHandler exposes upload, parse, export, retrieval and cache admin
// over HTTP.
type IntakeHandler struct {
	service      IntakeService
	validator    *middleware.Validator
	errorHandler *apierrors.ErrorHandler
	maxMemory    int64
	logger       *slog.Logger
}

// NewIntakeHandler creates the intake handler.
func NewIntakeHandler(service IntakeService, validator *middleware.Validator, errorHandler *apierrors.ErrorHandler, logger *slog.Logger) *IntakeHandler {
	logger = infrastructure.WithComponent(logger, "intake_handler")
	if validator == nil {
		validator = middleware.NewValidator(logger)
	}
	if errorHandler == nil {
		errorHandler = apierrors.NewErrorHandler(logger, false)
	}
	return &IntakeHandler{
		service:      service,
		validator:    validator,
		errorHandler: errorHandler,
		maxMemory:    defaultMultipartMemory,
		logger:       logger,
	}
}

// Routes returns the intake routes, mounted under /api.
func (h *IntakeHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/upload", h.Upload)

	r.Get("/uploaded-files", h.listStage(domain.StageUploaded))
	r.Get("/parsed-files", h.listStage(domain.StageParsed))
	r.Get("/exported-files", h.listStage(domain.StageExported))
	r.Get("/files", h.ListFiles)

	r.Group(func(r chi.Router) {
		r.Use(middleware.ContentTypeValidator("application/json"))
		r.Post("/parse", h.Parse)
		r.Post("/export", h.Export)
	})

	r.Get("/export-file/{filename}", h.DownloadExported)
	r.Route("/files/{stage}", func(r chi.Router) {
		r.Use(h.StageCtx)
		r.Get("/", h.List)
		r.Get("/{filename}", h.Download)
		r.Delete("/{filename}", h.Delete)
	})

	r.Route("/cache", func(r chi.Router) {
		r.With(h.StageCtx).Post("/clear-{stage}", h.Clear)
		r.With(h.StageCtx).Delete("/{stage}", h.Clear)
	})

	r.Get("/system-status", h.SystemStatus)

	return r
}

// StageCtx validates the {stage} URL parameter and stores the stage in the
// request context.
func (h *IntakeHandler) StageCtx(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		stage, err := domain.ParseStage(chi.URLParam(r, "stage"))
		if err != nil {
			h.errorHandler.HandleError(w, r, apierrors.NewAppValidationError(err.Error()).
				WithContext("allowed", domain.Stages))
			return
		}
		ctx := context.WithValue(r.Context(), stageCtxKey{}, stage)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func stageFrom(ctx context.Context) domain.Stage {
	stage, _ := ctx.Value(stageCtxKey{}).(domain.Stage)
	return stage
}

// Upload handles POST /api/upload with a multipart form carrying one or
// more "files" parts.
func (h *IntakeHandler) Upload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := r.ParseMultipartForm(h.maxMemory); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			h.errorHandler.HandleError(w, r, err)
			return
		}
		h.errorHandler.HandleError(w, r, apierrors.InvalidRequestWithError(err))
		return
	}
	defer r.MultipartForm.RemoveAll()

	headers := r.MultipartForm.File["files"]
	if len(headers) == 0 {
		headers = r.MultipartForm.File["file"]
	}
	if len(headers) == 0 {
		h.errorHandler.HandleError(w, r, apierrors.NewValidationErrors([]apierrors.ValidationError{{
			Field:   "files",
			Message: "at least one file is required",
		}}))
		return
	}

	uploads := make([]operations.UploadFile, len(headers))
	for i, fh := range headers {
		uploads[i] = operations.UploadFile{Name: fh.Filename, Open: openPart(fh)}
	}

	result := h.service.UploadBatch(ctx, uploads)
	h.logger.InfoContext(ctx, "upload completed",
		slog.String("request_id", chimw.GetReqID(ctx)),
		slog.Int("total", result.Total),
		slog.Int("successful", result.Successful))

	render.JSON(w, r, result)
}

func openPart(fh *multipart.FileHeader) func() (io.ReadCloser, error) {
	return func() (io.ReadCloser, error) {
		f, err := fh.Open()
		if err != nil {
			return nil, err
		}
		return f, nil
	}
}

// Parse handles POST /api/parse.
func (h *IntakeHandler) Parse(w http.ResponseWriter, r *http.Request) {
	var req api.ParseRequest
	if err := h.validator.Decode(r, &req); err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	result, err := h.service.Parse(r.Context(), req.Files)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	render.JSON(w, r, result)
}

// Export handles POST /api/export.
func (h *IntakeHandler) Export(w http.ResponseWriter, r *http.Request) {
	var req api.ExportRequest
	if err := h.validator.Decode(r, &req); err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	result, err := h.service.Export(r.Context(), req.Files, req.Format, req.IncludeMetadata)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	render.JSON(w, r, result)
}

func (h *IntakeHandler) listStage(stage domain.Stage) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.list(w, r, stage)
	}
}

// ListFiles handles GET /api/files?stage=...; the stage defaults to uploaded.
func (h *IntakeHandler) ListFiles(w http.ResponseWriter, r *http.Request) {
	allowed := make([]string, len(domain.Stages))
	for i, s := range domain.Stages {
		allowed[i] = string(s)
	}
	stage, err := middleware.ValidateEnum(r, "stage", allowed, string(domain.StageUploaded))
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	h.list(w, r, domain.Stage(stage))
}

// List handles GET /api/files/{stage}.
func (h *IntakeHandler) List(w http.ResponseWriter, r *http.Request) {
	h.list(w, r, stageFrom(r.Context()))
}

func (h *IntakeHandler) list(w http.ResponseWriter, r *http.Request, stage domain.Stage) {
	files, err := h.service.List(r.Context(), stage)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	if files == nil {
		files = []domain.RawFile{}
	}
	render.JSON(w, r, files)
}

// Download handles GET /api/files/{stage}/{filename}.
func (h *IntakeHandler) Download(w http.ResponseWriter, r *http.Request) {
	h.serveFile(w, r, stageFrom(r.Context()), chi.URLParam(r, "filename"))
}

// DownloadExported handles GET /api/export-file/{filename}.
func (h *IntakeHandler) DownloadExported(w http.ResponseWriter, r *http.Request) {
	h.serveFile(w, r, domain.StageExported, chi.URLParam(r, "filename"))
}

func (h *IntakeHandler) serveFile(w http.ResponseWriter, r *http.Request, stage domain.Stage, name string) {
	ctx := r.Context()
	rc, file, err := h.service.Open(ctx, stage, name)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	defer rc.Close()

	if file.Checksum != "" {
		etag := `"` + file.Checksum + `"`
		w.Header().Set("ETag", etag)
		if etagMatches(r.Header.Get("If-None-Match"), etag) {
			w.WriteHeader(http.StatusNotModified)
			return
		}
	}

	w.Header().Set("Content-Type", contentTypeFor(stage, name))
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": name}))
	if file.SizeBytes > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(file.SizeBytes, 10))
	}
	w.WriteHeader(http.StatusOK)

	if r.Method == http.MethodHead {
		return
	}
	if _, err := io.Copy(w, rc); err != nil {
		h.logger.WarnContext(ctx, "download interrupted",
			slog.String("stage", string(stage)),
			slog.String("filename", name),
			slog.String("error", err.Error()))
	}
}

func etagMatches(header, etag string) bool {
	if header == "" {
		return false
	}
	for _, candidate := range strings.Split(header, ",") {
		candidate = strings.TrimSpace(candidate)
		if candidate == "*" || strings.TrimPrefix(candidate, "W/") == etag {
			return true
		}
	}
	return false
}

// contentTypeFor picks a media type by extension. Parsed entries keep the
// upload's name but always hold JSON.
func contentTypeFor(stage domain.Stage, name string) string {
	if stage == domain.StageParsed {
		return "application/json"
	}
	switch strings.ToLower(path.Ext(name)) {
	case ".json":
		return "application/json"
	case ".csv":
		return "text/csv; charset=utf-8"
	case ".parquet":
		return "application/vnd.apache.parquet"
	case ".ndjson", ".jsonl":
		return "application/x-ndjson"
	case ".bz2":
		return "application/x-bzip2"
	case ".gz":
		return "application/gzip"
	case ".zip":
		return "application/zip"
	case ".tar":
		return "application/x-tar"
	default:
		return "application/octet-stream"
	}
}

// Delete handles DELETE /api/files/{stage}/{filename}.
func (h *IntakeHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Delete(r.Context(), stageFrom(r.Context()), chi.URLParam(r, "filename")); err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Clear handles POST /api/cache/clear-{stage} and DELETE /api/cache/{stage}.
func (h *IntakeHandler) Clear(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	stage := stageFrom(ctx)
	res, err := h.service.Clear(ctx, stage)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	h.logger.InfoContext(ctx, "cache cleared",
		slog.String("stage", string(stage)),
		slog.Int("removed_count", res.RemovedCount),
		slog.Int64("removed_bytes", res.RemovedBytes))

	render.JSON(w, r, api.ClearResponse{
		Status:      domain.StatusSuccess,
		Message:     fmt.Sprintf("%s cache cleared", stageTitle(stage)),
		ClearResult: res,
	})
}

func stageTitle(stage domain.Stage) string {
	s := string(stage)
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// SystemStatus handles GET /api/system-status.
func (h *IntakeHandler) SystemStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.service.Status(r.Context())
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	render.JSON(w, r, status)
}
