package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"bfintake/internal/files"
	"bfintake/internal/middleware"
	"bfintake/internal/operations"
	fixtures "bfintake/internal/shared/testutil"
	api "bfintake/pkg/contracts/api/v1"
	"bfintake/pkg/contracts/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newIntakeServer wires a real pipeline over an in-memory cache behind the
// same middleware order the server uses.
func newIntakeServer(t *testing.T, bodyLimit int64) *httptest.Server {
	t.Helper()
	cache := files.NewManager(files.NewMemoryStore(), nil, files.WithBackendName("memory"))
	t.Cleanup(func() { _ = cache.Close() })
	p := operations.NewPipeline(cache, nil,
		operations.WithConfig(operations.Config{Workers: 2, FileTimeout: 10 * time.Second}))

	h := NewIntakeHandler(p, nil, nil, testLogger())
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.BodyLimit(bodyLimit))
	r.Mount("/api", h.Routes())

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func multipartBody(t *testing.T, field string, parts map[string][]byte) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	for name, data := range parts {
		fw, err := mw.CreateFormFile(field, name)
		require.NoError(t, err)
		_, err = fw.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return body, mw.FormDataContentType()
}

func uploadFiles(t *testing.T, srv *httptest.Server, parts map[string][]byte) *http.Response {
	t.Helper()
	body, ct := multipartBody(t, "files", parts)
	resp, err := http.Post(srv.URL+"/api/upload", ct, body)
	require.NoError(t, err)
	return resp
}

func postJSON(t *testing.T, srv *httptest.Server, path, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(srv.URL+path, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func scenarioStream(t *testing.T) []byte {
	return fixtures.Bzip2(t, fixtures.Stream(
		fixtures.DefinitionLine("1.1", "OPEN", 101, 102),
		fixtures.ChangeLine("1.1", 101, "REMOVED"),
	))
}

func TestIntakeHandler_UploadParseExportDownload(t *testing.T) {
	srv := newIntakeServer(t, 0)

	resp := uploadFiles(t, srv, map[string][]byte{"a.ndjson.bz2": scenarioStream(t)})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	uploaded := decode[api.UploadResponse](t, resp)
	assert.Equal(t, 1, uploaded.Total)
	assert.Equal(t, 1, uploaded.Successful)

	resp = postJSON(t, srv, "/api/parse", `{"files":["a.ndjson.bz2"]}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	parsed := decode[api.ParseResponse](t, resp)
	require.Len(t, parsed.Results, 1)
	assert.Equal(t, domain.StatusSuccess, parsed.Results[0].Status)
	assert.Equal(t, 1, parsed.Results[0].MarketsParsed)
	assert.Equal(t, 2, parsed.Results[0].RecordsParsed)

	resp = postJSON(t, srv, "/api/export", `{"files":["a.ndjson.bz2"],"format":"csv"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	exported := decode[api.ExportResponse](t, resp)
	require.Len(t, exported.Results, 1)
	assert.Equal(t, "a.ndjson.bz2.csv", exported.Results[0].OutputKey)

	resp, err := http.Get(srv.URL + "/api/export-file/a.ndjson.bz2.csv")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/csv; charset=utf-8", resp.Header.Get("Content-Type"))
	assert.Equal(t, `attachment; filename=a.ndjson.bz2.csv`, resp.Header.Get("Content-Disposition"))
	assert.Contains(t, string(body), "market_id,market_name,status,runner_id,runner_name,runner_status")
	assert.Contains(t, string(body), "REMOVED")

	etag := resp.Header.Get("ETag")
	require.NotEmpty(t, etag)
	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/api/files/exported/a.ndjson.bz2.csv", nil)
	req.Header.Set("If-None-Match", etag)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotModified, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/api/files/parsed/a.ndjson.bz2")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
}

func TestIntakeHandler_ParseWithoutBodyParsesAll(t *testing.T) {
	srv := newIntakeServer(t, 0)
	resp := uploadFiles(t, srv, map[string][]byte{
		"a.ndjson": fixtures.Stream(fixtures.DefinitionLine("1.1", "OPEN", 1)),
		"b.ndjson": fixtures.Stream(fixtures.DefinitionLine("1.2", "OPEN", 2)),
	})
	resp.Body.Close()

	resp, err := http.Post(srv.URL+"/api/parse", "", nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	parsed := decode[api.ParseResponse](t, resp)
	assert.Equal(t, 2, parsed.Total)
	assert.Equal(t, 2, parsed.Successful)
}

func TestIntakeHandler_ExportUnsupportedFormatFailsPerFile(t *testing.T) {
	srv := newIntakeServer(t, 0)
	resp := uploadFiles(t, srv, map[string][]byte{"a.ndjson": fixtures.Stream(fixtures.DefinitionLine("1.1", "OPEN", 1))})
	resp.Body.Close()
	postJSON(t, srv, "/api/parse", `{}`).Body.Close()

	resp = postJSON(t, srv, "/api/export", `{"format":"xlsx"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	exported := decode[api.ExportResponse](t, resp)
	assert.Equal(t, 1, exported.Total)
	assert.Equal(t, 0, exported.Successful)
	assert.Equal(t, 1, exported.Failed)
	assert.NotEmpty(t, exported.Results[0].Error)
}

func TestIntakeHandler_Errors(t *testing.T) {
	srv := newIntakeServer(t, 0)

	tests := []struct {
		name       string
		do         func() (*http.Response, error)
		wantStatus int
		wantType   string
	}{
		{
			name: "traversal in parse request",
			do: func() (*http.Response, error) {
				return http.Post(srv.URL+"/api/parse", "application/json", strings.NewReader(`{"files":["../etc/passwd"]}`))
			},
			wantStatus: http.StatusBadRequest,
			wantType:   "/errors/validation",
		},
		{
			name: "export without format",
			do: func() (*http.Response, error) {
				return http.Post(srv.URL+"/api/export", "application/json", strings.NewReader(`{"files":["a"]}`))
			},
			wantStatus: http.StatusBadRequest,
			wantType:   "/errors/validation",
		},
		{
			name: "missing download",
			do: func() (*http.Response, error) {
				return http.Get(srv.URL + "/api/files/uploaded/nope.bz2")
			},
			wantStatus: http.StatusNotFound,
			wantType:   "/errors/not-found",
		},
		{
			name: "unknown stage",
			do: func() (*http.Response, error) {
				return http.Get(srv.URL + "/api/files/raw/x")
			},
			wantStatus: http.StatusBadRequest,
			wantType:   "/errors/validation",
		},
		{
			name: "upload without files",
			do: func() (*http.Response, error) {
				body, ct := multipartBody(t, "other", map[string][]byte{"a": []byte("x")})
				return http.Post(srv.URL+"/api/upload", ct, body)
			},
			wantStatus: http.StatusBadRequest,
			wantType:   "/errors/validation",
		},
		{
			name: "wrong content type",
			do: func() (*http.Response, error) {
				return http.Post(srv.URL+"/api/parse", "text/plain", strings.NewReader("files"))
			},
			wantStatus: http.StatusUnsupportedMediaType,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := tt.do()
			require.NoError(t, err)
			problem := decode[map[string]interface{}](t, resp)
			assert.Equal(t, tt.wantStatus, resp.StatusCode)
			if tt.wantType != "" {
				assert.Equal(t, tt.wantType, problem["type"])
				assert.NotEmpty(t, problem["trace_id"])
			}
		})
	}
}

func TestIntakeHandler_UploadTooLarge(t *testing.T) {
	srv := newIntakeServer(t, 64)
	resp := uploadFiles(t, srv, map[string][]byte{"big.ndjson": bytes.Repeat([]byte("x"), 4096)})
	problem := decode[map[string]interface{}](t, resp)
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
	assert.Equal(t, "/errors/payload-too-large", problem["type"])
}

func TestIntakeHandler_ListClearAndStatus(t *testing.T) {
	srv := newIntakeServer(t, 0)
	resp := uploadFiles(t, srv, map[string][]byte{
		"a.ndjson": fixtures.Stream(fixtures.DefinitionLine("1.1", "OPEN", 1)),
		"b.ndjson": fixtures.Stream(fixtures.DefinitionLine("1.2", "OPEN", 2)),
	})
	resp.Body.Close()
	postJSON(t, srv, "/api/parse", `{}`).Body.Close()

	resp, err := http.Get(srv.URL + "/api/parsed-files")
	require.NoError(t, err)
	listed := decode[[]domain.RawFile](t, resp)
	assert.Len(t, listed, 2)

	resp, err = http.Get(srv.URL + "/api/files?stage=uploaded")
	require.NoError(t, err)
	listed = decode[[]domain.RawFile](t, resp)
	assert.Len(t, listed, 2)

	resp, err = http.Post(srv.URL+"/api/cache/clear-parsed", "", nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	cleared := decode[api.ClearResponse](t, resp)
	assert.Equal(t, domain.StageParsed, cleared.Stage)
	assert.Equal(t, 2, cleared.RemovedCount)
	assert.Positive(t, cleared.RemovedBytes)
	assert.Equal(t, "Parsed cache cleared", cleared.Message)

	resp, err = http.Get(srv.URL + "/api/system-status")
	require.NoError(t, err)
	status := decode[domain.SystemStatus](t, resp)
	assert.Equal(t, "memory", status.StorageBackend)
	assert.Equal(t, 0, status.CacheStatus[domain.StageParsed].Count)
	assert.Equal(t, 2, status.CacheStatus[domain.StageUploaded].Count)

	resp, err = http.Get(srv.URL + "/api/exported-files")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.JSONEq(t, `[]`, string(body))
}

func TestIntakeHandler_DeleteFile(t *testing.T) {
	srv := newIntakeServer(t, 0)
	uploadFiles(t, srv, map[string][]byte{"a.ndjson": []byte("{}\n")}).Body.Close()

	req, _ := http.NewRequest(http.MethodDelete, srv.URL+"/api/files/uploaded/a.ndjson", nil)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/api/files/uploaded/a.ndjson")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

// MockIntakeService is a mock implementation of IntakeService
type MockIntakeService struct {
	mock.Mock
}

func (m *MockIntakeService) UploadBatch(ctx context.Context, uploads []operations.UploadFile) domain.BatchResult[domain.UploadResult] {
	return m.Called(ctx, uploads).Get(0).(domain.BatchResult[domain.UploadResult])
}

func (m *MockIntakeService) Parse(ctx context.Context, names []string) (domain.BatchResult[domain.ParseResult], error) {
	args := m.Called(ctx, names)
	return args.Get(0).(domain.BatchResult[domain.ParseResult]), args.Error(1)
}

func (m *MockIntakeService) Export(ctx context.Context, names []string, format string, includeMetadata bool) (domain.BatchResult[domain.ExportResult], error) {
	args := m.Called(ctx, names, format, includeMetadata)
	return args.Get(0).(domain.BatchResult[domain.ExportResult]), args.Error(1)
}

func (m *MockIntakeService) Open(ctx context.Context, stage domain.Stage, key string) (io.ReadCloser, domain.RawFile, error) {
	args := m.Called(ctx, stage, key)
	rc, _ := args.Get(0).(io.ReadCloser)
	return rc, args.Get(1).(domain.RawFile), args.Error(2)
}

func (m *MockIntakeService) List(ctx context.Context, stage domain.Stage) ([]domain.RawFile, error) {
	args := m.Called(ctx, stage)
	files, _ := args.Get(0).([]domain.RawFile)
	return files, args.Error(1)
}

func (m *MockIntakeService) Delete(ctx context.Context, stage domain.Stage, key string) error {
	return m.Called(ctx, stage, key).Error(0)
}

func (m *MockIntakeService) Clear(ctx context.Context, stage domain.Stage) (domain.ClearResult, error) {
	args := m.Called(ctx, stage)
	return args.Get(0).(domain.ClearResult), args.Error(1)
}

func (m *MockIntakeService) Status(ctx context.Context) (domain.SystemStatus, error) {
	args := m.Called(ctx)
	return args.Get(0).(domain.SystemStatus), args.Error(1)
}

func TestIntakeHandler_ServiceErrors(t *testing.T) {
	svc := &MockIntakeService{}
	svc.On("Parse", mock.Anything, []string(nil)).
		Return(domain.BatchResult[domain.ParseResult]{}, errors.New("list uploaded files: backend offline"))
	svc.On("Status", mock.Anything).
		Return(domain.SystemStatus{}, errors.New("backend offline"))

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Mount("/api", NewIntakeHandler(svc, nil, nil, testLogger()).Routes())

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/parse", strings.NewReader(`{}`))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/system-status", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "backend offline")

	svc.AssertExpectations(t)
}

func TestContentTypeFor(t *testing.T) {
	tests := []struct {
		stage domain.Stage
		name  string
		want  string
	}{
		{domain.StageExported, "a.csv", "text/csv; charset=utf-8"},
		{domain.StageExported, "a.JSON", "application/json"},
		{domain.StageExported, "a.parquet", "application/vnd.apache.parquet"},
		{domain.StageUploaded, "a.ndjson.bz2", "application/x-bzip2"},
		{domain.StageUploaded, "a.tar", "application/x-tar"},
		{domain.StageParsed, "a.ndjson.bz2", "application/json"},
		{domain.StageUploaded, "noext", "application/octet-stream"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, contentTypeFor(tt.stage, tt.name), tt.name)
	}
}

func TestEtagMatches(t *testing.T) {
	assert.True(t, etagMatches(`"abc"`, `"abc"`))
	assert.True(t, etagMatches(`W/"abc", "def"`, `"abc"`))
	assert.True(t, etagMatches(`*`, `"abc"`))
	assert.False(t, etagMatches(``, `"abc"`))
	assert.False(t, etagMatches(`"def"`, `"abc"`))
}
