package testutil

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/uptrace/bun"

	"github.com/rowforge/extractqueue/domain/apitoken"
	"github.com/rowforge/extractqueue/domain/authinfo"
	"github.com/rowforge/extractqueue/domain/health"
	"github.com/rowforge/extractqueue/domain/projects"
	"github.com/rowforge/extractqueue/domain/queue"
	"github.com/rowforge/extractqueue/internal/config"
	"github.com/rowforge/extractqueue/pkg/apperror"
	"github.com/rowforge/extractqueue/pkg/auth"
)

// TestServer wraps an Echo instance with every domain module's routes
// registered, for in-process HTTP testing without a running fx app.
type TestServer struct {
	Echo           *echo.Echo
	TestDB         *TestDB
	DB             bun.IDB
	Config         *config.Config
	Log            *slog.Logger
	AuthMiddleware *auth.Middleware
	ProjectsSvc    *projects.Service
	QueueManager   *queue.Manager
}

// NewTestServer creates a test server with all routes registered.
func NewTestServer(testDB *TestDB) *TestServer {
	return newTestServerWithDB(testDB, testDB.GetDB())
}

// newTestServerWithDB creates a test server with a specific DB connection.
func newTestServerWithDB(testDB *TestDB, db bun.IDB) *TestServer {
	log := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelWarn}))

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = apperror.HTTPErrorHandler(log)

	authMiddleware := auth.NewMiddleware(db, testDB.Config, log)

	projectsRepo := projects.NewRepository(db, log)
	projectsSvc := projects.NewService(projectsRepo, log)

	queueStore := queue.NewStoreFromConfig(db, testDB.Config, log)
	queueManager := queue.NewManager(queueStore, log)
	queueHandler := queue.NewHandler(queueManager)
	queue.RegisterRoutes(e, queueHandler, authMiddleware)

	apitokenRepo := apitoken.NewRepository(db, log)
	apitokenSvc := apitoken.NewService(apitokenRepo, testDB.Config, log)
	apitokenHandler := apitoken.NewHandler(apitokenSvc, projectsSvc)
	apitoken.RegisterRoutes(e, apitokenHandler, authMiddleware)

	authinfoHandler := authinfo.NewHandler()
	authinfo.RegisterRoutes(e, authinfoHandler, authMiddleware)

	if testDB.Pool != nil {
		healthHandler := health.NewHandler(testDB.Pool, testDB.Config)
		healthMetricsHandler := health.NewMetricsHandler(testDB.DB, testDB.Config)
		health.RegisterRoutes(e, healthHandler, healthMetricsHandler)
	}

	return &TestServer{
		Echo:           e,
		TestDB:         testDB,
		DB:             db,
		Config:         testDB.Config,
		Log:            log,
		AuthMiddleware: authMiddleware,
		ProjectsSvc:    projectsSvc,
		QueueManager:   queueManager,
	}
}

// Request performs an HTTP request against the test server.
func (s *TestServer) Request(method, path string, opts ...RequestOption) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	for _, opt := range opts {
		opt(req)
	}
	rec := httptest.NewRecorder()
	s.Echo.ServeHTTP(rec, req)
	return rec
}

func (s *TestServer) GET(path string, opts ...RequestOption) *httptest.ResponseRecorder {
	return s.Request(http.MethodGet, path, opts...)
}

func (s *TestServer) POST(path string, opts ...RequestOption) *httptest.ResponseRecorder {
	return s.Request(http.MethodPost, path, opts...)
}

func (s *TestServer) PUT(path string, opts ...RequestOption) *httptest.ResponseRecorder {
	return s.Request(http.MethodPut, path, opts...)
}

func (s *TestServer) DELETE(path string, opts ...RequestOption) *httptest.ResponseRecorder {
	return s.Request(http.MethodDelete, path, opts...)
}

func (s *TestServer) PATCH(path string, opts ...RequestOption) *httptest.ResponseRecorder {
	return s.Request(http.MethodPatch, path, opts...)
}

// RequestOption modifies an HTTP request.
type RequestOption func(*http.Request)

func WithHeader(key, value string) RequestOption {
	return func(r *http.Request) {
		r.Header.Set(key, value)
	}
}

func WithAuth(token string) RequestOption {
	return WithHeader("Authorization", "Bearer "+token)
}

func WithJSON() RequestOption {
	return WithHeader("Content-Type", "application/json")
}

func WithBody(body string) RequestOption {
	return func(r *http.Request) {
		r.Body = io.NopCloser(strings.NewReader(body))
		r.ContentLength = int64(len(body))
	}
}

func WithRawAuth(value string) RequestOption {
	return WithHeader("Authorization", value)
}

// WithJSONBody sets Content-Type to application/json and marshals the body to JSON.
func WithJSONBody(body any) RequestOption {
	return func(r *http.Request) {
		data, err := json.Marshal(body)
		if err != nil {
			panic(err)
		}
		r.Header.Set("Content-Type", "application/json")
		r.Body = io.NopCloser(strings.NewReader(string(data)))
		r.ContentLength = int64(len(data))
	}
}

// MultipartForm represents a multipart form for testing file uploads.
type MultipartForm struct {
	body        *bytes.Buffer
	writer      *multipart.Writer
	contentType string
}

func NewMultipartForm() *MultipartForm {
	body := new(bytes.Buffer)
	writer := multipart.NewWriter(body)
	return &MultipartForm{body: body, writer: writer}
}

func (m *MultipartForm) AddFile(fieldName, filename string, content []byte) error {
	part, err := m.writer.CreateFormFile(fieldName, filename)
	if err != nil {
		return err
	}
	_, err = part.Write(content)
	return err
}

func (m *MultipartForm) AddField(fieldName, value string) error {
	return m.writer.WriteField(fieldName, value)
}

func (m *MultipartForm) Close() string {
	m.writer.Close()
	m.contentType = m.writer.FormDataContentType()
	return m.contentType
}

func WithMultipartForm(form *MultipartForm) RequestOption {
	return func(r *http.Request) {
		r.Header.Set("Content-Type", form.contentType)
		r.Body = io.NopCloser(bytes.NewReader(form.body.Bytes()))
		r.ContentLength = int64(form.body.Len())
	}
}
