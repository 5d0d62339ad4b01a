package ui

import (
	"context"
	"embed"
	"fmt"
	"html/template"
	"io/fs"
	"net/http"
	"strings"
	"sync"
	"time"

	"vitalsdash/adapters/stats/trend"
	"vitalsdash/app"
	"vitalsdash/internal"
	"vitalsdash/internal/api"
	"vitalsdash/ui/templates/fragments"

	"github.com/gin-gonic/gin"
)

//go:embed templates/*.html templates/fragments/*/*.html
var embeddedFiles embed.FS

// DashboardService is the part of app.DashboardService the pages need
type DashboardService interface {
	Dashboard(ctx context.Context) (*app.Dashboard, error)
	Prediction(ctx context.Context, offset int) (*app.Prediction, error)
	Refresh(ctx context.Context) (*app.RefreshReport, error)
}

// Server represents the web server for the health dashboard
type Server struct {
	router     *gin.Engine
	service    DashboardService
	apiHandler http.Handler
	hub        *api.SSEHub
	templates  *template.Template
	reports    app.ReportBuilder
	logger     *internal.Logger

	mu         sync.Mutex
	httpServer *http.Server
}

// NewServer parses the embedded templates and wires the routes. apiHandler,
// when set, is mounted under /api and /healthz; hub, when set, serves /events.
func NewServer(service DashboardService, apiHandler http.Handler, hub *api.SSEHub, logger *internal.Logger) (*Server, error) {
	if logger == nil {
		logger = internal.DefaultLogger
	}

	s := &Server{
		router:     gin.New(),
		service:    service,
		apiHandler: apiHandler,
		hub:        hub,
		logger:     logger.WithField("component", "ui"),
	}

	tmpl, err := parseTemplates(embeddedFiles)
	if err != nil {
		return nil, err
	}
	s.templates = tmpl

	s.setupMiddleware()
	s.setupRoutes()
	return s, nil
}

func parseTemplates(files fs.FS) (*template.Template, error) {
	funcMap := template.FuncMap{
		"round": trend.Round,
		"formatTime": func(t time.Time) string {
			if t.IsZero() {
				return "-"
			}
			return t.UTC().Format("2006-01-02 15:04 MST")
		},
		"upper": strings.ToUpper,
	}

	templatesFS, err := fs.Sub(files, "templates")
	if err != nil {
		return nil, fmt.Errorf("failed to create templates filesystem: %w", err)
	}
	fragmentsFS, err := fs.Sub(templatesFS, "fragments")
	if err != nil {
		return nil, fmt.Errorf("failed to create fragments filesystem: %w", err)
	}

	tmpl := template.New("").Funcs(funcMap)
	for _, path := range fragments.GetAllTemplatePaths() {
		if err := parseFile(tmpl, fragmentsFS, path); err != nil {
			return nil, err
		}
	}

	pages, err := fs.Glob(templatesFS, "*.html")
	if err != nil {
		return nil, fmt.Errorf("failed to glob templates: %w", err)
	}
	for _, page := range pages {
		if err := parseFile(tmpl, templatesFS, page); err != nil {
			return nil, err
		}
	}
	return tmpl, nil
}

func parseFile(tmpl *template.Template, files fs.FS, name string) error {
	content, err := fs.ReadFile(files, name)
	if err != nil {
		return fmt.Errorf("failed to read template %s: %w", name, err)
	}
	if _, err := tmpl.New(name).Parse(string(content)); err != nil {
		return fmt.Errorf("failed to parse template %s: %w", name, err)
	}
	return nil
}

// setupRoutes configures the application routes
func (s *Server) setupRoutes() {
	s.router.GET("/", s.handleDashboard)
	s.router.GET("/predictions", s.handlePredictions)
	s.router.GET("/report", s.handleReport)
	s.router.GET("/report.md", s.handleReportMarkdown)
	s.router.GET("/export.xlsx", s.handleExport)
	s.router.POST("/refresh", s.handleRefresh)

	if s.hub != nil {
		s.router.GET("/events", s.hub.HandleSSE)
	}
	if s.apiHandler != nil {
		wrapped := gin.WrapH(s.apiHandler)
		s.router.Any("/api/*path", wrapped)
		s.router.GET("/healthz", wrapped)
	}
}

// Handler exposes the gin engine
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves on addr until Shutdown is called
func (s *Server) Start(addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.mu.Lock()
	s.httpServer = srv
	s.mu.Unlock()

	s.logger.Info("starting health dashboard on http://%s", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully stops the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.httpServer
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}
