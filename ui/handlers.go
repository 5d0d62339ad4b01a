package ui

import (
	"bytes"
	"html/template"
	"net/http"
	"time"

	"vitalsdash/adapters/excel"
	"vitalsdash/internal/api"

	"github.com/gin-gonic/gin"
	"github.com/gomarkdown/markdown"
	mdhtml "github.com/gomarkdown/markdown/html"
	"github.com/gomarkdown/markdown/parser"
)

func (s *Server) handleDashboard(c *gin.Context) {
	d, err := s.service.Dashboard(c.Request.Context())
	if err != nil {
		s.renderError(c, err)
		return
	}
	s.renderTemplate(c, http.StatusOK, "dashboard.html", pageData{
		Title:       "Dashboard",
		Active:      "dashboard",
		GeneratedAt: d.GeneratedAt,
		Dashboard:   d,
	})
}

func (s *Server) handlePredictions(c *gin.Context) {
	offset, err := api.ParseOffset(c.Query("offset"))
	if err != nil {
		s.renderError(c, err)
		return
	}

	p, err := s.service.Prediction(c.Request.Context(), offset)
	if err != nil {
		s.renderError(c, err)
		return
	}
	s.renderTemplate(c, http.StatusOK, "predictions.html", pageData{
		Title:       "Predictions",
		Active:      "predictions",
		GeneratedAt: time.Now().UTC(),
		Prediction:  p,
	})
}

func (s *Server) handleReport(c *gin.Context) {
	d, err := s.service.Dashboard(c.Request.Context())
	if err != nil {
		s.renderError(c, err)
		return
	}
	s.renderTemplate(c, http.StatusOK, "report.html", pageData{
		Title:       "Report",
		Active:      "report",
		GeneratedAt: d.GeneratedAt,
		ReportHTML:  RenderMarkdown(s.reports.Markdown(d)),
	})
}

func (s *Server) handleReportMarkdown(c *gin.Context) {
	d, err := s.service.Dashboard(c.Request.Context())
	if err != nil {
		s.renderError(c, err)
		return
	}
	c.Header("Content-Disposition", `attachment; filename="health-report.md"`)
	c.Data(http.StatusOK, "text/markdown; charset=utf-8", []byte(s.reports.Markdown(d)))
}

func (s *Server) handleExport(c *gin.Context) {
	d, err := s.service.Dashboard(c.Request.Context())
	if err != nil {
		s.renderError(c, err)
		return
	}

	var buf bytes.Buffer
	if err := excel.WriteDashboard(&buf, d); err != nil {
		s.renderError(c, err)
		return
	}
	c.Header("Content-Disposition", `attachment; filename="health-metrics.xlsx"`)
	c.Data(http.StatusOK, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", buf.Bytes())
}

func (s *Server) handleRefresh(c *gin.Context) {
	if _, err := s.service.Refresh(c.Request.Context()); err != nil {
		s.renderError(c, err)
		return
	}
	c.Redirect(http.StatusSeeOther, "/")
}

func (s *Server) renderError(c *gin.Context, err error) {
	status, body := api.NewErrorResponse(err)
	if status >= http.StatusInternalServerError {
		s.logger.WithError(err).Error("%s %s failed", c.Request.Method, c.Request.URL.Path)
	}
	s.renderTemplate(c, status, "error.html", pageData{
		Title:       "Error",
		GeneratedAt: time.Now().UTC(),
		Error:       body.Error,
	})
}

// RenderMarkdown converts md to HTML. Raw HTML in the input is dropped and
// only http, https, mailto and relative links survive.
func RenderMarkdown(md string) template.HTML {
	p := parser.NewWithExtensions(parser.CommonExtensions | parser.AutoHeadingIDs)
	renderer := mdhtml.NewRenderer(mdhtml.RendererOptions{Flags: mdhtml.CommonFlags | mdhtml.SkipHTML | mdhtml.Safelink})
	return template.HTML(markdown.ToHTML([]byte(md), p, renderer))
}
