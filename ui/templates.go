package ui

import (
	"bytes"
	"html/template"
	"net/http"
	"strings"
	"time"

	"vitalsdash/app"

	"github.com/gin-gonic/gin"
)

// pageData is the root value of every page template
type pageData struct {
	Title       string
	Active      string
	GeneratedAt time.Time
	Dashboard   *app.Dashboard
	Prediction  *app.Prediction
	ReportHTML  template.HTML
	Error       string
}

// renderTemplate executes a page into a buffer first so template errors
// never produce a half-written response
func (s *Server) renderTemplate(c *gin.Context, status int, templateName string, data pageData) {
	var buf bytes.Buffer
	if err := s.templates.ExecuteTemplate(&buf, templateName, data); err != nil {
		s.logger.WithError(err).Error("template error for %s", templateName)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Template rendering failed", "details": err.Error()})
		return
	}

	if !strings.Contains(buf.String(), "</html>") {
		s.logger.Warn("rendered template %s appears truncated - missing </html> tag", templateName)
	}

	c.Data(status, "text/html; charset=utf-8", buf.Bytes())
}
