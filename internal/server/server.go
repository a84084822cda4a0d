// Package server serves the single question form over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"docqa/internal/config"
	"docqa/internal/helper"
	"docqa/internal/models"
	"docqa/internal/parser"
	"docqa/internal/rag"
)

type Answerer interface {
	Answer(ctx context.Context, path, question string) string
	State() rag.State
}

type Server struct {
	engine      *gin.Engine
	answerer    Answerer
	uploadDir   string
	maxFileSize int64
	addr        string

	// one form submission at a time
	mu sync.Mutex
}

type pageData struct {
	Question string
	Answer   string
}

func New(cfg *config.Config, answerer Answerer, uploadDir string) (*Server, error) {
	if err := helper.CreateFolder(uploadDir); err != nil {
		return nil, err
	}

	if cfg.Server.Mode != "" {
		gin.SetMode(cfg.Server.Mode)
	}
	engine := gin.New()
	engine.Use(requestLogger(), gin.Recovery())
	engine.MaxMultipartMemory = cfg.Processing.MaxFileSize
	engine.SetHTMLTemplate(template.Must(template.New("index").Parse(indexHTML)))

	s := &Server{
		engine:      engine,
		answerer:    answerer,
		uploadDir:   uploadDir,
		maxFileSize: cfg.Processing.MaxFileSize,
		addr:        cfg.Server.Addr,
	}
	engine.GET("/", s.index)
	engine.POST("/ask", s.ask)
	engine.GET("/healthz", s.healthz)
	return s, nil
}

func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves until ctx is cancelled
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{Addr: s.addr, Handler: s.engine}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", s.addr).Msg("Starting server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		log.Info().Msg("Shutting down server")
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) index(c *gin.Context) {
	c.HTML(http.StatusOK, "index", pageData{})
}

func (s *Server) ask(c *gin.Context) {
	if s.maxFileSize > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.maxFileSize+1<<20)
	}
	question := strings.TrimSpace(c.PostForm("question"))

	path, err := s.saveUpload(c)
	if err != nil {
		log.Warn().Err(err).Msg("Rejected upload")
		c.HTML(http.StatusBadRequest, "index", pageData{Question: question, Answer: fmt.Sprintf(models.IngestErrorFormat, err)})
		return
	}
	if path != "" {
		defer os.Remove(path)
	}

	s.mu.Lock()
	answer := s.answerer.Answer(c.Request.Context(), path, question)
	s.mu.Unlock()

	c.HTML(http.StatusOK, "index", pageData{Question: question, Answer: answer})
}

// saveUpload stores the form file under a random name. A missing file is not an error.
func (s *Server) saveUpload(c *gin.Context) (string, error) {
	file, err := c.FormFile("file")
	if errors.Is(err, http.ErrMissingFile) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read upload: %w", err)
	}
	if s.maxFileSize > 0 && file.Size > s.maxFileSize {
		return "", fmt.Errorf("file is %d bytes, limit is %d", file.Size, s.maxFileSize)
	}

	ext := strings.ToLower(filepath.Ext(file.Filename))
	if !slices.Contains(parser.SupportedExtensions, ext) {
		return "", fmt.Errorf("unsupported file format: %s", ext)
	}

	id, err := helper.GenerateUUID()
	if err != nil {
		return "", err
	}
	dst := filepath.Join(s.uploadDir, id+ext)
	if err := c.SaveUploadedFile(file, dst); err != nil {
		return "", fmt.Errorf("failed to save upload: %w", err)
	}
	return dst, nil
}

func (s *Server) healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "state": s.answerer.State().String()})
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Info().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Msg("Request")
	}
}

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>PDF Document Assistant</title>
<style>
body { max-width: 900px; margin: auto; padding: 20px; font-family: sans-serif; }
textarea, input { width: 100%; margin-bottom: 20px; }
pre { white-space: pre-wrap; background: #f6f6f6; padding: 12px; }
</style>
</head>
<body>
<h1>PDF Document Assistant</h1>
<p>Upload any PDF document and ask questions about its content. The assistant understands text, images and tables within your document.</p>
<form method="post" action="/ask" enctype="multipart/form-data">
<label>Upload PDF Document <input type="file" name="file" accept=".pdf,.docx,.pptx,.xlsx,.xlsm,.xltx,.xltm,.md,.txt"></label>
<label>Your Question <textarea name="question" rows="2" placeholder="Ask anything about the document...">{{.Question}}</textarea></label>
<input type="submit" value="Ask">
</form>
{{if .Answer}}<h2>Answer</h2>
<pre>{{.Answer}}</pre>{{end}}
</body>
</html>
`
