// Package server exposes search, chat, translation and compliance checks over HTTP.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"tenancy-rag/internal/config"
	"tenancy-rag/internal/llmservice"
	"tenancy-rag/internal/models"
	"tenancy-rag/internal/rag"
)

// Deps are the services behind the handlers. Store may be nil when the
// unified store file is not available.
type Deps struct {
	Index      rag.Searcher
	Retriever  *rag.Retriever
	Assistant  *rag.Assistant
	Checker    *rag.Checker
	Translator *llmservice.Translator
	Store      *models.UnifiedStore
}

type Server struct {
	cfg    *config.Config
	deps   Deps
	engine *gin.Engine
}

func New(cfg *config.Config, deps Deps) *Server {
	if cfg.Server.Mode != "" {
		gin.SetMode(cfg.Server.Mode)
	}
	s := &Server{cfg: cfg, deps: deps, engine: gin.New()}
	s.engine.Use(gin.Recovery(), requestLogger())

	s.engine.GET("/health", s.health)
	s.engine.GET("/stats", s.stats)
	s.engine.POST("/search", s.search)
	s.engine.POST("/chat", s.chat)
	s.engine.POST("/translate", s.translate)
	s.engine.POST("/check", s.check)
	return s
}

func (s *Server) Handler() http.Handler { return s.engine }

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              ":" + s.cfg.Server.Port,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	log.Info().Msg("shutting down http server")
	return srv.Shutdown(shutdownCtx)
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Info().
			Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Msg("request")
	}
}

func (s *Server) health(c *gin.Context) {
	info, err := s.deps.Index.Info(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "collection": info})
}

func (s *Server) stats(c *gin.Context) {
	resp := gin.H{}
	if info, err := s.deps.Index.Info(c.Request.Context()); err == nil {
		resp["collection"] = info
	}
	if s.deps.Store != nil {
		resp["metadata"] = s.deps.Store.Metadata
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) search(c *gin.Context) {
	var req rag.SearchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if req.Limit == 0 {
		req.Limit = s.cfg.RAG.TopK
	}
	if req.Limit < 1 || req.Limit > s.cfg.RAG.MaxTopK {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be between 1 and max_top_k", "max_top_k": s.cfg.RAG.MaxTopK})
		return
	}

	results, err := s.deps.Retriever.Search(c.Request.Context(), req)
	if err != nil {
		s.fail(c, err, "search failed")
		return
	}
	c.JSON(http.StatusOK, gin.H{"results": results})
}

func (s *Server) chat(c *gin.Context) {
	var req rag.ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if req.MaxResults > s.cfg.RAG.MaxTopK {
		req.MaxResults = s.cfg.RAG.MaxTopK
	}

	resp, err := s.deps.Assistant.Chat(c.Request.Context(), req)
	if err != nil {
		s.fail(c, err, "chat failed")
		return
	}
	c.JSON(http.StatusOK, resp)
}

type translateRequest struct {
	Text           string `json:"text"`
	SourceLanguage string `json:"source_language"`
	TargetLanguage string `json:"target_language" binding:"required"`
}

func (s *Server) translate(c *gin.Context) {
	var req translateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	out, err := s.deps.Translator.Translate(c.Request.Context(), req.Text, req.SourceLanguage, req.TargetLanguage)
	if err != nil {
		s.fail(c, err, "translation failed")
		return
	}
	c.JSON(http.StatusOK, gin.H{"translation": out, "model_configured": s.deps.Translator.Configured()})
}

type checkRequest struct {
	Text string `json:"text" binding:"required"`
}

func (s *Server) check(c *gin.Context) {
	var req checkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	c.JSON(http.StatusOK, s.deps.Checker.Check(c.Request.Context(), req.Text))
}

func (s *Server) fail(c *gin.Context, err error, msg string) {
	if rag.IsClientError(err) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	log.Error().Err(err).Str("path", c.FullPath()).Msg(msg)
	c.JSON(http.StatusInternalServerError, gin.H{"error": msg})
}
