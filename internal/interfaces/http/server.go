package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/ngoclaw/llm-interactive-proxy/internal/domain/command"
	"github.com/ngoclaw/llm-interactive-proxy/internal/domain/request"
	"github.com/ngoclaw/llm-interactive-proxy/internal/domain/resolve"
	"github.com/ngoclaw/llm-interactive-proxy/internal/infrastructure/llm"
	"github.com/ngoclaw/llm-interactive-proxy/internal/interfaces/http/handlers"
	"github.com/ngoclaw/llm-interactive-proxy/internal/interfaces/websocket"
)

// Server is the gin-backed HTTP surface (spec.md §6): the OpenAI- and
// Anthropic-compatible wire protocols plus the single-connection
// streaming websocket adapter, all driven by one request.Processor (C11).
type Server struct {
	server *http.Server
	logger *zap.Logger
}

// Config is the HTTP server's listen configuration.
type Config struct {
	Host string
	Port int
	Mode string // debug, release

	// AuthKeys, when non-empty, requires every request (except /health)
	// to carry one of these keys via "Authorization: Bearer <key>" or
	// "X-API-Key" (spec.md §6: optional bearer-token auth).
	AuthKeys []string

	// CommandPrefix is surfaced on the /help debug page.
	CommandPrefix string
}

// NewServer wires the OpenAI/Anthropic handlers, the websocket hub, and
// the /help debug page onto one gin.Engine.
func NewServer(cfg Config, proc *request.Processor, registry *llm.Registry, resolver *resolve.Resolver, commands *command.Registry, fallbackModels []string, logger *zap.Logger) *Server {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(ginLogger(logger))

	openaiHandler := handlers.NewOpenAIHandler(proc, registry, resolver, logger, fallbackModels)
	anthropicHandler := handlers.NewAnthropicHandler(proc, resolver, logger)
	helpHandler := handlers.NewHelpHandler(commands, cfg.CommandPrefix)
	hub := websocket.NewHub(proc, resolver, logger)
	go hub.Run()

	setupRoutes(router, openaiHandler, anthropicHandler, helpHandler, hub, cfg.AuthKeys)

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	return &Server{
		server: &http.Server{Addr: addr, Handler: router},
		logger: logger,
	}
}

// Start begins serving in the background; it does not block.
func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("starting HTTP server", zap.String("address", s.server.Addr))
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("HTTP server error", zap.Error(err))
		}
	}()
	return nil
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("stopping HTTP server")
	return s.server.Shutdown(ctx)
}

func setupRoutes(router *gin.Engine, openaiHandler *handlers.OpenAIHandler, anthropicHandler *handlers.AnthropicHandler, helpHandler *handlers.HelpHandler, hub *websocket.Hub, authKeys []string) {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "time": time.Now().Unix()})
	})

	authorized := router.Group("/")
	authorized.Use(bearerAuth(authKeys))

	oai := authorized.Group("/v1")
	{
		oai.POST("/chat/completions", openaiHandler.ChatCompletions)
		oai.GET("/models", openaiHandler.ListModels)
	}
	authorized.GET("/models", openaiHandler.ListModels)

	anthropicGroup := authorized.Group("/anthropic/v1")
	{
		anthropicGroup.POST("/messages", anthropicHandler.Messages)
	}

	authorized.GET("/ws", hub.ServeWS)
	authorized.GET("/help", helpHandler.Help)
}

// bearerAuth enforces spec.md §6's optional bearer-token auth: when
// keys is empty, every request passes; otherwise the request must carry
// a matching key via "Authorization: Bearer <key>" or "X-API-Key".
func bearerAuth(keys []string) gin.HandlerFunc {
	allowed := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		allowed[k] = struct{}{}
	}
	return func(c *gin.Context) {
		if len(allowed) == 0 {
			c.Next()
			return
		}
		key := c.GetHeader("X-API-Key")
		if key == "" {
			if auth := c.GetHeader("Authorization"); len(auth) > 7 && auth[:7] == "Bearer " {
				key = auth[7:]
			}
		}
		if _, ok := allowed[key]; !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": gin.H{"message": "invalid or missing API key", "type": "authentication_error"}})
			return
		}
		c.Next()
	}
}

func ginLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		logger.Info("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.String("query", query),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("ip", c.ClientIP()),
		)
	}
}
