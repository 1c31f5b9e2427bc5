// Package api's server.go builds the gin router and http.Server,
// grounded on the reference's cmd/judge-service/main.go buildHTTPServer
// and requestLogger helpers.
package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	commonmw "coderunner/internal/common/http/middleware"
	"coderunner/pkg/utils/logger"
)

// ServerConfig bounds the HTTP listener.
type ServerConfig struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// BuildServer assembles the gin router for the exec-server HTTP
// surface and wraps it in an http.Server ready to Serve. auth is
// applied to every /api/v1 route except /auth/login; pass nil to
// disable authentication (local/dev use only). login is mounted
// whenever it is non-nil, whether or not auth is set.
func BuildServer(cfg ServerConfig, h *Handler, auth gin.HandlerFunc, login gin.HandlerFunc) *http.Server {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(commonmw.TraceContextMiddleware())
	router.Use(requestLogger())

	router.GET("/health", h.Health)
	router.GET("/health/detailed", h.HealthDetailed)

	v1 := router.Group("/api/v1")
	if login != nil {
		v1.POST("/auth/login", login)
	}
	if auth != nil {
		v1.Use(auth)
	}
	v1.POST("/exec", h.Exec)
	v1.POST("/upload", h.Upload)
	v1.GET("/download", h.Download)

	return &http.Server{
		Addr:         cfg.Addr,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		logger.Info(
			c.Request.Context(),
			"request completed",
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		)
	}
}
