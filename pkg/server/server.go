// Package server 暴露三个 worker 的 HTTP 调用面。
//
// 路由 (全部 GET，参数走 query string，和上游调度器的约定一致):
//
//	/hash  ?region=&bucket=&key=
//	/copy  ?region=&bucket=&key=&shard=&root=
//	/index ?region=&bucket=&key=&shard=
//
// 响应一律是 {"ok": true, ...} 或 {"ok": false, "error": "..."}。
package server

import (
	"fmt"
	"net/http"
	"time"

	"carmover/pkg/app"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Server 把 gin 引擎和依赖容器绑在一起。
type Server struct {
	app    *app.App
	engine *gin.Engine
}

// New 构造 Server 并注册路由。
func New(a *app.App) *Server {
	gin.SetMode(gin.ReleaseMode)

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(requestLogger(a.Logger))

	s := &Server{app: a, engine: engine}

	engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})
	engine.GET("/hash", s.handleHash)
	engine.GET("/copy", s.handleCopy)
	engine.GET("/index", s.handleIndex)

	return s
}

// Handler 暴露底层 http.Handler，httptest 集成测试用。
func (s *Server) Handler() http.Handler { return s.engine }

// Run 阻塞运行直到监听失败。
func (s *Server) Run(port int) error {
	return s.engine.Run(fmt.Sprintf(":%d", port))
}

// requestLogger 给每个请求打一行结构化访问日志。
// shard 操作动辄几分钟，起止各打一条才能在日志里看到在途请求。
func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		logger.Info("request started",
			zap.String("path", c.Request.URL.Path),
			zap.String("query", c.Request.URL.RawQuery),
		)

		c.Next()

		logger.Info("request finished",
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("elapsed", time.Since(start)),
		)
	}
}
