package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"cnb.cool/zhiqiangwang/pkg/logx"
	"github.com/gin-gonic/gin"

	"github.com/ximass/lumnia/internal/config"
	"github.com/ximass/lumnia/internal/ingest"
	"github.com/ximass/lumnia/internal/rag"
	"github.com/ximass/lumnia/internal/search"
	"github.com/ximass/lumnia/internal/service"
)

// HTTPGinServer 基于 Gin 的 HTTP 服务器
type HTTPGinServer struct {
	config     *config.Config
	engine     *gin.Engine
	server     *http.Server
	kbs        *service.KnowledgeBaseService
	sources    *service.SourceService
	chats      *service.ChatService
	personas   *service.PersonaService
	retriever  *search.HybridRetriever
	dispatcher *rag.Dispatcher
	queue      *ingest.Queue
}

// NewHTTPGinServer 创建基于 Gin 的 HTTP 服务器
func NewHTTPGinServer(cfg *config.Config, kbs *service.KnowledgeBaseService, sources *service.SourceService,
	chats *service.ChatService, personas *service.PersonaService, retriever *search.HybridRetriever,
	dispatcher *rag.Dispatcher, queue *ingest.Queue) *HTTPGinServer {
	// 设置 Gin 模式
	if cfg.Server.HTTP.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()

	s := &HTTPGinServer{
		config:     cfg,
		engine:     engine,
		kbs:        kbs,
		sources:    sources,
		chats:      chats,
		personas:   personas,
		retriever:  retriever,
		dispatcher: dispatcher,
		queue:      queue,
	}

	// 注册中间件
	s.registerMiddlewares()

	// 注册路由
	s.registerRoutes()

	return s
}

// registerMiddlewares 注册中间件
func (s *HTTPGinServer) registerMiddlewares() {
	// 恢复中间件 - 从 panic 恢复
	s.engine.Use(gin.Recovery())

	// 自定义日志中间件
	s.engine.Use(s.loggingMiddleware())

	// CORS 中间件(如果需要)
	s.engine.Use(s.corsMiddleware())
}

// loggingMiddleware 自定义日志中间件
func (s *HTTPGinServer) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		method := c.Request.Method

		c.Next()

		duration := time.Since(start)
		status := c.Writer.Status()

		logx.Info("HTTP request, method %s, path %s, status %d, duration %s",
			method, path, status, duration)
	}
}

// corsMiddleware CORS 中间件
func (s *HTTPGinServer) corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With, X-Username")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE, PATCH")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}

// registerRoutes 注册路由
func (s *HTTPGinServer) registerRoutes() {
	// API v1 路由组
	v1 := s.engine.Group("/api/v1")
	{
		// 健康检查
		v1.GET("/health", s.handleHealth)

		// 知识库路由
		kb := v1.Group("/knowledge-bases")
		{
			kb.POST("", s.handleKBCreate)
			kb.GET("", s.handleKBList)
			kb.GET("/:id", s.handleKBGet)
			kb.DELETE("/:id", s.handleKBDelete)

			kb.POST("/:id/search", s.handleSearch)

			kb.POST("/:id/sources", s.handleSourceUpload)
			kb.GET("/:id/sources", s.handleSourceList)
		}

		// 数据源路由
		sources := v1.Group("/sources")
		{
			sources.GET("/:id", s.handleSourceGet)
			sources.POST("/:id/process", s.handleSourceProcess)
			sources.GET("/:id/status", s.handleSourceStatus)
			sources.POST("/:id/retry", s.handleSourceRetry)
			sources.DELETE("/:id", s.handleSourceDelete)
		}

		// 会话路由
		chats := v1.Group("/chats")
		{
			chats.POST("", s.handleChatCreate)
			chats.GET("", s.handleChatList)
			chats.GET("/:id", s.handleChatGet)
			chats.PUT("/:id", s.handleChatRename)
			chats.PATCH("/:id/persona", s.handleChatSetPersona)
			chats.DELETE("/:id", s.handleChatDelete)

			chats.GET("/:id/messages", s.handleMessageList)
			chats.POST("/:id/messages", s.handleMessageCreate)
			chats.DELETE("/:id/messages", s.handleMessageClear)
			chats.GET("/:id/context", s.handleChatContext)
		}

		// 消息来源路由
		v1.GET("/messages/:id/sources", s.handleMessageSources)

		// 人格路由
		personas := v1.Group("/personas")
		{
			personas.POST("", s.handlePersonaCreate)
			personas.GET("", s.handlePersonaList)
			personas.GET("/:id", s.handlePersonaGet)
			personas.PUT("/:id", s.handlePersonaUpdate)
			personas.DELETE("/:id", s.handlePersonaDelete)
		}

		// 用户默认人格路由
		v1.PUT("/users/:username/persona", s.handleUserPersonaSet)
		v1.DELETE("/users/:username/persona", s.handleUserPersonaClear)
	}
}

// Start 启动 HTTP 服务器
func (s *HTTPGinServer) Start() error {
	addr := fmt.Sprintf("0.0.0.0:%d", s.config.Server.HTTP.Port)

	s.server = &http.Server{
		Addr:        addr,
		Handler:     s.engine,
		ReadTimeout: 30 * time.Second,
		// 流式响应不能设置 WriteTimeout，否则长回答会被截断
	}

	logx.Info("🛜 Starting HTTP Server (Gin), Addr %s", addr)
	return s.server.ListenAndServe()
}

// Stop 停止 HTTP 服务器
func (s *HTTPGinServer) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// Response 统一响应结构
type Response struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// success 返回成功响应
func (s *HTTPGinServer) success(c *gin.Context, data any) {
	c.JSON(http.StatusOK, Response{
		Code:    200,
		Message: "Success",
		Data:    data,
	})
}

// error 返回错误响应
func (s *HTTPGinServer) error(c *gin.Context, code int, message string) {
	c.JSON(code, Response{
		Code:    code,
		Message: message,
	})
}

// ==================== 健康检查 ====================

func (s *HTTPGinServer) handleHealth(c *gin.Context) {
	s.success(c, gin.H{
		"status": "healthy",
	})
}

// username 从请求头取用户标识，缺省为 anonymous
func username(c *gin.Context) string {
	if u := c.GetHeader("X-Username"); u != "" {
		return u
	}
	return "anonymous"
}
