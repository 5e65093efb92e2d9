package main

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/BaSui01/flowforge/agentsvc"
	"github.com/BaSui01/flowforge/api/handlers"
	"github.com/BaSui01/flowforge/config"
	"github.com/BaSui01/flowforge/engine"
	"github.com/BaSui01/flowforge/gateway"
	"github.com/BaSui01/flowforge/internal/database"
	"github.com/BaSui01/flowforge/internal/metrics"
	"github.com/BaSui01/flowforge/internal/server"
	"github.com/BaSui01/flowforge/internal/telemetry"
	"github.com/BaSui01/flowforge/llm"
	"github.com/BaSui01/flowforge/mcp"
	"github.com/BaSui01/flowforge/monitor"
	"github.com/BaSui01/flowforge/store"
)

// =============================================================================
// 🖥️ Server 结构
// =============================================================================

// Server 组装 FlowForge 的全部组件
type Server struct {
	cfg    *config.Config
	logger *zap.Logger

	// 基础设施
	otelProviders *telemetry.Providers
	pool          *database.PoolManager
	redisClient   *redis.Client
	store         *store.Store

	// 服务器管理器
	httpManager    *server.Manager
	metricsManager *server.Manager

	// 核心服务
	engine       *engine.Engine
	gateway      *gateway.Gateway
	agentService *agentsvc.Service
	bridge       *mcp.Bridge
	healthPoller *mcp.HealthPoller
	monitor      *monitor.Monitor

	// 指标收集器
	metricsCollector *metrics.Collector

	// 后台 goroutine 生命周期
	bgCancel context.CancelFunc

	wg sync.WaitGroup
}

// NewServer 创建服务器并装配所有组件
func NewServer(cfg *config.Config, logger *zap.Logger, providers *telemetry.Providers, db *gorm.DB) (*Server, error) {
	s := &Server{
		cfg:           cfg,
		logger:        logger,
		otelProviders: providers,
	}

	pool, err := database.NewPoolManager(db, database.PoolConfig{
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.Database.ConnMaxIdleTime,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("init database pool: %w", err)
	}
	s.pool = pool
	s.store = store.New(db, logger)

	s.metricsCollector = metrics.NewCollector("flowforge", logger)

	// 实例锁：配置了 Redis 用分布式锁，否则进程内锁
	var lock engine.InstanceLock
	if cfg.Redis.Enabled {
		s.redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		lock = engine.NewRedisLock(s.redisClient, cfg.Engine.LockTTL)
		logger.Info("using redis instance lock", zap.String("addr", cfg.Redis.Addr))
	} else {
		lock = engine.NewLocalLock()
	}

	s.engine = engine.New(s.store, lock, engine.Config{
		MaxRetryCount: cfg.Engine.MaxRetryCount,
	}, s.metricsCollector, logger)

	s.gateway = gateway.New(s.store, s.engine, logger)

	s.bridge = mcp.NewBridge(s.store, mcp.Config{
		CallTimeout: cfg.MCP.CallTimeout,
		MaxRetries:  cfg.MCP.MaxRetries,
		URLRewrites: cfg.MCP.URLRewrites,
	}, s.metricsCollector, logger)

	s.healthPoller = mcp.NewHealthPoller(s.store, cfg.MCP.HealthInterval, cfg.MCP.URLRewrites, logger)

	// 每个 agent 行携带自己的模型接入配置，工厂按行构造 provider
	providerFor := func(agent *store.Agent) llm.Provider {
		return llm.NewOpenAICompat(llm.OpenAICompatConfig{
			ProviderName: agent.Name,
			APIKey:       agent.APIKey,
			BaseURL:      agent.BaseURL,
			DefaultModel: agent.Model,
		}, logger)
	}

	s.agentService = agentsvc.New(s.store, s.engine, s.bridge, providerFor, agentsvc.Config{
		Workers:            cfg.Agent.Workers,
		QueueSize:          cfg.Agent.QueueSize,
		PollInterval:       cfg.Agent.PollInterval,
		PollMaxInterval:    cfg.Agent.PollMaxInterval,
		LLMTimeout:         cfg.Agent.LLMTimeout,
		MaxToolCalls:       cfg.Agent.MaxToolCalls,
		ToolTimeout:        cfg.Agent.ToolTimeout,
		RateLimitRPS:       cfg.Agent.RateLimitRPS,
		ContextTokenBudget: cfg.Agent.ContextTokenBudget,
	}, s.metricsCollector, logger)
	s.engine.SetAgentNotifier(s.agentService)

	s.monitor = monitor.New(s.store, monitor.Config{
		Interval:              cfg.Monitor.Interval,
		FailureRateThreshold:  cfg.Monitor.FailureRateThreshold,
		PendingDepthThreshold: cfg.Monitor.PendingDepthThreshold,
		StallTimeout:          cfg.Monitor.StallTimeout,
		AlertBufferSize:       cfg.Monitor.AlertBufferSize,
	}, s.metricsCollector, logger)

	return s, nil
}

// =============================================================================
// 🚀 启动流程
// =============================================================================

// Start 启动后台服务与 HTTP 监听
func (s *Server) Start() error {
	bgCtx, cancel := context.WithCancel(context.Background())
	s.bgCancel = cancel

	// 后台服务：agent 任务执行、MCP 健康轮询、执行监控
	s.agentService.Start(bgCtx)

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		s.healthPoller.Run(bgCtx)
	}()
	go func() {
		defer s.wg.Done()
		s.monitor.Run(bgCtx)
	}()

	if err := s.startHTTPServer(bgCtx); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	if err := s.startMetricsServer(); err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}

	s.logger.Info("All servers started",
		zap.Int("http_port", s.cfg.Server.HTTPPort),
		zap.Int("metrics_port", s.cfg.Server.MetricsPort),
	)
	return nil
}

// =============================================================================
// 🌐 HTTP 服务器
// =============================================================================

func (s *Server) startHTTPServer(bgCtx context.Context) error {
	mux := http.NewServeMux()

	// 健康检查端点
	healthHandler := handlers.NewHealthHandler(s.logger)
	healthHandler.RegisterCheck(handlers.NewPingCheck("database", s.pool.Ping))
	if s.redisClient != nil {
		healthHandler.RegisterCheck(handlers.NewPingCheck("redis", func(ctx context.Context) error {
			return s.redisClient.Ping(ctx).Err()
		}))
	}
	mux.HandleFunc("GET /health", healthHandler.HandleHealth)
	mux.HandleFunc("GET /ready", healthHandler.HandleReady)
	mux.HandleFunc("GET /version", healthHandler.HandleVersion(Version, BuildTime, GitCommit))

	// 工作流执行与控制
	workflowHandler := handlers.NewWorkflowHandler(s.engine, s.store, s.logger)
	mux.HandleFunc("POST /api/v1/workflows/execute", workflowHandler.HandleExecute)
	mux.HandleFunc("POST /api/v1/workflows/{id}/control", workflowHandler.HandleControl)
	mux.HandleFunc("GET /api/v1/workflows/{id}", workflowHandler.HandleGetInstance)

	// 人工任务
	taskHandler := handlers.NewTaskHandler(s.gateway, s.logger)
	mux.HandleFunc("GET /api/v1/tasks/my", taskHandler.HandleListMyTasks)
	mux.HandleFunc("POST /api/v1/tasks/{id}/start", taskHandler.HandleStart)
	mux.HandleFunc("POST /api/v1/tasks/{id}/submit", taskHandler.HandleSubmit)
	mux.HandleFunc("POST /api/v1/tasks/{id}/pause", taskHandler.HandlePause)
	mux.HandleFunc("POST /api/v1/tasks/{id}/reject", taskHandler.HandleReject)
	mux.HandleFunc("POST /api/v1/tasks/{id}/help", taskHandler.HandleHelp)
	mux.HandleFunc("POST /api/v1/tasks/{id}/cancel", taskHandler.HandleCancel)

	// Agent 任务运维
	agentTaskHandler := handlers.NewAgentTaskHandler(s.agentService, s.store, s.logger)
	mux.HandleFunc("GET /api/v1/agent-tasks/pending", agentTaskHandler.HandleListPending)
	mux.HandleFunc("POST /api/v1/agent-tasks/{id}/process", agentTaskHandler.HandleProcess)
	mux.HandleFunc("POST /api/v1/agent-tasks/{id}/retry", agentTaskHandler.HandleRetry)
	mux.HandleFunc("POST /api/v1/agent-tasks/{id}/cancel", agentTaskHandler.HandleCancel)

	// 系统状态
	systemHandler := handlers.NewSystemHandler(s.agentService, s.monitor, s.store, s.logger)
	mux.HandleFunc("GET /api/v1/system/status", systemHandler.HandleStatus)
	mux.HandleFunc("GET /api/v1/system/alerts", systemHandler.HandleAlerts)

	// 中间件链
	skipAuthPaths := []string{"/health", "/ready", "/version", "/metrics"}
	middlewares := []Middleware{
		Recovery(s.logger),
		RequestID(),
		SecurityHeaders(),
		RequestLogger(s.logger),
		OTelTracing(),
		MetricsMiddleware(s.metricsCollector),
		CORS(s.cfg.Server.CORSAllowedOrigins),
		RateLimiter(bgCtx, float64(s.cfg.Server.RateLimitRPS), s.cfg.Server.RateLimitBurst, s.logger),
	}
	if len(s.cfg.Server.APIKeys) > 0 {
		middlewares = append(middlewares, APIKeyAuth(s.cfg.Server.APIKeys, skipAuthPaths, s.logger))
	}
	handler := Chain(mux, middlewares...)

	serverConfig := server.Config{
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.HTTPPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.WriteTimeout,
		IdleTimeout:     2 * s.cfg.Server.ReadTimeout,
		MaxHeaderBytes:  1 << 20, // 1 MB
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}

	s.httpManager = server.NewManager(handler, serverConfig, s.logger)

	if err := s.httpManager.Start(); err != nil {
		return err
	}

	s.logger.Info("HTTP server started", zap.Int("port", s.cfg.Server.HTTPPort))
	return nil
}

// =============================================================================
// 📊 Metrics 服务器
// =============================================================================

func (s *Server) startMetricsServer() error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	serverConfig := server.Config{
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.MetricsPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.WriteTimeout,
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}

	s.metricsManager = server.NewManager(mux, serverConfig, s.logger)

	if err := s.metricsManager.Start(); err != nil {
		return err
	}

	s.logger.Info("Metrics server started", zap.Int("port", s.cfg.Server.MetricsPort))
	return nil
}

// =============================================================================
// 🛑 关闭流程
// =============================================================================

// WaitForShutdown 等待关闭信号并优雅关闭
func (s *Server) WaitForShutdown() {
	if s.httpManager != nil {
		s.httpManager.WaitForShutdown()
	}
	s.Shutdown()
}

// Shutdown 优雅关闭所有服务
func (s *Server) Shutdown() {
	s.logger.Info("Starting graceful shutdown...")

	ctx := context.Background()

	// 1. 停止接收新请求
	if s.httpManager != nil {
		if err := s.httpManager.Shutdown(ctx); err != nil {
			s.logger.Error("HTTP server shutdown error", zap.Error(err))
		}
	}
	if s.metricsManager != nil {
		if err := s.metricsManager.Shutdown(ctx); err != nil {
			s.logger.Error("Metrics server shutdown error", zap.Error(err))
		}
	}

	// 2. 停止 agent 任务执行（等待进行中的任务收尾）
	if s.agentService != nil {
		s.agentService.Stop()
	}

	// 3. 停止后台 goroutine（健康轮询、监控、限流清理）
	if s.bgCancel != nil {
		s.bgCancel()
	}
	s.wg.Wait()

	// 4. 释放外部连接
	if s.redisClient != nil {
		if err := s.redisClient.Close(); err != nil {
			s.logger.Error("Redis close error", zap.Error(err))
		}
	}
	if s.pool != nil {
		if err := s.pool.Close(); err != nil {
			s.logger.Error("Database pool close error", zap.Error(err))
		}
	}
	if s.otelProviders != nil {
		if err := s.otelProviders.Shutdown(ctx); err != nil {
			s.logger.Error("Telemetry shutdown error", zap.Error(err))
		}
	}

	s.logger.Info("Graceful shutdown completed")
}
