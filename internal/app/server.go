package app

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"chart-signal/internal/config"
	"chart-signal/internal/monitor"
)

const (
	maxHistoryLimit   = 1000
	heartbeatInterval = 15 * time.Second
)

//go:embed web/index.html
var indexHTML []byte

type eventSource interface {
	History(ctx context.Context, limit int) ([]monitor.Event, error)
	Subscribe() (<-chan monitor.Event, func())
}

type streamEvent struct {
	Seq   int64         `json:"seq"`
	Level monitor.Level `json:"level"`
	Line  string        `json:"line"`
}

// Server 提供状态查询、日志历史与实时日志推送，只读取共享状态。
type Server struct {
	cfg       config.ServerConfig
	state     *State
	events    eventSource
	logger    *zap.Logger
	router    *gin.Engine
	heartbeat time.Duration
}

// NewServer 创建 HTTP 接口。
func NewServer(cfg config.ServerConfig, state *State, events eventSource, logger *zap.Logger) (*Server, error) {
	if state == nil || events == nil {
		return nil, errors.New("server: state/events 不能为空")
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 100
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	s := &Server{
		cfg:       cfg,
		state:     state,
		events:    events,
		logger:    logger,
		router:    router,
		heartbeat: heartbeatInterval,
	}
	s.registerRoutes()
	return s, nil
}

func (s *Server) registerRoutes() {
	s.router.GET("/", s.handleIndex)
	s.router.GET("/healthz", s.handleHealth)
	s.router.GET("/logs", s.handleStream)
	api := s.router.Group("/api")
	api.GET("/status", s.handleStatus)
	api.GET("/logs/history", s.handleHistory)
}

// Handler 返回路由，便于测试。
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run 监听直到 ctx 取消，随后优雅关闭。
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	s.logger.Info("状态接口已启动", zap.String("addr", s.cfg.Addr))

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("状态接口异常: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Warn("关闭状态接口失败", zap.Error(err))
		}
		return nil
	}
}

func (s *Server) handleIndex(c *gin.Context) {
	c.Data(http.StatusOK, "text/html; charset=utf-8", indexHTML)
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.state.Snapshot())
}

func (s *Server) handleHistory(c *gin.Context) {
	limit := s.cfg.HistoryLimit
	if qs := c.Query("limit"); qs != "" {
		v, err := strconv.Atoi(qs)
		if err != nil || v <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit 必须为正整数"})
			return
		}
		if v > maxHistoryLimit {
			v = maxHistoryLimit
		}
		limit = v
	}

	events, err := s.events.History(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	lines := make([]string, 0, len(events))
	for _, ev := range events {
		lines = append(lines, ev.Line())
	}
	c.JSON(http.StatusOK, gin.H{"logs": lines, "events": events})
}

// handleStream 推送新事件。订阅被服务端断开时发送 resync，客户端应重新拉取历史。
func (s *Server) handleStream(c *gin.Context) {
	events, cancel := s.events.Subscribe()
	defer cancel()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Status(http.StatusOK)
	c.Writer.Flush()

	heartbeat := time.NewTicker(s.heartbeat)
	defer heartbeat.Stop()

	ctx := c.Request.Context()
	c.Stream(func(io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case ev, ok := <-events:
			if !ok {
				c.SSEvent("resync", "history")
				return false
			}
			c.SSEvent("message", streamEvent{Seq: ev.Seq, Level: ev.Level, Line: ev.Line()})
			return true
		case <-heartbeat.C:
			c.SSEvent("heartbeat", strconv.FormatInt(time.Now().Unix(), 10))
			return true
		}
	})
}
