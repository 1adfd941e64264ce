package admin

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/pprof"
	"github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/samber/lo"

	"github.com/pzhenzhou/rediscodec/pkg/backend"
	"github.com/pzhenzhou/rediscodec/pkg/common"
	"github.com/pzhenzhou/rediscodec/pkg/metrics"
)

type HttpMethod string

const (
	GET    HttpMethod = "GET"
	POST   HttpMethod = "POST"
	PUT    HttpMethod = "PUT"
	DELETE HttpMethod = "DELETE"
)

const (
	StateKeyBackendManager = "BackendManager"
)

type ApiResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data"`
}

var (
	logger = common.InitLogger().WithName("admin")
)

type WebHandler interface {
	Path() string
	Method() HttpMethod
	Handler(ctx *gin.Context)
}

type WebServer struct {
	r        *gin.Engine
	server   *http.Server
	handlers []WebHandler
}

// NewWebServer registers the health, pool and endpoint handlers, plus the
// metrics handler when a collector is given.
func NewWebServer(config *common.AdminConfig, mgr *backend.BackendManager,
	collector metrics.CommandMetricsCollector, metricsPath string) *WebServer {
	allHandler := []WebHandler{
		&HealthCheckHandler{},
		&PoolStatusHandler{},
		&ListEndpointsHandler{},
		&AddEndpointHandler{},
		&RemoveEndpointHandler{},
	}
	if collector != nil {
		if metricsPath == "" {
			metricsPath = metrics.ExposeMetricURL
		}
		allHandler = append(allHandler, &MetricsHandler{path: metricsPath, collector: collector})
	}
	return NewWebServerWithHandlers(config, mgr, allHandler)
}

func NewWebServerWithHandlers(config *common.AdminConfig, mgr *backend.BackendManager, handlers []WebHandler) *WebServer {
	srv := initWebServer(config, mgr)
	for _, handler := range handlers {
		srv.registerHandler(handler)
	}
	return srv
}

func GlobalBackendManager(mgr *backend.BackendManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(StateKeyBackendManager, mgr)
		c.Next()
	}
}

func backendManager(c *gin.Context) *backend.BackendManager {
	object, _ := c.Get(StateKeyBackendManager)
	mgr, _ := object.(*backend.BackendManager)
	return mgr
}

func initWebServer(config *common.AdminConfig, mgr *backend.BackendManager) *WebServer {
	if common.IsProdRuntime() {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	zapLogger := common.RawZapLogger()
	r.Use(GlobalBackendManager(mgr))
	r.Use(ginzap.RecoveryWithZap(zapLogger, true))
	r.Use(ginzap.GinzapWithConfig(zapLogger, &ginzap.Config{
		UTC:        true,
		TimeFormat: time.RFC3339,
		Skipper: func(c *gin.Context) bool {
			if strings.HasPrefix(c.Request.URL.Path, "/debug") {
				return true
			}
			return c.Request.URL.Path == "/healthz" && c.Request.Method == "GET"
		},
	}))
	if config != nil && config.EnablePprof {
		pprof.Register(r)
	}
	return &WebServer{
		r: r,
		server: &http.Server{
			Handler:           r,
			ReadHeaderTimeout: 5 * time.Second,
		},
		handlers: make([]WebHandler, 0),
	}
}

// Handler exposes the router, mostly for tests.
func (s *WebServer) Handler() http.Handler {
	return s.r
}

// Serve blocks serving HTTP on l until Shutdown.
func (s *WebServer) Serve(l net.Listener) error {
	logger.Info("WebServer started.", "Addr", l.Addr().String())
	if err := s.server.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error(err, "Failed to serve admin http")
		return err
	}
	return nil
}

func (s *WebServer) Shutdown(ctx context.Context) {
	if err := s.server.Shutdown(ctx); err != nil {
		logger.Error(err, "Failed to shutdown admin http")
	} else {
		logger.Info("Admin WebServer stopped.")
	}
}

func (s *WebServer) registerHandler(handler WebHandler) {
	_, ok := lo.Find(s.handlers, func(item WebHandler) bool {
		return item.Path() == handler.Path() && item.Method() == handler.Method()
	})
	if ok {
		logger.Info("handler already registered", "Path", handler.Path(),
			"Method", handler.Method())
		return
	}
	logger.V(1).Info("WebServer register handler", "Path", handler.Path(),
		"Method", handler.Method())
	switch handler.Method() {
	case GET:
		s.r.GET(handler.Path(), handler.Handler)
	case POST:
		s.r.POST(handler.Path(), handler.Handler)
	case PUT:
		s.r.PUT(handler.Path(), handler.Handler)
	case DELETE:
		s.r.DELETE(handler.Path(), handler.Handler)
	}
	s.handlers = append(s.handlers, handler)
}

var _ WebHandler = &HealthCheckHandler{}

type HealthCheckHandler struct {
}

func (h *HealthCheckHandler) Path() string {
	return "/healthz"
}

func (h *HealthCheckHandler) Method() HttpMethod {
	return GET
}

func (h *HealthCheckHandler) Handler(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, gin.H{
		"status": "ok",
	})
}

var _ WebHandler = (*MetricsHandler)(nil)

type MetricsHandler struct {
	path      string
	collector metrics.CommandMetricsCollector
}

func (m *MetricsHandler) Path() string {
	return m.path
}

func (m *MetricsHandler) Method() HttpMethod {
	return GET
}

func (m *MetricsHandler) Handler(ctx *gin.Context) {
	m.collector.Handler()(ctx)
}
