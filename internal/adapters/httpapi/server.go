// Package httpapi exposes the agent's probe, current, sample and asset
// queries over HTTP with JSON documents.
package httpapi

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/ghalamif/AegisAgent/internal/domain"
	"github.com/ghalamif/AegisAgent/internal/ports"
	"github.com/ghalamif/AegisAgent/internal/request"
)

// Service is the query side of the agent.
type Service interface {
	GetDeviceModel(deviceKey string) (request.ProbeResponse, error)
	GetCurrent(req request.CurrentRequest) (request.CurrentResponse, error)
	GetSample(req request.SampleRequest) (request.SampleResponse, error)
	StreamSample(ctx context.Context, req request.SampleRequest, emit func(request.SampleResponse) error) error
	GetAssets(req request.AssetsRequest) (request.AssetsResponse, error)
}

type Config struct {
	Addr              string        `yaml:"addr"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout"`
	Debug             bool          `yaml:"debug"`
}

func (c *Config) applyDefaults() {
	if c.Addr == "" {
		c.Addr = ":5000"
	}
	if c.ReadHeaderTimeout <= 0 {
		c.ReadHeaderTimeout = 10 * time.Second
	}
}

type Server struct {
	cfg    Config
	svc    Service
	log    *zap.Logger
	obs    ports.Observability
	router *gin.Engine
	srv    *http.Server

	// base parents every request context; Shutdown cancels it to end
	// streaming samples, which never go idle on their own.
	base       context.Context
	cancelBase context.CancelFunc
}

// NewServer builds the router. A nil logger disables access logging.
func NewServer(cfg Config, svc Service, log *zap.Logger, obs ports.Observability) *Server {
	cfg.applyDefaults()
	if log == nil {
		log = zap.NewNop()
	}
	if obs == nil {
		obs = ports.Discard
	}
	if cfg.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{cfg: cfg, svc: svc, log: log, obs: obs}
	router := gin.New()
	// Access log in UTC RFC3339, panics logged with stack and answered as errors.
	router.Use(ginzap.Ginzap(log, time.RFC3339, true))
	router.Use(ginzap.CustomRecoveryWithZap(log, true, s.recovered))

	s.routes(&router.RouterGroup)
	s.routes(router.Group("/devices/:device"))
	router.GET("/asset/:ids", s.asset)
	router.GET("/healthz", func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	router.NoRoute(func(c *gin.Context) {
		s.fail(c, domain.NewError(domain.KindUnsupported, "unsupported request %s", c.Request.URL.Path))
	})

	s.router = router
	s.base, s.cancelBase = context.WithCancel(context.Background())
	s.srv = &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		BaseContext:       func(net.Listener) context.Context { return s.base },
	}
	return s
}

func (s *Server) routes(g *gin.RouterGroup) {
	g.GET("/probe", s.probe)
	g.GET("/current", s.current)
	g.GET("/sample", s.sample)
	g.GET("/assets", s.assets)
}

func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) Addr() string { return s.cfg.Addr }

func (s *Server) ListenAndServe() error {
	s.obs.LogInfo("http_server_started", ports.F("addr", s.cfg.Addr))
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Serve accepts connections on l until Shutdown.
func (s *Server) Serve(l net.Listener) error {
	s.obs.LogInfo("http_server_started", ports.F("addr", l.Addr().String()))
	if err := s.srv.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown cancels in-flight requests, streams included, and waits for their
// handlers to return. Connections still open when ctx ends are closed.
func (s *Server) Shutdown(ctx context.Context) error {
	s.cancelBase()
	err := s.srv.Shutdown(ctx)
	if err != nil {
		_ = s.srv.Close()
	}
	return err
}

func (s *Server) recovered(c *gin.Context, _ any) {
	s.fail(c, domain.NewError(domain.KindInternal, "internal error"))
}
