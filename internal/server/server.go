// Package server wires the application together and manages its lifecycle.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	artifactshttp "github.com/artifactd/artifactd/internal/adapters/in/http/artifacts"
	"github.com/artifactd/artifactd/internal/adapters/in/http/middleware"
	"github.com/artifactd/artifactd/internal/adapters/out/eventlog"
	"github.com/artifactd/artifactd/internal/adapters/out/filesystem"
	"github.com/artifactd/artifactd/internal/adapters/out/group"
	"github.com/artifactd/artifactd/internal/checksum"
	"github.com/artifactd/artifactd/internal/config"
	"github.com/artifactd/artifactd/internal/domain"
	"github.com/artifactd/artifactd/internal/metadata"
	"github.com/artifactd/artifactd/internal/metrics"
	"github.com/artifactd/artifactd/internal/usecase/artifacts"
)

const shutdownTimeout = 10 * time.Second

// Server is the assembled artifact server.
type Server struct {
	cfg      *config.Config
	echo     *echo.Echo
	cache    *checksum.Cache
	events   *eventlog.SQLiteLog
	recorder *metrics.PrometheusRecorder
	log      zerolog.Logger
}

// New assembles the full application: topology, resolvers, services,
// handlers and middleware.
func New(cfg *config.Config, version string, log zerolog.Logger) (*Server, error) {
	topology := cfg.Topology()

	cache := checksum.NewCache(cfg.ChecksumCache.TTL(), cfg.ChecksumCache.Interval(), log)
	metadataManager := metadata.NewManager(log)
	recorder := metrics.NewPrometheusRecorder()

	events, err := eventlog.New(cfg.EventLog.Path)
	if err != nil {
		return nil, fmt.Errorf("open event log: %w", err)
	}

	registry := artifacts.NewRegistry()
	fsResolver := filesystem.NewResolver(topology, log)
	registry.Register(domain.RepositoryTypeHosted, fsResolver)
	// Proxy repositories serve their locally cached content; remote fetch
	// is not part of this server.
	registry.Register(domain.RepositoryTypeProxy, fsResolver)
	registry.Register(domain.RepositoryTypeGroup, group.NewResolver(topology, registry, log))

	svc := artifacts.NewService(topology, registry, metadataManager, cache, events, recorder, log)

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(echomw.Recover())
	e.Use(middleware.RequestLogger(log))

	auth := middleware.BasicAuth(cfg.Auth.Enabled, cfg.Auth.Username, cfg.Auth.Password)
	artifactshttp.NewHandler(svc, version, log).RegisterRoutes(e, auth)
	e.GET("/metrics", echo.WrapHandler(recorder.HTTPHandler()))

	return &Server{
		cfg:      cfg,
		echo:     e,
		cache:    cache,
		events:   events,
		recorder: recorder,
		log:      log,
	}, nil
}

// Echo exposes the router, primarily for tests.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

// Start launches the checksum cache sweeper and the HTTP listener. It
// blocks until the listener stops.
func (s *Server) Start() error {
	if err := s.cache.Start(); err != nil {
		return err
	}

	addr := fmt.Sprintf(":%d", s.cfg.Server.Port)
	s.log.Info().Str("addr", addr).Msg("starting artifact server")

	if err := s.echo.Start(addr); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown stops the listener, the sweeper and the event log.
func (s *Server) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()

	if err := s.echo.Shutdown(ctx); err != nil {
		s.log.Warn().Err(err).Msg("http shutdown")
	}
	if err := s.cache.Stop(); err != nil {
		s.log.Warn().Err(err).Msg("cache sweeper shutdown")
	}
	return s.events.Close()
}
