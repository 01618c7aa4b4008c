package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/nerrad567/gray-logic-netatmo/internal/bridges/doortag"
	"github.com/nerrad567/gray-logic-netatmo/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-netatmo/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-netatmo/internal/netatmo"
)

// shutdownGrace bounds how long Close waits for in-flight requests.
const shutdownGrace = 10 * time.Second

// DoorTagService is the read and refresh surface of the door-tag bridge.
// *doortag.Bridge satisfies it.
type DoorTagService interface {
	Sensors() []netatmo.SensorSnapshot
	Sensor(uniqueID string) (netatmo.SensorSnapshot, bool)
	RefreshSensor(ctx context.Context, uniqueID string) (netatmo.SensorSnapshot, error)
	HealthStatus(ctx context.Context) (doortag.HealthStatus, string)
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config   config.APIConfig
	WS       config.WebSocketConfig
	Logger   *logging.Logger
	DoorTags DoorTagService
	Version  string
}

// Server serves the door-tag REST endpoints and the WebSocket feed.
type Server struct {
	cfg      config.APIConfig
	wsCfg    config.WebSocketConfig
	logger   *logging.Logger
	doortags DoorTagService
	version  string
	hub      *Hub

	httpServer *http.Server
	stopHub    context.CancelFunc
}

// New validates deps and builds a server. The WebSocket hub exists from here
// on, so state changes can be handed to PublishStateChange before Start.
//
// Parameters:
//   - deps: Logger and DoorTags are required
//
// Returns:
//   - *Server: not yet listening
//   - error: a required dependency is missing
func New(deps Deps) (*Server, error) {
	switch {
	case deps.Logger == nil:
		return nil, errors.New("api: logger is required")
	case deps.DoorTags == nil:
		return nil, errors.New("api: door-tag service is required")
	}

	return &Server{
		cfg:      deps.Config,
		wsCfg:    deps.WS,
		logger:   deps.Logger,
		doortags: deps.DoorTags,
		version:  deps.Version,
		hub:      NewHub(deps.WS, deps.Logger, deps.DoorTags.Sensors),
	}, nil
}

// Start binds the listen address and serves in the background.
//
// Parameters:
//   - ctx: lifetime of the WebSocket hub; the listener runs until Close
//
// Returns:
//   - error: the address could not be bound
func (s *Server) Start(ctx context.Context) error {
	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("api: listen on %s: %w", addr, err)
	}

	s.httpServer = &http.Server{
		Handler:           s.buildRouter(),
		ReadTimeout:       s.cfg.Timeouts.ReadTimeout(),
		ReadHeaderTimeout: s.cfg.Timeouts.ReadTimeout(),
		WriteTimeout:      s.cfg.Timeouts.WriteTimeout(),
		IdleTimeout:       s.cfg.Timeouts.IdleTimeout(),
	}

	hubCtx, stop := context.WithCancel(ctx)
	s.stopHub = stop
	go s.hub.Run(hubCtx)

	go func() {
		if err := s.httpServer.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server stopped unexpectedly", "error", err)
		}
	}()

	s.logger.Info("API server listening", "address", ln.Addr().String())
	return nil
}

// Close disconnects WebSocket clients and shuts the listener down, giving
// in-flight requests up to 10 seconds. Closing a server that never started
// is a no-op.
func (s *Server) Close() error {
	if s.httpServer == nil {
		return nil
	}
	s.stopHub()

	ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("api: shutdown: %w", err)
	}
	return nil
}

// PublishStateChange pushes a door-tag state change to the WebSocket clients
// watching that tag. Register it with the bridge's OnStateChange hook.
func (s *Server) PublishStateChange(snap netatmo.SensorSnapshot) {
	s.hub.PublishState(snap)
}
