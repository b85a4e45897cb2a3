// Package pprof runs the stdlib net/http/pprof handlers on a dedicated
// debug listener, off the hot path of the data and control sockets so
// profiling traffic never competes with them for a port.
package pprof

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/pprof"

	"github.com/ringnet-io/ringnet/pkg/rlog"
)

// Config holds pprof server configuration.
type Config struct {
	Host   string
	Port   int
	Enable bool
	Path   string
}

// SetDefaults fills in a sensible value for any zero field.
func (c *Config) SetDefaults() {
	if c.Host == "" {
		c.Host = "0.0.0.0"
	}
	if c.Port == 0 {
		c.Port = 8083
	}
	if c.Path == "" {
		c.Path = "/debug/pprof"
	}
}

// Server serves the standard pprof endpoints.
type Server struct {
	config Config
	server *http.Server
}

// NewServer builds (but does not start) a pprof debug server.
func NewServer(config Config) *Server {
	config.SetDefaults()
	return &Server{config: config}
}

// Start begins serving in a background goroutine, a no-op if disabled.
func (s *Server) Start() error {
	if !s.config.Enable {
		rlog.Infow("pprof server disabled")
		return nil
	}

	pathPrefix := s.config.Path
	mux := http.NewServeMux()
	mux.HandleFunc(pathPrefix+"/", pprof.Index)
	mux.HandleFunc(pathPrefix+"/cmdline", pprof.Cmdline)
	mux.HandleFunc(pathPrefix+"/profile", pprof.Profile)
	mux.HandleFunc(pathPrefix+"/symbol", pprof.Symbol)
	mux.HandleFunc(pathPrefix+"/trace", pprof.Trace)
	mux.Handle(pathPrefix+"/allocs", pprof.Handler("allocs"))
	mux.Handle(pathPrefix+"/block", pprof.Handler("block"))
	mux.Handle(pathPrefix+"/goroutine", pprof.Handler("goroutine"))
	mux.Handle(pathPrefix+"/heap", pprof.Handler("heap"))
	mux.Handle(pathPrefix+"/mutex", pprof.Handler("mutex"))
	mux.Handle(pathPrefix+"/threadcreate", pprof.Handler("threadcreate"))

	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.server = &http.Server{Addr: addr, Handler: mux}

	go func() {
		rlog.Infow("pprof server started", "address", addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			rlog.Errorw("pprof server stopped", "error", err)
		}
	}()
	return nil
}

// Stop gracefully shuts the debug server down.
func (s *Server) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}
