package api

// server.go wraps the API in an http.Server with a CORS layer and a
// listener whose shutdown is tied to a thread group, following the daemon's
// lifecycle conventions.

import (
	"net"
	"net/http"
	"strings"

	"github.com/rs/cors"

	siasync "github.com/oib/AITBC-sub002/sync"
)

// A Server serves the API over one TCP listener.
type Server struct {
	api       *API
	apiServer *http.Server
	listener  net.Listener
	tg        siasync.ThreadGroup
}

// NewServer binds the API to addr. allowedOrigins configures CORS; an empty
// list allows no cross-origin browser access.
func NewServer(addr string, api *API, allowedOrigins []string) (*Server, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}

	c := cors.New(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete},
		AllowedHeaders: []string{"Authorization", "Content-Type", "X-API-Key", "X-Session-Token"},
	})

	srv := &Server{
		api:      api,
		listener: listener,
		apiServer: &http.Server{
			Handler: c.Handler(api),
		},
	}
	srv.tg.BeforeStop(func() {
		srv.listener.Close()
	})
	return srv, nil
}

// Addr returns the listener address, useful when binding to port zero.
func (srv *Server) Addr() string {
	return srv.listener.Addr().String()
}

// Serve blocks, handling API calls until the server is closed.
func (srv *Server) Serve() error {
	if err := srv.tg.Add(); err != nil {
		return err
	}
	defer srv.tg.Done()

	// Closing the listener surfaces as a benign error.
	err := srv.apiServer.Serve(srv.listener)
	if err != nil && !strings.Contains(err.Error(), "use of closed network connection") &&
		err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Close shuts the server down.
func (srv *Server) Close() error {
	return srv.tg.Stop()
}
