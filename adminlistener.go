package rdnstap

import (
	"context"
	"crypto/tls"
	"expvar"
	"net"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
)

// Read/Write timeout in the admin server
const adminServerTimeout = 10 * time.Second

// AdminListener serves the tap metrics over HTTP(S).
type AdminListener struct {
	httpServer *http.Server

	id   string
	addr string
	opt  AdminListenerOptions

	mux *http.ServeMux
}

var _ Listener = &AdminListener{}

// AdminListenerOptions contains options used by the admin service.
type AdminListenerOptions struct {
	// Serve HTTPS if set, plain HTTP otherwise.
	TLSConfig *tls.Config
}

// NewAdminListener returns an instance of an admin service listener.
func NewAdminListener(id, addr string, opt AdminListenerOptions) *AdminListener {
	l := &AdminListener{
		id:   id,
		addr: addr,
		opt:  opt,
		mux:  http.NewServeMux(),
	}
	// Serve metrics.
	l.mux.Handle("/rdnstap/vars", expvar.Handler())
	l.httpServer = &http.Server{
		Addr:         addr,
		TLSConfig:    opt.TLSConfig,
		Handler:      l.mux,
		ReadTimeout:  adminServerTimeout,
		WriteTimeout: adminServerTimeout,
	}
	return l
}

// Start the admin server. Blocks until the server is stopped.
func (s *AdminListener) Start() error {
	Log.WithFields(logrus.Fields{"id": s.id, "addr": s.addr}).Info("starting admin listener")
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	defer ln.Close()
	if s.opt.TLSConfig != nil {
		err = s.httpServer.ServeTLS(ln, "", "")
	} else {
		err = s.httpServer.Serve(ln)
	}
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Stop the server.
func (s *AdminListener) Stop(ctx context.Context) error {
	Log.WithFields(logrus.Fields{"id": s.id, "addr": s.addr}).Info("stopping admin listener")
	return s.httpServer.Shutdown(ctx)
}

func (s *AdminListener) String() string {
	return s.id
}
