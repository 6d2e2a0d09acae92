// Package web serves the read-only HTTPS mirror of the shared root on the
// third port, plus the Prometheus endpoint. Browser access is refused
// outright when the share is password protected, since the mirror has no
// way to run the handshake.
package web

import (
	"crypto/tls"
	"net"
	"net/http"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nima-ghaffari/Transfer/internal/config"
	_ "github.com/nima-ghaffari/Transfer/internal/metrics"
)

type Mirror struct {
	cfg    *config.ShareConfiguration
	server *http.Server
}

func NewMirror(cfg *config.ShareConfiguration) *Mirror {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/", guard(cfg, shareHandler(cfg)))

	return &Mirror{
		cfg: cfg,
		server: &http.Server{
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
}

// Serve runs the mirror on an already-bound TLS listener until Close.
func (m *Mirror) Serve(ln net.Listener) error {
	err := m.server.Serve(ln)
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (m *Mirror) Close() error {
	return m.server.Close()
}

// TLSListener binds the mirror port with the server certificate.
func TLSListener(addr string, cert tls.Certificate) (net.Listener, error) {
	return tls.Listen("tcp", addr, &tls.Config{Certificates: []tls.Certificate{cert}})
}

func guard(cfg *config.ShareConfiguration, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if cfg.PasswordRequired() {
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			w.WriteHeader(http.StatusForbidden)
			w.Write([]byte("<h1>403 Forbidden</h1><p>Web access is disabled when server is password-protected.</p>"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// shareHandler mirrors exactly what the transfer port offers. Directory
// shares expose the directory; a single-file share answers only the
// file's base name, so its siblings stay unreachable.
func shareHandler(cfg *config.ShareConfiguration) http.Handler {
	if cfg.Mode == config.ModeDirectory {
		return http.FileServer(http.Dir(cfg.SharedPath))
	}
	name := "/" + filepath.Base(cfg.SharedPath)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != name {
			http.NotFound(w, r)
			return
		}
		http.ServeFile(w, r, cfg.SharedPath)
	})
}
