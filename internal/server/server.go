// Package server owns the two protocol listeners and the administrative
// surface: start/stop, pause, forced disconnects and session observation.
package server

import (
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/nima-ghaffari/Transfer/internal/catalog"
	"github.com/nima-ghaffari/Transfer/internal/certs"
	"github.com/nima-ghaffari/Transfer/internal/chat"
	"github.com/nima-ghaffari/Transfer/internal/config"
	"github.com/nima-ghaffari/Transfer/internal/event"
	"github.com/nima-ghaffari/Transfer/internal/metrics"
	"github.com/nima-ghaffari/Transfer/internal/session"
	"github.com/nima-ghaffari/Transfer/internal/transfer"
	"github.com/nima-ghaffari/Transfer/internal/web"
)

// Server distributes the configured share to connecting peers. One
// goroutine per accepted connection; the registry and the pause flag are
// the only cross-connection state.
type Server struct {
	cfg      *config.ShareConfiguration
	events   *event.Bus
	registry *session.Registry
	catalog  *catalog.Service
	engine   *transfer.Engine
	chat     *chat.Roster
	mirror   *web.Mirror

	paused  atomic.Bool
	running atomic.Bool

	fileLn net.Listener
	chatLn net.Listener
	webLn  net.Listener
	wg     sync.WaitGroup
}

func New(cfg *config.ShareConfiguration, bus *event.Bus) *Server {
	s := &Server{
		cfg:      cfg,
		events:   bus,
		registry: session.NewRegistry(),
		chat:     chat.NewRoster(bus),
	}
	s.catalog = catalog.New(cfg)
	s.engine = transfer.NewEngine(s.catalog, s.registry, bus, s.paused.Load)
	s.mirror = web.NewMirror(cfg)
	return s
}

// Start validates the configuration, binds the three TLS listeners and
// begins accepting. The returned error carries the operator-facing reason
// when the share cannot be served.
func (s *Server) Start() error {
	if err := s.cfg.Validate(); err != nil {
		return err
	}

	cert, err := certs.LoadOrCreatePair()
	if err != nil {
		return fmt.Errorf("preparing TLS key pair: %w", err)
	}
	tlsCfg := certs.ServerTLSConfig(cert)

	fileLn, err := tls.Listen("tcp", fmt.Sprintf(":%d", s.cfg.Port), tlsCfg)
	if err != nil {
		return fmt.Errorf("binding transfer port: %w", err)
	}
	chatLn, err := tls.Listen("tcp", fmt.Sprintf(":%d", s.cfg.ChatPort()), tlsCfg)
	if err != nil {
		fileLn.Close()
		return fmt.Errorf("binding chat port: %w", err)
	}
	webLn, err := web.TLSListener(fmt.Sprintf(":%d", s.cfg.WebPort()), cert)
	if err != nil {
		fileLn.Close()
		chatLn.Close()
		return fmt.Errorf("binding web port: %w", err)
	}

	s.serve(fileLn, chatLn, webLn)
	return nil
}

// serve starts the accept loops on already-bound listeners. Split from
// Start so tests can inject ephemeral-port listeners.
func (s *Server) serve(fileLn, chatLn, webLn net.Listener) {
	s.fileLn, s.chatLn, s.webLn = fileLn, chatLn, webLn
	s.running.Store(true)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.acceptFileClients(fileLn)
	}()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.acceptChatClients(chatLn)
	}()

	if webLn != nil {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if err := s.mirror.Serve(webLn); err != nil {
				s.events.Publish(event.Error, "", fmt.Sprintf("Web mirror stopped: %v", err))
			}
		}()
	}

	s.events.Publish(event.Server, "", fmt.Sprintf("Server started on port %d (chat %d, web %d).",
		s.cfg.Port, s.cfg.ChatPort(), s.cfg.WebPort()))
}

// Stop tears everything down: listeners first so no new connections
// arrive, then every live session and chat socket so blocked workers
// unwind, then waits for them.
func (s *Server) Stop() {
	if !s.running.CompareAndSwap(true, false) {
		return
	}
	s.fileLn.Close()
	s.chatLn.Close()
	if s.webLn != nil {
		s.mirror.Close()
	}
	s.registry.CloseAll()
	s.chat.CloseAll()
	s.wg.Wait()
	s.events.Publish(event.Server, "", "Server stopped.")
}

func (s *Server) acceptFileClients(ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if s.running.Load() && !errors.Is(err, net.ErrClosed) {
				s.events.Publish(event.Error, "", fmt.Sprintf("Accept failed: %v", err))
				continue
			}
			return
		}

		// Admission: reject before any protocol bytes. The peer just
		// sees the connection drop.
		if s.paused.Load() || s.registry.Count() >= s.cfg.MaxClients {
			conn.Close()
			metrics.RejectedAdmissions.Inc()
			s.events.Publish(event.Admission, conn.RemoteAddr().String(), "Connection rejected (paused or at capacity).")
			continue
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleFileClient(conn)
		}()
	}
}

func (s *Server) acceptChatClients(ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if s.running.Load() && !errors.Is(err, net.ErrClosed) {
				s.events.Publish(event.Error, "", fmt.Sprintf("Chat accept failed: %v", err))
				continue
			}
			return
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			ip := remoteIP(conn)
			s.registry.AttachChat(ip, conn)
			s.chat.Serve(conn, ip)
			s.registry.DetachChat(ip)
		}()
	}
}

// PauseToggle flips the global pause flag and returns the new state.
// While paused, new file-transfer connections are rejected and in-flight
// chunk writes stall without restarting.
func (s *Server) PauseToggle() bool {
	paused := !s.paused.Load()
	s.paused.Store(paused)
	if paused {
		s.events.Publish(event.Server, "", "Transfers paused.")
	} else {
		s.events.Publish(event.Server, "", "Transfers resumed.")
	}
	return paused
}

func (s *Server) Paused() bool { return s.paused.Load() }

// ForceDisconnect closes the identified client's sockets; its worker
// observes the failed I/O and cleans up the session record.
func (s *Server) ForceDisconnect(identity string) error {
	if err := s.registry.ForceClose(identity); err != nil {
		return err
	}
	s.events.Publish(event.Connection, identity, "Force disconnected by operator.")
	return nil
}

// SendChat delivers a message or warning over the client's chat
// connection, reporting delivery as a boolean.
func (s *Server) SendChat(ip string, kind chat.Kind, body string) bool {
	ok := s.chat.Send(ip, kind, body)
	if ok {
		s.events.Publish(event.Chat, ip, fmt.Sprintf("Sent: '%s'", body))
	} else {
		s.events.Publish(event.Chat, ip, "Send failed (no live chat connection).")
	}
	return ok
}

// Sessions returns a point-in-time view of every live session.
func (s *Server) Sessions() []session.Snapshot { return s.registry.List() }

// Events exposes the bus so observers can subscribe to the structured
// event feed alongside the process log.
func (s *Server) Events() *event.Bus { return s.events }

// ChatHistory returns the recorded conversation with one client.
func (s *Server) ChatHistory(ip string) []chat.Entry { return s.chat.History(ip) }

func remoteIP(conn net.Conn) string {
	ip, _, err := net.SplitHostPort(conn.RemoteAddr().String())
	if err != nil {
		return conn.RemoteAddr().String()
	}
	return ip
}
