package server

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"github.com/nima-ghaffari/Transfer/internal/event"
	"github.com/nima-ghaffari/Transfer/internal/metrics"
	"github.com/nima-ghaffari/Transfer/internal/protocol"
	"github.com/nima-ghaffari/Transfer/internal/session"
)

var errAuthFailed = errors.New("authentication failed")

// handleFileClient runs one file-transfer connection start to finish:
// registration, auth handshake, then the command loop until the peer
// leaves or the connection dies.
func (s *Server) handleFileClient(conn net.Conn) {
	sess := s.registry.Add(conn)
	metrics.ActiveSessions.Inc()
	s.events.Publish(event.Connection, sess.Addr, "Authenticating...")

	defer func() {
		s.registry.SetStatus(sess.Addr, session.Disconnected)
		s.registry.Remove(sess.Addr)
		metrics.ActiveSessions.Dec()
		conn.Close()
		s.events.Publish(event.Connection, sess.Addr, "Client disconnected.")
	}()

	if err := s.authenticate(conn, sess.Addr); err != nil {
		return
	}
	s.registry.SetStatus(sess.Addr, session.Connected)

	s.commandLoop(conn, sess.Addr)
}

// authenticate runs the handshake: announce the auth mode, then
// for protected shares read one password frame under a deadline and
// answer with the verdict. A wrong password or a timeout is fatal for
// this connection only.
func (s *Server) authenticate(conn net.Conn, addr string) error {
	if !s.cfg.PasswordRequired() {
		if err := protocol.WriteFrame(conn, protocol.NoPass); err != nil {
			return err
		}
		s.events.Publish(event.Auth, addr, "Successful (No password).")
		return nil
	}

	if err := protocol.WriteFrame(conn, protocol.NeedsPass); err != nil {
		return err
	}
	conn.SetReadDeadline(time.Now().Add(protocol.PasswordTimeout))
	password, err := protocol.ReadFrame(conn)
	if err != nil {
		s.events.Publish(event.Auth, addr, "Failed (no password received in time).")
		return err
	}
	conn.SetReadDeadline(time.Time{})

	if subtle.ConstantTimeCompare([]byte(password), []byte(s.cfg.Password)) != 1 {
		protocol.WriteFrame(conn, protocol.AuthFailed)
		s.events.Publish(event.Auth, addr, "Failed (Incorrect password).")
		return errAuthFailed
	}
	if err := protocol.WriteFrame(conn, protocol.AuthSuccess); err != nil {
		return err
	}
	s.events.Publish(event.Auth, addr, "Successful.")
	return nil
}

// commandLoop is the request/response backbone of the connection. No
// pipelining: the next command is not read until the current one has
// fully completed.
func (s *Server) commandLoop(conn net.Conn, addr string) {
	for {
		command, err := protocol.ReadFrame(conn)
		if err != nil {
			if err != io.EOF {
				s.events.Publish(event.Error, addr, "Connection lost.")
			}
			return
		}

		switch {
		case command == protocol.CmdListFiles:
			if err := s.handleList(conn, addr); err != nil {
				s.events.Publish(event.Error, addr, fmt.Sprintf("Catalog send failed: %v", err))
				return
			}

		case strings.HasPrefix(command, protocol.CmdDownloadFiles):
			// The request list may arrive glued to the command token
			// or as the following frame.
			rest := strings.TrimPrefix(command, protocol.CmdDownloadFiles)
			if err := s.handleDownload(conn, addr, rest); err != nil {
				s.events.Publish(event.Error, addr, fmt.Sprintf("Transfer aborted: %v", err))
				return
			}

		default:
			// Deliberately a no-op continuation; see DESIGN.md.
			s.events.Publish(event.Protocol, addr, fmt.Sprintf("Ignoring unrecognized command %q.", command))
		}
	}
}

func (s *Server) handleList(conn net.Conn, addr string) error {
	s.registry.SetStatus(addr, session.Listing)
	defer s.registry.SetStatus(addr, session.Connected)

	names, err := s.catalog.List()
	if err != nil {
		return err
	}
	payload, err := protocol.EncodeNameList(names)
	if err != nil {
		return err
	}
	// Newline-framed: the catalog can outgrow a single frame, and the
	// encoding escapes any newline inside a name.
	if _, err := conn.Write(append(payload, '\n')); err != nil {
		return err
	}
	s.events.Publish(event.Catalog, addr, fmt.Sprintf("Listed %d file(s).", len(names)))
	return nil
}

func (s *Server) handleDownload(conn net.Conn, addr, frame string) error {
	if frame == "" {
		var err error
		frame, err = protocol.ReadFrame(conn)
		if err != nil {
			return err
		}
	}
	names, err := protocol.DecodeNameList([]byte(frame))
	if err != nil {
		// Malformed request list; same policy as a bad filename, the
		// batch degenerates to an empty one and still terminates.
		s.events.Publish(event.Protocol, addr, fmt.Sprintf("Malformed download request: %v", err))
		names = nil
	}

	if err := s.engine.Send(conn, addr, names); err != nil {
		return err
	}
	s.registry.SetStatus(addr, session.Completed)
	s.registry.SetCurrentFile(addr, "")
	return nil
}
