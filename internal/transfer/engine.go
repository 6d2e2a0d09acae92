package transfer

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"github.com/nima-ghaffari/Transfer/internal/catalog"
	"github.com/nima-ghaffari/Transfer/internal/event"
	"github.com/nima-ghaffari/Transfer/internal/metrics"
	"github.com/nima-ghaffari/Transfer/internal/protocol"
	"github.com/nima-ghaffari/Transfer/internal/session"
)

// Engine streams requested files to one peer at a time per session. The
// pause gate is shared server state: it is checked before every chunk, so
// an in-flight file stalls but never restarts. The wait still watches the
// socket, so force-closing a paused session unblocks its worker.
type Engine struct {
	catalog  *catalog.Service
	registry *session.Registry
	events   *event.Bus
	paused   func() bool

	// pausePoll is the read deadline between pause checks. Tests shrink
	// it; the server runs the 1s default.
	pausePoll time.Duration
}

func NewEngine(cat *catalog.Service, reg *session.Registry, bus *event.Bus, paused func() bool) *Engine {
	return &Engine{
		catalog:   cat,
		registry:  reg,
		events:    bus,
		paused:    paused,
		pausePoll: time.Second,
	}
}

// Send streams the requested files in request order. Names that fail the
// containment check or do not resolve to an existing regular file are
// skipped without an error frame; the batch still completes. Any socket
// error is fatal for the whole call and the remaining names are not
// attempted.
func (e *Engine) Send(conn net.Conn, addr string, names []string) error {
	e.events.Publish(event.Transfer, addr, fmt.Sprintf("Requested %d file(s).", len(names)))

	for _, name := range names {
		path, ok := e.catalog.Resolve(name)
		if !ok {
			e.events.Publish(event.Transfer, addr, fmt.Sprintf("Skipped invalid request %q.", name))
			continue
		}
		if err := e.sendOne(conn, addr, name, path); err != nil {
			return err
		}
		e.events.Publish(event.Transfer, addr, fmt.Sprintf("Successfully sent '%s'.", name))
	}

	if err := protocol.WriteFrame(conn, protocol.EndOfTransmission+"\n"); err != nil {
		return fmt.Errorf("sending end of transmission: %w", err)
	}
	return nil
}

// waitWhilePaused blocks until the shared pause flag clears. The wait
// doubles as a socket watch: each poll is a short-deadline read, so a
// session whose socket is closed while paused fails here instead of
// stalling until resume. Mid-file the peer has nothing legitimate to
// send, so any stray bytes the read pulls are dropped.
func (e *Engine) waitWhilePaused(conn net.Conn) error {
	var scratch [1]byte
	for e.paused() {
		if err := conn.SetReadDeadline(time.Now().Add(e.pausePoll)); err != nil {
			return err
		}
		if _, err := conn.Read(scratch[:]); err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			return err
		}
	}
	return conn.SetReadDeadline(time.Time{})
}

func (e *Engine) sendOne(conn net.Conn, addr, name, path string) error {
	file, err := os.Open(path)
	if err != nil {
		// Raced with a deletion since Resolve; same policy as a bad
		// name, skip without a frame.
		e.events.Publish(event.Transfer, addr, fmt.Sprintf("Skipped unreadable file %q.", name))
		return nil
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		e.events.Publish(event.Transfer, addr, fmt.Sprintf("Skipped unreadable file %q.", name))
		return nil
	}
	size := info.Size()

	e.registry.SetStatus(addr, session.Downloading)
	e.registry.SetCurrentFile(addr, name)

	if err := protocol.WriteFrame(conn, protocol.FileHeader(name, size)); err != nil {
		return fmt.Errorf("sending header for %s: %w", name, err)
	}

	buf := make([]byte, protocol.ChunkSize)
	var sent int64
	for {
		n, err := file.Read(buf)
		if n > 0 {
			if werr := e.waitWhilePaused(conn); werr != nil {
				return fmt.Errorf("sending chunk of %s: %w", name, werr)
			}
			if _, werr := conn.Write(buf[:n]); werr != nil {
				return fmt.Errorf("sending chunk of %s: %w", name, werr)
			}
			sent += int64(n)
			metrics.BytesSent.Add(float64(n))
			if size > 0 {
				e.registry.SetProgress(addr, int(sent*100/size), sent)
			} else {
				e.registry.SetProgress(addr, 100, sent)
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("reading %s: %w", name, err)
		}
	}

	// Flow-control barrier: the peer confirms it persisted the file
	// before the next header is sent.
	if _, err := protocol.ReadFrame(conn); err != nil {
		return fmt.Errorf("waiting for ack of %s: %w", name, err)
	}
	metrics.FilesSent.Inc()
	return nil
}
