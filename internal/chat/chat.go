package chat

import (
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/nima-ghaffari/Transfer/internal/event"
	"github.com/nima-ghaffari/Transfer/internal/metrics"
	"github.com/nima-ghaffari/Transfer/internal/protocol"
)

// Kind selects the server-to-client frame prefix.
type Kind int

const (
	Message Kind = iota
	Warning
)

// Sender tags who produced a history entry.
type Sender string

const (
	FromClient Sender = "Client"
	FromServer Sender = "Server"
)

// Entry is one line of a client's in-memory chat history. Nothing is
// persisted beyond this; delivery is the only contract.
type Entry struct {
	Sender Sender
	Body   string
	Time   time.Time
}

// Roster tracks live chat connections keyed by client IP, plus each
// client's message history. There is no command loop on a chat
// connection: every inbound frame is a message and the connection lives
// until read error or EOF.
type Roster struct {
	mu        sync.Mutex
	conns     map[string]net.Conn
	histories map[string][]Entry
	events    *event.Bus
}

func NewRoster(bus *event.Bus) *Roster {
	return &Roster{
		conns:     make(map[string]net.Conn),
		histories: make(map[string][]Entry),
		events:    bus,
	}
}

// Serve owns conn until it dies, recording inbound messages. It is run
// on the accepting goroutine and returns when the peer goes away.
func (r *Roster) Serve(conn net.Conn, ip string) {
	r.mu.Lock()
	r.conns[ip] = conn
	r.mu.Unlock()
	r.events.Publish(event.Chat, ip, "Chat connection established.")

	for {
		frame, err := protocol.ReadFrame(conn)
		if err != nil {
			break
		}
		if !strings.HasPrefix(frame, protocol.PrefixMsgC2S) {
			// Only one inbound prefix exists; anything else is noise.
			r.events.Publish(event.Protocol, ip, fmt.Sprintf("Ignoring unrecognized chat frame %q.", frame))
			continue
		}
		body := strings.TrimPrefix(frame, protocol.PrefixMsgC2S)
		r.append(ip, FromClient, body)
		metrics.ChatMessages.WithLabelValues("in").Inc()
		r.events.Publish(event.Chat, ip, fmt.Sprintf("Received: '%s'", body))
	}

	r.mu.Lock()
	delete(r.conns, ip)
	r.mu.Unlock()
	conn.Close()
	r.events.Publish(event.Chat, ip, "Chat connection lost.")
}

// Send delivers one message or warning to the client. It reports false,
// never an error, when the client has no live chat connection or the
// write fails; a failed chat send must not disturb anything else.
func (r *Roster) Send(ip string, kind Kind, body string) bool {
	r.mu.Lock()
	conn, ok := r.conns[ip]
	r.mu.Unlock()
	if !ok {
		return false
	}

	prefix := protocol.PrefixMsgS2C
	if kind == Warning {
		prefix = protocol.PrefixWarnS2C
	}
	if err := protocol.WriteFrame(conn, prefix+body); err != nil {
		return false
	}
	r.append(ip, FromServer, body)
	metrics.ChatMessages.WithLabelValues("out").Inc()
	return true
}

// Connected reports whether the client currently has a chat connection.
func (r *Roster) Connected(ip string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.conns[ip]
	return ok
}

// History returns a copy of the client's chat history.
func (r *Roster) History(ip string) []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Entry(nil), r.histories[ip]...)
}

// CloseAll tears down every live chat connection, used on server stop.
func (r *Roster) CloseAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, conn := range r.conns {
		conn.Close()
	}
	r.conns = make(map[string]net.Conn)
}

func (r *Roster) append(ip string, sender Sender, body string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.histories[ip] = append(r.histories[ip], Entry{Sender: sender, Body: body, Time: time.Now()})
}
