package session

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Status tracks where a file-transfer connection is in its lifecycle.
// Within one command the transitions are monotonic: Authenticating →
// Connected → {Listing|Downloading} → Connected, ending in Disconnected.
type Status int

const (
	Authenticating Status = iota
	Connected
	Listing
	Downloading
	Completed
	Disconnected
)

func (s Status) String() string {
	switch s {
	case Authenticating:
		return "Authenticating"
	case Connected:
		return "Connected"
	case Listing:
		return "Listing"
	case Downloading:
		return "Downloading"
	case Completed:
		return "Completed"
	case Disconnected:
		return "Disconnected"
	default:
		return "Unknown"
	}
}

// Session is the live state of one file-transfer connection. It is owned
// by the Registry; the handler goroutine serving the client mutates it
// through Registry methods only. The remote address is the client
// identity, unique per concurrent connection; the IP is what ties a chat
// connection from the same host to this session.
type Session struct {
	ID          string
	Addr        string
	IP          string
	Conn        net.Conn
	ChatConn    net.Conn
	Status      Status
	CurrentFile string
	Progress    int
	BytesSent   int64
	ConnectedAt time.Time
}

// Snapshot is a copy of the display-relevant session fields, safe to hand
// across goroutine boundaries.
type Snapshot struct {
	ID          string
	Addr        string
	IP          string
	Status      Status
	CurrentFile string
	Progress    int
	BytesSent   int64
	ConnectedAt time.Time
}

// Registry is the single source of truth mapping client identity to live
// session state. Every worker goroutine goes through the one mutex.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// Add registers a fresh connection under its remote address.
func (r *Registry) Add(conn net.Conn) *Session {
	addr := conn.RemoteAddr().String()
	ip, _, err := net.SplitHostPort(addr)
	if err != nil {
		ip = addr
	}
	s := &Session{
		ID:          uuid.New().String(),
		Addr:        addr,
		IP:          ip,
		Conn:        conn,
		Status:      Authenticating,
		ConnectedAt: time.Now(),
	}
	r.mu.Lock()
	r.sessions[addr] = s
	r.mu.Unlock()
	return s
}

// Remove drops the session record. The caller closes the sockets.
func (r *Registry) Remove(addr string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, addr)
}

// Count reports the number of live file-transfer sessions, which is what
// the admission check compares against max clients.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

func (r *Registry) SetStatus(addr string, st Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[addr]; ok {
		s.Status = st
	}
}

func (r *Registry) SetCurrentFile(addr, name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[addr]; ok {
		s.CurrentFile = name
	}
}

// SetProgress publishes the most recent transfer percentage; older values
// are simply overwritten, the observer only wants the latest.
func (r *Registry) SetProgress(addr string, percent int, bytesSent int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[addr]; ok {
		s.Progress = percent
		s.BytesSent = bytesSent
	}
}

// AttachChat ties an established chat connection to the sessions from the
// same host, if any exist. Chat connections without a file-transfer
// session are legal and live only in the chat roster.
func (r *Registry) AttachChat(ip string, conn net.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.sessions {
		if s.IP == ip {
			s.ChatConn = conn
		}
	}
}

func (r *Registry) DetachChat(ip string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.sessions {
		if s.IP == ip {
			s.ChatConn = nil
		}
	}
}

// ForceClose closes the session's sockets from the administrative side.
// The worker blocked on that socket fails its read or write promptly and
// unwinds through its normal teardown path; that is the only cancellation
// mechanism a worker has. The identity may be the exact remote address or
// a bare IP, in which case every session from that host is closed.
func (r *Registry) ForceClose(identity string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[identity]; ok {
		closeSession(s)
		return nil
	}
	found := false
	for _, s := range r.sessions {
		if s.IP == identity {
			closeSession(s)
			found = true
		}
	}
	if !found {
		return fmt.Errorf("no active session for %s", identity)
	}
	return nil
}

// CloseAll tears down every session socket, used on server stop.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.sessions {
		closeSession(s)
	}
	r.sessions = make(map[string]*Session)
}

func closeSession(s *Session) {
	if s.Conn != nil {
		s.Conn.Close()
	}
	if s.ChatConn != nil {
		s.ChatConn.Close()
	}
}

// Get returns a snapshot of one session by remote address.
func (r *Registry) Get(addr string) (Snapshot, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[addr]
	if !ok {
		return Snapshot{}, false
	}
	return snapshotOf(s), true
}

// List returns snapshots of every live session.
func (r *Registry) List() []Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Snapshot, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, snapshotOf(s))
	}
	return out
}

func snapshotOf(s *Session) Snapshot {
	return Snapshot{
		ID:          s.ID,
		Addr:        s.Addr,
		IP:          s.IP,
		Status:      s.Status,
		CurrentFile: s.CurrentFile,
		Progress:    s.Progress,
		BytesSent:   s.BytesSent,
		ConnectedAt: s.ConnectedAt,
	}
}
