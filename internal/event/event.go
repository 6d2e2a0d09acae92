package event

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Category classifies an event for the administrative observer.
type Category string

const (
	Connection Category = "Connection"
	Auth       Category = "Authentication"
	Admission  Category = "Admission"
	Catalog    Category = "Catalog"
	Transfer   Category = "File Transfer"
	Chat       Category = "Chat"
	Protocol   Category = "Protocol"
	Error      Category = "Error"
	Server     Category = "Server"
)

// Event is one structured entry delivered to admin observers. Peers never
// see these; they only receive the wire-protocol signals.
type Event struct {
	Category Category
	ClientIP string
	Detail   string
	Time     time.Time
}

// Bus fans events out to subscribers and mirrors them to the process log.
// Publishing never blocks: a subscriber that has fallen behind loses the
// oldest events, which is acceptable for a display feed.
type Bus struct {
	mu   sync.Mutex
	subs []chan Event
	log  *logrus.Logger
}

func NewBus(log *logrus.Logger) *Bus {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Bus{log: log}
}

// Subscribe returns a channel receiving every subsequent event.
func (b *Bus) Subscribe() <-chan Event {
	ch := make(chan Event, 128)
	b.mu.Lock()
	b.subs = append(b.subs, ch)
	b.mu.Unlock()
	return ch
}

// Publish records one event.
func (b *Bus) Publish(cat Category, clientIP, detail string) {
	ev := Event{Category: cat, ClientIP: clientIP, Detail: detail, Time: time.Now()}

	entry := b.log.WithFields(logrus.Fields{"category": cat, "client": clientIP})
	if cat == Error {
		entry.Warn(detail)
	} else {
		entry.Info(detail)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Close closes all subscriber channels. Publish must not be called after.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		close(ch)
	}
	b.subs = nil
}
