// Package discovery announces a running share on the local network over
// mDNS so peers can find it without typing addresses.
package discovery

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/grandcat/zeroconf"
)

const serviceName = "_transfer._tcp"

// Announcer keeps the mDNS registration alive for the lifetime of a
// running server. Announcement failure is never fatal to the share.
type Announcer struct {
	server *zeroconf.Server
}

// Announce registers the share under the local hostname, carrying the
// share mode as a TXT record.
func Announce(port int, mode string) (*Announcer, error) {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "transfer-server"
	}
	srv, err := zeroconf.Register(hostname, serviceName, "local.", port,
		[]string{"mode=" + mode}, nil)
	if err != nil {
		return nil, fmt.Errorf("registering mDNS service: %w", err)
	}
	return &Announcer{server: srv}, nil
}

func (a *Announcer) Shutdown() {
	if a != nil && a.server != nil {
		a.server.Shutdown()
	}
}

// Share is one discovered server.
type Share struct {
	Host string
	IP   string
	Port int
	Mode string
}

// Browse scans the local network for announced shares until the timeout.
func Browse(timeout time.Duration) ([]Share, error) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("initializing mDNS resolver: %w", err)
	}

	entries := make(chan *zeroconf.ServiceEntry)
	var shares []Share
	done := make(chan struct{})
	go func() {
		defer close(done)
		for entry := range entries {
			share := Share{Host: entry.HostName, Port: entry.Port}
			if len(entry.AddrIPv4) > 0 {
				share.IP = entry.AddrIPv4[0].String()
			}
			for _, txt := range entry.Text {
				if strings.HasPrefix(txt, "mode=") {
					share.Mode = strings.TrimPrefix(txt, "mode=")
				}
			}
			shares = append(shares, share)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := resolver.Browse(ctx, serviceName, "local.", entries); err != nil {
		return nil, fmt.Errorf("browsing for shares: %w", err)
	}
	<-ctx.Done()
	<-done
	return shares, nil
}
