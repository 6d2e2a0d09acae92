package chat

import (
	"io"
	"net"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nima-ghaffari/Transfer/internal/event"
	"github.com/nima-ghaffari/Transfer/internal/protocol"
)

func quietBus() *event.Bus {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return event.NewBus(log)
}

// loopback returns a connected (server, client) pair.
func loopback(t *testing.T) (net.Conn, net.Conn) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	type dialRes struct {
		conn net.Conn
		err  error
	}
	ch := make(chan dialRes, 1)
	go func() {
		c, err := net.Dial("tcp", ln.Addr().String())
		ch <- dialRes{c, err}
	}()
	server, err := ln.Accept()
	require.NoError(t, err)
	res := <-ch
	require.NoError(t, res.err)
	t.Cleanup(func() { server.Close(); res.conn.Close() })
	return server, res.conn
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestInboundMessageRecorded(t *testing.T) {
	roster := NewRoster(quietBus())
	server, peer := loopback(t)

	done := make(chan struct{})
	go func() {
		roster.Serve(server, "10.1.1.1")
		close(done)
	}()
	waitFor(t, func() bool { return roster.Connected("10.1.1.1") })

	_, err := peer.Write([]byte(protocol.PrefixMsgC2S + "hello there"))
	require.NoError(t, err)

	waitFor(t, func() bool { return len(roster.History("10.1.1.1")) == 1 })
	entry := roster.History("10.1.1.1")[0]
	assert.Equal(t, FromClient, entry.Sender)
	assert.Equal(t, "hello there", entry.Body)

	peer.Close()
	<-done
	assert.False(t, roster.Connected("10.1.1.1"))
}

func TestSendMessageAndWarning(t *testing.T) {
	roster := NewRoster(quietBus())
	server, peer := loopback(t)
	go roster.Serve(server, "10.1.1.2")
	waitFor(t, func() bool { return roster.Connected("10.1.1.2") })

	assert.True(t, roster.Send("10.1.1.2", Message, "hi"))
	buf := make([]byte, 256)
	n, err := peer.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, protocol.PrefixMsgS2C+"hi", string(buf[:n]))

	assert.True(t, roster.Send("10.1.1.2", Warning, "behave"))
	n, err = peer.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, protocol.PrefixWarnS2C+"behave", string(buf[:n]))

	// Both outbound messages land in the history alongside inbound ones.
	history := roster.History("10.1.1.2")
	require.Len(t, history, 2)
	assert.Equal(t, FromServer, history[0].Sender)
}

func TestSendWithoutConnectionReturnsFalse(t *testing.T) {
	roster := NewRoster(quietBus())
	assert.False(t, roster.Send("192.0.2.50", Message, "hi"))
}

func TestCloseAllDropsConnections(t *testing.T) {
	roster := NewRoster(quietBus())
	server, peer := loopback(t)

	done := make(chan struct{})
	go func() {
		roster.Serve(server, "10.1.1.3")
		close(done)
	}()
	waitFor(t, func() bool { return roster.Connected("10.1.1.3") })

	roster.CloseAll()
	<-done
	assert.False(t, roster.Send("10.1.1.3", Message, "gone"))

	_, err := peer.Read(make([]byte, 1))
	assert.Error(t, err)
}
