package server

import (
	"crypto/tls"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nima-ghaffari/Transfer/internal/certs"
	"github.com/nima-ghaffari/Transfer/internal/chat"
	"github.com/nima-ghaffari/Transfer/internal/client"
	"github.com/nima-ghaffari/Transfer/internal/config"
	"github.com/nima-ghaffari/Transfer/internal/event"
	"github.com/nima-ghaffari/Transfer/internal/protocol"
	"github.com/nima-ghaffari/Transfer/internal/session"
)

var (
	testCert     tls.Certificate
	testCertOnce sync.Once
)

func testTLSConfig(t *testing.T) *tls.Config {
	t.Helper()
	testCertOnce.Do(func() {
		var err error
		testCert, err = certs.EphemeralPair()
		if err != nil {
			panic(err)
		}
	})
	return certs.ServerTLSConfig(testCert)
}

type testServer struct {
	srv      *Server
	fileAddr string
	chatAddr string
}

// start runs a server on ephemeral loopback ports through the same serve
// path Start uses, skipping only the port binding.
func start(t *testing.T, cfg *config.ShareConfiguration) *testServer {
	t.Helper()
	log := logrus.New()
	log.SetOutput(io.Discard)

	tlsCfg := testTLSConfig(t)
	fileLn, err := tls.Listen("tcp", "127.0.0.1:0", tlsCfg)
	require.NoError(t, err)
	chatLn, err := tls.Listen("tcp", "127.0.0.1:0", tlsCfg)
	require.NoError(t, err)

	srv := New(cfg, event.NewBus(log))
	srv.serve(fileLn, chatLn, nil)
	t.Cleanup(srv.Stop)

	return &testServer{
		srv:      srv,
		fileAddr: fileLn.Addr().String(),
		chatAddr: chatLn.Addr().String(),
	}
}

func dirConfig(t *testing.T, password string, maxClients int) *config.ShareConfiguration {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), []byte("contents of a"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "b.txt"), []byte("contents of b, longer"), 0644))
	return &config.ShareConfiguration{
		Mode:       config.ModeDirectory,
		SharedPath: root,
		Password:   password,
		MaxClients: maxClients,
		Port:       8000,
	}
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

func TestNoPasswordHandshakeAndList(t *testing.T) {
	ts := start(t, dirConfig(t, "", 10))

	c, err := client.Dial(ts.fileAddr)
	require.NoError(t, err)
	defer c.Close()
	assert.False(t, c.NeedsPassword)

	names, err := c.List()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a.txt", "b.txt"}, names)

	// Idempotent: same set again.
	again, err := c.List()
	require.NoError(t, err)
	assert.ElementsMatch(t, names, again)
}

func TestLargeCatalogListsCompletely(t *testing.T) {
	// Enough names that the encoded catalog is several frames long.
	cfg := dirConfig(t, "", 10)
	want := []string{"a.txt", "b.txt"}
	for i := 0; i < 400; i++ {
		name := fmt.Sprintf("dataset-part-%04d-of-many.bin", i)
		require.NoError(t, os.WriteFile(filepath.Join(cfg.SharedPath, name), []byte("x"), 0644))
		want = append(want, name)
	}
	ts := start(t, cfg)

	c, err := client.Dial(ts.fileAddr)
	require.NoError(t, err)
	defer c.Close()

	names, err := c.List()
	require.NoError(t, err)
	assert.ElementsMatch(t, want, names)
}

func TestWrongPasswordIsRejected(t *testing.T) {
	ts := start(t, dirConfig(t, "p@ss", 10))

	c, err := client.Dial(ts.fileAddr)
	require.NoError(t, err)
	defer c.Close()
	require.True(t, c.NeedsPassword)

	require.ErrorIs(t, c.Authenticate("wrong"), client.ErrAuthFailed)

	// The server closes the connection after AUTH_FAILED.
	_, err = c.List()
	assert.Error(t, err)
}

func TestCorrectPasswordSucceeds(t *testing.T) {
	ts := start(t, dirConfig(t, "p@ss", 10))

	c, err := client.Dial(ts.fileAddr)
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.Authenticate("p@ss"))
	names, err := c.List()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a.txt", "b.txt"}, names)
}

func TestDownloadBatch(t *testing.T) {
	ts := start(t, dirConfig(t, "", 10))
	dest := t.TempDir()

	c, err := client.Dial(ts.fileAddr)
	require.NoError(t, err)
	defer c.Close()

	// Hostile names are skipped silently; the rest arrive in request
	// order and the batch still terminates.
	received, err := c.Download([]string{"../secret.txt", "a.txt", "sub/x.txt", "b.txt"}, dest)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.txt", "b.txt"}, received)

	a, err := os.ReadFile(filepath.Join(dest, "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "contents of a", string(a))

	b, err := os.ReadFile(filepath.Join(dest, "b.txt"))
	require.NoError(t, err)
	assert.Equal(t, "contents of b, longer", string(b))

	// The connection survives the batch; another command still works.
	_, err = c.List()
	require.NoError(t, err)
}

func TestAdmissionBound(t *testing.T) {
	ts := start(t, dirConfig(t, "", 2))

	c1, err := client.Dial(ts.fileAddr)
	require.NoError(t, err)
	defer c1.Close()
	c2, err := client.Dial(ts.fileAddr)
	require.NoError(t, err)
	defer c2.Close()

	// The third connection is dropped before any protocol bytes: the
	// dial itself may succeed, but no greeting ever arrives.
	_, err = client.Dial(ts.fileAddr)
	assert.Error(t, err)

	// The two admitted sessions are unaffected.
	_, err = c1.List()
	assert.NoError(t, err)
	_, err = c2.List()
	assert.NoError(t, err)
}

func TestPauseRejectsNewConnections(t *testing.T) {
	ts := start(t, dirConfig(t, "", 10))

	require.True(t, ts.srv.PauseToggle())
	_, err := client.Dial(ts.fileAddr)
	assert.Error(t, err)

	require.False(t, ts.srv.PauseToggle())
	c, err := client.Dial(ts.fileAddr)
	require.NoError(t, err)
	c.Close()
}

func TestForceDisconnect(t *testing.T) {
	ts := start(t, dirConfig(t, "", 10))

	c, err := client.Dial(ts.fileAddr)
	require.NoError(t, err)
	defer c.Close()

	waitFor(t, func() bool { return len(ts.srv.Sessions()) == 1 })
	identity := ts.srv.Sessions()[0].Addr

	require.NoError(t, ts.srv.ForceDisconnect(identity))
	_, err = c.List()
	assert.Error(t, err)

	// The worker unwinds and removes the record.
	waitFor(t, func() bool { return len(ts.srv.Sessions()) == 0 })

	assert.Error(t, ts.srv.ForceDisconnect("203.0.113.1:9"))
}

func TestChatDelivery(t *testing.T) {
	ts := start(t, dirConfig(t, "", 10))

	// No live chat connection: delivery reports false, nothing breaks.
	assert.False(t, ts.srv.SendChat("127.0.0.1", chat.Message, "hi"))

	cc, err := client.DialChat(ts.chatAddr)
	require.NoError(t, err)
	defer cc.Close()
	waitFor(t, func() bool { return ts.srv.chat.Connected("127.0.0.1") })

	require.NoError(t, cc.SendMessage("hello server"))
	waitFor(t, func() bool { return len(ts.srv.ChatHistory("127.0.0.1")) == 1 })
	assert.Equal(t, "hello server", ts.srv.ChatHistory("127.0.0.1")[0].Body)

	assert.True(t, ts.srv.SendChat("127.0.0.1", chat.Message, "hello client"))
	body, warning, err := cc.Receive()
	require.NoError(t, err)
	assert.False(t, warning)
	assert.Equal(t, "hello client", body)

	assert.True(t, ts.srv.SendChat("127.0.0.1", chat.Warning, "slow down"))
	body, warning, err = cc.Receive()
	require.NoError(t, err)
	assert.True(t, warning)
	assert.Equal(t, "slow down", body)
}

func TestUnknownCommandIsIgnored(t *testing.T) {
	ts := start(t, dirConfig(t, "", 10))

	conn, err := tls.Dial("tcp", ts.fileAddr, certs.ClientTLSConfig())
	require.NoError(t, err)
	defer conn.Close()

	buf := make([]byte, 256)
	n, err := conn.Read(buf)
	require.NoError(t, err)
	require.Equal(t, protocol.NoPass, string(buf[:n]))

	// Garbage is a no-op continuation; the next real command still
	// gets its response.
	_, err = conn.Write([]byte("MAKE_ME_A_SANDWICH"))
	require.NoError(t, err)
	time.Sleep(50 * time.Millisecond)

	_, err = conn.Write([]byte(protocol.CmdListFiles))
	require.NoError(t, err)
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, err = conn.Read(buf)
	require.NoError(t, err)
	names, err := protocol.DecodeNameList(buf[:n])
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a.txt", "b.txt"}, names)
}

func TestStopWhilePausedMidTransfer(t *testing.T) {
	cfg := dirConfig(t, "", 10)
	require.NoError(t, os.WriteFile(filepath.Join(cfg.SharedPath, "big.bin"), make([]byte, 1<<22), 0644))
	ts := start(t, cfg)
	dest := t.TempDir()

	c, err := client.Dial(ts.fileAddr)
	require.NoError(t, err)
	defer c.Close()

	// Pause after admission so the transfer stalls on its first chunk.
	require.True(t, ts.srv.PauseToggle())

	dlErr := make(chan error, 1)
	go func() {
		_, err := c.Download([]string{"big.bin"}, dest)
		dlErr <- err
	}()

	waitFor(t, func() bool {
		for _, s := range ts.srv.Sessions() {
			if s.Status == session.Downloading {
				return true
			}
		}
		return false
	})

	// Stop without ever resuming: closing the session sockets must free
	// the stalled worker or wg.Wait never returns.
	stopped := make(chan struct{})
	go func() {
		ts.srv.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		t.Fatal("Stop hung on a paused transfer")
	}
	assert.Error(t, <-dlErr)
}

func TestStopUnblocksEverything(t *testing.T) {
	ts := start(t, dirConfig(t, "", 10))

	c, err := client.Dial(ts.fileAddr)
	require.NoError(t, err)
	defer c.Close()
	cc, err := client.DialChat(ts.chatAddr)
	require.NoError(t, err)
	defer cc.Close()

	stopped := make(chan struct{})
	go func() {
		ts.srv.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		t.Fatal("Stop did not return; a worker is stuck")
	}

	_, err = c.List()
	assert.Error(t, err)
	_, _, err = cc.Receive()
	assert.Error(t, err)

	// Stop is idempotent.
	ts.srv.Stop()
}
