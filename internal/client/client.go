// Package client implements the connecting peer: auth handshake, catalog
// requests, downloads and the chat connection.
package client

import (
	"bufio"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/schollz/progressbar/v3"

	"github.com/nima-ghaffari/Transfer/internal/certs"
	"github.com/nima-ghaffari/Transfer/internal/protocol"
)

var (
	ErrAuthFailed       = errors.New("server rejected the password")
	ErrPasswordRequired = errors.New("server requires a password")
)

// Client is one file-transfer connection to a server. Not safe for
// concurrent use; the protocol is strictly sequential anyway.
type Client struct {
	conn   net.Conn
	reader *bufio.Reader

	// NeedsPassword reports the server's auth mode announcement.
	NeedsPassword bool

	// ShowProgress draws a per-file progress bar during downloads.
	ShowProgress bool
}

// Dial connects to the server's transfer port and reads the auth mode
// announcement. When NeedsPassword is set afterwards, Authenticate must
// be called before any command.
func Dial(addr string) (*Client, error) {
	conn, err := tls.Dial("tcp", addr, certs.ClientTLSConfig())
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", addr, err)
	}
	c := &Client{conn: conn, reader: bufio.NewReader(conn)}

	greeting, err := c.readFrame()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("reading auth announcement: %w", err)
	}
	switch greeting {
	case protocol.NeedsPass:
		c.NeedsPassword = true
	case protocol.NoPass:
	default:
		conn.Close()
		return nil, fmt.Errorf("unexpected greeting %q", greeting)
	}
	return c, nil
}

// Authenticate sends the password and checks the verdict. A no-password
// server accepts any call as a no-op.
func (c *Client) Authenticate(password string) error {
	if !c.NeedsPassword {
		return nil
	}
	if password == "" {
		return ErrPasswordRequired
	}
	if err := protocol.WriteFrame(c.conn, password); err != nil {
		return err
	}
	verdict, err := c.readFrame()
	if err != nil {
		return fmt.Errorf("reading auth result: %w", err)
	}
	if verdict != protocol.AuthSuccess {
		return ErrAuthFailed
	}
	c.NeedsPassword = false
	return nil
}

// List requests the catalog. The response is newline-framed so a large
// catalog arrives whole regardless of how the reads split it.
func (c *Client) List() ([]string, error) {
	if err := protocol.WriteFrame(c.conn, protocol.CmdListFiles); err != nil {
		return nil, err
	}
	line, err := protocol.ReadLine(c.reader)
	if err != nil {
		return nil, fmt.Errorf("reading catalog: %w", err)
	}
	return protocol.DecodeNameList([]byte(line))
}

// Download requests the named files and writes each into destDir. The
// server silently skips names it will not serve, so the files that
// actually arrive may be a subset of the request. Returns the names
// received.
func (c *Client) Download(names []string, destDir string) ([]string, error) {
	payload, err := protocol.EncodeNameList(names)
	if err != nil {
		return nil, err
	}
	// Command token and request list travel as one write; the server
	// splits them, and this keeps the frames from racing each other.
	if err := protocol.WriteFrame(c.conn, protocol.CmdDownloadFiles+string(payload)); err != nil {
		return nil, err
	}

	var received []string
	for {
		header, err := protocol.ReadLine(c.reader)
		if err != nil {
			return received, fmt.Errorf("reading file header: %w", err)
		}
		if header == protocol.EndOfTransmission {
			return received, nil
		}
		name, size, err := protocol.ParseFileHeader(header)
		if err != nil {
			return received, err
		}
		if err := c.receiveFile(name, size, destDir); err != nil {
			return received, err
		}
		received = append(received, name)
		if err := protocol.WriteFrame(c.conn, protocol.Ack); err != nil {
			return received, fmt.Errorf("sending ack: %w", err)
		}
	}
}

func (c *Client) receiveFile(name string, size int64, destDir string) error {
	// Never trust the announced name with path components.
	target := filepath.Join(destDir, filepath.Base(name))
	file, err := os.Create(target)
	if err != nil {
		return fmt.Errorf("creating %s: %w", target, err)
	}
	defer file.Close()

	var dst io.Writer = file
	if c.ShowProgress {
		bar := progressbar.DefaultBytes(size, name)
		defer bar.Finish()
		dst = io.MultiWriter(file, bar)
	}

	if _, err := io.CopyN(dst, c.reader, size); err != nil {
		return fmt.Errorf("receiving %s: %w", name, err)
	}
	return nil
}

func (c *Client) Close() error {
	return c.conn.Close()
}

// readFrame reads one bounded frame through the buffered reader so bytes
// already pulled off the socket are not lost between frame styles.
func (c *Client) readFrame() (string, error) {
	buf := make([]byte, protocol.MaxFrameSize)
	n, err := c.reader.Read(buf)
	if err != nil {
		return "", err
	}
	return string(buf[:n]), nil
}

// ChatAddr derives the chat port address from a transfer port address.
func ChatAddr(addr string) (string, error) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return "", fmt.Errorf("bad server address %q: %w", addr, err)
	}
	p, err := strconv.Atoi(port)
	if err != nil {
		return "", fmt.Errorf("bad server port %q: %w", port, err)
	}
	return net.JoinHostPort(host, strconv.Itoa(p+1)), nil
}

// ChatConn is the independent chat connection, no handshake beyond TLS.
type ChatConn struct {
	conn net.Conn
}

// DialChat connects to the server's chat port.
func DialChat(addr string) (*ChatConn, error) {
	conn, err := tls.Dial("tcp", addr, certs.ClientTLSConfig())
	if err != nil {
		return nil, fmt.Errorf("connecting chat to %s: %w", addr, err)
	}
	return &ChatConn{conn: conn}, nil
}

// SendMessage sends one client-to-server chat message.
func (cc *ChatConn) SendMessage(body string) error {
	return protocol.WriteFrame(cc.conn, protocol.PrefixMsgC2S+body)
}

// Receive blocks for the next server frame, reporting whether it was a
// warning that must be surfaced prominently.
func (cc *ChatConn) Receive() (body string, warning bool, err error) {
	frame, err := protocol.ReadFrame(cc.conn)
	if err != nil {
		return "", false, err
	}
	switch {
	case strings.HasPrefix(frame, protocol.PrefixWarnS2C):
		return strings.TrimPrefix(frame, protocol.PrefixWarnS2C), true, nil
	case strings.HasPrefix(frame, protocol.PrefixMsgS2C):
		return strings.TrimPrefix(frame, protocol.PrefixMsgS2C), false, nil
	default:
		return "", false, fmt.Errorf("unrecognized chat frame %q", frame)
	}
}

func (cc *ChatConn) Close() error {
	return cc.conn.Close()
}
