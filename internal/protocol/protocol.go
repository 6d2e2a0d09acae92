package protocol

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"
)

// Tokens exchanged on the file-transfer port. Peers match these
// byte-for-byte, so they must never change.
const (
	NeedsPass   = "NEEDS_PASS"
	NoPass      = "NO_PASS"
	AuthSuccess = "AUTH_SUCCESS"
	AuthFailed  = "AUTH_FAILED"

	CmdListFiles     = "LIST_FILES"
	CmdDownloadFiles = "DOWNLOAD_FILES"

	Ack               = "ACK"
	EndOfTransmission = "END_OF_TRANSMISSION"
)

// Prefixes on the chat port. Every chat frame starts with one of these.
const (
	PrefixMsgC2S  = "MSG_C2S:"
	PrefixMsgS2C  = "MSG_S2C:"
	PrefixWarnS2C = "WARN_S2C:"
)

const (
	// ChunkSize is the fixed transfer chunk written per pause check.
	ChunkSize = 4096

	// MaxFrameSize bounds a single command/list/chat frame.
	MaxFrameSize = 4096

	// MaxListSize bounds a decoded name list. The catalog response is
	// newline-framed and can span many reads, so its bound is independent
	// of the frame size.
	MaxListSize = 1 << 20

	// PasswordTimeout is the only read deadline in the protocol; every
	// other read blocks until data, error or peer close.
	PasswordTimeout = 10 * time.Second
)

// ReadFrame reads a single bounded frame from the connection. An empty
// frame with a nil error never happens: a peer close surfaces as io.EOF.
func ReadFrame(conn net.Conn) (string, error) {
	buf := make([]byte, MaxFrameSize)
	n, err := conn.Read(buf)
	if err != nil {
		return "", err
	}
	return string(buf[:n]), nil
}

// WriteFrame writes one frame as a single write.
func WriteFrame(conn net.Conn, frame string) error {
	_, err := conn.Write([]byte(frame))
	return err
}

// ReadLine reads up to and including a newline, returning the line without
// it. Used for the file header and terminal frames on the client side.
func ReadLine(r *bufio.Reader) (string, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSuffix(line, "\n"), nil
}

// EncodeNameList serializes a filename list as a compact JSON array.
func EncodeNameList(names []string) ([]byte, error) {
	if names == nil {
		names = []string{}
	}
	return json.Marshal(names)
}

// DecodeNameList parses a JSON filename list, rejecting payloads over the
// list bound before unmarshalling.
func DecodeNameList(data []byte) ([]string, error) {
	if len(data) > MaxListSize {
		return nil, fmt.Errorf("name list frame too large: %d bytes", len(data))
	}
	var names []string
	if err := json.Unmarshal(data, &names); err != nil {
		return nil, fmt.Errorf("malformed name list: %w", err)
	}
	return names, nil
}

// FileHeader is the "<name>:<size>\n" frame announcing one file. The size
// is the last colon-separated field so names containing colons round-trip.
func FileHeader(name string, size int64) string {
	return fmt.Sprintf("%s:%d\n", name, size)
}

// ParseFileHeader splits a header line back into name and size.
func ParseFileHeader(line string) (string, int64, error) {
	idx := strings.LastIndex(line, ":")
	if idx < 0 {
		return "", 0, fmt.Errorf("malformed file header %q", line)
	}
	size, err := strconv.ParseInt(line[idx+1:], 10, 64)
	if err != nil || size < 0 {
		return "", 0, fmt.Errorf("malformed file size in header %q", line)
	}
	return line[:idx], size, nil
}
