package bridge

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"regexp"
	"strconv"
	"strings"
	"sync"
)

var idPattern = regexp.MustCompile(`Tu id es (\d+)`)

// tcpClient is the bridge's client-side view of one relay session. The
// write mutex keeps voice-note frames contiguous, mirroring the server's
// own writer discipline.
type tcpClient struct {
	conn net.Conn
	r    *bufio.Reader
	id   int

	writeMu sync.Mutex
}

// serverFrame is one decoded server-to-client frame: either a plain line or
// a voice note with its payload.
type serverFrame struct {
	Line     string
	Voice    bool
	From     string
	Filename string
	Data     []byte
}

// dialRelay connects, consumes the two greeting lines and extracts the
// assigned session id from the first.
func dialRelay(addr string) (*tcpClient, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial relay: %w", err)
	}
	c := &tcpClient{conn: conn, r: bufio.NewReader(conn)}

	greeting, err := c.r.ReadString('\n')
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("read greeting: %w", err)
	}
	m := idPattern.FindStringSubmatch(greeting)
	if m == nil {
		conn.Close()
		return nil, fmt.Errorf("unexpected greeting %q", strings.TrimSpace(greeting))
	}
	c.id, _ = strconv.Atoi(m[1])

	// UDP port advertisement, unused by the bridge.
	if _, err := c.r.ReadString('\n'); err != nil {
		conn.Close()
		return nil, fmt.Errorf("read udp advertisement: %w", err)
	}
	return c, nil
}

func (c *tcpClient) ID() int { return c.id }

func (c *tcpClient) Close() error { return c.conn.Close() }

// ReadFrame blocks until the next server frame.
func (c *tcpClient) ReadFrame() (*serverFrame, error) {
	line, err := c.r.ReadString('\n')
	if err != nil {
		return nil, err
	}
	line = strings.TrimRight(line, "\n")

	if !strings.HasPrefix(line, "INCOMING_VOICENOTE:") {
		return &serverFrame{Line: line}, nil
	}

	parts := strings.SplitN(line, ":", 3)
	if len(parts) < 3 {
		return nil, fmt.Errorf("malformed voice note header %q", line)
	}
	lenLine, err := c.r.ReadString('\n')
	if err != nil {
		return nil, err
	}
	n, err := strconv.Atoi(strings.TrimSpace(lenLine))
	if err != nil || n < 0 {
		return nil, fmt.Errorf("bad voice note length %q", strings.TrimSpace(lenLine))
	}
	data := make([]byte, n)
	if _, err := io.ReadFull(c.r, data); err != nil {
		return nil, err
	}
	return &serverFrame{Voice: true, From: parts[1], Filename: parts[2], Data: data}, nil
}

func (c *tcpClient) SendCommand(line string) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_, err := c.conn.Write([]byte(line + "\n"))
	return err
}

// SendVoiceNote emits the length-prefixed voice-note frame. kind is
// "voicenoteUser" or "voicenoteGroup".
func (c *tcpClient) SendVoiceNote(kind, target, filename string, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	header := fmt.Sprintf("%s:%s:%s\n%d\n", kind, target, filename, len(data))
	if _, err := c.conn.Write([]byte(header)); err != nil {
		return err
	}
	_, err := c.conn.Write(data)
	return err
}
