package main

import (
	"bufio"
	"crypto/tls"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/matt0x6f/cascade/internal/constants"
	"github.com/matt0x6f/cascade/internal/logger"
	"github.com/matt0x6f/cascade/internal/metrics"
)

// ioWait bounds every blocking write so a stalled server cannot wedge the
// send path forever
const ioWait = 30 * time.Second

// ServerConn is one line-oriented connection to an IRC server. It owns the
// socket and the buffered reader/writer; the engine drives it exclusively
// through SendRaw and the read loop callback.
type ServerConn struct {
	network  string
	conn     net.Conn
	reader   *bufio.Scanner
	recorder *metrics.Recorder

	writeMu sync.Mutex
	writer  *bufio.Writer

	stateMu   sync.RWMutex
	connected bool
}

// DialServer connects to addr (TCP, or TLS when tlsCfg is non-nil) and
// wraps the socket for line-based protocol traffic
func DialServer(network, address string, port int, tlsCfg *tls.Config, timeout time.Duration) (*ServerConn, error) {
	addr := net.JoinHostPort(address, fmt.Sprintf("%d", port))
	dialer := net.Dialer{Timeout: timeout}

	conn, err := dialer.Dial("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", addr, err)
	}

	if tlsCfg != nil {
		tlsConn := tls.Client(conn, tlsCfg)
		if err := tlsConn.SetDeadline(time.Now().Add(timeout)); err == nil {
			if err := tlsConn.Handshake(); err != nil {
				conn.Close()
				return nil, fmt.Errorf("TLS handshake with %s failed: %w", addr, err)
			}
			tlsConn.SetDeadline(time.Time{})
		}
		conn = tlsConn
	}

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 4096), constants.MaxLineLength)

	return &ServerConn{
		network:   network,
		conn:      conn,
		reader:    scanner,
		writer:    bufio.NewWriter(conn),
		connected: true,
	}, nil
}

// WithRecorder attaches a metrics recorder for line/byte counting
func (c *ServerConn) WithRecorder(r *metrics.Recorder) *ServerConn {
	c.recorder = r
	return c
}

// IsConnected reports whether the socket is still usable
func (c *ServerConn) IsConnected() bool {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.connected
}

// SendRaw writes one protocol line, appending CRLF when absent
func (c *ServerConn) SendRaw(line string) error {
	if !c.IsConnected() {
		return fmt.Errorf("connection to %s is closed", c.network)
	}
	if !strings.HasSuffix(line, "\r\n") {
		line += "\r\n"
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.conn.SetWriteDeadline(time.Now().Add(ioWait)); err != nil {
		return fmt.Errorf("failed to set write deadline: %w", err)
	}
	if _, err := c.writer.WriteString(line); err != nil {
		return fmt.Errorf("failed to write line: %w", err)
	}
	if err := c.writer.Flush(); err != nil {
		return fmt.Errorf("failed to flush line: %w", err)
	}

	if c.recorder != nil {
		c.recorder.LineSent(c.network, len(line))
	}
	return nil
}

// ReadLoop delivers inbound lines to handle until the connection drops,
// then marks the connection dead and returns the terminal error
func (c *ServerConn) ReadLoop(handle func(line string)) error {
	for c.reader.Scan() {
		line := strings.TrimRight(c.reader.Text(), "\r")
		if line == "" {
			continue
		}
		if c.recorder != nil {
			c.recorder.LineReceived(c.network, len(line))
		}
		logger.Log.Trace().Str("network", c.network).Str("line", line).Msg("<<")
		handle(line)
	}

	err := c.reader.Err()
	c.markClosed()
	if err != nil {
		return fmt.Errorf("read loop for %s ended: %w", c.network, err)
	}
	return nil
}

func (c *ServerConn) markClosed() {
	c.stateMu.Lock()
	c.connected = false
	c.stateMu.Unlock()
}

// Close tears down the socket; the read loop unblocks with an error
func (c *ServerConn) Close() error {
	c.markClosed()
	return c.conn.Close()
}
