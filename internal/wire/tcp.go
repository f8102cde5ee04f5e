package wire

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"time"
)

// tcpTransport frames envelopes over a raw stream with the EOT sentinel.
type tcpTransport struct {
	conn net.Conn
	r    *bufio.Reader
}

// NewTCPTransport wraps a stream connection. Any bytes in buffered are
// consumed before reading from the socket; a worker passes along input the
// lobby had already pulled off the wire before handoff.
func NewTCPTransport(conn net.Conn, buffered []byte) Transport {
	var src io.Reader = conn
	if len(buffered) > 0 {
		src = io.MultiReader(bytes.NewReader(buffered), conn)
	}
	return &tcpTransport{conn: conn, r: bufio.NewReader(src)}
}

func (t *tcpTransport) ReadMessage() ([]byte, error) {
	msg, err := t.r.ReadBytes(EOT)
	if err != nil {
		if errors.Is(err, io.EOF) && len(msg) == 0 {
			return nil, io.EOF
		}
		return nil, err
	}
	return msg[:len(msg)-1], nil
}

func (t *tcpTransport) WriteMessage(b []byte) error {
	framed := make([]byte, 0, len(b)+1)
	framed = append(framed, b...)
	framed = append(framed, EOT)
	if _, err := t.conn.Write(framed); err != nil {
		return fmt.Errorf("write framed message: %w", err)
	}
	return nil
}

func (t *tcpTransport) Close() error {
	return t.conn.Close()
}

func (t *tcpTransport) RemoteAddr() string {
	if addr := t.conn.RemoteAddr(); addr != nil {
		return addr.String()
	}
	return ""
}

// interruptRead forces a pending ReadMessage to return so the read pump can
// observe a detach in progress.
func (t *tcpTransport) interruptRead() {
	_ = t.conn.SetReadDeadline(time.Now())
}

func (t *tcpTransport) clearReadDeadline() {
	_ = t.conn.SetReadDeadline(time.Time{})
}

// detach duplicates the underlying socket for cross-process handoff and
// returns any input already sitting in the read buffer. The caller must have
// stopped the read pump first.
func (t *tcpTransport) detach() (*os.File, []byte, error) {
	tcp, ok := t.conn.(*net.TCPConn)
	if !ok {
		return nil, nil, fmt.Errorf("transport does not support handoff")
	}
	var buffered []byte
	if n := t.r.Buffered(); n > 0 {
		buffered = make([]byte, n)
		if _, err := io.ReadFull(t.r, buffered); err != nil {
			return nil, nil, fmt.Errorf("drain read buffer: %w", err)
		}
	}
	file, err := tcp.File()
	if err != nil {
		return nil, nil, fmt.Errorf("dup socket: %w", err)
	}
	return file, buffered, nil
}
