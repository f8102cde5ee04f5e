package wire

import (
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"sync"

	"github.com/louisbranch/arbiter.games/internal/platform/id"
)

// Transport is one connected socket with message framing already applied:
// ReadMessage blocks until exactly one complete message is available.
type Transport interface {
	ReadMessage() ([]byte, error)
	WriteMessage([]byte) error
	Close() error
	RemoteAddr() string
}

// Handoff carries everything a worker process needs to rebuild a client's
// connection from an inherited file descriptor.
type Handoff struct {
	File     *os.File
	Buffered []byte
}

// Client wraps one remote connection with the protocol's send/receive
// contract and per-client think-time accounting.
type Client struct {
	id        string
	transport Transport

	// Matchmaking metadata, owned by the lobby until handoff.
	Name       string
	Kind       string
	Spectating bool

	mirror bool

	// writeMu serializes transport writes: the session loop and the read
	// pump's fatal path may send concurrently, and websocket transports
	// forbid concurrent writers.
	writeMu sync.Mutex

	mu        sync.Mutex
	closed    bool
	notified  bool
	detaching bool
	pumpDone  chan struct{}

	handler func(*Client, Envelope)
	onClose func(*Client, error)

	clock clock
}

// Option configures a Client at construction.
type Option func(*Client)

// WithMirroring mirrors every send and receive to the process log.
func WithMirroring() Option {
	return func(c *Client) { c.mirror = true }
}

// WithNoTimeout disables think-time timeouts for this client.
func WithNoTimeout() Option {
	return func(c *Client) { c.clock.noTimeout = true }
}

// WithID forces a specific client id, used when a worker rebuilds a client
// the lobby already identified.
func WithID(clientID string) Option {
	return func(c *Client) { c.id = clientID }
}

// NewClient wraps a transport. The read pump does not run until Start.
func NewClient(transport Transport, opts ...Option) (*Client, error) {
	c := &Client{transport: transport}
	for _, opt := range opts {
		opt(c)
	}
	if c.id == "" {
		clientID, err := id.NewID()
		if err != nil {
			return nil, fmt.Errorf("assign client id: %w", err)
		}
		c.id = clientID
	}
	return c, nil
}

// ID returns the connection's unique identifier.
func (c *Client) ID() string { return c.id }

// RemoteAddr reports the peer address for logging.
func (c *Client) RemoteAddr() string { return c.transport.RemoteAddr() }

// SetHandler installs the inbound event callback. The handler runs on the
// client's read pump goroutine, one call per complete message, in receipt
// order.
func (c *Client) SetHandler(handler func(*Client, Envelope)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handler = handler
}

// SetCloseHandler installs a callback fired once when the connection ends.
// The error is nil for an orderly remote close.
func (c *Client) SetCloseHandler(onClose func(*Client, error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onClose = onClose
}

// Start launches the read pump.
func (c *Client) Start() {
	c.mu.Lock()
	if c.pumpDone != nil || c.closed {
		c.mu.Unlock()
		return
	}
	done := make(chan struct{})
	c.pumpDone = done
	c.mu.Unlock()

	go c.pump(done)
}

func (c *Client) pump(done chan struct{}) {
	defer close(done)
	for {
		msg, err := c.transport.ReadMessage()
		if err != nil {
			if c.isDetaching() {
				return
			}
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				c.finish(nil)
			} else {
				c.finish(err)
			}
			return
		}
		if c.mirror {
			log.Printf("[wire] <- %s %s", c.id, msg)
		}
		env, err := DecodeEnvelope(msg)
		if err != nil {
			// Malformed input is a protocol error: fatal disconnect
			// rather than a silent drop.
			c.Disconnect(fmt.Sprintf("malformed message: %v", err))
			c.finish(err)
			return
		}
		c.mu.Lock()
		handler := c.handler
		c.mu.Unlock()
		if handler != nil {
			handler(c, env)
		}
	}
}

// Send encodes and writes one event to the client.
func (c *Client) Send(event string, payload any) error {
	msg, err := Encode(event, payload)
	if err != nil {
		return err
	}
	if c.mirror {
		log.Printf("[wire] -> %s %s", c.id, msg)
	}
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return fmt.Errorf("send %s: client %s is closed", event, c.id)
	}
	c.writeMu.Lock()
	err = c.transport.WriteMessage(msg)
	c.writeMu.Unlock()
	if err != nil {
		return fmt.Errorf("send %s to %s: %w", event, c.id, err)
	}
	return nil
}

// Disconnect sends a fatal notice with a human-readable reason, then closes
// the connection.
func (c *Client) Disconnect(reason string) {
	_ = c.Send(EventFatal, FatalData{Message: reason})
	c.Close()
}

// Close tears the connection down without notice.
func (c *Client) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()
	c.PauseTicking()
	_ = c.transport.Close()
}

// Closed reports whether the connection has been torn down.
func (c *Client) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Client) isDetaching() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.detaching
}

func (c *Client) finish(err error) {
	c.mu.Lock()
	c.closed = true
	notified := c.notified
	c.notified = true
	onClose := c.onClose
	c.mu.Unlock()
	c.PauseTicking()
	_ = c.transport.Close()
	if onClose != nil && !notified {
		onClose(c, err)
	}
}

// Detach stops the read pump and yields the underlying socket for transfer
// to a worker process. Only stream transports support it; the lobby keeps
// non-transferable matches in process.
func (c *Client) Detach() (Handoff, error) {
	tcp, ok := c.transport.(*tcpTransport)
	if !ok {
		return Handoff{}, fmt.Errorf("client %s: transport does not support handoff", c.id)
	}

	c.mu.Lock()
	c.detaching = true
	done := c.pumpDone
	c.mu.Unlock()

	if done != nil {
		tcp.interruptRead()
		<-done
	}
	tcp.clearReadDeadline()

	file, buffered, err := tcp.detach()
	if err != nil {
		return Handoff{}, fmt.Errorf("client %s: %w", c.id, err)
	}
	return Handoff{File: file, Buffered: buffered}, nil
}

// CanDetach reports whether the client's transport supports cross-process
// handoff.
func (c *Client) CanDetach() bool {
	_, ok := c.transport.(*tcpTransport)
	return ok
}

// ReleaseTransport closes the lobby's copy of the socket after a successful
// handoff without notifying the peer.
func (c *Client) ReleaseTransport() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	_ = c.transport.Close()
}
