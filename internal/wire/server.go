package wire

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Server accepts raw connections on the stream and websocket listeners and
// routes each one, wrapped as a Client, to a single accept callback. It does
// no matchmaking itself.
type Server struct {
	accept     func(*Client)
	clientOpts []Option

	tcpLn   net.Listener
	wsLn    net.Listener
	httpSrv *http.Server

	upgrader websocket.Upgrader

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// NewServer creates a server routing accepted clients to accept. The client
// options are applied to every accepted connection.
func NewServer(accept func(*Client), clientOpts ...Option) *Server {
	return &Server{
		accept:     accept,
		clientOpts: clientOpts,
		upgrader: websocket.Upgrader{
			// AI clients connect from anywhere; the join handshake is
			// the authentication boundary.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// ListenTCP binds the stream listener. Bind errors are fatal at process
// start and returned to the caller.
func (s *Server) ListenTCP(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen tcp %s: %w", addr, err)
	}
	s.tcpLn = ln
	return nil
}

// ListenWS binds the websocket listener.
func (s *Server) ListenWS(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen ws %s: %w", addr, err)
	}
	s.wsLn = ln
	return nil
}

// TCPAddr reports the bound stream address, for tests using port 0.
func (s *Server) TCPAddr() string {
	if s.tcpLn == nil {
		return ""
	}
	return s.tcpLn.Addr().String()
}

// WSAddr reports the bound websocket address.
func (s *Server) WSAddr() string {
	if s.wsLn == nil {
		return ""
	}
	return s.wsLn.Addr().String()
}

// Serve runs the accept loops until the context ends or Close is called.
func (s *Server) Serve(ctx context.Context) error {
	if s.tcpLn == nil && s.wsLn == nil {
		return errors.New("serve: no listener bound")
	}

	if s.tcpLn != nil {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.acceptLoop(s.tcpLn)
		}()
	}
	if s.wsLn != nil {
		mux := http.NewServeMux()
		mux.HandleFunc("/", s.handleWS)
		s.httpSrv = &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if err := s.httpSrv.Serve(s.wsLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Printf("ws serve: %v", err)
			}
		}()
	}

	<-ctx.Done()
	s.Close()
	s.wg.Wait()
	return nil
}

func (s *Server) acceptLoop(ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if s.isClosed() {
				return
			}
			log.Printf("accept: %v", err)
			return
		}
		s.route(NewTCPTransport(conn, nil))
	}
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws upgrade from %s: %v", r.RemoteAddr, err)
		return
	}
	s.route(NewWSTransport(conn))
}

func (s *Server) route(transport Transport) {
	client, err := NewClient(transport, s.clientOpts...)
	if err != nil {
		log.Printf("wrap connection: %v", err)
		_ = transport.Close()
		return
	}
	if s.isClosed() {
		client.Disconnect("server is shutting down")
		return
	}
	s.accept(client)
}

func (s *Server) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Close stops accepting new connections. Existing clients are untouched.
func (s *Server) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	if s.tcpLn != nil {
		_ = s.tcpLn.Close()
	}
	if s.httpSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.httpSrv.Shutdown(shutdownCtx)
	} else if s.wsLn != nil {
		_ = s.wsLn.Close()
	}
}
