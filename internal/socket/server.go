// Package socket implements the supervisor's control-socket endpoint:
// accepting client connections, reading their optional pid= line, and
// fanning status updates out to every live client.
package socket

import (
	"bufio"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

const clientPIDReadTimeout = 200 * time.Millisecond

// EventKind distinguishes the two client events (arrival and departure)
// the server emits toward the supervisor event loop.
type EventKind int

const (
	EventInc EventKind = iota
	EventDec
)

// ClientEvent is emitted to the event loop on client arrival/departure.
type ClientEvent struct {
	Kind EventKind
	PID  int // 0 if not supplied
}

// Server accepts connections on the control socket and fans latest-status
// broadcasts out to every connected client.
type Server struct {
	listener net.Listener
	events   chan<- ClientEvent
	log      *logrus.Entry

	mu           sync.Mutex
	clients      map[*client]struct{}
	latestStatus string
}

type client struct {
	conn net.Conn
}

// Listen binds the control socket at path with mode 0600, removing any
// stale file first.
func Listen(path string, events chan<- ClientEvent, log *logrus.Entry) (*Server, error) {
	_ = os.Remove(path)
	l, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("binding control socket: %w", err)
	}
	if err := os.Chmod(path, 0o600); err != nil {
		_ = l.Close()
		return nil, fmt.Errorf("chmod control socket: %w", err)
	}
	return &Server{
		listener: l,
		events:   events,
		log:      log,
		clients:  make(map[*client]struct{}),
	}, nil
}

// Close closes the listener and every connected client.
func (s *Server) Close() error {
	err := s.listener.Close()
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.clients {
		_ = c.conn.Close()
	}
	return err
}

// Serve accepts connections until the listener is closed. Run in its own
// goroutine by the caller.
func (s *Server) Serve() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}
		go s.handle(conn)
	}
}

func (s *Server) handle(conn net.Conn) {
	c := &client{conn: conn}
	s.enroll(c)
	defer s.remove(c)

	pid := readClientPID(conn)
	s.events <- ClientEvent{Kind: EventInc, PID: pid}
	defer func() { s.events <- ClientEvent{Kind: EventDec, PID: pid} }()

	buf := make([]byte, 64)
	for {
		if _, err := conn.Read(buf); err != nil {
			return
		}
	}
}

func (s *Server) enroll(c *client) {
	s.mu.Lock()
	s.clients[c] = struct{}{}
	status := s.latestStatus
	s.mu.Unlock()

	if status != "" {
		s.writeStatus(c, status)
	}
}

func (s *Server) remove(c *client) {
	s.mu.Lock()
	delete(s.clients, c)
	s.mu.Unlock()
	_ = c.conn.Close()
}

// Broadcast stores status as the latest status and writes it to every live
// client, dropping any client whose write fails.
func (s *Server) Broadcast(status string) {
	s.mu.Lock()
	s.latestStatus = status
	targets := make([]*client, 0, len(s.clients))
	for c := range s.clients {
		targets = append(targets, c)
	}
	s.mu.Unlock()

	for _, c := range targets {
		s.writeStatus(c, status)
	}
}

func (s *Server) writeStatus(c *client, status string) {
	if _, err := fmt.Fprintf(c.conn, "status:%s\n", status); err != nil {
		s.remove(c)
	}
}

// readClientPID reads one "pid=<n>\n" line with a bounded timeout, per
// spec.md §4.2. Absence or malformed input is non-fatal.
func readClientPID(conn net.Conn) int {
	_ = conn.SetReadDeadline(time.Now().Add(clientPIDReadTimeout))
	defer conn.SetReadDeadline(time.Time{})

	reader := bufio.NewReader(conn)
	line, err := reader.ReadString('\n')
	if err != nil && line == "" {
		return 0
	}
	var pid int
	if _, err := fmt.Sscanf(line, "pid=%d", &pid); err != nil {
		return 0
	}
	return pid
}
