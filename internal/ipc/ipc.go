// Package ipc is the local control socket: one JSON command in, one JSON
// reply out per connection.
package ipc

import (
	"encoding/json"
	"errors"
	"fmt"
	log "log/slog"
	"net"
	"os"
	"sync"
	"time"
)

const SocketPath = "/tmp/sakhivox.sock"

const ioTimeout = 30 * time.Second

type ControlMessage struct {
	Cmd string `json:"cmd"`
}

type ControlReply struct {
	OK    bool   `json:"ok"`
	State any    `json:"state,omitempty"`
	Error string `json:"error,omitempty"`
}

type Handler func(ControlMessage) ControlReply

type Server struct {
	ln      net.Listener
	path    string
	handler Handler
	logger  *log.Logger
	wg      sync.WaitGroup
}

func StartServer(path string, handler Handler, logger *log.Logger) (*Server, error) {
	if path == "" {
		path = SocketPath
	}
	if logger == nil {
		logger = log.Default()
	}
	os.Remove(path)

	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen: %w", err)
	}

	s := &Server{ln: ln, path: path, handler: handler, logger: logger.With("component", "ipc")}
	s.wg.Add(1)
	go s.serve()
	return s, nil
}

func (s *Server) serve() {
	defer s.wg.Done()
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Warn("Accept failed", "err", err)
			continue
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConn(conn)
		}()
	}
}

func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(ioTimeout))

	var msg ControlMessage
	if err := json.NewDecoder(conn).Decode(&msg); err != nil {
		s.logger.Warn("Bad control message", "err", err)
		_ = json.NewEncoder(conn).Encode(ControlReply{Error: "bad request: " + err.Error()})
		return
	}

	s.logger.Debug("Control", "cmd", msg.Cmd)
	if err := json.NewEncoder(conn).Encode(s.handler(msg)); err != nil {
		s.logger.Warn("Failed to reply", "err", err)
	}
}

// Close stops accepting, waits for in-flight commands and removes the socket.
func (s *Server) Close() error {
	err := s.ln.Close()
	s.wg.Wait()
	os.Remove(s.path)
	return err
}

func SendCommand(path, cmd string) (ControlReply, error) {
	if path == "" {
		path = SocketPath
	}
	conn, err := net.DialTimeout("unix", path, time.Second)
	if err != nil {
		return ControlReply{}, err
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(ioTimeout))

	if err := json.NewEncoder(conn).Encode(ControlMessage{Cmd: cmd}); err != nil {
		return ControlReply{}, err
	}

	var reply ControlReply
	if err := json.NewDecoder(conn).Decode(&reply); err != nil {
		return ControlReply{}, fmt.Errorf("read reply: %w", err)
	}
	return reply, nil
}
