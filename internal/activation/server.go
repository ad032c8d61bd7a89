package activation

import (
	"bufio"
	"encoding/json"
	"errors"
	"net"
	"os"
	"sync"
)

// Server is the activation endpoint of the running instance. It listens on
// a local socket and hands each request to a Bridge.
type Server struct {
	bridge   *Bridge
	listener net.Listener
	sockPath string
	wg       sync.WaitGroup

	closeOnce sync.Once
}

// Listen binds the activation socket. A stale socket file left by a
// crashed instance is replaced; a live one means another instance owns it.
func Listen(sockPath string, b *Bridge) (*Server, error) {
	if err := Ping(sockPath); err == nil {
		return nil, errors.New("another instance is already listening on " + sockPath)
	}
	_ = os.Remove(sockPath)

	listener, err := net.Listen("unix", sockPath)
	if err != nil {
		return nil, err
	}
	s := &Server{bridge: b, listener: listener, sockPath: sockPath}
	go s.serve()
	log.Infof("activation endpoint on %s", sockPath)
	return s, nil
}

func (s *Server) Path() string { return s.sockPath }

func (s *Server) serve() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			// Listener was closed.
			return
		}
		s.wg.Add(1)
		go s.handleConn(conn)
	}
}

// Close shuts down the server: closes the listener, waits for connections,
// removes the socket. Safe to call more than once.
func (s *Server) Close() {
	s.closeOnce.Do(func() {
		_ = s.listener.Close()
		s.wg.Wait()
		_ = os.Remove(s.sockPath)
	})
}

func (s *Server) handleConn(conn net.Conn) {
	defer s.wg.Done()
	defer conn.Close()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 4*1024), 64*1024)

	for scanner.Scan() {
		resp := s.handleRequest(scanner.Bytes())

		data, err := json.Marshal(resp)
		if err != nil {
			data, _ = json.Marshal(Response{Type: "Error", Code: "BAD_REQUEST", Message: err.Error()})
		}
		data = append(data, '\n')

		if _, err := conn.Write(data); err != nil {
			return
		}
	}
}

func (s *Server) handleRequest(line []byte) Response {
	var req Request
	if err := json.Unmarshal(line, &req); err != nil {
		return Response{Type: "Error", Code: "BAD_REQUEST", Message: "parse error: " + err.Error()}
	}

	switch req.Type {
	case "Ping":
		return Response{Type: "OK"}

	case "Activate":
		if err := s.bridge.Activate(req.Args); err != nil {
			code := "BAD_REQUEST"
			if errors.Is(err, ErrInvalidArgument) {
				code = "INVALID_ARGUMENT"
			}
			return Response{Type: "Error", Code: code, Message: err.Error()}
		}
		return Response{Type: "OK"}

	default:
		log.Warnf("unknown request type: %s", req.Type)
		return Response{Type: "Error", Code: "BAD_REQUEST", Message: "unknown request type: " + req.Type}
	}
}
