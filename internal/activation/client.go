package activation

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/petervdpas/voicebridge/internal/util"
)

// Send forwards an activation to the running instance.
func Send(sockPath, args string) error {
	resp, err := send(sockPath, Request{Type: "Activate", Args: args})
	if err != nil {
		return fmt.Errorf("activation request failed: %w", err)
	}
	if resp.Type == "Error" {
		if resp.Code == "INVALID_ARGUMENT" {
			return fmt.Errorf("%w: %s", ErrInvalidArgument, resp.Message)
		}
		return fmt.Errorf("activation error: %s", resp.Message)
	}
	return nil
}

// Ping reports whether an instance is listening on sockPath.
func Ping(sockPath string) error {
	resp, err := send(sockPath, Request{Type: "Ping"})
	if err != nil {
		return err
	}
	if resp.Type != "OK" {
		return errors.New(resp.Message)
	}
	return nil
}

// send opens a connection, writes the request, reads one response, and closes.
func send(sockPath string, req Request) (*Response, error) {
	conn, err := net.DialTimeout("unix", sockPath, util.DefaultDialTimeout)
	if err != nil {
		return nil, fmt.Errorf("cannot connect to %s: %w (is the app running?)", sockPath, err)
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(util.ShortTimeout))

	data, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	data = append(data, '\n')

	if _, err := conn.Write(data); err != nil {
		return nil, fmt.Errorf("write failed: %w", err)
	}

	scanner := bufio.NewScanner(conn)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return nil, fmt.Errorf("read failed: %w", err)
		}
		return nil, errors.New("connection closed without response")
	}

	var resp Response
	if err := json.Unmarshal(scanner.Bytes(), &resp); err != nil {
		return nil, fmt.Errorf("bad response: %w", err)
	}
	return &resp, nil
}
