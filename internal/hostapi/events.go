package hostapi

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/petervdpas/voicebridge/internal/plugin"
)

// Frame is one message on the event WebSocket.
type Frame struct {
	Type    string `json:"type"` // "event", "error", "end"
	Event   any    `json:"event,omitempty"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// wsSink queues frames for the connection's writer. It never blocks the
// caller; frames are dropped when the client falls behind.
type wsSink struct {
	out  chan Frame
	done chan struct{}
	once sync.Once

	mu    sync.Mutex
	ended bool
}

func newWSSink() *wsSink {
	return &wsSink{out: make(chan Frame, 64), done: make(chan struct{})}
}

func (s *wsSink) push(f Frame) {
	select {
	case <-s.done:
	case s.out <- f:
	default:
		log.Warnf("events: subscriber too slow, dropped %v", f.Event)
	}
}

func (s *wsSink) Success(ev any) { s.push(Frame{Type: "event", Event: ev}) }

func (s *wsSink) Error(code, message string, _ any) {
	s.push(Frame{Type: "error", Code: code, Message: message})
}

// EndOfStream is called when another subscriber takes over.
func (s *wsSink) EndOfStream() {
	s.mu.Lock()
	s.ended = true
	s.mu.Unlock()
	s.push(Frame{Type: "end"})
	s.stop()
}

func (s *wsSink) stop() {
	s.once.Do(func() { close(s.done) })
}

func (s *wsSink) wasEnded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ended
}

// serveEvents streams the plugin's events to conn until the client goes
// away or another subscriber takes over. A client that leaves on its own
// hands the stream back to fallback.
func serveEvents(conn *websocket.Conn, p Commander, fallback plugin.EventSink) {
	defer conn.Close()

	sink := newWSSink()
	p.Listen(sink)
	log.Infof("events: subscriber %s connected", conn.RemoteAddr())

	// Reads only detect the client going away.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				sink.stop()
				return
			}
		}
	}()

	write := func(f Frame) bool {
		b, err := json.Marshal(f)
		if err != nil {
			return true
		}
		_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		return conn.WriteMessage(websocket.TextMessage, b) == nil
	}

	for {
		select {
		case f := <-sink.out:
			if !write(f) {
				sink.stop()
			}
		case <-sink.done:
			// Flush what was queued before the stream ended.
		drain:
			for {
				select {
				case f := <-sink.out:
					write(f)
				default:
					break drain
				}
			}
			if !sink.wasEnded() {
				if fallback != nil {
					p.Listen(fallback)
				} else {
					p.Cancel()
				}
			}
			_ = conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			log.Infof("events: subscriber %s disconnected", conn.RemoteAddr())
			return
		}
	}
}
