// Package logbuf captures go-log output in memory so the host can tail it.
package logbuf

import (
	"bufio"
	"bytes"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	logging "github.com/ipfs/go-log/v2"

	"github.com/petervdpas/voicebridge/internal/config"
	"github.com/petervdpas/voicebridge/internal/util"
)

// Subsystems names every logger the module creates.
var Subsystems = []string{"app", "webview", "jsobject", "scripts", "call", "notify", "activation", "plugin", "hostapi", "history", "config"}

// LogEntry is one captured line. Level and Subsystem are filled when the
// line is in go-log's plaintext layout, otherwise only Msg is set.
type LogEntry struct {
	TS        time.Time `json:"ts"`
	Level     string    `json:"level,omitempty"`
	Subsystem string    `json:"subsystem,omitempty"`
	Msg       string    `json:"msg"`
}

var levelRank = map[string]int{
	"debug": 0, "info": 1, "warn": 2, "error": 3, "dpanic": 4, "panic": 5, "fatal": 6,
}

// parseLine splits "<ts>\t<LEVEL>\t<subsystem>[\t<caller>]\t<msg>".
func parseLine(line string) LogEntry {
	e := LogEntry{TS: time.Now(), Msg: line}
	parts := strings.SplitN(line, "\t", 5)
	if len(parts) < 4 {
		return e
	}
	lvl := strings.ToLower(parts[1])
	if _, ok := levelRank[lvl]; !ok {
		return e
	}
	e.Level = lvl
	e.Subsystem = parts[2]
	e.Msg = parts[len(parts)-1]
	return e
}

// Query selects entries. Empty fields match everything; Level is a
// minimum. Limit < 0 returns every match.
type Query struct {
	Subsystem string
	Level     string
	Limit     int
}

func (q Query) match(e LogEntry) bool {
	if q.Subsystem != "" && e.Subsystem != q.Subsystem {
		return false
	}
	if q.Level != "" {
		min, ok := levelRank[q.Level]
		if ok && levelRank[e.Level] < min {
			return false
		}
	}
	return true
}

type LogBuffer struct {
	mu      sync.Mutex
	entries *util.RingBuffer[LogEntry]

	subs map[chan LogEntry]struct{}

	partial bytes.Buffer
}

func NewLogBuffer(max int) *LogBuffer {
	if max <= 0 {
		max = config.Default().Log.BufferSize
	}
	return &LogBuffer{
		entries: util.NewRingBuffer[LogEntry](max),
		subs:    make(map[chan LogEntry]struct{}),
	}
}

// Write implements io.Writer. Complete lines become entries; a trailing
// partial line waits for the next write.
func (b *LogBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.partial.Write(p)
	for {
		line, err := b.partial.ReadString('\n')
		if err != nil {
			// No newline yet; put the fragment back.
			b.partial.Reset()
			b.partial.WriteString(line)
			break
		}
		line = strings.TrimRight(line, "\r\n")
		if strings.TrimSpace(line) == "" {
			continue
		}
		e := parseLine(line)
		b.entries.Push(e)
		for ch := range b.subs {
			select {
			case ch <- e:
			default:
			}
		}
	}
	return len(p), nil
}

// Snapshot returns every buffered entry, oldest first.
func (b *LogBuffer) Snapshot() []LogEntry {
	return b.entries.Snapshot()
}

// Find returns the newest q.Limit entries matching q, oldest first.
func (b *LogBuffer) Find(q Query) []LogEntry {
	return b.entries.Filter(q.match, q.Limit)
}

// Subscribe streams new entries. Slow subscribers miss lines. cancel is
// safe to call more than once.
func (b *LogBuffer) Subscribe() (ch chan LogEntry, cancel func()) {
	ch = make(chan LogEntry, 64)

	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()

	cancel = func() {
		b.mu.Lock()
		if _, ok := b.subs[ch]; ok {
			delete(b.subs, ch)
			close(ch)
		}
		b.mu.Unlock()
	}
	return ch, cancel
}

// GET /api/logs[?n=100][&subsystem=call][&level=warn]
func (b *LogBuffer) ServeLogsJSON(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	qs := r.URL.Query()
	q := Query{Subsystem: qs.Get("subsystem"), Level: strings.ToLower(qs.Get("level")), Limit: -1}
	if s := qs.Get("n"); s != "" {
		v, err := strconv.Atoi(s)
		if err != nil || v < 0 {
			http.Error(w, "bad n", http.StatusBadRequest)
			return
		}
		q.Limit = v
	}
	if _, ok := levelRank[q.Level]; q.Level != "" && !ok {
		http.Error(w, "bad level", http.StatusBadRequest)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	_ = json.NewEncoder(w).Encode(b.Find(q))
}

// Setup configures go-log from cfg and starts copying every log line into
// the returned buffer. Call the returned stop func on shutdown.
func Setup(cfg config.Log) (*LogBuffer, func()) {
	lvl, err := logging.LevelFromString(cfg.Level)
	if err != nil {
		lvl = logging.LevelInfo
	}

	logging.SetupLogging(logging.Config{
		Format: logging.PlaintextOutput,
		Stderr: true,
		Level:  lvl,
	})
	Apply(cfg)

	buf := NewLogBuffer(cfg.BufferSize)
	pr := logging.NewPipeReader(logging.PipeFormat(logging.PlaintextOutput))

	done := make(chan struct{})
	go func() {
		defer close(done)
		sc := bufio.NewScanner(pr)
		sc.Buffer(make([]byte, 64*1024), 1024*1024)
		for sc.Scan() {
			_, _ = buf.Write(append(sc.Bytes(), '\n'))
		}
	}()

	stop := func() {
		_ = pr.Close()
		<-done
	}
	return buf, stop
}

// Apply sets the level of every known subsystem, honouring per-subsystem
// overrides. Used at startup and on config reload.
func Apply(cfg config.Log) {
	for _, name := range Subsystems {
		lvl := cfg.Level
		if o, ok := cfg.Subsystems[name]; ok {
			lvl = o
		}
		_ = logging.SetLogLevel(name, lvl)
	}
}
