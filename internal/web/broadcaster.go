package web

import (
	"encoding/json"
	"strings"
	"sync"
	"time"
)

// historySize is how many recent events a new subscriber is replayed.
const historySize = 20

// StatusEvent is one SSE message: a log line or a state change.
type StatusEvent struct {
	Time  string `json:"t"`
	Level string `json:"l,omitempty"`
	Msg   string `json:"msg"`
	State string `json:"state,omitempty"`
}

// StatusBroadcaster distributes status events to SSE clients.
type StatusBroadcaster struct {
	mu      sync.RWMutex
	clients map[chan string]struct{}
	history []string
	closed  bool
}

// NewStatusBroadcaster creates a new broadcaster.
func NewStatusBroadcaster() *StatusBroadcaster {
	return &StatusBroadcaster{
		clients: make(map[chan string]struct{}),
	}
}

// Subscribe returns a channel primed with recent history and a cleanup
// function the caller must run on disconnect. The channel is closed by the
// cleanup or by Close.
func (b *StatusBroadcaster) Subscribe() (<-chan string, func()) {
	ch := make(chan string, 64)
	b.mu.Lock()
	for _, msg := range b.history {
		ch <- msg
	}
	if b.closed {
		close(ch)
		b.mu.Unlock()
		return ch, func() {}
	}
	b.clients[ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if _, ok := b.clients[ch]; ok {
				delete(b.clients, ch)
				close(ch)
			}
		})
	}
	return ch, unsub
}

// Broadcast sends a log line to all clients. Slow clients miss messages.
func (b *StatusBroadcaster) Broadcast(level, msg string) {
	b.send(StatusEvent{Level: level, Msg: msg})
}

// BroadcastMsg is a convenience for level "info".
func (b *StatusBroadcaster) BroadcastMsg(msg string) {
	b.Broadcast("info", msg)
}

// BroadcastState announces a monitoring state change.
func (b *StatusBroadcaster) BroadcastState(state string) {
	b.send(StatusEvent{Level: "state", Msg: "Monitoring " + strings.ToLower(state), State: state})
}

func (b *StatusBroadcaster) send(evt StatusEvent) {
	evt.Time = time.Now().Format(time.RFC3339)
	data, err := json.Marshal(evt)
	if err != nil {
		return
	}
	payload := string(data)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.history = append(b.history, payload)
	if len(b.history) > historySize {
		b.history = b.history[len(b.history)-historySize:]
	}
	for ch := range b.clients {
		select {
		case ch <- payload:
		default:
			// channel full, skip
		}
	}
}

// Close ends every subscription so streaming handlers return.
func (b *StatusBroadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for ch := range b.clients {
		delete(b.clients, ch)
		close(ch)
	}
}

// BroadcastWriter returns an io.Writer that turns log lines into events,
// suitable for debug.SetOutput.
func BroadcastWriter(b *StatusBroadcaster) *broadcastWriter {
	return &broadcastWriter{b: b}
}

type broadcastWriter struct {
	b *StatusBroadcaster
}

// Write accepts one or more console log lines. Lines in the
// "time<TAB>LEVEL<TAB>name<TAB>message" layout keep their level; anything
// else is broadcast as info.
func (w *broadcastWriter) Write(p []byte) (n int, err error) {
	for _, line := range strings.Split(string(p), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		level, msg := splitConsoleLine(line)
		w.b.Broadcast(level, msg)
	}
	return len(p), nil
}

func splitConsoleLine(line string) (level, msg string) {
	fields := strings.SplitN(line, "\t", 4)
	if len(fields) == 4 {
		return strings.ToLower(fields[1]), strings.TrimSpace(fields[3])
	}
	return "info", line
}
