package logger

import (
	"encoding/json"
	"strings"
	"sync"
	"time"
)

const historySize = 1000

// LogLine is one rendered log line as shown on the dashboard.
type LogLine struct {
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message"`
}

// Broadcaster is an io.Writer that keeps a bounded history of log lines
// and fans new lines out to SSE subscribers. Slow subscribers lose lines
// instead of blocking the logger.
type Broadcaster struct {
	clients map[chan LogLine]bool
	history []LogLine
	mu      sync.RWMutex
}

var (
	globalBroadcaster *Broadcaster
	once              sync.Once
)

func GetBroadcaster() *Broadcaster {
	once.Do(func() {
		globalBroadcaster = &Broadcaster{
			clients: make(map[chan LogLine]bool),
			history: make([]LogLine, 0, historySize),
		}
	})
	return globalBroadcaster
}

func (b *Broadcaster) Write(p []byte) (int, error) {
	line := LogLine{
		Timestamp: time.Now(),
		Message:   strings.TrimRight(string(p), "\n"),
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.history) >= historySize {
		b.history = b.history[1:]
	}
	b.history = append(b.history, line)

	for ch := range b.clients {
		select {
		case ch <- line:
		default:
		}
	}

	return len(p), nil
}

// Subscribe registers a new client and returns its channel along with a
// copy of the buffered history.
func (b *Broadcaster) Subscribe() (chan LogLine, []LogLine) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan LogLine, 200)
	b.clients[ch] = true

	history := make([]LogLine, len(b.history))
	copy(history, b.history)

	return ch, history
}

func (b *Broadcaster) Unsubscribe(ch chan LogLine) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.clients[ch]; ok {
		delete(b.clients, ch)
		close(ch)
	}
}

func (l LogLine) ToSSE() string {
	data, _ := json.Marshal(l)
	return "data: " + string(data) + "\n\n"
}
