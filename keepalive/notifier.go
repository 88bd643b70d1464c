package keepalive

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/kochabx/sessionkeeper/log"
)

type Level string

const (
	LevelInfo    Level = "info"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

const (
	MessageRefreshed = "Your session has been extended."
	MessageExpiring  = "Your session is about to expire. Please save your work."
	MessageExpired   = "Your session has expired. Please sign in again."
)

// Notification is a user-facing message about the session.
type Notification struct {
	SessionID string    `json:"-"`
	Level     Level     `json:"level"`
	Message   string    `json:"message"`
	Outcome   Outcome   `json:"outcome"`
	At        time.Time `json:"at"`
}

// Notifier delivers notifications. Implementations must not block.
type Notifier interface {
	Notify(ctx context.Context, n Notification)
}

type noop struct{}

func (noop) Notify(context.Context, Notification) {}

// Noop discards every notification.
var Noop Notifier = noop{}

// LogNotifier writes notifications to the log.
type LogNotifier struct {
	logger zerolog.Logger
}

func NewLogNotifier(l *log.Logger) *LogNotifier {
	if l == nil {
		l = log.G
	}
	return &LogNotifier{logger: l.Component("notify")}
}

func (n *LogNotifier) Notify(_ context.Context, msg Notification) {
	e := n.logger.Info()
	if msg.Level != LevelInfo {
		e = n.logger.Warn()
	}
	e.Str("session_id", msg.SessionID).Str("outcome", string(msg.Outcome)).Msg(msg.Message)
}

const DefaultQueueSize = 16

// Queue buffers the latest notifications until they are drained. When full
// the oldest notification is dropped.
type Queue struct {
	mu    sync.Mutex
	size  int
	items []Notification
}

func NewQueue(size int) *Queue {
	if size <= 0 {
		size = DefaultQueueSize
	}
	return &Queue{size: size}
}

func (q *Queue) Notify(_ context.Context, n Notification) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == q.size {
		q.items = q.items[1:]
	}
	q.items = append(q.items, n)
}

// Drain returns the buffered notifications oldest first and empties the queue.
func (q *Queue) Drain() []Notification {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.items
	q.items = nil
	return out
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
