// Package notify delivers the user-visible notice each mutation emits when it
// reaches a terminal state.
package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Level distinguishes success notices from error notices.
type Level string

const (
	LevelSuccess Level = "success"
	LevelError   Level = "error"
)

// Notice is one toast or banner shown to the user.
type Notice struct {
	ID       string    `json:"id"`
	Mutation string    `json:"mutation"`
	Level    Level     `json:"level"`
	Text     string    `json:"text"`
	At       time.Time `json:"at"`
}

// Notifier receives notices. Implementations must not block.
type Notifier interface {
	Notify(ctx context.Context, notice Notice)
}

// Log writes notices to a structured logger.
type Log struct {
	logger *slog.Logger
}

func NewLog(logger *slog.Logger) *Log {
	if logger == nil {
		logger = slog.Default()
	}
	return &Log{logger: logger.With(slog.String("agent", "notify"))}
}

func (l *Log) Notify(ctx context.Context, notice Notice) {
	level := slog.LevelInfo
	if notice.Level == LevelError {
		level = slog.LevelWarn
	}
	l.logger.LogAttrs(ctx, level, "notice",
		slog.String("id", notice.ID),
		slog.String("mutation", notice.Mutation),
		slog.String("notice", string(notice.Level)),
		slog.String("text", notice.Text),
	)
}

const defaultInboxCapacity = 50

// Inbox keeps the most recent notices for the view to read.
type Inbox struct {
	mu       sync.Mutex
	capacity int
	items    []Notice
}

func NewInbox(capacity int) *Inbox {
	if capacity <= 0 {
		capacity = defaultInboxCapacity
	}
	return &Inbox{capacity: capacity}
}

func (i *Inbox) Notify(_ context.Context, notice Notice) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.items = append(i.items, notice)
	if overflow := len(i.items) - i.capacity; overflow > 0 {
		i.items = append([]Notice(nil), i.items[overflow:]...)
	}
}

// List returns the retained notices, oldest first.
func (i *Inbox) List() []Notice {
	i.mu.Lock()
	defer i.mu.Unlock()
	return append([]Notice(nil), i.items...)
}

// Drain returns the retained notices and empties the inbox.
func (i *Inbox) Drain() []Notice {
	i.mu.Lock()
	defer i.mu.Unlock()
	out := i.items
	i.items = nil
	return out
}

// Fanout forwards every notice to each notifier in order.
type Fanout []Notifier

func (f Fanout) Notify(ctx context.Context, notice Notice) {
	for _, n := range f {
		if n != nil {
			n.Notify(ctx, notice)
		}
	}
}

// Discard drops notices.
type Discard struct{}

func (Discard) Notify(context.Context, Notice) {}
