package foreground

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"fittrack/internal/logging"
	"fittrack/internal/stream"
)

const (
	DefaultTitle = "fittrack is active"
	DefaultText  = "Tracking activity"
)

// Notice is the ongoing-task indicator shown to the user while a session runs.
type Notice struct {
	Active bool      `json:"active"`
	Title  string    `json:"title,omitempty"`
	Text   string    `json:"text,omitempty"`
	Since  time.Time `json:"since"`
}

type Publisher interface {
	Publish(topic, typ string, data any) error
}

// Notifier registers the process as a user-visible background task by publishing a Notice.
type Notifier struct {
	pub   Publisher
	topic string
	log   *slog.Logger
	now   func() time.Time

	mu     sync.Mutex
	notice Notice
}

func NewNotifier(pub Publisher, topic string, log *slog.Logger) *Notifier {
	if log == nil {
		log = logging.Discard()
	}
	return &Notifier{pub: pub, topic: topic, log: log, now: time.Now}
}

func (n *Notifier) Start(_ context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.notice.Active {
		return nil
	}
	n.notice = Notice{Active: true, Title: DefaultTitle, Text: DefaultText, Since: n.now()}
	n.log.Info("foreground task registered", "action", "foreground_started", "topic", n.topic)
	return n.publish()
}

func (n *Notifier) Stop(_ context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if !n.notice.Active {
		return nil
	}
	n.notice = Notice{Active: false, Since: n.now()}
	n.log.Info("foreground task released", "action", "foreground_stopped", "topic", n.topic)
	return n.publish()
}

func (n *Notifier) Current() Notice {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.notice
}

func (n *Notifier) publish() error {
	if n.pub == nil {
		return nil
	}
	return n.pub.Publish(n.topic, stream.TypeForeground, n.notice)
}
