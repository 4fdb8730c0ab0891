// Package heartbeat sends a repeating chat action while a long operation runs.
package heartbeat

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"gpsp-bot/internal/platform"
)

// DefaultInterval matches how long platforms display a chat action.
const DefaultInterval = 4 * time.Second

// Sender is the part of platform.Messenger the notifier needs.
type Sender interface {
	SendChatAction(ctx context.Context, chatID string, action platform.ChatAction) error
}

// Notifier starts heartbeats for chats.
type Notifier struct {
	sender   Sender
	interval time.Duration
	action   platform.ChatAction
	log      logrus.FieldLogger
}

// New creates a Notifier sending action every interval.
func New(sender Sender, interval time.Duration, action platform.ChatAction, log logrus.FieldLogger) *Notifier {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Notifier{sender: sender, interval: interval, action: action, log: log}
}

// Handle controls one running heartbeat.
type Handle struct {
	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// Start sends the first signal immediately and then one per interval until
// Stop is called or ctx ends. A send in progress is not interrupted by Stop.
func (n *Notifier) Start(ctx context.Context, chatID string) *Handle {
	h := &Handle{
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	log := n.log.WithField("chat", chatID)

	go func() {
		defer close(h.done)
		ticker := time.NewTicker(n.interval)
		defer ticker.Stop()

		for {
			select {
			case <-h.stop:
				return
			case <-ctx.Done():
				return
			default:
			}

			if err := n.sender.SendChatAction(ctx, chatID, n.action); err != nil {
				log.WithError(err).Warn("Heartbeat send failed")
			}

			select {
			case <-h.stop:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()

	return h
}

// Stop cancels the heartbeat and waits for its goroutine to exit. No signal
// is sent after Stop returns. Safe to call more than once.
func (h *Handle) Stop() {
	h.stopOnce.Do(func() { close(h.stop) })
	<-h.done
}
