package ingest

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"gpsp-bot/internal/platform"
)

// DefaultGracePeriod is the pause after a failed poll.
const DefaultGracePeriod = 2 * time.Second

// Poller long-polls a Source and dispatches updates in claim order.
type Poller struct {
	source     platform.Source
	dispatcher *Dispatcher
	timeoutSec int
	grace      time.Duration
	offset     int64
	observer   Observer
	log        logrus.FieldLogger
}

// NewPoller creates a Poller starting from offset 0.
func NewPoller(source platform.Source, dispatcher *Dispatcher, timeoutSec int, grace time.Duration, observer Observer, log logrus.FieldLogger) *Poller {
	if grace <= 0 {
		grace = DefaultGracePeriod
	}
	if observer == nil {
		observer = nopObserver{}
	}
	return &Poller{
		source:     source,
		dispatcher: dispatcher,
		timeoutSec: timeoutSec,
		grace:      grace,
		observer:   observer,
		log:        log,
	}
}

// Offset is the next update id the poller will ask for.
func (p *Poller) Offset() int64 {
	return p.offset
}

// Run polls until ctx ends. Failed polls are logged and retried after the
// grace period. Run returns nil on cancellation; in-flight workflows are
// not awaited, use the Dispatcher for that.
func (p *Poller) Run(ctx context.Context) error {
	p.log.WithField("timeout", p.timeoutSec).Info("Polling for updates")

	for ctx.Err() == nil {
		batch, err := p.source.GetUpdates(ctx, p.offset, p.timeoutSec)
		if ctx.Err() != nil {
			break
		}
		if err != nil || !batch.OK {
			p.observer.PollFailed()
			entry := p.log.WithField("offset", p.offset)
			if err != nil {
				entry = entry.WithError(err)
			}
			entry.Warnf("Polling failed, retrying in %s", p.grace)
			if !wait(ctx, p.grace) {
				break
			}
			continue
		}

		if len(batch.Updates) > 0 {
			p.observer.UpdatesReceived(len(batch.Updates))
		}
		for _, u := range batch.Updates {
			if err := p.dispatcher.Dispatch(ctx, u); err != nil {
				p.log.WithField("update", u.ID).Info("Stopped before dispatching update")
				return nil
			}
			if u.ID >= p.offset {
				p.offset = u.ID + 1
			}
		}
	}

	p.log.Info("Polling stopped")
	return nil
}

func wait(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
