// Package ingest claims updates from a platform and hands them to workflows
// under a fixed concurrency bound.
package ingest

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"gpsp-bot/internal/platform"
)

// Handler runs the workflow for one update.
type Handler interface {
	Handle(ctx context.Context, u platform.Update)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, u platform.Update)

func (f HandlerFunc) Handle(ctx context.Context, u platform.Update) { f(ctx, u) }

// Observer receives ingestion events. Implementations must be safe for
// concurrent use.
type Observer interface {
	UpdatesReceived(n int)
	PollFailed()
	WorkflowStarted()
	WorkflowFinished()
}

type nopObserver struct{}

func (nopObserver) UpdatesReceived(int) {}
func (nopObserver) PollFailed()         {}
func (nopObserver) WorkflowStarted()    {}
func (nopObserver) WorkflowFinished()   {}

// Dispatcher runs each update's workflow in its own goroutine while holding
// one of a fixed number of permits.
type Dispatcher struct {
	handler  Handler
	permits  *semaphore.Weighted
	base     context.Context
	wg       sync.WaitGroup
	observer Observer
	log      logrus.FieldLogger
}

// NewDispatcher creates a Dispatcher with capacity permits. Workflows run
// with base as their context so that they can finish after intake stops.
func NewDispatcher(base context.Context, handler Handler, capacity int, observer Observer, log logrus.FieldLogger) *Dispatcher {
	if capacity < 1 {
		capacity = 1
	}
	if observer == nil {
		observer = nopObserver{}
	}
	return &Dispatcher{
		handler:  handler,
		permits:  semaphore.NewWeighted(int64(capacity)),
		base:     base,
		observer: observer,
		log:      log,
	}
}

// Dispatch blocks until a permit is free, then starts the workflow and
// returns. It fails only when ctx ends before a permit is acquired.
func (d *Dispatcher) Dispatch(ctx context.Context, u platform.Update) error {
	if err := d.permits.Acquire(ctx, 1); err != nil {
		return err
	}

	d.wg.Add(1)
	d.observer.WorkflowStarted()
	go func() {
		defer d.wg.Done()
		defer d.permits.Release(1)
		defer d.observer.WorkflowFinished()
		defer func() {
			if r := recover(); r != nil {
				d.log.WithField("update", u.ID).Errorf("Workflow panicked: %v", r)
			}
		}()

		d.handler.Handle(d.base, u)
	}()
	return nil
}

// Wait blocks until every dispatched workflow has finished.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}
