package handler

import (
	"errors"
	"fmt"

	"github.com/samber/mo"
	"github.com/sirupsen/logrus"
)

// errTaskPanicked is the result of a sub-task that crashed.
var errTaskPanicked = errors.New("task panicked")

// task is a joinable sub-task of a workflow.
type task[T any] struct {
	done   chan struct{}
	result mo.Result[T]
}

// spawn runs fn in its own goroutine. A panic inside fn is recovered,
// logged and reported as errTaskPanicked.
func spawn[T any](log logrus.FieldLogger, name string, fn func() (T, error)) *task[T] {
	t := &task[T]{done: make(chan struct{})}
	go func() {
		defer close(t.done)
		defer func() {
			if r := recover(); r != nil {
				log.WithField("task", name).Errorf("Task panicked: %v", r)
				t.result = mo.Err[T](fmt.Errorf("%s: %w: %v", name, errTaskPanicked, r))
			}
		}()
		v, err := fn()
		if err != nil {
			t.result = mo.Err[T](err)
			return
		}
		t.result = mo.Ok(v)
	}()
	return t
}

// Wait blocks until the task has finished.
func (t *task[T]) Wait() mo.Result[T] {
	<-t.done
	return t.result
}

// completed returns an already finished task.
func completed[T any](v T) *task[T] {
	t := &task[T]{done: make(chan struct{}), result: mo.Ok(v)}
	close(t.done)
	return t
}

// protect runs fn and converts a panic into errTaskPanicked.
func protect[T any](fn func() T) (v T, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", errTaskPanicked, r)
		}
	}()
	return fn(), nil
}
