package app_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"assessment-engine/internal/app"
	"assessment-engine/internal/logging"
	"assessment-engine/internal/metrics"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestDispatcherRunsEveryTask(t *testing.T) {
	m := metrics.Noop()
	d := app.NewDispatcher(2, 4, time.Second, logging.Discard(), m)

	var ran atomic.Int32
	for i := 0; i < 50; i++ {
		if !d.Submit(app.Task{Name: "count", Run: func(context.Context) error {
			ran.Add(1)
			return nil
		}}) {
			t.Fatalf("submit rejected")
		}
	}
	if err := d.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}
	if ran.Load() != 50 {
		t.Fatalf("expected 50 tasks, ran %d", ran.Load())
	}
	if got := testutil.ToFloat64(m.DispatchTasks.WithLabelValues("ok")); got != 50 {
		t.Fatalf("expected 50 ok tasks, got %v", got)
	}
}

func TestDispatcherSubmitDoesNotBlockWhenSaturated(t *testing.T) {
	m := metrics.Noop()
	d := app.NewDispatcher(1, 0, time.Second, logging.Discard(), m)
	release := make(chan struct{})

	done := make(chan struct{})
	go func() {
		for i := 0; i < 5; i++ {
			d.Submit(app.Task{Name: "slow", Run: func(context.Context) error {
				<-release
				return nil
			}})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("submit blocked on a saturated pool")
	}
	close(release)
	if err := d.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}
	if testutil.ToFloat64(m.DispatchTasks.WithLabelValues("overflow")) == 0 {
		t.Fatalf("expected overflow to be counted")
	}
}

func TestDispatcherRejectsPastOverflowLimit(t *testing.T) {
	m := metrics.Noop()
	d := app.NewDispatcher(1, 1, time.Second, logging.Discard(), m).WithMaxOverflow(2)
	release := make(chan struct{})
	started := make(chan struct{}, 8)
	slow := app.Task{Name: "slow", Run: func(context.Context) error {
		started <- struct{}{}
		<-release
		return nil
	}}

	// occupy the worker and the queue slot, then fill both overflow slots
	if !d.Submit(slow) {
		t.Fatalf("first task rejected")
	}
	<-started
	if !d.Submit(slow) {
		t.Fatalf("queued task rejected")
	}
	accepted := 0
	for i := 0; i < 3; i++ {
		if d.Submit(slow) {
			accepted++
		}
	}
	if accepted != 2 {
		t.Fatalf("expected 2 overflow tasks accepted, got %d", accepted)
	}
	if got := testutil.ToFloat64(m.DispatchTasks.WithLabelValues("rejected")); got != 1 {
		t.Fatalf("expected 1 rejected task, got %v", got)
	}

	close(release)
	if err := d.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestDispatcherIsolatesFailures(t *testing.T) {
	m := metrics.Noop()
	d := app.NewDispatcher(1, 4, time.Second, logging.Discard(), m)

	d.Submit(app.Task{Name: "boom", Run: func(context.Context) error { panic("boom") }})
	d.Submit(app.Task{Name: "fail", Run: func(context.Context) error { return errors.New("nope") }})
	var ran atomic.Bool
	d.Submit(app.Task{Name: "ok", Run: func(context.Context) error {
		ran.Store(true)
		return nil
	}})
	if err := d.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}

	if !ran.Load() {
		t.Fatalf("worker must survive a panicking task")
	}
	if testutil.ToFloat64(m.DispatchTasks.WithLabelValues("panic")) != 1 || testutil.ToFloat64(m.DispatchTasks.WithLabelValues("failed")) != 1 {
		t.Fatalf("expected one panic and one failure to be counted")
	}
}

func TestDispatcherAppliesTaskTimeout(t *testing.T) {
	d := app.NewDispatcher(1, 1, 20*time.Millisecond, logging.Discard(), metrics.Noop())
	errc := make(chan error, 1)
	d.Submit(app.Task{Name: "wait", Run: func(ctx context.Context) error {
		<-ctx.Done()
		errc <- ctx.Err()
		return ctx.Err()
	}})
	select {
	case err := <-errc:
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Fatalf("expected deadline exceeded, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("task context never expired")
	}
	_ = d.Close(context.Background())
}

func TestDispatcherRejectsAfterClose(t *testing.T) {
	d := app.NewDispatcher(1, 1, time.Second, logging.Discard(), metrics.Noop())
	if err := d.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}
	if d.Submit(app.Task{Name: "late", Run: func(context.Context) error { return nil }}) {
		t.Fatalf("expected submit to be rejected after close")
	}
	if err := d.Close(context.Background()); err != nil {
		t.Fatalf("second close: %v", err)
	}
}

func TestDispatcherCloseHonoursContext(t *testing.T) {
	d := app.NewDispatcher(1, 1, 0, logging.Discard(), metrics.Noop())
	release := make(chan struct{})
	defer close(release)
	d.Submit(app.Task{Name: "stuck", Run: func(context.Context) error {
		<-release
		return nil
	}})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := d.Close(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected close to time out, got %v", err)
	}
}
