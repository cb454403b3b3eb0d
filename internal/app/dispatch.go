package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"assessment-engine/internal/metrics"
	"github.com/sirupsen/logrus"
)

// Task is a side effect run off the request path.
type Task struct {
	Name   string
	Fields logrus.Fields
	Run    func(ctx context.Context) error
}

// DefaultMaxOverflow caps the extra goroutines started while the queue is full.
const DefaultMaxOverflow = 64

// Dispatcher runs tasks on a bounded worker pool. Submit never blocks the caller:
// when the queue is full the task runs on an overflow goroutine, up to a fixed number
// of them. Past that the task is rejected and the caller reports it as not accepted.
type Dispatcher struct {
	queue    chan Task
	overflow chan struct{}
	timeout  time.Duration
	log     logrus.FieldLogger
	metrics *metrics.Metrics

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

func NewDispatcher(workers, queueSize int, timeout time.Duration, log logrus.FieldLogger, m *metrics.Metrics) *Dispatcher {
	if workers <= 0 {
		workers = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}
	d := &Dispatcher{
		queue:    make(chan Task, queueSize),
		overflow: make(chan struct{}, DefaultMaxOverflow),
		timeout:  timeout,
		log:      log,
		metrics:  m,
	}
	d.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer d.wg.Done()
			for task := range d.queue {
				d.execute(task)
			}
		}()
	}
	return d
}

// WithMaxOverflow sets how many overflow goroutines may run at once; zero disables overflow.
// Call it before the first Submit.
func (d *Dispatcher) WithMaxOverflow(n int) *Dispatcher {
	if n < 0 {
		n = 0
	}
	d.overflow = make(chan struct{}, n)
	return d
}

// Submit schedules task. It returns false once the dispatcher is closed or saturated.
func (d *Dispatcher) Submit(task Task) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.log.WithField("task", task.Name).Warn("dispatcher closed, task rejected")
		return false
	}
	select {
	case d.queue <- task:
		return true
	default:
	}

	select {
	case d.overflow <- struct{}{}:
	default:
		d.metrics.DispatchTasks.WithLabelValues("rejected").Inc()
		d.log.WithField("task", task.Name).WithFields(task.Fields).Warn("dispatcher saturated, task rejected")
		return false
	}
	d.metrics.DispatchTasks.WithLabelValues("overflow").Inc()
	d.wg.Add(1)
	go func() {
		defer func() {
			<-d.overflow
			d.wg.Done()
		}()
		d.execute(task)
	}()
	return true
}

// Close stops accepting tasks and waits for queued and running ones.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) execute(task Task) {
	ctx := context.Background()
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}
	entry := d.log.WithField("task", task.Name).WithFields(task.Fields)
	started := time.Now()

	defer func() {
		d.metrics.DispatchTaskDuration.Observe(time.Since(started).Seconds())
		if r := recover(); r != nil {
			d.metrics.DispatchTasks.WithLabelValues("panic").Inc()
			entry.WithField("panic", fmt.Sprint(r)).Error("side-effect task panicked")
		}
	}()

	if err := task.Run(ctx); err != nil {
		d.metrics.DispatchTasks.WithLabelValues("failed").Inc()
		entry.WithError(err).Error("side-effect task failed")
		return
	}
	d.metrics.DispatchTasks.WithLabelValues("ok").Inc()
}
