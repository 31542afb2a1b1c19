package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Task kinds understood by the pipeline.
const (
	KindTranscode  = "transcode"
	KindTranscribe = "transcribe"
)

// Task identifies one unit of background work: the kind selects the
// registered handler, ID is the target entity.
type Task struct {
	Kind string
	ID   uint
}

type Handler func(ctx context.Context, task Task) error

// FailureHandler runs once per task after the retry ceiling is exhausted, so
// the entity's persisted state never reads "processing" for abandoned work.
type FailureHandler func(task Task, err error)

// Enqueuer is what pipeline components hold instead of dispatching to a
// global queue. Tests substitute an in-memory fake.
type Enqueuer interface {
	Enqueue(task Task)
}

type Options struct {
	Workers     int
	MaxAttempts int
	Backoff     time.Duration
	Timeout     time.Duration
}

func DefaultOptions() Options {
	return Options{
		Workers:     2,
		MaxAttempts: 3,
		Backoff:     60 * time.Second,
		Timeout:     30 * time.Minute,
	}
}

type registration struct {
	handle Handler
	failed FailureHandler
}

// Dispatcher is a multi-worker task queue. Workers pull from a shared
// channel; each task gets a bounded number of attempts with a fixed backoff
// and a per-attempt execution timeout.
type Dispatcher struct {
	opts     Options
	tasks    chan Task
	handlers map[string]registration
	wg       sync.WaitGroup

	mu      sync.Mutex
	stopped bool
}

func NewDispatcher(opts Options) *Dispatcher {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 1
	}
	return &Dispatcher{
		opts:     opts,
		tasks:    make(chan Task, 256),
		handlers: make(map[string]registration),
	}
}

// Register must be called before Start.
func (d *Dispatcher) Register(kind string, handle Handler, failed FailureHandler) {
	d.handlers[kind] = registration{handle: handle, failed: failed}
}

// Enqueue never blocks and never panics: a full buffer or a stopped
// dispatcher drops the task. Dropped work is not lost, its pending status
// row stays in the database and the next startup recovery pass re-enqueues
// it.
func (d *Dispatcher) Enqueue(task Task) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		log.Warnf("dispatcher stopped, dropping task %s/%d", task.Kind, task.ID)
		return
	}
	select {
	case d.tasks <- task:
	default:
		log.Errorf("task buffer full, dropping %s/%d until next recovery pass", task.Kind, task.ID)
	}
}

func (d *Dispatcher) Start() {
	for i := 0; i < d.opts.Workers; i++ {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			for task := range d.tasks {
				d.run(task)
			}
		}()
	}
}

// Stop drains the remaining buffered tasks and waits for in-flight work.
// Safe to call more than once.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	d.stopped = true
	close(d.tasks)
	d.mu.Unlock()
	d.wg.Wait()
}

func (d *Dispatcher) run(task Task) {
	reg, ok := d.handlers[task.Kind]
	if !ok {
		log.Errorln("no handler registered for task kind", task.Kind)
		return
	}

	attempt := 0
	op := func() error {
		attempt++
		ctx, cancel := context.WithTimeout(context.Background(), d.opts.Timeout)
		defer cancel()

		err := reg.handle(ctx, task)
		if err == nil {
			return nil
		}
		log.Warnf("task %s/%d attempt %d/%d: %v", task.Kind, task.ID, attempt, d.opts.MaxAttempts, err)

		var nr *nonRetryableError
		if errors.As(err, &nr) {
			return backoff.Permanent(nr.err)
		}
		return err
	}

	policy := backoff.WithMaxRetries(
		backoff.NewConstantBackOff(d.opts.Backoff),
		uint64(d.opts.MaxAttempts-1))

	if err := backoff.Retry(op, policy); err != nil {
		log.Errorf("task %s/%d terminally failed: %v", task.Kind, task.ID, err)
		if reg.failed != nil {
			reg.failed(task, err)
		}
	}
}

// NonRetryable marks an error as terminal: the dispatcher fails the task
// immediately instead of burning the remaining attempts. Validation-class
// failures use this.
func NonRetryable(err error) error {
	if err == nil {
		return nil
	}
	return &nonRetryableError{err: err}
}

// IsNonRetryable reports whether err was marked with NonRetryable.
func IsNonRetryable(err error) bool {
	var nr *nonRetryableError
	return errors.As(err, &nr)
}

type nonRetryableError struct {
	err error
}

func (e *nonRetryableError) Error() string {
	return fmt.Sprintf("non-retryable: %v", e.err)
}

func (e *nonRetryableError) Unwrap() error {
	return e.err
}
