package audit

import (
	"context"
	"sync"
	"time"
)

// queueSize is how many entries may wait for the writer. Entries beyond
// this are dropped.
const queueSize = 256

// writeTimeout bounds one database write.
const writeTimeout = 5 * time.Second

// Logger defines the logging interface used by the recorder.
type Logger interface {
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Recorder queues audit entries and writes them on one goroutine.
//
// Record never blocks: when the queue is full the entry is dropped and a
// warning logged. Run drains what is queued before returning.
type Recorder struct {
	repo   Repository
	queue  chan *Entry
	logger Logger

	done chan struct{}
	once sync.Once
}

// NewRecorder creates a Recorder writing to repo. Call Run to start it.
func NewRecorder(repo Repository) *Recorder {
	return &Recorder{
		repo:   repo,
		queue:  make(chan *Entry, queueSize),
		logger: noopLogger{},
		done:   make(chan struct{}),
	}
}

// SetLogger sets the logger for dropped entries and write failures.
func (r *Recorder) SetLogger(logger Logger) {
	if logger != nil {
		r.logger = logger
	}
}

// Record enqueues e. A nil Recorder ignores the call.
func (r *Recorder) Record(e Entry) {
	if r == nil {
		return
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	select {
	case r.queue <- &e:
	default:
		r.logger.Warn("audit queue full, dropping entry",
			"action", e.Action,
			"controller_id", e.ControllerID,
		)
	}
}

// Repository returns the store entries are written to.
func (r *Recorder) Repository() Repository { return r.repo }

// Run writes queued entries until ctx is cancelled, then drains the queue.
func (r *Recorder) Run(ctx context.Context) {
	defer r.once.Do(func() { close(r.done) })
	for {
		select {
		case e := <-r.queue:
			r.write(e)
		case <-ctx.Done():
			for {
				select {
				case e := <-r.queue:
					r.write(e)
				default:
					return
				}
			}
		}
	}
}

// Done is closed once Run has drained the queue and returned.
func (r *Recorder) Done() <-chan struct{} { return r.done }

func (r *Recorder) write(e *Entry) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := r.repo.Create(ctx, e); err != nil {
		r.logger.Error("audit write failed",
			"action", e.Action,
			"controller_id", e.ControllerID,
			"error", err,
		)
	}
}
