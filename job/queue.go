package job

import (
	"database/sql"
	"encoding/json"
	"sync"

	"github.com/airbais/conductor/errors"
)

const (
	// SubscriberChannelBufferSize is the buffer size for subscriber channels
	SubscriberChannelBufferSize = 100
)

// Queue fronts the Store and fans job updates out to subscribers.
// Status races are resolved by the store's compare-and-set Transition,
// not by holding a lock across the whole operation; the queue mutex
// only guards the subscriber list.
type Queue struct {
	store       *Store
	mu          sync.RWMutex
	subscribers []chan *Job
}

// NewQueue creates a job queue backed by db.
func NewQueue(db *sql.DB) *Queue {
	return &Queue{
		store:       NewStore(db),
		subscribers: make([]chan *Job, 0),
	}
}

// Store exposes the underlying store for read paths that bypass
// notification (listing, counts).
func (q *Queue) Store() *Store {
	return q.store
}

// Enqueue persists a new queued job and notifies subscribers.
func (q *Queue) Enqueue(job *Job) error {
	if err := q.store.Create(job); err != nil {
		err = errors.Wrap(err, "failed to enqueue job")
		err = errors.WithDetail(err, "Job ID: "+job.ID)
		err = errors.WithDetail(err, "Tool: "+job.Tool)
		return err
	}

	q.notifySubscribers(job)
	return nil
}

// Claim takes the oldest queued job and moves it to running. Returns
// (nil, nil) when the queue is empty. When another worker wins the
// claim race the stale-transition error is swallowed and (nil, nil) is
// returned, so callers simply poll again.
func (q *Queue) Claim() (*Job, error) {
	next, err := q.store.NextQueued()
	if err != nil {
		return nil, err
	}
	if next == nil {
		return nil, nil
	}

	claimed, err := q.store.Transition(next.ID, StatusQueued, StatusRunning, Fields{})
	if errors.IsStaleTransition(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to claim job %s", next.ID)
	}

	q.notifySubscribers(claimed)
	return claimed, nil
}

// Get retrieves a job by id.
func (q *Queue) Get(id string) (*Job, error) {
	return q.store.Get(id)
}

// List returns jobs matching the filter, newest first.
func (q *Queue) List(f Filter) ([]*Job, error) {
	return q.store.List(f)
}

// Complete marks a running job completed with its result payload.
func (q *Queue) Complete(id string, result json.RawMessage) (*Job, error) {
	job, err := q.store.Transition(id, StatusRunning, StatusCompleted, Fields{Result: result})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to complete job %s", id)
	}

	q.notifySubscribers(job)
	return job, nil
}

// Fail marks a running job failed, classifying the error into a stable
// error code alongside the human-readable message.
func (q *Queue) Fail(id string, jobErr error) (*Job, error) {
	fields := Fields{
		Error:     jobErr.Error(),
		ErrorCode: ClassifyError(jobErr),
	}
	job, err := q.store.Transition(id, StatusRunning, StatusFailed, fields)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to fail job %s", id)
	}

	q.notifySubscribers(job)
	return job, nil
}

// Cancel moves a queued or running job to cancelled. Cancelling a job
// that is already terminal is a no-op returning the job as-is, so the
// operation is idempotent. The caller is responsible for stopping any
// in-flight execution (see Executor.Cancel).
func (q *Queue) Cancel(id string) (*Job, error) {
	job, err := q.store.Get(id)
	if err != nil {
		return nil, err
	}

	if job.Status.IsTerminal() {
		return job, nil
	}

	cancelled, err := q.store.Transition(id, job.Status, StatusCancelled, Fields{
		Error:     "job cancelled",
		ErrorCode: ErrorCodeCancelled,
	})
	if errors.IsStaleTransition(err) {
		// Lost a race against the worker or another cancel; re-read and
		// report whatever the job settled into.
		return q.store.Get(id)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to cancel job %s", id)
	}

	q.notifySubscribers(cancelled)
	return cancelled, nil
}

// Subscribe returns a channel receiving every job update. The channel
// is buffered; slow consumers drop updates rather than block the queue.
func (q *Queue) Subscribe() chan *Job {
	q.mu.Lock()
	defer q.mu.Unlock()

	ch := make(chan *Job, SubscriberChannelBufferSize)
	q.subscribers = append(q.subscribers, ch)
	return ch
}

// Unsubscribe removes a subscriber channel. The channel is not closed;
// the caller manages its lifecycle.
func (q *Queue) Unsubscribe(ch chan *Job) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i, sub := range q.subscribers {
		if sub == ch {
			q.subscribers = append(q.subscribers[:i], q.subscribers[i+1:]...)
			return
		}
	}
}

func (q *Queue) notifySubscribers(job *Job) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	for _, ch := range q.subscribers {
		select {
		case ch <- job:
		default:
			// Channel full, skip
		}
	}
}
