// Package jobs runs query refreshes in the background.
//
// The queue does not execute SQL itself. A Runner executes the query text
// against its data source and the queue stores whatever it returns as the
// query's latest result. Identical refreshes that are still waiting or
// running share one job.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"querydash/pkg/sqlutil"
	"querydash/pkg/store"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

type Status int

const (
	StatusPending   Status = 1
	StatusStarted   Status = 2
	StatusSuccess   Status = 3
	StatusFailure   Status = 4
	StatusCancelled Status = 5
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusStarted:
		return "started"
	case StatusSuccess:
		return "success"
	case StatusFailure:
		return "failure"
	case StatusCancelled:
		return "cancelled"
	}
	return "unknown"
}

// Done reports whether the job reached a final state
func (s Status) Done() bool {
	return s == StatusSuccess || s == StatusFailure || s == StatusCancelled
}

// finishedRetention is how long finished jobs stay queryable
const finishedRetention = time.Hour

var (
	ErrJobNotFound  = errors.New("job not found")
	ErrQueueStopped = errors.New("job queue stopped")
)

// Request describes one refresh
type Request struct {
	OrgID          int64
	DataSourceID   int64
	DataSourceType string
	QueryID        int64
	UserID         int64
	QueryText      string
	QueryHash      string
}

func (r Request) key() uint64 {
	return xxhash.Sum64String(strconv.FormatInt(r.DataSourceID, 10) + ":" + r.QueryHash)
}

// Job is a snapshot of a refresh
type Job struct {
	ID            string    `json:"id"`
	OrgID         int64     `json:"-"`
	QueryID       int64     `json:"query_id"`
	Status        Status    `json:"status"`
	Error         string    `json:"error"`
	QueryResultID int64     `json:"query_result_id,omitempty"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Result is what a Runner produced for a request
type Result struct {
	Data string
}

// Runner executes query text against a data source
type Runner interface {
	Run(ctx context.Context, req Request) (Result, error)
}

// NoRunner fails every request; it is used when no data source driver is
// available in this process
type NoRunner struct{}

func (NoRunner) Run(ctx context.Context, req Request) (Result, error) {
	return Result{}, fmt.Errorf("no query runner for data source type %q", req.DataSourceType)
}

// ResultStore persists successful results
type ResultStore interface {
	StoreResult(ctx context.Context, r *store.QueryResult) ([]int64, error)
}

type task struct {
	job     *Job
	req     Request
	enqueue time.Time
}

// Queue dispatches refresh requests to a bounded pool of workers
type Queue struct {
	runner  Runner
	results ResultStore
	workers int
	tasks   chan *task

	// stopped is closed when Run returns; nothing consumes tasks after it
	stopped  chan struct{}
	stopOnce sync.Once

	mu      sync.Mutex
	jobs    map[string]*Job
	active  map[uint64]string
	cancels map[string]context.CancelFunc
	subs    map[chan Job]struct{}
}

// NewQueue creates a queue; call Run to start processing
func NewQueue(runner Runner, results ResultStore, workers int) *Queue {
	if runner == nil {
		runner = NoRunner{}
	}
	if workers < 1 {
		workers = 1
	}
	return &Queue{
		runner:  runner,
		results: results,
		workers: workers,
		tasks:   make(chan *task, workers*16),
		stopped: make(chan struct{}),
		jobs:    make(map[string]*Job),
		active:  make(map[uint64]string),
		cancels: make(map[string]context.CancelFunc),
		subs:    make(map[chan Job]struct{}),
	}
}

// Run processes tasks until ctx is cancelled, then waits for running
// tasks to finish
func (q *Queue) Run(ctx context.Context) error {
	var g errgroup.Group
	g.SetLimit(q.workers)

	for {
		select {
		case <-ctx.Done():
			q.stopOnce.Do(func() { close(q.stopped) })
			q.drain()
			return g.Wait()
		case t := <-q.tasks:
			g.Go(func() error {
				q.execute(ctx, t)
				return nil
			})
		}
	}
}

// Enqueue schedules a refresh. A request for the same data source and
// query hash as an unfinished job returns that job instead.
func (q *Queue) Enqueue(ctx context.Context, req Request) (Job, error) {
	key := req.key()

	select {
	case <-q.stopped:
		return Job{}, ErrQueueStopped
	default:
	}

	q.mu.Lock()
	q.pruneLocked(time.Now())
	if id, ok := q.active[key]; ok {
		job := *q.jobs[id]
		q.mu.Unlock()
		slog.Debug("joined existing job", "job_id", id, "query_id", req.QueryID)
		return job, nil
	}

	job := &Job{
		ID:        uuid.NewString(),
		OrgID:     req.OrgID,
		QueryID:   req.QueryID,
		Status:    StatusPending,
		UpdatedAt: time.Now().UTC(),
	}
	q.jobs[job.ID] = job
	q.active[key] = job.ID
	snapshot := *job
	q.mu.Unlock()
	q.publish(snapshot)

	select {
	case q.tasks <- &task{job: job, req: req, enqueue: time.Now()}:
	case <-q.stopped:
		q.finish(job.ID, key, StatusCancelled, ErrQueueStopped.Error(), 0)
		return Job{}, ErrQueueStopped
	case <-ctx.Done():
		q.finish(job.ID, key, StatusCancelled, ctx.Err().Error(), 0)
		return Job{}, ctx.Err()
	}

	select {
	case <-q.stopped:
		// Run exited while the task was being queued
		q.drain()
		return q.Get(job.ID)
	default:
	}

	slog.Info("enqueued query", "job_id", job.ID, "query_id", req.QueryID, "query", sqlutil.NormalizeQuery(req.QueryText))
	return snapshot, nil
}

// Get returns a snapshot of a job
func (q *Queue) Get(id string) (Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	job, ok := q.jobs[id]
	if !ok {
		return Job{}, ErrJobNotFound
	}
	return *job, nil
}

// Cancel stops a pending or running job. Cancelling a finished job is a
// no-op that returns its final state.
func (q *Queue) Cancel(id string) (Job, error) {
	q.mu.Lock()
	job, ok := q.jobs[id]
	if !ok {
		q.mu.Unlock()
		return Job{}, ErrJobNotFound
	}
	if job.Status.Done() {
		snapshot := *job
		q.mu.Unlock()
		return snapshot, nil
	}

	if cancel, running := q.cancels[id]; running {
		q.mu.Unlock()
		cancel()
		return q.Get(id)
	}

	snapshot := q.cancelLocked(job, "cancelled")
	q.mu.Unlock()

	q.publish(snapshot)
	return snapshot, nil
}

// Subscribe returns a channel receiving every job state change. Slow
// subscribers miss events rather than block the queue.
func (q *Queue) Subscribe() (<-chan Job, func()) {
	ch := make(chan Job, 16)
	q.mu.Lock()
	q.subs[ch] = struct{}{}
	q.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			q.mu.Lock()
			delete(q.subs, ch)
			q.mu.Unlock()
			close(ch)
		})
	}
}

func (q *Queue) execute(ctx context.Context, t *task) {
	key := t.req.key()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	q.mu.Lock()
	if t.job.Status != StatusPending {
		q.mu.Unlock()
		return
	}
	t.job.Status = StatusStarted
	t.job.UpdatedAt = time.Now().UTC()
	q.cancels[t.job.ID] = cancel
	snapshot := *t.job
	q.mu.Unlock()
	q.publish(snapshot)

	log := slog.With("job_id", t.job.ID, "query_id", t.req.QueryID)
	log.Debug("running query", "waited", time.Since(t.enqueue))

	start := time.Now()
	res, err := q.runner.Run(ctx, t.req)
	runtime := time.Since(start)

	if ctx.Err() != nil {
		log.Info("query cancelled", "runtime", runtime)
		q.finish(t.job.ID, key, StatusCancelled, "cancelled", 0)
		return
	}
	if err != nil {
		log.Warn("query failed", "error", err, "runtime", runtime)
		q.finish(t.job.ID, key, StatusFailure, err.Error(), 0)
		return
	}

	result := &store.QueryResult{
		OrgID:        t.req.OrgID,
		DataSourceID: t.req.DataSourceID,
		QueryHash:    t.req.QueryHash,
		QueryText:    t.req.QueryText,
		Data:         res.Data,
		Runtime:      runtime.Seconds(),
	}
	updated, err := q.results.StoreResult(ctx, result)
	if err != nil {
		log.Error("failed to store result", "error", err)
		q.finish(t.job.ID, key, StatusFailure, err.Error(), 0)
		return
	}

	log.Info("query finished", "runtime", runtime, "result_id", result.ID, "updated_queries", len(updated))
	q.finish(t.job.ID, key, StatusSuccess, "", result.ID)
}

func (q *Queue) finish(id string, key uint64, status Status, errMsg string, resultID int64) {
	q.mu.Lock()
	job := q.jobs[id]
	job.Status = status
	job.Error = errMsg
	job.QueryResultID = resultID
	job.UpdatedAt = time.Now().UTC()
	delete(q.cancels, id)
	if q.active[key] == id {
		delete(q.active, key)
	}
	snapshot := *job
	q.mu.Unlock()

	q.publish(snapshot)
}

// cancelLocked marks a job that never started as cancelled
func (q *Queue) cancelLocked(job *Job, reason string) Job {
	job.Status = StatusCancelled
	job.Error = reason
	job.UpdatedAt = time.Now().UTC()
	q.releaseLocked(job.ID)
	return *job
}

// drain cancels every task still buffered once Run has stopped
func (q *Queue) drain() {
	for {
		select {
		case t := <-q.tasks:
			q.mu.Lock()
			if t.job.Status != StatusPending {
				q.mu.Unlock()
				continue
			}
			snapshot := q.cancelLocked(t.job, ErrQueueStopped.Error())
			q.mu.Unlock()
			q.publish(snapshot)
		default:
			return
		}
	}
}

// releaseLocked forgets the dedup entry pointing at id
func (q *Queue) releaseLocked(id string) {
	for key, activeID := range q.active {
		if activeID == id {
			delete(q.active, key)
		}
	}
}

func (q *Queue) pruneLocked(now time.Time) {
	for id, job := range q.jobs {
		if job.Status.Done() && now.Sub(job.UpdatedAt) > finishedRetention {
			delete(q.jobs, id)
		}
	}
}

func (q *Queue) publish(job Job) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for ch := range q.subs {
		select {
		case ch <- job:
		default:
		}
	}
}
