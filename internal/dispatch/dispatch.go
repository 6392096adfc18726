// Package dispatch hands resolved intents to the external executor on a
// bounded worker pool, so capture and resolution of the next utterance
// never wait on execution.
//
// Jobs carry a priority: danger and system intents jump ahead of regular
// ones, macros queue behind everything. Within a priority, jobs run in
// submission order. Submit never blocks; a full queue rejects instead, and
// the caller reports that to the user rather than stalling the pipeline.
package dispatch

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/earshot/internal/command"
	"github.com/MrWong99/earshot/pkg/types"
)

// Priority orders jobs in the queue. Lower values run first.
type Priority int

const (
	PriorityHigh   Priority = iota // danger and system intents, confirmation releases
	PriorityNormal                 // regular commands
	PriorityLow                    // macros and bulk work
)

// String returns the lowercase priority name.
func (p Priority) String() string {
	switch p {
	case PriorityHigh:
		return "high"
	case PriorityNormal:
		return "normal"
	case PriorityLow:
		return "low"
	default:
		return fmt.Sprintf("priority(%d)", int(p))
	}
}

// PriorityFor picks the queue priority for a resolved definition.
func PriorityFor(def command.CommandDefinition) Priority {
	switch {
	case def.Danger, def.Category == command.CategorySystem:
		return PriorityHigh
	case def.Category == command.CategoryMacro:
		return PriorityLow
	default:
		return PriorityNormal
	}
}

// Executor performs the external side effect for a resolved intent.
type Executor interface {
	Execute(ctx context.Context, res types.Resolution) error
}

// ExecutorFunc adapts a function to the [Executor] interface.
type ExecutorFunc func(ctx context.Context, res types.Resolution) error

// Execute implements [Executor].
func (f ExecutorFunc) Execute(ctx context.Context, res types.Resolution) error {
	return f(ctx, res)
}

// Result reports one finished job to the completion callback.
type Result struct {
	JobID      string
	Resolution types.Resolution
	Err        error
	Elapsed    time.Duration
}

// Callback receives every job completion, success or failure. It runs on
// the worker goroutine, so it must be quick.
type Callback func(Result)

// Stats is a point-in-time snapshot of pool counters.
type Stats struct {
	Submitted int     `json:"submitted"`
	Completed int     `json:"completed"`
	Failed    int     `json:"failed"`
	Rejected  int     `json:"rejected"`
	Queued    int     `json:"queued"`
	AvgExecMs float64 `json:"avg_exec_ms"`
}

var (
	// ErrQueueFull is returned by Submit when the bounded queue is at
	// capacity.
	ErrQueueFull = errors.New("dispatch: queue full")

	// ErrStopped is returned by Submit after the pool has been stopped.
	ErrStopped = errors.New("dispatch: pool stopped")
)

const (
	defaultWorkers  = 2
	defaultCapacity = 64
)

type job struct {
	id       string
	res      types.Resolution
	priority Priority
	seq      uint64
}

// jobHeap orders by priority, then submission order.
type jobHeap []*job

func (h jobHeap) Len() int { return len(h) }
func (h jobHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority < h[j].priority
	}
	return h[i].seq < h[j].seq
}
func (h jobHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *jobHeap) Push(x any) { *h = append(*h, x.(*job)) }
func (h *jobHeap) Pop() any {
	old := *h
	n := len(old)
	j := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return j
}

// Pool is the bounded priority worker pool. Safe for concurrent use.
type Pool struct {
	executor Executor
	workers  int
	capacity int
	callback Callback
	logger   *slog.Logger

	mu      sync.Mutex
	cond    *sync.Cond
	queue   jobHeap
	seq     uint64
	closed  bool
	stats   Stats
	totalMs float64

	wg       sync.WaitGroup
	stopOnce sync.Once
}

// Option configures a [Pool].
type Option func(*Pool)

// WithWorkers sets the worker count (default 2).
func WithWorkers(n int) Option {
	return func(p *Pool) {
		if n > 0 {
			p.workers = n
		}
	}
}

// WithQueueSize bounds the pending-job queue (default 64).
func WithQueueSize(n int) Option {
	return func(p *Pool) {
		if n > 0 {
			p.capacity = n
		}
	}
}

// WithCallback sets the completion callback.
func WithCallback(cb Callback) Option {
	return func(p *Pool) { p.callback = cb }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pool) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// New builds a Pool over the given executor. Call [Pool.Start] before
// submitting.
func New(executor Executor, opts ...Option) *Pool {
	p := &Pool{
		executor: executor,
		workers:  defaultWorkers,
		capacity: defaultCapacity,
		logger:   slog.Default(),
	}
	p.cond = sync.NewCond(&p.mu)
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start launches the workers. They run until [Pool.Stop] is called or ctx
// is cancelled; ctx is also the parent context for every execution.
func (p *Pool) Start(ctx context.Context) {
	for i := range p.workers {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}
	go func() {
		<-ctx.Done()
		p.Stop()
	}()
	p.logger.Info("dispatch pool started", "workers", p.workers, "queue_size", p.capacity)
}

// Stop closes the queue, lets the workers drain what is already enqueued,
// and waits for them to exit. Safe to call multiple times.
func (p *Pool) Stop() {
	p.stopOnce.Do(func() {
		p.mu.Lock()
		p.closed = true
		p.mu.Unlock()
		p.cond.Broadcast()
		p.wg.Wait()
		p.logger.Info("dispatch pool stopped")
	})
}

// Submit enqueues a resolution for execution and returns the job id. It
// never blocks: a full queue returns [ErrQueueFull], a stopped pool
// [ErrStopped].
func (p *Pool) Submit(res types.Resolution, priority Priority) (string, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return "", ErrStopped
	}
	if len(p.queue) >= p.capacity {
		p.stats.Rejected++
		p.mu.Unlock()
		return "", ErrQueueFull
	}
	p.seq++
	j := &job{id: uuid.NewString(), res: res, priority: priority, seq: p.seq}
	heap.Push(&p.queue, j)
	p.stats.Submitted++
	p.mu.Unlock()
	p.cond.Signal()

	p.logger.Debug("job queued",
		"job_id", j.id,
		"intent", res.IntentID,
		"priority", priority.String())
	return j.id, nil
}

// Stats returns a snapshot of the pool counters.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := p.stats
	s.Queued = len(p.queue)
	if s.Completed > 0 {
		s.AvgExecMs = p.totalMs / float64(s.Completed)
	}
	return s
}

func (p *Pool) worker(ctx context.Context, id int) {
	defer p.wg.Done()
	for {
		j, ok := p.next()
		if !ok {
			return
		}
		p.run(ctx, j)
	}
}

// next blocks until a job is available or the pool is closed and drained.
func (p *Pool) next() (*job, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for len(p.queue) == 0 && !p.closed {
		p.cond.Wait()
	}
	if len(p.queue) == 0 {
		return nil, false
	}
	return heap.Pop(&p.queue).(*job), true
}

func (p *Pool) run(ctx context.Context, j *job) {
	start := time.Now()
	err := p.executor.Execute(ctx, j.res)
	elapsed := time.Since(start)

	p.mu.Lock()
	if err != nil {
		p.stats.Failed++
	} else {
		p.stats.Completed++
		p.totalMs += elapsed.Seconds() * 1000
	}
	p.mu.Unlock()

	if err != nil {
		p.logger.Error("execution failed",
			"job_id", j.id,
			"intent", j.res.IntentID,
			"error", err)
	} else {
		p.logger.Debug("job completed",
			"job_id", j.id,
			"intent", j.res.IntentID,
			"elapsed", elapsed)
	}

	if p.callback != nil {
		p.callback(Result{JobID: j.id, Resolution: j.res, Err: err, Elapsed: elapsed})
	}
}
