package snapshot

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"bondstock/internal/core/apperror"
	appctx "bondstock/internal/core/context"
	"bondstock/internal/core/entity"
	"bondstock/internal/core/types"
	"bondstock/pkg/logger"
)

// Cascader runs a cascade for one key. Implemented by *Recalculator.
type Cascader interface {
	RecalculateFrom(ctx context.Context, key entity.ItemKey, start time.Time) (CascadeResult, error)
}

// DispatcherConfig configures background recalculation.
type DispatcherConfig struct {
	Workers      int
	MaxRetries   int
	RetryBackoff time.Duration
}

// DefaultDispatcherConfig returns production defaults.
func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{
		Workers:      4,
		MaxRetries:   3,
		RetryBackoff: 500 * time.Millisecond,
	}
}

// job is the pending or running work of one key.
type job struct {
	start     time.Time
	running   bool
	queued    bool
	scheduled bool // waiting on a retry timer
	dirty     bool // triggered while running
	next      time.Time
	attempt   int
}

// Dispatcher runs cascades in the background. Triggers never block; work for
// the same key is merged and never runs concurrently, different keys run in
// parallel on the worker pool.
type Dispatcher struct {
	cascader Cascader
	backlog  Backlog
	cfg      DispatcherConfig

	mu    sync.Mutex
	jobs  map[entity.ItemKey]*job
	queue []entity.ItemKey
	wake  chan struct{}
}

// NewDispatcher creates a dispatcher. A nil backlog drops unrecoverable failures after logging.
func NewDispatcher(cascader Cascader, backlog Backlog, cfg DispatcherConfig) *Dispatcher {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 100 * time.Millisecond
	}
	return &Dispatcher{
		cascader: cascader,
		backlog:  backlog,
		cfg:      cfg,
		jobs:     make(map[entity.ItemKey]*job),
		wake:     make(chan struct{}, 1),
	}
}

// Trigger schedules a recalculation of key from date.
func (d *Dispatcher) Trigger(key entity.ItemKey, date time.Time) {
	date = types.Day(date)

	d.mu.Lock()
	defer d.mu.Unlock()

	j, ok := d.jobs[key]
	if !ok {
		d.jobs[key] = &job{start: date}
		d.enqueueLocked(key)
		return
	}

	switch {
	case j.running:
		// one follow-up pass after the running cascade
		if j.dirty {
			j.next = types.MinDay(j.next, date)
		} else {
			j.dirty = true
			j.next = date
		}
	default:
		// pending or waiting for retry: merge
		j.start = types.MinDay(j.start, date)
	}
}

// Pending returns the number of keys with queued, running or retrying work.
func (d *Dispatcher) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.jobs)
}

// Run starts the worker pool and blocks until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) error {
	logger.Info(ctx, "recalculation dispatcher started", "workers", d.cfg.Workers)

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < d.cfg.Workers; i++ {
		g.Go(func() error {
			d.worker(gctx)
			return nil
		})
	}
	err := g.Wait()

	logger.Info(context.Background(), "recalculation dispatcher stopped")
	return err
}

// Drain waits until no work is pending or ctx is done.
func (d *Dispatcher) Drain(ctx context.Context) error {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		if d.Pending() == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (d *Dispatcher) worker(ctx context.Context) {
	for {
		key, j, ok := d.dequeue()
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-d.wake:
				continue
			}
		}
		d.process(ctx, key, j)
	}
}

// dequeue pops the next key and marks it running.
func (d *Dispatcher) dequeue() (entity.ItemKey, job, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(d.queue) == 0 {
		return entity.ItemKey{}, job{}, false
	}
	key := d.queue[0]
	d.queue = d.queue[1:]
	if len(d.queue) > 0 {
		d.signal()
	}

	j := d.jobs[key]
	j.queued = false
	j.running = true
	return key, *j, true
}

func (d *Dispatcher) process(ctx context.Context, key entity.ItemKey, j job) {
	ctx = appctx.StartJob(ctx, appctx.OriginWorker)
	start := j.start

	if d.backlog != nil && j.attempt == 0 {
		resume, found, err := d.backlog.Take(ctx, key)
		if err != nil {
			logger.Warn(ctx, "failed to read recalculation backlog", "key", key.String(), "error", err)
		} else if found {
			start = types.MinDay(start, resume)
		}
	}

	_, err := d.cascader.RecalculateFrom(ctx, key, start)
	d.finish(ctx, key, start, err)
}

// finish settles the job after a run: done, retry later or backlog.
func (d *Dispatcher) finish(ctx context.Context, key entity.ItemKey, start time.Time, err error) {
	resume := start
	if ce, ok := AsCascadeError(err); ok {
		resume = ce.ResumeFrom
	}

	d.mu.Lock()
	j := d.jobs[key]
	j.running = false

	if err == nil {
		if j.dirty {
			j.start = j.next
			j.dirty = false
			j.attempt = 0
			d.enqueueLocked(key)
		} else {
			delete(d.jobs, key)
		}
		d.mu.Unlock()
		return
	}

	if j.dirty {
		resume = types.MinDay(resume, j.next)
		j.dirty = false
	}

	if apperror.IsTransient(err) && j.attempt < d.cfg.MaxRetries && ctx.Err() == nil {
		j.attempt++
		j.start = resume
		j.scheduled = true
		attempt := j.attempt
		delay := RetryDelay(d.cfg.RetryBackoff, attempt)
		d.mu.Unlock()

		logger.Warn(ctx, "cascade failed, retrying",
			"key", key.String(), "resume_from", resume.Format(types.DateLayout),
			"attempt", attempt, "delay", delay, "error", err)

		time.AfterFunc(delay, func() {
			d.mu.Lock()
			defer d.mu.Unlock()
			if j, ok := d.jobs[key]; ok && j.scheduled {
				j.scheduled = false
				d.enqueueLocked(key)
			}
		})
		return
	}

	delete(d.jobs, key)
	d.mu.Unlock()

	logger.Error(ctx, "cascade failed, deferring to backlog",
		"key", key.String(), "resume_from", resume.Format(types.DateLayout), "error", err)

	if d.backlog == nil {
		return
	}
	if bErr := d.backlog.Record(context.WithoutCancel(ctx), key, resume, err); bErr != nil {
		logger.Error(ctx, "failed to record recalculation backlog",
			"key", key.String(), "resume_from", resume.Format(types.DateLayout), "error", bErr)
	}
}

func (d *Dispatcher) enqueueLocked(key entity.ItemKey) {
	j := d.jobs[key]
	if j.queued {
		return
	}
	j.queued = true
	d.queue = append(d.queue, key)
	d.signal()
}

func (d *Dispatcher) signal() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}
