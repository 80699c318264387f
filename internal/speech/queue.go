package speech

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"hark/internal/observe"
	"hark/internal/tts"
)

// ErrPlayback wraps a failure to speak or play one task. The queue carries
// on with the next task.
var ErrPlayback = errors.New("speech: playback failed")

// FilePlayer plays rendered audio files. Play blocks until the file ends or
// ctx is cancelled.
type FilePlayer interface {
	Play(ctx context.Context, path string) error
	Stop()
}

// State is the part of the session controller the worker drives.
type State interface {
	Suspended() bool
	Speaking() bool
	Idle() bool
}

// Ducker lowers other applications while the assistant talks.
type Ducker interface {
	Duck(ctx context.Context, factor float64, fade time.Duration) error
	Restore(ctx context.Context, fade time.Duration) error
}

type Config struct {
	Engine tts.Engine
	Player FilePlayer
	State  State

	Ducker     Ducker
	DuckFactor float64
	DuckFade   time.Duration

	Metrics *observe.Metrics
	Logger  *slog.Logger

	// OnError receives playback failures wrapped in ErrPlayback.
	OnError func(error)
}

// Queue is a FIFO of speech tasks consumed by a single worker (Run).
// Enqueue never blocks; FlushAndStop drops everything pending and cuts off
// whatever is playing.
type Queue struct {
	cfg Config

	mu     sync.Mutex
	tasks  []Task
	gen    uint64
	cancel context.CancelFunc

	signal chan struct{}
}

func NewQueue(cfg Config) *Queue {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.DuckFactor <= 0 {
		cfg.DuckFactor = 0.3
	}
	return &Queue{
		cfg:    cfg,
		signal: make(chan struct{}, 1),
	}
}

func (q *Queue) Enqueue(t Task) {
	q.mu.Lock()
	q.tasks = append(q.tasks, t)
	q.mu.Unlock()

	q.wake()
}

func (q *Queue) wake() {
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

// Len returns the number of queued tasks, renders in flight included.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}

// Playing reports whether the worker holds a task: speaking it, or waiting
// for its render.
func (q *Queue) Playing() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.cancel != nil
}

func (q *Queue) FlushAndStop() {
	q.mu.Lock()
	dropped := q.tasks
	q.tasks = nil
	q.gen++
	cancel := q.cancel
	q.cancel = nil
	q.mu.Unlock()

	for _, t := range dropped {
		discard(t)
	}

	if cancel != nil {
		cancel()
		q.cfg.Engine.Stop()
		if q.cfg.Player != nil {
			q.cfg.Player.Stop()
		}
	}

	q.restore()
	q.cfg.State.Idle()
}

// WaitIdle blocks until nothing is queued or playing, ctx ends, or timeout
// passes. It reports whether the queue went idle.
func (q *Queue) WaitIdle(ctx context.Context, timeout time.Duration) bool {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	tick := time.NewTicker(20 * time.Millisecond)
	defer tick.Stop()

	for {
		if q.Len() == 0 && !q.Playing() {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-deadline.C:
			return false
		case <-tick.C:
		}
	}
}

// Run is the worker loop. It returns when ctx is done.
func (q *Queue) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-q.signal:
		}

		for {
			task, gen, ok := q.pop()
			if !ok {
				q.restore()
				q.cfg.State.Idle()
				break
			}

			q.play(ctx, task, gen)

			if ctx.Err() != nil {
				return nil
			}
		}
	}
}

func (q *Queue) pop() (Task, uint64, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.tasks) == 0 {
		return Task{}, q.gen, false
	}

	t := q.tasks[0]
	q.tasks[0] = Task{}
	q.tasks = q.tasks[1:]

	return t, q.gen, true
}

func (q *Queue) play(ctx context.Context, t Task, gen uint64) {
	// For a pending task this drops the slot, which discards the task it
	// resolved to.
	defer discard(t)

	if q.cfg.State.Suspended() {
		return
	}

	q.mu.Lock()
	if gen != q.gen {
		q.mu.Unlock()
		return
	}
	pctx, cancel := context.WithCancel(ctx)
	q.cancel = cancel
	q.mu.Unlock()

	defer func() {
		q.mu.Lock()
		if q.gen == gen {
			q.cancel = nil
		}
		q.mu.Unlock()
		cancel()
	}()

	if t.Kind == KindPending {
		resolved, ok := t.pending.wait(pctx)
		if !ok {
			return
		}
		t = resolved
	}

	q.cfg.State.Speaking()
	q.duck(pctx)

	var err error
	switch t.Kind {
	case KindFile:
		if q.cfg.Player == nil {
			err = errors.New("no file player")
			break
		}
		err = q.cfg.Player.Play(pctx, t.Content)
	default:
		err = q.cfg.Engine.Speak(pctx, t.Content)
	}

	outcome := "played"
	switch {
	case pctx.Err() != nil:
		outcome = "interrupted"
	case err != nil:
		outcome = "failed"
		err = fmt.Errorf("%w: %s task %s: %v", ErrPlayback, t.Kind, t.ID, err)
		q.cfg.Logger.Warn("Speech task failed", "id", t.ID, "kind", t.Kind.String(), "err", err)
		if q.cfg.OnError != nil {
			q.cfg.OnError(err)
		}
	}
	q.cfg.Metrics.SpeechTask(ctx, t.Kind.String(), outcome)

	if q.Len() == 0 {
		q.restore()
		q.cfg.State.Idle()
	}
}

func (q *Queue) duck(ctx context.Context) {
	if q.cfg.Ducker == nil {
		return
	}
	if err := q.cfg.Ducker.Duck(ctx, q.cfg.DuckFactor, q.cfg.DuckFade); err != nil {
		q.cfg.Logger.Debug("Duck failed", "err", err)
	}
}

func (q *Queue) restore() {
	if q.cfg.Ducker == nil {
		return
	}
	if err := q.cfg.Ducker.Restore(context.Background(), q.cfg.DuckFade); err != nil {
		q.cfg.Logger.Debug("Restore failed", "err", err)
	}
}

// discard removes the rendered file behind a file task and drops pending
// slots.
func discard(t Task) {
	switch {
	case t.pending != nil:
		t.pending.drop()
	case t.Kind == KindFile && t.Content != "":
		os.Remove(t.Content)
	}
}
