// Package assistant runs the voice pipeline: wake word or continuous
// listening, command capture, routing and spoken replies. It owns every
// loop it starts and joins them on Stop.
package assistant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"hark/internal/audio"
	"hark/internal/capture"
	"hark/internal/config"
	"hark/internal/i18n"
	"hark/internal/notify"
	"hark/internal/observe"
	"hark/internal/session"
	"hark/internal/speech"
	"hark/internal/wake"
)

var (
	ErrNotRunning  = errors.New("assistant: not running")
	ErrRunning     = errors.New("assistant: already running")
	ErrStopTimeout = errors.New("assistant: loops did not stop in time")
	ErrSuspended   = errors.New("assistant: suspended")
)

// Router answers transcribed commands.
type Router interface {
	Route(ctx context.Context, text string) (string, bool, error)
}

// Components is one session's worth of collaborators, built from a single
// settings snapshot.
type Components struct {
	Source audio.Source
	// Spotter gates capture on the wake word; nil listens continuously.
	Spotter  wake.Spotter
	Capturer *capture.Capturer
	Queue    *speech.Queue
	Speaker  *speech.Speaker
	Router   Router
	Chime    *notify.Chime

	Mode        capture.Mode
	Timeout     time.Duration
	PhraseLimit time.Duration

	// Background runs next to the loops until the session ends.
	Background []func(ctx context.Context) error
	// Closers release handles once every loop has returned, last first.
	Closers []func() error
}

func (c *Components) close() error {
	var errs []error
	for i := len(c.Closers) - 1; i >= 0; i-- {
		if err := c.Closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Env is what a Builder gets from the assistant.
type Env struct {
	Session *session.Controller
	// Display phrases go to observers, Voice phrases are spoken.
	Display *i18n.Translator
	Voice   *i18n.Translator
	Metrics *observe.Metrics
	Logger  *slog.Logger

	// Submit and Say feed text from outside the microphone, such as a bus.
	Submit func(text string) error
	Say    func(text string) error
}

// Builder turns a settings snapshot into components. Handles it opens must
// be released by Components.Closers.
type Builder func(ctx context.Context, s *config.Settings, env Env) (*Components, error)

// run is one started session.
type run struct {
	ctx    context.Context
	cancel context.CancelFunc
	comp   *Components
	turns  sync.WaitGroup
	done   chan struct{}
	err    error
}

type Assistant struct {
	session *session.Controller
	display *i18n.Translator
	voice   *i18n.Translator
	metrics *observe.Metrics
	logger  *slog.Logger
	build   Builder

	// mu serialises Start, Stop and Reconfigure.
	mu     sync.Mutex
	parent context.Context
	stale  *run

	cur atomic.Pointer[run]

	turnMu     sync.Mutex
	turnCancel context.CancelFunc

	trigger chan struct{}

	reportMu sync.Mutex
	reported map[string]bool
}

func New(build Builder, metrics *observe.Metrics, logger *slog.Logger) *Assistant {
	if logger == nil {
		logger = slog.Default()
	}

	a := &Assistant{
		session:  session.NewController(0, logger),
		display:  i18n.MustNew(i18n.English),
		voice:    i18n.MustNew(i18n.English),
		metrics:  metrics,
		logger:   logger,
		build:    build,
		trigger:  make(chan struct{}, 1),
		reported: make(map[string]bool),
	}

	a.session.OnSuspend(a.interrupt)
	if metrics != nil {
		a.session.Subscribe(metricsObserver{metrics: metrics})
	}

	return a
}

// Session is the controller observers subscribe to. Its dispatcher must be
// running (Session().Run) for observers to be notified.
func (a *Assistant) Session() *session.Controller { return a.session }

// Start builds components from s and launches the speech worker and the
// listening loop.
func (a *Assistant) Start(ctx context.Context, s *config.Settings) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.parent = ctx
	return a.startLocked(ctx, s)
}

// Stop cancels every loop, cuts off speech and waits up to timeout for the
// loops to return before releasing audio handles. On timeout the handles
// stay open and the next Start fails until the old loops are gone.
func (a *Assistant) Stop(timeout time.Duration) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.stopLocked(timeout)
}

// Reconfigure restarts the assistant with a new settings snapshot. New
// handles are opened only after the old ones are closed.
func (a *Assistant) Reconfigure(s *config.Settings, timeout time.Duration) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.parent == nil {
		return ErrNotRunning
	}
	if err := a.stopLocked(timeout); err != nil {
		return err
	}
	a.logger.Info("Reconfiguring")
	return a.startLocked(a.parent, s)
}

func (a *Assistant) startLocked(ctx context.Context, s *config.Settings) error {
	if a.cur.Load() != nil {
		return ErrRunning
	}

	if a.stale != nil {
		select {
		case <-a.stale.done:
			a.release(a.stale)
			a.stale = nil
		default:
			return ErrStopTimeout
		}
	}

	lang := i18n.ParseLanguage(s.Language)
	a.display.SetLanguage(lang)
	a.voice.SetLanguage(spokenLanguage(lang))

	runCtx, cancel := context.WithCancel(ctx)

	comp, err := a.build(runCtx, s, a.env())
	if err != nil {
		cancel()
		return fmt.Errorf("assistant: build: %w", err)
	}

	r := &run{ctx: runCtx, cancel: cancel, comp: comp, done: make(chan struct{})}

	a.resetReports()
	select {
	case <-a.trigger:
	default:
	}

	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error { return comp.Queue.Run(gctx) })
	for _, bg := range comp.Background {
		g.Go(func() error { return bg(gctx) })
	}
	if comp.Spotter != nil {
		g.Go(func() error { return a.wakeLoop(gctx, r) })
	} else {
		g.Go(func() error { return a.continuousLoop(gctx, r) })
	}

	go func() {
		r.err = g.Wait()
		close(r.done)
	}()

	a.cur.Store(r)

	a.logger.Info("Assistant started", "wake", comp.Spotter != nil, "mode", comp.Mode.String())
	a.session.Post(session.LevelStatus, a.display.T("ready"))

	return nil
}

func (a *Assistant) stopLocked(timeout time.Duration) error {
	r := a.cur.Swap(nil)
	if r == nil {
		return nil
	}

	r.cancel()
	a.cancelTurn()
	r.comp.Queue.FlushAndStop()

	stopped := make(chan struct{})
	go func() {
		<-r.done
		r.turns.Wait()
		r.comp.Speaker.Wait()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-time.After(timeout):
		a.logger.Error("Loops did not stop in time, keeping audio handles open", "timeout", timeout)
		a.stale = &run{done: stopped, comp: r.comp}
		return ErrStopTimeout
	}

	if r.err != nil {
		a.logger.Warn("Loop exited with error", "err", r.err)
	}

	a.session.Idle()

	return a.release(r)
}

func (a *Assistant) release(r *run) error {
	if err := r.comp.close(); err != nil {
		a.logger.Warn("Failed to release handles", "err", err)
		return err
	}
	return nil
}

// Trigger wakes the assistant as if the wake word had been heard. In
// continuous mode it only cuts off speech.
func (a *Assistant) Trigger() error {
	r := a.cur.Load()
	if r == nil {
		return ErrNotRunning
	}
	if a.session.Suspended() {
		return ErrSuspended
	}

	if r.comp.Spotter == nil {
		a.cancelTurn()
		r.comp.Queue.FlushAndStop()
		return nil
	}

	select {
	case a.trigger <- struct{}{}:
	default:
	}
	return nil
}

// Suspend stops speech and idles the loops until Resume.
func (a *Assistant) Suspend() {
	a.session.Suspend()
	a.session.Post(session.LevelStatus, a.display.T("suspended"))
}

func (a *Assistant) Resume() bool {
	if !a.session.Resume() {
		return false
	}
	a.session.Post(session.LevelStatus, a.display.T("ready"))
	return true
}

// Say speaks text as an assistant line.
func (a *Assistant) Say(text string) error {
	r := a.cur.Load()
	if r == nil {
		return ErrNotRunning
	}
	if a.session.Suspended() {
		return ErrSuspended
	}

	a.session.Post(session.LevelAssistant, text)
	r.comp.Speaker.Say(r.ctx, text)
	return nil
}

// Submit handles text as if it had been spoken, replacing any turn in
// progress.
func (a *Assistant) Submit(text string) error {
	r := a.cur.Load()
	if r == nil {
		return ErrNotRunning
	}
	if a.session.Suspended() {
		return ErrSuspended
	}

	a.cancelTurn()
	r.comp.Queue.FlushAndStop()
	a.startTurn(r, func(ctx context.Context) { a.respond(ctx, r, text) })
	return nil
}

func (a *Assistant) Status() session.State { return a.session.State() }

func (a *Assistant) Running() bool { return a.cur.Load() != nil }

func (a *Assistant) env() Env {
	return Env{
		Session: a.session,
		Display: a.display,
		Voice:   a.voice,
		Metrics: a.metrics,
		Logger:  a.logger,
		Submit:  a.Submit,
		Say:     a.Say,
	}
}

// interrupt runs on Suspend.
func (a *Assistant) interrupt() {
	a.cancelTurn()
	if r := a.cur.Load(); r != nil {
		r.comp.Queue.FlushAndStop()
	}
}

func (a *Assistant) cancelTurn() {
	a.turnMu.Lock()
	defer a.turnMu.Unlock()

	if a.turnCancel != nil {
		a.turnCancel()
		a.turnCancel = nil
	}
}

// startTurn runs fn in its own goroutine after cancelling the previous turn.
func (a *Assistant) startTurn(r *run, fn func(ctx context.Context)) bool {
	a.turnMu.Lock()
	defer a.turnMu.Unlock()

	if r.ctx.Err() != nil {
		return false
	}
	if a.turnCancel != nil {
		a.turnCancel()
	}

	ctx, cancel := context.WithCancel(r.ctx)
	a.turnCancel = cancel

	r.turns.Add(1)
	go func() {
		defer r.turns.Done()
		defer cancel()
		fn(ctx)
	}()

	return true
}

// spokenLanguage picks one voice for bilingual mode.
func spokenLanguage(lang i18n.Language) i18n.Language {
	if lang == i18n.Bilingual {
		return i18n.English
	}
	return lang
}
