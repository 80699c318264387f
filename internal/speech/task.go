// Package speech serialises everything the assistant says through one
// worker so utterances never overlap.
package speech

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

type Kind int

const (
	// KindText is spoken by the local engine.
	KindText Kind = iota
	// KindFile is a rendered audio file played by the file player.
	KindFile
	// KindPending holds a queue position for a render still in flight.
	KindPending
)

func (k Kind) String() string {
	switch k {
	case KindFile:
		return "file"
	case KindPending:
		return "pending"
	default:
		return "text"
	}
}

// Task is one queued utterance.
type Task struct {
	ID      string
	Kind    Kind
	Content string
	Lang    string

	pending *pending
}

func NewText(text, lang string) Task {
	return Task{ID: uuid.NewString(), Kind: KindText, Content: text, Lang: lang}
}

func NewFile(path, lang string) Task {
	return Task{ID: uuid.NewString(), Kind: KindFile, Content: path, Lang: lang}
}

func newPendingTask(lang string) (Task, *pending) {
	p := &pending{done: make(chan struct{})}
	return Task{ID: uuid.NewString(), Kind: KindPending, Lang: lang, pending: p}, p
}

// pending is resolved once, either to the task to play or by being dropped.
// Whatever is resolved into a dropped slot is discarded.
type pending struct {
	mu       sync.Mutex
	done     chan struct{}
	task     Task
	resolved bool
	dropped  bool
}

func (p *pending) resolve(t Task) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.resolved || p.dropped {
		discard(t)
		return false
	}
	p.task = t
	p.resolved = true
	close(p.done)
	return true
}

func (p *pending) drop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.dropped {
		return
	}
	p.dropped = true
	if p.resolved {
		discard(p.task)
		return
	}
	close(p.done)
}

// wait returns the resolved task, or false if the slot was dropped or ctx
// ended first.
func (p *pending) wait(ctx context.Context) (Task, bool) {
	select {
	case <-p.done:
	case <-ctx.Done():
		return Task{}, false
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.dropped {
		return Task{}, false
	}
	return p.task, true
}
