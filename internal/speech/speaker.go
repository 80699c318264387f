package speech

import (
	"context"
	"log/slog"
	"sync"

	"hark/internal/tts"
)

const arabicTag = "ar-SA"

// Speaker decides how a response is spoken and hands it to the queue.
// Text with Arabic script is rendered by the cloud renderer in the
// background behind a slot queued in its place; everything else goes
// straight to the local engine.
type Speaker struct {
	queue    *Queue
	renderer tts.Renderer
	state    State
	lang     string
	logger   *slog.Logger

	wg sync.WaitGroup
}

// NewSpeaker builds a Speaker. renderer may be nil, in which case all text
// is spoken locally.
func NewSpeaker(q *Queue, renderer tts.Renderer, state State, lang string, logger *slog.Logger) *Speaker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Speaker{queue: q, renderer: renderer, state: state, lang: lang, logger: logger}
}

// Say cleans text and queues it. It never blocks on synthesis. Nothing is
// queued while the session is suspended.
func (s *Speaker) Say(ctx context.Context, text string) {
	if s.state.Suspended() {
		return
	}

	cleaned := CleanText(text)
	if IsBlank(cleaned) {
		return
	}

	if s.renderer == nil || !HasArabic(cleaned) {
		s.queue.Enqueue(NewText(cleaned, s.lang))
		return
	}

	// The slot keeps the reply's place in the queue while it renders.
	task, slot := newPendingTask(arabicTag)
	s.queue.Enqueue(task)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		path, err := s.renderer.Render(ctx, cleaned, arabicTag)
		switch {
		case ctx.Err() != nil:
			if err == nil {
				discard(NewFile(path, arabicTag))
			}
			slot.drop()
		case err == nil:
			slot.resolve(NewFile(path, arabicTag))
		default:
			s.logger.Warn("Cloud render failed, speaking locally", "err", err)
			slot.resolve(NewText(cleaned, arabicTag))
		}
	}()
}

// Wait blocks until in-flight renders have finished.
func (s *Speaker) Wait() {
	s.wg.Wait()
}
