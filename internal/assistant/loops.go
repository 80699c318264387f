package assistant

import (
	"context"
	"errors"
	"time"

	"hark/internal/audio"
	"hark/internal/capture"
	"hark/internal/session"
	"hark/internal/wake"
	"hark/pkg/stt"
)

const (
	suspendPoll    = 100 * time.Millisecond
	deviceBackoff  = 2 * time.Second
	serviceBackoff = 2 * time.Second
	ackWait        = 3 * time.Second
	replyWait      = 2 * time.Minute
)

const (
	sourceWakeWord = "wakeword"
	sourceManual   = "manual"
)

// Capabilities reported at most once until they recover.
const (
	capMicrophone = "microphone"
	capWake       = "wake"
)

var errSuspended = errors.New("suspended")

// wakeLoop waits for the wake word on its own stream and hands the
// microphone to the capturer on detection.
func (a *Assistant) wakeLoop(ctx context.Context, r *run) error {
	a.session.Post(session.LevelStatus, a.display.T("waiting", "keyword", wake.Keyword))

	for {
		if ctx.Err() != nil {
			return nil
		}

		if a.session.Suspended() {
			if !sleep(ctx, suspendPoll) {
				return nil
			}
			continue
		}

		source, err := a.awaitWake(ctx, r)
		switch {
		case ctx.Err() != nil:
			return nil
		case errors.Is(err, errSuspended):
			continue
		case err != nil:
			a.reportDevice(err)
			if !sleep(ctx, deviceBackoff) {
				return nil
			}
			continue
		}

		a.logger.Info("Wake", "source", source)
		a.metrics.WakeDetected(ctx, source)
		a.handoff(ctx, r)
	}
}

// awaitWake holds the wake stream until the keyword is heard or Trigger is
// called. The stream is closed on return.
func (a *Assistant) awaitWake(ctx context.Context, r *run) (string, error) {
	sp := r.comp.Spotter

	stream, err := r.comp.Source.Open(sp.SampleRate(), sp.FrameLength())
	if err != nil {
		return "", err
	}
	defer stream.Close()

	a.recovered(capMicrophone)

	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-a.trigger:
			return sourceManual, nil
		default:
		}

		if a.session.Suspended() {
			return "", errSuspended
		}

		frame, err := stream.Read()
		if err != nil {
			return "", err
		}

		hit, err := sp.Feed(frame)
		if err != nil {
			if a.reportOnce(capWake) {
				a.logger.Warn("Wake word engine failed on frame", "err", err)
				a.session.Post(session.LevelError, err.Error())
			}
			continue
		}
		if hit {
			return sourceWakeWord, nil
		}
	}
}

// handoff runs after the wake stream is closed: cut off speech, acknowledge,
// record the command on a fresh stream and transcribe it in the background.
func (a *Assistant) handoff(ctx context.Context, r *run) {
	c := r.comp

	a.cancelTurn()
	c.Queue.FlushAndStop()
	a.session.Listening()

	c.Speaker.Say(ctx, a.voice.T("ack"))
	c.Chime.Play(ctx)
	if !c.Queue.WaitIdle(ctx, ackWait) {
		// A slow acknowledgement must not play over the command.
		c.Queue.FlushAndStop()
	}

	if a.session.Suspended() || ctx.Err() != nil {
		return
	}

	a.session.Listening()
	a.session.Post(session.LevelStatus, a.display.T("listening"))

	pcm, err := c.Capturer.Record(ctx, c.Timeout, c.PhraseLimit)
	a.session.Idle()
	if err != nil {
		a.reportCapture(ctx, r, err, false)
		return
	}
	a.recovered(capMicrophone)

	a.startTurn(r, func(ctx context.Context) {
		a.transcribeAndRespond(ctx, r, pcm, false)
	})
}

// continuousLoop listens without a wake word. Each phrase is answered
// before the microphone is opened again so the assistant does not hear
// itself.
func (a *Assistant) continuousLoop(ctx context.Context, r *run) error {
	c := r.comp

	a.session.Post(session.LevelStatus, a.display.T("waiting_continuous"))

	for {
		if ctx.Err() != nil {
			return nil
		}

		if a.session.Suspended() {
			if !sleep(ctx, suspendPoll) {
				return nil
			}
			continue
		}

		a.session.Listening()
		pcm, err := c.Capturer.Record(ctx, c.Timeout, c.PhraseLimit)
		a.session.Idle()

		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if backoff := a.reportCapture(ctx, r, err, true); backoff > 0 && !sleep(ctx, backoff) {
				return nil
			}
			continue
		}
		a.recovered(capMicrophone)

		if a.session.Suspended() {
			continue
		}

		var failed bool
		done := make(chan struct{})
		started := a.startTurn(r, func(ctx context.Context) {
			defer close(done)
			failed = !a.transcribeAndRespond(ctx, r, pcm, true)
		})
		if !started {
			return nil
		}

		select {
		case <-done:
		case <-ctx.Done():
			return nil
		}

		c.Queue.WaitIdle(ctx, replyWait)

		if failed && !sleep(ctx, serviceBackoff) {
			return nil
		}
	}
}

// transcribeAndRespond reports false when the recognition service failed.
func (a *Assistant) transcribeAndRespond(ctx context.Context, r *run, pcm []int16, continuous bool) bool {
	text, err := r.comp.Capturer.Transcribe(ctx, pcm, r.comp.Mode)
	if err != nil {
		if ctx.Err() != nil {
			return true
		}
		a.reportCapture(ctx, r, err, continuous)
		return !errors.Is(err, stt.ErrService)
	}

	a.respond(ctx, r, text)
	return true
}

// respond routes text and speaks the reply.
func (a *Assistant) respond(ctx context.Context, r *run, text string) {
	a.logger.Info("Transcribed", "text", text)
	a.session.Post(session.LevelUser, text)

	reply, handled, err := r.comp.Router.Route(ctx, text)
	if ctx.Err() != nil {
		return
	}
	if err != nil {
		a.logger.Warn("Command failed", "text", text, "err", err)
	}
	if !handled || reply == "" {
		a.logger.Info("Command not handled", "text", text)
		return
	}

	a.session.Post(session.LevelAssistant, reply)
	r.comp.Speaker.Say(r.ctx, reply)
}

// reportCapture turns a capture or recognition error into one user-facing
// notification and returns how long the caller should back off. Timeouts
// and unrecognised speech are quiet in continuous mode.
func (a *Assistant) reportCapture(ctx context.Context, r *run, err error, continuous bool) time.Duration {
	switch {
	case ctx.Err() != nil, errors.Is(err, context.Canceled):
		return 0

	case errors.Is(err, capture.ErrNoSpeechTimeout):
		if continuous {
			a.logger.Debug("No speech")
			return 0
		}
		a.session.Post(session.LevelStatus, a.display.T("no_speech"))
		return 0

	case errors.Is(err, stt.ErrUnrecognized):
		if continuous {
			a.logger.Debug("Nothing recognised")
			return 0
		}
		a.sayError(r, "didnt_catch")
		return 0

	case errors.Is(err, stt.ErrService):
		a.logger.Warn("Recognition service failed", "err", err)
		a.sayError(r, "service_error")
		return serviceBackoff

	case errors.Is(err, audio.ErrDeviceUnavailable), errors.Is(err, audio.ErrDeviceBusy):
		a.reportDevice(err)
		return deviceBackoff

	default:
		a.logger.Error("Capture failed", "err", err)
		a.session.Post(session.LevelError, a.display.T("request_error"))
		return serviceBackoff
	}
}

func (a *Assistant) sayError(r *run, key string) {
	a.session.Post(session.LevelError, a.display.T(key))
	r.comp.Speaker.Say(r.ctx, a.voice.T(key))
}

// reportDevice tells the user about a microphone failure once; retries stay
// quiet until the device works again.
func (a *Assistant) reportDevice(err error) {
	if !a.reportOnce(capMicrophone) {
		a.logger.Debug("Microphone still unavailable", "err", err)
		return
	}
	a.logger.Error("Microphone unavailable", "err", err)
	a.session.Post(session.LevelError, a.display.T("device_unavailable"))
}

// reportOnce reports whether capability has not been reported since it last
// recovered, marking it reported.
func (a *Assistant) reportOnce(capability string) bool {
	a.reportMu.Lock()
	defer a.reportMu.Unlock()

	if a.reported[capability] {
		return false
	}
	a.reported[capability] = true
	return true
}

func (a *Assistant) recovered(capability string) {
	a.reportMu.Lock()
	delete(a.reported, capability)
	a.reportMu.Unlock()
}

func (a *Assistant) resetReports() {
	a.reportMu.Lock()
	clear(a.reported)
	a.reportMu.Unlock()
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
