package notify

import (
	"context"
	"log/slog"
	"os/exec"
	"sync"
	"time"

	"hark/internal/i18n"
	"hark/internal/session"
)

const sendTimeout = 2 * time.Second

type runFunc func(ctx context.Context, name string, args ...string) error

func runCommand(ctx context.Context, name string, args ...string) error {
	return exec.CommandContext(ctx, name, args...).Run()
}

const pendingNotes = 16

type note struct {
	urgency string
	body    string
}

// Desktop is a session observer that raises notify-send notifications for
// listening, errors and assistant replies. Notifications are sent from their
// own goroutine so a slow notify-send never holds up other observers.
type Desktop struct {
	app    string
	tr     *i18n.Translator
	logger *slog.Logger
	run    runFunc

	notes chan note
	quit  chan struct{}
	start sync.Once
	stop  sync.Once
}

func NewDesktop(app string, tr *i18n.Translator, logger *slog.Logger) *Desktop {
	if logger == nil {
		logger = slog.Default()
	}
	return &Desktop{
		app:    app,
		tr:     tr,
		logger: logger,
		run:    runCommand,
		notes:  make(chan note, pendingNotes),
		quit:   make(chan struct{}),
	}
}

func (d *Desktop) StateChanged(s session.State) {
	switch s {
	case session.Listening:
		d.Notify("low", d.tr.T("listening"))
	case session.Suspended:
		d.Notify("low", d.tr.T("suspended"))
	}
}

func (d *Desktop) Message(m session.Message) {
	switch m.Level {
	case session.LevelError:
		d.Notify("critical", m.Text)
	case session.LevelAssistant:
		d.Notify("normal", m.Text)
	}
}

// Notify queues body with the given urgency (low, normal, critical). It
// never blocks; when too many notifications are pending it drops body.
func (d *Desktop) Notify(urgency, body string) {
	d.start.Do(func() { go d.loop() })

	select {
	case d.notes <- note{urgency: urgency, body: body}:
	default:
		d.logger.Debug("notification dropped", "body", body)
	}
}

// Close stops the sender. Pending notifications are dropped.
func (d *Desktop) Close() error {
	d.stop.Do(func() { close(d.quit) })
	return nil
}

func (d *Desktop) loop() {
	for {
		select {
		case <-d.quit:
			return
		case n := <-d.notes:
			d.send(n)
		}
	}
}

func (d *Desktop) send(n note) {
	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()

	err := d.run(ctx, "notify-send", "--app-name", d.app, "--urgency", n.urgency, d.app, n.body)
	if err != nil {
		d.logger.Debug("notify-send failed", "err", err)
	}
}
