package session

import "log/slog"

// LogObserver writes every change to a slog logger.
type LogObserver struct {
	Logger *slog.Logger
}

func (l LogObserver) StateChanged(s State) {
	l.Logger.Info("state", "state", s.String())
}

func (l LogObserver) Message(m Message) {
	switch m.Level {
	case LevelError:
		l.Logger.Warn(m.Text, "level", m.Level.String())
	case LevelUser, LevelAssistant:
		l.Logger.Info("chat", "from", m.Level.String(), "text", m.Text)
	default:
		l.Logger.Info(m.Text)
	}
}
