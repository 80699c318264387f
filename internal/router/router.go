// Package router turns a transcribed command into a reply. Local handlers
// (devices, apps) are tried before the language model.
package router

import (
	"context"
	"log/slog"
	"strings"
	"unicode"

	"hark/internal/observe"
)

// Handler answers a command. handled is false when the command is not for
// this handler; the router then tries the next one.
type Handler interface {
	Name() string
	Handle(ctx context.Context, text string) (reply string, handled bool, err error)
}

type Router struct {
	handlers []Handler
	metrics  *observe.Metrics
	logger   *slog.Logger
}

func New(logger *slog.Logger, metrics *observe.Metrics, handlers ...Handler) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		handlers: handlers,
		metrics:  metrics,
		logger:   logger,
	}
}

// Route returns the reply of the first handler that accepts text. A
// handler error that comes with a reply is returned alongside it; one
// without a reply is logged and the next handler is tried.
func (r *Router) Route(ctx context.Context, text string) (string, bool, error) {
	if strings.TrimSpace(text) == "" {
		return "", false, nil
	}

	for _, h := range r.handlers {
		if ctx.Err() != nil {
			return "", false, ctx.Err()
		}

		reply, handled, err := h.Handle(ctx, text)
		if !handled {
			if err != nil {
				r.logger.Warn("handler failed", "handler", h.Name(), "err", err)
			}
			continue
		}

		r.metrics.Routed(ctx, h.Name())
		r.logger.Debug("routed", "handler", h.Name(), "text", text)
		return reply, true, err
	}

	return "", false, nil
}

// Normalize lowercases text, drops punctuation and collapses whitespace, so
// "Lamp on." matches the command "lamp on".
func Normalize(text string) string {
	text = strings.Map(func(r rune) rune {
		if unicode.IsPunct(r) {
			return ' '
		}
		return unicode.ToLower(r)
	}, text)
	return strings.Join(strings.Fields(text), " ")
}
