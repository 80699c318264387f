package assistant

import (
	"context"

	"hark/internal/observe"
	"hark/internal/session"
)

// metricsObserver counts state transitions.
type metricsObserver struct {
	metrics *observe.Metrics
}

func (m metricsObserver) StateChanged(s session.State) {
	m.metrics.StateChanged(context.Background(), s.String())
}

func (metricsObserver) Message(session.Message) {}
