package metrics

import (
	"errors"

	"github.com/aalemi-dev/sqlpool/observability"
	"github.com/aalemi-dev/sqlpool/pool"
)

// ObserveOperation counts the operation and records its duration. It makes
// *Metrics an observability.Observer.
func (m *Metrics) ObserveOperation(op observability.OperationContext) {
	m.operations.WithLabelValues(op.Component, op.Operation, op.Resource, status(op.Error)).Inc()
	m.durations.WithLabelValues(op.Component, op.Operation).Observe(op.Duration.Seconds())
}

func status(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, pool.ErrPoolTimeout):
		return "timeout"
	case pool.IsDisconnectError(err):
		return "disconnect"
	default:
		return "error"
	}
}

var _ observability.Observer = (*Metrics)(nil)
