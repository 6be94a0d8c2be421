package store

import (
	"context"

	"github.com/MrWong99/dectalkbot/internal/observe"
)

// meteredPersister counts every Save in the store write metric.
type meteredPersister struct {
	Persister
	metrics *observe.Metrics
}

// Metered wraps p so that each Save is recorded in m, labelled with the
// document name and "ok" or "error".
func Metered(p Persister, m *observe.Metrics) Persister {
	if m == nil {
		m = observe.DefaultMetrics()
	}
	return &meteredPersister{Persister: p, metrics: m}
}

func (p *meteredPersister) Save(ctx context.Context, name string, body []byte) error {
	err := p.Persister.Save(ctx, name, body)
	status := "ok"
	if err != nil {
		status = "error"
	}
	p.metrics.RecordStoreWrite(ctx, name, status)
	return err
}
