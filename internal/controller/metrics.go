package controller

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics counts sessions and sentences across all surfaces. A nil
// *Metrics records nothing.
type Metrics struct {
	sessions  metric.Int64Counter
	sentences metric.Int64Counter
	active    metric.Int64UpDownCounter
}

func NewMetrics(meter metric.Meter) (*Metrics, error) {
	sessions, err := meter.Int64Counter("reader.sessions",
		metric.WithDescription("Read sessions by outcome"))
	if err != nil {
		return nil, err
	}
	sentences, err := meter.Int64Counter("reader.sentences.played",
		metric.WithDescription("Sentences that started playing"))
	if err != nil {
		return nil, err
	}
	active, err := meter.Int64UpDownCounter("reader.sessions.active",
		metric.WithDescription("Sessions currently playing"))
	if err != nil {
		return nil, err
	}
	return &Metrics{sessions: sessions, sentences: sentences, active: active}, nil
}

func (m *Metrics) sessionStarted(ctx context.Context) {
	if m == nil {
		return
	}
	m.active.Add(ctx, 1)
}

func (m *Metrics) sessionFinished(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	m.active.Add(ctx, -1)
	m.sessions.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func (m *Metrics) sentencePlayed(ctx context.Context) {
	if m == nil {
		return
	}
	m.sentences.Add(ctx, 1)
}
