package gateway

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/loqalabs/loqa-reader/internal/controller"
	"github.com/loqalabs/loqa-reader/internal/protocol"
	"github.com/nats-io/nats.go"
)

// BusSurface renders a controller's state by publishing UI events on the
// surface's NATS subject.
type BusSurface struct {
	conn    *nats.Conn
	id      string
	subject string
	log     *slog.Logger
}

func NewBusSurface(conn *nats.Conn, surfaceID string, log *slog.Logger) *BusSurface {
	return &BusSurface{
		conn:    conn,
		id:      surfaceID,
		subject: protocol.SurfaceUISubject(surfaceID),
		log:     log.With(slog.String("component", "bus-surface"), slog.String("surface_id", surfaceID)),
	}
}

func (b *BusSurface) ShowProgress(p controller.Progress) {
	b.publish(progressEvent(p))
}

func (b *BusSurface) Hide() {
	b.publish(protocol.UIEvent{Type: protocol.UIHide})
}

func (b *BusSurface) SetPauseLabel(label string) {
	b.publish(protocol.UIEvent{Type: protocol.UIPauseLabel, Label: label})
}

func (b *BusSurface) SetNextEnabled(enabled bool) {
	b.publish(protocol.UIEvent{Type: protocol.UINextEnabled, Enabled: enabled})
}

func (b *BusSurface) Notice(message string) {
	b.publish(protocol.UIEvent{Type: protocol.UINotice, Message: message})
}

func (b *BusSurface) OpenSettings() {
	b.publish(protocol.UIEvent{Type: protocol.UIOpenSettings})
}

func (b *BusSurface) publish(ev protocol.UIEvent) {
	ev.Timestamp = time.Now().UTC()
	data, err := json.Marshal(ev)
	if err != nil {
		b.log.Warn("failed to marshal ui event", slogError(err))
		return
	}
	if err := b.conn.Publish(b.subject, data); err != nil {
		b.log.Warn("failed to publish ui event", slog.String("type", ev.Type), slogError(err))
	}
}

func progressEvent(p controller.Progress) protocol.UIEvent {
	return protocol.UIEvent{
		Type:      protocol.UIProgress,
		SessionID: p.SessionID,
		Index:     p.Index,
		Total:     p.Total,
		Text:      p.Text,
		Voice:     p.Voice,
		Model:     p.Model,
	}
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
