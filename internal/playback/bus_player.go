package playback

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/loqalabs/loqa-reader/internal/blobstore"
	"github.com/loqalabs/loqa-reader/internal/protocol"
	"github.com/nats-io/nats.go"
)

type busPlayer struct {
	conn      *nats.Conn
	blobs     *blobstore.Store
	surfaceID string
	log       *slog.Logger
}

// NewBusPlayer hands audio to a remote surface: the bytes go to the blob
// store and the surface is told over NATS which key to play. The surface
// reports play, pause, ended and error back on its audio events subject.
func NewBusPlayer(conn *nats.Conn, blobs *blobstore.Store, surfaceID string, log *slog.Logger) Player {
	return &busPlayer{
		conn:      conn,
		blobs:     blobs,
		surfaceID: surfaceID,
		log:       log.With(slog.String("component", "bus-player"), slog.String("surface_id", surfaceID)),
	}
}

func (p *busPlayer) Open(ctx context.Context, handleID string, audio []byte, onEvent func(Event)) (Stream, error) {
	if err := p.blobs.Put(ctx, handleID, audio); err != nil {
		return nil, err
	}

	s := &busStream{
		player:   p,
		handleID: handleID,
	}
	sub, err := p.conn.Subscribe(protocol.SurfaceAudioEventsSubject(p.surfaceID), func(msg *nats.Msg) {
		var ev protocol.AudioEvent
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			p.log.Warn("failed to decode audio event", slog.String("error", err.Error()))
			return
		}
		if ev.HandleID != handleID {
			return
		}
		kind, ok := ParseEventKind(ev.Event)
		if !ok {
			p.log.Warn("unknown audio event", slog.String("event", ev.Event))
			return
		}
		event := Event{Kind: kind}
		if kind == EventError {
			msg := ev.Error
			if msg == "" {
				msg = "remote playback error"
			}
			event.Err = errors.New(msg)
		}
		onEvent(event)
	})
	if err != nil {
		_ = p.blobs.Delete(context.Background(), handleID)
		return nil, fmt.Errorf("subscribe audio events: %w", err)
	}
	s.sub = sub
	return s, nil
}

type busStream struct {
	player   *busPlayer
	handleID string
	sub      *nats.Subscription

	mu     sync.Mutex
	closed bool
}

func (s *busStream) Play() error   { return s.send("play") }
func (s *busStream) Pause() error  { return s.send("pause") }
func (s *busStream) Resume() error { return s.send("resume") }

func (s *busStream) send(action string) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return errors.New("stream released")
	}
	return s.publish(action)
}

func (s *busStream) publish(action string) error {
	cmd := protocol.AudioCommand{
		HandleID: s.handleID,
		Action:   action,
		Bucket:   s.player.blobs.Bucket(),
		Key:      s.handleID,
	}
	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("marshal audio command: %w", err)
	}
	if err := s.player.conn.Publish(protocol.SurfaceAudioSubject(s.player.surfaceID), data); err != nil {
		return fmt.Errorf("publish audio command: %w", err)
	}
	return nil
}

func (s *busStream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	var errs []error
	if err := s.sub.Unsubscribe(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
		errs = append(errs, err)
	}
	if err := s.publish("release"); err != nil {
		errs = append(errs, err)
	}
	if err := s.player.blobs.Delete(context.Background(), s.handleID); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
