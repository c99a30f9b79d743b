package playback

import (
	"context"
	"sync"
	"time"
)

type mockPlayer struct {
	duration time.Duration
}

// NewMockPlayer returns a player whose streams "play" for duration and then
// report ended. Nothing is rendered.
func NewMockPlayer(duration time.Duration) Player {
	return &mockPlayer{duration: duration}
}

func (m *mockPlayer) Open(_ context.Context, _ string, _ []byte, onEvent func(Event)) (Stream, error) {
	return &mockStream{remaining: m.duration, onEvent: onEvent}, nil
}

type mockStream struct {
	mu        sync.Mutex
	remaining time.Duration
	started   time.Time
	timer     *time.Timer
	closed    bool
	onEvent   func(Event)
}

func (s *mockStream) Play() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.timer != nil {
		return nil
	}
	s.start()
	return nil
}

func (s *mockStream) Pause() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.timer == nil {
		return nil
	}
	if s.timer.Stop() {
		s.remaining -= time.Since(s.started)
		if s.remaining < 0 {
			s.remaining = 0
		}
	}
	s.timer = nil
	return nil
}

func (s *mockStream) Resume() error {
	return s.Play()
}

func (s *mockStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	return nil
}

func (s *mockStream) start() {
	s.started = time.Now()
	s.timer = time.AfterFunc(s.remaining, func() {
		s.mu.Lock()
		closed := s.closed
		s.mu.Unlock()
		if !closed {
			s.onEvent(Event{Kind: EventEnded})
		}
	})
}
