package playback

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// Handle owns one open Stream. After Release no further events are
// delivered and the stream's backing resource is freed.
type Handle struct {
	id       string
	stream   Stream
	released atomic.Bool
	once     sync.Once
	closeErr error
}

// OpenHandle opens audio on player. sink receives events until the handle is
// released.
func OpenHandle(ctx context.Context, player Player, audio []byte, sink func(*Handle, Event)) (*Handle, error) {
	h := &Handle{id: uuid.NewString()}
	stream, err := player.Open(ctx, h.id, audio, func(ev Event) {
		if h.released.Load() {
			return
		}
		sink(h, ev)
	})
	if err != nil {
		h.released.Store(true)
		return nil, err
	}
	h.stream = stream
	return h, nil
}

func (h *Handle) ID() string { return h.id }

func (h *Handle) Play() error   { return h.stream.Play() }
func (h *Handle) Pause() error  { return h.stream.Pause() }
func (h *Handle) Resume() error { return h.stream.Resume() }

// Released reports whether Release has been called.
func (h *Handle) Released() bool { return h.released.Load() }

// Release detaches the event sink, then stops the stream and frees its
// resource. Calling it more than once is safe.
func (h *Handle) Release() error {
	h.once.Do(func() {
		h.released.Store(true)
		if h.stream != nil {
			h.closeErr = h.stream.Close()
		}
	})
	return h.closeErr
}
