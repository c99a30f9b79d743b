package playback_test

import (
	"context"
	"testing"
	"time"

	"github.com/loqalabs/loqa-reader/internal/playback"
	"github.com/stretchr/testify/require"
)

func TestMockPlayerEnds(t *testing.T) {
	t.Parallel()

	events := make(chan playback.Event, 1)
	stream, err := playback.NewMockPlayer(10*time.Millisecond).Open(context.Background(), "h", []byte("x"), func(ev playback.Event) {
		events <- ev
	})
	require.NoError(t, err)
	require.NoError(t, stream.Play())

	select {
	case ev := <-events:
		require.Equal(t, playback.EventEnded, ev.Kind)
	case <-time.After(time.Second):
		t.Fatal("expected ended event")
	}
	require.NoError(t, stream.Close())
}

func TestMockPlayerPauseAndClose(t *testing.T) {
	t.Parallel()

	events := make(chan playback.Event, 1)
	stream, err := playback.NewMockPlayer(30*time.Millisecond).Open(context.Background(), "h", nil, func(ev playback.Event) {
		events <- ev
	})
	require.NoError(t, err)
	require.NoError(t, stream.Play())
	require.NoError(t, stream.Pause())

	select {
	case <-events:
		t.Fatal("paused stream must not end")
	case <-time.After(80 * time.Millisecond):
	}

	require.NoError(t, stream.Resume())
	require.NoError(t, stream.Close())
	select {
	case <-events:
		t.Fatal("closed stream must not report")
	case <-time.After(80 * time.Millisecond):
	}
}
