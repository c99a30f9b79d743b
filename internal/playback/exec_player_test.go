//go:build unix

package playback_test

import (
	"context"
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/loqalabs/loqa-reader/internal/playback"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openExec(t *testing.T, command string, audio []byte) (playback.Stream, <-chan playback.Event) {
	t.Helper()

	player, err := playback.NewExecPlayer(command, "mp3", slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)

	events := make(chan playback.Event, 4)
	stream, err := player.Open(context.Background(), "handle", audio, func(ev playback.Event) { events <- ev })
	require.NoError(t, err)
	return stream, events
}

func nextEvent(t *testing.T, events <-chan playback.Event) playback.Event {
	t.Helper()
	select {
	case ev := <-events:
		return ev
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for playback event")
		return playback.Event{}
	}
}

func TestExecPlayerEndsAndRemovesFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	marker := dir + "/played"
	stream, events := openExec(t, `sh -c 'test -s "$0" && cp "$0" "$1"' {file} `+marker, []byte("audio"))
	require.NoError(t, stream.Play())

	ev := nextEvent(t, events)
	require.Equal(t, playback.EventEnded, ev.Kind)

	data, err := os.ReadFile(marker)
	require.NoError(t, err)
	assert.Equal(t, "audio", string(data))

	require.NoError(t, stream.Close())
}

func TestExecPlayerReportsFailure(t *testing.T) {
	t.Parallel()

	stream, events := openExec(t, `sh -c 'exit 3'`, []byte("audio"))
	require.NoError(t, stream.Play())

	ev := nextEvent(t, events)
	require.Equal(t, playback.EventError, ev.Kind)
	require.Error(t, ev.Err)
	require.NoError(t, stream.Close())
}

func TestExecPlayerCloseStopsPlayback(t *testing.T) {
	t.Parallel()

	stream, events := openExec(t, `sh -c 'exec sleep 30' {file}`, []byte("audio"))
	require.NoError(t, stream.Play())
	require.NoError(t, stream.Pause())
	require.NoError(t, stream.Resume())
	require.NoError(t, stream.Close())
	require.NoError(t, stream.Close())

	select {
	case ev := <-events:
		t.Fatalf("released stream reported %v", ev.Kind)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestExecPlayerRejectsEmptyCommand(t *testing.T) {
	t.Parallel()

	_, err := playback.NewExecPlayer("   ", "", slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.Error(t, err)
}
