package playback_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/loqalabs/loqa-reader/internal/blobstore"
	"github.com/loqalabs/loqa-reader/internal/playback"
	"github.com/loqalabs/loqa-reader/internal/protocol"
	natstest "github.com/nats-io/nats-server/v2/test"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// remoteSurface plays audio commands the way a connected client would.
type remoteSurface struct {
	t        *testing.T
	conn     *nats.Conn
	blobs    *blobstore.Store
	commands chan protocol.AudioCommand
	audio    chan []byte
}

func newRemoteSurface(t *testing.T, url string, blobs *blobstore.Store, surfaceID string) *remoteSurface {
	t.Helper()
	nc, err := nats.Connect(url)
	require.NoError(t, err)
	t.Cleanup(nc.Close)

	r := &remoteSurface{
		t:        t,
		conn:     nc,
		blobs:    blobs,
		commands: make(chan protocol.AudioCommand, 16),
		audio:    make(chan []byte, 4),
	}
	_, err = nc.Subscribe(protocol.SurfaceAudioSubject(surfaceID), func(msg *nats.Msg) {
		var cmd protocol.AudioCommand
		if json.Unmarshal(msg.Data, &cmd) != nil {
			return
		}
		if cmd.Action == "play" {
			if data, err := blobs.Get(context.Background(), cmd.Key); err == nil {
				r.audio <- data
			}
		}
		r.commands <- cmd
	})
	require.NoError(t, err)
	require.NoError(t, nc.Flush())
	return r
}

func (r *remoteSurface) report(surfaceID string, ev protocol.AudioEvent) {
	data, err := json.Marshal(ev)
	require.NoError(r.t, err)
	require.NoError(r.t, r.conn.Publish(protocol.SurfaceAudioEventsSubject(surfaceID), data))
}

func (r *remoteSurface) nextCommand() protocol.AudioCommand {
	select {
	case cmd := <-r.commands:
		return cmd
	case <-time.After(2 * time.Second):
		r.t.Fatal("timed out waiting for audio command")
		return protocol.AudioCommand{}
	}
}

func TestBusPlayerRoundTrip(t *testing.T) {
	opts := natstest.DefaultTestOptions
	opts.Port = -1
	opts.JetStream = true
	opts.StoreDir = t.TempDir()
	srv := natstest.RunServer(&opts)
	t.Cleanup(srv.Shutdown)

	nc, err := nats.Connect(srv.ClientURL())
	require.NoError(t, err)
	t.Cleanup(nc.Close)
	js, err := nc.JetStream()
	require.NoError(t, err)
	blobs, err := blobstore.Open(js, "AUDIO_BUS_TEST", time.Minute)
	require.NoError(t, err)

	remote := newRemoteSurface(t, srv.ClientURL(), blobs, "tab-7")
	player := playback.NewBusPlayer(nc, blobs, "tab-7", slog.New(slog.NewTextHandler(io.Discard, nil)))

	events := make(chan playback.Event, 4)
	stream, err := player.Open(context.Background(), "handle-1", []byte("mp3 bytes"), func(ev playback.Event) {
		events <- ev
	})
	require.NoError(t, err)
	require.NoError(t, nc.Flush())

	require.NoError(t, stream.Play())
	cmd := remote.nextCommand()
	assert.Equal(t, "play", cmd.Action)
	assert.Equal(t, "handle-1", cmd.HandleID)
	assert.Equal(t, "AUDIO_BUS_TEST", cmd.Bucket)
	assert.Equal(t, []byte("mp3 bytes"), <-remote.audio)

	remote.report("tab-7", protocol.AudioEvent{HandleID: "someone-else", Event: "ended"})
	remote.report("tab-7", protocol.AudioEvent{HandleID: "handle-1", Event: "error", Error: "decode failed"})

	select {
	case ev := <-events:
		require.Equal(t, playback.EventError, ev.Kind)
		assert.EqualError(t, ev.Err, "decode failed")
	case <-time.After(2 * time.Second):
		t.Fatal("expected error event")
	}

	require.NoError(t, stream.Close())
	assert.Equal(t, "release", remote.nextCommand().Action)
	_, err = blobs.Get(context.Background(), "handle-1")
	assert.ErrorIs(t, err, blobstore.ErrNotFound)

	assert.Error(t, stream.Play())
	assert.NoError(t, stream.Close())
}
