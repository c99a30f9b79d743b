package gateway

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/loqalabs/loqa-reader/internal/protocol"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
)

func TestAsyncAfterCloseDropsMessage(t *testing.T) {
	s := NewService(context.Background(), nil, nil, nil, time.Second, slog.New(slog.NewTextHandler(io.Discard, nil)))

	var ran atomic.Int32
	handler := s.async(func(*nats.Msg) { ran.Add(1) })
	s.Close()

	handler(&nats.Msg{Subject: protocol.SubjectReadCommand})
	assert.Equal(t, int32(0), ran.Load())
}

func TestAsyncRacingCloseIsTracked(t *testing.T) {
	s := NewService(context.Background(), nil, nil, nil, time.Second, slog.New(slog.NewTextHandler(io.Discard, nil)))

	var ran atomic.Int32
	handler := s.async(func(*nats.Msg) {
		time.Sleep(time.Millisecond)
		ran.Add(1)
	})

	var senders sync.WaitGroup
	for range 50 {
		senders.Add(1)
		go func() {
			defer senders.Done()
			handler(&nats.Msg{Subject: protocol.SubjectReadCommand})
		}()
	}
	s.Close()
	afterClose := ran.Load()

	senders.Wait()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, afterClose, ran.Load(), "no handler may run after Close returns")
}
