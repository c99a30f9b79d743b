package synthesis

import (
	"context"
	"fmt"
	"time"

	"github.com/loqalabs/loqa-reader/internal/settings"
)

type mockSynth struct {
	delay time.Duration
}

// NewMockSynth returns a synthesizer that produces placeholder audio after
// delay without any network access.
func NewMockSynth(delay time.Duration) Synthesizer {
	return &mockSynth{delay: delay}
}

func (m *mockSynth) Synthesize(ctx context.Context, text string, snap settings.Snapshot) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(m.delay):
	}
	return []byte(fmt.Sprintf("mock-audio voice=%s model=%s text=%s", snap.Voice, snap.Model, text)), nil
}
