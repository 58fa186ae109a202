package engine

import (
	"context"
	"math"
	"sync"

	"github.com/fankserver/discord-music-mcp/pkg/transport"
)

// playbackStream applies a fixed gain to a source stream and holds frames
// back while paused. The gain is fixed at construction, so volume changes
// take effect on the next track.
type playbackStream struct {
	transport.StreamHandle
	ctx  context.Context
	gain float64

	mu     sync.Mutex
	paused bool
	resume chan struct{}
}

func newPlaybackStream(ctx context.Context, source transport.StreamHandle, gain float64) *playbackStream {
	return &playbackStream{
		StreamHandle: source,
		ctx:          ctx,
		gain:         gain,
	}
}

func (p *playbackStream) ReadFrame() ([]int16, error) {
	if err := p.waitWhilePaused(); err != nil {
		return nil, err
	}

	frame, err := p.StreamHandle.ReadFrame()
	if err != nil {
		return nil, err
	}
	applyGain(frame, p.gain)
	return frame, nil
}

func (p *playbackStream) waitWhilePaused() error {
	p.mu.Lock()
	gate := p.resume
	paused := p.paused
	p.mu.Unlock()

	if !paused {
		return nil
	}
	select {
	case <-gate:
		return nil
	case <-p.ctx.Done():
		return p.ctx.Err()
	}
}

func (p *playbackStream) Pause() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.paused {
		p.paused = true
		p.resume = make(chan struct{})
	}
}

func (p *playbackStream) Resume() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.paused {
		p.paused = false
		close(p.resume)
	}
}

// applyGain scales samples in place, saturating at the int16 range
func applyGain(frame []int16, gain float64) {
	if gain == 1 {
		return
	}
	for i, s := range frame {
		v := math.Round(float64(s) * gain)
		switch {
		case v > math.MaxInt16:
			v = math.MaxInt16
		case v < math.MinInt16:
			v = math.MinInt16
		}
		frame[i] = int16(v)
	}
}
