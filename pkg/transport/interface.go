package transport

import (
	"context"
	"errors"
)

// Audio format produced by every StreamHandle (fixed by Discord)
const (
	SampleRate = 48000
	Channels   = 2
	FrameSize  = 960 // 20ms @ 48kHz

	// FrameSamples is the number of interleaved int16 samples in one frame
	FrameSamples = FrameSize * Channels
)

var (
	// ErrTransportTimeout is returned when stream acquisition exceeds its deadline
	ErrTransportTimeout = errors.New("stream acquisition timed out")

	// ErrNoStrategy is returned when a chain has nothing to try
	ErrNoStrategy = errors.New("no stream strategy configured")

	// ErrNoAudioFormat is returned when a source offers no audio format
	ErrNoAudioFormat = errors.New("no audio format available")
)

// StreamHandle is a sequential source of PCM frames for one track.
// ReadFrame returns io.EOF when the track ends naturally; any other error
// is a stream failure. The owner must Close the handle on every exit path.
type StreamHandle interface {
	// ReadFrame returns the next frame of FrameSamples interleaved samples
	ReadFrame() ([]int16, error)

	// Strategy names the acquisition strategy that produced the handle
	Strategy() string

	// Close releases the stream and any helper process. Safe to call twice.
	Close() error
}

// Transport opens audio streams for track URLs
type Transport interface {
	OpenStream(ctx context.Context, url string) (StreamHandle, error)
}

// Strategy is one way of acquiring a stream, tried in order by a Chain
type Strategy interface {
	Name() string
	Open(ctx context.Context, url string) (StreamHandle, error)
}
