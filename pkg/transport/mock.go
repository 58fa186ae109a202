package transport

import (
	"context"
	"io"
	"sync"
	"time"
)

// MockTransport produces silent streams of a fixed length without any
// network or decoder. Used for development and tests.
type MockTransport struct {
	mu         sync.Mutex
	frames     int
	frameDelay time.Duration
	openDelay  time.Duration
	failures   map[string]error
	streamErrs map[string]error
	opened     []string
	active     int
}

// NewMockTransport creates a transport whose streams end after frames frames.
// A negative count yields streams that never end on their own.
func NewMockTransport(frames int) *MockTransport {
	return &MockTransport{
		frames:     frames,
		failures:   make(map[string]error),
		streamErrs: make(map[string]error),
	}
}

// SetFrameDelay paces ReadFrame like a real-time source
func (m *MockTransport) SetFrameDelay(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.frameDelay = d
}

// SetOpenDelay makes OpenStream take d (or until ctx is done)
func (m *MockTransport) SetOpenDelay(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.openDelay = d
}

// FailOpen makes OpenStream for url return err
func (m *MockTransport) FailOpen(url string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[url] = err
}

// FailStream makes streams for url return err after their frames are read
func (m *MockTransport) FailStream(url string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.streamErrs[url] = err
}

// Opened returns every URL a stream was successfully opened for, in order
func (m *MockTransport) Opened() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.opened...)
}

// Active returns how many opened streams have not been closed
func (m *MockTransport) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// OpenStream implements Transport
func (m *MockTransport) OpenStream(ctx context.Context, url string) (StreamHandle, error) {
	m.mu.Lock()
	delay := m.openDelay
	failure := m.failures[url]
	m.mu.Unlock()

	if delay > 0 {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if failure != nil {
		return nil, failure
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.opened = append(m.opened, url)
	m.active++

	return &mockStream{
		owner:     m,
		remaining: m.frames,
		delay:     m.frameDelay,
		endErr:    m.streamErrs[url],
		closed:    make(chan struct{}),
	}, nil
}

type mockStream struct {
	owner     *MockTransport
	remaining int
	delay     time.Duration
	endErr    error
	closeOnce sync.Once
	closed    chan struct{}
}

func (s *mockStream) ReadFrame() ([]int16, error) {
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-s.closed:
			return nil, io.ErrClosedPipe
		}
	}
	select {
	case <-s.closed:
		return nil, io.ErrClosedPipe
	default:
	}

	if s.remaining == 0 {
		if s.endErr != nil {
			return nil, s.endErr
		}
		return nil, io.EOF
	}
	if s.remaining > 0 {
		s.remaining--
	}

	frame := make([]int16, FrameSamples)
	for i := range frame {
		frame[i] = 1000
	}
	return frame, nil
}

func (s *mockStream) Strategy() string {
	return "mock"
}

func (s *mockStream) Close() error {
	s.closeOnce.Do(func() {
		close(s.closed)
		s.owner.mu.Lock()
		s.owner.active--
		s.owner.mu.Unlock()
	})
	return nil
}
