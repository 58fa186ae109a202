package voice

import (
	"context"
	"sync"
	"time"

	"github.com/fankserver/discord-music-mcp/pkg/transport"
)

// MockConnector hands out in-memory links. Used for development and tests.
type MockConnector struct {
	mu         sync.Mutex
	failures   map[string]error
	neverReady bool
	readyDelay time.Duration
	links      []*MockLink
}

// NewMockConnector creates a connector whose links become Ready immediately
func NewMockConnector() *MockConnector {
	return &MockConnector{failures: make(map[string]error)}
}

// FailChannel makes Connect to channelID fail with err
func (c *MockConnector) FailChannel(channelID string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures[channelID] = err
}

// SetNeverReady leaves new links Connecting forever
func (c *MockConnector) SetNeverReady(v bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.neverReady = v
}

// SetReadyDelay delays the Connecting to Ready transition of new links
func (c *MockConnector) SetReadyDelay(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.readyDelay = d
}

// Links returns every link handed out so far
func (c *MockConnector) Links() []*MockLink {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*MockLink(nil), c.links...)
}

// Last returns the most recent link, or nil
func (c *MockConnector) Last() *MockLink {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.links) == 0 {
		return nil
	}
	return c.links[len(c.links)-1]
}

// Connect implements Connector
func (c *MockConnector) Connect(ctx context.Context, guildID, channelID string) (Link, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	failure := c.failures[channelID]
	neverReady := c.neverReady
	delay := c.readyDelay
	c.mu.Unlock()

	if failure != nil {
		return nil, failure
	}

	link := &MockLink{
		channelID: channelID,
		feed:      newStateFeed(Connecting),
		closed:    make(chan struct{}),
	}

	c.mu.Lock()
	c.links = append(c.links, link)
	c.mu.Unlock()

	switch {
	case neverReady:
	case delay > 0:
		go func() {
			select {
			case <-time.After(delay):
				link.setState(Ready)
			case <-link.closed:
			}
		}()
	default:
		link.setState(Ready)
	}

	return link, nil
}

// MockLink is an in-memory Link that consumes frames as fast as the stream
// yields them
type MockLink struct {
	channelID string

	mu       sync.Mutex
	feed     *stateFeed
	frames   int
	last     []int16
	attached int
	closes   int

	closeOnce sync.Once
	closed    chan struct{}
}

func (l *MockLink) ChannelID() string {
	return l.channelID
}

func (l *MockLink) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.feed.current
}

func (l *MockLink) StateChanges() <-chan State {
	return l.feed.ch
}

func (l *MockLink) setState(s State) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.feed.set(s)
}

func (l *MockLink) Attach(ctx context.Context, stream transport.StreamHandle) error {
	select {
	case <-l.closed:
		return ErrLinkClosed
	default:
	}
	if l.State() != Ready {
		return ErrNotReady
	}

	l.mu.Lock()
	l.attached++
	l.mu.Unlock()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		select {
		case <-l.closed:
			return ErrLinkClosed
		default:
		}

		frame, err := stream.ReadFrame()
		if err != nil {
			return err
		}

		l.mu.Lock()
		l.frames++
		l.last = frame
		l.mu.Unlock()
	}
}

// Frames returns how many frames have been sent over the link
func (l *MockLink) Frames() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.frames
}

// LastFrame returns the most recently sent frame
func (l *MockLink) LastFrame() []int16 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]int16(nil), l.last...)
}

// Attached returns how many streams have been attached
func (l *MockLink) Attached() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.attached
}

// Closed reports whether Close was called
func (l *MockLink) Closed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closes > 0
}

// Drop simulates the remote side ending the connection
func (l *MockLink) Drop() {
	l.closeOnce.Do(func() {
		close(l.closed)
		l.setState(Disconnected)
	})
}

func (l *MockLink) Close() error {
	l.mu.Lock()
	l.closes++
	l.mu.Unlock()
	l.Drop()
	return nil
}
