package voice

import (
	"context"
	"errors"

	"github.com/fankserver/discord-music-mcp/pkg/transport"
)

// State is the lifecycle state of a voice link
type State int

const (
	Disconnected State = iota
	Connecting
	Ready
	Failed
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Ready:
		return "ready"
	case Failed:
		return "failed"
	default:
		return "disconnected"
	}
}

var (
	// ErrLinkClosed is returned by Attach once the link has been closed
	ErrLinkClosed = errors.New("voice link closed")
	// ErrNotReady is returned by Attach when the link cannot carry audio
	ErrNotReady = errors.New("voice link not ready")
)

// Link is a live voice connection to one channel of one guild.
//
// StateChanges reports every transition. The channel is closed after the
// link reaches Disconnected, which is terminal.
type Link interface {
	ChannelID() string
	State() State
	StateChanges() <-chan State
	// Attach pumps frames from stream until it ends (io.EOF), fails, ctx is
	// cancelled or the link closes. It does not close stream.
	Attach(ctx context.Context, stream transport.StreamHandle) error
	Close() error
}

// Connector opens voice links
type Connector interface {
	Connect(ctx context.Context, guildID, channelID string) (Link, error)
}

// stateFeed fans state transitions into a buffered channel, closing it on the
// terminal Disconnected state. Callers serialize access.
type stateFeed struct {
	current State
	ch      chan State
	done    bool
}

func newStateFeed(initial State) *stateFeed {
	return &stateFeed{current: initial, ch: make(chan State, 16)}
}

// set records s and reports whether it was a transition
func (f *stateFeed) set(s State) bool {
	if f.done || f.current == s {
		return false
	}
	f.current = s
	select {
	case f.ch <- s:
	default:
		// A reader that fell this far behind only needs the latest state
		select {
		case <-f.ch:
		default:
		}
		f.ch <- s
	}
	if s == Disconnected {
		f.done = true
		close(f.ch)
	}
	return true
}
