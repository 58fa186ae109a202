package engine

import (
	"fmt"
	"strings"

	"github.com/fankserver/discord-music-mcp/pkg/track"
)

// State is the playback state of a guild
type State int

const (
	Idle State = iota
	Playing
	Paused
)

func (s State) String() string {
	switch s {
	case Playing:
		return "playing"
	case Paused:
		return "paused"
	default:
		return "idle"
	}
}

// MarshalText renders the state by name
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// LoopMode decides what happens to a track once it ends
type LoopMode int

const (
	// LoopOff discards finished tracks
	LoopOff LoopMode = iota
	// LoopSong puts the finished track back at the head of the queue
	LoopSong
	// LoopQueue puts the finished track at the tail of the queue
	LoopQueue
)

func (m LoopMode) String() string {
	switch m {
	case LoopSong:
		return "song"
	case LoopQueue:
		return "queue"
	default:
		return "off"
	}
}

// MarshalText renders the loop mode by name
func (m LoopMode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// ParseLoopMode accepts off, song or queue (case insensitive)
func ParseLoopMode(s string) (LoopMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "off", "none":
		return LoopOff, nil
	case "song", "track":
		return LoopSong, nil
	case "queue", "all":
		return LoopQueue, nil
	default:
		return LoopOff, fmt.Errorf("%w: %q", ErrInvalidLoopMode, s)
	}
}

// Status is a point-in-time view of a guild's playback
type Status struct {
	State       State        `json:"state"`
	Playing     bool         `json:"playing"`
	Current     *track.Track `json:"current,omitempty"`
	QueueLength int          `json:"queue_length"`
	Volume      float64      `json:"volume"`
	LoopMode    LoopMode     `json:"loop_mode"`
	ChannelID   string       `json:"channel_id,omitempty"`
}

// VolumePercent returns the volume on the 0-100 scale users see
func (s Status) VolumePercent() int {
	return int(s.Volume*100 + 0.5)
}
