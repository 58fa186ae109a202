package track

import (
	"fmt"

	"github.com/google/uuid"
)

// Requester identifies the user that asked for a track
type Requester struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
}

// Track is a resolved, playable unit of audio with display metadata.
// Tracks are values; once created they are never mutated.
type Track struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	URL       string    `json:"url"`
	Duration  int       `json:"duration"` // seconds
	Thumbnail string    `json:"thumbnail,omitempty"`
	Channel   string    `json:"channel"`
	Requester Requester `json:"requester"`
}

// New creates a track with a fresh identifier
func New(title, url string, durationSec int, thumbnail, channel string, requester Requester) Track {
	if durationSec < 0 {
		durationSec = 0
	}
	return Track{
		ID:        uuid.New().String(),
		Title:     title,
		URL:       url,
		Duration:  durationSec,
		Thumbnail: thumbnail,
		Channel:   channel,
		Requester: requester,
	}
}

// WithRequester returns a copy of the track attributed to requester
func (t Track) WithRequester(requester Requester) Track {
	t.Requester = requester
	return t
}

// DisplayDuration renders the track duration for users
func (t Track) DisplayDuration() string {
	return FormatDuration(t.Duration)
}

// FormatDuration formats seconds as H:MM:SS, or M:SS below one hour
func FormatDuration(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	hours := seconds / 3600
	minutes := (seconds % 3600) / 60
	secs := seconds % 60

	if hours > 0 {
		return fmt.Sprintf("%d:%02d:%02d", hours, minutes, secs)
	}
	return fmt.Sprintf("%d:%02d", minutes, secs)
}
