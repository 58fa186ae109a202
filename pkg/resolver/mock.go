package resolver

import (
	"context"
	"net/url"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/fankserver/discord-music-mcp/pkg/track"
)

// MockResolver resolves registered queries and synthesizes tracks for URLs.
// Used for development without network access and in tests.
type MockResolver struct {
	mu     sync.Mutex
	tracks map[string]track.Track
	delay  time.Duration
	calls  int
}

// NewMockResolver creates an empty mock resolver
func NewMockResolver() *MockResolver {
	return &MockResolver{tracks: make(map[string]track.Track)}
}

// Add registers the track returned for query
func (m *MockResolver) Add(query string, t track.Track) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tracks[query] = t
}

// SetDelay makes every resolution take d (or until ctx is done)
func (m *MockResolver) SetDelay(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = d
}

// Calls returns how many times Resolve was invoked
func (m *MockResolver) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Resolve implements Resolver
func (m *MockResolver) Resolve(ctx context.Context, query string) (track.Track, error) {
	m.mu.Lock()
	m.calls++
	delay := m.delay
	t, ok := m.tracks[query]
	m.mu.Unlock()

	if delay > 0 {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return track.Track{}, ctx.Err()
		}
	}

	if ok {
		// Fresh ID per resolution, duplicates are distinct queue entries
		return track.New(t.Title, t.URL, t.Duration, t.Thumbnail, t.Channel, track.Requester{}), nil
	}

	if IsURL(query) {
		u, err := url.Parse(query)
		if err != nil {
			return track.Track{}, ErrNotFound
		}
		title := strings.TrimSuffix(path.Base(u.Path), path.Ext(u.Path))
		if title == "" || title == "/" || title == "." {
			title = u.Host
		}
		return track.New(title, query, 180, "", u.Host, track.Requester{}), nil
	}

	return track.Track{}, ErrNotFound
}
