package resolver

import (
	"context"
	"errors"
	"strings"

	"github.com/fankserver/discord-music-mcp/pkg/track"
)

// ErrNotFound is returned when a query has no playable match
var ErrNotFound = errors.New("no track found for query")

// Resolver turns a free-text query or direct URL into track metadata.
// Implementations may be slow and must honour ctx cancellation.
type Resolver interface {
	Resolve(ctx context.Context, query string) (track.Track, error)
}

// IsURL reports whether the query looks like a direct link rather than search text
func IsURL(query string) bool {
	q := strings.TrimSpace(query)
	return strings.HasPrefix(q, "http://") || strings.HasPrefix(q, "https://")
}

// IsYouTubeURL reports whether the query points at YouTube
func IsYouTubeURL(query string) bool {
	return IsURL(query) && (strings.Contains(query, "youtube.com") || strings.Contains(query, "youtu.be"))
}
