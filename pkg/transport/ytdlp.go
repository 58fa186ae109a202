package transport

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/lrstanley/go-ytdlp"
)

// YtdlpStrategy asks yt-dlp for a direct media URL and lets ffmpeg fetch it
// with reconnects enabled. Slower than the native strategies but covers
// sources they cannot parse.
type YtdlpStrategy struct {
	format string
	proxy  string
}

// NewYtdlpStrategy creates a yt-dlp strategy. An empty format selects the
// best available audio.
func NewYtdlpStrategy(format, proxy string) *YtdlpStrategy {
	if format == "" {
		format = "bestaudio[ext=webm]/bestaudio[ext=m4a]/bestaudio/best"
	}
	return &YtdlpStrategy{format: format, proxy: proxy}
}

// Name implements Strategy
func (s *YtdlpStrategy) Name() string {
	return "ytdlp"
}

// Open implements Strategy
func (s *YtdlpStrategy) Open(ctx context.Context, url string) (StreamHandle, error) {
	cmd := ytdlp.New().
		Quiet().
		NoWarnings().
		IgnoreConfig().
		NoPlaylist().
		Format(s.format).
		Print("urls")
	if s.proxy != "" {
		cmd.Proxy(s.proxy)
	}

	res, err := cmd.Run(ctx, url)
	if err != nil {
		stderr := ""
		if res != nil {
			stderr = strings.TrimSpace(res.Stderr)
		}
		return nil, fmt.Errorf("yt-dlp: %w (%s)", err, stderr)
	}

	mediaURL := firstLine(res.Stdout)
	if mediaURL == "" {
		return nil, errors.New("yt-dlp returned no media url")
	}

	return startDecoder(s.Name(), nil, mediaURL)
}

func firstLine(s string) string {
	for _, line := range strings.Split(s, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			return line
		}
	}
	return ""
}
