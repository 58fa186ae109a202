package transport

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"

	"github.com/kkdai/youtube/v2"
)

// Quality selects which audio format a YouTube strategy prefers
type Quality int

const (
	// QualityHighest picks the highest bitrate audio format
	QualityHighest Quality = iota
	// QualityLowest picks the lowest bitrate audio format, used as a fallback
	QualityLowest
)

func (q Quality) String() string {
	if q == QualityLowest {
		return "lowest"
	}
	return "highest"
}

// YouTubeStrategy fetches fresh video info on every attempt, so expired
// signed links from an earlier lookup are never reused.
type YouTubeStrategy struct {
	client  *youtube.Client
	quality Quality
}

// NewYouTubeStrategy creates a strategy using httpClient for all requests
func NewYouTubeStrategy(httpClient *http.Client, quality Quality) *YouTubeStrategy {
	return &YouTubeStrategy{
		client:  &youtube.Client{HTTPClient: httpClient},
		quality: quality,
	}
}

// Name implements Strategy
func (s *YouTubeStrategy) Name() string {
	return "youtube-" + s.quality.String()
}

// Open implements Strategy
func (s *YouTubeStrategy) Open(ctx context.Context, url string) (StreamHandle, error) {
	videoID, err := youtube.ExtractVideoID(url)
	if err != nil {
		return nil, fmt.Errorf("extract video id: %w", err)
	}

	video, err := s.client.GetVideoContext(ctx, videoID)
	if err != nil {
		return nil, fmt.Errorf("fetch video info: %w", err)
	}

	format := PickAudioFormat(video.Formats.WithAudioChannels(), s.quality)
	if format == nil {
		return nil, ErrNoAudioFormat
	}

	// The body outlives acquisition, so it must not inherit the attempt deadline
	streamCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	body, _, err := s.client.GetStreamContext(streamCtx, video, format)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("open format stream: %w", err)
	}

	return startDecoder(s.Name(), &cancelOnClose{ReadCloser: body, cancel: cancel}, "")
}

// PickAudioFormat chooses a format by bitrate, preferring audio-only formats
func PickAudioFormat(formats youtube.FormatList, quality Quality) *youtube.Format {
	if len(formats) == 0 {
		return nil
	}

	candidates := make([]youtube.Format, 0, len(formats))
	for _, f := range formats {
		if strings.HasPrefix(f.MimeType, "audio/") {
			candidates = append(candidates, f)
		}
	}
	if len(candidates) == 0 {
		candidates = append(candidates, formats...)
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if quality == QualityLowest {
			return candidates[i].Bitrate < candidates[j].Bitrate
		}
		return candidates[i].Bitrate > candidates[j].Bitrate
	})

	picked := candidates[0]
	return &picked
}

type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}
