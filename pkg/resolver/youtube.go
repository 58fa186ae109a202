package resolver

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/fankserver/discord-music-mcp/pkg/track"
	"github.com/kkdai/youtube/v2"
	"github.com/ppalone/ytsearch"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

const (
	unknownTitle   = "Unknown title"
	unknownChannel = "Unknown channel"
)

// YouTubeConfig configures the YouTube resolver
type YouTubeConfig struct {
	// SearchRate is the sustained number of search requests per second
	SearchRate float64

	// SearchBurst is the number of searches allowed back to back
	SearchBurst int

	// Proxy is an optional http(s) proxy URL used for all requests
	Proxy string

	// HTTPTimeout bounds a single HTTP request
	HTTPTimeout time.Duration
}

// DefaultYouTubeConfig returns default configuration
func DefaultYouTubeConfig() YouTubeConfig {
	return YouTubeConfig{
		SearchRate:  2,
		SearchBurst: 4,
		HTTPTimeout: 15 * time.Second,
	}
}

// YouTubeResolver resolves YouTube links directly and everything else via search
type YouTubeResolver struct {
	client  *youtube.Client
	search  *ytsearch.Client
	limiter *rate.Limiter
	logger  *logrus.Entry
}

// NewYouTubeResolver creates a resolver backed by YouTube
func NewYouTubeResolver(config YouTubeConfig) *YouTubeResolver {
	httpClient := NewHTTPClient(config.Proxy, config.HTTPTimeout)

	burst := config.SearchBurst
	if burst < 1 {
		burst = 1
	}
	limit := rate.Inf
	if config.SearchRate > 0 {
		limit = rate.Limit(config.SearchRate)
	}

	return &YouTubeResolver{
		client:  &youtube.Client{HTTPClient: httpClient},
		search:  ytsearch.NewClient(httpClient),
		limiter: rate.NewLimiter(limit, burst),
		logger:  logrus.WithField("component", "resolver"),
	}
}

// Resolve implements Resolver
func (r *YouTubeResolver) Resolve(ctx context.Context, query string) (track.Track, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return track.Track{}, ErrNotFound
	}

	if IsYouTubeURL(query) {
		return r.resolveURL(ctx, query)
	}
	return r.resolveSearch(ctx, query)
}

func (r *YouTubeResolver) resolveURL(ctx context.Context, link string) (track.Track, error) {
	videoID, err := youtube.ExtractVideoID(link)
	if err != nil {
		return track.Track{}, fmt.Errorf("%w: %v", ErrNotFound, err)
	}

	video, err := r.client.GetVideoContext(ctx, videoID)
	if err != nil {
		if ctx.Err() != nil {
			return track.Track{}, ctx.Err()
		}
		r.logger.WithError(err).WithField("video_id", videoID).Debug("Video lookup failed")
		return track.Track{}, fmt.Errorf("%w: %v", ErrNotFound, err)
	}

	thumbnail := ThumbnailURL(videoID)
	if len(video.Thumbnails) > 0 {
		thumbnail = video.Thumbnails[0].URL
	}

	return track.New(
		orDefault(video.Title, unknownTitle),
		link,
		int(video.Duration.Seconds()),
		thumbnail,
		orDefault(video.Author, unknownChannel),
		track.Requester{},
	), nil
}

func (r *YouTubeResolver) resolveSearch(ctx context.Context, query string) (track.Track, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return track.Track{}, err
	}

	res, err := r.search.Search(ctx, query)
	if err != nil {
		if ctx.Err() != nil {
			return track.Track{}, ctx.Err()
		}
		return track.Track{}, fmt.Errorf("search failed: %w", err)
	}

	for _, v := range res.Results {
		if v.VideoID == "" {
			continue
		}
		r.logger.WithFields(logrus.Fields{
			"query":    query,
			"video_id": v.VideoID,
		}).Debug("Search matched video")

		return track.New(
			orDefault(v.Title, unknownTitle),
			WatchURL(v.VideoID),
			ParseClockDuration(v.Duration),
			ThumbnailURL(v.VideoID),
			orDefault(v.Channel, unknownChannel),
			track.Requester{},
		), nil
	}

	return track.Track{}, ErrNotFound
}

// WatchURL builds the canonical watch link for a video id
func WatchURL(videoID string) string {
	return "https://www.youtube.com/watch?v=" + videoID
}

// ThumbnailURL builds the default thumbnail link for a video id
func ThumbnailURL(videoID string) string {
	if videoID == "" {
		return ""
	}
	return fmt.Sprintf("https://i.ytimg.com/vi/%s/hqdefault.jpg", videoID)
}

// ParseClockDuration parses "M:SS" or "H:MM:SS" into seconds, returning 0 when malformed
func ParseClockDuration(s string) int {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0
	}
	total := 0
	for _, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return 0
		}
		total = total*60 + n
	}
	return total
}

// NewHTTPClient returns a client that routes through proxy when it is a valid
// http(s) URL. A zero timeout means no limit.
func NewHTTPClient(proxy string, timeout time.Duration) *http.Client {
	client := &http.Client{Timeout: timeout}
	if proxy == "" {
		return client
	}

	proxyURL, err := url.Parse(proxy)
	if err != nil || (proxyURL.Scheme != "http" && proxyURL.Scheme != "https") {
		logrus.WithField("proxy", proxy).Warn("Ignoring unsupported proxy, using direct connection")
		return client
	}
	client.Transport = &http.Transport{Proxy: http.ProxyURL(proxyURL)}
	return client
}

func orDefault(s, fallback string) string {
	if strings.TrimSpace(s) == "" {
		return fallback
	}
	return s
}
