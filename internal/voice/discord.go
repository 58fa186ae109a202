package voice

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/fankserver/discord-music-mcp/pkg/transport"
	"github.com/sirupsen/logrus"
	"layeh.com/gopus"
)

const (
	readyPollInterval  = 100 * time.Millisecond
	readyWaitInterval  = 10 * time.Millisecond
	attachReadyTimeout = 5 * time.Second
	maxOpusBytes       = transport.FrameSamples * 2
)

// DiscordConnector opens voice links through a discordgo session
type DiscordConnector struct {
	session *discordgo.Session

	mu    sync.Mutex
	links map[string]*discordLink
}

// NewDiscordConnector creates a connector bound to session
func NewDiscordConnector(session *discordgo.Session) *DiscordConnector {
	return &DiscordConnector{
		session: session,
		links:   make(map[string]*discordLink),
	}
}

type joinResult struct {
	vc  *discordgo.VoiceConnection
	err error
}

// Connect implements Connector. The returned link is Connecting or Ready;
// callers wait on StateChanges for readiness.
func (c *DiscordConnector) Connect(ctx context.Context, guildID, channelID string) (Link, error) {
	logger := logrus.WithFields(logrus.Fields{
		"component":  "voice",
		"guild_id":   guildID,
		"channel_id": channelID,
	})

	results := make(chan joinResult, 1)
	go func() {
		vc, err := c.session.ChannelVoiceJoin(guildID, channelID, false, true)
		results <- joinResult{vc: vc, err: err}
	}()

	var res joinResult
	select {
	case res = <-results:
	case <-ctx.Done():
		// The join may still complete, make sure it does not linger
		go func() {
			if late := <-results; late.vc != nil {
				_ = late.vc.Disconnect()
			}
		}()
		return nil, ctx.Err()
	}

	if res.err != nil {
		if res.vc != nil {
			_ = res.vc.Disconnect()
		}
		return nil, fmt.Errorf("join voice channel: %w", res.err)
	}

	link := &discordLink{
		guildID:   guildID,
		channelID: channelID,
		vc:        res.vc,
		feed:      newStateFeed(Connecting),
		closed:    make(chan struct{}),
		logger:    logger,
	}
	link.onClose = func() { c.forget(guildID, link) }

	c.mu.Lock()
	prev := c.links[guildID]
	c.links[guildID] = link
	c.mu.Unlock()
	if prev != nil {
		// discordgo keeps one connection per guild, the old link is already gone
		prev.markDisconnected()
	}

	go link.monitor()

	logger.Info("Voice connection opened")
	return link, nil
}

func (c *DiscordConnector) forget(guildID string, link *discordLink) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.links[guildID] == link {
		delete(c.links, guildID)
	}
}

// HandleVoiceStateUpdate tracks the bot's own voice state. Leaving the
// channel, being kicked or the channel vanishing all end the link.
func (c *DiscordConnector) HandleVoiceStateUpdate(botUserID string, vsu *discordgo.VoiceStateUpdate) {
	if vsu == nil || vsu.VoiceState == nil || vsu.UserID != botUserID {
		return
	}

	c.mu.Lock()
	link := c.links[vsu.GuildID]
	c.mu.Unlock()
	if link == nil {
		return
	}

	if vsu.ChannelID == "" {
		link.logger.Info("Bot left voice channel")
		link.markDisconnected()
		return
	}
	link.setChannel(vsu.ChannelID)
}

type discordLink struct {
	guildID string
	vc      *discordgo.VoiceConnection
	logger  *logrus.Entry
	onClose func()

	// readyWait overrides attachReadyTimeout when set
	readyWait time.Duration

	mu        sync.Mutex
	channelID string
	feed      *stateFeed

	closeOnce sync.Once
	closed    chan struct{}
}

func (l *discordLink) ChannelID() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.channelID
}

func (l *discordLink) setChannel(channelID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.channelID != channelID {
		l.logger.WithField("new_channel_id", channelID).Info("Bot moved to another voice channel")
		l.channelID = channelID
	}
}

func (l *discordLink) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.feed.current
}

func (l *discordLink) StateChanges() <-chan State {
	return l.feed.ch
}

func (l *discordLink) setState(s State) {
	l.mu.Lock()
	changed := l.feed.set(s)
	l.mu.Unlock()
	if changed {
		l.logger.WithField("state", s).Debug("Voice link state changed")
	}
}

func (l *discordLink) vcReady() bool {
	l.vc.RLock()
	defer l.vc.RUnlock()
	return l.vc.Ready
}

// monitor mirrors the connection's readiness into link state
func (l *discordLink) monitor() {
	ticker := time.NewTicker(readyPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-l.closed:
			return
		case <-ticker.C:
			if l.vcReady() {
				l.setState(Ready)
			} else if l.State() == Ready {
				// discordgo reconnects on its own, report the gap
				l.setState(Connecting)
			}
		}
	}
}

// awaitReady blocks until the link is Ready, giving a reconnecting
// connection up to readyWait to come back
func (l *discordLink) awaitReady(ctx context.Context) error {
	select {
	case <-l.closed:
		return ErrLinkClosed
	default:
	}
	if l.State() == Ready {
		return nil
	}

	wait := l.readyWait
	if wait <= 0 {
		wait = attachReadyTimeout
	}
	l.logger.WithField("state", l.State()).Debug("Waiting for voice link to become ready")

	timeout := time.NewTimer(wait)
	defer timeout.Stop()
	ticker := time.NewTicker(readyWaitInterval)
	defer ticker.Stop()

	for {
		select {
		case <-l.closed:
			return ErrLinkClosed
		case <-ctx.Done():
			return ctx.Err()
		case <-timeout.C:
			return ErrNotReady
		case <-ticker.C:
			switch l.State() {
			case Ready:
				return nil
			case Disconnected, Failed:
				return ErrNotReady
			}
		}
	}
}

func (l *discordLink) Attach(ctx context.Context, stream transport.StreamHandle) error {
	if err := l.awaitReady(ctx); err != nil {
		return err
	}

	encoder, err := gopus.NewEncoder(transport.SampleRate, transport.Channels, gopus.Audio)
	if err != nil {
		return fmt.Errorf("create opus encoder: %w", err)
	}

	if err := l.vc.Speaking(true); err != nil {
		l.logger.WithError(err).Debug("Failed to set speaking state")
	}
	defer func() {
		if err := l.vc.Speaking(false); err != nil {
			l.logger.WithError(err).Debug("Failed to clear speaking state")
		}
	}()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		frame, err := stream.ReadFrame()
		if err != nil {
			return err
		}

		packet, err := encoder.Encode(frame, transport.FrameSize, maxOpusBytes)
		if err != nil {
			return fmt.Errorf("encode opus frame: %w", err)
		}

		select {
		case l.vc.OpusSend <- packet:
		case <-ctx.Done():
			return ctx.Err()
		case <-l.closed:
			return ErrLinkClosed
		}
	}
}

// markDisconnected ends the link after Discord dropped it
func (l *discordLink) markDisconnected() {
	_ = l.shutdown(false)
}

func (l *discordLink) Close() error {
	return l.shutdown(true)
}

func (l *discordLink) shutdown(disconnect bool) error {
	var err error
	l.closeOnce.Do(func() {
		close(l.closed)
		if disconnect {
			if derr := l.vc.Disconnect(); derr != nil {
				err = fmt.Errorf("disconnect voice: %w", derr)
			}
		}
		l.setState(Disconnected)
		if l.onClose != nil {
			l.onClose()
		}
		l.logger.Info("Voice connection closed")
	})
	return err
}
