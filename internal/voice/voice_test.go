package voice

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/fankserver/discord-music-mcp/pkg/transport"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStateString(t *testing.T) {
	assert.Equal(t, "disconnected", Disconnected.String())
	assert.Equal(t, "connecting", Connecting.String())
	assert.Equal(t, "ready", Ready.String())
	assert.Equal(t, "failed", Failed.String())
}

func TestStateFeed(t *testing.T) {
	feed := newStateFeed(Connecting)

	assert.False(t, feed.set(Connecting), "same state is not a transition")
	assert.True(t, feed.set(Ready))
	assert.True(t, feed.set(Disconnected))
	assert.False(t, feed.set(Ready), "disconnected is terminal")

	var seen []State
	for s := range feed.ch {
		seen = append(seen, s)
	}
	assert.Equal(t, []State{Ready, Disconnected}, seen)
}

func TestStateFeedKeepsLatestWhenFull(t *testing.T) {
	feed := newStateFeed(Connecting)
	for i := 0; i < 40; i++ {
		if i%2 == 0 {
			feed.set(Ready)
		} else {
			feed.set(Connecting)
		}
	}
	feed.set(Disconnected)

	var last State
	for s := range feed.ch {
		last = s
	}
	assert.Equal(t, Disconnected, last)
}

func TestMockConnectorLifecycle(t *testing.T) {
	c := NewMockConnector()

	link, err := c.Connect(context.Background(), "g1", "c1")
	require.NoError(t, err)
	assert.Equal(t, Ready, link.State())
	assert.Equal(t, "c1", link.ChannelID())

	require.NoError(t, link.Close())
	assert.Equal(t, Disconnected, link.State())
	assert.True(t, c.Last().Closed())

	_, ok := <-link.StateChanges()
	assert.True(t, ok, "ready transition is still buffered")
	_, ok = <-link.StateChanges()
	assert.True(t, ok, "disconnected transition is delivered")
	_, ok = <-link.StateChanges()
	assert.False(t, ok, "channel closes after disconnected")
}

func TestMockConnectorFailures(t *testing.T) {
	c := NewMockConnector()
	c.FailChannel("locked", errors.New("missing permissions"))

	_, err := c.Connect(context.Background(), "g1", "locked")
	assert.Error(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = c.Connect(ctx, "g1", "c1")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMockLinkAttach(t *testing.T) {
	c := NewMockConnector()
	link, err := c.Connect(context.Background(), "g1", "c1")
	require.NoError(t, err)

	tr := transport.NewMockTransport(5)
	stream, err := tr.OpenStream(context.Background(), "https://example.com/a")
	require.NoError(t, err)
	defer stream.Close()

	err = link.Attach(context.Background(), stream)
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, 5, c.Last().Frames())
	assert.Len(t, c.Last().LastFrame(), transport.FrameSamples)
}

func TestMockLinkAttachNotReady(t *testing.T) {
	c := NewMockConnector()
	c.SetNeverReady(true)
	link, err := c.Connect(context.Background(), "g1", "c1")
	require.NoError(t, err)

	err = link.Attach(context.Background(), nil)
	assert.ErrorIs(t, err, ErrNotReady)

	c.Last().Drop()
	err = link.Attach(context.Background(), nil)
	assert.ErrorIs(t, err, ErrLinkClosed)
}

func TestMockLinkAttachCancelled(t *testing.T) {
	c := NewMockConnector()
	link, err := c.Connect(context.Background(), "g1", "c1")
	require.NoError(t, err)

	tr := transport.NewMockTransport(-1)
	tr.SetFrameDelay(time.Millisecond)
	stream, err := tr.OpenStream(context.Background(), "https://example.com/a")
	require.NoError(t, err)
	defer stream.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err = link.Attach(ctx, stream)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestMockConnectorReadyDelay(t *testing.T) {
	c := NewMockConnector()
	c.SetReadyDelay(10 * time.Millisecond)

	link, err := c.Connect(context.Background(), "g1", "c1")
	require.NoError(t, err)
	assert.Equal(t, Connecting, link.State())

	select {
	case s := <-link.StateChanges():
		assert.Equal(t, Ready, s)
	case <-time.After(time.Second):
		t.Fatal("link never became ready")
	}
}

func TestHandleVoiceStateUpdateIgnoresOthers(t *testing.T) {
	c := NewDiscordConnector(nil)

	// No link registered, nothing to do
	c.HandleVoiceStateUpdate("bot", &discordgo.VoiceStateUpdate{
		VoiceState: &discordgo.VoiceState{UserID: "bot", GuildID: "g1"},
	})
	c.HandleVoiceStateUpdate("bot", &discordgo.VoiceStateUpdate{
		VoiceState: &discordgo.VoiceState{UserID: "someone", GuildID: "g1"},
	})
	c.HandleVoiceStateUpdate("bot", nil)
	c.HandleVoiceStateUpdate("bot", &discordgo.VoiceStateUpdate{})
}

func TestHandleVoiceStateUpdateEndsLink(t *testing.T) {
	c := NewDiscordConnector(nil)
	link := &discordLink{
		guildID:   "g1",
		channelID: "c1",
		feed:      newStateFeed(Ready),
		closed:    make(chan struct{}),
		logger:    logrus.WithField("component", "voice"),
	}
	link.onClose = func() { c.forget("g1", link) }
	c.links["g1"] = link

	c.HandleVoiceStateUpdate("bot", &discordgo.VoiceStateUpdate{
		VoiceState: &discordgo.VoiceState{UserID: "bot", GuildID: "g1", ChannelID: "c2"},
	})
	assert.Equal(t, "c2", link.ChannelID())
	assert.Equal(t, Ready, link.State())

	c.HandleVoiceStateUpdate("bot", &discordgo.VoiceStateUpdate{
		VoiceState: &discordgo.VoiceState{UserID: "bot", GuildID: "g1", ChannelID: ""},
	})
	assert.Equal(t, Disconnected, link.State())
	assert.Empty(t, c.links)

	err := link.Attach(context.Background(), nil)
	assert.ErrorIs(t, err, ErrLinkClosed)
}

func reconnectingLink(wait time.Duration) *discordLink {
	return &discordLink{
		guildID:   "g1",
		channelID: "c1",
		feed:      newStateFeed(Connecting),
		closed:    make(chan struct{}),
		logger:    logrus.WithField("component", "voice"),
		readyWait: wait,
	}
}

func TestDiscordLinkWaitsOutReconnect(t *testing.T) {
	link := reconnectingLink(time.Second)
	go func() {
		time.Sleep(30 * time.Millisecond)
		link.setState(Ready)
	}()

	start := time.Now()
	require.NoError(t, link.awaitReady(context.Background()))
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
}

func TestDiscordLinkAttachGivesUpWhenNeverReady(t *testing.T) {
	link := reconnectingLink(40 * time.Millisecond)

	err := link.Attach(context.Background(), nil)
	assert.ErrorIs(t, err, ErrNotReady)
}

func TestDiscordLinkAttachStopsWaitingOnClose(t *testing.T) {
	link := reconnectingLink(time.Second)
	go func() {
		time.Sleep(20 * time.Millisecond)
		close(link.closed)
	}()

	err := link.Attach(context.Background(), nil)
	assert.ErrorIs(t, err, ErrLinkClosed)
}

func TestDiscordLinkAttachStopsWaitingOnCancel(t *testing.T) {
	link := reconnectingLink(time.Second)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := link.Attach(ctx, nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestDiscordLinkAttachFailsFastOnceDisconnected(t *testing.T) {
	link := reconnectingLink(time.Second)
	link.setState(Disconnected)

	start := time.Now()
	err := link.Attach(context.Background(), nil)
	assert.ErrorIs(t, err, ErrNotReady)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}
