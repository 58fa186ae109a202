package feedback

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/fankserver/discord-music-mcp/pkg/track"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) handle(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) snapshot() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

func TestEventBusDeliversInOrder(t *testing.T) {
	bus := NewEventBus(64)
	defer bus.Stop()

	rec := &recorder{}
	bus.SubscribeAll(rec.handle)

	song := track.New("Song", "https://example.com/s", 60, "", "", track.Requester{})
	bus.PublishTrackAdded("g1", song, 1)
	bus.PublishTrackStarted("g1", song, "mock")
	bus.PublishGuildEvent(EventQueueFinished, "g1")

	require.Eventually(t, func() bool { return len(rec.snapshot()) == 3 }, time.Second, 5*time.Millisecond)

	events := rec.snapshot()
	assert.Equal(t, EventTrackAdded, events[0].Type)
	assert.Equal(t, EventTrackStarted, events[1].Type)
	assert.Equal(t, EventQueueFinished, events[2].Type)
	assert.Equal(t, "g1", events[0].GuildID)
	assert.False(t, events[0].Timestamp.IsZero())

	data, ok := events[0].Data.(TrackData)
	require.True(t, ok)
	assert.Equal(t, 1, data.Position)
	assert.Equal(t, song.ID, data.Track.ID)
}

func TestEventBusTypedSubscription(t *testing.T) {
	bus := NewEventBus(16)
	defer bus.Stop()

	rec := &recorder{}
	bus.Subscribe(EventStreamError, rec.handle)

	bus.PublishGuildEvent(EventQueueFinished, "g1")
	bus.PublishTrackFailed(EventStreamError, "g1", track.Track{Title: "x"}, errors.New("reset"))

	require.Eventually(t, func() bool { return len(rec.snapshot()) == 1 }, time.Second, 5*time.Millisecond)
	data := rec.snapshot()[0].Data.(TrackFailedData)
	assert.Equal(t, "reset", data.Reason)
}

func TestEventBusUnsubscribe(t *testing.T) {
	bus := NewEventBus(16)

	kept := &recorder{}
	removed := &recorder{}
	bus.Subscribe(EventVoiceConnected, kept.handle)
	unsubscribe := bus.Subscribe(EventVoiceConnected, removed.handle)
	unsubscribeAll := bus.SubscribeAll(removed.handle)

	unsubscribe()
	unsubscribeAll()

	bus.PublishVoice(EventVoiceConnected, "g1", "c1")
	bus.Stop()

	assert.Len(t, kept.snapshot(), 1)
	assert.Empty(t, removed.snapshot())
}

func TestEventBusRecoversFromPanics(t *testing.T) {
	bus := NewEventBus(16)

	rec := &recorder{}
	bus.Subscribe(EventTrackAdded, func(Event) { panic("boom") })
	bus.SubscribeAll(rec.handle)

	bus.PublishGuildEvent(EventTrackAdded, "g1")
	bus.PublishGuildEvent(EventPlaybackStopped, "g1")
	bus.Stop()

	assert.Len(t, rec.snapshot(), 2)
}

func TestEventBusDropsWhenFull(t *testing.T) {
	bus := NewEventBus(1)

	release := make(chan struct{})
	started := make(chan struct{}, 1)
	bus.SubscribeAll(func(Event) {
		select {
		case started <- struct{}{}:
		default:
		}
		<-release
	})

	bus.PublishGuildEvent(EventTrackAdded, "g1")
	<-started
	bus.PublishGuildEvent(EventTrackAdded, "g1")
	bus.PublishGuildEvent(EventTrackAdded, "g1")

	close(release)
	bus.Stop()

	metrics := bus.GetMetrics()
	assert.Equal(t, int64(3), metrics.EventsPublished[EventTrackAdded])
	assert.Equal(t, int64(1), metrics.EventsDropped)
	assert.Equal(t, int64(2), metrics.EventsDelivered)
}

func TestEventBusPublishAfterStop(t *testing.T) {
	bus := NewEventBus(4)
	bus.Stop()
	bus.Stop()

	bus.PublishGuildEvent(EventTrackAdded, "g1")
	assert.Equal(t, int64(1), bus.GetMetrics().EventsDropped)
}
