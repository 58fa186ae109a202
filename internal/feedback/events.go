package feedback

import (
	"sync"
	"time"

	"github.com/fankserver/discord-music-mcp/pkg/track"
	"github.com/sirupsen/logrus"
)

// EventType represents the type of event
type EventType string

const (
	// Queue and playback events
	EventTrackAdded      EventType = "track.added"
	EventTrackStarted    EventType = "track.started"
	EventTrackSkipped    EventType = "track.skipped"
	EventStreamError     EventType = "stream.error"
	EventQueueFinished   EventType = "queue.finished"
	EventPlaybackStopped EventType = "playback.stopped"

	// Voice events
	EventVoiceConnected    EventType = "voice.connected"
	EventVoiceDisconnected EventType = "voice.disconnected"
)

// Event represents something a guild's listeners should hear about
type Event struct {
	Type      EventType
	GuildID   string
	Timestamp time.Time
	Data      interface{}
}

// TrackData accompanies track.added and track.started
type TrackData struct {
	Track    track.Track
	Position int
	Strategy string
}

// TrackFailedData accompanies track.skipped and stream.error
type TrackFailedData struct {
	Track  track.Track
	Reason string
}

// VoiceData accompanies voice events
type VoiceData struct {
	ChannelID string
}

// EventHandler is a function that handles events
type EventHandler func(event Event)

type subscription struct {
	id      uint64
	handler EventHandler
}

// EventBus delivers events in publish order from a single goroutine.
// Handlers must not block for long.
type EventBus struct {
	mu          sync.RWMutex
	nextID      uint64
	handlers    map[EventType][]subscription
	allHandlers []subscription
	buffer      chan Event
	stopCh      chan struct{}
	stopOnce    sync.Once
	wg          sync.WaitGroup
	metrics     *EventMetrics
}

// EventMetrics tracks event statistics
type EventMetrics struct {
	EventsPublished map[EventType]int64
	EventsDelivered int64
	EventsDropped   int64
	mu              sync.Mutex
}

// NewEventBus creates a new event bus
func NewEventBus(bufferSize int) *EventBus {
	eb := &EventBus{
		handlers: make(map[EventType][]subscription),
		buffer:   make(chan Event, bufferSize),
		stopCh:   make(chan struct{}),
		metrics: &EventMetrics{
			EventsPublished: make(map[EventType]int64),
		},
	}

	eb.wg.Add(1)
	go eb.processEvents()

	return eb
}

// Subscribe registers a handler for one event type and returns its
// unsubscribe function
func (eb *EventBus) Subscribe(eventType EventType, handler EventHandler) func() {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.nextID++
	id := eb.nextID
	eb.handlers[eventType] = append(eb.handlers[eventType], subscription{id: id, handler: handler})

	return func() {
		eb.mu.Lock()
		defer eb.mu.Unlock()
		eb.handlers[eventType] = without(eb.handlers[eventType], id)
	}
}

// SubscribeAll registers a handler for all events
func (eb *EventBus) SubscribeAll(handler EventHandler) func() {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.nextID++
	id := eb.nextID
	eb.allHandlers = append(eb.allHandlers, subscription{id: id, handler: handler})

	return func() {
		eb.mu.Lock()
		defer eb.mu.Unlock()
		eb.allHandlers = without(eb.allHandlers, id)
	}
}

func without(subs []subscription, id uint64) []subscription {
	out := make([]subscription, 0, len(subs))
	for _, s := range subs {
		if s.id != id {
			out = append(out, s)
		}
	}
	return out
}

// Publish queues an event for delivery. It never blocks; when the buffer is
// full the event is dropped and counted.
func (eb *EventBus) Publish(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	eb.metrics.mu.Lock()
	eb.metrics.EventsPublished[event.Type]++
	eb.metrics.mu.Unlock()

	select {
	case <-eb.stopCh:
		eb.drop(event, "Event dropped, bus stopped")
		return
	default:
	}

	select {
	case eb.buffer <- event:
	default:
		eb.drop(event, "Event dropped, buffer full")
	}
}

func (eb *EventBus) drop(event Event, msg string) {
	eb.metrics.mu.Lock()
	eb.metrics.EventsDropped++
	eb.metrics.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"event_type": event.Type,
		"guild_id":   event.GuildID,
	}).Warn(msg)
}

func (eb *EventBus) processEvents() {
	defer eb.wg.Done()

	for {
		select {
		case event := <-eb.buffer:
			eb.deliverEvent(event)

		case <-eb.stopCh:
			// Drain what was already queued
			for {
				select {
				case event := <-eb.buffer:
					eb.deliverEvent(event)
				default:
					return
				}
			}
		}
	}
}

func (eb *EventBus) deliverEvent(event Event) {
	eb.mu.RLock()
	targets := make([]subscription, 0, len(eb.handlers[event.Type])+len(eb.allHandlers))
	targets = append(targets, eb.handlers[event.Type]...)
	targets = append(targets, eb.allHandlers...)
	eb.mu.RUnlock()

	for _, sub := range targets {
		eb.invoke(sub.handler, event)
	}
}

func (eb *EventBus) invoke(h EventHandler, event Event) {
	defer func() {
		if r := recover(); r != nil {
			logrus.WithFields(logrus.Fields{
				"event_type": event.Type,
				"guild_id":   event.GuildID,
				"panic":      r,
			}).Error("Event handler panic")
		}
	}()

	h(event)

	eb.metrics.mu.Lock()
	eb.metrics.EventsDelivered++
	eb.metrics.mu.Unlock()
}

// Stop delivers any queued events and shuts the bus down. Safe to call twice.
func (eb *EventBus) Stop() {
	eb.stopOnce.Do(func() {
		close(eb.stopCh)
		eb.wg.Wait()
	})
}

// GetMetrics returns event bus metrics
func (eb *EventBus) GetMetrics() EventMetrics {
	eb.metrics.mu.Lock()
	defer eb.metrics.mu.Unlock()

	metrics := EventMetrics{
		EventsPublished: make(map[EventType]int64),
		EventsDelivered: eb.metrics.EventsDelivered,
		EventsDropped:   eb.metrics.EventsDropped,
	}

	for k, v := range eb.metrics.EventsPublished {
		metrics.EventsPublished[k] = v
	}

	return metrics
}

// Helper functions for common event publishing

// PublishTrackAdded publishes a track added event
func (eb *EventBus) PublishTrackAdded(guildID string, t track.Track, position int) {
	eb.Publish(Event{
		Type:    EventTrackAdded,
		GuildID: guildID,
		Data:    TrackData{Track: t, Position: position},
	})
}

// PublishTrackStarted publishes a track started event
func (eb *EventBus) PublishTrackStarted(guildID string, t track.Track, strategy string) {
	eb.Publish(Event{
		Type:    EventTrackStarted,
		GuildID: guildID,
		Data:    TrackData{Track: t, Strategy: strategy},
	})
}

// PublishTrackFailed publishes track.skipped or stream.error
func (eb *EventBus) PublishTrackFailed(eventType EventType, guildID string, t track.Track, err error) {
	data := TrackFailedData{Track: t}
	if err != nil {
		data.Reason = err.Error()
	}
	eb.Publish(Event{
		Type:    eventType,
		GuildID: guildID,
		Data:    data,
	})
}

// PublishGuildEvent publishes an event that carries no track
func (eb *EventBus) PublishGuildEvent(eventType EventType, guildID string) {
	eb.Publish(Event{Type: eventType, GuildID: guildID})
}

// PublishVoice publishes a voice connected or disconnected event
func (eb *EventBus) PublishVoice(eventType EventType, guildID, channelID string) {
	eb.Publish(Event{
		Type:    eventType,
		GuildID: guildID,
		Data:    VoiceData{ChannelID: channelID},
	})
}
