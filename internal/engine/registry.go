package engine

import (
	"context"
	"sort"
	"sync"

	"github.com/fankserver/discord-music-mcp/internal/feedback"
	"github.com/fankserver/discord-music-mcp/internal/queue"
	"github.com/fankserver/discord-music-mcp/internal/voice"
	"github.com/fankserver/discord-music-mcp/pkg/resolver"
	"github.com/fankserver/discord-music-mcp/pkg/track"
	"github.com/fankserver/discord-music-mcp/pkg/transport"
	"github.com/sirupsen/logrus"
)

// Registry maps guild IDs to their engines and is the entry point for every
// playback command
type Registry struct {
	mu      sync.RWMutex
	engines map[string]*Engine

	cfg       Config
	resolver  resolver.Resolver
	transport transport.Transport
	connector voice.Connector
	bus       *feedback.EventBus
	logger    *logrus.Entry
}

// NewRegistry creates an empty registry sharing the given collaborators
// across all guilds
func NewRegistry(cfg Config, res resolver.Resolver, tr transport.Transport, conn voice.Connector, bus *feedback.EventBus) *Registry {
	return &Registry{
		engines:   make(map[string]*Engine),
		cfg:       cfg,
		resolver:  res,
		transport: tr,
		connector: conn,
		bus:       bus,
		logger:    logrus.WithField("component", "registry"),
	}
}

// GetOrCreate returns the guild's engine, creating it on first use
func (r *Registry) GetOrCreate(guildID string) *Engine {
	r.mu.RLock()
	e, ok := r.engines[guildID]
	r.mu.RUnlock()
	if ok && !e.closing() {
		return e
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.engines[guildID]; ok && !e.closing() {
		return e
	}

	e = newEngine(guildID, r.cfg, r.resolver, r.transport, r.connector, r.bus, r.teardown)
	r.engines[guildID] = e
	r.logger.WithField("guild_id", guildID).Debug("Created guild engine")
	return e
}

// Lookup returns the guild's engine without creating one
func (r *Registry) Lookup(guildID string) (*Engine, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.engines[guildID]
	if !ok || e.closing() {
		return nil, false
	}
	return e, true
}

// Remove tears the guild's engine down. The next GetOrCreate starts fresh.
func (r *Registry) Remove(guildID string) {
	r.mu.Lock()
	e, ok := r.engines[guildID]
	delete(r.engines, guildID)
	r.mu.Unlock()

	if ok {
		e.Close()
		r.logger.WithField("guild_id", guildID).Info("Removed guild engine")
	}
}

// teardown runs when an engine loses its voice link
func (r *Registry) teardown(e *Engine) {
	r.mu.Lock()
	if r.engines[e.guildID] == e {
		delete(r.engines, e.guildID)
	}
	r.mu.Unlock()
	e.Close()
}

// Guilds lists the guilds that currently have an engine
func (r *Registry) Guilds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.engines))
	for id := range r.engines {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Close tears down every engine
func (r *Registry) Close() {
	r.mu.Lock()
	engines := r.engines
	r.engines = make(map[string]*Engine)
	r.mu.Unlock()

	var wg sync.WaitGroup
	for _, e := range engines {
		wg.Add(1)
		go func(e *Engine) {
			defer wg.Done()
			e.Close()
		}(e)
	}
	wg.Wait()
}

// Join connects the guild to a voice channel
func (r *Registry) Join(ctx context.Context, guildID, channelID string) error {
	return r.GetOrCreate(guildID).Join(ctx, channelID)
}

// AddTrack resolves query and appends it to the guild's queue, returning the
// track and its 1-based position
func (r *Registry) AddTrack(ctx context.Context, guildID, query string, requester track.Requester) (track.Track, int, error) {
	return r.GetOrCreate(guildID).AddTrack(ctx, query, requester)
}

// Play starts the guild's queue
func (r *Registry) Play(ctx context.Context, guildID string) error {
	e, ok := r.Lookup(guildID)
	if !ok {
		return ErrNotConnected
	}
	return e.Play(ctx)
}

// Pause pauses the guild's current track
func (r *Registry) Pause(guildID string) bool {
	e, ok := r.Lookup(guildID)
	return ok && e.Pause()
}

// Resume resumes the guild's paused track
func (r *Registry) Resume(guildID string) bool {
	e, ok := r.Lookup(guildID)
	return ok && e.Resume()
}

// Skip ends the guild's current track
func (r *Registry) Skip(guildID string) bool {
	e, ok := r.Lookup(guildID)
	return ok && e.Skip()
}

// Stop clears the guild's queue and ends playback
func (r *Registry) Stop(guildID string) bool {
	e, ok := r.Lookup(guildID)
	if !ok {
		return true
	}
	return e.Stop()
}

// SetVolume sets the guild's volume in percent and returns the applied value
func (r *Registry) SetVolume(guildID string, percent int) int {
	return r.GetOrCreate(guildID).SetVolume(percent)
}

// SetLoopMode sets the guild's loop mode
func (r *Registry) SetLoopMode(guildID string, mode LoopMode) {
	r.GetOrCreate(guildID).SetLoopMode(mode)
}

// Shuffle shuffles the guild's queue
func (r *Registry) Shuffle(guildID string) {
	if e, ok := r.Lookup(guildID); ok {
		e.Shuffle()
	}
}

// GetStatus reports the guild's playback state
func (r *Registry) GetStatus(guildID string) Status {
	e, ok := r.Lookup(guildID)
	if !ok {
		return Status{State: Idle, Volume: r.cfg.DefaultVolume}
	}
	return e.Status()
}

// GetQueue returns one page of the guild's queue
func (r *Registry) GetQueue(guildID string, page int) []track.Track {
	e, ok := r.Lookup(guildID)
	if !ok {
		return []track.Track{}
	}
	return e.Queue(page)
}

// QueuePageSize is the number of tracks per GetQueue page
func (r *Registry) QueuePageSize() int {
	return r.cfg.QueuePageSize
}

// RemoveTrack removes a queued track by 0-based index
func (r *Registry) RemoveTrack(guildID string, index int) (track.Track, error) {
	e, ok := r.Lookup(guildID)
	if !ok {
		return track.Track{}, queue.ErrIndexOutOfRange
	}
	return e.RemoveTrack(index)
}

// ClearQueue empties the guild's queue and returns how many tracks were removed
func (r *Registry) ClearQueue(guildID string) int {
	e, ok := r.Lookup(guildID)
	if !ok {
		return 0
	}
	return e.ClearQueue()
}

// Disconnect stops playback, leaves voice and forgets the guild
func (r *Registry) Disconnect(guildID string) {
	r.Remove(guildID)
}
