package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/fankserver/discord-music-mcp/internal/feedback"
	"github.com/fankserver/discord-music-mcp/internal/queue"
	"github.com/fankserver/discord-music-mcp/internal/voice"
	"github.com/fankserver/discord-music-mcp/pkg/resolver"
	"github.com/fankserver/discord-music-mcp/pkg/track"
	"github.com/fankserver/discord-music-mcp/pkg/transport"
	"github.com/sirupsen/logrus"
)

// Config holds the per-guild playback settings
type Config struct {
	ResolveTimeout time.Duration
	ConnectTimeout time.Duration
	StreamTimeout  time.Duration
	// DefaultVolume is the starting volume in [0,1]
	DefaultVolume float64
	QueuePageSize int
}

// DefaultConfig returns the stock timeouts and volume
func DefaultConfig() Config {
	return Config{
		ResolveTimeout: 10 * time.Second,
		ConnectTimeout: 10 * time.Second,
		StreamTimeout:  8 * time.Second,
		DefaultVolume:  0.5,
		QueuePageSize:  10,
	}
}

// Engine owns one guild's queue, playback and voice link.
//
// All mutable state below the loop-owned marker is read and written only
// by the run goroutine. Public methods hand closures to it through cmds and
// wait for them to finish. Background work (stream acquisition, audio
// pumping, link monitoring) reports back the same way, tagged with the
// generation it was started under so that stale results are dropped.
type Engine struct {
	guildID    string
	cfg        Config
	resolver   resolver.Resolver
	transport  transport.Transport
	connector  voice.Connector
	bus        *feedback.EventBus
	logger     *logrus.Entry
	onTeardown func(*Engine)

	cmds      chan func()
	quit      chan struct{}
	done      chan struct{}
	closeOnce sync.Once

	joinMu sync.Mutex

	opMu     sync.Mutex
	opCtx    context.Context
	opCancel context.CancelFunc

	// loop-owned
	queue         *queue.Queue
	state         State
	current       *track.Track
	volume        float64
	loop          LoopMode
	link          voice.Link
	gen           uint64
	epoch         uint64
	busy          bool
	acquireCancel context.CancelFunc
	playCancel    context.CancelFunc
	stream        *playbackStream
	waiters       []chan error
}

func newEngine(guildID string, cfg Config, res resolver.Resolver, tr transport.Transport, conn voice.Connector, bus *feedback.EventBus, onTeardown func(*Engine)) *Engine {
	e := &Engine{
		guildID:    guildID,
		cfg:        cfg,
		resolver:   res,
		transport:  tr,
		connector:  conn,
		bus:        bus,
		onTeardown: onTeardown,
		logger: logrus.WithFields(logrus.Fields{
			"component": "engine",
			"guild_id":  guildID,
		}),
		cmds:   make(chan func()),
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
		queue:  queue.New(),
		volume: cfg.DefaultVolume,
	}
	e.opCtx, e.opCancel = context.WithCancel(context.Background())

	go e.run()
	return e
}

// GuildID returns the guild this engine serves
func (e *Engine) GuildID() string {
	return e.guildID
}

func (e *Engine) run() {
	defer close(e.done)
	for {
		select {
		case fn := <-e.cmds:
			fn()
		case <-e.quit:
			e.shutdown()
			return
		}
	}
}

// do runs fn on the loop and waits for it. Must not be called from the loop.
func (e *Engine) do(fn func()) error {
	finished := make(chan struct{})
	select {
	case e.cmds <- func() { fn(); close(finished) }:
	case <-e.done:
		return ErrEngineClosed
	}
	<-finished
	return nil
}

// post hands fn to the loop without waiting for it to run. It reports
// false once the loop has exited, in which case fn never runs.
func (e *Engine) post(fn func()) bool {
	select {
	case e.cmds <- fn:
		return true
	case <-e.done:
		return false
	}
}

func (e *Engine) closing() bool {
	select {
	case <-e.quit:
		return true
	default:
		return false
	}
}

// Close stops playback, drops the voice link and ends the loop
func (e *Engine) Close() {
	e.closeOnce.Do(func() {
		e.cancelOps()
		close(e.quit)
	})
	<-e.done
}

func (e *Engine) operationContext() context.Context {
	e.opMu.Lock()
	defer e.opMu.Unlock()
	return e.opCtx
}

// cancelOps aborts in-flight resolutions and arms a fresh context for new ones
func (e *Engine) cancelOps() {
	e.opMu.Lock()
	defer e.opMu.Unlock()
	e.opCancel()
	e.opCtx, e.opCancel = context.WithCancel(context.Background())
}

// Join connects to channelID, replacing any link to another channel.
// Joining the channel the engine is already ready in is a no-op.
func (e *Engine) Join(ctx context.Context, channelID string) error {
	e.joinMu.Lock()
	defer e.joinMu.Unlock()

	var current voice.Link
	if err := e.do(func() { current = e.link }); err != nil {
		return err
	}
	if current != nil && current.ChannelID() == channelID && current.State() == voice.Ready {
		return nil
	}

	if current != nil {
		if err := e.do(func() { e.detachLink(current) }); err != nil {
			return err
		}
		if err := current.Close(); err != nil {
			e.logger.WithError(err).Debug("Error closing previous voice link")
		}
	}

	logger := e.logger.WithField("channel_id", channelID)
	logger.Info("Joining voice channel")

	cctx, cancel := context.WithTimeout(ctx, e.cfg.ConnectTimeout)
	defer cancel()

	link, err := e.connector.Connect(cctx, e.guildID, channelID)
	if err != nil {
		logger.WithError(err).Warn("Voice connection failed")
		return fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}

	if err := waitReady(cctx, link); err != nil {
		logger.WithError(err).Warn("Voice link never became ready")
		_ = link.Close()
		return fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}

	if err := e.do(func() { e.installLink(link) }); err != nil {
		_ = link.Close()
		return err
	}
	go e.watchLink(link)

	logger.Info("Voice link ready")
	return nil
}

func waitReady(ctx context.Context, link voice.Link) error {
	if link.State() == voice.Ready {
		return nil
	}
	changes := link.StateChanges()
	for {
		select {
		case s, ok := <-changes:
			if !ok {
				return errors.New("link closed before becoming ready")
			}
			switch s {
			case voice.Ready:
				return nil
			case voice.Failed, voice.Disconnected:
				return fmt.Errorf("link %s", s)
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (e *Engine) installLink(link voice.Link) {
	e.link = link
	e.bus.PublishVoice(feedback.EventVoiceConnected, e.guildID, link.ChannelID())
}

// detachLink forgets the link before it is deliberately closed. A track in
// flight goes back to the head of the queue.
func (e *Engine) detachLink(link voice.Link) {
	if e.link != link {
		return
	}
	e.link = nil

	if e.current != nil {
		e.queue.PushFront(*e.current)
	}
	e.invalidate()
	e.resolveWaiters(ErrStopped)
}

// watchLink waits for the link to end and tears the guild down if the link
// was still in use
func (e *Engine) watchLink(link voice.Link) {
	for s := range link.StateChanges() {
		e.logger.WithField("link_state", s).Debug("Voice link state changed")
	}
	e.post(func() {
		if e.link != link {
			return
		}
		e.onLinkLost(link)
	})
}

func (e *Engine) onLinkLost(link voice.Link) {
	e.logger.WithField("channel_id", link.ChannelID()).Warn("Voice link lost, tearing down")

	e.link = nil
	e.reset()
	e.bus.PublishVoice(feedback.EventVoiceDisconnected, e.guildID, link.ChannelID())

	if e.onTeardown != nil {
		go e.onTeardown(e)
	}
}

// AddTrack resolves query and appends the track to the queue. Resolution
// runs in the caller's goroutine and is aborted by Stop or Disconnect.
func (e *Engine) AddTrack(ctx context.Context, query string, requester track.Requester) (track.Track, int, error) {
	opCtx := e.operationContext()

	var epoch uint64
	if err := e.do(func() { epoch = e.epoch }); err != nil {
		return track.Track{}, 0, err
	}

	ctx, cancel := context.WithTimeout(ctx, e.cfg.ResolveTimeout)
	defer cancel()
	stop := context.AfterFunc(opCtx, cancel)
	defer stop()

	logger := e.logger.WithField("query", query)

	t, err := e.resolver.Resolve(ctx, query)
	if err != nil {
		switch {
		case opCtx.Err() != nil:
			return track.Track{}, 0, ErrStopped
		case errors.Is(err, context.DeadlineExceeded):
			logger.WithError(err).Warn("Track resolution timed out")
			return track.Track{}, 0, fmt.Errorf("%w: resolving %q", ErrTransportTimeout, query)
		default:
			logger.WithError(err).Warn("Track resolution failed")
			return track.Track{}, 0, fmt.Errorf("%w: %v", ErrResolutionFailed, err)
		}
	}
	t = t.WithRequester(requester)

	var position int
	stale := false
	err = e.do(func() {
		if e.epoch != epoch {
			stale = true
			return
		}
		position = e.queue.Append(t)
		e.bus.PublishTrackAdded(e.guildID, t, position)
	})
	if err != nil {
		return track.Track{}, 0, err
	}
	if stale {
		logger.Debug("Dropping track resolved after stop")
		return track.Track{}, 0, ErrStopped
	}

	logger.WithFields(logrus.Fields{
		"title":    t.Title,
		"position": position,
	}).Info("Track queued")
	return t, position, nil
}

// Play starts the queue. It returns once a track is playing, or with
// ErrEmptyQueue when every remaining track failed to start.
func (e *Engine) Play(ctx context.Context) error {
	var result chan error
	var err error
	if derr := e.do(func() { result, err = e.playLocked() }); derr != nil {
		return derr
	}
	if err != nil {
		return err
	}

	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		// Playback carries on, the caller just stops waiting
		return ctx.Err()
	case <-e.done:
		return ErrEngineClosed
	}
}

func (e *Engine) playLocked() (chan error, error) {
	if e.link == nil || e.link.State() != voice.Ready {
		return nil, ErrNotConnected
	}
	if e.state != Idle || e.busy {
		return nil, ErrAlreadyPlaying
	}
	if e.current == nil && e.queue.Len() == 0 {
		return nil, ErrEmptyQueue
	}

	result := make(chan error, 1)
	e.waiters = append(e.waiters, result)
	e.startNext()
	return result, nil
}

func (e *Engine) resolveWaiters(err error) {
	for _, w := range e.waiters {
		w <- err
	}
	e.waiters = nil
}

// startNext begins acquiring the current track, dequeuing one if needed
func (e *Engine) startNext() {
	if e.current == nil {
		next, ok := e.queue.Dequeue()
		if !ok {
			e.finishQueue()
			return
		}
		e.current = &next
	}

	e.gen++
	gen := e.gen
	t := *e.current

	ctx, cancel := context.WithCancel(context.Background())
	e.acquireCancel = cancel
	e.busy = true

	go e.acquire(ctx, gen, t)
}

func (e *Engine) finishQueue() {
	e.state = Idle
	e.current = nil
	e.busy = false
	e.logger.Info("Queue finished")
	e.bus.PublishGuildEvent(feedback.EventQueueFinished, e.guildID)
	e.resolveWaiters(ErrEmptyQueue)
}

func (e *Engine) acquire(ctx context.Context, gen uint64, t track.Track) {
	handle, err := e.openWithRetry(ctx, t)
	delivered := e.post(func() { e.onAcquired(gen, t, handle, err) })
	if !delivered && handle != nil {
		_ = handle.Close()
	}
}

// openWithRetry opens a stream, retrying once with a fresh link when the
// first attempt times out
func (e *Engine) openWithRetry(ctx context.Context, t track.Track) (transport.StreamHandle, error) {
	logger := e.logger.WithFields(logrus.Fields{
		"title": t.Title,
		"url":   t.URL,
	})

	var lastErr error
	for attempt := 1; attempt <= 2; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, e.cfg.StreamTimeout)
		handle, err := e.transport.OpenStream(attemptCtx, t.URL)
		cancel()

		if err == nil {
			return handle, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, ErrTransportTimeout) {
			err = fmt.Errorf("%w: %v", ErrTransportTimeout, err)
		}
		lastErr = err

		if !errors.Is(err, ErrTransportTimeout) {
			break
		}
		logger.WithField("attempt", attempt).Warn("Stream acquisition timed out, retrying with a fresh link")
	}
	return nil, lastErr
}

func (e *Engine) onAcquired(gen uint64, t track.Track, handle transport.StreamHandle, err error) {
	if gen != e.gen {
		if handle != nil {
			_ = handle.Close()
		}
		return
	}

	e.busy = false
	if e.acquireCancel != nil {
		e.acquireCancel()
		e.acquireCancel = nil
	}

	logger := e.logger.WithField("title", t.Title)

	if err != nil {
		logger.WithError(err).Warn("Skipping track, no stream available")
		e.bus.PublishTrackFailed(feedback.EventTrackSkipped, e.guildID, t, err)
		e.current = nil
		e.startNext()
		return
	}

	link := e.link
	if link == nil {
		_ = handle.Close()
		e.queue.PushFront(t)
		e.current = nil
		e.state = Idle
		e.resolveWaiters(ErrNotConnected)
		return
	}

	pctx, pcancel := context.WithCancel(context.Background())
	stream := newPlaybackStream(pctx, handle, e.volume)
	e.stream = stream
	e.playCancel = pcancel
	e.state = Playing

	logger.WithFields(logrus.Fields{
		"strategy": handle.Strategy(),
		"volume":   e.volume,
	}).Info("Now playing")
	e.bus.PublishTrackStarted(e.guildID, t, handle.Strategy())
	e.resolveWaiters(nil)

	go func() {
		err := link.Attach(pctx, stream)
		_ = stream.Close()
		e.post(func() { e.onStreamFinished(gen, err) })
	}()
}

func (e *Engine) onStreamFinished(gen uint64, err error) {
	if gen != e.gen {
		return
	}

	if e.playCancel != nil {
		e.playCancel()
		e.playCancel = nil
	}
	e.stream = nil
	e.state = Idle

	finished := e.current
	e.current = nil

	ended := err == nil || errors.Is(err, io.EOF) || errors.Is(err, context.Canceled)
	if finished != nil {
		if ended {
			switch e.loop {
			case LoopSong:
				e.queue.PushFront(*finished)
			case LoopQueue:
				e.queue.Append(*finished)
			}
		} else {
			e.logger.WithError(err).WithField("title", finished.Title).Error("Stream failed, skipping")
			e.bus.PublishTrackFailed(feedback.EventStreamError, e.guildID, *finished, fmt.Errorf("%w: %v", ErrStreamError, err))
		}
	}

	e.startNext()
}

// invalidate cancels in-flight acquisition and playback and goes Idle
func (e *Engine) invalidate() {
	e.gen++
	if e.acquireCancel != nil {
		e.acquireCancel()
		e.acquireCancel = nil
	}
	if e.playCancel != nil {
		e.playCancel()
		e.playCancel = nil
	}
	e.stream = nil
	e.current = nil
	e.busy = false
	e.state = Idle
}

// reset drops everything queued or in flight
func (e *Engine) reset() int {
	e.epoch++
	e.invalidate()
	cleared := e.queue.Clear()
	e.resolveWaiters(ErrStopped)
	return cleared
}

// Stop clears the queue and ends playback. Valid in any state.
func (e *Engine) Stop() bool {
	e.cancelOps()
	err := e.do(func() {
		cleared := e.reset()
		e.logger.WithField("cleared", cleared).Info("Playback stopped")
		e.bus.PublishGuildEvent(feedback.EventPlaybackStopped, e.guildID)
	})
	return err == nil
}

// Pause holds the current track. Valid only while Playing.
func (e *Engine) Pause() bool {
	ok := false
	_ = e.do(func() {
		if e.state != Playing || e.stream == nil {
			return
		}
		e.stream.Pause()
		e.state = Paused
		ok = true
	})
	return ok
}

// Resume continues a paused track
func (e *Engine) Resume() bool {
	ok := false
	_ = e.do(func() {
		if e.state != Paused || e.stream == nil {
			return
		}
		e.stream.Resume()
		e.state = Playing
		ok = true
	})
	return ok
}

// Skip ends the current track through the normal end-of-track path, so the
// loop mode still applies. Valid only while Playing.
func (e *Engine) Skip() bool {
	ok := false
	_ = e.do(func() {
		if e.state != Playing || e.playCancel == nil {
			return
		}
		e.playCancel()
		ok = true
	})
	return ok
}

// SetVolume clamps percent to [0,100] and returns the applied value. The
// new volume is used from the next track on.
func (e *Engine) SetVolume(percent int) int {
	percent = max(0, min(100, percent))
	_ = e.do(func() { e.volume = float64(percent) / 100 })
	return percent
}

// SetLoopMode sets what happens to tracks as they end
func (e *Engine) SetLoopMode(mode LoopMode) {
	_ = e.do(func() { e.loop = mode })
}

// Shuffle randomizes the queued tracks. The current track is unaffected.
func (e *Engine) Shuffle() {
	_ = e.do(func() { e.queue.Shuffle() })
}

// Queue returns one page of queued tracks, pages starting at 1
func (e *Engine) Queue(page int) []track.Track {
	var tracks []track.Track
	if err := e.do(func() { tracks = e.queue.Peek(page, e.cfg.QueuePageSize) }); err != nil {
		return []track.Track{}
	}
	return tracks
}

// RemoveTrack removes the queued track at index, counting from 0
func (e *Engine) RemoveTrack(index int) (track.Track, error) {
	var removed track.Track
	var err error
	if derr := e.do(func() { removed, err = e.queue.Remove(index) }); derr != nil {
		return track.Track{}, derr
	}
	return removed, err
}

// ClearQueue empties the queue without touching the current track
func (e *Engine) ClearQueue() int {
	cleared := 0
	_ = e.do(func() { cleared = e.queue.Clear() })
	return cleared
}

// Status reports the current playback state. Current is only set while a
// track is Playing or Paused; a track whose stream is still being opened is
// not reported.
func (e *Engine) Status() Status {
	status := Status{State: Idle, Volume: e.cfg.DefaultVolume}
	_ = e.do(func() {
		status = Status{
			State:       e.state,
			Playing:     e.state == Playing,
			QueueLength: e.queue.Len(),
			Volume:      e.volume,
			LoopMode:    e.loop,
		}
		if e.current != nil && e.state != Idle {
			current := *e.current
			status.Current = &current
		}
		if e.link != nil {
			status.ChannelID = e.link.ChannelID()
		}
	})
	return status
}

func (e *Engine) shutdown() {
	e.reset()
	if e.link != nil {
		link := e.link
		e.link = nil
		if err := link.Close(); err != nil {
			e.logger.WithError(err).Debug("Error closing voice link")
		}
		e.bus.PublishVoice(feedback.EventVoiceDisconnected, e.guildID, link.ChannelID())
	}
	e.logger.Info("Guild engine closed")
}
