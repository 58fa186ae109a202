package engine

import (
	"errors"

	"github.com/fankserver/discord-music-mcp/pkg/transport"
)

var (
	// ErrResolutionFailed means a query did not produce a playable track
	ErrResolutionFailed = errors.New("could not resolve track")
	// ErrTransportTimeout means resolution or stream acquisition ran out of time
	ErrTransportTimeout = transport.ErrTransportTimeout
	// ErrStreamError means a stream failed mid-playback
	ErrStreamError = errors.New("audio stream failed")
	// ErrConnectionFailed means the voice link could not be established
	ErrConnectionFailed = errors.New("voice connection failed")
	// ErrEmptyQueue means there is nothing left to play
	ErrEmptyQueue = errors.New("queue is empty")
	// ErrAlreadyPlaying means a track is playing, paused or being started
	ErrAlreadyPlaying = errors.New("already playing")
	// ErrNotConnected means the guild has no ready voice link
	ErrNotConnected = errors.New("not connected to a voice channel")
	// ErrStopped means the operation was overtaken by Stop or Disconnect
	ErrStopped = errors.New("playback stopped")
	// ErrEngineClosed means the guild engine has been torn down
	ErrEngineClosed = errors.New("engine closed")
	// ErrInvalidLoopMode is returned by ParseLoopMode
	ErrInvalidLoopMode = errors.New("invalid loop mode")
)
