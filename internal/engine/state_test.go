package engine

import (
	"context"
	"encoding/json"
	"io"
	"math"
	"testing"
	"time"

	"github.com/fankserver/discord-music-mcp/pkg/track"
	"github.com/fankserver/discord-music-mcp/pkg/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLoopMode(t *testing.T) {
	tests := []struct {
		in   string
		want LoopMode
	}{
		{"off", LoopOff},
		{"SONG", LoopSong},
		{" queue ", LoopQueue},
		{"track", LoopSong},
		{"all", LoopQueue},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLoopMode(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := ParseLoopMode("forever")
	assert.ErrorIs(t, err, ErrInvalidLoopMode)
}

func TestStatusJSON(t *testing.T) {
	current := track.New("Song", "https://example.com/s", 200, "", "chan", track.Requester{})
	status := Status{
		State:       Paused,
		Current:     &current,
		QueueLength: 3,
		Volume:      0.25,
		LoopMode:    LoopQueue,
	}

	raw, err := json.Marshal(status)
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, "paused", decoded["state"])
	assert.Equal(t, "queue", decoded["loop_mode"])
	assert.Equal(t, 0.25, decoded["volume"])
	assert.NotContains(t, decoded, "channel_id")
	assert.Equal(t, 25, status.VolumePercent())
}

func TestApplyGain(t *testing.T) {
	frame := []int16{1000, -1000, 20000, -20000}
	applyGain(frame, 0.5)
	assert.Equal(t, []int16{500, -500, 10000, -10000}, frame)

	loud := []int16{30000, -30000}
	applyGain(loud, 2)
	assert.Equal(t, []int16{math.MaxInt16, math.MinInt16}, loud)

	same := []int16{123}
	applyGain(same, 1)
	assert.Equal(t, []int16{123}, same)
}

func TestPlaybackStreamPauseGate(t *testing.T) {
	tr := transport.NewMockTransport(-1)
	source, err := tr.OpenStream(context.Background(), "x")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	stream := newPlaybackStream(ctx, source, 0.5)
	defer stream.Close()

	frame, err := stream.ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, int16(500), frame[0])

	stream.Pause()
	stream.Pause()

	read := make(chan error, 1)
	go func() {
		_, err := stream.ReadFrame()
		read <- err
	}()

	select {
	case <-read:
		t.Fatal("read returned while paused")
	case <-time.After(20 * time.Millisecond):
	}

	stream.Resume()
	stream.Resume()
	select {
	case err := <-read:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("read did not resume")
	}

	stream.Pause()
	go func() {
		_, err := stream.ReadFrame()
		read <- err
	}()
	cancel()
	select {
	case err := <-read:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("cancel did not release paused read")
	}
}

func TestPlaybackStreamPassesEOF(t *testing.T) {
	tr := transport.NewMockTransport(0)
	source, err := tr.OpenStream(context.Background(), "x")
	require.NoError(t, err)

	stream := newPlaybackStream(context.Background(), source, 1)
	_, err = stream.ReadFrame()
	assert.ErrorIs(t, err, io.EOF)
	require.NoError(t, stream.Close())
	assert.Equal(t, 0, tr.Active())
}
