package queue

import (
	"fmt"
	"math"
	"testing"

	"github.com/fankserver/discord-music-mcp/pkg/track"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTrack(title string) track.Track {
	return track.New(title, "https://example.com/"+title, 60, "", "channel", track.Requester{ID: "u"})
}

func fill(q *Queue, n int) []track.Track {
	added := make([]track.Track, 0, n)
	for i := 0; i < n; i++ {
		tr := newTrack(fmt.Sprintf("t%d", i))
		q.Append(tr)
		added = append(added, tr)
	}
	return added
}

func TestAppendReturnsPosition(t *testing.T) {
	q := New()
	assert.Equal(t, 1, q.Append(newTrack("a")))
	assert.Equal(t, 2, q.Append(newTrack("b")))
	assert.Equal(t, 2, q.Len())
}

func TestDequeueIsFIFO(t *testing.T) {
	q := New()
	added := fill(q, 5)

	for _, want := range added {
		got, ok := q.Dequeue()
		require.True(t, ok)
		assert.Equal(t, want.ID, got.ID)
	}

	_, ok := q.Dequeue()
	assert.False(t, ok)
}

func TestDuplicatesAllowed(t *testing.T) {
	q := New()
	tr := newTrack("same")
	q.Append(tr)
	q.Append(tr)
	assert.Equal(t, 2, q.Len())
}

func TestPushFront(t *testing.T) {
	q := New()
	fill(q, 2)
	head := newTrack("head")
	q.PushFront(head)

	got, ok := q.Dequeue()
	require.True(t, ok)
	assert.Equal(t, head.ID, got.ID)
	assert.Equal(t, 2, q.Len())
}

func TestClear(t *testing.T) {
	q := New()
	fill(q, 3)
	assert.Equal(t, 3, q.Clear())
	assert.Equal(t, 0, q.Len())
	assert.Equal(t, 0, q.Clear())
}

func TestShuffleIsPermutation(t *testing.T) {
	q := New()
	added := fill(q, 20)
	q.Shuffle()

	got := q.Peek(1, q.Len())
	require.Len(t, got, len(added))

	want := make(map[string]int)
	for _, tr := range added {
		want[tr.ID]++
	}
	for _, tr := range got {
		want[tr.ID]--
	}
	for id, n := range want {
		assert.Zerof(t, n, "track %s count changed after shuffle", id)
	}
}

func TestShuffleSmallQueueIsNoop(t *testing.T) {
	calls := 0
	q := NewWithRand(func(n int) int {
		calls++
		return 0
	})
	q.Shuffle()
	only := newTrack("only")
	q.Append(only)
	q.Shuffle()

	assert.Zero(t, calls)
	got, _ := q.Dequeue()
	assert.Equal(t, only.ID, got.ID)
}

func TestShuffleUsesFisherYates(t *testing.T) {
	// Always picking j=0 rotates the first element to the tail.
	q := NewWithRand(func(n int) int { return 0 })
	added := fill(q, 3)
	q.Shuffle()

	got := q.Peek(1, q.Len())
	assert.Equal(t, []string{added[1].ID, added[2].ID, added[0].ID},
		[]string{got[0].ID, got[1].ID, got[2].ID})
}

func TestRemove(t *testing.T) {
	q := New()
	added := fill(q, 3)

	removed, err := q.Remove(1)
	require.NoError(t, err)
	assert.Equal(t, added[1].ID, removed.ID)
	assert.Equal(t, 2, q.Len())

	_, err = q.Remove(5)
	assert.ErrorIs(t, err, ErrIndexOutOfRange)
	_, err = q.Remove(-1)
	assert.ErrorIs(t, err, ErrIndexOutOfRange)
}

func TestPeekPagination(t *testing.T) {
	q := New()
	added := fill(q, 25)

	page1 := q.Peek(1, 10)
	require.Len(t, page1, 10)
	assert.Equal(t, added[0].ID, page1[0].ID)

	page3 := q.Peek(3, 10)
	require.Len(t, page3, 5)
	assert.Equal(t, added[20].ID, page3[0].ID)

	assert.Empty(t, q.Peek(4, 10))
	assert.Empty(t, q.Peek(0, 10))
	assert.NotNil(t, q.Peek(99, 10))
	assert.Equal(t, 3, q.Pages(10))
}

func TestPeekHugePage(t *testing.T) {
	q := New()
	fill(q, 1)

	assert.NotPanics(t, func() {
		assert.Empty(t, q.Peek(math.MaxInt, 10))
		assert.Empty(t, q.Peek(1_000_000_000_000_000_000, 10))
		assert.Empty(t, q.Peek(2, math.MaxInt))
	})
	assert.Len(t, q.Peek(1, math.MaxInt), 1)
}

func TestPageCount(t *testing.T) {
	assert.Equal(t, 0, PageCount(0, 10))
	assert.Equal(t, 0, PageCount(5, 0))
	assert.Equal(t, 1, PageCount(10, 10))
	assert.Equal(t, 2, PageCount(11, 10))
	assert.Equal(t, 1, PageCount(math.MaxInt, math.MaxInt))
}

func TestPeekReturnsCopy(t *testing.T) {
	q := New()
	fill(q, 2)
	page := q.Peek(1, 10)
	page[0] = newTrack("mutated")

	again := q.Peek(1, 10)
	assert.NotEqual(t, page[0].ID, again[0].ID)
}
