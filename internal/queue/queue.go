package queue

import (
	"errors"
	"math/rand/v2"

	"github.com/fankserver/discord-music-mcp/pkg/track"
)

// ErrIndexOutOfRange is returned when a position does not exist in the queue
var ErrIndexOutOfRange = errors.New("queue index out of range")

// Queue is an ordered list of pending tracks for one guild.
// Insertion order is playback order and duplicates are allowed.
//
// Queue is not safe for concurrent use. Its owner serializes access.
type Queue struct {
	items []track.Track
	intn  func(n int) int
}

// New creates an empty queue
func New() *Queue {
	return &Queue{
		items: make([]track.Track, 0),
		intn:  rand.IntN,
	}
}

// NewWithRand creates an empty queue that shuffles using intn, which must
// return a value in [0, n)
func NewWithRand(intn func(n int) int) *Queue {
	q := New()
	if intn != nil {
		q.intn = intn
	}
	return q
}

// Append adds a track to the tail and returns its 1-based position
func (q *Queue) Append(t track.Track) int {
	q.items = append(q.items, t)
	return len(q.items)
}

// PushFront inserts a track at the head
func (q *Queue) PushFront(t track.Track) {
	q.items = append(q.items, track.Track{})
	copy(q.items[1:], q.items)
	q.items[0] = t
}

// Dequeue removes and returns the head
func (q *Queue) Dequeue() (track.Track, bool) {
	if len(q.items) == 0 {
		return track.Track{}, false
	}
	head := q.items[0]
	q.items[0] = track.Track{}
	q.items = q.items[1:]
	return head, true
}

// Clear removes every pending track and reports how many were removed
func (q *Queue) Clear() int {
	n := len(q.items)
	q.items = make([]track.Track, 0)
	return n
}

// Shuffle permutes the pending tracks in place (Fisher-Yates)
func (q *Queue) Shuffle() {
	for i := len(q.items) - 1; i > 0; i-- {
		j := q.intn(i + 1)
		q.items[i], q.items[j] = q.items[j], q.items[i]
	}
}

// Remove deletes the track at the 0-based index
func (q *Queue) Remove(index int) (track.Track, error) {
	if index < 0 || index >= len(q.items) {
		return track.Track{}, ErrIndexOutOfRange
	}
	removed := q.items[index]
	q.items = append(q.items[:index], q.items[index+1:]...)
	return removed, nil
}

// Peek returns a copy of one 1-based page of pending tracks.
// Pages outside the queue yield an empty slice.
func (q *Queue) Peek(page, pageSize int) []track.Track {
	if page < 1 || page > q.Pages(pageSize) {
		return []track.Track{}
	}
	start := (page - 1) * pageSize
	end := start + min(pageSize, len(q.items)-start)

	out := make([]track.Track, end-start)
	copy(out, q.items[start:end])
	return out
}

// Len returns the number of pending tracks
func (q *Queue) Len() int {
	return len(q.items)
}

// Pages returns how many pages of pageSize the queue spans
func (q *Queue) Pages(pageSize int) int {
	return PageCount(len(q.items), pageSize)
}

// PageCount returns how many pages of pageSize hold length tracks
func PageCount(length, pageSize int) int {
	if pageSize < 1 || length < 1 {
		return 0
	}
	pages := length / pageSize
	if length%pageSize != 0 {
		pages++
	}
	return pages
}
