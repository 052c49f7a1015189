package eventbus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docpipe/pkg/models"
)

func mkEvent(typ string, ts time.Time) models.Event {
	return models.Event{ID: typ + ts.String(), Type: typ, Timestamp: ts}
}

// TestRingBuffer_TrimsByCount checks that the buffer never holds more
// than max_count events.
func TestRingBuffer_TrimsByCount(t *testing.T) {
	rb := newRingBuffer(3, 0)
	now := time.Now()
	for i := 0; i < 5; i++ {
		rb.push(mkEvent("e", now.Add(time.Duration(i)*time.Second)))
	}
	assert.Equal(t, 3, rb.len())
}

// TestRingBuffer_TrimsByAge checks that every retained event is within
// max_age of now.
func TestRingBuffer_TrimsByAge(t *testing.T) {
	rb := newRingBuffer(1000, 10*time.Millisecond)
	rb.push(mkEvent("old", time.Now().Add(-time.Hour)))
	time.Sleep(20 * time.Millisecond)
	rb.push(mkEvent("new", time.Now()))

	require.Equal(t, 1, rb.len())
}

func TestRingBuffer_Recent_NewestFirstWithinWindow(t *testing.T) {
	rb := newRingBuffer(1000, 0)
	now := time.Now()
	rb.push(mkEvent("a", now.Add(-10*time.Minute)))
	rb.push(mkEvent("b", now.Add(-1*time.Minute)))
	rb.push(mkEvent("c", now))

	recent := rb.recent(5, nil, "")
	require.Len(t, recent, 2)
	assert.Equal(t, "c", recent[0].Type)
	assert.Equal(t, "b", recent[1].Type)
}

// TestRingBuffer_ReplaySince_MonotonicOrder checks that replay events
// come out in monotonic timestamp order (oldest first), unlike Recent's
// newest-first.
func TestRingBuffer_ReplaySince_MonotonicOrder(t *testing.T) {
	rb := newRingBuffer(1000, 0)
	now := time.Now()
	rb.push(mkEvent("a", now.Add(-3*time.Second)))
	rb.push(mkEvent("b", now.Add(-2*time.Second)))
	rb.push(mkEvent("c", now.Add(-1*time.Second)))

	replay := rb.replaySince(now.Add(-5*time.Second), nil)
	require.Len(t, replay, 3)
	assert.Equal(t, []string{"a", "b", "c"}, []string{replay[0].Type, replay[1].Type, replay[2].Type})
}

func TestRingBuffer_ReplaySince_FiltersByType(t *testing.T) {
	rb := newRingBuffer(1000, 0)
	now := time.Now()
	rb.push(mkEvent("job.started", now))
	rb.push(mkEvent("job.completed", now))

	replay := rb.replaySince(now.Add(-time.Second), map[string]bool{"job.completed": true})
	require.Len(t, replay, 1)
	assert.Equal(t, "job.completed", replay[0].Type)
}
