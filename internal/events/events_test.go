package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBus_FanOut(t *testing.T) {
	b := NewBus()
	defer b.Close()

	ch1 := b.Subscribe()
	ch2 := b.Subscribe()

	b.Publish(SyncStarted{})
	b.Publish(SyncCompleted{SuccessCount: 3})

	assert.Equal(t, SyncStarted{}, <-ch1)
	assert.Equal(t, SyncStarted{}, <-ch2)
	assert.Equal(t, SyncCompleted{SuccessCount: 3}, <-ch1)
	assert.Equal(t, SyncCompleted{SuccessCount: 3}, <-ch2)
}

func TestBus_PublishNeverBlocksOnSlowSubscriber(t *testing.T) {
	b := NewBus()
	defer b.Close()

	ch := b.Subscribe()

	// overflow the buffer without ever reading
	for i := 0; i < subscriberBuffer*2; i++ {
		b.Publish(SyncProgress{Phase: "flush-queue", CompletedCount: i})
	}

	// the newest events survive, the oldest were dropped
	var last Event
	for i := 0; i < subscriberBuffer; i++ {
		last = <-ch
	}
	p, ok := last.(SyncProgress)
	require.True(t, ok)
	assert.Equal(t, subscriberBuffer*2-1, p.CompletedCount)
}

func TestBus_CloseClosesSubscribers(t *testing.T) {
	b := NewBus()
	ch := b.Subscribe()
	b.Close()

	_, open := <-ch
	assert.False(t, open)
}
