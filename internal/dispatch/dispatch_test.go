package dispatch

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linego-dev/linego/internal/service"
)

func TestDeliversInOrder(t *testing.T) {
	var mu sync.Mutex
	var got []string
	d := New(Options{
		Handler: func(ev service.Event) {
			mu.Lock()
			got = append(got, ev.Message.ID)
			mu.Unlock()
		},
		Logger: zerolog.Nop(),
	})

	want := []string{"m1", "m2", "m3", "m4"}
	for _, id := range want {
		err := d.Enqueue(context.Background(), service.Event{Message: &service.Message{ID: id}})
		require.NoError(t, err)
	}
	d.Stop()

	assert.Equal(t, want, got)
}

func TestPanicDoesNotKillConsumer(t *testing.T) {
	var mu sync.Mutex
	var got []string
	d := New(Options{
		Handler: func(ev service.Event) {
			if ev.Message.ID == "boom" {
				panic("handler bug")
			}
			mu.Lock()
			got = append(got, ev.Message.ID)
			mu.Unlock()
		},
		Logger: zerolog.Nop(),
	})

	for _, id := range []string{"a", "boom", "b"} {
		require.NoError(t, d.Enqueue(context.Background(), service.Event{Message: &service.Message{ID: id}}))
	}
	d.Stop()

	assert.Equal(t, []string{"a", "b"}, got)
}

func TestEnqueueBackpressure(t *testing.T) {
	release := make(chan struct{})
	d := New(Options{
		QueueSize: 1,
		Handler:   func(service.Event) { <-release },
		Logger:    zerolog.Nop(),
	})

	// First event occupies the handler, second fills the queue.
	require.NoError(t, d.Enqueue(context.Background(), service.Event{}))
	require.NoError(t, d.Enqueue(context.Background(), service.Event{}))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := d.Enqueue(ctx, service.Event{})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(release)
	d.Stop()
}

func TestStopDrainsQueue(t *testing.T) {
	var mu sync.Mutex
	count := 0
	d := New(Options{
		QueueSize: 16,
		Handler: func(service.Event) {
			time.Sleep(time.Millisecond)
			mu.Lock()
			count++
			mu.Unlock()
		},
		Logger: zerolog.Nop(),
	})

	for i := 0; i < 10; i++ {
		require.NoError(t, d.Enqueue(context.Background(), service.Event{}))
	}
	d.Stop()

	assert.Equal(t, 10, count)
}
