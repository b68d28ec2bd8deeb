package bus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func drain(s *Subscriber[string]) []string {
	var got []string
	for {
		v, ok := s.Pop()
		if !ok {
			return got
		}
		got = append(got, v)
	}
}

func TestBus_FanOut(t *testing.T) {
	b := New[string]()
	first := b.Subscribe("topic")
	second := b.Subscribe("topic")
	other := b.Subscribe("elsewhere")

	b.Publish("topic", "hello")

	assert.Equal(t, []string{"hello"}, drain(first))
	assert.Equal(t, []string{"hello"}, drain(second))
	assert.Empty(t, drain(other), "publishes must stay within their topic")
}

func TestBus_PublishNeverBlocks(t *testing.T) {
	b := New[string]()
	sub := b.Subscribe("topic")

	// Nobody is draining; the queue absorbs everything.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 1000; i++ {
			b.Publish("topic", "v")
		}
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}
	assert.Len(t, drain(sub), 1000)
}

func TestBus_NotifyWakesReceiver(t *testing.T) {
	b := New[int]()
	sub := b.Subscribe("topic")

	go b.Publish("topic", 42)

	select {
	case <-sub.C():
	case <-time.After(2 * time.Second):
		t.Fatal("no notification")
	}
	v, ok := sub.Pop()
	require.True(t, ok)
	assert.Equal(t, 42, v)

	_, ok = sub.Pop()
	assert.False(t, ok)
}

func TestBus_OrderPreserved(t *testing.T) {
	b := New[int]()
	sub := b.Subscribe("topic")

	for i := 0; i < 5; i++ {
		b.Publish("topic", i)
	}

	var got []int
	for {
		v, ok := sub.Pop()
		if !ok {
			break
		}
		got = append(got, v)
	}
	assert.Equal(t, []int{0, 1, 2, 3, 4}, got)
}

func TestBus_Unsubscribe(t *testing.T) {
	b := New[string]()
	sub := b.Subscribe("topic")

	b.Publish("topic", "before")
	sub.Unsubscribe()
	b.Publish("topic", "after")

	assert.Equal(t, []string{"before"}, drain(sub), "queued values survive, new ones do not")

	// Idempotent.
	sub.Unsubscribe()
}

func TestBus_ConcurrentPublishers(t *testing.T) {
	b := New[int]()
	sub := b.Subscribe("topic")

	const publishers, each = 8, 100
	done := make(chan struct{})
	for p := 0; p < publishers; p++ {
		go func() {
			for i := 0; i < each; i++ {
				b.Publish("topic", i)
			}
			done <- struct{}{}
		}()
	}
	for p := 0; p < publishers; p++ {
		<-done
	}

	count := 0
	for {
		if _, ok := sub.Pop(); !ok {
			break
		}
		count++
	}
	assert.Equal(t, publishers*each, count)
}
