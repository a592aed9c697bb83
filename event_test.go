package qtnetworkng

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventLevelTriggered(t *testing.T) {
	e := NewEvent()
	assert.False(t, e.IsSet())

	e.Set()
	assert.True(t, e.IsSet())
	// a waiter arriving after Set must not block
	done := make(chan bool, 1)
	go func() { done <- e.Wait() }()
	select {
	case ok := <-done:
		assert.True(t, ok)
	case <-time.After(time.Second):
		t.Fatal("Wait blocked on a set event")
	}

	e.Clear()
	assert.False(t, e.IsSet())
}

func TestEventWakesAllWaiters(t *testing.T) {
	e := NewEvent()
	var woken int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if e.Wait() {
				atomic.AddInt32(&woken, 1)
			}
		}()
	}

	time.Sleep(50 * time.Millisecond)
	assert.EqualValues(t, 0, atomic.LoadInt32(&woken))
	e.Set()
	wg.Wait()
	assert.EqualValues(t, 8, atomic.LoadInt32(&woken))
}

func TestEventDestroyReleasesWaiters(t *testing.T) {
	e := NewEvent()
	result := make(chan bool, 1)
	go func() { result <- e.Wait() }()

	time.Sleep(20 * time.Millisecond)
	e.Destroy()
	select {
	case ok := <-result:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("Destroy did not release the waiter")
	}

	// destroyed events fail fast
	assert.False(t, e.Wait())
}

func TestEventClearAfterSetBlocksNewWaiters(t *testing.T) {
	e := NewEvent()
	e.Set()
	e.Clear()

	done := make(chan bool, 1)
	go func() { done <- e.Wait() }()
	select {
	case <-done:
		t.Fatal("Wait did not block on a cleared event")
	case <-time.After(50 * time.Millisecond):
	}
	e.Set()
	assert.True(t, <-done)
}

func TestAcceptQueuePutGet(t *testing.T) {
	q := newAcceptQueue(2)

	a, b, c := newKcpSocket(), newKcpSocket(), newKcpSocket()
	assert.True(t, q.put(a))
	assert.True(t, q.put(b))
	// the queue never exceeds its backlog; extra entries are rejected
	assert.False(t, q.put(c))
	assert.Equal(t, 2, q.len())

	assert.Same(t, a, q.get())
	assert.Same(t, b, q.get())
	assert.Equal(t, 0, q.len())
}

func TestAcceptQueueBlockingGet(t *testing.T) {
	q := newAcceptQueue(1)
	got := make(chan *KcpSocket, 1)
	go func() { got <- q.get() }()

	select {
	case <-got:
		t.Fatal("get returned from an empty queue")
	case <-time.After(50 * time.Millisecond):
	}

	s := newKcpSocket()
	require.True(t, q.put(s))
	select {
	case fetched := <-got:
		assert.Same(t, s, fetched)
	case <-time.After(time.Second):
		t.Fatal("get did not wake up after put")
	}
}

func TestAcceptQueueClose(t *testing.T) {
	q := newAcceptQueue(1)
	got := make(chan *KcpSocket, 1)
	go func() { got <- q.get() }()

	time.Sleep(20 * time.Millisecond)
	q.close()
	select {
	case fetched := <-got:
		assert.Nil(t, fetched)
	case <-time.After(time.Second):
		t.Fatal("close did not release the blocked get")
	}

	assert.False(t, q.put(newKcpSocket()))
	assert.Nil(t, q.get())
}
