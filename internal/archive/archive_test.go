package archive

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arda-arslan/cryptobot/internal/bus"
	"github.com/arda-arslan/cryptobot/internal/oms"
)

func newTestStore(depth int, write func(oms.Order)) *Store {
	s := &Store{
		queue: bus.NewQueue[oms.Order](depth),
		done:  make(chan struct{}),
		write: write,
	}
	go s.drain()
	return s
}

func TestArchiveWritesThroughQueue(t *testing.T) {
	var mu sync.Mutex
	var got []string
	s := newTestStore(8, func(ord oms.Order) {
		mu.Lock()
		got = append(got, ord.ClientOrderID)
		mu.Unlock()
	})

	s.Archive(oms.Order{ClientOrderID: "ord-a"})
	s.Archive(oms.Order{ClientOrderID: "ord-b"})

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 2
	}, 3*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"ord-a", "ord-b"}, got)
}

func TestArchiveNeverBlocksOnStuckWriter(t *testing.T) {
	release := make(chan struct{})
	s := newTestStore(4, func(oms.Order) { <-release })
	defer close(release)

	// Far more records than the queue holds; the caller must return
	// immediately every time, with the overflow dropped.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 50; i++ {
			s.Archive(oms.Order{ClientOrderID: "ord"})
		}
	}()

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("archive blocked on a stuck writer")
	}
	assert.Greater(t, s.queue.Drops(), uint64(0))
}

func TestCloseWaitsForDrain(t *testing.T) {
	var mu sync.Mutex
	written := 0
	s := newTestStore(8, func(oms.Order) {
		time.Sleep(time.Millisecond)
		mu.Lock()
		written++
		mu.Unlock()
	})

	for i := 0; i < 5; i++ {
		s.Archive(oms.Order{ClientOrderID: "ord"})
	}
	require.NoError(t, s.Close())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 5, written)
}
