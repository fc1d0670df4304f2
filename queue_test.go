package rdnstap

import (
	"encoding/binary"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

// Frame carrying a producer number and sequence number.
func seqFrame(producer int, seq int) Frame {
	b := make([]byte, 6)
	binary.BigEndian.PutUint16(b, 4)
	binary.BigEndian.PutUint16(b[2:], uint16(producer))
	binary.BigEndian.PutUint16(b[4:], uint16(seq))
	return Frame{b: b}
}

func parseSeqFrame(f Frame) (int, int) {
	p := f.Payload()
	return int(binary.BigEndian.Uint16(p)), int(binary.BigEndian.Uint16(p[2:]))
}

func TestQueueClosesAfterAllProducers(t *testing.T) {
	q := newQueue(0, NewTapMetrics(t.Name()))
	q.addProducer()
	q.addProducer()

	require.True(t, q.push(seqFrame(0, 1)))
	q.removeProducer()

	// Still one producer, the frame is returned
	f, ok := q.pop()
	require.True(t, ok)
	p, s := parseSeqFrame(f)
	require.Equal(t, 0, p)
	require.Equal(t, 1, s)

	// Blocks until the last producer is gone
	done := make(chan bool)
	go func() {
		_, ok := q.pop()
		done <- ok
	}()
	select {
	case <-done:
		t.Fatal("pop returned while a producer was still open")
	case <-time.After(50 * time.Millisecond):
	}
	q.removeProducer()
	select {
	case ok := <-done:
		require.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("pop did not return after the last producer closed")
	}
}

func TestQueueDrainsAfterClose(t *testing.T) {
	q := newQueue(0, NewTapMetrics(t.Name()))
	q.addProducer()
	for i := 0; i < 3; i++ {
		require.True(t, q.push(seqFrame(0, i)))
	}
	q.removeProducer()

	for i := 0; i < 3; i++ {
		f, ok := q.pop()
		require.True(t, ok)
		_, s := parseSeqFrame(f)
		require.Equal(t, i, s)
	}
	_, ok := q.pop()
	require.False(t, ok)
}

func TestQueueRequeueAtHead(t *testing.T) {
	q := newQueue(0, NewTapMetrics(t.Name()))
	q.addProducer()
	q.push(seqFrame(0, 1))
	q.push(seqFrame(0, 2))

	f, _ := q.pop()
	q.requeue(f)

	f, _ = q.pop()
	_, s := parseSeqFrame(f)
	require.Equal(t, 1, s)
	f, _ = q.pop()
	_, s = parseSeqFrame(f)
	require.Equal(t, 2, s)
}

func TestQueueSizeLimit(t *testing.T) {
	metrics := NewTapMetrics(t.Name())
	q := newQueue(2, metrics)
	q.addProducer()
	require.True(t, q.push(seqFrame(0, 1)))
	require.True(t, q.push(seqFrame(0, 2)))
	require.False(t, q.push(seqFrame(0, 3)))
	require.Equal(t, 2, q.len())
	require.Equal(t, int64(1), droppedCount(metrics, "queue-full"))

	// Requeued frames are never dropped for size
	f, _ := q.pop()
	q.push(seqFrame(0, 4))
	q.requeue(f)
	require.Equal(t, 3, q.len())
}

func TestQueueAbort(t *testing.T) {
	metrics := NewTapMetrics(t.Name())
	q := newQueue(0, metrics)
	q.addProducer()
	q.push(seqFrame(0, 1))
	q.push(seqFrame(0, 2))

	require.Equal(t, 2, q.abort())
	_, ok := q.pop()
	require.False(t, ok)
	require.False(t, q.push(seqFrame(0, 3)))
	require.Equal(t, int64(3), droppedCount(metrics, "shutdown"))
}

func TestQueueProducerFIFO(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		producers := rapid.IntRange(1, 8).Draw(t, "producers")
		count := rapid.IntRange(0, 200).Draw(t, "count")

		q := newQueue(0, NewTapMetrics("queue-fifo"))
		var wg sync.WaitGroup
		for p := 0; p < producers; p++ {
			q.addProducer()
			wg.Add(1)
			go func(p int) {
				defer wg.Done()
				defer q.removeProducer()
				for i := 0; i < count; i++ {
					q.push(seqFrame(p, i))
				}
			}(p)
		}

		next := make([]int, producers)
		for {
			f, ok := q.pop()
			if !ok {
				break
			}
			p, s := parseSeqFrame(f)
			if s != next[p] {
				t.Fatalf("producer %d: expected sequence %d, got %d", p, next[p], s)
			}
			next[p]++
		}
		wg.Wait()
		for p, n := range next {
			if n != count {
				t.Fatalf("producer %d: received %d of %d frames", p, n, count)
			}
		}
	})
}
