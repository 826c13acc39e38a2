package concurrent

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestConcurrent(t *testing.T) {
	var sum atomic.Int64
	err := Concurrent([]int{1, 2, 3, 4}, func(v int) error {
		sum.Add(int64(v))
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, int64(10), sum.Load())

	boom := errors.New("boom")
	err = Concurrent([]int{1, 2}, func(v int) error {
		if v == 2 {
			return boom
		}
		return nil
	})
	assert.ErrorIs(t, err, boom)
}

func TestLimited(t *testing.T) {
	var running, peak atomic.Int32
	err := Limited(context.Background(), make([]int, 8), 2, func(context.Context, int) error {
		n := running.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		running.Add(-1)
		return nil
	})
	assert.NoError(t, err)
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestLimitedCancelsOnError(t *testing.T) {
	boom := errors.New("boom")
	var cancelled atomic.Int32
	err := Limited(context.Background(), []int{0, 1, 2, 3}, 1, func(ctx context.Context, v int) error {
		if v == 0 {
			return boom
		}
		if ctx.Err() != nil {
			cancelled.Add(1)
		}
		return nil
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, int32(3), cancelled.Load())
}

type closer struct{ closed *atomic.Int32 }

func (c closer) Close() error {
	c.closed.Add(1)
	return nil
}

func TestClose(t *testing.T) {
	var n atomic.Int32
	assert.NoError(t, Close(closer{&n}, closer{&n}, closer{&n}))
	assert.Equal(t, int32(3), n.Load())
}
