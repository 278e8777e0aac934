package ringchan

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSendDropsOldest(t *testing.T) {
	rc := New[int](3)

	for i := 0; i < 5; i++ {
		rc.Send(i)
	}

	require.Len(t, rc.C(), 3, "buffer MUST stay at capacity")

	var got []int
	for i := 0; i < 3; i++ {
		got = append(got, <-rc.C())
	}
	assert.Equal(t, []int{2, 3, 4}, got, "only the newest values MUST survive")

	m := rc.GetMetrics()
	assert.Equal(t, int64(5), m.Written)
	assert.Equal(t, int64(2), m.Overwritten)
}

func TestSendReportsDrop(t *testing.T) {
	rc := New[string](1)

	assert.False(t, rc.Send("a"))
	assert.True(t, rc.Send("b"))
}

func TestCloseIsIdempotentAndStopsSends(t *testing.T) {
	rc := New[int](2)
	rc.Send(1)

	rc.Close()
	rc.Close()

	assert.False(t, rc.Send(2), "send after close MUST be ignored")

	var got []int
	for v := range rc.C() {
		got = append(got, v)
	}
	assert.Equal(t, []int{1}, got)
}

func TestConcurrentProducersNeverBlock(t *testing.T) {
	rc := New[int](4)

	var wg sync.WaitGroup
	for p := 0; p < 8; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				rc.Send(p*100 + i)
			}
		}(p)
	}
	wg.Wait()

	assert.Len(t, rc.C(), 4)
	assert.Equal(t, int64(800), rc.GetMetrics().Written)
}

func TestNewPanicsOnZeroCapacity(t *testing.T) {
	assert.Panics(t, func() { New[int](0) })
}
