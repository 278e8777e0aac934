package groutine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGoPropagatesName(t *testing.T) {
	names := make(chan string, 1)

	Go(context.Background(), "worker-42", func(ctx context.Context) {
		names <- GetName(ctx)
	})

	select {
	case name := <-names:
		assert.Equal(t, "worker-42", name)
	case <-time.After(time.Second):
		t.Fatal("goroutine did not run")
	}
}

func TestGoNilContext(t *testing.T) {
	done := make(chan struct{})
	//nolint:staticcheck // nil context is explicitly supported
	Go(nil, "nil-ctx", func(ctx context.Context) {
		assert.NotNil(t, ctx)
		close(done)
	})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("goroutine did not run")
	}
}

func TestStartAndJoin(t *testing.T) {
	release := make(chan struct{})
	done := Start(context.Background(), "blocked", func(ctx context.Context) {
		<-release
	})

	assert.False(t, Join(done, 20*time.Millisecond), "join MUST time out while goroutine is blocked")

	close(release)
	assert.True(t, Join(done, time.Second), "join MUST succeed once goroutine returns")
}

func TestJoinNilChannel(t *testing.T) {
	assert.True(t, Join(nil, time.Millisecond))
}

func TestSleepInterruptedByCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(10*time.Millisecond, cancel)

	start := time.Now()
	ok := Sleep(ctx, 5*time.Second)

	require.False(t, ok, "sleep MUST report cancellation")
	assert.Less(t, time.Since(start), time.Second)
}

func TestSleepCompletes(t *testing.T) {
	assert.True(t, Sleep(context.Background(), time.Millisecond))
	assert.True(t, Sleep(context.Background(), 0))
}

func TestGetNameEmpty(t *testing.T) {
	assert.Equal(t, "", GetName(context.Background()))
	//nolint:staticcheck // nil context is explicitly supported
	assert.Equal(t, "", GetName(nil))
}
