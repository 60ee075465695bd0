package ratelimit

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestConnectionLimiter_Allow(t *testing.T) {
	cl := NewConnectionLimiter(3)

	assert.True(t, cl.Allow(1))
	assert.True(t, cl.Allow(1))
	assert.True(t, cl.Allow(1))
	assert.False(t, cl.Allow(1))

	// Other users are unaffected.
	assert.True(t, cl.Allow(2))
}

func TestConnectionLimiter_Release(t *testing.T) {
	cl := NewConnectionLimiter(2)

	cl.Allow(1)
	cl.Allow(1)
	assert.False(t, cl.Allow(1))

	cl.Release(1)
	assert.True(t, cl.Allow(1))
}

func TestConnectionLimiter_ReleaseWithoutAllow(t *testing.T) {
	cl := NewConnectionLimiter(1)

	cl.Release(99)
	assert.Equal(t, 0, cl.Count(99))
	assert.True(t, cl.Allow(99))
}

func TestConnectionLimiter_Count(t *testing.T) {
	cl := NewConnectionLimiter(5)

	assert.Equal(t, 0, cl.Count(1))
	cl.Allow(1)
	cl.Allow(1)
	assert.Equal(t, 2, cl.Count(1))
	cl.Release(1)
	assert.Equal(t, 1, cl.Count(1))
	cl.Release(1)
	assert.Equal(t, 0, cl.Count(1))
}

func TestConnectionLimiter_Concurrent(t *testing.T) {
	cl := NewConnectionLimiter(50)

	var wg sync.WaitGroup
	allowed := make(chan bool, 100)
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			allowed <- cl.Allow(1)
		}()
	}
	wg.Wait()
	close(allowed)

	granted := 0
	for ok := range allowed {
		if ok {
			granted++
		}
	}
	assert.Equal(t, 50, granted)
	assert.Equal(t, 50, cl.Count(1))
}

func TestMessageLimiter_Allow(t *testing.T) {
	ml := NewMessageLimiter(time.Second, 3)

	assert.True(t, ml.Allow(1))
	assert.True(t, ml.Allow(1))
	assert.True(t, ml.Allow(1))
	assert.False(t, ml.Allow(1))

	assert.True(t, ml.Allow(2))
}

func TestMessageLimiter_WindowExpiry(t *testing.T) {
	ml := NewMessageLimiter(50*time.Millisecond, 2)

	assert.True(t, ml.Allow(1))
	assert.True(t, ml.Allow(1))
	assert.False(t, ml.Allow(1))

	time.Sleep(60 * time.Millisecond)
	assert.True(t, ml.Allow(1))
}

func TestMessageLimiter_RetryAfter(t *testing.T) {
	ml := NewMessageLimiter(time.Minute, 2)

	assert.Equal(t, 0, ml.RetryAfter(1))

	ml.Allow(1)
	assert.Equal(t, 0, ml.RetryAfter(1))

	ml.Allow(1)
	retryAfter := ml.RetryAfter(1)
	assert.Greater(t, retryAfter, 0)
	assert.LessOrEqual(t, retryAfter, 60_000)
}

func TestMessageLimiter_Reset(t *testing.T) {
	ml := NewMessageLimiter(time.Minute, 1)

	ml.Allow(1)
	assert.False(t, ml.Allow(1))

	ml.Reset(1)
	assert.True(t, ml.Allow(1))
}

func TestMessageLimiter_Cleanup(t *testing.T) {
	ml := NewMessageLimiter(10*time.Millisecond, 5)

	ml.Allow(1)
	ml.Allow(2)
	time.Sleep(20 * time.Millisecond)

	ml.Cleanup()

	ml.mu.RLock()
	assert.Empty(t, ml.events)
	ml.mu.RUnlock()
}

func TestMessageLimiter_StopCleanupIdempotent(t *testing.T) {
	ml := NewMessageLimiter(time.Minute, 5)
	ml.StartCleanup()

	ml.StopCleanup()
	ml.StopCleanup()
}
