package confirm

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignal_ResolvesOnce(t *testing.T) {
	s := NewSignal()

	ok, err := s.Resolved()
	assert.False(t, ok)
	assert.NoError(t, err)

	first := errors.New("first")
	assert.True(t, s.Resolve(first))
	assert.False(t, s.Resolve(nil), "late resolutions are ignored")
	assert.False(t, s.Resolve(errors.New("second")))

	ok, err = s.Resolved()
	assert.True(t, ok)
	assert.Equal(t, first, err)
	assert.Equal(t, first, s.Wait(context.Background()))
}

func TestSignal_ConcurrentResolve(t *testing.T) {
	s := NewSignal()

	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		won int
	)
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if s.Resolve(nil) {
				mu.Lock()
				won++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, won)
	select {
	case <-s.Done():
	default:
		t.Fatal("signal should be resolved")
	}
}

func TestSignal_WaitTimesOutWithoutResolving(t *testing.T) {
	s := NewSignal()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := s.Wait(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	ok, _ := s.Resolved()
	assert.False(t, ok, "a timed out wait leaves the signal open")
	assert.True(t, s.Resolve(nil))
}

func TestSignal_WaitSeesResolutionFromAnotherGoroutine(t *testing.T) {
	s := NewSignal()

	go func() {
		time.Sleep(10 * time.Millisecond)
		s.Resolve(nil)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	assert.NoError(t, s.Wait(ctx))
}
