// Copyright 2025 James Ross
package breaker

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// Test that in HalfOpen under concurrent load, only a single probe is allowed at a time.
func TestBreakerHalfOpenSingleProbeUnderLoad(t *testing.T) {
	cb := New(20*time.Millisecond, 50*time.Millisecond, 0.5, 2)
	require.Equal(t, Closed, cb.State())
	cb.Record(false)
	cb.Record(false)
	require.Equal(t, Open, cb.State(), "expected open after 2 failures")

	// Wait for cooldown to enter HalfOpen
	time.Sleep(60 * time.Millisecond)

	// Concurrently call Allow; only one should be allowed
	const N = 100
	var wg sync.WaitGroup
	wg.Add(N)
	trues := 0
	var mu sync.Mutex
	for i := 0; i < N; i++ {
		go func() {
			defer wg.Done()
			if cb.Allow() {
				mu.Lock()
				trues++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	require.Equal(t, 1, trues, "expected exactly 1 allowed probe")

	// Fail the probe to remain Open
	cb.Record(false)
	require.Equal(t, Open, cb.State(), "expected open after failed probe")

	// Wait again to HalfOpen and check single probe again
	time.Sleep(60 * time.Millisecond)
	trues = 0
	wg.Add(N)
	for i := 0; i < N; i++ {
		go func() {
			defer wg.Done()
			if cb.Allow() {
				mu.Lock()
				trues++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	require.Equal(t, 1, trues, "expected exactly 1 allowed probe in second cycle")

	// Succeed the probe to close
	cb.Record(true)
	require.Equal(t, Closed, cb.State(), "expected closed after successful probe")
}
