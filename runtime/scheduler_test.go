package runtime

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestScheduler_Runs_Current_Generation(t *testing.T) {
	req := require.New(t)
	s := NewScheduler()
	var fired atomic.Int32
	s.After(s.Generation(), 5*time.Millisecond, func() { fired.Add(1) })
	req.Eventually(func() bool { return fired.Load() == 1 }, time.Second, time.Millisecond)
	req.Equal(0, s.Pending())
}

func TestScheduler_Advance_Cancels_Pending(t *testing.T) {
	req := require.New(t)
	s := NewScheduler()
	var fired atomic.Int32
	generation := s.Generation()
	s.After(generation, 20*time.Millisecond, func() { fired.Add(1) })
	s.After(generation, 20*time.Millisecond, func() { fired.Add(1) })
	req.Equal(2, s.Pending())

	next := s.Advance()
	req.Equal(generation+1, next)
	req.Equal(0, s.Pending())

	// Scheduling against the old generation is a no-op.
	s.After(generation, time.Millisecond, func() { fired.Add(1) })
	req.Equal(0, s.Pending())

	time.Sleep(50 * time.Millisecond)
	req.Equal(int32(0), fired.Load())
}

func TestScheduler_Cancel_Is_Idempotent(t *testing.T) {
	req := require.New(t)
	s := NewScheduler()
	var fired atomic.Int32
	cancel := s.After(s.Generation(), 10*time.Millisecond, func() { fired.Add(1) })
	cancel()
	cancel()
	time.Sleep(30 * time.Millisecond)
	req.Equal(int32(0), fired.Load())
	req.Equal(0, s.Pending())
}
