package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestAddJobRunsOnSchedule(t *testing.T) {
	s := New(nil)
	var runs atomic.Int32

	require.NoError(t, s.AddJob("tick", "@every 1s", func(ctx context.Context) error {
		runs.Add(1)
		return nil
	}))

	s.Start(context.Background())
	time.Sleep(2500 * time.Millisecond)
	s.Stop()

	require.GreaterOrEqual(t, runs.Load(), int32(2), "the job should have fired more than once over 2.5s at a 1s interval")
}

func TestAddJobRejectsInvalidSchedule(t *testing.T) {
	s := New(nil)
	err := s.AddJob("bad", "not a cron expression", func(ctx context.Context) error { return nil })
	require.Error(t, err)
}

func TestJobErrorsAreLoggedNotFatal(t *testing.T) {
	s := New(nil)
	var runs atomic.Int32

	require.NoError(t, s.AddJob("failing", "@every 1s", func(ctx context.Context) error {
		runs.Add(1)
		return errAlwaysFails
	}))

	s.Start(context.Background())
	time.Sleep(1500 * time.Millisecond)
	s.Stop()

	require.GreaterOrEqual(t, runs.Load(), int32(1), "a job returning an error must still be scheduled again, not treated as fatal")
}

var errAlwaysFails = &staticError{"job always fails"}

type staticError struct{ msg string }

func (e *staticError) Error() string { return e.msg }
