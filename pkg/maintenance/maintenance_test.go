package maintenance

import (
	"context"
	"testing"
	"time"

	"github.com/runZeroInc/tcpintercept/pkg/router"
	"github.com/runZeroInc/tcpintercept/pkg/stats"
)

func TestRunStopsOnCancel(t *testing.T) {
	rt := router.New(16, 10*time.Millisecond)
	counters := stats.New()
	counters.AddRespPack()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		Run(ctx, 5*time.Millisecond, rt, counters)
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
}

func TestRunCombinedFlushInvokesHookPeriodically(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	calls := make(chan time.Time, 8)
	done := make(chan struct{})
	go func() {
		RunCombinedFlush(ctx, 5*time.Millisecond, func(now time.Time) {
			select {
			case calls <- now:
			default:
			}
		})
		close(done)
	}()

	select {
	case <-calls:
	case <-time.After(2 * time.Second):
		t.Fatal("flush hook was never invoked")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("RunCombinedFlush did not return after context cancellation")
	}
}
