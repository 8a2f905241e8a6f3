package iftop

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"iftopweb/sample"
)

func TestBackoffLadderMonotonicAndCapped(t *testing.T) {
	b := newBackoff(time.Second, 8*time.Second)
	want := []time.Duration{
		time.Second, 2 * time.Second, 4 * time.Second,
		8 * time.Second, 8 * time.Second, 8 * time.Second,
	}
	var prev time.Duration
	for i, w := range want {
		got := b.Next()
		if got != w {
			t.Errorf("delay %d = %v, want %v", i, got, w)
		}
		if got < prev {
			t.Errorf("delay %d decreased: %v after %v", i, got, prev)
		}
		prev = got
	}
	b.Reset()
	if got := b.Next(); got != time.Second {
		t.Errorf("delay after reset = %v, want 1s", got)
	}
}

func TestBackoffNormalizesBadBounds(t *testing.T) {
	b := newBackoff(0, 0)
	if got := b.Next(); got != time.Second {
		t.Errorf("default base = %v, want 1s", got)
	}
	b = newBackoff(10*time.Second, time.Second)
	if got := b.Next(); got != 10*time.Second {
		t.Errorf("max below base = %v, want base 10s", got)
	}
}

func newTestRunner(maxFailures int) *Runner {
	return NewRunner("eth0", RunnerConfig{
		Command:     "iftop",
		BackoffBase: time.Millisecond,
		BackoffMax:  4 * time.Millisecond,
		MaxFailures: maxFailures,
		DisplayCap:  20,
	}, nil)
}

func TestRunnerMarksPermanentFailureAfterMaxFailures(t *testing.T) {
	r := newTestRunner(3)
	var attempts atomic.Int32
	r.startProcess = func(ctx context.Context) error {
		attempts.Add(1)
		return errors.New("exit status 1")
	}
	r.Start()

	deadline := time.After(2 * time.Second)
	for r.Status() != sample.StatusFailed {
		select {
		case <-deadline:
			t.Fatal("runner never reached permanent failure")
		case <-time.After(5 * time.Millisecond):
		}
	}
	if got := attempts.Load(); got != 3 {
		t.Errorf("attempts = %d, want 3", got)
	}
	if r.ConsecutiveFailures() != 3 {
		t.Errorf("consecutive failures = %d, want 3", r.ConsecutiveFailures())
	}
	r.Stop()
}

func TestRunnerPermissionErrorFailsImmediately(t *testing.T) {
	r := newTestRunner(10)
	var attempts atomic.Int32
	r.startProcess = func(ctx context.Context) error {
		attempts.Add(1)
		return errors.New("pcap_open_live: eth0: Operation not permitted")
	}
	r.Start()

	deadline := time.After(2 * time.Second)
	for r.Status() != sample.StatusFailed {
		select {
		case <-deadline:
			t.Fatal("runner never failed on permission error")
		case <-time.After(5 * time.Millisecond):
		}
	}
	if got := attempts.Load(); got != 1 {
		t.Errorf("attempts = %d, want 1 (no retries for config errors)", got)
	}
	r.Stop()
}

func TestRunnerSampleResetsFailureStreak(t *testing.T) {
	r := newTestRunner(3)
	var attempts atomic.Int32
	r.startProcess = func(ctx context.Context) error {
		n := attempts.Add(1)
		if n%2 == 1 {
			// Odd generations produce a sample before dying, keeping the
			// streak below the permanent-failure threshold forever.
			r.deliver(&sample.InterfaceSample{Interface: "eth0"})
		}
		if n >= 6 {
			<-ctx.Done()
			return ctx.Err()
		}
		return errors.New("exit status 1")
	}
	r.Start()

	deadline := time.After(2 * time.Second)
	for attempts.Load() < 6 {
		select {
		case <-deadline:
			t.Fatalf("attempts = %d, runner gave up early (status %s)", attempts.Load(), r.Status())
		case <-time.After(5 * time.Millisecond):
		}
	}
	if r.Status() == sample.StatusFailed {
		t.Error("runner reached permanent failure despite successful samples")
	}
	r.Stop()
}

func TestRunnerStopTerminatesSupervisor(t *testing.T) {
	r := newTestRunner(10)
	r.startProcess = func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}
	r.Start()
	time.Sleep(10 * time.Millisecond)

	done := make(chan struct{})
	go func() {
		r.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not terminate the supervisor")
	}
}

func TestDeliverLatestWins(t *testing.T) {
	r := newTestRunner(10)
	// Fill the channel beyond capacity without a consumer.
	for i := 0; i < 10; i++ {
		r.deliver(&sample.InterfaceSample{Interface: "eth0", Totals: sample.Windows{
			Short: sample.RateBps{In: float64(i)},
		}})
	}

	var last *sample.InterfaceSample
	for {
		select {
		case s := <-r.Samples():
			last = s
			continue
		default:
		}
		break
	}
	if last == nil {
		t.Fatal("no samples queued")
	}
	if last.Totals.Short.In != 9 {
		t.Errorf("newest sample short in = %v, want 9 (latest wins)", last.Totals.Short.In)
	}
	if r.sampleDrops.Load() == 0 {
		t.Error("expected sample drops when channel overflows")
	}
}

func TestRunnerStatusTransitions(t *testing.T) {
	r := newTestRunner(3)
	if r.Status() != sample.StatusWaiting {
		t.Errorf("initial status = %s, want waiting", r.Status())
	}
	r.deliver(&sample.InterfaceSample{Interface: "eth0"})
	if r.Status() != sample.StatusActive {
		t.Errorf("status after sample = %s, want active", r.Status())
	}
}
