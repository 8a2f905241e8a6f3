package iftop

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"log"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"iftopweb/sample"
)

// RunnerConfig bounds the supervision loop for one interface.
type RunnerConfig struct {
	Command     string        // iftop binary (name or absolute path)
	BackoffBase time.Duration // First restart delay
	BackoffMax  time.Duration // Restart delay cap
	MaxFailures int           // Consecutive failures before giving up
	DisplayCap  int           // Top-connections bound handed to the parser
}

// Runner keeps exactly one iftop subprocess alive for one interface and emits
// parsed samples. Each Runner owns its own supervision goroutine; interfaces
// never share state, so one interface failing permanently leaves the others
// untouched.
type Runner struct {
	iface   string
	cfg     RunnerConfig
	parser  *Parser
	samples chan *sample.InterfaceSample

	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{}
	stopOnce sync.Once

	failures    atomic.Int32
	restarts    atomic.Uint64
	sampleDrops atomic.Uint64
	status      atomic.Value // sample.InterfaceStatus

	// startProcess is swapped out by tests to drive the supervisor with
	// scripted output instead of a real subprocess.
	startProcess func(ctx context.Context) error
}

// NewRunner creates a supervisor for one interface. Samples are delivered on
// a small bounded channel with latest-wins semantics; a consumer that stalls
// loses old samples, never fresh ones.
func NewRunner(iface string, cfg RunnerConfig, resolver HostResolver) *Runner {
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = time.Second
	}
	if cfg.BackoffMax < cfg.BackoffBase {
		cfg.BackoffMax = cfg.BackoffBase
	}
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 10
	}
	if strings.TrimSpace(cfg.Command) == "" {
		cfg.Command = "iftop"
	}

	ctx, cancel := context.WithCancel(context.Background())
	r := &Runner{
		iface:   iface,
		cfg:     cfg,
		parser:  NewParser(iface, cfg.DisplayCap, resolver),
		samples: make(chan *sample.InterfaceSample, 4),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	r.status.Store(sample.StatusWaiting)
	r.startProcess = r.runProcess
	return r
}

// Start launches the supervision goroutine.
func (r *Runner) Start() {
	go r.supervise()
}

// Samples returns the channel of parsed samples for this interface.
func (r *Runner) Samples() <-chan *sample.InterfaceSample {
	return r.samples
}

// Status reports the current sampling state.
func (r *Runner) Status() sample.InterfaceStatus {
	return r.status.Load().(sample.InterfaceStatus)
}

// ConsecutiveFailures returns the current failure streak.
func (r *Runner) ConsecutiveFailures() int {
	return int(r.failures.Load())
}

// Restarts returns how many times the subprocess has been relaunched.
func (r *Runner) Restarts() uint64 {
	return r.restarts.Load()
}

// ParserStats exposes the parse counters for the stats display. Safe to call
// from any goroutine while the supervisor is feeding lines.
func (r *Runner) ParserStats() ParserStats {
	return r.parser.Stats()
}

// Stop terminates the subprocess and the supervision loop. It blocks until
// the supervisor has exited so no orphan processes remain.
func (r *Runner) Stop() {
	r.stopOnce.Do(func() {
		r.cancel()
	})
	<-r.done
}

// supervise runs the subprocess in a loop, restarting after exponential
// backoff. The loop exits on shutdown, or permanently marks the interface
// failed after MaxFailures consecutive failures.
func (r *Runner) supervise() {
	// The supervisor is the only sender; closing the sample channel tells
	// the consumer no more data will ever arrive for this interface.
	defer func() {
		close(r.samples)
		close(r.done)
	}()

	delays := newBackoff(r.cfg.BackoffBase, r.cfg.BackoffMax)
	for {
		if r.ctx.Err() != nil {
			return
		}

		err := r.startProcess(r.ctx)
		if r.ctx.Err() != nil {
			return
		}

		// A generation that produced at least one valid sample cleared the
		// failure streak; its crash starts a fresh backoff ladder.
		if r.failures.Load() == 0 {
			delays.Reset()
		}
		failures := r.failures.Add(1)
		if err != nil {
			log.Printf("%s: sampler exited: %v (consecutive failures=%d)", r.iface, err, failures)
		} else {
			log.Printf("%s: sampler exited cleanly, restarting (consecutive failures=%d)", r.iface, failures)
		}

		if isPermissionError(err) {
			log.Printf("%s: sampler needs elevated privileges, giving up on this interface", r.iface)
			r.status.Store(sample.StatusFailed)
			return
		}
		if int(failures) >= r.cfg.MaxFailures {
			log.Printf("%s: %d consecutive sampler failures, marking interface permanently failed", r.iface, failures)
			r.status.Store(sample.StatusFailed)
			return
		}

		timer := time.NewTimer(delays.Next())
		select {
		case <-r.ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		r.restarts.Add(1)
	}
}

// runProcess launches one iftop generation and feeds its stdout through the
// parser until the process exits. -t selects text mode, -P shows ports, -N
// skips DNS resolution (host names come from the hosts table instead).
func (r *Runner) runProcess(ctx context.Context) error {
	// Any partial block from the previous generation is stale.
	r.parser.Reset()

	cmd := exec.CommandContext(ctx, r.cfg.Command, "-i", r.iface, "-t", "-P", "-N")
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", r.cfg.Command, err)
	}
	log.Printf("%s: sampler started (pid %d)", r.iface, cmd.Process.Pid)

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 256*1024)
	for scanner.Scan() {
		if s := r.parser.Feed(scanner.Text()); s != nil {
			r.deliver(s)
		}
	}

	err = cmd.Wait()
	if err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg != "" {
			return fmt.Errorf("%w: %s", err, firstLine(msg))
		}
		return err
	}
	return nil
}

// deliver publishes a sample with latest-wins semantics: when the channel is
// full the oldest queued sample is dropped in favor of the new one. A valid
// sample also resets the failure streak so intermittent crashes do not
// accumulate toward permanent failure.
func (r *Runner) deliver(s *sample.InterfaceSample) {
	r.failures.Store(0)
	r.status.Store(sample.StatusActive)

	select {
	case r.samples <- s:
		return
	default:
	}
	select {
	case <-r.samples:
		r.sampleDrops.Add(1)
	default:
	}
	select {
	case r.samples <- s:
	default:
	}
}

// isPermissionError detects the raw-socket privilege failure so it can be
// reported as a configuration error instead of burning restart attempts.
func isPermissionError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "permission denied") ||
		strings.Contains(msg, "operation not permitted") ||
		strings.Contains(msg, "privilege")
}

func firstLine(s string) string {
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		return s[:idx]
	}
	return s
}
