// Package cgipool implements the managed-CGI pool for the win-php-cgi path
// (spec.md §4.7): a fixed-size pool of spawned worker processes per
// PhpCgiHandler, each talking CGI/1.1 over stdin/stdout, with a bounded
// wait queue and a throttled respawn-on-crash state machine. Grounded on
// rehmatworks-fastcp's php-manager.go process-lifecycle pattern (spawn via
// os/exec, SIGTERM-then-timeout-then-SIGKILL shutdown, syscall.Credential
// privilege drop), reworked from a fixed PHP-FPM supervisor into a
// request-dispatching worker pool addressed by PhpCgiHandler.ID.
package cgipool

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"
)

// WorkerState is a worker's position in the state machine from spec.md §4.7.
type WorkerState int32

const (
	StateSpawned WorkerState = iota
	StateIdle
	StateBusy
	StateDead
	StateRespawning
)

const minRespawnInterval = 500 * time.Millisecond

// worker owns one spawned process and its state.
type worker struct {
	slot    int
	cmd     *exec.Cmd
	state   atomic.Int32
	lastRespawn time.Time
}

func (w *worker) getState() WorkerState   { return WorkerState(w.state.Load()) }
func (w *worker) setState(s WorkerState)  { w.state.Store(int32(s)) }

// Pool dispatches CGI requests across a fixed set of worker processes for
// one PhpCgiHandler.
type Pool struct {
	executable string
	timeout    time.Duration

	mu       sync.Mutex
	workers  []*worker
	queue    chan *worker // idle workers available to acquire()
	degraded int32        // count of slots currently dead/respawning
}

// NewPool spawns `size` workers running executable (size falls back to
// schedulableCPUs by the caller when concurrent_threads is 0, per spec.md §3).
func NewPool(executable string, size int, timeout time.Duration) (*Pool, error) {
	p := &Pool{
		executable: executable,
		timeout:    timeout,
		queue:      make(chan *worker, size),
	}
	for i := 0; i < size; i++ {
		w := &worker{slot: i}
		w.setState(StateSpawned)
		p.workers = append(p.workers, w)
		p.spawn(w)
		w.setState(StateIdle)
		p.queue <- w
	}
	return p, nil
}

// spawn starts (or restarts) the process backing worker w. It does not
// touch w's state; callers set StateIdle/StateDead around the call.
func (p *Pool) spawn(w *worker) {
	cmd := exec.Command(p.executable)
	applyCredential(cmd)
	w.cmd = cmd
	if err := cmd.Start(); err != nil {
		w.setState(StateDead)
		return
	}
	go func() {
		_ = cmd.Wait()
	}()
}

// Acquire blocks (respecting ctx) until an idle worker is available,
// returning a busy worker ready for Exchange. Admission-timeout backpressure
// (fail-fast 503) is applied by the caller via ctx's deadline.
func (p *Pool) Acquire(ctx context.Context) (*worker, error) {
	select {
	case w := <-p.queue:
		w.setState(StateBusy)
		return w, nil
	case <-ctx.Done():
		return nil, ErrAdmissionTimeout
	}
}

// ErrAdmissionTimeout is returned by Acquire when the wait queue could not
// produce a worker before the caller's deadline.
var ErrAdmissionTimeout = fmt.Errorf("cgipool: admission timeout")

// Handle acquires a worker, exchanges one CGI request/response, and
// returns it to the pool (or marks it dead), all in one call. This is the
// entry point external callers (internal/handler) use; Acquire/Exchange
// stay unexported-worker-typed for internal pool bookkeeping.
func (p *Pool) Handle(ctx context.Context, env map[string]string, body io.Reader) ([]byte, error) {
	w, err := p.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	return p.Exchange(ctx, w, env, body)
}

// Exchange sends a CGI/1.1 request over w's stdin and reads the response
// from stdout. On timeout, caller cancellation, or process death the
// worker transitions to dead and a throttled respawn is scheduled; it is
// never returned to the queue in those cases.
func (p *Pool) Exchange(ctx context.Context, w *worker, env map[string]string, body io.Reader) ([]byte, error) {
	stdin, err := w.cmd.StdinPipe()
	if err != nil {
		p.markDead(w)
		return nil, err
	}
	stdout, err := w.cmd.StdoutPipe()
	if err != nil {
		p.markDead(w)
		return nil, err
	}

	done := make(chan struct{})
	var out bytes.Buffer
	var copyErr error
	go func() {
		defer close(done)
		_, copyErr = io.Copy(&out, stdout)
	}()

	writeCGIRequest(stdin, env, body)
	stdin.Close()

	select {
	case <-done:
		if copyErr != nil {
			p.markDead(w)
			return nil, copyErr
		}
		p.release(w)
		return out.Bytes(), nil
	case <-time.After(p.timeout):
		p.markDead(w)
		return nil, fmt.Errorf("cgipool: request_timeout_s exceeded")
	case <-ctx.Done():
		p.markDead(w)
		return nil, ctx.Err()
	}
}

// writeCGIRequest writes a minimal CGI/1.1 header block followed by the body.
func writeCGIRequest(w io.Writer, env map[string]string, body io.Reader) {
	for k, v := range env {
		fmt.Fprintf(w, "%s=%s\n", k, v)
	}
	fmt.Fprint(w, "\n")
	if body != nil {
		io.Copy(w, body)
	}
}

// release returns a healthy worker to the idle queue.
func (p *Pool) release(w *worker) {
	w.setState(StateIdle)
	p.queue <- w
}

// markDead transitions a worker to dead and schedules a throttled respawn.
func (p *Pool) markDead(w *worker) {
	if w.cmd != nil && w.cmd.Process != nil {
		w.cmd.Process.Kill()
	}
	w.setState(StateDead)
	atomic.AddInt32(&p.degraded, 1)
	go p.respawn(w)
}

// respawn enforces the 500ms minimum interval between restarts of the same
// slot; repeated failures leave the slot degraded (never re-queued).
func (p *Pool) respawn(w *worker) {
	w.setState(StateRespawning)

	wait := minRespawnInterval - time.Since(w.lastRespawn)
	if wait > 0 {
		time.Sleep(wait)
	}
	w.lastRespawn = time.Now()

	p.spawn(w)
	if w.getState() == StateDead {
		// spawn() already flipped it back to dead on failure; leave degraded.
		return
	}
	atomic.AddInt32(&p.degraded, -1)
	p.release(w)
}

// EffectiveCapacity returns the pool's currently usable worker count
// (size minus degraded slots).
func (p *Pool) EffectiveCapacity() int {
	return len(p.workers) - int(atomic.LoadInt32(&p.degraded))
}

// Shutdown stops every worker process: SIGTERM, then a 10s grace period,
// then SIGKILL — mirrors rehmatworks-fastcp's stopInstance shutdown pattern.
func (p *Pool) Shutdown() {
	var wg sync.WaitGroup
	for _, w := range p.workers {
		wg.Add(1)
		go func(w *worker) {
			defer wg.Done()
			p.stopWorker(w)
		}(w)
	}
	wg.Wait()
}

func (p *Pool) stopWorker(w *worker) {
	if w.cmd == nil || w.cmd.Process == nil {
		return
	}
	w.cmd.Process.Signal(stopSignal)

	done := make(chan error, 1)
	go func() {
		_, err := w.cmd.Process.Wait()
		done <- err
	}()

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		w.cmd.Process.Kill()
	}
}
