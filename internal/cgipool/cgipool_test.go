package cgipool

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/iSundram/gruxi/pkg/models"
)

// cat is used as a stand-in CGI worker: it echoes whatever is written to its
// stdin back to stdout once stdin is closed, which is enough to exercise the
// request/response framing in Exchange without a real PHP binary.
const catExecutable = "/bin/cat"

func TestPoolHandleEchoesRequest(t *testing.T) {
	p, err := NewPool(catExecutable, 2, 2*time.Second)
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}
	defer p.Shutdown()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	out, err := p.Handle(ctx, map[string]string{"SCRIPT_NAME": "/index.php"}, strings.NewReader("body content"))
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if !bytes.Contains(out, []byte("SCRIPT_NAME=/index.php")) {
		t.Errorf("expected echoed env in output, got %q", out)
	}
	if !bytes.Contains(out, []byte("body content")) {
		t.Errorf("expected echoed body in output, got %q", out)
	}
}

func TestPoolReleasesWorkerAfterExchange(t *testing.T) {
	p, err := NewPool(catExecutable, 1, 2*time.Second)
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}
	defer p.Shutdown()

	for i := 0; i < 3; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		_, err := p.Handle(ctx, map[string]string{"N": "1"}, nil)
		cancel()
		if err != nil {
			t.Fatalf("Handle iteration %d: %v", i, err)
		}
	}
	if got := p.EffectiveCapacity(); got != 1 {
		t.Errorf("EffectiveCapacity = %d, want 1 (no workers should be degraded)", got)
	}
}

func TestAcquireRespectsContextDeadline(t *testing.T) {
	p, err := NewPool(catExecutable, 1, 2*time.Second)
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}
	defer p.Shutdown()

	w, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer p.release(w)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := p.Acquire(ctx); err != ErrAdmissionTimeout {
		t.Fatalf("expected ErrAdmissionTimeout with no idle workers, got %v", err)
	}
}

func TestManagerReconcileStartsAndStopsPools(t *testing.T) {
	m := NewManager()

	handlers := []models.PhpCgiHandler{{ID: "h1", Executable: catExecutable, ConcurrentThreads: 1}}
	if err := m.Reconcile(handlers); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if _, ok := m.Pool("h1"); !ok {
		t.Fatal("expected pool h1 to be running after Reconcile")
	}

	// Removing the handler from the snapshot should stop its pool.
	if err := m.Reconcile(nil); err != nil {
		t.Fatalf("Reconcile (empty): %v", err)
	}
	if _, ok := m.Pool("h1"); ok {
		t.Fatal("expected pool h1 to be stopped after removal from the snapshot")
	}
}
