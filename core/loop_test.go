package core

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type stubDrainer struct {
	mu    sync.Mutex
	calls int
}

func (d *stubDrainer) Drain() { d.mu.Lock(); d.calls++; d.mu.Unlock() }

func (d *stubDrainer) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

type stubBatch struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (b *stubBatch) Process() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls++
	return b.err
}

func (b *stubBatch) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls
}

func TestLoopRunsOnePassPerWake(t *testing.T) {
	d := &stubDrainer{}
	b := &stubBatch{}
	gate := NewGate()
	l := New(d, b, gate, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runErr := make(chan error, 1)
	go func() { runErr <- l.Run(ctx) }()

	for i := 0; i < 3; i++ {
		gate.Wake()
		deadline := time.Now().Add(time.Second)
		for d.count() <= i {
			if time.Now().After(deadline) {
				t.Fatalf("pass %d never ran", i)
			}
			time.Sleep(time.Millisecond)
		}
	}

	cancel()
	select {
	case err := <-runErr:
		if err != context.Canceled {
			t.Fatalf("Run returned %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}

	if d.count() != b.count() {
		t.Fatalf("drain count %d != batch count %d, every pass should do both", d.count(), b.count())
	}
}

func TestLoopRunsPassDespiteBatchError(t *testing.T) {
	d := &stubDrainer{}
	b := &stubBatch{err: errors.New("batch failed")}
	gate := NewGate()
	l := New(d, b, gate, &Opts{})

	ctx, cancel := context.WithCancel(context.Background())
	go l.Run(ctx)
	gate.Wake()

	deadline := time.Now().Add(time.Second)
	for b.count() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("pass never ran")
		}
		time.Sleep(time.Millisecond)
	}
	cancel()
}
