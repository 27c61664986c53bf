package core

import (
	"errors"
	"testing"
)

type stubComponent struct {
	name string
	err  error
	inits int
}

func (s *stubComponent) String() string { return s.name }
func (s *stubComponent) Init() error    { s.inits++; return s.err }

func TestRegistryInitOrderAndLoaded(t *testing.T) {
	a := &stubComponent{name: "a"}
	b := &stubComponent{name: "b"}
	r := &Registry{}
	r.MustRegister(a)
	r.MustRegister(b)

	loaded, failed, err := r.Init()
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	if len(failed) != 0 {
		t.Fatalf("failed = %v, want none", failed)
	}
	if want := []string{"a", "b"}; !equalStrings(loaded, want) {
		t.Fatalf("loaded = %v, want %v", loaded, want)
	}
	if a.inits != 1 || b.inits != 1 {
		t.Fatalf("inits = %d,%d, want 1,1", a.inits, b.inits)
	}
}

func TestRegistryStopsAtFirstFailure(t *testing.T) {
	boom := errors.New("boom")
	a := &stubComponent{name: "a"}
	b := &stubComponent{name: "b", err: boom}
	c := &stubComponent{name: "c"}
	r := &Registry{}
	r.MustRegister(a)
	r.MustRegister(b)
	r.MustRegister(c)

	loaded, failed, err := r.Init()
	if err == nil {
		t.Fatal("expected an error")
	}
	if len(failed) != 1 || failed[0].Component != b {
		t.Fatalf("failed = %v, want [b]", failed)
	}
	if want := []string{"a"}; !equalStrings(loaded, want) {
		t.Fatalf("loaded = %v, want %v", loaded, want)
	}
	if c.inits != 0 {
		t.Fatal("component after the failure must not be initialized")
	}
}

func TestRegistryInitIsIdempotent(t *testing.T) {
	a := &stubComponent{name: "a"}
	r := &Registry{}
	r.MustRegister(a)

	if _, _, err := r.Init(); err != nil {
		t.Fatalf("first Init: %v", err)
	}
	if _, _, err := r.Init(); err != nil {
		t.Fatalf("second Init: %v", err)
	}
	if a.inits != 1 {
		t.Fatalf("inits = %d, want 1 (no re-run on repeat Init)", a.inits)
	}
}

func TestRegistryRejectsRegisterAfterInit(t *testing.T) {
	r := &Registry{}
	r.MustRegister(&stubComponent{name: "a"})
	if _, _, err := r.Init(); err != nil {
		t.Fatal(err)
	}
	if err := r.Register(&stubComponent{name: "late"}); err == nil {
		t.Fatal("expected Register after Init to fail")
	}
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
