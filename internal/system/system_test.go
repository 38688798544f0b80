package system

import (
	"context"
	"errors"
	"testing"
)

type fakeService struct {
	name     string
	startErr error
	stopErr  error
	trace    *[]string
}

func (s *fakeService) Name() string { return s.name }

func (s *fakeService) Start(context.Context) error {
	*s.trace = append(*s.trace, "start:"+s.name)
	return s.startErr
}

func (s *fakeService) Stop(context.Context) error {
	*s.trace = append(*s.trace, "stop:"+s.name)
	return s.stopErr
}

func TestManagerStartsInOrderStopsInReverse(t *testing.T) {
	var trace []string
	m := NewManager(nil)
	m.Register(&fakeService{name: "a", trace: &trace})
	m.Register(&fakeService{name: "b", trace: &trace})
	m.Register(&fakeService{name: "c", trace: &trace})

	ctx := context.Background()
	if err := m.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := m.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}

	want := []string{"start:a", "start:b", "start:c", "stop:c", "stop:b", "stop:a"}
	if len(trace) != len(want) {
		t.Fatalf("trace = %v", trace)
	}
	for i := range want {
		if trace[i] != want[i] {
			t.Fatalf("trace[%d] = %s, want %s", i, trace[i], want[i])
		}
	}
}

func TestManagerUnwindsOnStartFailure(t *testing.T) {
	var trace []string
	boom := errors.New("port in use")
	m := NewManager(nil)
	m.Register(&fakeService{name: "a", trace: &trace})
	m.Register(&fakeService{name: "b", startErr: boom, trace: &trace})
	m.Register(&fakeService{name: "c", trace: &trace})

	if err := m.Start(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("start = %v, want the failure", err)
	}

	want := []string{"start:a", "start:b", "stop:a"}
	if len(trace) != len(want) {
		t.Fatalf("trace = %v, want %v", trace, want)
	}
	for i := range want {
		if trace[i] != want[i] {
			t.Fatalf("trace[%d] = %s, want %s", i, trace[i], want[i])
		}
	}
}

func TestManagerStopReportsFirstErrorButStopsAll(t *testing.T) {
	var trace []string
	boom := errors.New("drain timeout")
	m := NewManager(nil)
	m.Register(&fakeService{name: "a", trace: &trace})
	m.Register(&fakeService{name: "b", stopErr: boom, trace: &trace})
	m.Register(&fakeService{name: "c", trace: &trace})

	ctx := context.Background()
	if err := m.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := m.Stop(ctx); !errors.Is(err, boom) {
		t.Fatalf("stop = %v, want the failure surfaced", err)
	}
	stops := 0
	for _, step := range trace {
		if step == "stop:a" || step == "stop:b" || step == "stop:c" {
			stops++
		}
	}
	if stops != 3 {
		t.Fatalf("stopped %d of 3 services: %v", stops, trace)
	}
}
