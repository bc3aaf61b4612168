package cron

import (
	"context"
	"testing"
	"time"
)

type stubJob struct {
	name string
}

func (s *stubJob) Name() string              { return s.name }
func (s *stubJob) Run(context.Context) error { return nil }

func TestRegistryStoresJobs(t *testing.T) {
	registry := NewRegistry()
	jobA := &stubJob{name: "a"}
	jobB := &stubJob{name: "b"}
	registry.Register(jobA)
	registry.Register(nil)
	registry.RegisterEvery(jobB, time.Hour)
	jobs := registry.Jobs()
	if len(jobs) != 2 {
		t.Fatalf("expected 2 jobs, got %d", len(jobs))
	}
	if jobs[0] != jobA || jobs[1] != jobB {
		t.Fatalf("jobs returned out of order")
	}
	jobs[0] = nil
	if registry.Jobs()[0] == nil {
		t.Fatalf("registry exposed internal slice")
	}
}

func TestRegistryDueRespectsSpacing(t *testing.T) {
	every := &stubJob{name: "every"}
	hourly := &stubJob{name: "hourly"}
	registry := NewRegistry(every)
	registry.RegisterEvery(hourly, time.Hour)

	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	if due := registry.Due(start); len(due) != 2 {
		t.Fatalf("expected both jobs due on first cycle, got %d", len(due))
	}
	due := registry.Due(start.Add(30 * time.Minute))
	if len(due) != 1 || due[0] != every {
		t.Fatalf("expected only the unspaced job, got %v", due)
	}
	if due := registry.Due(start.Add(time.Hour)); len(due) != 2 {
		t.Fatalf("expected hourly job due again, got %d", len(due))
	}
}
