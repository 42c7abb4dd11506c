package worker

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

type fakeJob struct {
	id  string
	err error
}

func (f fakeJob) ID() string  { return f.id }
func (f fakeJob) Run() error  { return f.err }

func TestPoolRunsSubmittedJobsAndReportsResults(t *testing.T) {
	p := NewPool(context.Background(), 3, 10)
	p.Start()

	const n = 20
	for i := 0; i < n; i++ {
		if err := p.Submit(fakeJob{id: fmt.Sprintf("job-%d", i)}); err != nil {
			t.Fatalf("unexpected submit error: %v", err)
		}
	}

	seen := map[string]bool{}
	for i := 0; i < n; i++ {
		select {
		case r := <-p.Results():
			if r.Error != nil {
				t.Fatalf("unexpected job error: %v", r.Error)
			}
			seen[r.JobID] = true
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for result %d", i)
		}
	}
	if len(seen) != n {
		t.Fatalf("expected %d distinct job results, got %d", n, len(seen))
	}

	p.Stop()
	stats := p.Stats()
	if stats.JobsSubmitted != n || stats.JobsCompleted != n || stats.JobsFailed != 0 {
		t.Fatalf("unexpected stats: submitted=%d completed=%d failed=%d", stats.JobsSubmitted, stats.JobsCompleted, stats.JobsFailed)
	}
}

func TestPoolTracksFailedJobs(t *testing.T) {
	p := NewPool(context.Background(), 2, 4)
	p.Start()

	if err := p.Submit(fakeJob{id: "bad", err: errors.New("boom")}); err != nil {
		t.Fatalf("unexpected submit error: %v", err)
	}
	select {
	case r := <-p.Results():
		if r.Error == nil {
			t.Fatalf("expected the job's error to be reported")
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for the failing job's result")
	}

	p.Stop()
	stats := p.Stats()
	if stats.JobsFailed != 1 {
		t.Fatalf("expected exactly one failed job recorded, got %d", stats.JobsFailed)
	}
}

func TestPoolShutdownReturnsPromptly(t *testing.T) {
	p := NewPool(context.Background(), 1, 1)
	p.Start()
	if err := p.Shutdown(time.Second); err != nil {
		t.Fatalf("expected a clean shutdown with no in-flight work, got %v", err)
	}
}
