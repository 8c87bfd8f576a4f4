package handlers

import (
	"testing"
	"time"
)

func TestJobManagerLifecycle(t *testing.T) {
	jm := NewJobManager()

	job := jm.CreateJob("job-1", "team", "/data/refs", BuildJobOptions{Model: "Facenet", Detector: "opencv"})
	if job.GetStatus() != JobStatusPending {
		t.Errorf("expected pending status, got %s", job.GetStatus())
	}

	if got := jm.GetJob("job-1"); got != job {
		t.Error("expected to get the created job back")
	}
	if got := jm.GetJob("unknown"); got != nil {
		t.Error("expected nil for unknown job ID")
	}

	if jobs := jm.ListJobs(); len(jobs) != 1 {
		t.Errorf("expected 1 job, got %d", len(jobs))
	}

	jm.DeleteJob("job-1")
	if got := jm.GetJob("job-1"); got != nil {
		t.Error("expected job to be deleted")
	}
}

func TestEventBroadcasterDeliversToAllListeners(t *testing.T) {
	var b EventBroadcaster

	ch1 := b.AddListener()
	ch2 := b.AddListener()

	b.SendEvent(JobEvent{Type: "progress", Message: "halfway"})

	for i, ch := range []chan JobEvent{ch1, ch2} {
		select {
		case event := <-ch:
			if event.Type != "progress" || event.Message != "halfway" {
				t.Errorf("listener %d got unexpected event: %+v", i, event)
			}
		case <-time.After(time.Second):
			t.Fatalf("listener %d did not receive the event", i)
		}
	}
}

func TestEventBroadcasterRemoveListenerClosesChannel(t *testing.T) {
	var b EventBroadcaster

	ch := b.AddListener()
	b.RemoveListener(ch)

	select {
	case _, ok := <-ch:
		if ok {
			t.Error("expected channel to be closed, got an event")
		}
	case <-time.After(time.Second):
		t.Fatal("removed listener channel was not closed")
	}

	// Sending after removal must not panic or block.
	b.SendEvent(JobEvent{Type: "noop"})
}

func TestEventBroadcasterFullBufferDoesNotBlock(t *testing.T) {
	var b EventBroadcaster

	_ = b.AddListener()

	done := make(chan struct{})
	go func() {
		// More events than the channel buffers; sends must drop, not block.
		for i := 0; i < 500; i++ {
			b.SendEvent(JobEvent{Type: "progress"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("SendEvent blocked on a full listener buffer")
	}
}

func TestBuildJobCancelSetsStatus(t *testing.T) {
	jm := NewJobManager()
	job := jm.CreateJob("job-1", "team", "/data/refs", BuildJobOptions{})

	ch := job.AddListener()
	job.Cancel()

	if job.GetStatus() != JobStatusCancelled {
		t.Errorf("expected cancelled status, got %s", job.GetStatus())
	}

	select {
	case event := <-ch:
		if event.Type != "cancelled" {
			t.Errorf("expected cancelled event, got %q", event.Type)
		}
	case <-time.After(time.Second):
		t.Fatal("no cancelled event received")
	}
}

func TestIsJobTerminal(t *testing.T) {
	terminal := []JobStatus{JobStatusCompleted, JobStatusFailed, JobStatusCancelled}
	for _, status := range terminal {
		if !isJobTerminal(status) {
			t.Errorf("expected %s to be terminal", status)
		}
	}
	for _, status := range []JobStatus{JobStatusPending, JobStatusRunning} {
		if isJobTerminal(status) {
			t.Errorf("expected %s not to be terminal", status)
		}
	}
}
