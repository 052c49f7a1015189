package models

import "testing"

func TestCanTransition_HappyPath(t *testing.T) {
	cases := []struct {
		from, to JobStatus
		want     bool
	}{
		{JobPending, JobQueued, true},
		{JobQueued, JobRunning, true},
		{JobRunning, JobCompleted, true},
		{JobRunning, JobFailed, true},
		{JobPending, JobCancelled, true},
		{JobQueued, JobCancelled, true},
		{JobRunning, JobCancelled, true},
	}
	for _, c := range cases {
		if got := CanTransition(c.from, c.to); got != c.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", c.from, c.to, got, c.want)
		}
	}
}

// TestCanTransition_TerminalIsOneWay checks that no job transitions out
// of a terminal state.
func TestCanTransition_TerminalIsOneWay(t *testing.T) {
	for _, terminal := range []JobStatus{JobCompleted, JobFailed, JobCancelled} {
		for _, to := range []JobStatus{JobPending, JobQueued, JobRunning, JobCompleted, JobFailed, JobCancelled} {
			if CanTransition(terminal, to) {
				t.Errorf("CanTransition(%s, %s) should be false: terminal states are one-way", terminal, to)
			}
		}
	}
}

func TestCanTransition_RejectsSkippingQueue(t *testing.T) {
	if CanTransition(JobPending, JobRunning) {
		t.Error("pending should not be able to skip queued and go straight to running")
	}
}

func TestJobStatus_Terminal(t *testing.T) {
	terminal := map[JobStatus]bool{
		JobPending: false, JobQueued: false, JobRunning: false,
		JobCompleted: true, JobFailed: true, JobCancelled: true,
	}
	for status, want := range terminal {
		if got := status.Terminal(); got != want {
			t.Errorf("%s.Terminal() = %v, want %v", status, got, want)
		}
	}
}
