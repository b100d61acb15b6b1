package cli

import (
	"sync/atomic"
	"testing"
)

func TestSyncSchedulerSkipsOverlap(t *testing.T) {
	c := newSyncScheduler()
	started := make(chan struct{}, 1)
	release := make(chan struct{})
	var runs atomic.Int32

	id, err := c.AddFunc("@every 1h", func() {
		runs.Add(1)
		started <- struct{}{}
		<-release
	})
	if err != nil {
		t.Fatal(err)
	}
	job := c.Entry(id).WrappedJob

	done := make(chan struct{})
	go func() {
		job.Run()
		close(done)
	}()
	<-started

	// still running: this tick is skipped and returns at once
	job.Run()
	close(release)
	<-done

	if got := runs.Load(); got != 1 {
		t.Errorf("runs = %d, want 1", got)
	}
}
