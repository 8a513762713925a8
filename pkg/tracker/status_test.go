package tracker

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestTrackRetryCountMonotonic(t *testing.T) {
	tr := NewStatusTracker()
	defer tr.Close()

	st := tr.Track("msg-1", "user-a", "hello", 1700000000)
	if st.RetryCount != 0 {
		t.Fatalf("first delivery should have retry count 0, got %d", st.RetryCount)
	}

	for want := 1; want <= 2; want++ {
		st = tr.Track("msg-1", "user-a", "hello", 1700000000)
		if st.RetryCount != want {
			t.Fatalf("expected retry count %d, got %d", want, st.RetryCount)
		}
	}

	// a different message starts its own count
	if st := tr.Track("msg-2", "user-a", "other", 1700000001); st.RetryCount != 0 {
		t.Fatalf("new message inherited retry count %d", st.RetryCount)
	}
}

func TestMarkResultReturnedSingleWinner(t *testing.T) {
	tr := NewStatusTracker()
	defer tr.Close()

	tr.Track("msg-1", "user-a", "hello", 1700000000)

	const attempts = 16
	var wg sync.WaitGroup
	var mu sync.Mutex
	winners := 0

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if tr.MarkResultReturned("msg-1") {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if winners != 1 {
		t.Fatalf("expected exactly one winner, got %d", winners)
	}

	st, ok := tr.Get("msg-1")
	if !ok || !st.ResultReturned {
		t.Fatalf("result not marked returned: %+v", st)
	}
}

func TestWaitCompletion(t *testing.T) {
	tr := NewStatusTracker()
	defer tr.Close()

	tr.Track("msg-1", "user-a", "hello", 1700000000)

	go func() {
		time.Sleep(50 * time.Millisecond)
		tr.SetResult("msg-1", "the answer", "")
	}()

	if !tr.WaitCompletion(context.Background(), "msg-1", time.Second) {
		t.Fatal("expected completion within timeout")
	}

	st, _ := tr.Get("msg-1")
	if !st.Completed || st.Result != "the answer" {
		t.Fatalf("unexpected status: %+v", st)
	}

	// already-completed entries return immediately
	if !tr.WaitCompletion(context.Background(), "msg-1", time.Millisecond) {
		t.Fatal("completed entry should not block")
	}
}

func TestWaitCompletionTimeout(t *testing.T) {
	tr := NewStatusTracker()
	defer tr.Close()

	tr.Track("msg-1", "user-a", "hello", 1700000000)
	if tr.WaitCompletion(context.Background(), "msg-1", 30*time.Millisecond) {
		t.Fatal("expected timeout")
	}
	if tr.WaitCompletion(context.Background(), "unknown", time.Millisecond) {
		t.Fatal("unknown id should not report completion")
	}
}

func TestSetResultIdempotentCompletion(t *testing.T) {
	tr := NewStatusTracker()
	defer tr.Close()

	tr.Track("msg-1", "user-a", "hello", 1700000000)
	tr.SetResult("msg-1", "first", "")
	tr.SetResult("msg-1", "updated", "some error")

	st, _ := tr.Get("msg-1")
	if st.Result != "updated" || st.Err != "some error" || !st.Completed {
		t.Fatalf("unexpected status after double SetResult: %+v", st)
	}
}

func TestRetryDoneSignal(t *testing.T) {
	tr := NewStatusTracker()
	defer tr.Close()

	tr.Track("msg-1", "user-a", "hello", 1700000000)

	done := make(chan bool, 1)
	go func() {
		done <- tr.WaitRetryDone(context.Background(), "msg-1", time.Second)
	}()

	time.Sleep(20 * time.Millisecond)
	tr.SignalRetryDone("msg-1")
	tr.SignalRetryDone("msg-1") // second signal must not panic

	if !<-done {
		t.Fatal("expected retry-done signal to release waiter")
	}
}

func TestSweepRemovesOldCompleted(t *testing.T) {
	tr := NewStatusTracker()
	defer tr.Close()

	tr.Track("old-done", "user-a", "x", 1700000000)
	tr.SetResult("old-done", "r", "")
	tr.Track("old-pending", "user-a", "y", 1700000000)
	tr.Track("fresh-done", "user-a", "z", 1700000000)
	tr.SetResult("fresh-done", "r", "")

	// age the first two entries past retention
	tr.mu.Lock()
	past := time.Now().Add(-completedRetention - time.Minute)
	tr.entries["old-done"].st.StartTime = past
	tr.entries["old-pending"].st.StartTime = past
	tr.mu.Unlock()

	tr.sweep(time.Now())

	if _, ok := tr.Get("old-done"); ok {
		t.Fatal("old completed entry should be swept")
	}
	if _, ok := tr.Get("old-pending"); !ok {
		t.Fatal("pending entry must survive the sweep")
	}
	if _, ok := tr.Get("fresh-done"); !ok {
		t.Fatal("recently completed entry must survive the sweep")
	}
}

func TestSweepEvictsStaleUncompleted(t *testing.T) {
	tr := NewStatusTracker()
	defer tr.Close()

	tr.Track("abandoned", "user-a", "1", 1700000000)
	tr.Track("recent-pending", "user-a", "2", 1700000000)

	tr.mu.Lock()
	tr.entries["abandoned"].st.StartTime = time.Now().Add(-staleRetention - time.Minute)
	tr.mu.Unlock()

	tr.sweep(time.Now())

	if _, ok := tr.Get("abandoned"); ok {
		t.Fatal("stale uncompleted entry should be swept")
	}
	if _, ok := tr.Get("recent-pending"); !ok {
		t.Fatal("recent pending entry must survive the sweep")
	}
}

func TestSafeSweepAbsorbsPanic(t *testing.T) {
	calls := 0
	safeSweep("tracker", func() {
		calls++
		panic("boom")
	})
	safeSweep("tracker", func() { calls++ })
	if calls != 2 {
		t.Fatalf("expected both sweeps to run, got %d", calls)
	}
}
