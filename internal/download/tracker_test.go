package download

import (
	"testing"
)

func TestTrackerAddGetList(t *testing.T) {
	tr := NewTracker()
	tr.Add("t1", "r1", "a.txt", nil)
	tr.Add("t2", "r2", "b.txt", nil)

	if tr.Get("t1") == nil || tr.Get("t2") == nil {
		t.Fatal("added tasks not retrievable")
	}
	if tr.Get("t3") != nil {
		t.Fatal("unknown id returned a task")
	}

	views := tr.List()
	if len(views) != 2 {
		t.Fatalf("List length = %d, want 2", len(views))
	}
	if views[0].ID != "t1" || views[1].ID != "t2" {
		t.Errorf("List order = [%s %s], want creation order", views[0].ID, views[1].ID)
	}
}

func TestTrackerCancel(t *testing.T) {
	tr := NewTracker()
	cancelled := false
	tr.Add("t1", "r1", "", func() { cancelled = true })

	if !tr.Cancel("t1") {
		t.Fatal("Cancel returned false for a known task")
	}
	if !cancelled {
		t.Error("cancel func not invoked")
	}
	if s := tr.Get("t1").Snapshot().Status; s != StatusCancelled {
		t.Errorf("status = %s, want cancelled", s)
	}
	if tr.Cancel("nope") {
		t.Error("Cancel returned true for an unknown task")
	}
}

func TestTrackerRemoveTerminal(t *testing.T) {
	tr := NewTracker()
	done := tr.Add("done", "r1", "", nil)
	done.complete()
	failed := tr.Add("failed", "r2", "", nil)
	failed.fail(nil)
	tr.Add("live", "r3", "", nil)

	if n := tr.RemoveTerminal(); n != 2 {
		t.Errorf("RemoveTerminal = %d, want 2", n)
	}
	if tr.Get("live") == nil {
		t.Error("live task was removed")
	}
	if tr.Get("done") != nil || tr.Get("failed") != nil {
		t.Error("terminal tasks survived removal")
	}
}
