package events

import "testing"

func TestRingBufferWraps(t *testing.T) {
	rb := NewRingBuffer(3)
	for _, name := range []string{"a", "b", "c", "d"} {
		rb.Add(Event{Name: name})
	}

	got := rb.Snapshot()
	if len(got) != 3 {
		t.Fatalf("expected 3 events, got %d", len(got))
	}
	if got[0].Name != "b" || got[2].Name != "d" {
		t.Errorf("unexpected order: %v", got)
	}
	if rb.Total() != 4 {
		t.Errorf("expected total 4, got %d", rb.Total())
	}
}

func TestRingBufferClear(t *testing.T) {
	rb := NewRingBuffer(2)
	rb.Add(Event{Name: "a"})
	rb.Add(Event{Name: "b"})
	rb.Add(Event{Name: "c"})
	rb.Clear()

	if len(rb.Snapshot()) != 0 {
		t.Error("expected empty snapshot after clear")
	}
	rb.Add(Event{Name: "d"})
	if got := rb.Snapshot(); len(got) != 1 || got[0].Name != "d" {
		t.Errorf("unexpected snapshot after clear: %v", got)
	}
}

func TestRingBufferLast(t *testing.T) {
	rb := NewRingBuffer(4)
	for i, sid := range []string{"s-1", "s-2", "s-1", "s-1", "s-2"} {
		rb.Add(Event{Name: "batch.started", Fields: map[string]interface{}{"session_id": sid, "i": i}})
	}

	isS1 := func(e Event) bool { return e.SessionID() == "s-1" }
	got := rb.Last(2, isS1)
	if len(got) != 2 || got[0].Fields["i"] != 2 || got[1].Fields["i"] != 3 {
		t.Errorf("unexpected last 2: %v", got)
	}
	if all := rb.Last(0, isS1); len(all) != 2 {
		t.Errorf("expected the 2 buffered s-1 events, got %d", len(all))
	}
	if got := rb.Last(3, nil); len(got) != 3 || got[2].Fields["i"] != 4 {
		t.Errorf("unexpected unfiltered last 3: %v", got)
	}
	if got := NewRingBuffer(2).Last(5, nil); got == nil || len(got) != 0 {
		t.Errorf("expected empty non-nil slice, got %#v", got)
	}
}
