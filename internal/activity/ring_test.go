package activity

import (
	"fmt"
	"testing"
)

func TestRecordAndEntries(t *testing.T) {
	r := New(4)

	r.Record(Entry{Verb: "login", Status: 200})
	r.Record(Entry{Verb: "get", Endpoint: "/billing/invoices", Status: 200})

	entries := r.Entries()
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Verb != "login" || entries[1].Verb != "get" {
		t.Errorf("unexpected order: %+v", entries)
	}
	if entries[0].Time.IsZero() {
		t.Error("expected time to be stamped")
	}
}

func TestWrapAround(t *testing.T) {
	r := New(3)

	for i := 0; i < 5; i++ {
		r.Record(Entry{Verb: fmt.Sprintf("op-%d", i)})
	}

	entries := r.Entries()
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	for i, want := range []string{"op-2", "op-3", "op-4"} {
		if entries[i].Verb != want {
			t.Errorf("entry %d: expected %s, got %s", i, want, entries[i].Verb)
		}
	}
}

func TestLast(t *testing.T) {
	r := New(10)

	for i := 0; i < 6; i++ {
		r.Record(Entry{Verb: fmt.Sprintf("op-%d", i)})
	}

	last := r.Last(2)
	if len(last) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(last))
	}
	if last[0].Verb != "op-4" || last[1].Verb != "op-5" {
		t.Errorf("unexpected last entries: %+v", last)
	}

	if got := r.Last(100); len(got) != 6 {
		t.Errorf("Last(100) should return all 6, got %d", len(got))
	}
}
