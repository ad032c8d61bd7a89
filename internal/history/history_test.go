package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func TestRecordUpdatesOutcome(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "calls.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	ctx := context.Background()

	start := time.Now().Add(-time.Minute)
	if err := s.Record(ctx, Entry{CallSid: "CA1", From: "+15550100", To: "client:me", Direction: Incoming, Outcome: Ringing, StartedAt: start}); err != nil {
		t.Fatal(err)
	}
	if err := s.Record(ctx, Entry{CallSid: "CA1", Direction: Incoming, Outcome: Missed}); err != nil {
		t.Fatal(err)
	}

	list, err := s.List(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 {
		t.Fatalf("rows = %d, want 1", len(list))
	}
	e := list[0]
	if e.Outcome != Missed || e.From != "+15550100" || e.To != "client:me" {
		t.Fatalf("entry = %+v", e)
	}
	if e.StartedAt.UnixMilli() != start.UnixMilli() {
		t.Fatalf("start time changed: %v", e.StartedAt)
	}

	o, ok, err := s.Outcome(ctx, "CA1")
	if err != nil || !ok || o != Missed {
		t.Fatalf("outcome = %q %v %v", o, ok, err)
	}
	if _, ok, _ := s.Outcome(ctx, "CA404"); ok {
		t.Fatal("unknown call reported")
	}
}

func TestListNewestFirstAndClear(t *testing.T) {
	s, err := Open("")
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	ctx := context.Background()
	s.Clear(ctx)

	base := time.Now()
	for i, sid := range []string{"CA1", "CA2", "CA3"} {
		if err := s.Record(ctx, Entry{CallSid: sid, Direction: Outgoing, Outcome: Ended, StartedAt: base.Add(time.Duration(i) * time.Second)}); err != nil {
			t.Fatal(err)
		}
	}

	list, err := s.List(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 || list[0].CallSid != "CA3" || list[1].CallSid != "CA2" {
		t.Fatalf("list = %+v", list)
	}

	if err := s.Clear(ctx); err != nil {
		t.Fatal(err)
	}
	if list, _ := s.List(ctx, 10); len(list) != 0 {
		t.Fatalf("rows after clear: %d", len(list))
	}
	if err := s.Record(ctx, Entry{}); err == nil {
		t.Fatal("empty call sid accepted")
	}
}
