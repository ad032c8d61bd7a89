package util

import (
	"os"
	"path/filepath"
	"testing"
)

func TestRingBufferEvicts(t *testing.T) {
	r := NewRingBuffer[int](3)
	for i := 1; i <= 5; i++ {
		r.Push(i)
	}
	if got := r.Snapshot(); len(got) != 3 || got[0] != 3 || got[2] != 5 {
		t.Fatalf("snapshot = %v, want [3 4 5]", got)
	}
	if got := r.Filter(nil, 2); len(got) != 2 || got[0] != 4 || got[1] != 5 {
		t.Fatalf("newest 2 = %v, want [4 5]", got)
	}
	if got := r.Filter(nil, 10); len(got) != 3 {
		t.Fatalf("newest 10 len = %d, want 3", len(got))
	}
	if r.Len() != 3 {
		t.Fatalf("len = %d", r.Len())
	}
}

func TestRingBufferFilter(t *testing.T) {
	r := NewRingBuffer[int](8)
	if got := r.Snapshot(); len(got) != 0 {
		t.Fatalf("empty snapshot = %v", got)
	}
	for i := 1; i <= 6; i++ {
		r.Push(i)
	}
	even := func(n int) bool { return n%2 == 0 }
	if got := r.Filter(even, -1); len(got) != 3 || got[0] != 2 || got[2] != 6 {
		t.Fatalf("even = %v, want [2 4 6]", got)
	}
	if got := r.Filter(even, 2); len(got) != 2 || got[0] != 4 || got[1] != 6 {
		t.Fatalf("newest 2 even = %v, want [4 6]", got)
	}
}

func TestCapitalize(t *testing.T) {
	cases := map[string]string{
		"":         "",
		"ringing":  "Ringing",
		"Ringing":  "Ringing",
		"1ringing": "1ringing",
		"r":        "R",
	}
	for in, want := range cases {
		if got := Capitalize(in); got != want {
			t.Errorf("Capitalize(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestWriteJSONFileCreatesDirs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a", "b", "x.json")
	if err := WriteJSONFile(path, map[string]int{"n": 1}); err != nil {
		t.Fatal(err)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != "{\n  \"n\": 1\n}" {
		t.Fatalf("unexpected content %q", b)
	}
}

func TestResolvePath(t *testing.T) {
	abs := filepath.Join(t.TempDir(), "x")
	if got := ResolvePath("base", abs); got != abs {
		t.Fatalf("absolute path not kept: %s", got)
	}
	if got := ResolvePath("base", "x"); got != filepath.Join("base", "x") {
		t.Fatalf("relative path not joined: %s", got)
	}
}

func TestExecutorRunsInOrderPastPanics(t *testing.T) {
	var panics int
	e := NewExecutor(func(any, []byte) { panics++ })

	var got []int
	e.Post(func() { got = append(got, 1) })
	e.Post(func() { panic("boom") })
	e.Post(func() {
		got = append(got, 2)
		e.Post(func() { got = append(got, 3) })
	})
	if !e.Sync() || !e.Sync() {
		t.Fatal("sync on a running executor failed")
	}
	if len(got) != 3 || got[0] != 1 || got[2] != 3 || panics != 1 {
		t.Fatalf("got %v, panics %d", got, panics)
	}

	e.Stop()
	<-e.Done()
	if e.Post(func() {}) || e.Sync() {
		t.Fatal("stopped executor accepted work")
	}
}
