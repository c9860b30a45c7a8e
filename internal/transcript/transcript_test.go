package transcript

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestInMemoryAppendPreservesOrder(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()
	same := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	for i := 0; i < 5; i++ {
		// identical timestamps and a duplicate must not reorder or collapse entries
		text := fmt.Sprintf("line %d", i)
		if i == 3 {
			text = "line 2"
		}
		if err := s.Append(ctx, "m1", Entry{Speaker: "User", Text: text, Timestamp: same}); err != nil {
			t.Fatalf("Append() error = %v", err)
		}
	}

	got, err := s.List(ctx, "m1")
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	want := []string{"line 0", "line 1", "line 2", "line 2", "line 4"}
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i].Text != want[i] {
			t.Fatalf("entry[%d] = %q, want %q", i, got[i].Text, want[i])
		}
	}
}

func TestInMemoryListIsIsolatedPerMeeting(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()
	_ = s.Append(ctx, "a", Entry{Speaker: "User", Text: "for a"})

	got, _ := s.List(ctx, "b")
	if got == nil || len(got) != 0 {
		t.Fatalf("List(b) = %#v, want empty slice", got)
	}

	got, _ = s.List(ctx, "a")
	got[0].Text = "mutated"
	again, _ := s.List(ctx, "a")
	if again[0].Text != "for a" {
		t.Fatalf("List returned shared backing array")
	}
}

func TestInMemoryConcurrentAppends(t *testing.T) {
	s := NewInMemoryStore()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = s.Append(context.Background(), "m", Entry{Speaker: "User", Text: fmt.Sprint(i)})
		}(i)
	}
	wg.Wait()
	got, _ := s.List(context.Background(), "m")
	if len(got) != 50 {
		t.Fatalf("len = %d, want 50", len(got))
	}
}

func TestEntryTimestampSerializesAsUTC(t *testing.T) {
	s := NewInMemoryStore()
	loc := time.FixedZone("CET", 3600)
	_ = s.Append(context.Background(), "m", Entry{Speaker: "Ada", Text: "hi", Timestamp: time.Date(2026, 3, 1, 10, 0, 0, 0, loc)})
	got, _ := s.List(context.Background(), "m")

	raw, err := json.Marshal(got[0])
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	if !strings.Contains(string(raw), `"timestamp":"2026-03-01T09:00:00Z"`) {
		t.Fatalf("json = %s", raw)
	}
}

func TestNewStoreWithoutPoolIsInMemory(t *testing.T) {
	if _, ok := NewStore(nil).(*InMemoryStore); !ok {
		t.Fatalf("NewStore(nil) is not in-memory")
	}
}

func TestRedactPII(t *testing.T) {
	in := "mail ada@example.com or call +1 415 555 0100, card 4242 4242 4242 4242"
	out, changed := RedactPII(in)
	if !changed {
		t.Fatalf("changed = false")
	}
	for _, leaked := range []string{"ada@example.com", "555 0100", "4242 4242"} {
		if strings.Contains(out, leaked) {
			t.Fatalf("output %q still contains %q", out, leaked)
		}
	}
	if _, changed := RedactPII("nothing sensitive here"); changed {
		t.Fatalf("changed = true for clean input")
	}
}

func TestRedactingStoreMasksBeforeAppend(t *testing.T) {
	inner := NewInMemoryStore()
	s := NewRedactingStore(inner)
	_ = s.Append(context.Background(), "m", Entry{Speaker: "User", Text: "reach me at ada@example.com"})

	got, _ := inner.List(context.Background(), "m")
	if got[0].Text != "reach me at [REDACTED_EMAIL]" {
		t.Fatalf("stored text = %q", got[0].Text)
	}
}
