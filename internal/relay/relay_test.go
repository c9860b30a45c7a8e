package relay

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/ent0n29/meetbridge/internal/logging"
)

func newTestRelay(size int) *Relay {
	return New(size, logging.Discard())
}

func TestRecentReturnsNewestInArrivalOrder(t *testing.T) {
	r := newTestRelay(5)
	for i := 0; i < 12; i++ {
		r.Publish("m1", []byte{byte(i)})
	}

	if got := r.Buffered("m1"); got != 5 {
		t.Fatalf("Buffered = %d, want 5", got)
	}

	cases := []struct {
		count int
		want  []byte
	}{
		{count: 3, want: []byte{9, 10, 11}},
		{count: 5, want: []byte{7, 8, 9, 10, 11}},
		{count: 50, want: []byte{7, 8, 9, 10, 11}},
		{count: 0, want: []byte{}},
	}
	for _, tc := range cases {
		t.Run(fmt.Sprintf("count=%d", tc.count), func(t *testing.T) {
			chunks := r.Recent("m1", tc.count)
			got := make([]byte, 0, len(chunks))
			for _, c := range chunks {
				got = append(got, c.Data[0])
			}
			if !bytes.Equal(got, tc.want) {
				t.Fatalf("Recent(%d) = %v, want %v", tc.count, got, tc.want)
			}
		})
	}
}

func TestRecentUnknownMeetingIsEmpty(t *testing.T) {
	r := newTestRelay(5)
	if got := r.Recent("nope", 10); got == nil || len(got) != 0 {
		t.Fatalf("Recent(unknown) = %v, want empty non-nil slice", got)
	}
}

func TestBufferNeverExceedsCap(t *testing.T) {
	r := newTestRelay(DefaultBufferSize)
	for i := 0; i < 3*DefaultBufferSize+7; i++ {
		r.Publish("m1", []byte{1})
		if b := r.Buffered("m1"); b > DefaultBufferSize {
			t.Fatalf("Buffered = %d after %d publishes, cap %d", b, i+1, DefaultBufferSize)
		}
	}
	chunks := r.Recent("m1", DefaultBufferSize)
	for i := 1; i < len(chunks); i++ {
		if chunks[i].Seq != chunks[i-1].Seq+1 {
			t.Fatalf("sequence gap at %d: %d -> %d", i, chunks[i-1].Seq, chunks[i].Seq)
		}
	}
}

func TestPublishCopiesInput(t *testing.T) {
	r := newTestRelay(5)
	data := []byte{1, 2, 3}
	r.Publish("m1", data)
	data[0] = 99
	if got := r.Recent("m1", 1)[0].Data[0]; got != 1 {
		t.Fatalf("stored chunk mutated through caller slice: %d", got)
	}
}

func TestUnsubscribeStopsDeliveryAndIsIdempotent(t *testing.T) {
	r := newTestRelay(5)
	calls := 0
	unsubscribe := r.Subscribe("m1", func(Chunk) { calls++ })

	d := r.Publish("m1", []byte{1})
	if calls != 1 || d.Delivered != 1 || d.Dropped() {
		t.Fatalf("calls = %d, delivery = %+v", calls, d)
	}

	unsubscribe()
	unsubscribe()

	d = r.Publish("m1", []byte{2})
	if calls != 1 {
		t.Fatalf("callback invoked after unsubscribe: calls = %d", calls)
	}
	if !d.Dropped() || d.Subscribers != 0 {
		t.Fatalf("delivery = %+v, want dropped with zero subscribers", d)
	}
}

func TestUnsubscribeRemovesOnlyItsOwnRegistration(t *testing.T) {
	r := newTestRelay(5)
	var a, b int
	unsubA := r.Subscribe("m1", func(Chunk) { a++ })
	r.Subscribe("m1", func(Chunk) { b++ })

	unsubA()
	r.Publish("m1", []byte{1})
	if a != 0 || b != 1 {
		t.Fatalf("a = %d, b = %d, want 0 and 1", a, b)
	}
}

func TestFailingSubscriberDoesNotBlockOthers(t *testing.T) {
	r := newTestRelay(5)
	var got []string
	r.Subscribe("m1", func(Chunk) { got = append(got, "first") })
	r.Subscribe("m1", func(Chunk) { panic("listener went away") })
	r.Subscribe("m1", func(Chunk) { got = append(got, "third") })

	d := r.Publish("m1", []byte{1})
	if d.Subscribers != 3 || d.Delivered != 2 || d.Failed != 1 {
		t.Fatalf("delivery = %+v, want 3 subscribers, 2 delivered, 1 failed", d)
	}
	if len(got) != 2 || got[0] != "first" || got[1] != "third" {
		t.Fatalf("got = %v", got)
	}
}

func TestMeetingsAreIsolated(t *testing.T) {
	r := newTestRelay(5)
	var m2calls int
	r.Subscribe("m2", func(Chunk) { m2calls++ })
	r.Publish("m1", []byte{1})
	if m2calls != 0 {
		t.Fatalf("m2 subscriber saw m1 audio")
	}
	if r.Buffered("m2") != 0 {
		t.Fatalf("m2 buffer should be empty")
	}
}

func TestClearDropsBufferAndSubscribers(t *testing.T) {
	r := newTestRelay(5)
	calls := 0
	unsubscribe := r.Subscribe("m1", func(Chunk) { calls++ })
	r.Publish("m1", []byte{1})

	r.Clear("m1")
	if r.Buffered("m1") != 0 || r.SubscriberCount("m1") != 0 {
		t.Fatalf("Clear left state behind")
	}
	r.Publish("m1", []byte{2})
	if calls != 1 {
		t.Fatalf("cleared subscriber still invoked: calls = %d", calls)
	}
	unsubscribe()
}

func TestClearClosesStreamSubscriptions(t *testing.T) {
	r := newTestRelay(5)
	done, unsubscribe := r.SubscribeStream("m1", func(Chunk) {})
	otherDone, otherUnsub := r.SubscribeStream("m2", func(Chunk) {})
	defer otherUnsub()

	select {
	case <-done:
		t.Fatalf("done closed before Clear")
	default:
	}
	r.Clear("m1")
	select {
	case <-done:
	default:
		t.Fatalf("done still open after Clear")
	}
	select {
	case <-otherDone:
		t.Fatalf("Clear(m1) closed another meeting's subscription")
	default:
	}

	unsubscribe()
	r.Clear("m1")
	if r.SubscriberCount("m2") != 1 {
		t.Fatalf("m2 subscribers = %d, want 1", r.SubscriberCount("m2"))
	}
}

func TestObserverSeesDeliveryResult(t *testing.T) {
	r := newTestRelay(5)
	var results []string
	r.SetObserver(func(result string) { results = append(results, result) })

	r.Publish("m1", []byte{1})
	r.Subscribe("m1", func(Chunk) {})
	r.Publish("m1", []byte{2})
	if len(results) != 2 || results[0] != "dropped" || results[1] != "delivered" {
		t.Fatalf("results = %v", results)
	}
}
