package invoice

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"go.uber.org/zap"
	gmailv1 "google.golang.org/api/gmail/v1"

	"github.com/controlcash/cashmail/auth"
)

type fakeConn bool

func (c fakeConn) IsConnected() bool { return bool(c) }

type fakeSource struct {
	mu       sync.Mutex
	ids      []string
	messages map[string]*gmailv1.Message
	fetchErr map[string]error

	searchCalls int
	fetchCalls  int
}

func (f *fakeSource) Search(ctx context.Context, daysBack int) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.searchCalls++
	return f.ids, nil
}

func (f *fakeSource) FetchFull(ctx context.Context, id string) (*gmailv1.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetchCalls++
	if err, ok := f.fetchErr[id]; ok {
		return nil, err
	}
	msg, ok := f.messages[id]
	if !ok {
		return nil, fmt.Errorf("no such message %s", id)
	}
	return msg, nil
}

func newScanner(conn fakeConn, src *fakeSource, maxMessages int) *Scanner {
	return NewScanner(conn, src, NewExtractor("ILS"), maxMessages, zap.NewNop())
}

func TestSearch_NotConnected(t *testing.T) {
	src := &fakeSource{ids: []string{"m1"}}
	s := newScanner(false, src, 50)

	_, err := s.Search(context.Background(), 30, nil)
	if !errors.Is(err, auth.ErrNotConnected) {
		t.Fatalf("err = %v, want ErrNotConnected", err)
	}
	if src.searchCalls != 0 || src.fetchCalls != 0 {
		t.Fatal("disconnected search must not reach the network")
	}
}

func TestSearch_EmptyWindow(t *testing.T) {
	src := &fakeSource{}
	s := newScanner(true, src, 50)

	recs, err := s.Search(context.Background(), 30, nil)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if recs == nil || len(recs) != 0 {
		t.Fatalf("zero matches should be an empty slice, got %#v", recs)
	}
}

func TestSearch_NoMatchMessagesAreFiltered(t *testing.T) {
	src := &fakeSource{
		ids: []string{"m1", "m2", "m3"},
		messages: map[string]*gmailv1.Message{
			"m1": newMessage("m1", "a@acme.com", "Invoice", "Total: ₪100", 1),
			"m2": newMessage("m2", "b@other.com", "Hi", "no money talk here", 2),
			"m3": newMessage("m3", "c@shop.io", "Receipt", "$25.00 paid", 3),
		},
	}
	s := newScanner(true, src, 50)

	recs, err := s.Search(context.Background(), 30, nil)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("got %d records, want 2", len(recs))
	}
	// Input order preserved.
	if recs[0].ID != "m1" || recs[1].ID != "m3" {
		t.Fatalf("order: %s, %s", recs[0].ID, recs[1].ID)
	}
}

func TestSearch_FetchFailureSkipsOnlyThatMessage(t *testing.T) {
	src := &fakeSource{
		ids: []string{"m1", "m2"},
		messages: map[string]*gmailv1.Message{
			"m2": newMessage("m2", "b@shop.io", "Receipt", "€9.99", 2),
		},
		fetchErr: map[string]error{"m1": errors.New("network hiccup")},
	}
	s := newScanner(true, src, 50)

	recs, err := s.Search(context.Background(), 30, nil)
	if err != nil {
		t.Fatalf("a transient per-message failure must not fail the run: %v", err)
	}
	if len(recs) != 1 || recs[0].ID != "m2" {
		t.Fatalf("got %#v", recs)
	}
}

func TestSearch_AuthErrorFailsWholeRun(t *testing.T) {
	src := &fakeSource{
		ids: []string{"m1", "m2"},
		messages: map[string]*gmailv1.Message{
			"m2": newMessage("m2", "b@shop.io", "Receipt", "€9.99", 2),
		},
		fetchErr: map[string]error{
			"m1": fmt.Errorf("get message m1: %w", auth.ErrReconnectRequired),
		},
	}
	s := newScanner(true, src, 50)

	_, err := s.Search(context.Background(), 30, nil)
	if !errors.Is(err, auth.ErrReconnectRequired) {
		t.Fatalf("err = %v, want ErrReconnectRequired", err)
	}
}

func TestSearch_DeduplicatesByMessageID(t *testing.T) {
	src := &fakeSource{
		ids: []string{"m1", "m2", "m1"},
		messages: map[string]*gmailv1.Message{
			"m1": newMessage("m1", "a@acme.com", "Invoice", "₪100", 1),
			"m2": newMessage("m2", "b@shop.io", "Receipt", "$5.00", 2),
		},
	}
	s := newScanner(true, src, 50)

	recs, err := s.Search(context.Background(), 30, nil)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	seen := map[string]bool{}
	for _, r := range recs {
		if seen[r.ID] {
			t.Fatalf("duplicate id %s in result set", r.ID)
		}
		seen[r.ID] = true
	}
	if len(recs) != 2 {
		t.Fatalf("got %d records, want 2", len(recs))
	}
}

func TestSearch_RespectsMessageCap(t *testing.T) {
	src := &fakeSource{
		ids: []string{"m1", "m2", "m3"},
		messages: map[string]*gmailv1.Message{
			"m1": newMessage("m1", "a@a.com", "", "₪1", 1),
			"m2": newMessage("m2", "b@b.com", "", "₪2", 2),
			"m3": newMessage("m3", "c@c.com", "", "₪3", 3),
		},
	}
	s := newScanner(true, src, 2)

	var lastDone, lastTotal int
	recs, err := s.Search(context.Background(), 30, func(done, total int) {
		lastDone, lastTotal = done, total
	})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("cap not applied: got %d records", len(recs))
	}
	if src.fetchCalls != 2 {
		t.Fatalf("fetched %d messages, want 2", src.fetchCalls)
	}
	if lastDone != 2 || lastTotal != 2 {
		t.Fatalf("final progress %d/%d, want 2/2", lastDone, lastTotal)
	}
}

func TestSearch_InvalidCapFallsBackToDefault(t *testing.T) {
	src := &fakeSource{
		ids: []string{"m1", "m2", "m3"},
		messages: map[string]*gmailv1.Message{
			"m1": newMessage("m1", "a@a.com", "", "₪1", 1),
			"m2": newMessage("m2", "b@b.com", "", "₪2", 2),
			"m3": newMessage("m3", "c@c.com", "", "₪3", 3),
		},
	}
	for _, limit := range []int{0, -1} {
		s := newScanner(true, src, limit)
		recs, err := s.Search(context.Background(), 30, nil)
		if err != nil {
			t.Fatalf("Search with cap %d: %v", limit, err)
		}
		if len(recs) != 3 {
			t.Fatalf("cap %d: got %d records, want all 3 under the default cap", limit, len(recs))
		}
	}
}

func TestSearch_AmountInvariantHolds(t *testing.T) {
	src := &fakeSource{
		ids: []string{"m1", "m2", "m3"},
		messages: map[string]*gmailv1.Message{
			"m1": newMessage("m1", "a@a.com", "", "₪100.50", 1),
			"m2": newMessage("m2", "b@b.com", "", "$2,000,000", 2),
			"m3": newMessage("m3", "c@c.com", "", "Total: 0", 3),
		},
	}
	s := newScanner(true, src, 50)

	recs, err := s.Search(context.Background(), 30, nil)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	for _, r := range recs {
		if !(r.Amount > 0 && r.Amount < 1_000_000) {
			t.Fatalf("record %s amount %v outside band", r.ID, r.Amount)
		}
	}
	if len(recs) != 1 {
		t.Fatalf("got %d records, want 1", len(recs))
	}
}

func TestDedupe(t *testing.T) {
	recs := []Record{
		{ID: "m1", Supplier: "first"},
		{ID: "m2"},
		{ID: "m1", Supplier: "second"},
		{ID: "m3"},
	}
	out := Dedupe(recs)
	if len(out) != 3 {
		t.Fatalf("got %d, want 3", len(out))
	}
	if out[0].ID != "m1" || out[1].ID != "m2" || out[2].ID != "m3" {
		t.Fatalf("order not preserved: %#v", out)
	}
	if out[0].Supplier != "first" {
		t.Fatal("dedupe must keep the first occurrence")
	}
}
