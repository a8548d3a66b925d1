package logconsumer

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ethdenver2026/relay/internal/logsource"
	"github.com/ethdenver2026/relay/internal/models"
	"github.com/ethdenver2026/relay/internal/routestore"
)

type fakeSourceForConsumer struct {
	mu       sync.Mutex
	messages []models.LogMessage
}

func (f *fakeSourceForConsumer) TopicExists(ctx context.Context, topicID string) (bool, error) {
	return true, nil
}

func (f *fakeSourceForConsumer) ListMessages(ctx context.Context, topicID string, afterSeq *uint64, limit int) ([]models.LogMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.LogMessage
	for _, m := range f.messages {
		if afterSeq != nil && m.SequenceNumber <= *afterSeq {
			continue
		}
		out = append(out, m)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (f *fakeSourceForConsumer) Publish(ctx context.Context, topicID string, b []byte) (*logsource.PublishResult, error) {
	return &logsource.PublishResult{SequenceNumber: 0}, nil
}

func (f *fakeSourceForConsumer) CreateTopic(ctx context.Context) (string, error) { return "", nil }

type fakeAdmitter struct {
	mu       sync.Mutex
	payloads [][]byte
}

func (f *fakeAdmitter) Admit(ctx context.Context, payload []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.payloads = append(f.payloads, append([]byte{}, payload...))
}

func (f *fakeAdmitter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.payloads)
}

func newStore(t *testing.T) *routestore.Store {
	t.Helper()
	store, err := routestore.Open(filepath.Join(t.TempDir(), "routestore.json"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	return store
}

func TestTickFirstTickSkipsHistoryWhenCursorIsOne(t *testing.T) {
	store := newStore(t)
	source := &fakeSourceForConsumer{messages: []models.LogMessage{
		{SequenceNumber: 1, Payload: []byte("old-1")},
		{SequenceNumber: 2, Payload: []byte("old-2")},
		{SequenceNumber: 5, Payload: []byte("old-5")},
	}}
	admitter := &fakeAdmitter{}

	c := New("0.0.topic", time.Hour, source, store, admitter)
	c.tick(context.Background(), true)

	if admitter.count() != 0 {
		t.Fatalf("expected no admissions on first-tick history skip, got %d", admitter.count())
	}
	if got := store.Cursor("0.0.topic"); got != 5 {
		t.Fatalf("expected cursor advanced to max seen sequence 5, got %d", got)
	}
}

func TestTickDeliversNewMessagesInOrder(t *testing.T) {
	store := newStore(t)
	if err := store.SetCursor("0.0.topic", 5); err != nil {
		t.Fatalf("seed cursor: %v", err)
	}
	source := &fakeSourceForConsumer{messages: []models.LogMessage{
		{SequenceNumber: 6, Payload: []byte("six")},
		{SequenceNumber: 7, Payload: []byte("seven")},
	}}
	admitter := &fakeAdmitter{}

	c := New("0.0.topic", time.Hour, source, store, admitter)
	c.tick(context.Background(), false)

	if admitter.count() != 2 {
		t.Fatalf("expected two admissions, got %d", admitter.count())
	}
	if got := store.Cursor("0.0.topic"); got != 7 {
		t.Fatalf("expected cursor advanced to 7, got %d", got)
	}
}

func TestTickReassemblesChunkedMessageBeforeAdmitting(t *testing.T) {
	store := newStore(t)
	if err := store.SetCursor("0.0.topic", 0); err != nil {
		t.Fatalf("seed cursor: %v", err)
	}
	source := &fakeSourceForConsumer{messages: []models.LogMessage{
		{SequenceNumber: 1, Payload: []byte("AB"), ChunkInfo: &models.ChunkInfo{GroupID: "g", Index: 0, Total: 2}},
		{SequenceNumber: 2, Payload: []byte("CD"), ChunkInfo: &models.ChunkInfo{GroupID: "g", Index: 1, Total: 2}},
	}}
	admitter := &fakeAdmitter{}

	// Not the first tick, so history-skip does not apply, and the cursor
	// starts at 0, so both chunks are delivered to the reassembler.
	c := New("0.0.topic", time.Hour, source, store, admitter)
	c.tick(context.Background(), false)

	if admitter.count() != 1 {
		t.Fatalf("expected exactly one admission after full reassembly, got %d", admitter.count())
	}
	if string(admitter.payloads[0]) != "ABCD" {
		t.Fatalf("expected reassembled payload ABCD, got %q", admitter.payloads[0])
	}
	if got := store.Cursor("0.0.topic"); got != 2 {
		t.Fatalf("expected cursor advanced to 2, got %d", got)
	}
}
