package conversation

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"alfred-ai/internal/domain"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type memStore struct {
	bindings []domain.ConversationBinding
}

func (s *memStore) Load() ([]domain.ConversationBinding, error) { return s.bindings, nil }
func (s *memStore) Save(b []domain.ConversationBinding) error   { s.bindings = b; return nil }

func TestGetOrCreateIsLazy(t *testing.T) {
	m := NewManager(&memStore{}, newTestLogger())
	dest := domain.Destination{ChannelID: "tg1", Ref: "u1"}

	b1 := m.GetOrCreate(dest)
	if b1.Bound() {
		t.Fatal("newly created binding should be unbound")
	}

	b2 := m.GetOrCreate(dest)
	if b1.CreatedAt != b2.CreatedAt {
		t.Error("GetOrCreate should return the same binding on second call")
	}
}

func TestBindRebindUnindexesPriorAgent(t *testing.T) {
	m := NewManager(&memStore{}, newTestLogger())
	dest := domain.Destination{ChannelID: "tg1", Ref: "u1"}

	m.Bind(dest, "a1")
	m.Bind(dest, "a2")

	if _, ok := m.GetByAgent("a1"); ok {
		t.Error("a1 should no longer resolve after rebind")
	}
	b, ok := m.GetByAgent("a2")
	if !ok || b.Destination.Key() != dest.Key() {
		t.Error("a2 should resolve to the destination")
	}
}

func TestUnbindPreservesRow(t *testing.T) {
	m := NewManager(&memStore{}, newTestLogger())
	dest := domain.Destination{ChannelID: "tg1", Ref: "u1"}

	m.Bind(dest, "a1")
	m.Unbind(dest)

	b, ok := m.GetByDestination(dest)
	if !ok {
		t.Fatal("binding row should still exist")
	}
	if b.Bound() {
		t.Error("binding should be unbound")
	}
	if _, ok := m.GetByAgent("a1"); ok {
		t.Error("reverse index should no longer resolve a1")
	}
}

func TestBindingBijectionInvariant(t *testing.T) {
	m := NewManager(&memStore{}, newTestLogger())

	dests := []domain.Destination{
		{ChannelID: "tg1", Ref: "u1"},
		{ChannelID: "tg1", Ref: "u2"},
		{ChannelID: "slack", Ref: "c1"},
	}
	for i, d := range dests {
		m.Bind(d, domain.AgentSessionID(string(rune('a'+i))))
	}

	for _, b := range m.Snapshot() {
		if !b.Bound() {
			continue
		}
		resolved, ok := m.GetByAgent(b.AgentID)
		if !ok || resolved.Destination.Key() != b.Destination.Key() {
			t.Errorf("bijection broken for agent %v", b.AgentID)
		}
	}
}

func TestSnapshotRestoreRoundTrip(t *testing.T) {
	m := NewManager(&memStore{}, newTestLogger())
	m.Bind(domain.Destination{ChannelID: "tg1", Ref: "u1"}, "a1")
	m.GetOrCreate(domain.Destination{ChannelID: "tg1", Ref: "u2"})

	snapshot := m.Snapshot()

	m2 := NewManager(&memStore{}, newTestLogger())
	m2.Restore(snapshot)

	got := m2.Snapshot()
	if len(got) != len(snapshot) {
		t.Fatalf("restored %d bindings, want %d", len(got), len(snapshot))
	}

	b, ok := m2.GetByAgent("a1")
	if !ok || b.Destination.Key() != (domain.Destination{ChannelID: "tg1", Ref: "u1"}).Key() {
		t.Error("restore should rebuild the reverse index")
	}
}

func TestListFiltersAreANDed(t *testing.T) {
	m := NewManager(&memStore{}, newTestLogger())
	m.Bind(domain.Destination{ChannelID: "tg1", Ref: "u1"}, "a1")
	m.GetOrCreate(domain.Destination{ChannelID: "tg1", Ref: "u2"})
	m.GetOrCreate(domain.Destination{ChannelID: "slack", Ref: "u3"})

	hasAgent := true
	got := m.List(ListFilter{ChannelID: "tg1", HasAgent: &hasAgent})
	if len(got) != 1 || got[0].Destination.Ref != "u1" {
		t.Errorf("got %+v", got)
	}
}

func TestStartRestoresFromStore(t *testing.T) {
	store := &memStore{bindings: []domain.ConversationBinding{
		{Destination: domain.Destination{ChannelID: "tg1", Ref: "u1"}, AgentID: "a1"},
	}}
	m := NewManager(store, newTestLogger())

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if _, ok := m.GetByAgent("a1"); !ok {
		t.Error("expected restored binding to be indexed")
	}
}

func TestStopPersistsAndClears(t *testing.T) {
	store := &memStore{}
	m := NewManager(store, newTestLogger())
	m.Bind(domain.Destination{ChannelID: "tg1", Ref: "u1"}, "a1")

	if err := m.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	if len(store.bindings) != 1 {
		t.Fatalf("expected 1 persisted binding, got %d", len(store.bindings))
	}
	if len(m.Snapshot()) != 0 {
		t.Error("expected state cleared after Stop")
	}
}

func TestFileStoreAtomicRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conversations.json")
	store := NewFileStore(path, newTestLogger())

	bindings := []domain.ConversationBinding{
		{Destination: domain.Destination{ChannelID: "tg1", Ref: "u1"}, AgentID: "a1"},
	}
	if err := store.Save(bindings); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := store.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(got) != 1 || got[0].AgentID != "a1" {
		t.Fatalf("got %+v", got)
	}
}

func TestFileStoreLoadMissingFileReturnsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.json")
	store := NewFileStore(path, newTestLogger())

	got, err := store.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("got %+v, want empty", got)
	}
}

func TestFileStoreLoadMalformedReturnsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conversations.json")
	if err := os.WriteFile(path, []byte("not json"), 0o600); err != nil {
		t.Fatalf("setup: %v", err)
	}

	store := NewFileStore(path, newTestLogger())
	got, err := store.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("got %+v, want empty", got)
	}
}
