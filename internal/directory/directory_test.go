package directory

import (
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func TestUpsertIdempotent(t *testing.T) {
	d := New(NewMemoryStore())

	if changed := d.Upsert(1, "alice", "Alice"); !changed {
		t.Fatalf("first upsert should report a change")
	}
	if changed := d.Upsert(1, "alice", "Alice"); changed {
		t.Fatalf("identical upsert should be a no-op")
	}
	if got := len(d.All()); got != 1 {
		t.Fatalf("expected 1 record, got %d", got)
	}
}

func TestUpsertReplacesNotDuplicates(t *testing.T) {
	d := New(NewMemoryStore())

	d.Upsert(1, "alice", "Alice")
	if changed := d.Upsert(1, "alice_new", "Alice"); !changed {
		t.Fatalf("changed handle should report a change")
	}
	all := d.All()
	if len(all) != 1 {
		t.Fatalf("expected replace, got %d records", len(all))
	}
	if all[0].Handle != "alice_new" {
		t.Fatalf("handle not replaced: %q", all[0].Handle)
	}
}

func TestAllSnapshotOrdered(t *testing.T) {
	d := New(NewMemoryStore())
	d.Upsert(3, "c", "C")
	d.Upsert(1, "a", "A")
	d.Upsert(2, "b", "B")

	all := d.All()
	if len(all) != 3 {
		t.Fatalf("expected 3, got %d", len(all))
	}
	for i, want := range []int64{1, 2, 3} {
		if all[i].ID != want {
			t.Fatalf("snapshot not ordered: %v", all)
		}
	}
	// mutating after snapshot must not affect the copy
	d.Upsert(4, "d", "D")
	if len(all) != 3 {
		t.Fatalf("snapshot mutated")
	}
}

func TestResolveDisplayPrecedence(t *testing.T) {
	d := New(NewMemoryStore())
	d.SetNickname("Alice", "Королева")

	if got := d.ResolveDisplay("alice", "Alice Smith"); got != "Королева" {
		t.Fatalf("override should win: %q", got)
	}
	if got := d.ResolveDisplay("@alice", "Alice Smith"); got != "Королева" {
		t.Fatalf("leading @ should not matter: %q", got)
	}
	if got := d.ResolveDisplay("bob", "Bob"); got != "@bob" {
		t.Fatalf("handle without override should render as @handle: %q", got)
	}
	if got := d.ResolveDisplay("", "Bob"); got != "Bob" {
		t.Fatalf("no handle should fall back to name: %q", got)
	}
	if got := d.ResolveDisplay("", ""); got != fallbackLabel {
		t.Fatalf("expected generic label, got %q", got)
	}
}

// gateStore blocks the first participant write until released and records
// the size of every document it is asked to persist, in write order.
type gateStore struct {
	mu      sync.Mutex
	saves   []int
	started chan struct{}
	release chan struct{}
	gated   bool
}

func (s *gateStore) LoadParticipants() (map[int64]Participant, error) { return nil, nil }
func (s *gateStore) LoadNicknames() (map[string]string, error)       { return nil, nil }
func (s *gateStore) SaveNicknames(map[string]string) error           { return nil }

func (s *gateStore) SaveParticipants(parts map[int64]Participant) error {
	s.mu.Lock()
	first := !s.gated
	s.gated = true
	s.mu.Unlock()
	if first {
		close(s.started)
		<-s.release
	}
	s.mu.Lock()
	s.saves = append(s.saves, len(parts))
	s.mu.Unlock()
	return nil
}

func TestConcurrentUpsertsPersistInMutationOrder(t *testing.T) {
	store := &gateStore{started: make(chan struct{}), release: make(chan struct{})}
	d := New(store)

	firstDone := make(chan struct{})
	go func() {
		d.Upsert(1, "a", "A")
		close(firstDone)
	}()
	<-store.started // first write in flight, blocked inside the store

	secondDone := make(chan struct{})
	go func() {
		d.Upsert(2, "b", "B")
		close(secondDone)
	}()

	// the second write must not land while the first is still in flight:
	// that would let an older document overwrite a newer one
	select {
	case <-secondDone:
		t.Fatal("second write overtook the first")
	case <-time.After(50 * time.Millisecond):
	}

	close(store.release)
	<-firstDone
	<-secondDone

	store.mu.Lock()
	defer store.mu.Unlock()
	if len(store.saves) != 2 || store.saves[0] != 1 || store.saves[1] != 2 {
		t.Fatalf("writes out of order: %v", store.saves)
	}
}

func TestFileStoreRoundTrip(t *testing.T) {
	dir := t.TempDir()
	users := filepath.Join(dir, "users_db.json")
	nicks := filepath.Join(dir, "nicks.json")

	store := NewFileStore(users, nicks)
	d := New(store)
	d.Upsert(7, "seven", "Seven")
	d.Upsert(8, "", "Восемь")
	d.SetNickname("seven", "Семёрка")

	// a fresh directory on the same files sees everything
	d2 := New(NewFileStore(users, nicks))
	all := d2.All()
	if len(all) != 2 {
		t.Fatalf("expected 2 persisted records, got %d", len(all))
	}
	if got := d2.ResolveDisplay("seven", "x"); got != "Семёрка" {
		t.Fatalf("nickname not persisted: %q", got)
	}
	if got := d2.ResolveDisplay("", "Восемь"); got != "Восемь" {
		t.Fatalf("fallback name broken: %q", got)
	}
}

func TestFileStoreMissingFilesStartEmpty(t *testing.T) {
	dir := t.TempDir()
	d := New(NewFileStore(filepath.Join(dir, "u.json"), filepath.Join(dir, "n.json")))
	if got := len(d.All()); got != 0 {
		t.Fatalf("expected empty directory, got %d", got)
	}
}
