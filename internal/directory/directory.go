package directory

import (
	"sort"
	"strings"
	"sync"

	"github.com/kapu/snail-tg-bot/internal/obslog"
	"go.uber.org/zap"
)

// fallbackLabel is used when a participant has neither handle nor name.
const fallbackLabel = "Человек"

// Participant is one known chat member. ID is the platform user id and the
// only identity key; handle and display name are whatever was last observed.
type Participant struct {
	ID          int64  `json:"id"`
	Handle      string `json:"handle,omitempty"`
	DisplayName string `json:"display_name"`
}

// Directory keeps known participants and the handle→nickname override map.
// All mutations go through it; the Store collaborator makes them durable.
type Directory struct {
	mu sync.RWMutex

	// saveMu serializes mutation+write pairs: handlers run on their own
	// goroutines, and without it an older whole-document snapshot could be
	// written after a newer one.
	saveMu sync.Mutex

	participants map[int64]Participant
	nicknames    map[string]string // lowercase handle → nickname

	store Store
}

// New builds a Directory backed by store, loading any persisted state.
// A load failure starts empty rather than failing the process.
func New(store Store) *Directory {
	d := &Directory{
		participants: make(map[int64]Participant),
		nicknames:    make(map[string]string),
		store:        store,
	}
	if store == nil {
		return d
	}
	if parts, err := store.LoadParticipants(); err != nil {
		obslog.L().Warn("directory_load_participants", zap.Error(err))
	} else if parts != nil {
		d.participants = parts
	}
	if nicks, err := store.LoadNicknames(); err != nil {
		obslog.L().Warn("directory_load_nicknames", zap.Error(err))
	} else if nicks != nil {
		d.nicknames = nicks
	}
	return d
}

// Upsert records a participant, replacing any prior record with the same id.
// It reports whether the stored record changed; unchanged upserts skip the
// persistence write.
func (d *Directory) Upsert(id int64, handle, displayName string) bool {
	handle = strings.TrimSpace(handle)
	displayName = strings.TrimSpace(displayName)
	next := Participant{ID: id, Handle: handle, DisplayName: displayName}

	// fast path keeps the no-op case (every inbound message) off saveMu
	d.mu.RLock()
	prev, ok := d.participants[id]
	d.mu.RUnlock()
	if ok && prev == next {
		return false
	}

	d.saveMu.Lock()
	defer d.saveMu.Unlock()
	d.mu.Lock()
	d.participants[id] = next
	snapshot := d.copyParticipantsLocked()
	d.mu.Unlock()

	d.persistParticipants(snapshot)
	return true
}

// All returns a point-in-time snapshot ordered by id.
func (d *Directory) All() []Participant {
	d.mu.RLock()
	out := make([]Participant, 0, len(d.participants))
	for _, p := range d.participants {
		out = append(out, p)
	}
	d.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// SetNickname stores a display override for a handle (case-insensitive).
func (d *Directory) SetNickname(handle, nickname string) {
	key := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(handle, "@")))
	if key == "" {
		return
	}
	d.saveMu.Lock()
	defer d.saveMu.Unlock()
	d.mu.Lock()
	d.nicknames[key] = nickname
	snapshot := make(map[string]string, len(d.nicknames))
	for k, v := range d.nicknames {
		snapshot[k] = v
	}
	d.mu.Unlock()

	if d.store == nil {
		return
	}
	if err := d.store.SaveNicknames(snapshot); err != nil {
		obslog.L().Warn("directory_save_nicknames", zap.Error(err))
	}
}

// ResolveDisplay picks how to address a user: nickname override, then
// @handle, then the fallback display name, then a generic label.
func (d *Directory) ResolveDisplay(handle, fallbackName string) string {
	handle = strings.TrimSpace(strings.TrimPrefix(handle, "@"))
	if handle != "" {
		d.mu.RLock()
		nick, ok := d.nicknames[strings.ToLower(handle)]
		d.mu.RUnlock()
		if ok && strings.TrimSpace(nick) != "" {
			return nick
		}
		return "@" + handle
	}
	if strings.TrimSpace(fallbackName) != "" {
		return fallbackName
	}
	return fallbackLabel
}

func (d *Directory) copyParticipantsLocked() map[int64]Participant {
	snapshot := make(map[int64]Participant, len(d.participants))
	for k, v := range d.participants {
		snapshot[k] = v
	}
	return snapshot
}

// persistParticipants writes the whole document; failures are logged and
// swallowed so a bad disk/redis never blocks a reply.
func (d *Directory) persistParticipants(snapshot map[int64]Participant) {
	if d.store == nil {
		return
	}
	if err := d.store.SaveParticipants(snapshot); err != nil {
		obslog.L().Warn("directory_save_participants", zap.Error(err))
	}
}
