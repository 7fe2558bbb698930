package directory

import "sync"

// memStore keeps documents in process memory; used by tests and when no
// persistence is configured.
type memStore struct {
	mu           sync.Mutex
	participants map[int64]Participant
	nicknames    map[string]string
}

func NewMemoryStore() Store {
	return &memStore{
		participants: make(map[int64]Participant),
		nicknames:    make(map[string]string),
	}
}

func (s *memStore) LoadParticipants() (map[int64]Participant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[int64]Participant, len(s.participants))
	for k, v := range s.participants {
		out[k] = v
	}
	return out, nil
}

func (s *memStore) SaveParticipants(parts map[int64]Participant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.participants = make(map[int64]Participant, len(parts))
	for k, v := range parts {
		s.participants[k] = v
	}
	return nil
}

func (s *memStore) LoadNicknames() (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.nicknames))
	for k, v := range s.nicknames {
		out[k] = v
	}
	return out, nil
}

func (s *memStore) SaveNicknames(nicks map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nicknames = make(map[string]string, len(nicks))
	for k, v := range nicks {
		s.nicknames[k] = v
	}
	return nil
}
