package directory

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// fileStore writes each document as one JSON file, rewritten wholesale on
// every mutation. Matches the flat-file layout the bot has always used.
type fileStore struct {
	usersPath string
	nicksPath string
}

func NewFileStore(usersPath, nicksPath string) Store {
	return &fileStore{usersPath: usersPath, nicksPath: nicksPath}
}

func (s *fileStore) LoadParticipants() (map[int64]Participant, error) {
	raw, err := os.ReadFile(s.usersPath)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", s.usersPath, err)
	}
	var list []Participant
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, fmt.Errorf("parse %s: %w", s.usersPath, err)
	}
	out := make(map[int64]Participant, len(list))
	for _, p := range list {
		out[p.ID] = p
	}
	return out, nil
}

func (s *fileStore) SaveParticipants(parts map[int64]Participant) error {
	list := make([]Participant, 0, len(parts))
	for _, p := range parts {
		list = append(list, p)
	}
	raw, err := json.Marshal(list)
	if err != nil {
		return err
	}
	return writeAtomic(s.usersPath, raw)
}

func (s *fileStore) LoadNicknames() (map[string]string, error) {
	raw, err := os.ReadFile(s.nicksPath)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", s.nicksPath, err)
	}
	var out map[string]string
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("parse %s: %w", s.nicksPath, err)
	}
	return out, nil
}

func (s *fileStore) SaveNicknames(nicks map[string]string) error {
	raw, err := json.Marshal(nicks)
	if err != nil {
		return err
	}
	return writeAtomic(s.nicksPath, raw)
}

// writeAtomic replaces path via a temp file so a crash mid-write never
// leaves a truncated document.
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, path)
}
